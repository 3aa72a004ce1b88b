// Package acquire turns an operator-selected file into a RawImage that the
// crop and detection steps can work with.
package acquire

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/menta2k/fruitcount/internal/utils"
	"github.com/menta2k/fruitcount/pkg/types"
)

// Acquirer loads selected photos
type Acquirer struct {
	config Config
}

// Config holds configuration for image acquisition
type Config struct {
	// PreviewMaxDim bounds the long side of in-memory previews
	PreviewMaxDim int
	// MaxFileSize rejects larger files, 0 disables the check
	MaxFileSize int64
}

// DefaultConfig returns the configuration used by New
func DefaultConfig() Config {
	return Config{
		PreviewMaxDim: 512,
		MaxFileSize:   50 << 20,
	}
}

// New creates a new Acquirer with default configuration
func New() *Acquirer {
	return &Acquirer{config: DefaultConfig()}
}

// NewWithConfig creates a new Acquirer with custom configuration
func NewWithConfig(config Config) *Acquirer {
	return &Acquirer{config: config}
}

// SelectFile reads the file at path. An empty path is a no-op and returns
// nil, nil. With decode set the image is decoded for cropping and the
// display URL is an in-memory preview; otherwise the display URL refers to
// the file on disk.
func (a *Acquirer) SelectFile(path string, decode bool) (*types.RawImage, error) {
	if path == "" {
		return nil, nil
	}
	if !utils.IsImageFile(path) {
		return nil, fmt.Errorf("not an image file: %s", filepath.Base(path))
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to access image file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory: %s", path)
	}
	if a.config.MaxFileSize > 0 && info.Size() > a.config.MaxFileSize {
		return nil, fmt.Errorf("image too large: %s (limit %s)",
			utils.FormatFileSize(info.Size()), utils.FormatFileSize(a.config.MaxFileSize))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image file: %w", err)
	}

	mimeType := http.DetectContentType(data)
	raw := &types.RawImage{
		Path:     path,
		Name:     filepath.Base(path),
		Data:     data,
		MIMEType: mimeType,
		Metadata: extractMetadata(path),
	}

	if decode {
		img, err := loadImage(path, data)
		if err != nil {
			return nil, err
		}
		preview, err := previewDataURL(img, a.config.PreviewMaxDim)
		if err != nil {
			return nil, fmt.Errorf("failed to build preview: %w", err)
		}
		raw.Decoded = img
		raw.DisplayURL = preview
	} else {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		raw.DisplayURL = (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
	}

	log.Info().
		Str("file", raw.Name).
		Str("mime_type", raw.MIMEType).
		Str("size", utils.FormatFileSize(int64(len(data)))).
		Bool("decoded", decode).
		Msg("Image selected")

	return raw, nil
}
