package cropper

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	"github.com/disintegration/imaging"

	"github.com/menta2k/fruitcount/pkg/types"
)

// MIMEType is the only encoding finalized crops are produced in
const MIMEType = "image/jpeg"

var (
	// ErrNoImage is returned when a surface is created without a decoded image
	ErrNoImage = errors.New("no decoded image to crop")
	// ErrEmptyCrop is returned when the selection extracts no pixels
	ErrEmptyCrop = errors.New("crop selection is empty")
)

// Config holds configuration for crop encoding
type Config struct {
	Quality int
}

// DefaultConfig returns the encoding settings used when none are given
func DefaultConfig() Config {
	return Config{Quality: 92}
}

// Surface is a crop selection bound to one raw image. The selection is kept
// in normalized coordinates so it survives preview scaling.
type Surface struct {
	raw       *types.RawImage
	selection types.Box
	config    Config
}

// NewSurface binds a selection surface to raw, starting from initial
func NewSurface(raw *types.RawImage, initial types.Box, config Config) (*Surface, error) {
	if raw == nil || raw.Decoded == nil {
		return nil, ErrNoImage
	}
	if config.Quality < 1 || config.Quality > 100 {
		config.Quality = DefaultConfig().Quality
	}

	s := &Surface{raw: raw, config: config}
	s.SetSelection(initial)
	return s, nil
}

// Image returns the raw image the surface is bound to
func (s *Surface) Image() *types.RawImage {
	return s.raw
}

// SetSelection replaces the selection, clamped to the image
func (s *Surface) SetSelection(box types.Box) {
	x0 := clamp(box.X, 0, 1)
	y0 := clamp(box.Y, 0, 1)
	x1 := clamp(box.X+box.W, 0, 1)
	y1 := clamp(box.Y+box.H, 0, 1)
	s.selection = types.Box{X: x0, Y: y0, W: math.Max(0, x1-x0), H: math.Max(0, y1-y0)}
}

// Selection returns the current normalized selection
func (s *Surface) Selection() types.Box {
	return s.selection
}

// PixelRect converts the selection to pixel coordinates of the raw image
func (s *Surface) PixelRect() image.Rectangle {
	bounds := s.raw.Decoded.Bounds()
	fw, fh := float64(bounds.Dx()), float64(bounds.Dy())
	box := s.selection

	x0 := bounds.Min.X + int(box.X*fw+0.5)
	y0 := bounds.Min.Y + int(box.Y*fh+0.5)
	x1 := bounds.Min.X + int((box.X+box.W)*fw+0.5)
	y1 := bounds.Min.Y + int((box.Y+box.H)*fh+0.5)

	return image.Rect(x0, y0, x1, y1).Intersect(bounds)
}

// Finalize extracts the selected rectangle and encodes it as JPEG
func (s *Surface) Finalize() (*types.CroppedImage, error) {
	rect := s.PixelRect()
	if rect.Empty() {
		return nil, ErrEmptyCrop
	}

	cropped := imaging.Crop(s.raw.Decoded, rect)
	if cropped.Bounds().Empty() {
		return nil, ErrEmptyCrop
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, cropped, &jpeg.Options{Quality: s.config.Quality}); err != nil {
		return nil, fmt.Errorf("failed to encode crop: %w", err)
	}
	if buf.Len() == 0 {
		return nil, ErrEmptyCrop
	}

	return &types.CroppedImage{
		Data:       buf.Bytes(),
		MIMEType:   MIMEType,
		DisplayURL: "data:" + MIMEType + ";base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
		Region:     rect,
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
