package acquire

import (
	"os"
	"strings"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"

	"github.com/menta2k/fruitcount/pkg/types"
)

// extractMetadata reads camera and capture-time EXIF fields. Photos without
// EXIF (PNG screenshots, stripped uploads) yield nil.
func extractMetadata(path string) *types.ImageMetadata {
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	exifData, err := imagemeta.Decode(file)
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("No EXIF metadata")
		return nil
	}

	meta := &types.ImageMetadata{
		CameraMake:  strings.TrimSpace(exifData.Make),
		CameraModel: strings.TrimSpace(exifData.Model),
	}
	if t := exifData.DateTimeOriginal(); !t.IsZero() {
		meta.DateTaken = t
		meta.HasDate = true
	} else if t := exifData.CreateDate(); !t.IsZero() {
		meta.DateTaken = t
		meta.HasDate = true
	}

	return meta
}
