// Package processing holds image helpers shared by the backends and the CLI:
// shrinking payloads for vision models and drawing the crop selection for
// review.
package processing

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	_ "image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/fruitcount/internal/utils"
	"github.com/menta2k/fruitcount/pkg/types"
)

// PrepareForModel shrinks an encoded image so its long side is at most
// maxDim and re-encodes it as JPEG. Images already within bounds are
// returned unchanged when they are JPEG.
func PrepareForModel(data []byte, maxDim, quality int) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	fits := maxDim <= 0 || (w <= maxDim && h <= maxDim)
	if fits && format == "jpeg" {
		return data, nil
	}

	if !fits {
		if w >= h {
			img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
		} else {
			img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
		}
	}

	if quality < 1 || quality > 100 {
		quality = 85
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return buf.Bytes(), nil
}

var (
	selectionColor = color.NRGBA{255, 204, 0, 255}
	centerColor    = color.NRGBA{255, 0, 0, 255}
)

// SelectionOverlay returns a copy of img with the selection outlined and its
// centre marked
func SelectionOverlay(img image.Image, selection types.Box) *image.NRGBA {
	out := imaging.Clone(img)
	w, h := out.Bounds().Dx(), out.Bounds().Dy()
	if w == 0 || h == 0 || selection.Empty() {
		return out
	}

	short := math.Min(float64(w), float64(h))
	stroke := int(math.Max(2, 0.004*short))
	cross := int(math.Max(4, 0.01*short))

	r := boxToRect(selection, w, h)
	fill(out, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+stroke), selectionColor)
	fill(out, image.Rect(r.Min.X, r.Max.Y-stroke, r.Max.X, r.Max.Y), selectionColor)
	fill(out, image.Rect(r.Min.X, r.Min.Y, r.Min.X+stroke, r.Max.Y), selectionColor)
	fill(out, image.Rect(r.Max.X-stroke, r.Min.Y, r.Max.X, r.Max.Y), selectionColor)

	cx, cy := (r.Min.X+r.Max.X)/2, (r.Min.Y+r.Max.Y)/2
	fill(out, image.Rect(cx-cross, cy, cx+cross, cy+1), centerColor)
	fill(out, image.Rect(cx, cy-cross, cx+1, cy+cross), centerColor)

	return out
}

// SaveImage writes img to path, choosing the encoder from the extension
func SaveImage(img image.Image, path string, quality int) error {
	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	switch utils.GetFileExtension(path) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return webp.Encode(f, img, &webp.Options{Quality: float32(quality)})
	case "png":
		return imaging.Save(img, path)
	case "jpg", "jpeg":
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	default:
		return fmt.Errorf("unsupported output format: %s", path)
	}
}

func boxToRect(box types.Box, w, h int) image.Rectangle {
	x0 := int(box.X*float64(w) + 0.5)
	y0 := int(box.Y*float64(h) + 0.5)
	x1 := int((box.X+box.W)*float64(w) + 0.5)
	y1 := int((box.Y+box.H)*float64(h) + 0.5)
	return image.Rect(x0, y0, x1, y1).Intersect(image.Rect(0, 0, w, h))
}

func fill(img *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	draw.Draw(img, r.Intersect(img.Bounds()), &image.Uniform{C: c}, image.Point{}, draw.Src)
}
