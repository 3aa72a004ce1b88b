package acquire

import (
	"bytes"
	"encoding/base64"
	"image"

	"github.com/chai2010/webp"
	"golang.org/x/image/draw"
)

// previewDataURL scales img so its long side fits maxDim and returns it as a
// WebP data URL
func previewDataURL(img image.Image, maxDim int) (string, error) {
	scaled := scaleToFit(img, maxDim)

	var buf bytes.Buffer
	if err := webp.Encode(&buf, scaled, &webp.Options{Quality: 80}); err != nil {
		return "", err
	}
	return DataURL("image/webp", buf.Bytes()), nil
}

func scaleToFit(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return img
	}

	newW, newH := maxDim, maxDim
	if w >= h {
		newH = h * maxDim / w
	} else {
		newW = w * maxDim / h
	}
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	resized := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
	return resized
}

// DataURL wraps bytes into a data: URI
func DataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
