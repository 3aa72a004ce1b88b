// Package roi suggests a region of interest for the crop selection: the area
// of a photo that most likely holds the fruit.
package roi

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/stat"

	"github.com/menta2k/fruitcount/pkg/types"
)

// Suggester scores pixels by edge strength and colour saturation and returns
// a box around the salient ones
type Suggester struct {
	config Config
}

// Config holds configuration for region suggestion
type Config struct {
	// WorkingSize is the long side the image is reduced to before scoring
	WorkingSize      int
	EdgeWeight       float64
	SaturationWeight float64
	// Sensitivity is how many standard deviations above the mean a pixel
	// needs to count as salient
	Sensitivity  float64
	PaddingRatio float64
	// MinCoverage is the smallest box area (fraction of the image) returned
	MinCoverage float64
}

// DefaultConfig returns the configuration used by New
func DefaultConfig() Config {
	return Config{
		WorkingSize:      128,
		EdgeWeight:       0.4,
		SaturationWeight: 0.6,
		Sensitivity:      0.5,
		PaddingRatio:     0.05,
		MinCoverage:      0.05,
	}
}

// New creates a new Suggester with default configuration
func New() *Suggester {
	return &Suggester{config: DefaultConfig()}
}

// NewWithConfig creates a new Suggester with custom configuration
func NewWithConfig(config Config) *Suggester {
	return &Suggester{config: config}
}

// Suggest returns a normalized box around the salient region of img. Flat
// images yield types.FullFrame.
func (s *Suggester) Suggest(img image.Image) types.Box {
	if img == nil {
		return types.FullFrame
	}
	bounds := img.Bounds()
	if bounds.Dx() < 3 || bounds.Dy() < 3 {
		return types.FullFrame
	}

	small := img
	if s.config.WorkingSize > 0 && (bounds.Dx() > s.config.WorkingSize || bounds.Dy() > s.config.WorkingSize) {
		if bounds.Dx() >= bounds.Dy() {
			small = imaging.Resize(img, s.config.WorkingSize, 0, imaging.Box)
		} else {
			small = imaging.Resize(img, 0, s.config.WorkingSize, imaging.Box)
		}
	}

	saliency := s.saliencyMap(small)
	w, h := len(saliency[0]), len(saliency)

	mean, std := stats(saliency)
	if std < 1e-6 {
		return types.FullFrame
	}
	threshold := mean + s.config.Sensitivity*std

	minX, minY, maxX, maxY := w, h, -1, -1
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if saliency[y][x] > threshold {
				minX = min(minX, x)
				minY = min(minY, y)
				maxX = max(maxX, x)
				maxY = max(maxY, y)
			}
		}
	}
	if maxX < 0 {
		return types.FullFrame
	}

	box := types.Box{
		X: float64(minX) / float64(w),
		Y: float64(minY) / float64(h),
		W: float64(maxX-minX+1) / float64(w),
		H: float64(maxY-minY+1) / float64(h),
	}
	box = pad(box, s.config.PaddingRatio)

	if box.W*box.H < s.config.MinCoverage {
		return types.FullFrame
	}
	return box
}

func (s *Suggester) saliencyMap(img image.Image) [][]float64 {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	// Cache RGB so neighbours are not converted eight times
	rgb := make([][][3]float64, height)
	for y := 0; y < height; y++ {
		rgb[y] = make([][3]float64, width)
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
			rgb[y][x] = [3]float64{float64(r) / 65535, float64(g) / 65535, float64(b) / 65535}
		}
	}

	saliencyMap := make([][]float64, height)
	for y := range saliencyMap {
		saliencyMap[y] = make([]float64, width)
	}

	neighbors := [8][2]int{{-1, -1}, {-1, 0}, {-1, 1}, {0, -1}, {0, 1}, {1, -1}, {1, 0}, {1, 1}}
	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			c := rgb[y][x]

			var edge float64
			for _, off := range neighbors {
				n := rgb[y+off[1]][x+off[0]]
				dr, dg, db := c[0]-n[0], c[1]-n[1], c[2]-n[2]
				edge += math.Sqrt(dr*dr + dg*dg + db*db)
			}
			edge /= 8 * math.Sqrt(3)

			saliencyMap[y][x] = s.config.EdgeWeight*edge + s.config.SaturationWeight*saturation(c)
		}
	}

	return saliencyMap
}

// saturation is the HSV saturation of an RGB triple in [0,1]
func saturation(c [3]float64) float64 {
	hi := math.Max(c[0], math.Max(c[1], c[2]))
	lo := math.Min(c[0], math.Min(c[1], c[2]))
	if hi == 0 {
		return 0
	}
	return (hi - lo) / hi
}

func stats(m [][]float64) (mean, std float64) {
	var values []float64
	for _, row := range m {
		values = append(values, row...)
	}
	if len(values) < 2 {
		return 0, 0
	}
	return stat.MeanStdDev(values, nil)
}

func pad(b types.Box, ratio float64) types.Box {
	if ratio <= 0 {
		return b
	}
	x0 := clamp(b.X-ratio, 0, 1)
	y0 := clamp(b.Y-ratio, 0, 1)
	x1 := clamp(b.X+b.W+ratio, 0, 1)
	y1 := clamp(b.Y+b.H+ratio, 0, 1)
	return types.Box{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
