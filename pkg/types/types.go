package types

import (
	"image"
	"time"
)

// Box represents a normalized rectangle with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// FullFrame selects the whole image
var FullFrame = Box{X: 0, Y: 0, W: 1, H: 1}

// Empty reports whether the box covers no area
func (b Box) Empty() bool {
	return b.W <= 0 || b.H <= 0
}

// ImageMetadata holds the EXIF fields we surface for a selected photo
type ImageMetadata struct {
	CameraMake  string    `json:"camera_make,omitempty"`
	CameraModel string    `json:"camera_model,omitempty"`
	DateTaken   time.Time `json:"date_taken,omitempty"`
	HasDate     bool      `json:"has_date"`
}

// RawImage is the photo the operator originally selected
type RawImage struct {
	Path       string
	Name       string
	Data       []byte
	MIMEType   string
	DisplayURL string
	// Decoded is only populated when cropping is enabled
	Decoded  image.Image
	Metadata *ImageMetadata
}

// CroppedImage is a finalized sub-region of a RawImage
type CroppedImage struct {
	Data       []byte
	MIMEType   string
	DisplayURL string
	Region     image.Rectangle
}

// Payload is the exact binary sent to the detection service
type Payload struct {
	Filename string
	MIMEType string
	Data     []byte
}

// DetectionResult is what the detection service reported for one submission
type DetectionResult struct {
	Count        int    `json:"estimated_count"`
	AnnotatedURL string `json:"annotated_url"`
	RequestID    string `json:"request_id,omitempty"`
}

// WeightConfig holds the weight parameters used for case estimation
type WeightConfig struct {
	// AverageUnitWeight is in grams
	AverageUnitWeight float64 `json:"average_unit_weight"`
	// ContainerWeight is in kilograms and never leaves the client
	ContainerWeight float64 `json:"container_weight"`
}
