package client

import (
	"context"

	"github.com/menta2k/fruitcount/pkg/types"
)

// Detection is the raw answer of a detection backend. AnnotatedPath is
// relative to the backend's base address and may be empty.
type Detection struct {
	Count         int
	AnnotatedPath string
}

type DetectionClient interface {
	Detect(ctx context.Context, payload types.Payload) (*Detection, error)
	// ResolveURL joins a backend-relative path with the backend base address
	ResolveURL(path string) string
}

type WeightClient interface {
	GetAverageWeight(ctx context.Context) (float64, error)
	SetAverageWeight(ctx context.Context, grams float64) error
}

type requestIDKey struct{}

// WithRequestID attaches a correlation ID that clients forward upstream
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the correlation ID stored in ctx, if any
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
