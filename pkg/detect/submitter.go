// Package detect sends finalized images to a detection backend and keeps the
// outcome of the latest submission.
package detect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/menta2k/fruitcount/pkg/client"
	"github.com/menta2k/fruitcount/pkg/types"
)

// UploadFailedMessage is shown to the operator when a submission fails
const UploadFailedMessage = "Failed to upload image. Please try again."

var (
	// ErrNoPayload is returned when there is nothing finalized to submit
	ErrNoPayload = errors.New("no image ready for submission")
	// ErrBusy is returned while another submission is in flight
	ErrBusy = errors.New("a submission is already in progress")
	// ErrSuperseded is returned by Run when a newer selection invalidated
	// the submission before its response arrived
	ErrSuperseded = errors.New("submission superseded by a newer selection")
)

// Ticket identifies one accepted submission
type Ticket struct {
	RequestID  string
	generation uint64
	payload    types.Payload
}

// State is a point-in-time view of the submitter
type State struct {
	Busy   bool
	Error  string
	Result *types.DetectionResult
}

// Submitter runs at most one detection at a time
type Submitter struct {
	mu         sync.Mutex
	client     client.DetectionClient
	busy       bool
	errMsg     string
	result     *types.DetectionResult
	generation uint64
}

// New creates a Submitter backed by c
func New(c client.DetectionClient) *Submitter {
	return &Submitter{client: c}
}

// Begin accepts payload for submission. It marks the submitter busy and
// clears the previous error. Nothing is sent until Run.
func (s *Submitter) Begin(payload *types.Payload) (*Ticket, error) {
	if payload == nil || len(payload.Data) == 0 {
		return nil, ErrNoPayload
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		return nil, ErrBusy
	}
	s.busy = true
	s.errMsg = ""

	return &Ticket{
		RequestID:  uuid.NewString(),
		generation: s.generation,
		payload:    *payload,
	}, nil
}

// Run performs the detection call for t. The busy flag is cleared when the
// call returns. A response for a superseded ticket is dropped and leaves the
// result and error untouched.
func (s *Submitter) Run(ctx context.Context, t *Ticket) (*types.DetectionResult, error) {
	ctx = client.WithRequestID(ctx, t.RequestID)
	logger := log.With().Str("request_id", t.RequestID).Logger()

	logger.Info().
		Str("filename", t.payload.Filename).
		Str("mime_type", t.payload.MIMEType).
		Int("bytes", len(t.payload.Data)).
		Msg("Submitting image for detection")

	start := time.Now()
	det, err := s.client.Detect(ctx, t.payload)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false

	if t.generation != s.generation {
		logger.Info().Msg("Discarding response for superseded submission")
		return nil, ErrSuperseded
	}

	if err != nil {
		s.errMsg = UploadFailedMessage
		logger.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("Detection failed")
		return nil, fmt.Errorf("detection failed: %w", err)
	}

	result := &types.DetectionResult{
		Count:        det.Count,
		AnnotatedURL: s.client.ResolveURL(det.AnnotatedPath),
		RequestID:    t.RequestID,
	}
	s.result = result

	logger.Info().
		Int("count", result.Count).
		Str("annotated_url", result.AnnotatedURL).
		Dur("elapsed", time.Since(start)).
		Msg("Detection completed")

	return result, nil
}

// Submit is Begin followed by a blocking Run
func (s *Submitter) Submit(ctx context.Context, payload *types.Payload) (*types.DetectionResult, error) {
	t, err := s.Begin(payload)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, t)
}

// Invalidate forgets the current result and marks any in-flight submission
// as superseded. It does not cancel that request: the busy flag stays set,
// and Begin keeps returning ErrBusy, until the superseded call returns.
func (s *Submitter) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.result = nil
	s.errMsg = ""
}

// Busy reports whether a submission is in flight
func (s *Submitter) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Error returns the user-visible message of the last failed submission
func (s *Submitter) Error() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// Result returns the last applied detection result, or nil
func (s *Submitter) Result() *types.DetectionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// State returns busy flag, error and result read together
func (s *Submitter) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{Busy: s.busy, Error: s.errMsg, Result: s.result}
}
