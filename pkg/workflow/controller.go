// Package workflow drives one fruit count from image selection through
// cropping and detection to the case estimate.
//
// A Controller owns every piece of mutable state: the selected image, the
// crop, the weight store and the last detection. Network work runs in
// goroutines and reports back through the controller, which serialises all
// transitions behind a single mutex.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/menta2k/fruitcount/internal/utils"
	"github.com/menta2k/fruitcount/pkg/acquire"
	"github.com/menta2k/fruitcount/pkg/cropper"
	"github.com/menta2k/fruitcount/pkg/detect"
	"github.com/menta2k/fruitcount/pkg/processing"
	"github.com/menta2k/fruitcount/pkg/roi"
	"github.com/menta2k/fruitcount/pkg/types"
	"github.com/menta2k/fruitcount/pkg/weights"
)

var (
	// ErrNoResult is returned when an operation needs a detection result
	ErrNoResult = errors.New("no detection result")
	// ErrNoAnnotatedImage is returned when the backend produced no annotated image
	ErrNoAnnotatedImage = errors.New("detection result has no annotated image")
	// ErrNoSelection is returned when there is no crop selection to draw
	ErrNoSelection = errors.New("no crop selection")
)

// ImageFetcher downloads images served by the detection backend
type ImageFetcher interface {
	FetchImage(ctx context.Context, ref string) ([]byte, string, error)
}

// Options selects the workflow variant
type Options struct {
	// CroppingEnabled requires a finalized crop before submission
	CroppingEnabled bool
	// Crop controls how finalized crops are encoded
	Crop cropper.Config
}

// Dependencies are the collaborators of a Controller. Submitter is
// required, everything else has a usable default.
type Dependencies struct {
	Acquirer  *acquire.Acquirer
	Weights   *weights.Store
	Submitter *detect.Submitter
	// Suggester seeds the crop selection, nil starts from the full frame
	Suggester *roi.Suggester
	// Fetcher is needed by SaveAnnotated only
	Fetcher ImageFetcher
}

// Controller is the workflow state machine
type Controller struct {
	mu   sync.Mutex
	opts Options

	acquirer  *acquire.Acquirer
	weights   *weights.Store
	submitter *detect.Submitter
	suggester *roi.Suggester
	fetcher   ImageFetcher

	state   State
	raw     *types.RawImage
	surface *cropper.Surface
	crop    *types.CroppedImage

	background sync.WaitGroup
}

// New creates a controller in the NoImage state
func New(opts Options, deps Dependencies) (*Controller, error) {
	if deps.Submitter == nil {
		return nil, fmt.Errorf("workflow: submitter is required")
	}
	if deps.Acquirer == nil {
		deps.Acquirer = acquire.New()
	}
	if deps.Weights == nil {
		deps.Weights = weights.New(nil)
	}
	if opts.Crop.Quality == 0 {
		opts.Crop = cropper.DefaultConfig()
	}

	return &Controller{
		opts:      opts,
		acquirer:  deps.Acquirer,
		weights:   deps.Weights,
		submitter: deps.Submitter,
		suggester: deps.Suggester,
		fetcher:   deps.Fetcher,
		state:     NoImage,
	}, nil
}

// Start loads the remote average weight in the background
func (c *Controller) Start(ctx context.Context) {
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		c.weights.Load(ctx)
	}()
}

// StartAndWait loads the remote average weight before returning
func (c *Controller) StartAndWait(ctx context.Context) {
	c.weights.Load(ctx)
}

// Wait blocks until background loads, submissions and weight pushes finish
func (c *Controller) Wait() {
	c.background.Wait()
	c.weights.Wait()
}

// State returns the current workflow state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SelectFile replaces the current image. An empty path is a no-op. When the
// file cannot be loaded the previous state is kept and the error returned.
// A successful selection drops the crop and the last detection result, and
// any submission still in flight will not be applied.
func (c *Controller) SelectFile(path string) error {
	raw, err := c.acquirer.SelectFile(path, c.opts.CroppingEnabled)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to load selected image")
		return err
	}
	if raw == nil {
		return nil
	}

	var surface *cropper.Surface
	if c.opts.CroppingEnabled {
		surface, err = cropper.NewSurface(raw, c.initialSelection(raw), c.opts.Crop)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to prepare crop surface")
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.submitter.Invalidate()
	c.raw = raw
	c.crop = nil
	c.surface = surface
	if c.opts.CroppingEnabled {
		c.state = AwaitingCrop
	} else {
		c.state = AwaitingSubmission
	}

	log.Debug().
		Str("name", raw.Name).
		Str("state", c.state.String()).
		Msg("Workflow reset for new image")
	return nil
}

func (c *Controller) initialSelection(raw *types.RawImage) types.Box {
	if c.suggester == nil || raw.Decoded == nil {
		return types.FullFrame
	}
	return c.suggester.Suggest(raw.Decoded)
}

// SetSelection moves the crop selection. It only has an effect while a
// crop is awaited.
func (c *Controller) SetSelection(box types.Box) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != AwaitingCrop || c.surface == nil {
		return false
	}
	c.surface.SetSelection(box)
	return true
}

// Selection returns the current crop selection, or an empty box
func (c *Controller) Selection() types.Box {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.surface == nil {
		return types.Box{}
	}
	return c.surface.Selection()
}

// FinalizeCrop extracts the selection. Without an image it does nothing.
// Extraction failures are logged and leave the state unchanged.
func (c *Controller) FinalizeCrop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.surface == nil {
		return nil
	}

	crop, err := c.surface.Finalize()
	if err != nil {
		log.Warn().Err(err).Str("name", c.raw.Name).Msg("Crop extraction failed")
		return err
	}

	c.crop = crop
	c.state = Cropped

	log.Debug().
		Str("region", crop.Region.String()).
		Int("bytes", len(crop.Data)).
		Msg("Crop finalized")
	return nil
}

// ResetCrop discards the finalized crop so a new one can be made
func (c *Controller) ResetCrop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.crop = nil
	if c.surface != nil {
		c.state = AwaitingCrop
	}
}

// Submit starts a detection for the current payload. Precondition failures
// (detect.ErrNoPayload, detect.ErrBusy) are returned directly; otherwise the
// returned channel yields the outcome once the call completes.
func (c *Controller) Submit(ctx context.Context) (<-chan error, error) {
	c.mu.Lock()
	payload := c.payloadLocked()
	ticket, err := c.submitter.Begin(payload)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	done := make(chan error, 1)
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		_, err := c.submitter.Run(ctx, ticket)
		done <- err
		close(done)
	}()
	return done, nil
}

// SubmitAndWait submits and blocks until the result is in
func (c *Controller) SubmitAndWait(ctx context.Context) (*types.DetectionResult, error) {
	done, err := c.Submit(ctx)
	if err != nil {
		return nil, err
	}
	if err := <-done; err != nil {
		return nil, err
	}
	return c.submitter.Result(), nil
}

func (c *Controller) payloadLocked() *types.Payload {
	if c.raw == nil {
		return nil
	}

	if c.opts.CroppingEnabled {
		if c.state != Cropped || c.crop == nil {
			return nil
		}
		return &types.Payload{
			Filename: cropFilename(c.raw.Name),
			MIMEType: c.crop.MIMEType,
			Data:     c.crop.Data,
		}
	}

	return &types.Payload{
		Filename: c.raw.Name,
		MIMEType: c.raw.MIMEType,
		Data:     c.raw.Data,
	}
}

func cropFilename(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	return utils.SanitizeFilename(base) + "_crop.jpg"
}

// SetAverageUnitWeight applies a positive average weight and pushes it to
// the service. Invalid input is ignored.
func (c *Controller) SetAverageUnitWeight(input string) bool {
	return c.weights.SetAverageUnitWeight(input)
}

// SetContainerWeight stores the container weight; bad input becomes 0
func (c *Controller) SetContainerWeight(input string) float64 {
	return c.weights.SetContainerWeight(input)
}

// SaveAnnotated downloads the annotated detection image to path
func (c *Controller) SaveAnnotated(ctx context.Context, path string) error {
	result := c.submitter.Result()
	if result == nil {
		return ErrNoResult
	}
	if result.AnnotatedURL == "" {
		return ErrNoAnnotatedImage
	}
	if c.fetcher == nil {
		return fmt.Errorf("no image fetcher configured")
	}

	data, contentType, err := c.fetcher.FetchImage(ctx, result.AnnotatedURL)
	if err != nil {
		return fmt.Errorf("failed to download annotated image: %w", err)
	}

	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write annotated image: %w", err)
	}

	log.Info().
		Str("path", path).
		Str("content_type", contentType).
		Str("size", utils.FormatFileSize(int64(len(data)))).
		Msg("Annotated image saved")
	return nil
}

// SaveSelection writes the selected image with the crop selection outlined.
// Only available while cropping.
func (c *Controller) SaveSelection(path string) error {
	c.mu.Lock()
	if c.surface == nil {
		c.mu.Unlock()
		return ErrNoSelection
	}
	img := c.raw.Decoded
	selection := c.surface.Selection()
	quality := c.opts.Crop.Quality
	c.mu.Unlock()

	if err := processing.SaveImage(processing.SelectionOverlay(img, selection), path, quality); err != nil {
		return fmt.Errorf("failed to save selection overlay: %w", err)
	}
	log.Debug().Str("path", path).Msg("Selection overlay saved")
	return nil
}
