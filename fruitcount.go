// Package fruitcount estimates how many cases a batch of fruit will fill
// from a single photo.
//
// The operator selects a photo, optionally crops it to the region holding
// the fruit, and submits it to a detection backend that counts the units.
// The count is combined with the average unit weight (shared with the
// detection service) and a container weight to estimate the number of cases.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//
//		"github.com/menta2k/fruitcount"
//	)
//
//	func main() {
//		app, err := fruitcount.New(fruitcount.DefaultOptions())
//		if err != nil {
//			log.Fatal(err)
//		}
//		ctrl := app.Controller
//		ctrl.StartAndWait(context.Background())
//
//		if err := ctrl.SelectFile("crate.jpg"); err != nil {
//			log.Fatal(err)
//		}
//		if err := ctrl.FinalizeCrop(); err != nil {
//			log.Fatal(err)
//		}
//		if _, err := ctrl.SubmitAndWait(context.Background()); err != nil {
//			log.Fatal(err)
//		}
//
//		ctrl.SetContainerWeight("18")
//		v := ctrl.View()
//		fmt.Printf("%d apples, %s cases\n", v.Count, v.CasesText)
//	}
//
// The package consists of these main components:
//
// 1. Acquire (pkg/acquire): loads the selected photo and builds previews
// 2. Cropper (pkg/cropper): turns a selection into the submitted JPEG
// 3. Detect (pkg/detect): runs one detection at a time against a backend
// 4. Weights (pkg/weights): caches and syncs the weight configuration
// 5. Workflow (pkg/workflow): the state machine tying the steps together
//
// Two detection backends are available: the HTTP detection service
// (pkg/service) and an Ollama vision model (pkg/ollama).
package fruitcount

import (
	"fmt"
	"time"

	"github.com/menta2k/fruitcount/pkg/acquire"
	"github.com/menta2k/fruitcount/pkg/client"
	"github.com/menta2k/fruitcount/pkg/cropper"
	"github.com/menta2k/fruitcount/pkg/detect"
	"github.com/menta2k/fruitcount/pkg/ollama"
	"github.com/menta2k/fruitcount/pkg/roi"
	"github.com/menta2k/fruitcount/pkg/service"
	"github.com/menta2k/fruitcount/pkg/weights"
	"github.com/menta2k/fruitcount/pkg/workflow"
)

// Version of the fruitcount client
const Version = "1.0.0"

const (
	BackendService = "service"
	BackendOllama  = "ollama"
)

// Options configures a fully wired App
type Options struct {
	Backend     string
	ServiceURL  string
	Timeout     time.Duration
	OllamaURL   string
	OllamaModel string

	CroppingEnabled bool
	// AutoCrop seeds the crop selection with a suggested region
	AutoCrop    bool
	JPEGQuality int

	Acquire acquire.Config
	ROI     roi.Config

	AverageUnitWeight float64
}

// DefaultOptions returns options for the local detection service with
// cropping enabled
func DefaultOptions() Options {
	return Options{
		Backend:           BackendService,
		ServiceURL:        service.DefaultBaseURL,
		Timeout:           60 * time.Second,
		OllamaURL:         "http://localhost:11434",
		OllamaModel:       ollama.DefaultModel,
		CroppingEnabled:   true,
		JPEGQuality:       cropper.DefaultConfig().Quality,
		Acquire:           acquire.DefaultConfig(),
		ROI:               roi.DefaultConfig(),
		AverageUnitWeight: weights.DefaultAverageUnitWeight,
	}
}

// App bundles a workflow controller with the clients it was built from
type App struct {
	Controller *workflow.Controller
	Weights    *weights.Store
	// Service is always set; with the ollama backend it is only used for
	// downloads and stays unused otherwise
	Service *service.Client
}

// New wires the clients, stores and controller described by opts
func New(opts Options) (*App, error) {
	svc, err := service.NewClient(opts.ServiceURL, opts.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create service client: %w", err)
	}

	var (
		detector client.DetectionClient
		remote   client.WeightClient
	)
	switch opts.Backend {
	case "", BackendService:
		detector = svc
		remote = svc
	case BackendOllama:
		oc, err := ollama.NewClient(opts.OllamaURL, opts.OllamaModel)
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		detector = oc
	default:
		return nil, fmt.Errorf("unknown backend: %s (use '%s' or '%s')", opts.Backend, BackendService, BackendOllama)
	}

	store := weights.NewWithDefault(remote, opts.AverageUnitWeight)

	var suggester *roi.Suggester
	if opts.AutoCrop {
		suggester = roi.NewWithConfig(opts.ROI)
	}

	acq := acquire.New()
	if opts.Acquire.PreviewMaxDim > 0 {
		acq = acquire.NewWithConfig(opts.Acquire)
	}

	ctrl, err := workflow.New(workflow.Options{
		CroppingEnabled: opts.CroppingEnabled,
		Crop:            cropper.Config{Quality: opts.JPEGQuality},
	}, workflow.Dependencies{
		Acquirer:  acq,
		Weights:   store,
		Submitter: detect.New(detector),
		Suggester: suggester,
		Fetcher:   svc,
	})
	if err != nil {
		return nil, err
	}

	return &App{Controller: ctrl, Weights: store, Service: svc}, nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
