// Package weights keeps the weight parameters used for case estimation.
//
// The average unit weight is mirrored from the detection service: Load pulls
// the remote value and every accepted local change is pushed back in the
// background. Both directions are best effort and failures are only logged.
// The container weight never leaves the client.
package weights

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/menta2k/fruitcount/pkg/client"
	"github.com/menta2k/fruitcount/pkg/types"
)

// DefaultAverageUnitWeight is used until the service answers (grams)
const DefaultAverageUnitWeight = 150.0

// DefaultPushTimeout bounds a single background push
const DefaultPushTimeout = 10 * time.Second

// Store holds the cached weight configuration
type Store struct {
	mu              sync.RWMutex
	averageWeight   float64
	containerWeight float64

	remote      client.WeightClient
	pushTimeout time.Duration
	pushes      sync.WaitGroup
}

// New creates a Store with the built-in defaults. remote may be nil, in which
// case the store is purely local.
func New(remote client.WeightClient) *Store {
	return NewWithDefault(remote, DefaultAverageUnitWeight)
}

// NewWithDefault creates a Store starting from a custom average weight.
// Non-positive defaults fall back to DefaultAverageUnitWeight.
func NewWithDefault(remote client.WeightClient, averageWeight float64) *Store {
	if !validWeight(averageWeight) {
		averageWeight = DefaultAverageUnitWeight
	}
	return &Store{
		averageWeight: averageWeight,
		remote:        remote,
		pushTimeout:   DefaultPushTimeout,
	}
}

// Load refreshes the average weight from the service. On failure the current
// value is retained.
func (s *Store) Load(ctx context.Context) {
	if s.remote == nil {
		return
	}

	remote, err := s.remote.GetAverageWeight(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to fetch average weight, keeping cached value")
		return
	}
	if !validWeight(remote) {
		log.Warn().Float64("average_weight", remote).Msg("Service returned an unusable average weight, keeping cached value")
		return
	}

	s.mu.Lock()
	s.averageWeight = remote
	s.mu.Unlock()

	log.Debug().Float64("average_weight", remote).Msg("Average weight loaded from service")
}

// SetAverageUnitWeight parses operator input and applies it when it is a
// positive number. Rejected input leaves the store untouched.
func (s *Store) SetAverageUnitWeight(input string) bool {
	value, err := strconv.ParseFloat(strings.TrimSpace(input), 64)
	if err != nil {
		log.Debug().Str("input", input).Msg("Ignoring non-numeric average weight")
		return false
	}
	return s.SetAverageUnitWeightValue(value)
}

// SetAverageUnitWeightValue applies a positive weight locally and pushes it
// to the service in the background.
func (s *Store) SetAverageUnitWeightValue(value float64) bool {
	if !validWeight(value) {
		log.Debug().Float64("input", value).Msg("Ignoring non-positive average weight")
		return false
	}

	s.mu.Lock()
	s.averageWeight = value
	s.mu.Unlock()

	if s.remote != nil {
		s.pushes.Add(1)
		go s.push(value)
	}
	return true
}

func (s *Store) push(value float64) {
	defer s.pushes.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.pushTimeout)
	defer cancel()

	if err := s.remote.SetAverageWeight(ctx, value); err != nil {
		log.Error().Err(err).Float64("average_weight", value).Msg("Failed to update average weight")
		return
	}
	log.Debug().Float64("average_weight", value).Msg("Average weight pushed to service")
}

// Wait blocks until all background pushes have finished
func (s *Store) Wait() {
	s.pushes.Wait()
}

// SetContainerWeight never rejects: unparseable input becomes 0
func (s *Store) SetContainerWeight(input string) float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(input), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		value = 0
	}

	s.mu.Lock()
	s.containerWeight = value
	s.mu.Unlock()
	return value
}

// SetContainerWeightValue stores an already-parsed container weight
func (s *Store) SetContainerWeightValue(value float64) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		value = 0
	}
	s.mu.Lock()
	s.containerWeight = value
	s.mu.Unlock()
}

// AverageUnitWeight returns the cached average unit weight in grams
func (s *Store) AverageUnitWeight() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.averageWeight
}

// ContainerWeight returns the container weight in kilograms
func (s *Store) ContainerWeight() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.containerWeight
}

// Snapshot returns both weights read under one lock
func (s *Store) Snapshot() types.WeightConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return types.WeightConfig{
		AverageUnitWeight: s.averageWeight,
		ContainerWeight:   s.containerWeight,
	}
}

func validWeight(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
