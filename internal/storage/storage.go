// Package storage persists trained models across an ordered list of backends.
//
// Backends are tried in priority order: a local BoltDB file first, a plain
// directory of files second. Saves go to every backend and only the primary
// must succeed; loads take the first backend that yields a consistent
// artifact. When none does the store reports ErrModelUnavailable, which callers
// treat as "not trained yet".
package storage

import (
	"errors"
	"fmt"
	"time"

	"fruitscan/internal/model"

	"github.com/rs/zerolog/log"
)

// DefaultModelName is the key models are stored under.
const DefaultModelName = "toxic-detection-model"

// ErrModelUnavailable means no backend holds a usable model.
var ErrModelUnavailable = errors.New("model unavailable")

// MetricsInterface defines the store metrics.
type MetricsInterface interface {
	StoreSaveFailuresInc(backend string)
	StoreLoadFallbackInc(backend string)
}

// Handle describes where a save landed.
type Handle struct {
	Name      string    `json:"name"`
	Locations []string  `json:"locations"`
	Degraded  bool      `json:"degraded"`
	SavedAt   time.Time `json:"savedAt"`
}

// Store fans saves out to its backends and loads with fallback.
type Store struct {
	name     string
	backends []Backend
	metrics  MetricsInterface
}

// New creates a store over backends in priority order; the first is primary.
func New(name string, metrics MetricsInterface, backends ...Backend) (*Store, error) {
	if name == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if len(backends) == 0 {
		return nil, fmt.Errorf("at least one storage backend is required")
	}
	return &Store{name: name, backends: backends, metrics: metrics}, nil
}

// Open builds the standard two-tier store: BoltDB under dataPath, then files
// under modelDir.
func Open(dataPath, modelDir, name string, metrics MetricsInterface) (*Store, error) {
	primary, err := NewBoltBackend(dataPath)
	if err != nil {
		return nil, fmt.Errorf("primary backend: %w", err)
	}
	secondary, err := NewFileBackend(modelDir)
	if err != nil {
		primary.Close()
		return nil, fmt.Errorf("secondary backend: %w", err)
	}
	return New(name, metrics, primary, secondary)
}

// Close closes every backend and returns the first error.
func (s *Store) Close() error {
	var first error
	for _, b := range s.backends {
		if err := b.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Save writes m to every backend. A primary failure aborts the save; later
// failures are logged and mark the handle degraded.
func (s *Store) Save(m *model.Model, info *model.TrainingInfo) (Handle, error) {
	artifact := m.Artifact(info)
	handle := Handle{Name: s.name, SavedAt: artifact.Header.CreatedAt}

	for i, b := range s.backends {
		loc, err := b.Save(s.name, artifact)
		if err != nil {
			if s.metrics != nil {
				s.metrics.StoreSaveFailuresInc(b.Name())
			}
			if i == 0 {
				return Handle{}, fmt.Errorf("save to primary backend %s: %w", b.Name(), err)
			}
			log.Error().Err(err).Str("backend", b.Name()).Str("model", s.name).Msg("Secondary model backend write failed, persistence degraded")
			handle.Degraded = true
			continue
		}
		handle.Locations = append(handle.Locations, loc)
	}

	log.Info().
		Str("model", s.name).
		Strs("locations", handle.Locations).
		Bool("degraded", handle.Degraded).
		Int("weight_bytes", len(artifact.Weights)).
		Msg("Model saved")
	return handle, nil
}

// Load returns the model from the first backend holding a consistent artifact.
func (s *Store) Load() (*model.Model, error) {
	var errs []error
	for i, b := range s.backends {
		m, err := s.loadFrom(b)
		if err == nil {
			if i > 0 && s.metrics != nil {
				s.metrics.StoreLoadFallbackInc(b.Name())
			}
			log.Info().Str("backend", b.Name()).Str("model", s.name).Msg("Model loaded")
			return m, nil
		}
		if !errors.Is(err, ErrNotFound) {
			log.Warn().Err(err).Str("backend", b.Name()).Str("model", s.name).Msg("Model backend unreadable, trying next")
		}
		errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
	}
	return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, errors.Join(errs...))
}

func (s *Store) loadFrom(b Backend) (*model.Model, error) {
	a, err := b.Load(s.name)
	if err != nil {
		return nil, err
	}
	return model.FromArtifact(a)
}
