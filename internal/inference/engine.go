// Package inference turns an image into fruit and toxicity judgments using
// the most recently trained model.
package inference

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"fruitscan/internal/model"
	"fruitscan/internal/nn"
	"fruitscan/internal/storage"
	"fruitscan/internal/vision"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
)

// Loader supplies the persisted model. *storage.Store implements it.
type Loader interface {
	Load() (*model.Model, error)
}

// MetricsInterface defines the inference metrics.
type MetricsInterface interface {
	PredictionObserve(latency time.Duration, toxicity float64)
	PredictionErrorInc(reason string)
	ModelLoadsInc()
	ModelSwapsInc()
}

// Engine serves predictions. The model is loaded on first use and then held
// behind an atomic pointer, so predictions never block on each other and a
// retrained model can be swapped in while requests are in flight.
type Engine struct {
	loader       Loader
	preprocessor *vision.Preprocessor
	metrics      MetricsInterface

	mu      sync.Mutex // serialises loads
	current atomic.Pointer[model.Model]
}

func NewEngine(loader Loader, metrics MetricsInterface) *Engine {
	return &Engine{
		loader:       loader,
		preprocessor: vision.NewPreprocessor(),
		metrics:      metrics,
	}
}

// Ready reports whether a model is cached.
func (e *Engine) Ready() bool {
	return e.current.Load() != nil
}

// Swap installs m for all subsequent predictions.
func (e *Engine) Swap(m *model.Model) error {
	if err := e.compatible(m); err != nil {
		return err
	}
	e.current.Store(m)
	if e.metrics != nil {
		e.metrics.ModelSwapsInc()
	}
	log.Info().Strs("vocabulary", m.Vocabulary()).Msg("Inference model swapped")
	return nil
}

func (e *Engine) compatible(m *model.Model) error {
	if m == nil {
		return fmt.Errorf("nil model")
	}
	if in := m.Architecture().InputShape(); !nn.ShapeEqual(in, e.preprocessor.Shape()) {
		return fmt.Errorf("model input %v does not match preprocessed shape %v", in, e.preprocessor.Shape())
	}
	return nil
}

// Model returns the cached model, loading it from the store if needed. A
// failed load is not cached; the next call tries again.
func (e *Engine) Model() (*model.Model, error) {
	if m := e.current.Load(); m != nil {
		return m, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if m := e.current.Load(); m != nil {
		return m, nil
	}
	if e.loader == nil {
		return nil, storage.ErrModelUnavailable
	}

	m, err := e.loader.Load()
	if err != nil {
		if errors.Is(err, storage.ErrModelUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", storage.ErrModelUnavailable, err)
	}
	if err := e.compatible(m); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrModelUnavailable, err)
	}

	e.current.Store(m)
	if e.metrics != nil {
		e.metrics.ModelLoadsInc()
	}
	return m, nil
}

// Predict classifies one encoded image. It fails with *vision.DecodeError
// when the bytes are not a usable image, checked first, and with
// ErrModelUnavailable when no model has been trained.
func (e *Engine) Predict(image []byte) (*PredictionResult, error) {
	start := time.Now()

	// A malformed upload is rejected before the store is touched.
	x, err := e.preprocessor.Preprocess(image)
	if err != nil {
		e.countError("decode")
		return nil, err
	}

	m, err := e.Model()
	if err != nil {
		e.countError("unavailable")
		return nil, err
	}

	out, err := m.Predict(x.Data)
	if err != nil {
		e.countError("model")
		return nil, fmt.Errorf("forward pass: %w", err)
	}

	result := newResult(m.Vocabulary(), out, time.Now())
	if e.metrics != nil {
		e.metrics.PredictionObserve(time.Since(start), result.Toxicity.Probability)
	}
	log.Debug().
		Str("fruit", result.FruitType.Label).
		Float64("fruit_confidence", result.FruitType.Confidence).
		Float64("toxicity", result.Toxicity.Probability).
		Str("risk", string(result.Toxicity.RiskTier)).
		Dur("latency", time.Since(start)).
		Msg("Prediction")
	return result, nil
}

func (e *Engine) countError(reason string) {
	if e.metrics != nil {
		e.metrics.PredictionErrorInc(reason)
	}
}

func newResult(vocab model.Vocabulary, out model.Output, now time.Time) *PredictionResult {
	best := floats.MaxIdx(out.FruitProbs)
	probs := make(map[string]float64, len(vocab))
	for i, label := range vocab {
		probs[label] = out.FruitProbs[i]
	}
	return &PredictionResult{
		FruitType: FruitPrediction{
			Label:      vocab[best],
			Confidence: out.FruitProbs[best],
		},
		Toxicity:      assessToxicity(out.ToxicProb),
		Probabilities: probs,
		Timestamp:     now,
	}
}
