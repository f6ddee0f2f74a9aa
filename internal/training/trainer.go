// Package training runs mini-batch training of the dual-head classifier over
// a labelled example set and persists the result through the model store.
package training

import (
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"fruitscan/internal/model"
	"fruitscan/internal/nn"
	"fruitscan/internal/storage"
	"fruitscan/internal/vision"

	"github.com/rs/zerolog/log"
)

var (
	// ErrTrainingInProgress is returned when Train is called while another
	// run on the same trainer has not finished.
	ErrTrainingInProgress = errors.New("training already in progress")

	ErrNoExamples   = errors.New("no training examples")
	ErrMissingImage = errors.New("example has no image")
	ErrUnknownFruit = errors.New("fruit label not in vocabulary")
	ErrUnlabeled    = errors.New("example toxicity is unlabeled")
)

// TrainingError reports the first failure of a run. ExampleID and Index are
// empty / -1 when the failure is not tied to one example; Epoch is 0 when the
// run failed before the first gradient update.
type TrainingError struct {
	ExampleID string
	Index     int
	Epoch     int
	Err       error
}

func (e *TrainingError) Error() string {
	switch {
	case e.Index >= 0 && e.Epoch > 0:
		return fmt.Sprintf("training failed at epoch %d on example %d (%s): %v", e.Epoch, e.Index, e.ExampleID, e.Err)
	case e.Index >= 0:
		return fmt.Sprintf("training failed on example %d (%s): %v", e.Index, e.ExampleID, e.Err)
	case e.Epoch > 0:
		return fmt.Sprintf("training failed at epoch %d: %v", e.Epoch, e.Err)
	}
	return fmt.Sprintf("training failed: %v", e.Err)
}

func (e *TrainingError) Unwrap() error {
	return e.Err
}

// Config controls one training run.
type Config struct {
	Epochs       int               `json:"epochs" yaml:"epochs"`
	BatchSize    int               `json:"batchSize" yaml:"batchSize"`
	Shuffle      bool              `json:"shuffle" yaml:"shuffle"`
	Seed         int64             `json:"seed" yaml:"seed"`
	LearningRate float64           `json:"learningRate" yaml:"learningRate"`
	LossWeights  model.LossWeights `json:"lossWeights" yaml:"lossWeights"`
}

// DefaultConfig returns 10 epochs of batch 32 in stable order.
func DefaultConfig() Config {
	return Config{
		Epochs:       10,
		BatchSize:    32,
		LearningRate: 0.001,
		LossWeights:  model.DefaultLossWeights,
	}
}

func (c Config) validate() error {
	if c.Epochs < 1 {
		return fmt.Errorf("epochs must be positive, got %d", c.Epochs)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %f", c.LearningRate)
	}
	if c.LossWeights.FruitType < 0 || c.LossWeights.Toxicity < 0 {
		return fmt.Errorf("loss weights must be non-negative")
	}
	if c.LossWeights.FruitType == 0 && c.LossWeights.Toxicity == 0 {
		return fmt.Errorf("at least one loss weight must be positive")
	}
	return nil
}

// Progress is reported once per completed epoch. AverageLoss is the mean
// of the epoch's per-batch mean losses.
type Progress struct {
	Epoch       int     `json:"epoch"`
	Epochs      int     `json:"epochs"`
	AverageLoss float64 `json:"averageLoss"`
}

// Saver persists a trained model. *storage.Store implements it.
type Saver interface {
	Save(m *model.Model, info *model.TrainingInfo) (storage.Handle, error)
}

// MetricsInterface defines the training metrics.
type MetricsInterface interface {
	TrainingRunInc(outcome string)
	TrainingEpochObserve(avgLoss float64)
	TrainingDurationObserve(d time.Duration, examples int)
}

// Trainer trains models of one architecture. It runs at most one training
// at a time.
type Trainer struct {
	arch         *model.Architecture
	preprocessor *vision.Preprocessor
	saver        Saver
	metrics      MetricsInterface
	running      atomic.Bool
}

// NewTrainer creates a trainer for arch. The architecture's input must match
// the preprocessor output.
func NewTrainer(arch *model.Architecture, saver Saver, metrics MetricsInterface) (*Trainer, error) {
	if err := arch.Validate(); err != nil {
		return nil, fmt.Errorf("invalid architecture: %w", err)
	}
	if saver == nil {
		return nil, fmt.Errorf("saver is required")
	}
	p := vision.NewPreprocessor()
	if !nn.ShapeEqual(arch.InputShape(), p.Shape()) {
		return nil, fmt.Errorf("architecture input %v does not match preprocessed shape %v", arch.InputShape(), p.Shape())
	}
	return &Trainer{arch: arch, preprocessor: p, saver: saver, metrics: metrics}, nil
}

// Architecture returns the architecture every run builds.
func (t *Trainer) Architecture() *model.Architecture {
	return t.arch
}

// Train builds a fresh model, trains it on examples and saves it. onProgress
// (optional) is called synchronously after every epoch. Any failure returns
// a *TrainingError and leaves the store untouched.
func (t *Trainer) Train(examples []Example, cfg Config, onProgress func(Progress)) (*model.Model, error) {
	if !t.running.CompareAndSwap(false, true) {
		return nil, ErrTrainingInProgress
	}
	defer t.running.Store(false)

	start := time.Now()
	m, info, err := t.run(examples, cfg, onProgress)
	if err != nil {
		t.observeRun("failure", start, len(examples))
		log.Error().Err(err).Int("examples", len(examples)).Msg("Training failed")
		return nil, err
	}

	handle, err := t.saver.Save(m, info)
	if err != nil {
		t.observeRun("failure", start, len(examples))
		return nil, &TrainingError{Index: -1, Epoch: cfg.Epochs, Err: fmt.Errorf("persist model: %w", err)}
	}
	t.observeRun("success", start, len(examples))

	log.Info().
		Int("examples", info.Examples).
		Int("epochs", info.Epochs).
		Float64("final_loss", info.FinalLoss).
		Bool("degraded", handle.Degraded).
		Dur("duration", time.Since(start)).
		Msg("Training complete")
	return m, nil
}

func (t *Trainer) observeRun(outcome string, start time.Time, examples int) {
	if t.metrics == nil {
		return
	}
	t.metrics.TrainingRunInc(outcome)
	t.metrics.TrainingDurationObserve(time.Since(start), examples)
}

// labelled is an example with its labels resolved to head targets.
type labelled struct {
	fruit int
	toxic float64
}

func (t *Trainer) validate(examples []Example, cfg Config) ([]labelled, error) {
	if err := cfg.validate(); err != nil {
		return nil, &TrainingError{Index: -1, Err: fmt.Errorf("invalid config: %w", err)}
	}
	if len(examples) == 0 {
		return nil, &TrainingError{Index: -1, Err: ErrNoExamples}
	}

	labels := make([]labelled, len(examples))
	for i, ex := range examples {
		fail := func(err error) error {
			return &TrainingError{ExampleID: ex.ID, Index: i, Err: err}
		}
		if len(ex.Image) == 0 {
			return nil, fail(ErrMissingImage)
		}
		if ex.Toxicity != Toxic && ex.Toxicity != NonToxic {
			return nil, fail(ErrUnlabeled)
		}
		idx, ok := t.arch.Vocabulary.Index(ex.FruitType)
		if !ok {
			return nil, fail(fmt.Errorf("%w: %q", ErrUnknownFruit, ex.FruitType))
		}
		labels[i] = labelled{fruit: idx, toxic: ex.Toxicity.Target()}
	}
	return labels, nil
}

func (t *Trainer) run(examples []Example, cfg Config, onProgress func(Progress)) (*model.Model, *model.TrainingInfo, error) {
	labels, err := t.validate(examples, cfg)
	if err != nil {
		return nil, nil, err
	}

	m, err := model.New(t.arch, cfg.Seed)
	if err != nil {
		return nil, nil, &TrainingError{Index: -1, Err: err}
	}
	params := m.Params()
	opt := nn.NewAdam(cfg.LearningRate)
	dropout := rand.New(rand.NewSource(cfg.Seed + 1))
	shuffle := rand.New(rand.NewSource(cfg.Seed + 2))

	order := make([]int, len(examples))
	for i := range order {
		order[i] = i
	}

	log.Info().
		Int("examples", len(examples)).
		Int("epochs", cfg.Epochs).
		Int("batch_size", cfg.BatchSize).
		Bool("shuffle", cfg.Shuffle).
		Msg("Training started")

	var avg float64
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		if cfg.Shuffle {
			shuffle.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		}

		var sum float64
		var batches int
		for lo := 0; lo < len(order); lo += cfg.BatchSize {
			hi := min(lo+cfg.BatchSize, len(order))
			batch := order[lo:hi]

			// Decode the whole batch before touching gradients so a bad image
			// never leaves a half-accumulated step behind.
			inputs := make([]*nn.Tensor, len(batch))
			for k, i := range batch {
				x, err := t.preprocessor.Preprocess(examples[i].Image)
				if err != nil {
					return nil, nil, &TrainingError{ExampleID: examples[i].ID, Index: i, Epoch: epoch, Err: err}
				}
				inputs[k] = x
			}

			var batchLoss float64
			for k, i := range batch {
				loss, err := m.AccumulateGradients(inputs[k].Data, labels[i].fruit, labels[i].toxic, cfg.LossWeights, dropout)
				if err != nil {
					return nil, nil, &TrainingError{ExampleID: examples[i].ID, Index: i, Epoch: epoch, Err: err}
				}
				batchLoss += loss
			}
			opt.Step(params, 1/float64(len(batch)))
			sum += batchLoss / float64(len(batch))
			batches++
		}

		// A short final batch weighs the same as a full one.
		avg = sum / float64(batches)
		log.Debug().Int("epoch", epoch).Float64("avg_loss", avg).Msg("Epoch complete")
		if t.metrics != nil {
			t.metrics.TrainingEpochObserve(avg)
		}
		if onProgress != nil {
			onProgress(Progress{Epoch: epoch, Epochs: cfg.Epochs, AverageLoss: avg})
		}
	}

	info := &model.TrainingInfo{
		Examples:  len(examples),
		Epochs:    cfg.Epochs,
		BatchSize: cfg.BatchSize,
		FinalLoss: avg,
	}
	return m, info, nil
}
