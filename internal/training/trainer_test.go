package training

import (
	"errors"
	"image/color"
	"math/rand"
	"sync"
	"testing"
	"time"

	"fruitscan/internal/model"
	"fruitscan/internal/nn"
	"fruitscan/internal/storage"
	"fruitscan/internal/testutil"
	"fruitscan/internal/vision"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSaver struct {
	mu    sync.Mutex
	saved []*model.Model
	infos []*model.TrainingInfo
	err   error
	block chan struct{}
}

func (f *fakeSaver) Save(m *model.Model, info *model.TrainingInfo) (storage.Handle, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return storage.Handle{}, f.err
	}
	f.saved = append(f.saved, m)
	f.infos = append(f.infos, info)
	return storage.Handle{Name: "test"}, nil
}

func (f *fakeSaver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

type recordingMetrics struct {
	runs   map[string]int
	epochs []float64
}

func (r *recordingMetrics) TrainingRunInc(outcome string)              { r.runs[outcome]++ }
func (r *recordingMetrics) TrainingEpochObserve(loss float64)          { r.epochs = append(r.epochs, loss) }
func (r *recordingMetrics) TrainingDurationObserve(time.Duration, int) {}

func newTrainer(t *testing.T, saver Saver, metrics MetricsInterface) *Trainer {
	t.Helper()
	arch, err := model.Build(testutil.TinyArchConfig(), model.DefaultVocabulary)
	require.NoError(t, err)
	tr, err := NewTrainer(arch, saver, metrics)
	require.NoError(t, err)
	return tr
}

func sampleExamples() []Example {
	return []Example{
		{ID: "apple/1.png", Image: testutil.PNG(40, 30, color.RGBA{200, 30, 30, 255}), FruitType: "apple", Toxicity: NonToxic},
		{ID: "banana/1.png", Image: testutil.PNG(32, 48, color.RGBA{230, 220, 40, 255}), FruitType: "banana", Toxicity: Toxic},
		{ID: "grape/1.jpg", Image: testutil.JPEG(50, 50, color.RGBA{90, 20, 120, 255}), FruitType: "grape", Toxicity: NonToxic},
	}
}

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.Epochs = 2
	cfg.BatchSize = 2
	cfg.Seed = 11
	return cfg
}

func TestTrain_Success(t *testing.T) {
	saver := &fakeSaver{}
	metrics := &recordingMetrics{runs: map[string]int{}}
	tr := newTrainer(t, saver, metrics)

	var progress []Progress
	m, err := tr.Train(sampleExamples(), smallConfig(), func(p Progress) {
		progress = append(progress, p)
	})
	require.NoError(t, err)
	require.NotNil(t, m)

	require.Len(t, progress, 2)
	assert.Equal(t, 1, progress[0].Epoch)
	assert.Equal(t, 2, progress[1].Epoch)
	assert.Equal(t, 2, progress[1].Epochs)
	for _, p := range progress {
		assert.Greater(t, p.AverageLoss, 0.0)
	}

	require.Equal(t, 1, saver.count())
	assert.Same(t, m, saver.saved[0])
	assert.Equal(t, 3, saver.infos[0].Examples)
	assert.Equal(t, progress[1].AverageLoss, saver.infos[0].FinalLoss)

	assert.Equal(t, 1, metrics.runs["success"])
	assert.Len(t, metrics.epochs, 2)
}

func TestTrain_EpochLossIsMeanOfBatchLosses(t *testing.T) {
	tr := newTrainer(t, &fakeSaver{}, nil)
	examples := sampleExamples()
	cfg := smallConfig()

	var progress []Progress
	_, err := tr.Train(examples, cfg, func(p Progress) { progress = append(progress, p) })
	require.NoError(t, err)
	require.Len(t, progress, cfg.Epochs)

	// Replay the run by hand: three examples in batches of two give the
	// contiguous batches [0 1] and [2] every epoch.
	m, err := model.New(tr.Architecture(), cfg.Seed)
	require.NoError(t, err)
	opt := nn.NewAdam(cfg.LearningRate)
	dropout := rand.New(rand.NewSource(cfg.Seed + 1))
	pre := vision.NewPreprocessor()

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		var means []float64
		for _, batch := range [][]int{{0, 1}, {2}} {
			var sum float64
			for _, i := range batch {
				x, err := pre.Preprocess(examples[i].Image)
				require.NoError(t, err)
				fruit, ok := model.DefaultVocabulary.Index(examples[i].FruitType)
				require.True(t, ok)
				loss, err := m.AccumulateGradients(x.Data, fruit, examples[i].Toxicity.Target(), cfg.LossWeights, dropout)
				require.NoError(t, err)
				sum += loss
			}
			opt.Step(m.Params(), 1/float64(len(batch)))
			means = append(means, sum/float64(len(batch)))
		}
		assert.InDelta(t, (means[0]+means[1])/2, progress[epoch].AverageLoss, 1e-12, "epoch %d", epoch+1)
	}
}

func TestTrain_Deterministic(t *testing.T) {
	for _, shuffle := range []bool{false, true} {
		cfg := smallConfig()
		cfg.Shuffle = shuffle

		a, err := newTrainer(t, &fakeSaver{}, nil).Train(sampleExamples(), cfg, nil)
		require.NoError(t, err)
		b, err := newTrainer(t, &fakeSaver{}, nil).Train(sampleExamples(), cfg, nil)
		require.NoError(t, err)

		x, err := vision.NewPreprocessor().Preprocess(sampleExamples()[0].Image)
		require.NoError(t, err)
		pa, err := a.Predict(x.Data)
		require.NoError(t, err)
		pb, err := b.Predict(x.Data)
		require.NoError(t, err)
		assert.Equal(t, pa, pb, "shuffle=%v", shuffle)
	}
}

func TestTrain_RejectsBeforeAnyUpdate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func([]Example) []Example
		wantErr error
		wantIdx int
	}{
		{
			name:    "empty set",
			mutate:  func([]Example) []Example { return nil },
			wantErr: ErrNoExamples,
			wantIdx: -1,
		},
		{
			name: "unlabeled toxicity",
			mutate: func(ex []Example) []Example {
				ex[2].Toxicity = Unlabeled
				return ex
			},
			wantErr: ErrUnlabeled,
			wantIdx: 2,
		},
		{
			name: "unknown fruit",
			mutate: func(ex []Example) []Example {
				ex[1].FruitType = "durian"
				return ex
			},
			wantErr: ErrUnknownFruit,
			wantIdx: 1,
		},
		{
			name: "reserved fruit label",
			mutate: func(ex []Example) []Example {
				ex[0].FruitType = model.Unlabeled
				return ex
			},
			wantErr: ErrUnknownFruit,
			wantIdx: 0,
		},
		{
			name: "missing image",
			mutate: func(ex []Example) []Example {
				ex[1].Image = nil
				return ex
			},
			wantErr: ErrMissingImage,
			wantIdx: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saver := &fakeSaver{}
			tr := newTrainer(t, saver, nil)
			called := false

			m, err := tr.Train(tt.mutate(sampleExamples()), smallConfig(), func(Progress) { called = true })
			require.Error(t, err)
			assert.Nil(t, m)
			assert.ErrorIs(t, err, tt.wantErr)

			var terr *TrainingError
			require.ErrorAs(t, err, &terr)
			assert.Equal(t, tt.wantIdx, terr.Index)
			assert.Zero(t, terr.Epoch)
			assert.False(t, called)
			assert.Zero(t, saver.count())
		})
	}
}

func TestTrain_BadImageFailsAtomically(t *testing.T) {
	saver := &fakeSaver{}
	tr := newTrainer(t, saver, nil)

	examples := sampleExamples()
	examples[2].Image = []byte("not an image")

	m, err := tr.Train(examples, smallConfig(), nil)
	require.Error(t, err)
	assert.Nil(t, m)

	var terr *TrainingError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "grape/1.jpg", terr.ExampleID)
	assert.Equal(t, 2, terr.Index)
	assert.Equal(t, 1, terr.Epoch)

	var derr *vision.DecodeError
	assert.ErrorAs(t, err, &derr)
	assert.Zero(t, saver.count())
}

func TestTrain_SaveFailure(t *testing.T) {
	saver := &fakeSaver{err: errors.New("primary down")}
	tr := newTrainer(t, saver, nil)

	m, err := tr.Train(sampleExamples()[:1], smallConfig(), nil)
	require.Error(t, err)
	assert.Nil(t, m)
	assert.Contains(t, err.Error(), "primary down")
}

func TestTrain_InvalidConfig(t *testing.T) {
	tr := newTrainer(t, &fakeSaver{}, nil)

	for _, cfg := range []Config{
		{Epochs: 0, BatchSize: 1, LearningRate: 0.001, LossWeights: model.DefaultLossWeights},
		{Epochs: 1, BatchSize: 0, LearningRate: 0.001, LossWeights: model.DefaultLossWeights},
		{Epochs: 1, BatchSize: 1, LearningRate: 0, LossWeights: model.DefaultLossWeights},
		{Epochs: 1, BatchSize: 1, LearningRate: 0.001},
	} {
		_, err := tr.Train(sampleExamples(), cfg, nil)
		var terr *TrainingError
		assert.ErrorAs(t, err, &terr)
	}
}

func TestTrain_OneRunAtATime(t *testing.T) {
	saver := &fakeSaver{block: make(chan struct{})}
	tr := newTrainer(t, saver, nil)

	done := make(chan error, 1)
	go func() {
		_, err := tr.Train(sampleExamples()[:1], smallConfig(), nil)
		done <- err
	}()

	require.Eventually(t, func() bool { return tr.running.Load() }, 5*time.Second, time.Millisecond)
	_, err := tr.Train(sampleExamples(), smallConfig(), nil)
	assert.ErrorIs(t, err, ErrTrainingInProgress)

	close(saver.block)
	require.NoError(t, <-done)

	// The trainer is usable again once the first run returns.
	_, err = tr.Train(sampleExamples()[:1], smallConfig(), nil)
	assert.NoError(t, err)
}

func TestParseToxicity(t *testing.T) {
	tests := []struct {
		in      string
		want    Toxicity
		wantErr bool
	}{
		{"toxic", Toxic, false},
		{"Toxic", Toxic, false},
		{"non-toxic", NonToxic, false},
		{"nontoxic", NonToxic, false},
		{"safe", NonToxic, false},
		{"", Unlabeled, false},
		{"unlabeled", Unlabeled, false},
		{"poison", Unlabeled, true},
	}
	for _, tt := range tests {
		got, err := ParseToxicity(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	assert.Equal(t, "non-toxic", NonToxic.String())
	assert.Equal(t, 1.0, Toxic.Target())
	assert.Equal(t, 0.0, NonToxic.Target())
}

func TestExample_Relabel(t *testing.T) {
	ex := Example{ID: "x", Image: []byte{1}}
	ex.Relabel("mango", Toxic)
	assert.Equal(t, "mango", ex.FruitType)
	assert.Equal(t, Toxic, ex.Toxicity)
}
