package storage

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"fruitscan/internal/model"
	"fruitscan/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	name     string
	saveErr  error
	loadErr  error
	stored   *model.Artifact
	saves    int
	closeErr error
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Save(name string, a *model.Artifact) (string, error) {
	f.saves++
	if f.saveErr != nil {
		return "", f.saveErr
	}
	f.stored = a
	return "mem://" + name, nil
}

func (f *fakeBackend) Load(string) (*model.Artifact, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	if f.stored == nil {
		return nil, ErrNotFound
	}
	return f.stored, nil
}

func (f *fakeBackend) Close() error { return f.closeErr }

type countingMetrics struct {
	saveFailures map[string]int
	fallbacks    map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{saveFailures: map[string]int{}, fallbacks: map[string]int{}}
}

func (c *countingMetrics) StoreSaveFailuresInc(b string) { c.saveFailures[b]++ }
func (c *countingMetrics) StoreLoadFallbackInc(b string) { c.fallbacks[b]++ }

func sampleInput(n int) []float64 {
	rng := rand.New(rand.NewSource(7))
	x := make([]float64, n)
	for i := range x {
		x[i] = rng.Float64()
	}
	return x
}

func assertSamePredictions(t *testing.T, want, got *model.Model) {
	t.Helper()
	x := sampleInput(224 * 224 * 3)
	a, err := want.Predict(x)
	require.NoError(t, err)
	b, err := got.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func openTestStore(t *testing.T, metrics MetricsInterface) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, filepath.Join(dir, "models"), DefaultModelName, metrics)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, dir
}

func TestBoltBackend_RoundTrip(t *testing.T) {
	b, err := NewBoltBackend(t.TempDir())
	require.NoError(t, err)
	defer b.Close()

	_, err = b.Load("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	m := testutil.TinyModel(1)
	loc, err := b.Save("m", m.Artifact(&model.TrainingInfo{Examples: 3, Epochs: 1}))
	require.NoError(t, err)
	assert.Contains(t, loc, "#m")

	a, err := b.Load("m")
	require.NoError(t, err)
	assert.Equal(t, 3, a.Header.Training.Examples)

	loaded, err := model.FromArtifact(a)
	require.NoError(t, err)
	assertSamePredictions(t, m, loaded)
}

func TestFileBackend_RoundTrip(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)

	_, err = b.Load("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	m := testutil.TinyModel(2)
	loc, err := b.Save("m", m.Artifact(nil))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(loc, weightsFile))
	assert.FileExists(t, filepath.Join(loc, headerFile))

	a, err := b.Load("m")
	require.NoError(t, err)
	loaded, err := model.FromArtifact(a)
	require.NoError(t, err)
	assertSamePredictions(t, m, loaded)
}

func TestStore_SaveAndLoad(t *testing.T) {
	metrics := newCountingMetrics()
	s, _ := openTestStore(t, metrics)

	_, err := s.Load()
	require.ErrorIs(t, err, ErrModelUnavailable)

	m := testutil.TinyModel(3)
	h, err := s.Save(m, nil)
	require.NoError(t, err)
	assert.False(t, h.Degraded)
	assert.Len(t, h.Locations, 2)
	assert.Equal(t, DefaultModelName, h.Name)

	loaded, err := s.Load()
	require.NoError(t, err)
	assertSamePredictions(t, m, loaded)
	assert.Empty(t, metrics.fallbacks)
}

func TestStore_FallsBackWhenPrimaryCorrupt(t *testing.T) {
	metrics := newCountingMetrics()
	primary := &fakeBackend{name: "primary"}
	secondary, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)

	s, err := New("m", metrics, primary, secondary)
	require.NoError(t, err)

	m := testutil.TinyModel(4)
	_, err = s.Save(m, nil)
	require.NoError(t, err)

	corrupt := *primary.stored
	corrupt.Weights = append([]byte(nil), corrupt.Weights...)
	corrupt.Weights[0] ^= 0xff
	primary.stored = &corrupt

	loaded, err := s.Load()
	require.NoError(t, err)
	assertSamePredictions(t, m, loaded)
	assert.Equal(t, 1, metrics.fallbacks["file"])
}

func TestStore_BothUnreadable(t *testing.T) {
	s, dir := openTestStore(t, nil)

	_, err := s.Save(testutil.TinyModel(5), nil)
	require.NoError(t, err)

	// Truncate the file copy and break the bolt copy's checksum.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "models", DefaultModelName, weightsFile), []byte{1, 2, 3}, 0o644))
	bolt := s.backends[0].(*BoltBackend)
	a, err := bolt.Load(DefaultModelName)
	require.NoError(t, err)
	a.Header.Checksum = "00"
	_, err = bolt.Save(DefaultModelName, a)
	require.NoError(t, err)

	_, err = s.Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.ErrorIs(t, err, model.ErrArtifactMismatch)
}

func TestStore_SecondaryFailureIsDegraded(t *testing.T) {
	metrics := newCountingMetrics()
	primary := &fakeBackend{name: "primary"}
	secondary := &fakeBackend{name: "secondary", saveErr: errors.New("disk full")}
	s, err := New("m", metrics, primary, secondary)
	require.NoError(t, err)

	h, err := s.Save(testutil.TinyModel(6), nil)
	require.NoError(t, err)
	assert.True(t, h.Degraded)
	assert.Equal(t, []string{"mem://m"}, h.Locations)
	assert.Equal(t, 1, metrics.saveFailures["secondary"])
}

func TestStore_PrimaryFailureIsFatal(t *testing.T) {
	primary := &fakeBackend{name: "primary", saveErr: errors.New("read-only")}
	secondary := &fakeBackend{name: "secondary"}
	s, err := New("m", nil, primary, secondary)
	require.NoError(t, err)

	_, err = s.Save(testutil.TinyModel(7), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only")
	assert.Zero(t, secondary.saves)
}

func TestStore_LoadErrorFallsThrough(t *testing.T) {
	m := testutil.TinyModel(8)
	primary := &fakeBackend{name: "primary", loadErr: errors.New("io error")}
	secondary := &fakeBackend{name: "secondary", stored: m.Artifact(nil)}
	s, err := New("m", nil, primary, secondary)
	require.NoError(t, err)

	loaded, err := s.Load()
	require.NoError(t, err)
	assertSamePredictions(t, m, loaded)
}

func TestNew_Rejects(t *testing.T) {
	_, err := New("", nil, &fakeBackend{})
	assert.Error(t, err)
	_, err = New("m", nil)
	assert.Error(t, err)
}
