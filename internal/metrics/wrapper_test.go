package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWrapper(t *testing.T) (*Wrapper, *Metrics) {
	t.Helper()
	m := NewWithRegistry(prometheus.NewRegistry())
	w := NewWrapper(m)
	require.NotNil(t, w)
	return w, m
}

func TestWrapper_Storage(t *testing.T) {
	w, m := newTestWrapper(t)

	w.StoreSaveFailuresInc("file")
	w.StoreSaveFailuresInc("file")
	w.StoreLoadFallbackInc("file")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.StoreSaveFailures.WithLabelValues("file")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.StoreSaveFailures.WithLabelValues("bolt")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreLoadFallback.WithLabelValues("file")))
}

func TestWrapper_Training(t *testing.T) {
	w, m := newTestWrapper(t)

	w.TrainingEpochObserve(0.9)
	w.TrainingEpochObserve(0.4)
	w.TrainingRunInc("success")
	w.TrainingDurationObserve(3*time.Second, 12)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TrainingEpochs))
	assert.Equal(t, 0.4, testutil.ToFloat64(m.TrainingLoss))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TrainingRuns.WithLabelValues("success")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.TrainingExamples))
	assert.Equal(t, 1, testutil.CollectAndCount(m.TrainingDuration))
}

func TestWrapper_Inference(t *testing.T) {
	w, m := newTestWrapper(t)

	w.PredictionObserve(20*time.Millisecond, 0.7)
	w.PredictionErrorInc("decode")
	w.ModelLoadsInc()
	w.ModelSwapsInc()
	w.ModelSwapsInc()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Predictions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PredictionErrors.WithLabelValues("decode")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModelLoads))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ModelSwaps))
}

func TestWrapper_HTTP(t *testing.T) {
	w, m := newTestWrapper(t)

	w.HTTPRequestInc("/predict", 200)
	w.HTTPRequestInc("/predict", 400)
	w.HTTPRequestInc("/predict", 200)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/predict", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/predict", "400")))
}

func TestNewWithRegistry_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewWithRegistry(reg)
	assert.Panics(t, func() { NewWithRegistry(reg) })
}
