package metrics

import (
	"strconv"
	"time"
)

// Wrapper adapts Metrics to the small per-component metrics interfaces
// (storage, training, inference, server) so those packages never import
// Prometheus directly.
type Wrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *Wrapper {
	return &Wrapper{m: m}
}

// Storage

func (w *Wrapper) StoreSaveFailuresInc(backend string) {
	w.m.StoreSaveFailures.WithLabelValues(backend).Inc()
}

func (w *Wrapper) StoreLoadFallbackInc(backend string) {
	w.m.StoreLoadFallback.WithLabelValues(backend).Inc()
}

// Training

func (w *Wrapper) TrainingRunInc(outcome string) {
	w.m.TrainingRuns.WithLabelValues(outcome).Inc()
}

func (w *Wrapper) TrainingEpochObserve(avgLoss float64) {
	w.m.TrainingEpochs.Inc()
	w.m.TrainingLoss.Set(avgLoss)
}

func (w *Wrapper) TrainingDurationObserve(d time.Duration, examples int) {
	w.m.TrainingDuration.Observe(d.Seconds())
	w.m.TrainingExamples.Set(float64(examples))
}

// Inference

func (w *Wrapper) PredictionObserve(latency time.Duration, toxicity float64) {
	w.m.Predictions.Inc()
	w.m.PredictionLatency.Observe(latency.Seconds())
	w.m.ToxicityScores.Observe(toxicity)
}

func (w *Wrapper) PredictionErrorInc(reason string) {
	w.m.PredictionErrors.WithLabelValues(reason).Inc()
}

func (w *Wrapper) ModelLoadsInc() {
	w.m.ModelLoads.Inc()
}

func (w *Wrapper) ModelSwapsInc() {
	w.m.ModelSwaps.Inc()
}

// HTTP

func (w *Wrapper) HTTPRequestInc(route string, code int) {
	w.m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
