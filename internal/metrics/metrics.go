// Package metrics provides Prometheus metrics collection for fruitscan.
// It defines the training, inference and model storage metrics exposed on
// the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Training metrics
	TrainingRuns     *prometheus.CounterVec // Completed training runs by outcome
	TrainingEpochs   prometheus.Counter     // Epochs completed across all runs
	TrainingLoss     prometheus.Gauge       // Average loss of the last completed epoch
	TrainingDuration prometheus.Histogram   // Wall time of whole training runs
	TrainingExamples prometheus.Gauge       // Example count of the last run

	// Inference metrics
	Predictions       prometheus.Counter     // Successful predictions
	PredictionErrors  *prometheus.CounterVec // Failed predictions by reason
	PredictionLatency prometheus.Histogram   // Preprocess plus forward pass latency
	ToxicityScores    prometheus.Histogram   // Distribution of toxicity probabilities
	ModelLoads        prometheus.Counter     // Lazy loads from the model store
	ModelSwaps        prometheus.Counter     // Models installed after retraining

	// Storage metrics
	StoreSaveFailures *prometheus.CounterVec // Failed backend writes by backend
	StoreLoadFallback *prometheus.CounterVec // Loads served by a non-primary backend

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec // Requests by route and status code
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		TrainingRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fruitscan_training_runs_total",
			Help: "Total number of training runs by outcome",
		}, []string{"outcome"}),
		TrainingEpochs: factory.NewCounter(prometheus.CounterOpts{
			Name: "fruitscan_training_epochs_total",
			Help: "Total number of training epochs completed",
		}),
		TrainingLoss: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fruitscan_training_loss",
			Help: "Average combined loss of the most recent epoch",
		}),
		TrainingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fruitscan_training_duration_seconds",
			Help:    "Duration of training runs in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		TrainingExamples: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fruitscan_training_examples",
			Help: "Number of examples in the most recent training run",
		}),
		Predictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "fruitscan_predictions_total",
			Help: "Total number of successful predictions",
		}),
		PredictionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fruitscan_prediction_errors_total",
			Help: "Total number of failed predictions by reason",
		}, []string{"reason"}),
		PredictionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fruitscan_prediction_latency_seconds",
			Help:    "Prediction latency in seconds (decode, resize and forward pass)",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		ToxicityScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fruitscan_toxicity_probability",
			Help:    "Distribution of predicted toxicity probabilities",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		ModelLoads: factory.NewCounter(prometheus.CounterOpts{
			Name: "fruitscan_model_loads_total",
			Help: "Total number of models loaded from the store",
		}),
		ModelSwaps: factory.NewCounter(prometheus.CounterOpts{
			Name: "fruitscan_model_swaps_total",
			Help: "Total number of models installed after training",
		}),
		StoreSaveFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fruitscan_store_save_failures_total",
			Help: "Total number of failed model writes by backend",
		}, []string{"backend"}),
		StoreLoadFallback: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fruitscan_store_load_fallback_total",
			Help: "Total number of model loads served by a fallback backend",
		}, []string{"backend"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fruitscan_http_requests_total",
			Help: "Total number of HTTP requests by route and status code",
		}, []string{"route", "code"}),
	}
}
