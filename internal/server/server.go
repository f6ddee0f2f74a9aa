// Package server exposes the inference engine and trainer over HTTP.
//
// Routes:
//
//	GET  /health   liveness plus whether a model is loaded
//	POST /predict  multipart upload, field "image"
//	GET  /train    WebSocket; one TrainRequest in, progress messages out
//	GET  /metrics  Prometheus
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"fruitscan/internal/common"
	"fruitscan/internal/inference"
	"fruitscan/internal/model"
	"fruitscan/internal/training"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Predictor is the inference side the server needs. *inference.Engine
// implements it.
type Predictor interface {
	Predict(image []byte) (*inference.PredictionResult, error)
	Ready() bool
	Swap(m *model.Model) error
}

// Trainer runs one training job. *training.Trainer implements it.
type Trainer interface {
	Train(examples []training.Example, cfg training.Config, onProgress func(training.Progress)) (*model.Model, error)
}

// MetricsInterface defines the HTTP metrics.
type MetricsInterface interface {
	HTTPRequestInc(route string, code int)
}

// DatasetLoader reads labelled examples from a path on the server.
type DatasetLoader func(path string) ([]training.Example, error)

type Config struct {
	ListenAddr     string
	MaxUploadBytes int64
	RequestTimeout time.Duration
	PredictRPS     float64 // 0 disables throttling
	DatasetRoot    string  // training datasets must live under this directory
	Training       training.Config
	Gatherer       prometheus.Gatherer
}

type Server struct {
	cfg         Config
	engine      Predictor
	trainer     Trainer
	loadDataset DatasetLoader
	metrics     MetricsInterface
	limiter     *rate.Limiter
	upgrader    websocket.Upgrader
	server      *http.Server
}

// New wires the routes. trainer and loadDataset may be nil, in which case
// /train answers 501.
func New(cfg Config, engine Predictor, trainer Trainer, loadDataset DatasetLoader, metrics MetricsInterface) *Server {
	s := &Server{
		cfg:         cfg,
		engine:      engine,
		trainer:     trainer,
		loadDataset: loadDataset,
		metrics:     metrics,
		upgrader:    websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
	if cfg.PredictRPS > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.PredictRPS), max(1, int(cfg.PredictRPS)))
	}
	if s.cfg.Gatherer == nil {
		s.cfg.Gatherer = prometheus.DefaultGatherer
	}
	if s.cfg.MaxUploadBytes <= 0 {
		s.cfg.MaxUploadBytes = common.DefaultMaxUploadBytes
	}

	r := mux.NewRouter()
	r.HandleFunc(common.RouteHealth, s.instrument(common.RouteHealth, s.handleHealth)).Methods(http.MethodGet)
	r.HandleFunc(common.RoutePredict, s.instrument(common.RoutePredict, s.handlePredict)).Methods(http.MethodPost)
	r.HandleFunc(common.RouteTrain, s.instrument(common.RouteTrain, s.handleTrain)).Methods(http.MethodGet)
	metricsHandler := promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{})
	r.HandleFunc(common.RouteMetrics, s.instrument(common.RouteMetrics, metricsHandler.ServeHTTP)).Methods(http.MethodGet)

	// The WebSocket route holds its connection for the whole run, so only
	// reads get a deadline.
	s.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("Starting fruitscan server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// resolveDataset keeps client-supplied dataset paths inside DatasetRoot.
func (s *Server) resolveDataset(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("dataset path is required")
	}
	if s.cfg.DatasetRoot == "" {
		return p, nil
	}
	return filepath.Join(s.cfg.DatasetRoot, filepath.Clean("/"+p)), nil
}
