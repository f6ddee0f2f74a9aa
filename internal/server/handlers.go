package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"fruitscan/internal/common"
	"fruitscan/internal/inference"
	"fruitscan/internal/storage"
	"fruitscan/internal/vision"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	ModelReady bool   `json:"modelReady"`
}

// PredictResponse is the body of a successful POST /predict.
type PredictResponse struct {
	RequestID string  `json:"requestId"`
	LatencyMs float64 `json:"latencyMs"`
	*inference.PredictionResult
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrade through. The handshake reply is written
// on the raw connection, so a successful takeover is recorded as 101.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	conn, rw, err := h.Hijack()
	if err == nil {
		r.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		if s.metrics != nil {
			s.metrics.HTTPRequestInc(route, rec.status)
		}
		log.Debug().
			Str("route", route).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", ModelReady: s.engine.Ready()})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", requestID)

	fail := func(status int, msg string) {
		writeJSON(w, status, ErrorResponse{Error: msg, RequestID: requestID})
	}

	if s.limiter != nil && !s.limiter.Allow() {
		fail(http.StatusTooManyRequests, "too many requests")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, _, err := r.FormFile(common.ImageField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(http.StatusRequestEntityTooLarge, "image exceeds upload limit")
			return
		}
		fail(http.StatusBadRequest, "multipart field \"image\" is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		fail(http.StatusBadRequest, "failed to read image")
		return
	}

	result, err := s.engine.Predict(data)
	if err != nil {
		var decodeErr *vision.DecodeError
		switch {
		case errors.As(err, &decodeErr):
			fail(http.StatusBadRequest, decodeErr.Error())
		case errors.Is(err, storage.ErrModelUnavailable):
			fail(http.StatusServiceUnavailable, "no trained model available")
		default:
			log.Error().Err(err).Str("request_id", requestID).Msg("Prediction failed")
			fail(http.StatusInternalServerError, "prediction failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, PredictResponse{
		RequestID:        requestID,
		LatencyMs:        float64(time.Since(start).Microseconds()) / 1000,
		PredictionResult: result,
	})
}
