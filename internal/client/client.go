// Package client talks to a running fruitscan server.
package client

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fruitscan/internal/common"
	"fruitscan/internal/server"
	"fruitscan/internal/storage"
	"fruitscan/internal/training"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// APIError is a non-2xx reply from the server. A 503 unwraps to
// storage.ErrModelUnavailable.
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fruitscan: %d %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusServiceUnavailable {
		return storage.ErrModelUnavailable
	}
	return nil
}

// TrainError is an error message received on the training stream. A busy
// server unwraps to training.ErrTrainingInProgress.
type TrainError struct {
	Message   string
	ExampleID string
	Epoch     int
	Busy      bool
}

func (e *TrainError) Error() string {
	if e.ExampleID != "" {
		return fmt.Sprintf("remote training failed on %s: %s", e.ExampleID, e.Message)
	}
	return "remote training failed: " + e.Message
}

func (e *TrainError) Unwrap() error {
	if e.Busy {
		return training.ErrTrainingInProgress
	}
	return nil
}

type Client struct {
	base string
	rest *resty.Client
}

func New(base string, timeout time.Duration) *Client {
	base = strings.TrimRight(base, "/")
	r := resty.New().SetBaseURL(base)
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(30 * time.Second)
	}
	return &Client{base: base, rest: r}
}

func apiError(resp *resty.Response) error {
	e := &APIError{StatusCode: resp.StatusCode(), RequestID: resp.Header().Get("X-Request-ID")}
	if body, ok := resp.Error().(*server.ErrorResponse); ok && body.Error != "" {
		e.Message = body.Error
	} else {
		e.Message = strings.TrimSpace(resp.String())
	}
	return e
}

// Health reports whether the server is up and has a model loaded.
func (c *Client) Health(ctx context.Context) (*server.HealthResponse, error) {
	var health server.HealthResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&health).
		SetError(&server.ErrorResponse{}).
		Get(common.RouteHealth)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &health, nil
}

// Predict uploads one image as multipart field "image".
func (c *Client) Predict(ctx context.Context, filename string, data []byte) (*server.PredictResponse, error) {
	var result server.PredictResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetFileReader(common.ImageField, filename, bytes.NewReader(data)).
		SetResult(&result).
		SetError(&server.ErrorResponse{}).
		Post(common.RoutePredict)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	if result.PredictionResult == nil {
		return nil, fmt.Errorf("empty prediction in response")
	}
	return &result, nil
}

func (c *Client) wsURL(path string) string {
	switch {
	case strings.HasPrefix(c.base, "https://"):
		return "wss://" + strings.TrimPrefix(c.base, "https://") + path
	case strings.HasPrefix(c.base, "http://"):
		return "ws://" + strings.TrimPrefix(c.base, "http://") + path
	}
	return c.base + path
}

// Train starts a remote training run and blocks until it finishes. Progress
// messages are handed to onProgress in order. Cancelling ctx drops the
// connection; the server finishes the run regardless.
func (c *Client) Train(ctx context.Context, req server.TrainRequest, onProgress func(server.TrainMessage)) (*server.TrainMessage, error) {
	url := c.wsURL(common.RouteTrain)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("send train request: %w", err)
	}
	log.Debug().Str("url", url).Str("dataset", req.Dataset).Msg("Remote training requested")

	for {
		var msg server.TrainMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("training stream closed before completion: %w", err)
		}
		switch msg.Type {
		case server.MessageProgress:
			if onProgress != nil {
				onProgress(msg)
			}
		case server.MessageDone:
			return &msg, nil
		case server.MessageError:
			return nil, &TrainError{Message: msg.Error, ExampleID: msg.ExampleID, Epoch: msg.Epoch, Busy: msg.Busy}
		default:
			log.Warn().Str("type", msg.Type).Msg("Ignoring unknown training message")
		}
	}
}
