package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"fruitscan/internal/training"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Message types streamed on /train.
const (
	MessageProgress = "progress"
	MessageDone     = "done"
	MessageError    = "error"
)

// TrainRequest is the first and only message a client sends on /train.
// Zero values fall back to the server's training defaults.
type TrainRequest struct {
	Dataset   string `json:"dataset"`
	Epochs    int    `json:"epochs,omitempty"`
	BatchSize int    `json:"batchSize,omitempty"`
	Shuffle   *bool  `json:"shuffle,omitempty"`
	Seed      *int64 `json:"seed,omitempty"`
}

// TrainMessage is one server message on /train.
type TrainMessage struct {
	Type        string  `json:"type"`
	RunID       string  `json:"runId"`
	Epoch       int     `json:"epoch,omitempty"`
	Epochs      int     `json:"epochs,omitempty"`
	AverageLoss float64 `json:"averageLoss,omitempty"`
	Examples    int     `json:"examples,omitempty"`
	ExampleID   string  `json:"exampleId,omitempty"`
	Error       string  `json:"error,omitempty"`
	Busy        bool    `json:"busy,omitempty"`
}

func (s *Server) trainingConfig(req TrainRequest) training.Config {
	cfg := s.cfg.Training
	if req.Epochs > 0 {
		cfg.Epochs = req.Epochs
	}
	if req.BatchSize > 0 {
		cfg.BatchSize = req.BatchSize
	}
	if req.Shuffle != nil {
		cfg.Shuffle = *req.Shuffle
	}
	if req.Seed != nil {
		cfg.Seed = *req.Seed
	}
	return cfg
}

// trainStream writes messages for one run. After the first failed write the
// client is treated as gone; the run itself is never interrupted.
type trainStream struct {
	conn  *websocket.Conn
	runID string
	gone  bool
}

func (t *trainStream) send(msg TrainMessage) {
	if t.gone {
		return
	}
	msg.RunID = t.runID
	t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := t.conn.WriteJSON(msg); err != nil {
		log.Warn().Err(err).Str("run_id", t.runID).Msg("Training client went away, run continues")
		t.gone = true
	}
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	if s.trainer == nil || s.loadDataset == nil {
		writeJSON(w, http.StatusNotImplemented, ErrorResponse{Error: "training is not enabled on this server"})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}
	defer conn.Close()

	stream := &trainStream{conn: conn, runID: uuid.NewString()}
	fail := func(err error) {
		msg := TrainMessage{Type: MessageError, Error: err.Error(), Busy: errors.Is(err, training.ErrTrainingInProgress)}
		var terr *training.TrainingError
		if errors.As(err, &terr) {
			msg.ExampleID = terr.ExampleID
			msg.Epoch = terr.Epoch
		}
		stream.send(msg)
		s.closeStream(conn)
	}

	if s.cfg.RequestTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(s.cfg.RequestTimeout))
	}
	var req TrainRequest
	if err := conn.ReadJSON(&req); err != nil {
		fail(fmt.Errorf("invalid train request: %w", err))
		return
	}

	path, err := s.resolveDataset(req.Dataset)
	if err != nil {
		fail(err)
		return
	}
	examples, err := s.loadDataset(path)
	if err != nil {
		fail(err)
		return
	}

	cfg := s.trainingConfig(req)
	log.Info().
		Str("run_id", stream.runID).
		Str("dataset", path).
		Int("examples", len(examples)).
		Int("epochs", cfg.Epochs).
		Msg("Training run requested")

	m, err := s.trainer.Train(examples, cfg, func(p training.Progress) {
		stream.send(TrainMessage{Type: MessageProgress, Epoch: p.Epoch, Epochs: p.Epochs, AverageLoss: p.AverageLoss})
	})
	if err != nil {
		fail(err)
		return
	}
	if err := s.engine.Swap(m); err != nil {
		fail(err)
		return
	}

	stream.send(TrainMessage{Type: MessageDone, Epochs: cfg.Epochs, Examples: len(examples)})
	s.closeStream(conn)
}

func (s *Server) closeStream(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
