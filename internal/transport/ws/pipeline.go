package ws

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"imgshrink/internal/app/worker"
	"imgshrink/internal/contracts/pipeline"
	"imgshrink/internal/utils"
)

// PipelineHandler exposes one background processing context per session.
// Inbound text frames are pipeline messages; every outbound message of the
// context is written back in emission order.
type PipelineHandler struct {
	id     string
	conn   *Connection
	handle worker.Handle
	logger *utils.Logger
}

// PipelineBuilder returns a HandlerBuilder that starts a fresh context for
// each connection from newWorker.
func PipelineBuilder(newWorker func() worker.Handle, logger *utils.Logger) HandlerBuilder {
	return func(conn *Connection, _ *http.Request) (SessionHandler, error) {
		return &PipelineHandler{
			id:     conn.GetID(),
			conn:   conn,
			handle: newWorker(),
			logger: logger,
		}, nil
	}
}

func (h *PipelineHandler) GetSessionID() string { return h.id }

func (h *PipelineHandler) Handle(ctx context.Context) error {
	readErr := make(chan error, 1)
	go func() { readErr <- h.readLoop() }()

	writeErr := make(chan error, 1)
	go func() { writeErr <- h.writeLoop(ctx) }()

	select {
	case err := <-readErr:
		return peerError(err)
	case err := <-writeErr:
		return err
	case <-ctx.Done():
		return nil
	}
}

func (h *PipelineHandler) readLoop() error {
	for {
		messageType, payload, err := h.conn.ReadMessage()
		if err != nil {
			return err
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		msg, err := pipeline.Decode(payload)
		if err != nil {
			msg = pipeline.Reject(err)
		}
		if err := h.handle.Post(msg); err != nil {
			return err
		}
	}
}

func (h *PipelineHandler) writeLoop(ctx context.Context) error {
	for {
		msg, err := h.handle.Receive(ctx)
		if err != nil {
			if errors.Is(err, worker.ErrTerminated) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if err := h.reply(msg); err != nil {
			return err
		}
	}
}

func (h *PipelineHandler) reply(msg pipeline.Message) error {
	data, err := pipeline.Encode(msg)
	if err != nil {
		h.logger.ErrorTag("WebSocket", "failed to encode %s: %v", msg.Type, err)
		return nil
	}
	return h.conn.WriteMessage(websocket.TextMessage, data)
}

// Close discards the session's background context.
func (h *PipelineHandler) Close() {
	h.handle.Terminate()
}

func peerError(err error) error {
	if err == nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	if websocket.IsUnexpectedCloseError(err) {
		return errors.Join(ErrPeerClosed, err)
	}
	return err
}
