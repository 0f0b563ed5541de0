package ws

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"imgshrink/internal/contracts/pipeline"
	"imgshrink/internal/util/work"
	"imgshrink/internal/utils"
)

// Subscriber is the source of relayed messages, typically the shell pump.
type Subscriber interface {
	Subscribe(fn func(pipeline.Message)) (unsubscribe func())
}

// EventsHandler relays shell pump messages to a read-only observer. Payload
// bytes and previews are stripped before sending.
type EventsHandler struct {
	id          string
	conn        *Connection
	queue       *work.Mailbox[pipeline.Message]
	unsubscribe func()
	logger      *utils.Logger
}

// EventsBuilder returns a HandlerBuilder relaying messages from source.
func EventsBuilder(source Subscriber, logger *utils.Logger) HandlerBuilder {
	return func(conn *Connection, _ *http.Request) (SessionHandler, error) {
		h := &EventsHandler{
			id:     conn.GetID(),
			conn:   conn,
			queue:  work.NewMailbox[pipeline.Message](),
			logger: logger,
		}
		h.unsubscribe = source.Subscribe(func(m pipeline.Message) {
			_ = h.queue.Push(m.StripPayloads())
		})
		return h, nil
	}
}

func (h *EventsHandler) GetSessionID() string { return h.id }

func (h *EventsHandler) Handle(ctx context.Context) error {
	readErr := make(chan error, 1)
	go func() {
		// Observers only listen; reading detects the close frame.
		for {
			if _, _, err := h.conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	writeErr := make(chan error, 1)
	go func() {
		for {
			msg, err := h.queue.Pop(ctx)
			if err != nil {
				writeErr <- nil
				return
			}
			data, err := pipeline.Encode(msg)
			if err != nil {
				h.logger.ErrorTag("WebSocket", "failed to encode %s: %v", msg.Type, err)
				continue
			}
			if err := h.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				writeErr <- err
				return
			}
		}
	}()

	select {
	case err := <-readErr:
		return peerError(err)
	case err := <-writeErr:
		return err
	case <-ctx.Done():
		return nil
	}
}

func (h *EventsHandler) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.queue.Discard()
}
