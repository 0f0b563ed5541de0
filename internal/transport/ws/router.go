package ws

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"imgshrink/internal/platform/observability"
	"imgshrink/internal/utils"
)

// HandlerBuilder creates a session handler for an upgraded websocket connection.
type HandlerBuilder func(conn *Connection, req *http.Request) (SessionHandler, error)

// Router upgrades HTTP connections on one endpoint to websocket sessions.
type Router struct {
	kind   string
	hub    *Hub
	logger *utils.Logger

	upgrader         *websocket.Upgrader
	handshakeTimeout time.Duration
	readLimit        int64
	builder          atomic.Value // HandlerBuilder
}

// RouterOptions configures the websocket router.
type RouterOptions struct {
	Kind             string
	HandshakeTimeout time.Duration
	ReadLimit        int64
	CheckOrigin      func(r *http.Request) bool
}

// NewRouter constructs a websocket router.
func NewRouter(hub *Hub, logger *utils.Logger, opts RouterOptions) *Router {
	upgrader := &websocket.Upgrader{
		CheckOrigin: opts.CheckOrigin,
	}
	if upgrader.CheckOrigin == nil {
		upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}

	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Router{
		kind:             opts.Kind,
		hub:              hub,
		logger:           logger,
		upgrader:         upgrader,
		handshakeTimeout: timeout,
		readLimit:        opts.ReadLimit,
	}
}

// SetHandlerBuilder registers the handler builder that will be invoked after a successful upgrade.
func (r *Router) SetHandlerBuilder(builder HandlerBuilder) {
	r.builder.Store(builder)
}

// Handle upgrades the HTTP connection and launches a new websocket session.
func (r *Router) Handle(w http.ResponseWriter, req *http.Request) {
	value := r.builder.Load()
	if value == nil {
		http.Error(w, "websocket handler not ready", http.StatusServiceUnavailable)
		return
	}
	builder := value.(HandlerBuilder)

	handshakeCtx, cancel := context.WithTimeoutCause(req.Context(), r.handshakeTimeout, ErrHandshakeTimeout)
	defer cancel()
	req = req.WithContext(handshakeCtx)

	_, spanEnd := observability.StartSpan(handshakeCtx, "transport.websocket", r.kind)
	var spanErr error
	defer func() {
		spanEnd(spanErr)
	}()

	labels := map[string]string{
		"component": "transport.websocket",
		"endpoint":  r.kind,
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		spanErr = err
		observability.RecordMetric(handshakeCtx, "websocket.upgrade.error", 1, labels)
		r.logger.ErrorTag("WebSocket", "handshake failed: %v", err)
		return
	}

	sessionID := resolveSessionID(req)
	wsConn := NewConnection(sessionID, conn, r.readLimit)
	observability.RecordMetric(handshakeCtx, "websocket.upgrade.success", 1, labels)

	handler, err := builder(wsConn, req)
	if err != nil || handler == nil {
		spanErr = err
		observability.RecordMetric(handshakeCtx, "websocket.connection.error", 1, labels)
		r.logger.ErrorTag("WebSocket", "failed to create %s handler: %v", r.kind, err)
		_ = wsConn.Close()
		return
	}

	// Sessions outlive the upgrade request, so they hang off a fresh context.
	session := NewSession(context.Background(), r.kind, handler, wsConn, r.logger)
	r.hub.Register(session)
	r.logger.InfoTag("WebSocket", "%s session %s opened", r.kind, session.ID())
	observability.RecordMetric(handshakeCtx, "websocket.connection.opened", 1, labels)

	go session.Run(func(runErr error) {
		r.hub.Unregister(session.ID())
		if runErr != nil {
			r.logger.WarnTag("WebSocket", "%s session %s ended: %v", r.kind, session.ID(), runErr)
		} else {
			r.logger.InfoTag("WebSocket", "%s session %s closed", r.kind, session.ID())
		}
		observability.RecordMetric(session.Context(), "websocket.connection.closed", 1, labels)
	})
}

func resolveSessionID(req *http.Request) string {
	id := req.Header.Get("Client-Id")
	if id == "" {
		id = req.URL.Query().Get("client-id")
	}
	if id == "" {
		id = uuid.NewString()
	}
	return id
}
