package ws

import (
	"time"

	"github.com/gin-gonic/gin"

	"imgshrink/internal/app/worker"
	"imgshrink/internal/utils"
)

// ServerConfig stores the settings required to expose the websocket transport.
type ServerConfig struct {
	PipelinePath     string
	EventsPath       string
	HandshakeTimeout time.Duration
	MaxMessageBytes  int64
}

// Server coordinates the websocket routers, hub and lifecycle management.
// It shares the HTTP listener of the API router.
type Server struct {
	cfg      ServerConfig
	hub      *Hub
	pipeline *Router
	events   *Router
	logger   *utils.Logger
}

// NewServer builds the websocket transport. newWorker opens one background
// context per pipeline session; source feeds the events relay.
func NewServer(cfg ServerConfig, newWorker func() worker.Handle, source Subscriber, logger *utils.Logger) *Server {
	if cfg.PipelinePath == "" {
		cfg.PipelinePath = "/ws/pipeline"
	}
	if cfg.EventsPath == "" {
		cfg.EventsPath = "/ws/events"
	}

	hub := NewHub(logger)
	s := &Server{
		cfg:    cfg,
		hub:    hub,
		logger: logger,
		pipeline: NewRouter(hub, logger, RouterOptions{
			Kind:             "pipeline",
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadLimit:        cfg.MaxMessageBytes,
		}),
		events: NewRouter(hub, logger, RouterOptions{
			Kind:             "events",
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadLimit:        4096,
		}),
	}
	s.pipeline.SetHandlerBuilder(PipelineBuilder(newWorker, logger))
	if source != nil {
		s.events.SetHandlerBuilder(EventsBuilder(source, logger))
	}
	return s
}

// Mount registers the websocket endpoints on engine.
func (s *Server) Mount(engine gin.IRoutes) {
	engine.GET(s.cfg.PipelinePath, gin.WrapF(s.pipeline.Handle))
	engine.GET(s.cfg.EventsPath, gin.WrapF(s.events.Handle))
	s.logger.InfoTag("WebSocket", "endpoints %s and %s ready", s.cfg.PipelinePath, s.cfg.EventsPath)
}

// Stop closes every active session.
func (s *Server) Stop() error {
	s.hub.CloseAll(ErrSessionShutdown)
	return nil
}

// Counts exposes active sessions per endpoint.
func (s *Server) Counts() map[string]int {
	return s.hub.Counts()
}
