package httptransport

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"imgshrink/internal/domain/eventbus/repository"
	"imgshrink/internal/utils"
)

const defaultEventLimit = 50

// EventsHandler exposes the batch event journal.
type EventsHandler struct {
	repo   repository.EventRepository
	logger *utils.Logger
}

func NewEventsHandler(repo repository.EventRepository, logger *utils.Logger) *EventsHandler {
	return &EventsHandler{repo: repo, logger: logger}
}

func (h *EventsHandler) RegisterRoutes(router *Router) {
	router.API.GET("/events", h.List)
	router.API.GET("/events/stats", h.Stats)
}

// List filters by batch_id or type when given; otherwise it returns the
// newest events. limit defaults to 50.
func (h *EventsHandler) List(c *gin.Context) {
	limit := defaultEventLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			RespondError(c, http.StatusBadRequest, "invalid limit", nil)
			return
		}
		limit = n
	}

	ctx := c.Request.Context()
	var (
		events []repository.Event
		err    error
	)
	switch {
	case c.Query("batch_id") != "":
		events, err = h.repo.FindByBatchID(ctx, c.Query("batch_id"))
	case c.Query("type") != "":
		events, err = h.repo.FindByEventType(ctx, c.Query("type"), limit)
	default:
		events, err = h.repo.Recent(ctx, limit)
	}
	if err != nil {
		h.logger.ErrorTag("HTTP", "event query failed: %v", err)
		RespondError(c, http.StatusInternalServerError, "failed to query events", nil)
		return
	}
	RespondSuccess(c, http.StatusOK, events, "")
}

func (h *EventsHandler) Stats(c *gin.Context) {
	stats, err := h.repo.GetEventStats(c.Request.Context())
	if err != nil {
		h.logger.ErrorTag("HTTP", "event stats failed: %v", err)
		RespondError(c, http.StatusInternalServerError, "failed to query event stats", nil)
		return
	}
	RespondSuccess(c, http.StatusOK, stats, "")
}
