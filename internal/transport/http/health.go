package httptransport

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/process"

	"imgshrink/internal/app/services"
	"imgshrink/internal/platform/observability"
)

// SessionCounter reports active websocket sessions per endpoint.
type SessionCounter interface {
	Counts() map[string]int
}

// HealthHandler reports liveness plus process and pipeline figures.
type HealthHandler struct {
	started    time.Time
	version    string
	compressor *services.Compressor
	sessions   SessionCounter
	proc       *process.Process
}

func NewHealthHandler(version string, compressor *services.Compressor, sessions SessionCounter) *HealthHandler {
	h := &HealthHandler{
		started:    time.Now(),
		version:    version,
		compressor: compressor,
		sessions:   sessions,
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		h.proc = proc
	}
	return h
}

func (h *HealthHandler) RegisterRoutes(router *Router) {
	router.API.GET("/health", h.Health)
}

func (h *HealthHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()
	data := gin.H{
		"status":     "ok",
		"version":    h.version,
		"uptime":     time.Since(h.started).Round(time.Second).String(),
		"goroutines": runtime.NumGoroutine(),
		"metrics":    observability.Snapshot(),
	}

	if h.proc != nil {
		if mem, err := h.proc.MemoryInfoWithContext(ctx); err == nil {
			data["memory"] = gin.H{"rss": mem.RSS, "vms": mem.VMS}
		}
		if cpu, err := h.proc.CPUPercentWithContext(ctx); err == nil {
			data["cpu_percent"] = cpu
		}
	}

	if h.compressor != nil {
		if stats, err := h.compressor.StoreStats(ctx); err == nil {
			data["store"] = stats
		} else {
			data["status"] = "degraded"
			data["store_error"] = err.Error()
		}
		data["busy"] = h.compressor.Busy()
	}
	if h.sessions != nil {
		data["sessions"] = h.sessions.Counts()
	}

	RespondSuccess(c, http.StatusOK, data, "")
}
