package eventbus

import (
	"imgshrink/internal/utils"
)

// LoggingHandler writes pipeline events to the application log.
type LoggingHandler struct {
	logger *utils.Logger
}

func NewLoggingHandler(logger *utils.Logger) *LoggingHandler {
	return &LoggingHandler{logger: logger}
}

func (h *LoggingHandler) onBatchStarted(data BatchEventData) {
	h.logger.InfoTag("Batch", "batch %s started with %d tasks", data.BatchID, data.Total)
}

func (h *LoggingHandler) onProgress(data ProgressEventData) {
	if data.Success {
		h.logger.DebugTag("Batch", "batch %s: %d/%d %s done in %dms, ratio %d%%",
			data.BatchID, data.Current, data.Total, data.ImageID, data.Duration, data.Ratio)
		return
	}
	h.logger.WarnTag("Batch", "batch %s: %d/%d %s failed: %s",
		data.BatchID, data.Current, data.Total, data.ImageID, data.Error)
}

func (h *LoggingHandler) onBatchCompleted(data BatchEventData) {
	h.logger.InfoTag("Batch", "batch %s completed: %d ok, %d failed", data.BatchID, data.Succeeded, data.Failed)
}

func (h *LoggingHandler) onBatchAbandoned(data BatchEventData) {
	h.logger.WarnTag("Batch", "batch %s abandoned: %s", data.BatchID, data.Reason)
}

func (h *LoggingHandler) onImageProcessed(data ImageEventData) {
	h.logger.DebugTag("Store", "%s (%s) is %s", data.Name, data.ImageID, data.Status)
}

func (h *LoggingHandler) onSystemError(data SystemEventData) {
	h.logger.ErrorTag("Pipeline", "%s: %s", data.Level, data.Message)
}

// Attach subscribes the handler to every topic it understands.
func (h *LoggingHandler) Attach(bus *Bus) error {
	subs := []struct {
		topic string
		fn    interface{}
	}{
		{EventBatchStarted, h.onBatchStarted},
		{EventBatchProgress, h.onProgress},
		{EventBatchCompleted, h.onBatchCompleted},
		{EventBatchAbandoned, h.onBatchAbandoned},
		{EventImageProcessed, h.onImageProcessed},
		{EventSystemError, h.onSystemError},
	}
	for _, s := range subs {
		if err := bus.Subscribe(s.topic, s.fn); err != nil {
			return err
		}
	}
	return nil
}
