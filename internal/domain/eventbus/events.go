package eventbus

// Pipeline topics.
const (
	EventBatchStarted   = "batch:started"
	EventBatchProgress  = "batch:progress"
	EventBatchCompleted = "batch:completed"
	EventBatchAbandoned = "batch:abandoned"

	EventImageProcessed = "image:processed"

	EventWorkerStarted    = "worker:started"
	EventWorkerTerminated = "worker:terminated"

	EventInboxQueued = "inbox:queued"
	EventInboxStored = "inbox:stored"

	EventSystemError = "system:error"
)

// BatchEventData describes a batch lifecycle transition.
type BatchEventData struct {
	BatchID   string `json:"batch_id"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded,omitempty"`
	Failed    int    `json:"failed,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// ProgressEventData is published once per completed task.
type ProgressEventData struct {
	BatchID  string `json:"batch_id"`
	Current  int    `json:"current"`
	Total    int    `json:"total"`
	ImageID  string `json:"image_id"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Ratio    int    `json:"ratio"`
	Duration int64  `json:"duration_ms"`
}

// ImageEventData is published by the shell when a stored item reaches a
// final state.
type ImageEventData struct {
	ImageID string `json:"image_id"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	Ratio   int    `json:"ratio"`
	Error   string `json:"error,omitempty"`
}

// WorkerEventData describes a background context lifecycle change.
type WorkerEventData struct {
	WorkerID string `json:"worker_id"`
	Pending  int    `json:"pending,omitempty"`
}

// InboxEventData is published by the folder watcher.
type InboxEventData struct {
	Path    string `json:"path"`
	ImageID string `json:"image_id,omitempty"`
}

type SystemEventData struct {
	Level   string      `json:"level"` // error, warn, info
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}
