package infrastructure

import (
	"context"
	"time"

	"imgshrink/internal/domain/eventbus"
	"imgshrink/internal/domain/eventbus/repository"
	"imgshrink/internal/utils"
)

// Recorder journals batch lifecycle events published on a Bus.
type Recorder struct {
	repo    repository.EventRepository
	logger  *utils.Logger
	timeout time.Duration
}

func NewRecorder(repo repository.EventRepository, logger *utils.Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger, timeout: 2 * time.Second}
}

// Attach subscribes the recorder to the batch topics.
func (r *Recorder) Attach(bus *eventbus.Bus) error {
	subs := []struct {
		topic string
		fn    interface{}
	}{
		{eventbus.EventBatchStarted, r.onBatch(eventbus.EventBatchStarted)},
		{eventbus.EventBatchCompleted, r.onBatch(eventbus.EventBatchCompleted)},
		{eventbus.EventBatchAbandoned, r.onBatch(eventbus.EventBatchAbandoned)},
		{eventbus.EventBatchProgress, r.onProgress},
		{eventbus.EventInboxStored, r.onInbox},
	}
	for _, s := range subs {
		if err := bus.Subscribe(s.topic, s.fn); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recorder) onBatch(topic string) func(eventbus.BatchEventData) {
	return func(data eventbus.BatchEventData) {
		r.store(repository.Event{EventType: topic, BatchID: data.BatchID, Data: data})
	}
}

func (r *Recorder) onProgress(data eventbus.ProgressEventData) {
	r.store(repository.Event{EventType: eventbus.EventBatchProgress, BatchID: data.BatchID, Data: data})
}

func (r *Recorder) onInbox(data eventbus.InboxEventData) {
	r.store(repository.Event{EventType: eventbus.EventInboxStored, Data: data})
}

func (r *Recorder) store(event repository.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.repo.Store(ctx, event); err != nil {
		r.logger.WarnTag("Journal", "failed to record %s: %v", event.EventType, err)
	}
}
