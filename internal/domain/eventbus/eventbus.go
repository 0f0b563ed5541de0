package eventbus

import (
	evbus "github.com/asaskevich/EventBus"
)

// Bus pairs a synchronous event bus with a bounded asynchronous dispatcher.
// Each pipeline owns its own Bus; there is no process-wide instance.
type Bus struct {
	sync  evbus.Bus
	async *AsyncEventBus
}

// New creates a Bus whose async side runs workers goroutines.
func New(workers int) *Bus {
	b := &Bus{sync: evbus.New()}
	b.async = newAsyncEventBus(b.sync, workers)
	b.async.Start()
	return b
}

// Publish delivers args to every subscriber of topic before returning.
func (b *Bus) Publish(topic string, args ...interface{}) {
	if b == nil {
		return
	}
	b.sync.Publish(topic, args...)
}

// PublishAsync queues the event for delivery by the worker pool. Events are
// dropped when the queue is full.
func (b *Bus) PublishAsync(topic string, args ...interface{}) {
	if b == nil {
		return
	}
	b.async.PublishAsync(topic, args...)
}

// Subscribe registers fn, which must be a func, for topic.
func (b *Bus) Subscribe(topic string, fn interface{}) error {
	return b.sync.Subscribe(topic, fn)
}

func (b *Bus) Unsubscribe(topic string, fn interface{}) error {
	return b.sync.Unsubscribe(topic, fn)
}

func (b *Bus) HasCallback(topic string) bool {
	return b.sync.HasCallback(topic)
}

// Dropped reports how many async events were discarded.
func (b *Bus) Dropped() int64 {
	return b.async.Dropped()
}

// WaitAsync blocks until every queued async event has been delivered.
func (b *Bus) WaitAsync() {
	b.async.WaitAsync()
}

// Close drains pending async events and stops the worker pool.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.async.Stop()
}
