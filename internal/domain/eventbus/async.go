package eventbus

import (
	"sync"
	"sync/atomic"

	evbus "github.com/asaskevich/EventBus"
)

const asyncQueueSize = 1000

// AsyncEventBus fans published events out to a fixed worker pool.
type AsyncEventBus struct {
	bus       evbus.Bus
	workerNum int
	workChan  chan asyncEvent
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	pending   sync.WaitGroup
	dropped   atomic.Int64
}

type asyncEvent struct {
	topic string
	args  []interface{}
}

func newAsyncEventBus(bus evbus.Bus, workerNum int) *AsyncEventBus {
	if workerNum <= 0 {
		workerNum = 4
	}
	return &AsyncEventBus{
		bus:       bus,
		workerNum: workerNum,
		workChan:  make(chan asyncEvent, asyncQueueSize),
		stopChan:  make(chan struct{}),
	}
}

func (aeb *AsyncEventBus) Start() {
	for i := 0; i < aeb.workerNum; i++ {
		aeb.wg.Add(1)
		go aeb.worker()
	}
}

// Stop waits for queued events and then stops the workers.
func (aeb *AsyncEventBus) Stop() {
	aeb.stopOnce.Do(func() {
		aeb.pending.Wait()
		close(aeb.stopChan)
		aeb.wg.Wait()
	})
}

func (aeb *AsyncEventBus) worker() {
	defer aeb.wg.Done()

	for {
		select {
		case <-aeb.stopChan:
			return
		case event := <-aeb.workChan:
			aeb.deliver(event)
		}
	}
}

func (aeb *AsyncEventBus) deliver(event asyncEvent) {
	defer aeb.pending.Done()
	defer func() {
		// A panicking subscriber must not take the worker down.
		_ = recover()
	}()
	aeb.bus.Publish(event.topic, event.args...)
}

func (aeb *AsyncEventBus) PublishAsync(topic string, args ...interface{}) {
	select {
	case <-aeb.stopChan:
		aeb.dropped.Add(1)
		return
	default:
	}

	aeb.pending.Add(1)
	select {
	case aeb.workChan <- asyncEvent{topic: topic, args: args}:
	default:
		aeb.pending.Done()
		aeb.dropped.Add(1)
	}
}

func (aeb *AsyncEventBus) Dropped() int64 {
	return aeb.dropped.Load()
}

func (aeb *AsyncEventBus) WaitAsync() {
	aeb.pending.Wait()
}
