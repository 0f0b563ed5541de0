// Package worker hosts the background processing context: a single
// goroutine that consumes pipeline messages from a FIFO mailbox and replies
// through a second one.
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"imgshrink/internal/contracts/pipeline"
	"imgshrink/internal/domain/batch"
	"imgshrink/internal/domain/eventbus"
	"imgshrink/internal/domain/image"
	"imgshrink/internal/util/work"
	"imgshrink/internal/utils"
)

// ErrTerminated is returned by Post and Receive once the context is gone.
var ErrTerminated = errors.New("worker terminated")

// Handle is what the shell holds to talk to a background context.
type Handle interface {
	ID() string
	Post(msg pipeline.Message) error
	Receive(ctx context.Context) (pipeline.Message, error)
	Pending() int
	Terminate()
}

// Options configures a Worker.
type Options struct {
	Processor batch.Processor
	Bus       *eventbus.Bus
	Logger    *utils.Logger
}

// Worker is one background processing context.
type Worker struct {
	id        string
	inbox     *work.Mailbox[pipeline.Message]
	outbox    *work.Mailbox[pipeline.Message]
	processor batch.Processor
	sequencer *batch.Sequencer
	bus       *eventbus.Bus
	logger    *utils.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Start launches a worker goroutine. A nil processor gets the default
// image processor with previews enabled.
func Start(opts Options) *Worker {
	if opts.Processor == nil {
		opts.Processor = image.NewProcessor(image.ProcessorOptions{
			Preview: image.DefaultPreviewOptions(),
			Logger:  opts.Logger,
		})
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		id:        uuid.NewString(),
		inbox:     work.NewMailbox[pipeline.Message](),
		outbox:    work.NewMailbox[pipeline.Message](),
		processor: opts.Processor,
		sequencer: batch.NewSequencer(opts.Processor, opts.Bus, opts.Logger),
		bus:       opts.Bus,
		logger:    opts.Logger,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go w.run()
	w.bus.Publish(eventbus.EventWorkerStarted, eventbus.WorkerEventData{WorkerID: w.id})
	return w
}

// Factory returns a constructor producing workers that share opts.
func Factory(opts Options) func() Handle {
	return func() Handle { return Start(opts) }
}

func (w *Worker) ID() string { return w.id }

// Post enqueues a copy of msg; the caller keeps ownership of its own bytes.
func (w *Worker) Post(msg pipeline.Message) error {
	if err := w.inbox.Push(msg.Clone()); err != nil {
		return ErrTerminated
	}
	return nil
}

// Receive returns the next outbound message in emission order.
func (w *Worker) Receive(ctx context.Context) (pipeline.Message, error) {
	msg, err := w.outbox.Pop(ctx)
	if errors.Is(err, work.ErrMailboxClosed) {
		return pipeline.Message{}, ErrTerminated
	}
	return msg, err
}

// Pending reports inbound messages not yet picked up.
func (w *Worker) Pending() int { return w.inbox.Len() }

// Done is closed when the worker goroutine has exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Terminate discards the context: queued work is dropped, the task in
// flight is cancelled and no further messages are delivered.
func (w *Worker) Terminate() {
	w.closeOnce.Do(func() {
		dropped := w.inbox.Discard()
		w.cancel()
		w.outbox.Discard()
		w.bus.Publish(eventbus.EventWorkerTerminated, eventbus.WorkerEventData{WorkerID: w.id, Pending: dropped})
		w.logger.DebugTag("Pipeline", "worker %s terminated, %d pending messages dropped", w.id, dropped)
	})
}

func (w *Worker) run() {
	defer close(w.done)
	for {
		msg, err := w.inbox.Pop(w.ctx)
		if err != nil {
			return
		}
		w.handle(msg)
	}
}

func (w *Worker) handle(msg pipeline.Message) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.ErrorTag("Pipeline", "worker %s recovered from panic handling %s: %v", w.id, msg.Type, r)
			w.emit(pipeline.Error("internal error handling %s: %v", msg.Type, r))
		}
	}()

	if rejected, ok := msg.Data.(pipeline.Rejected); ok {
		w.emit(pipeline.Error("%s", rejected.Reason))
		return
	}

	switch msg.Type {
	case pipeline.TypeProcessImage:
		task, ok := msg.Data.(image.ProcessingTask)
		if !ok {
			w.emit(pipeline.Error("invalid message payload: %s expects a task", msg.Type))
			return
		}
		w.emit(pipeline.ImageProcessed(w.processor.Process(w.ctx, task)))

	case pipeline.TypeProcessBatch:
		tasks, ok := msg.Data.([]image.ProcessingTask)
		if !ok {
			w.emit(pipeline.Error("invalid message payload: %s expects a task list", msg.Type))
			return
		}
		results, err := w.sequencer.Run(w.ctx, tasks, func(p batch.Progress) {
			w.emit(pipeline.BatchProgress(p))
		})
		if err != nil {
			// Cancelled: the context is being discarded, nothing more is sent.
			return
		}
		w.emit(pipeline.BatchCompleted(results))

	default:
		w.emit(pipeline.UnknownType(msg.Type))
	}
}

func (w *Worker) emit(msg pipeline.Message) {
	if err := w.outbox.Push(msg); err != nil {
		w.logger.DebugTag("Pipeline", "worker %s dropped %s after termination", w.id, msg.Type)
	}
}
