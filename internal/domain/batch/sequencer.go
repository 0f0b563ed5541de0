// Package batch runs processing tasks one at a time and reports progress
// after each.
package batch

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"imgshrink/internal/domain/eventbus"
	"imgshrink/internal/domain/image"
	"imgshrink/internal/utils"
)

// ErrBatchInProgress is returned when Run is called while another batch is
// still running on the same sequencer.
var ErrBatchInProgress = errors.New("batch already in progress")

// State is the sequencer lifecycle.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	default:
		return "idle"
	}
}

// Progress is emitted once per finished task.
type Progress struct {
	Current int                    `json:"current"`
	Total   int                    `json:"total"`
	Result  image.ProcessingResult `json:"result"`
}

// Processor handles a single task. *image.Processor satisfies it.
type Processor interface {
	Process(ctx context.Context, task image.ProcessingTask) image.ProcessingResult
}

// Sequencer processes a batch strictly in order, one task at a time.
type Sequencer struct {
	processor Processor
	bus       *eventbus.Bus
	logger    *utils.Logger
	state     atomic.Int32
}

// NewSequencer builds a sequencer. bus and logger may be nil.
func NewSequencer(processor Processor, bus *eventbus.Bus, logger *utils.Logger) *Sequencer {
	return &Sequencer{processor: processor, bus: bus, logger: logger}
}

func (s *Sequencer) State() State {
	return State(s.state.Load())
}

// Run processes tasks in order. emit, when non-nil, is called after every
// task with a 1-based count. A failing task never stops the batch; the
// returned slice always has one result per task, in task order.
//
// Cancelling ctx abandons the rest of the batch: Run returns ctx.Err() and
// the partial results gathered so far.
func (s *Sequencer) Run(ctx context.Context, tasks []image.ProcessingTask, emit func(Progress)) ([]image.ProcessingResult, error) {
	prev := s.state.Load()
	if prev == int32(StateRunning) || !s.state.CompareAndSwap(prev, int32(StateRunning)) {
		return nil, ErrBatchInProgress
	}

	batchID := uuid.NewString()
	total := len(tasks)
	s.bus.Publish(eventbus.EventBatchStarted, eventbus.BatchEventData{BatchID: batchID, Total: total})

	results := make([]image.ProcessingResult, 0, total)
	succeeded := 0
	for i, task := range tasks {
		if err := ctx.Err(); err != nil {
			s.state.Store(int32(StateIdle))
			s.bus.Publish(eventbus.EventBatchAbandoned, eventbus.BatchEventData{
				BatchID: batchID,
				Total:   total,
				Reason:  err.Error(),
			})
			return results, err
		}

		start := time.Now()
		result := s.processor.Process(ctx, task)
		results = append(results, result)
		if result.Success {
			succeeded++
		}

		s.bus.Publish(eventbus.EventBatchProgress, eventbus.ProgressEventData{
			BatchID:  batchID,
			Current:  i + 1,
			Total:    total,
			ImageID:  result.ID,
			Success:  result.Success,
			Error:    result.Error,
			Ratio:    result.CompressionRatio,
			Duration: time.Since(start).Milliseconds(),
		})
		if emit != nil {
			emit(Progress{Current: i + 1, Total: total, Result: result})
		}
	}

	s.state.Store(int32(StateCompleted))
	s.bus.Publish(eventbus.EventBatchCompleted, eventbus.BatchEventData{
		BatchID:   batchID,
		Total:     total,
		Succeeded: succeeded,
		Failed:    total - succeeded,
	})
	s.logger.DebugTag("Batch", "batch %s finished: %d/%d succeeded", batchID, succeeded, total)
	return results, nil
}
