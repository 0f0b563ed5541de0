package eventbus

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgshrink/internal/utils"
)

func TestBus_PublishSync(t *testing.T) {
	bus := New(2)
	defer bus.Close()

	var got []ProgressEventData
	require.NoError(t, bus.Subscribe(EventBatchProgress, func(d ProgressEventData) {
		got = append(got, d)
	}))
	assert.True(t, bus.HasCallback(EventBatchProgress))

	bus.Publish(EventBatchProgress, ProgressEventData{Current: 1, Total: 2})
	bus.Publish(EventBatchProgress, ProgressEventData{Current: 2, Total: 2})

	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Current)
	assert.Equal(t, 2, got[1].Current)
}

func TestBus_PublishAsync(t *testing.T) {
	bus := New(3)
	defer bus.Close()

	var mu sync.Mutex
	seen := map[string]bool{}
	require.NoError(t, bus.Subscribe(EventBatchCompleted, func(d BatchEventData) {
		mu.Lock()
		seen[d.BatchID] = true
		mu.Unlock()
	}))

	for _, id := range []string{"a", "b", "c"} {
		bus.PublishAsync(EventBatchCompleted, BatchEventData{BatchID: id})
	}
	bus.WaitAsync()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 3)
	assert.Zero(t, bus.Dropped())
}

func TestBus_PanickingSubscriberDoesNotStopWorkers(t *testing.T) {
	bus := New(1)
	defer bus.Close()

	calls := 0
	require.NoError(t, bus.Subscribe(EventSystemError, func(d SystemEventData) {
		calls++
		if d.Level == "boom" {
			panic("subscriber failure")
		}
	}))

	bus.PublishAsync(EventSystemError, SystemEventData{Level: "boom"})
	bus.PublishAsync(EventSystemError, SystemEventData{Level: "error"})
	bus.WaitAsync()
	assert.Equal(t, 2, calls)
}

func TestBus_PublishAfterCloseIsDropped(t *testing.T) {
	bus := New(1)
	bus.Close()
	bus.PublishAsync(EventBatchStarted, BatchEventData{})
	assert.Equal(t, int64(1), bus.Dropped())
	bus.Close()
}

func TestLoggingHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := utils.NewWriterLogger(&buf, "debug")
	bus := New(1)
	defer bus.Close()

	require.NoError(t, NewLoggingHandler(logger).Attach(bus))
	bus.Publish(EventBatchStarted, BatchEventData{BatchID: "b1", Total: 3})
	bus.Publish(EventBatchProgress, ProgressEventData{BatchID: "b1", Current: 1, Total: 3, ImageID: "x", Error: "cannot decode image"})
	bus.Publish(EventBatchCompleted, BatchEventData{BatchID: "b1", Succeeded: 2, Failed: 1})

	out := buf.String()
	assert.Contains(t, out, "batch b1 started with 3 tasks")
	assert.Contains(t, out, "x failed: cannot decode image")
	assert.Contains(t, out, "2 ok, 1 failed")
}
