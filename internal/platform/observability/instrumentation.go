package observability

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var (
	countersMu sync.Mutex
	counters   = map[string]float64{}
)

// Enabled reports whether span logging has been toggled on.
func Enabled() bool {
	_, cfg := currentLogger()
	return cfg.Enabled
}

// StartSpan records a lightweight span lifecycle around an operation. The
// returned func must be called once with the operation's error.
func StartSpan(ctx context.Context, component, operation string) (context.Context, func(error)) {
	logger, cfg := currentLogger()
	if logger == nil || !cfg.Enabled {
		return ctx, func(error) {}
	}

	start := time.Now()
	logger.LogAttrs(ctx, slog.LevelDebug, "obs span start",
		slog.String("component", component),
		slog.String("operation", operation),
	)

	return ctx, func(err error) {
		level := slog.LevelDebug
		if err != nil {
			level = slog.LevelError
		}

		attrs := []slog.Attr{
			slog.String("component", component),
			slog.String("operation", operation),
			slog.Duration("duration", time.Since(start)),
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
		}

		logger.LogAttrs(ctx, level, "obs span end", attrs...)
	}
}

// RecordMetric adds value to the named counter and, when span logging is
// enabled, emits the datapoint through the configured logger.
func RecordMetric(ctx context.Context, name string, value float64, labels map[string]string) {
	countersMu.Lock()
	counters[name] += value
	countersMu.Unlock()

	logger, cfg := currentLogger()
	if logger == nil || !cfg.Enabled {
		return
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := []slog.Attr{
		slog.String("metric", name),
		slog.Float64("value", value),
	}
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, labels[k]))
	}

	logger.LogAttrs(ctx, slog.LevelDebug, "obs metric", attrs...)
}

// Snapshot returns a copy of the accumulated counters.
func Snapshot() map[string]float64 {
	countersMu.Lock()
	defer countersMu.Unlock()
	out := make(map[string]float64, len(counters))
	for k, v := range counters {
		out[k] = v
	}
	return out
}

func resetCounters() {
	countersMu.Lock()
	counters = map[string]float64{}
	countersMu.Unlock()
}
