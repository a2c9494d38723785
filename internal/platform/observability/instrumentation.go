package observability

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

var counters = struct {
	sync.Mutex
	values map[string]float64
}{values: make(map[string]float64)}

// Enabled reports whether observability has been toggled on.
func Enabled() bool {
	_, cfg := currentLogger()
	return cfg.Enabled
}

// StartSpan records a lightweight span lifecycle around an operation.
func StartSpan(ctx context.Context, component, operation string) (context.Context, func(error)) {
	logger, cfg := currentLogger()
	start := time.Now()

	if logger != nil && cfg.Enabled {
		logger.LogAttrs(ctx, slog.LevelDebug, "obs span start",
			slog.String("component", component),
			slog.String("operation", operation),
		)
	}

	return ctx, func(err error) {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		add(component+"."+operation+"."+outcome, 1)

		if logger == nil || !cfg.Enabled {
			return
		}
		level := slog.LevelDebug
		attrs := []slog.Attr{
			slog.String("component", component),
			slog.String("operation", operation),
			slog.Duration("duration", time.Since(start)),
		}
		if err != nil {
			level = slog.LevelError
			attrs = append(attrs, slog.Any("error", err))
		}
		logger.LogAttrs(ctx, level, "obs span end", attrs...)
	}
}

// RecordMetric adds value to the named counter and emits a datapoint when
// logging is enabled.
func RecordMetric(ctx context.Context, name string, value float64, labels map[string]string) {
	add(metricKey(name, labels), value)

	logger, cfg := currentLogger()
	if logger == nil || !cfg.Enabled {
		return
	}
	attrs := []slog.Attr{
		slog.String("metric", name),
		slog.Float64("value", value),
	}
	for k, v := range labels {
		attrs = append(attrs, slog.String(k, v))
	}
	logger.LogAttrs(ctx, slog.LevelDebug, "obs metric", attrs...)
}

// Snapshot returns a copy of all aggregated counters.
func Snapshot() map[string]float64 {
	counters.Lock()
	defer counters.Unlock()
	out := make(map[string]float64, len(counters.values))
	for k, v := range counters.values {
		out[k] = v
	}
	return out
}

// Reset clears all counters.
func Reset() {
	counters.Lock()
	counters.values = make(map[string]float64)
	counters.Unlock()
}

func add(key string, value float64) {
	counters.Lock()
	counters.values[key] += value
	counters.Unlock()
}

func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+labels[k])
	}
	return name + "{" + strings.Join(parts, ",") + "}"
}
