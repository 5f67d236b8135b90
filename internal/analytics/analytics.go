// Package analytics publishes coarse usage events ("Index Created",
// "Documents Added"). Publication is fire-and-forget: callers never block on
// it and failures are swallowed, so the request path cannot be hurt by a
// misbehaving sink.
package analytics

import (
	"log/slog"
)

// Publisher receives usage events.
type Publisher interface {
	// Publish records one event. Implementations must not block and must
	// not panic; properties may be nil.
	Publish(event string, properties map[string]any)
}

// Noop discards every event. Used when analytics is disabled.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(string, map[string]any) {}

// Log writes events to the structured log at debug level.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a publisher backed by the given logger.
// A nil logger falls back to slog.Default().
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// Publish implements Publisher.
func (l *Log) Publish(event string, properties map[string]any) {
	attrs := make([]any, 0, 2*len(properties)+2)
	attrs = append(attrs, slog.String("event", event))
	for k, v := range properties {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.Debug("analytics event", attrs...)
}

// Compile-time interface checks.
var (
	_ Publisher = Noop{}
	_ Publisher = (*Log)(nil)
)
