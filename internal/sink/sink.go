package sink

import (
	"context"

	"github.com/fieldline-io/fieldline-core/internal/bus"
)

// Sink delivers one event to a downstream target. Implementations must
// be safe for use from a single dispatcher worker; the dispatcher never
// calls Deliver concurrently for the same sink.
//
// Target is the sink-specific routing hint from the rule's sink
// reference: an override topic for MQTT, a "deviceID/pointID" pair for
// device write-back, empty otherwise.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev bus.Event, target string) error
}

// Logger is the minimal logging interface the sink layer needs.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}
