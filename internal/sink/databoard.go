package sink

import (
	"context"

	"github.com/fieldline-io/fieldline-core/internal/bus"
	"github.com/fieldline-io/fieldline-core/internal/rule"
)

// Broadcaster pushes an event to live dashboard subscribers. Satisfied
// by the databoard hub.
type Broadcaster interface {
	Broadcast(ev bus.Event)
}

// DataboardSink feeds events to the live WebSocket dashboard.
type DataboardSink struct {
	hub Broadcaster
}

// NewDataboardSink wraps a running hub.
func NewDataboardSink(hub Broadcaster) *DataboardSink {
	return &DataboardSink{hub: hub}
}

func (s *DataboardSink) Name() string { return rule.SinkDataboard }

// Deliver broadcasts to connected dashboard clients. Broadcast never
// blocks on slow clients, so delivery cannot fail.
func (s *DataboardSink) Deliver(_ context.Context, ev bus.Event, _ string) error {
	s.hub.Broadcast(ev)
	return nil
}
