package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fieldline-io/fieldline-core/internal/bus"
	"github.com/fieldline-io/fieldline-core/internal/rule"
)

// ErrBadWriteTarget marks a device write reference whose target is not
// a "deviceID/pointID" pair.
var ErrBadWriteTarget = errors.New("sink: bad device write target")

// PointWriter writes a value to a device point. Satisfied by the
// device manager.
type PointWriter interface {
	WritePoint(ctx context.Context, deviceID, pointID string, value interface{}, hops int) error
}

// DeviceWriteSink feeds rule output back into a device point. The
// event's hop count is incremented on the way through, so the resulting
// bus event carries one more hop and the engine's hop limit can break
// rule cycles.
type DeviceWriteSink struct {
	writer PointWriter
}

// NewDeviceWriteSink wraps the device manager.
func NewDeviceWriteSink(writer PointWriter) *DeviceWriteSink {
	return &DeviceWriteSink{writer: writer}
}

func (s *DeviceWriteSink) Name() string { return rule.SinkDeviceWrite }

// Deliver writes the event value to the target point.
func (s *DeviceWriteSink) Deliver(ctx context.Context, ev bus.Event, target string) error {
	deviceID, pointID, ok := strings.Cut(target, "/")
	if !ok || deviceID == "" || pointID == "" {
		return fmt.Errorf("%w: %q", ErrBadWriteTarget, target)
	}
	return s.writer.WritePoint(ctx, deviceID, pointID, ev.Value, ev.Hops+1)
}
