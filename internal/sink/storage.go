package sink

import (
	"context"
	"errors"

	"github.com/fieldline-io/fieldline-core/internal/bus"
	"github.com/fieldline-io/fieldline-core/internal/infrastructure/influxdb"
	"github.com/fieldline-io/fieldline-core/internal/rule"
)

// ErrStorageUnavailable marks a write attempted while the InfluxDB
// client is disconnected. Deliveries fail fast so the dispatcher's
// retry backoff covers short outages.
var ErrStorageUnavailable = errors.New("sink: storage unavailable")

// StorageSink persists events to InfluxDB.
type StorageSink struct {
	client *influxdb.Client
}

// NewStorageSink wraps a connected InfluxDB client.
func NewStorageSink(client *influxdb.Client) *StorageSink {
	return &StorageSink{client: client}
}

func (s *StorageSink) Name() string { return rule.SinkStorage }

// Deliver hands the event to the client's batching write API. The
// actual network write happens asynchronously on flush.
func (s *StorageSink) Deliver(_ context.Context, ev bus.Event, _ string) error {
	if !s.client.IsConnected() {
		return ErrStorageUnavailable
	}
	s.client.WritePointEvent(ev.DeviceID, ev.PointID, ev.Value, string(ev.Quality), ev.Timestamp)
	return nil
}
