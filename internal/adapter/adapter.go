package adapter

import (
	"context"
	"time"

	"github.com/fieldline-io/fieldline-core/internal/point"
)

// Reading is one decoded sample returned by an adapter.
type Reading struct {
	PointID   string
	Value     interface{}
	Quality   point.Quality
	Timestamp time.Time
}

// Adapter is the contract every protocol implementation satisfies.
//
// Implementations own their transport state. Connect and Disconnect are
// called by the device runner, never concurrently with each other; Read
// and Write may be called concurrently and must serialize internally if
// the transport requires it.
type Adapter interface {
	// Connect establishes the protocol session.
	Connect(ctx context.Context) error

	// Disconnect tears the session down. Safe to call when not connected.
	Disconnect(ctx context.Context) error

	// Read samples the given points in one pass. A partial result with
	// per-point bad quality is preferred over an error; an error means
	// the whole pass failed.
	Read(ctx context.Context, points []*point.Point) ([]Reading, error)

	// Write sends a value to a single writable point.
	Write(ctx context.Context, pt *point.Point, value interface{}) error
}

// SubscribeFunc receives pushed readings from a subscription transport.
type SubscribeFunc func(Reading)

// Subscriber is implemented by adapters whose protocol supports
// server push (CoAP observe, OPC-UA monitored items). The device
// runner prefers Subscribe over polling when available.
type Subscriber interface {
	// Subscribe registers push delivery for the given points and
	// blocks until ctx is cancelled (returns nil) or the connection
	// is lost (returns a connection-lost error).
	Subscribe(ctx context.Context, points []*point.Point, fn SubscribeFunc) error
}
