package bus

import (
	"time"

	"github.com/fieldline-io/fieldline-core/internal/point"
)

// Event is one point sample flowing through the gateway.
//
// Events are immutable once published. Seq increases monotonically per
// device, letting consumers detect gaps after overflow drops. Hops counts
// how many rule-engine write-backs contributed to this event; the rule
// engine refuses to dispatch events at or above the configured hop limit.
type Event struct {
	DeviceID  string        `json:"device_id"`
	PointID   string        `json:"point_id"`
	Value     interface{}   `json:"value"`
	Quality   point.Quality `json:"quality"`
	Timestamp time.Time     `json:"timestamp"`
	Seq       uint64        `json:"seq"`
	Hops      int           `json:"hops"`
}

// Topic returns the routing key "deviceID/pointID" used for pattern
// matching against subscriptions.
func (e Event) Topic() string {
	return e.DeviceID + "/" + e.PointID
}
