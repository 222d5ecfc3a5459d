package device

import (
	"encoding/json"
	"time"

	"github.com/fieldline-io/fieldline-core/internal/point"
)

// Protocol identifies the adapter a device speaks.
type Protocol string

const (
	ProtocolModbus Protocol = "modbus"
	ProtocolCoAP   Protocol = "coap"
	ProtocolOPCUA  Protocol = "opcua"
)

// Valid reports whether p is a known protocol.
func (p Protocol) Valid() bool {
	return p == ProtocolModbus || p == ProtocolCoAP || p == ProtocolOPCUA
}

// State is a device's lifecycle state.
type State string

const (
	// StateCreated is the initial state before the runner starts, and
	// the resting state of disabled devices.
	StateCreated State = "created"

	// StateConnecting means a session attempt is in progress.
	StateConnecting State = "connecting"

	// StateConnected means the session is up and points are live.
	StateConnected State = "connected"

	// StateDisconnected means the device was stopped deliberately;
	// no reconnect is scheduled until it is started again.
	StateDisconnected State = "disconnected"

	// StateError means the session failed. For retriable failures a
	// backoff timer schedules the next Connecting attempt; unauthorized
	// failures park here until a reload supplies new credentials.
	StateError State = "error"

	// StateRemoved marks a deleted device. No transitions leave it.
	StateRemoved State = "removed"
)

// transitions is the lifecycle FSM.
var transitions = map[State][]State{
	StateCreated:      {StateConnecting, StateRemoved},
	StateConnecting:   {StateConnected, StateError, StateDisconnected, StateRemoved},
	StateConnected:    {StateError, StateDisconnected, StateRemoved},
	StateError:        {StateConnecting, StateCreated, StateDisconnected, StateRemoved},
	StateDisconnected: {StateConnecting, StateCreated, StateRemoved},
	StateRemoved:      nil,
}

// CanTransition reports whether the FSM allows moving from to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Device is a configured field device and its point set.
//
// Config is an opaque JSON blob interpreted by the protocol adapter
// (modbus.Config, coap.Config, opcua.Config). Lifecycle state is not
// stored here; it lives with the runner and resets on restart.
type Device struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Slug     string          `json:"slug"`
	Protocol Protocol        `json:"protocol"`
	Config   json.RawMessage `json:"config"`
	Enabled  bool            `json:"enabled"`

	// PollInterval overrides the gateway default poll interval when
	// positive. Milliseconds.
	PollInterval int `json:"poll_interval,omitempty"`

	Points []*point.Point `json:"points"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy creates a complete independent copy of the Device.
// All reference fields are cloned so modifications to the copy do not
// affect the original. This is essential for cache isolation.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d

	if d.Config != nil {
		cpy.Config = make(json.RawMessage, len(d.Config))
		copy(cpy.Config, d.Config)
	}
	if d.Points != nil {
		cpy.Points = make([]*point.Point, len(d.Points))
		for i, pt := range d.Points {
			cpy.Points[i] = pt.DeepCopy()
		}
	}

	return &cpy
}

// Point returns the point with the given ID, or nil.
func (d *Device) Point(pointID string) *point.Point {
	for _, pt := range d.Points {
		if pt.ID == pointID {
			return pt
		}
	}
	return nil
}

// ReadablePoints returns the points that can be polled or subscribed.
func (d *Device) ReadablePoints() []*point.Point {
	out := make([]*point.Point, 0, len(d.Points))
	for _, pt := range d.Points {
		if pt.Access.Readable() {
			out = append(out, pt)
		}
	}
	return out
}

// Status is a snapshot of a device's runtime condition.
type Status struct {
	DeviceID     string    `json:"device_id"`
	State        State     `json:"state"`
	StateChanged time.Time `json:"state_changed"`

	// LastError is the most recent connection or poll failure, empty
	// when healthy.
	LastError string `json:"last_error,omitempty"`
}
