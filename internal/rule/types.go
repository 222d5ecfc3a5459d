package rule

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Node types.
const (
	NodeFilter    = "filter"
	NodeTransform = "transform"
	NodeAggregate = "aggregate"
	NodeScript    = "script"
)

// Sink types.
const (
	SinkStorage     = "storage"
	SinkMQTT        = "mqtt"
	SinkHTTP        = "http"
	SinkDataboard   = "databoard"
	SinkDeviceWrite = "device_write"
)

// NodeSpec is one stage in a rule's processing chain. Params is decoded
// per node type at compile time.
type NodeSpec struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// SinkRef names a delivery target for events that clear the chain.
// Target is sink-specific: a "deviceID/pointID" pair for device_write,
// an override topic for mqtt, empty otherwise.
type SinkRef struct {
	Type   string `json:"type"`
	Target string `json:"target,omitempty"`
}

// Rule is a stored event-processing rule.
//
// Triggers are bus patterns ("deviceID/pointID", "deviceID/*", "*").
// Version increments on every update; a compiled chain carries the
// version it was built from, so in-flight evaluations of a replaced
// version can be recognized and their half-filled windows discarded.
type Rule struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Enabled  bool       `json:"enabled"`
	Triggers []string   `json:"triggers"`
	Nodes    []NodeSpec `json:"nodes"`
	Sinks    []SinkRef  `json:"sinks"`
	Version  int        `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy returns an independent copy of the rule.
func (r *Rule) DeepCopy() *Rule {
	if r == nil {
		return nil
	}
	cpy := *r
	if r.Triggers != nil {
		cpy.Triggers = append([]string(nil), r.Triggers...)
	}
	if r.Nodes != nil {
		cpy.Nodes = make([]NodeSpec, len(r.Nodes))
		for i, n := range r.Nodes {
			cpy.Nodes[i] = NodeSpec{Type: n.Type}
			if n.Params != nil {
				cpy.Nodes[i].Params = append(json.RawMessage(nil), n.Params...)
			}
		}
	}
	if r.Sinks != nil {
		cpy.Sinks = append([]SinkRef(nil), r.Sinks...)
	}
	return &cpy
}

// Validate checks the parts of a rule that do not need compilation.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidRule)
	}
	if len(r.Triggers) == 0 {
		return fmt.Errorf("%w: no triggers", ErrInvalidRule)
	}
	for _, trig := range r.Triggers {
		if trig == "" {
			return fmt.Errorf("%w: empty trigger", ErrInvalidRule)
		}
	}
	if len(r.Sinks) == 0 {
		return fmt.Errorf("%w: no sinks", ErrInvalidRule)
	}
	for _, s := range r.Sinks {
		switch s.Type {
		case SinkStorage, SinkMQTT, SinkHTTP, SinkDataboard:
		case SinkDeviceWrite:
			if !strings.Contains(s.Target, "/") {
				return fmt.Errorf("%w: device_write target must be deviceID/pointID", ErrInvalidRule)
			}
		default:
			return fmt.Errorf("%w: unknown sink type %q", ErrInvalidRule, s.Type)
		}
	}
	return nil
}

// matchesTrigger reports whether a trigger selector matches an event's
// device and point.
func matchesTrigger(selector, deviceID, pointID string) bool {
	if selector == "*" {
		return true
	}
	dev, pt, ok := strings.Cut(selector, "/")
	if !ok {
		return dev == deviceID
	}
	if dev != deviceID {
		return false
	}
	return pt == "*" || pt == pointID
}
