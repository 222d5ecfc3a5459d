package rule

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fieldline-io/fieldline-core/internal/bus"
)

// node is one compiled chain stage. process returns the event to hand
// downstream, or nil to absorb it (filter veto, window still filling).
type node interface {
	process(ev *bus.Event) *bus.Event
}

// compileNode builds a node from its spec. Aggregate nodes keep the
// chain and their own index so asynchronous time-window flushes can
// re-enter the chain after themselves.
func compileNode(spec NodeSpec, index int, c *chain, logger Logger, scriptTimeout time.Duration) (node, error) {
	switch spec.Type {
	case NodeFilter:
		return compileFilter(spec.Params)
	case NodeTransform:
		return compileTransform(spec.Params)
	case NodeAggregate:
		return compileAggregate(spec.Params, index, c, logger)
	case NodeScript:
		return compileScript(spec.Params, logger, scriptTimeout)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidNode, spec.Type)
	}
}

// ---- filter ----

type filterParams struct {
	Operator string      `json:"operator"`
	Value    interface{} `json:"value"`
}

type filterNode struct {
	operator string
	value    interface{}
}

func compileFilter(params json.RawMessage) (*filterNode, error) {
	var p filterParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: filter params: %w", ErrInvalidNode, err)
	}
	switch p.Operator {
	case "gt", "gte", "lt", "lte", "eq", "ne":
	default:
		return nil, fmt.Errorf("%w: filter operator %q", ErrInvalidNode, p.Operator)
	}
	return &filterNode{operator: p.Operator, value: p.Value}, nil
}

func (n *filterNode) process(ev *bus.Event) *bus.Event {
	if n.pass(ev.Value) {
		return ev
	}
	return nil
}

func (n *filterNode) pass(value interface{}) bool {
	switch n.operator {
	case "eq":
		return looseEqual(value, n.value)
	case "ne":
		return !looseEqual(value, n.value)
	}

	// Ordering operators need numbers on both sides.
	left, lok := asFloat(value)
	right, rok := asFloat(n.value)
	if !lok || !rok {
		return false
	}
	switch n.operator {
	case "gt":
		return left > right
	case "gte":
		return left >= right
	case "lt":
		return left < right
	case "lte":
		return left <= right
	}
	return false
}

// looseEqual compares with numeric coercion so 21 == 21.0.
func looseEqual(a, b interface{}) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}

// ---- transform ----

type transformParams struct {
	Scale  *float64 `json:"scale,omitempty"`
	Offset float64  `json:"offset,omitempty"`
}

type transformNode struct {
	scale  float64
	offset float64
}

func compileTransform(params json.RawMessage) (*transformNode, error) {
	var p transformParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: transform params: %w", ErrInvalidNode, err)
	}
	scale := 1.0
	if p.Scale != nil {
		scale = *p.Scale
	}
	return &transformNode{scale: scale, offset: p.Offset}, nil
}

func (n *transformNode) process(ev *bus.Event) *bus.Event {
	v, ok := asFloat(ev.Value)
	if !ok {
		// Non-numeric values pass through untouched.
		return ev
	}
	ev.Value = v*n.scale + n.offset
	return ev
}

// ---- aggregate ----

type aggregateParams struct {
	Window     string `json:"window"` // "count" or "time"
	Size       int    `json:"size,omitempty"`
	DurationMS int    `json:"duration_ms,omitempty"`
	Reducer    string `json:"reducer"`
}

// aggregateNode buffers numeric samples into count or time windows and
// emits one reduced event per window. Time windows flush on a timer by
// re-entering the chain after this node; a retired chain discards its
// partial window instead of flushing.
type aggregateNode struct {
	window   string
	size     int
	duration time.Duration
	reducer  string

	index  int
	chain  *chain
	logger Logger

	mu      sync.Mutex
	values  []float64
	lastEv  bus.Event
	timer   *time.Timer
	started bool
}

func compileAggregate(params json.RawMessage, index int, c *chain, logger Logger) (*aggregateNode, error) {
	var p aggregateParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: aggregate params: %w", ErrInvalidNode, err)
	}
	switch p.Window {
	case "count":
		if p.Size <= 0 {
			return nil, fmt.Errorf("%w: count window needs positive size", ErrInvalidNode)
		}
	case "time":
		if p.DurationMS <= 0 {
			return nil, fmt.Errorf("%w: time window needs positive duration_ms", ErrInvalidNode)
		}
	default:
		return nil, fmt.Errorf("%w: aggregate window %q", ErrInvalidNode, p.Window)
	}
	switch p.Reducer {
	case "avg", "sum", "min", "max", "count", "last":
	default:
		return nil, fmt.Errorf("%w: aggregate reducer %q", ErrInvalidNode, p.Reducer)
	}
	return &aggregateNode{
		window:   p.Window,
		size:     p.Size,
		duration: time.Duration(p.DurationMS) * time.Millisecond,
		reducer:  p.Reducer,
		index:    index,
		chain:    c,
		logger:   logger,
	}, nil
}

func (n *aggregateNode) process(ev *bus.Event) *bus.Event {
	v, ok := asFloat(ev.Value)
	if !ok {
		// Non-numeric samples cannot aggregate; drop them here.
		return nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.values = append(n.values, v)
	n.lastEv = *ev

	if n.window == "count" {
		if len(n.values) < n.size {
			return nil
		}
		out := n.flushLocked()
		return &out
	}

	// Time window: arm the timer on the first sample.
	if !n.started {
		n.started = true
		n.timer = time.AfterFunc(n.duration, n.onTimer)
	}
	return nil
}

// onTimer flushes a time window asynchronously.
func (n *aggregateNode) onTimer() {
	n.mu.Lock()
	if len(n.values) == 0 {
		n.started = false
		n.mu.Unlock()
		return
	}
	if n.chain.isRetired() {
		// A replaced rule version never flushes its partial window.
		n.values = nil
		n.started = false
		n.mu.Unlock()
		return
	}
	out := n.flushLocked()
	n.mu.Unlock()

	n.chain.run(n.index+1, out)
}

// flushLocked reduces the buffered window into one event and resets.
func (n *aggregateNode) flushLocked() bus.Event {
	out := n.lastEv
	out.Value = reduce(n.reducer, n.values)
	out.Timestamp = time.Now()
	n.values = nil
	n.started = false
	return out
}

func reduce(reducer string, values []float64) float64 {
	switch reducer {
	case "count":
		return float64(len(values))
	case "last":
		return values[len(values)-1]
	case "sum", "avg":
		var sum float64
		for _, v := range values {
			sum += v
		}
		if reducer == "sum" {
			return sum
		}
		return sum / float64(len(values))
	case "min":
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		return min
	case "max":
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		return max
	}
	return 0
}

// asFloat normalizes the numeric forms events carry.
func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
