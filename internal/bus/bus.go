package bus

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Errors returned by bus operations.
var (
	ErrClosed         = errors.New("bus: closed")
	ErrInvalidPattern = errors.New("bus: invalid pattern")
	ErrInvalidBuffer  = errors.New("bus: buffer size must be positive")
)

// Policy selects the overflow behaviour of a subscription queue.
type Policy int

const (
	// DropOldest discards the oldest queued event to make room for the
	// newest. Used by live consumers that only care about current values.
	DropOldest Policy = iota

	// BlockThenDropOldest blocks the publisher up to the configured
	// timeout, then falls back to DropOldest. Used by the rule engine
	// queue so short processing stalls apply backpressure instead of
	// losing events.
	BlockThenDropOldest
)

// Logger is the minimal logging interface the bus needs.
type Logger interface {
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Debug(string, ...any) {}

// Subscription is one consumer's bounded view of the event stream.
//
// Events arrive on C in publish order. When the queue overflows per the
// subscription's policy, the drop counter increments; consumers can also
// detect gaps from the per-device Seq on each event.
type Subscription struct {
	pattern string
	policy  Policy
	timeout time.Duration

	ch      chan Event
	done    chan struct{}
	dropped atomic.Uint64

	closeOnce sync.Once
}

// C returns the receive channel. It is never closed; select on Done()
// to detect cancellation.
func (s *Subscription) C() <-chan Event { return s.ch }

// Done is closed when the subscription or the bus shuts down.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Dropped returns the number of events discarded due to overflow.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Pattern returns the subscription's routing pattern.
func (s *Subscription) Pattern() string { return s.pattern }

func (s *Subscription) markDone() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Bus is the in-process publish/subscribe fabric between the device
// manager and its consumers (rule engine, sinks, live feeds).
//
// Delivery is per-subscription FIFO with bounded queues. Publishing never
// fails; overflow is resolved by the subscription's policy and surfaced
// through drop counters and sequence gaps.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	seqs   sync.Map // deviceID -> *atomic.Uint64
	closed bool
	logger Logger
}

// New creates an empty bus.
func New(logger Logger) *Bus {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		logger: logger,
	}
}

// Subscribe registers a consumer for events matching pattern.
//
// Patterns:
//   - "*"              all events
//   - "deviceID"       all points of one device
//   - "deviceID/*"     same as above
//   - "deviceID/ptID"  a single point
//
// buffer is the queue depth; timeout only applies to BlockThenDropOldest.
func (b *Bus) Subscribe(pattern string, policy Policy, buffer int, timeout time.Duration) (*Subscription, error) {
	if pattern == "" {
		return nil, ErrInvalidPattern
	}
	if buffer <= 0 {
		return nil, ErrInvalidBuffer
	}

	sub := &Subscription{
		pattern: pattern,
		policy:  policy,
		timeout: timeout,
		ch:      make(chan Event, buffer),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	b.subs[sub] = struct{}{}
	return sub, nil
}

// Unsubscribe removes the subscription and signals its Done channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
	sub.markDone()
}

// Emitter returns a publish handle for one device. Events published
// through the same emitter carry a strictly increasing Seq.
func (b *Bus) Emitter(deviceID string) *Emitter {
	v, _ := b.seqs.LoadOrStore(deviceID, &atomic.Uint64{})
	return &Emitter{bus: b, deviceID: deviceID, seq: v.(*atomic.Uint64)}
}

// Publish delivers ev to every matching subscription. The event's Seq
// must already be assigned (use an Emitter for device telemetry).
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		if !matchPattern(sub.pattern, ev.DeviceID, ev.PointID) {
			continue
		}
		b.deliver(sub, ev)
	}
}

func (b *Bus) deliver(sub *Subscription, ev Event) {
	select {
	case sub.ch <- ev:
		return
	default:
	}

	if sub.policy == BlockThenDropOldest && sub.timeout > 0 {
		timer := time.NewTimer(sub.timeout)
		select {
		case sub.ch <- ev:
			timer.Stop()
			return
		case <-sub.done:
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	// Drop the oldest queued event, then retry once.
	select {
	case <-sub.ch:
		sub.dropped.Add(1)
	default:
	}
	select {
	case sub.ch <- ev:
	default:
		sub.dropped.Add(1)
	}
	b.logger.Debug("bus overflow", "pattern", sub.pattern, "dropped_total", sub.Dropped())
}

// Drain blocks until every subscription queue is empty or the deadline
// passes. Used during shutdown so queued events reach sinks before the
// process exits.
func (b *Bus) Drain(deadline time.Time) bool {
	for {
		if b.queuesEmpty() {
			return true
		}
		if time.Now().After(deadline) {
			b.logger.Warn("bus drain deadline exceeded")
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (b *Bus) queuesEmpty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if len(sub.ch) > 0 {
			return false
		}
	}
	return true
}

// Close shuts the bus down. Further publishes are discarded and every
// subscription's Done channel is closed.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[*Subscription]struct{})
	b.mu.Unlock()

	for _, sub := range subs {
		sub.markDone()
	}
}

// Emitter publishes events for a single device with per-device sequence
// numbering.
type Emitter struct {
	bus      *Bus
	deviceID string
	seq      *atomic.Uint64
}

// Emit assigns the next sequence number and publishes the event.
func (e *Emitter) Emit(ev Event) {
	ev.DeviceID = e.deviceID
	ev.Seq = e.seq.Add(1)
	e.bus.Publish(ev)
}

// matchPattern reports whether pattern selects deviceID/pointID.
func matchPattern(pattern, deviceID, pointID string) bool {
	if pattern == "*" {
		return true
	}
	dev, pt, ok := strings.Cut(pattern, "/")
	if !ok {
		return dev == deviceID
	}
	if dev != deviceID {
		return false
	}
	return pt == "*" || pt == pointID
}
