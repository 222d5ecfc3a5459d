package sink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fieldline-io/fieldline-core/internal/bus"
	"github.com/fieldline-io/fieldline-core/internal/point"
	"github.com/fieldline-io/fieldline-core/internal/rule"
)

type mockSink struct {
	name string

	mu       sync.Mutex
	got      []bus.Event
	targets  []string
	failures int // deliveries to fail before succeeding
	wake     chan struct{}
}

func newMockSink(name string, failures int) *mockSink {
	return &mockSink{name: name, failures: failures, wake: make(chan struct{}, 16)}
}

func (s *mockSink) Name() string { return s.name }

func (s *mockSink) Deliver(_ context.Context, ev bus.Event, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("boom")
	}
	s.got = append(s.got, ev)
	s.targets = append(s.targets, target)
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

func (s *mockSink) delivered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func (s *mockSink) waitForDelivery(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for s.delivered() < n {
		select {
		case <-s.wake:
		case <-deadline:
			t.Fatalf("timed out waiting for %d deliveries, have %d", n, s.delivered())
		}
	}
}

func testEvent(value interface{}) bus.Event {
	return bus.Event{
		DeviceID:  "dev-1",
		PointID:   "pt-1",
		Value:     value,
		Quality:   point.QualityGood,
		Timestamp: time.Now(),
	}
}

func fastOptions() Options {
	return Options{
		QueueSize:    8,
		MaxAttempts:  3,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
	}
}

func TestDispatcherRoutesToReferencedSinks(t *testing.T) {
	a := newMockSink("alpha", 0)
	b := newMockSink("beta", 0)

	d := NewDispatcher(nil, fastOptions())
	d.Register(a)
	d.Register(b)
	d.Start()
	defer d.Stop()

	d.Dispatch(testEvent(1.0), []rule.SinkRef{{Type: "alpha", Target: "t1"}})
	a.waitForDelivery(t, 1)

	if a.targets[0] != "t1" {
		t.Errorf("target = %q, want t1", a.targets[0])
	}
	if b.delivered() != 0 {
		t.Error("unreferenced sink received event")
	}
}

func TestDispatcherRetriesUntilSuccess(t *testing.T) {
	s := newMockSink("flaky", 2)

	d := NewDispatcher(nil, fastOptions())
	d.Register(s)
	d.Start()
	defer d.Stop()

	d.Dispatch(testEvent(1.0), []rule.SinkRef{{Type: "flaky"}})
	s.waitForDelivery(t, 1)

	if got := d.Failed("flaky"); got != 0 {
		t.Errorf("failed = %d, want 0", got)
	}
}

func TestDispatcherGivesUpAfterMaxAttempts(t *testing.T) {
	s := newMockSink("down", 100)

	d := NewDispatcher(nil, fastOptions())
	d.Register(s)
	d.Start()

	d.Dispatch(testEvent(1.0), []rule.SinkRef{{Type: "down"}})

	deadline := time.After(2 * time.Second)
	for d.Failed("down") == 0 {
		select {
		case <-deadline:
			t.Fatal("job never marked failed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	d.Stop()

	if s.delivered() != 0 {
		t.Error("failing sink recorded a delivery")
	}
}

func TestDispatcherFailureIsolation(t *testing.T) {
	down := newMockSink("down", 100)
	up := newMockSink("up", 0)

	d := NewDispatcher(nil, fastOptions())
	d.Register(down)
	d.Register(up)
	d.Start()
	defer d.Stop()

	for i := 0; i < 5; i++ {
		d.Dispatch(testEvent(float64(i)), []rule.SinkRef{{Type: "down"}, {Type: "up"}})
	}
	up.waitForDelivery(t, 5)
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	blocked := newMockSink("slow", 0)
	release := make(chan struct{})
	slow := &blockingSink{inner: blocked, release: release}

	d := NewDispatcher(nil, Options{QueueSize: 2, MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond})
	d.Register(slow)
	d.Start()

	// One in flight, two queued, the rest dropped.
	for i := 0; i < 10; i++ {
		d.Dispatch(testEvent(float64(i)), []rule.SinkRef{{Type: "slow"}})
	}
	time.Sleep(20 * time.Millisecond)
	if d.Dropped("slow") == 0 {
		t.Error("no drops recorded with a full queue")
	}
	close(release)
	d.Stop()
}

type blockingSink struct {
	inner   *mockSink
	release chan struct{}
}

func (s *blockingSink) Name() string { return s.inner.Name() }

func (s *blockingSink) Deliver(ctx context.Context, ev bus.Event, target string) error {
	<-s.release
	return s.inner.Deliver(ctx, ev, target)
}

func TestDispatcherIgnoresUnknownSinkType(t *testing.T) {
	s := newMockSink("known", 0)
	d := NewDispatcher(nil, fastOptions())
	d.Register(s)
	d.Start()
	defer d.Stop()

	d.Dispatch(testEvent(1.0), []rule.SinkRef{{Type: "missing"}, {Type: "known"}})
	s.waitForDelivery(t, 1)
}

func TestDispatcherStopDrainsQueue(t *testing.T) {
	s := newMockSink("drain", 0)
	d := NewDispatcher(nil, fastOptions())
	d.Register(s)
	d.Start()

	for i := 0; i < 5; i++ {
		d.Dispatch(testEvent(float64(i)), []rule.SinkRef{{Type: "drain"}})
	}
	d.Stop()

	if got := s.delivered(); got != 5 {
		t.Errorf("delivered after stop = %d, want 5", got)
	}

	// Dispatch after stop is a no-op.
	d.Dispatch(testEvent(9.0), []rule.SinkRef{{Type: "drain"}})
	if got := s.delivered(); got != 5 {
		t.Errorf("stopped dispatcher accepted work, delivered = %d", got)
	}
}
