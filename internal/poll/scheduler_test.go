package poll

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockPoller scripts Poll behaviour per device.
type mockPoller struct {
	mu      sync.Mutex
	targets []Target
	calls   map[string]int
	err     error
	block   chan struct{} // when set, Poll waits on it
}

func newMockPoller(targets ...Target) *mockPoller {
	return &mockPoller{targets: targets, calls: make(map[string]int)}
}

func (p *mockPoller) PollTargets() []Target {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Target(nil), p.targets...)
}

func (p *mockPoller) Poll(_ context.Context, deviceID string) error {
	p.mu.Lock()
	p.calls[deviceID]++
	err := p.err
	block := p.block
	p.mu.Unlock()
	if block != nil {
		<-block
	}
	return err
}

func (p *mockPoller) callCount(deviceID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[deviceID]
}

func TestSchedulerPollsAtInterval(t *testing.T) {
	p := newMockPoller(Target{DeviceID: "dev-1", Interval: 20 * time.Millisecond})
	s := New(p, nil, Options{JitterPercent: 0, RefreshInterval: time.Hour})
	s.Start()
	defer s.Stop()

	time.Sleep(150 * time.Millisecond)
	if n := p.callCount("dev-1"); n < 3 {
		t.Errorf("polls = %d, want >= 3", n)
	}
}

func TestSchedulerSkipsOverlappingTicks(t *testing.T) {
	p := newMockPoller(Target{DeviceID: "dev-1", Interval: 15 * time.Millisecond})
	block := make(chan struct{})
	p.mu.Lock()
	p.block = block
	p.mu.Unlock()

	s := New(p, nil, Options{JitterPercent: 0, RefreshInterval: time.Hour})
	s.Start()
	defer s.Stop()

	// First tick blocks inside Poll; later ticks must be skipped.
	time.Sleep(100 * time.Millisecond)
	skippedWhileBlocked := s.Skipped("dev-1")
	close(block)

	if skippedWhileBlocked == 0 {
		t.Error("no ticks skipped while poll was in flight")
	}
	if n := p.callCount("dev-1"); n != 1 {
		t.Errorf("polls while blocked = %d, want 1", n)
	}

	// Skipped ticks are dropped, not queued: once the slow read returns,
	// polling resumes at the interval cadence instead of a backlog burst.
	time.Sleep(50 * time.Millisecond)
	if n := p.callCount("dev-1"); n < 2 || n > 6 {
		t.Errorf("polls after unblock = %d, want resumed cadence", n)
	}
}

func TestSchedulerEscalatesAfterThreshold(t *testing.T) {
	p := newMockPoller(Target{DeviceID: "dev-1", Interval: 10 * time.Millisecond})
	p.mu.Lock()
	p.err = errors.New("device: not connected")
	p.mu.Unlock()

	s := New(p, nil, Options{JitterPercent: 0, FailureThreshold: 3, RefreshInterval: time.Hour})

	type escalation struct {
		deviceID string
		failures int
	}
	got := make(chan escalation, 4)
	s.SetOnEscalate(func(deviceID string, failures int) {
		got <- escalation{deviceID, failures}
	})
	s.Start()
	defer s.Stop()

	select {
	case e := <-got:
		if e.deviceID != "dev-1" || e.failures != 3 {
			t.Errorf("escalation = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("escalation never fired")
	}

	// Fires once per streak, not on every subsequent failure.
	time.Sleep(60 * time.Millisecond)
	if len(got) != 0 {
		t.Errorf("extra escalations: %d", len(got))
	}
}

func TestSchedulerFailureCountResetsOnSuccess(t *testing.T) {
	p := newMockPoller(Target{DeviceID: "dev-1", Interval: 10 * time.Millisecond})
	p.mu.Lock()
	p.err = errors.New("transient")
	p.mu.Unlock()

	s := New(p, nil, Options{JitterPercent: 0, FailureThreshold: 5, RefreshInterval: time.Hour})
	escalated := make(chan struct{}, 1)
	s.SetOnEscalate(func(string, int) { escalated <- struct{}{} })
	s.Start()
	defer s.Stop()

	// Two failures, then recovery before the threshold.
	time.Sleep(35 * time.Millisecond)
	p.mu.Lock()
	p.err = nil
	p.mu.Unlock()
	time.Sleep(50 * time.Millisecond)

	// Fail again: the streak restarts from zero.
	p.mu.Lock()
	p.err = errors.New("transient")
	p.mu.Unlock()
	time.Sleep(30 * time.Millisecond)

	select {
	case <-escalated:
		t.Error("escalated despite reset")
	default:
	}
}

func TestSchedulerReconcileAddsAndRemoves(t *testing.T) {
	p := newMockPoller(Target{DeviceID: "dev-1", Interval: 10 * time.Millisecond})
	s := New(p, nil, Options{JitterPercent: 0, RefreshInterval: 20 * time.Millisecond})
	s.Start()
	defer s.Stop()

	time.Sleep(50 * time.Millisecond)
	if p.callCount("dev-1") == 0 {
		t.Fatal("dev-1 never polled")
	}

	// Swap the target set.
	p.mu.Lock()
	p.targets = []Target{{DeviceID: "dev-2", Interval: 10 * time.Millisecond}}
	p.mu.Unlock()

	time.Sleep(60 * time.Millisecond)
	if p.callCount("dev-2") == 0 {
		t.Error("dev-2 never polled after reconcile")
	}

	before := p.callCount("dev-1")
	time.Sleep(40 * time.Millisecond)
	if after := p.callCount("dev-1"); after != before {
		t.Errorf("dev-1 still polled after removal: %d -> %d", before, after)
	}
}
