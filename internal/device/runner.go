package device

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/fieldline-io/fieldline-core/internal/adapter"
	"github.com/fieldline-io/fieldline-core/internal/bus"
	"github.com/fieldline-io/fieldline-core/internal/point"
)

// startRunnerLocked launches the lifecycle goroutine for an enabled
// device. Caller holds m.mu.
func (m *Manager) startRunnerLocked(md *managedDevice) {
	md.mu.Lock()
	defer md.mu.Unlock()
	if !md.def.Enabled || md.adap == nil || md.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(m.runCtx)
	md.cancel = cancel
	md.done = make(chan struct{})
	go m.run(ctx, md)
}

// stopRunner cancels the runner and waits for it to exit.
func (m *Manager) stopRunner(md *managedDevice) {
	md.mu.Lock()
	cancel := md.cancel
	done := md.done
	md.cancel = nil
	md.done = nil
	md.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// run is the per-device lifecycle loop: connect, serve until the
// session drops, mark points stale, then sit in the error state while a
// capped jittered backoff timer schedules the next connect attempt.
// Exits on context cancellation or an unauthorized failure.
func (m *Manager) run(ctx context.Context, md *managedDevice) {
	md.mu.Lock()
	done := md.done
	deviceID := md.def.ID
	md.mu.Unlock()
	defer close(done)

	backoff := m.opts.InitialBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		m.setState(md, StateConnecting)
		err := md.adap.Connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if adapter.KindOf(err) == adapter.KindUnauthorized {
				m.fail(md, err)
				return
			}
			m.logger.Warn("device connect failed", "device", deviceID, "backoff", backoff, "error", err)
			md.mu.Lock()
			md.lastError = err.Error()
			md.mu.Unlock()
			m.setState(md, StateError)
			if !sleepCtx(ctx, withJitter(backoff)) {
				return
			}
			backoff = nextBackoff(backoff, m.opts.MaxBackoff)
			continue
		}

		backoff = m.opts.InitialBackoff
		md.mu.Lock()
		md.lastError = ""
		md.mu.Unlock()
		m.setState(md, StateConnected)
		m.logger.Info("device connected", "device", deviceID)

		err = m.serve(ctx, md)
		_ = md.adap.Disconnect(context.Background())
		if ctx.Err() != nil {
			return
		}

		if err != nil && adapter.KindOf(err) == adapter.KindUnauthorized {
			m.markStale(md)
			m.fail(md, err)
			return
		}
		m.logger.Warn("device connection lost", "device", deviceID, "error", err)
		m.markStale(md)
		m.setState(md, StateError)
		if !sleepCtx(ctx, withJitter(backoff)) {
			return
		}
		backoff = nextBackoff(backoff, m.opts.MaxBackoff)
	}
}

// serve blocks while the session is healthy. Push-capable adapters run
// their subscription here; poll-driven devices just wait for the lost
// signal raised by Poll or WritePoint failures.
func (m *Manager) serve(ctx context.Context, md *managedDevice) error {
	md.mu.Lock()
	adap := md.adap
	points := md.def.ReadablePoints()
	// Clear a stale lost signal from the previous session.
	select {
	case <-md.lost:
	default:
	}
	md.mu.Unlock()

	if sub, ok := adap.(adapter.Subscriber); ok {
		md.mu.Lock()
		md.push = true
		md.mu.Unlock()

		err := sub.Subscribe(ctx, points, func(r adapter.Reading) {
			m.ingest(md, r)
		})

		if err != nil && adapter.KindOf(err) == adapter.KindUnsupported {
			// Subscription transport not configured; fall back to polling.
			md.mu.Lock()
			md.push = false
			md.mu.Unlock()
			return m.waitLost(ctx, md)
		}
		return err
	}

	return m.waitLost(ctx, md)
}

func (m *Manager) waitLost(ctx context.Context, md *managedDevice) error {
	select {
	case <-ctx.Done():
		return nil
	case <-md.lost:
		return errors.New("session reported lost")
	}
}

// ingest applies change detection and emits an event for a reading.
//
// Events are emitted when the value or quality changed since the last
// emission. A pending hop count from a write-back is attached to the
// first event for that point and then cleared.
func (m *Manager) ingest(md *managedDevice, r adapter.Reading) {
	md.mu.Lock()
	pt := md.def.Point(r.PointID)
	if pt == nil {
		md.mu.Unlock()
		return
	}

	prev, seen := md.last[r.PointID]
	if seen && prev.value == r.Value && prev.quality == r.Quality {
		md.mu.Unlock()
		return
	}
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	md.last[r.PointID] = lastSample{value: r.Value, quality: r.Quality, ts: ts}

	hops := md.pendingHops[r.PointID]
	delete(md.pendingHops, r.PointID)
	emitter := md.emitter
	md.mu.Unlock()
	emitter.Emit(bus.Event{
		PointID:   r.PointID,
		Value:     r.Value,
		Quality:   r.Quality,
		Timestamp: ts,
		Hops:      hops,
	})
}

// markStale re-emits the last known value of every point with stale
// quality so consumers can distinguish "old but plausible" from "gone".
func (m *Manager) markStale(md *managedDevice) {
	md.mu.Lock()
	emitter := md.emitter
	type staleEntry struct {
		pointID string
		value   interface{}
	}
	now := time.Now()
	entries := make([]staleEntry, 0, len(md.last))
	for pointID, s := range md.last {
		if s.quality == point.QualityGood {
			entries = append(entries, staleEntry{pointID, s.value})
			md.last[pointID] = lastSample{value: s.value, quality: point.QualityStale, ts: now}
		}
	}
	md.mu.Unlock()
	for _, e := range entries {
		emitter.Emit(bus.Event{
			PointID:   e.pointID,
			Value:     e.value,
			Quality:   point.QualityStale,
			Timestamp: now,
		})
	}
}

// fail parks a device in the error state with no retry scheduled.
// Used for unauthorized failures; only a reload clears them.
func (m *Manager) fail(md *managedDevice, err error) {
	md.mu.Lock()
	md.lastError = err.Error()
	deviceID := md.def.ID
	md.mu.Unlock()
	m.setState(md, StateError)
	m.logger.Error("device entered error state", "device", deviceID, "error", err)
}

// setState applies an FSM transition and notifies the state callback.
// Forbidden transitions are logged and dropped rather than applied.
func (m *Manager) setState(md *managedDevice, next State) {
	md.mu.Lock()
	cur := md.state
	deviceID := md.def.ID
	if cur == next {
		md.mu.Unlock()
		return
	}
	if !cur.CanTransition(next) {
		md.mu.Unlock()
		m.logger.Warn("state transition rejected", "device", deviceID, "from", cur, "to", next)
		return
	}
	md.state = next
	md.stateChanged = time.Now()
	md.mu.Unlock()

	m.logger.Debug("device state changed", "device", deviceID, "from", cur, "to", next)

	m.callbackMu.RLock()
	fn := m.onStateChange
	m.callbackMu.RUnlock()
	if fn != nil {
		fn(deviceID, next)
	}
}

// signalLost wakes the runner without blocking the caller.
func signalLost(md *managedDevice) {
	select {
	case md.lost <- struct{}{}:
	default:
	}
}

// withJitter spreads a delay by +/-20% so reconnecting fleets do not
// thundering-herd a recovered network.
func withJitter(d time.Duration) time.Duration {
	f := 0.8 + rand.Float64()*0.4 // #nosec G404 -- timing jitter, not security
	return time.Duration(float64(d) * f)
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

// sleepCtx waits for d, returning false if ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
