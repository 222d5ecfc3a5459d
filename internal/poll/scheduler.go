package poll

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Poller is the slice of the device manager the scheduler drives.
type Poller interface {
	PollTargets() []Target
	Poll(ctx context.Context, deviceID string) error
}

// Target is one device on the schedule.
type Target struct {
	DeviceID string
	Interval time.Duration
}

// Logger is the minimal logging interface the scheduler needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Options tunes scheduler behaviour.
type Options struct {
	// JitterPercent spreads tick phase by up to this share of the
	// interval so co-scheduled devices do not burst together.
	JitterPercent int

	// FailureThreshold is the consecutive whole-poll failure count that
	// triggers the escalation callback.
	FailureThreshold int

	// RefreshInterval is how often the target list is re-read from the
	// Poller. Devices added, removed, or flipped to push mode are picked
	// up on refresh.
	RefreshInterval time.Duration
}

func (o *Options) fillDefaults() {
	if o.JitterPercent < 0 || o.JitterPercent > 100 {
		o.JitterPercent = 10
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 3
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = 5 * time.Second
	}
}

// Scheduler drives periodic polls: one goroutine per target with a
// jittered ticker. Overlapping ticks are skipped, not queued, so a slow
// device cannot build a backlog. Consecutive failures beyond the
// threshold invoke the escalation callback once per failure streak.
type Scheduler struct {
	poller Poller
	logger Logger
	opts   Options

	// onEscalate is called when a device crosses the failure threshold.
	onEscalate func(deviceID string, failures int)

	mu      sync.Mutex
	workers map[string]*worker
	cancel  context.CancelFunc
	done    chan struct{}
	started bool

	// skipped counts ticks dropped because the previous poll still ran.
	skipped map[string]uint64
}

type worker struct {
	target Target
	cancel context.CancelFunc
	done   chan struct{}

	inFlight sync.Mutex // TryLock guards overlap
	polls    sync.WaitGroup

	// failures is only touched while inFlight is held.
	failures int
}

// New creates a scheduler.
func New(poller Poller, logger Logger, opts Options) *Scheduler {
	if logger == nil {
		logger = noopLogger{}
	}
	opts.fillDefaults()
	return &Scheduler{
		poller:  poller,
		logger:  logger,
		opts:    opts,
		workers: make(map[string]*worker),
		skipped: make(map[string]uint64),
	}
}

// SetOnEscalate registers the failure-threshold callback. Must be
// called before Start.
func (s *Scheduler) SetOnEscalate(fn func(deviceID string, failures int)) {
	s.onEscalate = fn
}

// Start begins scheduling and returns immediately.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true
	go s.refreshLoop(ctx)
	s.logger.Info("poll scheduler started")
}

// Stop halts all polling and waits for workers to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("poll scheduler stopped")
}

// Skipped returns how many ticks were dropped for a device because the
// previous poll had not finished.
func (s *Scheduler) Skipped(deviceID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped[deviceID]
}

// refreshLoop reconciles the worker set against PollTargets.
func (s *Scheduler) refreshLoop(ctx context.Context) {
	defer close(s.done)
	s.reconcile(ctx)

	ticker := time.NewTicker(s.opts.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.stopAllWorkers()
			return
		case <-ticker.C:
			s.reconcile(ctx)
		}
	}
}

func (s *Scheduler) reconcile(ctx context.Context) {
	targets := s.poller.PollTargets()
	want := make(map[string]Target, len(targets))
	for _, t := range targets {
		want[t.DeviceID] = t
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, w := range s.workers {
		t, keep := want[id]
		if keep && t.Interval == w.target.Interval {
			continue
		}
		w.cancel()
		<-w.done
		delete(s.workers, id)
	}

	for id, t := range want {
		if _, ok := s.workers[id]; ok {
			continue
		}
		wctx, cancel := context.WithCancel(ctx)
		w := &worker{target: t, cancel: cancel, done: make(chan struct{})}
		s.workers[id] = w
		go s.runWorker(wctx, w)
	}
}

func (s *Scheduler) stopAllWorkers() {
	s.mu.Lock()
	workers := make([]*worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.workers = make(map[string]*worker)
	s.mu.Unlock()

	for _, w := range workers {
		w.cancel()
		<-w.done
	}
}

// runWorker ticks one device. The initial phase offset is randomized
// within the jitter window.
func (s *Scheduler) runWorker(ctx context.Context, w *worker) {
	defer close(w.done)

	if phase := s.jitter(w.target.Interval); phase > 0 {
		t := time.NewTimer(phase)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}

	ticker := time.NewTicker(w.target.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.polls.Wait()
			return
		case <-ticker.C:
			s.tick(ctx, w)
		}
	}
}

// tick dispatches one poll. The poll runs on its own goroutine so the
// ticker keeps firing during a slow read; a tick that lands while the
// previous poll holds inFlight is counted and logged, never queued.
func (s *Scheduler) tick(ctx context.Context, w *worker) {
	if !w.inFlight.TryLock() {
		s.mu.Lock()
		s.skipped[w.target.DeviceID]++
		n := s.skipped[w.target.DeviceID]
		s.mu.Unlock()
		s.logger.Warn("poll tick skipped, previous still running",
			"device", w.target.DeviceID, "skipped_total", n)
		return
	}

	w.polls.Add(1)
	go func() {
		defer w.polls.Done()
		defer w.inFlight.Unlock()

		err := s.poller.Poll(ctx, w.target.DeviceID)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			w.failures++
			s.logger.Debug("poll failed", "device", w.target.DeviceID, "failures", w.failures, "error", err)
			if w.failures == s.opts.FailureThreshold && s.onEscalate != nil {
				s.onEscalate(w.target.DeviceID, w.failures)
			}
			return
		}
		w.failures = 0
	}()
}

func (s *Scheduler) jitter(interval time.Duration) time.Duration {
	if s.opts.JitterPercent == 0 {
		return 0
	}
	max := float64(interval) * float64(s.opts.JitterPercent) / 100
	return time.Duration(rand.Float64() * max) // #nosec G404 -- phase spreading, not security
}
