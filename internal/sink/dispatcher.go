package sink

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fieldline-io/fieldline-core/internal/bus"
	"github.com/fieldline-io/fieldline-core/internal/rule"
)

// Options tunes dispatcher delivery. Zero values fall back to defaults.
type Options struct {
	// QueueSize bounds each sink's pending job queue. A full queue
	// drops new jobs rather than blocking the rule engine.
	QueueSize int

	// MaxAttempts caps delivery attempts per job, including the first.
	MaxAttempts int

	// InitialDelay is the backoff before the first retry; it doubles
	// per attempt up to MaxDelay.
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

const (
	defaultQueueSize    = 256
	defaultMaxAttempts  = 3
	defaultInitialDelay = 200 * time.Millisecond
	defaultMaxDelay     = 5 * time.Second
)

func (o *Options) applyDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = defaultInitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = defaultMaxDelay
	}
}

type job struct {
	ev     bus.Event
	target string
}

// sinkQueue is one registered sink with its delivery worker state.
type sinkQueue struct {
	sink    Sink
	jobs    chan job
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// Dispatcher fans events out to registered sinks.
//
// Each sink gets its own queue and worker goroutine, so a slow or
// failing sink delays only its own deliveries. Delivery failures retry
// with capped exponential backoff; a job that exhausts its attempts is
// logged and discarded.
//
// Thread Safety: Register must complete before Start; everything else
// is safe for concurrent use.
type Dispatcher struct {
	logger Logger
	opts   Options

	mu     sync.Mutex
	queues map[string]*sinkQueue

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped atomic.Bool
}

// NewDispatcher builds an empty dispatcher.
func NewDispatcher(logger Logger, opts Options) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		logger: logger,
		opts:   opts,
		queues: make(map[string]*sinkQueue),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register adds a sink under its Name. Re-registering a name replaces
// the previous sink; doing so after Start is not supported.
func (d *Dispatcher) Register(s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queues[s.Name()] = &sinkQueue{
		sink: s,
		jobs: make(chan job, d.opts.QueueSize),
	}
}

// Start launches one worker per registered sink.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	for _, q := range d.queues {
		d.wg.Add(1)
		go d.worker(q)
	}
	d.logger.Info("sink dispatcher started", "sinks", len(d.queues))
}

// Stop drains queued jobs and waits for the workers. New dispatches are
// refused immediately; in-flight retry backoffs are cut short.
func (d *Dispatcher) Stop() {
	if !d.stopped.CompareAndSwap(false, true) {
		return
	}
	d.mu.Lock()
	for _, q := range d.queues {
		close(q.jobs)
	}
	d.mu.Unlock()

	// Give drain a moment before aborting retry sleeps.
	d.wg.Wait()
	d.cancel()
}

// Dispatch enqueues the event for every referenced sink. It never
// blocks: a full sink queue drops the job and counts it.
//
// Dispatch implements rule.Dispatcher.
func (d *Dispatcher) Dispatch(ev bus.Event, sinks []rule.SinkRef) {
	if d.stopped.Load() {
		return
	}
	for _, ref := range sinks {
		d.mu.Lock()
		q, ok := d.queues[ref.Type]
		d.mu.Unlock()
		if !ok {
			d.logger.Warn("no sink registered for reference", "type", ref.Type)
			continue
		}
		select {
		case q.jobs <- job{ev: ev, target: ref.Target}:
		default:
			q.dropped.Add(1)
			d.logger.Warn("sink queue full, dropping event",
				"sink", ref.Type, "device", ev.DeviceID, "point", ev.PointID)
		}
	}
}

// Dropped reports events discarded because a sink queue was full.
func (d *Dispatcher) Dropped(sinkName string) uint64 {
	d.mu.Lock()
	q, ok := d.queues[sinkName]
	d.mu.Unlock()
	if !ok {
		return 0
	}
	return q.dropped.Load()
}

// Failed reports jobs that exhausted their delivery attempts.
func (d *Dispatcher) Failed(sinkName string) uint64 {
	d.mu.Lock()
	q, ok := d.queues[sinkName]
	d.mu.Unlock()
	if !ok {
		return 0
	}
	return q.failed.Load()
}

func (d *Dispatcher) worker(q *sinkQueue) {
	defer d.wg.Done()
	for j := range q.jobs {
		d.deliver(q, j)
	}
}

func (d *Dispatcher) deliver(q *sinkQueue, j job) {
	delay := d.opts.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		err := q.sink.Deliver(d.ctx, j.ev, j.target)
		if err == nil {
			if attempt > 1 {
				d.logger.Debug("sink delivery recovered", "sink", q.sink.Name(), "attempt", attempt)
			}
			return
		}
		lastErr = err
		if attempt == d.opts.MaxAttempts {
			break
		}
		if !sleepCtx(d.ctx, delay) {
			break
		}
		delay *= 2
		if delay > d.opts.MaxDelay {
			delay = d.opts.MaxDelay
		}
	}
	q.failed.Add(1)
	d.logger.Error("sink delivery failed, discarding event",
		"sink", q.sink.Name(), "device", j.ev.DeviceID, "point", j.ev.PointID,
		"attempts", d.opts.MaxAttempts, "error", lastErr)
}

// sleepCtx waits for d or context cancellation, reporting whether the
// full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
