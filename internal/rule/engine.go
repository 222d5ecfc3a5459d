package rule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldline-io/fieldline-core/internal/bus"
)

// Dispatcher receives events that survived a rule chain, together with
// the sink references of the rule that produced them.
type Dispatcher interface {
	Dispatch(ev bus.Event, sinks []SinkRef)
}

// Options tunes the engine. Zero values fall back to defaults.
type Options struct {
	// Workers is the number of goroutines draining the event queue.
	Workers int

	// QueueSize bounds the bus subscription feeding the engine.
	QueueSize int

	// BlockTimeout is how long the bus may block a publisher before
	// dropping the oldest queued event.
	BlockTimeout time.Duration

	// ScriptTimeout caps a single script node evaluation.
	ScriptTimeout time.Duration

	// HopLimit caps event write-back depth. An event whose hop count
	// has reached the limit is never dispatched.
	HopLimit int
}

const (
	defaultWorkers       = 2
	defaultQueueSize     = 1024
	defaultBlockTimeout  = 100 * time.Millisecond
	defaultScriptTimeout = 50 * time.Millisecond
	defaultHopLimit      = 4
)

func (o *Options) applyDefaults() {
	if o.Workers <= 0 {
		o.Workers = defaultWorkers
	}
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.BlockTimeout <= 0 {
		o.BlockTimeout = defaultBlockTimeout
	}
	if o.ScriptTimeout <= 0 {
		o.ScriptTimeout = defaultScriptTimeout
	}
	if o.HopLimit <= 0 {
		o.HopLimit = defaultHopLimit
	}
}

// Engine owns the rule lifecycle: persistence, compilation, and
// evaluation of events against installed chains.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Engine struct {
	repo       Repository
	eventBus   *bus.Bus
	dispatcher Dispatcher
	logger     Logger
	opts       Options

	mu     sync.RWMutex
	chains map[string]*chain

	sub     *bus.Subscription
	wg      sync.WaitGroup
	started bool
}

// NewEngine builds an engine. The dispatcher may be nil until Start.
func NewEngine(repo Repository, eventBus *bus.Bus, dispatcher Dispatcher, logger Logger, opts Options) *Engine {
	if logger == nil {
		logger = noopLogger{}
	}
	opts.applyDefaults()
	return &Engine{
		repo:       repo,
		eventBus:   eventBus,
		dispatcher: dispatcher,
		logger:     logger,
		opts:       opts,
		chains:     make(map[string]*chain),
	}
}

// Start loads persisted rules, installs the enabled ones, and begins
// consuming events from the bus.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}

	rules, err := e.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("rule: load rules: %w", err)
	}
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		c, err := e.compile(r)
		if err != nil {
			e.logger.Error("skipping rule that failed to compile", "rule", r.ID, "error", err)
			continue
		}
		e.chains[r.ID] = c
	}

	sub, err := e.eventBus.Subscribe("*", bus.BlockThenDropOldest, e.opts.QueueSize, e.opts.BlockTimeout)
	if err != nil {
		return fmt.Errorf("rule: subscribe: %w", err)
	}
	e.sub = sub

	for i := 0; i < e.opts.Workers; i++ {
		e.wg.Add(1)
		go e.worker(sub)
	}
	e.started = true
	e.logger.Info("rule engine started", "rules", len(e.chains), "workers", e.opts.Workers)
	return nil
}

// Stop unsubscribes from the bus and waits for in-flight evaluations.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	sub := e.sub
	e.sub = nil
	e.mu.Unlock()

	e.eventBus.Unsubscribe(sub)
	e.wg.Wait()

	e.mu.Lock()
	for id, c := range e.chains {
		c.retire()
		delete(e.chains, id)
	}
	e.mu.Unlock()
}

func (e *Engine) worker(sub *bus.Subscription) {
	defer e.wg.Done()
	for {
		select {
		case ev := <-sub.C():
			e.handle(ev)
		case <-sub.Done():
			return
		}
	}
}

func (e *Engine) handle(ev bus.Event) {
	e.mu.RLock()
	matched := make([]*chain, 0, 4)
	for _, c := range e.chains {
		for _, sel := range c.rule.Triggers {
			if matchesTrigger(sel, ev.DeviceID, ev.PointID) {
				matched = append(matched, c)
				break
			}
		}
	}
	e.mu.RUnlock()

	for _, c := range matched {
		c.evaluate(ev)
	}
}

// compile builds a chain for a rule, wiring dispatch through the hop
// guard. Caller holds no lock requirement; chains are immutable.
func (e *Engine) compile(r *Rule) (*chain, error) {
	return compileChain(r.DeepCopy(), e.logger, e.opts.ScriptTimeout, e.dispatchGuarded)
}

// dispatchGuarded refuses events whose hop count has reached the
// configured limit. This is the loop breaker for rules that write back
// to devices: each write-back increments the hop count, so a cycle of
// rules feeding each other terminates.
func (e *Engine) dispatchGuarded(ev bus.Event, r *Rule) {
	if ev.Hops >= e.opts.HopLimit {
		e.logger.Warn("dropping event at hop limit",
			"rule", r.ID, "device", ev.DeviceID, "point", ev.PointID, "hops", ev.Hops)
		return
	}
	if e.dispatcher == nil {
		return
	}
	e.dispatcher.Dispatch(ev, r.Sinks)
}

// Create validates and persists a new rule, installing it if enabled.
func (e *Engine) Create(ctx context.Context, r *Rule) (*Rule, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.Version = 1
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	if err := r.Validate(); err != nil {
		return nil, err
	}

	// Compile before persisting so a broken rule never lands in the
	// repository.
	c, err := e.compile(r)
	if err != nil {
		return nil, err
	}

	if err := e.repo.Create(ctx, r); err != nil {
		return nil, err
	}

	if r.Enabled {
		e.install(r.ID, c)
	}
	e.logger.Info("rule created", "rule", r.ID, "name", r.Name, "enabled", r.Enabled)
	return r.DeepCopy(), nil
}

// Update replaces a rule atomically. The previous chain version keeps
// serving in-flight evaluations until the swap; its pending time
// windows are discarded.
func (e *Engine) Update(ctx context.Context, r *Rule) (*Rule, error) {
	existing, err := e.repo.GetByID(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	r.Version = existing.Version + 1
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = time.Now().UTC()

	if err := r.Validate(); err != nil {
		return nil, err
	}

	c, err := e.compile(r)
	if err != nil {
		return nil, err
	}

	if err := e.repo.Update(ctx, r); err != nil {
		return nil, err
	}

	if r.Enabled {
		e.install(r.ID, c)
	} else {
		e.uninstall(r.ID)
	}
	e.logger.Info("rule updated", "rule", r.ID, "version", r.Version, "enabled", r.Enabled)
	return r.DeepCopy(), nil
}

// Delete removes a rule from the repository and retires its chain.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if err := e.repo.Delete(ctx, id); err != nil {
		return err
	}
	e.uninstall(id)
	e.logger.Info("rule deleted", "rule", id)
	return nil
}

// SetEnabled toggles a rule without touching its definition.
func (e *Engine) SetEnabled(ctx context.Context, id string, enabled bool) error {
	r, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if r.Enabled == enabled {
		return nil
	}
	r.Enabled = enabled
	r.Version++
	r.UpdatedAt = time.Now().UTC()
	if err := e.repo.Update(ctx, r); err != nil {
		return err
	}

	if enabled {
		c, err := e.compile(r)
		if err != nil {
			return err
		}
		e.install(id, c)
	} else {
		e.uninstall(id)
	}
	e.logger.Info("rule enabled state changed", "rule", id, "enabled", enabled)
	return nil
}

// Get returns a copy of a persisted rule.
func (e *Engine) Get(ctx context.Context, id string) (*Rule, error) {
	return e.repo.GetByID(ctx, id)
}

// List returns copies of all persisted rules.
func (e *Engine) List(ctx context.Context) ([]*Rule, error) {
	return e.repo.List(ctx)
}

// InstalledVersion reports the version of the chain currently serving
// a rule, or 0 when none is installed.
func (e *Engine) InstalledVersion(id string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if c, ok := e.chains[id]; ok {
		return c.version
	}
	return 0
}

func (e *Engine) install(id string, c *chain) {
	e.mu.Lock()
	if old, ok := e.chains[id]; ok {
		old.retire()
	}
	e.chains[id] = c
	e.mu.Unlock()
}

func (e *Engine) uninstall(id string) {
	e.mu.Lock()
	if old, ok := e.chains[id]; ok {
		old.retire()
		delete(e.chains, id)
	}
	e.mu.Unlock()
}
