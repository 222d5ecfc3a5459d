package device

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fieldline-io/fieldline-core/internal/adapter"
	"github.com/fieldline-io/fieldline-core/internal/bus"
	"github.com/fieldline-io/fieldline-core/internal/point"
)

// Logger is the minimal logging interface the manager needs.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// AdapterFactory builds a protocol adapter from a device's config blob.
type AdapterFactory func(protocol Protocol, cfg json.RawMessage, logger Logger) (adapter.Adapter, error)

// Options tunes manager behaviour.
type Options struct {
	// InitialBackoff and MaxBackoff bound the reconnect schedule.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// DefaultPollInterval applies to devices without their own.
	DefaultPollInterval time.Duration
}

func (o *Options) fillDefaults() {
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = time.Minute
	}
	if o.DefaultPollInterval <= 0 {
		o.DefaultPollInterval = time.Second
	}
}

// lastSample is the most recent emitted value for a point.
type lastSample struct {
	value   interface{}
	quality point.Quality
	ts      time.Time
}

// PointSample is the last observed reading of a point.
type PointSample struct {
	Value     interface{}   `json:"value"`
	Quality   point.Quality `json:"quality"`
	Timestamp time.Time     `json:"timestamp"`
}

// managedDevice couples a device definition with its runtime:
// the adapter, the lifecycle state, and the runner goroutine.
type managedDevice struct {
	mu   sync.Mutex
	def  *Device
	adap adapter.Adapter

	state        State
	stateChanged time.Time
	lastError    string

	// push is true while a subscription transport delivers readings;
	// such devices are excluded from the poll schedule.
	push bool

	// last holds the previous emitted sample per point for change
	// detection and stale marking.
	last map[string]lastSample

	// pendingHops carries the hop count of an accepted write until the
	// resulting read-back event is emitted.
	pendingHops map[string]int

	emitter *bus.Emitter

	// lost wakes the runner when a poll or write detects a dead session.
	lost chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// PollTarget describes one device the poll scheduler should drive.
type PollTarget struct {
	DeviceID string
	Interval time.Duration
}

// Manager owns the device registry and every device's lifecycle.
//
// Definitions persist through Repository; runtime state (FSM, adapters,
// last samples) lives in memory and resets on restart. All exported
// methods are safe for concurrent use.
type Manager struct {
	repo    Repository
	bus     *bus.Bus
	factory AdapterFactory
	logger  Logger
	opts    Options

	mu      sync.RWMutex
	devices map[string]*managedDevice

	runCtx    context.Context
	runCancel context.CancelFunc
	started   bool

	// onStateChange, when set, is notified after every FSM transition.
	onStateChange func(deviceID string, state State)
	callbackMu    sync.RWMutex
}

// NewManager creates a manager. factory must not be nil.
func NewManager(repo Repository, b *bus.Bus, factory AdapterFactory, logger Logger, opts Options) *Manager {
	if logger == nil {
		logger = noopLogger{}
	}
	opts.fillDefaults()
	return &Manager{
		repo:    repo,
		bus:     b,
		factory: factory,
		logger:  logger,
		opts:    opts,
		devices: make(map[string]*managedDevice),
	}
}

// SetOnStateChange registers a callback for lifecycle transitions.
// Must be called before Start.
func (m *Manager) SetOnStateChange(fn func(deviceID string, state State)) {
	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()
	m.onStateChange = fn
}

// Start loads all stored devices and begins runners for enabled ones.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}

	devices, err := m.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("device: manager start: %w", err)
	}

	m.runCtx, m.runCancel = context.WithCancel(context.Background())
	m.started = true

	for _, d := range devices {
		md, err := m.newManaged(d)
		if err != nil {
			m.logger.Error("device adapter construction failed", "device", d.ID, "error", err)
			md = m.newBroken(d, err)
		}
		m.devices[d.ID] = md
		m.startRunnerLocked(md)
	}

	m.logger.Info("device manager started", "devices", len(devices))
	return nil
}

// Stop halts every runner and disconnects all adapters.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	cancel := m.runCancel
	running := make([]*managedDevice, 0, len(m.devices))
	for _, md := range m.devices {
		running = append(running, md)
	}
	m.mu.Unlock()

	cancel()
	for _, md := range running {
		md.mu.Lock()
		done := md.done
		md.mu.Unlock()
		if done != nil {
			<-done
		}
	}
	m.logger.Info("device manager stopped")
}

// Create validates and stores a new device, then starts it if enabled.
// Missing IDs and slugs are generated.
func (m *Manager) Create(ctx context.Context, d *Device) (*Device, error) {
	d = d.DeepCopy()
	if d.ID == "" {
		d.ID = GenerateID()
	}
	if d.Slug == "" {
		d.Slug = GenerateSlug(d.Name)
	}
	for _, pt := range d.Points {
		if pt.ID == "" {
			pt.ID = GenerateID()
		}
		pt.DeviceID = d.ID
	}
	if err := Validate(d); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	// Construct the adapter first so a bad config never reaches the store.
	adap, err := m.buildAdapter(d)
	if err != nil {
		return nil, err
	}

	if err := m.repo.Create(ctx, d); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	md := &managedDevice{
		def:         d,
		adap:        adap,
		state:       StateCreated,
		last:        make(map[string]lastSample),
		pendingHops: make(map[string]int),
		emitter:     m.bus.Emitter(d.ID),
		lost:        make(chan struct{}, 1),
	}
	m.devices[d.ID] = md
	if m.started {
		m.startRunnerLocked(md)
	}

	m.logger.Info("device created", "device", d.ID, "slug", d.Slug, "protocol", d.Protocol)
	return d.DeepCopy(), nil
}

// Get returns an isolated copy of a device definition.
func (m *Manager) Get(_ context.Context, id string) (*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	md, ok := m.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	md.mu.Lock()
	defer md.mu.Unlock()
	return md.def.DeepCopy(), nil
}

// List returns isolated copies of all device definitions sorted by name.
func (m *Manager) List(_ context.Context) []*Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Device, 0, len(m.devices))
	for _, md := range m.devices {
		md.mu.Lock()
		out = append(out, md.def.DeepCopy())
		md.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Status returns the runtime status of a device.
func (m *Manager) Status(id string) (Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	md, ok := m.devices[id]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	md.mu.Lock()
	defer md.mu.Unlock()
	return Status{
		DeviceID:     id,
		State:        md.state,
		StateChanged: md.stateChanged,
		LastError:    md.lastError,
	}, nil
}

// ReadPoint returns the most recent observed sample for a point without
// touching the adapter. Returns ErrNoSample until the first reading for
// that point arrives.
func (m *Manager) ReadPoint(id, pointID string) (PointSample, error) {
	m.mu.RLock()
	md, ok := m.devices[id]
	m.mu.RUnlock()
	if !ok {
		return PointSample{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	md.mu.Lock()
	defer md.mu.Unlock()
	if md.def.Point(pointID) == nil {
		return PointSample{}, fmt.Errorf("%w: %s/%s", ErrPointNotFound, id, pointID)
	}
	s, seen := md.last[pointID]
	if !seen {
		return PointSample{}, fmt.Errorf("%w: %s/%s", ErrNoSample, id, pointID)
	}
	return PointSample{Value: s.value, Quality: s.quality, Timestamp: s.ts}, nil
}

// Escalate forces a connected device through the error and reconnect
// cycle. The poll scheduler calls this when consecutive whole-device
// read failures cross its threshold.
func (m *Manager) Escalate(id, reason string) error {
	m.mu.RLock()
	md, ok := m.devices[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	md.mu.Lock()
	md.lastError = reason
	md.mu.Unlock()
	signalLost(md)
	m.logger.Warn("device escalated", "device", id, "reason", reason)
	return nil
}

// Update stores a changed definition and hot-reloads the runner.
// Point history survives for point IDs present in both versions, so
// change detection and stale marking stay coherent across a reload.
func (m *Manager) Update(ctx context.Context, d *Device) (*Device, error) {
	d = d.DeepCopy()
	for _, pt := range d.Points {
		if pt.ID == "" {
			pt.ID = GenerateID()
		}
		pt.DeviceID = d.ID
	}
	if err := Validate(d); err != nil {
		return nil, err
	}

	m.mu.RLock()
	md, ok := m.devices[d.ID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, d.ID)
	}

	adap, err := m.buildAdapter(d)
	if err != nil {
		return nil, err
	}

	d.UpdatedAt = time.Now().UTC()
	md.mu.Lock()
	d.CreatedAt = md.def.CreatedAt
	md.mu.Unlock()

	if err := m.repo.Update(ctx, d); err != nil {
		return nil, err
	}

	m.stopRunner(md)

	md.mu.Lock()
	// Carry history for surviving points only.
	kept := make(map[string]lastSample)
	for _, pt := range d.Points {
		if s, ok := md.last[pt.ID]; ok {
			kept[pt.ID] = s
		}
	}
	md.def = d
	md.adap = adap
	md.last = kept
	md.pendingHops = make(map[string]int)
	md.state = StateCreated
	md.stateChanged = time.Now()
	md.lastError = ""
	md.mu.Unlock()

	m.mu.Lock()
	if m.started {
		m.startRunnerLocked(md)
	}
	m.mu.Unlock()

	m.logger.Info("device reloaded", "device", d.ID)
	return d.DeepCopy(), nil
}

// Delete stops a device and removes it permanently.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	md, ok := m.devices[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.devices, id)
	m.mu.Unlock()

	m.stopRunner(md)
	m.setState(md, StateRemoved)

	if err := m.repo.Delete(ctx, id); err != nil {
		return err
	}
	m.logger.Info("device deleted", "device", id)
	return nil
}

// SetEnabled starts or stops a device without changing its definition.
func (m *Manager) SetEnabled(ctx context.Context, id string, enabled bool) error {
	m.mu.RLock()
	md, ok := m.devices[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	md.mu.Lock()
	if md.def.Enabled == enabled {
		md.mu.Unlock()
		return nil
	}
	def := md.def.DeepCopy()
	md.mu.Unlock()

	def.Enabled = enabled
	def.UpdatedAt = time.Now().UTC()
	if err := m.repo.Update(ctx, def); err != nil {
		return err
	}

	if enabled {
		md.mu.Lock()
		md.def = def
		md.state = StateCreated
		md.lastError = ""
		md.mu.Unlock()
		m.mu.Lock()
		if m.started {
			m.startRunnerLocked(md)
		}
		m.mu.Unlock()
	} else {
		m.stopRunner(md)
		md.mu.Lock()
		md.def = def
		md.state = StateDisconnected
		md.stateChanged = time.Now()
		md.mu.Unlock()
	}
	m.logger.Info("device enabled flag changed", "device", id, "enabled", enabled)
	return nil
}

// PollTargets lists enabled poll-driven devices and their intervals.
// Devices fed by a push subscription are excluded.
func (m *Manager) PollTargets() []PollTarget {
	m.mu.RLock()
	defer m.mu.RUnlock()
	targets := make([]PollTarget, 0, len(m.devices))
	for id, md := range m.devices {
		md.mu.Lock()
		enabled := md.def.Enabled
		push := md.push
		interval := time.Duration(md.def.PollInterval) * time.Millisecond
		md.mu.Unlock()
		if !enabled || push {
			continue
		}
		if interval <= 0 {
			interval = m.opts.DefaultPollInterval
		}
		targets = append(targets, PollTarget{DeviceID: id, Interval: interval})
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].DeviceID < targets[j].DeviceID })
	return targets
}

// Poll reads every readable point of a connected device and emits the
// resulting events. Returns ErrNotConnected while the session is down.
func (m *Manager) Poll(ctx context.Context, id string) error {
	m.mu.RLock()
	md, ok := m.devices[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	md.mu.Lock()
	state := md.state
	adap := md.adap
	points := md.def.ReadablePoints()
	md.mu.Unlock()

	if state != StateConnected {
		return fmt.Errorf("%w: %s is %s", ErrNotConnected, id, state)
	}
	if len(points) == 0 {
		return nil
	}

	readings, err := adap.Read(ctx, points)
	for _, r := range readings {
		m.ingest(md, r)
	}
	if err != nil {
		md.mu.Lock()
		md.lastError = err.Error()
		md.mu.Unlock()
		if adapter.IsConnectionLost(err) {
			signalLost(md)
		}
		return err
	}
	return nil
}

// WritePoint sends a value to a writable point of a connected device.
// hops is carried into the event the write-back produces; pass zero for
// operator writes.
func (m *Manager) WritePoint(ctx context.Context, deviceID, pointID string, value interface{}, hops int) error {
	m.mu.RLock()
	md, ok := m.devices[deviceID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, deviceID)
	}

	md.mu.Lock()
	pt := md.def.Point(pointID)
	state := md.state
	adap := md.adap
	md.mu.Unlock()

	if pt == nil {
		return fmt.Errorf("%w: %s/%s", ErrPointNotFound, deviceID, pointID)
	}
	if !pt.Access.Writable() {
		return fmt.Errorf("%w: %s/%s", ErrNotWritable, deviceID, pointID)
	}
	if state != StateConnected {
		return fmt.Errorf("%w: %s is %s", ErrNotConnected, deviceID, state)
	}
	if err := pt.CheckValue(value); err != nil {
		return err
	}

	if err := adap.Write(ctx, pt, value); err != nil {
		md.mu.Lock()
		md.lastError = err.Error()
		md.mu.Unlock()
		if adapter.IsConnectionLost(err) {
			signalLost(md)
		}
		return err
	}

	if hops > 0 {
		md.mu.Lock()
		md.pendingHops[pointID] = hops
		md.mu.Unlock()
	}
	m.logger.Debug("point written", "device", deviceID, "point", pointID, "hops", hops)
	return nil
}

func (m *Manager) buildAdapter(d *Device) (adapter.Adapter, error) {
	adap, err := m.factory(d.Protocol, d.Config, m.logger)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", d.Slug, err)
	}
	return adap, nil
}

func (m *Manager) newManaged(d *Device) (*managedDevice, error) {
	adap, err := m.buildAdapter(d)
	if err != nil {
		return nil, err
	}
	return &managedDevice{
		def:         d,
		adap:        adap,
		state:       StateCreated,
		last:        make(map[string]lastSample),
		pendingHops: make(map[string]int),
		emitter:     m.bus.Emitter(d.ID),
		lost:        make(chan struct{}, 1),
	}, nil
}

// newBroken registers a device whose adapter could not be built so it
// is visible in listings with an error state.
func (m *Manager) newBroken(d *Device, err error) *managedDevice {
	return &managedDevice{
		def:          d,
		state:        StateError,
		stateChanged: time.Now(),
		lastError:    err.Error(),
		last:         make(map[string]lastSample),
		pendingHops:  make(map[string]int),
		emitter:      m.bus.Emitter(d.ID),
		lost:         make(chan struct{}, 1),
	}
}
