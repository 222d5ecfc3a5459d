package opcua

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gopcua "github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/fieldline-io/fieldline-core/internal/adapter"
	"github.com/fieldline-io/fieldline-core/internal/point"
)

// Logger is the minimal logging interface the adapter needs.
type Logger interface {
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Debug(string, ...any) {}

// Adapter reads and writes OPC-UA servers. Point addresses are node IDs
// ("ns=2;s=Channel1.Device1.Tag1").
//
// With a subscription interval configured the adapter also implements
// push delivery through monitored items. A keep-alive watchdog tracks
// publish traffic; when the server misses too many intervals the
// subscription loop returns a connection-lost error so the device
// runner reconnects.
type Adapter struct {
	cfg    Config
	logger Logger

	mu     sync.Mutex
	client *gopcua.Client
}

// New creates an adapter from validated config.
func New(cfg Config, logger Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Adapter{cfg: cfg, logger: logger}, nil
}

// Connect establishes the secure channel and session.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	opts := []gopcua.Option{
		gopcua.RequestTimeout(time.Duration(a.cfg.Timeout) * time.Millisecond),
	}
	if a.cfg.SecurityPolicy != "" {
		opts = append(opts, gopcua.SecurityPolicy(a.cfg.SecurityPolicy))
	}
	if a.cfg.SecurityMode != "" {
		opts = append(opts, gopcua.SecurityModeString(a.cfg.SecurityMode))
	}
	if a.cfg.Username != "" {
		opts = append(opts, gopcua.AuthUsername(a.cfg.Username, a.cfg.Password))
	}

	client, err := gopcua.NewClient(a.cfg.Endpoint, opts...)
	if err != nil {
		return adapter.NewError(adapter.KindUnsupported, "opcua.connect", err)
	}
	if err := client.Connect(ctx); err != nil {
		return classify("opcua.connect", err)
	}
	a.client = client
	return nil
}

// Disconnect closes the session. Safe when not connected.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return nil
	}
	err := a.client.Close(ctx)
	a.client = nil
	if err != nil {
		return adapter.NewError(adapter.KindUnknown, "opcua.disconnect", err)
	}
	return nil
}

// Read samples all points in a single ReadRequest. Per-node status
// failures come back as bad quality; a failed request aborts the pass.
func (a *Adapter) Read(ctx context.Context, points []*point.Point) ([]adapter.Reading, error) {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	if client == nil {
		return nil, adapter.NewError(adapter.KindConnectionLost, "opcua.read", errors.New("not connected"))
	}

	nodes := make([]*ua.ReadValueID, 0, len(points))
	valid := make([]*point.Point, 0, len(points))
	readings := make([]adapter.Reading, 0, len(points))
	now := time.Now()

	for _, pt := range points {
		id, err := ua.ParseNodeID(pt.Address)
		if err != nil {
			a.logger.Debug("opcua bad node id", "point", pt.ID, "address", pt.Address)
			readings = append(readings, adapter.Reading{PointID: pt.ID, Quality: point.QualityBad, Timestamp: now})
			continue
		}
		nodes = append(nodes, &ua.ReadValueID{NodeID: id})
		valid = append(valid, pt)
	}
	if len(nodes) == 0 {
		return readings, nil
	}

	req := &ua.ReadRequest{
		TimestampsToReturn: ua.TimestampsToReturnSource,
		NodesToRead:        nodes,
	}
	resp, err := client.Read(ctx, req)
	if err != nil {
		return readings, classify("opcua.read", err)
	}
	if len(resp.Results) != len(valid) {
		return readings, adapter.NewError(adapter.KindMalformed, "opcua.read",
			fmt.Errorf("%d results for %d nodes", len(resp.Results), len(valid)))
	}

	for i, dv := range resp.Results {
		pt := valid[i]
		readings = append(readings, readingFromDataValue(pt, dv))
	}
	return readings, nil
}

// readingFromDataValue converts one DataValue into a Reading, applying
// the point's linear scaling to numeric values.
func readingFromDataValue(pt *point.Point, dv *ua.DataValue) adapter.Reading {
	ts := dv.SourceTimestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	if dv.Status != ua.StatusOK || dv.Value == nil {
		return adapter.Reading{PointID: pt.ID, Quality: point.QualityBad, Timestamp: ts}
	}

	value := dv.Value.Value()
	if num, ok := toFloat(value); ok {
		if pt.DataType.Numeric() {
			value = pt.ApplyScale(num)
		} else if pt.DataType == point.TypeBool {
			value = num != 0
		}
	}
	return adapter.Reading{PointID: pt.ID, Value: value, Quality: point.QualityGood, Timestamp: ts}
}

// Write sends a value to one node.
func (a *Adapter) Write(ctx context.Context, pt *point.Point, value interface{}) error {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	if client == nil {
		return adapter.NewError(adapter.KindConnectionLost, "opcua.write", errors.New("not connected"))
	}

	id, err := ua.ParseNodeID(pt.Address)
	if err != nil {
		return adapter.NewError(adapter.KindUnsupported, "opcua.write", err)
	}

	if num, ok := toFloat(value); ok && pt.DataType.Numeric() {
		value = pt.ReverseScale(num)
	}
	variant, err := ua.NewVariant(value)
	if err != nil {
		return adapter.NewError(adapter.KindUnsupported, "opcua.write", err)
	}

	req := &ua.WriteRequest{
		NodesToWrite: []*ua.WriteValue{{
			NodeID:      id,
			AttributeID: ua.AttributeIDValue,
			Value: &ua.DataValue{
				EncodingMask: ua.DataValueValue,
				Value:        variant,
			},
		}},
	}
	resp, err := client.Write(ctx, req)
	if err != nil {
		return classify("opcua.write", err)
	}
	if len(resp.Results) > 0 && resp.Results[0] != ua.StatusOK {
		return statusError("opcua.write", resp.Results[0])
	}
	return nil
}

// Subscribe creates a subscription with one monitored item per readable
// point and blocks, pushing data changes to fn. A keep-alive watchdog
// returns a connection-lost error when the server stops publishing.
func (a *Adapter) Subscribe(ctx context.Context, points []*point.Point, fn adapter.SubscribeFunc) error {
	if a.cfg.SubscriptionInterval <= 0 {
		return adapter.NewError(adapter.KindUnsupported, "opcua.subscribe", errors.New("subscriptions disabled"))
	}
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	if client == nil {
		return adapter.NewError(adapter.KindConnectionLost, "opcua.subscribe", errors.New("not connected"))
	}

	interval := time.Duration(a.cfg.SubscriptionInterval) * time.Millisecond
	notifyCh := make(chan *gopcua.PublishNotificationData, 16)
	sub, err := client.Subscribe(ctx, &gopcua.SubscriptionParameters{Interval: interval}, notifyCh)
	if err != nil {
		return classify("opcua.subscribe", err)
	}
	defer sub.Cancel(ctx)

	// Client handles index into byHandle.
	byHandle := make(map[uint32]*point.Point)
	var handle uint32
	for _, pt := range points {
		if !pt.Access.Readable() {
			continue
		}
		id, err := ua.ParseNodeID(pt.Address)
		if err != nil {
			a.logger.Warn("opcua bad node id, not monitored", "point", pt.ID, "address", pt.Address)
			continue
		}
		handle++
		byHandle[handle] = pt
		req := gopcua.NewMonitoredItemCreateRequestWithDefaults(id, ua.AttributeIDValue, handle)
		if _, err := sub.Monitor(ctx, ua.TimestampsToReturnSource, req); err != nil {
			return classify("opcua.subscribe", err)
		}
	}

	// Watchdog: publish traffic (including keep-alives) must arrive at
	// least once per interval.
	deadline := interval * time.Duration(a.cfg.KeepAliveMisses)
	watchdog := time.NewTimer(deadline)
	defer watchdog.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-watchdog.C:
			return adapter.NewError(adapter.KindConnectionLost, "opcua.subscribe",
				fmt.Errorf("no publish traffic for %v", deadline))

		case notif, ok := <-notifyCh:
			if !ok {
				return adapter.NewError(adapter.KindConnectionLost, "opcua.subscribe", errors.New("notification channel closed"))
			}
			if !watchdog.Stop() {
				select {
				case <-watchdog.C:
				default:
				}
			}
			watchdog.Reset(deadline)

			if notif.Error != nil {
				a.logger.Warn("opcua publish error", "error", notif.Error)
				continue
			}
			a.dispatch(notif, byHandle, fn)
		}
	}
}

func (a *Adapter) dispatch(notif *gopcua.PublishNotificationData, byHandle map[uint32]*point.Point, fn adapter.SubscribeFunc) {
	dcn, ok := notif.Value.(*ua.DataChangeNotification)
	if !ok {
		return
	}
	for _, item := range dcn.MonitoredItems {
		pt, ok := byHandle[item.ClientHandle]
		if !ok {
			continue
		}
		fn(readingFromDataValue(pt, item.Value))
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// classify maps gopcua errors onto the shared failure taxonomy.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return adapter.NewError(adapter.KindTimeout, op, err)
	case errors.Is(err, ua.StatusBadUserAccessDenied),
		errors.Is(err, ua.StatusBadIdentityTokenInvalid),
		errors.Is(err, ua.StatusBadIdentityTokenRejected),
		errors.Is(err, ua.StatusBadCertificateInvalid):
		return adapter.NewError(adapter.KindUnauthorized, op, err)
	case errors.Is(err, ua.StatusBadTimeout),
		errors.Is(err, ua.StatusBadRequestTimeout):
		return adapter.NewError(adapter.KindTimeout, op, err)
	case errors.Is(err, ua.StatusBadNodeIDUnknown),
		errors.Is(err, ua.StatusBadNodeIDInvalid),
		errors.Is(err, ua.StatusBadNotWritable),
		errors.Is(err, ua.StatusBadNotReadable):
		return adapter.NewError(adapter.KindUnsupported, op, err)
	default:
		return adapter.NewError(adapter.KindConnectionLost, op, err)
	}
}

// statusError maps a write status code onto the shared failure taxonomy.
func statusError(op string, status ua.StatusCode) error {
	switch status {
	case ua.StatusBadUserAccessDenied:
		return adapter.NewError(adapter.KindUnauthorized, op, status)
	case ua.StatusBadNodeIDUnknown, ua.StatusBadNotWritable, ua.StatusBadTypeMismatch:
		return adapter.NewError(adapter.KindUnsupported, op, status)
	default:
		return adapter.NewError(adapter.KindMalformed, op, status)
	}
}
