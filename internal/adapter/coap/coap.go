package coap

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/message/pool"
	"github.com/plgd-dev/go-coap/v3/udp"
	udpclient "github.com/plgd-dev/go-coap/v3/udp/client"

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

// Adapter reads and writes CoAP-over-UDP devices. Point addresses are
// resource paths ("/sensors/temp").
//
// When observe is enabled in config the adapter also implements
// push delivery: observe registrations are (re)established on every
// Subscribe call, and notification sequence numbers are deduplicated
// per RFC 7641 ordering.
type Adapter struct {
	cfg    Config
	logger Logger

	mu           sync.Mutex
	conn         *udpclient.Conn
	observations []interface{ Cancel(context.Context, ...message.Option) error }

	// lastSeq tracks the newest observe sequence per path.
	lastSeq map[string]uint32
	seen    map[string]bool
}

// New creates an adapter from validated config.
func New(cfg Config, logger Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Adapter{
		cfg:     cfg,
		logger:  logger,
		lastSeq: make(map[string]uint32),
		seen:    make(map[string]bool),
	}, nil
}

// Connect dials the UDP endpoint.
func (a *Adapter) Connect(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	conn, err := udp.Dial(a.cfg.target())
	if err != nil {
		return adapter.NewError(adapter.KindConnectionLost, "coap.connect", err)
	}
	a.conn = conn
	a.lastSeq = make(map[string]uint32)
	a.seen = make(map[string]bool)
	return nil
}

// Disconnect cancels observations and closes the connection.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return nil
	}
	for _, obs := range a.observations {
		_ = obs.Cancel(ctx)
	}
	a.observations = nil
	err := a.conn.Close()
	a.conn = nil
	if err != nil {
		return adapter.NewError(adapter.KindUnknown, "coap.disconnect", err)
	}
	return nil
}

// Read issues one GET per point. Undecodable or rejected resources come
// back with bad quality; transport failures abort the pass.
func (a *Adapter) Read(ctx context.Context, points []*point.Point) ([]adapter.Reading, error) {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return nil, adapter.NewError(adapter.KindConnectionLost, "coap.read", errors.New("not connected"))
	}

	readings := make([]adapter.Reading, 0, len(points))
	for _, pt := range points {
		value, err := a.get(ctx, conn, pt)
		now := time.Now()
		if err != nil {
			if adapter.IsConnectionLost(err) {
				return readings, err
			}
			a.logger.Debug("coap read failed", "point", pt.ID, "error", err)
			readings = append(readings, adapter.Reading{
				PointID:   pt.ID,
				Quality:   point.QualityBad,
				Timestamp: now,
			})
			continue
		}
		readings = append(readings, adapter.Reading{
			PointID:   pt.ID,
			Value:     value,
			Quality:   point.QualityGood,
			Timestamp: now,
		})
	}
	return readings, nil
}

func (a *Adapter) get(ctx context.Context, conn *udpclient.Conn, pt *point.Point) (interface{}, error) {
	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(a.cfg.Timeout)*time.Millisecond)
	defer cancel()

	resp, err := conn.Get(reqCtx, pt.Address)
	if err != nil {
		return nil, classify("coap.read", err)
	}
	if resp.Code() != codes.Content {
		return nil, codeError("coap.read", resp.Code())
	}
	body, err := resp.ReadBody()
	if err != nil {
		return nil, adapter.NewError(adapter.KindMalformed, "coap.read", err)
	}
	return a.decode(pt, body)
}

func (a *Adapter) decode(pt *point.Point, body []byte) (interface{}, error) {
	value, err := decodePayload(pt.DataType, body)
	if err != nil {
		return nil, adapter.NewError(adapter.KindMalformed, "coap.read", err)
	}
	if num, ok := value.(float64); ok {
		value = pt.ApplyScale(num)
	}
	return value, nil
}

// Write issues a PUT with a text payload.
func (a *Adapter) Write(ctx context.Context, pt *point.Point, value interface{}) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return adapter.NewError(adapter.KindConnectionLost, "coap.write", errors.New("not connected"))
	}

	if num, ok := toFloat(value); ok && pt.DataType.Numeric() {
		value = pt.ReverseScale(num)
	}
	payload, err := encodePayload(pt.DataType, value)
	if err != nil {
		return adapter.NewError(adapter.KindUnsupported, "coap.write", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(a.cfg.Timeout)*time.Millisecond)
	defer cancel()

	resp, err := conn.Put(reqCtx, pt.Address, message.TextPlain, bytes.NewReader(payload))
	if err != nil {
		return classify("coap.write", err)
	}
	switch resp.Code() {
	case codes.Changed, codes.Created, codes.Content:
		return nil
	default:
		return codeError("coap.write", resp.Code())
	}
}

// Subscribe registers an observe for every readable point and pushes
// deduplicated notifications to fn. It blocks until ctx is cancelled
// or the connection closes.
func (a *Adapter) Subscribe(ctx context.Context, points []*point.Point, fn adapter.SubscribeFunc) error {
	if !a.cfg.Observe {
		return adapter.NewError(adapter.KindUnsupported, "coap.subscribe", errors.New("observe disabled"))
	}

	a.mu.Lock()
	conn := a.conn
	if conn == nil {
		a.mu.Unlock()
		return adapter.NewError(adapter.KindConnectionLost, "coap.subscribe", errors.New("not connected"))
	}

	for _, pt := range points {
		if !pt.Access.Readable() {
			continue
		}
		pt := pt
		obs, err := conn.Observe(ctx, pt.Address, func(msg *pool.Message) {
			a.handleNotification(pt, msg, fn)
		})
		if err != nil {
			a.mu.Unlock()
			return classify("coap.subscribe", err)
		}
		a.observations = append(a.observations, obs)
	}
	a.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil
	case <-conn.Done():
		return adapter.NewError(adapter.KindConnectionLost, "coap.subscribe", errors.New("connection closed"))
	}
}

func (a *Adapter) handleNotification(pt *point.Point, msg *pool.Message, fn adapter.SubscribeFunc) {
	seq, err := msg.Observe()
	if err == nil && !a.acceptSeq(pt.Address, seq) {
		a.logger.Debug("coap stale notification dropped", "point", pt.ID, "seq", seq)
		return
	}

	body, err := msg.ReadBody()
	if err != nil {
		a.logger.Warn("coap notification body unreadable", "point", pt.ID, "error", err)
		return
	}
	value, err := a.decode(pt, body)
	now := time.Now()
	if err != nil {
		fn(adapter.Reading{PointID: pt.ID, Quality: point.QualityBad, Timestamp: now})
		return
	}
	fn(adapter.Reading{PointID: pt.ID, Value: value, Quality: point.QualityGood, Timestamp: now})
}

// acceptSeq applies RFC 7641 sequence ordering, dropping reordered
// notifications.
func (a *Adapter) acceptSeq(path string, seq uint32) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.seen[path] {
		a.seen[path] = true
		a.lastSeq[path] = seq
		return true
	}
	last := a.lastSeq[path]
	if newerSeq(last, seq) {
		a.lastSeq[path] = seq
		return true
	}
	return false
}

// newerSeq reports whether b is fresher than a under 24-bit serial
// arithmetic.
func newerSeq(a, b uint32) bool {
	const window = 1 << 23
	if b > a {
		return b-a < window
	}
	return a-b > window
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// classify maps transport errors onto the shared failure taxonomy.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return adapter.NewError(adapter.KindTimeout, op, err)
	case errors.Is(err, context.Canceled):
		return adapter.NewError(adapter.KindTimeout, op, err)
	default:
		return adapter.NewError(adapter.KindConnectionLost, op, err)
	}
}

// codeError maps CoAP response codes onto the shared failure taxonomy.
func codeError(op string, code codes.Code) error {
	kind := adapter.KindUnsupported
	switch code {
	case codes.Unauthorized, codes.Forbidden:
		kind = adapter.KindUnauthorized
	case codes.BadRequest, codes.NotFound, codes.MethodNotAllowed, codes.NotAcceptable:
		kind = adapter.KindUnsupported
	case codes.InternalServerError, codes.ServiceUnavailable, codes.GatewayTimeout:
		kind = adapter.KindMalformed
	}
	return adapter.NewError(kind, op, errors.New(code.String()))
}
