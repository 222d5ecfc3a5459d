package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	gomodbus "github.com/goburrow/modbus"

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

// handler abstracts the two goburrow transports so Connect/Close are uniform.
type handler interface {
	Connect() error
	Close() error
}

// Adapter reads and writes Modbus TCP or RTU devices.
//
// The Modbus transports are strictly request/response, so all requests
// are serialized behind a mutex. Consecutive request timeouts beyond the
// configured threshold are reported as a lost connection so the device
// runner reconnects.
type Adapter struct {
	cfg    Config
	logger Logger

	mu      sync.Mutex
	handler handler
	client  gomodbus.Client

	consecutiveTimeouts int
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

// Connect opens the underlying transport.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	timeout := time.Duration(a.cfg.Timeout) * time.Millisecond

	switch a.cfg.Mode {
	case ModeTCP:
		h := gomodbus.NewTCPClientHandler(a.cfg.Address)
		h.Timeout = timeout
		h.SlaveId = byte(a.cfg.SlaveID)
		a.handler = h
		a.client = gomodbus.NewClient(h)
	case ModeRTU:
		h := gomodbus.NewRTUClientHandler(a.cfg.Address)
		h.Timeout = timeout
		h.SlaveId = byte(a.cfg.SlaveID)
		h.BaudRate = a.cfg.BaudRate
		h.DataBits = a.cfg.DataBits
		h.Parity = a.cfg.Parity
		h.StopBits = a.cfg.StopBits
		a.handler = h
		a.client = gomodbus.NewClient(h)
	}

	if err := a.handler.Connect(); err != nil {
		return adapter.NewError(adapter.KindConnectionLost, "modbus.connect", err)
	}
	a.consecutiveTimeouts = 0
	return nil
}

// Disconnect closes the transport. Safe when not connected.
func (a *Adapter) Disconnect(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handler == nil {
		return nil
	}
	err := a.handler.Close()
	a.handler = nil
	a.client = nil
	if err != nil {
		return adapter.NewError(adapter.KindUnknown, "modbus.disconnect", err)
	}
	return nil
}

// Read samples each point with one request, retrying transient failures
// per the configured retry count. Undecodable points come back with bad
// quality; a lost connection aborts the pass.
func (a *Adapter) Read(ctx context.Context, points []*point.Point) ([]adapter.Reading, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return nil, adapter.NewError(adapter.KindConnectionLost, "modbus.read", errors.New("not connected"))
	}

	readings := make([]adapter.Reading, 0, len(points))
	for _, pt := range points {
		if err := ctx.Err(); err != nil {
			return readings, adapter.NewError(adapter.KindTimeout, "modbus.read", err)
		}

		value, err := a.readPoint(pt)
		now := time.Now()
		if err != nil {
			if adapter.IsConnectionLost(err) {
				return readings, err
			}
			a.logger.Debug("modbus read failed", "point", pt.ID, "error", err)
			readings = append(readings, adapter.Reading{
				PointID:   pt.ID,
				Quality:   point.QualityBad,
				Timestamp: now,
			})
			continue
		}
		if num, ok := value.(float64); ok {
			value = pt.ApplyScale(num)
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

// readPoint issues one request with retries and decodes the response.
func (a *Adapter) readPoint(pt *point.Point) (interface{}, error) {
	reg, offset, err := parseAddress(pt.Address)
	if err != nil {
		return nil, adapter.NewError(adapter.KindUnsupported, "modbus.read", err)
	}

	var lastErr error
	for attempt := 0; attempt <= a.cfg.Retries; attempt++ {
		value, err := a.request(reg, offset, pt.DataType)
		if err == nil {
			a.consecutiveTimeouts = 0
			return value, nil
		}
		lastErr = err
		if adapter.KindOf(err) != adapter.KindTimeout {
			return nil, err
		}
	}

	// Every attempt timed out.
	a.consecutiveTimeouts++
	if a.consecutiveTimeouts >= a.cfg.TimeoutThreshold {
		return nil, adapter.NewError(adapter.KindConnectionLost, "modbus.read",
			fmt.Errorf("%d consecutive timeouts: %w", a.consecutiveTimeouts, lastErr))
	}
	return nil, lastErr
}

func (a *Adapter) request(reg region, offset uint16, dt point.DataType) (interface{}, error) {
	switch reg {
	case regionCoil, regionDiscrete:
		var data []byte
		var err error
		if reg == regionCoil {
			data, err = a.client.ReadCoils(offset, 1)
		} else {
			data, err = a.client.ReadDiscreteInputs(offset, 1)
		}
		if err != nil {
			return nil, classify("modbus.read", err)
		}
		if len(data) == 0 {
			return nil, adapter.NewError(adapter.KindMalformed, "modbus.read", errors.New("empty response"))
		}
		return data[0]&0x01 == 1, nil

	default:
		count, err := registerCount(dt)
		if err != nil {
			return nil, adapter.NewError(adapter.KindUnsupported, "modbus.read", err)
		}
		var data []byte
		if reg == regionHolding {
			data, err = a.client.ReadHoldingRegisters(offset, count)
		} else {
			data, err = a.client.ReadInputRegisters(offset, count)
		}
		if err != nil {
			return nil, classify("modbus.read", err)
		}
		value, err := decodeRegisters(dt, data)
		if err != nil {
			return nil, adapter.NewError(adapter.KindMalformed, "modbus.read", err)
		}
		return value, nil
	}
}

// Write sends a value to one coil or holding register group.
func (a *Adapter) Write(ctx context.Context, pt *point.Point, value interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return adapter.NewError(adapter.KindConnectionLost, "modbus.write", errors.New("not connected"))
	}
	if err := ctx.Err(); err != nil {
		return adapter.NewError(adapter.KindTimeout, "modbus.write", err)
	}

	reg, offset, err := parseAddress(pt.Address)
	if err != nil {
		return adapter.NewError(adapter.KindUnsupported, "modbus.write", err)
	}

	switch reg {
	case regionCoil:
		on, ok := value.(bool)
		if !ok {
			return adapter.NewError(adapter.KindUnsupported, "modbus.write",
				fmt.Errorf("coil write needs bool, got %T", value))
		}
		var coil uint16
		if on {
			coil = 0xFF00
		}
		if _, err := a.client.WriteSingleCoil(offset, coil); err != nil {
			return classify("modbus.write", err)
		}
		return nil

	case regionHolding:
		num, ok := toFloat(value)
		if !ok {
			return adapter.NewError(adapter.KindUnsupported, "modbus.write",
				fmt.Errorf("register write needs numeric, got %T", value))
		}
		raw := pt.ReverseScale(num)
		data, err := encodeRegisters(pt.DataType, raw)
		if err != nil {
			return adapter.NewError(adapter.KindUnsupported, "modbus.write", err)
		}
		count := uint16(len(data) / 2)
		if count == 1 {
			_, err = a.client.WriteSingleRegister(offset, binary.BigEndian.Uint16(data))
		} else {
			_, err = a.client.WriteMultipleRegisters(offset, count, data)
		}
		if err != nil {
			return classify("modbus.write", err)
		}
		return nil

	default:
		return adapter.NewError(adapter.KindUnsupported, "modbus.write",
			fmt.Errorf("region of %q is read-only", pt.Address))
	}
}

// classify maps goburrow errors onto the shared failure taxonomy.
func classify(op string, err error) error {
	var mbErr *gomodbus.ModbusError
	if errors.As(err, &mbErr) {
		// Exception responses mean the device is alive but rejected
		// the request.
		switch mbErr.ExceptionCode {
		case gomodbus.ExceptionCodeIllegalFunction,
			gomodbus.ExceptionCodeIllegalDataAddress,
			gomodbus.ExceptionCodeIllegalDataValue:
			return adapter.NewError(adapter.KindUnsupported, op, err)
		default:
			return adapter.NewError(adapter.KindMalformed, op, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return adapter.NewError(adapter.KindTimeout, op, err)
	}

	return adapter.NewError(adapter.KindConnectionLost, op, err)
}
