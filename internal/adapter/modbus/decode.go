package modbus

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/fieldline-io/fieldline-core/internal/point"
)

// registerCount returns how many 16-bit registers a data type occupies.
func registerCount(dt point.DataType) (uint16, error) {
	switch dt {
	case point.TypeBool, point.TypeInt16, point.TypeUint16:
		return 1, nil
	case point.TypeInt32, point.TypeUint32, point.TypeFloat32:
		return 2, nil
	case point.TypeFloat64:
		return 4, nil
	default:
		return 0, fmt.Errorf("modbus: data type %q not representable in registers", dt)
	}
}

// decodeRegisters converts big-endian register bytes into the point's
// data type. Numeric results are float64 so scale/offset can apply.
func decodeRegisters(dt point.DataType, data []byte) (interface{}, error) {
	need, err := registerCount(dt)
	if err != nil {
		return nil, err
	}
	if len(data) < int(need)*2 {
		return nil, fmt.Errorf("modbus: short response: %d bytes for %q", len(data), dt)
	}

	switch dt {
	case point.TypeBool:
		return binary.BigEndian.Uint16(data) != 0, nil
	case point.TypeInt16:
		return float64(int16(binary.BigEndian.Uint16(data))), nil
	case point.TypeUint16:
		return float64(binary.BigEndian.Uint16(data)), nil
	case point.TypeInt32:
		return float64(int32(binary.BigEndian.Uint32(data))), nil
	case point.TypeUint32:
		return float64(binary.BigEndian.Uint32(data)), nil
	case point.TypeFloat32:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(data))), nil
	case point.TypeFloat64:
		return math.Float64frombits(binary.BigEndian.Uint64(data)), nil
	default:
		return nil, fmt.Errorf("modbus: cannot decode %q", dt)
	}
}

// encodeRegisters converts a raw numeric value into big-endian register
// bytes for a write.
func encodeRegisters(dt point.DataType, raw float64) ([]byte, error) {
	switch dt {
	case point.TypeInt16:
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, uint16(int16(raw)))
		return buf, nil
	case point.TypeUint16:
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, uint16(raw))
		return buf, nil
	case point.TypeInt32:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(int32(raw)))
		return buf, nil
	case point.TypeUint32:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(raw))
		return buf, nil
	case point.TypeFloat32:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, math.Float32bits(float32(raw)))
		return buf, nil
	case point.TypeFloat64:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, math.Float64bits(raw))
		return buf, nil
	default:
		return nil, fmt.Errorf("modbus: cannot encode %q", dt)
	}
}

// toFloat normalizes the value forms writes arrive in.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	default:
		return 0, false
	}
}
