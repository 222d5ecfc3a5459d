package point

import (
	"errors"
	"fmt"
)

// Validation errors.
var (
	ErrInvalidDataType = errors.New("point: invalid data type")
	ErrInvalidAccess   = errors.New("point: invalid access mode")
	ErrEmptyAddress    = errors.New("point: address must not be empty")
	ErrEmptyName       = errors.New("point: name must not be empty")
	ErrValueMismatch   = errors.New("point: value does not match data type")
)

// Quality marks the trustworthiness of a sampled value.
type Quality string

const (
	// QualityGood marks a fresh, successfully decoded sample.
	QualityGood Quality = "good"

	// QualityBad marks a sample that failed to read or decode.
	QualityBad Quality = "bad"

	// QualityStale marks the last known value after a device lost its connection.
	QualityStale Quality = "stale"
)

// DataType identifies the decoded Go representation of a point value.
type DataType string

const (
	TypeBool    DataType = "bool"
	TypeInt16   DataType = "int16"
	TypeUint16  DataType = "uint16"
	TypeInt32   DataType = "int32"
	TypeUint32  DataType = "uint32"
	TypeFloat32 DataType = "float32"
	TypeFloat64 DataType = "float64"
	TypeString  DataType = "string"
)

// Valid reports whether dt is a known data type.
func (dt DataType) Valid() bool {
	switch dt {
	case TypeBool, TypeInt16, TypeUint16, TypeInt32, TypeUint32, TypeFloat32, TypeFloat64, TypeString:
		return true
	}
	return false
}

// Numeric reports whether values of this type participate in scale/offset
// conversion and numeric rule operators.
func (dt DataType) Numeric() bool {
	switch dt {
	case TypeInt16, TypeUint16, TypeInt32, TypeUint32, TypeFloat32, TypeFloat64:
		return true
	}
	return false
}

// Access describes the direction a point supports.
type Access string

const (
	AccessRead      Access = "r"
	AccessWrite     Access = "w"
	AccessReadWrite Access = "rw"
)

// Valid reports whether a is a known access mode.
func (a Access) Valid() bool {
	return a == AccessRead || a == AccessWrite || a == AccessReadWrite
}

// Readable reports whether the point can be polled or subscribed.
func (a Access) Readable() bool {
	return a == AccessRead || a == AccessReadWrite
}

// Writable reports whether the point accepts writes.
func (a Access) Writable() bool {
	return a == AccessWrite || a == AccessReadWrite
}

// Point is a single addressable datum on a device.
//
// Address syntax is protocol specific: Modbus register references
// ("hr:40001"), CoAP resource paths ("/sensors/temp"), or OPC-UA node
// IDs ("ns=2;s=Channel1.Device1.Tag1"). Adapters own the parsing.
type Point struct {
	ID       string   `json:"id"`
	DeviceID string   `json:"device_id"`
	Name     string   `json:"name"`
	Address  string   `json:"address"`
	DataType DataType `json:"data_type"`
	Access   Access   `json:"access"`

	// Scale and Offset apply a linear conversion to raw numeric readings:
	// value = raw*Scale + Offset. Scale zero means "unset" and is treated
	// as 1 to keep stored rows from older schemas working.
	Scale  float64 `json:"scale,omitempty"`
	Offset float64 `json:"offset,omitempty"`

	// SortOrder controls display ordering in listings.
	SortOrder int `json:"sort_order"`
}

// Validate checks the point definition for internal consistency.
func (p *Point) Validate() error {
	if p.Name == "" {
		return ErrEmptyName
	}
	if p.Address == "" {
		return ErrEmptyAddress
	}
	if !p.DataType.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidDataType, p.DataType)
	}
	if !p.Access.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAccess, p.Access)
	}
	return nil
}

// ApplyScale converts a raw numeric reading into engineering units.
// Non-numeric types pass through unchanged.
func (p *Point) ApplyScale(raw float64) float64 {
	scale := p.Scale
	if scale == 0 {
		scale = 1
	}
	return raw*scale + p.Offset
}

// ReverseScale converts an engineering-unit value back to the raw
// representation for writes.
func (p *Point) ReverseScale(value float64) float64 {
	scale := p.Scale
	if scale == 0 {
		scale = 1
	}
	return (value - p.Offset) / scale
}

// DeepCopy returns an independent copy of the point.
func (p *Point) DeepCopy() *Point {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// CheckValue verifies that v is representable as the point's data type.
// Numeric types accept float64 and int (the forms JSON decoding and the
// rule engine produce).
func (p *Point) CheckValue(v interface{}) error {
	switch p.DataType {
	case TypeBool:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("%w: want bool, got %T", ErrValueMismatch, v)
		}
	case TypeString:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("%w: want string, got %T", ErrValueMismatch, v)
		}
	default:
		switch v.(type) {
		case float64, float32, int, int16, int32, int64, uint16, uint32:
		default:
			return fmt.Errorf("%w: want numeric, got %T", ErrValueMismatch, v)
		}
	}
	return nil
}
