package modbus

import (
	"errors"
	"fmt"
)

// Transport modes.
const (
	ModeTCP = "tcp"
	ModeRTU = "rtu"
)

var (
	ErrInvalidMode    = errors.New("modbus: invalid mode")
	ErrMissingAddress = errors.New("modbus: address required")
	ErrInvalidSlaveID = errors.New("modbus: slave id out of range")
)

// Config is the device-level configuration for a Modbus connection.
// It is decoded from the device's JSON config blob.
type Config struct {
	// Mode selects the transport: "tcp" or "rtu".
	Mode string `json:"mode"`

	// Address is "host:port" for TCP or a serial device path for RTU.
	Address string `json:"address"`

	// SlaveID is the Modbus unit identifier (1-247, 0 for broadcast).
	SlaveID int `json:"slave_id"`

	// Timeout is the per-request timeout in milliseconds.
	Timeout int `json:"timeout,omitempty"`

	// Retries is the per-request retry count for transient failures.
	Retries int `json:"retries,omitempty"`

	// TimeoutThreshold is the number of consecutive timeouts treated as
	// a lost connection.
	TimeoutThreshold int `json:"timeout_threshold,omitempty"`

	// Serial parameters, RTU only.
	BaudRate int    `json:"baud_rate,omitempty"`
	DataBits int    `json:"data_bits,omitempty"`
	Parity   string `json:"parity,omitempty"` // "N", "E", "O"
	StopBits int    `json:"stop_bits,omitempty"`
}

// Validate checks the configuration and fills defaults.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeTCP, ModeRTU:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, c.Mode)
	}
	if c.Address == "" {
		return ErrMissingAddress
	}
	if c.SlaveID < 0 || c.SlaveID > 247 {
		return fmt.Errorf("%w: %d", ErrInvalidSlaveID, c.SlaveID)
	}
	if c.Timeout <= 0 {
		c.Timeout = 1000
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.TimeoutThreshold <= 0 {
		c.TimeoutThreshold = 3
	}
	if c.Mode == ModeRTU {
		if c.BaudRate <= 0 {
			c.BaudRate = 9600
		}
		if c.DataBits <= 0 {
			c.DataBits = 8
		}
		if c.Parity == "" {
			c.Parity = "N"
		}
		if c.StopBits <= 0 {
			c.StopBits = 1
		}
	}
	return nil
}
