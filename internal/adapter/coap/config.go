package coap

import (
	"errors"
	"fmt"
)

var (
	ErrMissingHost = errors.New("coap: host required")
	ErrInvalidPort = errors.New("coap: port out of range")
)

// Config is the device-level configuration for a CoAP connection,
// decoded from the device's JSON config blob.
type Config struct {
	Host string `json:"host"`
	Port int    `json:"port,omitempty"`

	// Timeout is the per-request timeout in milliseconds.
	Timeout int `json:"timeout,omitempty"`

	// Observe enables CoAP observe registrations for readable points
	// instead of relying on the poll scheduler alone.
	Observe bool `json:"observe,omitempty"`
}

// Validate checks the configuration and fills defaults.
func (c *Config) Validate() error {
	if c.Host == "" {
		return ErrMissingHost
	}
	if c.Port == 0 {
		c.Port = 5683
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}
	if c.Timeout <= 0 {
		c.Timeout = 2000
	}
	return nil
}

func (c *Config) target() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
