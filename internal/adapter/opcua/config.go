package opcua

import (
	"errors"
	"strings"
)

var (
	ErrMissingEndpoint = errors.New("opcua: endpoint required")
	ErrInvalidEndpoint = errors.New("opcua: endpoint must use opc.tcp scheme")
)

// Config is the device-level configuration for an OPC-UA session,
// decoded from the device's JSON config blob.
type Config struct {
	// Endpoint is the server URL, e.g. "opc.tcp://10.0.0.20:4840".
	Endpoint string `json:"endpoint"`

	// SecurityPolicy and SecurityMode select the channel security.
	// Empty means None/None.
	SecurityPolicy string `json:"security_policy,omitempty"`
	SecurityMode   string `json:"security_mode,omitempty"`

	// Username/Password enable user token authentication when set.
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// Timeout is the per-request timeout in milliseconds.
	Timeout int `json:"timeout,omitempty"`

	// SubscriptionInterval is the publish interval in milliseconds for
	// monitored items. Zero disables subscriptions (poll only).
	SubscriptionInterval int `json:"subscription_interval,omitempty"`

	// KeepAliveMisses is the number of missed publish intervals after
	// which the session is considered dead.
	KeepAliveMisses int `json:"keepalive_misses,omitempty"`
}

// Validate checks the configuration and fills defaults.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return ErrMissingEndpoint
	}
	if !strings.HasPrefix(c.Endpoint, "opc.tcp://") {
		return ErrInvalidEndpoint
	}
	if c.Timeout <= 0 {
		c.Timeout = 5000
	}
	if c.KeepAliveMisses <= 0 {
		c.KeepAliveMisses = 3
	}
	return nil
}
