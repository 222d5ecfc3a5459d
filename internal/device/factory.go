package device

import (
	"encoding/json"
	"fmt"

	"github.com/fieldline-io/fieldline-core/internal/adapter"
	"github.com/fieldline-io/fieldline-core/internal/adapter/coap"
	"github.com/fieldline-io/fieldline-core/internal/adapter/modbus"
	"github.com/fieldline-io/fieldline-core/internal/adapter/opcua"
)

// DefaultFactory builds the built-in protocol adapters from a device's
// JSON config blob.
func DefaultFactory(protocol Protocol, cfg json.RawMessage, logger Logger) (adapter.Adapter, error) {
	switch protocol {
	case ProtocolModbus:
		var c modbus.Config
		if err := json.Unmarshal(cfg, &c); err != nil {
			return nil, fmt.Errorf("modbus config: %w", err)
		}
		return modbus.New(c, logger)

	case ProtocolCoAP:
		var c coap.Config
		if err := json.Unmarshal(cfg, &c); err != nil {
			return nil, fmt.Errorf("coap config: %w", err)
		}
		return coap.New(c, logger)

	case ProtocolOPCUA:
		var c opcua.Config
		if err := json.Unmarshal(cfg, &c); err != nil {
			return nil, fmt.Errorf("opcua config: %w", err)
		}
		return opcua.New(c, logger)

	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidProtocol, protocol)
	}
}
