// Package adapter defines the protocol-neutral contract between the
// device manager and protocol implementations, plus the shared failure
// taxonomy used to drive reconnect and quality decisions.
//
// Concrete protocols live in the subpackages modbus, coap, and opcua.
package adapter
