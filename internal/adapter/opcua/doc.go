// Package opcua implements the OPC-UA adapter on top of
// github.com/gopcua/opcua. Point addresses are node IDs. Reads batch
// all points into one request; subscriptions use monitored items with
// a keep-alive watchdog.
package opcua
