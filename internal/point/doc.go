// Package point defines the point model shared by adapters, the device
// manager, the event bus, and the rule engine: typed addressable data
// items with quality markers and linear scaling.
package point
