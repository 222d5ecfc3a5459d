// Package mqtt wraps paho.mqtt.golang for the outbound MQTT sink.
//
// The client publishes point events and status messages under a
// configurable topic base, maintains an LWT for offline detection,
// and reconnects automatically with exponential backoff.
package mqtt
