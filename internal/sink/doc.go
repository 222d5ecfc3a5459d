// Package sink delivers processed events to downstream systems.
//
// The Dispatcher receives events from the rule engine and fans them
// out to registered sinks (InfluxDB storage, MQTT, HTTP webhooks, the
// live dashboard, device write-back). Each sink runs behind its own
// bounded queue and worker, so one slow destination cannot stall the
// others; failed deliveries retry with capped backoff and are dropped
// with a counter once attempts run out.
package sink
