// Package influxdb provides the InfluxDB v2 client used by the storage sink.
//
// Writes are batched and non-blocking; async write failures are surfaced
// through an error callback rather than returned to callers.
package influxdb
