package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePointEvent writes a single point event to InfluxDB.
//
// This is the primary method for recording telemetry flowing out of the
// event bus. The write is non-blocking; data is batched and sent
// asynchronously.
//
// Parameters:
//   - deviceID: identifier of the source device
//   - pointID: identifier of the point within the device
//   - value: the decoded point value
//   - quality: quality marker ("good", "bad", "stale")
//   - timestamp: the acquisition time of the sample
//
// Example:
//
//	client.WritePointEvent("plc-line-3", "boiler_temp", 72.5, "good", ev.Timestamp)
func (c *Client) WritePointEvent(deviceID, pointID string, value interface{}, quality string, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"point_events",
		map[string]string{
			"device_id": deviceID,
			"point_id":  pointID,
			"quality":   quality,
		},
		map[string]interface{}{
			"value": value,
		},
		timestamp,
	)

	c.writeAPI.WritePoint(point)
}

// WriteGatewayMetric writes a gateway-level operational measurement.
//
// Used for counters like dropped events, poll overruns, and sink failures.
func (c *Client) WriteGatewayMetric(metricName string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"gateway",
		map[string]string{
			"metric": metricName,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteCustomPoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
func (c *Client) WriteCustomPoint(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
