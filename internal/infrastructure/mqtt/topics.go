package mqtt

import "fmt"

// DefaultTopicBase is used when config leaves topic_base empty.
const DefaultTopicBase = "fieldline"

// Topics builds topic strings under a configurable base prefix.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{Base: "fieldline"}
//	topics.Event("plc-line-3", "boiler_temp")
//	// Returns: "fieldline/events/plc-line-3/boiler_temp"
type Topics struct {
	Base string
}

func (t Topics) base() string {
	if t.Base == "" {
		return DefaultTopicBase
	}
	return t.Base
}

// Event returns the topic for point events from a device.
//
// Example: fieldline/events/plc-line-3/boiler_temp
func (t Topics) Event(deviceID, pointID string) string {
	return fmt.Sprintf("%s/events/%s/%s", t.base(), deviceID, pointID)
}

// DeviceStatus returns the retained topic for device lifecycle state.
//
// Example: fieldline/devices/plc-line-3/status
func (t Topics) DeviceStatus(deviceID string) string {
	return fmt.Sprintf("%s/devices/%s/status", t.base(), deviceID)
}

// SystemStatus returns the retained topic for gateway online/offline status.
//
// Example: fieldline/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.base())
}
