package mqtt

import "testing"

func TestTopicsDefaultBase(t *testing.T) {
	topics := Topics{}

	if got := topics.SystemStatus(); got != "fieldline/system/status" {
		t.Errorf("SystemStatus() = %q, want fieldline/system/status", got)
	}
	if got := topics.Event("plc-line-3", "boiler_temp"); got != "fieldline/events/plc-line-3/boiler_temp" {
		t.Errorf("Event() = %q", got)
	}
	if got := topics.DeviceStatus("plc-line-3"); got != "fieldline/devices/plc-line-3/status" {
		t.Errorf("DeviceStatus() = %q", got)
	}
}

func TestTopicsCustomBase(t *testing.T) {
	topics := Topics{Base: "plant-a"}

	if got := topics.Event("dev", "pt"); got != "plant-a/events/dev/pt" {
		t.Errorf("Event() = %q, want plant-a/events/dev/pt", got)
	}
}

func TestPublishValidation(t *testing.T) {
	c := &Client{}

	if err := c.Publish("", []byte("x"), 0, false); err != ErrInvalidTopic {
		t.Errorf("empty topic: got %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish("t", []byte("x"), 3, false); err != ErrInvalidQoS {
		t.Errorf("qos 3: got %v, want ErrInvalidQoS", err)
	}
	if err := c.Publish("t", []byte("x"), 1, false); err != ErrNotConnected {
		t.Errorf("disconnected: got %v, want ErrNotConnected", err)
	}
}
