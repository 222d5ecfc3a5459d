package device

import (
	"encoding/json"
	"testing"

	"github.com/fieldline-io/fieldline-core/internal/point"
)

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
		want bool
	}{
		{StateCreated, StateConnecting, true},
		{StateCreated, StateConnected, false},
		{StateConnecting, StateConnected, true},
		{StateConnecting, StateDisconnected, true},
		{StateConnecting, StateError, true},
		{StateConnected, StateError, true},
		{StateConnected, StateDisconnected, true},
		{StateConnected, StateConnecting, false},
		{StateDisconnected, StateConnecting, true},
		{StateError, StateCreated, true},
		{StateError, StateConnecting, true},
		{StateError, StateConnected, false},
		{StateRemoved, StateCreated, false},
		{StateConnected, StateRemoved, true},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestDeviceDeepCopy(t *testing.T) {
	d := &Device{
		ID:       "dev-1",
		Name:     "Boiler PLC",
		Protocol: ProtocolModbus,
		Config:   json.RawMessage(`{"mode":"tcp"}`),
		Points: []*point.Point{
			{ID: "pt-1", Name: "temp", Address: "hr:40001", DataType: point.TypeFloat64, Access: point.AccessRead},
		},
	}

	cp := d.DeepCopy()
	cp.Points[0].Name = "changed"
	cp.Config[2] = 'x'

	if d.Points[0].Name != "temp" {
		t.Error("point mutation leaked into original")
	}
	if string(d.Config) != `{"mode":"tcp"}` {
		t.Error("config mutation leaked into original")
	}
}

func TestDevicePointLookup(t *testing.T) {
	d := &Device{
		Points: []*point.Point{
			{ID: "pt-1", Access: point.AccessRead},
			{ID: "pt-2", Access: point.AccessWrite},
			{ID: "pt-3", Access: point.AccessReadWrite},
		},
	}

	if d.Point("pt-2") == nil {
		t.Error("Point(pt-2) = nil")
	}
	if d.Point("missing") != nil {
		t.Error("Point(missing) != nil")
	}

	readable := d.ReadablePoints()
	if len(readable) != 2 {
		t.Errorf("ReadablePoints() len = %d, want 2", len(readable))
	}
}
