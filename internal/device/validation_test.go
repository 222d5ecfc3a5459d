package device

import (
	"errors"
	"strings"
	"testing"

	"github.com/fieldline-io/fieldline-core/internal/point"
)

func validDevice() *Device {
	return &Device{
		ID:       "dev-1",
		Name:     "Boiler PLC",
		Slug:     "boiler-plc",
		Protocol: ProtocolModbus,
		Points: []*point.Point{
			{ID: "pt-1", Name: "temp", Address: "hr:40001", DataType: point.TypeFloat64, Access: point.AccessRead},
			{ID: "pt-2", Name: "setpoint", Address: "hr:40002", DataType: point.TypeFloat64, Access: point.AccessReadWrite},
		},
	}
}

func TestValidateDevice(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Device)
		wantErr error
	}{
		{"valid", func(*Device) {}, nil},
		{"empty name", func(d *Device) { d.Name = "" }, ErrInvalidName},
		{"long name", func(d *Device) { d.Name = strings.Repeat("x", 101) }, ErrInvalidName},
		{"bad slug", func(d *Device) { d.Slug = "Has Spaces" }, ErrInvalidSlug},
		{"bad protocol", func(d *Device) { d.Protocol = "bacnet" }, ErrInvalidProtocol},
		{"bad point", func(d *Device) { d.Points[0].Address = "" }, point.ErrEmptyAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDevice()
			tt.mutate(d)
			err := Validate(d)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRejectsDuplicateAddresses(t *testing.T) {
	d := validDevice()
	d.Points[1].Address = d.Points[0].Address
	if err := Validate(d); err == nil {
		t.Error("duplicate address accepted")
	}
}

func TestGenerateSlug(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Boiler PLC", "boiler-plc"},
		{"Line_3  Sensor!", "line-3-sensor"},
		{"--Already--Sluggy--", "already-sluggy"},
	}
	for _, tt := range tests {
		if got := GenerateSlug(tt.name); got != tt.want {
			t.Errorf("GenerateSlug(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestGenerateIDUnique(t *testing.T) {
	if GenerateID() == GenerateID() {
		t.Error("GenerateID returned duplicates")
	}
}
