package opcua

import (
	"testing"
	"time"

	"github.com/gopcua/opcua/ua"

	"github.com/fieldline-io/fieldline-core/internal/adapter"
	"github.com/fieldline-io/fieldline-core/internal/point"
)

func TestConfigValidate(t *testing.T) {
	cfg := Config{Endpoint: "opc.tcp://10.0.0.20:4840"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Timeout != 5000 || cfg.KeepAliveMisses != 3 {
		t.Errorf("defaults not applied: %+v", cfg)
	}

	if err := (&Config{}).Validate(); err != ErrMissingEndpoint {
		t.Error("empty endpoint accepted")
	}
	if err := (&Config{Endpoint: "http://x"}).Validate(); err != ErrInvalidEndpoint {
		t.Error("non opc.tcp endpoint accepted")
	}
}

func numericPoint() *point.Point {
	return &point.Point{
		ID:       "pt-1",
		Address:  "ns=2;s=Tag1",
		DataType: point.TypeFloat64,
		Access:   point.AccessRead,
		Scale:    0.1,
	}
}

func TestReadingFromDataValue(t *testing.T) {
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	variant, err := ua.NewVariant(int32(250))
	if err != nil {
		t.Fatalf("NewVariant: %v", err)
	}
	dv := &ua.DataValue{
		Status:          ua.StatusOK,
		Value:           variant,
		SourceTimestamp: ts,
	}

	r := readingFromDataValue(numericPoint(), dv)
	if r.Quality != point.QualityGood {
		t.Fatalf("quality = %v, want good", r.Quality)
	}
	if r.Value != 25.0 {
		t.Errorf("value = %v, want 25.0 (scaled)", r.Value)
	}
	if !r.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want source timestamp", r.Timestamp)
	}
}

func TestReadingFromDataValueBadStatus(t *testing.T) {
	dv := &ua.DataValue{Status: ua.StatusBadNodeIDUnknown}
	r := readingFromDataValue(numericPoint(), dv)
	if r.Quality != point.QualityBad {
		t.Errorf("quality = %v, want bad", r.Quality)
	}
	if r.Value != nil {
		t.Errorf("value = %v, want nil", r.Value)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want adapter.Kind
	}{
		{ua.StatusBadUserAccessDenied, adapter.KindUnauthorized},
		{ua.StatusBadTimeout, adapter.KindTimeout},
		{ua.StatusBadNodeIDUnknown, adapter.KindUnsupported},
		{ua.StatusBadSessionIDInvalid, adapter.KindConnectionLost},
	}
	for _, tt := range tests {
		if got := adapter.KindOf(classify("opcua.read", tt.err)); got != tt.want {
			t.Errorf("classify(%v) kind = %v, want %v", tt.err, got, tt.want)
		}
	}
}
