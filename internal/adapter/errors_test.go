package adapter

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorWrapping(t *testing.T) {
	base := errors.New("connection reset")
	err := NewError(KindConnectionLost, "modbus.read", base)

	if !errors.Is(err, base) {
		t.Error("errors.Is did not find the wrapped error")
	}

	wrapped := fmt.Errorf("device plc-line-3: %w", err)
	if KindOf(wrapped) != KindConnectionLost {
		t.Errorf("KindOf(wrapped) = %v, want KindConnectionLost", KindOf(wrapped))
	}
	if !IsConnectionLost(wrapped) {
		t.Error("IsConnectionLost(wrapped) = false")
	}
}

func TestKindOfPlainError(t *testing.T) {
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("plain error should classify as KindUnknown")
	}
}

func TestErrorString(t *testing.T) {
	err := NewError(KindTimeout, "coap.get", errors.New("deadline exceeded"))
	want := "coap.get: timeout: deadline exceeded"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	bare := NewError(KindUnsupported, "opcua.write", nil)
	if bare.Error() != "opcua.write: unsupported" {
		t.Errorf("Error() = %q", bare.Error())
	}
}
