package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrNotFound) {
//	    // handle not found case
//	}
var (
	// ErrNotFound is returned when a device ID does not exist.
	ErrNotFound = errors.New("device: not found")

	// ErrPointNotFound is returned when a point ID does not exist on a device.
	ErrPointNotFound = errors.New("device: point not found")

	// ErrExists is returned when creating a device whose ID or slug already exists.
	ErrExists = errors.New("device: already exists")

	// ErrInvalidProtocol is returned when a protocol value is not recognised.
	ErrInvalidProtocol = errors.New("device: invalid protocol")

	// ErrInvalidName is returned when a device name is empty or too long.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidSlug is returned when a slug format is invalid.
	ErrInvalidSlug = errors.New("device: invalid slug")

	// ErrInvalidTransition is returned on a lifecycle transition the FSM forbids.
	ErrInvalidTransition = errors.New("device: invalid state transition")

	// ErrNotConnected is returned for operations that need an active session.
	ErrNotConnected = errors.New("device: not connected")

	// ErrNotWritable is returned when writing to a read-only point.
	ErrNotWritable = errors.New("device: point not writable")

	// ErrNotReadable is returned when polling a write-only point.
	ErrNotReadable = errors.New("device: point not readable")

	// ErrNoSample is returned when reading a point that has not produced
	// a reading yet.
	ErrNoSample = errors.New("device: no sample yet")

	// ErrDisabled is returned for runtime operations on a disabled device.
	ErrDisabled = errors.New("device: disabled")
)
