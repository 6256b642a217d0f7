// internal/protocol/errors.go
package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrTransportOpen is returned when a port or address is busy or missing.
	ErrTransportOpen = errors.New("transport open failure")

	// ErrTimeout is the parent of ErrWriteTimeout and ErrReadTimeout.
	ErrTimeout = errors.New("timeout")

	ErrWriteTimeout = fmt.Errorf("write %w", ErrTimeout)
	ErrReadTimeout  = fmt.Errorf("read %w", ErrTimeout)

	// ErrFraming is returned when a reply fails structural or length checks.
	ErrFraming = errors.New("framing error")

	// ErrChecksumMismatch is returned when a reply checksum or CRC is wrong.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrDeviceReported is the parent of every *DeviceError.
	ErrDeviceReported = errors.New("device reported error")

	// ErrIdentityMismatch is returned when a device answers but is not the
	// expected family or unit.
	ErrIdentityMismatch = errors.New("identity validation mismatch")

	// ErrDatumTypeUnsupported is returned for register operations the
	// protocol cannot perform on the register's datum type.
	ErrDatumTypeUnsupported = errors.New("datum type unsupported")

	// ErrNotAlive is returned when a transaction is attempted without an
	// open transport.
	ErrNotAlive = errors.New("transport not open")
)

// DeviceError is an error the device signalled in-band (a NACK or an
// exception reply).
type DeviceError struct {
	Code    int
	Message string
}

func (e *DeviceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("device reported error code %d", e.Code)
	}
	return fmt.Sprintf("device reported error code %d: %s", e.Code, e.Message)
}

// Unwrap lets errors.Is(err, ErrDeviceReported) match.
func (e *DeviceError) Unwrap() error {
	return ErrDeviceReported
}

// IsTimeout reports whether err is a read or write timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// framingError wraps ErrFraming with a reason.
func framingError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrFraming, fmt.Sprintf(format, args...))
}
