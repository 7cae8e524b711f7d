package contracts

import "errors"

// Device errors are returned per call by ports and backends.
var (
	// ErrDeviceUnavailable is returned when a port index no longer exists or
	// the device is claimed by another client.
	ErrDeviceUnavailable = errors.New("midi device unavailable")
	// ErrPortClosed is returned by any operation on a closed port.
	ErrPortClosed = errors.New("midi port closed")
	// ErrSendFailed wraps a driver failure while transmitting.
	ErrSendFailed = errors.New("midi send failed")
	// ErrInvalidMessage is returned for an empty or malformed outgoing message.
	ErrInvalidMessage = errors.New("invalid midi message")
	// ErrUnsupportedOS is returned when no backend is compiled in for the
	// running operating system.
	ErrUnsupportedOS = errors.New("unsupported operating system")
)

// Receive results. They are ordinary outcomes of a queue read.
var (
	ErrEmpty     = errors.New("no message available")
	ErrTimeout   = errors.New("receive timed out")
	ErrCancelled = errors.New("receive cancelled")
)
