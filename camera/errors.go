package camera

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrDeviceUnavailable is returned when a device cannot be opened.  It is
	// fatal to that source and is not retried
	ErrDeviceUnavailable = errors.New("device unavailable")

	// ErrFrameTimeout is returned when no frame arrived within the read timeout
	ErrFrameTimeout = errors.New("frame timeout")

	// ErrFrameIncomplete is returned when the device delivered a partial frame.
	// The partial data is discarded
	ErrFrameIncomplete = errors.New("frame incomplete")

	// ErrBufferOverrun is returned when a write would land in a buffer
	// that has already been handed to a consumer
	ErrBufferOverrun = errors.New("buffer overrun")

	// ErrClosed is returned by operations on a closed source
	ErrClosed = errors.New("frame source closed")
)

// ErrParameterRejected is generated when a device refuses a parameter value
type ErrParameterRejected struct {
	// Name is the parameter
	Name string

	// Value is the refused value
	Value interface{}

	// Reason is the device's explanation
	Reason string
}

// Error satisfies the error interface
func (e *ErrParameterRejected) Error() string {
	return fmt.Sprintf("parameter %s=%v rejected: %s", e.Name, e.Value, e.Reason)
}

func reject(name string, value interface{}, format string, args ...interface{}) error {
	return &ErrParameterRejected{Name: name, Value: value, Reason: fmt.Sprintf(format, args...)}
}

// Kind names the error category of err, for reporting to collaborators.
// The empty string is returned for nil.
func Kind(err error) string {
	var rej *ErrParameterRejected
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFrameTimeout):
		return "FrameTimeout"
	case errors.Is(err, ErrFrameIncomplete):
		return "FrameIncomplete"
	case errors.Is(err, ErrDeviceUnavailable):
		return "DeviceUnavailable"
	case errors.Is(err, ErrBufferOverrun):
		return "BufferOverrun"
	case errors.As(err, &rej):
		return "ParameterRejected"
	default:
		return "Unknown"
	}
}

// IsMiss reports if err is an ordinary per-frame miss which the caller
// should log and move past
func IsMiss(err error) bool {
	return errors.Is(err, ErrFrameTimeout) || errors.Is(err, ErrFrameIncomplete)
}
