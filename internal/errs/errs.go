// Package errs holds the error taxonomy shared by the clustering,
// segmentation and sample selection packages.
//
// None of these errors are retried internally. Callers match them with
// errors.Is and decide their own retry policy.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceUnavailable means no compute device could be acquired.
	ErrDeviceUnavailable = errors.New("no compute device available")
	// ErrBackendDevice covers buffer, pipeline and dispatch failures.
	ErrBackendDevice = errors.New("compute backend device error")
	// ErrDeviceLost is reported when the device disappears mid-dispatch.
	// It matches ErrBackendDevice under errors.Is.
	ErrDeviceLost = fmt.Errorf("%w: device lost", ErrBackendDevice)
	// ErrShapeMismatch means input dimensions do not match expectations.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrEmptyNearZeroSet means no depth cell fell below the near-zero threshold.
	ErrEmptyNearZeroSet = errors.New("no cells below near-zero depth threshold")
	// ErrDegenerateDepthRange means min(depth) == max(depth).
	ErrDegenerateDepthRange = errors.New("degenerate depth range")
	// ErrMappingTimeout means the host readback did not complete in time.
	ErrMappingTimeout = errors.New("host mapping timed out")
	// ErrNonFinite means an input coordinate or depth was NaN or infinite.
	ErrNonFinite = errors.New("non-finite input value")
	// ErrInvalidParameter means a tuning parameter is out of range.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// Shape returns an ErrShapeMismatch wrapped with a formatted detail.
func Shape(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrShapeMismatch, fmt.Sprintf(format, args...))
}

// Invalid returns an ErrInvalidParameter wrapped with a formatted detail.
func Invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameter, fmt.Sprintf(format, args...))
}

// Backend returns an ErrBackendDevice wrapped with a formatted detail and
// the underlying cause, if any.
func Backend(op string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", ErrBackendDevice, op)
	}
	if errors.Is(cause, ErrBackendDevice) {
		return fmt.Errorf("%s: %w", op, cause)
	}
	return fmt.Errorf("%w: %s: %v", ErrBackendDevice, op, cause)
}

// Kind returns a short, stable name for the taxonomy class of err.
// Used in log lines and persisted run records.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDeviceUnavailable):
		return "device_unavailable"
	case errors.Is(err, ErrDeviceLost):
		return "device_lost"
	case errors.Is(err, ErrBackendDevice):
		return "backend_device_error"
	case errors.Is(err, ErrShapeMismatch):
		return "shape_mismatch"
	case errors.Is(err, ErrEmptyNearZeroSet):
		return "empty_near_zero_set"
	case errors.Is(err, ErrDegenerateDepthRange):
		return "degenerate_depth_range"
	case errors.Is(err, ErrMappingTimeout):
		return "mapping_timeout"
	case errors.Is(err, ErrNonFinite):
		return "non_finite"
	case errors.Is(err, ErrInvalidParameter):
		return "invalid_parameter"
	default:
		return "unknown"
	}
}
