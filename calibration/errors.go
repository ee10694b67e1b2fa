package calibration

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrUnconfigured is returned when no calibration has been loaded yet.
	ErrUnconfigured = errors.New("calibration is not configured")
	// ErrConfigDocumentMissing is returned when the calibration document cannot be opened.
	ErrConfigDocumentMissing = errors.New("calibration document not found")
	// ErrConfigDocumentMalformed is returned when a required element or attribute is absent,
	// or when the geometry or mapping type is unsupported.
	ErrConfigDocumentMalformed = errors.New("calibration document is malformed")
	// ErrConfigParameterInvalid is returned for out of range configuration values.
	ErrConfigParameterInvalid = errors.New("invalid calibration parameter")
	// ErrFrameShapeMismatch is returned when a frame does not match the active calibration.
	ErrFrameShapeMismatch = errors.New("frame does not match calibration")
	// ErrInterpolationOutOfRange is returned when a parameter lies outside the calibrated range.
	ErrInterpolationOutOfRange = errors.New("interpolation parameter out of calibrated range")
	// ErrTableOverflow is reported when an output pixel has more contributors than the table
	// can hold. It is never fatal.
	ErrTableOverflow = errors.New("remap table entry overflow")
)

// NewUnconfiguredError wraps ErrUnconfigured.
func NewUnconfiguredError(msg string) error {
	return errors.Wrap(ErrUnconfigured, msg)
}

// NewDocumentMissingError wraps ErrConfigDocumentMissing.
func NewDocumentMissingError(path string, cause error) error {
	return errors.Wrapf(ErrConfigDocumentMissing, "%s: %v", path, cause)
}

// NewDocumentMalformedError wraps ErrConfigDocumentMalformed.
func NewDocumentMalformedError(msg string) error {
	return errors.Wrap(ErrConfigDocumentMalformed, msg)
}

// NewParameterInvalidError wraps ErrConfigParameterInvalid.
func NewParameterInvalidError(msg string) error {
	return errors.Wrap(ErrConfigParameterInvalid, msg)
}

// NewFrameShapeMismatchError wraps ErrFrameShapeMismatch.
func NewFrameShapeMismatchError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrFrameShapeMismatch, format, args...)
}

// NewInterpolationOutOfRangeError wraps ErrInterpolationOutOfRange.
func NewInterpolationOutOfRangeError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInterpolationOutOfRange, format, args...)
}

// NewTableOverflowError wraps ErrTableOverflow.
func NewTableOverflowError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrTableOverflow, format, args...)
}

// Status is the configuration state reported by a stage.
type Status int

// Configuration states.
const (
	StatusConfigured Status = iota
	StatusUnconfigured
	StatusConfiguring
	StatusFileNotFound
	StatusDocumentError
	StatusBadParameter
)

func (s Status) String() string {
	switch s {
	case StatusConfigured:
		return "Configured"
	case StatusUnconfigured:
		return "Unconfigured"
	case StatusConfiguring:
		return "Configuring"
	case StatusFileNotFound:
		return "File Not Found"
	case StatusDocumentError:
		return "Document Error"
	case StatusBadParameter:
		return "Bad Parameter"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// StatusFromError maps a configuration error onto the status it should be reported as.
// A nil error means the stage is configured.
func StatusFromError(err error) Status {
	if err == nil {
		return StatusConfigured
	}
	switch {
	case errors.Is(err, ErrConfigDocumentMissing):
		return StatusFileNotFound
	case errors.Is(err, ErrConfigDocumentMalformed):
		return StatusDocumentError
	case errors.Is(err, ErrConfigParameterInvalid), errors.Is(err, ErrInterpolationOutOfRange):
		return StatusBadParameter
	default:
		return StatusUnconfigured
	}
}
