package transform

import "github.com/pkg/errors"

var (
	// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
	ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")
	// ErrMalformedCalibration is returned when persisted calibration data is missing fields or out of range.
	ErrMalformedCalibration = errors.New("malformed calibration")
	// ErrInsufficientCorrespondences is returned when an estimator gets fewer samples than it needs.
	ErrInsufficientCorrespondences = errors.New("insufficient correspondences")
	// ErrInvalidRotation is returned for rotations that are not orthonormal with determinant +1.
	ErrInvalidRotation = errors.New("rotation is not a proper orthonormal matrix")
)

// NewNoIntrinsicsError is used when the intriniscs are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// NewMalformedCalibrationError wraps ErrMalformedCalibration with the offending field.
func NewMalformedCalibrationError(field, format string, args ...interface{}) error {
	return errors.Wrapf(ErrMalformedCalibration, "%s: "+format, append([]interface{}{field}, args...)...)
}

func newInsufficientCorrespondencesError(have, need int) error {
	return errors.Wrapf(ErrInsufficientCorrespondences, "got %d, need at least %d", have, need)
}
