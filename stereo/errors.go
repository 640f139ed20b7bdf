package stereo

import "github.com/pkg/errors"

var (
	// ErrNotCalibrated is returned by geometric queries made before the rig is complete.
	ErrNotCalibrated = errors.New("stereo rig is not calibrated")
	// ErrDegenerateTriangulation is returned when the two viewing rays are (nearly) parallel.
	// A point may still accompany it; callers should treat that point as unreliable.
	ErrDegenerateTriangulation = errors.New("degenerate triangulation")
)

func newNotCalibratedError(state State) error {
	return errors.Wrapf(ErrNotCalibrated, "rig is in state %s", state)
}
