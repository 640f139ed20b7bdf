package stereo

import (
	"context"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereo/linalg"
	"go.viam.com/stereo/rimage/transform"
)

// relativePose returns the pose of camera 2 relative to camera 1 when both poses are
// given in a shared frame: R = R2·R1ᵀ, t = t2 - R·t1.
func relativePose(r1 mat.Matrix, t1 r3.Vector, r2 mat.Matrix, t2 r3.Vector) (*mat.Dense, r3.Vector) {
	var rot mat.Dense
	rot.Mul(r2, r1.T())
	return &rot, t2.Sub(linalg.MulVec3(&rot, t1))
}

// SetExtrinsicsFromSingles completes the rig from the poses the single calibrations
// already carry, for cameras calibrated against the same world frame.
func (c *Calibration) SetExtrinsicsFromSingles() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Uninitialized {
		return newNotCalibratedError(c.state)
	}
	rot, t := relativePose(c.left.Rotation, c.left.Translation, c.right.Rotation, c.right.Translation)
	return c.setExtrinsicsLocked(rot, t)
}

// SetExtrinsicsFromTargetHomographies completes the rig from one view of a planar
// target in both cameras. Each homography maps target coordinates (x, y, 0) to
// undistorted pixels of its camera.
func (c *Calibration) SetExtrinsicsFromTargetHomographies(left, right *transform.Homography) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Uninitialized {
		return newNotCalibratedError(c.state)
	}
	rl, tl, err := transform.ExtrinsicsFromHomography(c.kernel, c.left.PinholeCameraIntrinsics, left)
	if err != nil {
		return errors.Wrap(err, "left target pose")
	}
	rr, tr, err := transform.ExtrinsicsFromHomography(c.kernel, c.right.PinholeCameraIntrinsics, right)
	if err != nil {
		return errors.Wrap(err, "right target pose")
	}
	rot, t := relativePose(rl, tl, rr, tr)
	return c.setExtrinsicsLocked(rot, t)
}

// EstimateExtrinsics completes the rig from at least eight raw pixel correspondences
// through the essential matrix. Two views only fix the direction of the translation, so
// it is scaled to baseline.
func (c *Calibration) EstimateExtrinsics(ctx context.Context, corrs []transform.Correspondence, baseline float64) error {
	if baseline <= 0 {
		return errors.Errorf("baseline must be positive, got %g", baseline)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Uninitialized {
		return newNotCalibratedError(c.state)
	}

	pts1 := make([]r2.Point, 0, len(corrs))
	pts2 := make([]r2.Point, 0, len(corrs))
	for _, corr := range corrs {
		if err := ctx.Err(); err != nil {
			return err
		}
		pts1 = append(pts1, c.left.Undistort(corr.Left))
		pts2 = append(pts2, c.right.Undistort(corr.Right))
	}
	pose, err := transform.EstimateNewPose(c.kernel, pts1, pts2, c.left.GetCameraMatrix(), c.right.GetCameraMatrix())
	if err != nil {
		return errors.Wrap(err, "cannot estimate relative pose")
	}
	c.logger.Debugw("relative pose estimated", "correspondences", len(corrs), "direction", pose.Translation)
	return c.setExtrinsicsLocked(pose.Rotation, pose.Translation.Normalize().Mul(baseline))
}
