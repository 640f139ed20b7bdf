// Package stereo pairs two calibrated cameras into a rig and reconstructs 3D points
// from it: rectification, epipolar geometry, triangulation and scanline matching.
package stereo

import (
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereo/linalg"
	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/rimage/transform"
)

// State is the stage of a Calibration.
type State int

const (
	// Uninitialized means no camera has been set.
	Uninitialized State = iota
	// SinglesSet means both cameras are known but their relative pose is not.
	SinglesSet
	// RigComplete means the relative pose and every derived quantity are available.
	RigComplete
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case SinglesSet:
		return "singles set"
	case RigComplete:
		return "rig complete"
	default:
		return "unknown"
	}
}

// Side selects one camera of the rig.
type Side int

const (
	// Left is the reference camera; its frame is the world frame of a complete rig.
	Left Side = iota
	// Right is the second camera, at X_right = R·X_left + t.
	Right
)

func (s Side) String() string {
	if s == Left {
		return "left"
	}
	return "right"
}

// Other returns the opposite camera.
func (s Side) Other() Side {
	if s == Left {
		return Right
	}
	return Left
}

// Calibration is a stereo rig. Queries take a read lock and may run concurrently;
// setters take the write lock and recompute every cached quantity.
type Calibration struct {
	mu     sync.RWMutex
	kernel *linalg.Kernel
	logger logging.Logger

	state       State
	left, right *transform.CameraParameters
	rotation    *mat.Dense
	translation r3.Vector

	fundamental *mat.Dense
	// rectified pixel -> undistorted original pixel
	rectLeft, rectRight *transform.Homography
	projLeft, projRight *mat.Dense
	baseline            float64
}

// NewCalibration returns an uninitialized rig. kernel and logger may be nil.
func NewCalibration(kernel *linalg.Kernel, logger logging.Logger) *Calibration {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if kernel == nil {
		kernel = linalg.NewKernel(linalg.Config{}, logger)
	}
	return &Calibration{kernel: kernel, logger: logger}
}

// State returns the current stage.
func (c *Calibration) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SetSingleCalibrations stores copies of both cameras and moves the rig to SinglesSet,
// dropping any relative pose set before. Both cameras must produce images of the same size.
func (c *Calibration) SetSingleCalibrations(left, right *transform.CameraParameters) error {
	if err := left.CheckValid(); err != nil {
		return errors.Wrap(err, "left camera")
	}
	if err := right.CheckValid(); err != nil {
		return errors.Wrap(err, "right camera")
	}
	if left.Width != right.Width || left.Height != right.Height {
		return errors.Errorf("camera image sizes differ: left %dx%d, right %dx%d",
			left.Width, left.Height, right.Width, right.Height)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
	c.left, c.right = left.Clone(), right.Clone()
	c.state = SinglesSet
	c.logger.Infow("single calibrations set", "width", left.Width, "height", left.Height)
	return nil
}

func (c *Calibration) reset() {
	c.state = Uninitialized
	c.left, c.right = nil, nil
	c.rotation, c.translation = nil, r3.Vector{}
	c.fundamental = nil
	c.rectLeft, c.rectRight = nil, nil
	c.projLeft, c.projRight = nil, nil
	c.baseline = 0
}

// SetExtrinsicParameters sets the pose of the right camera relative to the left one,
// X_right = rotation·X_left + translation, and completes the rig. The left camera is
// moved to the world origin.
func (c *Calibration) SetExtrinsicParameters(rotation mat.Matrix, translation r3.Vector) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setExtrinsicsLocked(rotation, translation)
}

func (c *Calibration) setExtrinsicsLocked(rotation mat.Matrix, translation r3.Vector) error {
	if c.state == Uninitialized {
		return errors.Wrap(newNotCalibratedError(c.state), "single calibrations must be set first")
	}
	if err := transform.CheckRotation(rotation); err != nil {
		return err
	}
	if translation.Norm() == 0 {
		return errors.Wrap(linalg.ErrSingular, "baseline is zero")
	}

	left, right := c.left.Clone(), c.right.Clone()
	if err := left.SetPose(linalg.Identity(3), r3.Vector{}); err != nil {
		return err
	}
	if err := right.SetPose(rotation, translation); err != nil {
		return err
	}

	f, err := transform.FundamentalMatrixFromPose(c.kernel, left.GetCameraMatrix(), right.GetCameraMatrix(), rotation, translation)
	if err != nil {
		return err
	}
	rect, err := fusielloRectification(c.kernel, left, right)
	if err != nil {
		return err
	}

	c.left, c.right = left, right
	c.rotation, c.translation = mat.DenseCopyOf(rotation), translation
	c.fundamental = f
	c.baseline = rect.baseline
	if err := c.setRectificationLocked(rect.left, rect.right); err != nil {
		return err
	}
	c.state = RigComplete
	c.logger.Infow("stereo rig complete", "baseline", c.baseline, "focal_baseline", c.focalBaseline())
	return nil
}

// SetRectificationHomographies replaces the cached homographies, for rigs rectified
// by an external tool. Each maps rectified pixels to undistorted pixels of its camera.
// The rectified projection matrices are recomputed from them.
func (c *Calibration) SetRectificationHomographies(left, right *transform.Homography) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != RigComplete {
		return newNotCalibratedError(c.state)
	}
	return c.setRectificationLocked(left, right)
}

func (c *Calibration) setRectificationLocked(left, right *transform.Homography) error {
	if left == nil || right == nil {
		return errors.New("both rectification homographies are required")
	}
	projLeft, err := rectifiedProjection(c.kernel, c.left, left)
	if err != nil {
		return errors.Wrap(err, "left rectification homography")
	}
	projRight, err := rectifiedProjection(c.kernel, c.right, right)
	if err != nil {
		return errors.Wrap(err, "right rectification homography")
	}
	c.rectLeft, c.rectRight = left, right
	c.projLeft, c.projRight = projLeft, projRight
	return nil
}

// rectifiedProjection returns H⁻¹·K·[R|t], scaled so that the rotation part of its
// last row is a unit vector and the last row yields metric depth.
func rectifiedProjection(k *linalg.Kernel, cam *transform.CameraParameters, h *transform.Homography) (*mat.Dense, error) {
	hinv, err := k.Invert(h.Matrix())
	if err != nil {
		return nil, err
	}
	var p mat.Dense
	p.Mul(hinv, cam.ProjectionMatrix())
	norm := r3.Vector{X: p.At(2, 0), Y: p.At(2, 1), Z: p.At(2, 2)}.Norm()
	if norm == 0 {
		return nil, errors.Wrap(linalg.ErrSingular, "rectified projection has no depth row")
	}
	p.Scale(1/norm, &p)
	return &p, nil
}

// focalBaseline is f·B of the rectified pair, the product that turns disparity into depth.
func (c *Calibration) focalBaseline() float64 {
	return c.projLeft.At(0, 3) - c.projRight.At(0, 3)
}

type rectification struct {
	left, right *transform.Homography
	baseline    float64
}

// fusielloRectification rotates both cameras about their centers so that the new x
// axis runs along the baseline, and gives them common intrinsics. Afterwards
// corresponding points share a row.
func fusielloRectification(k *linalg.Kernel, left, right *transform.CameraParameters) (*rectification, error) {
	c1, c2 := left.OpticalCenter(), right.OpticalCenter()
	base := c2.Sub(c1)
	baseline := base.Norm()
	if baseline == 0 {
		return nil, errors.Wrap(linalg.ErrSingular, "camera centers coincide")
	}
	xAxis := base.Mul(1 / baseline)
	oldZ := r3.Vector{X: left.Rotation.At(2, 0), Y: left.Rotation.At(2, 1), Z: left.Rotation.At(2, 2)}
	yAxis := oldZ.Cross(xAxis)
	if yAxis.Norm() < 1e-9 {
		return nil, errors.Wrap(linalg.ErrSingular, "baseline is parallel to the optical axis")
	}
	yAxis = yAxis.Normalize()
	zAxis := xAxis.Cross(yAxis)
	rn := mat.NewDense(3, 3, []float64{
		xAxis.X, xAxis.Y, xAxis.Z,
		yAxis.X, yAxis.Y, yAxis.Z,
		zAxis.X, zAxis.Y, zAxis.Z,
	})

	kl, kr := left.PinholeCameraIntrinsics, right.PinholeCameraIntrinsics
	intrinsics := &transform.PinholeCameraIntrinsics{
		Width:  kl.Width,
		Height: kl.Height,
		Fx:     (kl.Fx + kr.Fx) / 2,
		Fy:     (kl.Fy + kr.Fy) / 2,
		Ppx:    (kl.Ppx + kr.Ppx) / 2,
		Ppy:    (kl.Ppy + kr.Ppy) / 2,
	}
	knInv, err := k.Invert(intrinsics.GetCameraMatrix())
	if err != nil {
		return nil, err
	}

	homography := func(cam *transform.CameraParameters) (*transform.Homography, error) {
		var m mat.Dense
		m.Mul(cam.GetCameraMatrix(), cam.Rotation)
		m.Mul(&m, rn.T())
		m.Mul(&m, knInv)
		h, err := transform.NewHomographyFromMatrix(&m)
		if err != nil {
			return nil, err
		}
		return h.Normalized(), nil
	}
	hl, err := homography(left)
	if err != nil {
		return nil, errors.Wrap(err, "left rectification")
	}
	hr, err := homography(right)
	if err != nil {
		return nil, errors.Wrap(err, "right rectification")
	}
	return &rectification{left: hl, right: hr, baseline: baseline}, nil
}

// Camera returns a copy of one camera. With a complete rig, the left camera sits at
// the world origin.
func (c *Calibration) Camera(side Side) (*transform.CameraParameters, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state == Uninitialized {
		return nil, newNotCalibratedError(c.state)
	}
	return c.camera(side).Clone(), nil
}

func (c *Calibration) camera(side Side) *transform.CameraParameters {
	if side == Left {
		return c.left
	}
	return c.right
}

// Extrinsics returns the pose of the right camera relative to the left one.
func (c *Calibration) Extrinsics() (*mat.Dense, r3.Vector, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != RigComplete {
		return nil, r3.Vector{}, newNotCalibratedError(c.state)
	}
	return mat.DenseCopyOf(c.rotation), c.translation, nil
}

// FundamentalMatrix returns F with x_rightᵀ·F·x_left = 0 for undistorted pixels.
func (c *Calibration) FundamentalMatrix() (*mat.Dense, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != RigComplete {
		return nil, newNotCalibratedError(c.state)
	}
	return mat.DenseCopyOf(c.fundamental), nil
}

// RectificationHomographies returns the left and right homographies mapping rectified
// pixels to undistorted original pixels.
func (c *Calibration) RectificationHomographies() (*transform.Homography, *transform.Homography, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != RigComplete {
		return nil, nil, newNotCalibratedError(c.state)
	}
	return c.rectLeft, c.rectRight, nil
}

// GetProjectionMatricesForRectifiedImages returns the 3x4 projection matrices of the
// rectified pair. They share their second and third rows up to the baseline term, so
// a world point lands on the same row in both rectified images.
func (c *Calibration) GetProjectionMatricesForRectifiedImages() (*mat.Dense, *mat.Dense, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != RigComplete {
		return nil, nil, newNotCalibratedError(c.state)
	}
	return mat.DenseCopyOf(c.projLeft), mat.DenseCopyOf(c.projRight), nil
}

// Baseline returns the distance between the optical centers.
func (c *Calibration) Baseline() (float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != RigComplete {
		return 0, newNotCalibratedError(c.state)
	}
	return c.baseline, nil
}
