package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/stereo/linalg"
)

// rotationTolerance is how far RᵀR may stray from identity, and det(R) from 1.
const rotationTolerance = 1e-6

// CameraParameters is a calibrated camera: its pinhole model plus the pose of the
// camera relative to a world frame, X_cam = Rotation·X_world + Translation.
type CameraParameters struct {
	PinholeCameraModel
	Rotation    *mat.Dense
	Translation r3.Vector
}

// NewCameraParameters returns a camera at the world origin looking down +z.
func NewCameraParameters(intrinsics *PinholeCameraIntrinsics, distortion *BrownConrady) *CameraParameters {
	return &CameraParameters{
		PinholeCameraModel: PinholeCameraModel{PinholeCameraIntrinsics: intrinsics, Distortion: distortion},
		Rotation:           linalg.Identity(3),
	}
}

// CheckValid checks the model and that the rotation is a proper rotation.
func (c *CameraParameters) CheckValid() error {
	if c == nil {
		return NewNoIntrinsicsError("camera parameters do not exist")
	}
	if err := c.PinholeCameraModel.CheckValid(); err != nil {
		return err
	}
	return CheckRotation(c.Rotation)
}

// CheckRotation verifies that r is 3x3, orthonormal and has a determinant of +1.
func CheckRotation(r mat.Matrix) error {
	if r == nil {
		return errors.Wrap(ErrInvalidRotation, "rotation is missing")
	}
	if rows, cols := r.Dims(); rows != 3 || cols != 3 {
		return errors.Wrapf(ErrInvalidRotation, "rotation is %dx%d", rows, cols)
	}
	var rtr mat.Dense
	rtr.Mul(r.T(), r)
	if !linalg.EqualApprox(&rtr, linalg.Identity(3), rotationTolerance) {
		return errors.Wrap(ErrInvalidRotation, "rotation is not orthonormal")
	}
	if det := mat.Det(r); math.Abs(det-1) > rotationTolerance {
		return errors.Wrapf(ErrInvalidRotation, "determinant is %v", det)
	}
	return nil
}

// Clone returns a deep copy.
func (c *CameraParameters) Clone() *CameraParameters {
	out := &CameraParameters{Translation: c.Translation}
	if c.PinholeCameraIntrinsics != nil {
		intrinsics := *c.PinholeCameraIntrinsics
		out.PinholeCameraIntrinsics = &intrinsics
	}
	if c.Distortion != nil {
		distortion := *c.Distortion
		out.Distortion = &distortion
	}
	if c.Rotation != nil {
		out.Rotation = mat.DenseCopyOf(c.Rotation)
	}
	return out
}

// SetPose replaces the extrinsics after checking the rotation.
func (c *CameraParameters) SetPose(rotation mat.Matrix, translation r3.Vector) error {
	if err := CheckRotation(rotation); err != nil {
		return err
	}
	c.Rotation = mat.DenseCopyOf(rotation)
	c.Translation = translation
	return nil
}

// WorldToCamera moves a world point into the camera frame.
func (c *CameraParameters) WorldToCamera(p r3.Vector) r3.Vector {
	return linalg.MulVec3(c.Rotation, p).Add(c.Translation)
}

// CameraToWorld moves a camera frame point into the world frame.
func (c *CameraParameters) CameraToWorld(p r3.Vector) r3.Vector {
	return linalg.MulTransposeVec3(c.Rotation, p.Sub(c.Translation))
}

// CameraToImage projects a camera frame point. With distort set the result is
// where the lens images the point, otherwise the ideal pinhole pixel.
func (c *CameraParameters) CameraToImage(p r3.Vector, distort bool) r2.Point {
	x, y := p.X/p.Z, p.Y/p.Z
	if distort {
		x, y = c.Distortion.Transform(x, y)
	}
	u, v := c.NormalizedToPixel(x, y)
	return r2.Point{X: u, Y: v}
}

// ImageToCamera back-projects a pixel to depth z in the camera frame.
func (c *CameraParameters) ImageToCamera(pixel r2.Point, z float64, undistort bool) r3.Vector {
	x, y := c.PixelToNormalized(pixel.X, pixel.Y)
	if undistort {
		x, y = c.Distortion.Undistort(x, y)
	}
	return r3.Vector{X: x * z, Y: y * z, Z: z}
}

// WorldToImage projects a world point.
func (c *CameraParameters) WorldToImage(p r3.Vector, distort bool) r2.Point {
	return c.CameraToImage(c.WorldToCamera(p), distort)
}

// ImageToWorldRay returns the optical center and the unit world direction of the ray through pixel.
func (c *CameraParameters) ImageToWorldRay(pixel r2.Point, undistort bool) (r3.Vector, r3.Vector) {
	dirCam := c.ImageToCamera(pixel, 1, undistort)
	dir := linalg.MulTransposeVec3(c.Rotation, dirCam).Normalize()
	return c.OpticalCenter(), dir
}

// OpticalCenter is the camera position in world coordinates, -Rᵀt.
func (c *CameraParameters) OpticalCenter() r3.Vector {
	return linalg.MulTransposeVec3(c.Rotation, c.Translation).Mul(-1)
}

// ProjectionMatrix returns the 3x4 matrix K·[R|t].
func (c *CameraParameters) ProjectionMatrix() *mat.Dense {
	rt := mat.NewDense(3, 4, nil)
	rt.Slice(0, 3, 0, 3).(*mat.Dense).Copy(c.Rotation)
	rt.Set(0, 3, c.Translation.X)
	rt.Set(1, 3, c.Translation.Y)
	rt.Set(2, 3, c.Translation.Z)
	var p mat.Dense
	p.Mul(c.GetCameraMatrix(), rt)
	return &p
}

// Quaternion returns the rotation as a unit quaternion.
func (c *CameraParameters) Quaternion() quat.Number {
	return RotationToQuaternion(c.Rotation)
}

// SetRotationFromQuaternion sets the rotation from q, which is normalized first.
func (c *CameraParameters) SetRotationFromQuaternion(q quat.Number) error {
	r, err := QuaternionToRotation(q)
	if err != nil {
		return err
	}
	c.Rotation = r
	return nil
}

// QuaternionToRotation converts a quaternion into a rotation matrix.
func QuaternionToRotation(q quat.Number) (*mat.Dense, error) {
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) {
		return nil, errors.Wrap(ErrInvalidRotation, "zero quaternion")
	}
	q = quat.Scale(1/n, q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w),
		2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w),
		2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y),
	}), nil
}

// RotationToQuaternion converts a rotation matrix into a unit quaternion with non-negative real part.
func RotationToQuaternion(r mat.Matrix) quat.Number {
	m00, m11, m22 := r.At(0, 0), r.At(1, 1), r.At(2, 2)
	trace := m00 + m11 + m22
	var q quat.Number
	switch {
	case trace > 0:
		s := 2 * math.Sqrt(trace+1)
		q = quat.Number{
			Real: s / 4,
			Imag: (r.At(2, 1) - r.At(1, 2)) / s,
			Jmag: (r.At(0, 2) - r.At(2, 0)) / s,
			Kmag: (r.At(1, 0) - r.At(0, 1)) / s,
		}
	case m00 > m11 && m00 > m22:
		s := 2 * math.Sqrt(1+m00-m11-m22)
		q = quat.Number{
			Real: (r.At(2, 1) - r.At(1, 2)) / s,
			Imag: s / 4,
			Jmag: (r.At(0, 1) + r.At(1, 0)) / s,
			Kmag: (r.At(0, 2) + r.At(2, 0)) / s,
		}
	case m11 > m22:
		s := 2 * math.Sqrt(1+m11-m00-m22)
		q = quat.Number{
			Real: (r.At(0, 2) - r.At(2, 0)) / s,
			Imag: (r.At(0, 1) + r.At(1, 0)) / s,
			Jmag: s / 4,
			Kmag: (r.At(1, 2) + r.At(2, 1)) / s,
		}
	default:
		s := 2 * math.Sqrt(1+m22-m00-m11)
		q = quat.Number{
			Real: (r.At(1, 0) - r.At(0, 1)) / s,
			Imag: (r.At(0, 2) + r.At(2, 0)) / s,
			Jmag: (r.At(1, 2) + r.At(2, 1)) / s,
			Kmag: s / 4,
		}
	}
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return q
}
