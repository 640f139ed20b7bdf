package stereo

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereo/linalg"
)

// DefaultMinParallax is the sine of the smallest ray angle accepted without
// ErrDegenerateTriangulation, roughly baseline/depth.
const DefaultMinParallax = 1e-3

// TriangulationOptions describes the pixels handed to Calculate3DPoint.
type TriangulationOptions struct {
	// Rectified means the pixels come from the rectified images. They are mapped
	// back through the rectification homographies, which yield undistorted pixels,
	// so Undistort is ignored.
	Rectified bool
	// Undistort removes lens distortion from raw pixels first.
	Undistort bool
	// MinParallax overrides DefaultMinParallax when positive.
	MinParallax float64
}

// Triangulation is the full result of intersecting two viewing rays in world coordinates.
type Triangulation struct {
	// Point is the midpoint of the shortest segment between the rays.
	Point r3.Vector
	// OnLeftRay and OnRightRay are the ends of that segment.
	OnLeftRay  r3.Vector
	OnRightRay r3.Vector
	// Gap is the length of the segment.
	Gap float64
	// Parallax is the sine of the angle between the rays.
	Parallax float64
}

// Calculate3DPoint triangulates a left and right pixel of the same scene point. Rays
// that are exactly parallel return ErrDegenerateTriangulation alone; rays whose parallax
// is below the threshold return the point together with ErrDegenerateTriangulation.
func (c *Calibration) Calculate3DPoint(left, right r2.Point, opts TriangulationOptions) (r3.Vector, error) {
	tri, err := c.Triangulate(left, right, opts)
	if tri == nil {
		return r3.Vector{}, err
	}
	return tri.Point, err
}

// Triangulate is Calculate3DPoint returning the closest points on both rays as well.
func (c *Calibration) Triangulate(left, right r2.Point, opts TriangulationOptions) (*Triangulation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != RigComplete {
		return nil, newNotCalibratedError(c.state)
	}
	return c.triangulate(left, right, opts)
}

func (c *Calibration) triangulate(left, right r2.Point, opts TriangulationOptions) (*Triangulation, error) {
	undistort := opts.Undistort
	if opts.Rectified {
		left, right = c.rectLeft.Apply(left), c.rectRight.Apply(right)
		undistort = false
	}
	a, u := c.left.ImageToWorldRay(left, undistort)
	b, v := c.right.ImageToWorldRay(right, undistort)

	parallax := u.Cross(v).Norm()
	if parallax == 0 || math.IsNaN(parallax) {
		return nil, errors.Wrap(ErrDegenerateTriangulation, "viewing rays are parallel")
	}

	// minimize |a + r·u - b - s·v| over r and s; u and v are unit vectors
	w0 := a.Sub(b)
	uv := u.Dot(v)
	uw, vw := u.Dot(w0), v.Dot(w0)
	denom := parallax * parallax
	r := (uv*vw - uw) / denom
	s := (vw - uv*uw) / denom

	onLeft := a.Add(u.Mul(r))
	onRight := b.Add(v.Mul(s))
	tri := &Triangulation{
		Point:      onLeft.Add(onRight).Mul(0.5),
		OnLeftRay:  onLeft,
		OnRightRay: onRight,
		Gap:        onLeft.Sub(onRight).Norm(),
		Parallax:   parallax,
	}

	minParallax := opts.MinParallax
	if minParallax <= 0 {
		minParallax = DefaultMinParallax
	}
	if parallax < minParallax {
		return tri, errors.Wrapf(ErrDegenerateTriangulation, "parallax %g is below %g", parallax, minParallax)
	}
	return tri, nil
}

// ProjectPoint projects a world point into one camera. With distort set the result is
// a raw pixel, otherwise an undistorted one.
func (c *Calibration) ProjectPoint(p r3.Vector, side Side, distort bool) (r2.Point, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != RigComplete {
		return r2.Point{}, newNotCalibratedError(c.state)
	}
	return c.camera(side).WorldToImage(p, distort), nil
}

// ProjectRectified projects a world point into one rectified image.
func (c *Calibration) ProjectRectified(p r3.Vector, side Side) (r2.Point, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != RigComplete {
		return r2.Point{}, newNotCalibratedError(c.state)
	}
	proj := c.projLeft
	if side == Right {
		proj = c.projRight
	}
	return projectHomogeneous(proj, p), nil
}

func projectHomogeneous(proj *mat.Dense, p r3.Vector) r2.Point {
	x := mat.NewVecDense(4, []float64{p.X, p.Y, p.Z, 1})
	var img mat.VecDense
	img.MulVec(proj, x)
	h := linalg.VecToR3(&img)
	return r2.Point{X: h.X / h.Z, Y: h.Y / h.Z}
}

// DepthForDisparity returns the rectified depth of a rectified disparity d.
func (c *Calibration) DepthForDisparity(d float64) (float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != RigComplete {
		return 0, newNotCalibratedError(c.state)
	}
	if d <= 0 {
		return 0, errors.Wrapf(ErrDegenerateTriangulation, "disparity %g is not positive", d)
	}
	return c.focalBaseline() / d, nil
}

// DisparityForDepth returns the rectified disparity of a point at rectified depth z.
func (c *Calibration) DisparityForDepth(z float64) (float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != RigComplete {
		return 0, newNotCalibratedError(c.state)
	}
	if z <= 0 {
		return 0, errors.Errorf("depth %g is not positive", z)
	}
	return c.focalBaseline() / z, nil
}
