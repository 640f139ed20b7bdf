package stereo

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereo/linalg"
	"go.viam.com/stereo/rimage/transform"
)

// EpipolarLine is the line A·x + B·y + C = 0 in undistorted pixel coordinates.
type EpipolarLine struct {
	A, B, C float64
}

// SignedDistance is the perpendicular distance of p from the line, positive on the
// side the normal (A, B) points to. A degenerate line with A = B = 0, which is what
// the fundamental matrix maps the epipole to, constrains nothing and yields 0.
func (l EpipolarLine) SignedDistance(p r2.Point) float64 {
	if l.A == 0 && l.B == 0 {
		return 0
	}
	return (l.A*p.X + l.B*p.Y + l.C) / math.Hypot(l.A, l.B)
}

// Distance is the perpendicular distance of p from the line.
func (l EpipolarLine) Distance(p r2.Point) float64 {
	return math.Abs(l.SignedDistance(p))
}

// SlopeIntercept returns m and c of y = m·x + c. ok is false for vertical lines.
func (l EpipolarLine) SlopeIntercept() (m, c float64, ok bool) {
	if l.B == 0 {
		return 0, 0, false
	}
	return -l.A / l.B, -l.C / l.B, true
}

// Segment clips the line to the pixel grid of a width x height image and returns
// the two end points. ok is false when the line misses the image.
func (l EpipolarLine) Segment(width, height int) (r2.Point, r2.Point, bool) {
	maxX, maxY := float64(width-1), float64(height-1)
	var ends []r2.Point
	add := func(p r2.Point) {
		if p.X < 0 || p.X > maxX || p.Y < 0 || p.Y > maxY {
			return
		}
		for _, e := range ends {
			if e == p {
				return
			}
		}
		ends = append(ends, p)
	}
	if l.B != 0 {
		add(r2.Point{X: 0, Y: -l.C / l.B})
		add(r2.Point{X: maxX, Y: (-l.C - l.A*maxX) / l.B})
	}
	if l.A != 0 {
		add(r2.Point{X: -l.C / l.A, Y: 0})
		add(r2.Point{X: (-l.C - l.B*maxY) / l.A, Y: maxY})
	}
	if len(ends) < 2 {
		return r2.Point{}, r2.Point{}, false
	}
	return ends[0], ends[1], true
}

// EpipolarLineDistance is the perpendicular pixel distance of point from line.
func EpipolarLineDistance(point r2.Point, line EpipolarLine) float64 {
	return line.Distance(point)
}

// CalculateEpipolarLine returns the line in the other image on which the match of
// point, an undistorted pixel of image in, has to lie.
func (c *Calibration) CalculateEpipolarLine(point r2.Point, in Side) (EpipolarLine, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != RigComplete {
		return EpipolarLine{}, newNotCalibratedError(c.state)
	}
	return c.epipolarLine(point, in), nil
}

func (c *Calibration) epipolarLine(point r2.Point, in Side) EpipolarLine {
	var f mat.Matrix = c.fundamental
	if in == Right {
		f = c.fundamental.T()
	}
	l := linalg.MulVec3(f, r3.Vector{X: point.X, Y: point.Y, Z: 1})
	return EpipolarLine{A: l.X, B: l.Y, C: l.Z}
}

// EpipolarDistance is the distance of right from the epipolar line of left, both
// undistorted pixels.
func (c *Calibration) EpipolarDistance(left, right r2.Point) (float64, error) {
	line, err := c.CalculateEpipolarLine(left, Left)
	if err != nil {
		return 0, err
	}
	return line.Distance(right), nil
}

// EpipolarErrorStats summarizes how far each right point lies from the epipolar line
// of its left point. With undistort set the pixels are raw and get undistorted first.
func (c *Calibration) EpipolarErrorStats(corrs []transform.Correspondence, undistort bool) (transform.ReprojectionReport, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != RigComplete {
		return transform.ReprojectionReport{}, newNotCalibratedError(c.state)
	}
	distances := make([]float64, 0, len(corrs))
	for _, corr := range corrs {
		left, right := corr.Left, corr.Right
		if undistort {
			left, right = c.left.Undistort(left), c.right.Undistort(right)
		}
		distances = append(distances, c.epipolarLine(left, Left).Distance(right))
	}
	return transform.NewReprojectionReport(distances)
}
