package stereo

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereo/linalg"
	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/rimage/transform"
)

func newCamera(width, height int, fx, fy, ppx, ppy float64, distortion *transform.BrownConrady) *transform.CameraParameters {
	return transform.NewCameraParameters(&transform.PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     fx,
		Fy:     fy,
		Ppx:    ppx,
		Ppy:    ppy,
	}, distortion)
}

func testRotation() *mat.Dense {
	return transform.RodriguesToRotation(r3.Vector{X: 0.01, Y: -0.03, Z: 0.02})
}

var testTranslation = r3.Vector{X: -60, Y: 1.5, Z: 2}

// testRig is a slightly converging pair with different lenses on each side.
func testRig(t *testing.T) *Calibration {
	t.Helper()
	left := newCamera(640, 480, 500, 505, 322.5, 238.25, &transform.BrownConrady{RadialK1: -0.05, RadialK2: 0.01})
	right := newCamera(640, 480, 510, 512, 318, 242, &transform.BrownConrady{RadialK1: -0.04, TangentialP1: 0.0005})
	cal := NewCalibration(nil, logging.NewTestLogger(t))
	test.That(t, cal.SetSingleCalibrations(left, right), test.ShouldBeNil)
	test.That(t, cal.SetExtrinsicParameters(testRotation(), testTranslation), test.ShouldBeNil)
	return cal
}

// parallelRig is an already rectified pair: identical pinhole cameras with a purely
// horizontal baseline of 60.
func parallelRig(t *testing.T, width, height int, f float64) *Calibration {
	t.Helper()
	cam := newCamera(width, height, f, f, float64(width)/2, float64(height)/2, nil)
	cal := NewCalibration(nil, logging.NewTestLogger(t))
	test.That(t, cal.SetSingleCalibrations(cam, cam), test.ShouldBeNil)
	test.That(t, cal.SetExtrinsicParameters(linalg.Identity(3), r3.Vector{X: -60}), test.ShouldBeNil)
	return cal
}

// scenePoints returns n world points in front of both cameras of testRig.
func scenePoints(n int, seed int64) []r3.Vector {
	rnd := rand.New(rand.NewSource(seed))
	pts := make([]r3.Vector, 0, n)
	for i := 0; i < n; i++ {
		z := 800 + rnd.Float64()*1200
		pts = append(pts, r3.Vector{
			X: (rnd.Float64() - 0.5) * 0.6 * z,
			Y: (rnd.Float64() - 0.5) * 0.5 * z,
			Z: z,
		})
	}
	return pts
}

func project(t *testing.T, cal *Calibration, p r3.Vector, distort bool) (r2.Point, r2.Point) {
	t.Helper()
	left, err := cal.ProjectPoint(p, Left, distort)
	test.That(t, err, test.ShouldBeNil)
	right, err := cal.ProjectPoint(p, Right, distort)
	test.That(t, err, test.ShouldBeNil)
	return left, right
}

func vectorsClose(t *testing.T, got, want r3.Vector, tol float64) {
	t.Helper()
	test.That(t, got.X, test.ShouldAlmostEqual, want.X, tol)
	test.That(t, got.Y, test.ShouldAlmostEqual, want.Y, tol)
	test.That(t, got.Z, test.ShouldAlmostEqual, want.Z, tol)
}

// randomGray fills an image with uniform noise.
func randomGray(width, height int, seed int64) *image.Gray {
	rnd := rand.New(rand.NewSource(seed))
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = uint8(rnd.Intn(256))
	}
	return img
}

// shiftedGray returns the right view of left for a constant disparity d:
// right(x, y) = f(left(x+d, y)). Columns without a source get noise.
func shiftedGray(left *image.Gray, d int, f func(uint8) uint8, seed int64) *image.Gray {
	b := left.Bounds()
	right := randomGray(b.Dx(), b.Dy(), seed)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x+d < b.Dx(); x++ {
			right.SetGray(x, y, color.Gray{Y: f(left.GrayAt(x+d, y).Y)})
		}
	}
	return right
}

func identity(v uint8) uint8 {
	return v
}
