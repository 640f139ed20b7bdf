package transform

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/stereo/linalg"
)

func TestIntrinsicsCheckValid(t *testing.T) {
	var nilIntrinsics *PinholeCameraIntrinsics
	err := nilIntrinsics.CheckValid()
	test.That(t, err, test.ShouldNotBeNil)

	in := testIntrinsics()
	test.That(t, in.CheckValid(), test.ShouldBeNil)

	in.Width = 0
	err = in.CheckValid()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "size")

	in = testIntrinsics()
	in.Fy = -1
	test.That(t, in.CheckValid(), test.ShouldNotBeNil)
}

func TestPixelPointRoundTrip(t *testing.T) {
	in := testIntrinsics()
	in.Skew = 0.7
	for _, p := range []r3.Vector{{X: 0, Y: 0, Z: 1}, {X: -120, Y: 55, Z: 900}, {X: 33, Y: -8, Z: 14.5}} {
		u, v := in.PointToPixel(p.X, p.Y, p.Z)
		x, y, z := in.PixelToPoint(u, v, p.Z)
		test.That(t, x, test.ShouldAlmostEqual, p.X, 1e-9)
		test.That(t, y, test.ShouldAlmostEqual, p.Y, 1e-9)
		test.That(t, z, test.ShouldEqual, p.Z)
	}
	u, v := in.PointToPixel(1, 1, 0)
	test.That(t, u, test.ShouldEqual, -1)
	test.That(t, v, test.ShouldEqual, -1)

	k := in.GetCameraMatrix()
	test.That(t, k.At(0, 1), test.ShouldEqual, 0.7)
	back := NewPinholeCameraIntrinsicsFromMatrix(k, in.Width, in.Height)
	test.That(t, *back, test.ShouldResemble, *in)
}

func TestDistortionRoundTrip(t *testing.T) {
	model := PinholeCameraModel{PinholeCameraIntrinsics: testIntrinsics(), Distortion: testDistortion()}
	for y := 0.0; y < 480; y += 40 {
		for x := 0.0; x < 640; x += 40 {
			p := r2p(x, y)
			moved := model.Distort(model.Undistort(p))
			test.That(t, moved.Sub(p).Norm(), test.ShouldBeLessThan, DistortionRoundTripTolerance)
		}
	}

	// the principal point is fixed for a purely radial model
	radial := PinholeCameraModel{PinholeCameraIntrinsics: testIntrinsics(), Distortion: &BrownConrady{RadialK1: -0.2}}
	pp := r2p(radial.Ppx, radial.Ppy)
	test.That(t, radial.Distort(pp), test.ShouldResemble, pp)

	none := PinholeCameraModel{PinholeCameraIntrinsics: testIntrinsics()}
	test.That(t, none.Distort(r2p(3, 4)), test.ShouldResemble, r2p(3, 4))
	test.That(t, none.Undistort(r2p(3, 4)), test.ShouldResemble, r2p(3, 4))
}

func TestBrownConrady(t *testing.T) {
	_, err := NewBrownConrady([]float64{1, 2, 3, 4, 5, 6})
	test.That(t, err, test.ShouldNotBeNil)

	bc, err := NewBrownConrady([]float64{0.1, 0.2, 0.3, 0.4, 0.5})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bc.Parameters(), test.ShouldResemble, []float64{0.1, 0.2, 0.3, 0.4, 0.5})
	test.That(t, bc.ModelType(), test.ShouldEqual, string(BrownConradyDistortionType))

	bc.RadialK2 = math.NaN()
	test.That(t, bc.CheckValid(), test.ShouldNotBeNil)

	var nilModel *BrownConrady
	test.That(t, nilModel.IsZero(), test.ShouldBeTrue)
	x, y := nilModel.Transform(0.3, -0.2)
	test.That(t, x, test.ShouldEqual, 0.3)
	test.That(t, y, test.ShouldEqual, -0.2)
}

func TestCheckRotation(t *testing.T) {
	test.That(t, CheckRotation(linalg.Identity(3)), test.ShouldBeNil)
	test.That(t, CheckRotation(RodriguesToRotation(r3.Vector{X: 0.3, Y: 0.1, Z: -1})), test.ShouldBeNil)

	err := CheckRotation(mat.NewDense(2, 2, []float64{1, 0, 0, 1}))
	test.That(t, err, test.ShouldWrap, ErrInvalidRotation)

	reflection := mat.NewDense(3, 3, []float64{-1, 0, 0, 0, 1, 0, 0, 0, 1})
	test.That(t, CheckRotation(reflection), test.ShouldWrap, ErrInvalidRotation)

	scaled := mat.NewDense(3, 3, []float64{2, 0, 0, 0, 2, 0, 0, 0, 2})
	test.That(t, CheckRotation(scaled), test.ShouldWrap, ErrInvalidRotation)

	cam := testCamera()
	test.That(t, cam.SetPose(scaled, r3.Vector{}), test.ShouldNotBeNil)
	test.That(t, cam.Translation, test.ShouldResemble, r3.Vector{X: 10, Y: -5, Z: 20})
}

func TestCameraProjection(t *testing.T) {
	cam := testCamera()
	world := r3.Vector{X: 40, Y: -30, Z: 1000}

	inCam := cam.WorldToCamera(world)
	back := cam.CameraToWorld(inCam)
	test.That(t, back.Sub(world).Norm(), test.ShouldBeLessThan, 1e-9)

	// the projection matrix agrees with the explicit path when distortion is off
	pix := cam.WorldToImage(world, false)
	var h mat.VecDense
	h.MulVec(cam.ProjectionMatrix(), mat.NewVecDense(4, []float64{world.X, world.Y, world.Z, 1}))
	test.That(t, h.AtVec(0)/h.AtVec(2), test.ShouldAlmostEqual, pix.X, 1e-9)
	test.That(t, h.AtVec(1)/h.AtVec(2), test.ShouldAlmostEqual, pix.Y, 1e-9)

	// a distorted pixel back-projects onto the original ray
	distorted := cam.WorldToImage(world, true)
	recovered := cam.ImageToCamera(distorted, inCam.Z, true)
	test.That(t, recovered.Sub(inCam).Norm(), test.ShouldBeLessThan, 1e-3)

	origin, dir := cam.ImageToWorldRay(pix, false)
	test.That(t, dir.Norm(), test.ShouldAlmostEqual, 1, 1e-12)
	toPoint := world.Sub(origin).Normalize()
	test.That(t, toPoint.Sub(dir).Norm(), test.ShouldBeLessThan, 1e-9)

	// the optical center maps to the camera frame origin
	test.That(t, cam.WorldToCamera(cam.OpticalCenter()).Norm(), test.ShouldBeLessThan, 1e-9)
}

func TestQuaternionRoundTrip(t *testing.T) {
	for _, rv := range []r3.Vector{
		{},
		{X: 0.1, Y: -0.2, Z: 0.05},
		{X: math.Pi - 0.01},
		{Y: 2.5, Z: 1},
	} {
		r := RodriguesToRotation(rv)
		q := RotationToQuaternion(r)
		test.That(t, quat.Abs(q), test.ShouldAlmostEqual, 1, 1e-12)
		test.That(t, q.Real, test.ShouldBeGreaterThanOrEqualTo, 0)
		back, err := QuaternionToRotation(q)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, linalg.EqualApprox(back, r, 1e-9), test.ShouldBeTrue)
		test.That(t, RotationToRodrigues(r).Sub(rv).Norm(), test.ShouldBeLessThan, 1e-9)
	}

	_, err := QuaternionToRotation(quat.Number{})
	test.That(t, err, test.ShouldWrap, ErrInvalidRotation)

	cam := testCamera()
	test.That(t, cam.SetRotationFromQuaternion(quat.Number{Real: 2}), test.ShouldBeNil)
	test.That(t, linalg.EqualApprox(cam.Rotation, linalg.Identity(3), 1e-12), test.ShouldBeTrue)
}

func TestCloneIsDeep(t *testing.T) {
	cam := testCamera()
	clone := cam.Clone()
	clone.Fx = 1
	clone.Distortion.RadialK1 = 5
	clone.Rotation.Set(0, 0, 9)
	test.That(t, cam.Fx, test.ShouldEqual, 500)
	test.That(t, cam.Distortion.RadialK1, test.ShouldEqual, -0.12)
	test.That(t, cam.Rotation.At(0, 0), test.ShouldNotEqual, 9)
}
