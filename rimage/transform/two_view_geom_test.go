package transform

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereo/linalg"
)

type twoViewFixture struct {
	k          *mat.Dense
	rotation   *mat.Dense
	t          r3.Vector
	pts1, pts2 []r2.Point
}

func newTwoViewFixture(n int) twoViewFixture {
	in := testIntrinsics()
	left := NewCameraParameters(in, nil)
	right := NewCameraParameters(in, nil)
	right.Rotation = RodriguesToRotation(r3.Vector{X: 0.02, Y: -0.1, Z: 0.03})
	right.Translation = r3.Vector{X: -100, Y: 5, Z: 10}

	rnd := rand.New(rand.NewSource(7))
	fx := twoViewFixture{k: in.GetCameraMatrix(), rotation: right.Rotation, t: right.Translation}
	for i := 0; i < n; i++ {
		z := 800 + rnd.Float64()*700
		p := left.ImageToCamera(r2.Point{X: 60 + rnd.Float64()*520, Y: 60 + rnd.Float64()*360}, z, false)
		fx.pts1 = append(fx.pts1, left.WorldToImage(p, false))
		fx.pts2 = append(fx.pts2, right.WorldToImage(p, false))
	}
	return fx
}

// unitFrobenius scales m to unit norm with a non-negative first non-zero entry.
func unitFrobenius(m mat.Matrix) *mat.Dense {
	out := mat.DenseCopyOf(m)
	out.Scale(1/mat.Norm(out, 2), out)
	for _, v := range out.RawMatrix().Data {
		if math.Abs(v) > 1e-9 {
			if v < 0 {
				out.Scale(-1, out)
			}
			break
		}
	}
	return out
}

func TestFundamentalMatrixFromPose(t *testing.T) {
	k := linalg.NewKernel(linalg.Config{}, nil)
	fx := newTwoViewFixture(20)
	f, err := FundamentalMatrixFromPose(k, fx.k, fx.k, fx.rotation, fx.t)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mat.Det(f), test.ShouldAlmostEqual, 0, 1e-12)

	h1 := Convert2DPointsToHomogeneousPoints(fx.pts1)
	h2 := Convert2DPointsToHomogeneousPoints(fx.pts2)
	for i := range h1 {
		residual := h2[i].Dot(linalg.MulVec3(f, h1[i]))
		test.That(t, residual, test.ShouldAlmostEqual, 0, 1e-9)
	}

	_, err = FundamentalMatrixFromPose(k, mat.NewDense(3, 3, nil), fx.k, fx.rotation, fx.t)
	test.That(t, err, test.ShouldWrap, linalg.ErrSingular)
}

func TestComputeFundamentalMatrixAllPoints(t *testing.T) {
	k := linalg.NewKernel(linalg.Config{}, nil)
	fx := newTwoViewFixture(30)
	truth, err := FundamentalMatrixFromPose(k, fx.k, fx.k, fx.rotation, fx.t)
	test.That(t, err, test.ShouldBeNil)

	f, err := ComputeFundamentalMatrixAllPoints(k, fx.pts1, fx.pts2, true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, linalg.EqualApprox(unitFrobenius(f), unitFrobenius(truth), 1e-5), test.ShouldBeTrue)
	test.That(t, f.At(2, 2), test.ShouldAlmostEqual, 1, 1e-12)

	_, err = ComputeFundamentalMatrixAllPoints(k, fx.pts1[:7], fx.pts2[:7], true)
	test.That(t, err, test.ShouldWrap, ErrInsufficientCorrespondences)

	_, err = ComputeFundamentalMatrixAllPoints(k, fx.pts1, fx.pts2[:9], true)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestEstimateNewPose(t *testing.T) {
	k := linalg.NewKernel(linalg.Config{}, nil)
	fx := newTwoViewFixture(40)
	pose, err := EstimateNewPose(k, fx.pts1, fx.pts2, fx.k, fx.k)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, linalg.EqualApprox(pose.Rotation, fx.rotation, 1e-6), test.ShouldBeTrue)
	test.That(t, pose.Translation.Norm(), test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, pose.Translation.Sub(fx.t.Normalize()).Norm(), test.ShouldBeLessThan, 1e-6)

	rows, cols := pose.PoseMat.Dims()
	test.That(t, rows, test.ShouldEqual, 3)
	test.That(t, cols, test.ShouldEqual, 4)
}

func TestDecomposeEssentialMatrix(t *testing.T) {
	k := linalg.NewKernel(linalg.Config{}, nil)
	rotation := RodriguesToRotation(r3.Vector{X: 0.3, Y: 0.2, Z: -0.1})
	translation := r3.Vector{X: 1, Y: 0.5, Z: -0.2}.Normalize()
	var e mat.Dense
	e.Mul(linalg.CrossProductMatrix(translation), rotation)

	r1, r2, tr, err := DecomposeEssentialMatrix(k, &e)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, CheckRotation(r1), test.ShouldBeNil)
	test.That(t, CheckRotation(r2), test.ShouldBeNil)
	matches := linalg.EqualApprox(r1, rotation, 1e-9) || linalg.EqualApprox(r2, rotation, 1e-9)
	test.That(t, matches, test.ShouldBeTrue)
	test.That(t, math.Abs(tr.Dot(translation)), test.ShouldAlmostEqual, 1, 1e-9)

	poses, err := GetPossibleCameraPoses(k, &e)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, poses, test.ShouldHaveLength, 4)
}
