package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereo/linalg"
)

const minFundamentalCorrespondences = 8

// FundamentalMatrixFromPose returns F = K2^-T·[t]x·R·K1^-1 for a second camera at
// X2 = R·X1 + t, so that x2ᵀ·F·x1 = 0 for corresponding undistorted pixels.
func FundamentalMatrixFromPose(k *linalg.Kernel, k1, k2, rotation mat.Matrix, translation r3.Vector) (*mat.Dense, error) {
	k1inv, err := k.Invert(k1)
	if err != nil {
		return nil, errors.Wrap(err, "left camera matrix")
	}
	k2inv, err := k.Invert(k2)
	if err != nil {
		return nil, errors.Wrap(err, "right camera matrix")
	}
	var essMat, f mat.Dense
	essMat.Mul(linalg.CrossProductMatrix(translation), rotation)
	f.Mul(k2inv.T(), &essMat)
	f.Mul(&f, k1inv)
	return &f, nil
}

// GetEssentialMatrixFromFundamental returns the essential matrix from the fundamental matrix and intrinsics parameters.
func GetEssentialMatrixFromFundamental(k *linalg.Kernel, k1, k2, f mat.Matrix) (*mat.Dense, error) {
	var essMat mat.Dense
	essMat.Mul(k2.T(), f)
	essMat.Mul(&essMat, k1)
	// enforce the two equal and one zero singular values of an essential matrix
	res, err := k.SVD(&essMat)
	if err != nil {
		return nil, err
	}
	s := linalg.Identity(3)
	s.Set(2, 2, 0)
	essMat.Mul(res.U, s)
	essMat.Mul(&essMat, res.V.T())
	return &essMat, nil
}

// DecomposeEssentialMatrix decomposes the Essential matrix into 2 possible 3D rotations and a 3D translation
// known up to sign and scale.
func DecomposeEssentialMatrix(k *linalg.Kernel, essMat mat.Matrix) (*mat.Dense, *mat.Dense, r3.Vector, error) {
	res, err := k.SVD(essMat)
	if err != nil {
		return nil, nil, r3.Vector{}, err
	}
	u, vt := res.U, res.VT()
	// check determinant sign of U and V
	if mat.Det(u) < 0 {
		u.Scale(-1, u)
	}
	if mat.Det(vt) < 0 {
		vt.Scale(-1, vt)
	}
	w := mat.NewDense(3, 3, []float64{
		0, 1, 0,
		-1, 0, 0,
		0, 0, 1,
	})
	var r1, r2 mat.Dense
	// UWV^T
	r1.Mul(u, w)
	r1.Mul(&r1, vt)
	// UW^TV^T
	r2.Mul(u, w.T())
	r2.Mul(&r2, vt)
	t := linalg.VecToR3(u.ColView(2))
	return &r1, &r2, t, nil
}

// Convert2DPointsToHomogeneousPoints converts float64 image coordinates to homogeneous float64 coordinates.
func Convert2DPointsToHomogeneousPoints(pts []r2.Point) []r3.Vector {
	ptsHomogeneous := make([]r3.Vector, len(pts))
	for i, pt := range pts {
		ptsHomogeneous[i] = r3.Vector{
			X: pt.X,
			Y: pt.Y,
			Z: 1,
		}
	}
	return ptsHomogeneous
}

// ComputeFundamentalMatrixAllPoints computes the fundamental matrix from all points with the
// eight point algorithm, so that pts2ᵀ·F·pts1 = 0.
func ComputeFundamentalMatrixAllPoints(k *linalg.Kernel, pts1, pts2 []r2.Point, normalize bool) (*mat.Dense, error) {
	if len(pts1) != len(pts2) {
		return nil, errors.New("sets of points pts1 and pts2 must have the same number of elements")
	}
	if len(pts1) < minFundamentalCorrespondences {
		return nil, newInsufficientCorrespondencesError(len(pts1), minFundamentalCorrespondences)
	}
	nPoints := len(pts1)

	points1, points2 := pts1, pts2
	t1, t2 := linalg.Identity(3), linalg.Identity(3)
	if normalize {
		var err error
		if points1, t1, err = normalizePoints(pts1); err != nil {
			return nil, err
		}
		if points2, t2, err = normalizePoints(pts2); err != nil {
			return nil, err
		}
	}

	m := mat.NewDense(nPoints, 9, nil)
	for i := range points1 {
		v1 := points1[i]
		v2 := points2[i]
		m.SetRow(i, []float64{
			v2.X * v1.X, v2.X * v1.Y, v2.X,
			v2.Y * v1.X, v2.Y * v1.Y, v2.Y,
			v1.X, v1.Y, 1,
		})
	}
	sol, err := k.SolveHomogeneous(m)
	if err != nil {
		return nil, errors.Wrap(err, "cannot estimate fundamental matrix")
	}
	f := mat.NewDense(3, 3, sol.RawVector().Data)

	// enforce rank 2 of F
	res, err := k.SVD(f)
	if err != nil {
		return nil, err
	}
	sigma := res.Sigma()
	sigma.Set(2, 2, 0)
	f.Mul(res.U, sigma)
	f.Mul(f, res.V.T())
	// rescale F: T2^T @ F @ T1
	f.Mul(t2.T(), f)
	f.Mul(f, t1)

	if s := f.At(2, 2); math.Abs(s) > 1e-12 {
		f.Scale(1/s, f)
	}
	return f, nil
}

// normalizePoints normalizes points as described in Multiple View Geometry, Alg 11.1:
// centroid at the origin and mean distance sqrt(2).
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense, error) {
	nPoints := len(pts)
	if nPoints == 0 {
		return nil, nil, newInsufficientCorrespondencesError(0, 1)
	}
	// compute centroid of points
	mu := r2.Point{}
	for _, pt := range pts {
		mu = mu.Add(pt)
	}
	mu = mu.Mul(1. / float64(nPoints))
	// compute scale factor
	d := 0.0
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / float64(nPoints)
	}
	if d == 0 {
		return nil, nil, errors.Wrap(linalg.ErrSingular, "all points coincide")
	}
	scale := math.Sqrt(2) / d
	transform := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	})
	pointsTransformed := make([]r2.Point, nPoints)
	for i := range pointsTransformed {
		pointsTransformed[i] = pts[i].Sub(mu).Mul(scale)
	}
	return pointsTransformed, transform, nil
}
