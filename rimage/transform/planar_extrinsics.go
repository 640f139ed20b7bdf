package transform

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereo/linalg"
)

// ExtrinsicsFromHomography recovers the pose of a planar target from the homography
// mapping target coordinates (x, y, 0) to undistorted pixels. The returned rotation
// and translation take target coordinates into the camera frame with the target in front.
func ExtrinsicsFromHomography(k *linalg.Kernel, intrinsics *PinholeCameraIntrinsics, h *Homography) (*mat.Dense, r3.Vector, error) {
	kinv, err := k.Invert(intrinsics.GetCameraMatrix())
	if err != nil {
		return nil, r3.Vector{}, err
	}
	var b mat.Dense
	b.Mul(kinv, h.Matrix())
	b1 := linalg.VecToR3(b.ColView(0))
	b2 := linalg.VecToR3(b.ColView(1))
	b3 := linalg.VecToR3(b.ColView(2))
	norm := (b1.Norm() + b2.Norm()) / 2
	if norm == 0 {
		return nil, r3.Vector{}, errors.Wrap(linalg.ErrSingular, "homography has no rotation part")
	}
	lambda := 1 / norm
	if b3.Z < 0 {
		lambda = -lambda
	}
	r1 := b1.Mul(lambda)
	r2 := b2.Mul(lambda)
	r3v := r1.Cross(r2)
	t := b3.Mul(lambda)

	approx := mat.NewDense(3, 3, []float64{
		r1.X, r2.X, r3v.X,
		r1.Y, r2.Y, r3v.Y,
		r1.Z, r2.Z, r3v.Z,
	})
	// closest rotation in the Frobenius sense is U·Vᵀ
	res, err := k.SVD(approx)
	if err != nil {
		return nil, r3.Vector{}, err
	}
	var rot mat.Dense
	rot.Mul(res.U, res.V.T())
	if mat.Det(&rot) < 0 {
		return nil, r3.Vector{}, errors.Wrap(linalg.ErrSingular, "homography does not describe a rigid plane pose")
	}
	return &rot, t, nil
}
