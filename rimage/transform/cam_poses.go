package transform

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereo/linalg"
)

// CamPose stores the 3x4 pose matrix [R|t] of a second camera relative to a first one,
// X2 = R·X1 + t.
type CamPose struct {
	PoseMat     *mat.Dense
	Rotation    *mat.Dense
	Translation r3.Vector
}

// NewCamPose creates a pose from its rotation and translation.
func NewCamPose(rotation mat.Matrix, translation r3.Vector) *CamPose {
	var pose mat.Dense
	pose.Augment(rotation, linalg.R3ToVec(translation))
	return &CamPose{
		PoseMat:     &pose,
		Rotation:    mat.DenseCopyOf(rotation),
		Translation: translation,
	}
}

// GetPossibleCameraPoses computes all 4 possible poses from the essential matrix.
func GetPossibleCameraPoses(k *linalg.Kernel, essMat mat.Matrix) ([]*CamPose, error) {
	r1, r2, t, err := DecomposeEssentialMatrix(k, essMat)
	if err != nil {
		return nil, err
	}
	poses := make([]*CamPose, 0, 4)
	for _, r := range []*mat.Dense{r1, r2} {
		for _, sign := range []float64{1, -1} {
			poses = append(poses, NewCamPose(r, t.Mul(sign)))
		}
	}
	return poses, nil
}

// GetLinearTriangulatedPoints triangulates normalized homogeneous points seen by a camera
// at the origin (pts1) and one at pose (pts2) with the linear cross product method.
func GetLinearTriangulatedPoints(k *linalg.Kernel, pose *CamPose, pts1, pts2 []r3.Vector) ([]r3.Vector, error) {
	if len(pts1) != len(pts2) {
		return nil, errors.New("the 2 sets of points don't have the same number of elements")
	}
	p := mat.NewDense(3, 4, nil)
	p.Set(0, 0, 1)
	p.Set(1, 1, 1)
	p.Set(2, 2, 1)
	pts3d := make([]r3.Vector, len(pts1))
	for i := range pts1 {
		var p1CrossP, p2CrossPdash, a mat.Dense
		p1CrossP.Mul(linalg.CrossProductMatrix(pts1[i]), p)
		p2CrossPdash.Mul(linalg.CrossProductMatrix(pts2[i]), pose.PoseMat)
		a.Stack(&p1CrossP, &p2CrossPdash)
		x, err := k.SolveHomogeneous(&a)
		if err != nil {
			return nil, errors.Wrapf(err, "point %d", i)
		}
		w := x.AtVec(3)
		if w == 0 {
			return nil, errors.Wrapf(linalg.ErrSingular, "point %d is at infinity", i)
		}
		pts3d[i] = r3.Vector{X: x.AtVec(0) / w, Y: x.AtVec(1) / w, Z: x.AtVec(2) / w}
	}
	return pts3d, nil
}

// GetNumberPositiveDepth counts the triangulated points that lie in front of both cameras.
func GetNumberPositiveDepth(k *linalg.Kernel, pose *CamPose, pts1, pts2 []r3.Vector) int {
	pts3D, err := GetLinearTriangulatedPoints(k, pose, pts1, pts2)
	if err != nil {
		return 0
	}
	nPositiveDepth := 0
	for _, pt := range pts3D {
		inSecond := linalg.MulVec3(pose.Rotation, pt).Add(pose.Translation)
		if pt.Z > 0 && inSecond.Z > 0 {
			nPositiveDepth++
		}
	}
	return nPositiveDepth
}

// GetCorrectCameraPose returns the best pose, which is the pose with the most positive depth values.
func GetCorrectCameraPose(k *linalg.Kernel, poses []*CamPose, pts1, pts2 []r3.Vector) (*CamPose, error) {
	maxNumPosDepth := 0
	var correctPose *CamPose
	for _, pose := range poses {
		if nPosDepth := GetNumberPositiveDepth(k, pose, pts1, pts2); nPosDepth > maxNumPosDepth {
			maxNumPosDepth = nPosDepth
			correctPose = pose
		}
	}
	if correctPose == nil {
		return nil, errors.Wrap(linalg.ErrSingular, "no candidate pose puts points in front of both cameras")
	}
	return correctPose, nil
}

// EstimateNewPose estimates the pose of the camera in the second set of points wrt the pose of the camera in the first
// set of points. pts1 and pts2 are undistorted pixel matches, k1 and k2 the camera matrices. The translation has unit
// length since two views cannot recover scale.
func EstimateNewPose(k *linalg.Kernel, pts1, pts2 []r2.Point, k1, k2 mat.Matrix) (*CamPose, error) {
	if len(pts1) != len(pts2) {
		return nil, errors.New("the 2 sets of points don't have the same number of elements")
	}
	fundamentalMatrix, err := ComputeFundamentalMatrixAllPoints(k, pts1, pts2, true)
	if err != nil {
		return nil, err
	}
	essentialMatrix, err := GetEssentialMatrixFromFundamental(k, k1, k2, fundamentalMatrix)
	if err != nil {
		return nil, err
	}
	poses, err := GetPossibleCameraPoses(k, essentialMatrix)
	if err != nil {
		return nil, err
	}
	norm1, err := normalizeWithCameraMatrix(k, pts1, k1)
	if err != nil {
		return nil, err
	}
	norm2, err := normalizeWithCameraMatrix(k, pts2, k2)
	if err != nil {
		return nil, err
	}
	return GetCorrectCameraPose(k, poses, norm1, norm2)
}

func normalizeWithCameraMatrix(k *linalg.Kernel, pts []r2.Point, cam mat.Matrix) ([]r3.Vector, error) {
	kinv, err := k.Invert(cam)
	if err != nil {
		return nil, err
	}
	out := Convert2DPointsToHomogeneousPoints(pts)
	for i, p := range out {
		out[i] = linalg.MulVec3(kinv, p)
	}
	return out, nil
}
