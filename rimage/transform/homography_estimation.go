package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereo/linalg"
	"go.viam.com/stereo/logging"
)

// Correspondence is a pair of pixels believed to image the same point, one per view.
type Correspondence struct {
	Left  r2.Point `json:"left"`
	Right r2.Point `json:"right"`
}

// SplitCorrespondences returns the left and right points as separate slices.
func SplitCorrespondences(corrs []Correspondence) ([]r2.Point, []r2.Point) {
	left := make([]r2.Point, len(corrs))
	right := make([]r2.Point, len(corrs))
	for i, c := range corrs {
		left[i] = c.Left
		right[i] = c.Right
	}
	return left, right
}

const (
	minAffineCorrespondences     = 3
	minHomographyCorrespondences = 4
)

// HomographyEstimator fits planar transforms to point correspondences with the
// direct linear transform. Correspondences are expected to be free of outliers.
type HomographyEstimator struct {
	kernel *linalg.Kernel
	logger logging.Logger
}

// NewHomographyEstimator returns an estimator. A nil kernel gets a default one.
func NewHomographyEstimator(kernel *linalg.Kernel, logger logging.Logger) *HomographyEstimator {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if kernel == nil {
		kernel = linalg.NewKernel(linalg.Config{}, logger)
	}
	return &HomographyEstimator{kernel: kernel, logger: logger}
}

// EstimateHomography returns H with right ≈ H·left for every pair. It needs at least
// four pairs; a minimal set with three collinear points is degenerate.
func (e *HomographyEstimator) EstimateHomography(corrs []Correspondence) (*Homography, error) {
	if len(corrs) < minHomographyCorrespondences {
		return nil, newInsufficientCorrespondencesError(len(corrs), minHomographyCorrespondences)
	}
	left, right := SplitCorrespondences(corrs)
	if len(corrs) == minHomographyCorrespondences {
		if anyThreeCollinear(left) || anyThreeCollinear(right) {
			return nil, errors.Wrap(linalg.ErrSingular, "three of four correspondences are collinear")
		}
	}
	normLeft, t1, err := normalizePoints(left)
	if err != nil {
		return nil, err
	}
	normRight, t2, err := normalizePoints(right)
	if err != nil {
		return nil, err
	}

	a := mat.NewDense(2*len(corrs), 9, nil)
	for i := range corrs {
		x, y := normLeft[i].X, normLeft[i].Y
		u, v := normRight[i].X, normRight[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}
	h, err := e.kernel.SolveHomogeneous(a)
	if err != nil {
		return nil, errors.Wrap(err, "cannot estimate homography")
	}

	hNorm := mat.NewDense(3, 3, h.RawVector().Data)
	out, err := denormalize(e.kernel, hNorm, t1, t2)
	if err != nil {
		return nil, err
	}
	homography, err := NewHomographyFromMatrix(out)
	if err != nil {
		return nil, err
	}
	homography = homography.Normalized()
	e.logger.Debugw("estimated homography", "pairs", len(corrs), "reprojection_error", homography.ReprojectionError(corrs))
	return homography, nil
}

// EstimateAffine returns the affine transform with right ≈ A·left. It needs at
// least three pairs that are not collinear.
func (e *HomographyEstimator) EstimateAffine(corrs []Correspondence) (*AffineTransform, error) {
	if len(corrs) < minAffineCorrespondences {
		return nil, newInsufficientCorrespondencesError(len(corrs), minAffineCorrespondences)
	}
	left, right := SplitCorrespondences(corrs)
	if allCollinear(left) || allCollinear(right) {
		return nil, errors.Wrap(linalg.ErrSingular, "correspondences are collinear")
	}
	normLeft, t1, err := normalizePoints(left)
	if err != nil {
		return nil, err
	}
	normRight, t2, err := normalizePoints(right)
	if err != nil {
		return nil, err
	}

	// a·x + b·y + c - s·u = 0 and d·x + e·y + f - s·v = 0 with s fixed to 1 afterwards.
	a := mat.NewDense(2*len(corrs), 7, nil)
	for i := range corrs {
		x, y := normLeft[i].X, normLeft[i].Y
		a.SetRow(2*i, []float64{x, y, 1, 0, 0, 0, -normRight[i].X})
		a.SetRow(2*i+1, []float64{0, 0, 0, x, y, 1, -normRight[i].Y})
	}
	sol, err := e.kernel.SolveHomogeneous(a)
	if err != nil {
		return nil, errors.Wrap(err, "cannot estimate affine transform")
	}
	s := sol.AtVec(6)
	if math.Abs(s) < 1e-12 {
		return nil, errors.Wrap(linalg.ErrSingular, "affine solution has no scale")
	}
	aNorm := mat.NewDense(3, 3, []float64{
		sol.AtVec(0) / s, sol.AtVec(1) / s, sol.AtVec(2) / s,
		sol.AtVec(3) / s, sol.AtVec(4) / s, sol.AtVec(5) / s,
		0, 0, 1,
	})
	out, err := denormalize(e.kernel, aNorm, t1, t2)
	if err != nil {
		return nil, err
	}
	var affine AffineTransform
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			affine[r][c] = out.At(r, c) / out.At(2, 2)
		}
	}
	return &affine, nil
}

// denormalize returns T2⁻¹·m·T1.
func denormalize(k *linalg.Kernel, m, t1, t2 *mat.Dense) (*mat.Dense, error) {
	t2inv, err := k.Invert(t2)
	if err != nil {
		return nil, err
	}
	var out mat.Dense
	out.Mul(t2inv, m)
	out.Mul(&out, t1)
	return &out, nil
}

func collinear(a, b, c r2.Point) bool {
	ab, ac := b.Sub(a), c.Sub(a)
	scale := math.Max(ab.Dot(ab), ac.Dot(ac))
	return math.Abs(ab.Cross(ac)) <= 1e-9*scale
}

func anyThreeCollinear(pts []r2.Point) bool {
	for i := 0; i < len(pts); i++ {
		for j := i + 1; j < len(pts); j++ {
			for k := j + 1; k < len(pts); k++ {
				if collinear(pts[i], pts[j], pts[k]) {
					return true
				}
			}
		}
	}
	return false
}

func allCollinear(pts []r2.Point) bool {
	for j := 1; j < len(pts); j++ {
		for k := j + 1; k < len(pts); k++ {
			if !collinear(pts[0], pts[j], pts[k]) {
				return false
			}
		}
	}
	return true
}
