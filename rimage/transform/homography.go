package transform

import (
	"encoding/json"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereo/linalg"
)

// Homography is a 3x3 projective transform between two image planes, defined up to scale.
type Homography struct {
	matrix *mat.Dense
}

// NewHomography creates a Homography from the 9 row-major values of its matrix. Rank
// deficient matrices are rejected with linalg.ErrSingular.
func NewHomography(vals []float64) (*Homography, error) {
	if len(vals) != 9 {
		return nil, errors.Errorf("input to NewHomography must have length of 9. Has length of %d", len(vals))
	}
	return NewHomographyFromMatrix(mat.NewDense(3, 3, append([]float64{}, vals...)))
}

// NewHomographyFromMatrix copies m into a Homography.
func NewHomographyFromMatrix(m mat.Matrix) (*Homography, error) {
	if rows, cols := m.Dims(); rows != 3 || cols != 3 {
		return nil, errors.Wrapf(linalg.ErrDimensionMismatch, "homography must be 3x3, got %dx%d", rows, cols)
	}
	h := mat.DenseCopyOf(m)
	scale := mat.Norm(h, 2)
	if scale == 0 || math.IsNaN(scale) {
		return nil, errors.Wrap(linalg.ErrSingular, "homography is zero")
	}
	// Compare the determinant of the scale free matrix so tiny but valid entries pass.
	var unit mat.Dense
	unit.Scale(1/scale, h)
	if math.Abs(mat.Det(&unit)) < 1e-12 {
		return nil, errors.Wrap(linalg.ErrSingular, "homography is rank deficient")
	}
	return &Homography{matrix: h}, nil
}

// IdentityHomography returns the identity transform.
func IdentityHomography() *Homography {
	return &Homography{matrix: linalg.Identity(3)}
}

// At returns the value at row, col.
func (h *Homography) At(row, col int) float64 {
	return h.matrix.At(row, col)
}

// Matrix returns a copy of the 3x3 matrix.
func (h *Homography) Matrix() *mat.Dense {
	return mat.DenseCopyOf(h.matrix)
}

// Values returns the row-major matrix entries.
func (h *Homography) Values() []float64 {
	return linalg.Flatten(h.matrix)
}

// Apply maps pt through the homography.
func (h *Homography) Apply(pt r2.Point) r2.Point {
	x := h.At(0, 0)*pt.X + h.At(0, 1)*pt.Y + h.At(0, 2)
	y := h.At(1, 0)*pt.X + h.At(1, 1)*pt.Y + h.At(1, 2)
	z := h.At(2, 0)*pt.X + h.At(2, 1)*pt.Y + h.At(2, 2)
	return r2.Point{X: x / z, Y: y / z}
}

// Inverse returns the inverse transform.
func (h *Homography) Inverse() (*Homography, error) {
	var inv mat.Dense
	if err := inv.Inverse(h.matrix); err != nil {
		return nil, errors.Wrap(linalg.ErrSingular, err.Error())
	}
	return &Homography{matrix: &inv}, nil
}

// Compose returns the homography that applies other first, then h.
func (h *Homography) Compose(other *Homography) *Homography {
	var m mat.Dense
	m.Mul(h.matrix, other.matrix)
	return &Homography{matrix: &m}
}

// Normalized returns a copy scaled so that h33 is 1, or unit Frobenius norm when h33 is zero.
func (h *Homography) Normalized() *Homography {
	scale := h.At(2, 2)
	if math.Abs(scale) < 1e-12 {
		scale = mat.Norm(h.matrix, 2)
	}
	var m mat.Dense
	m.Scale(1/scale, h.matrix)
	return &Homography{matrix: &m}
}

// EqualApprox compares two homographies up to scale.
func (h *Homography) EqualApprox(other *Homography, tol float64) bool {
	a := h.Normalized().matrix
	b := other.Normalized().matrix
	return linalg.EqualApprox(a, b, tol)
}

// ReprojectionError returns the mean distance between H·left and right over corrs.
func (h *Homography) ReprojectionError(corrs []Correspondence) float64 {
	if len(corrs) == 0 {
		return 0
	}
	var sum float64
	for _, c := range corrs {
		sum += h.Apply(c.Left).Sub(c.Right).Norm()
	}
	return sum / float64(len(corrs))
}

// MarshalJSON encodes the homography as its 9 row-major values.
func (h *Homography) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Values())
}

// UnmarshalJSON decodes 9 row-major values.
func (h *Homography) UnmarshalJSON(data []byte) error {
	var vals []float64
	if err := json.Unmarshal(data, &vals); err != nil {
		return err
	}
	parsed, err := NewHomography(vals)
	if err != nil {
		return err
	}
	*h = *parsed
	return nil
}

// AffineTransform is [a b c; d e f] mapping (x, y) to (ax + by + c, dx + ey + f).
type AffineTransform [2][3]float64

// Apply maps pt through the transform.
func (a *AffineTransform) Apply(pt r2.Point) r2.Point {
	return r2.Point{
		X: a[0][0]*pt.X + a[0][1]*pt.Y + a[0][2],
		Y: a[1][0]*pt.X + a[1][1]*pt.Y + a[1][2],
	}
}

// Homography returns the transform as a homography with last row (0, 0, 1).
func (a *AffineTransform) Homography() (*Homography, error) {
	return NewHomography([]float64{
		a[0][0], a[0][1], a[0][2],
		a[1][0], a[1][1], a[1][2],
		0, 0, 1,
	})
}
