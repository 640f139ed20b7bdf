// Package linalg is the dense linear algebra kernel used by calibration and
// estimation code. Every operation runs in float64 on gonum matrices and
// reports rank deficiency as ErrSingular instead of returning garbage.
package linalg

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereo/logging"
)

var (
	// ErrSingular is returned when a system does not meet the rank it needs to be solved.
	ErrSingular = errors.New("matrix is singular or degenerate")
	// ErrDimensionMismatch is returned when operand shapes are incompatible.
	ErrDimensionMismatch = errors.New("matrix dimensions do not match")
)

// Config holds the state that would otherwise be process wide. The zero value is usable.
type Config struct {
	// RelativeTolerance scales the largest singular value to form the cutoff under
	// which singular values count as zero. Zero selects machine epsilon times the
	// largest dimension of the input.
	RelativeTolerance float64
}

// Kernel performs decompositions and solves with a fixed Config.
type Kernel struct {
	cfg    Config
	logger logging.Logger
}

// NewKernel returns a Kernel using cfg. logger may be nil.
func NewKernel(cfg Config, logger logging.Logger) *Kernel {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Kernel{cfg: cfg, logger: logger}
}

// SVDResult holds a full decomposition A = U·diag(S)·Vᵀ with S descending.
type SVDResult struct {
	U *mat.Dense
	S []float64
	V *mat.Dense
}

// Sigma returns S as a rows×cols rectangular diagonal matrix.
func (r *SVDResult) Sigma() *mat.Dense {
	rows, _ := r.U.Dims()
	cols, _ := r.V.Dims()
	sigma := mat.NewDense(rows, cols, nil)
	for i, s := range r.S {
		sigma.Set(i, i, s)
	}
	return sigma
}

// VT returns the transpose of V.
func (r *SVDResult) VT() *mat.Dense {
	return Transpose(r.V)
}

// SVD factorizes a.
func (k *Kernel) SVD(a mat.Matrix) (*SVDResult, error) {
	rows, cols := a.Dims()
	if rows == 0 || cols == 0 {
		return nil, errors.Wrap(ErrDimensionMismatch, "cannot decompose an empty matrix")
	}
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return nil, errors.Wrap(ErrSingular, "svd failed to converge")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	return &SVDResult{U: &u, S: svd.Values(nil), V: &v}, nil
}

// threshold returns the cutoff for values of a matrix with the given shape.
func (k *Kernel) threshold(values []float64, rows, cols int) float64 {
	if len(values) == 0 {
		return 0
	}
	rel := k.cfg.RelativeTolerance
	if rel <= 0 {
		rel = epsilon * float64(max(rows, cols))
	}
	return rel * values[0]
}

const epsilon = 0x1p-52

// Rank returns the numerical rank of a, or 0 if the decomposition fails.
func (k *Kernel) Rank(a mat.Matrix) int {
	res, err := k.SVD(a)
	if err != nil {
		return 0
	}
	rows, cols := a.Dims()
	return rankOf(res.S, k.threshold(res.S, rows, cols))
}

func rankOf(values []float64, tol float64) int {
	rank := 0
	for _, s := range values {
		if s > tol {
			rank++
		}
	}
	return rank
}

// PseudoInverse returns the Moore-Penrose inverse of a through its SVD. Singular
// values below the configured threshold are dropped.
func (k *Kernel) PseudoInverse(a mat.Matrix) (*mat.Dense, error) {
	res, err := k.SVD(a)
	if err != nil {
		return nil, err
	}
	rows, cols := a.Dims()
	tol := k.threshold(res.S, rows, cols)
	rank := rankOf(res.S, tol)
	if rank == 0 {
		return nil, errors.Wrap(ErrSingular, "pseudo-inverse of a zero matrix")
	}
	if rank < min(rows, cols) {
		k.logger.Debugw("pseudo-inverse dropped singular values", "rank", rank, "rows", rows, "cols", cols, "tolerance", tol)
	}

	// A⁺ = V·S⁺·Uᵀ, accumulated one singular triple at a time.
	pinv := mat.NewDense(cols, rows, nil)
	for i, s := range res.S {
		if s <= tol {
			continue
		}
		for r := 0; r < cols; r++ {
			vr := res.V.At(r, i) / s
			if vr == 0 {
				continue
			}
			for c := 0; c < rows; c++ {
				pinv.Set(r, c, pinv.At(r, c)+vr*res.U.At(c, i))
			}
		}
	}
	return pinv, nil
}

// PseudoInverseSimple returns (AᵀA)⁻¹Aᵀ. It is cheaper than PseudoInverse but
// needs full column rank and loses accuracy as AᵀA approaches singularity.
func (k *Kernel) PseudoInverseSimple(a mat.Matrix) (*mat.Dense, error) {
	rows, cols := a.Dims()
	if rows < cols {
		return nil, errors.Wrapf(ErrSingular, "simple pseudo-inverse needs rows >= cols, got %dx%d", rows, cols)
	}
	var ata mat.Dense
	ata.Mul(a.T(), a)
	inv, err := k.Invert(&ata)
	if err != nil {
		return nil, err
	}
	var out mat.Dense
	out.Mul(inv, a.T())
	return &out, nil
}

// Invert returns the inverse of the square matrix a.
func (k *Kernel) Invert(a mat.Matrix) (*mat.Dense, error) {
	rows, cols := a.Dims()
	if rows != cols {
		return nil, errors.Wrapf(ErrDimensionMismatch, "cannot invert %dx%d matrix", rows, cols)
	}
	var inv mat.Dense
	if err := inv.Inverse(a); err != nil {
		// gonum only reports a Condition error past its condition tolerance.
		return nil, errors.Wrap(ErrSingular, err.Error())
	}
	return &inv, nil
}

// Solve returns x minimizing ‖Ax − b‖₂. A must have at least as many rows as
// columns and full column rank.
func (k *Kernel) Solve(a mat.Matrix, b mat.Vector) (*mat.VecDense, error) {
	rows, cols := a.Dims()
	if b.Len() != rows {
		return nil, errors.Wrapf(ErrDimensionMismatch, "A is %dx%d but b has length %d", rows, cols, b.Len())
	}
	if rows < cols {
		return nil, errors.Wrapf(ErrSingular, "underdetermined system %dx%d", rows, cols)
	}
	res, err := k.SVD(a)
	if err != nil {
		return nil, err
	}
	tol := k.threshold(res.S, rows, cols)
	if rank := rankOf(res.S, tol); rank < cols {
		k.logger.Debugw("least squares system is rank deficient", "rank", rank, "required", cols)
		return nil, errors.Wrapf(ErrSingular, "rank %d below required %d", rank, cols)
	}
	x := mat.NewVecDense(cols, nil)
	for i := 0; i < cols; i++ {
		coef := mat.Dot(res.U.ColView(i), b) / res.S[i]
		x.AddScaledVec(x, coef, res.V.ColView(i))
	}
	return x, nil
}

// SolveSimple solves the least squares problem through the normal equations.
func (k *Kernel) SolveSimple(a mat.Matrix, b mat.Vector) (*mat.VecDense, error) {
	rows, _ := a.Dims()
	if b.Len() != rows {
		return nil, errors.Wrapf(ErrDimensionMismatch, "A has %d rows but b has length %d", rows, b.Len())
	}
	pinv, err := k.PseudoInverseSimple(a)
	if err != nil {
		return nil, err
	}
	var x mat.VecDense
	x.MulVec(pinv, b)
	return &x, nil
}

// SolveHomogeneous returns the unit vector x minimizing ‖Ax‖, which is the right
// singular vector of the smallest singular value. The null space must be at most
// one dimensional, so A needs rank of at least cols-1.
func (k *Kernel) SolveHomogeneous(a mat.Matrix) (*mat.VecDense, error) {
	rows, cols := a.Dims()
	if rows < cols-1 {
		return nil, errors.Wrapf(ErrSingular, "%d equations cannot determine %d unknowns up to scale", rows, cols)
	}
	res, err := k.SVD(a)
	if err != nil {
		return nil, err
	}
	tol := k.threshold(res.S, rows, cols)
	if rank := rankOf(res.S, tol); rank < cols-1 {
		k.logger.Debugw("homogeneous system is rank deficient", "rank", rank, "required", cols-1)
		return nil, errors.Wrapf(ErrSingular, "rank %d below required %d", rank, cols-1)
	}
	x := mat.VecDenseCopyOf(res.V.ColView(cols - 1))
	if n := mat.Norm(x, 2); n > 0 {
		x.ScaleVec(1/n, x)
	}
	return x, nil
}

// Mul returns a·b.
func (k *Kernel) Mul(a, b mat.Matrix) (*mat.Dense, error) {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ac != br {
		return nil, errors.Wrapf(ErrDimensionMismatch, "cannot multiply %dx%d by %dx%d", ar, ac, br, bc)
	}
	var out mat.Dense
	out.Mul(a, b)
	return &out, nil
}

// Add returns a+b.
func (k *Kernel) Add(a, b mat.Matrix) (*mat.Dense, error) {
	if err := sameShape(a, b); err != nil {
		return nil, err
	}
	var out mat.Dense
	out.Add(a, b)
	return &out, nil
}

// Sub returns a-b.
func (k *Kernel) Sub(a, b mat.Matrix) (*mat.Dense, error) {
	if err := sameShape(a, b); err != nil {
		return nil, err
	}
	var out mat.Dense
	out.Sub(a, b)
	return &out, nil
}

func sameShape(a, b mat.Matrix) error {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		return errors.Wrapf(ErrDimensionMismatch, "%dx%d vs %dx%d", ar, ac, br, bc)
	}
	return nil
}

// EqualApprox reports whether a and b have the same shape and every element
// differs by at most tol.
func EqualApprox(a, b mat.Matrix, tol float64) bool {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		return false
	}
	return floats.Distance(Flatten(a), Flatten(b), math.Inf(1)) <= tol
}
