package transform

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereo/logging"
)

const (
	refineMaxIterations = 200
	refineMaxDamping    = 1e12
)

// camera parameter layout used by the refinement.
const (
	paramFx = iota
	paramFy
	paramPpx
	paramPpy
	paramK1
	paramK2
	paramP1
	paramP2
	paramRotX
	paramRotY
	paramRotZ
	paramTx
	paramTy
	paramTz
	numCameraParams
)

// RefineCalibration minimizes the summed squared reprojection error of cam over corrs
// with Levenberg-Marquardt, starting from cam, and returns the improved camera. Only
// the lens terms named by kind are fitted, the others keep their values. Skew and rk3
// stay fixed.
func RefineCalibration(
	cam *CameraParameters,
	corrs []WorldCorrespondence,
	kind DistortionEstimation,
	logger logging.Logger,
) (*CameraParameters, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if len(corrs) < minDLTCorrespondences {
		return nil, newInsufficientCorrespondencesError(len(corrs), minDLTCorrespondences)
	}
	full := packCamera(cam)
	free := freeParams(kind)
	expand := func(x []float64) *CameraParameters {
		params := append([]float64(nil), full...)
		for i, p := range free {
			params[p] = x[i]
		}
		return unpackCamera(cam, params)
	}
	residuals := func(y, x []float64) {
		c := expand(x)
		for i, corr := range corrs {
			d := c.WorldToImage(corr.World, true).Sub(corr.Image)
			y[2*i], y[2*i+1] = d.X, d.Y
		}
	}

	x := make([]float64, len(free))
	for i, p := range free {
		x[i] = full[p]
	}
	m, n := 2*len(corrs), len(free)
	r := make([]float64, m)
	residuals(r, x)
	initial := sumSquares(r)
	cost := initial

	jac := mat.NewDense(m, n, nil)
	settings := &fd.JacobianSettings{Formula: fd.Central}
	damping := 1e-3
	iterations := 0
	for ; iterations < refineMaxIterations && cost > 0; iterations++ {
		fd.Jacobian(jac, residuals, x, settings)
		var jtj mat.SymDense
		jtj.SymOuterK(1, jac.T())
		var g mat.VecDense
		g.MulVec(jac.T(), mat.NewVecDense(m, r))
		g.ScaleVec(-1, &g)

		improved := false
		for damping < refineMaxDamping {
			step, ok := dampedStep(&jtj, &g, damping)
			if !ok {
				damping *= 10
				continue
			}
			next := make([]float64, n)
			for i := range next {
				next[i] = x[i] + step.AtVec(i)
			}
			nextR := make([]float64, m)
			residuals(nextR, next)
			if nextCost := sumSquares(nextR); nextCost < cost {
				converged := cost-nextCost <= 1e-15*cost
				x, r, cost = next, nextR, nextCost
				damping = math.Max(damping/10, 1e-12)
				improved = !converged
				break
			}
			damping *= 10
		}
		if !improved {
			break
		}
	}
	logger.Debugw("refined calibration", "initial_cost", initial, "final_cost", cost, "iterations", iterations)
	return expand(x), nil
}

// dampedStep solves (JᵀJ + λ·diag(JᵀJ))·δ = -Jᵀr.
func dampedStep(jtj *mat.SymDense, g *mat.VecDense, damping float64) (*mat.VecDense, bool) {
	n := jtj.SymmetricDim()
	a := mat.NewSymDense(n, nil)
	a.CopySym(jtj)
	for i := 0; i < n; i++ {
		d := math.Max(jtj.At(i, i), 1e-12)
		a.SetSym(i, i, jtj.At(i, i)+damping*d)
	}
	var chol mat.Cholesky
	if !chol.Factorize(a) {
		return nil, false
	}
	var step mat.VecDense
	if err := chol.SolveVecTo(&step, g); err != nil {
		return nil, false
	}
	return &step, true
}

func sumSquares(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return sum
}

// freeParams lists the parameters a refinement of the given kind adjusts.
func freeParams(kind DistortionEstimation) []int {
	free := []int{paramFx, paramFy, paramPpx, paramPpy}
	switch kind {
	case RadialDistortion:
		free = append(free, paramK1, paramK2)
	case RadialTangentialDistortion:
		free = append(free, paramK1, paramK2, paramP1, paramP2)
	case NoDistortion:
	}
	return append(free, paramRotX, paramRotY, paramRotZ, paramTx, paramTy, paramTz)
}

// packCamera lays out fx fy ppx ppy rk1 rk2 tp1 tp2, the rotation vector and t.
func packCamera(c *CameraParameters) []float64 {
	d := c.Distortion
	if d == nil {
		d = &BrownConrady{}
	}
	rv := RotationToRodrigues(c.Rotation)
	return []float64{
		c.Fx, c.Fy, c.Ppx, c.Ppy,
		d.RadialK1, d.RadialK2, d.TangentialP1, d.TangentialP2,
		rv.X, rv.Y, rv.Z,
		c.Translation.X, c.Translation.Y, c.Translation.Z,
	}
}

func unpackCamera(base *CameraParameters, x []float64) *CameraParameters {
	out := base.Clone()
	out.Fx, out.Fy, out.Ppx, out.Ppy = x[paramFx], x[paramFy], x[paramPpx], x[paramPpy]
	rk3 := 0.0
	if base.Distortion != nil {
		rk3 = base.Distortion.RadialK3
	}
	out.Distortion = &BrownConrady{
		RadialK1:     x[paramK1],
		RadialK2:     x[paramK2],
		RadialK3:     rk3,
		TangentialP1: x[paramP1],
		TangentialP2: x[paramP2],
	}
	out.Rotation = RodriguesToRotation(r3.Vector{X: x[paramRotX], Y: x[paramRotY], Z: x[paramRotZ]})
	out.Translation = r3.Vector{X: x[paramTx], Y: x[paramTy], Z: x[paramTz]}
	return out
}

// RodriguesToRotation converts an axis-angle vector (angle = norm) into a rotation matrix.
func RodriguesToRotation(v r3.Vector) *mat.Dense {
	theta := v.Norm()
	if theta < 1e-12 {
		return mat.NewDense(3, 3, []float64{1, -v.Z, v.Y, v.Z, 1, -v.X, -v.Y, v.X, 1})
	}
	k := v.Mul(1 / theta)
	c, s := math.Cos(theta), math.Sin(theta)
	t := 1 - c
	return mat.NewDense(3, 3, []float64{
		c + k.X*k.X*t, k.X*k.Y*t - k.Z*s, k.X*k.Z*t + k.Y*s,
		k.Y*k.X*t + k.Z*s, c + k.Y*k.Y*t, k.Y*k.Z*t - k.X*s,
		k.Z*k.X*t - k.Y*s, k.Z*k.Y*t + k.X*s, c + k.Z*k.Z*t,
	})
}

// RotationToRodrigues converts a rotation matrix into an axis-angle vector.
func RotationToRodrigues(r mat.Matrix) r3.Vector {
	q := RotationToQuaternion(r)
	axis := r3.Vector{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	s := axis.Norm()
	if s < 1e-12 {
		return r3.Vector{}
	}
	theta := 2 * math.Atan2(s, q.Real)
	return axis.Mul(theta / s)
}
