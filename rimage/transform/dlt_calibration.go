package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereo/linalg"
	"go.viam.com/stereo/logging"
)

// WorldCorrespondence pairs a known world point with the pixel it was observed at.
type WorldCorrespondence struct {
	World r3.Vector `json:"world"`
	Image r2.Point  `json:"image"`
}

// DistortionEstimation selects which lens terms CalibrateDLT fits.
type DistortionEstimation int

const (
	// NoDistortion fits a pure pinhole camera.
	NoDistortion DistortionEstimation = iota
	// RadialDistortion fits rk1 and rk2.
	RadialDistortion
	// RadialTangentialDistortion fits rk1, rk2, tp1 and tp2.
	RadialTangentialDistortion
)

const minDLTCorrespondences = 6

// DLTOptions configures CalibrateDLT.
type DLTOptions struct {
	Width, Height int
	Distortion    DistortionEstimation
	// Iterations alternates the linear camera fit and the distortion fit that seed the
	// nonlinear fit. Zero means 5.
	Iterations int
	// Refine runs the nonlinear minimization of the reprojection error for a pure
	// pinhole fit too. With lens terms it always runs.
	Refine bool
}

// ReprojectionReport summarizes pixel reprojection errors.
type ReprojectionReport struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"std_dev"`
}

// NewReprojectionReport summarizes a set of pixel distances.
func NewReprojectionReport(distances []float64) (ReprojectionReport, error) {
	data := stats.Float64Data(distances)
	mean, err := data.Mean()
	if err != nil {
		return ReprojectionReport{}, err
	}
	median, err := data.Median()
	if err != nil {
		return ReprojectionReport{}, err
	}
	maxDist, err := data.Max()
	if err != nil {
		return ReprojectionReport{}, err
	}
	stdDev, err := data.StandardDeviation()
	if err != nil {
		return ReprojectionReport{}, err
	}
	return ReprojectionReport{Mean: mean, Median: median, Max: maxDist, StdDev: stdDev}, nil
}

// CalibrateDLT recovers a camera from at least six non coplanar world points and
// their observed pixels. The camera matrix and pose come from the direct linear
// transform. When lens terms are requested, alternating linear fits of the camera and
// the lens seed a joint Levenberg-Marquardt fit of both. k may be nil.
func CalibrateDLT(
	k *linalg.Kernel,
	corrs []WorldCorrespondence,
	opts DLTOptions,
	logger logging.Logger,
) (*CameraParameters, ReprojectionReport, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if k == nil {
		k = linalg.NewKernel(linalg.Config{}, logger)
	}
	if len(corrs) < minDLTCorrespondences {
		return nil, ReprojectionReport{}, newInsufficientCorrespondencesError(len(corrs), minDLTCorrespondences)
	}
	iterations := opts.Iterations
	if iterations <= 0 {
		iterations = 5
	}
	if opts.Distortion == NoDistortion {
		iterations = 1
	}

	var cam *CameraParameters
	for i := 0; i < iterations; i++ {
		pixels := make([]r2.Point, len(corrs))
		for j, c := range corrs {
			pixels[j] = c.Image
			if cam != nil {
				pixels[j] = cam.Undistort(c.Image)
			}
		}
		next, err := calibrateLinear(k, corrs, pixels, opts.Width, opts.Height)
		if err != nil {
			return nil, ReprojectionReport{}, err
		}
		if cam != nil {
			next.Distortion = cam.Distortion
		}
		cam = next
		if opts.Distortion != NoDistortion {
			if err := estimateDistortion(k, cam, corrs, opts.Distortion); err != nil {
				return nil, ReprojectionReport{}, err
			}
		}
	}

	if opts.Refine || opts.Distortion != NoDistortion {
		refined, err := RefineCalibration(cam, corrs, opts.Distortion, logger)
		if err != nil {
			return nil, ReprojectionReport{}, err
		}
		cam = refined
	}

	distances := make([]float64, len(corrs))
	for i, c := range corrs {
		distances[i] = cam.WorldToImage(c.World, true).Sub(c.Image).Norm()
	}
	report, err := NewReprojectionReport(distances)
	if err != nil {
		return nil, ReprojectionReport{}, err
	}
	logger.Debugw("dlt calibration", "points", len(corrs), "mean_error", report.Mean, "max_error", report.Max)
	return cam, report, nil
}

// calibrateLinear fits P with ideal pixels and splits it into K, R and t.
func calibrateLinear(k *linalg.Kernel, corrs []WorldCorrespondence, pixels []r2.Point, width, height int) (*CameraParameters, error) {
	normPixels, t2, err := normalizePoints(pixels)
	if err != nil {
		return nil, err
	}
	world := make([]r3.Vector, len(corrs))
	for i, c := range corrs {
		world[i] = c.World
	}
	normWorld, u, err := normalizePoints3D(world)
	if err != nil {
		return nil, err
	}

	a := mat.NewDense(2*len(corrs), 12, nil)
	for i := range corrs {
		x, y, z := normWorld[i].X, normWorld[i].Y, normWorld[i].Z
		px, py := normPixels[i].X, normPixels[i].Y
		a.SetRow(2*i, []float64{x, y, z, 1, 0, 0, 0, 0, -px * x, -px * y, -px * z, -px})
		a.SetRow(2*i+1, []float64{0, 0, 0, 0, x, y, z, 1, -py * x, -py * y, -py * z, -py})
	}
	sol, err := k.SolveHomogeneous(a)
	if err != nil {
		return nil, errors.Wrap(err, "world points must not be coplanar")
	}
	pNorm := mat.NewDense(3, 4, sol.RawVector().Data)
	t2inv, err := k.Invert(t2)
	if err != nil {
		return nil, err
	}
	var p mat.Dense
	p.Mul(t2inv, pNorm)
	p.Mul(&p, u)
	return DecomposeProjectionMatrix(&p, width, height)
}

// DecomposeProjectionMatrix splits P = K·[R|t] into a camera with positive focal lengths
// and a proper rotation.
func DecomposeProjectionMatrix(p *mat.Dense, width, height int) (*CameraParameters, error) {
	m := mat.DenseCopyOf(p.Slice(0, 3, 0, 3))
	p4 := r3.Vector{X: p.At(0, 3), Y: p.At(1, 3), Z: p.At(2, 3)}
	if det := mat.Det(m); det < 0 {
		m.Scale(-1, m)
		p4 = p4.Mul(-1)
	} else if det == 0 {
		return nil, errors.Wrap(linalg.ErrSingular, "projection matrix has a singular left 3x3 block")
	}

	kMat, rot := rq3(m)
	// make the focal lengths positive
	for i := 0; i < 3; i++ {
		if kMat.At(i, i) < 0 {
			for r := 0; r < 3; r++ {
				kMat.Set(r, i, -kMat.At(r, i))
			}
			for c := 0; c < 3; c++ {
				rot.Set(i, c, -rot.At(i, c))
			}
		}
	}
	var kinv mat.Dense
	if err := kinv.Inverse(kMat); err != nil {
		return nil, errors.Wrap(linalg.ErrSingular, err.Error())
	}
	// P carries an unknown positive scale which K absorbs, so t needs no rescaling.
	t := linalg.MulVec3(&kinv, p4)
	kMat.Scale(1/kMat.At(2, 2), kMat)

	cam := &CameraParameters{
		PinholeCameraModel: PinholeCameraModel{
			PinholeCameraIntrinsics: NewPinholeCameraIntrinsicsFromMatrix(kMat, width, height),
			Distortion:              &BrownConrady{},
		},
		Rotation:    rot,
		Translation: t,
	}
	return cam, nil
}

// rq3 factors m = K·R with K upper triangular and R orthonormal.
func rq3(m *mat.Dense) (*mat.Dense, *mat.Dense) {
	flip := mat.NewDense(3, 3, []float64{0, 0, 1, 0, 1, 0, 1, 0, 0})
	var flipped mat.Dense
	flipped.Mul(flip, m)
	var qr mat.QR
	qr.Factorize(linalg.Transpose(&flipped))
	var q, r mat.Dense
	qr.QTo(&q)
	qr.RTo(&r)

	var kMat, rot mat.Dense
	kMat.Mul(flip, r.T())
	kMat.Mul(&kMat, flip)
	rot.Mul(flip, q.T())
	return &kMat, &rot
}

// estimateDistortion fits lens terms from the gap between ideal projections and observations.
func estimateDistortion(k *linalg.Kernel, cam *CameraParameters, corrs []WorldCorrespondence, kind DistortionEstimation) error {
	unknowns := 2
	if kind == RadialTangentialDistortion {
		unknowns = 4
	}
	a := mat.NewDense(2*len(corrs), unknowns, nil)
	b := mat.NewVecDense(2*len(corrs), nil)
	fx, fy := cam.Fx, cam.Fy
	for i, c := range corrs {
		ideal := cam.WorldToImage(c.World, false)
		x, y := cam.PixelToNormalized(ideal.X, ideal.Y)
		rr := x*x + y*y
		du, dv := fx*x+cam.Skew*y, fy*y
		row0 := []float64{du * rr, du * rr * rr}
		row1 := []float64{dv * rr, dv * rr * rr}
		if unknowns == 4 {
			row0 = append(row0, 2*x*y*fx, (rr+2*x*x)*fx)
			row1 = append(row1, (rr+2*y*y)*fy, 2*x*y*fy)
		}
		a.SetRow(2*i, row0)
		a.SetRow(2*i+1, row1)
		b.SetVec(2*i, c.Image.X-ideal.X)
		b.SetVec(2*i+1, c.Image.Y-ideal.Y)
	}
	sol, err := k.Solve(a, b)
	if err != nil {
		return errors.Wrap(err, "cannot estimate lens distortion")
	}
	d := &BrownConrady{RadialK1: sol.AtVec(0), RadialK2: sol.AtVec(1)}
	if unknowns == 4 {
		d.TangentialP1 = sol.AtVec(2)
		d.TangentialP2 = sol.AtVec(3)
	}
	cam.Distortion = d
	return nil
}

// normalizePoints3D centers points and scales them to a mean distance of sqrt(3).
func normalizePoints3D(pts []r3.Vector) ([]r3.Vector, *mat.Dense, error) {
	n := float64(len(pts))
	var mu r3.Vector
	for _, p := range pts {
		mu = mu.Add(p)
	}
	mu = mu.Mul(1 / n)
	d := 0.0
	for _, p := range pts {
		d += p.Sub(mu).Norm() / n
	}
	if d == 0 {
		return nil, nil, errors.Wrap(linalg.ErrSingular, "all world points coincide")
	}
	scale := math.Sqrt(3) / d
	out := make([]r3.Vector, len(pts))
	for i, p := range pts {
		out[i] = p.Sub(mu).Mul(scale)
	}
	u := mat.NewDense(4, 4, []float64{
		scale, 0, 0, -scale * mu.X,
		0, scale, 0, -scale * mu.Y,
		0, 0, scale, -scale * mu.Z,
		0, 0, 0, 1,
	})
	return out, u, nil
}
