package stereo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereo/linalg"
	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/rimage/transform"
)

func TestCalibrationStates(t *testing.T) {
	logger := logging.NewTestLogger(t)
	left := newCamera(640, 480, 500, 505, 322.5, 238.25, nil)
	right := newCamera(640, 480, 510, 512, 318, 242, nil)

	cal := NewCalibration(nil, logger)
	test.That(t, cal.State(), test.ShouldEqual, Uninitialized)
	_, err := cal.Camera(Left)
	test.That(t, err, test.ShouldWrap, ErrNotCalibrated)
	err = cal.SetExtrinsicParameters(testRotation(), testTranslation)
	test.That(t, err, test.ShouldWrap, ErrNotCalibrated)
	test.That(t, cal.SetExtrinsicsFromSingles(), test.ShouldWrap, ErrNotCalibrated)

	t.Run("size mismatch", func(t *testing.T) {
		small := newCamera(320, 240, 250, 250, 160, 120, nil)
		test.That(t, cal.SetSingleCalibrations(left, small), test.ShouldNotBeNil)
		test.That(t, cal.State(), test.ShouldEqual, Uninitialized)
	})

	t.Run("invalid camera", func(t *testing.T) {
		bad := newCamera(640, 480, 0, 505, 322.5, 238.25, nil)
		test.That(t, cal.SetSingleCalibrations(bad, right), test.ShouldNotBeNil)
		test.That(t, cal.SetSingleCalibrations(left, nil), test.ShouldWrap, transform.ErrNoIntrinsics)
	})

	test.That(t, cal.SetSingleCalibrations(left, right), test.ShouldBeNil)
	test.That(t, cal.State(), test.ShouldEqual, SinglesSet)
	cam, err := cal.Camera(Right)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cam.Fx, test.ShouldEqual, 510.0)
	for _, query := range []func() error{
		func() error { _, _, err := cal.Extrinsics(); return err },
		func() error { _, err := cal.FundamentalMatrix(); return err },
		func() error { _, _, err := cal.RectificationHomographies(); return err },
		func() error { _, _, err := cal.GetProjectionMatricesForRectifiedImages(); return err },
		func() error { _, err := cal.Baseline(); return err },
		func() error { _, err := cal.DepthForDisparity(10); return err },
		func() error { return cal.SetRectificationHomographies(transform.IdentityHomography(), transform.IdentityHomography()) },
	} {
		test.That(t, query(), test.ShouldWrap, ErrNotCalibrated)
	}

	t.Run("invalid extrinsics", func(t *testing.T) {
		scaled := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 2})
		test.That(t, cal.SetExtrinsicParameters(scaled, testTranslation), test.ShouldWrap, transform.ErrInvalidRotation)
		reflection := mat.NewDense(3, 3, []float64{-1, 0, 0, 0, 1, 0, 0, 0, 1})
		test.That(t, cal.SetExtrinsicParameters(reflection, testTranslation), test.ShouldWrap, transform.ErrInvalidRotation)
		test.That(t, cal.SetExtrinsicParameters(testRotation(), r3.Vector{}), test.ShouldWrap, linalg.ErrSingular)
		test.That(t, cal.State(), test.ShouldEqual, SinglesSet)
	})

	test.That(t, cal.SetExtrinsicParameters(testRotation(), testTranslation), test.ShouldBeNil)
	test.That(t, cal.State(), test.ShouldEqual, RigComplete)

	rot, trans, err := cal.Extrinsics()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, linalg.EqualApprox(rot, testRotation(), 1e-15), test.ShouldBeTrue)
	test.That(t, trans, test.ShouldResemble, testTranslation)
	baseline, err := cal.Baseline()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, baseline, test.ShouldAlmostEqual, testTranslation.Norm(), 1e-9)

	leftCam, err := cal.Camera(Left)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, leftCam.Translation, test.ShouldResemble, r3.Vector{})
	test.That(t, linalg.EqualApprox(leftCam.Rotation, linalg.Identity(3), 0), test.ShouldBeTrue)
	rightCam, err := cal.Camera(Right)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rightCam.Translation, test.ShouldResemble, testTranslation)

	// copies are handed out
	rightCam.Fx = 1
	rightCam.Rotation.Set(0, 0, 7)
	again, err := cal.Camera(Right)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again.Fx, test.ShouldEqual, 510.0)
	test.That(t, linalg.EqualApprox(again.Rotation, testRotation(), 1e-15), test.ShouldBeTrue)

	// new singles drop the pose
	test.That(t, cal.SetSingleCalibrations(left, right), test.ShouldBeNil)
	test.That(t, cal.State(), test.ShouldEqual, SinglesSet)
	_, err = cal.FundamentalMatrix()
	test.That(t, err, test.ShouldWrap, ErrNotCalibrated)
}

func TestSideAndStateStrings(t *testing.T) {
	test.That(t, Left.String(), test.ShouldEqual, "left")
	test.That(t, Right.String(), test.ShouldEqual, "right")
	test.That(t, Left.Other(), test.ShouldEqual, Right)
	test.That(t, Right.Other(), test.ShouldEqual, Left)
	test.That(t, RigComplete.String(), test.ShouldEqual, "rig complete")
	test.That(t, State(42).String(), test.ShouldEqual, "unknown")
}

func TestRectificationHomographyOverride(t *testing.T) {
	cal := testRig(t)
	hl, hr, err := cal.RectificationHomographies()
	test.That(t, err, test.ShouldBeNil)
	fb, err := cal.DepthForDisparity(1)
	test.That(t, err, test.ShouldBeNil)

	// scaling the rectified images by two doubles f·B
	scale, err := transform.NewHomography([]float64{0.5, 0, 0, 0, 0.5, 0, 0, 0, 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cal.SetRectificationHomographies(hl.Compose(scale), hr.Compose(scale)), test.ShouldBeNil)
	scaled, err := cal.DepthForDisparity(1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, scaled, test.ShouldAlmostEqual, 2*fb, 1e-6*fb)

	test.That(t, cal.SetRectificationHomographies(nil, hr), test.ShouldNotBeNil)
}

func TestCalibrationJSONRoundTrip(t *testing.T) {
	cal := testRig(t)
	var buf bytes.Buffer
	test.That(t, cal.Write(&buf), test.ShouldBeNil)
	for _, key := range []string{"left", "right", "rotation", "translation", "rectification", "intrinsic_parameters"} {
		test.That(t, buf.String(), test.ShouldContainSubstring, key)
	}

	loaded, err := ReadCalibration(bytes.NewReader(buf.Bytes()), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loaded.State(), test.ShouldEqual, RigComplete)
	assertSameRig(t, loaded, cal, 1e-12)

	path := filepath.Join(t.TempDir(), "rig.json")
	test.That(t, cal.Save(path), test.ShouldBeNil)
	fromFile, err := LoadCalibration(path, nil)
	test.That(t, err, test.ShouldBeNil)
	assertSameRig(t, fromFile, cal, 1e-12)

	_, err = LoadCalibration(filepath.Join(t.TempDir(), "missing.json"), nil)
	test.That(t, err, test.ShouldNotBeNil)

	incomplete := NewCalibration(nil, nil)
	test.That(t, incomplete.Write(&buf), test.ShouldWrap, ErrNotCalibrated)
	test.That(t, incomplete.Save(filepath.Join(t.TempDir(), "incomplete.json")), test.ShouldWrap, ErrNotCalibrated)
}

func TestCalibrationJSONWithoutRectification(t *testing.T) {
	cal := testRig(t)
	var buf bytes.Buffer
	test.That(t, cal.Write(&buf), test.ShouldBeNil)
	var m map[string]interface{}
	test.That(t, json.Unmarshal(buf.Bytes(), &m), test.ShouldBeNil)
	delete(m, "rectification")
	data, err := json.Marshal(m)
	test.That(t, err, test.ShouldBeNil)

	loaded, err := ReadCalibration(bytes.NewReader(data), nil)
	test.That(t, err, test.ShouldBeNil)
	assertSameRig(t, loaded, cal, 1e-12)
}

func TestCalibrationJSONMalformed(t *testing.T) {
	cal := testRig(t)
	var buf bytes.Buffer
	test.That(t, cal.Write(&buf), test.ShouldBeNil)
	raw := buf.Bytes()

	for _, tc := range []struct {
		name   string
		mutate func(m map[string]interface{})
	}{
		{"missing left", func(m map[string]interface{}) { delete(m, "left") }},
		{"missing right", func(m map[string]interface{}) { delete(m, "right") }},
		{"short rotation", func(m map[string]interface{}) { m["rotation"] = []float64{1, 0, 0, 0, 1, 0, 0, 0} }},
		{"long translation", func(m map[string]interface{}) { m["translation"] = []float64{1, 2, 3, 4} }},
		{"improper rotation", func(m map[string]interface{}) { m["rotation"] = []float64{1, 0, 0, 0, 1, 0, 0, 0, 3} }},
		{"zero translation", func(m map[string]interface{}) { m["translation"] = []float64{0, 0, 0} }},
		{"bad camera", func(m map[string]interface{}) { delete(m["left"].(map[string]interface{}), "intrinsic_parameters") }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var m map[string]interface{}
			test.That(t, json.Unmarshal(raw, &m), test.ShouldBeNil)
			tc.mutate(m)
			data, err := json.Marshal(m)
			test.That(t, err, test.ShouldBeNil)
			_, err = ReadCalibration(bytes.NewReader(data), nil)
			test.That(t, err, test.ShouldWrap, transform.ErrMalformedCalibration)
		})
	}

	_, err := ReadCalibration(strings.NewReader("not json"), nil)
	test.That(t, err, test.ShouldWrap, transform.ErrMalformedCalibration)
}

func TestCalibrationTextRoundTrip(t *testing.T) {
	cal := testRig(t)
	var buf bytes.Buffer
	test.That(t, cal.WriteCalibrationText(&buf), test.ShouldBeNil)
	text := buf.String()
	test.That(t, strings.HasPrefix(text, "2\n"), test.ShouldBeTrue)

	loaded, err := ReadCalibrationText(strings.NewReader(text), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	assertSameRig(t, loaded, cal, 1e-8)

	path := filepath.Join(t.TempDir(), "rig.txt")
	var file bytes.Buffer
	test.That(t, cal.WriteCalibrationText(&file), test.ShouldBeNil)
	test.That(t, os.WriteFile(path, file.Bytes(), 0o600), test.ShouldBeNil)
	fromFile, err := LoadCalibrationText(path, nil)
	test.That(t, err, test.ShouldBeNil)
	assertSameRig(t, fromFile, cal, 1e-8)

	t.Run("cameras only", func(t *testing.T) {
		left, err := cal.Camera(Left)
		test.That(t, err, test.ShouldBeNil)
		right, err := cal.Camera(Right)
		test.That(t, err, test.ShouldBeNil)
		var short bytes.Buffer
		test.That(t, transform.WriteCalibrationText(&short, left, right), test.ShouldBeNil)

		derived, err := ReadCalibrationText(&short, nil)
		test.That(t, err, test.ShouldBeNil)
		assertSameRig(t, derived, cal, 1e-6)
	})

	t.Run("truncated homography", func(t *testing.T) {
		lines := strings.Split(strings.TrimSpace(text), "\n")
		last := strings.Fields(lines[len(lines)-1])
		lines[len(lines)-1] = strings.Join(last[:5], " ")
		_, err := ReadCalibrationText(strings.NewReader(strings.Join(lines, "\n")), nil)
		test.That(t, err, test.ShouldWrap, transform.ErrMalformedCalibration)
	})

	t.Run("single camera", func(t *testing.T) {
		left, err := cal.Camera(Left)
		test.That(t, err, test.ShouldBeNil)
		var one bytes.Buffer
		test.That(t, transform.WriteCalibrationText(&one, left), test.ShouldBeNil)
		_, err = ReadCalibrationText(&one, nil)
		test.That(t, err, test.ShouldWrap, transform.ErrMalformedCalibration)
	})

	t.Run("incomplete rig", func(t *testing.T) {
		test.That(t, NewCalibration(nil, nil).WriteCalibrationText(&bytes.Buffer{}), test.ShouldWrap, ErrNotCalibrated)
	})
}

func TestExtrinsicsFromSingles(t *testing.T) {
	// both cameras calibrated against the same target frame
	world := transform.RodriguesToRotation(r3.Vector{X: 0.2, Y: -0.1, Z: 0.05})
	worldT := r3.Vector{X: -50, Y: 30, Z: 1000}
	left := newCamera(640, 480, 500, 505, 322.5, 238.25, nil)
	test.That(t, left.SetPose(world, worldT), test.ShouldBeNil)
	right := newCamera(640, 480, 510, 512, 318, 242, nil)
	var rightRot mat.Dense
	rightRot.Mul(testRotation(), world)
	test.That(t, right.SetPose(&rightRot, linalg.MulVec3(testRotation(), worldT).Add(testTranslation)), test.ShouldBeNil)

	cal := NewCalibration(nil, logging.NewTestLogger(t))
	test.That(t, cal.SetSingleCalibrations(left, right), test.ShouldBeNil)
	test.That(t, cal.SetExtrinsicsFromSingles(), test.ShouldBeNil)
	rot, trans, err := cal.Extrinsics()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, linalg.EqualApprox(rot, testRotation(), 1e-12), test.ShouldBeTrue)
	vectorsClose(t, trans, testTranslation, 1e-9)
}

func TestExtrinsicsFromTargetHomographies(t *testing.T) {
	left := newCamera(640, 480, 500, 505, 322.5, 238.25, nil)
	right := newCamera(640, 480, 510, 512, 318, 242, nil)
	targetRot := transform.RodriguesToRotation(r3.Vector{X: 0.2, Y: -0.1, Z: 0.05})
	targetT := r3.Vector{X: -50, Y: 30, Z: 1000}

	// H = K·[r1 r2 t] maps target coordinates (x, y, 0) to pixels
	targetHomography := func(cam *transform.CameraParameters, rot mat.Matrix, trans r3.Vector) *transform.Homography {
		rt := mat.NewDense(3, 3, []float64{
			rot.At(0, 0), rot.At(0, 1), trans.X,
			rot.At(1, 0), rot.At(1, 1), trans.Y,
			rot.At(2, 0), rot.At(2, 1), trans.Z,
		})
		var m mat.Dense
		m.Mul(cam.GetCameraMatrix(), rt)
		h, err := transform.NewHomographyFromMatrix(&m)
		test.That(t, err, test.ShouldBeNil)
		return h
	}
	var rightRot mat.Dense
	rightRot.Mul(testRotation(), targetRot)
	rightT := linalg.MulVec3(testRotation(), targetT).Add(testTranslation)

	cal := NewCalibration(nil, logging.NewTestLogger(t))
	hl := targetHomography(left, targetRot, targetT)
	hr := targetHomography(right, &rightRot, rightT)
	test.That(t, cal.SetExtrinsicsFromTargetHomographies(hl, hr), test.ShouldWrap, ErrNotCalibrated)
	test.That(t, cal.SetSingleCalibrations(left, right), test.ShouldBeNil)
	test.That(t, cal.SetExtrinsicsFromTargetHomographies(hl, hr), test.ShouldBeNil)

	rot, trans, err := cal.Extrinsics()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, linalg.EqualApprox(rot, testRotation(), 1e-9), test.ShouldBeTrue)
	vectorsClose(t, trans, testTranslation, 1e-6)
}

func TestEstimateExtrinsics(t *testing.T) {
	rig := testRig(t)
	var corrs []transform.Correspondence
	for _, p := range scenePoints(30, 7) {
		l, r := project(t, rig, p, true)
		corrs = append(corrs, transform.Correspondence{Left: l, Right: r})
	}
	left, err := rig.Camera(Left)
	test.That(t, err, test.ShouldBeNil)
	right, err := rig.Camera(Right)
	test.That(t, err, test.ShouldBeNil)

	cal := NewCalibration(nil, logging.NewTestLogger(t))
	ctx := context.Background()
	test.That(t, cal.EstimateExtrinsics(ctx, corrs, 60), test.ShouldWrap, ErrNotCalibrated)
	test.That(t, cal.SetSingleCalibrations(left, right), test.ShouldBeNil)
	test.That(t, cal.EstimateExtrinsics(ctx, corrs, 0), test.ShouldNotBeNil)
	err = cal.EstimateExtrinsics(ctx, corrs[:7], testTranslation.Norm())
	test.That(t, err, test.ShouldWrap, transform.ErrInsufficientCorrespondences)
	test.That(t, cal.State(), test.ShouldEqual, SinglesSet)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	test.That(t, cal.EstimateExtrinsics(cancelled, corrs, testTranslation.Norm()), test.ShouldWrap, context.Canceled)

	test.That(t, cal.EstimateExtrinsics(ctx, corrs, testTranslation.Norm()), test.ShouldBeNil)
	test.That(t, cal.State(), test.ShouldEqual, RigComplete)
	rot, trans, err := cal.Extrinsics()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, linalg.EqualApprox(rot, testRotation(), 1e-5), test.ShouldBeTrue)
	test.That(t, trans.Norm(), test.ShouldAlmostEqual, testTranslation.Norm(), 1e-9)
	vectorsClose(t, trans, testTranslation, 1e-2)
}

// assertSameRig compares the pose, cameras and rectification of two complete rigs.
func assertSameRig(t *testing.T, got, want *Calibration, tol float64) {
	t.Helper()
	gotRot, gotT, err := got.Extrinsics()
	test.That(t, err, test.ShouldBeNil)
	wantRot, wantT, err := want.Extrinsics()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, linalg.EqualApprox(gotRot, wantRot, tol), test.ShouldBeTrue)
	vectorsClose(t, gotT, wantT, tol*100)

	for _, side := range []Side{Left, Right} {
		g, err := got.Camera(side)
		test.That(t, err, test.ShouldBeNil)
		w, err := want.Camera(side)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, g.Fx, test.ShouldAlmostEqual, w.Fx, tol)
		test.That(t, g.Ppy, test.ShouldAlmostEqual, w.Ppy, tol)
		test.That(t, g.Distortion.RadialK1, test.ShouldAlmostEqual, w.Distortion.RadialK1, tol)
	}

	gl, gr, err := got.RectificationHomographies()
	test.That(t, err, test.ShouldBeNil)
	wl, wr, err := want.RectificationHomographies()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, gl.EqualApprox(wl, tol), test.ShouldBeTrue)
	test.That(t, gr.EqualApprox(wr, tol), test.ShouldBeTrue)

	gotF, err := got.FundamentalMatrix()
	test.That(t, err, test.ShouldBeNil)
	wantF, err := want.FundamentalMatrix()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, linalg.EqualApprox(gotF, wantF, tol), test.ShouldBeTrue)
}

func TestCalibrationString(t *testing.T) {
	cal := NewCalibration(nil, nil)
	// table styles may change the case of titles and footers
	s := strings.ToLower(cal.String())
	test.That(t, s, test.ShouldContainSubstring, "uninitialized")
	test.That(t, s, test.ShouldNotContainSubstring, "baseline")

	cal = parallelRig(t, 64, 48, 50)
	s = strings.ToLower(cal.String())
	test.That(t, s, test.ShouldContainSubstring, "rig complete")
	test.That(t, s, test.ShouldContainSubstring, "64x48")
	test.That(t, s, test.ShouldContainSubstring, "50.000")
	baseline, err := cal.Baseline()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s, test.ShouldContainSubstring, fmt.Sprintf("%.3f", baseline))
}
