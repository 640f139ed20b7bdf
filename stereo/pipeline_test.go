package stereo

import (
	"context"
	"image"
	"image/color"
	"io"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.viam.com/test"

	"go.viam.com/stereo/linalg"
	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/pointcloud"
	"go.viam.com/stereo/rimage/transform"
)

func TestPairRectifierParallelRig(t *testing.T) {
	cal := parallelRig(t, 64, 48, 50)
	hl, hr, err := cal.RectificationHomographies()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, linalg.EqualApprox(hl.Matrix(), linalg.Identity(3), 1e-9), test.ShouldBeTrue)
	test.That(t, linalg.EqualApprox(hr.Matrix(), linalg.Identity(3), 1e-9), test.ShouldBeTrue)

	pr, err := NewPairRectifier(context.Background(), cal, transform.RectifierOptions{}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pr.Bounds(), test.ShouldResemble, image.Rect(0, 0, 64, 48))

	left := randomGray(64, 48, 1)
	right := randomGray(64, 48, 2)
	outLeft, outRight, err := pr.Rectify(context.Background(), left, right)
	test.That(t, err, test.ShouldBeNil)
	for _, pair := range [][2]*image.Gray{{left, outLeft.(*image.Gray)}, {right, outRight.(*image.Gray)}} {
		in, out := pair[0], pair[1]
		for y := 1; y < 47; y++ {
			for x := 1; x < 63; x++ {
				diff := math.Abs(float64(in.GrayAt(x, y).Y) - float64(out.GrayAt(x, y).Y))
				test.That(t, diff, test.ShouldBeLessThanOrEqualTo, 1.0)
			}
		}
	}

	_, _, err = pr.Rectify(context.Background(), left, image.NewGray(image.Rect(0, 0, 10, 10)))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPairRectifierConvergingRig(t *testing.T) {
	cal := testRig(t)
	pr, err := NewPairRectifier(context.Background(), cal, transform.RectifierOptions{Sentinel: 7}, nil)
	test.That(t, err, test.ShouldBeNil)

	rgba := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for i := range rgba.Pix {
		rgba.Pix[i] = 255
	}
	outLeft, outRight, err := pr.Rectify(context.Background(), rgba, image.NewGray(image.Rect(0, 0, 640, 480)))
	test.That(t, err, test.ShouldBeNil)
	_, isRGBA := outLeft.(*image.RGBA)
	test.That(t, isRGBA, test.ShouldBeTrue)
	_, isGray := outRight.(*image.Gray)
	test.That(t, isGray, test.ShouldBeTrue)
	// the center of the rectified view comes from inside the original image
	test.That(t, outLeft.At(320, 240), test.ShouldResemble, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	_, err = NewPairRectifier(context.Background(), NewCalibration(nil, nil), transform.RectifierOptions{}, nil)
	test.That(t, err, test.ShouldWrap, ErrNotCalibrated)
}

func pipelineMatcherConfig() MatcherConfig {
	return MatcherConfig{
		WindowSize:         5,
		MinDisparity:       0,
		MaxDisparity:       16,
		Metric:             MetricZSAD,
		MaxCost:            0.25,
		MinTextureVariance: 60,
	}
}

func TestPipelineProcessFrame(t *testing.T) {
	cal := parallelRig(t, 64, 48, 50)
	var preprocessed atomic.Int32
	opts := PipelineOptions{
		Preprocess: func(img *image.Gray) *image.Gray {
			preprocessed.Add(1)
			return img
		},
	}
	p, err := NewPipeline(context.Background(), cal, pipelineMatcherConfig(), opts, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	left := randomGray(64, 48, 31)
	right := shiftedGray(left, 8, identity, 32)
	frame, err := p.ProcessFrame(context.Background(), left, right)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, int(preprocessed.Load()), test.ShouldEqual, 2)
	test.That(t, frame.RectifiedLeft.Bounds(), test.ShouldResemble, left.Bounds())
	test.That(t, frame.Elapsed > 0, test.ShouldBeTrue)

	interior, correct := 0, 0
	for y := 2; y <= 45; y++ {
		for x := 18; x <= 61; x++ {
			interior++
			if frame.Disparity.Get(x, y) == 8 {
				correct++
			}
		}
	}
	test.That(t, float64(correct)/float64(interior), test.ShouldBeGreaterThan, 0.95)

	test.That(t, frame.Cloud, test.ShouldNotBeNil)
	test.That(t, frame.Cloud.MetaData().HasColor, test.ShouldBeTrue)
	atDepth := 0
	frame.Cloud.Iterate(0, 0, func(pt r3.Vector, d pointcloud.Data) bool {
		if math.Abs(pt.Z-375) < 1e-6 {
			atDepth++
		}
		return true
	})
	test.That(t, atDepth, test.ShouldBeGreaterThanOrEqualTo, correct)

	_, err = p.ProcessFrame(context.Background(), left, image.NewGray(image.Rect(0, 0, 32, 32)))
	test.That(t, err, test.ShouldNotBeNil)

	skip, err := NewPipeline(context.Background(), cal, pipelineMatcherConfig(), PipelineOptions{SkipPointCloud: true}, nil)
	test.That(t, err, test.ShouldBeNil)
	frame, err = skip.ProcessFrame(context.Background(), left, right)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frame.Cloud, test.ShouldBeNil)
	test.That(t, frame.Disparity.ValidCount(), test.ShouldBeGreaterThan, 0)
}

func TestPipelineRun(t *testing.T) {
	cal := parallelRig(t, 64, 48, 50)
	p, err := NewPipeline(context.Background(), cal, pipelineMatcherConfig(), PipelineOptions{SkipPointCloud: true}, nil)
	test.That(t, err, test.ShouldBeNil)

	left := randomGray(64, 48, 41)
	right := shiftedGray(left, 8, identity, 42)
	pairs := func(n int) PairSource {
		served := 0
		return PairSourceFunc(func(ctx context.Context) (image.Image, image.Image, error) {
			if served == n {
				return nil, nil, io.EOF
			}
			served++
			return left, right, nil
		})
	}

	var indices []int
	n, err := p.Run(context.Background(), pairs(2), func(f *Frame) error {
		indices = append(indices, f.Index)
		return nil
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 2)
	test.That(t, indices, test.ShouldResemble, []int{0, 1})

	n, err = p.Run(context.Background(), pairs(3), nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 3)

	unplugged := errors.New("camera unplugged")
	n, err = p.Run(context.Background(), PairSourceFunc(func(ctx context.Context) (image.Image, image.Image, error) {
		return nil, nil, unplugged
	}), nil)
	test.That(t, err, test.ShouldWrap, unplugged)
	test.That(t, n, test.ShouldEqual, 0)

	full := errors.New("disk full")
	n, err = p.Run(context.Background(), pairs(2), func(f *Frame) error { return full })
	test.That(t, err, test.ShouldWrap, full)
	test.That(t, n, test.ShouldEqual, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err = p.Run(ctx, pairs(2), nil)
	test.That(t, err, test.ShouldWrap, context.Canceled)
	test.That(t, n, test.ShouldEqual, 0)
}

func TestNewPipelineErrors(t *testing.T) {
	cam := newCamera(64, 48, 50, 50, 32, 24, nil)
	cal := NewCalibration(nil, nil)
	test.That(t, cal.SetSingleCalibrations(cam, cam), test.ShouldBeNil)
	_, err := NewPipeline(context.Background(), cal, pipelineMatcherConfig(), PipelineOptions{}, nil)
	test.That(t, err, test.ShouldWrap, ErrNotCalibrated)

	bad := pipelineMatcherConfig()
	bad.WindowSize = 2
	_, err = NewPipeline(context.Background(), parallelRig(t, 64, 48, 50), bad, PipelineOptions{}, nil)
	test.That(t, err, test.ShouldNotBeNil)
}
