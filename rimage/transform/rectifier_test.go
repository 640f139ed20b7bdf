package transform

import (
	"context"
	"image"
	"image/color"
	"testing"

	"go.viam.com/test"

	"go.viam.com/stereo/logging"
)

func gradientGray(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x + y)})
		}
	}
	return img
}

func pinholeModel(w, h int) *PinholeCameraModel {
	return &PinholeCameraModel{PinholeCameraIntrinsics: &PinholeCameraIntrinsics{
		Width: w, Height: h, Fx: 50, Fy: 50, Ppx: float64(w) / 2, Ppy: float64(h) / 2,
	}}
}

func TestRectifierIdentity(t *testing.T) {
	ctx := context.Background()
	r := NewRectifier(RectifierOptions{}, logging.NewTestLogger(t))
	_, err := r.RectifyGray(ctx, gradientGray(64, 48))
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, r.Init(ctx, pinholeModel(64, 48), nil), test.ShouldBeNil)
	test.That(t, r.Bounds(), test.ShouldResemble, image.Rect(0, 0, 64, 48))

	src := gradientGray(64, 48)
	out, err := r.RectifyGray(ctx, src)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Pix, test.ShouldResemble, src.Pix)

	_, err = r.RectifyGray(ctx, gradientGray(32, 48))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "does not match")
}

func TestRectifierShift(t *testing.T) {
	ctx := context.Background()
	h, err := NewHomography([]float64{1, 0, 10.5, 0, 1, 0, 0, 0, 1})
	test.That(t, err, test.ShouldBeNil)
	src := gradientGray(64, 8)

	r := NewRectifier(RectifierOptions{Sentinel: 7, Workers: 3}, nil)
	test.That(t, r.Init(ctx, pinholeModel(64, 8), h), test.ShouldBeNil)
	out, err := r.RectifyGray(ctx, src)
	test.That(t, err, test.ShouldBeNil)
	for y := 0; y < 8; y++ {
		for x := 0; x < 64; x++ {
			got := out.GrayAt(x, y).Y
			if x <= 52 {
				// halfway between x+10 and x+11 rounds up
				test.That(t, got, test.ShouldEqual, uint8(x+y+11))
			} else {
				test.That(t, got, test.ShouldEqual, 7)
			}
		}
	}

	nearest := NewRectifier(RectifierOptions{NearestNeighbor: true}, nil)
	h, err = NewHomography([]float64{1, 0, 3, 0, 1, 1, 0, 0, 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, nearest.UpdateMaps(ctx, pinholeModel(64, 8), h), test.ShouldBeNil)
	out, err = nearest.RectifyGray(ctx, src)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.GrayAt(5, 2).Y, test.ShouldEqual, src.GrayAt(8, 3).Y)
	test.That(t, out.GrayAt(5, 7).Y, test.ShouldEqual, 0)
}

func TestRectifierColor(t *testing.T) {
	ctx := context.Background()
	h, err := NewHomography([]float64{1, 0, -2, 0, 1, 0, 0, 0, 1})
	test.That(t, err, test.ShouldBeNil)
	r := NewRectifier(RectifierOptions{Sentinel: 9}, nil)
	test.That(t, r.Init(ctx, pinholeModel(16, 4), h), test.ShouldBeNil)

	src := image.NewNRGBA(image.Rect(0, 0, 16, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 16; x++ {
			src.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 10), G: uint8(y * 20), B: 200, A: 255})
		}
	}
	out, err := r.Rectify(ctx, src)
	test.That(t, err, test.ShouldBeNil)
	rgba, ok := out.(*image.RGBA)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, rgba.RGBAAt(5, 1), test.ShouldResemble, color.RGBA{R: 30, G: 20, B: 200, A: 255})
	test.That(t, rgba.RGBAAt(1, 1), test.ShouldResemble, color.RGBA{R: 9, G: 9, B: 9, A: 255})
}

func TestRectifierUndistorts(t *testing.T) {
	ctx := context.Background()
	model := &PinholeCameraModel{
		PinholeCameraIntrinsics: &PinholeCameraIntrinsics{Width: 80, Height: 60, Fx: 60, Fy: 60, Ppx: 40, Ppy: 30},
		Distortion:              &BrownConrady{RadialK1: -0.2},
	}
	r := NewRectifier(RectifierOptions{}, nil)
	test.That(t, r.Init(ctx, model, nil), test.ShouldBeNil)
	src := gradientGray(80, 60)
	out, err := r.RectifyGray(ctx, src)
	test.That(t, err, test.ShouldBeNil)
	// the principal point is a fixed point of radial distortion
	test.That(t, out.GrayAt(40, 30).Y, test.ShouldEqual, src.GrayAt(40, 30).Y)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	test.That(t, r.UpdateMaps(cancelled, model, nil), test.ShouldNotBeNil)
}
