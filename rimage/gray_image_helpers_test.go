package rimage

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestMakeGray(t *testing.T) {
	src := image.NewRGBA(image.Rect(10, 20, 13, 22))
	src.Set(10, 20, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	src.Set(12, 21, color.RGBA{R: 0, G: 0, B: 0, A: 255})

	g := MakeGray(src)
	test.That(t, g.Bounds(), test.ShouldResemble, image.Rect(0, 0, 3, 2))
	test.That(t, g.GrayAt(0, 0).Y, test.ShouldEqual, 255)
	test.That(t, g.GrayAt(2, 1).Y, test.ShouldEqual, 0)

	test.That(t, MakeGray(g), test.ShouldEqual, g)

	test.That(t, SameImgSize(src, g), test.ShouldBeTrue)
	test.That(t, CheckSameSize(src, image.NewGray(image.Rect(0, 0, 3, 3))), test.ShouldNotBeNil)
	test.That(t, CheckSameSize(src, g), test.ShouldBeNil)
}

func TestBlurGray(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 9, 9))
	g.SetGray(4, 4, color.Gray{Y: 255})

	test.That(t, BlurGray(g, 0), test.ShouldEqual, g)

	blurred := BlurGray(g, 1.5)
	test.That(t, blurred.Bounds(), test.ShouldResemble, g.Bounds())
	test.That(t, blurred.GrayAt(4, 4).Y, test.ShouldBeLessThan, 255)
	test.That(t, blurred.GrayAt(5, 4).Y, test.ShouldBeGreaterThan, 0)
}

func TestImageFiles(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 4, 4))
	g.SetGray(1, 2, color.Gray{Y: 200})

	fn := filepath.Join(t.TempDir(), "gray.png")
	test.That(t, WriteImageToFile(fn, g), test.ShouldBeNil)

	img, err := ReadImageFromFile(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, MakeGray(img).GrayAt(1, 2).Y, test.ShouldEqual, 200)

	test.That(t, WriteImageToFile(filepath.Join(t.TempDir(), "gray.webp"), g), test.ShouldNotBeNil)
	_, err = ReadImageFromFile(filepath.Join(t.TempDir(), "missing.png"))
	test.That(t, err, test.ShouldNotBeNil)
}
