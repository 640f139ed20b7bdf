package rimage

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestImageFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	img := image.NewGray(image.Rect(0, 0, 7, 5))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 7)
	}
	for _, name := range []string{"a.png", "a.ppm", "a.bmp"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			test.That(t, WriteImageToFile(path, img), test.ShouldBeNil)
			back, err := ReadImageFromFile(path)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, back.Bounds().Dx(), test.ShouldEqual, 7)
			test.That(t, back.Bounds().Dy(), test.ShouldEqual, 5)
			for y := 0; y < 5; y++ {
				for x := 0; x < 7; x++ {
					got := color.GrayModel.Convert(back.At(x, y)).(color.Gray)
					test.That(t, got.Y, test.ShouldEqual, img.GrayAt(x, y).Y)
				}
			}
		})
	}

	test.That(t, WriteImageToFile(filepath.Join(dir, "a.webp"), img), test.ShouldNotBeNil)
	_, err := ReadImageFromFile(filepath.Join(dir, "missing.png"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestWritePPMColor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.ppm")
	img := image.NewNRGBA(image.Rect(2, 3, 6, 6))
	img.SetNRGBA(3, 4, color.NRGBA{R: 200, G: 10, B: 90, A: 255})
	test.That(t, WriteImageToFile(path, img), test.ShouldBeNil)

	back, err := ReadImageFromFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back.Bounds().Dx(), test.ShouldEqual, 4)
	test.That(t, back.Bounds().Dy(), test.ShouldEqual, 3)
	r, g, b, _ := back.At(back.Bounds().Min.X+1, back.Bounds().Min.Y+1).RGBA()
	test.That(t, []uint32{r >> 8, g >> 8, b >> 8}, test.ShouldResemble, []uint32{200, 10, 90})
}
