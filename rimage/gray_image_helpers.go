package rimage

import (
	"image"
	"image/draw"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// SameImgSize compares images to see if they're the same size.
func SameImgSize(g1, g2 image.Image) bool {
	return g1.Bounds().Dx() == g2.Bounds().Dx() && g1.Bounds().Dy() == g2.Bounds().Dy()
}

// MakeGray takes an image and well... makes it gray (image.Gray). The result
// always starts at the origin. A *image.Gray already at the origin is returned as is.
func MakeGray(pic image.Image) *image.Gray {
	if g, ok := pic.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	result := image.NewGray(image.Rect(0, 0, pic.Bounds().Dx(), pic.Bounds().Dy()))
	draw.Draw(result, result.Bounds(), pic, pic.Bounds().Min, draw.Src)
	return result
}

// BlurGray applies a gaussian blur with the given sigma before matching. A
// non positive sigma returns the image untouched.
func BlurGray(img *image.Gray, sigma float64) *image.Gray {
	if sigma <= 0 {
		return img
	}
	return MakeGray(imaging.Blur(img, sigma))
}

// CheckSameSize errors unless both images of a pair have equal dimensions.
func CheckSameSize(left, right image.Image) error {
	if !SameImgSize(left, right) {
		return errors.Errorf("these images aren't the same size (%d %d) != (%d %d)",
			left.Bounds().Dx(), left.Bounds().Dy(), right.Bounds().Dx(), right.Bounds().Dy())
	}
	return nil
}
