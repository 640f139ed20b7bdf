package pointcloud

import (
	"image/color"
)

// Data is what a point of a PointCloud carries besides its position.
type Data interface {
	// HasColor returns whether or not this point is colored.
	HasColor() bool

	// RGB255 returns, if colored, the RGB components of the color.
	RGB255() (uint8, uint8, uint8)

	// Color returns the native color of the point.
	Color() color.Color

	// SetColor sets the given color on the point.
	SetColor(c color.NRGBA) Data

	// HasDisparity returns whether the point was triangulated from a disparity map.
	HasDisparity() bool

	// Disparity returns the disparity in pixels the point was triangulated from.
	Disparity() float64

	// SetDisparity records the disparity the point came from.
	SetDisparity(d float64) Data
}

type basicData struct {
	hasColor bool
	c        color.NRGBA

	hasDisparity bool
	disparity    float64
}

// NewBasicData returns a point that is solely positionally based.
func NewBasicData() Data {
	return &basicData{}
}

// NewColoredData returns a point that has both position and color.
func NewColoredData(c color.NRGBA) Data {
	return &basicData{c: c, hasColor: true}
}

// NewDisparityData returns a point triangulated from disparity d.
func NewDisparityData(d float64) Data {
	return &basicData{disparity: d, hasDisparity: true}
}

func (bp *basicData) SetColor(c color.NRGBA) Data {
	bp.c = c
	bp.hasColor = true
	return bp
}

func (bp *basicData) HasColor() bool {
	return bp.hasColor
}

func (bp *basicData) RGB255() (uint8, uint8, uint8) {
	return bp.c.R, bp.c.G, bp.c.B
}

func (bp *basicData) Color() color.Color {
	return &bp.c
}

func (bp *basicData) SetDisparity(d float64) Data {
	bp.hasDisparity = true
	bp.disparity = d
	return bp
}

func (bp *basicData) HasDisparity() bool {
	return bp.hasDisparity
}

func (bp *basicData) Disparity() float64 {
	return bp.disparity
}
