package rimage

import (
	"fmt"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// Color is an 8 bit RGB colour that also carries its HSV representation.
type Color struct {
	R, G, B uint8
	H, S, V float64
}

func (c Color) String() string {
	return fmt.Sprintf("%s (%3d,%4.2f,%4.2f)", c.Hex(), int(c.H), c.S, c.V)
}

// Hex returns the #rrggbb form of the colour.
func (c Color) Hex() string {
	return fmt.Sprintf("#%.2x%.2x%.2x", c.R, c.G, c.B)
}

// RGBA implements color.Color with an opaque alpha.
func (c Color) RGBA() (r, g, b, a uint32) {
	r = uint32(c.R)
	r |= r << 8
	g = uint32(c.G)
	g |= g << 8
	b = uint32(c.B)
	b |= b << 8
	a = 0xffff
	return
}

// NewColor returns the colour with the given 8 bit components.
func NewColor(r, g, b uint8) Color {
	c := Color{R: r, G: g, B: b}
	c.H, c.S, c.V = colorful.Color{
		R: float64(r) / 255.0,
		G: float64(g) / 255.0,
		B: float64(b) / 255.0,
	}.Hsv()
	return c
}

// NewColorFromHSV returns the colour for hue h in degrees and saturation s and value v in [0, 1].
func NewColorFromHSV(h, s, v float64) Color {
	r, g, b := colorful.Hsv(h, s, v).Clamped().RGB255()
	return Color{R: r, G: g, B: b, H: h, S: s, V: v}
}

// NewColorFromColor converts any colour, dropping alpha.
func NewColorFromColor(c color.Color) Color {
	if cc, ok := c.(Color); ok {
		return cc
	}
	cc, ok := colorful.MakeColor(c)
	if !ok {
		// fully transparent
		return NewColor(0, 0, 0)
	}
	r, g, b := cc.RGB255()
	return NewColor(r, g, b)
}

// NRGBA returns the opaque color.NRGBA form, as stored on colored points.
func (c Color) NRGBA() color.NRGBA {
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: 255}
}
