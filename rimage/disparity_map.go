// Package rimage holds the image side data model of stereo reconstruction: disparity maps,
// gray conversion and false colour rendering.
package rimage

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"image"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// maxDisparityMapSide bounds the dimensions accepted when reading a serialized map.
const maxDisparityMapSide = 100000

// DisparityMap stores one horizontal disparity per pixel of a rectified image pair,
// where disparity is the left x coordinate minus the matching right x coordinate.
// NaN marks pixels with no valid match.
type DisparityMap struct {
	width  int
	height int

	data []float64
}

// NewEmptyDisparityMap returns a map of the given size with every pixel invalid.
func NewEmptyDisparityMap(width, height int) *DisparityMap {
	dm := &DisparityMap{
		width:  width,
		height: height,
		data:   make([]float64, width*height),
	}
	for i := range dm.data {
		dm.data[i] = math.NaN()
	}
	return dm
}

// Width returns the number of columns.
func (dm *DisparityMap) Width() int {
	return dm.width
}

// Height returns the number of rows.
func (dm *DisparityMap) Height() int {
	return dm.height
}

// Bounds returns the rectangle covered by the map.
func (dm *DisparityMap) Bounds() image.Rectangle {
	return image.Rect(0, 0, dm.width, dm.height)
}

// Contains reports whether (x, y) lies inside the map.
func (dm *DisparityMap) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < dm.width && y < dm.height
}

func (dm *DisparityMap) kxy(x, y int) int {
	return (y * dm.width) + x
}

// Get returns the disparity at (x, y). Invalid pixels return NaN.
func (dm *DisparityMap) Get(x, y int) float64 {
	return dm.data[dm.kxy(x, y)]
}

// Set stores the disparity at (x, y). Pass NaN to invalidate the pixel.
func (dm *DisparityMap) Set(x, y int, d float64) {
	dm.data[dm.kxy(x, y)] = d
}

// IsValid reports whether (x, y) holds a valid disparity.
func (dm *DisparityMap) IsValid(x, y int) bool {
	return !math.IsNaN(dm.Get(x, y))
}

// ValidCount returns the number of pixels with a valid disparity.
func (dm *DisparityMap) ValidCount() int {
	n := 0
	for _, d := range dm.data {
		if !math.IsNaN(d) {
			n++
		}
	}
	return n
}

// Values returns the valid disparities in row major order.
func (dm *DisparityMap) Values() []float64 {
	out := make([]float64, 0, len(dm.data))
	for _, d := range dm.data {
		if !math.IsNaN(d) {
			out = append(out, d)
		}
	}
	return out
}

// MinMax returns the smallest and largest valid disparities. Both are NaN when
// no pixel is valid.
func (dm *DisparityMap) MinMax() (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, d := range dm.data {
		if math.IsNaN(d) {
			continue
		}
		lo = math.Min(lo, d)
		hi = math.Max(hi, d)
	}
	if math.IsInf(lo, 1) {
		return math.NaN(), math.NaN()
	}
	return lo, hi
}

// ToPrettyPicture renders the map in false colour, clamping disparities to
// [hardMin, hardMax]. Invalid pixels stay black.
func (dm *DisparityMap) ToPrettyPicture(hardMin, hardMax float64) image.Image {
	lo, hi := dm.MinMax()
	lo = math.Max(lo, hardMin)
	hi = math.Min(hi, hardMax)

	img := image.NewRGBA(dm.Bounds())

	span := hi - lo
	for y := 0; y < dm.height; y++ {
		for x := 0; x < dm.width; x++ {
			d := dm.Get(x, y)
			if math.IsNaN(d) {
				continue
			}
			d = math.Min(math.Max(d, lo), hi)

			ratio := 0.0
			if span > 0 {
				ratio = (d - lo) / span
			}
			hue := 30 + (200.0 * ratio)
			img.Set(x, y, NewColorFromHSV(hue, 1.0, 1.0))
		}
	}
	return img
}

// WriteTo writes the map as little endian width, height and float64 values in
// row major order. It implements io.WriterTo.
func (dm *DisparityMap) WriteTo(out io.Writer) (int64, error) {
	buf := make([]byte, 8)
	var total int64
	put := func(v uint64) error {
		binary.LittleEndian.PutUint64(buf, v)
		n, err := out.Write(buf)
		total += int64(n)
		return err
	}

	if err := put(uint64(dm.width)); err != nil {
		return total, err
	}
	if err := put(uint64(dm.height)); err != nil {
		return total, err
	}
	for _, d := range dm.data {
		if err := put(math.Float64bits(d)); err != nil {
			return total, err
		}
	}
	return total, nil
}

// WriteToFile writes the map to fn, gzipped when the extension is .gz.
func (dm *DisparityMap) WriteToFile(fn string) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	bw := bufio.NewWriter(f)
	var out io.Writer = bw
	var gout *gzip.Writer
	if filepath.Ext(fn) == ".gz" {
		gout = gzip.NewWriter(bw)
		out = gout
	}

	if _, err := dm.WriteTo(out); err != nil {
		return err
	}
	if gout != nil {
		if err := gout.Close(); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

func readNext(r io.Reader) (uint64, error) {
	data := make([]byte, 8)
	if _, err := io.ReadFull(r, data); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(data), nil
}

// ReadDisparityMap reads a map written by WriteTo.
func ReadDisparityMap(r io.Reader) (*DisparityMap, error) {
	rawWidth, err := readNext(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading disparity map width")
	}
	rawHeight, err := readNext(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading disparity map height")
	}
	if rawWidth == 0 || rawWidth >= maxDisparityMapSide || rawHeight == 0 || rawHeight >= maxDisparityMapSide {
		return nil, errors.Errorf("bad width or height for disparity map %v %v", rawWidth, rawHeight)
	}

	dm := &DisparityMap{
		width:  int(rawWidth),
		height: int(rawHeight),
		data:   make([]float64, int(rawWidth)*int(rawHeight)),
	}
	for i := range dm.data {
		bits, err := readNext(r)
		if err != nil {
			return nil, errors.Wrapf(err, "reading disparity %d of %d", i, len(dm.data))
		}
		dm.data[i] = math.Float64frombits(bits)
	}
	return dm, nil
}

// ParseDisparityMap reads a map from fn, gunzipping when the extension is .gz.
func ParseDisparityMap(fn string) (*DisparityMap, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	var r io.Reader = bufio.NewReader(f)
	if filepath.Ext(fn) == ".gz" {
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer utils.UncheckedErrorFunc(gr.Close)
		r = gr
	}
	return ReadDisparityMap(r)
}
