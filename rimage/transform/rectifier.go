package transform

import (
	"context"
	"image"
	"image/draw"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/utils"
)

// Bilinear weights are fixed point with weightShift fractional bits.
const (
	weightShift = 22
	weightOne   = 1 << weightShift
	weightHalf  = 1 << (weightShift - 1)
)

// RectifierOptions configures a Rectifier.
type RectifierOptions struct {
	// NearestNeighbor samples the closest source pixel instead of interpolating.
	NearestNeighbor bool
	// Sentinel is the gray level written where the source falls outside the image.
	Sentinel uint8
	// Workers bounds the row parallelism; zero uses utils.ParallelFactor.
	Workers int
}

// Rectifier warps images through precomputed per pixel source coordinates. The
// tables combine a homography with the camera's lens distortion and are only
// rebuilt by UpdateMaps; Rectify never checks whether they are stale.
type Rectifier struct {
	opts   RectifierOptions
	logger logging.Logger

	width, height int
	// per destination pixel: top left source tap, or -1 when out of bounds
	srcX, srcY []int32
	weights    [][4]int32
}

// NewRectifier returns a Rectifier without tables.
func NewRectifier(opts RectifierOptions, logger logging.Logger) *Rectifier {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Rectifier{opts: opts, logger: logger}
}

// Init builds the tables for camera and h. See UpdateMaps.
func (r *Rectifier) Init(ctx context.Context, camera *PinholeCameraModel, h *Homography) error {
	return r.UpdateMaps(ctx, camera, h)
}

// UpdateMaps rebuilds the tables. h maps destination pixels to undistorted source
// pixels; nil means identity, which makes the Rectifier a pure undistorter.
func (r *Rectifier) UpdateMaps(ctx context.Context, camera *PinholeCameraModel, h *Homography) error {
	if err := camera.CheckValid(); err != nil {
		return err
	}
	width, height := camera.Width, camera.Height
	if width < 2 || height < 2 {
		return errors.Errorf("cannot rectify images smaller than 2x2, got %dx%d", width, height)
	}
	n := width * height
	srcX := make([]int32, n)
	srcY := make([]int32, n)
	weights := make([][4]int32, n)
	maxX, maxY := float64(width-1), float64(height-1)

	var outside atomic.Int64
	err := utils.ParallelForEachRow(ctx, r.opts.Workers, height, func(y int) error {
		for x := 0; x < width; x++ {
			i := y*width + x
			p := r2.Point{X: float64(x), Y: float64(y)}
			if h != nil {
				p = h.Apply(p)
			}
			p = camera.Distort(p)
			if math.IsNaN(p.X) || math.IsNaN(p.Y) || p.X < 0 || p.Y < 0 || p.X > maxX || p.Y > maxY {
				srcX[i], srcY[i] = -1, -1
				outside.Add(1)
				continue
			}
			if r.opts.NearestNeighbor {
				srcX[i], srcY[i] = int32(math.Round(p.X)), int32(math.Round(p.Y))
				weights[i] = [4]int32{weightOne, 0, 0, 0}
				continue
			}
			x0 := min(int(p.X), width-2)
			y0 := min(int(p.Y), height-2)
			fx, fy := p.X-float64(x0), p.Y-float64(y0)
			w00 := int32((1 - fx) * (1 - fy) * weightOne)
			w10 := int32(fx * (1 - fy) * weightOne)
			w01 := int32((1 - fx) * fy * weightOne)
			srcX[i], srcY[i] = int32(x0), int32(y0)
			weights[i] = [4]int32{w00, w10, w01, weightOne - w00 - w10 - w01}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.width, r.height = width, height
	r.srcX, r.srcY, r.weights = srcX, srcY, weights
	r.logger.Debugw("rectification maps updated", "width", width, "height", height, "outside", outside.Load())
	return nil
}

// Bounds returns the size of images the tables accept and produce.
func (r *Rectifier) Bounds() image.Rectangle {
	return image.Rect(0, 0, r.width, r.height)
}

func (r *Rectifier) checkSize(b image.Rectangle) error {
	if r.weights == nil {
		return errors.New("rectifier maps are not initialized")
	}
	if b.Dx() != r.width || b.Dy() != r.height {
		return errors.Errorf("image size %dx%d does not match rectifier maps %dx%d", b.Dx(), b.Dy(), r.width, r.height)
	}
	return nil
}

// Rectify warps img. Gray images stay gray; anything else is returned as RGBA.
func (r *Rectifier) Rectify(ctx context.Context, img image.Image) (image.Image, error) {
	switch src := img.(type) {
	case *image.Gray:
		return r.RectifyGray(ctx, src)
	case *image.RGBA:
		return r.RectifyRGBA(ctx, src)
	default:
		rgba := image.NewRGBA(img.Bounds())
		draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
		return r.RectifyRGBA(ctx, rgba)
	}
}

// RectifyGray warps a gray image into a newly allocated one.
func (r *Rectifier) RectifyGray(ctx context.Context, src *image.Gray) (*image.Gray, error) {
	if err := r.checkSize(src.Bounds()); err != nil {
		return nil, err
	}
	dst := image.NewGray(image.Rect(0, 0, r.width, r.height))
	err := r.forEachRow(ctx, dst.Pix, dst.Stride, 1, src.Pix, src.Stride, src.PixOffset(src.Rect.Min.X, src.Rect.Min.Y),
		func(out []uint8) { out[0] = r.opts.Sentinel })
	if err != nil {
		return nil, err
	}
	return dst, nil
}

// RectifyRGBA warps an RGBA image into a newly allocated one. Out of bounds pixels are
// opaque with every channel set to the sentinel.
func (r *Rectifier) RectifyRGBA(ctx context.Context, src *image.RGBA) (*image.RGBA, error) {
	if err := r.checkSize(src.Bounds()); err != nil {
		return nil, err
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.width, r.height))
	s := r.opts.Sentinel
	err := r.forEachRow(ctx, dst.Pix, dst.Stride, 4, src.Pix, src.Stride, src.PixOffset(src.Rect.Min.X, src.Rect.Min.Y),
		func(out []uint8) { out[0], out[1], out[2], out[3] = s, s, s, 0xff })
	if err != nil {
		return nil, err
	}
	return dst, nil
}

// forEachRow resamples channels-per-pixel interleaved buffers row by row.
func (r *Rectifier) forEachRow(
	ctx context.Context,
	dst []uint8, dstStride, channels int,
	src []uint8, srcStride, srcBase int,
	fill func(out []uint8),
) error {
	return utils.ParallelForEachRow(ctx, r.opts.Workers, r.height, func(y int) error {
		row := dst[y*dstStride : y*dstStride+r.width*channels]
		for x := 0; x < r.width; x++ {
			i := y*r.width + x
			out := row[x*channels : (x+1)*channels]
			if r.srcX[i] < 0 {
				fill(out)
				continue
			}
			base := srcBase + int(r.srcY[i])*srcStride + int(r.srcX[i])*channels
			w := r.weights[i]
			if w[0] == weightOne {
				copy(out, src[base:base+channels])
				continue
			}
			below := base + srcStride
			for c := 0; c < channels; c++ {
				v := int(w[0])*int(src[base+c]) +
					int(w[1])*int(src[base+channels+c]) +
					int(w[2])*int(src[below+c]) +
					int(w[3])*int(src[below+channels+c])
				out[c] = uint8((v + weightHalf) >> weightShift)
			}
		}
		return nil
	})
}
