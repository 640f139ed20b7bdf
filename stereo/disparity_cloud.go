package stereo

import (
	"context"
	"image"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"go.viam.com/stereo/pointcloud"
	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/utils"
)

// DisparityToPointCloud triangulates every valid pixel of a rectified disparity map
// into world coordinates. Pixels with non positive disparity or too little parallax
// are skipped. When colors is non nil and the same size as the map, points take the
// color of their left pixel. Points are added in row major order.
func (c *Calibration) DisparityToPointCloud(
	ctx context.Context,
	dm *rimage.DisparityMap,
	colors image.Image,
	opts TriangulationOptions,
) (pointcloud.PointCloud, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != RigComplete {
		return nil, newNotCalibratedError(c.state)
	}
	if colors != nil && (colors.Bounds().Dx() != dm.Width() || colors.Bounds().Dy() != dm.Height()) {
		return nil, errors.Errorf("color image %v does not match disparity map %v", colors.Bounds(), dm.Bounds())
	}
	opts.Rectified = true

	rows := make([][]pointcloud.PointAndData, dm.Height())
	skipped := atomic.NewInt64(0)
	err := utils.ParallelForEachRow(ctx, 0, dm.Height(), func(y int) error {
		for x := 0; x < dm.Width(); x++ {
			d := dm.Get(x, y)
			if !dm.IsValid(x, y) || d <= 0 {
				continue
			}
			left := r2.Point{X: float64(x), Y: float64(y)}
			right := r2.Point{X: float64(x) - d, Y: float64(y)}
			tri, err := c.triangulate(left, right, opts)
			if err != nil {
				if errors.Is(err, ErrDegenerateTriangulation) {
					skipped.Inc()
					continue
				}
				return err
			}
			data := pointcloud.NewDisparityData(d)
			if colors != nil {
				b := colors.Bounds()
				data.SetColor(rimage.NewColorFromColor(colors.At(b.Min.X+x, b.Min.Y+y)).NRGBA())
			}
			rows[y] = append(rows[y], pointcloud.PointAndData{P: tri.Point, D: data})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	total := 0
	for _, row := range rows {
		total += len(row)
	}
	cloud := pointcloud.NewWithPrealloc(total)
	for _, row := range rows {
		for _, pd := range row {
			if err := cloud.Set(pd.P, pd.D); err != nil {
				return nil, err
			}
		}
	}
	c.logger.Debugw("disparity triangulated", "points", cloud.Size(), "skipped", skipped.Load())
	return cloud, nil
}

// PointsFromCorrespondences triangulates raw pixel pairs. Results for degenerate pairs
// are kept and their errors combined, so callers can decide what to discard.
func (c *Calibration) PointsFromCorrespondences(left, right []r2.Point, opts TriangulationOptions) ([]r3.Vector, error) {
	if len(left) != len(right) {
		return nil, errors.Errorf("got %d left and %d right points", len(left), len(right))
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != RigComplete {
		return nil, newNotCalibratedError(c.state)
	}
	pts := make([]r3.Vector, len(left))
	var errs error
	for i := range left {
		tri, err := c.triangulate(left[i], right[i], opts)
		if tri != nil {
			pts[i] = tri.Point
		}
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "pair %d", i))
		}
	}
	return pts, errs
}
