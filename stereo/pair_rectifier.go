package stereo

import (
	"context"
	"image"

	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/rimage/transform"
	"go.viam.com/stereo/utils"
)

// PairRectifier holds one Rectifier per camera of a complete rig. Its tables are a
// snapshot; build a new one after changing the Calibration.
type PairRectifier struct {
	left, right *transform.Rectifier
	logger      logging.Logger
}

// NewPairRectifier builds the remap tables of both cameras.
func NewPairRectifier(
	ctx context.Context,
	cal *Calibration,
	opts transform.RectifierOptions,
	logger logging.Logger,
) (*PairRectifier, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	left, err := cal.Camera(Left)
	if err != nil {
		return nil, err
	}
	right, err := cal.Camera(Right)
	if err != nil {
		return nil, err
	}
	hl, hr, err := cal.RectificationHomographies()
	if err != nil {
		return nil, err
	}

	pr := &PairRectifier{
		left:   transform.NewRectifier(opts, logger.Sublogger("left")),
		right:  transform.NewRectifier(opts, logger.Sublogger("right")),
		logger: logger,
	}
	if _, err := utils.RunInParallel(ctx, []utils.SimpleFunc{
		func(ctx context.Context) error { return pr.left.Init(ctx, &left.PinholeCameraModel, hl) },
		func(ctx context.Context) error { return pr.right.Init(ctx, &right.PinholeCameraModel, hr) },
	}); err != nil {
		return nil, err
	}
	return pr, nil
}

// Bounds is the size of the images accepted and produced.
func (pr *PairRectifier) Bounds() image.Rectangle {
	return pr.left.Bounds()
}

// Rectify warps both images concurrently. The inputs are only read.
func (pr *PairRectifier) Rectify(ctx context.Context, left, right image.Image) (image.Image, image.Image, error) {
	var outLeft, outRight image.Image
	elapsed, err := utils.RunInParallel(ctx, []utils.SimpleFunc{
		func(ctx context.Context) error {
			var err error
			outLeft, err = pr.left.Rectify(ctx, left)
			return err
		},
		func(ctx context.Context) error {
			var err error
			outRight, err = pr.right.Rectify(ctx, right)
			return err
		},
	})
	if err != nil {
		return nil, nil, err
	}
	pr.logger.Debugw("rectified pair", "elapsed", elapsed)
	return outLeft, outRight, nil
}
