package stereo

import (
	"context"
	"image"
	"io"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/pointcloud"
	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/rimage/transform"
)

// A PairSource produces synchronized left and right frames. NextPair returns io.EOF
// once the source is exhausted.
type PairSource interface {
	NextPair(ctx context.Context) (left, right image.Image, err error)
}

// PairSourceFunc adapts a function to a PairSource.
type PairSourceFunc func(ctx context.Context) (image.Image, image.Image, error)

// NextPair calls f.
func (f PairSourceFunc) NextPair(ctx context.Context) (image.Image, image.Image, error) {
	return f(ctx)
}

// PipelineOptions configures a Pipeline.
type PipelineOptions struct {
	Rectifier     transform.RectifierOptions
	Triangulation TriangulationOptions
	// Preprocess, when set, is applied to both gray rectified images before matching.
	Preprocess func(*image.Gray) *image.Gray
	// SkipPointCloud stops after the disparity map.
	SkipPointCloud bool
}

// Frame holds everything produced for one image pair. All of it is owned by the caller.
type Frame struct {
	Index          int
	RectifiedLeft  image.Image
	RectifiedRight image.Image
	Disparity      *rimage.DisparityMap
	Cloud          pointcloud.PointCloud
	Elapsed        time.Duration
}

// Pipeline runs rectification, matching and triangulation for a fixed rig.
type Pipeline struct {
	cal       *Calibration
	rectifier *PairRectifier
	matcher   *Matcher
	opts      PipelineOptions
	logger    logging.Logger
}

// NewPipeline builds the remap tables and the matcher for a complete rig.
func NewPipeline(
	ctx context.Context,
	cal *Calibration,
	matcherCfg MatcherConfig,
	opts PipelineOptions,
	logger logging.Logger,
) (*Pipeline, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	matcher, err := NewMatcher(matcherCfg, logger.Sublogger("matcher"))
	if err != nil {
		return nil, err
	}
	rectifier, err := NewPairRectifier(ctx, cal, opts.Rectifier, logger.Sublogger("rectifier"))
	if err != nil {
		return nil, err
	}
	return &Pipeline{cal: cal, rectifier: rectifier, matcher: matcher, opts: opts, logger: logger}, nil
}

// ProcessFrame rectifies, matches and triangulates one raw image pair.
func (p *Pipeline) ProcessFrame(ctx context.Context, left, right image.Image) (*Frame, error) {
	start := time.Now()
	rectLeft, rectRight, err := p.rectifier.Rectify(ctx, left, right)
	if err != nil {
		return nil, errors.Wrap(err, "rectification failed")
	}

	grayLeft, grayRight := rimage.MakeGray(rectLeft), rimage.MakeGray(rectRight)
	if p.opts.Preprocess != nil {
		grayLeft, grayRight = p.opts.Preprocess(grayLeft), p.opts.Preprocess(grayRight)
	}
	dm, err := p.matcher.ComputeDisparity(ctx, grayLeft, grayRight)
	if err != nil {
		return nil, errors.Wrap(err, "matching failed")
	}

	frame := &Frame{RectifiedLeft: rectLeft, RectifiedRight: rectRight, Disparity: dm}
	if !p.opts.SkipPointCloud {
		cloud, err := p.cal.DisparityToPointCloud(ctx, dm, rectLeft, p.opts.Triangulation)
		if err != nil {
			return nil, errors.Wrap(err, "triangulation failed")
		}
		frame.Cloud = cloud
	}
	frame.Elapsed = time.Since(start)
	return frame, nil
}

// Run processes pairs from src until it returns io.EOF, handing each frame to sink.
// It returns the number of frames processed. The context is checked between frames.
func (p *Pipeline) Run(ctx context.Context, src PairSource, sink func(*Frame) error) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		left, right, err := src.NextPair(ctx)
		if errors.Is(err, io.EOF) {
			p.logger.Infow("pair source exhausted", "frames", n)
			return n, nil
		}
		if err != nil {
			return n, errors.Wrapf(err, "reading pair %d", n)
		}
		frame, err := p.ProcessFrame(ctx, left, right)
		if err != nil {
			return n, errors.Wrapf(err, "frame %d", n)
		}
		frame.Index = n
		p.logger.Debugw("frame processed", "frame", n, "valid", frame.Disparity.ValidCount(), "elapsed", frame.Elapsed)
		if sink != nil {
			if err := sink(frame); err != nil {
				return n, err
			}
		}
		n++
	}
}
