package cli

import (
	"context"
	"fmt"
	"image"
	"io"
	"math"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/pointcloud"
	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/stereo"
)

// filePairSource serves image pairs read from disk in order.
type filePairSource struct {
	lefts, rights []string
	next          int
	logger        logging.Logger
}

func newFilePairSource(lefts, rights []string, logger logging.Logger) (*filePairSource, error) {
	if len(lefts) != len(rights) {
		return nil, errors.Errorf("got %d left images and %d right images", len(lefts), len(rights))
	}
	return &filePairSource{lefts: lefts, rights: rights, logger: logger}, nil
}

// NextPair reads the next pair of files.
func (s *filePairSource) NextPair(ctx context.Context) (image.Image, image.Image, error) {
	if s.next >= len(s.lefts) {
		return nil, nil, io.EOF
	}
	i := s.next
	s.next++
	s.logger.Debugw("reading pair", "left", s.lefts[i], "right", s.rights[i])
	left, err := rimage.ReadImageFromFile(s.lefts[i])
	if err != nil {
		return nil, nil, err
	}
	right, err := rimage.ReadImageFromFile(s.rights[i])
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

// frameWriter saves everything a run produces for one frame.
type frameWriter struct {
	out                  io.Writer
	dir                  string
	pcdType              pointcloud.PCDType
	prettyMin, prettyMax float64
	histogram            bool
	bins                 int
}

func (fw *frameWriter) path(format string, index int) string {
	return filepath.Join(fw.dir, fmt.Sprintf(format, index))
}

func (fw *frameWriter) write(frame *stereo.Frame) error {
	dm := frame.Disparity
	if err := rimage.WriteImageToFile(fw.path("disparity_%04d.png", frame.Index), dm.ToPrettyPicture(fw.prettyMin, fw.prettyMax)); err != nil {
		return err
	}
	if err := dm.WriteToFile(fw.path("disparity_%04d.dat", frame.Index)); err != nil {
		return err
	}
	points := 0
	if frame.Cloud != nil {
		if err := pointcloud.WriteToFile(frame.Cloud, fw.path("cloud_%04d.pcd", frame.Index), fw.pcdType); err != nil {
			return err
		}
		points = frame.Cloud.Size()
	}

	valid := dm.ValidCount()
	total := dm.Width() * dm.Height()
	printf(fw.out, "frame %d: %d of %d pixels matched (%.1f%%), %d points, %s",
		frame.Index, valid, total, 100*float64(valid)/float64(total), points, frame.Elapsed)
	if !fw.histogram {
		return nil
	}
	values := dm.Values()
	if err := printHistogram(fw.out, values, fw.bins); err != nil {
		return err
	}
	if len(values) == 0 {
		warningf(fw.out, "frame %d has no valid disparities, skipping histogram plot", frame.Index)
		return nil
	}
	return saveHistogram(fw.path("histogram_%04d.png", frame.Index), fmt.Sprintf("frame %d", frame.Index), values, fw.bins)
}

// DisparityAction runs the full pipeline over every pair given on the command line.
func DisparityAction(c *cli.Context) error {
	logger := newLogger(c)
	if bins := c.Int(binsFlag); bins < 1 {
		return errors.Errorf("--%s must be positive, got %d", binsFlag, bins)
	}
	cfg, cal, outDir, err := loadRun(c, logger)
	if err != nil {
		return err
	}
	src, err := newFilePairSource(c.StringSlice(leftFlag), c.StringSlice(rightFlag), logger)
	if err != nil {
		return err
	}
	pipeline, err := stereo.NewPipeline(c.Context, cal, cfg.Matcher, cfg.PipelineOptions(), logger)
	if err != nil {
		return err
	}

	fw := &frameWriter{
		out:       c.App.Writer,
		dir:       outDir,
		pcdType:   cfg.Output.PCDType(),
		prettyMin: cfg.Output.PrettyMin,
		prettyMax: cfg.Output.PrettyMax,
		histogram: c.Bool(histogramFlag),
		bins:      c.Int(binsFlag),
	}
	if fw.prettyMin == 0 && fw.prettyMax == 0 {
		fw.prettyMin, fw.prettyMax = math.Inf(-1), math.Inf(1)
	}
	n, err := pipeline.Run(c.Context, src, fw.write)
	if err != nil {
		return err
	}
	infof(c.App.Writer, "processed %d frames into %s", n, outDir)
	return nil
}
