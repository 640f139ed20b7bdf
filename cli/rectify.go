package cli

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/stereo/config"
	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/stereo"
)

// loadRun reads the config and rig named by the command's flags and prepares the
// output directory.
func loadRun(c *cli.Context, logger logging.Logger) (*config.Config, *stereo.Calibration, string, error) {
	cfg, err := config.Read(c.String(configFlag), logger)
	if err != nil {
		return nil, nil, "", err
	}
	cal, err := cfg.LoadCalibration(logger)
	if err != nil {
		return nil, nil, "", err
	}
	outDir := c.String(outDirFlag)
	if outDir == "" {
		outDir = cfg.ResolvePath(cfg.Output.Directory)
	}
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return nil, nil, "", errors.Wrapf(err, "creating output directory %q", outDir)
	}
	return cfg, cal, outDir, nil
}

// RectifyAction writes the rectified views of one image pair.
func RectifyAction(c *cli.Context) error {
	logger := newLogger(c)
	cfg, cal, outDir, err := loadRun(c, logger)
	if err != nil {
		return err
	}
	left, err := rimage.ReadImageFromFile(c.String(leftFlag))
	if err != nil {
		return err
	}
	right, err := rimage.ReadImageFromFile(c.String(rightFlag))
	if err != nil {
		return err
	}

	pr, err := stereo.NewPairRectifier(c.Context, cal, cfg.RectifierOptions(), logger)
	if err != nil {
		return err
	}
	outLeft, outRight, err := pr.Rectify(c.Context, left, right)
	if err != nil {
		return err
	}
	leftPath := filepath.Join(outDir, "rectified_left.png")
	rightPath := filepath.Join(outDir, "rectified_right.png")
	if err := rimage.WriteImageToFile(leftPath, outLeft); err != nil {
		return err
	}
	if err := rimage.WriteImageToFile(rightPath, outRight); err != nil {
		return err
	}
	printf(c.App.Writer, "wrote %s and %s", leftPath, rightPath)
	return nil
}
