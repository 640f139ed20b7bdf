// Package config defines the configuration of a stereo reconstruction run.
package config

import (
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/pointcloud"
	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/rimage/transform"
	"go.viam.com/stereo/stereo"
)

// Interpolation modes of the rectifier.
const (
	InterpolationBilinear = "bilinear"
	InterpolationNearest  = "nearest"
)

// Point cloud file formats.
const (
	PCDFormatASCII      = "ascii"
	PCDFormatBinary     = "binary"
	PCDFormatCompressed = "binary_compressed"
)

// Config describes one stereo run: the rig, how images are rectified and matched, and
// where results go.
type Config struct {
	// ConfigFilePath is where the config was read from, if anywhere. Relative paths
	// inside the config resolve against its directory.
	ConfigFilePath string `json:"-"`

	// Calibration is a rig file, JSON or, with a .txt extension, the text format.
	Calibration   string               `json:"calibration"`
	Matcher       stereo.MatcherConfig `json:"matcher"`
	Rectifier     RectifierConfig      `json:"rectifier"`
	Triangulation TriangulationConfig  `json:"triangulation"`
	// PreBlurSigma smooths both rectified images before matching; zero disables it.
	PreBlurSigma float64      `json:"pre_blur_sigma"`
	Output       OutputConfig `json:"output"`
}

// RectifierConfig configures image rectification.
type RectifierConfig struct {
	Interpolation string `json:"interpolation"`
	// Sentinel is the gray level of pixels that map outside the source image.
	Sentinel int `json:"sentinel"`
	Workers  int `json:"workers"`
}

// TriangulationConfig configures disparity to point conversion.
type TriangulationConfig struct {
	MinParallax float64 `json:"min_parallax"`
}

// OutputConfig configures what a run writes.
type OutputConfig struct {
	Directory      string `json:"directory"`
	PCDFormat      string `json:"pcd_format"`
	SkipPointCloud bool   `json:"skip_point_cloud"`
	// PrettyMin and PrettyMax fix the disparity range of the false colour image.
	// Both zero means the range of each map.
	PrettyMin float64 `json:"pretty_min"`
	PrettyMax float64 `json:"pretty_max"`
}

// Default returns a config with every optional field filled in.
func Default() Config {
	return Config{
		Matcher: stereo.DefaultMatcherConfig(),
		Rectifier: RectifierConfig{
			Interpolation: InterpolationBilinear,
		},
		Triangulation: TriangulationConfig{
			MinParallax: stereo.DefaultMinParallax,
		},
		Output: OutputConfig{
			Directory: ".",
			PCDFormat: PCDFormatBinary,
		},
	}
}

// Validate ensures all parts of the config are valid.
func (c *Config) Validate(path string) error {
	if c.Calibration == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "calibration")
	}
	if err := c.Matcher.Validate(fmt.Sprintf("%s.matcher", path)); err != nil {
		return err
	}
	if err := c.Rectifier.Validate(fmt.Sprintf("%s.rectifier", path)); err != nil {
		return err
	}
	if c.Triangulation.MinParallax < 0 {
		return utils.NewConfigValidationError(fmt.Sprintf("%s.triangulation", path), errors.New("min_parallax cannot be negative"))
	}
	if c.PreBlurSigma < 0 {
		return utils.NewConfigValidationError(path, errors.New("pre_blur_sigma cannot be negative"))
	}
	return c.Output.Validate(fmt.Sprintf("%s.output", path))
}

// Validate ensures all parts of the config are valid.
func (c *RectifierConfig) Validate(path string) error {
	switch c.Interpolation {
	case InterpolationBilinear, InterpolationNearest:
	case "":
		return utils.NewConfigValidationFieldRequiredError(path, "interpolation")
	default:
		return utils.NewConfigValidationError(path, errors.Errorf("unknown interpolation %q", c.Interpolation))
	}
	if c.Sentinel < 0 || c.Sentinel > 255 {
		return utils.NewConfigValidationError(path, errors.Errorf("sentinel must be a gray level, got %d", c.Sentinel))
	}
	if c.Workers < 0 {
		return utils.NewConfigValidationError(path, errors.New("workers cannot be negative"))
	}
	return nil
}

// Validate ensures all parts of the config are valid.
func (c *OutputConfig) Validate(path string) error {
	if c.Directory == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "directory")
	}
	if _, err := parsePCDFormat(c.PCDFormat); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if c.PrettyMax < c.PrettyMin {
		return utils.NewConfigValidationError(path, errors.Errorf("pretty_max %g is below pretty_min %g", c.PrettyMax, c.PrettyMin))
	}
	return nil
}

func parsePCDFormat(format string) (pointcloud.PCDType, error) {
	switch strings.ToLower(format) {
	case PCDFormatASCII:
		return pointcloud.PCDAscii, nil
	case PCDFormatBinary:
		return pointcloud.PCDBinary, nil
	case PCDFormatCompressed:
		return pointcloud.PCDCompressed, nil
	default:
		return 0, errors.Errorf("unknown pcd_format %q", format)
	}
}

// PCDType returns the point cloud file format to write.
func (c *OutputConfig) PCDType() pointcloud.PCDType {
	t, err := parsePCDFormat(c.PCDFormat)
	if err != nil {
		return pointcloud.PCDBinary
	}
	return t
}

// ResolvePath makes a path from the config relative to the config file's directory.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || c.ConfigFilePath == "" {
		return p
	}
	return filepath.Join(filepath.Dir(c.ConfigFilePath), p)
}

// LoadCalibration reads the rig named by Calibration.
func (c *Config) LoadCalibration(logger logging.Logger) (*stereo.Calibration, error) {
	path := c.ResolvePath(c.Calibration)
	if strings.EqualFold(filepath.Ext(path), ".txt") {
		return stereo.LoadCalibrationText(path, logger)
	}
	return stereo.LoadCalibration(path, logger)
}

// RectifierOptions converts the rectifier section.
func (c *Config) RectifierOptions() transform.RectifierOptions {
	return transform.RectifierOptions{
		NearestNeighbor: c.Rectifier.Interpolation == InterpolationNearest,
		Sentinel:        uint8(c.Rectifier.Sentinel),
		Workers:         c.Rectifier.Workers,
	}
}

// PipelineOptions converts the config into options for stereo.NewPipeline.
func (c *Config) PipelineOptions() stereo.PipelineOptions {
	opts := stereo.PipelineOptions{
		Rectifier: c.RectifierOptions(),
		Triangulation: stereo.TriangulationOptions{
			MinParallax: c.Triangulation.MinParallax,
		},
		SkipPointCloud: c.Output.SkipPointCloud,
	}
	if sigma := c.PreBlurSigma; sigma > 0 {
		opts.Preprocess = func(img *image.Gray) *image.Gray {
			return rimage.BlurGray(img, sigma)
		}
	}
	return opts
}
