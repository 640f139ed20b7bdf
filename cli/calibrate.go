package cli

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/stereo/rimage/transform"
	"go.viam.com/stereo/stereo"
)

func parseDistortion(name string) (transform.DistortionEstimation, error) {
	switch name {
	case "", "none":
		return transform.NoDistortion, nil
	case "radial":
		return transform.RadialDistortion, nil
	case "radial-tangential":
		return transform.RadialTangentialDistortion, nil
	default:
		return 0, errors.Errorf("unknown distortion %q, expected none, radial or radial-tangential", name)
	}
}

func writeReprojection(c *cli.Context, label string, report transform.ReprojectionReport) {
	printf(c.App.Writer, "%s error (px):", label)
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Mean", "Median", "Max", "Std Dev"})
	t.AppendRow(table.Row{
		fmt.Sprintf("%.4f", report.Mean),
		fmt.Sprintf("%.4f", report.Median),
		fmt.Sprintf("%.4f", report.Max),
		fmt.Sprintf("%.4f", report.StdDev),
	})
	printf(c.App.Writer, "%s", t.Render())
}

// CalibrateAction fits a single camera to world correspondences and saves it.
func CalibrateAction(c *cli.Context) error {
	logger := newLogger(c)
	distortion, err := parseDistortion(c.String(distortionFlag))
	if err != nil {
		return err
	}
	corrs, err := transform.ReadWorldCorrespondences(c.String(correspondencesFlag))
	if err != nil {
		return err
	}
	cam, report, err := transform.CalibrateDLT(nil, corrs, transform.DLTOptions{
		Width:      c.Int(widthFlag),
		Height:     c.Int(heightFlag),
		Distortion: distortion,
		Iterations: c.Int(iterationsFlag),
		Refine:     c.Bool(refineFlag),
	}, logger)
	if err != nil {
		return errors.Wrap(err, "calibration failed")
	}
	if err := cam.Save(c.String(outFlag)); err != nil {
		return err
	}
	printf(c.App.Writer, "calibrated from %d points: fx %.3f fy %.3f ppx %.3f ppy %.3f",
		len(corrs), cam.Fx, cam.Fy, cam.Ppx, cam.Ppy)
	writeReprojection(c, "reprojection", report)
	return nil
}

// RigAction builds a rig from two single camera files.
func RigAction(c *cli.Context) error {
	logger := newLogger(c)
	left, err := transform.LoadCameraParameters(c.String(leftFlag))
	if err != nil {
		return err
	}
	right, err := transform.LoadCameraParameters(c.String(rightFlag))
	if err != nil {
		return err
	}
	cal := stereo.NewCalibration(nil, logger)
	if err := cal.SetSingleCalibrations(left, right); err != nil {
		return err
	}

	if path := c.String(correspondencesFlag); path != "" {
		corrs, err := transform.ReadCorrespondences(path)
		if err != nil {
			return err
		}
		if err := cal.EstimateExtrinsics(c.Context, corrs, c.Float64(baselineFlag)); err != nil {
			return errors.Wrap(err, "estimating relative pose")
		}
		report, err := cal.EpipolarErrorStats(corrs, true)
		if err != nil {
			return err
		}
		writeReprojection(c, "epipolar", report)
	} else if err := cal.SetExtrinsicsFromSingles(); err != nil {
		return errors.Wrap(err, "deriving relative pose from camera poses")
	}

	baseline, err := cal.Baseline()
	if err != nil {
		return err
	}
	if err := saveRig(cal, c.String(outFlag)); err != nil {
		return err
	}
	printf(c.App.Writer, "rig saved to %s, baseline %.3f", c.String(outFlag), baseline)
	return nil
}
