package cli

import (
	"github.com/urfave/cli/v2"

	"go.viam.com/stereo/rimage/transform"
	"go.viam.com/stereo/stereo"
)

// EpipolarAction prints the epipolar error of a set of correspondences.
func EpipolarAction(c *cli.Context) error {
	cal, err := loadRig(c.String(rigFlag), newLogger(c))
	if err != nil {
		return err
	}
	corrs, err := transform.ReadCorrespondences(c.String(correspondencesFlag))
	if err != nil {
		return err
	}
	report, err := cal.EpipolarErrorStats(corrs, c.Bool(undistortFlag))
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%d correspondences", len(corrs))
	writeReprojection(c, "epipolar", report)

	leftCam, err := cal.Camera(stereo.Left)
	if err != nil {
		return err
	}
	rightCam, err := cal.Camera(stereo.Right)
	if err != nil {
		return err
	}
	worst, worstAt := 0.0, -1
	for i, corr := range corrs {
		l, r := corr.Left, corr.Right
		if c.Bool(undistortFlag) {
			l, r = leftCam.Undistort(l), rightCam.Undistort(r)
		}
		d, err := cal.EpipolarDistance(l, r)
		if err != nil {
			return err
		}
		if d > worst {
			worst, worstAt = d, i
		}
	}
	if worstAt >= 0 {
		printf(c.App.Writer, "worst correspondence %d: left %v right %v", worstAt, corrs[worstAt].Left, corrs[worstAt].Right)
	}
	return nil
}
