package stereo

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
)

// String renders the rig as a table, one row per camera.
func (c *Calibration) String() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("stereo rig (%s)", c.state))
	t.AppendHeader(table.Row{"#", "Camera", "Size", "Fx", "Fy", "Ppx", "Ppy", "Distortion", "Translation"})
	for i, side := range []Side{Left, Right} {
		cam := c.camera(side)
		if cam == nil || cam.PinholeCameraIntrinsics == nil {
			t.AppendRow(table.Row{i + 1, side, "-", "-", "-", "-", "-", "-", "-"})
			continue
		}
		t.AppendRow(table.Row{
			i + 1,
			side,
			fmt.Sprintf("%dx%d", cam.Width, cam.Height),
			fmt.Sprintf("%.3f", cam.Fx),
			fmt.Sprintf("%.3f", cam.Fy),
			fmt.Sprintf("%.3f", cam.Ppx),
			fmt.Sprintf("%.3f", cam.Ppy),
			fmt.Sprintf("%.4g", cam.Distortion.Parameters()),
			fmt.Sprintf("(%.3f, %.3f, %.3f)", cam.Translation.X, cam.Translation.Y, cam.Translation.Z),
		})
	}
	if c.state == RigComplete {
		t.AppendFooter(table.Row{"", "baseline", fmt.Sprintf("%.3f", c.baseline)})
	}
	return t.Render()
}
