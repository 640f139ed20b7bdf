package cli

import (
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

// ConvertAction rewrites a rig in the format named by the output extension.
func ConvertAction(c *cli.Context) error {
	if c.Args().Len() != 2 {
		return errors.New("convert needs an input and an output path")
	}
	in, out := c.Args().Get(0), c.Args().Get(1)
	cal, err := loadRig(in, newLogger(c))
	if err != nil {
		return err
	}
	if err := saveRig(cal, out); err != nil {
		return err
	}
	printf(c.App.Writer, "converted %s to %s", in, out)
	return nil
}
