package cli

import (
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

// InfoAction prints a summary of a rig file.
func InfoAction(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return errors.New("info needs a rig path")
	}
	cal, err := loadRig(c.Args().First(), newLogger(c))
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s", cal.String())
	return nil
}
