package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"

	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/stereo"
)

// printf prints a message with no prefix.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

// infof prints a message prefixed with "Info: ".
func infof(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, "Info: "+format+"\n", a...)
}

// warningf prints a message prefixed with "Warning: ".
func warningf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, "Warning: "+format+"\n", a...)
}

const (
	loggerKey    = "logger"
	logCloserKey = "logCloser"
)

// setupLogging builds the logger every command shares. It runs before any action.
func setupLogging(c *cli.Context) error {
	if c.App.Metadata == nil {
		c.App.Metadata = map[string]interface{}{}
	}
	var logger logging.Logger
	switch path := c.String(logFileFlag); {
	case path != "":
		level := zapcore.InfoLevel
		if c.Bool(debugFlag) {
			level = zapcore.DebugLevel
		}
		fileLogger, closer := logging.NewFileLogger("stereo", path, level)
		logger = fileLogger
		c.App.Metadata[logCloserKey] = closer
	case c.Bool(debugFlag):
		logger = logging.NewDebugLogger("stereo")
	default:
		logger = logging.NewLogger("stereo")
	}
	c.App.Metadata[loggerKey] = logger
	return nil
}

// closeLogging flushes the shared logger and releases a log file if one is open.
func closeLogging(c *cli.Context) error {
	var err error
	if logger, ok := c.App.Metadata[loggerKey].(logging.Logger); ok {
		// stdout cannot always be synced, so only file loggers report.
		syncErr := logger.Sync()
		if closer, ok := c.App.Metadata[logCloserKey].(io.Closer); ok {
			err = multierr.Combine(syncErr, closer.Close())
		}
	}
	delete(c.App.Metadata, loggerKey)
	delete(c.App.Metadata, logCloserKey)
	return err
}

func newLogger(c *cli.Context) logging.Logger {
	if logger, ok := c.App.Metadata[loggerKey].(logging.Logger); ok {
		return logger
	}
	return logging.NewLogger("stereo")
}

// isTextRig reports whether a rig path uses the text format.
func isTextRig(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".txt")
}

func loadRig(path string, logger logging.Logger) (*stereo.Calibration, error) {
	if isTextRig(path) {
		return stereo.LoadCalibrationText(path, logger)
	}
	return stereo.LoadCalibration(path, logger)
}

func saveRig(cal *stereo.Calibration, path string) (err error) {
	if !isTextRig(path) {
		return cal.Save(path)
	}
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %q", path)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return cal.WriteCalibrationText(f)
}
