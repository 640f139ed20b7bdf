package config

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"

	"go.viam.com/stereo/logging"
)

// Read reads a config from the given file. Environment variables in the file are
// expanded before decoding.
func Read(filePath string, logger logging.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	return FromReader(filePath, bytes.NewReader(buf), logger)
}

// FromReader reads a config from the given reader and specifies
// where, if applicable, the file the reader originated from.
func FromReader(originalPath string, r io.Reader, logger logging.Logger) (*Config, error) {
	cfg := Default()
	cfg.ConfigFilePath = originalPath
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to decode Config from json")
	}
	if err := cfg.Validate("config"); err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Debugw("read config",
			"path", originalPath,
			"calibration", cfg.ResolvePath(cfg.Calibration),
			"metric", cfg.Matcher.Metric,
			"disparity_range", []int{cfg.Matcher.MinDisparity, cfg.Matcher.MaxDisparity},
		)
	}
	return &cfg, nil
}
