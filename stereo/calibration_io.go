package stereo

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereo/linalg"
	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/rimage/transform"
)

type rectificationJSON struct {
	Left  *transform.Homography `json:"left"`
	Right *transform.Homography `json:"right"`
}

type calibrationJSON struct {
	Left          *transform.CameraParameters `json:"left"`
	Right         *transform.CameraParameters `json:"right"`
	Rotation      []float64                   `json:"rotation"`
	Translation   []float64                   `json:"translation"`
	Rectification *rectificationJSON          `json:"rectification,omitempty"`
}

// Write encodes a complete rig as JSON.
func (c *Calibration) Write(w io.Writer) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != RigComplete {
		return newNotCalibratedError(c.state)
	}
	rec := calibrationJSON{
		Left:          c.left,
		Right:         c.right,
		Rotation:      linalg.Flatten(c.rotation),
		Translation:   []float64{c.translation.X, c.translation.Y, c.translation.Z},
		Rectification: &rectificationJSON{Left: c.rectLeft, Right: c.rectRight},
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(&rec)
}

// Save writes a complete rig to path as JSON.
func (c *Calibration) Save(path string) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "error creating calibration file")
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return c.Write(f)
}

// ReadCalibration decodes a rig written by Write. Missing cameras or pose fields
// wrap transform.ErrMalformedCalibration. Without a rectification record the
// homographies are derived from the pose.
func ReadCalibration(r io.Reader, logger logging.Logger) (*Calibration, error) {
	var rec calibrationJSON
	if err := json.NewDecoder(r).Decode(&rec); err != nil {
		if errors.Is(err, transform.ErrMalformedCalibration) {
			return nil, err
		}
		return nil, errors.Wrap(transform.ErrMalformedCalibration, err.Error())
	}
	switch {
	case rec.Left == nil:
		return nil, transform.NewMalformedCalibrationError("left", "missing")
	case rec.Right == nil:
		return nil, transform.NewMalformedCalibrationError("right", "missing")
	case len(rec.Rotation) != 9:
		return nil, transform.NewMalformedCalibrationError("rotation", "need 9 values, got %d", len(rec.Rotation))
	case len(rec.Translation) != 3:
		return nil, transform.NewMalformedCalibrationError("translation", "need 3 values, got %d", len(rec.Translation))
	}

	cal := NewCalibration(nil, logger)
	if err := cal.SetSingleCalibrations(rec.Left, rec.Right); err != nil {
		return nil, errors.Wrap(transform.ErrMalformedCalibration, err.Error())
	}
	rot := mat.NewDense(3, 3, rec.Rotation)
	t := r3.Vector{X: rec.Translation[0], Y: rec.Translation[1], Z: rec.Translation[2]}
	if err := cal.SetExtrinsicParameters(rot, t); err != nil {
		return nil, errors.Wrap(transform.ErrMalformedCalibration, err.Error())
	}
	if rec.Rectification != nil {
		if err := cal.SetRectificationHomographies(rec.Rectification.Left, rec.Rectification.Right); err != nil {
			return nil, errors.Wrap(transform.ErrMalformedCalibration, err.Error())
		}
	}
	return cal, nil
}

// LoadCalibration reads a JSON rig from path.
func LoadCalibration(path string, logger logging.Logger) (*Calibration, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "error opening calibration file")
	}
	defer utils.UncheckedErrorFunc(f.Close)
	cal, err := ReadCalibration(f, logger)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %q", path)
	}
	return cal, nil
}

// legacyPadding is the number of unused values between the cameras and the
// rectification homographies in the text format.
const legacyPadding = 16

// WriteCalibrationText writes a complete rig in the text format: both cameras, 16
// unused zeros and the two rectification homographies.
func (c *Calibration) WriteCalibrationText(w io.Writer) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != RigComplete {
		return newNotCalibratedError(c.state)
	}
	if err := transform.WriteCalibrationText(w, c.left, c.right); err != nil {
		return err
	}
	zeros := make([]float64, legacyPadding/2)
	for i := 0; i < 2; i++ {
		if err := transform.WriteTextValues(w, zeros); err != nil {
			return err
		}
	}
	for _, h := range []*transform.Homography{c.rectLeft, c.rectRight} {
		if err := transform.WriteTextValues(w, h.Values()); err != nil {
			return err
		}
	}
	return nil
}

// ReadCalibrationText reads a rig in the text format. The cameras' own poses define
// the relative pose. The trailing padding and homographies are optional; when they
// are absent the homographies are derived from the pose.
func ReadCalibrationText(r io.Reader, logger logging.Logger) (*Calibration, error) {
	cams, ns, err := transform.ReadCalibrationText(r)
	if err != nil {
		return nil, err
	}
	if len(cams) != 2 {
		return nil, transform.NewMalformedCalibrationError("camera count", "a rig needs 2 cameras, got %d", len(cams))
	}
	cal := NewCalibration(nil, logger)
	if err := cal.SetSingleCalibrations(cams[0], cams[1]); err != nil {
		return nil, errors.Wrap(transform.ErrMalformedCalibration, err.Error())
	}
	if err := cal.SetExtrinsicsFromSingles(); err != nil {
		return nil, errors.Wrap(transform.ErrMalformedCalibration, err.Error())
	}

	if _, ok, err := ns.NextOptional("padding 0"); err != nil {
		return nil, err
	} else if !ok {
		return cal, nil
	}
	for i := 1; i < legacyPadding; i++ {
		if _, err := ns.Next(fmt.Sprintf("padding %d", i)); err != nil {
			return nil, err
		}
	}
	homographies := make([]*transform.Homography, 2)
	for i, side := range []Side{Left, Right} {
		vals := make([]float64, 9)
		for j := range vals {
			if vals[j], err = ns.Next(fmt.Sprintf("%s homography %d", side, j)); err != nil {
				return nil, err
			}
		}
		if homographies[i], err = transform.NewHomography(vals); err != nil {
			return nil, errors.Wrapf(transform.ErrMalformedCalibration, "%s homography: %v", side, err)
		}
	}
	if err := cal.SetRectificationHomographies(homographies[0], homographies[1]); err != nil {
		return nil, errors.Wrap(transform.ErrMalformedCalibration, err.Error())
	}
	return cal, nil
}

// LoadCalibrationText reads a text rig from path.
func LoadCalibrationText(path string, logger logging.Logger) (*Calibration, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "error opening calibration file")
	}
	defer utils.UncheckedErrorFunc(f.Close)
	return ReadCalibrationText(f, logger)
}
