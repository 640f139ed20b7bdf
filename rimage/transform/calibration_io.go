package transform

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"
)

// intrinsicsJSON uses pointers so that absent fields can be told apart from zeros.
type intrinsicsJSON struct {
	Width  *int     `json:"width_px"`
	Height *int     `json:"height_px"`
	Fx     *float64 `json:"fx"`
	Fy     *float64 `json:"fy"`
	Ppx    *float64 `json:"ppx"`
	Ppy    *float64 `json:"ppy"`
	Skew   float64  `json:"skew"`
}

type cameraParametersJSON struct {
	Intrinsics  *intrinsicsJSON `json:"intrinsic_parameters"`
	Distortion  *BrownConrady   `json:"distortion_parameters"`
	Rotation    []float64       `json:"rotation"`
	Translation []float64       `json:"translation"`
}

// MarshalJSON encodes the camera in the persisted calibration layout.
func (c *CameraParameters) MarshalJSON() ([]byte, error) {
	if err := c.CheckValid(); err != nil {
		return nil, err
	}
	in := c.PinholeCameraIntrinsics
	distortion := BrownConrady{}
	if c.Distortion != nil {
		distortion = *c.Distortion
	}
	return json.Marshal(cameraParametersJSON{
		Intrinsics: &intrinsicsJSON{
			Width: &in.Width, Height: &in.Height,
			Fx: &in.Fx, Fy: &in.Fy, Ppx: &in.Ppx, Ppy: &in.Ppy,
			Skew: in.Skew,
		},
		Distortion:  &distortion,
		Rotation:    mat.DenseCopyOf(c.Rotation).RawMatrix().Data,
		Translation: []float64{c.Translation.X, c.Translation.Y, c.Translation.Z},
	})
}

// UnmarshalJSON decodes and validates a persisted camera. Every failure wraps ErrMalformedCalibration.
func (c *CameraParameters) UnmarshalJSON(data []byte) error {
	var raw cameraParametersJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(ErrMalformedCalibration, err.Error())
	}
	in := raw.Intrinsics
	if in == nil {
		return NewMalformedCalibrationError("intrinsic_parameters", "missing")
	}
	for _, field := range []struct {
		name    string
		present bool
	}{
		{"width_px", in.Width != nil},
		{"height_px", in.Height != nil},
		{"fx", in.Fx != nil},
		{"fy", in.Fy != nil},
		{"ppx", in.Ppx != nil},
		{"ppy", in.Ppy != nil},
	} {
		if !field.present {
			return NewMalformedCalibrationError("intrinsic_parameters."+field.name, "missing")
		}
	}
	if raw.Distortion == nil {
		return NewMalformedCalibrationError("distortion_parameters", "missing")
	}
	if len(raw.Rotation) != 9 {
		return NewMalformedCalibrationError("rotation", "expected 9 values, got %d", len(raw.Rotation))
	}
	if len(raw.Translation) != 3 {
		return NewMalformedCalibrationError("translation", "expected 3 values, got %d", len(raw.Translation))
	}
	parsed := CameraParameters{
		PinholeCameraModel: PinholeCameraModel{
			PinholeCameraIntrinsics: &PinholeCameraIntrinsics{
				Width: *in.Width, Height: *in.Height,
				Fx: *in.Fx, Fy: *in.Fy, Ppx: *in.Ppx, Ppy: *in.Ppy,
				Skew: in.Skew,
			},
			Distortion: raw.Distortion,
		},
		Rotation:    mat.NewDense(3, 3, raw.Rotation),
		Translation: r3.Vector{X: raw.Translation[0], Y: raw.Translation[1], Z: raw.Translation[2]},
	}
	if err := parsed.CheckValid(); err != nil {
		return errors.Wrap(ErrMalformedCalibration, err.Error())
	}
	*c = parsed
	return nil
}

// ReadCameraParameters decodes one JSON camera from r.
func ReadCameraParameters(r io.Reader) (*CameraParameters, error) {
	var c CameraParameters
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		if errors.Is(err, ErrMalformedCalibration) {
			return nil, err
		}
		return nil, errors.Wrap(ErrMalformedCalibration, err.Error())
	}
	return &c, nil
}

// LoadCameraParameters reads a JSON camera file.
func LoadCameraParameters(path string) (*CameraParameters, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "error opening calibration file")
	}
	defer utils.UncheckedErrorFunc(f.Close)
	return ReadCameraParameters(f)
}

// Write encodes the camera as indented JSON.
func (c *CameraParameters) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

// Save writes the camera to path as JSON.
func (c *CameraParameters) Save(path string) error {
	return writeFile(path, c.Write)
}

func writeFile(path string, write func(io.Writer) error) error {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "error creating calibration file")
	}
	if err := write(f); err != nil {
		utils.UncheckedError(f.Close())
		return err
	}
	return f.Close()
}

// valuesPerCamera is the size of one camera record in the text format:
// width, height, K, four distortion terms, R and t.
const valuesPerCamera = 2 + 9 + 4 + 9 + 3

// NumberScanner reads whitespace separated numbers from the text calibration format.
type NumberScanner struct {
	scanner *bufio.Scanner
	read    int
}

// NewNumberScanner wraps r.
func NewNumberScanner(r io.Reader) *NumberScanner {
	s := bufio.NewScanner(r)
	s.Split(bufio.ScanWords)
	return &NumberScanner{scanner: s}
}

// Next returns the next number. field names the value for error messages.
func (ns *NumberScanner) Next(field string) (float64, error) {
	if !ns.scanner.Scan() {
		if err := ns.scanner.Err(); err != nil {
			return 0, errors.Wrap(ErrMalformedCalibration, err.Error())
		}
		return 0, NewMalformedCalibrationError(field, "missing value %d", ns.read)
	}
	ns.read++
	v, err := strconv.ParseFloat(ns.scanner.Text(), 64)
	if err != nil {
		return 0, NewMalformedCalibrationError(field, "%v", err)
	}
	return v, nil
}

// NextOptional is like Next but reports ok=false instead of failing when the input is exhausted.
func (ns *NumberScanner) NextOptional(field string) (float64, bool, error) {
	if !ns.scanner.Scan() {
		if err := ns.scanner.Err(); err != nil {
			return 0, false, errors.Wrap(ErrMalformedCalibration, err.Error())
		}
		return 0, false, nil
	}
	ns.read++
	v, err := strconv.ParseFloat(ns.scanner.Text(), 64)
	if err != nil {
		return 0, false, NewMalformedCalibrationError(field, "%v", err)
	}
	return v, true, nil
}

func (ns *NumberScanner) nextInt(field string) (int, error) {
	v, err := ns.Next(field)
	if err != nil {
		return 0, err
	}
	if v != math.Trunc(v) {
		return 0, NewMalformedCalibrationError(field, "%v is not an integer", v)
	}
	return int(v), nil
}

// ReadCameraText reads one text camera record.
func (ns *NumberScanner) ReadCameraText() (*CameraParameters, error) {
	width, err := ns.nextInt("width")
	if err != nil {
		return nil, err
	}
	height, err := ns.nextInt("height")
	if err != nil {
		return nil, err
	}
	vals := make([]float64, valuesPerCamera-2)
	for i := range vals {
		if vals[i], err = ns.Next(fmt.Sprintf("value %d", i+2)); err != nil {
			return nil, err
		}
	}
	k := mat.NewDense(3, 3, vals[0:9])
	cam := &CameraParameters{
		PinholeCameraModel: PinholeCameraModel{
			PinholeCameraIntrinsics: NewPinholeCameraIntrinsicsFromMatrix(k, width, height),
			Distortion: &BrownConrady{
				RadialK1:     vals[9],
				RadialK2:     vals[10],
				TangentialP1: vals[11],
				TangentialP2: vals[12],
			},
		},
		Rotation:    mat.NewDense(3, 3, append([]float64{}, vals[13:22]...)),
		Translation: r3.Vector{X: vals[22], Y: vals[23], Z: vals[24]},
	}
	if err := cam.CheckValid(); err != nil {
		return nil, errors.Wrap(ErrMalformedCalibration, err.Error())
	}
	return cam, nil
}

// ReadCalibrationText reads a camera count followed by that many camera records.
// The scanner is returned so callers can read trailing data.
func ReadCalibrationText(r io.Reader) ([]*CameraParameters, *NumberScanner, error) {
	ns := NewNumberScanner(r)
	count, err := ns.nextInt("camera count")
	if err != nil {
		return nil, nil, err
	}
	if count <= 0 {
		return nil, nil, NewMalformedCalibrationError("camera count", "must be positive, got %d", count)
	}
	cams := make([]*CameraParameters, 0, count)
	for i := 0; i < count; i++ {
		cam, err := ns.ReadCameraText()
		if err != nil {
			return nil, nil, errors.Wrapf(err, "camera %d", i)
		}
		cams = append(cams, cam)
	}
	return cams, ns, nil
}

// WriteCameraText writes one text camera record. The text format has no room for rk3.
func WriteCameraText(w io.Writer, c *CameraParameters) error {
	if err := c.CheckValid(); err != nil {
		return err
	}
	d := c.Distortion
	if d == nil {
		d = &BrownConrady{}
	}
	if d.RadialK3 != 0 {
		return errors.New("text calibration format cannot store rk3")
	}
	in := c.PinholeCameraIntrinsics
	if _, err := fmt.Fprintf(w, "%d %d\n", in.Width, in.Height); err != nil {
		return err
	}
	groups := [][]float64{
		{in.Fx, in.Skew, in.Ppx, 0, in.Fy, in.Ppy, 0, 0, 1},
		{d.RadialK1, d.RadialK2, d.TangentialP1, d.TangentialP2},
		mat.DenseCopyOf(c.Rotation).RawMatrix().Data,
		{c.Translation.X, c.Translation.Y, c.Translation.Z},
	}
	for _, g := range groups {
		if err := WriteTextValues(w, g); err != nil {
			return err
		}
	}
	return nil
}

// WriteTextValues writes one line of values with ten decimal places.
func WriteTextValues(w io.Writer, vals []float64) error {
	for i, v := range vals {
		sep := " "
		if i == len(vals)-1 {
			sep = "\n"
		}
		if _, err := fmt.Fprintf(w, "%.10f%s", v, sep); err != nil {
			return err
		}
	}
	return nil
}

// WriteCalibrationText writes cams in the text format.
func WriteCalibrationText(w io.Writer, cams ...*CameraParameters) error {
	if _, err := fmt.Fprintf(w, "%d\n\n", len(cams)); err != nil {
		return err
	}
	for _, c := range cams {
		if err := WriteCameraText(w, c); err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}
