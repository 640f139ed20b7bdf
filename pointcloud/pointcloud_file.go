package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	lzf "github.com/zhuyie/golzf"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/stereo/logging"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
	// PCDCompressed is binary_compressed pcd: fields stored one after another and
	// LZF compressed.
	PCDCompressed PCDType = 2
)

// NewFromFile returns a pointcloud read in from the given file.
func NewFromFile(fn string, logger logging.Logger) (PointCloud, error) {
	switch filepath.Ext(fn) {
	case ".pcd":
		//nolint:gosec
		f, err := os.Open(fn)
		if err != nil {
			return nil, err
		}
		defer utils.UncheckedErrorFunc(f.Close)
		pc, err := ReadPCD(f)
		if err != nil {
			return nil, errors.Wrapf(err, "error reading %q", fn)
		}
		if logger != nil {
			logger.Debugw("read point cloud", "file", fn, "points", pc.Size())
		}
		return pc, nil
	default:
		return nil, errors.Errorf("do not know how to read file %q", fn)
	}
}

// WriteToFile writes cloud to fn, choosing the encoding from the extension. Only .pcd is supported.
func WriteToFile(cloud PointCloud, fn string, outputType PCDType) (err error) {
	if filepath.Ext(fn) != ".pcd" {
		return errors.Errorf("do not know how to write file %q", fn)
	}
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	w := bufio.NewWriter(f)
	if err := ToPCD(cloud, w, outputType); err != nil {
		return err
	}
	return w.Flush()
}

func colorToPCDInt(pt Data) int {
	if pt == nil || !pt.HasColor() {
		return 255 << 16
	}
	r, g, b := pt.RGB255()
	return int(r)<<16 | int(g)<<8 | int(b)
}

func pcdIntToColor(c int) color.NRGBA {
	return color.NRGBA{R: uint8(0xFF & (c >> 16)), G: uint8(0xFF & (c >> 8)), B: uint8(0xFF & c), A: 255}
}

// pcdLayout is the set of per point fields after x, y and z. When both are present
// rgb comes before disparity.
type pcdLayout struct {
	color     bool
	disparity bool
}

func layoutOf(meta MetaData) pcdLayout {
	return pcdLayout{color: meta.HasColor, disparity: meta.HasDisparity}
}

func (l pcdLayout) names() []string {
	names := []string{"x", "y", "z"}
	if l.color {
		names = append(names, "rgb")
	}
	if l.disparity {
		names = append(names, "disparity")
	}
	return names
}

func (l pcdLayout) types() []string {
	types := []string{"F", "F", "F"}
	if l.color {
		types = append(types, "I")
	}
	if l.disparity {
		types = append(types, "F")
	}
	return types
}

func (l pcdLayout) numFields() int {
	return len(l.names())
}

func parsePCDLayout(value string) (pcdLayout, error) {
	for _, l := range []pcdLayout{{}, {color: true}, {disparity: true}, {color: true, disparity: true}} {
		if strings.Join(l.names(), " ") == value {
			return l, nil
		}
	}
	return pcdLayout{}, errors.Errorf("unsupported pcd fields %s", value)
}

func repeatField(v string, n int) string {
	return strings.TrimSpace(strings.Repeat(v+" ", n))
}

// ToPCD writes out a point cloud to a PCD file of the given type. Positions are
// written in the units they are stored in. Colored clouds get an rgb field and clouds
// from disparity maps a disparity field.
func ToPCD(cloud PointCloud, out io.Writer, outputType PCDType) error {
	var data string
	switch outputType {
	case PCDBinary:
		data = "binary"
	case PCDAscii:
		data = "ascii"
	case PCDCompressed:
		data = "binary_compressed"
	default:
		return errors.Errorf("unknown PCD type %d", outputType)
	}

	layout := layoutOf(cloud.MetaData())
	n := layout.numFields()
	if _, err := fmt.Fprintf(out, "VERSION .7\n"+
		"FIELDS %s\n"+
		"SIZE %s\n"+
		"TYPE %s\n"+
		"COUNT %s\n"+
		"WIDTH %d\n"+
		"HEIGHT 1\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n"+
		"DATA %s\n",
		strings.Join(layout.names(), " "),
		repeatField("4", n),
		strings.Join(layout.types(), " "),
		repeatField("1", n),
		cloud.Size(),
		cloud.Size(),
		data,
	); err != nil {
		return err
	}
	return writePCDData(cloud, out, outputType, layout)
}

func writePCDData(cloud PointCloud, out io.Writer, pcdtype PCDType, layout pcdLayout) error {
	if pcdtype == PCDCompressed {
		return writePCDCompressed(cloud, out, layout)
	}
	var err error
	buf := make([]byte, 0, 4*layout.numFields())
	var line strings.Builder
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		switch pcdtype {
		case PCDBinary:
			_, err = out.Write(appendPCDRecord(buf[:0], pos, d, layout))
		default:
			line.Reset()
			fmt.Fprintf(&line, "%f %f %f", pos.X, pos.Y, pos.Z)
			if layout.color {
				fmt.Fprintf(&line, " %d", colorToPCDInt(d))
			}
			if layout.disparity {
				fmt.Fprintf(&line, " %f", disparityOf(d))
			}
			line.WriteByte('\n')
			_, err = io.WriteString(out, line.String())
		}
		return err == nil
	})
	return err
}

// appendPCDRecord appends the little endian fields of one point.
func appendPCDRecord(buf []byte, pos r3.Vector, d Data, layout pcdLayout) []byte {
	for _, v := range []float64{pos.X, pos.Y, pos.Z} {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(v)))
	}
	if layout.color {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(colorToPCDInt(d)))
	}
	if layout.disparity {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(disparityOf(d))))
	}
	return buf
}

// writePCDCompressed writes the compressed and raw sizes followed by the LZF block.
// Inside the block every x comes first, then every y, and so on.
func writePCDCompressed(cloud PointCloud, out io.Writer, layout pcdLayout) error {
	fields, points := layout.numFields(), cloud.Size()
	raw := make([]byte, 4*fields*points)
	record := make([]byte, 0, 4*fields)
	i := 0
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		record = appendPCDRecord(record[:0], pos, d, layout)
		for f := 0; f < fields; f++ {
			copy(raw[4*(f*points+i):], record[4*f:4*f+4])
		}
		i++
		return true
	})

	var compressed []byte
	if len(raw) > 0 {
		// LZF grows incompressible input by at most one byte in 32.
		compressed = make([]byte, len(raw)+len(raw)/32+16)
		n, err := lzf.Compress(raw, compressed)
		if err != nil {
			return errors.Wrap(err, "compressing pcd data")
		}
		compressed = compressed[:n]
	}
	sizes := binary.LittleEndian.AppendUint32(nil, uint32(len(compressed)))
	sizes = binary.LittleEndian.AppendUint32(sizes, uint32(len(raw)))
	if _, err := out.Write(sizes); err != nil {
		return err
	}
	_, err := out.Write(compressed)
	return err
}

func disparityOf(d Data) float64 {
	if d == nil || !d.HasDisparity() {
		return math.NaN()
	}
	return d.Disparity()
}

type pcdValType string

const (
	pcdValFloat pcdValType = "F"
	pcdValInt   pcdValType = "I"
	pcdValUInt  pcdValType = "U"
)

type pcdHeader struct {
	layout    pcdLayout
	fields    int
	size      []uint64
	valTypes  []pcdValType
	count     []uint64
	width     uint64
	height    uint64
	viewpoint [7]float64
	points    uint64
	data      PCDType
}

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	var err error
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	tokens := strings.Fields(value)
	if field != name {
		return errors.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		if header.layout, err = parsePCDLayout(value); err != nil {
			return err
		}
		header.fields = header.layout.numFields()
	case "SIZE":
		if len(tokens) != header.fields {
			return errors.New("unexpected number of fields in SIZE line")
		}
		header.size = make([]uint64, len(tokens))
		for i, token := range tokens {
			header.size[i], err = strconv.ParseUint(token, 10, 64)
			if err != nil {
				return errors.Errorf("invalid SIZE field %s", token)
			}
			if header.size[i] != 4 {
				return errors.Errorf("only 4 byte fields are supported, got %d", header.size[i])
			}
		}
	case "TYPE":
		if len(tokens) != header.fields {
			return errors.New("unexpected number of fields in TYPE line")
		}
		header.valTypes = make([]pcdValType, len(tokens))
		for i, token := range tokens {
			switch t := pcdValType(token); t {
			case pcdValFloat, pcdValInt, pcdValUInt:
				header.valTypes[i] = t
			default:
				return errors.Errorf("invalid TYPE field %s", token)
			}
		}
	case "COUNT":
		if len(tokens) != header.fields {
			return errors.New("unexpected number of fields in COUNT line")
		}
		header.count = make([]uint64, len(tokens))
		for i, token := range tokens {
			header.count[i], err = strconv.ParseUint(token, 10, 64)
			if err != nil {
				return errors.Wrapf(err, "invalid COUNT field %s", token)
			}
		}
	case "WIDTH":
		header.width, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid WIDTH field %s", value)
		}
	case "HEIGHT":
		header.height, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid HEIGHT field %s", value)
		}
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return errors.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
		for i, token := range tokens {
			header.viewpoint[i], err = strconv.ParseFloat(token, 64)
			if err != nil {
				return errors.Wrapf(err, "invalid VIEWPOINT field %s", token)
			}
		}
	case "POINTS":
		var points uint64
		points, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid POINTS field %s", value)
		}
		if points != header.width*header.height {
			return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", points, header.width*header.height)
		}
		header.points = points
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		case "binary_compressed":
			header.data = PCDCompressed
		default:
			return errors.Errorf("unsupported pcd data type %s", value)
		}
	}

	return nil
}

// ReadPCD reads a PCD file into a pointcloud.
func ReadPCD(inRaw io.Reader) (PointCloud, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrapf(err, "error reading header line %d", headerLineCount)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return nil, err
		}
		headerLineCount++
	}
	switch header.data {
	case PCDAscii:
		return readPCDAscii(in, header)
	case PCDBinary:
		return readPCDBinary(in, header)
	default:
		return readPCDCompressed(in, header)
	}
}

func readPCDAscii(in *bufio.Reader, header pcdHeader) (PointCloud, error) {
	pc := NewWithPrealloc(int(header.points))
	for i := 0; i < int(header.points); i++ {
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return nil, errors.Wrapf(err, "reading point %d", i)
		}
		tokens := strings.Fields(line)
		if len(tokens) != header.fields {
			return nil, errors.Errorf("unexpected number of fields in point %d", i)
		}
		point := make([]float64, len(tokens))
		for j, token := range tokens {
			point[j], err = strconv.ParseFloat(token, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid point %d field %s", i, token)
			}
		}
		if err := setSliceAsPoint(pc, point, header); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

func readPCDBinary(in *bufio.Reader, header pcdHeader) (PointCloud, error) {
	pc := NewWithPrealloc(int(header.points))
	buf := make([]byte, 4*header.fields)
	point := make([]float64, header.fields)
	for i := 0; i < int(header.points); i++ {
		if _, err := io.ReadFull(in, buf); err != nil {
			return nil, errors.Wrapf(err, "reading point %d", i)
		}
		for j := range point {
			point[j] = decodePCDValue(buf[4*j:], header.valTypes[j])
		}
		if err := setSliceAsPoint(pc, point, header); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

func readPCDCompressed(in *bufio.Reader, header pcdHeader) (PointCloud, error) {
	sizes := make([]byte, 8)
	if _, err := io.ReadFull(in, sizes); err != nil {
		return nil, errors.Wrap(err, "reading compressed sizes")
	}
	compressedSize := binary.LittleEndian.Uint32(sizes)
	rawSize := binary.LittleEndian.Uint32(sizes[4:])
	points, fields := int(header.points), header.fields
	if int(rawSize) != 4*fields*points {
		return nil, errors.Errorf("compressed block holds %d bytes, expected %d", rawSize, 4*fields*points)
	}
	compressed := make([]byte, compressedSize)
	if _, err := io.ReadFull(in, compressed); err != nil {
		return nil, errors.Wrap(err, "reading compressed block")
	}
	raw := make([]byte, rawSize)
	if rawSize > 0 {
		n, err := lzf.Decompress(compressed, raw)
		if err != nil {
			return nil, errors.Wrap(err, "decompressing pcd data")
		}
		if n != int(rawSize) {
			return nil, errors.Errorf("decompressed %d bytes, expected %d", n, rawSize)
		}
	}

	pc := NewWithPrealloc(points)
	point := make([]float64, fields)
	for i := 0; i < points; i++ {
		for j := range point {
			point[j] = decodePCDValue(raw[4*(j*points+i):], header.valTypes[j])
		}
		if err := setSliceAsPoint(pc, point, header); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

func decodePCDValue(b []byte, t pcdValType) float64 {
	bits := binary.LittleEndian.Uint32(b)
	switch t {
	case pcdValInt:
		return float64(int32(bits))
	case pcdValUInt:
		return float64(bits)
	default:
		return float64(math.Float32frombits(bits))
	}
}

func setSliceAsPoint(pc PointCloud, slice []float64, header pcdHeader) error {
	pos := r3.Vector{X: slice[0], Y: slice[1], Z: slice[2]}
	next := 3
	data := NewBasicData()
	if header.layout.color {
		data.SetColor(pcdIntToColor(int(slice[next])))
		next++
	}
	if header.layout.disparity && !math.IsNaN(slice[next]) {
		data.SetDisparity(slice[next])
	}
	return pc.Set(pos, data)
}
