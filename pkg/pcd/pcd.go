package pcd

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	lzf "github.com/zhuyie/golzf"
)

var (
	ErrUnsupportPcdVersion   = errors.New("unsupport pcd version")
	ErrUnsupportPcdFieldSize = errors.New("unsupport pcd field size")
	ErrUnsupportPcdFieldType = errors.New("unsupport pcd field type")
	ErrUnsupportPcdDataType  = errors.New("unsupport pcd data type")
	ErrInvalidPcdFormat      = errors.New("invalid pcd format")
	ErrWrite                 = errors.New("could not write output file")
)

// pcdHeader is written verbatim apart from WIDTH and POINTS. Downstream
// tools compare it byte for byte.
const pcdHeader = "# .PCD v.7 - Point Cloud Data file format\n" +
	"VERSION .7\n" +
	"FIELDS x y z intensity\n" +
	"SIZE 4 4 4 4\n" +
	"TYPE F F F F\n" +
	"COUNT 1 1 1 1\n" +
	"WIDTH %d\n" +
	"HEIGHT 1\n" +
	"POINTS %d\n" +
	"DATA ASCII\n"

// FloatPrecision is the number of significant digits written per value.
const FloatPrecision = 6

const (
	// maxPreallocPoints bounds the capacity taken from an untrusted header.
	maxPreallocPoints = 1 << 16
	maxFieldCount     = 1 << 16
)

type Pcd struct {
	PointCloud
}

// Encode writes the cloud as ASCII PCD.
func (pcd *Pcd) Encode(w io.Writer) error {
	bw := bufio.NewWriter(w)
	n := len(pcd.Points)
	if _, err := fmt.Fprintf(bw, pcdHeader, n, n); err != nil {
		return err
	}
	line := make([]byte, 0, 64)
	for _, p := range pcd.Points {
		line = AppendPoint(line[:0], p)
		if _, err := bw.Write(line); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// AppendPoint appends "x y z intensity\n" to b.
func AppendPoint(b []byte, p Point) []byte {
	b = AppendFloat(b, p.X)
	b = append(b, ' ')
	b = AppendFloat(b, p.Y)
	b = append(b, ' ')
	b = AppendFloat(b, p.Z)
	b = append(b, ' ')
	b = AppendFloat(b, p.Intensity)
	return append(b, '\n')
}

// AppendFloat formats v like printf("%g") with FloatPrecision digits.
// Non-finite values use the C spellings so the output stays readable by PCL.
func AppendFloat(b []byte, v float32) []byte {
	f := float64(v)
	switch {
	case math.IsNaN(f):
		if math.Signbit(f) {
			return append(b, "-nan"...)
		}
		return append(b, "nan"...)
	case math.IsInf(f, 1):
		return append(b, "inf"...)
	case math.IsInf(f, -1):
		return append(b, "-inf"...)
	}
	return strconv.AppendFloat(b, f, 'g', FloatPrecision, 64)
}

// WritePcdFile creates or truncates path and writes pcd to it. A failed
// write may leave a partial file behind.
func WritePcdFile(path string, pcd *Pcd) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w '%s': %v", ErrWrite, path, err)
	}
	if err := pcd.Encode(f); err != nil {
		f.Close()
		return fmt.Errorf("%w '%s': %v", ErrWrite, path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w '%s': %v", ErrWrite, path, err)
	}
	return nil
}

type pcdHeaderFields struct {
	fields   []string
	sizes    []int
	types    []string
	counts   []int
	width    int
	height   int
	points   int
	dataType string
}

// fieldPos locates one field inside a record.
type fieldPos struct {
	elem   int // index among the ascii values of a line
	offset int // byte offset inside a binary record
	ok     bool
}

type pointLayout struct {
	x, y, z, intensity fieldPos
	stride             int
	elems              int
}

// DecodePcd reads a PCD file with ascii, binary or binary_compressed data.
// x, y and z must be 4 byte floats; intensity is read when present.
func DecodePcd(r io.Reader) (pcd *Pcd, err error) {
	bio := bufio.NewReader(r)
	h, err := readPcdHeader(bio)
	if err != nil {
		return nil, err
	}
	layout, err := h.layout()
	if err != nil {
		return nil, err
	}

	pcd = &Pcd{
		PointCloud: PointCloud{
			Points: make([]Point, 0, min(h.points, maxPreallocPoints)),
		},
	}
	switch h.dataType {
	case "ascii":
		err = pcd.loadAsciiPoints(bio, h.points, layout)
	case "binary":
		err = pcd.loadBinPoints(bio, h.points, layout)
	case "binary_compressed":
		err = pcd.loadBinCompressedPoints(bio, h.points, layout)
	default:
		return nil, ErrUnsupportPcdDataType
	}
	if err != nil {
		return nil, err
	}
	return pcd, nil
}

func readPcdHeader(r *bufio.Reader) (*pcdHeaderFields, error) {
	h := &pcdHeaderFields{points: -1}
	for {
		line, err := r.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			if err == io.EOF {
				return nil, fmt.Errorf("%w: missing DATA line", ErrInvalidPcdFormat)
			}
			return nil, err
		}
		args := strings.Fields(line)
		if len(args) == 0 || strings.HasPrefix(args[0], "#") {
			continue
		}
		if len(args) < 2 {
			return nil, fmt.Errorf("%w: header %s has no value", ErrInvalidPcdFormat, args[0])
		}
		switch args[0] {
		case "VERSION":
			if args[1] != ".7" && args[1] != "0.7" {
				return nil, ErrUnsupportPcdVersion
			}
		case "FIELDS":
			h.fields = args[1:]
		case "SIZE":
			if h.sizes, err = atois("SIZE", args[1:]); err != nil {
				return nil, err
			}
		case "TYPE":
			h.types = args[1:]
		case "COUNT":
			if h.counts, err = atois("COUNT", args[1:]); err != nil {
				return nil, err
			}
		case "WIDTH":
			if h.width, err = strconv.Atoi(args[1]); err != nil {
				return nil, fmt.Errorf("%w: WIDTH %q", ErrInvalidPcdFormat, args[1])
			}
		case "HEIGHT":
			if h.height, err = strconv.Atoi(args[1]); err != nil {
				return nil, fmt.Errorf("%w: HEIGHT %q", ErrInvalidPcdFormat, args[1])
			}
		case "POINTS":
			if h.points, err = strconv.Atoi(args[1]); err != nil || h.points < 0 {
				return nil, fmt.Errorf("%w: POINTS %q", ErrInvalidPcdFormat, args[1])
			}
		case "DATA":
			h.dataType = strings.ToLower(args[1])
			return h, nil
		}
	}
}

func (h *pcdHeaderFields) layout() (*pointLayout, error) {
	if h.counts == nil {
		h.counts = make([]int, len(h.fields))
		for i := range h.counts {
			h.counts[i] = 1
		}
	}
	if len(h.fields) != len(h.sizes) || len(h.fields) != len(h.types) || len(h.fields) != len(h.counts) {
		return nil, fmt.Errorf("%w: field, size, type and count lengths differ", ErrInvalidPcdFormat)
	}
	if h.points < 0 {
		if h.width < 0 || h.height < 0 {
			return nil, fmt.Errorf("%w: WIDTH %d HEIGHT %d", ErrInvalidPcdFormat, h.width, h.height)
		}
		h.points = h.width * h.height
		if h.height != 0 && h.points/h.height != h.width {
			return nil, fmt.Errorf("%w: WIDTH %d HEIGHT %d", ErrInvalidPcdFormat, h.width, h.height)
		}
	}

	l := &pointLayout{}
	pos := make(map[string]fieldPos, len(h.fields))
	for i, name := range h.fields {
		if !validFieldSize(h.sizes[i]) || h.counts[i] <= 0 || h.counts[i] > maxFieldCount {
			return nil, fmt.Errorf("%w: field %s has SIZE %d COUNT %d", ErrInvalidPcdFormat, name, h.sizes[i], h.counts[i])
		}
		pos[name] = fieldPos{elem: l.elems, offset: l.stride, ok: true}
		l.elems += h.counts[i]
		l.stride += h.sizes[i] * h.counts[i]
	}
	for _, name := range []string{"x", "y", "z"} {
		if err := h.checkField(name); err != nil {
			return nil, err
		}
	}
	l.x, l.y, l.z = pos["x"], pos["y"], pos["z"]
	if h.checkField("intensity") == nil {
		l.intensity = pos["intensity"]
	}
	return l, nil
}

func validFieldSize(size int) bool {
	switch size {
	case 1, 2, 4, 8:
		return true
	}
	return false
}

func (h *pcdHeaderFields) checkField(name string) error {
	for i, f := range h.fields {
		if f != name {
			continue
		}
		if h.sizes[i] != 4 {
			return fmt.Errorf("%w: %s", ErrUnsupportPcdFieldSize, name)
		}
		if h.types[i] != "F" {
			return fmt.Errorf("%w: %s", ErrUnsupportPcdFieldType, name)
		}
		return nil
	}
	return fmt.Errorf("%w: missing field %s", ErrInvalidPcdFormat, name)
}

func (pcd *Pcd) loadAsciiPoints(r *bufio.Reader, n int, l *pointLayout) error {
	vals := make([]float32, l.elems)
	for i := 0; i < n; {
		line, err := r.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			if err == io.EOF {
				return fmt.Errorf("%w: expected %d points, got %d", ErrInvalidPcdFormat, n, i)
			}
			return err
		}
		toks := strings.Fields(line)
		if len(toks) == 0 {
			continue
		}
		if len(toks) != l.elems {
			return fmt.Errorf("%w: point %d has %d values, want %d", ErrInvalidPcdFormat, i, len(toks), l.elems)
		}
		for j, tok := range toks {
			v, err := parseFloat32(tok)
			if err != nil {
				return fmt.Errorf("%w: point %d: %v", ErrInvalidPcdFormat, i, err)
			}
			vals[j] = v
		}
		pt := Point{
			X: vals[l.x.elem],
			Y: vals[l.y.elem],
			Z: vals[l.z.elem],
		}
		if l.intensity.ok {
			pt.Intensity = vals[l.intensity.elem]
		}
		pcd.AddPoint(pt)
		i++
	}
	return nil
}

func (pcd *Pcd) loadBinPoints(r io.Reader, n int, l *pointLayout) error {
	bs := make([]byte, l.stride)
	for i := 0; i < n; i++ {
		if _, err := io.ReadFull(r, bs); err != nil {
			return fmt.Errorf("%w: point %d: %v", ErrInvalidPcdFormat, i, err)
		}
		pt := Point{
			X: float32At(bs, l.x.offset),
			Y: float32At(bs, l.y.offset),
			Z: float32At(bs, l.z.offset),
		}
		if l.intensity.ok {
			pt.Intensity = float32At(bs, l.intensity.offset)
		}
		pcd.AddPoint(pt)
	}
	return nil
}

const (
	BinaryCompressedSize = 8
)

// loadBinCompressedPoints reads an LZF block. The uncompressed payload is
// stored field by field, so field f of point p lives at n*offset(f)+p*4.
func (pcd *Pcd) loadBinCompressedPoints(r io.Reader, n int, l *pointLayout) error {
	sizes := make([]byte, BinaryCompressedSize)
	if _, err := io.ReadFull(r, sizes); err != nil {
		return fmt.Errorf("%w: compressed size: %v", ErrInvalidPcdFormat, err)
	}
	compressedSize := binary.LittleEndian.Uint32(sizes[:4])
	uncompressedSize := binary.LittleEndian.Uint32(sizes[4:])
	if n > int(uncompressedSize)/l.stride || int(uncompressedSize) != n*l.stride {
		return fmt.Errorf("%w: uncompressed size %d, want %d", ErrInvalidPcdFormat, uncompressedSize, n*l.stride)
	}
	if n == 0 {
		return nil
	}

	raw := make([]byte, compressedSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return fmt.Errorf("%w: compressed data: %v", ErrInvalidPcdFormat, err)
	}
	dec := make([]byte, uncompressedSize)
	m, err := lzf.Decompress(raw, dec)
	if err != nil {
		return err
	}
	if m != int(uncompressedSize) {
		return fmt.Errorf("%w: decompressed %d bytes, want %d", ErrInvalidPcdFormat, m, uncompressedSize)
	}

	at := func(f fieldPos, p int) float32 {
		return float32At(dec, n*f.offset+p*4)
	}
	for p := 0; p < n; p++ {
		pt := Point{
			X: at(l.x, p),
			Y: at(l.y, p),
			Z: at(l.z, p),
		}
		if l.intensity.ok {
			pt.Intensity = at(l.intensity, p)
		}
		pcd.AddPoint(pt)
	}
	return nil
}

func atois(field string, vs []string) ([]int, error) {
	vals := make([]int, 0, len(vs))
	for _, v := range vs {
		vi, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid int field %s", ErrInvalidPcdFormat, field)
		}
		vals = append(vals, vi)
	}
	return vals, nil
}

// parseFloat32 also accepts the signed NaN spellings written by AppendFloat.
func parseFloat32(tok string) (float32, error) {
	switch strings.ToLower(tok) {
	case "-nan", "+nan":
		return float32(math.NaN()), nil
	}
	v, err := strconv.ParseFloat(tok, 32)
	return float32(v), err
}
