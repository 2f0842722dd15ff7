package ply

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ErrInvalid is returned for data that is not a well-formed PLY file.
var ErrInvalid = errors.New("ply: invalid file")

// Format is the body encoding of a PLY file.
type Format string

const (
	FormatASCII        Format = "ascii"
	FormatLittleEndian Format = "binary_little_endian"
	FormatBigEndian    Format = "binary_big_endian"
)

// Property is a scalar vertex property.
type Property struct {
	Name string
	Type string // Canonical type name: int8, uint8, ..., float32, float64
}

func (p Property) size() int {
	switch p.Type {
	case "int8", "uint8":
		return 1
	case "int16", "uint16":
		return 2
	case "int32", "uint32", "float32":
		return 4
	case "float64":
		return 8
	}
	return 0
}

var typeAliases = map[string]string{
	"char": "int8", "int8": "int8",
	"uchar": "uint8", "uint8": "uint8",
	"short": "int16", "int16": "int16",
	"ushort": "uint16", "uint16": "uint16",
	"int": "int32", "int32": "int32",
	"uint": "uint32", "uint32": "uint32",
	"float": "float32", "float32": "float32",
	"double": "float64", "float64": "float64",
}

// Header is the parsed PLY header.
type Header struct {
	Format     Format
	Vertices   int
	Properties []Property
	Comments   []string
}

func (h *Header) index(name string) int {
	for i, p := range h.Properties {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// Point is one vertex. Colour is zero when the file carries none.
type Point struct {
	X, Y, Z float32
	R, G, B uint8
}

// Cloud is a decoded point cloud.
type Cloud struct {
	Header   Header
	Points   []Point
	HasColor bool
}

// Len returns the number of points.
func (c *Cloud) Len() int {
	return len(c.Points)
}

// Bounds returns the axis-aligned bounding box of the points. Both corners
// are zero for an empty cloud.
func (c *Cloud) Bounds() (lo, hi [3]float32) {
	if len(c.Points) == 0 {
		return lo, hi
	}
	lo = [3]float32{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32}
	hi = [3]float32{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32}
	for _, p := range c.Points {
		for i, v := range [3]float32{p.X, p.Y, p.Z} {
			lo[i] = min(lo[i], v)
			hi[i] = max(hi[i], v)
		}
	}
	return lo, hi
}

// Decode parses a complete PLY file.
func Decode(data []byte) (*Cloud, error) {
	return NewReader(bytes.NewReader(data)).Read()
}

// Reader decodes a PLY stream.
type Reader struct {
	r *bufio.Reader
}

// NewReader returns a Reader reading from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadHeader parses the header up to and including end_header.
func (r *Reader) ReadHeader() (*Header, error) {
	magic, err := r.line()
	if err != nil || magic != "ply" {
		return nil, fmt.Errorf("%w: missing magic", ErrInvalid)
	}

	h := &Header{Vertices: -1}
	element := ""
	for {
		line, err := r.line()
		if err != nil {
			return nil, fmt.Errorf("%w: unterminated header: %w", ErrInvalid, err)
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "end_header":
			if h.Format == "" {
				return nil, fmt.Errorf("%w: missing format", ErrInvalid)
			}
			if h.Vertices < 0 {
				return nil, fmt.Errorf("%w: missing vertex element", ErrInvalid)
			}
			for _, name := range []string{"x", "y", "z"} {
				if h.index(name) < 0 {
					return nil, fmt.Errorf("%w: missing vertex property %s", ErrInvalid, name)
				}
			}
			return h, nil
		case "format":
			if len(fields) < 2 {
				return nil, fmt.Errorf("%w: %q", ErrInvalid, line)
			}
			switch f := Format(fields[1]); f {
			case FormatASCII, FormatLittleEndian, FormatBigEndian:
				h.Format = f
			default:
				return nil, fmt.Errorf("%w: unknown format %q", ErrInvalid, fields[1])
			}
		case "comment", "obj_info":
			h.Comments = append(h.Comments, strings.TrimSpace(strings.TrimPrefix(line, fields[0])))
		case "element":
			if len(fields) != 3 {
				return nil, fmt.Errorf("%w: %q", ErrInvalid, line)
			}
			if h.Vertices < 0 && fields[1] != "vertex" {
				return nil, fmt.Errorf("%w: element %s precedes vertex", ErrInvalid, fields[1])
			}
			element = fields[1]
			if element == "vertex" {
				n, err := strconv.Atoi(fields[2])
				if err != nil || n < 0 {
					return nil, fmt.Errorf("%w: vertex count %q", ErrInvalid, fields[2])
				}
				h.Vertices = n
			}
		case "property":
			if element != "vertex" {
				continue
			}
			if len(fields) != 3 {
				return nil, fmt.Errorf("%w: unsupported vertex property %q", ErrInvalid, line)
			}
			typ, ok := typeAliases[fields[1]]
			if !ok {
				return nil, fmt.Errorf("%w: unknown property type %q", ErrInvalid, fields[1])
			}
			h.Properties = append(h.Properties, Property{Name: fields[2], Type: typ})
		default:
			return nil, fmt.Errorf("%w: unexpected header line %q", ErrInvalid, line)
		}
	}
}

// Read parses the header and every vertex. Elements after the vertex
// element are ignored.
func (r *Reader) Read() (*Cloud, error) {
	h, err := r.ReadHeader()
	if err != nil {
		return nil, err
	}

	c := &Cloud{Header: *h, Points: make([]Point, h.Vertices)}
	cols := columns{
		x: h.index("x"), y: h.index("y"), z: h.index("z"),
		r: h.index("red"), g: h.index("green"), b: h.index("blue"),
	}
	c.HasColor = cols.r >= 0 && cols.g >= 0 && cols.b >= 0

	values := make([]float64, len(h.Properties))
	for i := range c.Points {
		if h.Format == FormatASCII {
			err = r.asciiVertex(h, values)
		} else {
			err = r.binaryVertex(h, values)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: vertex %d: %w", ErrInvalid, i, err)
		}
		c.Points[i] = cols.point(values, c.HasColor)
	}
	return c, nil
}

type columns struct {
	x, y, z, r, g, b int
}

func (c columns) point(v []float64, color bool) Point {
	p := Point{X: float32(v[c.x]), Y: float32(v[c.y]), Z: float32(v[c.z])}
	if color {
		p.R, p.G, p.B = uint8(v[c.r]), uint8(v[c.g]), uint8(v[c.b])
	}
	return p
}

func (r *Reader) asciiVertex(h *Header, out []float64) error {
	line, err := r.line()
	if err != nil {
		return err
	}
	fields := strings.Fields(line)
	if len(fields) < len(h.Properties) {
		return fmt.Errorf("expected %d values, got %d", len(h.Properties), len(fields))
	}
	for i := range h.Properties {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return err
		}
		out[i] = v
	}
	return nil
}

func (r *Reader) binaryVertex(h *Header, out []float64) error {
	var order binary.ByteOrder = binary.LittleEndian
	if h.Format == FormatBigEndian {
		order = binary.BigEndian
	}
	var buf [8]byte
	for i, p := range h.Properties {
		b := buf[:p.size()]
		if _, err := io.ReadFull(r.r, b); err != nil {
			return err
		}
		switch p.Type {
		case "int8":
			out[i] = float64(int8(b[0]))
		case "uint8":
			out[i] = float64(b[0])
		case "int16":
			out[i] = float64(int16(order.Uint16(b)))
		case "uint16":
			out[i] = float64(order.Uint16(b))
		case "int32":
			out[i] = float64(int32(order.Uint32(b)))
		case "uint32":
			out[i] = float64(order.Uint32(b))
		case "float32":
			out[i] = float64(math.Float32frombits(order.Uint32(b)))
		case "float64":
			out[i] = math.Float64frombits(order.Uint64(b))
		}
	}
	return nil
}

func (r *Reader) line() (string, error) {
	s, err := r.r.ReadString('\n')
	if err != nil && (err != io.EOF || s == "") {
		return "", err
	}
	return strings.TrimRight(s, "\r\n"), nil
}

// Encode writes points as a binary little-endian PLY file with float
// coordinates and uchar colour, the layout produced by the chunker.
func Encode(w io.Writer, points []Point) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ply\nformat %s 1.0\nelement vertex %d\n", FormatLittleEndian, len(points))
	for _, p := range []string{"float x", "float y", "float z", "uchar red", "uchar green", "uchar blue"} {
		fmt.Fprintf(bw, "property %s\n", p)
	}
	bw.WriteString("end_header\n")

	var rec [15]byte
	for _, p := range points {
		binary.LittleEndian.PutUint32(rec[0:], math.Float32bits(p.X))
		binary.LittleEndian.PutUint32(rec[4:], math.Float32bits(p.Y))
		binary.LittleEndian.PutUint32(rec[8:], math.Float32bits(p.Z))
		rec[12], rec[13], rec[14] = p.R, p.G, p.B
		if _, err := bw.Write(rec[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}
