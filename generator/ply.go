package generator

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type plyProperty struct {
	name      string
	typ       string
	list      bool
	countType string
}

type plyElement struct {
	name  string
	count int
	props []plyProperty
}

var plySizes = map[string]int{
	"char": 1, "uchar": 1, "int8": 1, "uint8": 1,
	"short": 2, "ushort": 2, "int16": 2, "uint16": 2,
	"int": 4, "uint": 4, "int32": 4, "uint32": 4, "float": 4, "float32": 4,
	"double": 8, "float64": 8,
}

// parsePLY reads the vertex and face elements of an ascii or binary PLY
// file. Other elements are skipped; faces are fan-triangulated.
func parsePLY(data []byte) (*mesh, error) {
	format, elements, body, err := readPLYHeader(data)
	if err != nil {
		return nil, err
	}

	var r plyReader
	switch format {
	case "ascii":
		r = &plyText{fields: strings.Fields(string(body))}
	case "binary_little_endian":
		r = &plyBinary{data: body, order: binary.LittleEndian}
	case "binary_big_endian":
		r = &plyBinary{data: body, order: binary.BigEndian}
	default:
		return nil, fmt.Errorf("%w: ply format %q", ErrInvalidMesh, format)
	}

	var verts []vec3
	m := &mesh{}
	for _, el := range elements {
		if el.count > len(body) {
			return nil, fmt.Errorf("%w: ply %s count %d exceeds file", ErrInvalidMesh, el.name, el.count)
		}
		xyz := [3]int{-1, -1, -1}
		faces := -1
		for i, p := range el.props {
			switch {
			case el.name == "vertex" && p.name == "x":
				xyz[0] = i
			case el.name == "vertex" && p.name == "y":
				xyz[1] = i
			case el.name == "vertex" && p.name == "z":
				xyz[2] = i
			case el.name == "face" && p.list && (p.name == "vertex_indices" || p.name == "vertex_index"):
				faces = i
			}
		}
		if el.name == "vertex" && (xyz[0] < 0 || xyz[1] < 0 || xyz[2] < 0) {
			return nil, fmt.Errorf("%w: ply vertex without x, y and z", ErrInvalidMesh)
		}

		for row := 0; row < el.count; row++ {
			var v vec3
			for i, p := range el.props {
				if p.list {
					n, err := r.next(p.countType)
					if err != nil {
						return nil, err
					}
					if n < 0 || int(n) > len(body) {
						return nil, fmt.Errorf("%w: ply list length %v", ErrInvalidMesh, n)
					}
					idx := make([]int, int(n))
					for j := range idx {
						f, err := r.next(p.typ)
						if err != nil {
							return nil, err
						}
						idx[j] = int(f)
					}
					if i != faces {
						continue
					}
					for _, k := range idx {
						if k < 0 || k >= len(verts) {
							return nil, fmt.Errorf("%w: ply face index %d out of range", ErrInvalidMesh, k)
						}
					}
					for j := 1; j+1 < len(idx); j++ {
						m.tris = append(m.tris, triangle{verts[idx[0]], verts[idx[j]], verts[idx[j+1]]})
					}
					continue
				}
				f, err := r.next(p.typ)
				if err != nil {
					return nil, err
				}
				for c, pi := range xyz {
					if i == pi && el.name == "vertex" {
						v[c] = f
					}
				}
			}
			if el.name == "vertex" {
				verts = append(verts, v)
			}
		}
	}
	return m, nil
}

// readPLYHeader returns the format, the declared elements and the bytes
// after end_header.
func readPLYHeader(data []byte) (string, []plyElement, []byte, error) {
	const end = "end_header"
	i := bytes.Index(data, []byte(end))
	if !bytes.HasPrefix(data, []byte("ply")) || i < 0 {
		return "", nil, nil, fmt.Errorf("%w: not a ply file", ErrInvalidMesh)
	}
	body := data[i+len(end):]
	if j := bytes.IndexByte(body, '\n'); j >= 0 {
		body = body[j+1:]
	} else {
		body = nil
	}

	var (
		format   string
		elements []plyElement
	)
	for _, line := range strings.Split(string(data[:i]), "\n") {
		f := strings.Fields(line)
		if len(f) == 0 {
			continue
		}
		switch f[0] {
		case "format":
			if len(f) < 2 {
				return "", nil, nil, fmt.Errorf("%w: ply format line %q", ErrInvalidMesh, line)
			}
			format = f[1]
		case "element":
			if len(f) != 3 {
				return "", nil, nil, fmt.Errorf("%w: ply element line %q", ErrInvalidMesh, line)
			}
			n, err := strconv.Atoi(f[2])
			if err != nil || n < 0 {
				return "", nil, nil, fmt.Errorf("%w: ply element count %q", ErrInvalidMesh, f[2])
			}
			elements = append(elements, plyElement{name: f[1], count: n})
		case "property":
			if len(elements) == 0 {
				return "", nil, nil, fmt.Errorf("%w: ply property before element", ErrInvalidMesh)
			}
			var p plyProperty
			switch {
			case len(f) == 5 && f[1] == "list":
				p = plyProperty{name: f[4], typ: f[3], list: true, countType: f[2]}
			case len(f) == 3:
				p = plyProperty{name: f[2], typ: f[1]}
			default:
				return "", nil, nil, fmt.Errorf("%w: ply property line %q", ErrInvalidMesh, line)
			}
			if _, ok := plySizes[p.typ]; !ok {
				return "", nil, nil, fmt.Errorf("%w: ply type %q", ErrInvalidMesh, p.typ)
			}
			if _, ok := plySizes[p.countType]; p.list && !ok {
				return "", nil, nil, fmt.Errorf("%w: ply type %q", ErrInvalidMesh, p.countType)
			}
			el := &elements[len(elements)-1]
			el.props = append(el.props, p)
		}
	}
	if format == "" {
		return "", nil, nil, fmt.Errorf("%w: ply without format", ErrInvalidMesh)
	}
	return format, elements, body, nil
}

type plyReader interface {
	next(typ string) (float64, error)
}

type plyText struct {
	fields []string
	pos    int
}

func (r *plyText) next(string) (float64, error) {
	if r.pos >= len(r.fields) {
		return 0, fmt.Errorf("%w: ply body ends early", ErrInvalidMesh)
	}
	f, err := strconv.ParseFloat(r.fields[r.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: ply value: %v", ErrInvalidMesh, err)
	}
	r.pos++
	return f, nil
}

type plyBinary struct {
	data  []byte
	pos   int
	order binary.ByteOrder
}

func (r *plyBinary) next(typ string) (float64, error) {
	size := plySizes[typ]
	if r.pos+size > len(r.data) {
		return 0, fmt.Errorf("%w: ply body ends early", ErrInvalidMesh)
	}
	b := r.data[r.pos : r.pos+size]
	r.pos += size
	switch typ {
	case "char", "int8":
		return float64(int8(b[0])), nil
	case "uchar", "uint8":
		return float64(b[0]), nil
	case "short", "int16":
		return float64(int16(r.order.Uint16(b))), nil
	case "ushort", "uint16":
		return float64(r.order.Uint16(b)), nil
	case "int", "int32":
		return float64(int32(r.order.Uint32(b))), nil
	case "uint", "uint32":
		return float64(r.order.Uint32(b)), nil
	case "float", "float32":
		return float64(math.Float32frombits(r.order.Uint32(b))), nil
	default:
		return math.Float64frombits(r.order.Uint64(b)), nil
	}
}
