package generator

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrInvalidMesh is returned when a mesh file cannot be parsed.
var ErrInvalidMesh = errors.New("generator: invalid mesh")

type vec3 [3]float64

func (a vec3) sub(b vec3) vec3 { return vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }

func (a vec3) cross(b vec3) vec3 {
	return vec3{a[1]*b[2] - a[2]*b[1], a[2]*b[0] - a[0]*b[2], a[0]*b[1] - a[1]*b[0]}
}

func (a vec3) dot(b vec3) float64 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

func (a vec3) normalize() vec3 {
	l := math.Sqrt(a.dot(a))
	if l == 0 {
		return a
	}
	return vec3{a[0] / l, a[1] / l, a[2] / l}
}

type triangle [3]vec3

// mesh is a flat triangle soup; the renderer needs nothing more.
type mesh struct {
	tris []triangle
}

func (m *mesh) bounds() (lo, hi vec3) {
	lo = vec3{math.Inf(1), math.Inf(1), math.Inf(1)}
	hi = vec3{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	for _, t := range m.tris {
		for _, v := range t {
			for i := 0; i < 3; i++ {
				lo[i] = math.Min(lo[i], v[i])
				hi[i] = math.Max(hi[i], v[i])
			}
		}
	}
	return lo, hi
}

// parseMesh dispatches on the mesh format extension. dir resolves external
// glTF buffers and may be empty.
func parseMesh(data []byte, format, dir string) (*mesh, error) {
	var (
		m   *mesh
		err error
	)
	switch format {
	case "glb":
		m, err = parseGLB(data)
	case "gltf":
		m, err = parseGLTF(data, nil, dir)
	case "obj":
		m, err = parseOBJ(data)
	case "ply":
		m, err = parsePLY(data)
	case "stl":
		m, err = parseSTL(data)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidMesh, format)
	}
	if err != nil {
		return nil, err
	}
	if len(m.tris) == 0 {
		return nil, fmt.Errorf("%w: no triangles", ErrInvalidMesh)
	}
	return m, nil
}

// parseOBJ reads vertex and face records of a Wavefront OBJ file. Polygons
// are fan-triangulated; negative indices count back from the last vertex.
func parseOBJ(data []byte) (*mesh, error) {
	var verts []vec3
	m := &mesh{}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "v":
			if len(fields) < 4 {
				return nil, fmt.Errorf("%w: obj line %d: short vertex", ErrInvalidMesh, line)
			}
			var v vec3
			for i := 0; i < 3; i++ {
				f, err := strconv.ParseFloat(fields[i+1], 64)
				if err != nil {
					return nil, fmt.Errorf("%w: obj line %d: %v", ErrInvalidMesh, line, err)
				}
				v[i] = f
			}
			verts = append(verts, v)
		case "f":
			idx := make([]int, 0, len(fields)-1)
			for _, tok := range fields[1:] {
				ref, _, _ := strings.Cut(tok, "/")
				n, err := strconv.Atoi(ref)
				if err != nil {
					return nil, fmt.Errorf("%w: obj line %d: %v", ErrInvalidMesh, line, err)
				}
				if n < 0 {
					n = len(verts) + n
				} else {
					n--
				}
				if n < 0 || n >= len(verts) {
					return nil, fmt.Errorf("%w: obj line %d: index out of range", ErrInvalidMesh, line)
				}
				idx = append(idx, n)
			}
			for i := 1; i+1 < len(idx); i++ {
				m.tris = append(m.tris, triangle{verts[idx[0]], verts[idx[i]], verts[idx[i+1]]})
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMesh, err)
	}
	return m, nil
}

// parseSTL reads binary or ASCII STL. A file is binary when its length
// matches the triangle count in its header, whatever its first bytes say.
func parseSTL(data []byte) (*mesh, error) {
	if len(data) >= 84 {
		n := int(binary.LittleEndian.Uint32(data[80:84]))
		if 84+n*50 == len(data) {
			return parseBinarySTL(data[84:], n), nil
		}
	}
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("solid")) {
		return parseASCIISTL(data)
	}
	return nil, fmt.Errorf("%w: not an stl file", ErrInvalidMesh)
}

func parseBinarySTL(body []byte, n int) *mesh {
	m := &mesh{tris: make([]triangle, 0, n)}
	for i := 0; i < n; i++ {
		rec := body[i*50 : i*50+50]
		var t triangle
		for v := 0; v < 3; v++ {
			for c := 0; c < 3; c++ {
				off := 12 + v*12 + c*4
				t[v][c] = float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[off : off+4])))
			}
		}
		m.tris = append(m.tris, t)
	}
	return m
}

func parseASCIISTL(data []byte) (*mesh, error) {
	m := &mesh{}
	var cur []vec3
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 4 || fields[0] != "vertex" {
			continue
		}
		var v vec3
		for i := 0; i < 3; i++ {
			f, err := strconv.ParseFloat(fields[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: stl vertex: %v", ErrInvalidMesh, err)
			}
			v[i] = f
		}
		cur = append(cur, v)
		if len(cur) == 3 {
			m.tris = append(m.tris, triangle{cur[0], cur[1], cur[2]})
			cur = cur[:0]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMesh, err)
	}
	return m, nil
}

const (
	glbMagic     = 0x46546C67 // "glTF"
	glbChunkJSON = 0x4E4F534A
	glbChunkBIN  = 0x004E4942
)

// parseGLB splits a binary glTF container into its JSON and BIN chunks.
func parseGLB(data []byte) (*mesh, error) {
	if len(data) < 20 || binary.LittleEndian.Uint32(data[0:4]) != glbMagic {
		return nil, fmt.Errorf("%w: bad glb header", ErrInvalidMesh)
	}
	total := int(binary.LittleEndian.Uint32(data[8:12]))
	if total > len(data) || total < 20 {
		return nil, fmt.Errorf("%w: glb length %d exceeds %d bytes", ErrInvalidMesh, total, len(data))
	}

	var doc, bin []byte
	for off := 12; off+8 <= total; {
		size := int(binary.LittleEndian.Uint32(data[off : off+4]))
		kind := binary.LittleEndian.Uint32(data[off+4 : off+8])
		start, end := off+8, off+8+size
		if size < 0 || end > total {
			return nil, fmt.Errorf("%w: glb chunk overruns file", ErrInvalidMesh)
		}
		switch kind {
		case glbChunkJSON:
			doc = data[start:end]
		case glbChunkBIN:
			bin = data[start:end]
		}
		off = end
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: glb has no json chunk", ErrInvalidMesh)
	}
	return parseGLTF(doc, bin, "")
}

type gltfDoc struct {
	Buffers []struct {
		URI        string `json:"uri"`
		ByteLength int    `json:"byteLength"`
	} `json:"buffers"`
	BufferViews []struct {
		Buffer     int `json:"buffer"`
		ByteOffset int `json:"byteOffset"`
		ByteLength int `json:"byteLength"`
		ByteStride int `json:"byteStride"`
	} `json:"bufferViews"`
	Accessors []struct {
		BufferView    *int   `json:"bufferView"`
		ByteOffset    int    `json:"byteOffset"`
		ComponentType int    `json:"componentType"`
		Count         int    `json:"count"`
		Type          string `json:"type"`
	} `json:"accessors"`
	Meshes []struct {
		Primitives []struct {
			Attributes map[string]int `json:"attributes"`
			Indices    *int           `json:"indices"`
			Mode       *int           `json:"mode"`
		} `json:"primitives"`
	} `json:"meshes"`
}

const (
	gltfUnsignedByte  = 5121
	gltfUnsignedShort = 5123
	gltfUnsignedInt   = 5125
	gltfFloat         = 5126
	gltfTriangles     = 4
)

// parseGLTF walks every triangle primitive of every mesh. Node transforms
// are ignored: the renderer frames the union bounding box anyway.
func parseGLTF(doc, bin []byte, dir string) (*mesh, error) {
	var g gltfDoc
	if err := json.Unmarshal(doc, &g); err != nil {
		return nil, fmt.Errorf("%w: gltf json: %v", ErrInvalidMesh, err)
	}

	buffers := make([][]byte, len(g.Buffers))
	for i, b := range g.Buffers {
		data, err := loadGLTFBuffer(b.URI, bin, dir)
		if err != nil {
			return nil, err
		}
		buffers[i] = data
	}

	view := func(accessor int) ([]byte, int, error) {
		if accessor < 0 || accessor >= len(g.Accessors) {
			return nil, 0, fmt.Errorf("%w: accessor %d out of range", ErrInvalidMesh, accessor)
		}
		a := g.Accessors[accessor]
		if a.BufferView == nil || *a.BufferView >= len(g.BufferViews) {
			return nil, 0, fmt.Errorf("%w: accessor %d has no buffer view", ErrInvalidMesh, accessor)
		}
		bv := g.BufferViews[*a.BufferView]
		if bv.Buffer >= len(buffers) {
			return nil, 0, fmt.Errorf("%w: buffer %d out of range", ErrInvalidMesh, bv.Buffer)
		}
		buf := buffers[bv.Buffer]
		start := bv.ByteOffset + a.ByteOffset
		end := bv.ByteOffset + bv.ByteLength
		if start < 0 || end > len(buf) || start > end {
			return nil, 0, fmt.Errorf("%w: buffer view overruns buffer", ErrInvalidMesh)
		}
		return buf[start:end], bv.ByteStride, nil
	}

	m := &mesh{}
	for _, gm := range g.Meshes {
		for _, p := range gm.Primitives {
			if p.Mode != nil && *p.Mode != gltfTriangles {
				continue
			}
			posIdx, ok := p.Attributes["POSITION"]
			if !ok {
				continue
			}
			pos, err := readPositions(g, posIdx, view)
			if err != nil {
				return nil, err
			}

			var indices []int
			if p.Indices != nil {
				indices, err = readIndices(g, *p.Indices, view)
				if err != nil {
					return nil, err
				}
			} else {
				indices = make([]int, len(pos))
				for i := range indices {
					indices[i] = i
				}
			}

			for i := 0; i+2 < len(indices); i += 3 {
				a, b, c := indices[i], indices[i+1], indices[i+2]
				if a >= len(pos) || b >= len(pos) || c >= len(pos) {
					return nil, fmt.Errorf("%w: index out of range", ErrInvalidMesh)
				}
				m.tris = append(m.tris, triangle{pos[a], pos[b], pos[c]})
			}
		}
	}
	return m, nil
}

type viewFunc func(accessor int) ([]byte, int, error)

func readPositions(g gltfDoc, accessor int, view viewFunc) ([]vec3, error) {
	if accessor < 0 || accessor >= len(g.Accessors) {
		return nil, fmt.Errorf("%w: accessor %d out of range", ErrInvalidMesh, accessor)
	}
	a := g.Accessors[accessor]
	if a.ComponentType != gltfFloat || a.Type != "VEC3" {
		return nil, fmt.Errorf("%w: POSITION must be float VEC3", ErrInvalidMesh)
	}
	data, stride, err := view(accessor)
	if err != nil {
		return nil, err
	}
	if stride == 0 {
		stride = 12
	}
	if a.Count > 0 && (a.Count-1)*stride+12 > len(data) {
		return nil, fmt.Errorf("%w: POSITION accessor overruns view", ErrInvalidMesh)
	}
	out := make([]vec3, a.Count)
	for i := range out {
		rec := data[i*stride:]
		for c := 0; c < 3; c++ {
			out[i][c] = float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[c*4:])))
		}
	}
	return out, nil
}

func readIndices(g gltfDoc, accessor int, view viewFunc) ([]int, error) {
	if accessor < 0 || accessor >= len(g.Accessors) {
		return nil, fmt.Errorf("%w: accessor %d out of range", ErrInvalidMesh, accessor)
	}
	a := g.Accessors[accessor]
	data, stride, err := view(accessor)
	if err != nil {
		return nil, err
	}

	var size int
	switch a.ComponentType {
	case gltfUnsignedByte:
		size = 1
	case gltfUnsignedShort:
		size = 2
	case gltfUnsignedInt:
		size = 4
	default:
		return nil, fmt.Errorf("%w: index component type %d", ErrInvalidMesh, a.ComponentType)
	}
	if stride == 0 {
		stride = size
	}
	if a.Count > 0 && (a.Count-1)*stride+size > len(data) {
		return nil, fmt.Errorf("%w: index accessor overruns view", ErrInvalidMesh)
	}

	out := make([]int, a.Count)
	for i := range out {
		rec := data[i*stride:]
		switch size {
		case 1:
			out[i] = int(rec[0])
		case 2:
			out[i] = int(binary.LittleEndian.Uint16(rec))
		case 4:
			out[i] = int(binary.LittleEndian.Uint32(rec))
		}
	}
	return out, nil
}

// loadGLTFBuffer resolves a buffer: the GLB BIN chunk when uri is empty, a
// base64 data URI, or a file relative to dir.
func loadGLTFBuffer(uri string, bin []byte, dir string) ([]byte, error) {
	switch {
	case uri == "":
		if bin == nil {
			return nil, fmt.Errorf("%w: buffer without uri or bin chunk", ErrInvalidMesh)
		}
		return bin, nil
	case strings.HasPrefix(uri, "data:"):
		_, payload, ok := strings.Cut(uri, ";base64,")
		if !ok {
			return nil, fmt.Errorf("%w: unsupported data uri", ErrInvalidMesh)
		}
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: data uri: %v", ErrInvalidMesh, err)
		}
		return data, nil
	default:
		if dir == "" {
			return nil, fmt.Errorf("%w: external buffer %q needs a source path", ErrInvalidMesh, uri)
		}
		name := filepath.Clean(filepath.FromSlash(uri))
		if filepath.IsAbs(name) || strings.HasPrefix(name, "..") {
			return nil, fmt.Errorf("%w: buffer %q escapes the model directory", ErrInvalidMesh, uri)
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMesh, err)
		}
		return data, nil
	}
}
