package generator

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"spacethumbs/core"
	"spacethumbs/procrunner"
)

func pngBytes(t *testing.T, w, h int, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func zipBytes(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// triangleGLB builds a one-triangle binary glTF.
func triangleGLB(t *testing.T) []byte {
	t.Helper()
	var bin bytes.Buffer
	for _, f := range []float32{0, 0, 0, 1, 0, 0, 0, 1, 0.5} {
		_ = binary.Write(&bin, binary.LittleEndian, math.Float32bits(f))
	}
	doc, err := json.Marshal(map[string]any{
		"asset":       map[string]any{"version": "2.0"},
		"buffers":     []any{map[string]any{"byteLength": bin.Len()}},
		"bufferViews": []any{map[string]any{"buffer": 0, "byteLength": bin.Len()}},
		"accessors":   []any{map[string]any{"bufferView": 0, "componentType": gltfFloat, "count": 3, "type": "VEC3"}},
		"meshes":      []any{map[string]any{"primitives": []any{map[string]any{"attributes": map[string]int{"POSITION": 0}}}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	for len(doc)%4 != 0 {
		doc = append(doc, ' ')
	}

	var out bytes.Buffer
	total := 12 + 8 + len(doc) + 8 + bin.Len()
	_ = binary.Write(&out, binary.LittleEndian, []uint32{glbMagic, 2, uint32(total)})
	_ = binary.Write(&out, binary.LittleEndian, []uint32{uint32(len(doc)), glbChunkJSON})
	out.Write(doc)
	_ = binary.Write(&out, binary.LittleEndian, []uint32{uint32(bin.Len()), glbChunkBIN})
	out.Write(bin.Bytes())
	return out.Bytes()
}

func TestParseGLB(t *testing.T) {
	m, err := parseGLB(triangleGLB(t))
	if err != nil {
		t.Fatalf("parseGLB: %v", err)
	}
	if len(m.tris) != 1 {
		t.Fatalf("triangles = %d, want 1", len(m.tris))
	}
	if m.tris[0][1] != (vec3{1, 0, 0}) {
		t.Errorf("second vertex = %v", m.tris[0][1])
	}

	if _, err := parseGLB([]byte("glTF\x02\x00\x00\x00\xff\xff\xff\x00")); !errors.Is(err, ErrInvalidMesh) {
		t.Errorf("truncated glb error = %v", err)
	}
}

func TestParseOBJ(t *testing.T) {
	obj := "# quad\nv 0 0 0\nv 1 0 0\nv 1 1 0\nv 0 1 0\nf 1/1/1 2/2/2 3/3/3 4/4/4\nf -1 -2 -3\n"
	m, err := parseOBJ([]byte(obj))
	if err != nil {
		t.Fatalf("parseOBJ: %v", err)
	}
	if len(m.tris) != 3 {
		t.Errorf("triangles = %d, want 3", len(m.tris))
	}

	for _, bad := range []string{"v 0 0\n", "v 0 0 0\nf 1 2 3\n", "v a b c\n"} {
		if _, err := parseOBJ([]byte(bad)); !errors.Is(err, ErrInvalidMesh) {
			t.Errorf("parseOBJ(%q) error = %v", bad, err)
		}
	}
}

func TestParseSTL(t *testing.T) {
	ascii := `solid tri
facet normal 0 0 1
 outer loop
  vertex 0 0 0
  vertex 1 0 0
  vertex 0 1 0
 endloop
endfacet
endsolid tri`
	m, err := parseSTL([]byte(ascii))
	if err != nil || len(m.tris) != 1 {
		t.Fatalf("ascii stl = %v, %v", m, err)
	}

	// Binary files may start with "solid" too; the length decides.
	bin := make([]byte, 84+2*50)
	copy(bin, "solid but binary")
	binary.LittleEndian.PutUint32(bin[80:], 2)
	m, err = parseSTL(bin)
	if err != nil || len(m.tris) != 2 {
		t.Fatalf("binary stl = %v, %v", m, err)
	}

	if _, err := parseSTL([]byte("nothing")); !errors.Is(err, ErrInvalidMesh) {
		t.Errorf("parseSTL(garbage) error = %v", err)
	}
}

func TestParsePLY(t *testing.T) {
	ascii := `ply
format ascii 1.0
comment quad with colors
element vertex 4
property float x
property float y
property float z
property uchar red
element face 1
property list uchar int vertex_indices
end_header
0 0 0 255
1 0 0 255
1 1 0 255
0 1 0 255
4 0 1 2 3
`
	var bin bytes.Buffer
	bin.WriteString("ply\nformat binary_little_endian 1.0\nelement vertex 3\n" +
		"property float x\nproperty float y\nproperty float z\n" +
		"element face 1\nproperty list uchar uint vertex_indices\nend_header\n")
	for _, v := range []float32{0, 0, 0, 1, 0, 0, 0, 1, 0} {
		_ = binary.Write(&bin, binary.LittleEndian, v)
	}
	bin.WriteByte(3)
	_ = binary.Write(&bin, binary.LittleEndian, []uint32{0, 1, 2})

	tests := []struct {
		name string
		data []byte
		tris int
	}{
		{"ascii quad", []byte(ascii), 2},
		{"binary triangle", bin.Bytes(), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := parsePLY(tt.data)
			if err != nil {
				t.Fatalf("parsePLY: %v", err)
			}
			if len(m.tris) != tt.tris {
				t.Errorf("triangles = %d, want %d", len(m.tris), tt.tris)
			}
			if _, hi := m.bounds(); hi[0] != 1 || hi[1] != 1 {
				t.Errorf("bounds max = %v", hi)
			}
		})
	}

	for _, bad := range []string{
		"plywood catalogue\n",
		"ply\nformat ascii 1.0\nelement vertex 1\nproperty float x\nend_header\n0\n",
		"ply\nformat ascii 1.0\nelement vertex 1\nproperty float x\nproperty float y\nproperty float z\n" +
			"element face 1\nproperty list uchar int vertex_indices\nend_header\n0 0 0\n3 0 1 2\n",
		"ply\nformat ascii 1.0\nelement vertex 99999999\nproperty float x\nproperty float y\nproperty float z\nend_header\n",
		"ply\nformat binary_little_endian 1.0\nelement vertex 1\nproperty float x\nproperty float y\nproperty float z\nend_header\n\x00",
	} {
		if _, err := parsePLY([]byte(bad)); !errors.Is(err, ErrInvalidMesh) {
			t.Errorf("parsePLY(%q) error = %v", bad, err)
		}
	}
}

func TestModel3DGenerate(t *testing.T) {
	m := NewModel3D(nil, nil, nil)
	buf, err := m.Generate(context.Background(), Request{Data: triangleGLB(t), Ext: "step", Width: 64, Height: 48})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := CheckBuffer(buf, 64, 48); err != nil {
		t.Fatal(err)
	}
	var opaque int
	for i := 3; i < len(buf); i += 4 {
		if buf[i] != 0 {
			opaque++
		}
	}
	if opaque == 0 {
		t.Error("rendered mesh is fully transparent")
	}
}

type fakeConverter struct {
	cmd procrunner.Command
	in  procrunner.Input
	out []byte
	err error
}

func (f *fakeConverter) Convert(_ context.Context, cmd procrunner.Command, in procrunner.Input) ([]byte, error) {
	f.cmd, f.in = cmd, in
	return f.out, f.err
}

func TestModel3DConverterRoute(t *testing.T) {
	conv := &fakeConverter{out: []byte("v 0 0 0\nv 1 0 0\nv 0 1 1\nf 1 2 3\n")}
	m := NewModel3D(core.DefaultConverters().Mesh, conv, nil)
	step := []byte("ISO-10303-21;\nHEADER;\nENDSEC;")

	buf, err := m.Generate(context.Background(), Request{Data: step, Ext: "stp", Width: 32, Height: 32})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(buf) != 32*32*4 {
		t.Errorf("len(buf) = %d", len(buf))
	}
	if conv.cmd.Path != "step2obj" || conv.cmd.OutputExt != "obj" {
		t.Errorf("command = %+v", conv.cmd)
	}
	if !bytes.Equal(conv.in.Data, step) || conv.in.Ext != "stp" {
		t.Errorf("input = %+v", conv.in)
	}

	noRunner := NewModel3D(core.DefaultConverters().Mesh, nil, nil)
	if _, err := noRunner.Generate(context.Background(), Request{Data: step, Ext: "step", Width: 8, Height: 8}); !errors.Is(err, ErrNoConverter) {
		t.Errorf("no runner error = %v", err)
	}

	conv.err = procrunner.ErrResourceLimitUnavailable
	if _, err := m.Generate(context.Background(), Request{Data: step, Ext: "step", Width: 8, Height: 8}); !errors.Is(err, procrunner.ErrResourceLimitUnavailable) {
		t.Errorf("runner failure = %v", err)
	}
}

func TestRenderText(t *testing.T) {
	buf := RenderText("fn main() {\n\tprintln!(\"hi\");\n}\n", 200, 100)
	if err := CheckBuffer(buf, 200, 100); err != nil {
		t.Fatal(err)
	}
	// Corners sit outside the page and stay transparent.
	if buf[3] != 0 {
		t.Error("corner pixel is not transparent")
	}
	centre := (50*200 + 100) * 4
	if buf[centre+3] != 255 {
		t.Error("page is not opaque")
	}

	// Invalid UTF-8 and tiny canvases must not panic.
	_ = RenderText("\xff\xfe broken", 8, 8)
}

func TestRasterFitsImage(t *testing.T) {
	r := NewRaster()
	src := pngBytes(t, 40, 20, color.NRGBA{R: 255, A: 255})
	buf, err := r.Generate(context.Background(), Request{Data: src, Ext: "png", Width: 20, Height: 20})
	if err != nil {
		t.Fatal(err)
	}
	if err := CheckBuffer(buf, 20, 20); err != nil {
		t.Fatal(err)
	}
	// Letterboxed: top row transparent, middle row red.
	if buf[3] != 0 {
		t.Error("letterbox is not transparent")
	}
	mid := (10*20 + 10) * 4
	if buf[mid] < 250 || buf[mid+3] != 255 {
		t.Errorf("centre pixel = %v", buf[mid:mid+4])
	}

	if _, err := r.Generate(context.Background(), Request{Data: []byte("not an image"), Ext: "png", Width: 8, Height: 8}); err == nil {
		t.Error("garbage decoded")
	}
}

func psdBytes(width, height int, planes ...[]byte) []byte {
	var b bytes.Buffer
	b.WriteString("8BPS")
	_ = binary.Write(&b, binary.BigEndian, uint16(1))
	b.Write(make([]byte, 6))
	_ = binary.Write(&b, binary.BigEndian, uint16(len(planes)))
	_ = binary.Write(&b, binary.BigEndian, uint32(height))
	_ = binary.Write(&b, binary.BigEndian, uint32(width))
	_ = binary.Write(&b, binary.BigEndian, uint16(8))
	_ = binary.Write(&b, binary.BigEndian, uint16(psdModeRGB))
	b.Write(make([]byte, 12)) // three empty sections
	_ = binary.Write(&b, binary.BigEndian, uint16(0))
	for _, p := range planes {
		b.Write(p)
	}
	return b.Bytes()
}

func TestDecodePSD(t *testing.T) {
	data := psdBytes(2, 1, []byte{10, 20}, []byte{30, 40}, []byte{50, 60})
	img, err := decodePSD(data)
	if err != nil {
		t.Fatalf("decodePSD: %v", err)
	}
	if got := img.NRGBAAt(1, 0); got != (color.NRGBA{R: 20, G: 40, B: 60, A: 255}) {
		t.Errorf("pixel = %v", got)
	}

	if _, err := decodePSD(data[:30]); !errors.Is(err, ErrInvalidPSD) {
		t.Errorf("truncated psd error = %v", err)
	}

	// Declared sizes far beyond what the file holds are refused before
	// any pixel plane is allocated.
	huge := psdBytes(30000, 30000, []byte{1}, []byte{2}, []byte{3})
	if _, err := decodePSD(huge); !errors.Is(err, ErrInvalidPSD) {
		t.Errorf("oversized raw psd error = %v", err)
	}
	huge[39] = 1 // PackBits
	if _, err := decodePSD(huge); !errors.Is(err, ErrInvalidPSD) {
		t.Errorf("oversized rle psd error = %v", err)
	}

	buf, err := NewPSD().Generate(context.Background(), Request{Data: data, Width: 16, Height: 16})
	if err != nil || len(buf) != 16*16*4 {
		t.Errorf("Generate = %d bytes, %v", len(buf), err)
	}
}

func TestDecodeRGBE(t *testing.T) {
	head := "#?RADIANCE\nFORMAT=32-bit_rle_rgbe\n\n"
	flat := head + "-Y 1 +X 2\n" + "\x80\x80\x80\x81\x40\x40\x40\x81"
	pano, err := decodeRGBE([]byte(flat))
	if err != nil {
		t.Fatalf("decodeRGBE: %v", err)
	}
	if pano.w != 2 || pano.h != 1 {
		t.Errorf("size = %dx%d, want 2x1", pano.w, pano.h)
	}

	tests := []struct {
		name string
		data string
	}{
		{"no signature", "P6\n"},
		{"bad orientation", head + "+Y 1 +X 2\n"},
		{"oversized for data", head + "-Y 30000 +X 30000\n\x02\x02\x75\x30"},
		{"truncated scanline", head + "-Y 1 +X 2\n\x80\x80"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeRGBE([]byte(tt.data)); !errors.Is(err, ErrInvalidHDR) {
				t.Errorf("decodeRGBE error = %v, want ErrInvalidHDR", err)
			}
		})
	}
}

func TestUnpackBits(t *testing.T) {
	dst := make([]byte, 6)
	// Literal run of 3, then a repeat of 0x07 three times.
	if err := unpackBits(dst, []byte{2, 1, 2, 3, 0xfe, 7}); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dst, []byte{1, 2, 3, 7, 7, 7}) {
		t.Errorf("dst = %v", dst)
	}
	if err := unpackBits(make([]byte, 4), []byte{0, 1}); !errors.Is(err, ErrInvalidPSD) {
		t.Errorf("short row error = %v", err)
	}
}

func TestXMPThumbnail(t *testing.T) {
	jpegish := []byte("preview-bytes")
	enc := base64.StdEncoding.EncodeToString(jpegish)
	split := enc[:4] + "&#xA;" + enc[4:]

	tests := []struct {
		name string
		doc  string
	}{
		{"element", "%PDF-1.5 <x:xmpmeta><xmpGImg:image>" + split + "</xmpGImg:image></x:xmpmeta>"},
		{"attribute", `%PDF-1.5 <rdf:li xmpGImg:width="256" xmpGImg:image="` + enc + `"/>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := xmpThumbnail([]byte(tt.doc))
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, jpegish) {
				t.Errorf("payload = %q", got)
			}
		})
	}

	if _, err := xmpThumbnail([]byte("%PDF-1.5 no packet")); !errors.Is(err, ErrNoEmbeddedThumbnail) {
		t.Errorf("missing packet error = %v", err)
	}
}

func TestIllustratorGenerate(t *testing.T) {
	preview := base64.StdEncoding.EncodeToString(pngBytes(t, 8, 8, color.NRGBA{B: 255, A: 255}))
	doc := []byte("%PDF-1.6\n<xmpGImg:image>" + preview + "</xmpGImg:image>")
	buf, err := NewIllustrator().Generate(context.Background(), Request{Data: doc, Ext: "ai", Width: 64, Height: 64})
	if err != nil {
		t.Fatal(err)
	}
	if err := CheckBuffer(buf, 64, 64); err != nil {
		t.Fatal(err)
	}
}

func TestDocumentText(t *testing.T) {
	doc := `<w:document xmlns:w="w"><w:body>
<w:p><w:r><w:t>Hello</w:t></w:r><w:r><w:tab/><w:t>world</w:t></w:r></w:p>
<w:p><w:r><w:t>Second</w:t></w:r></w:p>
</w:body></w:document>`
	got, err := documentText([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "Hello    world\n") || !strings.Contains(got, "Second\n") {
		t.Errorf("documentText = %q", got)
	}

	if _, err := documentText([]byte(`<w:document xmlns:w="w"><w:body/></w:document>`)); !errors.Is(err, ErrNoContent) {
		t.Errorf("empty document error = %v", err)
	}
}

func TestDOCXFallbackChain(t *testing.T) {
	thumb := pngBytes(t, 4, 4, color.NRGBA{G: 255, A: 255})
	tests := []struct {
		name  string
		files map[string][]byte
	}{
		{"embedded thumbnail", map[string][]byte{"docProps/thumbnail.png": thumb}},
		{"embedded media", map[string][]byte{"word/media/image1.png": thumb, "word/document.xml": []byte("<w:document/>")}},
		{"document text", map[string][]byte{"word/document.xml": []byte(`<w:document xmlns:w="w"><w:p><w:r><w:t>Only text</w:t></w:r></w:p></w:document>`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDOCX(DOCXOptions{})
			buf, err := d.Generate(context.Background(), Request{Data: zipBytes(t, tt.files), Ext: "docx", Width: 32, Height: 32})
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if err := CheckBuffer(buf, 32, 32); err != nil {
				t.Fatal(err)
			}
		})
	}

	_, err := NewDOCX(DOCXOptions{}).Generate(context.Background(), Request{Data: []byte("not a zip"), Ext: "docx", Width: 8, Height: 8})
	if !errors.Is(err, ErrChainExhausted) {
		t.Errorf("corrupt docx error = %v", err)
	}
}

func TestEPUBCover(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "book.epub")
	data := zipBytes(t, map[string][]byte{"OEBPS/images/cover.png": pngBytes(t, 30, 45, color.NRGBA{R: 200, G: 20, B: 20, A: 255})})
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	buf, err := NewEPUB().Generate(context.Background(), Request{Path: path, Width: 64, Height: 64})
	if err != nil {
		t.Fatal(err)
	}
	if err := CheckBuffer(buf, 64, 64); err != nil {
		t.Fatal(err)
	}

	_, err = NewEPUB().Generate(context.Background(), Request{Data: zipBytes(t, map[string][]byte{"mimetype": []byte("application/epub+zip")}), Width: 8, Height: 8})
	if !errors.Is(err, ErrNoEmbeddedThumbnail) {
		t.Errorf("coverless epub error = %v", err)
	}
}
