package generator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"spacethumbs/core"
)

func TestDefaultSelect(t *testing.T) {
	reg := Default(Options{Converters: core.DefaultConverters()})

	tests := []struct {
		name   string
		header string
		ext    string
		want   string
	}{
		{"glb magic beats step extension", "glTF\x02\x00\x00\x00", "step", "model3d"},
		{"step magic with odd extension", "ISO-10303-21;\nHEADER;", "dat", "model3d"},
		{"pdf refuses ai", "%PDF-1.6\n%", "ai", "illustrator"},
		{"pdf magic in txt", "%PDF-1.4\n", "txt", "pdf"},
		{"pdf by extension", "garbage", "pdf", "pdf"},
		{"psd magic", "8BPS\x00\x01", "bin", "psd"},
		{"png magic with wrong extension", "\x89PNG\r\n\x1a\n", "txt", "raster"},
		{"hdr magic", "#?RADIANCE\n", "bin", "hdri"},
		{"plain text", "hello", "md", "text"},
		{"obj by extension", "v 0 0 0", "obj", "model3d"},
		{"docx", "PK\x03\x04", "docx", "docx"},
		{"epub", "PK\x03\x04", "epub", "epub"},
		{"jpeg by extension", "", "JPG", "raster"},
		{"text starting with BM", "BMW service notes\nchange oil\n", "txt", "text"},
		{"bmp magic with wrong extension", "BM\x36\x00\x00\x00\x00\x00\x00\x00\x36\x00\x00\x00\x28\x00\x00\x00", "txt", "raster"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := reg.Select([]byte(tt.header), tt.ext)
			if g == nil {
				t.Fatalf("Select(%q, %q) = nil, want %s", tt.header, tt.ext, tt.want)
			}
			if g.Name() != tt.want {
				t.Errorf("Select(%q, %q) = %s, want %s", tt.header, tt.ext, g.Name(), tt.want)
			}
		})
	}

	if g := reg.Select([]byte("\x00\x01\x02"), "xyz"); g != nil {
		t.Errorf("Select(unknown) = %s, want nil", g.Name())
	}
}

func TestModel3DRoute(t *testing.T) {
	m := NewModel3D(map[string]core.ConverterConfig{"fbx": {Command: "fbx2obj", Output: "obj"}}, nil, nil)
	tests := []struct {
		header string
		ext    string
		want   Route
	}{
		{"glTF", "step", RouteGLB},
		{"glTF", "", RouteGLB},
		{"ISO-10303-21;", "txt", RouteConverter},
		{"", "iges", RouteConverter},
		{"", "fbx", RouteConverter},
		{"", "stl", RouteMesh},
		{"", "ply", RouteMesh},
		{"", "gltf", RouteMesh},
		{"", "png", RouteNone},
	}
	for _, tt := range tests {
		if got := m.Route([]byte(tt.header), tt.ext); got != tt.want {
			t.Errorf("Route(%q, %q) = %v, want %v", tt.header, tt.ext, got, tt.want)
		}
	}
}

func TestRegistryLookup(t *testing.T) {
	reg := Default(Options{})
	if _, ok := reg.Lookup("pdf"); !ok {
		t.Error("Lookup(pdf) missing")
	}
	if _, ok := reg.Lookup("nope"); ok {
		t.Error("Lookup(nope) found a generator")
	}
	names := make([]string, 0)
	for _, g := range reg.Generators() {
		names = append(names, g.Name())
	}
	if names[0] != "model3d" || names[len(names)-1] != "raster" {
		t.Errorf("priority order = %v", names)
	}
}

func TestSniffFile(t *testing.T) {
	dir := t.TempDir()
	short := filepath.Join(dir, "Short.STEP")
	if err := os.WriteFile(short, []byte("glTF"), 0600); err != nil {
		t.Fatal(err)
	}
	in, err := SniffFile(short)
	if err != nil {
		t.Fatal(err)
	}
	if string(in.Header) != "glTF" || in.Ext != "step" {
		t.Errorf("SniffFile(short) = %q/%q", in.Header, in.Ext)
	}

	long := filepath.Join(dir, "long.txt")
	if err := os.WriteFile(long, bytes.Repeat([]byte("a"), 100), 0600); err != nil {
		t.Fatal(err)
	}
	in, err = SniffFile(long)
	if err != nil {
		t.Fatal(err)
	}
	if len(in.Header) != HeaderSize {
		t.Errorf("header length = %d, want %d", len(in.Header), HeaderSize)
	}

	if _, err := SniffFile(filepath.Join(dir, "missing")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("SniffFile(missing) error = %v", err)
	}
}

func TestSniffReaderSeeksBack(t *testing.T) {
	r := strings.NewReader("0123456789abcdefghijklmnopqrstuvwxyz")
	if _, err := r.Seek(4, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	in, err := SniffReader(r, ".TXT")
	if err != nil {
		t.Fatal(err)
	}
	if string(in.Header) != "456789abcdefghijklmn" || in.Ext != "txt" {
		t.Errorf("SniffReader = %q/%q", in.Header, in.Ext)
	}
	rest, _ := io.ReadAll(r)
	if !strings.HasPrefix(string(rest), "4567") {
		t.Errorf("stream resumed at %q, want the original position", rest[:4])
	}
}

func TestRequest(t *testing.T) {
	if err := (Request{Data: []byte("x"), Width: 0, Height: 10}).Validate(); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("zero width error = %v", err)
	}
	if err := (Request{Width: 10, Height: 10}).Validate(); !errors.Is(err, ErrNoSource) {
		t.Errorf("empty source error = %v", err)
	}
	if got := (Request{Path: "/a/B.GLB"}).Extension(); got != "glb" {
		t.Errorf("Extension() = %q", got)
	}
	if got := (Request{Path: "/a/b.glb", Ext: ".STL"}).Extension(); got != "stl" {
		t.Errorf("Extension() with Ext = %q", got)
	}
}

func TestCheckBuffer(t *testing.T) {
	if err := CheckBuffer(make([]byte, 4*3*2), 3, 2); err != nil {
		t.Errorf("CheckBuffer(exact) = %v", err)
	}
	for _, n := range []int{0, 23, 25} {
		if err := CheckBuffer(make([]byte, n), 3, 2); !errors.Is(err, ErrMalformedBuffer) {
			t.Errorf("CheckBuffer(%d bytes) = %v", n, err)
		}
	}
}

func TestChain(t *testing.T) {
	req := Request{Data: []byte("x"), Width: 2, Height: 2}
	good := make([]byte, 16)
	var ran []string
	stage := func(name string, buf []byte, err error, boom bool) Stage {
		return Stage{Name: name, Run: func(context.Context, Request) ([]byte, error) {
			ran = append(ran, name)
			if boom {
				panic("stage blew up")
			}
			return buf, err
		}}
	}

	buf, err := Chain(context.Background(), nil, "test", req,
		stage("error", nil, errors.New("nope"), false),
		stage("panic", nil, nil, true),
		stage("short", make([]byte, 3), nil, false),
		stage("good", good, nil, false),
		stage("unreached", good, nil, false),
	)
	if err != nil {
		t.Fatalf("Chain() error = %v", err)
	}
	if len(buf) != 16 {
		t.Errorf("len(buf) = %d", len(buf))
	}
	if got := strings.Join(ran, ","); got != "error,panic,short,good" {
		t.Errorf("stages ran = %s", got)
	}

	_, err = Chain(context.Background(), nil, "test", req, stage("error", nil, errors.New("nope"), false))
	if !errors.Is(err, ErrChainExhausted) {
		t.Errorf("exhausted Chain() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Chain(ctx, nil, "test", req, stage("error", nil, errors.New("nope"), false), stage("good", good, nil, false))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled Chain() error = %v", err)
	}
}
