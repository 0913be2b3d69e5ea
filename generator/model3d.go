package generator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"spacethumbs/core"
	"spacethumbs/logging"
	"spacethumbs/procrunner"
)

// ErrNoConverter is returned when a file needs an external converter and
// none is configured or runnable.
var ErrNoConverter = errors.New("generator: no converter for format")

// Converter runs an external conversion under resource limits.
// *procrunner.Runner implements it.
type Converter interface {
	Convert(ctx context.Context, cmd procrunner.Command, in procrunner.Input) ([]byte, error)
}

// Route is the path a 3D input takes through Model3D.
type Route int

const (
	RouteNone Route = iota
	// RouteGLB parses the input as binary glTF.
	RouteGLB
	// RouteConverter converts through an external tool, then parses the mesh.
	RouteConverter
	// RouteMesh parses a mesh format directly.
	RouteMesh
)

func (r Route) String() string {
	switch r {
	case RouteGLB:
		return "glb"
	case RouteConverter:
		return "converter"
	case RouteMesh:
		return "mesh"
	default:
		return "none"
	}
}

const (
	magicGLTF = "glTF"
	magicSTEP = "ISO-10303-21"
)

var (
	meshExts = map[string]bool{"glb": true, "gltf": true, "obj": true, "ply": true, "stl": true}
	cadExts  = map[string]bool{"step": true, "stp": true, "igs": true, "iges": true}
)

// Model3D renders 3D models. Binary glTF is recognised by content whatever
// its extension; CAD formats and any extension with a configured converter
// go through the runner first.
type Model3D struct {
	converters map[string]core.ConverterConfig
	runner     Converter
	logger     *logging.Logger
}

// NewModel3D creates the 3D generator. runner may be nil, which disables
// the converter route.
func NewModel3D(converters map[string]core.ConverterConfig, runner Converter, logger *logging.Logger) *Model3D {
	return &Model3D{converters: converters, runner: runner, logger: logging.OrNop(logger)}
}

func (m *Model3D) Name() string { return "model3d" }

// MatchesMagic recognises binary glTF and STEP headers.
func (m *Model3D) MatchesMagic(header []byte) bool {
	return hasPrefix(header, magicGLTF) || hasPrefix(header, magicSTEP)
}

func (m *Model3D) Validate(header []byte, ext string) bool {
	return m.Route(header, ext) != RouteNone
}

// Route decides how header and ext are handled. Content wins over
// extension: a glTF header takes the GLB path even for a .step file.
func (m *Model3D) Route(header []byte, ext string) Route {
	switch {
	case hasPrefix(header, magicGLTF):
		return RouteGLB
	case hasPrefix(header, magicSTEP):
		return RouteConverter
	case m.hasConverter(ext) || cadExts[ext]:
		return RouteConverter
	case meshExts[ext]:
		return RouteMesh
	default:
		return RouteNone
	}
}

func (m *Model3D) hasConverter(ext string) bool {
	_, ok := m.converters[ext]
	return ok
}

func (m *Model3D) Generate(ctx context.Context, req Request) ([]byte, error) {
	data, err := req.Bytes()
	if err != nil {
		return nil, err
	}
	ext := req.Extension()
	header := SniffBytes(data, ext).Header

	var msh *mesh
	switch route := m.Route(header, ext); route {
	case RouteGLB:
		msh, err = parseGLB(data)
	case RouteMesh:
		msh, err = parseMesh(data, ext, sourceDir(req))
	case RouteConverter:
		msh, err = m.convert(ctx, req, data, header, ext)
	default:
		return nil, fmt.Errorf("model3d: unsupported extension %q", ext)
	}
	if err != nil {
		return nil, err
	}
	if len(msh.tris) == 0 {
		return nil, fmt.Errorf("model3d: %w", ErrNoContent)
	}

	return finish(renderMesh(msh, req.Width, req.Height), req), nil
}

func (m *Model3D) convert(ctx context.Context, req Request, data, header []byte, ext string) (*mesh, error) {
	cfg, ok := m.converters[ext]
	if !ok && hasPrefix(header, magicSTEP) {
		cfg, ok = m.converters["step"]
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoConverter, ext)
	}
	if m.runner == nil {
		return nil, fmt.Errorf("%w: no runner", ErrNoConverter)
	}

	in := procrunner.Input{Path: req.Path, Ext: ext}
	if req.Path == "" {
		in.Data = data
	}
	out, err := m.runner.Convert(ctx, procrunner.CommandFor(cfg), in)
	if err != nil {
		m.logger.Warn("mesh conversion failed",
			zap.String("ext", ext),
			zap.String("command", cfg.Command),
			zap.Error(err))
		return nil, err
	}
	return parseMesh(out, cfg.Output, "")
}

func sourceDir(req Request) string {
	if req.Path == "" {
		return ""
	}
	return filepath.Dir(req.Path)
}
