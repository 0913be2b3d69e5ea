package generator

import (
	"spacethumbs/core"
	"spacethumbs/logging"
)

// Registry is the fixed, ordered list of generators. It is read-only after
// construction and safe for concurrent use.
type Registry struct {
	gens []Generator
}

// NewRegistry fixes the priority order of gens.
func NewRegistry(gens ...Generator) *Registry {
	return &Registry{gens: append([]Generator(nil), gens...)}
}

// Select returns the generator for header and ext, or nil.
//
// The magic pass runs first: the first MagicMatcher, in priority order, that
// recognises the header and also validates wins. Only when no magic matches
// does the extension-driven validate pass run.
func (r *Registry) Select(header []byte, ext string) Generator {
	ext = normalizeExt(ext)
	for _, g := range r.gens {
		m, ok := g.(MagicMatcher)
		if ok && m.MatchesMagic(header) && g.Validate(header, ext) {
			return g
		}
	}
	for _, g := range r.gens {
		if g.Validate(header, ext) {
			return g
		}
	}
	return nil
}

// SelectInput is Select over a SniffInput.
func (r *Registry) SelectInput(in SniffInput) Generator {
	return r.Select(in.Header, in.Ext)
}

// Generators returns the registered generators in priority order.
func (r *Registry) Generators() []Generator {
	return append([]Generator(nil), r.gens...)
}

// Lookup returns the generator with the given name.
func (r *Registry) Lookup(name string) (Generator, bool) {
	for _, g := range r.gens {
		if g.Name() == name {
			return g, true
		}
	}
	return nil, false
}

// Options configures Default.
type Options struct {
	// Converters supplies external converter commands for CAD and office
	// formats.
	Converters core.Converters
	// Runner spawns external converters. Nil disables every converter stage.
	Runner Converter
	Logger *logging.Logger
}

// Default builds the production registry in its fixed priority order.
func Default(opts Options) *Registry {
	return NewRegistry(
		NewModel3D(opts.Converters.Mesh, opts.Runner, opts.Logger),
		NewPSD(),
		NewText(),
		NewPDF(),
		NewIllustrator(),
		NewHDRI(),
		NewEPUB(),
		NewDOCX(DOCXOptions{
			Office: opts.Converters.Office,
			Runner: opts.Runner,
			Logger: opts.Logger,
		}),
		NewRaster(),
	)
}
