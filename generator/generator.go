// Package generator defines the thumbnail backend contract and the ordered
// registry that dispatches an input to the first capable backend.
//
// generator.go holds the atoms every backend shares: the Generator interface,
// the Request it receives, buffer validation and the fallback Chain.
package generator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"

	"spacethumbs/imaging"
	"spacethumbs/logging"
)

var (
	// ErrNoSource is returned when a request carries neither bytes nor a path.
	ErrNoSource = errors.New("generator: request has neither data nor path")

	// ErrInvalidSize is returned for a non-positive width or height.
	ErrInvalidSize = errors.New("generator: width and height must be positive")

	// ErrMalformedBuffer is returned when a backend's output length does not
	// equal width*height*4.
	ErrMalformedBuffer = errors.New("generator: malformed pixel buffer")

	// ErrChainExhausted is returned when every stage of a fallback chain failed.
	ErrChainExhausted = errors.New("generator: all stages failed")

	// ErrNoContent is returned when an input parses but holds nothing drawable.
	ErrNoContent = errors.New("generator: nothing to draw")
)

// Generator turns one class of file into a straight-alpha RGBA8 buffer of
// exactly Width*Height*4 bytes.
//
// Validate must be pure: it may only look at the header bytes and the
// lowercase extension. Generate is synchronous and must not leave background
// work behind. ctx is honoured only by external processes.
type Generator interface {
	Name() string
	Validate(header []byte, ext string) bool
	Generate(ctx context.Context, req Request) ([]byte, error)
}

// MagicMatcher is implemented by generators that recognise content by its
// leading bytes. The registry asks every MagicMatcher before it falls back to
// extension matching, so content beats extension when they disagree.
type MagicMatcher interface {
	MatchesMagic(header []byte) bool
}

// Request is one thumbnail job. At least one of Data and Path is set.
type Request struct {
	// Data is the full file content when the caller has it in memory.
	Data []byte
	// Path is the source file when the caller has one.
	Path string
	// Width and Height are the output dimensions in pixels.
	Width  int
	Height int
	// Ext is the lowercase extension without a dot. Empty means derive from Path.
	Ext string
}

// Validate checks the request invariants.
func (r Request) Validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidSize, r.Width, r.Height)
	}
	if r.Data == nil && r.Path == "" {
		return ErrNoSource
	}
	return nil
}

// Extension returns Ext, or the extension of Path when Ext is empty.
func (r Request) Extension() string {
	if r.Ext != "" {
		return strings.ToLower(strings.TrimPrefix(r.Ext, "."))
	}
	return ExtOf(r.Path)
}

// Bytes returns Data, loading Path when Data is nil.
func (r Request) Bytes() ([]byte, error) {
	if r.Data != nil {
		return r.Data, nil
	}
	if r.Path == "" {
		return nil, ErrNoSource
	}
	data, err := os.ReadFile(r.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.Path, err)
	}
	return data, nil
}

// CheckBuffer reports ErrMalformedBuffer unless len(buf) == w*h*4.
func CheckBuffer(buf []byte, width, height int) error {
	if want := imaging.BufferSize(width, height); len(buf) != want {
		return fmt.Errorf("%w: got %d bytes, want %d for %dx%d", ErrMalformedBuffer, len(buf), want, width, height)
	}
	return nil
}

// finish converts a width×height canvas to the output buffer.
func finish(img image.Image, req Request) []byte {
	b := img.Bounds()
	if b.Dx() != req.Width || b.Dy() != req.Height {
		img = imaging.Resize(img, req.Width, req.Height)
	}
	return imaging.Pixels(img)
}

// marginFor scales a margin given in pixels of a 256 pixel canvas to the
// requested size.
func marginFor(req Request, px float64) int {
	return int(px * float64(min(req.Width, req.Height)) / 256)
}

// Stage is one step of a fallback chain.
type Stage struct {
	Name string
	Run  func(ctx context.Context, req Request) ([]byte, error)
}

// Chain runs stages in order and returns the first buffer that passes
// CheckBuffer. A failing or panicking stage is logged and skipped.
//
// Example:
//
//	return Chain(ctx, logger, "docx", req,
//	    Stage{Name: "embedded thumbnail", Run: embedded},
//	    Stage{Name: "extracted text", Run: text},
//	)
func Chain(ctx context.Context, logger *logging.Logger, owner string, req Request, stages ...Stage) ([]byte, error) {
	logger = logging.OrNop(logger)
	for _, st := range stages {
		buf, err := runStage(ctx, st, req)
		if err == nil {
			err = CheckBuffer(buf, req.Width, req.Height)
		}
		if err == nil {
			logger.Debug("fallback stage succeeded",
				zap.String("generator", owner),
				zap.String("stage", st.Name))
			return buf, nil
		}
		logger.Debug("fallback stage failed",
			zap.String("generator", owner),
			zap.String("stage", st.Name),
			zap.Error(err))
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%s: %w", owner, ErrChainExhausted)
}

func runStage(ctx context.Context, st Stage, req Request) (buf []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %s panicked: %v\n%s", st.Name, r, debug.Stack())
		}
	}()
	return st.Run(ctx, req)
}
