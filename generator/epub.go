package generator

import (
	"archive/zip"
	"context"
	"fmt"
	"image"
	"image/color"
	"strings"

	"golang.org/x/image/draw"

	"spacethumbs/imaging"
)

var epubCoverNames = []string{
	"cover.jpg",
	"cover.jpeg",
	"cover.png",
	"OEBPS/images/cover.jpg",
	"OEBPS/images/cover.png",
	"OEBPS/cover.jpg",
}

// EPUB draws the book cover inside a simple book frame: rounded corners, a
// shaded spine and a drop shadow.
type EPUB struct{}

func NewEPUB() *EPUB { return &EPUB{} }

func (e *EPUB) Name() string { return "epub" }

func (e *EPUB) Validate(_ []byte, ext string) bool { return ext == "epub" }

func (e *EPUB) Generate(_ context.Context, req Request) ([]byte, error) {
	data, err := req.Bytes()
	if err != nil {
		return nil, err
	}
	zr, err := openZip(data)
	if err != nil {
		return nil, fmt.Errorf("epub: %w", err)
	}

	f := findCover(zr)
	if f == nil {
		return nil, fmt.Errorf("epub: %w", ErrNoEmbeddedThumbnail)
	}
	raw, err := readZipFile(f)
	if err != nil {
		return nil, fmt.Errorf("epub: %w", err)
	}
	cover, err := imaging.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("epub cover: %w", err)
	}

	return finish(bookFrame(cover, req.Width, req.Height), req), nil
}

// findCover tries the conventional cover names, then falls back to the
// largest image whose name does not mention "thumb".
func findCover(zr *zip.Reader) *zip.File {
	for _, name := range epubCoverNames {
		if f := findZipFile(zr, name); f != nil {
			return f
		}
	}
	return largestImage(zr, func(name string) bool {
		return !strings.Contains(name, "thumb")
	})
}

// bookFrame fits cover inside a 20/256 margin and dresses it as a book.
func bookFrame(cover image.Image, width, height int) *image.RGBA {
	scale := float64(min(width, height)) / 256
	canvas := imaging.NewCanvas(width, height)
	box := imaging.Inset(canvas.Bounds(), int(20*scale))
	r := imaging.FitRect(cover.Bounds(), box)
	if r.Empty() {
		return canvas
	}

	book := imaging.NewCanvas(r.Dx(), r.Dy())
	draw.CatmullRom.Scale(book, book.Bounds(), cover, cover.Bounds(), draw.Src, nil)

	// Spine: a dark band fading out from the left edge, then a light crease.
	spine := max(2, r.Dx()*6/100)
	for x := 0; x < spine; x++ {
		a := uint8(90 * (spine - x) / spine)
		imaging.FillRect(book, image.Rect(x, 0, x+1, r.Dy()), color.NRGBA{A: a})
	}
	imaging.FillRect(book, image.Rect(spine, 0, spine+1, r.Dy()), color.NRGBA{R: 255, G: 255, B: 255, A: 60})

	imaging.RoundCorners(book, max(1, 3*scale))

	imaging.Shadow(canvas, r.Add(image.Pt(int(2*scale), int(3*scale))), max(2, int(4*scale)), 90)
	draw.Draw(canvas, r, book, image.Point{}, draw.Over)
	return canvas
}
