package generator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/ledongthuc/pdf"

	"spacethumbs/imaging"
)

// ErrInvalidPDF is returned when the first page of a PDF cannot be read.
var ErrInvalidPDF = errors.New("generator: invalid pdf")

// US Letter in points, used when a page has no readable MediaBox.
const (
	defaultPageWidth  = 612
	defaultPageHeight = 792
)

var (
	greekInk   = color.NRGBA{R: 110, G: 110, B: 110, A: 255}
	ruleStroke = color.NRGBA{R: 160, G: 160, B: 160, A: 255}
)

// PDF lays out the first page: the page box is centred with a 20/256
// margin and every text run is drawn as a bar at its position.
//
// Illustrator files start with %PDF too but belong to Illustrator, so
// Validate refuses the ai extension even when the magic matches.
type PDF struct{}

func NewPDF() *PDF { return &PDF{} }

func (p *PDF) Name() string { return "pdf" }

func (p *PDF) MatchesMagic(header []byte) bool { return hasPrefix(header, "%PDF") }

func (p *PDF) Validate(header []byte, ext string) bool {
	if ext == "ai" {
		return false
	}
	return p.MatchesMagic(header) || ext == "pdf"
}

func (p *PDF) Generate(_ context.Context, req Request) ([]byte, error) {
	data, err := req.Bytes()
	if err != nil {
		return nil, err
	}
	return RenderPDF(data, req.Width, req.Height)
}

// RenderPDF draws the first page of a PDF document into a width×height
// buffer. Parser panics on malformed content surface as ErrInvalidPDF.
func RenderPDF(data []byte, width, height int) (buf []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf, err = nil, fmt.Errorf("%w: %v", ErrInvalidPDF, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}
	if r.NumPage() < 1 {
		return nil, fmt.Errorf("%w: no pages", ErrInvalidPDF)
	}
	page := r.Page(1)
	if page.V.IsNull() {
		return nil, fmt.Errorf("%w: first page missing", ErrInvalidPDF)
	}

	x0, y0, x1, y1 := mediaBox(page)
	pw, ph := x1-x0, y1-y0

	img := imaging.NewCanvas(width, height)
	margin := min(width, height) * 20 / 256
	box := imaging.Inset(img.Bounds(), margin)
	sheet := imaging.FitRect(image.Rect(0, 0, int(math.Round(pw)), int(math.Round(ph))), box)
	if sheet.Empty() {
		return nil, fmt.Errorf("%w: empty page box", ErrInvalidPDF)
	}
	imaging.FillRect(img, sheet, pagePaper)
	imaging.StrokeRect(img, sheet, pageBorder)

	scale := float64(sheet.Dx()) / pw
	toX := func(x float64) int { return sheet.Min.X + int(math.Round((x-x0)*scale)) }
	toY := func(y float64) int { return sheet.Min.Y + int(math.Round((y1-y)*scale)) }

	content := page.Content()
	for _, rc := range content.Rect {
		rr := image.Rect(toX(rc.Min.X), toY(rc.Max.Y), toX(rc.Max.X), toY(rc.Min.Y)).Intersect(sheet)
		if rr.Dx() > 1 && rr.Dy() > 1 {
			imaging.StrokeRect(img, rr, ruleStroke)
		}
	}
	for _, t := range content.Text {
		if strings.TrimSpace(t.S) == "" {
			continue
		}
		size := math.Max(1, t.FontSize*scale*0.6)
		w := math.Max(1, t.W*scale)
		x := toX(t.X)
		y := toY(t.Y)
		bar := image.Rect(x, y-int(math.Ceil(size)), x+int(math.Ceil(w)), y).Intersect(sheet)
		imaging.FillRect(img, bar, greekInk)
	}

	return imaging.Pixels(img), nil
}

func mediaBox(page pdf.Page) (x0, y0, x1, y1 float64) {
	mb := page.V.Key("MediaBox")
	if mb.Len() != 4 {
		return 0, 0, defaultPageWidth, defaultPageHeight
	}
	x0, y0 = mb.Index(0).Float64(), mb.Index(1).Float64()
	x1, y1 = mb.Index(2).Float64(), mb.Index(3).Float64()
	if x1 <= x0 || y1 <= y0 {
		return 0, 0, defaultPageWidth, defaultPageHeight
	}
	return x0, y0, x1, y1
}
