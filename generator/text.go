package generator

import (
	"context"
	"image"
	"image/color"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"spacethumbs/imaging"
)

// maxTextBytes bounds how much of a text file is decoded; only the first
// screenful is ever drawn.
const maxTextBytes = 64 * 1024

var textExts = map[string]bool{
	"txt": true, "rs": true, "json": true, "toml": true, "md": true, "xml": true,
	"log": true, "ini": true, "cfg": true, "yaml": true, "yml": true,
}

var (
	textInk    = color.NRGBA{R: 50, G: 50, B: 50, A: 255}
	pagePaper  = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	pageBorder = color.NRGBA{R: 200, G: 200, B: 200, A: 255}
)

// Text draws the first lines of a plain text file onto a page.
type Text struct{}

func NewText() *Text { return &Text{} }

func (t *Text) Name() string { return "text" }

func (t *Text) Validate(_ []byte, ext string) bool { return textExts[ext] }

func (t *Text) Generate(_ context.Context, req Request) ([]byte, error) {
	data, err := req.Bytes()
	if err != nil {
		return nil, err
	}
	if len(data) > maxTextBytes {
		data = data[:maxTextBytes]
	}
	return RenderText(string(data), req.Width, req.Height), nil
}

// RenderText draws s clipped to a text box inset 25% horizontally and 30%
// vertically, in a 7x13 bitmap face. Invalid UTF-8 is replaced.
func RenderText(s string, width, height int) []byte {
	img := imaging.NewCanvas(width, height)

	page := imaging.Inset(img.Bounds(), min(width, height)*20/256)
	imaging.FillRect(img, page, pagePaper)
	imaging.StrokeRect(img, page, pageBorder)

	face := basicfont.Face7x13
	marginX := width / 4
	marginY := height * 3 / 10
	contentW := width - 2*marginX
	contentH := height - 2*marginY

	lineHeight := face.Height
	advance := face.Advance
	maxLines := contentH/lineHeight - 1
	maxChars := max(contentW/advance, 0)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(textInk),
		Face: face,
	}

	s = strings.ToValidUTF8(s, "�")
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\t", "    ")

	y := marginY + face.Ascent
	for i, line := range strings.Split(s, "\n") {
		if i >= maxLines {
			break
		}
		if r := []rune(line); len(r) > maxChars {
			line = string(r[:maxChars])
		}
		d.Dot = fixed.P(marginX, y)
		d.DrawString(line)
		y += lineHeight
	}

	return imaging.Pixels(img)
}
