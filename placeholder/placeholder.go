// Package placeholder holds the fixed bitmaps served while a thumbnail is
// pending or after it failed. They are drawn once and never come from a
// generator.
package placeholder

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"spacethumbs/imaging"
)

// Size is the edge length of every placeholder.
const Size = 256

// Kind selects a placeholder.
type Kind int

const (
	Loading Kind = iota
	TimedOut
	TooLarge
	Error
)

var kindNames = [...]string{"loading", "timed_out", "too_large", "error"}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for i, n := range kindNames {
		if n == s {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("placeholder: unknown kind %q", s)
}

// Kinds lists every placeholder.
func Kinds() []Kind { return []Kind{Loading, TimedOut, TooLarge, Error} }

var (
	once   sync.Once
	images [len(kindNames)]*image.NRGBA
	argb   [len(kindNames)][]byte
)

func load() {
	once.Do(func() {
		for _, k := range Kinds() {
			img := imaging.ToNRGBA(draw(k))
			images[k] = img
			argb[k] = imaging.PremultipliedBGRA(img)
		}
	})
}

// Image returns the bitmap for k. The result is shared; do not modify it.
func Image(k Kind) *image.NRGBA {
	load()
	if k < 0 || int(k) >= len(images) {
		k = Error
	}
	return images[k]
}

// ARGB returns the bitmap for k as premultiplied 32-bit ARGB in B,G,R,A
// memory order. The result is shared; do not modify it.
func ARGB(k Kind) []byte {
	load()
	if k < 0 || int(k) >= len(argb) {
		k = Error
	}
	return argb[k]
}

var (
	blue  = color.NRGBA{R: 0, G: 120, B: 215, A: 255}
	amber = color.NRGBA{R: 230, G: 145, B: 20, A: 255}
	slate = color.NRGBA{R: 90, G: 105, B: 125, A: 255}
	red   = color.NRGBA{R: 200, G: 40, B: 40, A: 255}
	white = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
)

const (
	center = Size / 2
	radius = 100
)

func draw(k Kind) *image.RGBA {
	img := imaging.NewCanvas(Size, Size)
	switch k {
	case Loading:
		imaging.FillCircle(img, center, center, radius, blue, false)
	case TimedOut:
		imaging.FillCircle(img, center, center, radius, amber, true)
		imaging.FillCircle(img, center, center, radius-18, white, true)
		imaging.FillCircle(img, center, center, radius-26, amber, true)
		// Hands at ten past ten.
		hand := func(deg, length float64) {
			a := deg * math.Pi / 180
			imaging.Line(img, center, center, center+length*math.Sin(a), center-length*math.Cos(a), 10, white)
		}
		hand(-60, 45)
		hand(60, 60)
		imaging.FillCircle(img, center, center, 9, white, true)
	case TooLarge:
		imaging.FillCircle(img, center, center, radius, slate, true)
		imaging.Line(img, center, 175, center, 95, 16, white)
		imaging.Line(img, center, 70, center-35, 110, 16, white)
		imaging.Line(img, center, 70, center+35, 110, 16, white)
		imaging.FillRect(img, image.Rect(80, 180, 176, 192), white)
	default:
		imaging.FillCircle(img, center, center, radius, red, true)
		imaging.Line(img, 93, 93, 163, 163, 18, white)
		imaging.Line(img, 163, 93, 93, 163, 18, white)
	}
	return img
}
