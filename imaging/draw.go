package imaging

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

// FillRect paints r with c, composited over what is already there.
func FillRect(dst draw.Image, r image.Rectangle, c color.Color) {
	draw.Draw(dst, r, image.NewUniform(c), image.Point{}, draw.Over)
}

// FillCircle paints a disc centred at (cx, cy). With a hard edge a pixel is
// inside when its squared distance is strictly below r². A soft edge blends
// the outermost pixel by coverage.
func FillCircle(dst *image.RGBA, cx, cy, r float64, c color.NRGBA, soft bool) {
	minX := int(math.Floor(cx - r - 1))
	maxX := int(math.Ceil(cx + r + 1))
	minY := int(math.Floor(cy - r - 1))
	maxY := int(math.Ceil(cy + r + 1))
	b := dst.Bounds()

	for y := max(minY, b.Min.Y); y < min(maxY, b.Max.Y); y++ {
		for x := max(minX, b.Min.X); x < min(maxX, b.Max.X); x++ {
			dx := float64(x) - cx
			dy := float64(y) - cy
			d2 := dx*dx + dy*dy
			if !soft {
				if d2 < r*r {
					blend(dst, x, y, c, 1)
				}
				continue
			}
			cov := r + 0.5 - math.Sqrt(d2)
			if cov <= 0 {
				continue
			}
			blend(dst, x, y, c, math.Min(cov, 1))
		}
	}
}

// FillRoundedRect paints r with rounded corners of the given radius.
func FillRoundedRect(dst *image.RGBA, r image.Rectangle, radius float64, c color.NRGBA) {
	if radius <= 0 {
		FillRect(dst, r, c)
		return
	}
	clip := r.Intersect(dst.Bounds())
	for y := clip.Min.Y; y < clip.Max.Y; y++ {
		for x := clip.Min.X; x < clip.Max.X; x++ {
			cov := roundedCoverage(float64(x)+0.5, float64(y)+0.5, r, radius)
			if cov > 0 {
				blend(dst, x, y, c, cov)
			}
		}
	}
}

// roundedCoverage is the approximate coverage of the pixel centred at
// (px, py) by a rounded rectangle.
func roundedCoverage(px, py float64, r image.Rectangle, radius float64) float64 {
	minX, minY := float64(r.Min.X)+radius, float64(r.Min.Y)+radius
	maxX, maxY := float64(r.Max.X)-radius, float64(r.Max.Y)-radius

	qx := math.Max(minX-px, math.Max(0, px-maxX))
	qy := math.Max(minY-py, math.Max(0, py-maxY))
	if qx == 0 || qy == 0 {
		return 1
	}
	d := math.Hypot(qx, qy)
	return math.Max(0, math.Min(1, radius+0.5-d))
}

// StrokeRect draws a one pixel outline of r.
func StrokeRect(dst draw.Image, r image.Rectangle, c color.Color) {
}

// Line draws a line of the given thickness between two points.
func Line(dst *image.RGBA, x0, y0, x1, y1, width float64, c color.NRGBA) {
	minX := int(math.Floor(math.Min(x0, x1) - width))
	maxX := int(math.Ceil(math.Max(x0, x1) + width))
	minY := int(math.Floor(math.Min(y0, y1) - width))
	maxY := int(math.Ceil(math.Max(y0, y1) + width))
	b := dst.Bounds()
	half := width / 2

	vx, vy := x1-x0, y1-y0
	l2 := vx*vx + vy*vy
	for y := max(minY, b.Min.Y); y < min(maxY, b.Max.Y); y++ {
		for x := max(minX, b.Min.X); x < min(maxX, b.Max.X); x++ {
			px, py := float64(x)+0.5, float64(y)+0.5
			t := 0.0
			if l2 > 0 {
				t = math.Max(0, math.Min(1, ((px-x0)*vx+(py-y0)*vy)/l2))
			}
			d := math.Hypot(px-(x0+t*vx), py-(y0+t*vy))
			cov := half + 0.5 - d
			if cov > 0 {
				blend(dst, x, y, c, math.Min(cov, 1))
			}
		}
	}
}

// CornerFold cuts a 45 degree dog-ear of side size from the top-right of r
// and draws the folded flap in fold with a darker crease.
func CornerFold(dst *image.RGBA, r image.Rectangle, size int, fold color.NRGBA) {
	if size <= 0 {
		return
	}
	crease := color.NRGBA{A: 40}
	for dy := 0; dy < size; dy++ {
		y := r.Min.Y + dy
		for dx := 0; dx < size; dx++ {
			x := r.Max.X - size + dx
			if !image.Pt(x, y).In(dst.Bounds()) {
				continue
			}
			if dx >= dy {
				dst.SetRGBA(x, y, color.RGBA{})
				continue
			}
			dst.SetRGBA(x, y, premultiply(fold, 1))
			if dx == dy-1 {
				blend(dst, x, y, crease, 1)
			}
		}
	}
}

// blend composites c with the extra coverage factor onto dst at (x, y).
func blend(dst *image.RGBA, x, y int, c color.NRGBA, coverage float64) {
	src := premultiply(c, coverage)
	if src.A == 0 {
		return
	}
	i := dst.PixOffset(x, y)
	p := dst.Pix[i : i+4 : i+4]
	inv := 255 - uint32(src.A)
	p[0] = uint8(uint32(src.R) + uint32(p[0])*inv/255)
	p[1] = uint8(uint32(src.G) + uint32(p[1])*inv/255)
	p[2] = uint8(uint32(src.B) + uint32(p[2])*inv/255)
	p[3] = uint8(uint32(src.A) + uint32(p[3])*inv/255)
}

func premultiply(c color.NRGBA, coverage float64) color.RGBA {
	a := uint32(math.Round(float64(c.A) * coverage))
	return color.RGBA{
		R: uint8(uint32(c.R) * a / 255),
		G: uint8(uint32(c.G) * a / 255),
		B: uint8(uint32(c.B) * a / 255),
		A: uint8(a),
	}
}

// Shadow paints a soft rectangular drop shadow of the given spread behind r.
func Shadow(dst *image.RGBA, r image.Rectangle, spread int, alpha uint8) {
	for i := spread; i > 0; i-- {
		a := uint8(int(alpha) * (spread - i + 1) / (spread + 1) / spread)
		FillRoundedRect(dst, r.Inset(-i), float64(i), color.NRGBA{A: a})
	}
}

// RoundCorners clears img outside a rounded rectangle of the given radius,
// scaling edge pixels by their coverage.
func RoundCorners(img *image.RGBA, radius float64) {
	if radius <= 0 {
		return
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			cov := roundedCoverage(float64(x)+0.5, float64(y)+0.5, b, radius)
			if cov >= 1 {
				continue
			}
			i := img.PixOffset(x, y)
			for c := 0; c < 4; c++ {
				img.Pix[i+c] = uint8(float64(img.Pix[i+c]) * cov)
			}
		}
	}
}
