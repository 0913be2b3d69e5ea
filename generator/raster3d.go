package generator

import (
	"image"
	"math"
)

// Camera orientation for the surround view, in radians.
const (
	viewYaw   = -35 * math.Pi / 180
	viewPitch = 25 * math.Pi / 180
)

var (
	meshBase  = vec3{190, 196, 206}
	lightDir  = vec3{-0.4, 0.6, 0.7}.normalize()
	ambient   = 0.35
	meshShine = 0.65
)

// renderMesh draws m flat-shaded with a z-buffer onto a transparent
// width×height canvas. The model is framed by its bounding box with a
// 20/256 margin.
func renderMesh(m *mesh, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	if len(m.tris) == 0 {
		return img
	}

	lo, hi := m.bounds()
	centre := vec3{(lo[0] + hi[0]) / 2, (lo[1] + hi[1]) / 2, (lo[2] + hi[2]) / 2}

	cy, sy := math.Cos(viewYaw), math.Sin(viewYaw)
	cp, sp := math.Cos(viewPitch), math.Sin(viewPitch)
	view := func(v vec3) vec3 {
		v = v.sub(centre)
		x := v[0]*cy + v[2]*sy
		z := -v[0]*sy + v[2]*cy
		y := v[1]*cp - z*sp
		z = v[1]*sp + z*cp
		return vec3{x, y, z}
	}

	// Project once to size the framing on the rotated extents.
	proj := make([]triangle, len(m.tris))
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i, t := range m.tris {
		for j, v := range t {
			p := view(v)
			proj[i][j] = p
			minX, maxX = math.Min(minX, p[0]), math.Max(maxX, p[0])
			minY, maxY = math.Min(minY, p[1]), math.Max(maxY, p[1])
		}
	}

	margin := float64(min(width, height)) * 20 / 256
	spanX, spanY := maxX-minX, maxY-minY
	if spanX <= 0 && spanY <= 0 {
		return img
	}
	scale := math.Inf(1)
	if spanX > 0 {
		scale = (float64(width) - 2*margin) / spanX
	}
	if spanY > 0 {
		scale = math.Min(scale, (float64(height)-2*margin)/spanY)
	}
	offX := float64(width)/2 - (minX+maxX)/2*scale
	offY := float64(height)/2 + (minY+maxY)/2*scale

	depth := make([]float64, width*height)
	for i := range depth {
		depth[i] = math.Inf(-1)
	}

	for _, t := range proj {
		n := t[1].sub(t[0]).cross(t[2].sub(t[0])).normalize()
		// Two-sided lighting: meshes from converters rarely agree on winding.
		lambert := math.Abs(n.dot(lightDir))
		shade := ambient + meshShine*lambert
		r := uint8(math.Min(255, meshBase[0]*shade))
		g := uint8(math.Min(255, meshBase[1]*shade))
		b := uint8(math.Min(255, meshBase[2]*shade))

		var s [3][3]float64
		for j, v := range t {
			s[j] = [3]float64{offX + v[0]*scale, offY - v[1]*scale, v[2]}
		}
		fillTriangle(img, depth, s, r, g, b)
	}
	return img
}

// fillTriangle rasterises one screen-space triangle with a depth test.
// Larger z is nearer the camera.
func fillTriangle(img *image.RGBA, depth []float64, s [3][3]float64, r, g, b uint8) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	x0 := max(0, int(math.Floor(math.Min(s[0][0], math.Min(s[1][0], s[2][0])))))
	x1 := min(w-1, int(math.Ceil(math.Max(s[0][0], math.Max(s[1][0], s[2][0])))))
	y0 := max(0, int(math.Floor(math.Min(s[0][1], math.Min(s[1][1], s[2][1])))))
	y1 := min(h-1, int(math.Ceil(math.Max(s[0][1], math.Max(s[1][1], s[2][1])))))

	area := edge(s[0], s[1], s[2][0], s[2][1])
	if area == 0 {
		return
	}

	for y := y0; y <= y1; y++ {
		py := float64(y) + 0.5
		for x := x0; x <= x1; x++ {
			px := float64(x) + 0.5
			w0 := edge(s[1], s[2], px, py) / area
			w1 := edge(s[2], s[0], px, py) / area
			w2 := edge(s[0], s[1], px, py) / area
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			z := w0*s[0][2] + w1*s[1][2] + w2*s[2][2]
			i := y*w + x
			if z <= depth[i] {
				continue
			}
			depth[i] = z
			off := img.PixOffset(x, y)
			img.Pix[off+0] = r
			img.Pix[off+1] = g
			img.Pix[off+2] = b
			img.Pix[off+3] = 255
		}
	}
}

func edge(a, b [3]float64, px, py float64) float64 {
	return (b[0]-a[0])*(py-a[1]) - (b[1]-a[1])*(px-a[0])
}
