package generator

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidHDR is returned for a Radiance file the decoder cannot read.
var ErrInvalidHDR = errors.New("generator: invalid radiance hdr")

// HDRI projects an equirectangular Radiance panorama onto a mirror sphere.
type HDRI struct{}

func NewHDRI() *HDRI { return &HDRI{} }

func (h *HDRI) Name() string { return "hdri" }

func (h *HDRI) MatchesMagic(header []byte) bool {
	return hasPrefix(header, "#?RADIANCE") || hasPrefix(header, "#?RGBE")
}

func (h *HDRI) Validate(header []byte, ext string) bool {
	return ext == "hdr" || ext == "hdri" || h.MatchesMagic(header)
}

func (h *HDRI) Generate(_ context.Context, req Request) ([]byte, error) {
	data, err := req.Bytes()
	if err != nil {
		return nil, err
	}
	pano, err := decodeRGBE(data)
	if err != nil {
		return nil, err
	}
	return finish(mirrorSphere(pano, req.Width, req.Height), req), nil
}

// tonemapped is an 8-bit RGB panorama after Reinhard tone mapping.
type tonemapped struct {
	w, h int
	pix  []uint8 // RGB
}

func (t *tonemapped) at(x, y int) (r, g, b float64) {
	i := (y*t.w + x) * 3
	return float64(t.pix[i]), float64(t.pix[i+1]), float64(t.pix[i+2])
}

// decodeRGBE reads flat and new-style run-length RGBE scanlines.
func decodeRGBE(data []byte) (*tonemapped, error) {
	br := bufio.NewReader(bytes.NewReader(data))

	first, err := br.ReadString('\n')
	if err != nil || !strings.HasPrefix(first, "#?") {
		return nil, fmt.Errorf("%w: missing signature", ErrInvalidHDR)
	}
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("%w: unterminated header", ErrInvalidHDR)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if v, ok := strings.CutPrefix(line, "FORMAT="); ok && v != "32-bit_rle_rgbe" {
			return nil, fmt.Errorf("%w: format %s", ErrInvalidHDR, v)
		}
	}

	res, err := br.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("%w: missing resolution", ErrInvalidHDR)
	}
	f := strings.Fields(res)
	if len(f) != 4 || f[0] != "-Y" || f[2] != "+X" {
		return nil, fmt.Errorf("%w: unsupported orientation %q", ErrInvalidHDR, strings.TrimSpace(res))
	}
	height, err1 := strconv.Atoi(f[1])
	width, err2 := strconv.Atoi(f[3])
	if err1 != nil || err2 != nil || width <= 0 || height <= 0 || width > 1<<15 || height > 1<<15 {
		return nil, fmt.Errorf("%w: bad resolution %q", ErrInvalidHDR, strings.TrimSpace(res))
	}
	if width*height*4 > maxRunExpansion*len(data) {
		return nil, fmt.Errorf("%w: %dx%d cannot fit in %d bytes", ErrInvalidHDR, width, height, len(data))
	}

	out := &tonemapped{w: width, h: height, pix: make([]uint8, width*height*3)}
	scan := make([]byte, width*4)
	for y := 0; y < height; y++ {
		if err := readScanline(br, scan, width); err != nil {
			return nil, fmt.Errorf("%w: scanline %d: %v", ErrInvalidHDR, y, err)
		}
		for x := 0; x < width; x++ {
			r, g, b := rgbeToFloat(scan[x*4:])
			i := (y*width + x) * 3
			out.pix[i+0] = reinhard(r)
			out.pix[i+1] = reinhard(g)
			out.pix[i+2] = reinhard(b)
		}
	}
	return out, nil
}

func readScanline(br *bufio.Reader, scan []byte, width int) error {
	head := make([]byte, 4)
	if _, err := io.ReadFull(br, head); err != nil {
		return err
	}
	rle := width >= 8 && width < 0x8000 && head[0] == 2 && head[1] == 2 && head[2]&0x80 == 0
	if !rle {
		copy(scan, head)
		_, err := io.ReadFull(br, scan[4:])
		return err
	}
	if int(head[2])<<8|int(head[3]) != width {
		return errors.New("scanline width mismatch")
	}

	// Channels are stored one after another, each run-length encoded.
	for c := 0; c < 4; c++ {
		for x := 0; x < width; {
			n, err := br.ReadByte()
			if err != nil {
				return err
			}
			if n > 128 {
				count := int(n) - 128
				if x+count > width {
					return errors.New("run overflows scanline")
				}
				v, err := br.ReadByte()
				if err != nil {
					return err
				}
				for i := 0; i < count; i++ {
					scan[(x+i)*4+c] = v
				}
				x += count
				continue
			}
			count := int(n)
			if count == 0 || x+count > width {
				return errors.New("bad literal run")
			}
			for i := 0; i < count; i++ {
				v, err := br.ReadByte()
				if err != nil {
					return err
				}
				scan[(x+i)*4+c] = v
			}
			x += count
		}
	}
	return nil
}

func rgbeToFloat(p []byte) (r, g, b float64) {
	if p[3] == 0 {
		return 0, 0, 0
	}
	f := math.Ldexp(1, int(p[3])-(128+8))
	return float64(p[0]) * f, float64(p[1]) * f, float64(p[2]) * f
}

// reinhard maps linear radiance to display sRGB-ish 8-bit.
func reinhard(v float64) uint8 {
	v = v / (1 + v)
	v = math.Pow(v, 1/2.2)
	return uint8(math.Min(255, math.Max(0, v*255+0.5)))
}

// mirrorSphere samples the panorama onto a sphere filling the canvas less a
// 20/256 margin on each side, with a one pixel anti-aliased rim.
func mirrorSphere(src *tonemapped, width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	cx, cy := float64(width)/2, float64(height)/2
	radius := float64(min(width, height)) * (1 - 40.0/256) / 2

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			dist := math.Hypot(dx, dy)
			alpha := math.Max(0, math.Min(1, radius+0.5-dist))
			if alpha == 0 {
				continue
			}

			eff := math.Min(dist, radius-0.0001)
			u, v := 0.0, 0.0
			if dist > 0 {
				u = dx * (eff / dist) / radius
				v = dy * (eff / dist) / radius
			}
			z := math.Sqrt(math.Max(0, 1-u*u-v*v))
			lat := math.Asin(v)
			lon := math.Atan2(u, z)

			r, g, b := sampleBilinear(src, (lon/math.Pi+1)/2, (lat/(math.Pi/2)+1)/2)
			o := img.PixOffset(x, y)
			img.Pix[o+0], img.Pix[o+1], img.Pix[o+2] = r, g, b
			img.Pix[o+3] = uint8(255 * alpha)
		}
	}
	return img
}

func sampleBilinear(src *tonemapped, u, v float64) (uint8, uint8, uint8) {
	fx := math.Max(0, math.Min(float64(src.w-1), u*float64(src.w-1)))
	fy := math.Max(0, math.Min(float64(src.h-1), v*float64(src.h-1)))
	x0, y0 := int(fx), int(fy)
	x1, y1 := min(x0+1, src.w-1), min(y0+1, src.h-1)
	tx, ty := fx-float64(x0), fy-float64(y0)

	r00, g00, b00 := src.at(x0, y0)
	r10, g10, b10 := src.at(x1, y0)
	r01, g01, b01 := src.at(x0, y1)
	r11, g11, b11 := src.at(x1, y1)

	lerp := func(a, b, c, d float64) uint8 {
		top := a*(1-tx) + b*tx
		bot := c*(1-tx) + d*tx
		return uint8(top*(1-ty) + bot*ty)
	}
	return lerp(r00, r10, r01, r11), lerp(g00, g10, g01, g11), lerp(b00, b10, b01, b11)
}
