package generator

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"spacethumbs/imaging"
)

// ErrInvalidPSD is returned for a PSD the decoder cannot read.
var ErrInvalidPSD = errors.New("generator: invalid psd")

const (
	psdModeGray = 1
	psdModeRGB  = 3
)

var psdFold = color.NRGBA{R: 240, G: 240, B: 240, A: 255}

// PSD renders the flattened composite stored at the end of a Photoshop file
// and turns down its top-right corner.
type PSD struct{}

func NewPSD() *PSD { return &PSD{} }

func (p *PSD) Name() string { return "psd" }

func (p *PSD) MatchesMagic(header []byte) bool { return hasPrefix(header, "8BPS") }

func (p *PSD) Validate(header []byte, ext string) bool {
	return ext == "psd" || p.MatchesMagic(header)
}

func (p *PSD) Generate(_ context.Context, req Request) ([]byte, error) {
	data, err := req.Bytes()
	if err != nil {
		return nil, err
	}
	composite, err := decodePSD(data)
	if err != nil {
		return nil, err
	}

	img := imaging.NewCanvas(req.Width, req.Height)
	r := imaging.DrawFitted(img, img.Bounds(), composite, draw.CatmullRom)
	imaging.CornerFold(img, r, min(r.Dx(), r.Dy())*15/100, psdFold)
	return finish(img, req), nil
}

// maxRunExpansion bounds how many decoded bytes a run-length stream can
// yield per input byte. A two-byte run expands to at most 128 bytes.
const maxRunExpansion = 64

// decodePSD reads the merged image data section of an 8-bit RGB or
// grayscale PSD, raw or PackBits compressed.
func decodePSD(data []byte) (*image.NRGBA, error) {
	if len(data) < 26 || string(data[0:4]) != "8BPS" {
		return nil, fmt.Errorf("%w: bad signature", ErrInvalidPSD)
	}
	if v := binary.BigEndian.Uint16(data[4:6]); v != 1 {
		return nil, fmt.Errorf("%w: version %d", ErrInvalidPSD, v)
	}
	channels := int(binary.BigEndian.Uint16(data[12:14]))
	height := int(binary.BigEndian.Uint32(data[14:18]))
	width := int(binary.BigEndian.Uint32(data[18:22]))
	depth := binary.BigEndian.Uint16(data[22:24])
	mode := binary.BigEndian.Uint16(data[24:26])

	if depth != 8 {
		return nil, fmt.Errorf("%w: %d-bit channels", ErrInvalidPSD, depth)
	}
	if mode != psdModeRGB && mode != psdModeGray {
		return nil, fmt.Errorf("%w: color mode %d", ErrInvalidPSD, mode)
	}
	if width <= 0 || height <= 0 || width > 30000 || height > 30000 || channels < 1 {
		return nil, fmt.Errorf("%w: %dx%d with %d channels", ErrInvalidPSD, width, height, channels)
	}

	off := 26
	// Color mode data, image resources, layer and mask info.
	for i := 0; i < 3; i++ {
		if off+4 > len(data) {
			return nil, fmt.Errorf("%w: truncated section %d", ErrInvalidPSD, i)
		}
		off += 4 + int(binary.BigEndian.Uint32(data[off:off+4]))
	}
	if off+2 > len(data) {
		return nil, fmt.Errorf("%w: missing image data", ErrInvalidPSD)
	}
	compression := binary.BigEndian.Uint16(data[off : off+2])
	off += 2

	planes := min(channels, 2)
	if mode == psdModeRGB {
		if channels < 3 {
			return nil, fmt.Errorf("%w: rgb with %d channels", ErrInvalidPSD, channels)
		}
		planes = min(channels, 4)
	}

	plane := width * height
	switch {
	case compression == 0 && off+plane*planes > len(data):
		return nil, fmt.Errorf("%w: truncated raw data", ErrInvalidPSD)
	case compression == 1 && plane*planes > maxRunExpansion*(len(data)-off):
		return nil, fmt.Errorf("%w: %dx%d cannot fit in %d bytes", ErrInvalidPSD, width, height, len(data))
	}

	pix := make([]byte, plane*planes)
	switch compression {
	case 0:
		copy(pix, data[off:off+plane*planes])
	case 1:
		counts := off
		off += channels * height * 2
		if off > len(data) {
			return nil, fmt.Errorf("%w: truncated row table", ErrInvalidPSD)
		}
		for row := 0; row < planes*height; row++ {
			n := int(binary.BigEndian.Uint16(data[counts+row*2:]))
			if off+n > len(data) {
				return nil, fmt.Errorf("%w: truncated rle row", ErrInvalidPSD)
			}
			if err := unpackBits(pix[row*width:(row+1)*width], data[off:off+n]); err != nil {
				return nil, err
			}
			off += n
		}
	default:
		return nil, fmt.Errorf("%w: compression %d", ErrInvalidPSD, compression)
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < plane; i++ {
		o := i * 4
		switch mode {
		case psdModeRGB:
			img.Pix[o+0] = pix[i]
			img.Pix[o+1] = pix[plane+i]
			img.Pix[o+2] = pix[2*plane+i]
			img.Pix[o+3] = 255
			if planes == 4 {
				img.Pix[o+3] = pix[3*plane+i]
			}
		default:
			g := pix[i]
			img.Pix[o+0], img.Pix[o+1], img.Pix[o+2], img.Pix[o+3] = g, g, g, 255
			if planes == 2 {
				img.Pix[o+3] = pix[plane+i]
			}
		}
	}
	return img, nil
}

// unpackBits decodes one PackBits row into dst, which it must fill exactly.
func unpackBits(dst, src []byte) error {
	d := 0
	for s := 0; s < len(src) && d < len(dst); {
		n := int(int8(src[s]))
		s++
		switch {
		case n >= 0:
			n++
			if s+n > len(src) || d+n > len(dst) {
				return fmt.Errorf("%w: literal run overruns row", ErrInvalidPSD)
			}
			copy(dst[d:], src[s:s+n])
			s += n
			d += n
		case n > -128:
			n = 1 - n
			if s >= len(src) || d+n > len(dst) {
				return fmt.Errorf("%w: repeat run overruns row", ErrInvalidPSD)
			}
			for i := 0; i < n; i++ {
				dst[d+i] = src[s]
			}
			s++
			d += n
		}
	}
	if d != len(dst) {
		return fmt.Errorf("%w: short rle row", ErrInvalidPSD)
	}
	return nil
}
