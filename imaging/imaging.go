// Package imaging holds the raster helpers shared by generators, the cache
// read path and placeholders: decoding, resizing, fitting and pixel buffer
// conversion. Generator output is always straight (non-premultiplied) RGBA8,
// which is exactly the Pix layout of an *image.NRGBA with a tight stride.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	// ErrEmptyImage is returned when decoding zero bytes.
	ErrEmptyImage = errors.New("imaging: empty image data")

	// ErrInvalidImage is returned when no registered decoder accepts the data.
	ErrInvalidImage = errors.New("imaging: invalid image data")

	// ErrInvalidDimensions is returned for non-positive sizes or a pixel
	// buffer whose length disagrees with its dimensions.
	ErrInvalidDimensions = errors.New("imaging: invalid dimensions")
)

// BufferSize returns the RGBA8 buffer length for width×height.
func BufferSize(width, height int) int {
	return width * height * 4
}

// Decode decodes any registered format: PNG, JPEG, GIF, BMP, TIFF, WebP.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, nil
}

// NewCanvas returns a fully transparent premultiplied canvas.
func NewCanvas(width, height int) *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, width, height))
}

// Fill paints the whole of dst with c.
func Fill(dst draw.Image, c color.Color) {
	draw.Draw(dst, dst.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
}

// Resize scales img to exactly width×height with Catmull-Rom filtering.
func Resize(img image.Image, width, height int) *image.RGBA {
	dst := NewCanvas(width, height)
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// FitRect returns the largest rectangle with src's aspect ratio that fits
// inside box, centred in box.
func FitRect(src image.Rectangle, box image.Rectangle) image.Rectangle {
	sw, sh := src.Dx(), src.Dy()
	bw, bh := box.Dx(), box.Dy()
	if sw <= 0 || sh <= 0 || bw <= 0 || bh <= 0 {
		return image.Rectangle{Min: box.Min, Max: box.Min}
	}

	w, h := bw, sh*bw/sw
	if h > bh {
		w, h = sw*bh/sh, bh
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	x := box.Min.X + (bw-w)/2
	y := box.Min.Y + (bh-h)/2
	return image.Rect(x, y, x+w, y+h)
}

// Inset shrinks r by margin on every side.
func Inset(r image.Rectangle, margin int) image.Rectangle {
	out := image.Rect(r.Min.X+margin, r.Min.Y+margin, r.Max.X-margin, r.Max.Y-margin)
	if out.Empty() {
		return image.Rectangle{Min: r.Min, Max: r.Min}
	}
	return out
}

// DrawFitted scales src into the largest aspect-preserving rectangle inside
// box and composites it over dst. It returns the rectangle drawn into.
func DrawFitted(dst draw.Image, box image.Rectangle, src image.Image, kernel draw.Interpolator) image.Rectangle {
	r := FitRect(src.Bounds(), box)
	if r.Empty() {
		return r
	}
	if kernel == nil {
		kernel = draw.CatmullRom
	}
	kernel.Scale(dst, r, src, src.Bounds(), draw.Over, nil)
	return r
}

// Fit returns a width×height transparent canvas with src contained and
// centred inside it, leaving margin pixels free on every side.
func Fit(src image.Image, width, height, margin int) *image.RGBA {
	dst := NewCanvas(width, height)
	DrawFitted(dst, Inset(dst.Bounds(), margin), src, draw.CatmullRom)
	return dst
}

// Pixels returns img as a tight straight-alpha RGBA8 buffer of
// Dx()*Dy()*4 bytes, origin at the top-left of the bounds.
func Pixels(img image.Image) []byte {
	b := img.Bounds()
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) && n.Stride == 4*b.Dx() {
		return n.Pix[:BufferSize(b.Dx(), b.Dy())]
	}
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out.Pix
}

// FromPixels wraps a straight-alpha RGBA8 buffer as an *image.NRGBA without
// copying. The buffer length must be exactly width*height*4.
func FromPixels(pix []byte, width, height int) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 || len(pix) != BufferSize(width, height) {
		return nil, fmt.Errorf("%w: %d bytes for %dx%d", ErrInvalidDimensions, len(pix), width, height)
	}
	return &image.NRGBA{Pix: pix, Stride: 4 * width, Rect: image.Rect(0, 0, width, height)}, nil
}

// ToNRGBA converts any image to a tight *image.NRGBA at the origin.
func ToNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	pix := Pixels(img)
	return &image.NRGBA{Pix: pix, Stride: 4 * b.Dx(), Rect: image.Rect(0, 0, b.Dx(), b.Dy())}
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodePixelsPNG encodes a straight-alpha RGBA8 buffer as PNG.
func EncodePixelsPNG(pix []byte, width, height int) ([]byte, error) {
	img, err := FromPixels(pix, width, height)
	if err != nil {
		return nil, err
	}
	return EncodePNG(img)
}

// DecodeResized decodes data and scales it to exactly width×height. Images
// already at the requested size are returned without resampling.
func DecodeResized(data []byte, width, height int) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrInvalidDimensions
	}
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if b := img.Bounds(); b.Dx() == width && b.Dy() == height {
		return ToNRGBA(img), nil
	}
	return ToNRGBA(Resize(img, width, height)), nil
}

// PremultipliedBGRA converts img to premultiplied alpha in B,G,R,A byte
// order, the layout of a 32-bit top-down ARGB DIB section.
func PremultipliedBGRA(img image.Image) []byte {
	n := ToNRGBA(img)
	out := make([]byte, len(n.Pix))
	for i := 0; i+3 < len(n.Pix); i += 4 {
		a := uint32(n.Pix[i+3])
		out[i+0] = uint8(uint32(n.Pix[i+2]) * a / 255)
		out[i+1] = uint8(uint32(n.Pix[i+1]) * a / 255)
		out[i+2] = uint8(uint32(n.Pix[i+0]) * a / 255)
		out[i+3] = uint8(a)
	}
	return out
}
