package generator

import (
	"context"
	"encoding/binary"
	"fmt"

	"spacethumbs/imaging"
)

var rasterExts = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "gif": true, "bmp": true,
	"tif": true, "tiff": true, "webp": true,
}

// Raster decodes ordinary images and fits them into the box.
type Raster struct{}

func NewRaster() *Raster { return &Raster{} }

func (r *Raster) Name() string { return "raster" }

// MatchesMagic recognises PNG, JPEG, GIF, BMP, TIFF and WebP headers.
func (r *Raster) MatchesMagic(header []byte) bool {
	switch {
	case hasPrefix(header, "\x89PNG\r\n\x1a\n"),
		hasPrefix(header, "\xff\xd8\xff"),
		hasPrefix(header, "GIF87a"), hasPrefix(header, "GIF89a"),
		hasPrefix(header, "II*\x00"), hasPrefix(header, "MM\x00*"):
		return true
	case len(header) >= 12 && hasPrefix(header, "RIFF") && string(header[8:12]) == "WEBP":
		return true
	}
	return isBMP(header)
}

// dibHeaderSizes are the BITMAPINFOHEADER variants a real BMP carries.
var dibHeaderSizes = map[uint32]bool{12: true, 40: true, 52: true, 56: true, 108: true, 124: true}

// isBMP checks the whole BITMAPFILEHEADER, not only the "BM" tag, so text
// that happens to start with "BM" is left to extension matching.
func isBMP(header []byte) bool {
	if len(header) < 18 || !hasPrefix(header, "BM") {
		return false
	}
	if binary.LittleEndian.Uint32(header[6:10]) != 0 {
		return false
	}
	return dibHeaderSizes[binary.LittleEndian.Uint32(header[14:18])]
}

func (r *Raster) Validate(header []byte, ext string) bool {
	return rasterExts[ext] || r.MatchesMagic(header)
}

func (r *Raster) Generate(_ context.Context, req Request) ([]byte, error) {
	data, err := req.Bytes()
	if err != nil {
		return nil, err
	}
	img, err := imaging.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("raster: %w", err)
	}
	return finish(imaging.Fit(img, req.Width, req.Height, 0), req), nil
}

// fitBytes decodes an embedded image and fits it with margin, for the
// generators that extract a picture from a container.
func fitBytes(data []byte, req Request, margin int) ([]byte, error) {
	img, err := imaging.Decode(data)
	if err != nil {
		return nil, err
	}
	return finish(imaging.Fit(img, req.Width, req.Height, margin), req), nil
}
