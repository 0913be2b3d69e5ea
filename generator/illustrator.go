package generator

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrNoEmbeddedThumbnail is returned when a container has no preview image.
var ErrNoEmbeddedThumbnail = errors.New("generator: no embedded thumbnail")

var (
	xmpImageOpen  = []byte("<xmpGImg:image>")
	xmpImageClose = []byte("</xmpGImg:image>")
	xmpImageAttr  = []byte(`xmpGImg:image="`)
)

// Illustrator extracts the JPEG preview Illustrator embeds in the XMP
// packet of every .ai file.
type Illustrator struct{}

func NewIllustrator() *Illustrator { return &Illustrator{} }

func (a *Illustrator) Name() string { return "illustrator" }

func (a *Illustrator) Validate(_ []byte, ext string) bool { return ext == "ai" }

func (a *Illustrator) Generate(_ context.Context, req Request) ([]byte, error) {
	data, err := req.Bytes()
	if err != nil {
		return nil, err
	}
	preview, err := xmpThumbnail(data)
	if err != nil {
		return nil, err
	}
	buf, err := fitBytes(preview, req, marginFor(req, 20))
	if err != nil {
		return nil, fmt.Errorf("illustrator: %w", err)
	}
	return buf, nil
}

// xmpThumbnail returns the decoded xmpGImg:image payload, written either as
// element text or as an attribute value.
func xmpThumbnail(data []byte) ([]byte, error) {
	var payload []byte
	if i := bytes.Index(data, xmpImageOpen); i >= 0 {
		rest := data[i+len(xmpImageOpen):]
		if j := bytes.Index(rest, xmpImageClose); j >= 0 {
			payload = rest[:j]
		}
	}
	if payload == nil {
		if i := bytes.Index(data, xmpImageAttr); i >= 0 {
			rest := data[i+len(xmpImageAttr):]
			if j := bytes.IndexByte(rest, '"'); j >= 0 {
				payload = rest[:j]
			}
		}
	}
	if len(payload) == 0 {
		return nil, ErrNoEmbeddedThumbnail
	}

	clean := strings.NewReplacer("&#xA;", "", "&#xD;", "", "\n", "", "\r", "", " ", "", "\t", "").Replace(string(payload))
	out, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoEmbeddedThumbnail, err)
	}
	return out, nil
}
