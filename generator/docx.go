package generator

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"spacethumbs/core"
	"spacethumbs/logging"
	"spacethumbs/procrunner"
)

// DOCXOptions configures the Word generator's fallback chain.
type DOCXOptions struct {
	// Office converts a document to PDF. An empty Command disables the stage.
	Office core.ConverterConfig
	Runner Converter
	Logger *logging.Logger
}

// DOCX renders Word documents through a fallback chain: the embedded
// docProps thumbnail, an office conversion to PDF, the largest embedded
// picture, then the document text.
type DOCX struct {
	opts   DOCXOptions
	logger *logging.Logger
}

func NewDOCX(opts DOCXOptions) *DOCX {
	return &DOCX{opts: opts, logger: logging.OrNop(opts.Logger)}
}

func (d *DOCX) Name() string { return "docx" }

func (d *DOCX) Validate(_ []byte, ext string) bool { return ext == "docx" }

func (d *DOCX) Generate(ctx context.Context, req Request) ([]byte, error) {
	data, err := req.Bytes()
	if err != nil {
		return nil, err
	}
	zr, zerr := openZip(data)
	if zerr != nil {
		d.logger.Debug("docx is not a readable archive", zap.Error(zerr))
	}
	archive := func() (*zip.Reader, error) {
		if zr == nil {
			return nil, zerr
		}
		return zr, nil
	}

	return Chain(ctx, d.logger, d.Name(), req,
		Stage{Name: "embedded thumbnail", Run: func(_ context.Context, req Request) ([]byte, error) {
			zr, err := archive()
			if err != nil {
				return nil, err
			}
			for _, name := range []string{"docProps/thumbnail.jpeg", "docProps/thumbnail.jpg", "docProps/thumbnail.png"} {
				if f := findZipFile(zr, name); f != nil {
					raw, err := readZipFile(f)
					if err != nil {
						return nil, err
					}
					return fitBytes(raw, req, 0)
				}
			}
			return nil, ErrNoEmbeddedThumbnail
		}},
		Stage{Name: "office conversion", Run: func(ctx context.Context, req Request) ([]byte, error) {
			return d.convert(ctx, req, data)
		}},
		Stage{Name: "embedded media", Run: func(_ context.Context, req Request) ([]byte, error) {
			zr, err := archive()
			if err != nil {
				return nil, err
			}
			f := largestImage(zr, func(name string) bool { return strings.HasPrefix(name, "word/media/") })
			if f == nil {
				return nil, ErrNoEmbeddedThumbnail
			}
			raw, err := readZipFile(f)
			if err != nil {
				return nil, err
			}
			return fitBytes(raw, req, 0)
		}},
		Stage{Name: "document text", Run: func(_ context.Context, req Request) ([]byte, error) {
			zr, err := archive()
			if err != nil {
				return nil, err
			}
			f := findZipFile(zr, "word/document.xml")
			if f == nil {
				return nil, fmt.Errorf("docx: %w", ErrNoContent)
			}
			raw, err := readZipFile(f)
			if err != nil {
				return nil, err
			}
			text, err := documentText(raw)
			if err != nil {
				return nil, err
			}
			return RenderText(text, req.Width, req.Height), nil
		}},
	)
}

func (d *DOCX) convert(ctx context.Context, req Request, data []byte) ([]byte, error) {
	if d.opts.Office.Command == "" || d.opts.Runner == nil {
		return nil, fmt.Errorf("%w: office", ErrNoConverter)
	}
	cmd := procrunner.CommandFor(d.opts.Office)
	if cmd.OutputExt == "" {
		cmd.OutputExt = "pdf"
	}
	in := procrunner.Input{Path: req.Path, Ext: "docx"}
	if req.Path == "" {
		in.Data = data
	}
	out, err := d.opts.Runner.Convert(ctx, cmd, in)
	if err != nil {
		return nil, err
	}
	return RenderPDF(out, req.Width, req.Height)
}

// documentText joins the w:t runs of word/document.xml, one line per w:p.
func documentText(doc []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(doc))
	var (
		sb     strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("docx text: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteString("    ")
			case "br":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
		if sb.Len() > maxTextBytes {
			break
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", fmt.Errorf("docx: %w", ErrNoContent)
	}
	return sb.String(), nil
}
