package generator

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
)

// maxEntryBytes caps a single decompressed archive member.
const maxEntryBytes = 64 << 20

func openZip(data []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return zr, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > maxEntryBytes {
		return nil, fmt.Errorf("archive member %s is %d bytes", f.Name, f.UncompressedSize64)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxEntryBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	if len(data) > maxEntryBytes {
		return nil, fmt.Errorf("archive member %s exceeds %d bytes", f.Name, maxEntryBytes)
	}
	return data, nil
}

func findZipFile(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// largestImage returns the biggest jpg/jpeg/png/gif/bmp member accepted by
// keep, or nil.
func largestImage(zr *zip.Reader, keep func(name string) bool) *zip.File {
	var best *zip.File
	for _, f := range zr.File {
		name := strings.ToLower(f.Name)
		switch path.Ext(name) {
		case ".jpg", ".jpeg", ".png", ".gif", ".bmp":
		default:
			continue
		}
		if !keep(name) {
			continue
		}
		if best == nil || f.UncompressedSize64 > best.UncompressedSize64 {
			best = f
		}
	}
	return best
}
