package generator

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// HeaderSize is how many leading bytes classification looks at.
const HeaderSize = 20

// SniffInput is the classification evidence for one file.
type SniffInput struct {
	Header []byte
	Ext    string
}

// ExtOf returns the lowercase extension of path without the dot.
func ExtOf(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

// SniffBytes takes the first HeaderSize bytes of data.
func SniffBytes(data []byte, ext string) SniffInput {
	n := min(len(data), HeaderSize)
	return SniffInput{Header: data[:n:n], Ext: normalizeExt(ext)}
}

// SniffFile reads up to HeaderSize bytes of path. A short file yields the
// bytes it has.
func SniffFile(path string) (SniffInput, error) {
	f, err := os.Open(path)
	if err != nil {
		return SniffInput{}, fmt.Errorf("sniff %s: %w", path, err)
	}
	defer f.Close()

	header, err := readHeader(f)
	if err != nil {
		return SniffInput{}, fmt.Errorf("sniff %s: %w", path, err)
	}
	return SniffInput{Header: header, Ext: ExtOf(path)}, nil
}

// SniffReader reads up to HeaderSize bytes and seeks back to where r was, so
// the stream stays readable from its original position.
func SniffReader(r io.ReadSeeker, ext string) (SniffInput, error) {
	start, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return SniffInput{}, fmt.Errorf("sniff: %w", err)
	}
	header, err := readHeader(r)
	if _, serr := r.Seek(start, io.SeekStart); serr != nil && err == nil {
		err = serr
	}
	if err != nil {
		return SniffInput{}, fmt.Errorf("sniff: %w", err)
	}
	return SniffInput{Header: header, Ext: normalizeExt(ext)}, nil
}

func readHeader(r io.Reader) ([]byte, error) {
	buf := make([]byte, HeaderSize)
	n, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return buf[:n], nil
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

func hasPrefix(header []byte, magic string) bool {
	return bytes.HasPrefix(header, []byte(magic))
}
