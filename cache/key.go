package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// sampleSize is how much of each end of the content is hashed.
const sampleSize = 4096

// Key is the content address of a source file.
type Key [sha256.Size]byte

// String returns the 64-char lowercase hex form used as the file stem.
func (k Key) String() string { return hex.EncodeToString(k[:]) }

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	var k Key
	if len(s) != hex.EncodedLen(len(k)) {
		return k, fmt.Errorf("cache: key %q has length %d", s, len(s))
	}
	if _, err := hex.Decode(k[:], []byte(s)); err != nil {
		return k, fmt.Errorf("cache: key %q: %w", s, err)
	}
	return k, nil
}

// KeyForBytes digests the length, the first 4 KiB and, for content longer
// than 8 KiB, the last 4 KiB.
func KeyForBytes(data []byte) Key {
	h := sha256.New()
	writeLength(h, uint64(len(data)))
	h.Write(data[:min(len(data), sampleSize)])
	if len(data) > 2*sampleSize {
		h.Write(data[len(data)-sampleSize:])
	}
	var k Key
	h.Sum(k[:0])
	return k
}

// KeyForFile computes the same digest as KeyForBytes by reading only the
// sampled regions of path. A file that cannot be opened or stat'd is keyed
// by its lowercased path instead.
func KeyForFile(path string) Key {
	k, err := keyForFile(path)
	if err != nil {
		return keyForPath(path)
	}
	return k
}

func keyForFile(path string) (Key, error) {
	var k Key
	f, err := os.Open(path)
	if err != nil {
		return k, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return k, err
	}
	size := info.Size()

	h := sha256.New()
	writeLength(h, uint64(size))

	buf := make([]byte, sampleSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return k, err
	}
	h.Write(buf[:n])

	if size > 2*sampleSize {
		n, err := f.ReadAt(buf, size-sampleSize)
		if err != nil && !errors.Is(err, io.EOF) {
			return k, err
		}
		h.Write(buf[:n])
	}
	h.Sum(k[:0])
	return k, nil
}

func keyForPath(path string) Key {
	return sha256.Sum256([]byte(strings.ToLower(path)))
}

func writeLength(w io.Writer, n uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], n)
	w.Write(b[:])
}
