package cache

import (
	"fmt"
	"image"

	lru "github.com/hashicorp/golang-lru/v2"
)

type memoryKey struct {
	key           Key
	width, height int
}

// Memory is an in-process LRU of decoded thumbnails already resized to the
// requested box. It fronts the disk cache in long-lived hosts.
type Memory struct {
	entries *lru.Cache[memoryKey, *image.NRGBA]
}

// NewMemory creates a tier holding up to size thumbnails.
func NewMemory(size int) (*Memory, error) {
	entries, err := lru.New[memoryKey, *image.NRGBA](size)
	if err != nil {
		return nil, fmt.Errorf("cache: create memory tier: %w", err)
	}
	return &Memory{entries: entries}, nil
}

// Get returns a copy of the thumbnail for key at width×height, which the
// caller owns. A nil Memory always misses.
func (m *Memory) Get(key Key, width, height int) (*image.NRGBA, bool) {
	if m == nil {
		return nil, false
	}
	img, ok := m.entries.Get(memoryKey{key, width, height})
	if !ok {
		return nil, false
	}
	return clone(img), true
}

// Add stores a copy of img; the caller keeps ownership of img.
func (m *Memory) Add(key Key, width, height int, img *image.NRGBA) {
	if m == nil || img == nil {
		return
	}
	m.entries.Add(memoryKey{key, width, height}, clone(img))
}

func clone(img *image.NRGBA) *image.NRGBA {
	out := *img
	out.Pix = append([]uint8(nil), img.Pix...)
	return &out
}

// Len returns the number of cached thumbnails.
func (m *Memory) Len() int {
	if m == nil {
		return 0
	}
	return m.entries.Len()
}

// Purge empties the tier.
func (m *Memory) Purge() {
	if m != nil {
		m.entries.Purge()
	}
}
