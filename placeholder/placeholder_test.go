package placeholder

import (
	"testing"
)

func TestImages(t *testing.T) {
	for _, k := range Kinds() {
		t.Run(k.String(), func(t *testing.T) {
			img := Image(k)
			if b := img.Bounds(); b.Dx() != Size || b.Dy() != Size {
				t.Fatalf("bounds = %v, want %dx%d", b, Size, Size)
			}
			if a := img.NRGBAAt(0, 0).A; a != 0 {
				t.Errorf("corner alpha = %d, want transparent", a)
			}
			if a := img.NRGBAAt(center, center-radius+5).A; a != 255 {
				t.Errorf("disc alpha = %d, want opaque", a)
			}
			if Image(k) != img {
				t.Error("Image() is not cached")
			}
		})
	}
}

func TestLoadingDisc(t *testing.T) {
	img := Image(Loading)
	if got := img.NRGBAAt(center, center); got != blue {
		t.Errorf("centre = %v, want %v", got, blue)
	}
	// (128+100, 128) lies exactly on the circle and is outside under d² < r².
	if a := img.NRGBAAt(center+radius, center).A; a != 0 {
		t.Errorf("edge alpha = %d, want 0", a)
	}
	if a := img.NRGBAAt(center+radius-1, center).A; a != 255 {
		t.Errorf("inner edge alpha = %d, want 255", a)
	}
}

func TestARGB(t *testing.T) {
	for _, k := range Kinds() {
		buf := ARGB(k)
		if len(buf) != Size*Size*4 {
			t.Fatalf("%s: len = %d, want %d", k, len(buf), Size*Size*4)
		}
		img := Image(k)
		for i := 0; i < len(buf); i += 4 {
			p := img.Pix[i : i+4]
			a := uint32(p[3])
			want := [4]byte{byte(uint32(p[2]) * a / 255), byte(uint32(p[1]) * a / 255), byte(uint32(p[0]) * a / 255), p[3]}
			if got := [4]byte{buf[i], buf[i+1], buf[i+2], buf[i+3]}; got != want {
				t.Fatalf("%s: pixel %d = %v, want %v", k, i/4, got, want)
			}
		}
	}

	// The Loading centre is (0,120,215,255): B,G,R,A in memory.
	off := (center*Size + center) * 4
	if got := ARGB(Loading)[off : off+4]; got[0] != 215 || got[1] != 120 || got[2] != 0 || got[3] != 255 {
		t.Errorf("Loading centre = %v, want [215 120 0 255]", got)
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		k    Kind
		want string
	}{
		{Loading, "loading"},
		{TimedOut, "timed_out"},
		{TooLarge, "too_large"},
		{Error, "error"},
		{Kind(7), "Kind(7)"},
	}
	for _, tt := range tests {
		if got := tt.k.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
		if tt.k <= Error {
			if k, err := ParseKind(tt.want); err != nil || k != tt.k {
				t.Errorf("ParseKind(%q) = %v, %v", tt.want, k, err)
			}
		}
	}
}
