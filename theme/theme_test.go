package theme

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

const sampleGPL = `GIMP Palette
Name: Mono
Columns: 2
# a comment
  0   0   0	Black
255 255 255	White
300 0 0	out of range
`

func TestParseGPL(t *testing.T) {
	p, err := ParseGPL(strings.NewReader(sampleGPL))
	if err != nil {
		t.Fatalf("ParseGPL: %v", err)
	}
	if p.Name != "Mono" {
		t.Fatalf("name %q", p.Name)
	}
	if len(p.Colors) != 2 {
		t.Fatalf("%d colors, want 2", len(p.Colors))
	}
}

func TestParseGPLEmpty(t *testing.T) {
	_, err := ParseGPL(strings.NewReader("GIMP Palette\nName: none\n"))
	if errors.Cause(err) != ErrEmptyPalette {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadOrDefault(t *testing.T) {
	p, err := LoadOrDefault("")
	if err != nil || p.Name != Default().Name {
		t.Fatalf("empty path: %v %v", p, err)
	}

	path := filepath.Join(t.TempDir(), "mono.gpl")
	if err := os.WriteFile(path, []byte(sampleGPL), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err = LoadOrDefault(path)
	if err != nil || p.Name != "Mono" {
		t.Fatalf("file: %v %v", p, err)
	}

	p, err = LoadOrDefault(filepath.Join(t.TempDir(), "missing.gpl"))
	if err == nil {
		t.Fatal("missing file did not report an error")
	}
	if p == nil || len(p.Colors) == 0 {
		t.Fatal("missing file did not fall back")
	}
}

func TestLookup(t *testing.T) {
	p := &Palette{Colors: []RGB{{0, 0, 0}, {200, 100, 50}}}
	tests := []struct {
		norm float64
		want RGB
	}{
		{-1, RGB{0, 0, 0}},
		{0, RGB{0, 0, 0}},
		{0.5, RGB{100, 50, 25}},
		{1, RGB{200, 100, 50}},
		{2, RGB{200, 100, 50}},
	}
	for _, tt := range tests {
		if got := p.Lookup(tt.norm); got != tt.want {
			t.Fatalf("Lookup(%v) = %v, want %v", tt.norm, got, tt.want)
		}
	}
	if p.Index(-3) != p.Colors[0] || p.Index(9) != p.Colors[1] {
		t.Fatal("Index does not clamp")
	}
}

func TestThemeColors(t *testing.T) {
	th := New(nil)
	if th.Palette == nil {
		t.Fatal("nil palette not replaced")
	}
	if got := string(th.BG()); got != "#14171f" {
		t.Fatalf("BG = %s", got)
	}
	if got := string(th.Success()); got != "#ffe89c" {
		t.Fatalf("Success = %s", got)
	}
}
