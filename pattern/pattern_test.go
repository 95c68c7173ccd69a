package pattern

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/pkg/errors"
)

func TestListPositionalVolumes(t *testing.T) {
	l, err := NewList("test", Note(4), Note(8), Accent(8, 0.7), Rest(16))
	if err != nil {
		t.Fatalf("NewList: %v", err)
	}
	it := l.Iterator()

	want := []BeatSpec{
		{Division: 4, Volume: 1.0},
		{Division: 8, Volume: 0.5},
		{Division: 8, Volume: 0.7},
		{Division: 16, Volume: RestVolume},
		{Division: 4, Volume: 1.0}, // cycles
		{Division: 8, Volume: 0.5},
	}
	for i, w := range want {
		if got := it.Next(); got != w {
			t.Fatalf("note %d: got %+v, want %+v", i, got, w)
		}
	}
}

func TestListIteratorsAreIndependent(t *testing.T) {
	l := MustList("x", Note(4), Note(8), Note(16))
	a := l.Iterator()
	a.Next()
	a.Next()

	b := l.Iterator()
	if got := b.Next().Division; got != 4 {
		t.Fatalf("fresh iterator started at division %v, want 4", got)
	}
	if got := a.Next().Division; got != 16 {
		t.Fatalf("first iterator lost its position: got %v, want 16", got)
	}
}

func TestNewListValidation(t *testing.T) {
	tests := []struct {
		name  string
		notes []BeatSpec
		want  error
	}{
		{"empty", nil, ErrEmptyPattern},
		{"zero division", []BeatSpec{Note(0)}, ErrInvalidDivision},
		{"negative division", []BeatSpec{Note(4), Note(-8)}, ErrInvalidDivision},
		{"nan division", []BeatSpec{Note(math.NaN())}, ErrInvalidDivision},
		{"inf division", []BeatSpec{Note(math.Inf(1))}, ErrInvalidDivision},
		{"volume above one", []BeatSpec{Accent(4, 1.5)}, ErrInvalidVolume},
		{"negative volume", []BeatSpec{Accent(4, -0.1)}, ErrInvalidVolume},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewList(tt.name, tt.notes...)
			if errors.Cause(err) != tt.want {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFuncCounterStartsAtZero(t *testing.T) {
	var seen []int
	f, err := NewFunc("count", nil, 1, func(n int) BeatSpec {
		seen = append(seen, n)
		return Note(4)
	})
	if err != nil {
		t.Fatalf("NewFunc: %v", err)
	}
	seen = nil

	it := f.Iterator()
	for i := 0; i < 3; i++ {
		if v := it.Next().Volume; v != AccentVolume {
			t.Fatalf("unset volume resolved to %v, want %v", v, AccentVolume)
		}
	}
	f.Iterator().Next()

	want := []int{0, 1, 2, 0}
	if len(seen) != len(want) {
		t.Fatalf("counter calls %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("counter calls %v, want %v", seen, want)
		}
	}
}

func TestNewFuncRejectsBadProbe(t *testing.T) {
	_, err := NewFunc("bad", nil, 4, func(n int) BeatSpec {
		if n == 3 {
			return Note(0)
		}
		return Note(4)
	})
	if errors.Cause(err) != ErrInvalidDivision {
		t.Fatalf("got %v, want ErrInvalidDivision", err)
	}

	if _, err := NewFunc("nil", nil, 4, nil); errors.Cause(err) != ErrInvalidProbe {
		t.Fatalf("nil fn: got %v, want ErrInvalidProbe", err)
	}
	if _, err := NewFunc("zero", nil, 0, func(int) BeatSpec { return Note(4) }); errors.Cause(err) != ErrInvalidProbe {
		t.Fatalf("zero probe: got %v, want ErrInvalidProbe", err)
	}
}

func TestFuncRestsOnInvalidNotes(t *testing.T) {
	f := MustFunc("late", nil, 2, func(n int) BeatSpec {
		switch n {
		case 2:
			return Note(-1)
		case 3:
			return Note(math.NaN())
		case 4:
			return Note(8)
		}
		return Note(4)
	})
	it := f.Iterator()
	want := []BeatSpec{
		{Division: 4, Volume: AccentVolume},
		{Division: 4, Volume: AccentVolume},
		Rest(4),
		Rest(4),
		{Division: 8, Volume: AccentVolume},
	}
	for i, w := range want {
		if got := it.Next(); got != w {
			t.Fatalf("note %d = %+v, want %+v", i, got, w)
		}
	}
}

func TestListVoices(t *testing.T) {
	l := MustList("mixed", On("bass-drum", 8), Note(8), On("snare-drum", 8), On("bass-drum", 8))
	v := l.Voices()
	if len(v) != 2 || v[0] != "bass-drum" || v[1] != "snare-drum" {
		t.Fatalf("Voices() = %v", v)
	}
	if len(MustList("plain", Note(4)).Voices()) != 0 {
		t.Fatal("plain pattern should reference no voices")
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		bpm, div, want float64
	}{
		{120, 4, 0.5},
		{60, 4, 1},
		{120, 8, 0.25},
		{90, 12, 4 * 60.0 / 90 / 12},
		{120, 16, 0.125},
	}
	for _, tt := range tests {
		got := Note(tt.div).Duration(tt.bpm)
		if math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Duration(bpm=%v, div=%v) = %v, want %v", tt.bpm, tt.div, got, tt.want)
		}
	}
}

func TestCatalog(t *testing.T) {
	names := Names()
	if len(names) != len(Builtin()) {
		t.Fatalf("Names and Builtin disagree: %d vs %d", len(names), len(Builtin()))
	}
	if names[0] != Default {
		t.Fatalf("first pattern %q, want %q", names[0], Default)
	}

	p, ok := Find("son clave 3-2")
	if !ok {
		t.Fatal("Son Clave 3-2 not found")
	}
	it := p.Iterator()
	first := it.Next()
	if first.Division != 8 || first.Volume != 0.5 {
		t.Fatalf("clave first hit %+v", first)
	}
	if second := it.Next(); second.Volume != RestVolume {
		t.Fatalf("clave second note should be a rest, got %+v", second)
	}

	if _, ok := Find("nope"); ok {
		t.Fatal("unknown pattern found")
	}
	if Index("Triplet") < 0 || Index("nope") != -1 {
		t.Fatal("Index lookup broken")
	}
}

func TestCatalogBarLengths(t *testing.T) {
	// Every clave spans exactly one 4/4 bar
	for _, name := range []string{"Son Clave 3-2", "Son Clave 2-3", "Rumba Clave 3-2", "Rumba Clave 2-3"} {
		p, _ := Find(name)
		l := p.(*List)
		it := l.Iterator()
		var total float64
		for i := 0; i < l.Len(); i++ {
			total += it.Next().Duration(60)
		}
		if math.Abs(total-4) > 1e-9 {
			t.Errorf("%s spans %v beats, want 4", name, total)
		}
	}
}

func TestGeneratedPatternsArePure(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	for _, p := range Builtin() {
		p := p
		properties.Property(p.Name()+" replays identically from a fresh iterator", prop.ForAll(
			func(steps int) bool {
				a, b := p.Iterator(), p.Iterator()
				for i := 0; i < steps; i++ {
					x, y := a.Next(), b.Next()
					if x != y || x.Validate() != nil {
						return false
					}
				}
				return true
			},
			gen.IntRange(1, 200),
		))
	}

	properties.TestingRun(t)
}
