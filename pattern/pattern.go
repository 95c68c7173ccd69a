package pattern

import (
	"math"

	"github.com/pkg/errors"

	"go-metronome/debug"
)

// RestVolume is the near-silent volume used for rest placeholders. Rests are
// still scheduled so the pattern keeps its shape.
const RestVolume = 1e-4

// Default relative volumes for list patterns
const (
	AccentVolume = 1.0
	BeatVolume   = 0.5
)

var (
	ErrEmptyPattern    = errors.New("pattern has no notes")
	ErrInvalidDivision = errors.New("note division must be positive")
	ErrInvalidVolume   = errors.New("note volume must be within [0, 1]")
	ErrInvalidProbe    = errors.New("generator probe count must be positive")
)

// BeatSpec is one logical note.
type BeatSpec struct {
	Division float64 // 4 = quarter, 8 = eighth, 12 = quarter triplet
	Volume   float64 // relative volume (0 = positional default)
	Voice    string  // optional voice id, empty = transport default
}

// Note returns a plain note of the given division.
func Note(division float64) BeatSpec {
	return BeatSpec{Division: division}
}

// Rest returns a near-silent placeholder note.
func Rest(division float64) BeatSpec {
	return BeatSpec{Division: division, Volume: RestVolume}
}

// Accent returns a note with an explicit relative volume.
func Accent(division, volume float64) BeatSpec {
	return BeatSpec{Division: division, Volume: volume}
}

// On returns a note played on a specific voice.
func On(voiceID string, division float64) BeatSpec {
	return BeatSpec{Division: division, Voice: voiceID}
}

// Duration returns the note length in seconds at the given tempo.
// A beat is a quarter note, so a whole note lasts 4*60/bpm seconds.
func (b BeatSpec) Duration(bpm float64) float64 {
	return 4 * 60 / bpm / b.Division
}

// Validate reports configuration errors in a note.
func (b BeatSpec) Validate() error {
	if math.IsNaN(b.Division) || math.IsInf(b.Division, 0) || b.Division <= 0 {
		return errors.Wrapf(ErrInvalidDivision, "division %v", b.Division)
	}
	if math.IsNaN(b.Volume) || b.Volume < 0 || b.Volume > 1 {
		return errors.Wrapf(ErrInvalidVolume, "volume %v", b.Volume)
	}
	return nil
}

// Pattern is a stateless rhythm template. Iterating it requires a fresh
// Iterator per pass.
type Pattern interface {
	Name() string
	Voices() []string // voice ids referenced by the pattern
	Iterator() Iterator
}

// Iterator yields an infinite stream of notes. It is not restartable.
type Iterator interface {
	Next() BeatSpec
}

// List is a finite sequence of notes cycled forever.
type List struct {
	name   string
	notes  []BeatSpec
	voices []string
}

// NewList validates notes and builds a cyclic pattern.
func NewList(name string, notes ...BeatSpec) (*List, error) {
	if len(notes) == 0 {
		return nil, errors.Wrapf(ErrEmptyPattern, "pattern %q", name)
	}
	for i, n := range notes {
		if err := n.Validate(); err != nil {
			return nil, errors.Wrapf(err, "pattern %q note %d", name, i)
		}
	}
	cp := make([]BeatSpec, len(notes))
	copy(cp, notes)
	return &List{name: name, notes: cp, voices: collectVoices(cp)}, nil
}

// MustList is NewList for static tables; it panics on invalid input.
func MustList(name string, notes ...BeatSpec) *List {
	l, err := NewList(name, notes...)
	if err != nil {
		panic(err)
	}
	return l
}

func (l *List) Name() string     { return l.name }
func (l *List) Voices() []string { return append([]string(nil), l.voices...) }
func (l *List) Len() int         { return len(l.notes) }

func (l *List) Iterator() Iterator {
	return &listIterator{notes: l.notes}
}

type listIterator struct {
	notes []BeatSpec
	index int
}

func (it *listIterator) Next() BeatSpec {
	i := it.index
	it.index = (it.index + 1) % len(it.notes)

	n := it.notes[i]
	if n.Volume == 0 {
		if i == 0 {
			n.Volume = AccentVolume
		} else {
			n.Volume = BeatVolume
		}
	}
	return n
}

// Func is a generated pattern: a pure function of a per-iterator counter.
type Func struct {
	name   string
	voices []string
	fn     func(n int) BeatSpec
}

// NewFunc builds a generated pattern. The first probe outputs of fn are
// validated up front so bad generators fail at construction, not playback.
func NewFunc(name string, voices []string, probe int, fn func(n int) BeatSpec) (*Func, error) {
	if fn == nil || probe <= 0 {
		return nil, errors.Wrapf(ErrInvalidProbe, "pattern %q", name)
	}
	for n := 0; n < probe; n++ {
		if err := fn(n).Validate(); err != nil {
			return nil, errors.Wrapf(err, "pattern %q event %d", name, n)
		}
	}
	return &Func{name: name, voices: append([]string(nil), voices...), fn: fn}, nil
}

// MustFunc is NewFunc for static tables; it panics on invalid input.
func MustFunc(name string, voices []string, probe int, fn func(n int) BeatSpec) *Func {
	f, err := NewFunc(name, voices, probe, fn)
	if err != nil {
		panic(err)
	}
	return f
}

func (f *Func) Name() string     { return f.name }
func (f *Func) Voices() []string { return append([]string(nil), f.voices...) }

func (f *Func) Iterator() Iterator {
	return &funcIterator{fn: f.fn}
}

type funcIterator struct {
	fn     func(n int) BeatSpec
	n      int
	last   float64 // division of the last valid note
	warned bool
}

// Next replaces an invalid generated note with a rest as long as the last
// valid one.
func (it *funcIterator) Next() BeatSpec {
	b := it.fn(it.n)
	it.n++
	if err := b.Validate(); err != nil {
		if !it.warned {
			debug.Warn("pattern", "event %d: %v, resting", it.n-1, err)
			it.warned = true
		}
		if it.last == 0 {
			it.last = 4
		}
		return Rest(it.last)
	}
	it.last = b.Division
	if b.Volume == 0 {
		b.Volume = AccentVolume
	}
	return b
}

func collectVoices(notes []BeatSpec) []string {
	var voices []string
	seen := make(map[string]bool)
	for _, n := range notes {
		if n.Voice != "" && !seen[n.Voice] {
			seen[n.Voice] = true
			voices = append(voices, n.Voice)
		}
	}
	return voices
}
