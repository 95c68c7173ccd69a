package pattern

import (
	"strings"
)

// Voice ids used by the generated patterns
const (
	voiceKick  = "bass-drum"
	voiceSnare = "snare-drum"
	voiceHat   = "closed-hihat"
)

// Default is the pattern selected when nothing is configured.
const Default = "1"

var builtin = []Pattern{
	MustList("1", Note(4)),
	MustList("2", Note(4), Note(4)),
	MustList("3", Note(4), Note(4), Note(4)),
	MustList("4", Note(4), Note(4), Note(4), Note(4)),
	MustList("5", Note(4), Note(4), Note(4), Note(4), Note(4)),
	MustList("8x2", Note(8), Note(8)),
	MustList("Triplet", Note(12), Note(12), Note(12)),
	MustList("Triplet-1", Note(12), Rest(12), Note(12)),
	MustList("16x4", Note(16), Note(16), Note(16), Note(16)),
	MustList("16x4-2", Note(16), Rest(16), Rest(16), Note(16)),

	// Claves. The accented first hit is explicitly lowered so the bar
	// does not read as a downbeat click.
	MustList("Son Clave 3-2",
		Accent(8, 0.5), Rest(16), Note(16), Rest(8), Note(8),
		Rest(8), Note(8), Note(8), Rest(8),
	),
	MustList("Son Clave 2-3",
		Rest(8), Note(8), Note(8), Rest(8),
		Accent(8, 0.5), Rest(16), Note(16), Rest(8), Note(8),
	),
	MustList("Rumba Clave 3-2",
		Accent(8, 0.5), Rest(16), Note(16), Rest(8), Rest(16), Note(16),
		Rest(8), Note(8), Note(8), Rest(8),
	),
	MustList("Rumba Clave 2-3",
		Rest(8), Note(8), Note(8), Rest(8),
		Accent(8, 0.5), Rest(16), Note(16), Rest(8), Rest(16), Note(16),
	),

	MustFunc("Kick & Hat", []string{voiceKick, voiceHat}, 8, kickAndHat),
	MustFunc("Backbeat", []string{voiceKick, voiceSnare, voiceHat}, 8, backbeat),
	MustFunc("Ghost 16ths", []string{voiceSnare}, 64, ghostSixteenths),
}

func kickAndHat(n int) BeatSpec {
	if n%2 == 0 {
		return BeatSpec{Division: 8, Volume: 1, Voice: voiceKick}
	}
	return BeatSpec{Division: 8, Volume: 0.6, Voice: voiceHat}
}

// backbeat: kick on 1, snare on 3, hats on the remaining eighths of a 4/4 bar
func backbeat(n int) BeatSpec {
	switch n % 8 {
	case 0:
		return BeatSpec{Division: 8, Volume: 1, Voice: voiceKick}
	case 4:
		return BeatSpec{Division: 8, Volume: 0.9, Voice: voiceSnare}
	default:
		return BeatSpec{Division: 8, Volume: 0.5, Voice: voiceHat}
	}
}

// ghostSixteenths accents every beat and scatters ghost notes between them.
// The ghost level is a hash of n, so the stream never repeats but any
// iterator started from zero produces the same notes.
func ghostSixteenths(n int) BeatSpec {
	if n%4 == 0 {
		return BeatSpec{Division: 16, Volume: 1, Voice: voiceSnare}
	}
	h := mix(uint64(n))
	if h%3 == 0 {
		return Rest(16)
	}
	level := 0.15 + 0.3*float64(h%1000)/1000
	return BeatSpec{Division: 16, Volume: level, Voice: voiceSnare}
}

// mix is the splitmix64 finalizer.
func mix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// Builtin returns all built-in patterns in display order.
func Builtin() []Pattern {
	return append([]Pattern(nil), builtin...)
}

// Names returns built-in pattern names in display order.
func Names() []string {
	names := make([]string, len(builtin))
	for i, p := range builtin {
		names[i] = p.Name()
	}
	return names
}

// Find looks up a built-in pattern by name (case-insensitive).
func Find(name string) (Pattern, bool) {
	for _, p := range builtin {
		if strings.EqualFold(p.Name(), name) {
			return p, true
		}
	}
	return nil, false
}

// Index returns the position of a named pattern in Builtin, or -1.
func Index(name string) int {
	for i, p := range builtin {
		if strings.EqualFold(p.Name(), name) {
			return i
		}
	}
	return -1
}
