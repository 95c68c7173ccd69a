package voice

import "strings"

// Voice is a selectable instrument: which sample to load and how to play it.
type Voice struct {
	ID       string
	Name     string
	Source   string  // sample reference, interpreted by the provider
	Pitch    uint8   // GM drum key
	Duration float64 // seconds the sample is allowed to ring
	Volume   float64 // base volume 0-1
}

// DefaultID is the voice selected when nothing is configured.
const DefaultID = "snare-drum"

// defaultSource is the SoundFont every built-in voice points at. Providers
// resolve it relative to their own sample directory.
const defaultSource = "drums.sf2"

// All voices use the General MIDI percussion key map
var voices = []Voice{
	{ID: "snare-drum", Name: "Snare Drum", Pitch: 38, Volume: 0.8},
	{ID: "side-stick", Name: "Side Stick", Pitch: 37, Volume: 0.8},
	{ID: "side-stick-2", Name: "Side Stick 2", Pitch: 37, Volume: 0.8},
	{ID: "bass-drum", Name: "Bass Drum", Pitch: 36, Volume: 0.8},
	{ID: "hand-clap", Name: "Hand Clap", Pitch: 39, Volume: 0.8},
	{ID: "high-wood-block", Name: "High Wood Block", Pitch: 76, Volume: 0.9},
	{ID: "claves", Name: "Claves", Pitch: 75, Volume: 0.8},
	{ID: "ride-cymbal", Name: "Ride Cymbal", Pitch: 51, Volume: 0.8},
	{ID: "closed-hihat", Name: "Closed Hi-hat", Pitch: 42, Volume: 0.8},
	{ID: "pedal-hihat", Name: "Pedal Hi-hat", Pitch: 44, Volume: 0.8},
	{ID: "stick", Name: "Stick", Pitch: 43, Volume: 0.8},
	{ID: "metronome-click", Name: "Metronome Click", Pitch: 43, Volume: 0.8},
}

func init() {
	for i := range voices {
		voices[i].Source = defaultSource
		voices[i].Duration = 3.5
	}
}

// All returns the voice catalog in display order.
func All() []Voice {
	return append([]Voice(nil), voices...)
}

// IDs returns voice ids in display order.
func IDs() []string {
	ids := make([]string, len(voices))
	for i, v := range voices {
		ids[i] = v.ID
	}
	return ids
}

// Find returns a voice by id or display name, defaulting to false if unknown.
func Find(idOrName string) (Voice, bool) {
	for _, v := range voices {
		if v.ID == idOrName || strings.EqualFold(v.Name, idOrName) {
			return v, true
		}
	}
	return Voice{}, false
}

// Index returns the catalog position of a voice id, or -1.
func Index(id string) int {
	for i, v := range voices {
		if v.ID == id {
			return i
		}
	}
	return -1
}

// WithSource returns copies of the catalog pointing at a different sample
// source (e.g. a user supplied SoundFont).
func WithSource(src string) []Voice {
	out := All()
	for i := range out {
		out[i].Source = src
	}
	return out
}
