package provider

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/pkg/errors"
	"github.com/sinshu/go-meltysynth/meltysynth"

	"go-metronome/debug"
	"go-metronome/voice"
)

// SampleRate of the SoundFont stream
const SampleRate = 44100

// General MIDI percussion channel, 0-based
const percussionChannel = 9

// synth is the part of a meltysynth.Synthesizer the stream drives.
type synth interface {
	NoteOn(channel, key, velocity int32)
	NoteOff(channel, key int32)
	Render(left, right []float32)
}

type sfHandle struct {
	v     voice.Voice
	synth synth
}

func (h *sfHandle) Voice() voice.Voice { return h.v }

type sfEvent struct {
	frame int64
	seq   uint64
	note  uint64 // pairs a note-on with its note-off
	synth synth
	key   int32
	vel   int32 // 0 = note off
}

type heldKey struct {
	synth synth
	key   int32
}

type fontEntry struct {
	once  sync.Once
	synth synth
	err   error
}

// SoundFont renders voices from .sf2 files with meltysynth and streams the
// result through ebiten's audio context. Its sample counter is the reference
// clock: Now is frames rendered divided by SampleRate, so fire times land on
// exact sample positions. Between reads Now advances with the wall clock,
// at most by the length of the last chunk.
//
// meltysynth releases every voice on a key at once, so overlapping notes on
// the same key share one release, sent when the last of them ends.
type SoundFont struct {
	dir string

	fontsMu sync.Mutex
	fonts   map[string]*fontEntry

	mu       sync.Mutex
	synths   []synth
	events   []sfEvent
	seq      uint64
	notes    uint64
	sounding map[uint64]struct{}
	held     map[heldKey]int
	frame    int64
	left     []float32
	right    []float32
	tmpL     []float32
	tmpR     []float32

	wall    func() time.Time
	readAt  time.Time
	chunk   int64
	lastNow float64

	player *ebitaudio.Player
}

// NewSoundFont creates a stream that resolves relative voice sources
// against dir. Call Open to start audio output.
func NewSoundFont(dir string) *SoundFont {
	return &SoundFont{
		dir:      dir,
		fonts:    make(map[string]*fontEntry),
		sounding: make(map[uint64]struct{}),
		held:     make(map[heldKey]int),
		wall:     time.Now,
	}
}

var (
	audioContextOnce sync.Once
	audioContext     *ebitaudio.Context
)

func sharedAudioContext() *ebitaudio.Context {
	audioContextOnce.Do(func() {
		audioContext = ebitaudio.NewContext(SampleRate)
	})
	return audioContext
}

// Open starts streaming to the default audio device.
func (s *SoundFont) Open() error {
	pl, err := sharedAudioContext().NewPlayerF32(s)
	if err != nil {
		return errors.Wrap(err, "audio player")
	}
	pl.SetBufferSize(50 * time.Millisecond)
	pl.Play()
	s.player = pl
	return nil
}

func (s *SoundFont) Close() error {
	if s.player != nil {
		return s.player.Close()
	}
	return nil
}

// Now returns seconds of audio rendered so far, interpolated since the last
// read. It never goes backwards.
func (s *SoundFont) Now() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := float64(s.frame) / SampleRate
	if !s.readAt.IsZero() {
		ahead := s.wall().Sub(s.readAt).Seconds()
		if limit := float64(s.chunk) / SampleRate; ahead > limit {
			ahead = limit
		}
		if ahead > 0 {
			now += ahead
		}
	}
	if now < s.lastNow {
		now = s.lastNow
	}
	s.lastNow = now
	return now
}

func (s *SoundFont) resolve(src string) string {
	if filepath.IsAbs(src) || s.dir == "" {
		return src
	}
	return filepath.Join(s.dir, src)
}

// loadFont parses each .sf2 once and builds a synthesizer for it.
func (s *SoundFont) loadFont(path string) (synth, error) {
	s.fontsMu.Lock()
	e, ok := s.fonts[path]
	if !ok {
		e = &fontEntry{}
		s.fonts[path] = e
	}
	s.fontsMu.Unlock()

	e.once.Do(func() {
		data, err := os.ReadFile(path)
		if err != nil {
			e.err = errors.Wrapf(err, "read soundfont %s", path)
			return
		}
		sf, err := meltysynth.NewSoundFont(bytes.NewReader(data))
		if err != nil {
			e.err = errors.Wrapf(err, "parse soundfont %s", path)
			return
		}
		settings := meltysynth.NewSynthesizerSettings(SampleRate)
		syn, err := meltysynth.NewSynthesizer(sf, settings)
		if err != nil {
			e.err = errors.Wrapf(err, "synthesizer for %s", path)
			return
		}
		e.synth = syn
		s.addSynth(syn)
		debug.Log("soundfont", "loaded %s", path)
	})
	return e.synth, e.err
}

func (s *SoundFont) addSynth(syn synth) {
	s.mu.Lock()
	s.synths = append(s.synths, syn)
	s.mu.Unlock()
}

func (s *SoundFont) LoadVoice(ctx context.Context, v voice.Voice) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	syn, err := s.loadFont(s.resolve(v.Source))
	if err != nil {
		return nil, err
	}
	return &sfHandle{v: v, synth: syn}, nil
}

// FireAt queues a note-on at the sample nearest at. Times already rendered
// play on the next sample.
func (s *SoundFont) FireAt(h Handle, at float64, pitch uint8, duration, volume float64) {
	sh, ok := h.(*sfHandle)
	if !ok {
		return
	}
	vel := int32(Velocity(volume))
	if vel == 0 {
		return
	}

	start := int64(math.Round(at * SampleRate))
	end := start + int64(math.Max(duration, 0)*SampleRate)

	s.mu.Lock()
	defer s.mu.Unlock()
	if start < s.frame {
		start = s.frame
	}
	if end <= start {
		end = start + 1
	}
	s.notes++
	s.pushLocked(sfEvent{frame: start, note: s.notes, synth: sh.synth, key: int32(pitch), vel: vel})
	s.pushLocked(sfEvent{frame: end, note: s.notes, synth: sh.synth, key: int32(pitch)})
}

func (s *SoundFont) pushLocked(e sfEvent) {
	s.seq++
	e.seq = s.seq
	i := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].frame > e.frame
	})
	s.events = append(s.events, sfEvent{})
	copy(s.events[i+1:], s.events[i:])
	s.events[i] = e
}

// CancelAllPending drops every queued note. Notes already sounding ring out
// and keep their release.
func (s *SoundFont) CancelAllPending() {
	s.mu.Lock()
	kept := s.events[:0]
	for _, e := range s.events {
		if _, ok := s.sounding[e.note]; ok && e.vel == 0 {
			kept = append(kept, e)
		}
	}
	s.events = kept
	s.mu.Unlock()
}

// Pending returns the number of queued note events.
func (s *SoundFont) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Read implements io.Reader for ebiten: interleaved stereo float32 LE.
func (s *SoundFont) Read(p []byte) (int, error) {
	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cap(s.left) < frames {
		s.left = make([]float32, frames)
		s.right = make([]float32, frames)
		s.tmpL = make([]float32, frames)
		s.tmpR = make([]float32, frames)
	}
	left, right := s.left[:frames], s.right[:frames]
	s.renderLocked(left, right)

	s.readAt = s.wall()
	s.chunk = int64(frames)

	for i := 0; i < frames; i++ {
		binary.LittleEndian.PutUint32(p[i*8:], math.Float32bits(left[i]))
		binary.LittleEndian.PutUint32(p[i*8+4:], math.Float32bits(right[i]))
	}
	return frames * 8, nil
}

// renderLocked renders len(left) frames, splitting the block at every
// queued event so note-ons start on their exact sample.
func (s *SoundFont) renderLocked(left, right []float32) {
	n := len(left)
	pos := 0
	for pos < n {
		for len(s.events) > 0 && s.events[0].frame <= s.frame {
			e := s.events[0]
			s.events = s.events[1:]
			s.applyLocked(e)
		}

		end := n
		if len(s.events) > 0 {
			if d := s.events[0].frame - s.frame; int64(pos)+d < int64(end) {
				end = pos + int(d)
			}
		}
		s.mixLocked(left[pos:end], right[pos:end])
		s.frame += int64(end - pos)
		pos = end
	}
}

func (s *SoundFont) applyLocked(e sfEvent) {
	k := heldKey{synth: e.synth, key: e.key}
	if e.vel > 0 {
		s.sounding[e.note] = struct{}{}
		s.held[k]++
		e.synth.NoteOn(percussionChannel, e.key, e.vel)
		return
	}
	if _, ok := s.sounding[e.note]; !ok {
		return
	}
	delete(s.sounding, e.note)
	s.held[k]--
	if s.held[k] > 0 {
		return
	}
	delete(s.held, k)
	e.synth.NoteOff(percussionChannel, e.key)
}

func (s *SoundFont) mixLocked(left, right []float32) {
	for i := range left {
		left[i], right[i] = 0, 0
	}
	k := len(left)
	for _, syn := range s.synths {
		tl, tr := s.tmpL[:k], s.tmpR[:k]
		syn.Render(tl, tr)
		for i := 0; i < k; i++ {
			left[i] += tl[i]
			right[i] += tr[i]
		}
	}
}
