package transport

import (
	"math"
	"sync"
	"time"

	"go-metronome/debug"
)

// Tempo limits. Every external write is clamped into this range.
const (
	MinBPM = 1
	MaxBPM = 999
)

// TapWindow is how long the tap estimator waits for the next tap before
// starting over.
const TapWindow = 2 * time.Second

const (
	DefaultBPM    = 120
	DefaultVolume = 100
)

// Player starts and stops playback. The transport owns the playing flag and
// calls the player on edges only.
type Player interface {
	Play() error
	Stop()
}

// State is a snapshot of the transport.
type State struct {
	BPM     float64
	Playing bool
	Voice   string
	Volume  float64 // percent, 0-100
}

type tapState struct {
	active bool
	origin time.Time
	last   time.Time
	count  int
	gen    int
	timer  *time.Timer
}

// Transport holds tempo, playing state, default voice and master volume.
// Control surfaces write it; the scheduler samples it once per note.
type Transport struct {
	mu      sync.Mutex
	bpm     float64
	playing bool
	voice   string
	volume  float64
	msb     uint8
	tap     tapState

	player    Player
	observers []func(State)
	now       func() time.Time
}

// New returns a stopped transport.
func New(bpm float64, voiceID string, volume float64) *Transport {
	return &Transport{
		bpm:    ClampBPM(bpm),
		voice:  voiceID,
		volume: clampVolume(volume),
		now:    time.Now,
	}
}

// ClampBPM limits bpm to [MinBPM, MaxBPM]. NaN becomes DefaultBPM.
func ClampBPM(bpm float64) float64 {
	if math.IsNaN(bpm) {
		return DefaultBPM
	}
	return math.Max(MinBPM, math.Min(MaxBPM, bpm))
}

func clampVolume(v float64) float64 {
	if math.IsNaN(v) {
		return DefaultVolume
	}
	return math.Max(0, math.Min(100, v))
}

// SetClock replaces the time source used by the tap estimator.
func (t *Transport) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// Attach binds the transport to a player.
func (t *Transport) Attach(p Player) {
	t.mu.Lock()
	t.player = p
	t.mu.Unlock()
}

// OnChange registers an observer called after every change.
func (t *Transport) OnChange(fn func(State)) {
	t.mu.Lock()
	t.observers = append(t.observers, fn)
	t.mu.Unlock()
}

// BPM returns the current tempo.
func (t *Transport) BPM() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bpm
}

// DefaultVoice returns the voice used for notes without an explicit voice.
func (t *Transport) DefaultVoice() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.voice
}

// Volume returns the master volume scaled to 0-1.
func (t *Transport) Volume() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.volume / 100
}

// Playing reports whether playback is running.
func (t *Transport) Playing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing
}

func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateLocked()
}

func (t *Transport) stateLocked() State {
	return State{BPM: t.bpm, Playing: t.playing, Voice: t.voice, Volume: t.volume}
}

// update applies fn under the lock and notifies observers if it reports a change.
func (t *Transport) update(fn func() bool) {
	t.mu.Lock()
	changed := fn()
	st := t.stateLocked()
	obs := append([]func(State){}, t.observers...)
	t.mu.Unlock()

	if changed {
		for _, o := range obs {
			o(st)
		}
	}
}

func (t *Transport) setBPMLocked(bpm float64) bool {
	bpm = ClampBPM(bpm)
	if bpm == t.bpm {
		return false
	}
	t.bpm = bpm
	return true
}

// SetBPM sets the tempo, clamped to the valid range.
func (t *Transport) SetBPM(bpm float64) {
	t.update(func() bool { return t.setBPMLocked(bpm) })
}

// Nudge adds delta beats per minute.
func (t *Transport) Nudge(delta float64) {
	t.update(func() bool { return t.setBPMLocked(t.bpm + delta) })
}

// Half halves the tempo, rounded to an integer.
func (t *Transport) Half() {
	t.update(func() bool { return t.setBPMLocked(math.Round(t.bpm / 2)) })
}

// Double doubles the tempo, rounded to an integer.
func (t *Transport) Double() {
	t.update(func() bool { return t.setBPMLocked(math.Round(t.bpm * 2)) })
}

// SetTempoMSB latches the upper 7 bits of an absolute tempo. Nothing changes
// until the matching LSB arrives.
func (t *Transport) SetTempoMSB(v uint8) {
	t.mu.Lock()
	t.msb = v & 0x7f
	t.mu.Unlock()
}

// SetTempoLSB completes an absolute tempo: bpm = msb<<7 | lsb.
func (t *Transport) SetTempoLSB(v uint8) {
	t.update(func() bool {
		bpm := int(t.msb)<<7 | int(v&0x7f)
		return t.setBPMLocked(float64(bpm))
	})
}

// Relative applies a signed 7-bit offset centred on 64.
func (t *Transport) Relative(v uint8) {
	t.update(func() bool { return t.setBPMLocked(t.bpm + float64(int(v&0x7f)-64)) })
}

// SetVoice changes the default voice id.
func (t *Transport) SetVoice(id string) {
	t.update(func() bool {
		if t.voice == id {
			return false
		}
		t.voice = id
		return true
	})
}

// SetVolume sets the master volume in percent, clamped to 0-100.
func (t *Transport) SetVolume(percent float64) {
	t.update(func() bool {
		v := clampVolume(percent)
		if v == t.volume {
			return false
		}
		t.volume = v
		return true
	})
}

// Start begins playback. Starting while playing is a no-op.
func (t *Transport) Start() error {
	t.mu.Lock()
	if t.playing {
		t.mu.Unlock()
		return nil
	}
	p := t.player
	t.mu.Unlock()

	if p != nil {
		if err := p.Play(); err != nil {
			return err
		}
	}
	t.update(func() bool {
		t.playing = true
		return true
	})
	return nil
}

// Stop ends playback. Stopping while stopped is a no-op.
func (t *Transport) Stop() {
	t.mu.Lock()
	if !t.playing {
		t.mu.Unlock()
		return
	}
	p := t.player
	t.mu.Unlock()

	if p != nil {
		p.Stop()
	}
	t.update(func() bool {
		t.playing = false
		return true
	})
}

// Toggle flips between playing and stopped.
func (t *Transport) Toggle() error {
	if t.Playing() {
		t.Stop()
		return nil
	}
	return t.Start()
}

// Tap feeds the tap-tempo estimator. The first tap arms it; each further
// tap within TapWindow of the previous one sets
// bpm = round(60000 * taps / elapsed ms) measured from the first tap.
func (t *Transport) Tap() {
	t.update(func() bool {
		now := t.now()
		tp := &t.tap
		if tp.timer != nil {
			tp.timer.Stop()
		}

		changed := false
		if !tp.active || now.Sub(tp.last) > TapWindow {
			tp.active = true
			tp.origin = now
			tp.count = 0
		} else {
			tp.count++
			elapsed := float64(now.Sub(tp.origin)) / float64(time.Millisecond)
			if elapsed > 0 {
				bpm := math.Round(60000 * float64(tp.count) / elapsed)
				changed = t.setBPMLocked(bpm)
				debug.Log("tap", "count=%d elapsed=%.1fms bpm=%v", tp.count, elapsed, t.bpm)
			}
		}
		tp.last = now

		tp.gen++
		gen := tp.gen
		tp.timer = time.AfterFunc(TapWindow, func() { t.resetTap(gen) })
		return changed
	})
}

func (t *Transport) resetTap(gen int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tap.gen != gen {
		return
	}
	t.tap.active = false
	t.tap.count = 0
}

// Tapping reports whether a tap sequence is in progress.
func (t *Transport) Tapping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tap.active
}
