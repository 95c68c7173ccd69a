package sequencer

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"

	"go-metronome/clock"
	"go-metronome/debug"
	"go-metronome/pattern"
	"go-metronome/provider"
	"go-metronome/voice"
)

const (
	DefaultLookahead    = 0.1
	DefaultTickInterval = 20 * time.Millisecond
)

var (
	ErrNoPattern        = errors.New("sequencer: no pattern")
	ErrInvalidLookahead = errors.New("sequencer: lookahead must be positive")
	ErrInvalidTick      = errors.New("sequencer: tick interval must not be negative")
)

// Event is one scheduled note.
type Event struct {
	Time   float64 // clock seconds
	Voice  string
	Volume float64 // beat volume factor, before voice and master gain
	Length float64 // seconds until the next note
}

// Source is sampled once per note.
type Source interface {
	BPM() float64
	DefaultVoice() string
	Volume() float64 // master, 0-1
}

type Option func(*Scheduler)

// WithLookahead sets how far ahead of the clock notes are committed, in seconds.
func WithLookahead(sec float64) Option {
	return func(s *Scheduler) { s.lookahead = sec }
}

// WithTickInterval sets the ticker period. Zero disables the ticker; the
// caller then drives Tick itself.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

// WithVisual turns tracking of queued timestamps for the pendulum on or off.
func WithVisual(on bool) Option {
	return func(s *Scheduler) { s.visual = on }
}

// WithOnEvent registers a callback for every scheduled note. It runs with
// the scheduler locked and must not call back into it.
func WithOnEvent(fn func(Event)) Option {
	return func(s *Scheduler) { s.onEvent = fn }
}

// WithVoiceLookup replaces the voice catalog lookup.
func WithVoiceLookup(fn func(id string) (voice.Voice, bool)) Option {
	return func(s *Scheduler) { s.lookup = fn }
}

// WithCache shares a voice cache, e.g. one already warmed up.
func WithCache(c *provider.Cache) Option {
	return func(s *Scheduler) { s.cache = c }
}

// Scheduler commits notes to a provider a short lookahead ahead of the
// clock. Tempo is read from the source per note, so changes take effect on
// the next note without disturbing the running timeline.
type Scheduler struct {
	clk       clock.Clock
	prov      provider.Provider
	src       Source
	cache     *provider.Cache
	lookup    func(string) (voice.Voice, bool)
	onEvent   func(Event)
	lookahead float64
	interval  time.Duration
	visual    bool

	mu           sync.Mutex
	pattern      pattern.Pattern
	iter         pattern.Iterator
	nextFireTime float64
	queued       []float64
	playing      bool
	epoch        uint64

	stopChan chan struct{}
	doneChan chan struct{}
}

// New returns a stopped scheduler.
func New(clk clock.Clock, prov provider.Provider, src Source, pat pattern.Pattern, opts ...Option) (*Scheduler, error) {
	if clk == nil || prov == nil || src == nil {
		return nil, errors.New("sequencer: clock, provider and source are required")
	}
	if pat == nil {
		return nil, ErrNoPattern
	}
	s := &Scheduler{
		clk:       clk,
		prov:      prov,
		src:       src,
		lookup:    voice.Find,
		lookahead: DefaultLookahead,
		interval:  DefaultTickInterval,
		visual:    true,
		pattern:   pat,
		iter:      pat.Iterator(),
	}
	for _, o := range opts {
		o(s)
	}
	if !(s.lookahead > 0) || math.IsInf(s.lookahead, 0) {
		return nil, errors.Wrapf(ErrInvalidLookahead, "%v", s.lookahead)
	}
	if s.interval < 0 {
		return nil, errors.Wrapf(ErrInvalidTick, "%v", s.interval)
	}
	if s.cache == nil {
		s.cache = provider.NewCache(context.Background(), prov)
	}
	return s, nil
}

// Start begins scheduling from the current clock time. Starting while
// playing is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.playing {
		s.mu.Unlock()
		return nil
	}
	s.playing = true
	s.epoch++
	s.nextFireTime = s.clk.Now()
	s.iter = s.pattern.Iterator()
	s.queued = s.queued[:0]
	s.preloadLocked(s.pattern)
	debug.Log("scheduler", "start at %.3f pattern=%s", s.nextFireTime, s.pattern.Name())
	s.tickLocked()

	if s.interval > 0 {
		s.stopChan = make(chan struct{})
		s.doneChan = make(chan struct{})
		go s.run(s.stopChan, s.doneChan)
	}
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) run(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Stop halts scheduling and cancels every note the provider has not played
// yet. Voice loads that finish after Stop do not fire.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.playing {
		s.mu.Unlock()
		return
	}
	s.playing = false
	s.epoch++
	s.queued = s.queued[:0]
	stop, done := s.stopChan, s.doneChan
	s.stopChan, s.doneChan = nil, nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	s.prov.CancelAllPending()
	debug.Log("scheduler", "stop")
}

// Playing reports whether the scheduler is running.
func (s *Scheduler) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Tick runs one scheduling pass.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.playing {
		return
	}
	s.tickLocked()
}

func (s *Scheduler) tickLocked() {
	now := s.clk.Now()
	horizon := now + s.lookahead
	n := 0
	for s.nextFireTime < horizon {
		b := s.iter.Next()
		bpm := s.src.BPM()
		if !(bpm >= 1) {
			bpm = 1
		}
		ev := Event{
			Time:   s.nextFireTime,
			Voice:  b.Voice,
			Volume: b.Volume,
			Length: b.Duration(bpm),
		}
		if !(ev.Length > 0) || math.IsInf(ev.Length, 0) {
			debug.LogEvery(20, "scheduler", "note length %v, using one beat", ev.Length)
			ev.Length = 60 / bpm
		}
		ev.Voice = s.fireLocked(ev)
		if s.onEvent != nil {
			s.onEvent(ev)
		}
		if s.visual {
			s.queued = append(s.queued, s.nextFireTime)
		}
		s.nextFireTime += ev.Length
		n++
	}
	if n > 1 {
		debug.LogEvery(50, "scheduler", "tick at %.3f scheduled %d notes", now, n)
	}
}

// fireLocked hands ev to the provider and returns the voice id it used.
func (s *Scheduler) fireLocked(ev Event) string {
	master := s.src.Volume()

	if ev.Voice != "" {
		if v, ok := s.lookup(ev.Voice); ok {
			if h, ok := s.cache.Get(v.ID); ok {
				s.prov.FireAt(h, ev.Time, v.Pitch, v.Duration, v.Volume*ev.Volume*master)
				return v.ID
			}
			s.cache.Ensure(v)
		}
	}

	id := s.src.DefaultVoice()
	v, ok := s.lookup(id)
	if !ok {
		debug.LogEvery(20, "scheduler", "unknown default voice %q", id)
		return id
	}
	vol := v.Volume * ev.Volume * master
	if h, ok := s.cache.Get(v.ID); ok {
		s.prov.FireAt(h, ev.Time, v.Pitch, v.Duration, vol)
		return v.ID
	}

	// not loaded yet: fire at the scheduled time once it is, unless playback
	// was restarted or stopped in between
	epoch := s.epoch
	s.cache.Await(v, func(h provider.Handle) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.playing || s.epoch != epoch {
			return
		}
		s.prov.FireAt(h, ev.Time, v.Pitch, v.Duration, vol)
	})
	return v.ID
}

func (s *Scheduler) preloadLocked(p pattern.Pattern) {
	ids := append([]string{s.src.DefaultVoice()}, p.Voices()...)
	for _, id := range ids {
		if v, ok := s.lookup(id); ok {
			s.cache.Ensure(v)
		}
	}
}

// Preload starts loading a voice ahead of its first note.
func (s *Scheduler) Preload(id string) {
	if v, ok := s.lookup(id); ok {
		s.cache.Ensure(v)
	}
}

// SetPattern replaces the pattern. While playing the next note comes from a
// fresh iterator of p at the already computed next fire time; notes already
// committed still play.
func (s *Scheduler) SetPattern(p pattern.Pattern) error {
	if p == nil {
		return ErrNoPattern
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pattern = p
	s.iter = p.Iterator()
	if s.playing {
		s.preloadLocked(p)
	}
	debug.Log("scheduler", "pattern %s at next %.3f", p.Name(), s.nextFireTime)
	return nil
}

// Pattern returns the active pattern.
func (s *Scheduler) Pattern() pattern.Pattern {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pattern
}

// NextFireTime returns when the next uncommitted note is due.
func (s *Scheduler) NextFireTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextFireTime
}

// Upcoming drops queued timestamps at or before now, returning how many were
// dropped and a copy of the rest.
func (s *Scheduler) Upcoming(now float64) (passed int, upcoming []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for passed < len(s.queued) && s.queued[passed] <= now {
		passed++
	}
	if passed > 0 {
		s.queued = append(s.queued[:0], s.queued[passed:]...)
	}
	return passed, append([]float64(nil), s.queued...)
}
