package sequencer

import (
	"context"
	"io"
	"math"
	"sort"

	"github.com/pkg/errors"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"go-metronome/clock"
	"go-metronome/pattern"
	"go-metronome/provider"
	"go-metronome/voice"
)

// PPQ is the resolution of rendered MIDI files.
const PPQ = 960

// renderStep is how far the manual clock advances between ticks.
const renderStep = 0.02

// RenderOptions tune an offline render. Zero values mean defaults.
type RenderOptions struct {
	Lookahead float64
	Volume    float64 // master, 0-1; zero means full
	Lookup    func(id string) (voice.Voice, bool)
}

type fixedSource struct {
	bpm    float64
	voice  string
	volume float64
}

func (f fixedSource) BPM() float64         { return f.bpm }
func (f fixedSource) DefaultVoice() string { return f.voice }
func (f fixedSource) Volume() float64      { return f.volume }

// Render runs the scheduler against a manual clock for the given number of
// seconds and returns every note it fired, in time order.
func Render(ctx context.Context, p pattern.Pattern, bpm float64, voiceID string, seconds float64, opts RenderOptions) ([]provider.Fire, error) {
	if p == nil {
		return nil, ErrNoPattern
	}
	if !(seconds > 0) {
		return nil, errors.Errorf("render length must be positive, got %v", seconds)
	}
	if opts.Lookup == nil {
		opts.Lookup = voice.Find
	}
	if opts.Lookahead == 0 {
		opts.Lookahead = DefaultLookahead
	}
	if opts.Volume == 0 {
		opts.Volume = 1
	}

	rec := provider.NewRecorder()
	cache := provider.NewCache(ctx, rec)
	ids := append([]string{voiceID}, p.Voices()...)
	for _, id := range ids {
		v, ok := opts.Lookup(id)
		if !ok {
			return nil, errors.Errorf("unknown voice %q", id)
		}
		if _, err := cache.Wait(ctx, v); err != nil {
			return nil, errors.Wrapf(err, "load %s", id)
		}
	}

	clk := clock.NewManual(0)
	src := fixedSource{bpm: bpm, voice: voiceID, volume: opts.Volume}
	s, err := New(clk, rec, src, p,
		WithLookahead(opts.Lookahead),
		WithTickInterval(0),
		WithVisual(false),
		WithVoiceLookup(opts.Lookup),
		WithCache(cache),
	)
	if err != nil {
		return nil, err
	}

	if err := s.Start(); err != nil {
		return nil, err
	}
	for clk.Now() < seconds {
		if err := ctx.Err(); err != nil {
			s.Stop()
			return nil, err
		}
		clk.Advance(renderStep)
		s.Tick()
	}
	s.Stop()

	var out []provider.Fire
	for _, f := range rec.Fires() {
		if f.At < seconds {
			out = append(out, f)
		}
	}
	return out, nil
}

// WriteSMF encodes fires as a two track Standard MIDI File: a tempo track and
// one note track on the given channel (1-16).
func WriteSMF(w io.Writer, fires []provider.Fire, bpm float64, channel uint8) error {
	if channel < 1 || channel > 16 {
		channel = provider.DrumChannel
	}
	ch := channel - 1
	if !(bpm > 0) {
		return errors.Errorf("invalid tempo %v", bpm)
	}

	sm := smf.New()
	sm.TimeFormat = smf.MetricTicks(PPQ)

	var tempo smf.Track
	tempo.Add(0, smf.MetaMeter(4, 4))
	tempo.Add(0, smf.MetaTempo(bpm))
	tempo.Close(0)
	if err := sm.Add(tempo); err != nil {
		return errors.Wrap(err, "add tempo track")
	}

	type event struct {
		tick uint32
		msg  gomidi.Message
	}
	ticksPerSec := PPQ * bpm / 60
	toTick := func(sec float64) uint32 {
		return uint32(math.Round(sec * ticksPerSec))
	}
	gate := toTick(provider.DefaultGate.Seconds())
	if gate == 0 {
		gate = 1
	}

	var events []event
	for _, f := range fires {
		vel := provider.Velocity(f.Volume)
		if vel == 0 {
			continue
		}
		on := toTick(f.At)
		events = append(events,
			event{on, gomidi.NoteOn(ch, f.Pitch, vel)},
			event{on + gate, gomidi.NoteOff(ch, f.Pitch)},
		)
	}
	// stable, so a note off stays ahead of a retrigger on the same tick
	sort.SliceStable(events, func(i, j int) bool { return events[i].tick < events[j].tick })

	var notes smf.Track
	var last uint32
	for _, e := range events {
		notes.Add(e.tick-last, e.msg)
		last = e.tick
	}
	notes.Close(0)
	if err := sm.Add(notes); err != nil {
		return errors.Wrap(err, "add note track")
	}

	if _, err := sm.WriteTo(w); err != nil {
		return errors.Wrap(err, "write midi file")
	}
	return nil
}
