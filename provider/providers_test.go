package provider

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/scgolang/osc"
	gomidi "gitlab.com/gomidi/midi/v2"

	"go-metronome/clock"
)

type midiSink struct {
	mu   sync.Mutex
	msgs []gomidi.Message
}

func (s *midiSink) send(msg gomidi.Message) error {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
	return nil
}

func (s *midiSink) messages() []gomidi.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gomidi.Message(nil), s.msgs...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMIDIFiresNoteOnAndOff(t *testing.T) {
	wall := clock.NewWall()
	sink := &midiSink{}
	m := NewMIDISender(wall, sink.send, DrumChannel)
	m.SetGate(10 * time.Millisecond)
	defer m.Close()

	h, err := m.LoadVoice(context.Background(), testVoice("snare-drum"))
	if err != nil {
		t.Fatalf("LoadVoice: %v", err)
	}
	m.FireAt(h, wall.Now()+0.01, 38, 3.5, 0.8)
	m.FireAt(h, wall.Now(), 38, 3.5, 1e-4) // rest, silent

	waitFor(t, func() bool { return len(sink.messages()) >= 2 })

	msgs := sink.messages()
	var ch, key, vel uint8
	if !msgs[0].GetNoteOn(&ch, &key, &vel) {
		t.Fatalf("first message %v is not a note on", msgs[0])
	}
	if ch != 9 || key != 38 || vel != 102 {
		t.Fatalf("note on ch=%d key=%d vel=%d", ch, key, vel)
	}
	if !msgs[1].GetNoteOff(&ch, &key, &vel) || key != 38 {
		t.Fatalf("second message %v is not the note off", msgs[1])
	}
	if len(msgs) != 2 {
		t.Fatalf("rest produced output: %v", msgs)
	}
}

func TestMIDICancel(t *testing.T) {
	wall := clock.NewWall()
	sink := &midiSink{}
	m := NewMIDISender(wall, sink.send, 0) // invalid channel falls back to drums
	defer m.Close()

	h, _ := m.LoadVoice(context.Background(), testVoice("claves"))
	m.FireAt(h, wall.Now()+0.1, 75, 3.5, 1)
	m.CancelAllPending()
	time.Sleep(150 * time.Millisecond)
	if msgs := sink.messages(); len(msgs) != 0 {
		t.Fatalf("cancelled note sent: %v", msgs)
	}
}

type fakeSynth struct {
	frames int64
	ons    []int64
	offs   []int64
	keys   []int32
	vels   []int32
}

func (f *fakeSynth) NoteOn(channel, key, velocity int32) {
	f.ons = append(f.ons, f.frames)
	f.keys = append(f.keys, key)
	f.vels = append(f.vels, velocity)
}

func (f *fakeSynth) NoteOff(channel, key int32) {
	f.offs = append(f.offs, f.frames)
}

func (f *fakeSynth) Render(left, right []float32) {
	f.frames += int64(len(left))
	for i := range left {
		left[i], right[i] = 0.25, -0.25
	}
}

func TestSoundFontSampleAccurate(t *testing.T) {
	sf := NewSoundFont("")
	fs := &fakeSynth{}
	sf.addSynth(fs)
	h := &sfHandle{v: testVoice("snare-drum"), synth: fs}

	sf.FireAt(h, 0.5, 38, 0.1, 1)
	sf.FireAt(h, 0.25, 38, 0.1, 0.5)
	sf.FireAt(h, 0.3, 38, 0.1, 0) // silent, dropped
	if sf.Pending() != 4 {
		t.Fatalf("pending = %d, want 4", sf.Pending())
	}

	buf := make([]byte, 8*1000)
	for sf.Now() < 1 {
		n, err := sf.Read(buf)
		if err != nil || n != len(buf) {
			t.Fatalf("Read = %d, %v", n, err)
		}
	}

	want := []int64{SampleRate / 4, SampleRate / 2}
	if len(fs.ons) != 2 || fs.ons[0] != want[0] || fs.ons[1] != want[1] {
		t.Fatalf("note ons at frames %v, want %v", fs.ons, want)
	}
	if fs.vels[0] != 64 || fs.vels[1] != 127 {
		t.Fatalf("velocities %v", fs.vels)
	}
	if len(fs.offs) != 2 || fs.offs[0] != SampleRate/4+SampleRate/10 {
		t.Fatalf("note offs at %v", fs.offs)
	}
	if sf.Pending() != 0 {
		t.Fatalf("pending after render = %d", sf.Pending())
	}
}

func TestSoundFontMixesAndCancels(t *testing.T) {
	sf := NewSoundFont("")
	a, b := &fakeSynth{}, &fakeSynth{}
	sf.addSynth(a)
	sf.addSynth(b)

	buf := make([]byte, 8*4)
	sf.Read(buf)
	// two synths at 0.25 each
	l := readFloat(buf[0:4])
	r := readFloat(buf[4:8])
	if l != 0.5 || r != -0.5 {
		t.Fatalf("mixed sample l=%v r=%v", l, r)
	}

	h := &sfHandle{v: testVoice("stick"), synth: a}
	sf.FireAt(h, 10, 43, 0.1, 1)
	sf.CancelAllPending()
	if sf.Pending() != 0 {
		t.Fatal("CancelAllPending left events queued")
	}

	// late fire lands on the next sample
	sf.FireAt(h, 0, 43, 0.1, 1)
	sf.Read(buf)
	if len(a.ons) != 1 || a.ons[0] != 4 {
		t.Fatalf("late note on at %v, want [4]", a.ons)
	}
}

func TestSoundFontMissingFile(t *testing.T) {
	sf := NewSoundFont(t.TempDir())
	v := testVoice("snare-drum")
	if _, err := sf.LoadVoice(context.Background(), v); err == nil {
		t.Fatal("expected error for missing soundfont")
	}
	// the failure is memoized per file
	if _, err := sf.loadFont(sf.resolve(v.Source)); err == nil {
		t.Fatal("expected memoized error")
	}
}

type oscSink struct {
	mu   sync.Mutex
	msgs []osc.Message
	err  error
}

func (s *oscSink) Send(p osc.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if m, ok := p.(osc.Message); ok {
		s.msgs = append(s.msgs, m)
	}
	return nil
}

func (s *oscSink) messages() []osc.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]osc.Message(nil), s.msgs...)
}

func TestOSC(t *testing.T) {
	wall := clock.NewWall()
	sink := &oscSink{}
	o := newOSC(wall, sink)
	defer o.Close()

	h, err := o.LoadVoice(context.Background(), testVoice("claves"))
	if err != nil {
		t.Fatalf("LoadVoice: %v", err)
	}
	o.FireAt(h, wall.Now(), 75, 3.5, 0.4)
	waitFor(t, func() bool { return len(sink.messages()) == 2 })

	msgs := sink.messages()
	if msgs[0].Address != AddressLoad {
		t.Fatalf("first message %s", msgs[0].Address)
	}
	note := msgs[1]
	if note.Address != AddressNote || len(note.Arguments) != 4 {
		t.Fatalf("note message %+v", note)
	}
	if id, err := note.Arguments[0].ReadString(); err != nil || id != "claves" {
		t.Fatalf("voice argument %v %v", id, err)
	}
	if p, err := note.Arguments[1].ReadInt32(); err != nil || p != 75 {
		t.Fatalf("pitch argument %v %v", p, err)
	}

	sink.err = errors.New("unreachable")
	if _, err := o.LoadVoice(context.Background(), testVoice("stick")); err == nil {
		t.Fatal("expected announce error")
	}
}

func TestFanout(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	b.FailVoice("ride-cymbal", errors.New("missing"))
	f := NewFanout(a, b)

	h, err := f.LoadVoice(context.Background(), testVoice("ride-cymbal"))
	if err != nil {
		t.Fatalf("LoadVoice: %v", err)
	}
	f.FireAt(h, 1, 51, 3.5, 0.8)
	if len(a.Fires()) != 1 || len(b.Fires()) != 0 {
		t.Fatalf("fires a=%d b=%d", len(a.Fires()), len(b.Fires()))
	}

	a.FailVoice("stick", errors.New("missing"))
	b.FailVoice("stick", errors.New("missing"))
	if _, err := f.LoadVoice(context.Background(), testVoice("stick")); err == nil {
		t.Fatal("expected error when every provider fails")
	}

	f.CancelAllPending()
	if a.Cancelled() != 1 || b.Cancelled() != 1 {
		t.Fatal("cancel not forwarded")
	}
}

func readFloat(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func TestSilentLoadsEverything(t *testing.T) {
	var p Provider = Silent{}
	h, err := p.LoadVoice(context.Background(), testVoice("anything"))
	if err != nil || h.Voice().ID != "anything" {
		t.Fatalf("LoadVoice: %v %v", h, err)
	}
	p.FireAt(h, 0, 38, 1, 1)
	p.CancelAllPending()
}

func TestSoundFontOverlappingNotesShareRelease(t *testing.T) {
	sf := NewSoundFont("")
	fs := &fakeSynth{}
	sf.addSynth(fs)
	h := &sfHandle{v: testVoice("snare-drum"), synth: fs}

	// quarter notes at 120 bpm, each ringing 3.5s
	for i := 0; i < 8; i++ {
		sf.FireAt(h, float64(i)*0.5, 38, 3.5, 1)
	}
	buf := make([]byte, 8*441)
	for sf.Now() < 8 {
		sf.Read(buf)
	}

	if len(fs.ons) != 8 {
		t.Fatalf("note ons %v", fs.ons)
	}
	// one release, when the last note's ring ends
	want := int64(math.Round((3.5 + 3.5) * SampleRate))
	if len(fs.offs) != 1 || fs.offs[0] != want {
		t.Fatalf("note offs at %v, want [%d]", fs.offs, want)
	}
}

func TestSoundFontCancelKeepsRelease(t *testing.T) {
	sf := NewSoundFont("")
	fs := &fakeSynth{}
	sf.addSynth(fs)
	h := &sfHandle{v: testVoice("stick"), synth: fs}

	sf.FireAt(h, 0, 43, 0.5, 1)
	sf.FireAt(h, 1, 43, 0.5, 1)
	buf := make([]byte, 8*441)
	sf.Read(buf)
	if len(fs.ons) != 1 {
		t.Fatalf("note ons %v", fs.ons)
	}

	sf.CancelAllPending()
	if sf.Pending() != 1 {
		t.Fatalf("pending = %d, want the sounding note's release", sf.Pending())
	}
	for sf.Now() < 2 {
		sf.Read(buf)
	}
	if len(fs.ons) != 1 || len(fs.offs) != 1 || fs.offs[0] != SampleRate/2 {
		t.Fatalf("ons %v offs %v", fs.ons, fs.offs)
	}
}

func TestSoundFontNowInterpolates(t *testing.T) {
	sf := NewSoundFont("")
	sf.addSynth(&fakeSynth{})
	base := time.Unix(0, 0)
	wall := base
	sf.wall = func() time.Time { return wall }

	buf := make([]byte, 8*441) // 10ms
	sf.Read(buf)
	if got := sf.Now(); got != 0.01 {
		t.Fatalf("Now after read = %v", got)
	}

	wall = base.Add(5 * time.Millisecond)
	if got := sf.Now(); math.Abs(got-0.015) > 1e-9 {
		t.Fatalf("Now mid chunk = %v, want 0.015", got)
	}

	// capped at one chunk ahead
	wall = base.Add(time.Second)
	if got := sf.Now(); math.Abs(got-0.02) > 1e-9 {
		t.Fatalf("Now past chunk = %v, want 0.02", got)
	}

	// a smaller chunk never moves the clock back
	sf.Read(make([]byte, 8*100))
	prev := 0.02
	if got := sf.Now(); got < prev {
		t.Fatalf("Now went back to %v", got)
	}
}
