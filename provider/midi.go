package provider

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	gomidi "gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register MIDI driver

	"go-metronome/debug"
	"go-metronome/voice"
)

// DrumChannel is the General MIDI percussion channel (1-based).
const DrumChannel = 10

// DefaultGate is how long a note is held before its note-off.
const DefaultGate = 50 * time.Millisecond

var ErrPortNotFound = errors.New("midi output port not found")

// MIDI fires notes on an external MIDI output. No samples are loaded;
// the receiving device owns the sounds.
type MIDI struct {
	disp    *Dispatcher
	send    func(gomidi.Message) error
	channel uint8 // 0-based
	gate    time.Duration

	mu     sync.Mutex
	active map[uint8]int // held keys, released on cancel
}

// OpenMIDIOut finds an output port whose name contains name (first port if
// name is empty) and returns its sender.
func OpenMIDIOut(name string) (func(gomidi.Message) error, string, error) {
	for _, port := range gomidi.GetOutPorts() {
		if name == "" || port.String() == name || strings.Contains(port.String(), name) {
			send, err := gomidi.SendTo(port)
			if err != nil {
				return nil, "", errors.Wrapf(err, "open %s", port.String())
			}
			return send, port.String(), nil
		}
	}
	return nil, "", errors.Wrapf(ErrPortNotFound, "%q", name)
}

// NewMIDI opens the named output port.
func NewMIDI(wall WallTimer, portName string, channel int) (*MIDI, error) {
	send, opened, err := OpenMIDIOut(portName)
	if err != nil {
		return nil, err
	}
	debug.Log("midi", "output %s ch=%d", opened, channel)
	return NewMIDISender(wall, send, channel), nil
}

// NewMIDISender builds a MIDI provider around an existing sender.
// channel is 1-based.
func NewMIDISender(wall WallTimer, send func(gomidi.Message) error, channel int) *MIDI {
	if channel < 1 || channel > 16 {
		channel = DrumChannel
	}
	return &MIDI{
		disp:    NewDispatcher(wall),
		send:    send,
		channel: uint8(channel - 1),
		gate:    DefaultGate,
		active:  make(map[uint8]int),
	}
}

// SetGate changes the note-off delay.
func (m *MIDI) SetGate(d time.Duration) { m.gate = d }

func (m *MIDI) LoadVoice(ctx context.Context, v voice.Voice) (Handle, error) {
	return NewHandle(v), nil
}

func (m *MIDI) FireAt(h Handle, at float64, pitch uint8, duration, volume float64) {
	vel := Velocity(volume)
	if vel == 0 {
		// velocity 0 is a note-off; rests stay silent
		return
	}
	gate := m.gate.Seconds()
	if duration > 0 && duration < gate {
		gate = duration
	}

	m.disp.Schedule(at, func() {
		m.mu.Lock()
		m.active[pitch]++
		m.mu.Unlock()
		if err := m.send(gomidi.NoteOn(m.channel, pitch, vel)); err != nil {
			debug.Log("midi", "note on %d: %v", pitch, err)
		}
	})
	m.disp.Schedule(at+gate, func() {
		m.mu.Lock()
		if m.active[pitch] > 0 {
			m.active[pitch]--
		}
		m.mu.Unlock()
		m.send(gomidi.NoteOff(m.channel, pitch))
	})
}

// CancelAllPending drops queued notes and releases anything still held.
func (m *MIDI) CancelAllPending() {
	m.disp.CancelAll()
	m.releaseHeld()
}

func (m *MIDI) releaseHeld() {
	m.mu.Lock()
	held := m.active
	m.active = make(map[uint8]int)
	m.mu.Unlock()

	for key, n := range held {
		if n > 0 {
			m.send(gomidi.NoteOff(m.channel, key))
		}
	}
}

func (m *MIDI) Close() error {
	m.disp.Close()
	m.releaseHeld()
	return nil
}
