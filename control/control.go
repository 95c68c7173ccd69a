// Package control maps control-surface input (MIDI control changes and
// keys) onto transport commands.
package control

import (
	"github.com/pkg/errors"
	gomidi "gitlab.com/gomidi/midi/v2"

	"go-metronome/config"
)

// Command is a transport action a control surface can trigger.
type Command int

const (
	None Command = iota
	StartStop
	Tap
	Inc1
	Dec1
	Inc5
	Dec5
	Inc10
	Dec10
	Half
	Double
	TempoMSB
	TempoLSB
	TempoRelative
)

var commandNames = [...]string{
	None:          "none",
	StartStop:     "start-stop",
	Tap:           "tap",
	Inc1:          "inc",
	Dec1:          "dec",
	Inc5:          "inc5",
	Dec5:          "dec5",
	Inc10:         "inc10",
	Dec10:         "dec10",
	Half:          "half",
	Double:        "double",
	TempoMSB:      "tempo-msb",
	TempoLSB:      "tempo-lsb",
	TempoRelative: "tempo-relative",
}

func (c Command) String() string {
	if c < 0 || int(c) >= len(commandNames) {
		return "unknown"
	}
	return commandNames[c]
}

// Momentary commands fire on a press (value > 0) and ignore releases.
func (c Command) Momentary() bool {
	switch c {
	case TempoMSB, TempoLSB, TempoRelative, None:
		return false
	}
	return true
}

var ErrDuplicateCC = errors.New("control change assigned to more than one command")

// Mapping resolves (channel, controller) pairs to commands.
type Mapping struct {
	channel uint8 // 0-based
	byCC    map[uint8]Command
}

// NewMapping builds a mapping from config. Channel is 1-based.
func NewMapping(cc config.ControlConfig) (*Mapping, error) {
	if cc.Channel < 1 || cc.Channel > 16 {
		return nil, errors.Wrapf(config.ErrInvalidChannel, "control channel %d", cc.Channel)
	}
	m := &Mapping{channel: uint8(cc.Channel - 1), byCC: make(map[uint8]Command)}
	assign := []struct {
		cmd Command
		cc  int
	}{
		{StartStop, cc.StartStop},
		{Tap, cc.Tap},
		{Inc1, cc.Inc},
		{Dec1, cc.Dec},
		{Inc5, cc.Inc5},
		{Dec5, cc.Dec5},
		{Inc10, cc.Inc10},
		{Dec10, cc.Dec10},
		{Half, cc.Half},
		{Double, cc.Double},
		{TempoMSB, cc.TempoMSB},
		{TempoLSB, cc.TempoLSB},
		{TempoRelative, cc.TempoRelative},
	}
	for _, a := range assign {
		if a.cc < 0 || a.cc > 127 {
			return nil, errors.Wrapf(config.ErrInvalidCC, "%s=%d", a.cmd, a.cc)
		}
		n := uint8(a.cc)
		if prev, ok := m.byCC[n]; ok {
			return nil, errors.Wrapf(ErrDuplicateCC, "cc %d: %s and %s", n, prev, a.cmd)
		}
		m.byCC[n] = a.cmd
	}
	return m, nil
}

// MustMapping is NewMapping for known good configs.
func MustMapping(cc config.ControlConfig) *Mapping {
	m, err := NewMapping(cc)
	if err != nil {
		panic(err)
	}
	return m
}

// Channel returns the 1-based channel the mapping listens on.
func (m *Mapping) Channel() uint8 { return m.channel + 1 }

// Lookup returns the command for a control change on a 0-based channel.
func (m *Mapping) Lookup(channel, cc uint8) (Command, bool) {
	if channel != m.channel {
		return None, false
	}
	cmd, ok := m.byCC[cc]
	return cmd, ok
}

// Decode resolves a MIDI message. Only control changes on the mapped
// channel match.
func (m *Mapping) Decode(msg gomidi.Message) (Command, uint8, bool) {
	var ch, cc, val uint8
	if !msg.GetControlChange(&ch, &cc, &val) {
		return None, 0, false
	}
	cmd, ok := m.Lookup(ch, cc)
	if !ok {
		return None, 0, false
	}
	return cmd, val, true
}

// Target is what commands act on; *transport.Transport implements it.
type Target interface {
	Toggle() error
	Tap()
	Nudge(delta float64)
	Half()
	Double()
	SetTempoMSB(v uint8)
	SetTempoLSB(v uint8)
	Relative(v uint8)
}

// Apply runs cmd against t. Momentary commands with value 0 are releases
// and do nothing. It reports whether anything was done.
func Apply(cmd Command, value uint8, t Target) (bool, error) {
	if cmd.Momentary() && value == 0 {
		return false, nil
	}
	switch cmd {
	case StartStop:
		return true, t.Toggle()
	case Tap:
		t.Tap()
	case Inc1:
		t.Nudge(1)
	case Dec1:
		t.Nudge(-1)
	case Inc5:
		t.Nudge(5)
	case Dec5:
		t.Nudge(-5)
	case Inc10:
		t.Nudge(10)
	case Dec10:
		t.Nudge(-10)
	case Half:
		t.Half()
	case Double:
		t.Double()
	case TempoMSB:
		t.SetTempoMSB(value)
	case TempoLSB:
		t.SetTempoLSB(value)
	case TempoRelative:
		t.Relative(value)
	default:
		return false, nil
	}
	return true, nil
}
