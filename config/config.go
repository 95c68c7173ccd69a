package config

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// OutputKind selects the sample provider
type OutputKind string

const (
	OutputSoundFont OutputKind = "soundfont"
	OutputMIDI      OutputKind = "midi"
	OutputOSC       OutputKind = "osc"
	OutputNone      OutputKind = "none"
)

var (
	ErrInvalidChannel   = errors.New("midi channel must be within 1-16")
	ErrInvalidCC        = errors.New("control change number must be within 0-127")
	ErrInvalidOutput    = errors.New("unknown output kind")
	ErrInvalidLookahead = errors.New("lookahead must be positive and longer than the tick interval")
)

// Scheduling defaults
const (
	DefaultLookahead = 0.1
	DefaultTickMS    = 20
)

// OutputConfig defines where scheduled notes are rendered
type OutputConfig struct {
	Kind        OutputKind `json:"kind"`
	MIDIPort    string     `json:"midiPort,omitempty"`
	MIDIChannel int        `json:"midiChannel,omitempty"` // 1-based, GM drums on 10
	SoundFont   string     `json:"soundFont,omitempty"`
	OSCAddr     string     `json:"oscAddr,omitempty"`
}

// ControlConfig maps control-change numbers from an external surface to
// transport actions. Channel is 1-based.
type ControlConfig struct {
	InputFilter   string `json:"inputFilter,omitempty"` // substring of the input port name
	AutoConnect   bool   `json:"autoConnect"`
	Channel       int    `json:"channel"`
	StartStop     int    `json:"startStop"`
	Tap           int    `json:"tap"`
	Inc           int    `json:"inc"`
	Dec           int    `json:"dec"`
	Inc5          int    `json:"inc5"`
	Dec5          int    `json:"dec5"`
	Inc10         int    `json:"inc10"`
	Dec10         int    `json:"dec10"`
	Half          int    `json:"half"`
	Double        int    `json:"double"`
	TempoMSB      int    `json:"tempoMSB"`
	TempoLSB      int    `json:"tempoLSB"`
	TempoRelative int    `json:"tempoRelative"`
}

// UIConfig stores UI preferences
type UIConfig struct {
	Visual  bool   `json:"visual"`
	Palette string `json:"palette,omitempty"` // path to a GIMP .gpl file
}

// Config is the main configuration structure
type Config struct {
	BPM       float64       `json:"bpm"`
	Voice     string        `json:"voice"`
	Pattern   string        `json:"pattern"`
	Volume    float64       `json:"volume"` // percent
	Lookahead float64       `json:"lookahead,omitempty"`
	TickMS    int           `json:"tickMs,omitempty"`
	Listen    string        `json:"listen,omitempty"`
	Output    OutputConfig  `json:"output"`
	Control   ControlConfig `json:"control"`
	UI        UIConfig      `json:"ui"`
}

// DefaultControl returns the factory control-change mapping
func DefaultControl() ControlConfig {
	return ControlConfig{
		AutoConnect:   true,
		Channel:       15,
		StartStop:     100,
		Tap:           76,
		Inc:           91,
		Dec:           92,
		Inc5:          93,
		Dec5:          94,
		Inc10:         95,
		Dec10:         96,
		Half:          97,
		Double:        98,
		TempoMSB:      74,
		TempoLSB:      75,
		TempoRelative: 90,
	}
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		BPM:       120,
		Voice:     "snare-drum",
		Pattern:   "1",
		Volume:    100,
		Lookahead: DefaultLookahead,
		TickMS:    DefaultTickMS,
		Output: OutputConfig{
			Kind:        OutputSoundFont,
			MIDIChannel: 10,
			OSCAddr:     "127.0.0.1:57120",
		},
		Control: DefaultControl(),
		UI:      UIConfig{Visual: true},
	}
}

// TickInterval returns the scheduler tick as a duration
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickMS) * time.Millisecond
}

// Normalize fills zero values with defaults and clamps numeric ranges
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.BPM <= 0 || math.IsNaN(c.BPM) {
		c.BPM = d.BPM
	}
	c.BPM = math.Max(1, math.Min(999, c.BPM))
	if c.Voice == "" {
		c.Voice = d.Voice
	}
	if c.Pattern == "" {
		c.Pattern = d.Pattern
	}
	if math.IsNaN(c.Volume) || c.Volume < 0 {
		c.Volume = d.Volume
	}
	c.Volume = math.Min(100, c.Volume)
	if c.Lookahead <= 0 {
		c.Lookahead = d.Lookahead
	}
	if c.TickMS <= 0 {
		c.TickMS = d.TickMS
	}
	if c.Output.Kind == "" {
		c.Output.Kind = d.Output.Kind
	}
	if c.Output.MIDIChannel == 0 {
		c.Output.MIDIChannel = d.Output.MIDIChannel
	}
	if c.Output.OSCAddr == "" {
		c.Output.OSCAddr = d.Output.OSCAddr
	}
	if c.Control.Channel == 0 {
		c.Control = d.Control
	}
}

// Validate reports settings that cannot be normalized away
func (c *Config) Validate() error {
	switch c.Output.Kind {
	case OutputSoundFont, OutputMIDI, OutputOSC, OutputNone:
	default:
		return errors.Wrapf(ErrInvalidOutput, "%q", c.Output.Kind)
	}
	if c.Output.MIDIChannel < 1 || c.Output.MIDIChannel > 16 {
		return errors.Wrapf(ErrInvalidChannel, "output channel %d", c.Output.MIDIChannel)
	}
	if c.Control.Channel < 1 || c.Control.Channel > 16 {
		return errors.Wrapf(ErrInvalidChannel, "control channel %d", c.Control.Channel)
	}
	for name, cc := range c.Control.numbers() {
		if cc < 0 || cc > 127 {
			return errors.Wrapf(ErrInvalidCC, "%s=%d", name, cc)
		}
	}
	if c.Lookahead <= c.TickInterval().Seconds() {
		return errors.Wrapf(ErrInvalidLookahead, "lookahead %vs tick %v", c.Lookahead, c.TickInterval())
	}
	return nil
}

func (cc ControlConfig) numbers() map[string]int {
	return map[string]int{
		"startStop":     cc.StartStop,
		"tap":           cc.Tap,
		"inc":           cc.Inc,
		"dec":           cc.Dec,
		"inc5":          cc.Inc5,
		"dec5":          cc.Dec5,
		"inc10":         cc.Inc10,
		"dec10":         cc.Dec10,
		"half":          cc.Half,
		"double":        cc.Double,
		"tempoMSB":      cc.TempoMSB,
		"tempoLSB":      cc.TempoLSB,
		"tempoRelative": cc.TempoRelative,
	}
}

// ConfigDir returns the config directory path
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "go-metronome"), nil
}

// ConfigPath returns the full path to config.json
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the config from the default path, or returns defaults if not found
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return DefaultConfig(), nil
	}
	return LoadFrom(path)
}

// LoadFrom reads the config at path, or returns defaults if it does not exist
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, errors.Wrapf(err, "read %s", path)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	cfg.Normalize()
	return cfg, nil
}

// Save writes the config to the default path
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes the config to path, creating its directory
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "create config dir")
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(path, data, 0644), "write %s", path)
}

// Clone returns a deep copy
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}
