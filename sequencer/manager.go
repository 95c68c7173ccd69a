package sequencer

import (
	"strings"
	"sync"

	"github.com/pkg/errors"

	"go-metronome/clock"
	"go-metronome/config"
	"go-metronome/control"
	"go-metronome/debug"
	"go-metronome/pattern"
	"go-metronome/pendulum"
	"go-metronome/provider"
	"go-metronome/transport"
	"go-metronome/voice"
)

// FlashGap is the minimum spacing between two beat flashes, in seconds.
// Faster beats stay lit instead of strobing.
const FlashGap = 0.15

var (
	ErrUnknownPattern = errors.New("unknown pattern")
	ErrUnknownVoice   = errors.New("unknown voice")
)

// Frame is what the UI draws on each animation frame.
type Frame struct {
	Angle   float64 // pendulum angle in degrees
	Flash   bool    // a beat passed since the previous frame
	Playing bool
}

// Snapshot is the state shown by the TUI and the HTTP surface.
type Snapshot struct {
	BPM       float64 `json:"bpm"`
	Playing   bool    `json:"playing"`
	Voice     string  `json:"voice"`
	VoiceName string  `json:"voiceName"`
	Pattern   string  `json:"pattern"`
	Volume    float64 `json:"volume"`
	Visual    bool    `json:"visual"`
	Tapping   bool    `json:"tapping"`
	Output    string  `json:"output"`
	Share     string  `json:"share"`
}

type ManagerOption func(*Manager)

// WithPersist is called with a copy of the config after every change.
func WithPersist(fn func(*config.Config) error) ManagerOption {
	return func(m *Manager) { m.persist = fn }
}

// WithSchedulerOptions passes extra options to the scheduler.
func WithSchedulerOptions(opts ...Option) ManagerOption {
	return func(m *Manager) { m.schedOpts = append(m.schedOpts, opts...) }
}

// Manager wires the transport, scheduler and pendulum together and keeps the
// config in step with them.
type Manager struct {
	clk       clock.Clock
	transport *transport.Transport
	sched     *Scheduler
	voices    []voice.Voice
	patterns  []pattern.Pattern

	persist   func(*config.Config) error
	schedOpts []Option

	mu  sync.Mutex
	cfg *config.Config

	frameMu   sync.Mutex
	pend      *pendulum.Pendulum
	lastFlash float64
	flashed   bool

	// Notify TUI of updates
	UpdateChan chan struct{}
}

// NewManager builds a stopped manager from cfg. Unknown voice or pattern
// names in cfg fall back to the defaults.
func NewManager(cfg *config.Config, prov provider.Provider, clk clock.Clock, opts ...ManagerOption) (*Manager, error) {
	cfg = cfg.Clone()
	cfg.Normalize()

	m := &Manager{
		clk:        clk,
		voices:     voice.All(),
		patterns:   pattern.Builtin(),
		cfg:        cfg,
		UpdateChan: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(m)
	}
	if cfg.Output.Kind == config.OutputSoundFont && cfg.Output.SoundFont != "" {
		m.voices = voice.WithSource(cfg.Output.SoundFont)
	}

	v, ok := m.lookupVoice(cfg.Voice)
	if !ok {
		debug.Warn("manager", "unknown voice %q, using %s", cfg.Voice, voice.DefaultID)
		v, _ = m.lookupVoice(voice.DefaultID)
	}
	cfg.Voice = v.ID
	p, ok := pattern.Find(cfg.Pattern)
	if !ok {
		debug.Warn("manager", "unknown pattern %q, using %s", cfg.Pattern, pattern.Default)
		p, _ = pattern.Find(pattern.Default)
	}
	cfg.Pattern = p.Name()

	m.transport = transport.New(cfg.BPM, cfg.Voice, cfg.Volume)
	schedOpts := []Option{
		WithLookahead(cfg.Lookahead),
		WithTickInterval(cfg.TickInterval()),
		WithVisual(cfg.UI.Visual),
		WithVoiceLookup(m.lookupVoice),
	}
	sched, err := New(clk, prov, m.transport, p, append(schedOpts, m.schedOpts...)...)
	if err != nil {
		return nil, errors.Wrap(err, "scheduler")
	}
	m.sched = sched
	m.pend = pendulum.New(cfg.BPM)

	m.transport.Attach(player{m})
	m.transport.OnChange(m.transportChanged)
	return m, nil
}

// player adapts the scheduler to the transport's start and stop edges.
type player struct{ m *Manager }

func (p player) Play() error {
	p.m.frameMu.Lock()
	p.m.pend = pendulum.New(p.m.transport.BPM())
	p.m.lastFlash = 0
	p.m.flashed = false
	p.m.frameMu.Unlock()
	return p.m.sched.Start()
}

func (p player) Stop() { p.m.sched.Stop() }

func (m *Manager) lookupVoice(id string) (voice.Voice, bool) {
	for _, v := range m.voices {
		if v.ID == id || strings.EqualFold(v.Name, id) {
			return v, true
		}
	}
	return voice.Voice{}, false
}

func (m *Manager) transportChanged(st transport.State) {
	m.mu.Lock()
	m.cfg.BPM = st.BPM
	m.cfg.Voice = st.Voice
	m.cfg.Volume = st.Volume
	m.mu.Unlock()
	m.save()
	m.notifyUpdate()
}

func (m *Manager) save() {
	if m.persist == nil {
		return
	}
	if err := m.persist(m.Config()); err != nil {
		debug.Warn("manager", "save config: %v", err)
	}
}

// notifyUpdate wakes the TUI without blocking
func (m *Manager) notifyUpdate() {
	select {
	case m.UpdateChan <- struct{}{}:
	default:
	}
}

// Transport exposes the transport for control surfaces.
func (m *Manager) Transport() *transport.Transport { return m.transport }

// Scheduler exposes the scheduler.
func (m *Manager) Scheduler() *Scheduler { return m.sched }

// Now returns the scheduling clock time.
func (m *Manager) Now() float64 { return m.clk.Now() }

// Config returns a copy of the current config.
func (m *Manager) Config() *config.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Clone()
}

func (m *Manager) Play() error { return m.transport.Start() }
func (m *Manager) Stop()       { m.transport.Stop() }
func (m *Manager) Toggle() error {
	return m.transport.Toggle()
}

// SetBPM sets the tempo; the next uncommitted note uses it.
func (m *Manager) SetBPM(bpm float64) { m.transport.SetBPM(bpm) }

// Nudge adds delta beats per minute.
func (m *Manager) Nudge(delta float64) { m.transport.Nudge(delta) }

func (m *Manager) Half()   { m.transport.Half() }
func (m *Manager) Double() { m.transport.Double() }

// SetPattern switches pattern by name without disturbing the beat grid.
func (m *Manager) SetPattern(name string) error {
	p, ok := pattern.Find(name)
	if !ok {
		return errors.Wrapf(ErrUnknownPattern, "%q", name)
	}
	if err := m.sched.SetPattern(p); err != nil {
		return err
	}
	m.mu.Lock()
	changed := m.cfg.Pattern != p.Name()
	m.cfg.Pattern = p.Name()
	m.mu.Unlock()
	if changed {
		m.save()
	}
	m.notifyUpdate()
	return nil
}

// NextPattern moves delta places through the pattern list, wrapping.
func (m *Manager) NextPattern(delta int) error {
	i := pattern.Index(m.sched.Pattern().Name())
	n := len(m.patterns)
	i = ((i+delta)%n + n) % n
	return m.SetPattern(m.patterns[i].Name())
}

// SetVoice changes the default voice by id or display name.
func (m *Manager) SetVoice(id string) error {
	v, ok := m.lookupVoice(id)
	if !ok {
		return errors.Wrapf(ErrUnknownVoice, "%q", id)
	}
	m.sched.Preload(v.ID)
	m.transport.SetVoice(v.ID)
	return nil
}

// NextVoice moves delta places through the voice list, wrapping.
func (m *Manager) NextVoice(delta int) error {
	cur := m.transport.DefaultVoice()
	i := 0
	for j, v := range m.voices {
		if v.ID == cur {
			i = j
			break
		}
	}
	n := len(m.voices)
	i = ((i+delta)%n + n) % n
	return m.SetVoice(m.voices[i].ID)
}

// SetVolume sets the master volume in percent.
func (m *Manager) SetVolume(percent float64) { m.transport.SetVolume(percent) }

// Tap feeds the tap tempo estimator.
func (m *Manager) Tap() {
	m.transport.Tap()
	m.notifyUpdate()
}

// HandleCommand runs a control-surface command against the transport.
func (m *Manager) HandleCommand(cmd control.Command, value uint8) error {
	acted, err := control.Apply(cmd, value, m.transport)
	if err != nil {
		debug.Warn("manager", "%s: %v", cmd, err)
		return err
	}
	if acted {
		debug.Log("manager", "command %s value=%d", cmd, value)
		m.notifyUpdate()
	}
	return nil
}

// Frame advances the pendulum to now and reports whether a beat passed
// since the previous frame. Beats closer than FlashGap to the last flash
// do not flash again.
func (m *Manager) Frame(now float64) Frame {
	passed, upcoming := m.sched.Upcoming(now)
	playing := m.transport.Playing()

	m.frameMu.Lock()
	defer m.frameMu.Unlock()

	if !playing {
		return Frame{}
	}
	f := Frame{Playing: true, Angle: m.pend.Update(now, upcoming)}
	if passed > 0 {
		if !m.flashed || now-m.lastFlash > FlashGap {
			f.Flash = true
		}
		m.flashed = true
		m.lastFlash = now
	}
	return f
}

// Snapshot returns the current state.
func (m *Manager) Snapshot() Snapshot {
	st := m.transport.State()
	cfg := m.Config()
	s := Snapshot{
		BPM:     st.BPM,
		Playing: st.Playing,
		Voice:   st.Voice,
		Pattern: m.sched.Pattern().Name(),
		Volume:  st.Volume,
		Visual:  cfg.UI.Visual,
		Tapping: m.transport.Tapping(),
		Output:  string(cfg.Output.Kind),
		Share:   cfg.Encode(),
	}
	if v, ok := m.lookupVoice(st.Voice); ok {
		s.VoiceName = v.Name
	}
	return s
}

// Voices returns the selectable voices.
func (m *Manager) Voices() []voice.Voice {
	return append([]voice.Voice(nil), m.voices...)
}

// Patterns returns the selectable patterns.
func (m *Manager) Patterns() []pattern.Pattern {
	return append([]pattern.Pattern(nil), m.patterns...)
}

// Close stops playback.
func (m *Manager) Close() {
	m.transport.Stop()
}
