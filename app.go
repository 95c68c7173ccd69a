package main

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"go-metronome/clock"
	"go-metronome/config"
	"go-metronome/control"
	"go-metronome/debug"
	"go-metronome/midi"
	"go-metronome/pattern"
	"go-metronome/provider"
	"go-metronome/remote"
	"go-metronome/sequencer"
	"go-metronome/theme"
	"go-metronome/voice"
)

// options are the command-line overrides shared by every command.
type options struct {
	configPath  string
	share       string
	bpm         float64
	pattern     string
	voice       string
	volume      float64
	output      string
	soundFont   string
	midiPort    string
	midiChannel int
	osc         string
	mirrorOSC   bool
	listen      string
	lookahead   float64
	noVisual    bool
	surface     string
	palette     string
	debug       bool
}

func (o *options) register(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&o.configPath, "config", "", "config file (default ~/.config/go-metronome/config.json)")
	f.StringVar(&o.share, "params", "", "share string, e.g. bpm=90&voice=Claves&rhythm=8x2&volume=80")
	f.Float64Var(&o.bpm, "bpm", 120, "tempo in beats per minute")
	f.StringVar(&o.pattern, "pattern", pattern.Default, "rhythm pattern name")
	f.StringVar(&o.voice, "voice", voice.DefaultID, "voice id or name")
	f.Float64Var(&o.volume, "volume", 100, "master volume in percent")
	f.StringVar(&o.output, "output", string(config.OutputSoundFont), "output: soundfont, midi, osc or none")
	f.StringVar(&o.soundFont, "soundfont", "", "path to a .sf2 file")
	f.StringVar(&o.midiPort, "midi-port", "", "MIDI output port (substring match)")
	f.IntVar(&o.midiChannel, "midi-channel", provider.DrumChannel, "MIDI output channel 1-16")
	f.StringVar(&o.osc, "osc", "", "OSC target host:port")
	f.BoolVar(&o.mirrorOSC, "mirror-osc", false, "also send every note over OSC")
	f.StringVar(&o.listen, "listen", "", "HTTP control address, e.g. :8080")
	f.Float64Var(&o.lookahead, "lookahead", config.DefaultLookahead, "scheduling lookahead in seconds")
	f.BoolVar(&o.noVisual, "no-visual", false, "disable the pendulum")
	f.StringVar(&o.surface, "surface", "", "only connect control surfaces whose name contains this")
	f.StringVar(&o.palette, "palette", "", "GIMP .gpl palette for the TUI")
	f.BoolVar(&o.debug, "debug", false, "write a debug log")
}

// load reads the config file and overlays the share string and every flag
// the user set. changed reports whether a flag was given.
func (o *options) load(changed func(string) bool) (*config.Config, string, error) {
	path := o.configPath
	if path == "" {
		p, err := config.ConfigPath()
		if err != nil {
			return nil, "", errors.Wrap(err, "config path")
		}
		path = p
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return nil, "", err
	}
	if o.share != "" {
		if err := cfg.ApplyParams(o.share); err != nil {
			return nil, "", errors.Wrap(err, "params")
		}
	}

	if changed("bpm") {
		cfg.BPM = o.bpm
	}
	if changed("pattern") {
		p, ok := pattern.Find(o.pattern)
		if !ok {
			return nil, "", errors.Wrapf(sequencer.ErrUnknownPattern, "%q", o.pattern)
		}
		cfg.Pattern = p.Name()
	}
	if changed("voice") {
		v, ok := voice.Find(o.voice)
		if !ok {
			return nil, "", errors.Wrapf(sequencer.ErrUnknownVoice, "%q", o.voice)
		}
		cfg.Voice = v.ID
	}
	if changed("volume") {
		cfg.Volume = o.volume
	}
	if changed("output") {
		cfg.Output.Kind = config.OutputKind(o.output)
	}
	if changed("soundfont") {
		cfg.Output.SoundFont = o.soundFont
	}
	if changed("midi-port") {
		cfg.Output.MIDIPort = o.midiPort
	}
	if changed("midi-channel") {
		cfg.Output.MIDIChannel = o.midiChannel
	}
	if changed("osc") {
		cfg.Output.OSCAddr = o.osc
	}
	if changed("listen") {
		cfg.Listen = o.listen
	}
	if changed("lookahead") {
		cfg.Lookahead = o.lookahead
	}
	if changed("surface") {
		cfg.Control.InputFilter = o.surface
	}
	if changed("palette") {
		cfg.UI.Palette = o.palette
	}
	if o.noVisual {
		cfg.UI.Visual = false
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// clockWall maps reference times onto wall time through the clock's
// current offset. It lets wall-timed outputs follow the SoundFont clock.
type clockWall struct {
	clk clock.Clock
}

func (c clockWall) Time(t float64) time.Time {
	return time.Now().Add(time.Duration((t - c.clk.Now()) * float64(time.Second)))
}

// output is the provider chosen by the config and the clock it runs on.
type output struct {
	prov    provider.Provider
	clk     clock.Clock
	closers []io.Closer
}

func (o *output) Close() {
	for _, c := range o.closers {
		if err := c.Close(); err != nil {
			debug.Warn("main", "close output: %v", err)
		}
	}
}

func openOutput(cfg *config.Config, mirrorOSC bool) (*output, error) {
	out := &output{}
	wall := clock.NewWall()
	out.clk = wall

	switch cfg.Output.Kind {
	case config.OutputSoundFont:
		dir, err := config.ConfigDir()
		if err != nil {
			dir = ""
		}
		sf := provider.NewSoundFont(dir)
		if err := sf.Open(); err != nil {
			return nil, errors.Wrap(err, "soundfont output")
		}
		out.prov, out.clk = sf, sf
		out.closers = append(out.closers, sf)
	case config.OutputMIDI:
		m, err := provider.NewMIDI(wall, cfg.Output.MIDIPort, cfg.Output.MIDIChannel)
		if err != nil {
			return nil, errors.Wrap(err, "midi output")
		}
		out.prov = m
		out.closers = append(out.closers, m)
	case config.OutputOSC:
		o, err := provider.NewOSC(wall, cfg.Output.OSCAddr)
		if err != nil {
			return nil, errors.Wrap(err, "osc output")
		}
		out.prov = o
		out.closers = append(out.closers, o)
	default:
		out.prov = provider.Silent{}
	}

	if mirrorOSC && cfg.Output.Kind != config.OutputOSC {
		o, err := provider.NewOSC(clockWall{out.clk}, cfg.Output.OSCAddr)
		if err != nil {
			out.Close()
			return nil, errors.Wrap(err, "osc mirror")
		}
		out.prov = provider.NewFanout(out.prov, o)
		out.closers = append(out.closers, o)
	}
	return out, nil
}

// app is everything a running metronome needs.
type app struct {
	cfg     *config.Config
	out     *output
	manager *sequencer.Manager
	devices *midi.DeviceManager // nil when auto-connect is off
	mapping *control.Mapping
	theme   *theme.Theme
}

// newApp opens the output and builds the manager. A headless app has no
// pendulum to draw, so the scheduler does not keep queued timestamps.
func newApp(cfg *config.Config, path string, mirrorOSC, headless bool) (*app, error) {
	mapping, err := control.NewMapping(cfg.Control)
	if err != nil {
		return nil, errors.Wrap(err, "control mapping")
	}

	out, err := openOutput(cfg, mirrorOSC)
	if err != nil {
		return nil, err
	}

	mopts := []sequencer.ManagerOption{
		sequencer.WithPersist(func(c *config.Config) error { return c.SaveTo(path) }),
	}
	if headless {
		mopts = append(mopts, sequencer.WithSchedulerOptions(sequencer.WithVisual(false)))
	}
	mgr, err := sequencer.NewManager(cfg, out.prov, out.clk, mopts...)
	if err != nil {
		out.Close()
		return nil, err
	}

	palette, err := theme.LoadOrDefault(cfg.UI.Palette)
	if err != nil {
		debug.Warn("main", "palette: %v", err)
	}

	a := &app{
		cfg:     cfg,
		out:     out,
		manager: mgr,
		mapping: mapping,
		theme:   theme.New(palette),
	}
	if cfg.Control.AutoConnect {
		a.devices = midi.NewDeviceManager(cfg.Control.InputFilter)
	}
	return a, nil
}

func (a *app) Close() {
	a.manager.Close()
	a.out.Close()
}

// startBackground runs surface polling, CC routing and the HTTP server.
func (a *app) startBackground(ctx context.Context, g *errgroup.Group) {
	if a.devices != nil {
		g.Go(func() error {
			a.devices.Run(ctx)
			return nil
		})
		g.Go(func() error {
			return routeControls(ctx, a.devices.CC(), a.mapping, a.manager)
		})
	}
	if a.cfg.Listen != "" {
		srv := remote.New(a.cfg.Listen, a.manager)
		g.Go(func() error { return srv.Run(ctx) })
	}
}

type commandHandler interface {
	HandleCommand(cmd control.Command, value uint8) error
}

// routeControls turns surface control changes into transport commands.
func routeControls(ctx context.Context, in <-chan midi.CCEvent, mapping *control.Mapping, h commandHandler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-in:
			cmd, ok := mapping.Lookup(ev.Channel, ev.Controller)
			if !ok {
				continue
			}
			// failures are logged by the handler
			_ = h.HandleCommand(cmd, ev.Value)
		}
	}
}
