package main

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"go-metronome/clock"
	"go-metronome/config"
	"go-metronome/control"
	"go-metronome/midi"
	"go-metronome/sequencer"
)

func changedSet(names ...string) func(string) bool {
	set := make(map[string]bool)
	for _, n := range names {
		set[n] = true
	}
	return func(name string) bool { return set[name] }
}

func TestOptionsLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	o := options{
		configPath: path,
		share:      "bpm=140&rhythm=Triplet&volume=60",
		bpm:        90,
		voice:      "Claves",
		noVisual:   true,
	}
	cfg, got, err := o.load(changedSet("bpm", "voice"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != path {
		t.Fatalf("path %q", got)
	}
	if cfg.BPM != 90 || cfg.Pattern != "Triplet" || cfg.Voice != "claves" || cfg.Volume != 60 {
		t.Fatalf("config %+v", cfg)
	}
	if cfg.UI.Visual {
		t.Fatal("--no-visual ignored")
	}
}

func TestOptionsLoadRejects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	tests := []struct {
		name    string
		o       options
		changed []string
		cause   error
	}{
		{"pattern", options{pattern: "polka"}, []string{"pattern"}, sequencer.ErrUnknownPattern},
		{"voice", options{voice: "kazoo"}, []string{"voice"}, sequencer.ErrUnknownVoice},
		{"output", options{output: "speaker"}, []string{"output"}, config.ErrInvalidOutput},
		{"channel", options{midiChannel: 17}, []string{"midi-channel"}, config.ErrInvalidChannel},
	}
	for _, tt := range tests {
		tt.o.configPath = path
		_, _, err := tt.o.load(changedSet(tt.changed...))
		if errors.Cause(err) != tt.cause {
			t.Fatalf("%s: err = %v, want %v", tt.name, err, tt.cause)
		}
	}
}

type recordingHandler struct {
	mu   sync.Mutex
	cmds []control.Command
	vals []uint8
}

func (h *recordingHandler) HandleCommand(cmd control.Command, value uint8) error {
	h.mu.Lock()
	h.cmds = append(h.cmds, cmd)
	h.vals = append(h.vals, value)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.cmds)
}

func TestRouteControls(t *testing.T) {
	in := make(chan midi.CCEvent, 4)
	h := &recordingHandler{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- routeControls(ctx, in, control.MustMapping(config.DefaultControl()), h)
	}()

	in <- midi.CCEvent{Port: "pedal", Channel: 0, Controller: 100, Value: 127} // wrong channel
	in <- midi.CCEvent{Port: "pedal", Channel: 14, Controller: 3, Value: 127}  // unmapped
	in <- midi.CCEvent{Port: "pedal", Channel: 14, Controller: 100, Value: 127}

	deadline := time.Now().Add(2 * time.Second)
	for h.count() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("no command routed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("routeControls: %v", err)
	}
	if h.count() != 1 || h.cmds[0] != control.StartStop || h.vals[0] != 127 {
		t.Fatalf("routed %v %v", h.cmds, h.vals)
	}
}

func TestClockWall(t *testing.T) {
	clk := clock.NewManual(10)
	at := clockWall{clk}.Time(10.5)
	d := time.Until(at)
	if d < 400*time.Millisecond || d > 500*time.Millisecond {
		t.Fatalf("offset %v, want about 500ms", d)
	}
}

func TestRenderCommand(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "click.mid")
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{
		"render",
		"--config", filepath.Join(dir, "config.json"),
		"--pattern", "4",
		"--bpm", "120",
		"--seconds", "2",
		"-o", out,
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(buf.String(), "wrote 4 notes") {
		t.Fatalf("output %q", buf.String())
	}
	info, err := os.Stat(out)
	if err != nil || info.Size() == 0 {
		t.Fatalf("midi file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.json")); !os.IsNotExist(err) {
		t.Fatal("render wrote the config")
	}
}

func TestHeadlessAppKeepsNoTimestamps(t *testing.T) {
	for _, headless := range []bool{false, true} {
		cfg := config.DefaultConfig()
		cfg.Output.Kind = config.OutputNone
		cfg.Control.AutoConnect = false
		a, err := newApp(cfg, filepath.Join(t.TempDir(), "config.json"), false, headless)
		if err != nil {
			t.Fatalf("newApp: %v", err)
		}
		if err := a.manager.Play(); err != nil {
			t.Fatalf("play: %v", err)
		}
		for i := 0; i < 5; i++ {
			a.manager.Scheduler().Tick()
		}
		_, queued := a.manager.Scheduler().Upcoming(math.Inf(-1))
		a.Close()

		if headless && len(queued) != 0 {
			t.Fatalf("headless app queued %d timestamps", len(queued))
		}
		if !headless && len(queued) == 0 {
			t.Fatal("app with a pendulum queued nothing")
		}
		if !cfg.UI.Visual {
			t.Fatal("headless mode changed the visual setting")
		}
	}
}
