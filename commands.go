package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"go-metronome/midi"
	"go-metronome/pattern"
	"go-metronome/sequencer"
	"go-metronome/voice"
)

const defaultListen = ":8080"

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List the rhythm patterns",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, p := range pattern.Builtin() {
			mark := " "
			if p.Name() == pattern.Default {
				mark = "*"
			}
			voices := "default voice"
			if vs := p.Voices(); len(vs) > 0 {
				voices = strings.Join(vs, ", ")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %-16s %s\n", mark, p.Name(), voices)
		}
		return nil
	},
}

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "List the voices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, v := range voice.All() {
			mark := " "
			if v.ID == voice.DefaultID {
				mark = "*"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %-16s %-16s key %d\n", mark, v.ID, v.Name, v.Pitch)
		}
		return nil
	},
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List MIDI ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ins, outs, err := midi.ListPorts()
		if err != nil {
			if errors.Cause(err) == midi.ErrPortsHung {
				fmt.Fprintln(cmd.ErrOrStderr(), "MIDI system is not answering. Fix: sudo killall coreaudiod midiserver")
			}
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintln(w, "=== MIDI Input Ports ===")
		for i, p := range ins {
			fmt.Fprintf(w, "  %d: %s\n", i, p)
		}
		fmt.Fprintln(w, "\n=== MIDI Output Ports ===")
		for i, p := range outs {
			fmt.Fprintf(w, "  %d: %s\n", i, p)
		}
		return nil
	},
}

var shareCmd = &cobra.Command{
	Use:   "share",
	Short: "Print the share string for the current settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := opts.load(cmd.Flags().Changed)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cfg.Encode())
		return nil
	},
}

var renderFlags struct {
	seconds float64
	out     string
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render the current pattern to a Standard MIDI File",
	Long: `Render schedules the pattern offline, exactly as it would play live,
and writes the notes to a Standard MIDI File.

Example:
  go-metronome render --pattern "Kick & Hat" --bpm 100 --seconds 16 -o groove.mid`,
	Args: cobra.NoArgs,
	RunE: runRender,
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, _, err := opts.load(cmd.Flags().Changed)
	if err != nil {
		return err
	}
	p, ok := pattern.Find(cfg.Pattern)
	if !ok {
		return errors.Wrapf(sequencer.ErrUnknownPattern, "%q", cfg.Pattern)
	}
	if cfg.Volume <= 0 {
		return errors.New("volume is zero, nothing to render")
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	fires, err := sequencer.Render(ctx, p, cfg.BPM, cfg.Voice, renderFlags.seconds, sequencer.RenderOptions{
		Lookahead: cfg.Lookahead,
		Volume:    cfg.Volume / 100,
	})
	if err != nil {
		return err
	}

	f, err := os.Create(renderFlags.out)
	if err != nil {
		return errors.Wrap(err, "create output")
	}
	if err := sequencer.WriteSMF(f, fires, cfg.BPM, uint8(cfg.Output.MIDIChannel)); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "close output")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d notes (%s, %.1f bpm) to %s\n", len(fires), p.Name(), cfg.BPM, renderFlags.out)
	return nil
}

var servePlay bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run without the TUI, controlled over HTTP and MIDI",
	Long: `Serve runs the metronome headless. It is driven by the HTTP API and by
any connected control surface.

Example:
  go-metronome serve --listen :8080 --play`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, path, err := opts.load(cmd.Flags().Changed)
	if err != nil {
		return err
	}
	if cfg.Listen == "" {
		cfg.Listen = defaultListen
	}
	a, err := newApp(cfg, path, opts.mirrorOSC, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if servePlay {
		if err := a.manager.Play(); err != nil {
			return err
		}
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	a.startBackground(ctx, g)
	fmt.Fprintf(cmd.OutOrStdout(), "go-metronome listening on %s\n", cfg.Listen)
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return g.Wait()
}

func init() {
	renderCmd.Flags().Float64Var(&renderFlags.seconds, "seconds", 8, "length to render")
	renderCmd.Flags().StringVarP(&renderFlags.out, "out", "o", "metronome.mid", "output file")
	serveCmd.Flags().BoolVar(&servePlay, "play", false, "start playing immediately")

	rootCmd.AddCommand(patternsCmd, voicesCmd, portsCmd, shareCmd, renderCmd, serveCmd)
}
