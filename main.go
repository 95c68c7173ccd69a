package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"go-metronome/debug"
	"go-metronome/tui"
)

var version = "0.1.0"

var opts options

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "go-metronome",
	Short: "A metronome with a swinging pendulum",
	Long: `go-metronome plays click patterns through a SoundFont, a MIDI port or
OSC, and draws a pendulum that stays in step while the tempo changes.

Examples:
  go-metronome --bpm 96 --pattern 8x2
  go-metronome --output midi --midi-port "IAC Driver"
  go-metronome --params "bpm=140&voice=Claves&rhythm=Triplet&volume=80"`,
	Version:      version,
	SilenceUsage: true,
	RunE:         runTUI,
}

func init() {
	opts.register(rootCmd)
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if opts.debug {
			if err := debug.Enable(); err != nil {
				return errors.Wrap(err, "debug log")
			}
		}
		return nil
	}
}

// signalContext is cancelled on interrupt or terminate.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, path, err := opts.load(cmd.Flags().Changed)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, path, opts.mirrorOSC, false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	ctx, quit := context.WithCancel(ctx)
	defer quit()

	g, ctx := errgroup.WithContext(ctx)
	a.startBackground(ctx, g)
	g.Go(func() error {
		defer quit()
		m := tui.NewModel(a.manager, a.devices, a.theme)
		p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return errors.Wrap(err, "tui")
		}
		return nil
	})

	return g.Wait()
}
