package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pkg/errors"
	gomidi "gitlab.com/gomidi/midi/v2"

	"go-metronome/config"
	"go-metronome/control"
	"go-metronome/midi"
	"go-metronome/provider"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}

	arg := ""
	if len(os.Args) > 2 {
		arg = os.Args[2]
	}

	var err error
	switch os.Args[1] {
	case "list":
		err = listPorts()
	case "monitor":
		err = monitor(arg)
	case "poll":
		pollDevices(arg)
	case "click":
		err = click(arg)
	default:
		usage()
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("MIDI Test Scripts")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  list             - List all MIDI ports")
	fmt.Println("  monitor [input]  - Print control changes and the command they map to")
	fmt.Println("  poll [filter]    - Watch control surfaces connect and disconnect")
	fmt.Println("  click [output]   - Send four side-stick notes on channel 10")
}

func listPorts() error {
	fmt.Println("=== MIDI Input Ports ===")
	fmt.Println("(waiting up to 3 seconds...)")

	ins, outs, err := midi.ListPorts()
	if err != nil {
		fmt.Println("\nTIMEOUT! CoreMIDI is hung.")
		fmt.Println("Fix: sudo killall coreaudiod midiserver")
		return err
	}
	for i, p := range ins {
		fmt.Printf("  %d: %s\n", i, p)
	}
	fmt.Println("\n=== MIDI Output Ports ===")
	for i, p := range outs {
		fmt.Printf("  %d: %s\n", i, p)
	}
	return nil
}

func interrupted() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// monitor listens on every input containing name and decodes control
// changes through the mapping from the user's config.
func monitor(name string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	mapping, err := control.NewMapping(cfg.Control)
	if err != nil {
		return err
	}

	ins, _, err := midi.ListPorts()
	if err != nil {
		return err
	}
	var stops []func()
	for _, port := range ins {
		if name != "" && !strings.Contains(strings.ToLower(port), strings.ToLower(name)) {
			continue
		}
		port := port
		stop, err := midi.ListenPort(port, func(msg gomidi.Message, timestampms int32) {
			cmd, val, ok := mapping.Decode(msg)
			if !ok {
				fmt.Printf("[%s] %-24s %s\n", time.Now().Format("15:04:05.000"), port, msg)
				return
			}
			fmt.Printf("[%s] %-24s %s -> %s (%d)\n", time.Now().Format("15:04:05.000"), port, msg, cmd, val)
		})
		if err != nil {
			fmt.Printf("  skip %s: %v\n", port, err)
			continue
		}
		fmt.Printf("Listening on %s\n", port)
		stops = append(stops, stop)
	}
	if len(stops) == 0 {
		return errors.Errorf("no input matches %q", name)
	}
	defer func() {
		for _, stop := range stops {
			stop()
		}
	}()

	fmt.Printf("Control channel %d. Ctrl+C to exit.\n", mapping.Channel())
	ctx, cancel := interrupted()
	defer cancel()
	<-ctx.Done()
	return nil
}

func pollDevices(filter string) {
	fmt.Println("Polling for control surfaces every second...")
	fmt.Println("Connect/disconnect a device to test. Ctrl+C to exit.")

	ctx, cancel := interrupted()
	defer cancel()

	dm := midi.NewDeviceManager(filter)
	go dm.Run(ctx)

	for {
		select {
		case ev, ok := <-dm.Events():
			if !ok {
				return
			}
			fmt.Printf("[%s] %s %s\n", time.Now().Format("15:04:05"), ev.Type, ev.ID)
		case cc := <-dm.CC():
			fmt.Printf("  cc %d=%d ch %d on %s\n", cc.Controller, cc.Value, cc.Channel+1, cc.Port)
		}
	}
}

func click(name string) error {
	send, port, err := provider.OpenMIDIOut(name)
	if err != nil {
		return err
	}
	fmt.Printf("Clicking on %s\n", port)

	ch := uint8(provider.DrumChannel - 1)
	for i := 0; i < 4; i++ {
		vel := uint8(80)
		if i == 0 {
			vel = 127
		}
		if err := send(gomidi.NoteOn(ch, 37, vel)); err != nil {
			return err
		}
		time.Sleep(provider.DefaultGate)
		if err := send(gomidi.NoteOff(ch, 37)); err != nil {
			return err
		}
		time.Sleep(500*time.Millisecond - provider.DefaultGate)
	}
	fmt.Println("Done!")
	return nil
}
