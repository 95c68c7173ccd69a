package midi

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	gomidi "gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register MIDI driver

	"go-metronome/debug"
)

// ErrPortsHung is returned when the MIDI system does not answer a port scan.
var ErrPortsHung = errors.New("midi port scan timed out")

// portTimeout bounds a port scan (CoreMIDI can hang)
const portTimeout = 3 * time.Second

// ListPorts returns the names of all MIDI input and output ports.
func ListPorts() (ins, outs []string, err error) {
	type result struct{ ins, outs []string }
	ch := make(chan result, 1)
	go func() {
		var r result
		for _, p := range gomidi.GetInPorts() {
			r.ins = append(r.ins, p.String())
		}
		for _, p := range gomidi.GetOutPorts() {
			r.outs = append(r.outs, p.String())
		}
		ch <- r
	}()

	select {
	case r := <-ch:
		return r.ins, r.outs, nil
	case <-time.After(portTimeout):
		// User needs to run: sudo killall coreaudiod midiserver
		return nil, nil, ErrPortsHung
	}
}

func inputPorts() ([]string, error) {
	ins, _, err := ListPorts()
	return ins, err
}

// DeviceManager handles hot-plug detection of control surfaces. Every input
// whose name contains the filter (case-insensitive, empty matches all) is
// opened as a Surface.
type DeviceManager struct {
	filter   string
	surfaces map[string]*Surface
	mu       sync.RWMutex
	events   chan DeviceEvent
	cc       chan CCEvent
	pollRate time.Duration

	ports  func() ([]string, error)
	listen Listener
}

// NewDeviceManager creates a new device manager
func NewDeviceManager(filter string) *DeviceManager {
	return &DeviceManager{
		filter:   strings.ToLower(filter),
		surfaces: make(map[string]*Surface),
		events:   make(chan DeviceEvent, 16),
		cc:       make(chan CCEvent, 64),
		pollRate: time.Second,
		ports:    inputPorts,
		listen:   ListenPort,
	}
}

// Events returns a channel of device connect/disconnect events
func (dm *DeviceManager) Events() <-chan DeviceEvent {
	return dm.events
}

// CC returns control changes from every connected surface.
func (dm *DeviceManager) CC() <-chan CCEvent {
	return dm.cc
}

// Surfaces returns the ids of connected surfaces
func (dm *DeviceManager) Surfaces() []string {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	ids := make([]string, 0, len(dm.surfaces))
	for id := range dm.surfaces {
		ids = append(ids, id)
	}
	return ids
}

// Run starts the polling loop (blocking - run in goroutine). The events
// channel is closed when ctx is done.
func (dm *DeviceManager) Run(ctx context.Context) {
	ticker := time.NewTicker(dm.pollRate)
	defer ticker.Stop()

	// Initial scan
	dm.scan()

	for {
		select {
		case <-ctx.Done():
			dm.closeAll()
			close(dm.events)
			return
		case <-ticker.C:
			dm.scan()
		}
	}
}

func (dm *DeviceManager) matches(name string) bool {
	return dm.filter == "" || strings.Contains(strings.ToLower(name), dm.filter)
}

func (dm *DeviceManager) emit(ev DeviceEvent) {
	select {
	case dm.events <- ev:
	default:
		debug.Warn("midi", "device event dropped: %s %s", ev.ID, ev.Type)
	}
}

func (dm *DeviceManager) scan() {
	names, err := dm.ports()
	if err != nil {
		// skip this scan
		debug.Warn("midi", "scan: %v", err)
		return
	}

	seenIDs := make(map[string]bool)
	for _, name := range names {
		if !dm.matches(name) {
			continue
		}
		seenIDs[name] = true

		dm.mu.RLock()
		_, exists := dm.surfaces[name]
		dm.mu.RUnlock()
		if exists {
			continue
		}

		s, err := NewSurface(name, dm.listen, dm.cc)
		if err != nil {
			debug.Warn("midi", "connect %s: %v", name, err)
			continue
		}
		dm.mu.Lock()
		dm.surfaces[name] = s
		dm.mu.Unlock()
		debug.Log("midi", "surface connected: %s", name)
		dm.emit(DeviceEvent{Type: DeviceConnected, ID: name})
	}

	// Check for disconnects
	dm.mu.Lock()
	var toRemove []string
	for id := range dm.surfaces {
		if !seenIDs[id] {
			toRemove = append(toRemove, id)
		}
	}
	for _, id := range toRemove {
		dm.surfaces[id].Close()
		delete(dm.surfaces, id)
	}
	dm.mu.Unlock()

	for _, id := range toRemove {
		debug.Log("midi", "surface disconnected: %s", id)
		dm.emit(DeviceEvent{Type: DeviceDisconnected, ID: id})
	}
}

func (dm *DeviceManager) closeAll() {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	for _, s := range dm.surfaces {
		s.Close()
	}
	dm.surfaces = make(map[string]*Surface)
}
