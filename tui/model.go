package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"go-metronome/control"
	"go-metronome/debug"
	"go-metronome/midi"
	"go-metronome/pendulum"
	"go-metronome/sequencer"
	"go-metronome/theme"
	"go-metronome/widgets"
)

// FrameRate is the animation rate of the pendulum.
const FrameRate = 60

// lampFrames is how many frames the beat lamp stays lit after a flash.
const lampFrames = 6

const (
	railWidth    = 41
	defaultWidth = 80
)

type Model struct {
	Manager   *sequencer.Manager
	DeviceMgr *midi.DeviceManager // may be nil
	Theme     *theme.Theme
	quitting  bool
	width     int
	frame     sequencer.Frame
	lamp      int
	surfaces  []string
	status    string
}

type UpdateMsg struct{}

type DeviceEventMsg midi.DeviceEvent

// FrameMsg drives the pendulum animation.
type FrameMsg time.Time

func NewModel(manager *sequencer.Manager, deviceMgr *midi.DeviceManager, th *theme.Theme) Model {
	if th == nil {
		th = theme.New(nil)
	}
	return Model{
		Manager:   manager,
		DeviceMgr: deviceMgr,
		Theme:     th,
		width:     defaultWidth,
	}
}

func ListenForUpdates(manager *sequencer.Manager) tea.Cmd {
	return func() tea.Msg {
		<-manager.UpdateChan
		return UpdateMsg{}
	}
}

// ListenForDevices waits for the next connect or disconnect. It returns nil
// once the device manager has shut down.
func ListenForDevices(deviceMgr *midi.DeviceManager) tea.Cmd {
	if deviceMgr == nil {
		return nil
	}
	return func() tea.Msg {
		event, ok := <-deviceMgr.Events()
		if !ok {
			return nil
		}
		return DeviceEventMsg(event)
	}
}

func nextFrame() tea.Cmd {
	return tea.Tick(time.Second/FrameRate, func(t time.Time) tea.Msg {
		return FrameMsg(t)
	})
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		ListenForUpdates(m.Manager),
		ListenForDevices(m.DeviceMgr),
		nextFrame(),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg.String())

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case FrameMsg:
		m.frame = m.Manager.Frame(m.Manager.Now())
		if m.frame.Flash {
			m.lamp = lampFrames
		} else if m.lamp > 0 {
			m.lamp--
		}
		if !m.frame.Playing {
			m.lamp = 0
		}
		return m, nextFrame()

	case UpdateMsg:
		return m, ListenForUpdates(m.Manager)

	case DeviceEventMsg:
		event := midi.DeviceEvent(msg)
		switch event.Type {
		case midi.DeviceConnected:
			m.surfaces = append(m.surfaces, event.ID)
			sort.Strings(m.surfaces)
			m.status = "connected " + event.ID
		case midi.DeviceDisconnected:
			for i, id := range m.surfaces {
				if id == event.ID {
					m.surfaces = append(m.surfaces[:i:i], m.surfaces[i+1:]...)
					break
				}
			}
			m.status = "disconnected " + event.ID
		}
		return m, ListenForDevices(m.DeviceMgr)
	}

	return m, nil
}

func (m Model) handleKey(key string) (tea.Model, tea.Cmd) {
	var err error
	switch key {
	case "q", "ctrl+c":
		m.quitting = true
		m.Manager.Stop()
		return m, tea.Quit

	case "right":
		err = m.Manager.NextPattern(1)
	case "left":
		err = m.Manager.NextPattern(-1)
	case "tab", "v":
		err = m.Manager.NextVoice(1)
	case "shift+tab", "V":
		err = m.Manager.NextVoice(-1)

	case "+", "=":
		m.Manager.SetVolume(m.Manager.Snapshot().Volume + 5)
	case "-", "_":
		m.Manager.SetVolume(m.Manager.Snapshot().Volume - 5)

	default:
		if cmd, ok := control.KeyCommand(key); ok {
			// keys behave like a surface button press
			err = m.Manager.HandleCommand(cmd, 127)
		}
	}
	if err != nil {
		debug.Warn("tui", "key %s: %v", key, err)
		m.status = err.Error()
	}
	return m, nil
}

var helpKeys = []widgets.KeyBinding{
	{Key: "space", Desc: "start/stop"},
	{Key: "t", Desc: "tap"},
	{Key: "↑↓", Desc: "±1"},
	{Key: "[]", Desc: "±5"},
	{Key: "pgup/dn", Desc: "±10"},
	{Key: "h/d", Desc: "half/double"},
	{Key: "←→", Desc: "pattern"},
	{Key: "tab", Desc: "voice"},
	{Key: "+/-", Desc: "volume"},
	{Key: "q", Desc: "quit"},
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	s := m.Manager.Snapshot()
	sym := m.Theme.Symbols

	headerStyle := lipgloss.NewStyle().Foreground(m.Theme.Accent()).Background(m.Theme.Surface()).Bold(true)
	stateStyle := headerStyle.Foreground(m.Theme.Muted())
	fgStyle := lipgloss.NewStyle().Foreground(m.Theme.FG())
	dimStyle := lipgloss.NewStyle().Foreground(m.Theme.Muted())
	activeStyle := lipgloss.NewStyle().Foreground(m.Theme.Active())
	lampStyle := lipgloss.NewStyle().Foreground(m.Theme.Muted())
	if m.lamp > 0 {
		lampStyle = lipgloss.NewStyle().Foreground(m.Theme.Flash()).Bold(true)
	}

	playState := stateStyle.Render(string(sym.Stopped) + " STOP")
	if s.Playing {
		playState = stateStyle.Foreground(m.Theme.Success()).Render(string(sym.Playing) + " PLAY")
	}
	tap := ""
	if s.Tapping {
		tap = "  TAP"
	}
	header := headerStyle.Render("go-metronome  ") + playState + headerStyle.Render(fmt.Sprintf("  %6.1f bpm%s", s.BPM, tap))
	info := fgStyle.Render(fmt.Sprintf("%s  %s  vol %3.0f%%  out:%s", s.Pattern, s.VoiceName, s.Volume, s.Output))

	lamp := lampStyle.Render(widgets.Lamp(m.lamp > 0, sym.LampOn, sym.LampOff))
	var swing string
	if s.Visual {
		rail := widgets.Rail(m.frame.Angle, pendulum.Amplitude, m.railWidth(), widgets.RailSymbols{
			Bob:    sym.Bob,
			Rail:   sym.Rail,
			Center: sym.Center,
			Edge:   sym.Edge,
		})
		swing = lamp + "  " + activeStyle.Render(rail)
	} else {
		swing = lamp
	}

	lists := lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderPatterns(s.Pattern),
		"    ",
		m.renderVoices(s.Voice),
	)

	devices := "no control surface"
	if len(m.surfaces) > 0 {
		devices = "surfaces: " + strings.Join(m.surfaces, ", ")
	}
	devices = dimStyle.Render(devices)
	if m.status != "" {
		devices += "  " + lipgloss.NewStyle().Foreground(m.Theme.Warning()).Render(m.status)
	}

	help := dimStyle.Render(widgets.RenderKeyLine(helpKeys))

	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(header)
	out.WriteString("\n")
	out.WriteString(info)
	out.WriteString("\n\n")
	out.WriteString(swing)
	out.WriteString("\n\n")
	out.WriteString(lists)
	out.WriteString("\n\n")
	out.WriteString(devices)
	out.WriteString("\n")
	out.WriteString(help)
	return out.String()
}

func (m Model) railWidth() int {
	w := railWidth
	if m.width > 0 && m.width-4 < w {
		w = m.width - 4
	}
	if w < 3 {
		w = 3
	}
	return w
}

func (m Model) renderPatterns(current string) string {
	patterns := m.Manager.Patterns()
	names := make([]string, len(patterns))
	sel := -1
	for i, p := range patterns {
		names[i] = p.Name()
		if p.Name() == current {
			sel = i
		}
	}
	return m.renderList("Pattern", names, sel)
}

func (m Model) renderVoices(current string) string {
	voices := m.Manager.Voices()
	names := make([]string, len(voices))
	sel := -1
	for i, v := range voices {
		names[i] = v.Name
		if v.ID == current {
			sel = i
		}
	}
	return m.renderList("Voice", names, sel)
}

func (m Model) renderList(title string, names []string, sel int) string {
	titleStyle := lipgloss.NewStyle().Foreground(m.Theme.Accent()).Underline(true)
	body := widgets.List(names, sel, m.Theme.Symbols.Selected, m.Theme.Symbols.Unselected)
	return titleStyle.Render(title) + "\n" + lipgloss.NewStyle().Foreground(m.Theme.FG()).Render(body)
}
