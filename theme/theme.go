package theme

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

type Theme struct {
	Palette *Palette
	Symbols Symbols
}

type Symbols struct {
	// Pendulum
	Bob    rune // ● swinging weight
	Rail   rune // ─ travel of the bob
	Center rune // ┼ rest position
	Edge   rune // │ end stops

	// Beat lamp
	LampOn  rune // ◆ flashing
	LampOff rune // ◇ idle

	// Lists
	Selected   rune // ▶ current pattern/voice
	Unselected rune // · others

	Playing rune // ▶
	Stopped rune // ■
}

func New(palette *Palette) *Theme {
	if palette == nil {
		palette = Default()
	}
	return &Theme{
		Palette: palette,
		Symbols: Symbols{
			Bob:    '●',
			Rail:   '─',
			Center: '┼',
			Edge:   '│',

			LampOn:  '◆',
			LampOff: '◇',

			Selected:   '▶',
			Unselected: '·',

			Playing: '▶',
			Stopped: '■',
		},
	}
}

// Color roles mapped to palette positions (0-1)
const (
	RoleBG      = 0.0
	RoleSurface = 0.1
	RoleMuted   = 0.25
	RoleFG      = 0.5
	RoleAccent  = 0.6
	RoleActive  = 0.75
	RoleWarning = 0.8
	RoleFlash   = 0.9
	RoleSuccess = 1.0
)

// Style helpers

func (t *Theme) BG() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleBG))
}

func (t *Theme) Surface() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleSurface))
}

func (t *Theme) FG() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleFG))
}

func (t *Theme) Accent() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleAccent))
}

func (t *Theme) Muted() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleMuted))
}

func (t *Theme) Active() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleActive))
}

// Flash is the beat lamp colour.
func (t *Theme) Flash() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleFlash))
}

func (t *Theme) Warning() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleWarning))
}

func (t *Theme) Success() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleSuccess))
}

func rgbToLipgloss(c RGB) lipgloss.Color {
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2]))
}
