package control

// KeyCommand maps a key, as bubbletea names it, to a transport command.
// Space toggles, shift+space or t taps, arrows nudge by one and shifted
// arrows by ten.
func KeyCommand(key string) (Command, bool) {
	switch key {
	case " ", "space":
		return StartStop, true
	case "shift+space", "t":
		return Tap, true
	case "up":
		return Inc1, true
	case "down":
		return Dec1, true
	case "shift+up", "pgup":
		return Inc10, true
	case "shift+down", "pgdown":
		return Dec10, true
	case "]":
		return Inc5, true
	case "[":
		return Dec5, true
	case "h":
		return Half, true
	case "d":
		return Double, true
	}
	return None, false
}
