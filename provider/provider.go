package provider

import (
	"context"

	"go-metronome/voice"
)

// Handle is a loaded voice, ready to fire.
type Handle interface {
	Voice() voice.Voice
}

// Provider renders fire commands. Times are in the reference clock's seconds
// and may lie in the future; FireAt never blocks on rendering.
type Provider interface {
	LoadVoice(ctx context.Context, v voice.Voice) (Handle, error)
	FireAt(h Handle, at float64, pitch uint8, duration, volume float64)
	CancelAllPending()
}

// handle is the trivial Handle for providers that need no sample data.
type handle struct {
	v voice.Voice
}

func (h handle) Voice() voice.Voice { return h.v }

// NewHandle wraps a voice as a ready Handle.
func NewHandle(v voice.Voice) Handle {
	return handle{v: v}
}

// Velocity maps a 0-1 volume to a MIDI velocity.
func Velocity(volume float64) uint8 {
	v := volume*127 + 0.5
	switch {
	case v < 0:
		return 0
	case v > 127:
		return 127
	}
	return uint8(v)
}

// Silent accepts every voice and drops every note. It backs the "none"
// output so the pendulum still runs without sound.
type Silent struct{}

func (Silent) LoadVoice(ctx context.Context, v voice.Voice) (Handle, error) {
	return NewHandle(v), nil
}

func (Silent) FireAt(h Handle, at float64, pitch uint8, duration, volume float64) {}

func (Silent) CancelAllPending() {}
