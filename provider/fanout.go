package provider

import (
	"context"

	"go-metronome/voice"
)

type fanoutHandle struct {
	v       voice.Voice
	handles []Handle // nil where that provider failed to load
}

func (h *fanoutHandle) Voice() voice.Voice { return h.v }

// Fanout forwards to several providers. A voice counts as loaded when at
// least one provider loaded it.
type Fanout struct {
	providers []Provider
}

func NewFanout(providers ...Provider) *Fanout {
	return &Fanout{providers: providers}
}

func (f *Fanout) LoadVoice(ctx context.Context, v voice.Voice) (Handle, error) {
	fh := &fanoutHandle{v: v, handles: make([]Handle, len(f.providers))}
	var firstErr error
	loaded := 0
	for i, p := range f.providers {
		h, err := p.LoadVoice(ctx, v)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		fh.handles[i] = h
		loaded++
	}
	if loaded == 0 && firstErr != nil {
		return nil, firstErr
	}
	return fh, nil
}

func (f *Fanout) FireAt(h Handle, at float64, pitch uint8, duration, volume float64) {
	fh, ok := h.(*fanoutHandle)
	if !ok {
		return
	}
	for i, p := range f.providers {
		if fh.handles[i] != nil {
			p.FireAt(fh.handles[i], at, pitch, duration, volume)
		}
	}
}

func (f *Fanout) CancelAllPending() {
	for _, p := range f.providers {
		p.CancelAllPending()
	}
}
