package provider

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"go-metronome/voice"
)

// Fire is one recorded fire command.
type Fire struct {
	Voice    string
	At       float64
	Pitch    uint8
	Duration float64
	Volume   float64
}

// Recorder keeps every fire command in memory. Used for offline rendering.
type Recorder struct {
	mu        sync.Mutex
	fires     []Fire
	cancelled int
	loads     map[string]int
	fail      map[string]error
	gate      chan struct{}
}

func NewRecorder() *Recorder {
	return &Recorder{
		loads: make(map[string]int),
		fail:  make(map[string]error),
	}
}

// FailVoice makes loads of id fail with err.
func (r *Recorder) FailVoice(id string, err error) {
	r.mu.Lock()
	r.fail[id] = err
	r.mu.Unlock()
}

// HoldLoads makes LoadVoice block until ReleaseLoads is called.
func (r *Recorder) HoldLoads() {
	r.mu.Lock()
	r.gate = make(chan struct{})
	r.mu.Unlock()
}

func (r *Recorder) ReleaseLoads() {
	r.mu.Lock()
	if r.gate != nil {
		close(r.gate)
		r.gate = nil
	}
	r.mu.Unlock()
}

func (r *Recorder) LoadVoice(ctx context.Context, v voice.Voice) (Handle, error) {
	r.mu.Lock()
	r.loads[v.ID]++
	gate := r.gate
	err := r.fail[v.ID]
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", v.ID)
	}
	return NewHandle(v), nil
}

func (r *Recorder) FireAt(h Handle, at float64, pitch uint8, duration, volume float64) {
	r.mu.Lock()
	r.fires = append(r.fires, Fire{
		Voice:    h.Voice().ID,
		At:       at,
		Pitch:    pitch,
		Duration: duration,
		Volume:   volume,
	})
	r.mu.Unlock()
}

func (r *Recorder) CancelAllPending() {
	r.mu.Lock()
	r.cancelled++
	r.mu.Unlock()
}

// Fires returns recorded fires sorted by time.
func (r *Recorder) Fires() []Fire {
	r.mu.Lock()
	out := append([]Fire(nil), r.fires...)
	r.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].At < out[j].At })
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.fires = nil
	r.mu.Unlock()
}

// Loads returns how many times id was requested.
func (r *Recorder) Loads(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loads[id]
}

// Cancelled returns how many times CancelAllPending was called.
func (r *Recorder) Cancelled() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}
