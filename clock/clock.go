package clock

import (
	"sync"
	"time"
)

// Clock is the reference clock every timestamp is expressed in: monotonic
// seconds since some origin. The scheduler and the pendulum must read the
// same instance.
type Clock interface {
	Now() float64
}

// Wall measures seconds since it was created using the monotonic clock.
type Wall struct {
	start time.Time
}

func NewWall() *Wall {
	return &Wall{start: time.Now()}
}

func (w *Wall) Now() float64 {
	return time.Since(w.start).Seconds()
}

// Time maps a reference timestamp back to wall time.
func (w *Wall) Time(t float64) time.Time {
	return w.start.Add(time.Duration(t * float64(time.Second)))
}

// Manual is a settable clock for tests and offline rendering.
type Manual struct {
	mu  sync.Mutex
	now float64
}

func NewManual(start float64) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Set(t float64) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

func (m *Manual) Advance(dt float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += dt
	return m.now
}
