package pendulum

import "math"

// Amplitude is the maximum swing in degrees.
const Amplitude = 20.0

// Epsilon is the tolerance below which a change in beat period is ignored.
const Epsilon = 1e-6

// State is a snapshot of the oscillator for display and tests.
type State struct {
	Phase          float64
	Period         float64
	LastTime       float64
	Adjusting      bool
	AdjustFrom     float64
	AdjustTo       float64
	AdjustStart    float64
	AdjustEnd      float64
	AdjustDuration float64
}

// Pendulum is a phase oscillator that follows the scheduled beat grid.
// When the beat period changes it retunes by interpolating linearly to the
// next integer phase instead of jumping, so the angle stays continuous.
//
// Not safe for concurrent use; it is driven by a single animation loop.
type Pendulum struct {
	s           State
	initialized bool
}

// New returns a pendulum at phase 0 with period 60/bpm.
func New(initialBPM float64) *Pendulum {
	p := &Pendulum{}
	if initialBPM > 0 {
		p.s.Period = 60 / initialBPM
	} else {
		p.s.Period = 1
	}
	return p
}

func (p *Pendulum) Phase() float64  { return p.s.Phase }
func (p *Pendulum) Period() float64 { return p.s.Period }
func (p *Pendulum) Adjusting() bool { return p.s.Adjusting }
func (p *Pendulum) State() State    { return p.s }

// Angle returns the current angle without advancing.
func (p *Pendulum) Angle() float64 {
	return math.Sin(math.Pi*p.s.Phase) * Amplitude
}

// Update advances the oscillator to currentTime and returns the angle in
// degrees. queued holds the upcoming beat timestamps, oldest first; only the
// first two are read.
func (p *Pendulum) Update(currentTime float64, queued []float64) float64 {
	if math.IsNaN(currentTime) || math.IsInf(currentTime, 0) {
		return p.Angle()
	}
	s := &p.s

	if !p.initialized {
		s.LastTime = currentTime
		p.initialized = true
	}

	dt := currentTime - s.LastTime
	s.Phase += dt / s.Period
	s.LastTime = currentTime

	if len(queued) > 1 {
		newPeriod := queued[1] - queued[0]
		if newPeriod > 0 && math.Abs(newPeriod-s.Period) > Epsilon {
			s.Period = newPeriod
			s.Adjusting = true
			s.AdjustFrom = s.Phase
			s.AdjustTo = math.Ceil(s.Phase)
			s.AdjustStart = currentTime
			s.AdjustEnd = queued[1]
			s.AdjustDuration = s.AdjustEnd - s.AdjustStart

			// fold down so the retune completes within one period
			if s.AdjustDuration > s.Period {
				n := math.Ceil(s.AdjustDuration/s.Period) - 1
				s.AdjustEnd -= n * s.Period
				s.AdjustDuration = s.AdjustEnd - s.AdjustStart
			}
		}
	}

	if s.Adjusting {
		if s.AdjustDuration <= 0 {
			s.Phase = s.AdjustTo
			s.Adjusting = false
		} else {
			t := (currentTime - s.AdjustStart) / s.AdjustDuration
			if t >= 1 {
				s.Phase = s.AdjustTo
				s.Adjusting = false
			} else if t >= 0 {
				s.Phase = s.AdjustFrom + (s.AdjustTo-s.AdjustFrom)*t
			}
		}
	}

	// same result as subtracting 2 while phase > 2, without looping
	if s.Phase > 2 {
		s.Phase -= 2 * math.Ceil((s.Phase-2)/2)
	}
	return p.Angle()
}
