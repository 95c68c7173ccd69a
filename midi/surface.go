package midi

import (
	"github.com/pkg/errors"
	gomidi "gitlab.com/gomidi/midi/v2"

	"go-metronome/debug"
)

// Listener opens an input port by name and delivers its messages to fn
// until stop is called.
type Listener func(port string, fn func(msg gomidi.Message, timestampms int32)) (stop func(), err error)

// ListenPort is the Listener for real input ports.
func ListenPort(port string, fn func(msg gomidi.Message, timestampms int32)) (func(), error) {
	in, err := gomidi.FindInPort(port)
	if err != nil {
		return nil, errors.Wrapf(err, "find input %q", port)
	}
	stop, err := gomidi.ListenTo(in, fn)
	if err != nil {
		return nil, errors.Wrapf(err, "open input %q", port)
	}
	return stop, nil
}

// Surface is an input port used as a control surface. Control changes are
// forwarded to a shared channel; everything else is ignored.
type Surface struct {
	id       string
	stopFunc func()
}

// NewSurface starts listening on port. Events are dropped when out is full.
func NewSurface(port string, listen Listener, out chan<- CCEvent) (*Surface, error) {
	s := &Surface{id: port}
	stop, err := listen(port, func(msg gomidi.Message, timestampms int32) {
		var ch, cc, val uint8
		if !msg.GetControlChange(&ch, &cc, &val) {
			return
		}
		select {
		case out <- CCEvent{Port: port, Channel: ch, Controller: cc, Value: val}:
		default:
			debug.Log("midi", "dropped cc %d on %s", cc, port)
		}
	})
	if err != nil {
		return nil, err
	}
	s.stopFunc = stop
	return s, nil
}

func (s *Surface) ID() string {
	return s.id
}

func (s *Surface) Close() error {
	if s.stopFunc != nil {
		s.stopFunc()
		s.stopFunc = nil
	}
	return nil
}
