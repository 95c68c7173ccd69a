package provider

import (
	"context"
	"net"

	"github.com/pkg/errors"
	"github.com/scgolang/osc"

	"go-metronome/debug"
	"go-metronome/voice"
)

// Addresses sent by the OSC provider
const (
	AddressNote = "/metronome/note"
	AddressLoad = "/metronome/load"
)

// oscSender is the part of an OSC connection the provider uses.
type oscSender interface {
	Send(osc.Packet) error
}

// OSC sends every note as /metronome/note [voice, pitch, volume, duration]
// at fire time, for a synth on the other end to play.
type OSC struct {
	disp *Dispatcher
	conn oscSender
	udp  *osc.UDPConn
}

// NewOSC dials a UDP OSC target such as "127.0.0.1:57120".
func NewOSC(wall WallTimer, addr string) (*OSC, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", addr)
	}
	conn, err := osc.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	o := newOSC(wall, conn)
	o.udp = conn
	return o, nil
}

func newOSC(wall WallTimer, conn oscSender) *OSC {
	return &OSC{disp: NewDispatcher(wall), conn: conn}
}

// LoadVoice announces the voice so the receiver can prepare it.
func (o *OSC) LoadVoice(ctx context.Context, v voice.Voice) (Handle, error) {
	err := o.conn.Send(osc.Message{
		Address: AddressLoad,
		Arguments: osc.Arguments{
			osc.String(v.ID),
			osc.String(v.Source),
			osc.Int(int32(v.Pitch)),
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "announce %s", v.ID)
	}
	return NewHandle(v), nil
}

func (o *OSC) FireAt(h Handle, at float64, pitch uint8, duration, volume float64) {
	id := h.Voice().ID
	o.disp.Schedule(at, func() {
		err := o.conn.Send(osc.Message{
			Address: AddressNote,
			Arguments: osc.Arguments{
				osc.String(id),
				osc.Int(int32(pitch)),
				osc.Float(float32(volume)),
				osc.Float(float32(duration)),
			},
		})
		if err != nil {
			debug.Log("osc", "send %s: %v", id, err)
		}
	})
}

func (o *OSC) CancelAllPending() { o.disp.CancelAll() }

func (o *OSC) Close() error {
	o.disp.Close()
	if o.udp != nil {
		return o.udp.Close()
	}
	return nil
}
