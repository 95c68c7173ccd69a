package midi

// CCEvent is a control change received from a surface. Channel is 0-based.
type CCEvent struct {
	Port       string
	Channel    uint8
	Controller uint8
	Value      uint8
}

// DeviceEvent is emitted when surfaces connect/disconnect
type DeviceEvent struct {
	Type DeviceEventType
	ID   string
}

type DeviceEventType int

const (
	DeviceConnected DeviceEventType = iota
	DeviceDisconnected
)

func (t DeviceEventType) String() string {
	if t == DeviceConnected {
		return "connected"
	}
	return "disconnected"
}
