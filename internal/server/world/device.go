package world

import "time"

// ConnectionStatusKind is the device's liveness discriminant.
type ConnectionStatusKind int

const (
	StatusUnknown ConnectionStatusKind = iota
	StatusConnected
	StatusDisconnected
)

// ConnectionStatus carries the data attached to each status variant:
// Address when Connected, LastMessage when Disconnected.
type ConnectionStatus struct {
	Kind        ConnectionStatusKind
	Address     string
	LastMessage time.Time
}

// Device is one entry in the World, keyed by its caller-supplied id.
type Device struct {
	Id               string
	Name             string
	ConnectionStatus ConnectionStatus
	Forwards         *ForwardSet
	History          *ConnectionHistory
	ActiveConnection *ConnectionHandle
}

func newDevice(id string) *Device {
	return &Device{
		Id:       id,
		Name:     id,
		Forwards: newForwardSet(),
		History:  newConnectionHistory(),
	}
}

// IsConnected reports the device's current liveness.
func (d *Device) IsConnected() bool {
	return d.ConnectionStatus.Kind == StatusConnected
}
