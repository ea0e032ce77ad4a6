package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// SshForwardClientState mirrors the device-reported half of a forward's
// dual state machine (spec.md §3).
type SshForwardClientState int32

const (
	ClientStateUnspecified   SshForwardClientState = 0
	ClientStateRequested     SshForwardClientState = 1
	ClientStateConnecting    SshForwardClientState = 2
	ClientStateConnected     SshForwardClientState = 3
	ClientStateDisconnecting SshForwardClientState = 4
	ClientStateDisconnected  SshForwardClientState = 5
	ClientStateFailed        SshForwardClientState = 6
)

func (s SshForwardClientState) String() string {
	switch s {
	case ClientStateRequested:
		return "Requested"
	case ClientStateConnecting:
		return "Connecting"
	case ClientStateConnected:
		return "Connected"
	case ClientStateDisconnecting:
		return "Disconnecting"
	case ClientStateDisconnected:
		return "Disconnected"
	case ClientStateFailed:
		return "Failed"
	default:
		return "Unspecified"
	}
}

// DeviceClientMessage is sent device -> server.
//
// ClientMessage = oneof { Ping, Pong, Initialize, SshConnectionStatus }
type DeviceClientMessage struct {
	Payload isDeviceClientMessagePayload
}

type isDeviceClientMessagePayload interface {
	isDeviceClientMessagePayload()
}

type DeviceClientMessagePing struct{}

type DeviceClientMessagePong struct{}

type DeviceClientMessageInitialize struct {
	Id           string
	CommsVersion uint32
}

type DeviceClientMessageSshConnectionStatus struct {
	Id    string
	State SshForwardClientState
}

func (*DeviceClientMessagePing) isDeviceClientMessagePayload()                {}
func (*DeviceClientMessagePong) isDeviceClientMessagePayload()                {}
func (*DeviceClientMessageInitialize) isDeviceClientMessagePayload()          {}
func (*DeviceClientMessageSshConnectionStatus) isDeviceClientMessagePayload() {}

const (
	deviceClientFieldPing                 protowire.Number = 1
	deviceClientFieldPong                 protowire.Number = 2
	deviceClientFieldInitialize           protowire.Number = 3
	deviceClientFieldSshConnectionStatus  protowire.Number = 4
)

func (m *DeviceClientMessage) Marshal() ([]byte, error) {
	var b []byte
	switch p := m.Payload.(type) {
	case *DeviceClientMessagePing:
		b = appendBytesField(b, deviceClientFieldPing, nil)
	case *DeviceClientMessagePong:
		b = appendBytesField(b, deviceClientFieldPong, nil)
	case *DeviceClientMessageInitialize:
		var sub []byte
		sub = appendString(sub, 1, p.Id)
		sub = appendUint32(sub, 2, p.CommsVersion)
		b = appendBytesField(b, deviceClientFieldInitialize, sub)
	case *DeviceClientMessageSshConnectionStatus:
		var sub []byte
		sub = appendString(sub, 1, p.Id)
		sub = appendUint32(sub, 2, uint32(p.State))
		b = appendBytesField(b, deviceClientFieldSshConnectionStatus, sub)
	default:
		return nil, fmt.Errorf("protocol: DeviceClientMessage: no payload set")
	}
	return b, nil
}

func (m *DeviceClientMessage) Unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return parseErrorf("DeviceClientMessage.tag", n)
		}
		b = b[n:]
		switch num {
		case deviceClientFieldPing:
			_, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return parseErrorf("ping", n)
			}
			m.Payload = &DeviceClientMessagePing{}
			b = b[n:]
		case deviceClientFieldPong:
			_, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return parseErrorf("pong", n)
			}
			m.Payload = &DeviceClientMessagePong{}
			b = b[n:]
		case deviceClientFieldInitialize:
			sub, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return parseErrorf("initialize", n)
			}
			init := &DeviceClientMessageInitialize{}
			if err := init.unmarshal(sub); err != nil {
				return err
			}
			m.Payload = init
			b = b[n:]
		case deviceClientFieldSshConnectionStatus:
			sub, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return parseErrorf("ssh_connection_status", n)
			}
			status := &DeviceClientMessageSshConnectionStatus{}
			if err := status.unmarshal(sub); err != nil {
				return err
			}
			m.Payload = status
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return parseErrorf("DeviceClientMessage.unknown", n)
			}
			b = b[n:]
		}
	}
	return nil
}

func (m *DeviceClientMessageInitialize) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return parseErrorf("Initialize.tag", n)
		}
		b = b[n:]
		switch num {
		case 1:
			s, n := consumeString(b)
			if n < 0 {
				return parseErrorf("Initialize.id", n)
			}
			m.Id = s
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return parseErrorf("Initialize.comms_version", n)
			}
			m.CommsVersion = uint32(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return parseErrorf("Initialize.unknown", n)
			}
			b = b[n:]
		}
	}
	return nil
}

func (m *DeviceClientMessageSshConnectionStatus) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return parseErrorf("SshConnectionStatus.tag", n)
		}
		b = b[n:]
		switch num {
		case 1:
			s, n := consumeString(b)
			if n < 0 {
				return parseErrorf("SshConnectionStatus.id", n)
			}
			m.Id = s
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return parseErrorf("SshConnectionStatus.state", n)
			}
			m.State = SshForwardClientState(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return parseErrorf("SshConnectionStatus.unknown", n)
			}
			b = b[n:]
		}
	}
	return nil
}

// DeviceServerMessage is sent server -> device.
//
// ServerMessage = oneof { Ping, Pong, SshConnection }
type DeviceServerMessage struct {
	Payload isDeviceServerMessagePayload
}

type isDeviceServerMessagePayload interface {
	isDeviceServerMessagePayload()
}

type DeviceServerMessagePing struct{}

type DeviceServerMessagePong struct{}

// DeviceServerMessageSshConnection carries a command addressed to one
// forward, identified by its forward id.
type DeviceServerMessageSshConnection struct {
	Id      string
	Command isSshConnectionCommand
}

type isSshConnectionCommand interface {
	isSshConnectionCommand()
}

type SshConnectionEnable struct {
	SshHost      string
	SshPort      uint32
	SshUsername  string
	SshKey       string
	ForwardHost  string
	ForwardPort  uint32
	RemotePort   uint32
	GatewayPort  bool
}

type SshConnectionDisable struct{}

func (*SshConnectionEnable) isSshConnectionCommand()  {}
func (*SshConnectionDisable) isSshConnectionCommand() {}

func (*DeviceServerMessagePing) isDeviceServerMessagePayload()          {}
func (*DeviceServerMessagePong) isDeviceServerMessagePayload()          {}
func (*DeviceServerMessageSshConnection) isDeviceServerMessagePayload() {}

const (
	deviceServerFieldPing          protowire.Number = 1
	deviceServerFieldPong          protowire.Number = 2
	deviceServerFieldSshConnection protowire.Number = 3
)

const (
	sshConnectionFieldId      protowire.Number = 1
	sshConnectionFieldEnable  protowire.Number = 2
	sshConnectionFieldDisable protowire.Number = 3
)

func (m *DeviceServerMessage) Marshal() ([]byte, error) {
	var b []byte
	switch p := m.Payload.(type) {
	case *DeviceServerMessagePing:
		b = appendBytesField(b, deviceServerFieldPing, nil)
	case *DeviceServerMessagePong:
		b = appendBytesField(b, deviceServerFieldPong, nil)
	case *DeviceServerMessageSshConnection:
		sub, err := p.marshal()
		if err != nil {
			return nil, err
		}
		b = appendBytesField(b, deviceServerFieldSshConnection, sub)
	default:
		return nil, fmt.Errorf("protocol: DeviceServerMessage: no payload set")
	}
	return b, nil
}

func (m *DeviceServerMessageSshConnection) marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, sshConnectionFieldId, m.Id)
	switch c := m.Command.(type) {
	case *SshConnectionEnable:
		var sub []byte
		sub = appendString(sub, 1, c.SshHost)
		sub = appendUint32(sub, 2, c.SshPort)
		sub = appendString(sub, 3, c.SshUsername)
		sub = appendString(sub, 4, c.SshKey)
		sub = appendString(sub, 5, c.ForwardHost)
		sub = appendUint32(sub, 6, c.ForwardPort)
		sub = appendUint32(sub, 7, c.RemotePort)
		sub = appendBool(sub, 8, c.GatewayPort)
		b = appendBytesField(b, sshConnectionFieldEnable, sub)
	case *SshConnectionDisable:
		b = appendBytesField(b, sshConnectionFieldDisable, nil)
	default:
		return nil, fmt.Errorf("protocol: SshConnection: no command set")
	}
	return b, nil
}

func (m *DeviceServerMessage) Unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return parseErrorf("DeviceServerMessage.tag", n)
		}
		b = b[n:]
		switch num {
		case deviceServerFieldPing:
			_, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return parseErrorf("ping", n)
			}
			m.Payload = &DeviceServerMessagePing{}
			b = b[n:]
		case deviceServerFieldPong:
			_, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return parseErrorf("pong", n)
			}
			m.Payload = &DeviceServerMessagePong{}
			b = b[n:]
		case deviceServerFieldSshConnection:
			sub, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return parseErrorf("ssh_connection", n)
			}
			cmd := &DeviceServerMessageSshConnection{}
			if err := cmd.unmarshal(sub); err != nil {
				return err
			}
			m.Payload = cmd
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return parseErrorf("DeviceServerMessage.unknown", n)
			}
			b = b[n:]
		}
	}
	return nil
}

func (m *DeviceServerMessageSshConnection) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return parseErrorf("SshConnection.tag", n)
		}
		b = b[n:]
		switch num {
		case sshConnectionFieldId:
			s, n := consumeString(b)
			if n < 0 {
				return parseErrorf("SshConnection.id", n)
			}
			m.Id = s
			b = b[n:]
		case sshConnectionFieldEnable:
			sub, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return parseErrorf("SshConnection.enable", n)
			}
			enable := &SshConnectionEnable{}
			if err := enable.unmarshal(sub); err != nil {
				return err
			}
			m.Command = enable
			b = b[n:]
		case sshConnectionFieldDisable:
			_, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return parseErrorf("SshConnection.disable", n)
			}
			m.Command = &SshConnectionDisable{}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return parseErrorf("SshConnection.unknown", n)
			}
			b = b[n:]
		}
	}
	return nil
}

func (m *SshConnectionEnable) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return parseErrorf("Enable.tag", n)
		}
		b = b[n:]
		switch num {
		case 1:
			s, n := consumeString(b)
			if n < 0 {
				return parseErrorf("Enable.ssh_host", n)
			}
			m.SshHost = s
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return parseErrorf("Enable.ssh_port", n)
			}
			m.SshPort = uint32(v)
			b = b[n:]
		case 3:
			s, n := consumeString(b)
			if n < 0 {
				return parseErrorf("Enable.ssh_username", n)
			}
			m.SshUsername = s
			b = b[n:]
		case 4:
			s, n := consumeString(b)
			if n < 0 {
				return parseErrorf("Enable.ssh_key", n)
			}
			m.SshKey = s
			b = b[n:]
		case 5:
			s, n := consumeString(b)
			if n < 0 {
				return parseErrorf("Enable.forward_host", n)
			}
			m.ForwardHost = s
			b = b[n:]
		case 6:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return parseErrorf("Enable.forward_port", n)
			}
			m.ForwardPort = uint32(v)
			b = b[n:]
		case 7:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return parseErrorf("Enable.remote_port", n)
			}
			m.RemotePort = uint32(v)
			b = b[n:]
		case 8:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return parseErrorf("Enable.gateway_port", n)
			}
			m.GatewayPort = v != 0
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return parseErrorf("Enable.unknown", n)
			}
			b = b[n:]
		}
	}
	return nil
}
