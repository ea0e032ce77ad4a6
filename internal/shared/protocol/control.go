package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ConnectionStatusKind mirrors world.ConnectionStatus's discriminant.
type ConnectionStatusKind int32

const (
	ConnectionStatusUnknown      ConnectionStatusKind = 0
	ConnectionStatusConnected    ConnectionStatusKind = 1
	ConnectionStatusDisconnected ConnectionStatusKind = 2
)

// ServerStateKind mirrors a forward's server_state discriminant.
type ServerStateKind int32

const (
	ServerStateUnspecified ServerStateKind = 0
	ServerStateActive      ServerStateKind = 1
	ServerStateInactive    ServerStateKind = 2
)

// HistoryKind mirrors a connection history entry's discriminant.
type HistoryKind int32

const (
	HistoryUnspecified HistoryKind = 0
	HistoryOpen        HistoryKind = 1
	HistoryClosed      HistoryKind = 2
)

// ControlClientMessage is sent operator -> server on the control channel.
type ControlClientMessage struct {
	MessageId uint64
	Payload   isControlClientMessagePayload
}

type isControlClientMessagePayload interface {
	isControlClientMessagePayload()
}

type ControlClientMessageClientsRequest struct{}

type ControlClientMessageSshConnection struct {
	DeviceId string
	Command  isControlSshConnectionCommand
}

type isControlSshConnectionCommand interface {
	isControlSshConnectionCommand()
}

type ControlSshConnectionEnable struct {
	ForwardHost string
	ForwardPort uint32
	GatewayPort bool
}

type ControlSshConnectionDisable struct {
	ConnectionId string
}

type ControlSshConnectionExtendTimeout struct {
	ConnectionId string
}

func (*ControlSshConnectionEnable) isControlSshConnectionCommand()        {}
func (*ControlSshConnectionDisable) isControlSshConnectionCommand()       {}
func (*ControlSshConnectionExtendTimeout) isControlSshConnectionCommand() {}

type ControlClientMessageCreateDevice struct {
	DeviceId string
}

type ControlClientMessageRemoveDevice struct {
	DeviceId string
}

type ControlClientMessageSetName struct {
	DeviceId string
	Name     string
}

func (*ControlClientMessageClientsRequest) isControlClientMessagePayload() {}
func (*ControlClientMessageSshConnection) isControlClientMessagePayload()  {}
func (*ControlClientMessageCreateDevice) isControlClientMessagePayload()   {}
func (*ControlClientMessageRemoveDevice) isControlClientMessagePayload()   {}
func (*ControlClientMessageSetName) isControlClientMessagePayload()        {}

const (
	controlClientFieldMessageId      protowire.Number = 1
	controlClientFieldClientsRequest protowire.Number = 2
	controlClientFieldSshConnection  protowire.Number = 3
	controlClientFieldCreateDevice   protowire.Number = 4
	controlClientFieldRemoveDevice   protowire.Number = 5
	controlClientFieldSetName        protowire.Number = 6
)

func (m *ControlClientMessage) Marshal() ([]byte, error) {
	var b []byte
	// Zero-skipped: relies on controlclient.Client never assigning message
	// id 0 (its counter starts at 1).
	b = appendVarintField(b, controlClientFieldMessageId, m.MessageId)
	switch p := m.Payload.(type) {
	case *ControlClientMessageClientsRequest:
		b = appendBytesField(b, controlClientFieldClientsRequest, nil)
	case *ControlClientMessageSshConnection:
		sub, err := p.marshal()
		if err != nil {
			return nil, err
		}
		b = appendBytesField(b, controlClientFieldSshConnection, sub)
	case *ControlClientMessageCreateDevice:
		sub := appendString(nil, 1, p.DeviceId)
		b = appendBytesField(b, controlClientFieldCreateDevice, sub)
	case *ControlClientMessageRemoveDevice:
		sub := appendString(nil, 1, p.DeviceId)
		b = appendBytesField(b, controlClientFieldRemoveDevice, sub)
	case *ControlClientMessageSetName:
		var sub []byte
		sub = appendString(sub, 1, p.DeviceId)
		sub = appendString(sub, 2, p.Name)
		b = appendBytesField(b, controlClientFieldSetName, sub)
	default:
		return nil, fmt.Errorf("protocol: ControlClientMessage: no payload set")
	}
	return b, nil
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	b = protowire.AppendVarint(b, v)
	return b
}

func (m *ControlClientMessageSshConnection) marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.DeviceId)
	switch c := m.Command.(type) {
	case *ControlSshConnectionEnable:
		var sub []byte
		sub = appendString(sub, 1, c.ForwardHost)
		sub = appendUint32(sub, 2, c.ForwardPort)
		sub = appendBool(sub, 3, c.GatewayPort)
		b = appendBytesField(b, 2, sub)
	case *ControlSshConnectionDisable:
		sub := appendString(nil, 1, c.ConnectionId)
		b = appendBytesField(b, 3, sub)
	case *ControlSshConnectionExtendTimeout:
		sub := appendString(nil, 1, c.ConnectionId)
		b = appendBytesField(b, 4, sub)
	default:
		return nil, fmt.Errorf("protocol: ControlSshConnection: no command set")
	}
	return b, nil
}

func (m *ControlClientMessage) Unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return parseErrorf("ControlClientMessage.tag", n)
		}
		b = b[n:]
		switch num {
		case controlClientFieldMessageId:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return parseErrorf("message_id", n)
			}
			m.MessageId = v
			b = b[n:]
		case controlClientFieldClientsRequest:
			_, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return parseErrorf("clients_request", n)
			}
			m.Payload = &ControlClientMessageClientsRequest{}
			b = b[n:]
		case controlClientFieldSshConnection:
			sub, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return parseErrorf("ssh_connection", n)
			}
			cmd := &ControlClientMessageSshConnection{}
			if err := cmd.unmarshal(sub); err != nil {
				return err
			}
			m.Payload = cmd
			b = b[n:]
		case controlClientFieldCreateDevice:
			sub, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return parseErrorf("create_device", n)
			}
			cd := &ControlClientMessageCreateDevice{}
			if err := unmarshalSingleStringField(sub, &cd.DeviceId); err != nil {
				return err
			}
			m.Payload = cd
			b = b[n:]
		case controlClientFieldRemoveDevice:
			sub, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return parseErrorf("remove_device", n)
			}
			rd := &ControlClientMessageRemoveDevice{}
			if err := unmarshalSingleStringField(sub, &rd.DeviceId); err != nil {
				return err
			}
			m.Payload = rd
			b = b[n:]
		case controlClientFieldSetName:
			sub, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return parseErrorf("set_name", n)
			}
			sn := &ControlClientMessageSetName{}
			if err := sn.unmarshal(sub); err != nil {
				return err
			}
			m.Payload = sn
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return parseErrorf("ControlClientMessage.unknown", n)
			}
			b = b[n:]
		}
	}
	return nil
}

// unmarshalSingleStringField is shared by the several control request
// messages that carry exactly one field-1 string.
func unmarshalSingleStringField(b []byte, out *string) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return parseErrorf("field.tag", n)
		}
		b = b[n:]
		if num == 1 {
			s, n := consumeString(b)
			if n < 0 {
				return parseErrorf("field.value", n)
			}
			*out = s
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return parseErrorf("field.unknown", n)
		}
		b = b[n:]
	}
	return nil
}

func (m *ControlClientMessageSshConnection) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return parseErrorf("SshConnection.tag", n)
		}
		b = b[n:]
		switch num {
		case 1:
			s, n := consumeString(b)
			if n < 0 {
				return parseErrorf("SshConnection.device_id", n)
			}
			m.DeviceId = s
			b = b[n:]
		case 2:
			sub, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return parseErrorf("SshConnection.enable", n)
			}
			enable := &ControlSshConnectionEnable{}
			if err := enable.unmarshal(sub); err != nil {
				return err
			}
			m.Command = enable
			b = b[n:]
		case 3:
			sub, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return parseErrorf("SshConnection.disable", n)
			}
			disable := &ControlSshConnectionDisable{}
			if err := unmarshalSingleStringField(sub, &disable.ConnectionId); err != nil {
				return err
			}
			m.Command = disable
			b = b[n:]
		case 4:
			sub, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return parseErrorf("SshConnection.extend_timeout", n)
			}
			extend := &ControlSshConnectionExtendTimeout{}
			if err := unmarshalSingleStringField(sub, &extend.ConnectionId); err != nil {
				return err
			}
			m.Command = extend
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

func (m *ControlSshConnectionEnable) unmarshal(b []byte) error {
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
				return parseErrorf("Enable.forward_host", n)
			}
			m.ForwardHost = s
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return parseErrorf("Enable.forward_port", n)
			}
			m.ForwardPort = uint32(v)
			b = b[n:]
		case 3:
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

func (m *ControlClientMessageSetName) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return parseErrorf("SetName.tag", n)
		}
		b = b[n:]
		switch num {
		case 1:
			s, n := consumeString(b)
			if n < 0 {
				return parseErrorf("SetName.device_id", n)
			}
			m.DeviceId = s
			b = b[n:]
		case 2:
			s, n := consumeString(b)
			if n < 0 {
				return parseErrorf("SetName.name", n)
			}
			m.Name = s
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return parseErrorf("SetName.unknown", n)
			}
			b = b[n:]
		}
	}
	return nil
}

// --- Server -> operator responses ---

type ControlServerMessage struct {
	InResponseTo uint64
	Payload      isControlServerMessagePayload
}

type isControlServerMessagePayload interface {
	isControlServerMessagePayload()
}

type ControlServerMessageClientsResponse struct {
	Devices []*DeviceSnapshot
}

type DeviceSnapshot struct {
	Id              string
	Name            string
	Status          ConnectionStatusKind
	Address         string
	LastMessageUnix int64
	Forwards        []*ForwardSnapshot
	History         []*HistoryEntrySnapshot
}

type ForwardSnapshot struct {
	Id                 string
	ForwardHost        string
	ForwardPort        uint32
	RemotePort         uint32
	GatewayPort        bool
	ServerState        ServerStateKind
	ServerStateStampUnix int64
	ClientState        SshForwardClientState
}

type HistoryEntrySnapshot struct {
	Kind            HistoryKind
	ConnectionId    uint64
	ConnectedAtUnix int64
	LastMessageUnix int64
	Address         string
}

type SshConnectionResponseStatus int32

const (
	SshConnectionResponseUnspecified SshConnectionResponseStatus = 0
	SshConnectionResponseOk          SshConnectionResponseStatus = 1
	SshConnectionResponseError       SshConnectionResponseStatus = 2
)

type ControlServerMessageSshConnectionResponse struct {
	Status       SshConnectionResponseStatus
	ConnectionId string
	RemotePort   uint32
}

type CreateDeviceStatus int32

const (
	CreateDeviceUnspecified CreateDeviceStatus = 0
	CreateDeviceCreated     CreateDeviceStatus = 1
	CreateDeviceExists      CreateDeviceStatus = 2
)

type ControlServerMessageCreateDeviceResponse struct {
	Status CreateDeviceStatus
}

type RemoveDeviceStatus int32

const (
	RemoveDeviceUnspecified RemoveDeviceStatus = 0
	RemoveDeviceRemoved     RemoveDeviceStatus = 1
	RemoveDeviceNotFound    RemoveDeviceStatus = 2
	RemoveDeviceActive      RemoveDeviceStatus = 3
)

type ControlServerMessageRemoveDeviceResponse struct {
	Status RemoveDeviceStatus
}

type SetNameStatus int32

const (
	SetNameUnspecified SetNameStatus = 0
	SetNameSuccess     SetNameStatus = 1
	SetNameNotFound    SetNameStatus = 2
)

type ControlServerMessageSetNameResponse struct {
	Status SetNameStatus
}

func (*ControlServerMessageClientsResponse) isControlServerMessagePayload()        {}
func (*ControlServerMessageSshConnectionResponse) isControlServerMessagePayload()  {}
func (*ControlServerMessageCreateDeviceResponse) isControlServerMessagePayload()   {}
func (*ControlServerMessageRemoveDeviceResponse) isControlServerMessagePayload()   {}
func (*ControlServerMessageSetNameResponse) isControlServerMessagePayload()        {}

const (
	controlServerFieldInResponseTo      protowire.Number = 1
	controlServerFieldClientsResponse   protowire.Number = 2
	controlServerFieldSshConnResponse   protowire.Number = 3
	controlServerFieldCreateDeviceResp  protowire.Number = 4
	controlServerFieldRemoveDeviceResp  protowire.Number = 5
	controlServerFieldSetNameResp       protowire.Number = 6
)

func (m *ControlServerMessage) Marshal() ([]byte, error) {
	var b []byte
	// Zero-skipped: relies on the same message-id-never-0 invariant as
	// ControlClientMessage.MessageId above.
	b = appendVarintField(b, controlServerFieldInResponseTo, m.InResponseTo)
	switch p := m.Payload.(type) {
	case *ControlServerMessageClientsResponse:
		sub, err := p.marshal()
		if err != nil {
			return nil, err
		}
		b = appendBytesField(b, controlServerFieldClientsResponse, sub)
	case *ControlServerMessageSshConnectionResponse:
		var sub []byte
		sub = appendUint32(sub, 1, uint32(p.Status))
		sub = appendString(sub, 2, p.ConnectionId)
		sub = appendUint32(sub, 3, p.RemotePort)
		b = appendBytesField(b, controlServerFieldSshConnResponse, sub)
	case *ControlServerMessageCreateDeviceResponse:
		sub := appendUint32(nil, 1, uint32(p.Status))
		b = appendBytesField(b, controlServerFieldCreateDeviceResp, sub)
	case *ControlServerMessageRemoveDeviceResponse:
		sub := appendUint32(nil, 1, uint32(p.Status))
		b = appendBytesField(b, controlServerFieldRemoveDeviceResp, sub)
	case *ControlServerMessageSetNameResponse:
		sub := appendUint32(nil, 1, uint32(p.Status))
		b = appendBytesField(b, controlServerFieldSetNameResp, sub)
	default:
		return nil, fmt.Errorf("protocol: ControlServerMessage: no payload set")
	}
	return b, nil
}

func (m *ControlServerMessageClientsResponse) marshal() ([]byte, error) {
	var b []byte
	for _, d := range m.Devices {
		sub, err := d.marshal()
		if err != nil {
			return nil, err
		}
		b = appendBytesField(b, 1, sub)
	}
	return b, nil
}

func (d *DeviceSnapshot) marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, d.Id)
	b = appendString(b, 2, d.Name)
	b = appendUint32(b, 3, uint32(d.Status))
	b = appendString(b, 4, d.Address)
	// Zero-skipped: a device with no LastMessageUnix yet (never connected)
	// is the only legitimate zero here, and that case is already fully
	// described by Status == ConnectionStatusUnknown on the other side.
	b = appendInt64(b, 5, d.LastMessageUnix)
	for _, f := range d.Forwards {
		sub := f.marshal()
		b = appendBytesField(b, 6, sub)
	}
	for _, h := range d.History {
		sub := h.marshal()
		b = appendBytesField(b, 7, sub)
	}
	return b, nil
}

func (f *ForwardSnapshot) marshal() []byte {
	var b []byte
	b = appendString(b, 1, f.Id)
	b = appendString(b, 2, f.ForwardHost)
	b = appendUint32(b, 3, f.ForwardPort)
	b = appendUint32(b, 4, f.RemotePort)
	b = appendBool(b, 5, f.GatewayPort)
	b = appendUint32(b, 6, uint32(f.ServerState))
	// Zero-skipped: relies on world.CreateForward always stamping
	// ServerState.Stamp from time.Now(), never the zero Time.
	b = appendInt64(b, 7, f.ServerStateStampUnix)
	b = appendUint32(b, 8, uint32(f.ClientState))
	return b
}

func (h *HistoryEntrySnapshot) marshal() []byte {
	var b []byte
	b = appendUint32(b, 1, uint32(h.Kind))
	// Zero-skipped: relies on devicefrontdoor's connection_id counter
	// starting at 1 (see atomic.AddUint64 in devicefrontdoor.go).
	b = appendVarintField(b, 2, h.ConnectionId)
	// Zero-skipped: relies on no snapshot legitimately reporting a zero
	// Unix timestamp -- every stamp here is set from time.Now() at the
	// moment the corresponding event happened.
	b = appendInt64(b, 3, h.ConnectedAtUnix)
	b = appendInt64(b, 4, h.LastMessageUnix)
	b = appendString(b, 5, h.Address)
	return b
}

func (m *ControlServerMessage) Unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return parseErrorf("ControlServerMessage.tag", n)
		}
		b = b[n:]
		switch num {
		case controlServerFieldInResponseTo:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return parseErrorf("in_response_to", n)
			}
			m.InResponseTo = v
			b = b[n:]
		case controlServerFieldClientsResponse:
			sub, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return parseErrorf("clients_response", n)
			}
			resp := &ControlServerMessageClientsResponse{}
			if err := resp.unmarshal(sub); err != nil {
				return err
			}
			m.Payload = resp
			b = b[n:]
		case controlServerFieldSshConnResponse:
			sub, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return parseErrorf("ssh_connection_response", n)
			}
			resp := &ControlServerMessageSshConnectionResponse{}
			if err := resp.unmarshal(sub); err != nil {
				return err
			}
			m.Payload = resp
			b = b[n:]
		case controlServerFieldCreateDeviceResp:
			sub, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return parseErrorf("create_device_response", n)
			}
			var status uint32
			if err := unmarshalSingleUint32Field(sub, &status); err != nil {
				return err
			}
			m.Payload = &ControlServerMessageCreateDeviceResponse{Status: CreateDeviceStatus(status)}
			b = b[n:]
		case controlServerFieldRemoveDeviceResp:
			sub, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return parseErrorf("remove_device_response", n)
			}
			var status uint32
			if err := unmarshalSingleUint32Field(sub, &status); err != nil {
				return err
			}
			m.Payload = &ControlServerMessageRemoveDeviceResponse{Status: RemoveDeviceStatus(status)}
			b = b[n:]
		case controlServerFieldSetNameResp:
			sub, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return parseErrorf("set_name_response", n)
			}
			var status uint32
			if err := unmarshalSingleUint32Field(sub, &status); err != nil {
				return err
			}
			m.Payload = &ControlServerMessageSetNameResponse{Status: SetNameStatus(status)}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return parseErrorf("ControlServerMessage.unknown", n)
			}
			b = b[n:]
		}
	}
	return nil
}

func unmarshalSingleUint32Field(b []byte, out *uint32) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return parseErrorf("field.tag", n)
		}
		b = b[n:]
		if num == 1 {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return parseErrorf("field.value", n)
			}
			*out = uint32(v)
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return parseErrorf("field.unknown", n)
		}
		b = b[n:]
	}
	return nil
}

func (m *ControlServerMessageClientsResponse) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return parseErrorf("ClientsResponse.tag", n)
		}
		b = b[n:]
		if num == 1 {
			sub, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return parseErrorf("ClientsResponse.device", n)
			}
			d := &DeviceSnapshot{}
			if err := d.unmarshal(sub); err != nil {
				return err
			}
			m.Devices = append(m.Devices, d)
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return parseErrorf("ClientsResponse.unknown", n)
		}
		b = b[n:]
	}
	return nil
}

func (d *DeviceSnapshot) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return parseErrorf("DeviceSnapshot.tag", n)
		}
		b = b[n:]
		switch num {
		case 1:
			s, n := consumeString(b)
			if n < 0 {
				return parseErrorf("DeviceSnapshot.id", n)
			}
			d.Id = s
			b = b[n:]
		case 2:
			s, n := consumeString(b)
			if n < 0 {
				return parseErrorf("DeviceSnapshot.name", n)
			}
			d.Name = s
			b = b[n:]
		case 3:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return parseErrorf("DeviceSnapshot.status", n)
			}
			d.Status = ConnectionStatusKind(v)
			b = b[n:]
		case 4:
			s, n := consumeString(b)
			if n < 0 {
				return parseErrorf("DeviceSnapshot.address", n)
			}
			d.Address = s
			b = b[n:]
		case 5:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return parseErrorf("DeviceSnapshot.last_message_unix", n)
			}
			d.LastMessageUnix = int64(v)
			b = b[n:]
		case 6:
			sub, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return parseErrorf("DeviceSnapshot.forward", n)
			}
			f := &ForwardSnapshot{}
			if err := f.unmarshal(sub); err != nil {
				return err
			}
			d.Forwards = append(d.Forwards, f)
			b = b[n:]
		case 7:
			sub, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return parseErrorf("DeviceSnapshot.history", n)
			}
			h := &HistoryEntrySnapshot{}
			if err := h.unmarshal(sub); err != nil {
				return err
			}
			d.History = append(d.History, h)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return parseErrorf("DeviceSnapshot.unknown", n)
			}
			b = b[n:]
		}
	}
	return nil
}

func (f *ForwardSnapshot) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return parseErrorf("ForwardSnapshot.tag", n)
		}
		b = b[n:]
		switch num {
		case 1:
			s, n := consumeString(b)
			if n < 0 {
				return parseErrorf("ForwardSnapshot.id", n)
			}
			f.Id = s
			b = b[n:]
		case 2:
			s, n := consumeString(b)
			if n < 0 {
				return parseErrorf("ForwardSnapshot.forward_host", n)
			}
			f.ForwardHost = s
			b = b[n:]
		case 3:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return parseErrorf("ForwardSnapshot.forward_port", n)
			}
			f.ForwardPort = uint32(v)
			b = b[n:]
		case 4:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return parseErrorf("ForwardSnapshot.remote_port", n)
			}
			f.RemotePort = uint32(v)
			b = b[n:]
		case 5:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return parseErrorf("ForwardSnapshot.gateway_port", n)
			}
			f.GatewayPort = v != 0
			b = b[n:]
		case 6:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return parseErrorf("ForwardSnapshot.server_state", n)
			}
			f.ServerState = ServerStateKind(v)
			b = b[n:]
		case 7:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return parseErrorf("ForwardSnapshot.server_state_stamp_unix", n)
			}
			f.ServerStateStampUnix = int64(v)
			b = b[n:]
		case 8:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return parseErrorf("ForwardSnapshot.client_state", n)
			}
			f.ClientState = SshForwardClientState(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return parseErrorf("ForwardSnapshot.unknown", n)
			}
			b = b[n:]
		}
	}
	return nil
}

func (h *HistoryEntrySnapshot) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return parseErrorf("HistoryEntrySnapshot.tag", n)
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return parseErrorf("HistoryEntrySnapshot.kind", n)
			}
			h.Kind = HistoryKind(v)
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return parseErrorf("HistoryEntrySnapshot.connection_id", n)
			}
			h.ConnectionId = v
			b = b[n:]
		case 3:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return parseErrorf("HistoryEntrySnapshot.connected_at_unix", n)
			}
			h.ConnectedAtUnix = int64(v)
			b = b[n:]
		case 4:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return parseErrorf("HistoryEntrySnapshot.last_message_unix", n)
			}
			h.LastMessageUnix = int64(v)
			b = b[n:]
		case 5:
			s, n := consumeString(b)
			if n < 0 {
				return parseErrorf("HistoryEntrySnapshot.address", n)
			}
			h.Address = s
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return parseErrorf("HistoryEntrySnapshot.unknown", n)
			}
			b = b[n:]
		}
	}
	return nil
}

func (m *ControlServerMessageSshConnectionResponse) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return parseErrorf("SshConnectionResponse.tag", n)
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return parseErrorf("SshConnectionResponse.status", n)
			}
			m.Status = SshConnectionResponseStatus(v)
			b = b[n:]
		case 2:
			s, n := consumeString(b)
			if n < 0 {
				return parseErrorf("SshConnectionResponse.connection_id", n)
			}
			m.ConnectionId = s
			b = b[n:]
		case 3:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return parseErrorf("SshConnectionResponse.remote_port", n)
			}
			m.RemotePort = uint32(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return parseErrorf("SshConnectionResponse.unknown", n)
			}
			b = b[n:]
		}
	}
	return nil
}
