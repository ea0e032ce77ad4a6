package controlserver

import (
	"context"
	"time"

	"github.com/bryanburgers/connectbot/internal/shared/protocol"

	"github.com/bryanburgers/connectbot/internal/server/world"
)

func init() {
	register(&protocol.ControlClientMessageSshConnection{}, handleSshConnection)
}

func handleSshConnection(ctx context.Context, s *Server, req *protocol.ControlClientMessage) *protocol.ControlServerMessage {
	msg := req.Payload.(*protocol.ControlClientMessageSshConnection)

	switch c := msg.Command.(type) {
	case *protocol.ControlSshConnectionEnable:
		return s.enableForward(msg.DeviceId, c)
	case *protocol.ControlSshConnectionDisable:
		return s.disableForward(msg.DeviceId, c.ConnectionId)
	case *protocol.ControlSshConnectionExtendTimeout:
		return s.extendForward(msg.DeviceId, c.ConnectionId)
	default:
		return &protocol.ControlServerMessage{
			Payload: &protocol.ControlServerMessageSshConnectionResponse{Status: protocol.SshConnectionResponseError},
		}
	}
}

// enableForward mutates the World first, then -- outside any lock -- sends
// an Enable down the back-channel if the device happens to be connected
// (spec.md §4.7, §5's "mutate then send" discipline).
func (s *Server) enableForward(deviceId string, c *protocol.ControlSshConnectionEnable) *protocol.ControlServerMessage {
	f, err := s.World.CreateForward(deviceId, c.ForwardHost, c.ForwardPort, c.GatewayPort, time.Now())
	if err != nil {
		s.Logger.Warn().Err(err).Str("device_id", deviceId).Msg("failed to create forward")
		return &protocol.ControlServerMessage{
			Payload: &protocol.ControlServerMessageSshConnectionResponse{Status: protocol.SshConnectionResponseError},
		}
	}

	if handle := s.World.ActiveConnectionHandle(deviceId); handle != nil {
		handle.Send(world.BackChannelSshConnect{ForwardId: f.Id})
	}

	var remotePort uint32
	if f.RemotePort != nil {
		remotePort = uint32(f.RemotePort.Value)
	}

	return &protocol.ControlServerMessage{
		Payload: &protocol.ControlServerMessageSshConnectionResponse{
			Status:       protocol.SshConnectionResponseOk,
			ConnectionId: f.Id,
			RemotePort:   remotePort,
		},
	}
}

func (s *Server) disableForward(deviceId, forwardId string) *protocol.ControlServerMessage {
	ok := s.World.DisconnectForward(deviceId, forwardId, time.Now())
	if !ok {
		return &protocol.ControlServerMessage{
			Payload: &protocol.ControlServerMessageSshConnectionResponse{Status: protocol.SshConnectionResponseError},
		}
	}

	if handle := s.World.ActiveConnectionHandle(deviceId); handle != nil {
		handle.Send(world.BackChannelSshDisconnect{ForwardId: forwardId})
	}

	return &protocol.ControlServerMessage{
		Payload: &protocol.ControlServerMessageSshConnectionResponse{
			Status:       protocol.SshConnectionResponseOk,
			ConnectionId: forwardId,
		},
	}
}

// extendForward only refreshes the lease in the World -- no back-channel
// message is sent (spec.md §9 Open Question: the device has no lease
// concept of its own to be told about).
func (s *Server) extendForward(deviceId, forwardId string) *protocol.ControlServerMessage {
	ok := s.World.ExtendForward(deviceId, forwardId, time.Now())
	if !ok {
		return &protocol.ControlServerMessage{
			Payload: &protocol.ControlServerMessageSshConnectionResponse{Status: protocol.SshConnectionResponseError},
		}
	}
	return &protocol.ControlServerMessage{
		Payload: &protocol.ControlServerMessageSshConnectionResponse{
			Status:       protocol.SshConnectionResponseOk,
			ConnectionId: forwardId,
		},
	}
}
