package controlserver

import (
	"context"

	"github.com/bryanburgers/connectbot/internal/shared/protocol"

	"github.com/bryanburgers/connectbot/internal/server/world"
)

func init() {
	register(&protocol.ControlClientMessageRemoveDevice{}, handleRemoveDevice)
}

func handleRemoveDevice(ctx context.Context, s *Server, req *protocol.ControlClientMessage) *protocol.ControlServerMessage {
	msg := req.Payload.(*protocol.ControlClientMessageRemoveDevice)

	status := protocol.RemoveDeviceRemoved
	switch err := s.World.RemoveDevice(msg.DeviceId); err {
	case nil:
		status = protocol.RemoveDeviceRemoved
	case world.ErrDeviceNotFound:
		status = protocol.RemoveDeviceNotFound
	case world.ErrDeviceActive:
		status = protocol.RemoveDeviceActive
	default:
		s.Logger.Warn().Err(err).Str("device_id", msg.DeviceId).Msg("remove_device failed")
		status = protocol.RemoveDeviceNotFound
	}

	return &protocol.ControlServerMessage{
		Payload: &protocol.ControlServerMessageRemoveDeviceResponse{Status: status},
	}
}
