package controlserver

import (
	"context"

	"github.com/bryanburgers/connectbot/internal/shared/protocol"

	"github.com/bryanburgers/connectbot/internal/server/world"
)

func init() {
	register(&protocol.ControlClientMessageCreateDevice{}, handleCreateDevice)
}

func handleCreateDevice(ctx context.Context, s *Server, req *protocol.ControlClientMessage) *protocol.ControlServerMessage {
	msg := req.Payload.(*protocol.ControlClientMessageCreateDevice)

	status := protocol.CreateDeviceCreated
	if err := s.World.CreateDevice(msg.DeviceId); err != nil {
		if err != world.ErrDeviceAlreadyExists {
			s.Logger.Warn().Err(err).Str("device_id", msg.DeviceId).Msg("create_device failed")
		}
		status = protocol.CreateDeviceExists
	}

	return &protocol.ControlServerMessage{
		Payload: &protocol.ControlServerMessageCreateDeviceResponse{Status: status},
	}
}
