package controlserver

import (
	"context"

	"github.com/bryanburgers/connectbot/internal/shared/protocol"

	"github.com/bryanburgers/connectbot/internal/server/world"
)

func init() {
	register(&protocol.ControlClientMessageSetName{}, handleSetName)
}

func handleSetName(ctx context.Context, s *Server, req *protocol.ControlClientMessage) *protocol.ControlServerMessage {
	msg := req.Payload.(*protocol.ControlClientMessageSetName)

	status := protocol.SetNameSuccess
	if err := s.World.SetName(msg.DeviceId, msg.Name); err != nil {
		if err != world.ErrDeviceNotFound {
			s.Logger.Warn().Err(err).Str("device_id", msg.DeviceId).Msg("set_name failed")
		}
		status = protocol.SetNameNotFound
	}

	return &protocol.ControlServerMessage{
		Payload: &protocol.ControlServerMessageSetNameResponse{Status: status},
	}
}
