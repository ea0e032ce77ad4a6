package controlserver

import (
	"context"

	"github.com/bryanburgers/connectbot/internal/shared/protocol"
)

func init() {
	register(&protocol.ControlClientMessageClientsRequest{}, handleClientsRequest)
}

func handleClientsRequest(ctx context.Context, s *Server, req *protocol.ControlClientMessage) *protocol.ControlServerMessage {
	return &protocol.ControlServerMessage{
		Payload: &protocol.ControlServerMessageClientsResponse{
			Devices: s.World.Snapshot(),
		},
	}
}
