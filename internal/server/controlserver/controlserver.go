// Package controlserver is the boundary through which operators mutate the
// World: a plaintext TCP listener, one message_id/in_response_to exchange
// per request, dispatched through a registry of command handlers. Grounded
// on _examples/harfangapps-regis-companion/server/server.go's
// supportedCommands map populated by each command file's init(), adapted
// from a string-keyed RESP-like dispatch to a reflect.Type-keyed dispatch
// over protobuf oneof payloads.
package controlserver

import (
	"context"
	"fmt"
	"net"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/bryanburgers/connectbot/internal/shared/codec"
	"github.com/bryanburgers/connectbot/internal/shared/protocol"

	"github.com/bryanburgers/connectbot/internal/server/world"
)

// commandHandler produces a response payload for one request payload type.
// The registry is populated by each command file's init(), one file per
// command kind.
type commandHandler func(ctx context.Context, s *Server, req *protocol.ControlClientMessage) *protocol.ControlServerMessage

var registry = map[reflect.Type]commandHandler{}

func register(payload interface{}, h commandHandler) {
	registry[reflect.TypeOf(payload)] = h
}

// Server is the control-plane listener.
type Server struct {
	Address string
	World   *world.World
	Logger  zerolog.Logger
}

// ListenAndServe binds Address and serves control requests until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Address)
	if err != nil {
		return fmt.Errorf("controlserver: listen %s: %w", s.Address, err)
	}
	defer ln.Close()

	s.Logger.Info().Str("address", s.Address).Msg("control server listening")
	s.ServeListener(ctx, ln)
	return nil
}

// ServeListener is ListenAndServe's accept loop, parameterized over an
// already-bound listener -- used by tests that want a known ephemeral
// address (net.Listen("tcp", "127.0.0.1:0")) before the loop starts.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.Logger.Warn().Err(err).Msg("accept error")
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	decoder := codec.NewDecoder(conn)
	encoder := codec.NewEncoder(conn)

	for {
		var req protocol.ControlClientMessage
		if err := decoder.Decode(&req); err != nil {
			return
		}

		resp := s.dispatch(ctx, &req)
		if err := encoder.Encode(resp); err != nil {
			s.Logger.Warn().Err(err).Msg("failed to write control response")
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req *protocol.ControlClientMessage) *protocol.ControlServerMessage {
	h, ok := registry[reflect.TypeOf(req.Payload)]
	if !ok {
		s.Logger.Warn().Msg("unrecognized control request payload")
		return &protocol.ControlServerMessage{InResponseTo: req.MessageId}
	}

	resp := h(ctx, s, req)
	resp.InResponseTo = req.MessageId
	return resp
}
