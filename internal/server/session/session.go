// Package session implements the device-server session layer: one Session
// per live TLS connection, framing messages, enforcing liveness via an idle
// detector, routing inbound device messages into the World, and delivering
// back-channel commands. Grounded on
// _examples/original_source/server/src/device_server/client_connection.rs
// (ClientConnection/ClientConnectionHandle) and stream_helpers.rs
// (PrimarySecondaryStream/CancelableStream), reimplemented with goroutines,
// channels, and context cancellation in place of Rust futures polling.
package session

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/bryanburgers/connectbot/internal/shared/codec"
	"github.com/bryanburgers/connectbot/internal/shared/idlestream"
	"github.com/bryanburgers/connectbot/internal/shared/protocol"

	"github.com/bryanburgers/connectbot/internal/server/world"
)

// SshConfig carries the static SSH client parameters the device needs to
// establish its outbound session -- the same for every forward, sourced
// from the server's configuration (spec.md §6: the `ssh` config block).
type SshConfig struct {
	Host       string
	Port       uint32
	Username   string
	PrivateKey string
}

// Idle detector defaults (spec.md §4.4).
const (
	ServerWarningLevel    = 10 * time.Second
	ServerDisconnectLevel = 30 * time.Second
)

// Session is one live device connection, from TLS accept to final
// disconnect. A session may exist without a device id until Initialize.
type Session struct {
	ConnectionId uint64
	RemoteAddr   string

	conn    net.Conn
	decoder *codec.Decoder
	encoder *codec.Encoder

	world     *world.World
	sshConfig SshConfig
	logger    zerolog.Logger

	outbound    chan *protocol.DeviceServerMessage
	backChannel chan world.BackChannelCommand

	deviceId string
}

// New constructs a Session wrapping conn. The caller is responsible for
// having already completed any TLS handshake.
func New(connectionId uint64, conn net.Conn, w *world.World, sshConfig SshConfig, logger zerolog.Logger) *Session {
	return &Session{
		ConnectionId: connectionId,
		RemoteAddr:   conn.RemoteAddr().String(),
		conn:         conn,
		world:        w,
		sshConfig:    sshConfig,
		logger:       logger.With().Uint64("connection_id", connectionId).Logger(),
		outbound:     make(chan *protocol.DeviceServerMessage, world.BackChannelBufferSize),
		backChannel:  make(chan world.BackChannelCommand, world.BackChannelBufferSize),
	}
}

// Handle returns the capability object the World stores as this session's
// active_connection.
func (s *Session) Handle() *world.ConnectionHandle {
	return world.NewConnectionHandle(s.ConnectionId, s.backChannel)
}

type sessionEvent struct {
	inbound     *protocol.DeviceClientMessage
	inboundErr  error
	backChannel world.BackChannelCommand
}

// Run drives the session until a terminal condition: stream end, idle
// timeout, cancellation, or I/O error. It always stops the read,
// back-channel, and write loops and cleans up World state before returning.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	idle := &idlestream.Detector{WarningLevel: ServerWarningLevel, DisconnectLevel: ServerDisconnectLevel}
	tracked := idle.TrackConn(s.conn)
	s.decoder = codec.NewDecoder(tracked)
	s.encoder = codec.NewEncoder(tracked)

	idle.Start(ctx, cancel, func() {
		s.sendOutbound(ctx, &protocol.DeviceServerMessage{Payload: &protocol.DeviceServerMessagePing{}})
	})

	events := make(chan sessionEvent, 1)

	// The read, back-channel, and write loops run as one errgroup so that
	// teardown can wait for all three to actually exit before returning --
	// g's derived context is what each loop selects on, so cancel (via the
	// outer cancel or a loop's own error) tears all three down together.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { s.readLoop(gctx, events); return nil })
	g.Go(func() error { s.backChannelLoop(gctx, events); return nil })
	g.Go(func() error { s.writeLoop(gctx); return nil })

	for {
		select {
		case ev := <-events:
			if ev.inboundErr != nil {
				s.teardown(cancel, g)
				return
			}
			if ev.inbound != nil {
				s.handleInbound(ctx, ev.inbound)
				continue
			}
			if ev.backChannel != nil {
				if s.handleBackChannel(ctx, cancel, ev.backChannel) {
					s.teardown(cancel, g)
					return
				}
			}
		case <-ctx.Done():
			s.teardown(cancel, g)
			return
		}
	}
}

// readLoop is the primary source: it decodes frames until EOF or error,
// then reports the terminal condition exactly once. Once the primary ends,
// Run tears the session down even if the back-channel still has buffered
// commands -- teardown must never be blocked by unread back-channel state.
func (s *Session) readLoop(ctx context.Context, events chan<- sessionEvent) {
	for {
		var msg protocol.DeviceClientMessage
		err := s.decoder.Decode(&msg)
		if err != nil {
			select {
			case events <- sessionEvent{inboundErr: err}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case events <- sessionEvent{inbound: &msg}:
		case <-ctx.Done():
			return
		}
	}
}

// backChannelLoop is the secondary source: it never ends the combined
// stream on its own, only the primary (or an explicit cancel) does.
func (s *Session) backChannelLoop(ctx context.Context, events chan<- sessionEvent) {
	for {
		select {
		case cmd := <-s.backChannel:
			select {
			case events <- sessionEvent{backChannel: cmd}:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) writeLoop(ctx context.Context) {
	for {
		select {
		case msg, ok := <-s.outbound:
			if !ok {
				return
			}
			if err := s.encoder.Encode(msg); err != nil {
				s.logger.Warn().Err(err).Msg("failed to write outbound message")
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// sendOutbound blocks until the outbound channel accepts msg or ctx ends --
// a full outbound channel slows the producer by yielding, never by
// dropping (spec.md §5).
func (s *Session) sendOutbound(ctx context.Context, msg *protocol.DeviceServerMessage) {
	select {
	case s.outbound <- msg:
	case <-ctx.Done():
	}
}

func (s *Session) handleInbound(ctx context.Context, msg *protocol.DeviceClientMessage) {
	switch p := msg.Payload.(type) {
	case *protocol.DeviceClientMessagePing:
		s.sendOutbound(ctx, &protocol.DeviceServerMessage{Payload: &protocol.DeviceServerMessagePong{}})
	case *protocol.DeviceClientMessagePong:
		// liveness only
	case *protocol.DeviceClientMessageInitialize:
		s.onInitialize(ctx, p)
	case *protocol.DeviceClientMessageSshConnectionStatus:
		if s.deviceId == "" {
			s.logger.Warn().Msg("ssh_connection_status received before initialize; dropping")
			return
		}
		s.onSshConnectionStatus(ctx, p)
	default:
		if s.deviceId == "" {
			s.logger.Warn().Msg("message received before initialize; dropping")
		}
	}
}

func (s *Session) onInitialize(ctx context.Context, init *protocol.DeviceClientMessageInitialize) {
	s.deviceId = init.Id
	s.logger = s.logger.With().Str("device_id", init.Id).Logger()

	previous := s.world.ConnectDevice(init.Id, s.Handle(), s.RemoteAddr, time.Now())
	if previous != nil {
		previous.Send(world.BackChannelDisconnect{})
	}

	for _, f := range s.world.ActiveForwards(init.Id) {
		s.sendOutbound(ctx, s.enableMessage(f))
	}
}

func (s *Session) onSshConnectionStatus(ctx context.Context, status *protocol.DeviceClientMessageSshConnectionStatus) {
	err := s.world.UpdateForwardClientState(s.deviceId, status.Id, status.State)
	if err == world.ErrForwardNotFound {
		s.sendOutbound(ctx, s.disableMessage(status.Id))
	}
}

// handleBackChannel applies one back-channel command. It returns true if
// the session should now tear down (a Disconnect command).
func (s *Session) handleBackChannel(ctx context.Context, cancel context.CancelFunc, cmd world.BackChannelCommand) bool {
	switch c := cmd.(type) {
	case world.BackChannelDisconnect:
		cancel()
		return true
	case world.BackChannelSshConnect:
		f, ok := s.world.FindForward(s.deviceId, c.ForwardId)
		if !ok {
			return false
		}
		s.sendOutbound(ctx, s.enableMessage(f))
	case world.BackChannelSshDisconnect:
		s.sendOutbound(ctx, s.disableMessage(c.ForwardId))
	}
	return false
}

func (s *Session) enableMessage(f *world.SshForward) *protocol.DeviceServerMessage {
	var remotePort uint32
	if f.RemotePort != nil {
		remotePort = uint32(f.RemotePort.Value)
	}
	return &protocol.DeviceServerMessage{
		Payload: &protocol.DeviceServerMessageSshConnection{
			Id: f.Id,
			Command: &protocol.SshConnectionEnable{
				SshHost:     s.sshConfig.Host,
				SshPort:     s.sshConfig.Port,
				SshUsername: s.sshConfig.Username,
				SshKey:      s.sshConfig.PrivateKey,
				ForwardHost: f.ForwardHost,
				ForwardPort: f.ForwardPort,
				RemotePort:  remotePort,
				GatewayPort: f.GatewayPort,
			},
		},
	}
}

func (s *Session) disableMessage(forwardId string) *protocol.DeviceServerMessage {
	return &protocol.DeviceServerMessage{
		Payload: &protocol.DeviceServerMessageSshConnection{
			Id:      forwardId,
			Command: &protocol.SshConnectionDisable{},
		},
	}
}

func (s *Session) teardown(cancel context.CancelFunc, g *errgroup.Group) {
	cancel()
	_ = s.conn.Close()
	_ = g.Wait()
	if s.deviceId != "" {
		s.world.DisconnectDevice(s.deviceId, s.ConnectionId, time.Now())
	}
	s.logger.Info().Msg("session closed")
}
