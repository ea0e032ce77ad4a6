// Package devclient maintains the device's single persistent TLS session
// to the server: reconnect with exponential backoff, Initialize handshake,
// liveness, and routing Enable/Disable commands to per-forward
// sshsupervisor.Supervisors whose reported state flows back upstream as
// SshConnectionStatus. Grounded on
// _examples/edgetainer-edgetainer/internal/agent/ssh/client.go
// (connectionLoop/doConnect/backoff doubling/keepalive ticker shape).
package devclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanburgers/connectbot/internal/agent/sshsupervisor"
	"github.com/bryanburgers/connectbot/internal/shared/codec"
	"github.com/bryanburgers/connectbot/internal/shared/idlestream"
	"github.com/bryanburgers/connectbot/internal/shared/protocol"
)

// Device-side idle detector defaults (spec.md §4.4).
const (
	DeviceWarningLevel    = 60 * time.Second
	DeviceDisconnectLevel = 120 * time.Second
)

const (
	initialBackoff = 5 * time.Second
	maxBackoff     = 5 * time.Minute

	commsVersion      = 1
	outboundBufferLen = 5
	statusBufferLen   = 32
)

// Config is the static identity and dial target for one device agent.
type Config struct {
	ServerAddress string
	TLSConfig     *tls.Config
	DeviceId      string
}

// Client owns the device's control connection and the set of active
// forward supervisors, which persist across control-channel reconnects:
// the underlying ssh processes have no dependency on the control socket.
type Client struct {
	cfg    Config
	logger zerolog.Logger

	mu          sync.Mutex
	supervisors map[string]*sshsupervisor.Supervisor

	updates chan forwardUpdate
}

type forwardUpdate struct {
	forwardId string
	change    sshsupervisor.Change
}

// New constructs a Client. Run must be called to start it.
func New(cfg Config, logger zerolog.Logger) *Client {
	return &Client{
		cfg:         cfg,
		logger:      logger.With().Str("device_id", cfg.DeviceId).Logger(),
		supervisors: make(map[string]*sshsupervisor.Supervisor),
		updates:     make(chan forwardUpdate, statusBufferLen),
	}
}

// Run reconnects forever, with exponential backoff doubling from 5s up to
// a 5-minute ceiling, until ctx is canceled.
func (c *Client) Run(ctx context.Context) {
	backoff := initialBackoff

	for {
		err := c.connectionLoop(ctx)
		if ctx.Err() != nil {
			return
		}

		c.logger.Warn().Err(err).Dur("backoff", backoff).Msg("device connection lost, retrying")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Client) connectionLoop(ctx context.Context) error {
	conn, err := tls.Dial("tcp", c.cfg.ServerAddress, c.cfg.TLSConfig)
	if err != nil {
		return fmt.Errorf("devclient: dial: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	idle := &idlestream.Detector{WarningLevel: DeviceWarningLevel, DisconnectLevel: DeviceDisconnectLevel}
	tracked := idle.TrackConn(conn)
	decoder := codec.NewDecoder(tracked)
	encoder := codec.NewEncoder(tracked)

	outbound := make(chan *protocol.DeviceClientMessage, outboundBufferLen)

	idle.Start(ctx, cancel, func() {
		c.send(ctx, outbound, &protocol.DeviceClientMessage{Payload: &protocol.DeviceClientMessagePing{}})
	})

	go c.writeLoop(ctx, encoder, outbound)

	events := make(chan inboundEvent, 1)
	go c.readLoop(ctx, decoder, events)

	c.send(ctx, outbound, &protocol.DeviceClientMessage{
		Payload: &protocol.DeviceClientMessageInitialize{Id: c.cfg.DeviceId, CommsVersion: commsVersion},
	})

	for {
		select {
		case ev := <-events:
			if ev.err != nil {
				return ev.err
			}
			c.handleServerMessage(ctx, outbound, ev.msg)

		case upd := <-c.updates:
			c.send(ctx, outbound, &protocol.DeviceClientMessage{
				Payload: &protocol.DeviceClientMessageSshConnectionStatus{
					Id:    upd.forwardId,
					State: toClientState(upd.change.Kind),
				},
			})
			if upd.change.Kind == sshsupervisor.Disconnected {
				c.mu.Lock()
				delete(c.supervisors, upd.forwardId)
				c.mu.Unlock()
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type inboundEvent struct {
	msg *protocol.DeviceServerMessage
	err error
}

func (c *Client) readLoop(ctx context.Context, decoder *codec.Decoder, events chan<- inboundEvent) {
	for {
		var msg protocol.DeviceServerMessage
		if err := decoder.Decode(&msg); err != nil {
			select {
			case events <- inboundEvent{err: err}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case events <- inboundEvent{msg: &msg}:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) writeLoop(ctx context.Context, encoder *codec.Encoder, outbound <-chan *protocol.DeviceClientMessage) {
	for {
		select {
		case msg, ok := <-outbound:
			if !ok {
				return
			}
			if err := encoder.Encode(msg); err != nil {
				c.logger.Warn().Err(err).Msg("failed to write outbound message")
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) send(ctx context.Context, outbound chan<- *protocol.DeviceClientMessage, msg *protocol.DeviceClientMessage) {
	select {
	case outbound <- msg:
	case <-ctx.Done():
	}
}

func (c *Client) handleServerMessage(ctx context.Context, outbound chan<- *protocol.DeviceClientMessage, msg *protocol.DeviceServerMessage) {
	switch p := msg.Payload.(type) {
	case *protocol.DeviceServerMessagePing:
		c.send(ctx, outbound, &protocol.DeviceClientMessage{Payload: &protocol.DeviceClientMessagePong{}})
	case *protocol.DeviceServerMessagePong:
		// liveness only
	case *protocol.DeviceServerMessageSshConnection:
		switch cmd := p.Command.(type) {
		case *protocol.SshConnectionEnable:
			c.enableForward(p.Id, cmd)
		case *protocol.SshConnectionDisable:
			c.disableForward(p.Id)
		}
	}
}

func (c *Client) enableForward(forwardId string, cmd *protocol.SshConnectionEnable) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.supervisors[forwardId]; exists {
		return
	}

	sup := sshsupervisor.New(sshsupervisor.Config{
		ForwardId:   forwardId,
		SshHost:     cmd.SshHost,
		SshPort:     cmd.SshPort,
		SshUsername: cmd.SshUsername,
		SshKey:      cmd.SshKey,
		ForwardHost: cmd.ForwardHost,
		ForwardPort: cmd.ForwardPort,
		RemotePort:  cmd.RemotePort,
		GatewayPort: cmd.GatewayPort,
	})
	c.supervisors[forwardId] = sup

	// The supervisor's own lifetime context is the process lifetime, not
	// the current control-channel connection's: the ssh tunnel it drives
	// has no dependency on the control socket staying up.
	go sup.Run(context.Background())
	go c.fanInChanges(forwardId, sup)
}

func (c *Client) disableForward(forwardId string) {
	c.mu.Lock()
	sup, ok := c.supervisors[forwardId]
	c.mu.Unlock()
	if !ok {
		return
	}
	sup.Disconnect()
}

func (c *Client) fanInChanges(forwardId string, sup *sshsupervisor.Supervisor) {
	for change := range sup.Changes() {
		c.updates <- forwardUpdate{forwardId: forwardId, change: change}
	}
}

func toClientState(k sshsupervisor.ChangeKind) protocol.SshForwardClientState {
	switch k {
	case sshsupervisor.Connecting:
		return protocol.ClientStateConnecting
	case sshsupervisor.Connected:
		return protocol.ClientStateConnected
	case sshsupervisor.Disconnecting:
		return protocol.ClientStateDisconnecting
	case sshsupervisor.Disconnected:
		return protocol.ClientStateDisconnected
	case sshsupervisor.Failed:
		return protocol.ClientStateFailed
	default:
		return protocol.ClientStateUnspecified
	}
}
