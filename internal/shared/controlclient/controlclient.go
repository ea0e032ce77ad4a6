// Package controlclient is a typed request/response client for the control
// channel: a persistent connection, incrementing message ids, and a
// pending-request map that matches each framed ControlServerMessage reply
// back to its caller by in_response_to. Grounded on
// _examples/original_source/shared/src/client/mod.rs's Client, and on the
// teacher's pattern of a typed wrapper around a raw connection (ssh.Client
// in the teacher; here a plain TCP conn plus the shared codec).
package controlclient

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanburgers/connectbot/internal/shared/codec"
	"github.com/bryanburgers/connectbot/internal/shared/protocol"
)

// DialTimeout bounds how long establishing the underlying connection may
// take.
const DialTimeout = 10 * time.Second

// RequestTimeout bounds how long one call may wait for its matching
// response, measured from when the request is handed to callMessage.
const RequestTimeout = 10 * time.Second

// Client talks to one control server address over a single persistent
// connection, dialed lazily on first use and redialed after any read or
// write error. Safe for concurrent use: multiple in-flight calls share the
// connection and are matched to their own response by message id.
type Client struct {
	Address string

	nextMessageId uint64

	connMu  sync.Mutex
	conn    net.Conn
	encoder *codec.Encoder
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint64]chan pendingResult
}

type pendingResult struct {
	resp *protocol.ControlServerMessage
	err  error
}

// New constructs a Client for addr. No connection is made until the first
// call.
func New(addr string) *Client {
	return &Client{
		Address: addr,
		pending: make(map[uint64]chan pendingResult),
	}
}

// Close releases the underlying connection, if any. Safe to call even if
// no call has been made yet.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.encoder = nil
	return err
}

// ensureConn returns the client's live connection and encoder, dialing and
// starting the read loop on first use or after a previous connection was
// dropped.
func (c *Client) ensureConn(ctx context.Context) (net.Conn, *codec.Encoder, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		return c.conn, c.encoder, nil
	}

	dialer := net.Dialer{}
	dialCtx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()

	conn, err := dialer.DialContext(dialCtx, "tcp", c.Address)
	if err != nil {
		return nil, nil, fmt.Errorf("controlclient: dial: %w", err)
	}

	c.conn = conn
	c.encoder = codec.NewEncoder(conn)
	go c.readLoop(conn)
	return c.conn, c.encoder, nil
}

// dropConn discards conn as the client's current connection, provided
// nothing has already replaced it. Closing is idempotent from the caller's
// perspective -- a concurrent caller that already dialed a new connection is
// left alone.
func (c *Client) dropConn(conn net.Conn) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == conn {
		conn.Close()
		c.conn = nil
		c.encoder = nil
	}
}

// readLoop decodes framed responses for as long as conn lives, dispatching
// each to the pending caller matched by InResponseTo. A response with no
// matching pending entry (a late reply to a call that already timed out) is
// simply dropped -- there is nobody left to deliver it to. Once Decode
// fails, every still-pending call on this connection is woken with the
// error, since none of them will ever see their reply.
func (c *Client) readLoop(conn net.Conn) {
	decoder := codec.NewDecoder(conn)
	for {
		var resp protocol.ControlServerMessage
		if err := decoder.Decode(&resp); err != nil {
			c.dropConn(conn)
			c.failPending(err)
			return
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[resp.InResponseTo]
		if ok {
			delete(c.pending, resp.InResponseTo)
		}
		c.pendingMu.Unlock()

		if ok {
			ch <- pendingResult{resp: &resp}
		}
	}
}

func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		ch <- pendingResult{err: err}
		delete(c.pending, id)
	}
}

// register allocates the next message id and a buffered result channel for
// it, so readLoop can never block handing off a response even if the
// caller has already moved on.
func (c *Client) register() (uint64, chan pendingResult) {
	id := atomic.AddUint64(&c.nextMessageId, 1)
	ch := make(chan pendingResult, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	return id, ch
}

func (c *Client) unregister(id uint64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *Client) callMessage(ctx context.Context, req *protocol.ControlClientMessage) (*protocol.ControlServerMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	conn, encoder, err := c.ensureConn(ctx)
	if err != nil {
		return nil, err
	}

	id, result := c.register()
	req.MessageId = id

	c.writeMu.Lock()
	err = encoder.Encode(req)
	c.writeMu.Unlock()
	if err != nil {
		c.unregister(id)
		c.dropConn(conn)
		return nil, fmt.Errorf("controlclient: send request: %w", err)
	}

	select {
	case r := <-result:
		if r.err != nil {
			return nil, fmt.Errorf("controlclient: read response: %w", r.err)
		}
		return r.resp, nil
	case <-ctx.Done():
		c.unregister(id)
		return nil, fmt.Errorf("controlclient: %w", ctx.Err())
	}
}

// GetClients lists every known device and its forwards.
func (c *Client) GetClients(ctx context.Context) ([]*protocol.DeviceSnapshot, error) {
	resp, err := c.callMessage(ctx, &protocol.ControlClientMessage{
		Payload: &protocol.ControlClientMessageClientsRequest{},
	})
	if err != nil {
		return nil, err
	}
	list, ok := resp.Payload.(*protocol.ControlServerMessageClientsResponse)
	if !ok {
		return nil, fmt.Errorf("controlclient: unexpected response type %T", resp.Payload)
	}
	return list.Devices, nil
}

// CreateDevice registers a new device id with the server.
func (c *Client) CreateDevice(ctx context.Context, deviceId string) (protocol.CreateDeviceStatus, error) {
	resp, err := c.callMessage(ctx, &protocol.ControlClientMessage{
		Payload: &protocol.ControlClientMessageCreateDevice{DeviceId: deviceId},
	})
	if err != nil {
		return protocol.CreateDeviceUnspecified, err
	}
	r, ok := resp.Payload.(*protocol.ControlServerMessageCreateDeviceResponse)
	if !ok {
		return protocol.CreateDeviceUnspecified, fmt.Errorf("controlclient: unexpected response type %T", resp.Payload)
	}
	return r.Status, nil
}

// RemoveDevice deletes a device, failing if it is currently connected.
func (c *Client) RemoveDevice(ctx context.Context, deviceId string) (protocol.RemoveDeviceStatus, error) {
	resp, err := c.callMessage(ctx, &protocol.ControlClientMessage{
		Payload: &protocol.ControlClientMessageRemoveDevice{DeviceId: deviceId},
	})
	if err != nil {
		return protocol.RemoveDeviceUnspecified, err
	}
	r, ok := resp.Payload.(*protocol.ControlServerMessageRemoveDeviceResponse)
	if !ok {
		return protocol.RemoveDeviceUnspecified, fmt.Errorf("controlclient: unexpected response type %T", resp.Payload)
	}
	return r.Status, nil
}

// SetName renames a device.
func (c *Client) SetName(ctx context.Context, deviceId, name string) (protocol.SetNameStatus, error) {
	resp, err := c.callMessage(ctx, &protocol.ControlClientMessage{
		Payload: &protocol.ControlClientMessageSetName{DeviceId: deviceId, Name: name},
	})
	if err != nil {
		return protocol.SetNameUnspecified, err
	}
	r, ok := resp.Payload.(*protocol.ControlServerMessageSetNameResponse)
	if !ok {
		return protocol.SetNameUnspecified, fmt.Errorf("controlclient: unexpected response type %T", resp.Payload)
	}
	return r.Status, nil
}

// EnableForward requests a new forward for deviceId, returning the forward
// id (confusingly named connection_id on the wire, see protocol.ControlSshConnectionDisable)
// and the server-allocated remote port.
func (c *Client) EnableForward(ctx context.Context, deviceId, forwardHost string, forwardPort uint32, gatewayPort bool) (*protocol.ControlServerMessageSshConnectionResponse, error) {
	resp, err := c.callMessage(ctx, &protocol.ControlClientMessage{
		Payload: &protocol.ControlClientMessageSshConnection{
			DeviceId: deviceId,
			Command: &protocol.ControlSshConnectionEnable{
				ForwardHost: forwardHost,
				ForwardPort: forwardPort,
				GatewayPort: gatewayPort,
			},
		},
	})
	if err != nil {
		return nil, err
	}
	r, ok := resp.Payload.(*protocol.ControlServerMessageSshConnectionResponse)
	if !ok {
		return nil, fmt.Errorf("controlclient: unexpected response type %T", resp.Payload)
	}
	return r, nil
}

// DisableForward tears a forward down immediately.
func (c *Client) DisableForward(ctx context.Context, deviceId, forwardId string) (*protocol.ControlServerMessageSshConnectionResponse, error) {
	resp, err := c.callMessage(ctx, &protocol.ControlClientMessage{
		Payload: &protocol.ControlClientMessageSshConnection{
			DeviceId: deviceId,
			Command:  &protocol.ControlSshConnectionDisable{ConnectionId: forwardId},
		},
	})
	if err != nil {
		return nil, err
	}
	r, ok := resp.Payload.(*protocol.ControlServerMessageSshConnectionResponse)
	if !ok {
		return nil, fmt.Errorf("controlclient: unexpected response type %T", resp.Payload)
	}
	return r, nil
}

// ExtendForward resets a forward's 24-hour lease.
func (c *Client) ExtendForward(ctx context.Context, deviceId, forwardId string) (*protocol.ControlServerMessageSshConnectionResponse, error) {
	resp, err := c.callMessage(ctx, &protocol.ControlClientMessage{
		Payload: &protocol.ControlClientMessageSshConnection{
			DeviceId: deviceId,
			Command:  &protocol.ControlSshConnectionExtendTimeout{ConnectionId: forwardId},
		},
	})
	if err != nil {
		return nil, err
	}
	r, ok := resp.Payload.(*protocol.ControlServerMessageSshConnectionResponse)
	if !ok {
		return nil, fmt.Errorf("controlclient: unexpected response type %T", resp.Payload)
	}
	return r, nil
}
