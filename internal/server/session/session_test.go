package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanburgers/connectbot/internal/server/portalloc"
	"github.com/bryanburgers/connectbot/internal/server/world"
	"github.com/bryanburgers/connectbot/internal/shared/codec"
	"github.com/bryanburgers/connectbot/internal/shared/protocol"
)

func newTestWorld() *world.World {
	return world.New(portalloc.New(80, 80, 10000, 10010))
}

// fakeDevice drives the device side of a net.Pipe against a Session running
// on the other end.
type fakeDevice struct {
	t       *testing.T
	conn    net.Conn
	encoder *codec.Encoder
	decoder *codec.Decoder
}

func newFakeDevice(t *testing.T, conn net.Conn) *fakeDevice {
	return &fakeDevice{t: t, conn: conn, encoder: codec.NewEncoder(conn), decoder: codec.NewDecoder(conn)}
}

func (d *fakeDevice) send(msg *protocol.DeviceClientMessage) {
	d.t.Helper()
	if err := d.encoder.Encode(msg); err != nil {
		d.t.Fatalf("fakeDevice: encode: %v", err)
	}
}

func (d *fakeDevice) recv(timeout time.Duration) *protocol.DeviceServerMessage {
	d.t.Helper()
	d.conn.SetReadDeadline(time.Now().Add(timeout))
	defer d.conn.SetReadDeadline(time.Time{})

	var msg protocol.DeviceServerMessage
	if err := d.decoder.Decode(&msg); err != nil {
		d.t.Fatalf("fakeDevice: decode: %v", err)
	}
	return &msg
}

// startSession wires a Session to one end of a net.Pipe and returns a
// fakeDevice driving the other end, along with a stop func that tears both
// down.
func startSession(t *testing.T, w *world.World, cfg SshConfig) (*fakeDevice, func()) {
	t.Helper()
	serverConn, deviceConn := net.Pipe()

	s := New(1, serverConn, w, cfg, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	dev := newFakeDevice(t, deviceConn)
	return dev, func() {
		cancel()
		deviceConn.Close()
		<-done
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestInitializeConnectsDeviceAndReplaysActiveForwards(t *testing.T) {
	w := newTestWorld()
	f, err := w.CreateForward("d1", "localhost", 22, false, time.Now())
	if err != nil {
		t.Fatalf("CreateForward: %v", err)
	}

	dev, stop := startSession(t, w, SshConfig{Host: "gateway.example", Port: 22, Username: "connectbot", PrivateKey: "key"})
	defer stop()

	dev.send(&protocol.DeviceClientMessage{Payload: &protocol.DeviceClientMessageInitialize{Id: "d1", CommsVersion: 1}})

	msg := dev.recv(time.Second)
	sc, ok := msg.Payload.(*protocol.DeviceServerMessageSshConnection)
	if !ok {
		t.Fatalf("got %T, want SshConnection", msg.Payload)
	}
	if sc.Id != f.Id {
		t.Fatalf("forward id: got %s, want %s", sc.Id, f.Id)
	}
	enable, ok := sc.Command.(*protocol.SshConnectionEnable)
	if !ok {
		t.Fatalf("got %T, want SshConnectionEnable", sc.Command)
	}
	if enable.SshHost != "gateway.example" || enable.SshUsername != "connectbot" {
		t.Fatalf("enable command not built from sshConfig: %+v", enable)
	}

	waitUntil(t, time.Second, func() bool { return w.DeviceConnected("d1") })
}

func TestPingIsAnsweredWithPong(t *testing.T) {
	w := newTestWorld()
	dev, stop := startSession(t, w, SshConfig{})
	defer stop()

	dev.send(&protocol.DeviceClientMessage{Payload: &protocol.DeviceClientMessageInitialize{Id: "d1", CommsVersion: 1}})
	dev.send(&protocol.DeviceClientMessage{Payload: &protocol.DeviceClientMessagePing{}})

	msg := dev.recv(time.Second)
	if _, ok := msg.Payload.(*protocol.DeviceServerMessagePong); !ok {
		t.Fatalf("got %T, want Pong", msg.Payload)
	}
}

// A status report for a forward id the World no longer knows about must be
// answered with a Disable, so a device doesn't keep a stale tunnel open.
func TestUnknownForwardStatusTriggersDisable(t *testing.T) {
	w := newTestWorld()
	dev, stop := startSession(t, w, SshConfig{})
	defer stop()

	dev.send(&protocol.DeviceClientMessage{Payload: &protocol.DeviceClientMessageInitialize{Id: "d1", CommsVersion: 1}})
	waitUntil(t, time.Second, func() bool { return w.DeviceConnected("d1") })

	dev.send(&protocol.DeviceClientMessage{Payload: &protocol.DeviceClientMessageSshConnectionStatus{Id: "ghost", State: protocol.ClientStateConnecting}})

	msg := dev.recv(time.Second)
	sc, ok := msg.Payload.(*protocol.DeviceServerMessageSshConnection)
	if !ok {
		t.Fatalf("got %T, want SshConnection", msg.Payload)
	}
	if sc.Id != "ghost" {
		t.Fatalf("forward id: got %q, want ghost", sc.Id)
	}
	if _, ok := sc.Command.(*protocol.SshConnectionDisable); !ok {
		t.Fatalf("got %T, want SshConnectionDisable", sc.Command)
	}
}

// When the device's stream ends, the Session must tear itself down and
// disconnect the device from the World, clearing DeviceConnected.
func TestStreamEndDisconnectsDevice(t *testing.T) {
	w := newTestWorld()
	dev, stop := startSession(t, w, SshConfig{})
	defer stop()

	dev.send(&protocol.DeviceClientMessage{Payload: &protocol.DeviceClientMessageInitialize{Id: "d1", CommsVersion: 1}})
	waitUntil(t, time.Second, func() bool { return w.DeviceConnected("d1") })

	dev.conn.Close()

	waitUntil(t, time.Second, func() bool { return !w.DeviceConnected("d1") })
}

// A BackChannelDisconnect command delivered through the World must tear the
// session down even though the device itself never hangs up.
func TestBackChannelDisconnectTearsSessionDown(t *testing.T) {
	w := newTestWorld()
	dev, stop := startSession(t, w, SshConfig{})
	defer stop()

	dev.send(&protocol.DeviceClientMessage{Payload: &protocol.DeviceClientMessageInitialize{Id: "d1", CommsVersion: 1}})
	waitUntil(t, time.Second, func() bool { return w.DeviceConnected("d1") })

	handle := w.ActiveConnectionHandle("d1")
	if handle == nil {
		t.Fatalf("expected an active connection handle for d1")
	}
	handle.Send(world.BackChannelDisconnect{})

	waitUntil(t, time.Second, func() bool { return !w.DeviceConnected("d1") })
}
