package world

import (
	"testing"
	"time"

	"github.com/bryanburgers/connectbot/internal/server/portalloc"
	"github.com/bryanburgers/connectbot/internal/shared/protocol"
)

func newTestWorld() *World {
	return New(portalloc.New(80, 80, 10000, 10010))
}

func newTestHandle(connectionId uint64) (*ConnectionHandle, chan BackChannelCommand) {
	ch := make(chan BackChannelCommand, BackChannelBufferSize)
	return NewConnectionHandle(connectionId, ch), ch
}

func TestConnectDeviceReturnsPreviousHandle(t *testing.T) {
	w := newTestWorld()
	now := time.Now()

	handleA, _ := newTestHandle(1)
	handleB, _ := newTestHandle(2)

	if prev := w.ConnectDevice("d1", handleA, "10.0.0.1", now); prev != nil {
		t.Fatalf("expected no previous handle on first connect, got %v", prev)
	}

	prev := w.ConnectDevice("d1", handleB, "10.0.0.2", now)
	if prev == nil || prev.ConnectionId() != 1 {
		t.Fatalf("expected previous handle with connection id 1, got %v", prev)
	}

	if got := w.ActiveConnectionHandle("d1").ConnectionId(); got != 2 {
		t.Fatalf("expected active connection id 2, got %d", got)
	}
}

func TestDisconnectDeviceIgnoresDisplacedConnection(t *testing.T) {
	w := newTestWorld()
	now := time.Now()

	handleA, _ := newTestHandle(1)
	handleB, _ := newTestHandle(2)

	w.ConnectDevice("d1", handleA, "10.0.0.1", now)
	w.ConnectDevice("d1", handleB, "10.0.0.2", now)

	// The displaced session A's own teardown path calls DisconnectDevice
	// with its own (now stale) connection id. It must not clobber B's
	// Connected status.
	w.DisconnectDevice("d1", 1, now)

	if !w.DeviceConnected("d1") {
		t.Fatalf("expected d1 to remain connected after displaced session's disconnect")
	}
	if got := w.ActiveConnectionHandle("d1").ConnectionId(); got != 2 {
		t.Fatalf("expected active connection id 2, got %d", got)
	}

	w.DisconnectDevice("d1", 2, now)
	if w.DeviceConnected("d1") {
		t.Fatalf("expected d1 to be disconnected after its actual active connection closes")
	}
}

func TestForwardLifecycleReleasesPortOnDisconnect(t *testing.T) {
	w := newTestWorld()
	now := time.Now()

	f, err := w.CreateForward("d1", "localhost", 22, false, now)
	if err != nil {
		t.Fatalf("CreateForward: %v", err)
	}
	if f.RemotePort == nil {
		t.Fatalf("expected a remote port on creation")
	}

	if err := w.UpdateForwardClientState("d1", f.Id, protocol.ClientStateConnected); err != nil {
		t.Fatalf("UpdateForwardClientState(Connected): %v", err)
	}

	if err := w.UpdateForwardClientState("d1", f.Id, protocol.ClientStateDisconnected); err != nil {
		t.Fatalf("UpdateForwardClientState(Disconnected): %v", err)
	}

	got, ok := w.FindForward("d1", f.Id)
	if !ok {
		t.Fatalf("expected forward to still exist immediately after disconnect")
	}
	if got.RemotePort != nil {
		t.Fatalf("expected RemotePort nil after client_state=Disconnected")
	}
}

func TestUnknownForwardUpdateReturnsNotFound(t *testing.T) {
	w := newTestWorld()
	w.CreateForward("d1", "localhost", 22, false, time.Now())

	err := w.UpdateForwardClientState("d1", "ghost", protocol.ClientStateConnecting)
	if err != ErrForwardNotFound {
		t.Fatalf("expected ErrForwardNotFound, got %v", err)
	}
}

func TestCleanupExpiresLeaseAndEventuallyDropsForward(t *testing.T) {
	w := newTestWorld()
	now := time.Now()

	f, err := w.CreateForward("d1", "localhost", 22, false, now)
	if err != nil {
		t.Fatalf("CreateForward: %v", err)
	}
	w.UpdateForwardClientState("d1", f.Id, protocol.ClientStateDisconnected)

	// Lease is still within 24h: nothing should change.
	w.Cleanup(now.Add(time.Hour))
	if _, ok := w.FindForward("d1", f.Id); !ok {
		t.Fatalf("forward should still exist before lease expiry")
	}

	// Past the 24h lease: server_state goes Inactive, but the 1h
	// post-inactive cutoff keeps it around for a while yet.
	afterExpiry := now.Add(24*time.Hour + 30*time.Second)
	w.Cleanup(afterExpiry)
	if _, ok := w.FindForward("d1", f.Id); !ok {
		t.Fatalf("forward should still exist shortly after lease expiry")
	}

	w.Cleanup(afterExpiry.Add(30 * time.Minute))
	if _, ok := w.FindForward("d1", f.Id); !ok {
		t.Fatalf("forward should still exist within the 1h inactive cutoff")
	}

	w.Cleanup(afterExpiry.Add(2 * time.Hour))
	if _, ok := w.FindForward("d1", f.Id); ok {
		t.Fatalf("forward should be dropped once inactive past the 1h cutoff")
	}
}

func TestCleanupIsIdempotent(t *testing.T) {
	w := newTestWorld()
	now := time.Now()
	w.CreateForward("d1", "localhost", 22, false, now)

	far := now.Add(48 * time.Hour)
	w.Cleanup(far)
	firstSnapshot := w.Snapshot()

	w.Cleanup(far)
	secondSnapshot := w.Snapshot()

	if len(firstSnapshot) != len(secondSnapshot) {
		t.Fatalf("cleanup should be idempotent: got %d then %d devices", len(firstSnapshot), len(secondSnapshot))
	}
}

func TestRemoveDeviceRejectsWhileConnected(t *testing.T) {
	w := newTestWorld()
	now := time.Now()
	handle, _ := newTestHandle(1)

	w.ConnectDevice("d1", handle, "10.0.0.1", now)

	if err := w.RemoveDevice("d1"); err != ErrDeviceActive {
		t.Fatalf("expected ErrDeviceActive, got %v", err)
	}

	w.DisconnectDevice("d1", 1, now)

	if err := w.RemoveDevice("d1"); err != nil {
		t.Fatalf("expected removal to succeed once disconnected, got %v", err)
	}
}
