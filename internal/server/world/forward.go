package world

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/bryanburgers/connectbot/internal/server/portalloc"
	"github.com/bryanburgers/connectbot/internal/shared/protocol"
)

// ErrForwardNotFound is returned by operations addressing a forward id the
// device or operator no longer (or never did) recognize.
var ErrForwardNotFound = errors.New("world: forward not found")

const forwardLeaseDuration = 24 * time.Hour

// ServerState is the server-desired half of a forward's dual state machine:
// Active{until} or Inactive{since}, both carried in Stamp.
type ServerState struct {
	Active bool
	Stamp  time.Time
}

func activeUntil(until time.Time) ServerState {
	return ServerState{Active: true, Stamp: until}
}

func inactiveSince(since time.Time) ServerState {
	return ServerState{Active: false, Stamp: since}
}

// SshForward is one requested reverse port-forward for a device.
// Invariant: RemotePort is nil only when ClientState is Disconnected.
type SshForward struct {
	Id          string
	ForwardHost string
	ForwardPort uint32
	GatewayPort bool
	RemotePort  *portalloc.RemotePort
	ServerState ServerState
	ClientState protocol.SshForwardClientState
}

// ForwardSet is the per-device collection of SshForwards, in insertion
// order. Every method assumes the caller already holds the owning World's
// lock (the writer lock for the mutating methods; find and iter are also
// called under the read lock) -- it has no lock of its own, mirroring the original's
// per-device HashMap guarded by the world-wide RwLock.
type ForwardSet struct {
	order []string
	byId  map[string]*SshForward
}

func newForwardSet() *ForwardSet {
	return &ForwardSet{byId: make(map[string]*SshForward)}
}

// create mints a UUID, allocates a port (web pool iff forward_port == 80,
// else other pool), and appends a new forward in Requested/Active state.
func (fs *ForwardSet) create(allocator *portalloc.Allocator, forwardHost string, forwardPort uint32, gatewayPort bool, now time.Time) (*SshForward, error) {
	port, err := allocator.AllocateForForwardPort(forwardPort)
	if err != nil {
		return nil, err
	}

	f := &SshForward{
		Id:          uuid.NewString(),
		ForwardHost: forwardHost,
		ForwardPort: forwardPort,
		GatewayPort: gatewayPort,
		RemotePort:  port,
		ServerState: activeUntil(now.Add(forwardLeaseDuration)),
		ClientState: protocol.ClientStateRequested,
	}
	fs.byId[f.Id] = f
	fs.order = append(fs.order, f.Id)
	return f, nil
}

func (fs *ForwardSet) find(id string) (*SshForward, bool) {
	f, ok := fs.byId[id]
	return f, ok
}

// iter returns a snapshot slice in insertion order.
func (fs *ForwardSet) iter() []*SshForward {
	out := make([]*SshForward, 0, len(fs.order))
	for _, id := range fs.order {
		if f, ok := fs.byId[id]; ok {
			out = append(out, f)
		}
	}
	return out
}

// updateClientState records the device-reported state. Transition to
// Disconnected releases the allocated port; a duplicate Disconnected report
// is idempotent once the port is already nil.
func (fs *ForwardSet) updateClientState(id string, state protocol.SshForwardClientState) error {
	f, ok := fs.byId[id]
	if !ok {
		return ErrForwardNotFound
	}
	f.ClientState = state
	if state == protocol.ClientStateDisconnected {
		f.RemotePort.Release()
		f.RemotePort = nil
	}
	return nil
}

// disconnect transitions ServerState to Inactive. Idempotent.
func (fs *ForwardSet) disconnect(id string, now time.Time) bool {
	f, ok := fs.byId[id]
	if !ok {
		return false
	}
	f.ServerState = inactiveSince(now)
	return true
}

// extend refreshes ServerState to Active{now + 24h}.
func (fs *ForwardSet) extend(id string, now time.Time) bool {
	f, ok := fs.byId[id]
	if !ok {
		return false
	}
	f.ServerState = activeUntil(now.Add(forwardLeaseDuration))
	return true
}

// cleanup expires leases that crossed their deadline and drops forwards
// that have been both client-disconnected and server-inactive since before
// cutoff. It returns the ids that just transitioned Active -> Inactive due
// to lease expiry, so the caller can back-channel a Disable for each once
// it has released the World's writer lock.
func (fs *ForwardSet) cleanup(now, cutoff time.Time) []string {
	var expired []string
	for _, id := range fs.order {
		f := fs.byId[id]
		if f == nil {
			continue
		}
		if f.ServerState.Active && f.ServerState.Stamp.Before(now) {
			f.ServerState = inactiveSince(now)
			expired = append(expired, f.Id)
		}
	}

	kept := fs.order[:0]
	for _, id := range fs.order {
		f := fs.byId[id]
		if f == nil {
			continue
		}
		if f.ClientState == protocol.ClientStateDisconnected && !f.ServerState.Active && f.ServerState.Stamp.Before(cutoff) {
			delete(fs.byId, id)
			continue
		}
		kept = append(kept, id)
	}
	fs.order = kept

	return expired
}
