// Package world implements the server's single in-memory aggregate: every
// device, its forwards, its connection history, and the shared port
// allocator, guarded by one multi-reader/exclusive-writer lock (spec.md §3,
// §5). Grounded on
// _examples/original_source/server/src/world/mod.rs and ssh_forward.rs,
// with connect_device/disconnect_device's connection-identity comparison
// corrected to compare connection_id rather than device_id (see DESIGN.md).
package world

import (
	"errors"
	"sync"
	"time"

	"github.com/bryanburgers/connectbot/internal/server/portalloc"
	"github.com/bryanburgers/connectbot/internal/shared/protocol"
)

var (
	ErrDeviceAlreadyExists = errors.New("world: device already exists")
	ErrDeviceNotFound      = errors.New("world: device not found")
	ErrDeviceActive        = errors.New("world: device is currently connected")
)

const (
	historyCutoff          = 48 * time.Hour
	forwardInactiveCutoff  = time.Hour
)

// World is the single aggregate described in spec.md §3.
type World struct {
	mu        sync.RWMutex
	devices   map[string]*Device
	Allocator *portalloc.Allocator
}

// New constructs an empty World over the given port allocator.
func New(allocator *portalloc.Allocator) *World {
	return &World{
		devices:   make(map[string]*Device),
		Allocator: allocator,
	}
}

// CreateDevice creates a device record with no connection history. Returns
// ErrDeviceAlreadyExists if id is already known.
func (w *World) CreateDevice(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.devices[id]; ok {
		return ErrDeviceAlreadyExists
	}
	w.devices[id] = newDevice(id)
	return nil
}

// RemoveDevice removes a device iff it is not currently connected.
func (w *World) RemoveDevice(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	d, ok := w.devices[id]
	if !ok {
		return ErrDeviceNotFound
	}
	if d.IsConnected() {
		return ErrDeviceActive
	}
	delete(w.devices, id)
	return nil
}

// SetName renames a device.
func (w *World) SetName(id, name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	d, ok := w.devices[id]
	if !ok {
		return ErrDeviceNotFound
	}
	d.Name = name
	return nil
}

// ConnectDevice installs handle as the device's active connection, creating
// the device on demand. The returned previous handle, if non-nil, MUST be
// disconnected by the caller -- exactly-one-active-session-per-device is
// the cornerstone invariant, and command dispatch is unambiguous only once
// the displaced session is torn down.
func (w *World) ConnectDevice(id string, handle *ConnectionHandle, address string, now time.Time) *ConnectionHandle {
	w.mu.Lock()
	defer w.mu.Unlock()

	d, ok := w.devices[id]
	if !ok {
		d = newDevice(id)
		w.devices[id] = d
	}

	d.ConnectionStatus = ConnectionStatus{Kind: StatusConnected, Address: address}
	d.History.open(handle.ConnectionId(), now, address)

	previous := d.ActiveConnection
	d.ActiveConnection = handle
	return previous
}

// DisconnectDevice closes the matching history entry unconditionally, but
// updates connection_status only if connectionId is still the device's
// active connection -- i.e. this call did not lose a race against a
// displacing reconnect that has already installed a newer handle.
func (w *World) DisconnectDevice(id string, connectionId uint64, lastMessage time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	d, ok := w.devices[id]
	if !ok {
		return
	}

	d.History.close(connectionId, lastMessage)

	if d.ActiveConnection != nil && d.ActiveConnection.ConnectionId() == connectionId {
		d.ActiveConnection = nil
		d.ConnectionStatus = ConnectionStatus{Kind: StatusDisconnected, LastMessage: lastMessage}
	}
}

// CreateForward mints a new forward for deviceId, creating the device
// record on demand (an operator may Enable a forward before the device has
// ever connected).
func (w *World) CreateForward(deviceId, forwardHost string, forwardPort uint32, gatewayPort bool, now time.Time) (*SshForward, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	d, ok := w.devices[deviceId]
	if !ok {
		d = newDevice(deviceId)
		w.devices[deviceId] = d
	}
	return d.Forwards.create(w.Allocator, forwardHost, forwardPort, gatewayPort, now)
}

// FindForward returns a snapshot copy's worth of read access to a forward.
func (w *World) FindForward(deviceId, forwardId string) (*SshForward, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	d, ok := w.devices[deviceId]
	if !ok {
		return nil, false
	}
	return d.Forwards.find(forwardId)
}

// UpdateForwardClientState applies a device-reported state transition.
func (w *World) UpdateForwardClientState(deviceId, forwardId string, state protocol.SshForwardClientState) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	d, ok := w.devices[deviceId]
	if !ok {
		return ErrDeviceNotFound
	}
	return d.Forwards.updateClientState(forwardId, state)
}

// DisconnectForward transitions a forward's ServerState to Inactive.
func (w *World) DisconnectForward(deviceId, forwardId string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	d, ok := w.devices[deviceId]
	if !ok {
		return false
	}
	return d.Forwards.disconnect(forwardId, now)
}

// ExtendForward refreshes a forward's lease.
func (w *World) ExtendForward(deviceId, forwardId string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	d, ok := w.devices[deviceId]
	if !ok {
		return false
	}
	return d.Forwards.extend(forwardId, now)
}

// ActiveForwards lists every forward on deviceId whose ServerState is
// currently Active, in insertion order -- used to replay Enables to a
// freshly Initialized session.
func (w *World) ActiveForwards(deviceId string) []*SshForward {
	w.mu.RLock()
	defer w.mu.RUnlock()

	d, ok := w.devices[deviceId]
	if !ok {
		return nil
	}
	var out []*SshForward
	for _, f := range d.Forwards.iter() {
		if f.ServerState.Active {
			out = append(out, f)
		}
	}
	return out
}

// ActiveConnectionHandle returns the device's current active connection, or
// nil if it has none.
func (w *World) ActiveConnectionHandle(deviceId string) *ConnectionHandle {
	w.mu.RLock()
	defer w.mu.RUnlock()

	d, ok := w.devices[deviceId]
	if !ok {
		return nil
	}
	return d.ActiveConnection
}

// DeviceConnected reports whether deviceId currently has a live session.
func (w *World) DeviceConnected(deviceId string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	d, ok := w.devices[deviceId]
	return ok && d.IsConnected()
}

// Snapshot renders every device for a ClientsRequest response.
func (w *World) Snapshot() []*protocol.DeviceSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]*protocol.DeviceSnapshot, 0, len(w.devices))
	for _, d := range w.devices {
		out = append(out, snapshotDevice(d))
	}
	return out
}

func snapshotDevice(d *Device) *protocol.DeviceSnapshot {
	ds := &protocol.DeviceSnapshot{Id: d.Id, Name: d.Name}

	switch d.ConnectionStatus.Kind {
	case StatusConnected:
		ds.Status = protocol.ConnectionStatusConnected
		ds.Address = d.ConnectionStatus.Address
	case StatusDisconnected:
		ds.Status = protocol.ConnectionStatusDisconnected
		ds.LastMessageUnix = d.ConnectionStatus.LastMessage.Unix()
	default:
		ds.Status = protocol.ConnectionStatusUnknown
	}

	for _, f := range d.Forwards.iter() {
		fs := &protocol.ForwardSnapshot{
			Id:                   f.Id,
			ForwardHost:          f.ForwardHost,
			ForwardPort:          f.ForwardPort,
			GatewayPort:          f.GatewayPort,
			ServerStateStampUnix: f.ServerState.Stamp.Unix(),
			ClientState:          f.ClientState,
		}
		if f.RemotePort != nil {
			fs.RemotePort = uint32(f.RemotePort.Value)
		}
		if f.ServerState.Active {
			fs.ServerState = protocol.ServerStateActive
		} else {
			fs.ServerState = protocol.ServerStateInactive
		}
		ds.Forwards = append(ds.Forwards, fs)
	}

	for _, h := range d.History.Entries() {
		he := &protocol.HistoryEntrySnapshot{
			ConnectionId:    h.ConnectionId,
			ConnectedAtUnix: h.ConnectedAt.Unix(),
			Address:         h.Address,
		}
		if h.Open {
			he.Kind = protocol.HistoryOpen
		} else {
			he.Kind = protocol.HistoryClosed
			he.LastMessageUnix = h.LastMessage.Unix()
		}
		ds.History = append(ds.History, he)
	}

	return ds
}

// backChannelSend pairs a handle with the command cleanup owes it, so the
// caller can dispatch after releasing the writer lock.
type backChannelSend struct {
	handle  *ConnectionHandle
	command BackChannelCommand
}

// Cleanup runs the periodic reconciliation pass: prune history older than
// 48h, expire forward leases, and drop long-disconnected forwards. Any
// back-channel Disable commands owed to currently-connected devices are
// collected under the writer lock and sent only after it is released, per
// the "mutate then send" discipline in spec.md §5.
func (w *World) Cleanup(now time.Time) {
	historyCutoffTime := now.Add(-historyCutoff)
	forwardCutoffTime := now.Add(-forwardInactiveCutoff)

	var pending []backChannelSend

	w.mu.Lock()
	for _, d := range w.devices {
		d.History.cleanup(historyCutoffTime)
		expired := d.Forwards.cleanup(now, forwardCutoffTime)
		if d.ActiveConnection == nil {
			continue
		}
		for _, forwardId := range expired {
			pending = append(pending, backChannelSend{
				handle:  d.ActiveConnection,
				command: BackChannelSshDisconnect{ForwardId: forwardId},
			})
		}
	}
	w.mu.Unlock()

	for _, p := range pending {
		p.handle.Send(p.command)
	}
}
