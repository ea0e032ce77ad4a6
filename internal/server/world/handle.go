package world

// BackChannelBufferSize is the bound on a session's back-channel queue
// (spec.md §5: "bounded (~5 slots)").
const BackChannelBufferSize = 5

// BackChannelCommand is a server-originated command addressed to one
// session: Disconnect, SshConnect(forward_id), or SshDisconnect(forward_id).
type BackChannelCommand interface {
	isBackChannelCommand()
}

type BackChannelDisconnect struct{}

type BackChannelSshConnect struct {
	ForwardId string
}

type BackChannelSshDisconnect struct {
	ForwardId string
}

func (BackChannelDisconnect) isBackChannelCommand()    {}
func (BackChannelSshConnect) isBackChannelCommand()    {}
func (BackChannelSshDisconnect) isBackChannelCommand() {}

// ConnectionHandle is the capability object a Device's active_connection
// holds: enough to address back-channel commands at a specific session
// without the World (or a Device) knowing anything about sockets, codecs,
// or session internals. Only session code, which already holds a reference
// to the World, ever looks inside one.
type ConnectionHandle struct {
	connectionId uint64
	ch           chan<- BackChannelCommand
}

// NewConnectionHandle wraps a session's back-channel sender for storage in
// the World.
func NewConnectionHandle(connectionId uint64, ch chan<- BackChannelCommand) *ConnectionHandle {
	return &ConnectionHandle{connectionId: connectionId, ch: ch}
}

// ConnectionId identifies the session this handle addresses. World methods
// compare ConnectionId (never device id) to detect a lost race against a
// displacing reconnect.
func (h *ConnectionHandle) ConnectionId() uint64 {
	if h == nil {
		return 0
	}
	return h.connectionId
}

// Send attempts a non-blocking delivery. A false return means the
// back-channel is full; per spec.md §5 the semantic effect is simply
// picked up by the next reconciliation tick rather than retried here.
func (h *ConnectionHandle) Send(cmd BackChannelCommand) bool {
	if h == nil {
		return false
	}
	select {
	case h.ch <- cmd:
		return true
	default:
		return false
	}
}
