package world

import "time"

// HistoryEntry is one open or closed span of connectivity for a device.
// Open entries are never dropped by cleanup (spec.md §3).
type HistoryEntry struct {
	Open         bool
	ConnectionId uint64
	ConnectedAt  time.Time
	LastMessage  time.Time // meaningful only when Open == false
	Address      string
}

// ConnectionHistory is the ordered, append-mostly log of a device's
// sessions.
type ConnectionHistory struct {
	entries []*HistoryEntry
}

func newConnectionHistory() *ConnectionHistory {
	return &ConnectionHistory{}
}

func (h *ConnectionHistory) open(connectionId uint64, now time.Time, address string) {
	h.entries = append(h.entries, &HistoryEntry{
		Open:         true,
		ConnectionId: connectionId,
		ConnectedAt:  now,
		Address:      address,
	})
}

// close replaces the matching Open entry with a Closed one. A connectionId
// with no matching Open entry is ignored -- disconnect_device is always
// safe to call even for a session that never became the active connection.
func (h *ConnectionHistory) close(connectionId uint64, lastMessage time.Time) {
	for _, e := range h.entries {
		if e.Open && e.ConnectionId == connectionId {
			e.Open = false
			e.LastMessage = lastMessage
			return
		}
	}
}

// cleanup drops Closed entries whose LastMessage predates cutoff. Open
// entries are retained unconditionally.
func (h *ConnectionHistory) cleanup(cutoff time.Time) {
	kept := h.entries[:0]
	for _, e := range h.entries {
		if e.Open || e.LastMessage.After(cutoff) {
			kept = append(kept, e)
		}
	}
	h.entries = kept
}

// Entries returns the history in insertion order. Callers must not mutate
// the returned entries.
func (h *ConnectionHistory) Entries() []*HistoryEntry {
	return h.entries
}
