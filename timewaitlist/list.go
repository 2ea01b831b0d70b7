// Package timewaitlist defines the narrow interface the dispatcher uses to
// remember recently closed connection IDs and reply to further packets for
// them, plus a bounded in-memory reference implementation (component F,
// spec.md §4.G's "install the ID in the time-wait list"). The full
// internals of a production time-wait manager (exact retransmission
// back-off, packet-count limits) are explicitly out of scope per spec.md
// §1: "only the interface the dispatcher uses to install/query entries".
package timewaitlist

import (
	"net"
	"time"
)

// Action selects which canned reply AddConnectionID arms for a connection
// ID, mirroring spec.md §4.G's three termination call sites.
type Action int

const (
	SendConnectionClosePackets Action = iota
	SendStatelessReset
	SendTerminationPackets
)

// Manager is the interface the Dispatcher depends on; spec.md §1 scopes
// everything else about a time-wait implementation out of this module.
type Manager interface {
	// IsInTimeWait reports whether connectionID was recently closed and is
	// still within its time-wait window.
	IsInTimeWait(connectionID string) bool

	// AddConnectionID installs connectionID in the list, arming it to reply
	// with terminationPackets (pre-serialized by the caller) whenever a
	// further packet for it arrives, according to action.
	AddConnectionID(connectionID string, action Action, terminationPackets [][]byte)

	// SendOrQueuePacket delivers (or queues, if the manager rate-limits
	// replies) the canned reply for connectionID to peerAddr from selfAddr.
	SendOrQueuePacket(connectionID string, selfAddr, peerAddr net.Addr, packet []byte)
}

// entry is one connection's time-wait state.
type entry struct {
	action             Action
	terminationPackets [][]byte
	expiresAt          time.Time
}

// Send is the function an InMemoryManager calls to actually write a reply
// packet; the manager never touches a socket itself (spec.md §1 scopes
// network I/O out), so the caller supplies this at construction.
type Send func(selfAddr, peerAddr net.Addr, packet []byte)

// InMemoryManager is a reference Manager good enough to exercise the
// dispatcher end to end: a TTL-bounded map with no persistence and no
// reply-rate limiting.
type InMemoryManager struct {
	ttl     time.Duration
	entries map[string]entry
	send    Send
}

// NewInMemoryManager builds an InMemoryManager whose entries expire after
// ttl. send is called by SendOrQueuePacket to actually deliver a reply.
func NewInMemoryManager(ttl time.Duration, send Send) *InMemoryManager {
	return &InMemoryManager{
		ttl:     ttl,
		entries: make(map[string]entry),
		send:    send,
	}
}

func (m *InMemoryManager) IsInTimeWait(connectionID string) bool {
	e, ok := m.entries[connectionID]
	if !ok {
		return false
	}
	if time.Now().After(e.expiresAt) {
		delete(m.entries, connectionID)
		return false
	}
	return true
}

func (m *InMemoryManager) AddConnectionID(connectionID string, action Action, terminationPackets [][]byte) {
	m.entries[connectionID] = entry{
		action:             action,
		terminationPackets: terminationPackets,
		expiresAt:          time.Now().Add(m.ttl),
	}
}

func (m *InMemoryManager) SendOrQueuePacket(connectionID string, selfAddr, peerAddr net.Addr, packet []byte) {
	if !m.IsInTimeWait(connectionID) {
		return
	}
	if m.send == nil {
		return
	}
	for _, reply := range m.entries[connectionID].terminationPackets {
		m.send(selfAddr, peerAddr, reply)
	}
}

// Reap evicts every expired entry; callers run this on their own sweep
// cadence rather than this package owning an alarm, since alarm wiring is
// the dispatcher's ambient concern, not this package's.
func (m *InMemoryManager) Reap() {
	now := time.Now()
	for id, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, id)
		}
	}
}
