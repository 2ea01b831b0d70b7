package dispatch

import (
	"github.com/google/uuid"

	"github.com/quicrelay/qdispatch/session"
)

// sessionSlot is one arena entry. refCount counts how many connection IDs
// currently alias this slot (spec.md §9's "shared-pointer session map"
// open question, resolved here as arena indexing with a reference count
// instead of a real shared pointer). generation is stamped fresh each time
// a slot is (re)allocated so a stale index captured before a reap can
// never be mistaken for the slot's current occupant.
type sessionSlot struct {
	session    session.Session
	refCount   int
	generation uuid.UUID
}

// sessionMap is the Dispatcher's session_map: connection IDs map to slab
// indices, and a session reachable under several IDs (after a connection
// migrates or adopts a new ID) shares one slot. Removing the last alias
// does not free the slot immediately; DeleteSessions reaps it on the
// owner's next turn, mirroring "moved to closed_sessions_pending_delete
// ... reaps them out of the current call stack".
type sessionMap struct {
	slots       []sessionSlot
	freeSlots   []int
	index       map[string]int
	pendingFree []int
}

func newSessionMap() *sessionMap {
	return &sessionMap{index: make(map[string]int)}
}

// insert allocates a new slot for sess and maps connectionID to it.
func (m *sessionMap) insert(connectionID string, sess session.Session) {
	idx := m.allocSlot(sess)
	m.index[connectionID] = idx
}

// addAlias maps an additional connectionID onto the slot that
// existingConnectionID already resolves to, incrementing its refcount.
// Reports false if existingConnectionID is not currently mapped.
func (m *sessionMap) addAlias(existingConnectionID, newConnectionID string) bool {
	idx, ok := m.index[existingConnectionID]
	if !ok {
		return false
	}
	m.slots[idx].refCount++
	m.index[newConnectionID] = idx
	return true
}

func (m *sessionMap) allocSlot(sess session.Session) int {
	slot := sessionSlot{session: sess, refCount: 1, generation: uuid.New()}
	if n := len(m.freeSlots); n > 0 {
		idx := m.freeSlots[n-1]
		m.freeSlots = m.freeSlots[:n-1]
		m.slots[idx] = slot
		return idx
	}
	m.slots = append(m.slots, slot)
	return len(m.slots) - 1
}

// generationOf reports the slab generation tag currently occupying
// connectionID's slot, for diagnostics that want to log a stable handle
// across a session's lifetime without leaking the raw slab index.
func (m *sessionMap) generationOf(connectionID string) (uuid.UUID, bool) {
	idx, ok := m.index[connectionID]
	if !ok {
		return uuid.UUID{}, false
	}
	return m.slots[idx].generation, true
}

func (m *sessionMap) lookup(connectionID string) (session.Session, bool) {
	idx, ok := m.index[connectionID]
	if !ok {
		return nil, false
	}
	return m.slots[idx].session, true
}

func (m *sessionMap) contains(connectionID string) bool {
	_, ok := m.index[connectionID]
	return ok
}

// remove unmaps connectionID and decrements its slot's refcount. Once the
// refcount reaches zero, the slot is queued for reclamation by a later
// DeleteSessions call rather than freed inline.
func (m *sessionMap) remove(connectionID string) {
	idx, ok := m.index[connectionID]
	if !ok {
		return
	}
	delete(m.index, connectionID)
	m.slots[idx].refCount--
	if m.slots[idx].refCount <= 0 {
		m.pendingFree = append(m.pendingFree, idx)
	}
}

// deleteSessions reaps every slot queued by remove, in the order they were
// queued, returning the sessions it reclaimed so the caller can drop them
// from any other bookkeeping (e.g. the write-blocked set).
func (m *sessionMap) deleteSessions() []session.Session {
	if len(m.pendingFree) == 0 {
		return nil
	}
	reaped := make([]session.Session, 0, len(m.pendingFree))
	for _, idx := range m.pendingFree {
		if m.slots[idx].refCount > 0 {
			// A new alias was added after queuing; it is alive again.
			continue
		}
		reaped = append(reaped, m.slots[idx].session)
		m.slots[idx] = sessionSlot{}
		m.freeSlots = append(m.freeSlots, idx)
	}
	m.pendingFree = m.pendingFree[:0]
	return reaped
}

func (m *sessionMap) len() int {
	return len(m.index)
}
