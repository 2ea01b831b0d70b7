// Package bufferedpacket holds Initial-level packets that arrive before the
// dispatcher has created a session for them, together with a streaming
// ClientHello extractor per connection (component E, spec.md §4.E).
package bufferedpacket

import (
	"container/list"
	"net"
	"time"

	"github.com/quicrelay/qdispatch/chlo"
)

// Packet is a single datagram buffered for a connection with no session
// yet, mirroring QuicBufferedPacketStore::BufferedPacket.
type Packet struct {
	Data     []byte
	SelfAddr net.Addr
	PeerAddr net.Addr
}

// List holds every packet buffered for one connection ID plus the
// ClientHello-extraction state feeding off of them, mirroring
// QuicBufferedPacketStore::BufferedPacketList.
type List struct {
	Packets      []Packet
	CreationTime time.Time
	ParsedChlo   *chlo.ParsedCHLO
	IETFQUIC     bool
	Version      uint32
	Extractor    *chlo.Extractor
}

// orderedMap is an insertion-ordered map[string]*List, the Go shape of
// quiche::QuicheLinkedHashMap: a doubly linked list carries iteration
// order, a plain map gives O(1) lookup by key. No pack library in the
// retrieval set provides a Go ordered map, and this is the same idiom the
// Go standard library's own container/list documentation recommends.
type orderedMap struct {
	order *list.List
	index map[string]*list.Element
}

type mapEntry struct {
	id    string
	value *List
}

func newOrderedMap() *orderedMap {
	return &orderedMap{order: list.New(), index: make(map[string]*list.Element)}
}

func (m *orderedMap) get(id string) (*List, bool) {
	e, ok := m.index[id]
	if !ok {
		return nil, false
	}
	return e.Value.(*mapEntry).value, true
}

func (m *orderedMap) set(id string, v *List) {
	if e, ok := m.index[id]; ok {
		e.Value.(*mapEntry).value = v
		return
	}
	e := m.order.PushBack(&mapEntry{id: id, value: v})
	m.index[id] = e
}

func (m *orderedMap) delete(id string) {
	e, ok := m.index[id]
	if !ok {
		return
	}
	m.order.Remove(e)
	delete(m.index, id)
}

func (m *orderedMap) len() int { return len(m.index) }

// front returns the oldest-inserted entry, i.e. the one whose connection
// has been buffered the longest.
func (m *orderedMap) front() (string, *List, bool) {
	e := m.order.Front()
	if e == nil {
		return "", nil, false
	}
	entry := e.Value.(*mapEntry)
	return entry.id, entry.value, true
}

func (m *orderedMap) clear() {
	m.order = list.New()
	m.index = make(map[string]*list.Element)
}

// orderedSet is an insertion-ordered set of connection IDs, the Go shape
// of the store's connections_with_chlo_ linked hash map (whose values are
// always true; only the order matters).
type orderedSet struct {
	order *list.List
	index map[string]*list.Element
}

func newOrderedSet() *orderedSet {
	return &orderedSet{order: list.New(), index: make(map[string]*list.Element)}
}

func (s *orderedSet) contains(id string) bool {
	_, ok := s.index[id]
	return ok
}

func (s *orderedSet) add(id string) {
	if s.contains(id) {
		return
	}
	s.index[id] = s.order.PushBack(id)
}

func (s *orderedSet) remove(id string) {
	e, ok := s.index[id]
	if !ok {
		return
	}
	s.order.Remove(e)
	delete(s.index, id)
}

func (s *orderedSet) len() int { return len(s.index) }

// popFront removes and returns the oldest-inserted connection ID.
func (s *orderedSet) popFront() (string, bool) {
	e := s.order.Front()
	if e == nil {
		return "", false
	}
	id := e.Value.(string)
	s.order.Remove(e)
	delete(s.index, id)
	return id, true
}
