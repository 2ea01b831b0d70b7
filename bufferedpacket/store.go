package bufferedpacket

import (
	"time"

	"github.com/quicrelay/qdispatch/chlo"
	"github.com/quicrelay/qdispatch/transport"
)

// EnqueueResult reports why Enqueue admitted or rejected a packet,
// mirroring QuicBufferedPacketStore::EnqueuePacketResult.
type EnqueueResult int

const (
	EnqueueSuccess EnqueueResult = iota
	EnqueueTooManyPackets
	EnqueueTooManyConnections
)

func (r EnqueueResult) String() string {
	switch r {
	case EnqueueSuccess:
		return "SUCCESS"
	case EnqueueTooManyPackets:
		return "TOO_MANY_PACKETS"
	case EnqueueTooManyConnections:
		return "TOO_MANY_CONNECTIONS"
	default:
		return "UNKNOWN"
	}
}

// Config bounds how many connections and how many packets per connection
// the store admits (spec.md §4.E / §7's `(M, m, p)` cap triple).
type Config struct {
	MaxConnections            int
	MaxConnectionsWithoutChlo int
	MaxPacketsPerConnection   int
	ConnectionLifeSpan        time.Duration
}

// Store buffers Initial-level packets per connection ID until the
// dispatcher is ready to hand them to a session, and runs the ClientHello
// extractor (component D) for each connection over its buffered packets.
// It is not safe for concurrent use: spec.md §4.E states operations are
// single-threaded, matching the dispatcher's cooperative event loop.
type Store struct {
	cfg Config

	packets            *orderedMap
	connectionsWithChlo *orderedSet
	connectionsWithoutChlo int

	// OnExpired is invoked once per connection evicted by OnExpirationTimeout.
	OnExpired func(connectionID string, expired List)
}

// NewStore builds an empty Store with the given admission caps.
func NewStore(cfg Config) *Store {
	return &Store{
		cfg:                 cfg,
		packets:             newOrderedMap(),
		connectionsWithChlo: newOrderedSet(),
	}
}

// shouldNotBuffer reports whether admitting one more *new* connection
// would exceed the configured caps (spec.md §4.E's two-pool admission
// rule: `(M, m, p)`).
func (s *Store) shouldNotBuffer(isChlo bool) bool {
	total := s.packets.len()
	if isChlo {
		return total >= s.cfg.MaxConnections
	}
	return s.connectionsWithoutChlo >= s.cfg.MaxConnectionsWithoutChlo || total >= s.cfg.MaxConnections
}

// Enqueue admits packet into connectionID's buffered list, creating the
// list if this is the first packet seen for that connection ID.
func (s *Store) Enqueue(connectionID string, ietfQUIC bool, pkt Packet, version uint32, parsedChlo *chlo.ParsedCHLO) EnqueueResult {
	existing, ok := s.packets.get(connectionID)
	if ok {
		if s.cfg.MaxPacketsPerConnection > 0 && len(existing.Packets) >= s.cfg.MaxPacketsPerConnection {
			return EnqueueTooManyPackets
		}
		existing.Packets = append(existing.Packets, pkt)
		if parsedChlo != nil && existing.ParsedChlo == nil {
			existing.ParsedChlo = parsedChlo
			s.promoteToChloBuffered(connectionID)
		}
		return EnqueueSuccess
	}

	if s.shouldNotBuffer(parsedChlo != nil) {
		return EnqueueTooManyConnections
	}

	list := &List{
		Packets:      []Packet{pkt},
		CreationTime: time.Now(),
		ParsedChlo:   parsedChlo,
		IETFQUIC:     ietfQUIC,
		Version:      version,
		Extractor:    chlo.NewExtractor(ietfQUIC),
	}
	s.packets.set(connectionID, list)
	if parsedChlo != nil {
		s.connectionsWithChlo.add(connectionID)
	} else {
		s.connectionsWithoutChlo++
	}
	return EnqueueSuccess
}

func (s *Store) promoteToChloBuffered(connectionID string) {
	if s.connectionsWithChlo.contains(connectionID) {
		return
	}
	s.connectionsWithChlo.add(connectionID)
	s.connectionsWithoutChlo--
}

// HasBuffered reports whether any packets are buffered for connectionID.
func (s *Store) HasBuffered(connectionID string) bool {
	_, ok := s.packets.get(connectionID)
	return ok
}

// HasChloFor reports whether connectionID's buffered list already has a
// fully parsed ClientHello.
func (s *Store) HasChloFor(connectionID string) bool {
	l, ok := s.packets.get(connectionID)
	return ok && l.ParsedChlo != nil
}

// HasAnyChlosBuffered reports whether any connection in the store has a
// fully parsed ClientHello awaiting delivery.
func (s *Store) HasAnyChlosBuffered() bool {
	return s.connectionsWithChlo.len() > 0
}

// IngestPacketForChloExtraction feeds payload into connectionID's
// extractor. It must only be called when HasBuffered(connectionID) is
// true. It returns true exactly when this call caused a full ClientHello
// to become available for the first time (spec.md §4.E), along with the
// parsed record; err is non-nil only on a structural frame-parsing
// failure, not on "still incomplete".
func (s *Store) IngestPacketForChloExtraction(connectionID string, version uint32, header *transport.PublicHeader, payload []byte) (bool, *chlo.ParsedCHLO, *transport.Error) {
	l, ok := s.packets.get(connectionID)
	if !ok {
		return false, nil, nil
	}
	hadChlo := l.Extractor.HasParsedFullChlo()
	if err := l.Extractor.Ingest(version, header, payload); err != nil {
		return false, nil, err
	}
	if !l.Extractor.HasParsedFullChlo() || hadChlo {
		return false, nil, nil
	}
	l.ParsedChlo = l.Extractor.Chlo()
	s.promoteToChloBuffered(connectionID)
	return true, l.ParsedChlo, nil
}

// DeliverPackets removes and returns connectionID's buffered list. ok is
// false if nothing was buffered for it.
func (s *Store) DeliverPackets(connectionID string) (List, bool) {
	l, ok := s.packets.get(connectionID)
	if !ok {
		return List{}, false
	}
	s.removeConnection(connectionID, l)
	return *l, true
}

// DeliverPacketsForNextConnection pops the oldest connection whose
// ClientHello has completed, in the order its completing packet arrived
// (spec.md §4.E's fairness property, relied on by the dispatcher). ok is
// false if no CHLO-bearing connection is pending.
func (s *Store) DeliverPacketsForNextConnection() (connectionID string, packets List, ok bool) {
	id, found := s.connectionsWithChlo.popFront()
	if !found {
		return "", List{}, false
	}
	l, present := s.packets.get(id)
	if !present {
		return "", List{}, false
	}
	s.packets.delete(id)
	return id, *l, true
}

// Discard drops connectionID's buffered packets, if any.
func (s *Store) Discard(connectionID string) {
	l, ok := s.packets.get(connectionID)
	if !ok {
		return
	}
	s.removeConnection(connectionID, l)
}

// DiscardAll drops every buffered connection.
func (s *Store) DiscardAll() {
	s.packets.clear()
	s.connectionsWithChlo = newOrderedSet()
	s.connectionsWithoutChlo = 0
}

func (s *Store) removeConnection(connectionID string, l *List) {
	s.packets.delete(connectionID)
	if s.connectionsWithChlo.contains(connectionID) {
		s.connectionsWithChlo.remove(connectionID)
	} else if l.ParsedChlo == nil {
		s.connectionsWithoutChlo--
	}
}

// OnExpirationTimeout evicts every connection that has been buffered
// longer than ConnectionLifeSpan, oldest first, invoking OnExpired for
// each. Since insertion order tracks arrival order, the oldest entries are
// exactly the ones that can have expired.
func (s *Store) OnExpirationTimeout() {
	if s.cfg.ConnectionLifeSpan <= 0 {
		return
	}
	now := time.Now()
	for {
		id, l, ok := s.packets.front()
		if !ok {
			return
		}
		if now.Sub(l.CreationTime) < s.cfg.ConnectionLifeSpan {
			return
		}
		s.removeConnection(id, l)
		if s.OnExpired != nil {
			s.OnExpired(id, *l)
		}
	}
}
