package dispatch

import (
	"net"

	"github.com/quicrelay/qdispatch/bufferedpacket"
	"github.com/quicrelay/qdispatch/chlo"
	"github.com/quicrelay/qdispatch/session"
	"github.com/quicrelay/qdispatch/timewaitlist"
	"github.com/quicrelay/qdispatch/transport"
)

// Send delivers a datagram the Dispatcher originates itself (a version
// negotiation packet), as opposed to a reply the time-wait list owns.
type Send func(selfAddr, peerAddr net.Addr, packet []byte)

// packetFate is QuicDispatcher::QuicPacketFate: what ProcessHeader should
// do with a packet whose connection ID named neither an active session
// nor a buffered one.
type packetFate int

const (
	fateProcess packetFate = iota
	fateTimeWait
	fateDrop
)

// Dispatcher is the top-level state machine: component G, wiring the
// header parser (B), framer (C), ClientHello extractor (D), buffered-
// packet store (E), and time-wait list (F) around one inbound datagram at
// a time.
type Dispatcher struct {
	cfg      Config
	visitor  Visitor
	store    *bufferedpacket.Store
	timeWait timewaitlist.Manager
	sessions *sessionMap
	header   *transport.HeaderParser
	send     Send
	logger   *Logger

	expectedServerConnectionIDLength int
	updateExpectedLengthFromFirst    bool

	budget int

	writeBlocked map[string]struct{}

	lastError *transport.Error
}

// NewDispatcher wires a Dispatcher around its collaborators. store's
// OnExpired hook is set here, so the caller should not overwrite it
// afterwards.
func NewDispatcher(cfg Config, visitor Visitor, store *bufferedpacket.Store, timeWait timewaitlist.Manager, send Send, logger *Logger) *Dispatcher {
	d := &Dispatcher{
		cfg:      cfg,
		visitor:  visitor,
		store:    store,
		timeWait: timeWait,
		sessions: newSessionMap(),
		send:     send,
		logger:   logger,
		header: &transport.HeaderParser{
			ExpectedServerConnectionIDLength:      cfg.ExpectedServerConnectionIDLength,
			AllowShortInitialServerConnectionIDs:  cfg.AllowShortInitialServerConnectionIDs,
			LengthPrefixedConnectionIDs:            cfg.LengthPrefixedConnectionIDs,
			IsVersionSupported:                     cfg.isSupportedVersion,
		},
		expectedServerConnectionIDLength: cfg.ExpectedServerConnectionIDLength,
		updateExpectedLengthFromFirst:    cfg.UpdateExpectedCIDLengthFromFirstPacket,
		budget:                           cfg.NewSessionsAllowedPerEventLoop,
	}
	store.OnExpired = d.onExpiredPackets
	return d
}

// ProcessPacket is process_packet(self_addr, peer_addr, packet): the
// entry point for one inbound datagram.
func (d *Dispatcher) ProcessPacket(selfAddr, peerAddr net.Addr, packet []byte) {
	header, err := d.header.Parse(packet)
	if err != nil {
		d.lastError = err
		d.logger.packetDropped(err.Error())
		return
	}

	if len(header.DestinationCID) != d.expectedServerConnectionIDLength &&
		!d.updateExpectedLengthFromFirst &&
		header.HasVersion && header.Version != 0 &&
		!variableLengthCIDsAllowed(header) {
		d.lastError = transport.ForCode(transport.InvalidPacketHeader)
		d.logger.packetDropped("invalid connection id length")
		return
	}

	if d.updateExpectedLengthFromFirst {
		d.expectedServerConnectionIDLength = len(header.DestinationCID)
		d.updateExpectedLengthFromFirst = false
	}

	info := d.packetInfo(selfAddr, peerAddr, header, packet)

	if d.maybeDispatch(info, header, packet) {
		return
	}
	d.processHeader(info, header, packet)
}

func (d *Dispatcher) packetInfo(selfAddr, peerAddr net.Addr, header *transport.PublicHeader, packet []byte) PacketInfo {
	return PacketInfo{
		SelfAddr:           selfAddr,
		PeerAddr:           peerAddr,
		ConnectionID:       string(header.DestinationCID),
		SourceConnectionID: string(header.SourceCID),
		Version:            header.Version,
		VersionLabel:       header.VersionLabel,
		VersionFlag:        header.HasVersion,
		VersionSupported:   header.VersionSupported,
		IETFQUIC:           header.Form != transport.FormLegacy,
		LengthPrefixedCID:  header.LengthPrefixedCID,
		Packet:             packet,
	}
}

// variableLengthCIDsAllowed reports whether header's dialect permits a
// connection ID whose length differs from the server's configured
// expectation: true for every IETF-shaped header, false for the legacy
// Google QUIC dialect's fixed nibble-packed layout.
func variableLengthCIDsAllowed(header *transport.PublicHeader) bool {
	return header.Form != transport.FormLegacy
}

// maybeDispatch is maybe_dispatch(packet_info): the fast path that either
// fully disposes of the packet (drop, deliver, buffer, terminate) or
// returns false to let ProcessHeader take over.
func (d *Dispatcher) maybeDispatch(info PacketInfo, header *transport.PublicHeader, packet []byte) bool {
	if isZeroPort(info.PeerAddr) {
		return true
	}

	id := string(header.DestinationCID)

	if header.HasVersion && header.Version != 0 &&
		len(header.DestinationCID) < 8 &&
		len(header.DestinationCID) < d.expectedServerConnectionIDLength &&
		!d.cfg.AllowShortInitialServerConnectionIDs {
		d.logger.packetDropped("destination connection id shorter than expected")
		return true
	}

	if sess, ok := d.sessions.lookup(id); ok {
		sess.ProcessPacket(info.SelfAddr, info.PeerAddr, packet)
		return true
	}

	if header.HasVersion && header.Version != 0 {
		replaced := string(transport.ReplaceServerConnectionID(header.DestinationCID, header.Version, d.expectedServerConnectionIDLength))
		if replaced != id {
			if sess, ok := d.sessions.lookup(replaced); ok {
				sess.ProcessPacket(info.SelfAddr, info.PeerAddr, packet)
				return true
			}
		}
	}

	if d.store.HasChloFor(id) {
		d.bufferEarlyPacket(info, header, packet)
		return true
	}

	if d.visitor.OnFailedToDispatchPacket(info) {
		return true
	}

	if d.timeWait.IsInTimeWait(id) {
		d.timeWait.SendOrQueuePacket(id, info.SelfAddr, info.PeerAddr, packet)
		return true
	}

	if !d.cfg.AcceptNewConnections && header.HasVersion {
		d.statelesslyTerminate(id, header, timewaitlist.SendStatelessReset, "Stop accepting new connections")
		d.timeWait.SendOrQueuePacket(id, info.SelfAddr, info.PeerAddr, packet)
		d.visitor.OnNewConnectionRejected()
		return true
	}

	if header.HasVersion {
		if header.Version == 0 {
			if !d.visitor.ShouldCreateSessionForUnknownVersion(header.VersionLabel) {
				if len(packet) >= d.cfg.MinPacketSizeForVersionNegotiation {
					d.sendVersionNegotiation(info.SelfAddr, info.PeerAddr, header)
				}
				return true
			}
			return false
		}

		if header.Form == transport.FormLong && header.LongType == transport.LongTypeInitial &&
			len(packet) < d.cfg.MinClientInitialPacketLength {
			d.logger.packetDropped("initial packet shorter than the anti-amplification floor")
			return true
		}
	}

	return false
}

// processHeader is ProcessHeader(packet_info): validity checks followed
// by CHLO extraction or buffering for a connection ID with no active or
// buffered session yet.
func (d *Dispatcher) processHeader(info PacketInfo, header *transport.PublicHeader, packet []byte) {
	id := string(header.DestinationCID)

	switch d.validityChecks(header) {
	case fateProcess:
		d.processChloCandidate(id, info, header, packet)
	case fateTimeWait:
		d.statelesslyTerminate(id, header, timewaitlist.SendStatelessReset, "Reject connection")
		d.timeWait.SendOrQueuePacket(id, info.SelfAddr, info.PeerAddr, packet)
		d.store.Discard(id)
	case fateDrop:
	}
}

// validityChecks is ValidityChecks: a packet with no version at all for
// an unknown connection ID can never be serviced, so it is dropped
// outright. Every other case falls through to CHLO extraction.
func (d *Dispatcher) validityChecks(header *transport.PublicHeader) packetFate {
	if !header.HasVersion {
		return fateDrop
	}
	return fateProcess
}

// framePayload returns the slice of packet following the public header and
// its packet number, the span Ingest and IngestPacketForChloExtraction both
// expect to parse frames from.
func framePayload(header *transport.PublicHeader, packet []byte) []byte {
	off := header.HeaderLen() + header.PacketNumberLen
	if off > len(packet) {
		return nil
	}
	return packet[off:]
}

// processChloCandidate is ProcessHeader's kFateProcess branch: the packet
// is always buffered into id's list first (creating the list, and its
// ClientHello extractor, on the first packet) and then fed to that same
// list's extractor. A multi-packet ClientHello therefore reassembles
// against one continuous extractor instance across every fragment,
// instead of each packet getting a throwaway extractor that forgets the
// previous fragment's reassembly state.
func (d *Dispatcher) processChloCandidate(id string, info PacketInfo, header *transport.PublicHeader, packet []byte) {
	isNewConnection := !d.store.HasBuffered(id)
	if isNewConnection && !d.visitor.ShouldCreateOrBufferPacketForConnection(info) {
		return
	}
	res := d.store.Enqueue(id, info.IETFQUIC, bufferedpacket.Packet{
		Data:     packet,
		SelfAddr: info.SelfAddr,
		PeerAddr: info.PeerAddr,
	}, header.Version, nil)
	if res != bufferedpacket.EnqueueSuccess {
		d.visitor.OnBufferPacketFailure(res, id)
		return
	}

	hasFullChlo, parsedChlo, err := d.store.IngestPacketForChloExtraction(id, header.Version, header, framePayload(header, packet))
	if err != nil {
		d.logger.packetDropped(err.Error())
		return
	}
	if !hasFullChlo {
		return
	}
	d.createSession(id, header.Version, parsedChlo)
}

// bufferEarlyPacket is BufferEarlyPacket: stash packet for a connection
// whose ClientHello already parsed in full but is still waiting on
// session-creation budget, or that has no active session yet for some
// other reason (0-RTT arriving ahead of the CHLO, reordering).
func (d *Dispatcher) bufferEarlyPacket(info PacketInfo, header *transport.PublicHeader, packet []byte) {
	id := string(header.DestinationCID)
	isNewConnection := !d.store.HasBuffered(id)
	if isNewConnection && !d.visitor.ShouldCreateOrBufferPacketForConnection(info) {
		return
	}
	res := d.store.Enqueue(id, info.IETFQUIC, bufferedpacket.Packet{
		Data:     packet,
		SelfAddr: info.SelfAddr,
		PeerAddr: info.PeerAddr,
	}, header.Version, nil)
	if res != bufferedpacket.EnqueueSuccess {
		d.visitor.OnBufferPacketFailure(res, id)
	}
}

// createSession is ProcessChlo's session-creation half, entered once id's
// buffered list has a complete ClientHello: spend one unit of this event
// loop's session-creation budget to create the session and replay every
// packet buffered for id, in arrival order. If the budget is already
// exhausted, the connection's buffered list is left exactly as
// IngestPacketForChloExtraction left it (already promoted to
// chlo-buffered) for a later ProcessBufferedChlos call to pick up.
func (d *Dispatcher) createSession(id string, version uint32, parsedChlo *chlo.ParsedCHLO) {
	if d.budget <= 0 {
		return
	}

	buffered, ok := d.store.DeliverPackets(id)
	if !ok || len(buffered.Packets) == 0 {
		return
	}

	newID := string(transport.ReplaceServerConnectionID([]byte(id), version, d.expectedServerConnectionIDLength))
	alpn := SelectAlpn(parsedChlo.ALPN, d.cfg.SupportedALPNs)

	first := buffered.Packets[0]
	sess := d.visitor.Create(newID, first.SelfAddr, first.PeerAddr, alpn, version)
	d.sessions.insert(newID, sess)
	d.logger.connectionEvent("session_created", newID)

	for _, p := range buffered.Packets {
		sess.ProcessPacket(p.SelfAddr, p.PeerAddr, p.Data)
	}
	d.budget--
}

// ProcessBufferedChlos is ProcessBufferedChlos(max_connections_to_create):
// the owner's event-loop hook that spends a fresh budget creating
// sessions for whichever buffered connections have a complete ClientHello,
// oldest CHLO-completion first.
func (d *Dispatcher) ProcessBufferedChlos(maxConnectionsToCreate int) {
	d.budget = maxConnectionsToCreate
	for d.budget > 0 {
		id, list, ok := d.store.DeliverPacketsForNextConnection()
		if !ok {
			return
		}
		if len(list.Packets) == 0 {
			d.budget--
			continue
		}

		newID := string(transport.ReplaceServerConnectionID([]byte(id), list.Version, d.expectedServerConnectionIDLength))
		var alpn string
		if list.ParsedChlo != nil {
			alpn = SelectAlpn(list.ParsedChlo.ALPN, d.cfg.SupportedALPNs)
		}

		first := list.Packets[0]
		sess := d.visitor.Create(newID, first.SelfAddr, first.PeerAddr, alpn, list.Version)
		d.sessions.insert(newID, sess)

		for _, p := range list.Packets {
			sess.ProcessPacket(p.SelfAddr, p.PeerAddr, p.Data)
		}
		d.budget--
	}
}

// SelectAlpn is the ALPN-selection rule: empty list yields "", a single
// entry is returned as-is, and a multi-entry list prefers the first entry
// that also appears in supported, falling back to the client's first
// offer.
func SelectAlpn(alpns []string, supported []string) string {
	if len(alpns) == 0 {
		return ""
	}
	if len(alpns) == 1 {
		return alpns[0]
	}
	for _, a := range alpns {
		for _, s := range supported {
			if a == s {
				return a
			}
		}
	}
	return alpns[0]
}

// statelesslyTerminate is StatelesslyTerminateConnection's three-way
// branch: a non-IETF-long packet with no version just gets a bare time-
// wait entry; a packet whose version this dispatcher actually supports
// gets a real CONNECTION_CLOSE; anything else gets a version-negotiation
// packet listing no real version (only the grease label) as its sole
// termination reply.
func (d *Dispatcher) statelesslyTerminate(connectionID string, header *transport.PublicHeader, action timewaitlist.Action, errorDetails string) {
	if header.Form != transport.FormLong && !header.HasVersion {
		d.timeWait.AddConnectionID(connectionID, action, nil)
		d.visitor.OnConnectionAddedToTimeWaitList(connectionID)
		return
	}

	if header.HasVersion && d.cfg.isSupportedVersion(header.Version) {
		packet := buildConnectionClosePacket(errorDetails)
		d.timeWait.AddConnectionID(connectionID, timewaitlist.SendConnectionClosePackets, [][]byte{packet})
		d.visitor.OnConnectionAddedToTimeWaitList(connectionID)
		return
	}

	packet := buildEmptyVersionNegotiationPacket(header)
	d.timeWait.AddConnectionID(connectionID, timewaitlist.SendTerminationPackets, [][]byte{packet})
	d.visitor.OnConnectionAddedToTimeWaitList(connectionID)
}

// buildConnectionClosePacket serializes a single CONNECTION_CLOSE frame
// carrying HANDSHAKE_FAILED and errorDetails, the termination packet
// statelesslyTerminate installs for a known, supported version.
func buildConnectionClosePacket(errorDetails string) []byte {
	f := &transport.ConnectionCloseFrame{
		ErrorCode:    uint64(transport.HandshakeFailed),
		ReasonPhrase: []byte(errorDetails),
	}
	b := make([]byte, f.EncodedLen())
	n, err := transport.WriteFrame(b, f)
	if err != nil {
		return nil
	}
	return b[:n]
}

// buildEmptyVersionNegotiationPacket builds the version-negotiation reply
// statelesslyTerminate uses when a version is unknown or unsupported by
// the framer itself: a version list holding only the grease label and no
// real version, which a client understands as "the server can't speak any
// version I offered".
func buildEmptyVersionNegotiationPacket(header *transport.PublicHeader) []byte {
	b := make([]byte, 1+4+1+len(header.SourceCID)+4)
	n, err := transport.VersionNegotiationPacket(b, header.SourceCID, nil, nil)
	if err != nil {
		return nil
	}
	return b[:n]
}

// sendVersionNegotiation emits a version-negotiation packet listing every
// supported version plus a grease label, with source and destination IDs
// swapped relative to the packet that triggered it.
func (d *Dispatcher) sendVersionNegotiation(selfAddr, peerAddr net.Addr, header *transport.PublicHeader) {
	if d.send == nil {
		return
	}
	need := 1 + 4 + 1 + len(header.SourceCID) + len(header.DestinationCID) + 4*(len(d.cfg.SupportedVersions)+1)
	b := make([]byte, need)
	n, err := transport.VersionNegotiationPacket(b, header.SourceCID, header.DestinationCID, d.cfg.SupportedVersions)
	if err != nil {
		return
	}
	d.send(selfAddr, peerAddr, b[:n])
}

// onExpiredPackets is OnExpiredPackets: a buffered connection's lifetime
// expired before a session was created for it (with or without a
// completed ClientHello), so it is stateless-terminated and reported to
// the visitor.
func (d *Dispatcher) onExpiredPackets(connectionID string, list bufferedpacket.List) {
	d.visitor.OnExpiredPackets(connectionID, list)
	header := &transport.PublicHeader{
		Form:           formFor(list.IETFQUIC),
		HasVersion:     true,
		Version:        list.Version,
		DestinationCID: []byte(connectionID),
	}
	d.statelesslyTerminate(connectionID, header, timewaitlist.SendStatelessReset, "Packets buffered for too long")
}

func formFor(ietfQUIC bool) transport.HeaderForm {
	if ietfQUIC {
		return transport.FormLong
	}
	return transport.FormLegacy
}

// OnConnectionClosed removes connectionID from the session map (deferring
// slab reclamation to DeleteSessions) and notifies the visitor, mirroring
// QuicDispatcher::CleanUpSession's post-removal callout.
func (d *Dispatcher) OnConnectionClosed(connectionID string, reason session.ClosedReason) {
	d.sessions.remove(connectionID)
	delete(d.writeBlocked, connectionID)
	d.visitor.OnConnectionClosed(connectionID, reason)
}

// DeleteSessions reaps every session slot queued by OnConnectionClosed
// since the last call, mirroring the zero-delay alarm that drains
// closed_sessions_pending_delete out of the current call stack.
func (d *Dispatcher) DeleteSessions() []session.Session {
	return d.sessions.deleteSessions()
}

// OnWriteBlocked registers connectionID in the write-blocked set, to be
// retried the next time OnCanWrite drains it.
func (d *Dispatcher) OnWriteBlocked(connectionID string) {
	if d.writeBlocked == nil {
		d.writeBlocked = make(map[string]struct{})
	}
	d.writeBlocked[connectionID] = struct{}{}
}

// OnCanWrite drains the write-blocked set in a single pass: each blocked
// session gets one chance to flush, and re-registers itself if it
// reports still being blocked. The dispatcher never retries within the
// same call.
func (d *Dispatcher) OnCanWrite() {
	if len(d.writeBlocked) == 0 {
		return
	}
	blocked := d.writeBlocked
	d.writeBlocked = make(map[string]struct{}, len(blocked))
	for id := range blocked {
		sess, ok := d.sessions.lookup(id)
		if !ok {
			continue
		}
		w, ok := sess.(session.Writable)
		if !ok {
			continue
		}
		if w.OnCanWrite() {
			d.writeBlocked[id] = struct{}{}
		}
	}
}

// LastError reports the most recent per-datagram parse error, for the
// owner's diagnostics; it is never cleared automatically.
func (d *Dispatcher) LastError() *transport.Error {
	return d.lastError
}

// HasSession reports whether connectionID currently resolves to a live
// session, for tests and diagnostics.
func (d *Dispatcher) HasSession(connectionID string) bool {
	return d.sessions.contains(connectionID)
}

func isZeroPort(addr net.Addr) bool {
	u, ok := addr.(*net.UDPAddr)
	return ok && u.Port == 0
}
