package dispatch

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quicrelay/qdispatch/bufferedpacket"
	"github.com/quicrelay/qdispatch/session"
	"github.com/quicrelay/qdispatch/timewaitlist"
	"github.com/quicrelay/qdispatch/transport"
)

// --- wire-format helpers ------------------------------------------------
//
// These mirror transport/header_test.go's hand-rolled encoding (the
// transport package exposes no long-header packet encoder, only
// HeaderParser.Parse for that header) so a
// dispatcher test can hand ProcessPacket a real datagram instead of a
// pre-parsed header.

func appendVarint(b []byte, v uint64) []byte {
	switch {
	case v <= 63:
		return append(b, byte(v))
	case v <= 16383:
		return append(b, 0x40|byte(v>>8), byte(v))
	default:
		return append(b, 0x80|byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
}

// buildClientHello constructs a minimal but structurally valid TLS 1.3
// ClientHello handshake message carrying the given SNI and ALPN offers.
func buildClientHello(serverName string, alpn []string) []byte {
	const (
		extServerName   = 0
		extALPN         = 16
		extPreSharedKey = 41
	)
	appendUint8 := func(b, data []byte) []byte {
		b = append(b, byte(len(data)))
		return append(b, data...)
	}
	appendUint16 := func(b, data []byte) []byte {
		b = append(b, byte(len(data)>>8), byte(len(data)))
		return append(b, data...)
	}
	appendExt := func(b []byte, typ uint16, data []byte) []byte {
		b = append(b, byte(typ>>8), byte(typ))
		return appendUint16(b, data)
	}

	var exts []byte
	if serverName != "" {
		var nameList []byte
		nameList = append(nameList, 0)
		nameList = appendUint16(nameList, []byte(serverName))
		var body []byte
		body = appendUint16(body, nameList)
		exts = appendExt(exts, extServerName, body)
	}
	if len(alpn) > 0 {
		var list []byte
		for _, p := range alpn {
			list = appendUint8(list, []byte(p))
		}
		var body []byte
		body = appendUint16(body, list)
		exts = appendExt(exts, extALPN, body)
	}
	exts = appendExt(exts, extPreSharedKey, nil)

	var body []byte
	body = append(body, 0x03, 0x03)
	body = append(body, make([]byte, 32)...)
	body = appendUint8(body, nil)
	body = appendUint16(body, []byte{0x13, 0x01})
	body = appendUint8(body, []byte{0x00})
	body = appendUint16(body, exts)

	msg := make([]byte, 4+len(body))
	msg[0] = 1 // ClientHello
	msg[1] = byte(len(body) >> 16)
	msg[2] = byte(len(body) >> 8)
	msg[3] = byte(len(body))
	copy(msg[4:], body)
	return msg
}

func encodeCryptoFrame(t *testing.T, data []byte) []byte {
	t.Helper()
	f := &transport.CryptoFrame{Offset: 0, Data: data}
	b := make([]byte, f.EncodedLen())
	n, err := f.Encode(b)
	require.NoError(t, err)
	return b[:n]
}

// buildInitialPacket assembles a full IETF long-header Initial datagram:
// length-prefixed connection IDs, a zero-length token, a one-byte packet
// number, and framePayload as the frame bytes following it. It pads to at
// least minLen so the dispatcher's anti-amplification floor never trips
// unless a test wants it to.
func buildInitialPacket(dcid, scid []byte, version uint32, framePayload []byte, minLen int) []byte {
	var b []byte
	b = append(b, 0xc0) // long header, Initial, PN len 1
	b = append(b, byte(version>>24), byte(version>>16), byte(version>>8), byte(version))
	b = append(b, byte(len(dcid)))
	b = append(b, dcid...)
	b = append(b, byte(len(scid)))
	b = append(b, scid...)
	b = appendVarint(b, 0) // token length
	b = appendVarint(b, uint64(1+len(framePayload)))
	b = append(b, 0x00) // packet number
	b = append(b, framePayload...)
	for len(b) < minLen {
		b = append(b, 0)
	}
	return b
}

// --- test doubles --------------------------------------------------------

type fakeSession struct {
	id      string
	version uint32
	packets [][]byte
}

func (s *fakeSession) ProcessPacket(selfAddr, peerAddr net.Addr, packet []byte) {
	s.packets = append(s.packets, packet)
}

func (s *fakeSession) Version() uint32 { return s.version }

type fakeVisitor struct {
	created             []*fakeSession
	closed              []string
	rejectedNewConn     int
	addedToTimeWait     []string
	bufferFailures      []string
	expired             []string
	acceptNewConnection bool
}

func newFakeVisitor() *fakeVisitor {
	return &fakeVisitor{acceptNewConnection: true}
}

func (v *fakeVisitor) Create(connectionID string, selfAddr, peerAddr net.Addr, alpn string, version uint32) session.Session {
	s := &fakeSession{id: connectionID, version: version}
	v.created = append(v.created, s)
	return s
}

func (v *fakeVisitor) OnConnectionClosed(connectionID string, reason session.ClosedReason) {
	v.closed = append(v.closed, connectionID)
}

func (v *fakeVisitor) OnBufferPacketFailure(reason bufferedpacket.EnqueueResult, connectionID string) {
	v.bufferFailures = append(v.bufferFailures, connectionID)
}

func (v *fakeVisitor) OnExpiredPackets(connectionID string, list bufferedpacket.List) {
	v.expired = append(v.expired, connectionID)
}

func (v *fakeVisitor) OnNewConnectionRejected() {
	v.rejectedNewConn++
}

func (v *fakeVisitor) OnConnectionAddedToTimeWaitList(connectionID string) {
	v.addedToTimeWait = append(v.addedToTimeWait, connectionID)
}

func (v *fakeVisitor) ShouldCreateOrBufferPacketForConnection(info PacketInfo) bool {
	return v.acceptNewConnection
}

func (v *fakeVisitor) ShouldCreateSessionForUnknownVersion(versionLabel uint32) bool {
	return false
}

func (v *fakeVisitor) OnFailedToDispatchPacket(info PacketInfo) bool {
	return false
}

func newTestDispatcher(t *testing.T, visitor *fakeVisitor) (*Dispatcher, []sentPacket) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SupportedVersions = []uint32{transport.Version1}
	cfg.MinClientInitialPacketLength = 0
	cfg.MinPacketSizeForVersionNegotiation = 0
	cfg.ExpectedServerConnectionIDLength = 8

	var sent []sentPacket
	send := func(selfAddr, peerAddr net.Addr, packet []byte) {
		sent = append(sent, sentPacket{self: selfAddr, peer: peerAddr, data: packet})
	}

	store := bufferedpacket.NewStore(bufferedpacket.Config{
		MaxConnections:            100,
		MaxConnectionsWithoutChlo: 100,
		MaxPacketsPerConnection:   10,
		ConnectionLifeSpan:        time.Second,
	})
	timeWait := timewaitlist.NewInMemoryManager(time.Second, timewaitlist.Send(send))

	d := NewDispatcher(cfg, visitor, store, timeWait, send, nil)
	return d, sent
}

type sentPacket struct {
	self, peer net.Addr
	data       []byte
}

func udpAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}
}

// --- scenario 1: single-packet CHLO dispatch -----------------------------

func TestProcessPacketCreatesSessionFromSingleDatagramChlo(t *testing.T) {
	visitor := newFakeVisitor()
	cfg := DefaultConfig()
	cfg.SupportedVersions = []uint32{transport.Version1}
	cfg.MinClientInitialPacketLength = 0
	cfg.MinPacketSizeForVersionNegotiation = 0
	cfg.ExpectedServerConnectionIDLength = 8

	store := bufferedpacket.NewStore(bufferedpacket.Config{
		MaxConnections:            100,
		MaxConnectionsWithoutChlo: 100,
		MaxPacketsPerConnection:   10,
		ConnectionLifeSpan:        time.Second,
	})
	timeWait := timewaitlist.NewInMemoryManager(time.Second, nil)
	d := NewDispatcher(cfg, visitor, store, timeWait, nil, nil)

	dcid := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	scid := []byte{9, 9, 9, 9}
	chlo := buildClientHello("example.com", []string{"h3"})
	crypto := encodeCryptoFrame(t, chlo)
	packet := buildInitialPacket(dcid, scid, transport.Version1, crypto, 1200)

	d.ProcessPacket(udpAddr(443), udpAddr(5000), packet)

	require.Nil(t, d.LastError())
	require.Len(t, visitor.created, 1)
	require.Equal(t, transport.Version1, visitor.created[0].version)
	require.Len(t, visitor.created[0].packets, 1)
	require.Equal(t, 1, d.sessions.len())
}

// --- scenario 5: version negotiation for an unsupported version ---------

func TestProcessPacketSendsVersionNegotiationForUnknownVersion(t *testing.T) {
	visitor := newFakeVisitor()
	d, sent := newTestDispatcher(t, visitor)
	_ = sent

	var captured []sentPacket
	d.send = func(selfAddr, peerAddr net.Addr, packet []byte) {
		captured = append(captured, sentPacket{self: selfAddr, peer: peerAddr, data: packet})
	}

	dcid := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	scid := []byte{9, 9, 9, 9}
	packet := buildInitialPacket(dcid, scid, 0x4a4a4a4a, []byte{0x00}, 1200)

	d.ProcessPacket(udpAddr(443), udpAddr(5000), packet)

	require.Len(t, captured, 1)
	h, err := (&transport.HeaderParser{}).Parse(captured[0].data)
	require.Nil(t, err)
	require.True(t, h.IsVersionNegotiation())
	require.Equal(t, scid, h.DestinationCID)
	require.Equal(t, dcid, h.SourceCID)
}

// --- SelectAlpn -----------------------------------------------------------

func TestSelectAlpnEmpty(t *testing.T) {
	require.Equal(t, "", SelectAlpn(nil, []string{"h3"}))
}

func TestSelectAlpnSingleOfferIsReturnedAsIs(t *testing.T) {
	require.Equal(t, "h3-29", SelectAlpn([]string{"h3-29"}, []string{"h3"}))
}

func TestSelectAlpnPrefersSupportedOverFirstOffer(t *testing.T) {
	require.Equal(t, "h3", SelectAlpn([]string{"h3-29", "h3"}, []string{"h3"}))
}

func TestSelectAlpnFallsBackToFirstOfferWhenNoneSupported(t *testing.T) {
	require.Equal(t, "h3-27", SelectAlpn([]string{"h3-27", "h3-29"}, []string{"h3"}))
}

// --- maybeDispatch branches ------------------------------------------------

func TestProcessPacketDropsZeroPortPeer(t *testing.T) {
	visitor := newFakeVisitor()
	d, _ := newTestDispatcher(t, visitor)

	dcid := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	packet := buildInitialPacket(dcid, nil, transport.Version1, []byte{0x00}, 1200)

	d.ProcessPacket(udpAddr(443), udpAddr(0), packet)

	require.Empty(t, visitor.created)
}

func TestProcessPacketBuffersIncompleteChlo(t *testing.T) {
	visitor := newFakeVisitor()
	d, _ := newTestDispatcher(t, visitor)

	dcid := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	scid := []byte{9, 9, 9, 9}
	chlo := buildClientHello("example.com", []string{"h3"})
	split := len(chlo) / 2
	crypto := encodeCryptoFrame(t, chlo[:split])
	packet := buildInitialPacket(dcid, scid, transport.Version1, crypto, 1200)

	d.ProcessPacket(udpAddr(443), udpAddr(5000), packet)

	require.Empty(t, visitor.created)
	require.True(t, d.store.HasBuffered(string(dcid)))
}

func TestProcessPacketRejectsNewConnectionsWhenConfiguredClosed(t *testing.T) {
	visitor := newFakeVisitor()
	d, sentSlice := newTestDispatcher(t, visitor)
	_ = sentSlice
	d.cfg.AcceptNewConnections = false

	dcid := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	scid := []byte{9, 9, 9, 9}
	chlo := buildClientHello("example.com", []string{"h3"})
	crypto := encodeCryptoFrame(t, chlo)
	packet := buildInitialPacket(dcid, scid, transport.Version1, crypto, 1200)

	d.ProcessPacket(udpAddr(443), udpAddr(5000), packet)

	require.Empty(t, visitor.created)
	require.Equal(t, 1, visitor.rejectedNewConn)
	require.Len(t, visitor.addedToTimeWait, 1)
}

func TestProcessPacketForwardsToActiveSession(t *testing.T) {
	visitor := newFakeVisitor()
	d, _ := newTestDispatcher(t, visitor)

	dcid := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	scid := []byte{9, 9, 9, 9}
	chlo := buildClientHello("example.com", []string{"h3"})
	crypto := encodeCryptoFrame(t, chlo)
	packet := buildInitialPacket(dcid, scid, transport.Version1, crypto, 1200)
	d.ProcessPacket(udpAddr(443), udpAddr(5000), packet)
	require.Len(t, visitor.created, 1)

	newID := visitor.created[0].id
	follow := buildInitialPacket([]byte(newID), scid, transport.Version1, []byte{0x00}, 1200)
	d.ProcessPacket(udpAddr(443), udpAddr(5000), follow)

	require.Len(t, visitor.created, 1)
	require.Len(t, visitor.created[0].packets, 2)
}

// --- ProcessBufferedChlos budget loop --------------------------------------

func TestProcessBufferedChlosCreatesSessionsUpToBudget(t *testing.T) {
	visitor := newFakeVisitor()
	d, _ := newTestDispatcher(t, visitor)

	for i := 0; i < 3; i++ {
		dcid := []byte{byte(i), 2, 3, 4, 5, 6, 7, 8}
		scid := []byte{9, 9, 9, 9}
		chlo := buildClientHello("example.com", []string{"h3"})
		crypto := encodeCryptoFrame(t, chlo)
		split := len(crypto) / 2
		first := buildInitialPacket(dcid, scid, transport.Version1, crypto[:split], 1200)
		d.budget = 0 // force buffering instead of immediate session creation
		d.ProcessPacket(udpAddr(443), udpAddr(5000), first)
		second := buildInitialPacket(dcid, scid, transport.Version1, crypto[split:], 1200)
		d.ProcessPacket(udpAddr(443), udpAddr(5000), second)
	}
	require.Empty(t, visitor.created)

	d.ProcessBufferedChlos(2)
	require.Len(t, visitor.created, 2)

	d.ProcessBufferedChlos(2)
	require.Len(t, visitor.created, 3)
}

// --- sessionMap alias / refcount / deferred reclamation --------------------

func TestSessionMapAliasSharesSlotAndDefersReclamation(t *testing.T) {
	m := newSessionMap()
	sess := &fakeSession{id: "a"}
	m.insert("a", sess)
	require.True(t, m.addAlias("a", "b"))

	gotA, ok := m.lookup("a")
	require.True(t, ok)
	gotB, ok := m.lookup("b")
	require.True(t, ok)
	require.Same(t, sess, gotA)
	require.Same(t, sess, gotB)

	m.remove("a")
	require.True(t, m.contains("b"))
	require.Empty(t, m.deleteSessions())

	m.remove("b")
	reaped := m.deleteSessions()
	require.Len(t, reaped, 1)
	require.Same(t, sess, reaped[0])
	require.Equal(t, 0, m.len())
}

func TestSessionMapRecyclesFreedSlots(t *testing.T) {
	m := newSessionMap()
	m.insert("a", &fakeSession{id: "a"})
	genBefore, ok := m.generationOf("a")
	require.True(t, ok)
	m.remove("a")
	m.deleteSessions()

	m.insert("b", &fakeSession{id: "b"})
	genAfter, ok := m.generationOf("b")
	require.True(t, ok)
	require.NotEqual(t, genBefore, genAfter)
	require.Len(t, m.slots, 1)
}

func TestSessionMapMultipleAliasesAllMustBeRemovedBeforeReclamation(t *testing.T) {
	m := newSessionMap()
	sess := &fakeSession{id: "a"}
	m.insert("a", sess)
	require.True(t, m.addAlias("a", "b"))
	require.True(t, m.addAlias("b", "c"))

	m.remove("a")
	require.Empty(t, m.deleteSessions())
	m.remove("b")
	require.Empty(t, m.deleteSessions())

	m.remove("c")
	reaped := m.deleteSessions()
	require.Len(t, reaped, 1)
	require.Same(t, sess, reaped[0])
}
