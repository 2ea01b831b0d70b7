package chlo

import "github.com/quicrelay/qdispatch/transport"

// ParsedCHLO is the record spec.md §4.D requires once reassembly completes:
// everything the dispatcher needs to pick a session factory and ALPN.
type ParsedCHLO struct {
	ServerName           string
	ALPN                 []string
	SupportedGroups      []uint16
	CertCompressionAlgos []uint16
	ResumptionAttempted  bool
	EarlyDataAttempted   bool
	Raw                  []byte
}

// Extractor reassembles Initial-level CRYPTO frames and parses the client's
// TLS ClientHello out of them, mirroring tls_chlo_extractor.h/.cc's state
// machine (component D). It owns no socket and no session; Ingest is its
// only entry point, matching the original's "feed packets, ask state"
// shape.
//
// Extractor is a plain value type: copying it (Go's move-assignment
// equivalent) transfers ownership of its reassembly state exactly like the
// original's move-assignment operator, since every field is either a value
// or an independently owned pointer.
type Extractor struct {
	framer *transport.Framer
	reasm  *reassembler

	state    State
	chlo     *ParsedCHLO
	err      string
	received []byte

	parsedCryptoInThisPacket bool
}

// NewExtractor builds an Extractor ready to Ingest packets for a single
// connection attempt. lengthPrefixedCIDs selects the connection ID layout
// (nibble-packed vs length-prefixed) of the internal framer's header
// parser; Ingest itself is handed each packet's already-parsed header and
// only checks that it belongs to a long-header Initial packet.
func NewExtractor(lengthPrefixedCIDs bool) *Extractor {
	return &Extractor{
		framer: &transport.Framer{Header: &transport.HeaderParser{
			LengthPrefixedConnectionIDs: lengthPrefixedCIDs,
			IsVersionSupported:          func(uint32) bool { return true },
		}},
		reasm: newReassembler(),
		state: StateInitial,
	}
}

// State reports the extractor's current lifecycle state.
func (e *Extractor) State() State { return e.state }

// HasParsedFullChlo is the terminal check spec.md §4.D names.
func (e *Extractor) HasParsedFullChlo() bool {
	return e.state == StateParsedFullSinglePacketChlo || e.state == StateParsedFullMultiPacketChlo
}

// Chlo returns the parsed ClientHello record once HasParsedFullChlo is
// true, else nil.
func (e *Extractor) Chlo() *ParsedCHLO { return e.chlo }

// Error returns the unrecoverable-failure reason once State is
// StateUnrecoverableFailure, else "".
func (e *Extractor) Error() string { return e.err }

// Ingest parses payload (the already-decrypted Initial-level payload
// following its public header) with an internal framer and feeds every
// CRYPTO frame it contains into the reassembler, attempting a ClientHello
// parse over all bytes received contiguously from offset zero whenever
// new ones become available. It mirrors TlsChloExtractor::IngestPacket's
// state guards and its kInitial -> kParsedPartialChloFragment transition;
// version is not inspected.
func (e *Extractor) Ingest(version uint32, header *transport.PublicHeader, payload []byte) *transport.Error {
	if e.state == StateUnrecoverableFailure {
		return nil
	}
	if e.HasParsedFullChlo() {
		return nil
	}
	if header.Form != transport.FormLong || header.LongType != transport.LongTypeInitial {
		e.fail("ingest: not an Initial-level packet")
		return nil
	}

	e.parsedCryptoInThisPacket = false
	v := &extractorVisitor{e: e}
	if err := e.framer.ParseFrames(payload, false, v); err != nil {
		e.fail(err.Detail)
		return err
	}

	if !e.parsedCryptoInThisPacket {
		return nil
	}
	if e.HasParsedFullChlo() {
		return nil
	}
	if e.state == StateInitial {
		e.state = StateParsedPartialChloFragment
	}
	return nil
}

func (e *Extractor) fail(reason string) {
	if e.HasParsedFullChlo() {
		// Matches HandleUnrecoverableError: once a full CHLO is captured,
		// later TLS-layer errors (the handshake continuing past the point
		// this extractor cares about) are expected and ignored.
		return
	}
	if e.err == "" {
		e.err = reason
	} else {
		e.err = e.err + "; " + reason
	}
	e.state = StateUnrecoverableFailure
}

func (e *Extractor) onCryptoFrame(f *transport.CryptoFrame) {
	e.parsedCryptoInThisPacket = true
	e.reasm.push(f.Offset, f.Data)
	contiguous := e.reasm.drain()
	if contiguous == nil {
		return
	}
	e.received = append(e.received, contiguous...)
	ch, complete, err := parseClientHello(e.received)
	if err != nil {
		e.fail(err.Error())
		return
	}
	if !complete {
		return
	}
	wasPartial := e.state == StateParsedPartialChloFragment
	e.chlo = &ParsedCHLO{
		ServerName:           ch.ServerName,
		ALPN:                 ch.ALPN,
		SupportedGroups:      ch.SupportedGroups,
		CertCompressionAlgos: ch.CertCompressionAlgos,
		ResumptionAttempted:  ch.ResumptionAttempted,
		EarlyDataAttempted:   ch.EarlyDataAttempted,
		Raw:                  ch.Raw,
	}
	if wasPartial {
		e.state = StateParsedFullMultiPacketChlo
	} else {
		e.state = StateParsedFullSinglePacketChlo
	}
}

// extractorVisitor adapts Extractor to transport.Visitor, acting only on
// CRYPTO frames and ignoring everything else an Initial packet may carry
// (PADDING, PING, ACK) exactly as tls_chlo_extractor.cc's
// QuicFramerVisitorInterface override does.
type extractorVisitor struct {
	transport.NoOpVisitor
	e *Extractor
}

func (v *extractorVisitor) OnCrypto(f *transport.CryptoFrame) bool {
	v.e.onCryptoFrame(f)
	return !v.e.HasParsedFullChlo()
}
