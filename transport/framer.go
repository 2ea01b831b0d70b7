package transport

// Visitor receives frame and packet-level events from a Framer. Its methods
// map one-to-one onto frame variants rather than onto a class hierarchy
// (spec.md §9): a type switch over concrete *XFrame values, not virtual
// dispatch. Frame callbacks return false to abort parsing the rest of the
// payload.
type Visitor interface {
	OnPacketHeader(h *PublicHeader) bool
	OnPacketComplete()
	OnCoalescedPacket(tail []byte)
	OnUndecryptablePacket()

	OnPadding(*PaddingFrame) bool
	OnPing(*PingFrame) bool
	OnAck(*AckFrame) bool
	OnResetStream(*ResetStreamFrame) bool
	OnStopSending(*StopSendingFrame) bool
	OnCrypto(*CryptoFrame) bool
	OnNewToken(*NewTokenFrame) bool
	OnStream(*StreamFrame) bool
	OnMaxData(*MaxDataFrame) bool
	OnMaxStreamData(*MaxStreamDataFrame) bool
	OnMaxStreams(*MaxStreamsFrame) bool
	OnDataBlocked(*DataBlockedFrame) bool
	OnStreamDataBlocked(*StreamDataBlockedFrame) bool
	OnStreamsBlocked(*StreamsBlockedFrame) bool
	OnNewConnectionID(*NewConnectionIDFrame) bool
	OnRetireConnectionID(*RetireConnectionIDFrame) bool
	OnPathChallenge(*PathChallengeFrame) bool
	OnPathResponse(*PathResponseFrame) bool
	OnConnectionClose(*ConnectionCloseFrame) bool
	OnHandshakeDone(*HandshakeDoneFrame) bool
	OnMessage(*MessageFrame) bool

	// Legacy-dialect-only frames (spec.md §6); IETF-only visitors can embed
	// NoOpVisitor to ignore them.
	OnStopWaiting(*StopWaitingFrame) bool
	OnGoAway(*GoAwayFrame) bool
}

// NoOpVisitor implements Visitor with every frame callback returning true
// and every event ignored, so callers can embed it and override only the
// methods they care about.
type NoOpVisitor struct{}

func (NoOpVisitor) OnPacketHeader(*PublicHeader) bool { return true }
func (NoOpVisitor) OnPacketComplete()                 {}
func (NoOpVisitor) OnCoalescedPacket([]byte)           {}
func (NoOpVisitor) OnUndecryptablePacket()             {}

func (NoOpVisitor) OnPadding(*PaddingFrame) bool                         { return true }
func (NoOpVisitor) OnPing(*PingFrame) bool                               { return true }
func (NoOpVisitor) OnAck(*AckFrame) bool                                 { return true }
func (NoOpVisitor) OnResetStream(*ResetStreamFrame) bool                 { return true }
func (NoOpVisitor) OnStopSending(*StopSendingFrame) bool                 { return true }
func (NoOpVisitor) OnCrypto(*CryptoFrame) bool                           { return true }
func (NoOpVisitor) OnNewToken(*NewTokenFrame) bool                       { return true }
func (NoOpVisitor) OnStream(*StreamFrame) bool                           { return true }
func (NoOpVisitor) OnMaxData(*MaxDataFrame) bool                         { return true }
func (NoOpVisitor) OnMaxStreamData(*MaxStreamDataFrame) bool             { return true }
func (NoOpVisitor) OnMaxStreams(*MaxStreamsFrame) bool                   { return true }
func (NoOpVisitor) OnDataBlocked(*DataBlockedFrame) bool                 { return true }
func (NoOpVisitor) OnStreamDataBlocked(*StreamDataBlockedFrame) bool     { return true }
func (NoOpVisitor) OnStreamsBlocked(*StreamsBlockedFrame) bool           { return true }
func (NoOpVisitor) OnNewConnectionID(*NewConnectionIDFrame) bool         { return true }
func (NoOpVisitor) OnRetireConnectionID(*RetireConnectionIDFrame) bool   { return true }
func (NoOpVisitor) OnPathChallenge(*PathChallengeFrame) bool             { return true }
func (NoOpVisitor) OnPathResponse(*PathResponseFrame) bool               { return true }
func (NoOpVisitor) OnConnectionClose(*ConnectionCloseFrame) bool         { return true }
func (NoOpVisitor) OnHandshakeDone(*HandshakeDoneFrame) bool             { return true }
func (NoOpVisitor) OnMessage(*MessageFrame) bool                         { return true }
func (NoOpVisitor) OnStopWaiting(*StopWaitingFrame) bool                 { return true }
func (NoOpVisitor) OnGoAway(*GoAwayFrame) bool                           { return true }

// Framer parses and serializes frames within an already-decrypted payload
// (spec.md §4.C; AEAD removal is out of scope — "does not prescribe a
// crypto library", spec.md §1).
type Framer struct {
	Header *HeaderParser
}

// ParseFrames reads frames sequentially from payload until it is exhausted,
// a decoder fails, or a visitor callback returns false. legacy selects the
// Google-QUIC frame-type table instead of the IETF one.
func (fr *Framer) ParseFrames(payload []byte, legacy bool, v Visitor) *Error {
	off := 0
	for off < len(payload) {
		n, err, cont := fr.parseOneFrame(payload[off:], legacy, v)
		if err != nil {
			return err
		}
		off += n
		if !cont {
			break
		}
	}
	v.OnPacketComplete()
	return nil
}

// parseOneFrame decodes a single frame starting at b[0] and delivers it to
// the visitor. It returns the number of bytes consumed and whether parsing
// should continue.
func (fr *Framer) parseOneFrame(b []byte, legacy bool, v Visitor) (int, *Error, bool) {
	if len(b) == 0 {
		return 0, newError(MissingPayload, "frame: empty payload"), false
	}
	if legacy {
		return fr.parseOneLegacyFrame(b, v)
	}
	return fr.parseOneIETFFrame(b, v)
}

func (fr *Framer) parseOneIETFFrame(b []byte, v Visitor) (int, *Error, bool) {
	var typ uint64
	n, minimal := getVarintMinimal(b, &typ)
	if n == 0 {
		return 0, newError(InvalidFrameData, "frame: truncated frame type"), false
	}
	if !minimal {
		return 0, newError(IETFQUICProtocolViolation, "Frame type not minimally encoded."), false
	}
	switch {
	case typ == ftPadding:
		f, n, err := decodePaddingFrame(b)
		if err != nil {
			return 0, err, false
		}
		return n, nil, v.OnPadding(f)
	case typ == ftPing:
		f, n, err := decodePingFrame(b)
		if err != nil {
			return 0, err, false
		}
		return n, nil, v.OnPing(f)
	case typ == ftAck || typ == ftAckECN:
		f, n, err := decodeAckFrame(b, false)
		if err != nil {
			return 0, err, false
		}
		return n, nil, v.OnAck(f)
	case typ == ftResetStream:
		f, n, err := decodeResetStreamFrame(b)
		if err != nil {
			return 0, err, false
		}
		return n, nil, v.OnResetStream(f)
	case typ == ftStopSending:
		f, n, err := decodeStopSendingFrame(b)
		if err != nil {
			return 0, err, false
		}
		return n, nil, v.OnStopSending(f)
	case typ == ftCrypto:
		f, n, err := decodeCryptoFrame(b)
		if err != nil {
			return 0, err, false
		}
		return n, nil, v.OnCrypto(f)
	case typ == ftNewToken:
		f, n, err := decodeNewTokenFrame(b)
		if err != nil {
			return 0, err, false
		}
		return n, nil, v.OnNewToken(f)
	case typ >= ftStreamBase && typ <= ftStreamEnd:
		f, n, err := decodeStreamFrame(b)
		if err != nil {
			return 0, err, false
		}
		return n, nil, v.OnStream(f)
	case typ == ftMaxData:
		f, n, err := decodeMaxDataFrame(b)
		if err != nil {
			return 0, err, false
		}
		return n, nil, v.OnMaxData(f)
	case typ == ftMaxStreamData:
		f, n, err := decodeMaxStreamDataFrame(b)
		if err != nil {
			return 0, err, false
		}
		return n, nil, v.OnMaxStreamData(f)
	case typ == ftMaxStreamsBidi || typ == ftMaxStreamsUni:
		f, n, err := decodeMaxStreamsFrame(b)
		if err != nil {
			return 0, err, false
		}
		return n, nil, v.OnMaxStreams(f)
	case typ == ftDataBlocked:
		f, n, err := decodeDataBlockedFrame(b)
		if err != nil {
			return 0, err, false
		}
		return n, nil, v.OnDataBlocked(f)
	case typ == ftStreamDataBlocked:
		f, n, err := decodeStreamDataBlockedFrame(b)
		if err != nil {
			return 0, err, false
		}
		return n, nil, v.OnStreamDataBlocked(f)
	case typ == ftStreamsBlockedBidi || typ == ftStreamsBlockedUni:
		f, n, err := decodeStreamsBlockedFrame(b)
		if err != nil {
			return 0, err, false
		}
		return n, nil, v.OnStreamsBlocked(f)
	case typ == ftNewConnectionID:
		f, n, err := decodeNewConnectionIDFrame(b)
		if err != nil {
			return 0, err, false
		}
		return n, nil, v.OnNewConnectionID(f)
	case typ == ftRetireConnectionID:
		f, n, err := decodeRetireConnectionIDFrame(b)
		if err != nil {
			return 0, err, false
		}
		return n, nil, v.OnRetireConnectionID(f)
	case typ == ftPathChallenge:
		f, n, err := decodePathChallengeFrame(b)
		if err != nil {
			return 0, err, false
		}
		return n, nil, v.OnPathChallenge(f)
	case typ == ftPathResponse:
		f, n, err := decodePathResponseFrame(b)
		if err != nil {
			return 0, err, false
		}
		return n, nil, v.OnPathResponse(f)
	case typ == ftConnectionCloseTransport || typ == ftConnectionCloseApp:
		f, n, err := decodeConnectionCloseFrame(b, false)
		if err != nil {
			return 0, err, false
		}
		return n, nil, v.OnConnectionClose(f)
	case typ == ftHandshakeDone:
		f, n, err := decodeHandshakeDoneFrame(b)
		if err != nil {
			return 0, err, false
		}
		return n, nil, v.OnHandshakeDone(f)
	case typ == ftMessageNoLen || typ == ftMessageLen:
		f, n, err := decodeMessageFrame(b)
		if err != nil {
			return 0, err, false
		}
		return n, nil, v.OnMessage(f)
	default:
		return 0, newError(InvalidFrameData, "Illegal frame type."), false
	}
}

// parseOneLegacyFrame dispatches on the legacy dialect's bit-field type
// byte: STREAM sets the 0x80 marker bit, ACK sets 0x40, and STOP_WAITING /
// GOAWAY / PADDING / PING / RESET_STREAM / CONNECTION_CLOSE keep single
// byte codes (spec.md §6). No other frame type is recognised in this
// dialect; CRYPTO, NEW_CONNECTION_ID and NEW_TOKEN yield "Illegal frame
// type." like any unknown code.
func (fr *Framer) parseOneLegacyFrame(b []byte, v Visitor) (int, *Error, bool) {
	typ := b[0]
	switch {
	case typ == ftPadding:
		f, n, err := decodePaddingFrame(b)
		if err != nil {
			return 0, err, false
		}
		return n, nil, v.OnPadding(f)
	case typ == ftPing:
		f, n, err := decodePingFrame(b)
		if err != nil {
			return 0, err, false
		}
		return n, nil, v.OnPing(f)
	case typ&ftLegacyStreamMarker != 0:
		f, n, err := decodeStreamFrame(b)
		if err != nil {
			return 0, err, false
		}
		return n, nil, v.OnStream(f)
	case typ&0xc0 == ftLegacyAckBase:
		f, n, err := decodeAckFrame(b, true)
		if err != nil {
			return 0, err, false
		}
		return n, nil, v.OnAck(f)
	case typ == ftLegacyStopWaiting:
		f, n, err := decodeStopWaitingFrame(b)
		if err != nil {
			return 0, err, false
		}
		return n, nil, v.OnStopWaiting(f)
	case typ == ftLegacyGoAway:
		f, n, err := decodeGoAwayFrame(b)
		if err != nil {
			return 0, err, false
		}
		return n, nil, v.OnGoAway(f)
	case typ == ftResetStream:
		f, n, err := decodeResetStreamFrame(b)
		if err != nil {
			return 0, err, false
		}
		return n, nil, v.OnResetStream(f)
	case typ == ftConnectionCloseTransport:
		f, n, err := decodeConnectionCloseFrame(b, true)
		if err != nil {
			return 0, err, false
		}
		return n, nil, v.OnConnectionClose(f)
	default:
		return 0, newError(InvalidFrameData, "Illegal frame type."), false
	}
}

// WriteFrame serializes a single frame into b (spec.md §4.C's serializing
// contract: the exact inverse of the parsing tables).
func WriteFrame(b []byte, f Frame) (int, *Error) {
	return f.Encode(b)
}

// SplitCoalesced inspects the bytes of a datagram following a consumed
// Initial/0-RTT/Handshake packet of declaredLen bytes and reports whether a
// further long-header packet follows (spec.md §4.C). Trailing zero bytes
// are treated as peer padding and discarded; a tail whose first byte lacks
// the long-header bit, or that is empty, yields ok=false so the caller
// silently drops it rather than emitting a coalesced-packet event.
func SplitCoalesced(datagram []byte, declaredLen int) (tail []byte, ok bool) {
	if declaredLen >= len(datagram) {
		return nil, false
	}
	rest := datagram[declaredLen:]
	allZero := true
	for _, b := range rest {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return nil, false
	}
	if rest[0]&0xc0 != 0xc0 {
		return nil, false
	}
	return rest, true
}
