package transport

// HeaderForm distinguishes the three dialects a datagram's first byte can
// announce (spec.md §3's "header form" field).
type HeaderForm int

const (
	FormLong HeaderForm = iota
	FormShort
	FormLegacy
)

// LongPacketType enumerates the four long-header packet types (spec.md §3).
type LongPacketType int

const (
	LongTypeInitial LongPacketType = iota
	LongTypeZeroRTT
	LongTypeHandshake
	LongTypeRetry
	longTypeCount
)

func (t LongPacketType) String() string {
	switch t {
	case LongTypeInitial:
		return "Initial"
	case LongTypeZeroRTT:
		return "0-RTT"
	case LongTypeHandshake:
		return "Handshake"
	case LongTypeRetry:
		return "Retry"
	default:
		return "Unknown"
	}
}

// legacy dialect public-flag bits (spec.md §6), bit 0 = LSB.
const (
	legacyFlagVersion          = 0x01
	legacyFlagReset            = 0x02
	legacyFlagNonce            = 0x0c // bits 2-3
	legacyFlagPacketNumberLen  = 0x30 // bits 4-5
	legacyFlagConnectionIDLen  = 0xc0 // bits 6-7
	legacyPacketNumberLenShift = 4
	legacyConnectionIDLenShift = 6
)

var legacyPNLengths = [4]int{1, 2, 4, 6}

// PublicHeader is the output of the public-header parser (component B):
// everything the dispatcher can learn about a datagram without decrypting
// it (spec.md §3).
type PublicHeader struct {
	Form              HeaderForm
	LongType          LongPacketType
	HasVersion        bool
	VersionLabel      uint32
	Version           uint32 // 0 if VersionLabel names an unsupported version
	VersionSupported  bool
	DestinationCID    []byte
	SourceCID         []byte
	HasToken          bool
	Token             []byte
	LengthPrefixedCID bool
	PacketNumberLen   int // wire length in bytes, 0 for Retry and version negotiation
	headerLen         int // bytes consumed by the header itself (excludes packet number)
}

// HeaderParser classifies a datagram's outermost header without decrypting
// it (component B, spec.md §4.B).
type HeaderParser struct {
	// ExpectedServerConnectionIDLength is the dispatcher's configured
	// expected length (spec.md §3), consulted when validating short
	// destination IDs on non-long headers.
	ExpectedServerConnectionIDLength int
	// AllowShortInitialServerConnectionIDs disables the "too short" check
	// below the 8-byte initial floor (spec.md §4.B).
	AllowShortInitialServerConnectionIDs bool
	// LengthPrefixedConnectionIDs selects the length-prefixed connection ID
	// layout (IETF with length-prefixed CIDs) instead of the nibble-packed
	// legacy long-header layout.
	LengthPrefixedConnectionIDs bool
	// IsVersionSupported reports whether a version label names a version
	// this dispatcher accepts; nil means "none are".
	IsVersionSupported func(uint32) bool
}

// Parse classifies b's outermost header. It never decrypts and is the only
// hot path used before the dispatcher knows whether a session exists
// (spec.md §4.B).
func (p *HeaderParser) Parse(b []byte) (*PublicHeader, *Error) {
	if len(b) == 0 {
		return nil, newError(InvalidPacketHeader, "zero-length datagram")
	}
	first := b[0]
	switch {
	case first&0xc0 == 0xc0:
		return p.parseLong(b)
	case first&0xc0 == 0x40:
		return p.parseShort(b)
	default:
		return p.parseLegacy(b)
	}
}

func (p *HeaderParser) parseLong(b []byte) (*PublicHeader, *Error) {
	first := b[0]
	if len(b) < 5 {
		return nil, newError(InvalidPacketHeader, "long header: truncated before version")
	}
	h := &PublicHeader{Form: FormLong, HasVersion: true}
	h.VersionLabel = uint32(b[1])<<24 | uint32(b[2])<<16 | uint32(b[3])<<8 | uint32(b[4])
	off := 5
	if h.VersionLabel == 0 {
		return p.parseVersionNegotiation(b, h, off)
	}
	h.VersionSupported = p.IsVersionSupported != nil && p.IsVersionSupported(h.VersionLabel)
	if h.VersionSupported {
		h.Version = h.VersionLabel
	}
	h.LongType = longTypeFromBits((first >> 4) & 0x03)
	h.LengthPrefixedCID = p.LengthPrefixedConnectionIDs
	var n int
	var err *Error
	if p.LengthPrefixedConnectionIDs {
		h.DestinationCID, n, err = decodeCIDLengthPrefixed(b[off:])
		if err != nil {
			return nil, err
		}
		off += n
		h.SourceCID, n, err = decodeCIDLengthPrefixed(b[off:])
		if err != nil {
			return nil, err
		}
		off += n
	} else {
		h.DestinationCID, h.SourceCID, n, err = decodeCIDNibblePacked(b[off:])
		if err != nil {
			return nil, err
		}
		off += n
	}
	if len(h.DestinationCID) > MaxCIDLength {
		return nil, newError(InvalidPacketHeader, "destination cid exceeds 20 bytes")
	}
	if h.LongType == LongTypeInitial {
		var tokenLen uint64
		tn := getVarint(b[off:], &tokenLen)
		if tn == 0 {
			return nil, newError(InvalidPacketHeader, "initial: truncated token length")
		}
		off += tn
		if uint64(len(b)-off) < tokenLen {
			return nil, newError(InvalidPacketHeader, "initial: truncated token")
		}
		h.HasToken = true
		h.Token = b[off : off+int(tokenLen)]
		off += int(tokenLen)
	}
	if h.LongType == LongTypeRetry {
		// Carried via trailing integrity tag, not parsed as a field; see
		// transport/retry.go. The remaining bytes are the token + tag.
		h.HasToken = true
		h.Token = b[off:]
		h.headerLen = off
		h.PacketNumberLen = 0
		return h, nil
	}
	var payloadLen uint64
	ln := getVarint(b[off:], &payloadLen)
	if ln == 0 {
		return nil, newError(InvalidPacketHeader, "long header: truncated length")
	}
	off += ln
	h.PacketNumberLen = int(first&0x03) + 1
	h.headerLen = off
	if uint64(len(b)-off) < payloadLen {
		return nil, newError(InvalidPacketHeader, "long header: declared length overflows datagram")
	}
	return h, nil
}

func (p *HeaderParser) parseVersionNegotiation(b []byte, h *PublicHeader, off int) (*PublicHeader, *Error) {
	var n int
	var err *Error
	if p.LengthPrefixedConnectionIDs {
		h.DestinationCID, n, err = decodeCIDLengthPrefixed(b[off:])
		if err != nil {
			return nil, err
		}
		off += n
		h.SourceCID, n, err = decodeCIDLengthPrefixed(b[off:])
		if err != nil {
			return nil, err
		}
		off += n
	} else {
		h.DestinationCID, h.SourceCID, n, err = decodeCIDNibblePacked(b[off:])
		if err != nil {
			return nil, err
		}
		off += n
	}
	h.LongType = LongTypeInitial // unused; version==0 is the real signal
	h.headerLen = off
	h.Version = 0
	h.VersionLabel = 0
	return h, nil
}

func longTypeFromBits(v byte) LongPacketType {
	switch v {
	case 0:
		return LongTypeInitial
	case 1:
		return LongTypeZeroRTT
	case 2:
		return LongTypeHandshake
	default:
		return LongTypeRetry
	}
}

func (p *HeaderParser) parseShort(b []byte) (*PublicHeader, *Error) {
	first := b[0]
	cidLen := p.ExpectedServerConnectionIDLength
	if len(b) < 1+cidLen {
		return nil, newError(InvalidPacketHeader, "short header: truncated destination cid")
	}
	if cidLen < MinInitialServerCIDLength && !p.AllowShortInitialServerConnectionIDs {
		return nil, newError(InvalidPacketHeader, "short header: destination cid shorter than minimum initial length")
	}
	h := &PublicHeader{
		Form:            FormShort,
		DestinationCID:  b[1 : 1+cidLen],
		PacketNumberLen: int(first&0x03) + 1,
		headerLen:       1 + cidLen,
	}
	return h, nil
}

func (p *HeaderParser) parseLegacy(b []byte) (*PublicHeader, *Error) {
	flags := b[0]
	off := 1
	h := &PublicHeader{Form: FormLegacy}

	cidNibble := (flags & legacyFlagConnectionIDLen) >> legacyConnectionIDLenShift
	cidLen := 0
	switch cidNibble {
	case 0:
		cidLen = 0
	case 1:
		cidLen = 1
	case 2:
		cidLen = 4
	case 3:
		cidLen = 8
	}
	if len(b) < off+cidLen {
		return nil, newError(InvalidPacketHeader, "legacy header: truncated connection id")
	}
	h.DestinationCID = b[off : off+cidLen]
	off += cidLen

	if flags&legacyFlagVersion != 0 {
		if len(b) < off+4 {
			return nil, newError(InvalidPacketHeader, "legacy header: truncated version")
		}
		h.HasVersion = true
		h.VersionLabel = uint32(b[off])<<24 | uint32(b[off+1])<<16 | uint32(b[off+2])<<8 | uint32(b[off+3])
		h.VersionSupported = p.IsVersionSupported != nil && p.IsVersionSupported(h.VersionLabel)
		if h.VersionSupported {
			h.Version = h.VersionLabel
		}
		off += 4
	}
	if flags&legacyFlagNonce != 0 {
		if len(b) < off+32 {
			return nil, newError(InvalidPacketHeader, "legacy header: truncated diversification nonce")
		}
		off += 32
	}
	pnNibble := (flags & legacyFlagPacketNumberLen) >> legacyPacketNumberLenShift
	h.PacketNumberLen = legacyPNLengths[pnNibble]
	h.headerLen = off
	return h, nil
}

// HeaderLen reports how many bytes Parse consumed for the header itself
// (excluding the not-yet-decrypted packet number and payload).
func (h *PublicHeader) HeaderLen() int { return h.headerLen }

// IsClientInitiatedRetry reports whether this header names a Retry packet,
// which a server must always refuse to process (spec.md §4.C, §8).
func (h *PublicHeader) IsClientInitiatedRetry() bool {
	return h.Form == FormLong && h.HasVersion && h.VersionLabel != 0 && h.LongType == LongTypeRetry
}

// IsVersionNegotiation reports whether this header is a version
// negotiation envelope (VersionLabel == 0 on a long header).
func (h *PublicHeader) IsVersionNegotiation() bool {
	return h.Form == FormLong && h.HasVersion && h.VersionLabel == 0
}
