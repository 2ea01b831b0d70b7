package transport

// Frame is the common interface every frame variant of spec.md §3
// implements: a tagged union over IETF frames, legacy-dialect frames, and
// their wire payload. Visitors (see framer.go) are handed concrete types
// through a type switch, not an inheritance hierarchy (spec.md §9).
type Frame interface {
	EncodedLen() int
	Encode(b []byte) (int, *Error)
}

// IETF frame type codes (spec.md §6).
const (
	ftPadding                 = 0x00
	ftPing                    = 0x01
	ftAck                     = 0x02
	ftAckECN                  = 0x03
	ftResetStream             = 0x04
	ftStopSending             = 0x05
	ftCrypto                  = 0x06
	ftNewToken                = 0x07
	ftStreamBase              = 0x08
	ftStreamEnd               = 0x0f
	ftMaxData                 = 0x10
	ftMaxStreamData           = 0x11
	ftMaxStreamsBidi          = 0x12
	ftMaxStreamsUni           = 0x13
	ftDataBlocked             = 0x14
	ftStreamDataBlocked       = 0x15
	ftStreamsBlockedBidi      = 0x16
	ftStreamsBlockedUni       = 0x17
	ftNewConnectionID         = 0x18
	ftRetireConnectionID      = 0x19
	ftPathChallenge           = 0x1a
	ftPathResponse            = 0x1b
	ftConnectionCloseTransport = 0x1c
	ftConnectionCloseApp      = 0x1d
	ftHandshakeDone           = 0x1e
	ftMessageNoLen            = 0x30
	ftMessageLen              = 0x31
)

// Legacy-dialect frame type codes (spec.md §6): STOP_WAITING and GOAWAY are
// single-byte codes distinct from the IETF table; STREAM has its marker bit
// set (0x80) and ACK is 0x40|flags.
const (
	ftLegacyGoAway       = 0x03
	ftLegacyStopWaiting  = 0x06
	ftLegacyAckBase      = 0x40
	ftLegacyStreamMarker = 0x80
)

// --- PADDING ---

type PaddingFrame struct {
	Length int
}

// decodePaddingFrame collapses a run of zero bytes starting at b[0] into a
// single frame carrying the run length (spec.md §4.C).
func decodePaddingFrame(b []byte) (*PaddingFrame, int, *Error) {
	n := 0
	for n < len(b) && b[n] == 0 {
		n++
	}
	return &PaddingFrame{Length: n}, n, nil
}

func (f *PaddingFrame) EncodedLen() int { return f.Length }
func (f *PaddingFrame) Encode(b []byte) (int, *Error) {
	if len(b) < f.Length {
		return 0, newError(PacketTooLarge, "padding frame exceeds buffer")
	}
	for i := 0; i < f.Length; i++ {
		b[i] = 0
	}
	return f.Length, nil
}

// --- PING ---

type PingFrame struct{}

func decodePingFrame(b []byte) (*PingFrame, int, *Error) { return &PingFrame{}, 1, nil }
func (f *PingFrame) EncodedLen() int                     { return 1 }
func (f *PingFrame) Encode(b []byte) (int, *Error) {
	if len(b) < 1 {
		return 0, newError(PacketTooLarge, "ping frame exceeds buffer")
	}
	b[0] = ftPing
	return 1, nil
}

// --- ACK ---

// AckRange is one (gap, length) pair following the first ack block.
type AckRange struct {
	Gap    uint64
	Length uint64
}

type ECNCounts struct {
	ECT0 uint64
	ECT1 uint64
	ECNCE uint64
}

type AckFrame struct {
	LargestAcked uint64
	AckDelay     uint64
	FirstRange   uint64 // IETF: count-1 semantics already resolved to an inclusive count
	Ranges       []AckRange
	ECN          *ECNCounts
	Legacy       bool
}

// decodeAckFrame reads largest-acked, ack-delay, ack-block-count,
// first-block-length, then the (gap, length) pairs (spec.md §4.C). legacy
// selects the Google-QUIC first-block-zero-is-illegal rule; the IETF
// dialect treats 0 as "just the largest-acked packet".
func decodeAckFrame(b []byte, legacy bool) (*AckFrame, int, *Error) {
	if len(b) < 1 {
		return nil, 0, newError(InvalidFrameData, "ack: truncated type")
	}
	ecn := !legacy && b[0] == ftAckECN
	off := 1
	f := &AckFrame{Legacy: legacy}
	n := getVarint(b[off:], &f.LargestAcked)
	if n == 0 {
		return nil, 0, newError(InvalidFrameData, "ack: truncated largest acked")
	}
	off += n
	n = getVarint(b[off:], &f.AckDelay)
	if n == 0 {
		return nil, 0, newError(InvalidFrameData, "ack: truncated ack delay")
	}
	off += n
	var rangeCount uint64
	n = getVarint(b[off:], &rangeCount)
	if n == 0 {
		return nil, 0, newError(InvalidFrameData, "ack: truncated ack range count")
	}
	off += n
	var firstBlock uint64
	n = getVarint(b[off:], &firstBlock)
	if n == 0 {
		return nil, 0, newError(InvalidFrameData, "ack: truncated first ack block")
	}
	off += n
	if legacy && firstBlock == 0 {
		return nil, 0, newError(InvalidFrameData, "ack: legacy first block length of zero")
	}
	if !legacy {
		// IETF "count - 1" semantics: a value of 0 means the single packet
		// largest_acked, so the effective block length is firstBlock+1.
		firstBlock++
	}
	if firstBlock > f.LargestAcked+1 {
		return nil, 0, newError(InvalidFrameData, "ack: first block length exceeds largest acked")
	}
	f.FirstRange = firstBlock
	f.Ranges = make([]AckRange, 0, rangeCount)
	smallestInBlock := f.LargestAcked - (firstBlock - 1)
	for i := uint64(0); i < rangeCount; i++ {
		var gap, length uint64
		n = getVarint(b[off:], &gap)
		if n == 0 {
			return nil, 0, newError(InvalidFrameData, "ack: truncated gap")
		}
		off += n
		n = getVarint(b[off:], &length)
		if n == 0 {
			return nil, 0, newError(InvalidFrameData, "ack: truncated ack range length")
		}
		off += n
		if gap+2 > smallestInBlock {
			return nil, 0, newError(InvalidFrameData, "ack: gap underflows past zero")
		}
		smallestInBlock -= gap + 2
		if length+1 > smallestInBlock+1 {
			return nil, 0, newError(InvalidFrameData, "ack: ack range length underflows past zero")
		}
		smallestInBlock -= length
		f.Ranges = append(f.Ranges, AckRange{Gap: gap, Length: length})
	}
	if ecn {
		f.ECN = &ECNCounts{}
		for _, v := range []*uint64{&f.ECN.ECT0, &f.ECN.ECT1, &f.ECN.ECNCE} {
			n = getVarint(b[off:], v)
			if n == 0 {
				return nil, 0, newError(InvalidFrameData, "ack: truncated ecn counts")
			}
			off += n
		}
	}
	return f, off, nil
}

func (f *AckFrame) EncodedLen() int {
	n := 1 + varintLen(f.LargestAcked) + varintLen(f.AckDelay) + varintLen(uint64(len(f.Ranges)))
	if f.Legacy {
		n += varintLen(f.FirstRange)
	} else {
		n += varintLen(f.FirstRange - 1)
	}
	for _, r := range f.Ranges {
		n += varintLen(r.Gap) + varintLen(r.Length)
	}
	if f.ECN != nil {
		n += varintLen(f.ECN.ECT0) + varintLen(f.ECN.ECT1) + varintLen(f.ECN.ECNCE)
	}
	return n
}

// Encode serializes the frame. When capacity is insufficient, callers
// should use Truncate first (spec.md §4.C: "the highest-gap blocks are
// dropped in oldest-first order, preserving the largest-acked").
func (f *AckFrame) Encode(b []byte) (int, *Error) {
	need := f.EncodedLen()
	if len(b) < need {
		return 0, newError(PacketTooLarge, "ack frame exceeds buffer")
	}
	off := 0
	switch {
	case f.Legacy:
		b[off] = ftLegacyAckBase
	case f.ECN != nil:
		b[off] = ftAckECN
	default:
		b[off] = ftAck
	}
	off++
	off += putVarint(b[off:], f.LargestAcked)
	off += putVarint(b[off:], f.AckDelay)
	off += putVarint(b[off:], uint64(len(f.Ranges)))
	if f.Legacy {
		off += putVarint(b[off:], f.FirstRange)
	} else {
		off += putVarint(b[off:], f.FirstRange-1)
	}
	for _, r := range f.Ranges {
		off += putVarint(b[off:], r.Gap)
		off += putVarint(b[off:], r.Length)
	}
	if f.ECN != nil {
		off += putVarint(b[off:], f.ECN.ECT0)
		off += putVarint(b[off:], f.ECN.ECT1)
		off += putVarint(b[off:], f.ECN.ECNCE)
	}
	return off, nil
}

// Truncate drops the oldest (highest-gap) ack ranges until the frame fits
// within maxLen bytes, preserving LargestAcked and the first block
// (spec.md §4.C). It reports whether the result still fits.
func (f *AckFrame) Truncate(maxLen int) bool {
	for f.EncodedLen() > maxLen && len(f.Ranges) > 0 {
		f.Ranges = f.Ranges[:len(f.Ranges)-1]
	}
	return f.EncodedLen() <= maxLen
}

// --- RESET_STREAM ---

type ResetStreamFrame struct {
	StreamID  uint64
	ErrorCode uint64
	FinalSize uint64
}

func decodeResetStreamFrame(b []byte) (*ResetStreamFrame, int, *Error) {
	off := 1
	f := &ResetStreamFrame{}
	for _, v := range []*uint64{&f.StreamID, &f.ErrorCode, &f.FinalSize} {
		n := getVarint(b[off:], v)
		if n == 0 {
			return nil, 0, newError(InvalidFrameData, "reset_stream: truncated")
		}
		off += n
	}
	return f, off, nil
}

func (f *ResetStreamFrame) EncodedLen() int {
	return 1 + varintLen(f.StreamID) + varintLen(f.ErrorCode) + varintLen(f.FinalSize)
}
func (f *ResetStreamFrame) Encode(b []byte) (int, *Error) {
	if len(b) < f.EncodedLen() {
		return 0, newError(PacketTooLarge, "reset_stream frame exceeds buffer")
	}
	off := 0
	b[off] = ftResetStream
	off++
	off += putVarint(b[off:], f.StreamID)
	off += putVarint(b[off:], f.ErrorCode)
	off += putVarint(b[off:], f.FinalSize)
	return off, nil
}

// --- STOP_SENDING ---

type StopSendingFrame struct {
	StreamID  uint64
	ErrorCode uint64
}

func decodeStopSendingFrame(b []byte) (*StopSendingFrame, int, *Error) {
	off := 1
	f := &StopSendingFrame{}
	for _, v := range []*uint64{&f.StreamID, &f.ErrorCode} {
		n := getVarint(b[off:], v)
		if n == 0 {
			return nil, 0, newError(InvalidFrameData, "stop_sending: truncated")
		}
		off += n
	}
	return f, off, nil
}

func (f *StopSendingFrame) EncodedLen() int {
	return 1 + varintLen(f.StreamID) + varintLen(f.ErrorCode)
}
func (f *StopSendingFrame) Encode(b []byte) (int, *Error) {
	if len(b) < f.EncodedLen() {
		return 0, newError(PacketTooLarge, "stop_sending frame exceeds buffer")
	}
	off := 0
	b[off] = ftStopSending
	off++
	off += putVarint(b[off:], f.StreamID)
	off += putVarint(b[off:], f.ErrorCode)
	return off, nil
}

// --- CRYPTO ---

type CryptoFrame struct {
	Offset uint64
	Data   []byte
}

func decodeCryptoFrame(b []byte) (*CryptoFrame, int, *Error) {
	off := 1
	f := &CryptoFrame{}
	n := getVarint(b[off:], &f.Offset)
	if n == 0 {
		return nil, 0, newError(InvalidFrameData, "crypto: truncated offset")
	}
	off += n
	var length uint64
	n = getVarint(b[off:], &length)
	if n == 0 {
		return nil, 0, newError(InvalidFrameData, "crypto: truncated length")
	}
	off += n
	if uint64(len(b)-off) < length {
		return nil, 0, newError(InvalidFrameData, "crypto: truncated data")
	}
	f.Data = b[off : off+int(length)]
	off += int(length)
	return f, off, nil
}

func (f *CryptoFrame) EncodedLen() int {
	return 1 + varintLen(f.Offset) + varintLen(uint64(len(f.Data))) + len(f.Data)
}
func (f *CryptoFrame) Encode(b []byte) (int, *Error) {
	if len(b) < f.EncodedLen() {
		return 0, newError(PacketTooLarge, "crypto frame exceeds buffer")
	}
	off := 0
	b[off] = ftCrypto
	off++
	off += putVarint(b[off:], f.Offset)
	off += putVarint(b[off:], uint64(len(f.Data)))
	off += copy(b[off:], f.Data)
	return off, nil
}

// --- NEW_TOKEN ---

type NewTokenFrame struct {
	Token []byte
}

func decodeNewTokenFrame(b []byte) (*NewTokenFrame, int, *Error) {
	off := 1
	var length uint64
	n := getVarint(b[off:], &length)
	if n == 0 {
		return nil, 0, newError(InvalidFrameData, "new_token: truncated length")
	}
	off += n
	if uint64(len(b)-off) < length {
		return nil, 0, newError(InvalidFrameData, "new_token: truncated token")
	}
	f := &NewTokenFrame{Token: b[off : off+int(length)]}
	off += int(length)
	return f, off, nil
}

func (f *NewTokenFrame) EncodedLen() int {
	return 1 + varintLen(uint64(len(f.Token))) + len(f.Token)
}
func (f *NewTokenFrame) Encode(b []byte) (int, *Error) {
	if len(b) < f.EncodedLen() {
		return 0, newError(PacketTooLarge, "new_token frame exceeds buffer")
	}
	off := 0
	b[off] = ftNewToken
	off++
	off += putVarint(b[off:], uint64(len(f.Token)))
	off += copy(b[off:], f.Token)
	return off, nil
}

// --- STREAM ---

type StreamFrame struct {
	StreamID uint64
	Offset   uint64
	Data     []byte
	Fin      bool
	// HasLength preserves whether the encoder should emit an explicit
	// length (false means "runs to the end of the packet").
	HasLength bool
}

func decodeStreamFrame(b []byte) (*StreamFrame, int, *Error) {
	typ := b[0]
	hasOff := typ&0x04 != 0
	hasLen := typ&0x02 != 0
	fin := typ&0x01 != 0
	off := 1
	f := &StreamFrame{Fin: fin, HasLength: hasLen}
	n := getVarint(b[off:], &f.StreamID)
	if n == 0 {
		return nil, 0, newError(InvalidFrameData, "stream: truncated stream id")
	}
	off += n
	if hasOff {
		n = getVarint(b[off:], &f.Offset)
		if n == 0 {
			return nil, 0, newError(InvalidFrameData, "stream: truncated offset")
		}
		off += n
	}
	if hasLen {
		var length uint64
		n = getVarint(b[off:], &length)
		if n == 0 {
			return nil, 0, newError(InvalidFrameData, "stream: truncated length")
		}
		off += n
		if uint64(len(b)-off) < length {
			return nil, 0, newError(InvalidFrameData, "stream: declared length overflows packet")
		}
		f.Data = b[off : off+int(length)]
		off += int(length)
	} else {
		// LEN unset: consumes through end-of-payload.
		f.Data = b[off:]
		off = len(b)
	}
	return f, off, nil
}

func (f *StreamFrame) EncodedLen() int {
	n := 1 + varintLen(f.StreamID)
	if f.Offset != 0 {
		n += varintLen(f.Offset)
	}
	if f.HasLength {
		n += varintLen(uint64(len(f.Data)))
	}
	return n + len(f.Data)
}

func (f *StreamFrame) Encode(b []byte) (int, *Error) {
	if len(b) < f.EncodedLen() {
		return 0, newError(PacketTooLarge, "stream frame exceeds buffer")
	}
	typ := byte(ftStreamBase)
	if f.Offset != 0 {
		typ |= 0x04
	}
	if f.HasLength {
		typ |= 0x02
	}
	if f.Fin {
		typ |= 0x01
	}
	off := 0
	b[off] = typ
	off++
	off += putVarint(b[off:], f.StreamID)
	if f.Offset != 0 {
		off += putVarint(b[off:], f.Offset)
	}
	if f.HasLength {
		off += putVarint(b[off:], uint64(len(f.Data)))
	}
	off += copy(b[off:], f.Data)
	return off, nil
}

// --- MAX_DATA / MAX_STREAM_DATA ---

type MaxDataFrame struct{ MaximumData uint64 }

func decodeMaxDataFrame(b []byte) (*MaxDataFrame, int, *Error) {
	off := 1
	f := &MaxDataFrame{}
	n := getVarint(b[off:], &f.MaximumData)
	if n == 0 {
		return nil, 0, newError(InvalidFrameData, "max_data: truncated")
	}
	return f, off + n, nil
}
func (f *MaxDataFrame) EncodedLen() int { return 1 + varintLen(f.MaximumData) }
func (f *MaxDataFrame) Encode(b []byte) (int, *Error) {
	if len(b) < f.EncodedLen() {
		return 0, newError(PacketTooLarge, "max_data frame exceeds buffer")
	}
	b[0] = ftMaxData
	return 1 + putVarint(b[1:], f.MaximumData), nil
}

type MaxStreamDataFrame struct {
	StreamID    uint64
	MaximumData uint64
}

func decodeMaxStreamDataFrame(b []byte) (*MaxStreamDataFrame, int, *Error) {
	off := 1
	f := &MaxStreamDataFrame{}
	for _, v := range []*uint64{&f.StreamID, &f.MaximumData} {
		n := getVarint(b[off:], v)
		if n == 0 {
			return nil, 0, newError(InvalidFrameData, "max_stream_data: truncated")
		}
		off += n
	}
	return f, off, nil
}
func (f *MaxStreamDataFrame) EncodedLen() int {
	return 1 + varintLen(f.StreamID) + varintLen(f.MaximumData)
}
func (f *MaxStreamDataFrame) Encode(b []byte) (int, *Error) {
	if len(b) < f.EncodedLen() {
		return 0, newError(PacketTooLarge, "max_stream_data frame exceeds buffer")
	}
	off := 0
	b[off] = ftMaxStreamData
	off++
	off += putVarint(b[off:], f.StreamID)
	off += putVarint(b[off:], f.MaximumData)
	return off, nil
}

// --- MAX_STREAMS / STREAMS_BLOCKED ---

type MaxStreamsFrame struct {
	Bidi           bool
	MaximumStreams uint64
}

func decodeMaxStreamsFrame(b []byte) (*MaxStreamsFrame, int, *Error) {
	f := &MaxStreamsFrame{Bidi: b[0] == ftMaxStreamsBidi}
	off := 1
	n := getVarint(b[off:], &f.MaximumStreams)
	if n == 0 {
		return nil, 0, newError(InvalidFrameData, "max_streams: truncated")
	}
	return f, off + n, nil
}
func (f *MaxStreamsFrame) EncodedLen() int { return 1 + varintLen(f.MaximumStreams) }
func (f *MaxStreamsFrame) Encode(b []byte) (int, *Error) {
	if len(b) < f.EncodedLen() {
		return 0, newError(PacketTooLarge, "max_streams frame exceeds buffer")
	}
	if f.Bidi {
		b[0] = ftMaxStreamsBidi
	} else {
		b[0] = ftMaxStreamsUni
	}
	return 1 + putVarint(b[1:], f.MaximumStreams), nil
}

type StreamsBlockedFrame struct {
	Bidi        bool
	StreamLimit uint64
}

func decodeStreamsBlockedFrame(b []byte) (*StreamsBlockedFrame, int, *Error) {
	f := &StreamsBlockedFrame{Bidi: b[0] == ftStreamsBlockedBidi}
	off := 1
	n := getVarint(b[off:], &f.StreamLimit)
	if n == 0 {
		return nil, 0, newError(InvalidFrameData, "streams_blocked: truncated")
	}
	return f, off + n, nil
}
func (f *StreamsBlockedFrame) EncodedLen() int { return 1 + varintLen(f.StreamLimit) }
func (f *StreamsBlockedFrame) Encode(b []byte) (int, *Error) {
	if len(b) < f.EncodedLen() {
		return 0, newError(PacketTooLarge, "streams_blocked frame exceeds buffer")
	}
	if f.Bidi {
		b[0] = ftStreamsBlockedBidi
	} else {
		b[0] = ftStreamsBlockedUni
	}
	return 1 + putVarint(b[1:], f.StreamLimit), nil
}

// --- DATA_BLOCKED / STREAM_DATA_BLOCKED ---

type DataBlockedFrame struct{ DataLimit uint64 }

func decodeDataBlockedFrame(b []byte) (*DataBlockedFrame, int, *Error) {
	off := 1
	f := &DataBlockedFrame{}
	n := getVarint(b[off:], &f.DataLimit)
	if n == 0 {
		return nil, 0, newError(InvalidFrameData, "data_blocked: truncated")
	}
	return f, off + n, nil
}
func (f *DataBlockedFrame) EncodedLen() int { return 1 + varintLen(f.DataLimit) }
func (f *DataBlockedFrame) Encode(b []byte) (int, *Error) {
	if len(b) < f.EncodedLen() {
		return 0, newError(PacketTooLarge, "data_blocked frame exceeds buffer")
	}
	b[0] = ftDataBlocked
	return 1 + putVarint(b[1:], f.DataLimit), nil
}

type StreamDataBlockedFrame struct {
	StreamID  uint64
	DataLimit uint64
}

func decodeStreamDataBlockedFrame(b []byte) (*StreamDataBlockedFrame, int, *Error) {
	off := 1
	f := &StreamDataBlockedFrame{}
	for _, v := range []*uint64{&f.StreamID, &f.DataLimit} {
		n := getVarint(b[off:], v)
		if n == 0 {
			return nil, 0, newError(InvalidFrameData, "stream_data_blocked: truncated")
		}
		off += n
	}
	return f, off, nil
}
func (f *StreamDataBlockedFrame) EncodedLen() int {
	return 1 + varintLen(f.StreamID) + varintLen(f.DataLimit)
}
func (f *StreamDataBlockedFrame) Encode(b []byte) (int, *Error) {
	if len(b) < f.EncodedLen() {
		return 0, newError(PacketTooLarge, "stream_data_blocked frame exceeds buffer")
	}
	off := 0
	b[off] = ftStreamDataBlocked
	off++
	off += putVarint(b[off:], f.StreamID)
	off += putVarint(b[off:], f.DataLimit)
	return off, nil
}

// --- NEW_CONNECTION_ID / RETIRE_CONNECTION_ID ---

type NewConnectionIDFrame struct {
	SequenceNumber      uint64
	RetirePriorTo       uint64
	ConnectionID        []byte
	StatelessResetToken [16]byte
}

func decodeNewConnectionIDFrame(b []byte) (*NewConnectionIDFrame, int, *Error) {
	off := 1
	f := &NewConnectionIDFrame{}
	for _, v := range []*uint64{&f.SequenceNumber, &f.RetirePriorTo} {
		n := getVarint(b[off:], v)
		if n == 0 {
			return nil, 0, newError(InvalidFrameData, "new_connection_id: truncated")
		}
		off += n
	}
	if f.RetirePriorTo > f.SequenceNumber {
		return nil, 0, newError(InvalidFrameData, "new_connection_id: retire_prior_to exceeds sequence_number")
	}
	if len(b) < off+1 {
		return nil, 0, newError(InvalidFrameData, "new_connection_id: truncated length")
	}
	length := int(b[off])
	off++
	if length < 1 || length > MaxCIDLength {
		return nil, 0, newError(InvalidFrameData, "new_connection_id: length out of range")
	}
	if len(b) < off+length+16 {
		return nil, 0, newError(InvalidFrameData, "new_connection_id: truncated id or token")
	}
	f.ConnectionID = b[off : off+length]
	off += length
	copy(f.StatelessResetToken[:], b[off:off+16])
	off += 16
	return f, off, nil
}

func (f *NewConnectionIDFrame) EncodedLen() int {
	return 1 + varintLen(f.SequenceNumber) + varintLen(f.RetirePriorTo) + 1 + len(f.ConnectionID) + 16
}
func (f *NewConnectionIDFrame) Encode(b []byte) (int, *Error) {
	if len(b) < f.EncodedLen() {
		return 0, newError(PacketTooLarge, "new_connection_id frame exceeds buffer")
	}
	off := 0
	b[off] = ftNewConnectionID
	off++
	off += putVarint(b[off:], f.SequenceNumber)
	off += putVarint(b[off:], f.RetirePriorTo)
	b[off] = byte(len(f.ConnectionID))
	off++
	off += copy(b[off:], f.ConnectionID)
	off += copy(b[off:], f.StatelessResetToken[:])
	return off, nil
}

type RetireConnectionIDFrame struct{ SequenceNumber uint64 }

func decodeRetireConnectionIDFrame(b []byte) (*RetireConnectionIDFrame, int, *Error) {
	off := 1
	f := &RetireConnectionIDFrame{}
	n := getVarint(b[off:], &f.SequenceNumber)
	if n == 0 {
		return nil, 0, newError(InvalidFrameData, "retire_connection_id: truncated")
	}
	return f, off + n, nil
}
func (f *RetireConnectionIDFrame) EncodedLen() int { return 1 + varintLen(f.SequenceNumber) }
func (f *RetireConnectionIDFrame) Encode(b []byte) (int, *Error) {
	if len(b) < f.EncodedLen() {
		return 0, newError(PacketTooLarge, "retire_connection_id frame exceeds buffer")
	}
	b[0] = ftRetireConnectionID
	return 1 + putVarint(b[1:], f.SequenceNumber), nil
}

// --- PATH_CHALLENGE / PATH_RESPONSE ---

type PathChallengeFrame struct{ Data [8]byte }

func decodePathChallengeFrame(b []byte) (*PathChallengeFrame, int, *Error) {
	if len(b) < 9 {
		return nil, 0, newError(InvalidFrameData, "path_challenge: truncated")
	}
	f := &PathChallengeFrame{}
	copy(f.Data[:], b[1:9])
	return f, 9, nil
}
func (f *PathChallengeFrame) EncodedLen() int { return 9 }
func (f *PathChallengeFrame) Encode(b []byte) (int, *Error) {
	if len(b) < 9 {
		return 0, newError(PacketTooLarge, "path_challenge frame exceeds buffer")
	}
	b[0] = ftPathChallenge
	copy(b[1:9], f.Data[:])
	return 9, nil
}

type PathResponseFrame struct{ Data [8]byte }

func decodePathResponseFrame(b []byte) (*PathResponseFrame, int, *Error) {
	if len(b) < 9 {
		return nil, 0, newError(InvalidFrameData, "path_response: truncated")
	}
	f := &PathResponseFrame{}
	copy(f.Data[:], b[1:9])
	return f, 9, nil
}
func (f *PathResponseFrame) EncodedLen() int { return 9 }
func (f *PathResponseFrame) Encode(b []byte) (int, *Error) {
	if len(b) < 9 {
		return 0, newError(PacketTooLarge, "path_response frame exceeds buffer")
	}
	b[0] = ftPathResponse
	copy(b[1:9], f.Data[:])
	return 9, nil
}

// --- CONNECTION_CLOSE ---

// MaxReasonPhraseLength is the cap a CONNECTION_CLOSE reason is truncated
// to on serialize (spec.md §4.C).
const MaxReasonPhraseLength = 256

// MissingExtractedErrorCode is the sentinel spec.md §4.C describes for a
// legacy reason phrase with no leading "<digits>:" prefix.
const MissingExtractedErrorCode = ^uint64(0)

type ConnectionCloseFrame struct {
	Application        bool
	ErrorCode          uint64
	TriggerFrameType   uint64 // transport variant only
	ReasonPhrase       []byte
	Legacy             bool
	ExtractedErrorCode uint64 // legacy decode only; MissingExtractedErrorCode if absent
}

func decodeConnectionCloseFrame(b []byte, legacy bool) (*ConnectionCloseFrame, int, *Error) {
	app := !legacy && b[0] == ftConnectionCloseApp
	off := 1
	f := &ConnectionCloseFrame{Application: app, Legacy: legacy, ExtractedErrorCode: MissingExtractedErrorCode}
	n := getVarint(b[off:], &f.ErrorCode)
	if n == 0 {
		return nil, 0, newError(InvalidFrameData, "connection_close: truncated error code")
	}
	off += n
	if !app {
		n = getVarint(b[off:], &f.TriggerFrameType)
		if n == 0 {
			return nil, 0, newError(InvalidFrameData, "connection_close: truncated trigger frame type")
		}
		off += n
	}
	var length uint64
	n = getVarint(b[off:], &length)
	if n == 0 {
		return nil, 0, newError(InvalidFrameData, "connection_close: truncated reason length")
	}
	off += n
	if uint64(len(b)-off) < length {
		return nil, 0, newError(InvalidFrameData, "connection_close: truncated reason phrase")
	}
	f.ReasonPhrase = b[off : off+int(length)]
	off += int(length)
	if legacy {
		f.ExtractedErrorCode = extractLegacyErrorCode(f.ReasonPhrase)
	}
	return f, off, nil
}

// extractLegacyErrorCode parses a leading "<decimal-digits>:" prefix off a
// legacy reason phrase (spec.md §4.C), returning MissingExtractedErrorCode
// when absent.
func extractLegacyErrorCode(reason []byte) uint64 {
	i := 0
	for i < len(reason) && reason[i] >= '0' && reason[i] <= '9' {
		i++
	}
	if i == 0 || i >= len(reason) || reason[i] != ':' {
		return MissingExtractedErrorCode
	}
	var v uint64
	for j := 0; j < i; j++ {
		v = v*10 + uint64(reason[j]-'0')
	}
	return v
}

func (f *ConnectionCloseFrame) reason() []byte {
	if len(f.ReasonPhrase) > MaxReasonPhraseLength {
		return f.ReasonPhrase[:MaxReasonPhraseLength]
	}
	return f.ReasonPhrase
}

func (f *ConnectionCloseFrame) EncodedLen() int {
	reason := f.reason()
	n := 1 + varintLen(f.ErrorCode)
	if !f.Application {
		n += varintLen(f.TriggerFrameType)
	}
	n += varintLen(uint64(len(reason))) + len(reason)
	return n
}

func (f *ConnectionCloseFrame) Encode(b []byte) (int, *Error) {
	reason := f.reason()
	need := f.EncodedLen()
	if len(b) < need {
		return 0, newError(PacketTooLarge, "connection_close frame exceeds buffer")
	}
	off := 0
	if f.Application {
		b[off] = ftConnectionCloseApp
	} else {
		b[off] = ftConnectionCloseTransport
	}
	off++
	off += putVarint(b[off:], f.ErrorCode)
	if !f.Application {
		off += putVarint(b[off:], f.TriggerFrameType)
	}
	off += putVarint(b[off:], uint64(len(reason)))
	off += copy(b[off:], reason)
	return off, nil
}

// --- HANDSHAKE_DONE ---

type HandshakeDoneFrame struct{}

func decodeHandshakeDoneFrame(b []byte) (*HandshakeDoneFrame, int, *Error) {
	return &HandshakeDoneFrame{}, 1, nil
}
func (f *HandshakeDoneFrame) EncodedLen() int { return 1 }
func (f *HandshakeDoneFrame) Encode(b []byte) (int, *Error) {
	if len(b) < 1 {
		return 0, newError(PacketTooLarge, "handshake_done frame exceeds buffer")
	}
	b[0] = ftHandshakeDone
	return 1, nil
}

// --- MESSAGE ---

type MessageFrame struct {
	Data      []byte
	HasLength bool
}

func decodeMessageFrame(b []byte) (*MessageFrame, int, *Error) {
	hasLen := b[0] == ftMessageLen
	off := 1
	f := &MessageFrame{HasLength: hasLen}
	if hasLen {
		var length uint64
		n := getVarint(b[off:], &length)
		if n == 0 {
			return nil, 0, newError(InvalidFrameData, "message: truncated length")
		}
		off += n
		if uint64(len(b)-off) < length {
			return nil, 0, newError(InvalidFrameData, "message: truncated data")
		}
		f.Data = b[off : off+int(length)]
		off += int(length)
	} else {
		f.Data = b[off:]
		off = len(b)
	}
	return f, off, nil
}

func (f *MessageFrame) EncodedLen() int {
	n := 1
	if f.HasLength {
		n += varintLen(uint64(len(f.Data)))
	}
	return n + len(f.Data)
}
func (f *MessageFrame) Encode(b []byte) (int, *Error) {
	if len(b) < f.EncodedLen() {
		return 0, newError(PacketTooLarge, "message frame exceeds buffer")
	}
	off := 0
	if f.HasLength {
		b[off] = ftMessageLen
	} else {
		b[off] = ftMessageNoLen
	}
	off++
	if f.HasLength {
		off += putVarint(b[off:], uint64(len(f.Data)))
	}
	off += copy(b[off:], f.Data)
	return off, nil
}
