package transport

// StopWaitingFrame and GoAwayFrame exist only in the legacy Google-QUIC
// dialect (spec.md §6); the IETF dialect replaced STOP_WAITING with
// implicit loss detection and GOAWAY with connection migration plus
// NEW_CONNECTION_ID/RETIRE_CONNECTION_ID.

// StopWaitingFrame tells the peer the sender will not retransmit packets
// below LeastUnacked.
type StopWaitingFrame struct {
	LeastUnacked uint64
}

func decodeStopWaitingFrame(b []byte) (*StopWaitingFrame, int, *Error) {
	off := 1
	f := &StopWaitingFrame{}
	n := getVarint(b[off:], &f.LeastUnacked)
	if n == 0 {
		return nil, 0, newError(InvalidFrameData, "stop_waiting: truncated")
	}
	return f, off + n, nil
}

func (f *StopWaitingFrame) EncodedLen() int { return 1 + varintLen(f.LeastUnacked) }
func (f *StopWaitingFrame) Encode(b []byte) (int, *Error) {
	if len(b) < f.EncodedLen() {
		return 0, newError(PacketTooLarge, "stop_waiting frame exceeds buffer")
	}
	b[0] = ftLegacyStopWaiting
	return 1 + putVarint(b[1:], f.LeastUnacked), nil
}

// GoAwayFrame announces a connection-level shutdown, carrying an error
// code, the last good stream ID the sender created, and a reason phrase.
type GoAwayFrame struct {
	ErrorCode      uint64
	LastGoodStream uint64
	ReasonPhrase   []byte
}

func decodeGoAwayFrame(b []byte) (*GoAwayFrame, int, *Error) {
	off := 1
	f := &GoAwayFrame{}
	for _, v := range []*uint64{&f.ErrorCode, &f.LastGoodStream} {
		n := getVarint(b[off:], v)
		if n == 0 {
			return nil, 0, newError(InvalidFrameData, "goaway: truncated")
		}
		off += n
	}
	var length uint64
	n := getVarint(b[off:], &length)
	if n == 0 {
		return nil, 0, newError(InvalidFrameData, "goaway: truncated reason length")
	}
	off += n
	if uint64(len(b)-off) < length {
		return nil, 0, newError(InvalidFrameData, "goaway: truncated reason phrase")
	}
	f.ReasonPhrase = b[off : off+int(length)]
	off += int(length)
	return f, off, nil
}

func (f *GoAwayFrame) reason() []byte {
	if len(f.ReasonPhrase) > MaxReasonPhraseLength {
		return f.ReasonPhrase[:MaxReasonPhraseLength]
	}
	return f.ReasonPhrase
}

func (f *GoAwayFrame) EncodedLen() int {
	reason := f.reason()
	return 1 + varintLen(f.ErrorCode) + varintLen(f.LastGoodStream) + varintLen(uint64(len(reason))) + len(reason)
}

func (f *GoAwayFrame) Encode(b []byte) (int, *Error) {
	reason := f.reason()
	if len(b) < f.EncodedLen() {
		return 0, newError(PacketTooLarge, "goaway frame exceeds buffer")
	}
	off := 0
	b[off] = ftLegacyGoAway
	off++
	off += putVarint(b[off:], f.ErrorCode)
	off += putVarint(b[off:], f.LastGoodStream)
	off += putVarint(b[off:], uint64(len(reason)))
	off += copy(b[off:], reason)
	return off, nil
}
