package transport

import (
	"bytes"
	"testing"
)

type recordingVisitor struct {
	NoOpVisitor
	frames   []Frame
	complete bool
}

func (v *recordingVisitor) record(f Frame) bool {
	v.frames = append(v.frames, f)
	return true
}

func (v *recordingVisitor) OnPacketComplete()                             { v.complete = true }
func (v *recordingVisitor) OnPadding(f *PaddingFrame) bool                 { return v.record(f) }
func (v *recordingVisitor) OnPing(f *PingFrame) bool                       { return v.record(f) }
func (v *recordingVisitor) OnAck(f *AckFrame) bool                         { return v.record(f) }
func (v *recordingVisitor) OnResetStream(f *ResetStreamFrame) bool         { return v.record(f) }
func (v *recordingVisitor) OnStopSending(f *StopSendingFrame) bool         { return v.record(f) }
func (v *recordingVisitor) OnCrypto(f *CryptoFrame) bool                   { return v.record(f) }
func (v *recordingVisitor) OnNewToken(f *NewTokenFrame) bool               { return v.record(f) }
func (v *recordingVisitor) OnStream(f *StreamFrame) bool                   { return v.record(f) }
func (v *recordingVisitor) OnMaxData(f *MaxDataFrame) bool                 { return v.record(f) }
func (v *recordingVisitor) OnMaxStreamData(f *MaxStreamDataFrame) bool     { return v.record(f) }
func (v *recordingVisitor) OnMaxStreams(f *MaxStreamsFrame) bool           { return v.record(f) }
func (v *recordingVisitor) OnDataBlocked(f *DataBlockedFrame) bool         { return v.record(f) }
func (v *recordingVisitor) OnStreamDataBlocked(f *StreamDataBlockedFrame) bool {
	return v.record(f)
}
func (v *recordingVisitor) OnStreamsBlocked(f *StreamsBlockedFrame) bool   { return v.record(f) }
func (v *recordingVisitor) OnNewConnectionID(f *NewConnectionIDFrame) bool { return v.record(f) }
func (v *recordingVisitor) OnRetireConnectionID(f *RetireConnectionIDFrame) bool {
	return v.record(f)
}
func (v *recordingVisitor) OnPathChallenge(f *PathChallengeFrame) bool { return v.record(f) }
func (v *recordingVisitor) OnPathResponse(f *PathResponseFrame) bool  { return v.record(f) }
func (v *recordingVisitor) OnConnectionClose(f *ConnectionCloseFrame) bool {
	return v.record(f)
}
func (v *recordingVisitor) OnHandshakeDone(f *HandshakeDoneFrame) bool { return v.record(f) }
func (v *recordingVisitor) OnMessage(f *MessageFrame) bool             { return v.record(f) }
func (v *recordingVisitor) OnStopWaiting(f *StopWaitingFrame) bool     { return v.record(f) }
func (v *recordingVisitor) OnGoAway(f *GoAwayFrame) bool               { return v.record(f) }

// roundTrip encodes f, parses the result back through the framer and
// returns the decoded frame (invariant 1, spec.md §8: encode(decode(d)) ==
// d for the identity AEAD layer).
func roundTrip(t *testing.T, f Frame, legacy bool) Frame {
	t.Helper()
	buf := make([]byte, f.EncodedLen())
	n, err := f.Encode(buf)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("encode: wrote %d, expected %d", n, len(buf))
	}
	fr := &Framer{}
	v := &recordingVisitor{}
	if perr := fr.ParseFrames(buf, legacy, v); perr != nil {
		t.Fatalf("parse: %v", perr)
	}
	if len(v.frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(v.frames))
	}
	if !v.complete {
		t.Fatal("expected OnPacketComplete")
	}
	reEncoded := make([]byte, v.frames[0].EncodedLen())
	if _, err := v.frames[0].Encode(reEncoded); err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(reEncoded, buf) {
		t.Fatalf("round trip mismatch:\n got %x\nwant %x", reEncoded, buf)
	}
	return v.frames[0]
}

func TestFrameRoundTrip(t *testing.T) {
	cases := []Frame{
		&PaddingFrame{Length: 3},
		&PingFrame{},
		&AckFrame{LargestAcked: 10, AckDelay: 4, FirstRange: 5, Ranges: []AckRange{{Gap: 1, Length: 2}}},
		&AckFrame{LargestAcked: 10, AckDelay: 4, FirstRange: 1, ECN: &ECNCounts{ECT0: 1, ECT1: 2, ECNCE: 3}},
		&ResetStreamFrame{StreamID: 4, ErrorCode: 1, FinalSize: 99},
		&StopSendingFrame{StreamID: 4, ErrorCode: 2},
		&CryptoFrame{Offset: 16, Data: []byte("clienthello-fragment")},
		&NewTokenFrame{Token: []byte("token-bytes")},
		&StreamFrame{StreamID: 5, Offset: 7, Data: []byte("payload"), Fin: true, HasLength: true},
		&StreamFrame{StreamID: 5, Data: []byte("payload"), HasLength: true},
		&MaxDataFrame{MaximumData: 65536},
		&MaxStreamDataFrame{StreamID: 5, MaximumData: 1024},
		&MaxStreamsFrame{Bidi: true, MaximumStreams: 100},
		&MaxStreamsFrame{Bidi: false, MaximumStreams: 100},
		&DataBlockedFrame{DataLimit: 1 << 20},
		&StreamDataBlockedFrame{StreamID: 5, DataLimit: 1 << 10},
		&StreamsBlockedFrame{Bidi: true, StreamLimit: 8},
		&NewConnectionIDFrame{SequenceNumber: 2, RetirePriorTo: 1, ConnectionID: []byte{1, 2, 3, 4}},
		&RetireConnectionIDFrame{SequenceNumber: 1},
		&PathChallengeFrame{Data: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}},
		&PathResponseFrame{Data: [8]byte{8, 7, 6, 5, 4, 3, 2, 1}},
		&ConnectionCloseFrame{ErrorCode: 10, TriggerFrameType: 6, ReasonPhrase: []byte("boom")},
		&ConnectionCloseFrame{Application: true, ErrorCode: 3, ReasonPhrase: []byte("app boom")},
		&HandshakeDoneFrame{},
		&MessageFrame{Data: []byte("hello"), HasLength: true},
	}
	for _, f := range cases {
		roundTrip(t, f, false)
	}
}

func TestFrameRoundTripLegacy(t *testing.T) {
	cases := []Frame{
		&AckFrame{Legacy: true, LargestAcked: 10, AckDelay: 4, FirstRange: 5, Ranges: []AckRange{{Gap: 1, Length: 2}}},
		&StreamFrame{StreamID: 5, Offset: 7, Data: []byte("payload"), Fin: true, HasLength: true},
		&StopWaitingFrame{LeastUnacked: 4},
		&GoAwayFrame{ErrorCode: 1, LastGoodStream: 9, ReasonPhrase: []byte("shutting down")},
		&ConnectionCloseFrame{Legacy: true, ErrorCode: 2, ReasonPhrase: []byte("7:timeout")},
	}
	for _, f := range cases {
		if sf, ok := f.(*StreamFrame); ok {
			buf := make([]byte, sf.EncodedLen())
			sf.Encode(buf)
			buf[0] |= ftLegacyStreamMarker
			fr := &Framer{}
			v := &recordingVisitor{}
			if err := fr.ParseFrames(buf, true, v); err != nil {
				t.Fatalf("parse legacy stream: %v", err)
			}
			continue
		}
		roundTrip(t, f, true)
	}
}

func TestAckFrameFirstBlockExceedsLargestAcked(t *testing.T) {
	buf := make([]byte, 0, 16)
	buf = append(buf, ftAck)
	buf = appendVarintForTest(buf, 5)  // largest acked
	buf = appendVarintForTest(buf, 0)  // ack delay
	buf = appendVarintForTest(buf, 0)  // range count
	buf = appendVarintForTest(buf, 10) // first block (count-1 => 11, exceeds 5+1)
	fr := &Framer{}
	v := &recordingVisitor{}
	err := fr.ParseFrames(buf, false, v)
	if err == nil || err.Code != InvalidFrameData {
		t.Fatalf("expected InvalidFrameData, got %v", err)
	}
}

func TestAckFrameLegacyZeroFirstBlockIsError(t *testing.T) {
	buf := make([]byte, 0, 16)
	buf = append(buf, ftLegacyAckBase)
	buf = appendVarintForTest(buf, 5)
	buf = appendVarintForTest(buf, 0)
	buf = appendVarintForTest(buf, 0)
	buf = appendVarintForTest(buf, 0)
	fr := &Framer{}
	v := &recordingVisitor{}
	err := fr.ParseFrames(buf, true, v)
	if err == nil || err.Code != InvalidFrameData {
		t.Fatalf("expected InvalidFrameData for legacy zero first block, got %v", err)
	}
}

func TestNewConnectionIDRetirePriorToExceedsSequence(t *testing.T) {
	f := &NewConnectionIDFrame{SequenceNumber: 1, RetirePriorTo: 2, ConnectionID: []byte{1, 2, 3, 4}}
	buf := make([]byte, f.EncodedLen())
	f.Encode(buf)
	fr := &Framer{}
	v := &recordingVisitor{}
	err := fr.ParseFrames(buf, false, v)
	if err == nil || err.Code != InvalidFrameData {
		t.Fatalf("expected InvalidFrameData, got %v", err)
	}
}

func TestUnknownFrameTypeIsIllegal(t *testing.T) {
	buf := []byte{0x21} // unassigned IETF frame type
	fr := &Framer{}
	v := &recordingVisitor{}
	err := fr.ParseFrames(buf, false, v)
	if err == nil || err.Code != InvalidFrameData || err.Detail != "Illegal frame type." {
		t.Fatalf("expected Illegal frame type error, got %v", err)
	}
}

func TestNonMinimalFrameTypeIsProtocolViolation(t *testing.T) {
	buf := []byte{0x40, 0x01} // two-byte encoding of value 1 (PING), not minimal
	fr := &Framer{}
	v := &recordingVisitor{}
	err := fr.ParseFrames(buf, false, v)
	if err == nil || err.Code != IETFQUICProtocolViolation {
		t.Fatalf("expected IETFQUICProtocolViolation, got %v", err)
	}
}

func TestTruncatedFrameYieldsError(t *testing.T) {
	f := &ResetStreamFrame{StreamID: 1, ErrorCode: 2, FinalSize: 3}
	buf := make([]byte, f.EncodedLen())
	f.Encode(buf)
	fr := &Framer{}
	v := &recordingVisitor{}
	err := fr.ParseFrames(buf[:len(buf)-1], false, v)
	if err == nil {
		t.Fatal("expected truncation error")
	}
}

func TestAckFrameTruncateDropsOldestRanges(t *testing.T) {
	f := &AckFrame{
		LargestAcked: 100,
		AckDelay:     1,
		FirstRange:   1,
		Ranges: []AckRange{
			{Gap: 1, Length: 1},
			{Gap: 1, Length: 1},
			{Gap: 1, Length: 1},
		},
	}
	full := f.EncodedLen()
	if !f.Truncate(full - 1) {
		t.Fatalf("expected truncation to succeed")
	}
	if len(f.Ranges) != 2 {
		t.Fatalf("expected one range dropped, got %d remaining", len(f.Ranges))
	}
}

func appendVarintForTest(b []byte, v uint64) []byte {
	tmp := make([]byte, 8)
	n := putVarint(tmp, v)
	return append(b, tmp[:n]...)
}
