package transport

import "testing"

func TestPacketNumberRoundTrip4Byte(t *testing.T) {
	const wireLen = 4
	for _, n := range []uint64{0, 1, 1000, 1 << 20, 1 << 33} {
		last := int64(n) - 1
		buf := make([]byte, wireLen)
		encodePacketNumber(buf, n, wireLen)
		truncated, consumed := decodePacketNumberWire(buf, wireLen)
		if consumed != wireLen {
			t.Fatalf("expected to consume %d bytes, got %d", wireLen, consumed)
		}
		got := DecodePacketNumber(truncated, wireLen*8, last)
		if got != n {
			t.Fatalf("n=%d last=%d: got %d", n, last, got)
		}
	}
}

func TestPacketNumberEpochBoundary(t *testing.T) {
	const wireBits = 32
	win := uint64(1) << wireBits
	last := int64(win - 1) // just below the epoch boundary
	truncated := uint64(0) // wraps to the next epoch
	got := DecodePacketNumber(truncated, wireBits, last)
	want := win
	if got != want {
		t.Fatalf("expected wraparound to %d, got %d", want, got)
	}
}

func TestPacketNumberNearZero(t *testing.T) {
	last := int64(-1)
	got := DecodePacketNumber(5, 8, last)
	if got != 5 {
		t.Fatalf("first packet in a space should decode verbatim, got %d", got)
	}
}
