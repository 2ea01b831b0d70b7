package chlo

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quicrelay/qdispatch/transport"
)

var initialHeader = &transport.PublicHeader{
	Form:     transport.FormLong,
	LongType: transport.LongTypeInitial,
}

func encodeCryptoPayload(t *testing.T, offset uint64, data []byte) []byte {
	t.Helper()
	f := &transport.CryptoFrame{Offset: offset, Data: data}
	b := make([]byte, f.EncodedLen())
	n, err := f.Encode(b)
	require.NoError(t, err)
	return b[:n]
}

func TestExtractorSinglePacketChlo(t *testing.T) {
	msg := buildClientHello(t, "example.com", []string{"h3"})
	e := NewExtractor(false)

	payload := encodeCryptoPayload(t, 0, msg)
	require.Nil(t, e.Ingest(transport.Version1, initialHeader, payload))
	require.True(t, e.HasParsedFullChlo())
	require.Equal(t, StateParsedFullSinglePacketChlo, e.State())

	chlo := e.Chlo()
	require.NotNil(t, chlo)
	require.Equal(t, "example.com", chlo.ServerName)
	require.Equal(t, []string{"h3"}, chlo.ALPN)
}

func TestExtractorMultiPacketReordered(t *testing.T) {
	msg := buildClientHello(t, "example.com", []string{"h3"})
	split := len(msg) / 2
	first := msg[:split]
	second := msg[split:]

	e := NewExtractor(false)

	// Deliver the second fragment first: the reassembler has nothing
	// contiguous from offset zero yet, so no chlo should parse.
	require.Nil(t, e.Ingest(transport.Version1, initialHeader, encodeCryptoPayload(t, uint64(split), second)))
	require.False(t, e.HasParsedFullChlo())
	require.Equal(t, StateParsedPartialChloFragment, e.State())

	// Deliver the first fragment: now the reassembler can drain the whole
	// message contiguously and the chlo should complete.
	require.Nil(t, e.Ingest(transport.Version1, initialHeader, encodeCryptoPayload(t, 0, first)))
	require.True(t, e.HasParsedFullChlo())
	require.Equal(t, StateParsedFullMultiPacketChlo, e.State())
	require.Equal(t, "example.com", e.Chlo().ServerName)
}

func TestExtractorChloLessFragmentLeavesPartialState(t *testing.T) {
	e := NewExtractor(false)
	payload := encodeCryptoPayload(t, 0, []byte{0x01, 0x00, 0x00})
	require.Nil(t, e.Ingest(transport.Version1, initialHeader, payload))
	require.False(t, e.HasParsedFullChlo())
	require.Equal(t, StateParsedPartialChloFragment, e.State())
}

// TestExtractorMoveAssignmentEquivalent exercises the "move assignment is
// supported" requirement: a struct copy taken mid-reassembly can continue
// the work on its own, exactly as if it had been the original.
func TestExtractorMoveAssignmentEquivalent(t *testing.T) {
	msg := buildClientHello(t, "example.com", []string{"h3"})
	split := len(msg) / 2
	first := msg[:split]
	second := msg[split:]

	e1 := NewExtractor(false)
	require.Nil(t, e1.Ingest(transport.Version1, initialHeader, encodeCryptoPayload(t, 0, first)))

	e2 := *e1 // move-assignment equivalent: e2 now owns the in-flight state

	require.Nil(t, e2.Ingest(transport.Version1, initialHeader, encodeCryptoPayload(t, uint64(split), second)))
	require.True(t, e2.HasParsedFullChlo())
	require.Equal(t, "example.com", e2.Chlo().ServerName)
}
