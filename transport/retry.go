package transport

// StatelessResetTokenLength is the fixed trailer length a stateless reset
// packet ends with (spec.md §9 GLOSSARY, "Stateless reset").
const StatelessResetTokenLength = 16

// RefuseClientRetry reports the protocol violation spec.md §4.C and §8
// require for any inbound Retry packet: a server never originates a
// connection, so it must never legitimately receive one.
func RefuseClientRetry(h *PublicHeader) *Error {
	if h.IsClientInitiatedRetry() {
		return newError(InvalidPacketHeader, "Client-initiated RETRY is invalid.")
	}
	return nil
}

// StatelessResetPacket builds the fixed-format short-header datagram used
// to terminate a connection whose state has been lost: a single random-
// looking byte with the short-header bits, enough padding to resist
// trivial recognition, and the peer-chosen token as the trailing 16 bytes
// (spec.md §9 GLOSSARY). The token itself is supplied by the caller (the
// time-wait list or the session that issued it via NEW_CONNECTION_ID).
func StatelessResetPacket(b []byte, randomBytes []byte, token [StatelessResetTokenLength]byte) (int, *Error) {
	need := len(randomBytes) + StatelessResetTokenLength
	if len(randomBytes) < 1 {
		return 0, newError(PacketTooLarge, "stateless reset: need at least one byte of random padding")
	}
	if len(b) < need {
		return 0, newError(PacketTooLarge, "stateless reset packet exceeds buffer")
	}
	off := copy(b, randomBytes)
	b[0] = (b[0] &^ 0xc0) | 0x40 // force the short-header form bits
	off += copy(b[off:], token[:])
	return off, nil
}

// IsStatelessReset reports whether datagram's trailing bytes match token,
// the heuristic a receiver uses to recognize a stateless reset it cannot
// otherwise parse as a short header for a known connection.
func IsStatelessReset(datagram []byte, token [StatelessResetTokenLength]byte) bool {
	if len(datagram) < StatelessResetTokenLength {
		return false
	}
	trailer := datagram[len(datagram)-StatelessResetTokenLength:]
	for i := range token {
		if trailer[i] != token[i] {
			return false
		}
	}
	return true
}

// RetryIntegrityTagLength is the trailer length appended after the retry
// token in later QUIC versions (spec.md §4.C).
const RetryIntegrityTagLength = 16

// SplitRetryToken separates a Retry packet's token from its trailing
// integrity tag, for the server-side code that builds (never parses as
// inbound) Retry packets when issuing a new token to a client.
func SplitRetryToken(tokenAndTag []byte) (token, tag []byte, err *Error) {
	if len(tokenAndTag) < RetryIntegrityTagLength {
		return nil, nil, newError(InvalidPacketHeader, "retry: shorter than the integrity tag")
	}
	split := len(tokenAndTag) - RetryIntegrityTagLength
	return tokenAndTag[:split], tokenAndTag[split:], nil
}
