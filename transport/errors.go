package transport

import "fmt"

// ErrorCode names one of the error kinds a decoder, framer or dispatcher
// can surface. It mirrors spec.md §7.
type ErrorCode int

const (
	NoError ErrorCode = iota
	InvalidPacketHeader
	InvalidVersion
	InvalidVersionNegotiationPacket
	MissingPayload
	InvalidFrameData
	IETFQUICProtocolViolation
	DecryptionFailure
	PacketTooLarge
	HandshakeFailed
)

var errorCodeNames = map[ErrorCode]string{
	NoError:                         "NO_ERROR",
	InvalidPacketHeader:             "INVALID_PACKET_HEADER",
	InvalidVersion:                  "INVALID_VERSION",
	InvalidVersionNegotiationPacket: "INVALID_VERSION_NEGOTIATION_PACKET",
	MissingPayload:                  "MISSING_PAYLOAD",
	InvalidFrameData:                "INVALID_FRAME_DATA",
	IETFQUICProtocolViolation:       "IETF_QUIC_PROTOCOL_VIOLATION",
	DecryptionFailure:               "DECRYPTION_FAILURE",
	PacketTooLarge:                  "PACKET_TOO_LARGE",
	HandshakeFailed:                 "HANDSHAKE_FAILED",
}

func (c ErrorCode) String() string {
	if s, ok := errorCodeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Error is the (error_kind, detail) tuple every decoder and the dispatcher
// return per spec.md §7. It never wraps a panic or an assertion failure:
// callers get a value, not a stack unwind.
type Error struct {
	Code   ErrorCode
	Detail string
}

func newError(code ErrorCode, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// Is supports errors.Is(err, transport.ForCode(transport.InvalidFrameData))
// style checks by comparing codes rather than pointer identity.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// ForCode builds a sentinel *Error with an empty detail, useful for
// errors.Is comparisons in callers and tests.
func ForCode(code ErrorCode) *Error {
	return &Error{Code: code}
}
