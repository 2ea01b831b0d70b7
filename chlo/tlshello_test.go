package chlo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// buildClientHello constructs a minimal but structurally valid TLS 1.3
// ClientHello handshake message (no record layer, matching what QUIC's
// crypto stream carries) with the given SNI and ALPN list.
func buildClientHello(t *testing.T, serverName string, alpn []string) []byte {
	t.Helper()
	var exts []byte

	if serverName != "" {
		name := []byte(serverName)
		var nameList []byte
		nameList = append(nameList, 0) // host_name
		nameList = appendUint16LengthPrefixed(nameList, name)
		var body []byte
		body = appendUint16LengthPrefixed(body, nameList)
		exts = appendExtension(exts, extServerName, body)
	}
	if len(alpn) > 0 {
		var list []byte
		for _, p := range alpn {
			list = appendUint8LengthPrefixed(list, []byte(p))
		}
		var body []byte
		body = appendUint16LengthPrefixed(body, list)
		exts = appendExtension(exts, extALPN, body)
	}
	// pre_shared_key presence only, empty body is fine for this extractor.
	exts = appendExtension(exts, extPreSharedKey, nil)

	var body []byte
	body = append(body, 0x03, 0x03)                             // legacy_version
	body = append(body, make([]byte, 32)...)                    // random
	body = appendUint8LengthPrefixed(body, nil)                 // session_id
	body = appendUint16LengthPrefixed(body, []byte{0x13, 0x01}) // cipher_suites
	body = appendUint8LengthPrefixed(body, []byte{0x00})        // compression_methods
	body = appendUint16LengthPrefixed(body, exts)

	msg := make([]byte, 4+len(body))
	msg[0] = handshakeTypeClientHello
	msg[1] = byte(len(body) >> 16)
	msg[2] = byte(len(body) >> 8)
	msg[3] = byte(len(body))
	copy(msg[4:], body)
	return msg
}

func appendExtension(b []byte, typ uint16, data []byte) []byte {
	b = append(b, byte(typ>>8), byte(typ))
	b = appendUint16LengthPrefixed(b, data)
	return b
}

func appendUint8LengthPrefixed(b []byte, data []byte) []byte {
	b = append(b, byte(len(data)))
	return append(b, data...)
}

func appendUint16LengthPrefixed(b []byte, data []byte) []byte {
	b = append(b, byte(len(data)>>8), byte(len(data)))
	return append(b, data...)
}

func TestParseClientHelloExtractsFields(t *testing.T) {
	msg := buildClientHello(t, "example.com", []string{"h3"})
	ch, complete, err := parseClientHello(msg)
	require.NoError(t, err)
	require.True(t, complete)
	require.Equal(t, "example.com", ch.ServerName)
	require.Equal(t, []string{"h3"}, ch.ALPN)
	require.True(t, ch.ResumptionAttempted)
	require.Equal(t, msg, ch.Raw)
}

func TestParseClientHelloIncomplete(t *testing.T) {
	msg := buildClientHello(t, "example.com", []string{"h3"})
	_, complete, err := parseClientHello(msg[:len(msg)-5])
	require.NoError(t, err)
	require.False(t, complete)
}

func TestParseClientHelloWrongHandshakeType(t *testing.T) {
	msg := buildClientHello(t, "example.com", nil)
	msg[0] = 2 // ServerHello
	_, _, err := parseClientHello(msg)
	require.Error(t, err)
}
