package chlo

import "encoding/binary"

// TLS extension numbers this extractor inspects (RFC 8446 §4.2, RFC 8879
// §3 for compress_certificate). QUIC carries the bare TLS 1.3 handshake
// message in its crypto stream, with no record layer wrapping it
// (tls_chlo_extractor.cc reads these via BoringSSL's early-callback
// extension accessors; this package parses the wire bytes directly since
// no pack library exposes a standalone pre-handshake ClientHello parser).
const (
	extServerName          = 0
	extSupportedGroups     = 10
	extALPN                = 16
	extCompressCertificate = 27
	extPreSharedKey        = 41
	extEarlyData           = 42
)

const handshakeTypeClientHello = 1

// ClientHello holds the fields spec.md §4.D requires the extractor to
// record on success.
type ClientHello struct {
	ServerName           string
	ALPN                 []string
	SupportedGroups      []uint16
	CertCompressionAlgos []uint16
	ResumptionAttempted  bool
	EarlyDataAttempted   bool
	Raw                  []byte
}

// parseClientHello attempts to parse a complete TLS 1.3 ClientHello
// handshake message from the front of data. complete is false when data
// doesn't yet contain the full declared length (the caller should wait for
// more CRYPTO bytes); err is non-nil only for a structurally malformed
// message, never for "not enough bytes yet".
func parseClientHello(data []byte) (ch *ClientHello, complete bool, err error) {
	if len(data) < 4 {
		return nil, false, nil
	}
	if data[0] != handshakeTypeClientHello {
		return nil, false, errNotClientHello
	}
	length := int(data[1])<<16 | int(data[2])<<8 | int(data[3])
	if len(data) < 4+length {
		return nil, false, nil
	}
	body := data[4 : 4+length]
	r := &byteReader{b: body}

	if !r.skip(2) { // legacy_version
		return nil, true, errTruncated
	}
	if !r.skip(32) { // random
		return nil, true, errTruncated
	}
	sessionID, ok := r.readUint8LengthPrefixed()
	if !ok {
		return nil, true, errTruncated
	}
	_ = sessionID
	if !r.skipUint16LengthPrefixed() { // cipher_suites
		return nil, true, errTruncated
	}
	if !r.skipUint8LengthPrefixed() { // compression_methods
		return nil, true, errTruncated
	}

	ch = &ClientHello{Raw: append([]byte(nil), data[:4+length]...)}

	extBlock, ok := r.readUint16LengthPrefixed()
	if !ok {
		// Extensions are optional in the grammar, but TLS 1.3 requires
		// several mandatory ones; absence just yields an empty ClientHello.
		return ch, true, nil
	}
	er := &byteReader{b: extBlock}
	for !er.done() {
		extType, ok := er.readUint16()
		if !ok {
			return nil, true, errTruncated
		}
		extData, ok := er.readUint16LengthPrefixed()
		if !ok {
			return nil, true, errTruncated
		}
		switch extType {
		case extServerName:
			ch.ServerName = parseServerNameExtension(extData)
		case extSupportedGroups:
			ch.SupportedGroups = parseUint16List(extData)
		case extALPN:
			ch.ALPN = parseALPNExtension(extData)
		case extCompressCertificate:
			ch.CertCompressionAlgos = parseCertCompressionExtension(extData)
		case extPreSharedKey:
			ch.ResumptionAttempted = true
		case extEarlyData:
			ch.EarlyDataAttempted = true
		}
	}
	return ch, true, nil
}

func parseServerNameExtension(data []byte) string {
	r := &byteReader{b: data}
	list, ok := r.readUint16LengthPrefixed()
	if !ok {
		return ""
	}
	lr := &byteReader{b: list}
	for !lr.done() {
		nameType, ok := lr.readUint8()
		if !ok {
			return ""
		}
		name, ok := lr.readUint16LengthPrefixed()
		if !ok {
			return ""
		}
		if nameType == 0 { // host_name
			return string(name)
		}
	}
	return ""
}

func parseALPNExtension(data []byte) []string {
	r := &byteReader{b: data}
	list, ok := r.readUint16LengthPrefixed()
	if !ok {
		return nil
	}
	lr := &byteReader{b: list}
	var out []string
	for !lr.done() {
		proto, ok := lr.readUint8LengthPrefixed()
		if !ok {
			return out
		}
		out = append(out, string(proto))
	}
	return out
}

func parseUint16List(data []byte) []uint16 {
	r := &byteReader{b: data}
	list, ok := r.readUint16LengthPrefixed()
	if !ok {
		return nil
	}
	var out []uint16
	lr := &byteReader{b: list}
	for !lr.done() {
		v, ok := lr.readUint16()
		if !ok {
			break
		}
		out = append(out, v)
	}
	return out
}

func parseCertCompressionExtension(data []byte) []uint16 {
	r := &byteReader{b: data}
	list, ok := r.readUint8LengthPrefixed()
	if !ok || len(list) == 0 || len(list)%2 != 0 {
		return nil
	}
	var out []uint16
	for i := 0; i+1 < len(list); i += 2 {
		out = append(out, binary.BigEndian.Uint16(list[i:i+2]))
	}
	return out
}

// byteReader is a minimal cursor over a TLS-structured byte slice; kept
// local to this file rather than reaching for a general binary-parsing
// library, since the only shapes it needs are TLS's uint8/uint16 length
// prefixes.
type byteReader struct {
	b   []byte
	off int
}

func (r *byteReader) done() bool { return r.off >= len(r.b) }

func (r *byteReader) skip(n int) bool {
	if len(r.b)-r.off < n {
		return false
	}
	r.off += n
	return true
}

func (r *byteReader) readUint8() (uint8, bool) {
	if len(r.b)-r.off < 1 {
		return 0, false
	}
	v := r.b[r.off]
	r.off++
	return v, true
}

func (r *byteReader) readUint16() (uint16, bool) {
	if len(r.b)-r.off < 2 {
		return 0, false
	}
	v := binary.BigEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v, true
}

func (r *byteReader) readUint8LengthPrefixed() ([]byte, bool) {
	n, ok := r.readUint8()
	if !ok || len(r.b)-r.off < int(n) {
		return nil, false
	}
	v := r.b[r.off : r.off+int(n)]
	r.off += int(n)
	return v, true
}

func (r *byteReader) readUint16LengthPrefixed() ([]byte, bool) {
	n, ok := r.readUint16()
	if !ok || len(r.b)-r.off < int(n) {
		return nil, false
	}
	v := r.b[r.off : r.off+int(n)]
	r.off += int(n)
	return v, true
}

func (r *byteReader) skipUint8LengthPrefixed() bool {
	_, ok := r.readUint8LengthPrefixed()
	return ok
}

func (r *byteReader) skipUint16LengthPrefixed() bool {
	_, ok := r.readUint16LengthPrefixed()
	return ok
}

type parseError string

func (e parseError) Error() string { return string(e) }

const (
	errNotClientHello = parseError("not a ClientHello handshake message")
	errTruncated      = parseError("truncated ClientHello")
)
