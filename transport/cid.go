package transport

import "github.com/google/uuid"

// replacementCIDNamespace seeds the deterministic UUIDv5 derivation below;
// any fixed value works as long as it never changes, since only relative
// stability (same input always yields the same output) matters.
var replacementCIDNamespace = uuid.MustParse("6f6e7175-6963-5f64-6973-70617463685f")

// MaxCIDLength is the largest connection ID this codec accepts (spec.md §3).
const MaxCIDLength = 20

// MinInitialServerCIDLength is the minimum destination connection ID length
// an Initial packet's short-header sibling may carry unless the dispatcher
// was configured with AllowShortInitialServerConnectionIDs.
const MinInitialServerCIDLength = 8

// Dialect picks one of the three wire formats spec.md's GLOSSARY names.
type Dialect int

const (
	DialectLegacyGoogleQUIC Dialect = iota
	DialectIETF
	DialectIETFLengthPrefixed
)

// decodeCIDNibblePacked reads the legacy long-header layout: one byte whose
// high nibble is dcil and low nibble is scil, each meaning length v+3 when
// v > 0 and 0 when v == 0, followed by the destination then source IDs.
func decodeCIDNibblePacked(b []byte) (dcid, scid []byte, n int, err *Error) {
	if len(b) < 1 {
		return nil, nil, 0, newError(InvalidPacketHeader, "nibble-packed cid: truncated length byte")
	}
	dcil := nibbleLength(b[0] >> 4)
	scil := nibbleLength(b[0] & 0x0f)
	off := 1
	if len(b) < off+int(dcil)+int(scil) {
		return nil, nil, 0, newError(InvalidPacketHeader, "nibble-packed cid: truncated ids")
	}
	dcid = b[off : off+int(dcil)]
	off += int(dcil)
	scid = b[off : off+int(scil)]
	off += int(scil)
	return dcid, scid, off, nil
}

func nibbleLength(v byte) byte {
	if v == 0 {
		return 0
	}
	return v + 3
}

// encodeCIDNibblePacked is the inverse of decodeCIDNibblePacked.
func encodeCIDNibblePacked(b []byte, dcid, scid []byte) (int, *Error) {
	dcil, err := nibbleValue(len(dcid))
	if err != nil {
		return 0, err
	}
	scil, err := nibbleValue(len(scid))
	if err != nil {
		return 0, err
	}
	need := 1 + len(dcid) + len(scid)
	if len(b) < need {
		return 0, newError(InvalidPacketHeader, "nibble-packed cid: buffer too small")
	}
	b[0] = dcil<<4 | scil
	off := 1
	off += copy(b[off:], dcid)
	off += copy(b[off:], scid)
	return off, nil
}

func nibbleValue(length int) (byte, *Error) {
	if length == 0 {
		return 0, nil
	}
	if length < 4 || length > 18 {
		return 0, newError(InvalidPacketHeader, "cid length not representable as a nibble")
	}
	return byte(length - 3), nil
}

// decodeCIDLengthPrefixed reads a single length byte (0-20) followed by
// that many ID bytes.
func decodeCIDLengthPrefixed(b []byte) (cid []byte, n int, err *Error) {
	if len(b) < 1 {
		return nil, 0, newError(InvalidPacketHeader, "length-prefixed cid: truncated length byte")
	}
	l := int(b[0])
	if l > MaxCIDLength {
		return nil, 0, newError(InvalidPacketHeader, "length-prefixed cid: length exceeds 20")
	}
	if len(b) < 1+l {
		return nil, 0, newError(InvalidPacketHeader, "length-prefixed cid: truncated id")
	}
	return b[1 : 1+l], 1 + l, nil
}

func encodeCIDLengthPrefixed(b []byte, cid []byte) (int, *Error) {
	if len(cid) > MaxCIDLength {
		return 0, newError(InvalidPacketHeader, "length-prefixed cid: length exceeds 20")
	}
	if len(b) < 1+len(cid) {
		return 0, newError(InvalidPacketHeader, "length-prefixed cid: buffer too small")
	}
	b[0] = byte(len(cid))
	return 1 + copy(b[1:], cid), nil
}

// ReplaceServerConnectionID maps an incoming server connection ID whose
// length differs from expectedLen to a canonical ID of length expectedLen.
// It is a pure function of (id, version, expectedLen): calling it twice on
// the same input, or calling it on its own output, yields the same result
// (spec.md §3's idempotence invariant, tested quantitatively in §8.3).
func ReplaceServerConnectionID(id []byte, version uint32, expectedLen int) []byte {
	if len(id) == expectedLen {
		return id
	}
	if expectedLen <= 8 {
		return replaceShortCID(id, version, expectedLen)
	}
	return replaceLongCID(id, version, expectedLen)
}

// replaceShortCID and replaceLongCID are both derived the same way (a
// version-salted UUIDv5 (SHA-1) digest of the input, truncated or repeated
// to the target length) so that idempotence holds regardless of which branch a
// given expectedLen takes; they are split per spec.md's wording that the
// two cases are version-specific functions, in case a future version needs
// a different derivation.
func replaceShortCID(id []byte, version uint32, length int) []byte {
	return deriveCID(id, version, length)
}

func replaceLongCID(id []byte, version uint32, length int) []byte {
	return deriveCID(id, version, length)
}

// deriveCID produces a deterministic replacement ID: the same (id,
// version) pair always yields the same UUIDv5 digest, which is exactly
// the idempotence ReplaceServerConnectionID needs, and repeating the
// digest fills any requested length.
func deriveCID(id []byte, version uint32, length int) []byte {
	name := make([]byte, 4+len(id))
	name[0] = byte(version >> 24)
	name[1] = byte(version >> 16)
	name[2] = byte(version >> 8)
	name[3] = byte(version)
	copy(name[4:], id)
	sum := uuid.NewSHA1(replacementCIDNamespace, name)
	out := make([]byte, length)
	for i := range out {
		out[i] = sum[i%len(sum)]
	}
	return out
}
