package transport

import "testing"

func TestReplaceServerConnectionIDIdempotent(t *testing.T) {
	ids := [][]byte{
		{1, 2, 3},
		{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		{},
	}
	for _, id := range ids {
		for _, length := range []int{4, 8, 18} {
			first := ReplaceServerConnectionID(id, Version1, length)
			if len(first) != length {
				t.Fatalf("expected length %d, got %d", length, len(first))
			}
			second := ReplaceServerConnectionID(first, Version1, length)
			if string(first) != string(second) {
				t.Fatalf("replace(replace(id,v),v) != replace(id,v): %x vs %x", second, first)
			}
		}
	}
}

func TestReplaceServerConnectionIDNoOpWhenLengthMatches(t *testing.T) {
	id := []byte{1, 2, 3, 4}
	out := ReplaceServerConnectionID(id, Version1, len(id))
	if &out[0] != &id[0] {
		t.Fatalf("expected identity passthrough when length already matches")
	}
}

func TestCIDNibblePackedRoundTrip(t *testing.T) {
	dcid := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	scid := []byte{9, 8, 7, 6}
	buf := make([]byte, 32)
	n, err := encodeCIDNibblePacked(buf, dcid, scid)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	gotD, gotS, consumed, derr := decodeCIDNibblePacked(buf[:n])
	if derr != nil {
		t.Fatalf("decode: %v", derr)
	}
	if consumed != n {
		t.Fatalf("consumed %d, expected %d", consumed, n)
	}
	if string(gotD) != string(dcid) || string(gotS) != string(scid) {
		t.Fatalf("cid mismatch: %x/%x vs %x/%x", gotD, gotS, dcid, scid)
	}
}

func TestCIDLengthPrefixedRoundTrip(t *testing.T) {
	cid := []byte{1, 2, 3, 4, 5}
	buf := make([]byte, 32)
	n, err := encodeCIDLengthPrefixed(buf, cid)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, consumed, derr := decodeCIDLengthPrefixed(buf[:n])
	if derr != nil {
		t.Fatalf("decode: %v", derr)
	}
	if consumed != n || string(got) != string(cid) {
		t.Fatalf("round trip mismatch")
	}
}
