package idgen

import "testing"

func TestContentHashDeterministic(t *testing.T) {
	a := ContentHash(1000, "alice", 1700000000000, "hello there", "signal", "msg-1")
	b := ContentHash(1000, "alice", 1700000000000, "hello there", "signal", "msg-1")
	if a != b {
		t.Fatalf("expected identical hashes, got %q and %q", a, b)
	}
	if len(a) != MessageIDLength {
		t.Fatalf("expected length %d, got %d (%q)", MessageIDLength, len(a), a)
	}
}

func TestContentHashDiffersOnAnyField(t *testing.T) {
	base := ContentHash(1000, "alice", 1700000000000, "hello there", "signal", "msg-1")

	variants := []string{
		ContentHash(1001, "alice", 1700000000000, "hello there", "signal", "msg-1"),
		ContentHash(1000, "bob", 1700000000000, "hello there", "signal", "msg-1"),
		ContentHash(1000, "alice", 1700000000001, "hello there", "signal", "msg-1"),
		ContentHash(1000, "alice", 1700000000000, "hello there!", "signal", "msg-1"),
		ContentHash(1000, "alice", 1700000000000, "hello there", "whatsapp", "msg-1"),
		ContentHash(1000, "alice", 1700000000000, "hello there", "signal", "msg-2"),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d unexpectedly matched base hash", i)
		}
	}
}

func TestEncodeBase36Roundtripish(t *testing.T) {
	out := EncodeBase36([]byte{0xff, 0xff}, 4)
	if len(out) != 4 {
		t.Fatalf("expected length 4, got %d (%q)", len(out), out)
	}
}

func TestEncodeBase36ZeroPads(t *testing.T) {
	out := EncodeBase36([]byte{0x00}, 5)
	if out != "00000" {
		t.Fatalf("expected zero-padded output, got %q", out)
	}
}

func TestHashPrefixDeterministicAndShort(t *testing.T) {
	a := HashPrefix("<a@x>")
	b := HashPrefix("<a@x>")
	if a != b {
		t.Fatalf("expected deterministic output, got %q vs %q", a, b)
	}
	if len(a) != MessageIDLength {
		t.Fatalf("expected length %d, got %d", MessageIDLength, len(a))
	}
	if HashPrefix("<b@x>") == a {
		t.Fatal("expected different roots to hash differently")
	}
}
