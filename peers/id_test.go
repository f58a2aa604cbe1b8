package peers

import "testing"

func TestIDRoundTrip(t *testing.T) {
	id, err := NewID("10.0.0.7", 7001)
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}

	buf := id.Encode()
	if len(buf) != IDSize {
		t.Fatalf("expected %d byte encoding, got %d", IDSize, len(buf))
	}

	got, err := DecodeID(buf[:])
	if err != nil {
		t.Fatalf("DecodeID: %v", err)
	}
	if got != id {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, id)
	}
}

func TestDecodeIDShortBuffer(t *testing.T) {
	if _, err := DecodeID([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error decoding short buffer")
	}
}

func TestIDString(t *testing.T) {
	id, err := NewID("127.0.0.1", 7002)
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	if id.String() != "127.0.0.1:7002" {
		t.Fatalf("unexpected string form: %s", id.String())
	}
}
