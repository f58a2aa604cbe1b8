package wire

import (
	"reflect"
	"testing"

	"github.com/mosaicnetworks/hyparview/peers"
)

func id(t *testing.T, port uint16) peers.ID {
	t.Helper()
	i, err := peers.NewID("10.1.2.3", port)
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	return i
}

func roundTrip(t *testing.T, f Frame) Frame {
	t.Helper()
	encoded, err := Encode(f)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	frames, rest, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected trailing bytes: %v", rest)
	}
	if len(frames) != 1 {
		t.Fatalf("expected exactly one frame, got %d", len(frames))
	}
	return frames[0]
}

// TestRoundTrip is property P3: decode(encode(f)) == f for every frame
// shape in the grammar.
func TestRoundTrip(t *testing.T) {
	cases := []Frame{
		{Type: TypeJoin, ID: id(t, 1)},
		{Type: TypeForwardJoin, ID: id(t, 2), TTL: 3},
		{Type: TypeJoinReply, ID: id(t, 4)},
		{Type: TypeHNeighbour, ID: id(t, 5)},
		{Type: TypeLNeighbour, ID: id(t, 6)},
		{Type: TypeAccept},
		{Type: TypeDecline},
		{Type: TypeDisconnect},
		{Type: TypeShuffle, ID: id(t, 7), TTL: 2, XList: []peers.ID{id(t, 8), id(t, 9)}},
		{Type: TypeShuffle, ID: id(t, 7), TTL: 2, XList: nil},
		{Type: TypeShuffleReply, XList: []peers.ID{id(t, 10)}},
		{Type: TypeShuffleReply, XList: nil},
		{Type: TypeMessage, Payload: []byte("hello overlay")},
		{Type: TypeMessage, Payload: []byte{}},
	}

	for _, c := range cases {
		got := roundTrip(t, c)
		if !reflect.DeepEqual(got, c) {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, c)
		}
	}
}

func TestDecodeLeavesPartialFrame(t *testing.T) {
	full, err := Encode(Frame{Type: TypeJoin, ID: id(t, 1)})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	partial := full[:len(full)-1]

	frames, rest, err := Decode(partial)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("expected no complete frames, got %d", len(frames))
	}
	if len(rest) != len(partial) {
		t.Fatalf("expected full partial buffer retained, got %d bytes", len(rest))
	}
}

func TestDecodeMultipleFrames(t *testing.T) {
	a, _ := Encode(Frame{Type: TypeAccept})
	b, _ := Encode(Frame{Type: TypeJoin, ID: id(t, 9)})

	buf := append(append([]byte{}, a...), b...)
	frames, rest, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("expected no remainder, got %v", rest)
	}
	if len(frames) != 2 || frames[0].Type != TypeAccept || frames[1].Type != TypeJoin {
		t.Fatalf("unexpected frames: %+v", frames)
	}
}

func TestDecodeUnknownTypeByte(t *testing.T) {
	if _, _, err := Decode([]byte{'Z'}); err == nil {
		t.Fatal("expected error for unknown type byte")
	}
}

func TestEncodeRejectsOverlongXList(t *testing.T) {
	xlist := make([]peers.ID, MaxXListLen+1)
	for i := range xlist {
		xlist[i] = id(t, uint16(i+1))
	}
	if _, err := Encode(Frame{Type: TypeShuffleReply, XList: xlist}); err == nil {
		t.Fatal("expected error for over-length xlist")
	}
}
