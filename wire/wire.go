// Package wire implements the HyParView control and application wire
// grammar: one type byte followed by a type-specific, big-endian encoded
// payload. It is grounded on src/net/net_transport.go's handleCommand,
// which reads a single type byte off a buffered reader and then decodes a
// type-specific payload, but it trades babble's self-describing JSON
// bodies for fixed binary framing so that two independent implementations
// of this spec can interoperate byte-for-byte.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/mosaicnetworks/hyparview/peers"
)

// Type is the one-byte frame type tag.
type Type byte

const (
	TypeJoin         Type = 'J'
	TypeForwardJoin  Type = 'F'
	TypeJoinReply    Type = 'R'
	TypeHNeighbour   Type = 'H'
	TypeLNeighbour   Type = 'L'
	TypeAccept       Type = 'A'
	TypeDecline      Type = 'D'
	TypeDisconnect   Type = 'X'
	TypeShuffle      Type = 'S'
	TypeShuffleReply Type = 'Y'
	TypeMessage      Type = 'M'
)

// MaxXListLen is the largest xlist length representable in the one-byte
// length prefix used by SHUFFLE and SHUFFLEREPLY.
const MaxXListLen = 255

// Frame is a decoded wire message. Which of the payload fields are
// meaningful depends on Type; the others are left zero.
type Frame struct {
	Type Type

	// JOIN, JOINREPLY, HNEIGHBOUR, LNEIGHBOUR, and the requester field of
	// SHUFFLE all carry a single identifier.
	ID peers.ID

	// FORWARDJOIN and SHUFFLE carry a TTL.
	TTL uint8

	// SHUFFLE and SHUFFLEREPLY carry an exchange list.
	XList []peers.ID

	// MESSAGE carries an application payload.
	Payload []byte
}

// Encode serializes f to its wire form.
func Encode(f Frame) ([]byte, error) {
	switch f.Type {
	case TypeJoin, TypeJoinReply, TypeHNeighbour, TypeLNeighbour:
		idBuf := f.ID.Encode()
		buf := make([]byte, 1+peers.IDSize)
		buf[0] = byte(f.Type)
		copy(buf[1:], idBuf[:])
		return buf, nil

	case TypeForwardJoin:
		idBuf := f.ID.Encode()
		buf := make([]byte, 1+peers.IDSize+1)
		buf[0] = byte(f.Type)
		copy(buf[1:1+peers.IDSize], idBuf[:])
		buf[1+peers.IDSize] = f.TTL
		return buf, nil

	case TypeAccept, TypeDecline, TypeDisconnect:
		return []byte{byte(f.Type)}, nil

	case TypeShuffle:
		if len(f.XList) > MaxXListLen {
			return nil, fmt.Errorf("wire: xlist too long (%d > %d)", len(f.XList), MaxXListLen)
		}
		idBuf := f.ID.Encode()
		buf := make([]byte, 0, 1+peers.IDSize+1+1+len(f.XList)*peers.IDSize)
		buf = append(buf, byte(f.Type))
		buf = append(buf, idBuf[:]...)
		buf = append(buf, f.TTL, byte(len(f.XList)))
		for _, id := range f.XList {
			enc := id.Encode()
			buf = append(buf, enc[:]...)
		}
		return buf, nil

	case TypeShuffleReply:
		if len(f.XList) > MaxXListLen {
			return nil, fmt.Errorf("wire: xlist too long (%d > %d)", len(f.XList), MaxXListLen)
		}
		buf := make([]byte, 0, 1+1+len(f.XList)*peers.IDSize)
		buf = append(buf, byte(f.Type), byte(len(f.XList)))
		for _, id := range f.XList {
			enc := id.Encode()
			buf = append(buf, enc[:]...)
		}
		return buf, nil

	case TypeMessage:
		buf := make([]byte, 0, 1+4+len(f.Payload))
		buf = append(buf, byte(f.Type))
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(f.Payload)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, f.Payload...)
		return buf, nil

	default:
		return nil, fmt.Errorf("wire: unknown frame type %q", byte(f.Type))
	}
}

// Decode drains as many complete frames as are present at the head of buf,
// returning them along with the unconsumed remainder (a possibly-partial
// trailing frame, left for the next read per §4.1).
func Decode(buf []byte) (frames []Frame, rest []byte, err error) {
	for {
		f, n, decErr := decodeOne(buf)
		if decErr == errIncomplete {
			return frames, buf, nil
		}
		if decErr != nil {
			return frames, buf, decErr
		}
		frames = append(frames, f)
		buf = buf[n:]
	}
}

var errIncomplete = fmt.Errorf("wire: incomplete frame")

// decodeOne decodes a single frame from the head of buf, returning the
// frame and the number of bytes it consumed.
func decodeOne(buf []byte) (Frame, int, error) {
	if len(buf) < 1 {
		return Frame{}, 0, errIncomplete
	}
	typ := Type(buf[0])

	switch typ {
	case TypeJoin, TypeJoinReply, TypeHNeighbour, TypeLNeighbour:
		if len(buf) < 1+peers.IDSize {
			return Frame{}, 0, errIncomplete
		}
		id, err := peers.DecodeID(buf[1 : 1+peers.IDSize])
		if err != nil {
			return Frame{}, 0, err
		}
		return Frame{Type: typ, ID: id}, 1 + peers.IDSize, nil

	case TypeForwardJoin:
		need := 1 + peers.IDSize + 1
		if len(buf) < need {
			return Frame{}, 0, errIncomplete
		}
		id, err := peers.DecodeID(buf[1 : 1+peers.IDSize])
		if err != nil {
			return Frame{}, 0, err
		}
		ttl := buf[1+peers.IDSize]
		return Frame{Type: typ, ID: id, TTL: ttl}, need, nil

	case TypeAccept, TypeDecline, TypeDisconnect:
		return Frame{Type: typ}, 1, nil

	case TypeShuffle:
		if len(buf) < 1+peers.IDSize+1+1 {
			return Frame{}, 0, errIncomplete
		}
		id, err := peers.DecodeID(buf[1 : 1+peers.IDSize])
		if err != nil {
			return Frame{}, 0, err
		}
		ttl := buf[1+peers.IDSize]
		xlen := int(buf[1+peers.IDSize+1])
		need := 1 + peers.IDSize + 1 + 1 + xlen*peers.IDSize
		if len(buf) < need {
			return Frame{}, 0, errIncomplete
		}
		xlist, err := decodeXList(buf[1+peers.IDSize+2:need], xlen)
		if err != nil {
			return Frame{}, 0, err
		}
		return Frame{Type: typ, ID: id, TTL: ttl, XList: xlist}, need, nil

	case TypeShuffleReply:
		if len(buf) < 2 {
			return Frame{}, 0, errIncomplete
		}
		xlen := int(buf[1])
		need := 2 + xlen*peers.IDSize
		if len(buf) < need {
			return Frame{}, 0, errIncomplete
		}
		xlist, err := decodeXList(buf[2:need], xlen)
		if err != nil {
			return Frame{}, 0, err
		}
		return Frame{Type: typ, XList: xlist}, need, nil

	case TypeMessage:
		if len(buf) < 5 {
			return Frame{}, 0, errIncomplete
		}
		plen := int(binary.BigEndian.Uint32(buf[1:5]))
		need := 5 + plen
		if len(buf) < need {
			return Frame{}, 0, errIncomplete
		}
		payload := make([]byte, plen)
		copy(payload, buf[5:need])
		return Frame{Type: typ, Payload: payload}, need, nil

	default:
		return Frame{}, 0, fmt.Errorf("wire: unknown type byte %q", buf[0])
	}
}

func decodeXList(buf []byte, n int) ([]peers.ID, error) {
	if n == 0 {
		return nil, nil
	}
	out := make([]peers.ID, n)
	for i := 0; i < n; i++ {
		id, err := peers.DecodeID(buf[i*peers.IDSize : (i+1)*peers.IDSize])
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}
