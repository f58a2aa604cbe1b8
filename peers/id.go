package peers

import (
	"encoding/binary"
	"fmt"
	"net"
)

// IDSize is the wire size, in bytes, of an encoded ID: 4 bytes of IPv4
// address in network order followed by 2 big-endian port bytes.
const IDSize = 6

// ID identifies a node by its dial address: an IPv4 address and a port.
// It is a plain comparable value so views can use it as a map key and
// compare identifiers bytewise, per the data model's equality requirement.
type ID struct {
	IP   [4]byte
	Port uint16
}

// NewID builds an ID from a dotted-quad IPv4 address and a port.
func NewID(ip string, port uint16) (ID, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ID{}, fmt.Errorf("peers: invalid IPv4 address %q", ip)
	}
	v4 := parsed.To4()
	if v4 == nil {
		return ID{}, fmt.Errorf("peers: not an IPv4 address %q", ip)
	}
	var id ID
	copy(id.IP[:], v4)
	id.Port = port
	return id, nil
}

// String renders the identifier as "ip:port".
func (id ID) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d", id.IP[0], id.IP[1], id.IP[2], id.IP[3], id.Port)
}

// Addr renders the identifier as a dialable "ip:port" TCP address.
func (id ID) Addr() string {
	return id.String()
}

// Encode writes the canonical 6-byte wire form of id.
func (id ID) Encode() [IDSize]byte {
	var buf [IDSize]byte
	copy(buf[0:4], id.IP[:])
	binary.BigEndian.PutUint16(buf[4:6], id.Port)
	return buf
}

// DecodeID reads a 6-byte wire form previously produced by Encode.
func DecodeID(buf []byte) (ID, error) {
	if len(buf) < IDSize {
		return ID{}, fmt.Errorf("peers: short id buffer (%d bytes)", len(buf))
	}
	var id ID
	copy(id.IP[:], buf[0:4])
	id.Port = binary.BigEndian.Uint16(buf[4:6])
	return id, nil
}
