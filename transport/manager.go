package transport

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/hyparview/common"
	"github.com/mosaicnetworks/hyparview/peers"
	"github.com/mosaicnetworks/hyparview/wire"
)

// Manager opens the outgoing handshakes of §4.3: join, join-reply,
// neighbour, and shuffle-reply. It is grounded on src/net/tcp_transport.go's
// net.DialTimeout dialer and src/net/net_transport.go's getConn/sendRPC
// pairing, adapted from pooled RPC connections to one-shot handshakes.
type Manager struct {
	selfID      peers.ID
	handler     NodeHandler
	connTimeout time.Duration
	recvTimeout time.Duration
	sendTimeout time.Duration
	logger      *logrus.Entry
}

// NewManager builds a Manager that dials outgoing connections from selfID
// and reports inbound events to handler.
func NewManager(selfID peers.ID, handler NodeHandler, connTimeout, recvTimeout, sendTimeout time.Duration, logger *logrus.Entry) *Manager {
	return &Manager{
		selfID:      selfID,
		handler:     handler,
		connTimeout: connTimeout,
		recvTimeout: recvTimeout,
		sendTimeout: sendTimeout,
		logger:      logger,
	}
}

func (m *Manager) dial(target peers.ID) (net.Conn, error) {
	localAddr := &net.TCPAddr{IP: net.IP(m.selfID.IP[:])}
	dialer := net.Dialer{Timeout: m.connTimeout, LocalAddr: localAddr}

	conn, err := dialer.Dial("tcp", target.Addr())
	if err != nil {
		return nil, common.Newf(common.Transport, "dial %s: %v", target.Addr(), err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}
	return conn, nil
}

// Join performs an outgoing JOIN handshake (step 1 of §4.4.2). On success
// the returned peer is in Active state; the caller (the node) still owes it
// an add_node_active call.
func (m *Manager) Join(contact peers.ID) (*peers.Peer, error) {
	return m.handshakeAndActivate(contact, wire.Frame{Type: wire.TypeJoin, ID: m.selfID})
}

// JoinReply performs the terminating-case outgoing JOINREPLY of §4.4.2.
func (m *Manager) JoinReply(target peers.ID) (*peers.Peer, error) {
	return m.handshakeAndActivate(target, wire.Frame{Type: wire.TypeJoinReply, ID: m.selfID})
}

func (m *Manager) handshakeAndActivate(target peers.ID, leading wire.Frame) (*peers.Peer, error) {
	socket, err := m.dial(target)
	if err != nil {
		return nil, err
	}

	buf, err := wire.Encode(leading)
	if err != nil {
		socket.Close()
		return nil, common.Newf(common.Protocol, "encode leading frame: %v", err)
	}
	if m.sendTimeout > 0 {
		socket.SetWriteDeadline(time.Now().Add(m.sendTimeout))
	}
	if _, err := socket.Write(buf); err != nil {
		socket.Close()
		return nil, common.Newf(common.Transport, "write leading frame: %v", err)
	}

	conn := NewOutgoing(socket, target, m.handler, m.recvTimeout, m.sendTimeout, m.logger)
	conn.GoAhead()

	return &peers.Peer{ID: target, Conn: conn}, nil
}

// NeighbourResult reports the outcome of an outgoing neighbour request.
type NeighbourResult struct {
	Peer     *peers.Peer
	Declined bool
}

// Neighbour performs the outgoing HNEIGHBOUR/LNEIGHBOUR handshake of §4.3,
// blocking up to m.recvTimeout for an ACCEPT or DECLINE reply.
func (m *Manager) Neighbour(target peers.ID, priority Priority) (NeighbourResult, error) {
	socket, err := m.dial(target)
	if err != nil {
		return NeighbourResult{}, err
	}

	typ := wire.TypeLNeighbour
	if priority == PriorityHigh {
		typ = wire.TypeHNeighbour
	}
	buf, err := wire.Encode(wire.Frame{Type: typ, ID: m.selfID})
	if err != nil {
		socket.Close()
		return NeighbourResult{}, common.Newf(common.Protocol, "encode neighbour frame: %v", err)
	}
	if m.sendTimeout > 0 {
		socket.SetWriteDeadline(time.Now().Add(m.sendTimeout))
	}
	if _, err := socket.Write(buf); err != nil {
		socket.Close()
		return NeighbourResult{}, common.Newf(common.Transport, "write neighbour frame: %v", err)
	}

	if m.recvTimeout > 0 {
		socket.SetReadDeadline(time.Now().Add(m.recvTimeout))
	}
	var respByte [1]byte
	if _, err := readFullConn(socket, respByte[:]); err != nil {
		socket.Close()
		return NeighbourResult{}, common.Newf(common.Transport, "read neighbour reply: %v", err)
	}

	switch wire.Type(respByte[0]) {
	case wire.TypeAccept:
		conn := NewOutgoing(socket, target, m.handler, m.recvTimeout, m.sendTimeout, m.logger)
		conn.GoAhead()
		return NeighbourResult{Peer: &peers.Peer{ID: target, Conn: conn}}, nil
	case wire.TypeDecline:
		socket.Close()
		return NeighbourResult{Declined: true}, nil
	default:
		socket.Close()
		return NeighbourResult{}, common.Newf(common.Protocol, "unexpected neighbour reply byte %q", respByte[0])
	}
}

// ShuffleReply performs the one-shot outgoing SHUFFLEREPLY of §4.3: dial,
// send, close.
func (m *Manager) ShuffleReply(target peers.ID, xlist []peers.ID) error {
	socket, err := m.dial(target)
	if err != nil {
		return err
	}
	defer socket.Close()

	buf, err := wire.Encode(wire.Frame{Type: wire.TypeShuffleReply, XList: xlist})
	if err != nil {
		return common.Newf(common.Protocol, "encode shuffle reply: %v", err)
	}
	if m.sendTimeout > 0 {
		socket.SetWriteDeadline(time.Now().Add(m.sendTimeout))
	}
	if _, err := socket.Write(buf); err != nil {
		return common.Newf(common.Transport, "write shuffle reply: %v", err)
	}
	return nil
}

func readFullConn(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
