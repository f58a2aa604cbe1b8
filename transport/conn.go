// Package transport implements the per-connection state machine (Conn) and
// the outgoing connection manager (Manager) that negotiate and carry
// HyParView control frames and application payloads over TCP. It is
// grounded on src/net/net_transport.go's per-connection goroutine loop
// (buffered reader/writer wrapping one socket, one type byte read followed
// by a type-specific decode) generalized from a stateless RPC responder
// into the asymmetric incoming/outgoing handshake FSM this protocol needs.
package transport

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/hyparview/common"
	"github.com/mosaicnetworks/hyparview/peers"
	"github.com/mosaicnetworks/hyparview/wire"
)

// State is one of the connection FSM states from §3/§4.2.
type State int

const (
	WaitForSocket State = iota
	WaitForAccept
	WaitIncoming
	Active
	Temporary
	Closed
)

func (s State) String() string {
	switch s {
	case WaitForSocket:
		return "WaitForSocket"
	case WaitForAccept:
		return "WaitForAccept"
	case WaitIncoming:
		return "WaitIncoming"
	case Active:
		return "Active"
	case Temporary:
		return "Temporary"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Priority distinguishes the two kinds of neighbour request (§4.4.4).
type Priority int

const (
	PriorityLow Priority = iota
	PriorityHigh
)

// NodeHandler is the contract the Hypar node implements to receive events
// surfaced by a Conn. It is the "surfaces events to the node" half of the
// connection FSM's responsibility in §4.2.
type NodeHandler interface {
	HandleJoin(sender peers.ID, conn *Conn)
	HandleJoinReply(sender peers.ID, conn *Conn)
	HandleForwardJoin(sender peers.ID, newID peers.ID, ttl uint8)
	HandleShuffle(sender peers.ID, requester peers.ID, ttl uint8, xlist []peers.ID)
	HandleShuffleReply(xlist []peers.ID)
	// HandleNeighbour returns whether the request is accepted.
	HandleNeighbour(sender peers.ID, conn *Conn, priority Priority) bool
	HandleMessage(sender peers.ID, payload []byte)
	HandleError(id peers.ID, err error)
}

// Conn owns exactly one socket end-to-end, translating bytes to events and
// back. Exactly one goroutine (the read loop started by GoAhead or
// runIncoming) ever reads from socket; Send/ForwardJoin/Shuffle/Disconnect
// may be called concurrently from the node's event loop and are
// serialized by writeMu.
type Conn struct {
	mu    sync.Mutex
	state State

	remoteID peers.ID

	socket net.Conn
	reader *bufio.Reader

	writeMu sync.Mutex

	handler     NodeHandler
	recvTimeout time.Duration
	sendTimeout time.Duration

	logger *logrus.Entry

	closeOnce sync.Once
}

// newConn builds a Conn wrapping an already-open socket.
func newConn(socket net.Conn, handler NodeHandler, recvTimeout, sendTimeout time.Duration, logger *logrus.Entry) *Conn {
	return &Conn{
		socket:      socket,
		reader:      bufio.NewReaderSize(socket, 1<<16),
		handler:     handler,
		recvTimeout: recvTimeout,
		sendTimeout: sendTimeout,
		logger:      logger,
	}
}

// NewOutgoing wraps socket as an outgoing connection waiting for the node
// to confirm registration via GoAhead (WaitForSocket in §4.2).
func NewOutgoing(socket net.Conn, remote peers.ID, handler NodeHandler, recvTimeout, sendTimeout time.Duration, logger *logrus.Entry) *Conn {
	c := newConn(socket, handler, recvTimeout, sendTimeout, logger)
	c.state = WaitForSocket
	c.remoteID = remote
	return c
}

// NewIncoming wraps a freshly accepted socket, starting the WaitIncoming
// read loop immediately (the listener "hands the socket" straight through
// WaitForAccept, per §4.2).
func NewIncoming(socket net.Conn, handler NodeHandler, recvTimeout, sendTimeout time.Duration, logger *logrus.Entry) *Conn {
	c := newConn(socket, handler, recvTimeout, sendTimeout, logger)
	c.state = WaitForAccept
	go c.runIncoming()
	return c
}

// State returns the current FSM state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RemoteID returns the peer identifier, which is set after handshake for
// outgoing connections and after the first incoming frame is decoded.
func (c *Conn) RemoteID() peers.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteID
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Conn) setRemote(id peers.ID) {
	c.mu.Lock()
	c.remoteID = id
	c.mu.Unlock()
}

// GoAhead confirms the node has registered the peer and starts the active
// read loop (WaitForSocket -> Active).
func (c *Conn) GoAhead() {
	c.setState(Active)
	go c.runActive()
}

func (c *Conn) writeFrame(f wire.Frame) error {
	buf, err := wire.Encode(f)
	if err != nil {
		return common.Newf(common.Protocol, "encode %c: %v", byte(f.Type), err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.sendTimeout > 0 {
		c.socket.SetWriteDeadline(time.Now().Add(c.sendTimeout))
	}
	if _, err := c.socket.Write(buf); err != nil {
		return common.Newf(common.Transport, "write %c: %v", byte(f.Type), err)
	}
	return nil
}

// Send enqueues an application payload as a MESSAGE frame.
func (c *Conn) Send(payload []byte) error {
	if err := c.writeFrame(wire.Frame{Type: wire.TypeMessage, Payload: payload}); err != nil {
		c.fail(err)
		return err
	}
	return nil
}

// ForwardJoin sends a FORWARDJOIN frame.
func (c *Conn) ForwardJoin(newID peers.ID, ttl uint8) error {
	return c.writeFrame(wire.Frame{Type: wire.TypeForwardJoin, ID: newID, TTL: ttl})
}

// Shuffle sends a SHUFFLE frame. xlist length must fit in one byte.
func (c *Conn) Shuffle(requester peers.ID, ttl uint8, xlist []peers.ID) error {
	if len(xlist) > wire.MaxXListLen {
		return common.Newf(common.Protocol, "xlist too long: %d", len(xlist))
	}
	return c.writeFrame(wire.Frame{Type: wire.TypeShuffle, ID: requester, TTL: ttl, XList: xlist})
}

// Disconnect synchronously sends DISCONNECT, closes the socket, and (unless
// this is a Temporary connection) notifies the node of link-down.
func (c *Conn) Disconnect() error {
	_ = c.writeFrame(wire.Frame{Type: wire.TypeDisconnect})
	return c.terminate(nil)
}

// Close tears down the connection without sending a frame first.
func (c *Conn) Close() error {
	return c.terminate(nil)
}

func (c *Conn) fail(err error) {
	c.terminate(err)
}

// terminate closes the socket once, transitions to Closed, and — unless
// the connection is Temporary or already closed — reports the failure (if
// any) to the node as an error event.
func (c *Conn) terminate(err error) error {
	var wasTemporary bool
	var wasClosed bool

	c.closeOnce.Do(func() {
		c.mu.Lock()
		wasTemporary = c.state == Temporary
		wasClosed = c.state == Closed
		remote := c.remoteID
		c.state = Closed
		c.mu.Unlock()

		c.socket.Close()

		if !wasTemporary && !wasClosed && c.handler != nil {
			c.handler.HandleError(remote, err)
		}
	})
	return nil
}

// runIncoming implements the WaitForAccept -> WaitIncoming dispatch table
// of §4.2: read one type byte, then branch.
func (c *Conn) runIncoming() {
	c.setState(WaitIncoming)

	typByte, err := c.readByteWithTimeout()
	if err != nil {
		c.terminate(common.Newf(common.Transport, "read type byte: %v", err))
		return
	}

	switch wire.Type(typByte) {
	case wire.TypeJoin:
		id, err := c.readID()
		if err != nil {
			c.terminate(err)
			return
		}
		c.setRemote(id)
		c.setState(Active)
		c.handler.HandleJoin(id, c)
		go c.runActive()

	case wire.TypeJoinReply:
		id, err := c.readID()
		if err != nil {
			c.terminate(err)
			return
		}
		c.setRemote(id)
		c.setState(Active)
		c.handler.HandleJoinReply(id, c)
		go c.runActive()

	case wire.TypeHNeighbour, wire.TypeLNeighbour:
		id, err := c.readID()
		if err != nil {
			c.terminate(err)
			return
		}
		c.setRemote(id)
		priority := PriorityLow
		if wire.Type(typByte) == wire.TypeHNeighbour {
			priority = PriorityHigh
		}
		if c.handler.HandleNeighbour(id, c, priority) {
			if err := c.writeFrame(wire.Frame{Type: wire.TypeAccept}); err != nil {
				c.terminate(err)
				return
			}
			c.setState(Active)
			go c.runActive()
		} else {
			_ = c.writeFrame(wire.Frame{Type: wire.TypeDecline})
			c.setState(Temporary)
			c.terminate(nil)
		}

	case wire.TypeShuffleReply:
		xlist, err := c.readXList()
		if err != nil {
			c.terminate(err)
			return
		}
		c.handler.HandleShuffleReply(xlist)
		c.setState(Temporary)
		c.terminate(nil)

	default:
		c.terminate(common.Newf(common.Protocol, "unknown incoming type byte %q", typByte))
	}
}

// runActive implements the Active state's frame loop: read and dispatch
// frames until the socket closes, errors, or a DISCONNECT arrives.
func (c *Conn) runActive() {
	for {
		typByte, err := c.readByteWithTimeout()
		if err != nil {
			c.terminate(common.Newf(common.Transport, "read: %v", err))
			return
		}

		switch wire.Type(typByte) {
		case wire.TypeMessage:
			payload, err := c.readMessagePayload()
			if err != nil {
				c.terminate(err)
				return
			}
			c.handler.HandleMessage(c.RemoteID(), payload)

		case wire.TypeForwardJoin:
			id, err := c.readID()
			if err != nil {
				c.terminate(err)
				return
			}
			ttl, err := c.readByteWithTimeout()
			if err != nil {
				c.terminate(common.Newf(common.Transport, "read ttl: %v", err))
				return
			}
			c.handler.HandleForwardJoin(c.RemoteID(), id, ttl)

		case wire.TypeShuffle:
			requester, err := c.readID()
			if err != nil {
				c.terminate(err)
				return
			}
			ttl, err := c.readByteWithTimeout()
			if err != nil {
				c.terminate(common.Newf(common.Transport, "read ttl: %v", err))
				return
			}
			xlist, err := c.readXList()
			if err != nil {
				c.terminate(err)
				return
			}
			c.handler.HandleShuffle(c.RemoteID(), requester, ttl, xlist)

		case wire.TypeDisconnect:
			c.terminate(nil)
			return

		default:
			c.terminate(common.Newf(common.Protocol, "unexpected active-state type byte %q", typByte))
			return
		}
	}
}

func (c *Conn) readByteWithTimeout() (byte, error) {
	if c.recvTimeout > 0 {
		c.socket.SetReadDeadline(time.Now().Add(c.recvTimeout))
	}
	return c.reader.ReadByte()
}

func (c *Conn) readFull(n int) ([]byte, error) {
	buf := make([]byte, n)
	if c.recvTimeout > 0 {
		c.socket.SetReadDeadline(time.Now().Add(c.recvTimeout))
	}
	if _, err := readFull(c.reader, buf); err != nil {
		return nil, common.Newf(common.Transport, "read %d bytes: %v", n, err)
	}
	return buf, nil
}

func (c *Conn) readID() (peers.ID, error) {
	buf, err := c.readFull(peers.IDSize)
	if err != nil {
		return peers.ID{}, err
	}
	return peers.DecodeID(buf)
}

func (c *Conn) readXList() ([]peers.ID, error) {
	lenByte, err := c.readByteWithTimeout()
	if err != nil {
		return nil, common.Newf(common.Transport, "read xlist len: %v", err)
	}
	n := int(lenByte)
	if n == 0 {
		return nil, nil
	}
	buf, err := c.readFull(n * peers.IDSize)
	if err != nil {
		return nil, err
	}
	out := make([]peers.ID, n)
	for i := 0; i < n; i++ {
		id, err := peers.DecodeID(buf[i*peers.IDSize : (i+1)*peers.IDSize])
		if err != nil {
			return nil, common.New(common.Protocol, err.Error())
		}
		out[i] = id
	}
	return out, nil
}

func (c *Conn) readMessagePayload() ([]byte, error) {
	lenBuf, err := c.readFull(4)
	if err != nil {
		return nil, err
	}
	plen := int(uint32(lenBuf[0])<<24 | uint32(lenBuf[1])<<16 | uint32(lenBuf[2])<<8 | uint32(lenBuf[3]))
	return c.readFull(plen)
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
