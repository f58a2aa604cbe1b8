package broadcast

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/hyparview/peers"
)

type fakeConn struct {
	id   peers.ID
	sent [][]byte
	err  error
}

func (c *fakeConn) RemoteID() peers.ID                                           { return c.id }
func (c *fakeConn) ForwardJoin(newID peers.ID, ttl uint8) error                  { return nil }
func (c *fakeConn) Shuffle(requester peers.ID, ttl uint8, xlist []peers.ID) error { return nil }
func (c *fakeConn) Disconnect() error                                           { return nil }
func (c *fakeConn) Close() error                                                 { return nil }

func (c *fakeConn) Send(payload []byte) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, payload)
	return nil
}

type fakeSender struct {
	peers []peers.Peer
}

func (s *fakeSender) Peers() []peers.Peer { return s.peers }

func mustID(t *testing.T, port uint16) peers.ID {
	t.Helper()
	id, err := peers.NewID("10.0.0.1", port)
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	return id
}

func TestFloodSendsToEveryPeerExceptSender(t *testing.T) {
	connB := &fakeConn{id: mustID(t, 2)}
	connC := &fakeConn{id: mustID(t, 3)}

	sender := &fakeSender{peers: []peers.Peer{
		{ID: connB.id, Conn: connB},
		{ID: connC.id, Conn: connC},
	}}

	var delivered [][]byte
	var mu sync.Mutex
	f := NewFlooder(sender, func(id peers.ID, payload []byte) {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, payload)
	}, nil)

	f.Deliver(connB.id, []byte("hello"))

	if len(connB.sent) != 0 {
		t.Fatalf("expected no send back to origin, got %d", len(connB.sent))
	}
	if len(connC.sent) != 1 {
		t.Fatalf("expected one send to non-origin peer, got %d", len(connC.sent))
	}

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 1 {
		t.Fatalf("expected one local delivery, got %d", len(delivered))
	}
}

func TestFloodDedupByContentAndSender(t *testing.T) {
	selfID := mustID(t, 1)
	_ = selfID
	connB := &fakeConn{id: mustID(t, 2)}
	sender := &fakeSender{peers: []peers.Peer{{ID: connB.id, Conn: connB}}}

	calls := 0
	f := NewFlooder(sender, func(peers.ID, []byte) { calls++ }, nil)

	f.Deliver(connB.id, []byte("same"))
	f.Deliver(connB.id, []byte("same"))

	if calls != 1 {
		t.Fatalf("expected exactly one delivery for a duplicate payload, got %d", calls)
	}

	otherSender := mustID(t, 9)
	f.Deliver(otherSender, []byte("same"))
	if calls != 2 {
		t.Fatalf("expected a second delivery for the same payload from a different sender, got %d", calls)
	}
}

func TestFloodSendFailureIsLogged(t *testing.T) {
	connB := &fakeConn{id: mustID(t, 2), err: errors.New("broken pipe")}
	sender := &fakeSender{peers: []peers.Peer{{ID: connB.id, Conn: connB}}}

	var logBuf bytes.Buffer
	logger := logrus.New()
	logger.Out = &logBuf
	f := NewFlooder(sender, func(peers.ID, []byte) {}, logrus.NewEntry(logger))

	originID := mustID(t, 5)
	f.Deliver(originID, []byte("payload"))

	if !strings.Contains(logBuf.String(), "flood send failed") {
		t.Fatalf("expected the send failure to be logged, got %q", logBuf.String())
	}
}

func TestMarkSeenEvictsOldestWhenBoundIsReached(t *testing.T) {
	f := NewFlooder(&fakeSender{}, nil, nil)
	f.maxSeen = 2

	if !f.markSeen([20]byte{1}) {
		t.Fatal("expected first id to be newly seen")
	}
	if !f.markSeen([20]byte{2}) {
		t.Fatal("expected second id to be newly seen")
	}
	if !f.markSeen([20]byte{3}) {
		t.Fatal("expected third id to be newly seen, evicting the first")
	}
	if f.markSeen([20]byte{2}) {
		t.Fatal("expected second id to still be remembered")
	}
	if !f.markSeen([20]byte{1}) {
		t.Fatal("expected first id to have been evicted and thus newly seen again")
	}
}
