package membership

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mosaicnetworks/hyparview/peers"
)

// noopConn is a stub peers.Conn for seeding ActiveView entries directly,
// without a live transport.Conn, in tests that exercise view mutation
// rather than the network.
type noopConn struct{ id peers.ID }

func (c *noopConn) RemoteID() peers.ID                                            { return c.id }
func (c *noopConn) Send(payload []byte) error                                     { return nil }
func (c *noopConn) ForwardJoin(newID peers.ID, ttl uint8) error                    { return nil }
func (c *noopConn) Shuffle(requester peers.ID, ttl uint8, xlist []peers.ID) error  { return nil }
func (c *noopConn) Disconnect() error                                             { return nil }
func (c *noopConn) Close() error                                                  { return nil }

func newTestViewNode(t *testing.T, activeSize, passiveSize int) (*Node, peers.ID) {
	t.Helper()
	self, err := newEphemeralID(t)
	require.NoError(t, err)

	cfg := testConfig(t)
	cfg.ActiveSize = activeSize
	cfg.PassiveSize = passiveSize

	return NewNode(self, cfg, &recordingCallback{}), self
}

func newFakeID(t *testing.T) peers.ID {
	t.Helper()
	id, err := newEphemeralID(t)
	require.NoError(t, err)
	return id
}

func insertActive(n *Node, id peers.ID) {
	n.active.Insert(&peers.Peer{ID: id, Conn: &noopConn{id: id}})
}

// TestIntegrateDisjointness is property P5: integrate must never place an
// identifier that is the node itself or already active into the passive
// view, even when the incoming xlist names it.
func TestIntegrateDisjointness(t *testing.T) {
	n, selfID := newTestViewNode(t, 3, 5)

	activeID := newFakeID(t)
	insertActive(n, activeID)

	passiveID := newFakeID(t)
	n.passive.Add(passiveID)

	freshID := newFakeID(t)

	n.integrate([]peers.ID{selfID, activeID, passiveID, freshID}, nil)

	require.False(t, n.passive.Contains(selfID))
	require.False(t, n.active.Contains(selfID))
	require.True(t, n.active.Contains(activeID))
	require.False(t, n.passive.Contains(activeID))
	require.True(t, n.passive.Contains(freshID))
	require.Equal(t, 2, n.passive.Len())
}

// TestIntegrateEvictsHintedFirst is §4.4.6's eviction-hint rule: when
// integrate must make room, ids present in the hint set are evicted ahead
// of uniform-random choices.
func TestIntegrateEvictsHintedFirst(t *testing.T) {
	n, _ := newTestViewNode(t, 3, 1)

	hinted := newFakeID(t)
	n.passive.Add(hinted)

	incoming := newFakeID(t)
	n.integrate([]peers.ID{incoming}, map[peers.ID]bool{hinted: true})

	require.False(t, n.passive.Contains(hinted))
	require.True(t, n.passive.Contains(incoming))
	require.Equal(t, 1, n.passive.Len())
}

// TestIntegrateNoOverflowWithoutHint mirrors the above without a hint: the
// node still frees exactly enough room via uniform-random eviction so the
// bound in §3 is never exceeded.
func TestIntegrateNoOverflowWithoutHint(t *testing.T) {
	n, _ := newTestViewNode(t, 3, 1)

	existing := newFakeID(t)
	n.passive.Add(existing)

	incoming := newFakeID(t)
	n.integrate([]peers.ID{incoming}, nil)

	require.Equal(t, 1, n.passive.Len())
	require.True(t, n.passive.Contains(incoming))
}

// TestAddNodePassiveRejectsSelfAndActive is add_node_passive's disjointness
// guard (§4.4.6): self and already-active identifiers are never added.
func TestAddNodePassiveRejectsSelfAndActive(t *testing.T) {
	n, selfID := newTestViewNode(t, 3, 5)

	activeID := newFakeID(t)
	insertActive(n, activeID)

	n.addNodePassive(selfID)
	n.addNodePassive(activeID)

	require.False(t, n.passive.Contains(selfID))
	require.False(t, n.passive.Contains(activeID))
	require.Equal(t, 0, n.passive.Len())
}

// TestAddNodePassiveEvictsWhenFull exercises add_node_passive's own
// make-room branch, distinct from integrate's.
func TestAddNodePassiveEvictsWhenFull(t *testing.T) {
	n, _ := newTestViewNode(t, 3, 1)

	n.passive.Add(newFakeID(t))
	require.True(t, n.passive.Full())

	fresh := newFakeID(t)
	n.addNodePassive(fresh)

	require.Equal(t, 1, n.passive.Len())
	require.True(t, n.passive.Contains(fresh))
}

// TestShuffleRoundTrip is scenario 5 of §8: a's shuffle request propagates
// through hub b (active.Len()==2, ttl>0: the propagating branch of
// HandleShuffle) to c, which has only b active and so takes the
// terminal/reply branch — sampling its own passive view into a reply,
// dialing a directly with SHUFFLEREPLY, and integrating a's xlist. a then
// integrates c's reply via HandleShuffleReply. Both ends' passive views
// must show the exchange actually happened.
func TestShuffleRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	cfg.ARWL = 2
	cfg.KActive = 2
	cfg.KPassive = 2

	b, bID, _ := testNode(t, cfg)
	a, aID, _ := testNode(t, cfg)
	c, cID, _ := testNode(t, cfg)
	_ = cID

	require.NoError(t, a.JoinCluster(bID))
	waitUntil(t, func() bool { return len(a.Peers()) == 1 && len(b.Peers()) == 1 })

	require.NoError(t, c.JoinCluster(bID))
	waitUntil(t, func() bool { return len(b.Peers()) == 2 && len(c.Peers()) == 1 })

	dID := newFakeID(t)
	a.passive.Add(dID)

	eID := newFakeID(t)
	c.passive.Add(eID)

	a.Shuffle()

	// b forwards to c with ttl-1==0: HandleShuffle's propagating branch
	// (ttl>0 && active.Len()>1) fires at b, not c, since b holds both a
	// and c active.
	waitUntil(t, func() bool {
		return hasID(c.PassivePeers(), aID) && hasID(c.PassivePeers(), dID)
	})

	// c's reply arrives at a as a fresh inbound SHUFFLEREPLY connection,
	// integrated via HandleShuffleReply.
	waitUntil(t, func() bool { return hasID(a.PassivePeers(), eID) })

	time.Sleep(10 * time.Millisecond)
	require.False(t, hasID(b.PassivePeers(), aID))
}
