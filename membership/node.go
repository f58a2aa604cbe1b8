// Package membership implements the HyParView protocol core: the Hypar
// node that owns the active/passive views, consumes connection events, and
// drives join, forward-join, shuffle, neighbour, and failure recovery.
// Grounded on node/node.go's single-goroutine event loop and
// node/peer_selector.go's random-selection helpers, generalized from
// babble's hashgraph-consensus event set to HyParView's membership events.
package membership

import (
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/hyparview/common"
	"github.com/mosaicnetworks/hyparview/peers"
	"github.com/mosaicnetworks/hyparview/transport"
)

// Callback is the application capability handed to a Node at construction,
// per §9's "callback to interface, not a global" note.
type Callback interface {
	LinkUp(id peers.ID)
	LinkDown(id peers.ID)
	Deliver(sender peers.ID, payload []byte)
}

// Stats are plain counters surfaced through the optional HTTP introspection
// service, grounded on node.Node's GetStats/logStats counters.
type Stats struct {
	ShuffleCount          int64 `json:"shuffle_count"`
	ForwardJoinCount      int64 `json:"forward_join_count"`
	NeighbourDeclineCount int64 `json:"neighbour_decline_count"`
}

// Node owns the active and passive views and is the sole mutator of either;
// every method that touches view state runs on the node's own goroutine
// (see run), reached either directly (Start/Stop/JoinCluster/Shuffle) or
// via the NodeHandler callbacks a transport.Conn invokes from its own
// goroutine.
type Node struct {
	selfID peers.ID
	config Config

	active  *peers.ActiveView
	passive *peers.PassiveView

	lastXList   []peers.ID
	lastXListMu sync.Mutex

	callback Callback
	manager  *transport.Manager
	listener *transport.Listener

	rng *rand.Rand

	ops     chan func()
	stopCh  chan struct{}
	stopped chan struct{}
	once    sync.Once

	stats   Stats
	statsMu sync.Mutex

	logger *logrus.Entry
}

// NewNode builds a Node bound to callback, ready to Start. callback is a
// capability handed in at construction time, per §9 ("callback to
// interface, not a global"). The connection manager is wired immediately
// so JoinCluster can be called as soon as Start returns.
func NewNode(selfID peers.ID, config Config, callback Callback) *Node {
	var base *logrus.Logger
	if config.Logger != nil {
		base = config.Logger
	} else {
		base = logrus.New()
	}
	logger := base.WithField("self", selfID.String())

	n := &Node{
		selfID:   selfID,
		config:   config,
		active:   peers.NewActiveView(config.ActiveSize),
		passive:  peers.NewPassiveView(config.PassiveSize),
		callback: callback,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		ops:      make(chan func(), 1024),
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
		logger:   logger,
	}
	n.manager = transport.NewManager(selfID, n, config.ConnTimeout, config.Timeout, config.SendTimeout, logger)
	return n
}

// Start binds bindAddr, begins accepting inbound connections, and starts
// the event loop and (if configured) the periodic shuffle tick. Per §6,
// start(options) also seeds the PRNG (done at construction) and schedules
// the first shuffle tick.
func (n *Node) Start(bindAddr string) error {
	ln, err := transport.Listen(bindAddr, n, n.config.Timeout, n.config.SendTimeout, n.logger)
	if err != nil {
		return common.Newf(common.Transport, "listen %s: %v", bindAddr, err)
	}
	n.listener = ln

	go ln.Serve()
	go n.run()

	n.logger.WithField("addr", ln.Addr().String()).Info("node started")
	return nil
}

// ListenAddr returns the bound address, valid after Start.
func (n *Node) ListenAddr() string {
	if n.listener == nil {
		return ""
	}
	return n.listener.Addr().String()
}

// Stop closes all active connections and the listener, and halts the event
// loop. Only the first call has any effect.
func (n *Node) Stop() {
	n.once.Do(func() {
		close(n.stopCh)
		<-n.stopped

		if n.listener != nil {
			n.listener.Close()
		}
		for _, p := range n.active.Snapshot() {
			p.Conn.Close()
		}
		n.logger.Info("node stopped")
	})
}

func (n *Node) run() {
	var tickC <-chan time.Time
	if n.config.ShufflePeriod > 0 {
		ticker := time.NewTicker(n.config.ShufflePeriod)
		defer ticker.Stop()
		tickC = ticker.C
	}

	for {
		select {
		case <-n.stopCh:
			close(n.stopped)
			return
		case <-tickC:
			n.onShuffleTick()
		case job := <-n.ops:
			job()
		}
	}
}

func (n *Node) enqueue(job func()) {
	select {
	case n.ops <- job:
	case <-n.stopCh:
	}
}

// JoinCluster performs the initial JOIN against contact (§4.4.2).
func (n *Node) JoinCluster(contact peers.ID) error {
	result := make(chan error, 1)
	n.enqueue(func() {
		result <- n.doJoinCluster(contact)
	})
	select {
	case err := <-result:
		return err
	case <-n.stopCh:
		return common.Newf(common.State, "node stopped")
	}
}

func (n *Node) doJoinCluster(contact peers.ID) error {
	if contact == n.selfID || n.active.Contains(contact) {
		return common.ErrAlreadyInActive
	}
	peer, err := n.manager.Join(contact)
	if err != nil {
		return err
	}
	if err := n.addNodeActive(peer); err != nil {
		peer.Conn.Close()
		return err
	}
	return nil
}

// Shuffle forces an immediate shuffle tick (§6).
func (n *Node) Shuffle() {
	done := make(chan struct{})
	n.enqueue(func() {
		n.onShuffleTick()
		close(done)
	})
	select {
	case <-done:
	case <-n.stopCh:
	}
}

// Peers returns a snapshot of the active view.
func (n *Node) Peers() []peers.Peer {
	return n.active.Snapshot()
}

// PassivePeers returns a snapshot of the passive view's identifiers.
func (n *Node) PassivePeers() []peers.ID {
	return n.passive.Snapshot()
}

// StatsSnapshot returns a copy of the current protocol counters.
func (n *Node) StatsSnapshot() Stats {
	n.statsMu.Lock()
	defer n.statsMu.Unlock()
	return n.stats
}

// --- transport.NodeHandler ---

// HandleJoin implements the incoming join(sender) event of §4.4.2: the
// sender becomes active, then every other active peer is told about it via
// FORWARDJOIN.
func (n *Node) HandleJoin(sender peers.ID, conn *transport.Conn) {
	n.enqueue(func() {
		peer := &peers.Peer{ID: sender, Conn: conn}
		if err := n.addNodeActive(peer); err != nil {
			conn.Close()
			return
		}
		for _, p := range n.active.Snapshot() {
			if p.ID == sender {
				continue
			}
			if err := p.Conn.ForwardJoin(sender, n.config.ARWL); err != nil {
				n.logger.WithError(err).WithField("peer", p.ID).Warn("forward_join send failed")
			}
		}
	})
}

// HandleJoinReply implements the terminating-case reply of §4.4.2: the
// replying peer simply becomes active.
func (n *Node) HandleJoinReply(sender peers.ID, conn *transport.Conn) {
	n.enqueue(func() {
		peer := &peers.Peer{ID: sender, Conn: conn}
		if err := n.addNodeActive(peer); err != nil {
			conn.Close()
		}
	})
}

// HandleForwardJoin implements §4.4.2's propagating/terminating cases.
func (n *Node) HandleForwardJoin(sender, newID peers.ID, ttl uint8) {
	n.enqueue(func() {
		n.statsMu.Lock()
		n.stats.ForwardJoinCount++
		n.statsMu.Unlock()

		if newID == n.selfID || n.active.Contains(newID) {
			return
		}

		if ttl == 0 || n.active.Len() == 1 {
			peer, err := n.manager.JoinReply(newID)
			if err != nil {
				n.logger.WithError(err).WithField("peer", newID).Warn("join_reply failed")
				return
			}
			if err := n.addNodeActive(peer); err != nil {
				peer.Conn.Close()
			}
			return
		}

		if ttl == n.config.PRWL {
			n.addNodePassive(newID)
		}

		next, ok := n.active.RandomExcept(n.rng, sender)
		if !ok {
			return
		}
		if err := next.Conn.ForwardJoin(newID, ttl-1); err != nil {
			n.logger.WithError(err).WithField("peer", next.ID).Warn("forward_join propagate failed")
		}
	})
}

// HandleShuffle implements §4.4.3's incoming shuffle handling: propagate or
// reply depending on remaining TTL and active-view size.
func (n *Node) HandleShuffle(sender, requester peers.ID, ttl uint8, xlist []peers.ID) {
	n.enqueue(func() {
		if ttl > 0 && n.active.Len() > 1 {
			next, ok := n.active.RandomExcept(n.rng, sender)
			if ok {
				if err := next.Conn.Shuffle(requester, ttl-1, xlist); err != nil {
					n.logger.WithError(err).WithField("peer", next.ID).Warn("shuffle propagate failed")
				}
			}
			return
		}

		replyXList := n.passive.Sample(n.rng, len(xlist))
		hint := toSet(replyXList)
		if err := n.manager.ShuffleReply(requester, replyXList); err != nil {
			n.logger.WithError(err).WithField("requester", requester).Warn("shuffle_reply send failed")
		}
		n.integrate(xlist, hint)
	})
}

// HandleShuffleReply implements §4.4.3's reply-integration step, using the
// originating request's xlist as the eviction hint.
func (n *Node) HandleShuffleReply(xlist []peers.ID) {
	n.enqueue(func() {
		n.lastXListMu.Lock()
		hint := toSet(n.lastXList)
		n.lastXList = nil
		n.lastXListMu.Unlock()

		n.integrate(xlist, hint)
	})
}

// HandleNeighbour implements §4.4.4's accept/decline policy. It blocks the
// calling Conn's goroutine until the node's event loop has decided, which
// is the synchronous option (a) of §5.
func (n *Node) HandleNeighbour(sender peers.ID, conn *transport.Conn, priority transport.Priority) bool {
	result := make(chan bool, 1)
	n.enqueue(func() {
		accept := priority == transport.PriorityHigh || !n.active.Full()
		if accept {
			peer := &peers.Peer{ID: sender, Conn: conn}
			if err := n.addNodeActive(peer); err != nil {
				accept = false
			}
		}
		if !accept {
			n.statsMu.Lock()
			n.stats.NeighbourDeclineCount++
			n.statsMu.Unlock()
		}
		result <- accept
	})
	select {
	case accept := <-result:
		return accept
	case <-n.stopCh:
		return false
	}
}

// HandleMessage delivers an application payload directly: message delivery
// does not mutate view state, so it bypasses the node's serialization
// domain entirely (per §2's data-flow split between control and payload).
func (n *Node) HandleMessage(sender peers.ID, payload []byte) {
	n.callback.Deliver(sender, payload)
}

// HandleError implements the failure half of §4.4.4: remove the peer from
// active (if present), notify link-down, and — only for a genuine
// transport failure, not a clean intentional disconnect — run the
// replacement loop.
func (n *Node) HandleError(id peers.ID, err error) {
	n.enqueue(func() {
		_, wasActive := n.active.Remove(id)
		if !wasActive {
			return
		}
		n.callback.LinkDown(id)
		if err != nil {
			n.recoverFromFailure(id)
		}
	})
}

// recoverFromFailure implements the replacement loop of §4.4.4.
func (n *Node) recoverFromFailure(lost peers.ID) {
	tried := make(map[peers.ID]bool)
	for {
		candidate, ok := n.passiveRandomExcluding(tried)
		if !ok {
			return
		}
		n.passive.Remove(candidate)

		priority := transport.PriorityLow
		if n.active.Len() == 0 {
			priority = transport.PriorityHigh
		}

		result, err := n.manager.Neighbour(candidate, priority)
		if err != nil {
			tried[candidate] = true
			continue
		}
		if result.Declined {
			n.passive.Add(candidate)
			tried[candidate] = true
			continue
		}

		if err := n.addNodeActive(result.Peer); err != nil {
			result.Peer.Conn.Close()
			tried[candidate] = true
			continue
		}
		n.logger.WithFields(logrus.Fields{"lost": lost, "replacement": candidate}).Debug("failure recovery succeeded")
		return
	}
}

func (n *Node) passiveRandomExcluding(tried map[peers.ID]bool) (peers.ID, bool) {
	all := n.passive.Snapshot()
	candidates := make([]peers.ID, 0, len(all))
	for _, id := range all {
		if !tried[id] {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return peers.ID{}, false
	}
	return candidates[n.rng.Intn(len(candidates))], true
}

func (n *Node) onShuffleTick() {
	if n.active.Len() == 0 {
		return
	}
	target, ok := n.active.Random(n.rng)
	if !ok {
		return
	}

	xlist := make([]peers.ID, 0, 1+n.config.KActive+n.config.KPassive)
	xlist = append(xlist, n.selfID)
	xlist = append(xlist, n.active.Sample(n.rng, n.config.KActive)...)
	xlist = append(xlist, n.passive.Sample(n.rng, n.config.KPassive)...)

	n.lastXListMu.Lock()
	n.lastXList = xlist
	n.lastXListMu.Unlock()

	n.statsMu.Lock()
	n.stats.ShuffleCount++
	n.statsMu.Unlock()

	ttl := uint8(0)
	if n.config.ARWL > 0 {
		ttl = n.config.ARWL - 1
	}
	if err := target.Conn.Shuffle(n.selfID, ttl, xlist); err != nil {
		n.logger.WithError(err).WithField("peer", target.ID).Warn("shuffle send failed")
	}
}
