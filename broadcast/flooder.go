// Package broadcast implements the reference flooding-broadcast
// application sample described in spec.md §2/§9: a consumer of the
// membership node's link-up/link-down/deliver callbacks that forwards each
// distinct payload to every active peer exactly once. Grounded on
// src/proxy's AppProxy shape — a capability handed to the owning component
// at construction, not global state — generalized here from babble's
// block-commit proxy to a gossip dedup-and-forward consumer.
package broadcast

import (
	"crypto/sha1"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/hyparview/peers"
)

// Sender is the minimal slice of membership.Node's public surface the
// flooder needs: a live snapshot of active peers to forward to. Declared
// here (rather than depending on the membership package's Node type) so
// broadcast stays a leaf package.
type Sender interface {
	Peers() []peers.Peer
}

// Handler is invoked once for every payload the flooder delivers to the
// local application — the final "exactly once" terminus of the flood.
type Handler func(sender peers.ID, payload []byte)

// Flooder implements membership.Callback: it is registered as a Node's
// application capability, observes link-up/link-down for logging, and on
// every Deliver of a payload not seen before, hands it to Handler and then
// floods it to all active peers except whichever one it arrived from.
//
// Deduplication follows §9's resolved ambiguity: a set of 20-byte
// identifiers (SHA-1 of payload ‖ encoded original-sender-id), with a
// bound on the set size since the source specifies no eviction policy.
type Flooder struct {
	mu   sync.Mutex
	seen map[[sha1.Size]byte]struct{}
	// order supports bounded FIFO eviction of seen without unbounded growth.
	order []([sha1.Size]byte)

	maxSeen int

	sender  Sender
	handler Handler

	logger *logrus.Entry
}

// DefaultMaxSeen bounds the dedup set; large enough for sustained gossip
// bursts without growing unboundedly over a long-running process.
const DefaultMaxSeen = 65536

// NewFlooder builds a Flooder that forwards through sender and hands
// newly-seen payloads to handler. sender may be nil if the node that will
// supply it does not exist yet; see SetSender.
func NewFlooder(sender Sender, handler Handler, logger *logrus.Entry) *Flooder {
	return &Flooder{
		seen:    make(map[[sha1.Size]byte]struct{}),
		maxSeen: DefaultMaxSeen,
		sender:  sender,
		handler: handler,
		logger:  logger,
	}
}

// SetSender binds the peer source after construction. A Flooder is built
// before the membership.Node that will act as its Sender (the node itself
// requires a Callback at construction time), so callers wire it in this
// order: build the Flooder with a nil sender, construct the Node with the
// Flooder as its Callback, then SetSender(node).
func (f *Flooder) SetSender(sender Sender) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sender = sender
}

// LinkUp implements membership.Callback.
func (f *Flooder) LinkUp(id peers.ID) {
	if f.logger != nil {
		f.logger.WithField("peer", id).Debug("link up")
	}
}

// LinkDown implements membership.Callback.
func (f *Flooder) LinkDown(id peers.ID) {
	if f.logger != nil {
		f.logger.WithField("peer", id).Debug("link down")
	}
}

// Deliver implements membership.Callback: it is the entry point for
// payloads arriving from a remote peer. Locally-originated broadcasts enter
// through Broadcast; both share the same dedup-and-flood path.
func (f *Flooder) Deliver(sender peers.ID, payload []byte) {
	f.flood(sender, payload)
}

// Broadcast originates a new payload from the local node: it is delivered
// to the local handler and flooded to every active peer.
func (f *Flooder) Broadcast(selfID peers.ID, payload []byte) {
	f.flood(selfID, payload)
}

func (f *Flooder) flood(origin peers.ID, payload []byte) {
	id := contentID(origin, payload)

	if !f.markSeen(id) {
		return
	}

	if f.handler != nil {
		f.handler(origin, payload)
	}

	f.mu.Lock()
	sender := f.sender
	f.mu.Unlock()
	if sender == nil {
		return
	}

	for _, p := range sender.Peers() {
		if p.ID == origin {
			continue
		}
		if err := p.Conn.Send(payload); err != nil && f.logger != nil {
			f.logger.WithError(err).WithField("peer", p.ID).Warn("flood send failed")
		}
	}
}

// markSeen reports whether id is newly seen, recording it if so.
func (f *Flooder) markSeen(id [sha1.Size]byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.seen[id]; ok {
		return false
	}

	if len(f.order) >= f.maxSeen {
		oldest := f.order[0]
		f.order = f.order[1:]
		delete(f.seen, oldest)
	}

	f.seen[id] = struct{}{}
	f.order = append(f.order, id)
	return true
}

func contentID(sender peers.ID, payload []byte) [sha1.Size]byte {
	h := sha1.New()
	h.Write(payload)
	enc := sender.Encode()
	h.Write(enc[:])
	var out [sha1.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}
