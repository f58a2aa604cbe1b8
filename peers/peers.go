package peers

import (
	"math/rand"
	"sync"
)

// Conn is the handle a Peer holds onto its connection FSM. transport.Conn
// implements this; peers stays independent of transport to avoid an import
// cycle (transport.Conn itself carries a peers.ID).
type Conn interface {
	RemoteID() ID
	Send(payload []byte) error
	ForwardJoin(newID ID, ttl uint8) error
	Shuffle(requester ID, ttl uint8, xlist []ID) error
	Disconnect() error
	Close() error
}

// Peer pairs an identifier with a handle to its connection FSM. A Peer that
// sits in the active view always has an open, healthy Conn.
type Peer struct {
	ID   ID
	Conn Conn
}

// ActiveView is the bounded, duplicate-free, ordered collection of directly
// connected peers. Insertion order is kept (for deterministic keyed removal)
// but is not otherwise meaningful externally. Grounded on src/peers.Peers'
// mutex-guarded slice-plus-map shape, adapted from pubkey-keyed to
// ID-keyed peers and capped at a configurable size.
type ActiveView struct {
	mu      sync.RWMutex
	maxSize int
	order   []ID
	byID    map[ID]*Peer
}

func NewActiveView(maxSize int) *ActiveView {
	return &ActiveView{
		maxSize: maxSize,
		byID:    make(map[ID]*Peer),
	}
}

// Contains reports whether id is currently an active peer.
func (v *ActiveView) Contains(id ID) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.byID[id]
	return ok
}

// Get returns the Peer for id, if active.
func (v *ActiveView) Get(id ID) (*Peer, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	p, ok := v.byID[id]
	return p, ok
}

// Len returns the number of active peers.
func (v *ActiveView) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.order)
}

// Full reports whether the active view has reached its size bound.
func (v *ActiveView) Full() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.order) >= v.maxSize
}

// Insert adds p to the active view. The caller must have already ensured
// p.ID is not already present and that there is room (see
// membership.addNodeActive for the full eviction policy).
func (v *ActiveView) Insert(p *Peer) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.byID[p.ID]; ok {
		return
	}
	v.order = append(v.order, p.ID)
	v.byID[p.ID] = p
}

// Remove deletes id from the active view, returning the removed Peer if any.
func (v *ActiveView) Remove(id ID) (*Peer, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.byID[id]
	if !ok {
		return nil, false
	}
	delete(v.byID, id)
	for i, existing := range v.order {
		if existing == id {
			v.order = append(v.order[:i], v.order[i+1:]...)
			break
		}
	}
	return p, true
}

// Snapshot returns a stable copy of the current active peers.
func (v *ActiveView) Snapshot() []Peer {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]Peer, 0, len(v.order))
	for _, id := range v.order {
		out = append(out, *v.byID[id])
	}
	return out
}

// RandomExcept returns a uniformly random active peer other than except, or
// false if no such peer exists. Grounded on node/peer_selector.go's
// RandomPeerSelector, which excludes one identifier before sampling.
func (v *ActiveView) RandomExcept(rng *rand.Rand, except ID) (*Peer, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	candidates := make([]ID, 0, len(v.order))
	for _, id := range v.order {
		if id != except {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}
	pick := candidates[rng.Intn(len(candidates))]
	p := *v.byID[pick]
	return &p, true
}

// Random returns a uniformly random active peer, or false if the view is empty.
func (v *ActiveView) Random(rng *rand.Rand) (*Peer, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if len(v.order) == 0 {
		return nil, false
	}
	pick := v.order[rng.Intn(len(v.order))]
	p := *v.byID[pick]
	return &p, true
}

// Sample returns up to k distinct active identifiers, chosen uniformly at
// random without replacement.
func (v *ActiveView) Sample(rng *rand.Rand, k int) []ID {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return sampleIDs(rng, v.order, k)
}

// PassiveView is the bounded set of known-but-unconnected candidate
// identifiers. It never stores a connection handle (§3).
type PassiveView struct {
	mu      sync.RWMutex
	maxSize int
	ids     []ID
	index   map[ID]int
}

func NewPassiveView(maxSize int) *PassiveView {
	return &PassiveView{
		maxSize: maxSize,
		index:   make(map[ID]int),
	}
}

func (v *PassiveView) Contains(id ID) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.index[id]
	return ok
}

func (v *PassiveView) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.ids)
}

func (v *PassiveView) Full() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.ids) >= v.maxSize
}

// Add appends id unless it is already present. It does not enforce the size
// bound or disjointness from the active view; callers are expected to have
// already checked disjointness and made room (see membership.addNodePassive).
func (v *PassiveView) Add(id ID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.index[id]; ok {
		return
	}
	v.index[id] = len(v.ids)
	v.ids = append(v.ids, id)
}

// Remove deletes id from the passive view, if present.
func (v *PassiveView) Remove(id ID) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.removeLocked(id)
}

func (v *PassiveView) removeLocked(id ID) bool {
	i, ok := v.index[id]
	if !ok {
		return false
	}
	last := len(v.ids) - 1
	v.ids[i] = v.ids[last]
	v.index[v.ids[i]] = i
	v.ids = v.ids[:last]
	delete(v.index, id)
	return true
}

// RemoveRandom evicts n entries, preferring ids present in hint first (the
// shuffle-reply eviction hint from §4.4.6), then falling back to
// uniform-random removal for the remainder. Returns the removed ids.
func (v *PassiveView) RemoveRandom(rng *rand.Rand, n int, hint map[ID]bool) []ID {
	v.mu.Lock()
	defer v.mu.Unlock()

	removed := make([]ID, 0, n)
	if n <= 0 {
		return removed
	}

	if hint != nil {
		for _, id := range append([]ID{}, v.ids...) {
			if len(removed) >= n {
				break
			}
			if hint[id] {
				v.removeLocked(id)
				removed = append(removed, id)
			}
		}
	}

	for len(removed) < n && len(v.ids) > 0 {
		i := rng.Intn(len(v.ids))
		id := v.ids[i]
		v.removeLocked(id)
		removed = append(removed, id)
	}

	return removed
}

// Random returns a uniformly random passive identifier, or false if empty.
func (v *PassiveView) Random(rng *rand.Rand) (ID, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if len(v.ids) == 0 {
		return ID{}, false
	}
	return v.ids[rng.Intn(len(v.ids))], true
}

// Sample returns up to k distinct passive identifiers, chosen uniformly at
// random without replacement.
func (v *PassiveView) Sample(rng *rand.Rand, k int) []ID {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return sampleIDs(rng, v.ids, k)
}

// Snapshot returns a stable copy of the current passive identifiers.
func (v *PassiveView) Snapshot() []ID {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]ID, len(v.ids))
	copy(out, v.ids)
	return out
}

func sampleIDs(rng *rand.Rand, from []ID, k int) []ID {
	if k > len(from) {
		k = len(from)
	}
	pool := make([]ID, len(from))
	copy(pool, from)
	rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	return pool[:k]
}
