package membership

import (
	"github.com/mosaicnetworks/hyparview/common"
	"github.com/mosaicnetworks/hyparview/peers"
)

// addNodeActive implements the add_node_active policy of §4.4.5. It must
// only be called from the node's own event-processing goroutine.
func (n *Node) addNodeActive(p *peers.Peer) error {
	if p.ID == n.selfID || n.active.Contains(p.ID) {
		return common.ErrAlreadyInActive
	}

	if n.active.Full() {
		victim, ok := n.active.Random(n.rng)
		if ok {
			n.active.Remove(victim.ID)
			victim.Conn.Disconnect()
			n.addNodePassive(victim.ID)
			n.callback.LinkDown(victim.ID)
			n.logger.WithField("peer", victim.ID).Debug("evicted active peer to make room")
		}
	}

	n.active.Insert(p)
	n.passive.Remove(p.ID)
	n.callback.LinkUp(p.ID)
	n.logger.WithField("peer", p.ID).Debug("added active peer")
	return nil
}

// addNodePassive implements add_node_passive (§4.4.6): disjointness is
// checked here so every caller gets the same guard.
func (n *Node) addNodePassive(id peers.ID) {
	if id == n.selfID || n.active.Contains(id) || n.passive.Contains(id) {
		return
	}
	if n.passive.Full() {
		n.passive.RemoveRandom(n.rng, n.passive.Len()-n.config.PassiveSize+1, nil)
	}
	n.passive.Add(id)
}

// integrate implements §4.4.6's integrate(xlist, eviction_hint): filter out
// self, active members, and existing passive members, free exactly enough
// room (hinted entries first), then append what remains.
func (n *Node) integrate(xlist []peers.ID, hint map[peers.ID]bool) {
	filtered := make([]peers.ID, 0, len(xlist))
	for _, id := range xlist {
		if id == n.selfID || n.active.Contains(id) || n.passive.Contains(id) {
			continue
		}
		filtered = append(filtered, id)
	}
	if len(filtered) == 0 {
		return
	}

	needed := n.passive.Len() + len(filtered) - n.config.PassiveSize
	if needed > 0 {
		n.passive.RemoveRandom(n.rng, needed, hint)
	}
	for _, id := range filtered {
		n.passive.Add(id)
	}
}

func toSet(ids []peers.ID) map[peers.ID]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[peers.ID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
