package core

// Transceiver is a node's radio, bound to exactly one channel.
type Transceiver struct {
	node *Node
	ch   Channel
}

// Node is the owner of the transceiver.
func (t *Transceiver) Node() *Node { return t.node }

// Channel is the channel the transceiver transmits and receives on.
func (t *Transceiver) Channel() Channel { return t.ch }

// Broadcast returns every other live node the signal can reach, in
// registry order.
func (t *Transceiver) Broadcast(sig *Signal) []*Node {
	var out []*Node
	for n := range t.node.registry.All() {
		if n == t.node {
			continue
		}
		if t.ch.CanReach(t.node, n, sig) {
			out = append(out, n)
		}
	}
	return out
}

// Multicast returns the candidates the signal can reach, in the caller's
// order. Disabled candidates are not filtered: a handle taken earlier in
// the same step stays usable until compaction.
func (t *Transceiver) Multicast(sig *Signal, candidates []*Node) []*Node {
	var out []*Node
	for _, n := range candidates {
		if n == nil {
			continue
		}
		if t.ch.CanReach(t.node, n, sig) {
			out = append(out, n)
		}
	}
	return out
}

// Unicast returns dst if the signal can reach it, or nil.
func (t *Transceiver) Unicast(sig *Signal, dst *Node) *Node {
	reached := t.Multicast(sig, []*Node{dst})
	if len(reached) == 0 {
		return nil
	}
	return reached[0]
}

// CanDetect gates on receive power only.
func (t *Transceiver) CanDetect(sig *Signal) bool {
	return sig != nil && sig.RxPower > 0
}

// ReceivedSignal returns a copy of sig distorted by the path from src to
// this transceiver's node.
func (t *Transceiver) ReceivedSignal(src *Node, sig *Signal) *Signal {
	return t.ch.Propagate(src, t.node, sig.Copy())
}
