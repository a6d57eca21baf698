package core

import (
	"context"

	"github.com/signalsfoundry/vanet-simulator/internal/logging"
)

// NodeType tags what a node represents.
type NodeType int

const (
	NodeBaseStation NodeType = iota
	NodeVehicle
	NodeDrone
	NodeOther
)

func (t NodeType) String() string {
	switch t {
	case NodeBaseStation:
		return "base_station"
	case NodeVehicle:
		return "vehicle"
	case NodeDrone:
		return "drone"
	default:
		return "other"
	}
}

// Keys accepted by Node.Get.
const (
	KeyLocation    = "location"
	KeyDirection   = "direction"
	KeyMobility    = "mobility"
	KeyTransceiver = "transceiver"
)

// Node is a radio endpoint in the simulation. Pointers to a node stay
// valid after Remove; the node is only dropped from its registry when the
// registry is compacted.
type Node struct {
	id       string
	kind     NodeType
	enabled  bool
	mobility Mobility
	trx      *Transceiver
	drawing  *Drawing
	registry *Registry
}

// NewNode constructs a node and registers it with reg. A nil channel
// leaves the node without a transceiver.
func NewNode(reg *Registry, id string, kind NodeType, mob Mobility, ch Channel) *Node {
	if mob == nil {
		mob = NewStationary(Position{}, North)
	}
	n := &Node{
		id:       id,
		kind:     kind,
		enabled:  true,
		mobility: mob,
		drawing:  newDrawing(reg.drawingEnabled),
		registry: reg,
	}
	if ch != nil {
		n.trx = &Transceiver{node: n, ch: ch}
	}
	reg.add(n)
	return n
}

func (n *Node) ID() string                { return n.id }
func (n *Node) Type() NodeType            { return n.kind }
func (n *Node) Enabled() bool             { return n.enabled }
func (n *Node) Mobility() Mobility        { return n.mobility }
func (n *Node) Transceiver() *Transceiver { return n.trx }
func (n *Node) Drawing() *Drawing         { return n.drawing }

// Position is the node's current location.
func (n *Node) Position() Position { return n.mobility.Position() }

// Direction is the node's current heading.
func (n *Node) Direction() Direction { return n.mobility.Direction() }

// SetMobility swaps the node's mobility model.
func (n *Node) SetMobility(m Mobility) {
	if m != nil {
		n.mobility = m
	}
}

// SetChannel binds the node's transceiver to ch, creating it if needed.
func (n *Node) SetChannel(ch Channel) {
	if ch == nil {
		n.trx = nil
		return
	}
	if n.trx == nil {
		n.trx = &Transceiver{node: n}
	}
	n.trx.ch = ch
}

// Remove disables the node. It stays addressable until the registry is
// compacted.
func (n *Node) Remove() {
	n.registry.Disable(n)
}

// Get looks up one of the node's components by key. Unknown keys are
// logged and yield nil.
func (n *Node) Get(key string) any {
	switch key {
	case KeyLocation:
		return n.Position()
	case KeyDirection:
		return n.Direction()
	case KeyMobility:
		return n.mobility
	case KeyTransceiver:
		return n.trx
	}
	n.registry.log.Warn(context.Background(), "unknown node query key",
		logging.String("node_id", n.id),
		logging.String("key", key),
	)
	return nil
}

// Lookup finds a live node by id in the same registry.
func (n *Node) Lookup(id string) *Node {
	return n.registry.Lookup(id)
}

func (n *Node) String() string { return n.kind.String() + ":" + n.id }
