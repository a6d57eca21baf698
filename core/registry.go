package core

import (
	"iter"

	"github.com/signalsfoundry/vanet-simulator/internal/logging"
)

// DefaultCompactThreshold is the number of disabled nodes that triggers a
// registry compaction.
const DefaultCompactThreshold = 10

// Registry is the insertion-ordered set of nodes owned by one World.
//
// Disabling is O(1) and only flips a flag; disabled nodes are dropped in
// batches by Compact. The registry is not safe for concurrent use and is
// confined to the goroutine driving the World.
type Registry struct {
	nodes          []*Node
	disabled       int
	threshold      int
	drawingEnabled bool
	log            logging.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithCompactThreshold sets how many disabled nodes trigger compaction.
func WithCompactThreshold(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.threshold = n
		}
	}
}

// WithDrawing enables drawing annotations on nodes created afterwards.
func WithDrawing(enabled bool) RegistryOption {
	return func(r *Registry) { r.drawingEnabled = enabled }
}

// WithRegistryLogger sets the logger used for usage warnings.
func WithRegistryLogger(l logging.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		threshold: DefaultCompactThreshold,
		log:       logging.Noop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) add(n *Node) {
	r.nodes = append(r.nodes, n)
}

// Disable marks n as removed. It reports false if n is nil, foreign, or
// already disabled.
func (r *Registry) Disable(n *Node) bool {
	if n == nil || n.registry != r || !n.enabled {
		return false
	}
	n.enabled = false
	r.disabled++
	return true
}

// Lookup returns the first live node with the given id, or nil.
func (r *Registry) Lookup(id string) *Node {
	for _, n := range r.nodes {
		if n.enabled && n.id == id {
			return n
		}
	}
	return nil
}

// All yields live nodes in insertion order. A node disabled during
// iteration is skipped if it has not been visited yet; nodes added during
// iteration are not visited.
func (r *Registry) All() iter.Seq[*Node] {
	nodes := r.nodes
	return func(yield func(*Node) bool) {
		for _, n := range nodes {
			if !n.enabled {
				continue
			}
			if !yield(n) {
				return
			}
		}
	}
}

// Nodes returns a snapshot of the live nodes.
func (r *Registry) Nodes() []*Node {
	out := make([]*Node, 0, len(r.nodes)-r.disabled)
	for n := range r.All() {
		out = append(out, n)
	}
	return out
}

// Len is the number of live nodes.
func (r *Registry) Len() int { return len(r.nodes) - r.disabled }

// Disabled is the number of disabled nodes still held.
func (r *Registry) Disabled() int { return r.disabled }

// Threshold is the compaction trigger.
func (r *Registry) Threshold() int { return r.threshold }

// Compact drops disabled nodes once at least Threshold of them have built
// up and returns how many were dropped.
func (r *Registry) Compact() int {
	if r.disabled < r.threshold {
		return 0
	}
	return r.compact()
}

func (r *Registry) compact() int {
	live := make([]*Node, 0, len(r.nodes)-r.disabled)
	for _, n := range r.nodes {
		if n.enabled {
			live = append(live, n)
		}
	}
	dropped := len(r.nodes) - len(live)
	r.nodes = live
	r.disabled = 0
	return dropped
}
