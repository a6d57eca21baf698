package viewer

import (
	"sync"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/vanet-simulator/core"
	"github.com/signalsfoundry/vanet-simulator/internal/render"
)

// DefaultBuffer is the per-subscriber frame backlog.
const DefaultBuffer = 64

// Hub fans frames out to subscribers. It implements core.StepObserver and
// only builds a frame when someone is watching. A subscriber whose buffer
// is full misses frames rather than stalling the simulation.
type Hub struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	closed  bool
	dropped int
}

// Subscription receives frames on C until the hub closes or the
// subscription is cancelled.
type Subscription struct {
	C   <-chan *structpb.Struct
	ch  chan *structpb.Struct
	hub *Hub
}

// NewHub returns a hub with no subscribers.
func NewHub() *Hub {
	return &Hub{subs: map[*Subscription]struct{}{}}
}

// Subscribe registers a subscriber with the given backlog. Subscribing to
// a closed hub yields an already closed channel.
func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan *structpb.Struct, buffer)
	sub := &Subscription{C: ch, ch: ch, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Cancel unregisters the subscription and closes its channel.
func (s *Subscription) Cancel() {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
	}
}

// Subscribers is the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped is the number of frames not delivered to full subscribers.
func (h *Hub) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// OnStep implements core.StepObserver.
func (h *Hub) OnStep(w *core.World) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || len(h.subs) == 0 {
		return nil
	}
	frame, err := render.BuildFrame(w)
	if err != nil {
		return err
	}
	for sub := range h.subs {
		select {
		case sub.ch <- frame:
		default:
			h.dropped++
		}
	}
	return nil
}

// Close ends every subscription. Frames already buffered stay readable.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.ch)
		delete(h.subs, sub)
	}
}
