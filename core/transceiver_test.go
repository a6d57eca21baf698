package core

import (
	"math"
	"testing"
)

func TestBroadcastUnicastReceivedSignal(t *testing.T) {
	reg := NewRegistry()
	disc := NewDiscModel(2.4, 100)
	a := placeNode(reg, "A", Position{}, disc)
	b := placeNode(reg, "B", Position{X: 50}, disc)
	placeNode(reg, "C", Position{X: 150}, disc)

	sig := NewSignal(a, 1)
	reached := a.Transceiver().Broadcast(sig)
	if len(reached) != 1 || reached[0] != b {
		t.Fatalf("Broadcast = %v, want [B]", reached)
	}

	if got := a.Transceiver().Unicast(sig, b); got != b {
		t.Fatalf("Unicast = %v, want B", got)
	}
	rx := b.Transceiver().ReceivedSignal(a, sig)
	if math.Abs(rx.Quality-0.5) > 1e-9 {
		t.Fatalf("received quality = %v, want 0.5", rx.Quality)
	}
	if !b.Transceiver().CanDetect(rx) {
		t.Fatalf("CanDetect false for rx power %v", rx.RxPower)
	}
	if sig.Quality != 0 || sig.RxPower != 0 {
		t.Fatalf("sender's signal was mutated: %+v", sig)
	}
}

func TestReceivedSignalCopiesPerReceiver(t *testing.T) {
	reg := NewRegistry()
	disc := NewDiscModel(2.4, 100)
	a := placeNode(reg, "A", Position{}, disc)
	near := placeNode(reg, "near", Position{X: 10}, disc)
	far := placeNode(reg, "far", Position{X: 80}, disc)

	sig := NewSignal(a, 1)
	rNear := near.Transceiver().ReceivedSignal(a, sig)
	rFar := far.Transceiver().ReceivedSignal(a, sig)
	if rNear == rFar || rNear.Quality == rFar.Quality {
		t.Fatalf("receivers share distortion: near %+v far %+v", rNear, rFar)
	}
	if rNear.Source != a || rFar.Source != a {
		t.Fatalf("copy lost source")
	}
}

func TestBroadcastPreservesRegistryOrder(t *testing.T) {
	reg := NewRegistry()
	disc := NewDiscModel(2.4, 100)
	ids := []string{"n3", "n1", "n4", "n2"}
	var src *Node
	for i, id := range ids {
		n := placeNode(reg, id, Position{X: float64(i)}, disc)
		if i == 0 {
			src = n
		}
	}
	got := src.Transceiver().Broadcast(NewSignal(src, 1))
	if len(got) != 3 {
		t.Fatalf("Broadcast returned %d nodes, want 3", len(got))
	}
	for i, n := range got {
		if n.ID() != ids[i+1] {
			t.Fatalf("Broadcast[%d] = %s, want %s", i, n.ID(), ids[i+1])
		}
	}
}

func TestDisabledNodeExcludedBeforeCompaction(t *testing.T) {
	reg := NewRegistry()
	disc := NewDiscModel(2.4, 100)
	a := placeNode(reg, "A", Position{}, disc)
	b := placeNode(reg, "B", Position{X: 10}, disc)
	c := placeNode(reg, "C", Position{X: 20}, disc)

	b.Remove()
	if reg.Disabled() != 1 || reg.Compact() != 0 {
		t.Fatalf("compaction should wait for the threshold")
	}
	for _, n := range []*Node{a, c} {
		for _, got := range n.Transceiver().Broadcast(NewSignal(n, 1)) {
			if got == b {
				t.Fatalf("%s broadcast reached disabled node", n.ID())
			}
		}
	}
	if b.ID() != "B" || b.Position() != (Position{X: 10}) {
		t.Fatalf("disabled node handle no longer usable")
	}
}

func TestHandleToDisabledNodeStaysUsableWithinStep(t *testing.T) {
	reg := NewRegistry()
	disc := NewDiscModel(2.4, 100)
	a := placeNode(reg, "A", Position{}, disc)
	b := placeNode(reg, "B", Position{X: 40}, disc)

	b.Remove()
	if a.Transceiver().Unicast(NewSignal(a, 1), b) != b {
		t.Fatalf("unicast to a disabled handle failed")
	}
	q, ok := Hello(a, b)
	if !ok || math.Abs(q-0.6) > 1e-9 {
		t.Fatalf("Hello(A, removed B) = %v,%v; want 0.6,true", q, ok)
	}
	if got := a.Transceiver().Broadcast(NewSignal(a, 1)); len(got) != 0 {
		t.Fatalf("Broadcast = %v, want none", got)
	}
}

func TestMulticastFiltersCandidates(t *testing.T) {
	reg := NewRegistry()
	disc := NewDiscModel(2.4, 30)
	a := placeNode(reg, "A", Position{}, disc)
	b := placeNode(reg, "B", Position{X: 10}, disc)
	c := placeNode(reg, "C", Position{X: 40}, disc)
	d := placeNode(reg, "D", Position{X: 20}, disc)

	got := a.Transceiver().Multicast(NewSignal(a, 1), []*Node{d, c, nil, b})
	if len(got) != 2 || got[0] != d || got[1] != b {
		t.Fatalf("Multicast = %v, want [D B]", got)
	}
	if a.Transceiver().Unicast(NewSignal(a, 1), c) != nil {
		t.Fatalf("Unicast reached out-of-range node")
	}
}

func TestHelloHandshakeQuality(t *testing.T) {
	reg := NewRegistry()
	disc := NewDiscModel(2.4, 100)
	for _, d := range []float64{0, 25, 60, 99} {
		a := placeNode(reg, "A", Position{}, disc)
		b := placeNode(reg, "B", Position{X: d * 0.6, Y: d * 0.8}, disc)
		want := 1 - d/100

		q, ok := Hello(a, b)
		if !ok || math.Abs(q-want) > 1e-9 {
			t.Fatalf("Hello(A,B) at %v = %v,%v; want %v", d, q, ok, want)
		}
		q, ok = Hello(b, a)
		if !ok || math.Abs(q-want) > 1e-9 {
			t.Fatalf("Hello(B,A) at %v = %v,%v; want %v", d, q, ok, want)
		}
		a.Remove()
		b.Remove()
	}
}

func TestHelloFailsOnOneWayCoverage(t *testing.T) {
	reg := NewRegistry()
	// The base station beam points north; the vehicle is south of it.
	bs := placeNode(reg, "bs", Position{}, NewSectorModel(2.4, 100, 60, 0))
	car := placeNode(reg, "car", Position{Y: -30}, NewDiscModel(2.4, 100))

	if car.Transceiver().Unicast(NewSignal(car, 1), bs) == nil {
		t.Fatalf("vehicle's omni probe should reach the base station")
	}
	if _, ok := Hello(car, bs); ok {
		t.Fatalf("handshake succeeded although the reply leg cannot reach")
	}
	if _, ok := Hello(bs, car); ok {
		t.Fatalf("handshake succeeded although the probe leg cannot reach")
	}
}

func TestRegistryLookupAndCompaction(t *testing.T) {
	reg := NewRegistry(WithCompactThreshold(3))
	var nodes []*Node
	for i := range 5 {
		nodes = append(nodes, placeNode(reg, string(rune('a'+i)), Position{X: float64(i)}, nil))
	}
	if reg.Lookup("c") != nodes[2] {
		t.Fatalf("Lookup(c) failed")
	}

	// A recycled node reuses the id of the one it replaces.
	nodes[2].Remove()
	fresh := placeNode(reg, "c", Position{X: 99}, nil)
	if reg.Lookup("c") != fresh {
		t.Fatalf("Lookup should skip the disabled node")
	}
	if nodes[2].Lookup("zzz") != nil {
		t.Fatalf("Lookup of unknown id should be nil")
	}

	nodes[0].Remove()
	if reg.Disable(nodes[0]) {
		t.Fatalf("second Disable should report false")
	}
	if reg.Compact() != 0 {
		t.Fatalf("compacted below threshold")
	}
	nodes[4].Remove()
	if got := reg.Compact(); got != 3 {
		t.Fatalf("Compact dropped %d, want 3", got)
	}
	if reg.Len() != 3 || reg.Disabled() != 0 {
		t.Fatalf("after compaction Len=%d Disabled=%d", reg.Len(), reg.Disabled())
	}
	var ids []string
	for n := range reg.All() {
		ids = append(ids, n.ID())
	}
	if len(ids) != 3 || ids[0] != "b" || ids[1] != "d" || ids[2] != "c" {
		t.Fatalf("order after compaction = %v", ids)
	}
}

func TestRegistryIterationSkipsNodesDisabledMidway(t *testing.T) {
	reg := NewRegistry()
	a := placeNode(reg, "a", Position{}, nil)
	b := placeNode(reg, "b", Position{}, nil)
	visited := 0
	for n := range reg.All() {
		visited++
		if n == a {
			b.Remove()
			placeNode(reg, "late", Position{}, nil)
		}
	}
	if visited != 1 {
		t.Fatalf("visited %d nodes, want 1", visited)
	}
}

func TestNodeGet(t *testing.T) {
	reg := NewRegistry()
	ch := NewDiscModel(2.4, 10)
	n := placeNode(reg, "n", Position{X: 1, Y: 2}, ch)

	if n.Get(KeyLocation) != (Position{X: 1, Y: 2}) {
		t.Fatalf("Get(location) = %v", n.Get(KeyLocation))
	}
	if n.Get(KeyTransceiver) != n.Transceiver() {
		t.Fatalf("Get(transceiver) mismatch")
	}
	if n.Get(KeyMobility) != n.Mobility() {
		t.Fatalf("Get(mobility) mismatch")
	}
	if n.Get("colour") != nil {
		t.Fatalf("unknown key should yield nil")
	}
}
