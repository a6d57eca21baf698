package core

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
)

var ErrInvalidDelay = errors.New("delay must be a non-negative number")

// Process is a scheduled callback. It receives the argument it was
// scheduled with.
type Process func(arg any)

type scheduled struct {
	due float64
	seq uint64
	fn  Process
	arg any
}

type eventQueue []*scheduled

func (q eventQueue) Len() int { return len(q) }
func (q eventQueue) Less(i, j int) bool {
	if q[i].due != q[j].due {
		return q[i].due < q[j].due
	}
	return q[i].seq < q[j].seq
}
func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *eventQueue) Push(x any)   { *q = append(*q, x.(*scheduled)) }
func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// SimulationEngine owns the simulation clock and the queue of pending
// processes. Callbacks may schedule more work; Advance itself must only be
// driven by one caller.
type SimulationEngine struct {
	now       float64
	stopTime  float64
	queue     eventQueue
	seq       uint64
	processed uint64
	running   bool
}

// NewSimulationEngine returns an engine at time 0. A stop time <= 0 means
// run until the queue drains.
func NewSimulationEngine(stopTime float64) *SimulationEngine {
	return &SimulationEngine{stopTime: stopTime}
}

// Now is the current simulation time in seconds.
func (se *SimulationEngine) Now() float64 { return se.now }

// StopTime is the configured stop bound.
func (se *SimulationEngine) StopTime() float64 { return se.stopTime }

// SetStopTime changes the stop bound. A value <= 0 disables it.
func (se *SimulationEngine) SetStopTime(t float64) { se.stopTime = t }

// Pending is the number of queued processes.
func (se *SimulationEngine) Pending() int { return len(se.queue) }

// Processed is the number of callbacks invoked so far.
func (se *SimulationEngine) Processed() uint64 { return se.processed }

// Schedule queues fn to run at Now()+delay. A zero delay runs after every
// entry already due at Now().
func (se *SimulationEngine) Schedule(fn Process, arg any, delay float64) error {
	if fn == nil {
		return errors.New("nil process")
	}
	if delay < 0 || math.IsNaN(delay) || math.IsInf(delay, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidDelay, delay)
	}
	se.seq++
	heap.Push(&se.queue, &scheduled{due: se.now + delay, seq: se.seq, fn: fn, arg: arg})
	return nil
}

// Advance runs the earliest pending process and reports whether it did.
// It returns false when the queue is empty or the next entry is due after
// the stop time; in that case the clock does not move.
func (se *SimulationEngine) Advance() bool {
	if se.running {
		panic("core: SimulationEngine.Advance called from a scheduled process")
	}
	if len(se.queue) == 0 {
		return false
	}
	next := se.queue[0]
	if se.stopTime > 0 && next.due > se.stopTime {
		return false
	}
	heap.Pop(&se.queue)
	se.now = next.due
	se.processed++

	se.running = true
	defer func() { se.running = false }()
	next.fn(next.arg)
	return true
}
