package timectrl

import (
	"context"
	"math"
	"sync"
	"time"
)

// Playback speed bounds and increments.
const (
	DefaultSpeed = 1.0
	MinSpeed     = 0.2

	coarseStep = 0.5
	fineStep   = 0.1
)

// maxLag is how far the loop may fall behind wall time before the pacer
// gives up catching up and re-anchors at the current position.
const maxLag = time.Second

// Clock is the wall clock a Pacer sleeps on. Tests substitute a fake so
// pacing can be checked without sleeping.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns the system clock.
func RealClock() Clock { return realClock{} }

// Option configures a Pacer.
type Option func(*Pacer)

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(p *Pacer) {
		if c != nil {
			p.clock = c
		}
	}
}

// Pacer maps simulated seconds onto wall-clock time at an adjustable
// playback speed. Simulated time t is due at
//
//	anchorWall + (t - anchorSim) / speed
//
// and the anchors move whenever the speed changes or playback resumes, so
// a change never makes the loop jump or stall.
type Pacer struct {
	mu    sync.Mutex
	clock Clock
	speed float64

	anchorWall time.Time
	anchorSim  float64
	lastSim    float64
	anchored   bool
	paused     bool
}

// NewPacer constructs a pacer at the given speed. Non-positive speeds fall
// back to real time.
func NewPacer(speed float64, opts ...Option) *Pacer {
	p := &Pacer{clock: realClock{}, speed: DefaultSpeed}
	if speed > 0 && !math.IsInf(speed, 0) {
		p.speed = math.Max(speed, MinSpeed)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Wait blocks until simTime is due on the wall clock or ctx is done. The
// first call anchors the pacer. A paused pacer never blocks; the caller
// holds the loop itself.
func (p *Pacer) Wait(ctx context.Context, simTime float64) error {
	p.mu.Lock()
	if p.paused {
		p.mu.Unlock()
		return nil
	}
	now := p.clock.Now()
	if !p.anchored {
		p.anchorLocked(now, simTime)
	}
	p.lastSim = simTime
	due := p.dueLocked(simTime)
	delay := due.Sub(now)
	if delay < -maxLag {
		p.anchorLocked(now, simTime)
		delay = 0
	}
	p.mu.Unlock()

	if delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.clock.After(delay):
		return nil
	}
}

// Pause stops pacing until Resume.
func (p *Pacer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
}

// Resume restarts pacing with simTime due now.
func (p *Pacer) Resume(simTime float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
	p.lastSim = simTime
	p.anchorLocked(p.clock.Now(), simTime)
}

// Paused reports whether the pacer is paused.
func (p *Pacer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Speed returns the playback multiplier.
func (p *Pacer) Speed() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speed
}

// SetSpeed changes the playback multiplier, clamped to MinSpeed, and
// returns the value in effect.
func (p *Pacer) SetSpeed(speed float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.setSpeedLocked(speed)
}

// SpeedUp adds a coarse step at or above real time and a fine step below.
func (p *Pacer) SpeedUp() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.speed >= 1 {
		return p.setSpeedLocked(p.speed + coarseStep)
	}
	return p.setSpeedLocked(p.speed + fineStep)
}

// SpeedDown removes a coarse step while well above real time, snaps to
// real time just above it, and removes a fine step below.
func (p *Pacer) SpeedDown() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.speed >= 1+coarseStep:
		return p.setSpeedLocked(p.speed - coarseStep)
	case p.speed > 1:
		return p.setSpeedLocked(1)
	default:
		return p.setSpeedLocked(p.speed - fineStep)
	}
}

// ResetSpeed returns to real time.
func (p *Pacer) ResetSpeed() float64 {
	return p.SetSpeed(DefaultSpeed)
}

func (p *Pacer) setSpeedLocked(speed float64) float64 {
	// Increments of 0.1 accumulate binary error; keep one decimal.
	speed = math.Round(speed*10) / 10
	if speed < MinSpeed {
		speed = MinSpeed
	}
	if p.anchored {
		p.anchorLocked(p.clock.Now(), p.lastSim)
	}
	p.speed = speed
	return speed
}

func (p *Pacer) anchorLocked(now time.Time, simTime float64) {
	p.anchorWall = now
	p.anchorSim = simTime
	p.anchored = true
}

func (p *Pacer) dueLocked(simTime float64) time.Time {
	offset := (simTime - p.anchorSim) / p.speed
	return p.anchorWall.Add(time.Duration(offset * float64(time.Second)))
}
