package timectrl

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock advances instantly whenever something waits on it.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func near(got, want time.Duration) bool {
	diff := got - want
	return diff > -time.Millisecond && diff < time.Millisecond
}

func TestPacerRealTime(t *testing.T) {
	clock := newFakeClock()
	p := NewPacer(1, WithClock(clock))
	ctx := context.Background()

	if err := p.Wait(ctx, 0); err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	for i := 1; i <= 3; i++ {
		if err := p.Wait(ctx, float64(i)*0.5); err != nil {
			t.Fatalf("Wait error: %v", err)
		}
	}
	if len(clock.sleeps) != 3 {
		t.Fatalf("sleeps = %v, want 3", clock.sleeps)
	}
	for _, d := range clock.sleeps {
		if !near(d, 500*time.Millisecond) {
			t.Fatalf("sleep %v, want 500ms", d)
		}
	}
}

func TestPacerSpeedScalesWaits(t *testing.T) {
	clock := newFakeClock()
	p := NewPacer(2, WithClock(clock))
	ctx := context.Background()

	_ = p.Wait(ctx, 0)
	_ = p.Wait(ctx, 1)
	if !near(clock.sleeps[0], 500*time.Millisecond) {
		t.Fatalf("sleep at 2x = %v, want 500ms", clock.sleeps[0])
	}

	// Changing speed re-anchors at the last simulated time.
	p.SetSpeed(0.5)
	_ = p.Wait(ctx, 2)
	if !near(clock.sleeps[1], 2*time.Second) {
		t.Fatalf("sleep at 0.5x = %v, want 2s", clock.sleeps[1])
	}
}

func TestPacerDoesNotSleepWhenBehind(t *testing.T) {
	clock := newFakeClock()
	p := NewPacer(1, WithClock(clock))
	ctx := context.Background()

	_ = p.Wait(ctx, 0)
	clock.advance(300 * time.Millisecond)
	_ = p.Wait(ctx, 0.1)
	if len(clock.sleeps) != 0 {
		t.Fatalf("slept %v while behind schedule", clock.sleeps)
	}

	// Far behind: re-anchor rather than sprint to catch up.
	clock.advance(5 * time.Second)
	_ = p.Wait(ctx, 0.2)
	_ = p.Wait(ctx, 0.3)
	if len(clock.sleeps) != 1 || !near(clock.sleeps[0], 100*time.Millisecond) {
		t.Fatalf("sleeps after re-anchor = %v, want [100ms]", clock.sleeps)
	}
}

func TestPacerPauseResume(t *testing.T) {
	clock := newFakeClock()
	p := NewPacer(1, WithClock(clock))
	ctx := context.Background()

	_ = p.Wait(ctx, 0)
	p.Pause()
	if !p.Paused() {
		t.Fatalf("Paused = false after Pause")
	}
	if err := p.Wait(ctx, 10); err != nil || len(clock.sleeps) != 0 {
		t.Fatalf("paused Wait slept or failed: %v %v", err, clock.sleeps)
	}

	clock.advance(time.Hour)
	p.Resume(1)
	_ = p.Wait(ctx, 1.25)
	if len(clock.sleeps) != 1 || !near(clock.sleeps[0], 250*time.Millisecond) {
		t.Fatalf("sleeps after resume = %v, want [250ms]", clock.sleeps)
	}
}

func TestPacerWaitHonoursContext(t *testing.T) {
	p := NewPacer(1)
	ctx, cancel := context.WithCancel(context.Background())
	_ = p.Wait(ctx, 0)
	cancel()
	if err := p.Wait(ctx, 60); err == nil {
		t.Fatalf("Wait returned nil after cancel")
	}
}

func TestPacerSpeedSteps(t *testing.T) {
	p := NewPacer(1)
	ups := []float64{1.5, 2, 2.5}
	for _, want := range ups {
		if got := p.SpeedUp(); got != want {
			t.Fatalf("SpeedUp = %v, want %v", got, want)
		}
	}
	downs := []float64{2, 1.5, 1, 0.9, 0.8}
	for _, want := range downs {
		if got := p.SpeedDown(); got != want {
			t.Fatalf("SpeedDown = %v, want %v", got, want)
		}
	}
	if got := p.SpeedUp(); got != 0.9 {
		t.Fatalf("SpeedUp below real time = %v, want 0.9", got)
	}

	p.SetSpeed(1.2)
	if got := p.SpeedDown(); got != 1 {
		t.Fatalf("SpeedDown from 1.2 = %v, want 1", got)
	}
	for range 20 {
		p.SpeedDown()
	}
	if p.Speed() != MinSpeed {
		t.Fatalf("speed = %v, want floor %v", p.Speed(), MinSpeed)
	}
	if got := p.ResetSpeed(); got != 1 {
		t.Fatalf("ResetSpeed = %v", got)
	}
	if NewPacer(0).Speed() != DefaultSpeed || NewPacer(0.01).Speed() != MinSpeed {
		t.Fatalf("constructor did not clamp speed")
	}
}
