package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/vanet-simulator/internal/logging"
)

var (
	ErrNoScenario     = errors.New("simulation has no scenario")
	ErrScenarioCreate = errors.New("scenario creation failed")
	ErrInvalidConfig  = errors.New("invalid simulation config")
	ErrAlreadyRunning = errors.New("simulation already started")
)

// Config is the run configuration of a World.
type Config struct {
	// StopTime bounds simulated time in seconds; <= 0 runs until stopped.
	StopTime float64
	// Step is the mobility step in simulated seconds.
	Step float64
	// Speed is the playback multiplier used when a pacer is attached.
	Speed float64
	// Display turns on drawing annotations for every node.
	Display bool
	// StartPaused holds the loop after the start event until Resume.
	StartPaused bool
	// CompactThreshold is the disabled-node count that triggers compaction.
	CompactThreshold int
}

// DefaultConfig returns a 0.1s step at real-time speed with no stop time.
func DefaultConfig() Config {
	return Config{
		Step:             0.1,
		Speed:            1,
		CompactThreshold: DefaultCompactThreshold,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !(c.Step > 0) || math.IsInf(c.Step, 0) {
		return fmt.Errorf("%w: step must be > 0, got %v", ErrInvalidConfig, c.Step)
	}
	if !(c.Speed > 0) {
		return fmt.Errorf("%w: speed must be > 0, got %v", ErrInvalidConfig, c.Speed)
	}
	if math.IsNaN(c.StopTime) {
		return fmt.Errorf("%w: stop time is NaN", ErrInvalidConfig)
	}
	if c.CompactThreshold < 0 {
		return fmt.Errorf("%w: compact threshold must be >= 0, got %d", ErrInvalidConfig, c.CompactThreshold)
	}
	return nil
}

// MetricsRecorder receives run metrics from a World.
type MetricsRecorder interface {
	ObserveEvent(kind string)
	ObserveStep(simTime float64, wall time.Duration)
	SetNodeCounts(live, disabled int)
	ObserveCompaction(dropped int)
}

// StepObserver is called after every mobility step, once the scenario has
// handled the step event. Observers must not mutate simulation state.
type StepObserver interface {
	OnStep(w *World) error
}

// Pacer throttles the loop to a playback speed. It is only attached for
// displayed runs; headless runs go as fast as the engine allows.
type Pacer interface {
	Wait(ctx context.Context, simTime float64) error
	Pause()
	Resume(simTime float64)
	Speed() float64
	SpeedUp() float64
	SpeedDown() float64
	ResetSpeed() float64
}

// Background is an image the renderer places under the scenario.
type Background struct {
	Image string  `json:"image"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

type runState int

const (
	stateIdle runState = iota
	stateRunning
	statePaused
	stateEnded
)

type controlOp int

const (
	opPause controlOp = iota
	opResume
	opStop
	opFaster
	opSlower
	opResetSpeed
)

func (o controlOp) String() string {
	switch o {
	case opPause:
		return "pause"
	case opResume:
		return "resume"
	case opStop:
		return "stop"
	case opFaster:
		return "faster"
	case opSlower:
		return "slower"
	case opResetSpeed:
		return "reset_speed"
	default:
		return "unknown"
	}
}

// Option configures a World.
type Option func(*World)

// WithLogger sets the world's logger.
func WithLogger(l logging.Logger) Option {
	return func(w *World) {
		if l != nil {
			w.log = l
		}
	}
}

// WithMetricsRecorder wires a metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(w *World) { w.metrics = m }
}

// WithTracer overrides the tracer used for run and step spans.
func WithTracer(t trace.Tracer) Option {
	return func(w *World) {
		if t != nil {
			w.tracer = t
		}
	}
}

// WithPacer attaches a playback pacer.
func WithPacer(p Pacer) Option {
	return func(w *World) { w.pacer = p }
}

// WithStepObserver adds an observer called after every step.
func WithStepObserver(o StepObserver) Option {
	return func(w *World) {
		if o != nil {
			w.observers = append(w.observers, o)
		}
	}
}

// World owns the clock, the registry and the scenario of one simulation.
// Everything except the control methods (Pause, Resume, Stop and the speed
// controls) must be called from the goroutine running the World.
type World struct {
	cfg        Config
	name       string
	background Background
	scenario   Scenario
	engine     *SimulationEngine
	registry   *Registry

	log logging.Logger
	// ctrlLog is fixed at construction; send reads it from any goroutine
	// while Run swaps log for the run-scoped logger.
	ctrlLog   logging.Logger
	metrics   MetricsRecorder
	tracer    trace.Tracer
	pacer     Pacer
	observers []StepObserver

	ctrl        chan controlOp
	state       runState
	initialised bool
	runCtx      context.Context
}

// NewWorld constructs a world for sc. A nil scenario is reported by Init.
func NewWorld(cfg Config, sc Scenario, opts ...Option) *World {
	w := &World{
		cfg:      cfg,
		name:     "unnamed scenario",
		scenario: sc,
		engine:   NewSimulationEngine(cfg.StopTime),
		log:      logging.Noop(),
		tracer:   otel.Tracer("github.com/signalsfoundry/vanet-simulator/core"),
		ctrl:     make(chan controlOp, 32),
		runCtx:   context.Background(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.ctrlLog = w.log
	threshold := cfg.CompactThreshold
	if threshold == 0 {
		threshold = DefaultCompactThreshold
	}
	w.registry = NewRegistry(
		WithCompactThreshold(threshold),
		WithDrawing(cfg.Display),
		WithRegistryLogger(w.log),
	)
	return w
}

func (w *World) Registry() *Registry        { return w.registry }
func (w *World) Engine() *SimulationEngine  { return w.engine }
func (w *World) Scenario() Scenario         { return w.scenario }
func (w *World) Logger() logging.Logger     { return w.log }
func (w *World) Config() Config             { return w.cfg }
func (w *World) Name() string               { return w.name }
func (w *World) Background() Background     { return w.background }
func (w *World) IsDisplay() bool            { return w.cfg.Display }
func (w *World) Now() float64               { return w.engine.Now() }
func (w *World) Step() float64              { return w.cfg.Step }
func (w *World) SetName(name string)        { w.name = name }
func (w *World) SetBackground(b Background) { w.background = b }

// SetStep changes the mobility step from the next reschedule on.
func (w *World) SetStep(step float64) error {
	if !(step > 0) || math.IsInf(step, 0) {
		return fmt.Errorf("%w: step must be > 0, got %v", ErrInvalidConfig, step)
	}
	w.cfg.Step = step
	return nil
}

// NewNode creates a node registered with this world.
func (w *World) NewNode(id string, kind NodeType, mob Mobility, ch Channel) *Node {
	return NewNode(w.registry, id, kind, mob, ch)
}

// Schedule queues a process relative to the current simulation time.
func (w *World) Schedule(fn Process, arg any, delay float64) error {
	return w.engine.Schedule(fn, arg, delay)
}

// Speed is the current playback multiplier.
func (w *World) Speed() float64 {
	if w.pacer != nil {
		return w.pacer.Speed()
	}
	return w.cfg.Speed
}

// Progress is the percentage of StopTime simulated so far, or -1 when the
// run has no stop time.
func (w *World) Progress() int {
	if w.cfg.StopTime <= 0 {
		return -1
	}
	return min(100, int(100*w.engine.Now()/w.cfg.StopTime))
}

// Init validates the configuration and lets the scenario build the world.
func (w *World) Init(ctx context.Context) error {
	if w.initialised {
		return ErrAlreadyRunning
	}
	if err := w.cfg.Validate(); err != nil {
		return err
	}
	if w.scenario == nil {
		return ErrNoScenario
	}
	if err := w.scenario.OnCreate(w); err != nil {
		return fmt.Errorf("%w: %w", ErrScenarioCreate, err)
	}
	w.initialised = true
	w.recordNodeCounts()
	w.log.Info(ctx, "scenario created",
		logging.String("scenario", w.name),
		logging.Int("nodes", w.registry.Len()),
	)
	return nil
}

// Start delivers the start event and schedules the first mobility step.
// Run calls it; hosts driving the loop through Tick call it themselves.
func (w *World) Start(ctx context.Context) error {
	if !w.initialised {
		if err := w.Init(ctx); err != nil {
			return err
		}
	}
	if w.state != stateIdle {
		return ErrAlreadyRunning
	}
	w.state = stateRunning
	w.emit(NewEvent(EventStart, nil))
	if err := w.engine.Schedule(w.mobilityStep, nil, w.cfg.Step); err != nil {
		return err
	}
	if w.cfg.StartPaused {
		w.apply(opPause)
	}
	return nil
}

// Tick compacts the registry if enough nodes were removed and runs the next
// due process. It reports false once the engine has no more work within
// the stop time.
func (w *World) Tick() bool {
	if dropped := w.registry.Compact(); dropped > 0 {
		if w.metrics != nil {
			w.metrics.ObserveCompaction(dropped)
		}
		w.log.Debug(w.runCtx, "registry compacted", logging.Int("dropped", dropped))
		w.recordNodeCounts()
	}
	return w.engine.Advance()
}

// Run drives the simulation until the engine runs out of work, Stop is
// called or ctx is cancelled. Cancellation is treated as a stop request.
func (w *World) Run(ctx context.Context) error {
	ctx, log := logging.WithRunLogger(ctx, w.log)
	w.log = log
	w.registry.log = log

	ctx, span := w.tracer.Start(ctx, "simulation.run", trace.WithAttributes(
		attribute.String("scenario", w.name),
		attribute.Float64("stop_time", w.cfg.StopTime),
		attribute.Float64("step", w.cfg.Step),
	))
	defer span.End()
	w.runCtx = ctx

	if err := w.Start(ctx); err != nil {
		span.RecordError(err)
		return err
	}
	log.Info(ctx, "simulation started",
		logging.String("scenario", w.name),
		logging.Float("stop_time", w.cfg.StopTime),
		logging.Float("step", w.cfg.Step),
		logging.Bool("display", w.cfg.Display),
	)

	for w.state != stateEnded {
		if ctx.Err() != nil {
			w.apply(opStop)
			break
		}
		w.drainControl()
		if w.state == statePaused {
			select {
			case <-ctx.Done():
			case op := <-w.ctrl:
				w.apply(op)
			}
			continue
		}
		if w.state != stateRunning {
			continue
		}
		if !w.Tick() {
			w.state = stateEnded
			w.emit(NewEvent(EventEnd, nil))
		}
	}

	span.SetAttributes(
		attribute.Float64("sim_time", w.engine.Now()),
		attribute.Int64("events_processed", int64(w.engine.Processed())),
	)
	log.Info(ctx, "simulation finished",
		logging.SimTime(w.engine.Now()),
		logging.Any("events_processed", w.engine.Processed()),
	)
	return nil
}

// Pause holds the loop after the current event. Safe from any goroutine.
func (w *World) Pause() { w.send(opPause) }

// Resume continues a paused loop. Safe from any goroutine.
func (w *World) Resume() { w.send(opResume) }

// Stop delivers a stop event and ends the run. Safe from any goroutine.
func (w *World) Stop() { w.send(opStop) }

// SpeedUp raises the playback speed. Safe from any goroutine.
func (w *World) SpeedUp() { w.send(opFaster) }

// SpeedDown lowers the playback speed. Safe from any goroutine.
func (w *World) SpeedDown() { w.send(opSlower) }

// ResetSpeed returns to real-time playback. Safe from any goroutine.
func (w *World) ResetSpeed() { w.send(opResetSpeed) }

func (w *World) send(op controlOp) {
	select {
	case w.ctrl <- op:
	default:
		w.ctrlLog.Warn(context.Background(), "control queue full; dropping command", logging.String("command", op.String()))
	}
}

func (w *World) drainControl() {
	for {
		select {
		case op := <-w.ctrl:
			w.apply(op)
		default:
			return
		}
	}
}

func (w *World) apply(op controlOp) {
	switch op {
	case opPause:
		if w.state != stateRunning {
			return
		}
		w.state = statePaused
		if w.pacer != nil {
			w.pacer.Pause()
		}
		w.emit(NewEvent(EventPause, nil))
	case opResume:
		if w.state != statePaused {
			return
		}
		w.state = stateRunning
		if w.pacer != nil {
			w.pacer.Resume(w.engine.Now())
		}
		w.emit(NewEvent(EventResume, nil))
	case opStop:
		if w.state == stateEnded || w.state == stateIdle {
			return
		}
		w.state = stateEnded
		w.emit(NewEvent(EventStop, nil))
		w.log.Info(w.runCtx, "simulation stopped", logging.SimTime(w.engine.Now()))
	case opFaster, opSlower, opResetSpeed:
		if w.pacer == nil {
			return
		}
		var speed float64
		switch op {
		case opFaster:
			speed = w.pacer.SpeedUp()
		case opSlower:
			speed = w.pacer.SpeedDown()
		default:
			speed = w.pacer.ResetSpeed()
		}
		w.cfg.Speed = speed
		w.log.Info(w.runCtx, "playback speed changed", logging.Float("speed", speed))
	}
}

func (w *World) emit(ev Event) {
	if w.metrics != nil {
		w.metrics.ObserveEvent(ev.Kind.String())
	}
	w.scenario.OnEvent(w.engine.Now(), ev)
}

// mobilityStep advances every live node by one step, reports completed
// paths and the step itself, and reschedules itself.
func (w *World) mobilityStep(any) {
	started := time.Now()
	now := w.engine.Now()
	_, span := w.tracer.Start(w.runCtx, "simulation.step", trace.WithAttributes(
		attribute.Float64("sim_time", now),
	))
	defer span.End()

	step := w.cfg.Step
	for n := range w.registry.All() {
		if n.mobility.Advance(step) {
			w.emit(PathCompleteEvent(n))
		}
	}
	w.emit(NewEvent(EventStep, nil))

	if err := w.engine.Schedule(w.mobilityStep, nil, w.cfg.Step); err != nil {
		w.log.Error(w.runCtx, "failed to reschedule mobility step", logging.Err(err))
	}

	for _, o := range w.observers {
		if err := o.OnStep(w); err != nil {
			w.log.Warn(w.runCtx, "step observer failed", logging.Err(err))
		}
	}

	w.recordNodeCounts()
	if w.metrics != nil {
		w.metrics.ObserveStep(now, time.Since(started))
	}
	span.SetAttributes(attribute.Int("live_nodes", w.registry.Len()))

	if w.pacer != nil && w.state == stateRunning {
		if err := w.pacer.Wait(w.runCtx, now); err != nil && !errors.Is(err, context.Canceled) {
			w.log.Warn(w.runCtx, "pacer wait failed", logging.Err(err))
		}
	}
}

func (w *World) recordNodeCounts() {
	if w.metrics != nil {
		w.metrics.SetNodeCounts(w.registry.Len(), w.registry.Disabled())
	}
}
