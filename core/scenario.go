package core

import (
	"context"

	"github.com/signalsfoundry/vanet-simulator/internal/logging"
)

// Scenario is the application logic driven by a World.
type Scenario interface {
	// OnCreate populates the world before the loop starts. A non-nil error
	// aborts the run.
	OnCreate(w *World) error
	// OnEvent is called for every lifecycle and step event.
	OnEvent(simTime float64, ev Event)
}

// BaseScenario can be embedded by scenarios that only care about some
// hooks. Each default hook logs that it was not overridden.
type BaseScenario struct {
	Log logging.Logger
}

func (b BaseScenario) OnCreate(*World) error {
	b.logger().Warn(context.Background(), "scenario hook not implemented", logging.String("hook", "OnCreate"))
	return nil
}

func (b BaseScenario) OnEvent(simTime float64, ev Event) {
	b.logger().Warn(context.Background(), "scenario hook not implemented",
		logging.String("hook", "OnEvent"),
		logging.String("event", ev.Kind.String()),
		logging.SimTime(simTime),
	)
}

func (b BaseScenario) logger() logging.Logger {
	if b.Log == nil {
		return logging.Noop()
	}
	return b.Log
}

// ScenarioFunc adapts a pair of functions to Scenario. Nil functions are
// treated as no-ops.
type ScenarioFunc struct {
	Create func(w *World) error
	Event  func(simTime float64, ev Event)
}

func (f ScenarioFunc) OnCreate(w *World) error {
	if f.Create == nil {
		return nil
	}
	return f.Create(w)
}

func (f ScenarioFunc) OnEvent(simTime float64, ev Event) {
	if f.Event != nil {
		f.Event(simTime, ev)
	}
}
