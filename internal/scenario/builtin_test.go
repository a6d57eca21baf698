package scenario

import (
	"context"
	"fmt"
	"slices"
	"testing"

	"github.com/signalsfoundry/vanet-simulator/core"
	"github.com/signalsfoundry/vanet-simulator/internal/config"
)

func TestNamesAreSorted(t *testing.T) {
	names := Names()
	want := []string{"busy-highway", "highway", "mab", "relay", "simple", "small-cells"}
	if !slices.Equal(names, want) {
		t.Fatalf("Names = %v, want %v", names, want)
	}
}

func TestBuiltinsRun(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			spec, ok := Builtin(name, 7)
			if !ok {
				t.Fatalf("Builtin(%q) not found", name)
			}
			if err := spec.Validate(); err != nil {
				t.Fatalf("Validate error: %v", err)
			}
			if spec.Seed != 7 {
				t.Fatalf("seed = %d, want 7", spec.Seed)
			}
			a := NewAssociation(spec)
			cfg := core.DefaultConfig()
			cfg.StopTime = 2
			cfg.Display = true
			w := core.NewWorld(cfg, a)
			if err := w.Run(context.Background()); err != nil {
				t.Fatalf("Run error: %v", err)
			}
			if w.Now() <= 0 {
				t.Fatalf("no steps ran")
			}
			if len(a.Statistics()) == 0 {
				t.Fatalf("no mobiles in %q", name)
			}
		})
	}
}

func TestBuiltinUnknown(t *testing.T) {
	if _, ok := Builtin("autobahn", 1); ok {
		t.Fatalf("unknown scenario resolved")
	}
}

func TestBusyHighwayLayout(t *testing.T) {
	spec, _ := Builtin("busy-highway", 3)
	a := NewAssociation(spec)
	cfg := core.DefaultConfig()
	cfg.StopTime = 1
	w := core.NewWorld(cfg, a)
	if err := w.Init(context.Background()); err != nil {
		t.Fatalf("Init error: %v", err)
	}
	if w.Name() != "A busy highway (M26)" {
		t.Fatalf("name = %q", w.Name())
	}
	if bg := w.Background(); bg.Image != "M26.png" || bg.X != -500 || bg.Y != 225 {
		t.Fatalf("background = %+v", bg)
	}
	// Six sites of six beams plus six cars.
	if n := w.Registry().Len(); n != 42 {
		t.Fatalf("nodes = %d, want 42", n)
	}
	for _, id := range []string{"N1.1", "N3.6", "S2.4", "car1", "car6"} {
		if w.Registry().Lookup(id) == nil {
			t.Fatalf("missing node %q", id)
		}
	}
	for _, v := range spec.Vehicles {
		if v.Speed != 0 || !v.RandomSpeed() {
			t.Fatalf("%s: speed = %v with range [%v, %v]", v.ID, v.Speed, v.SpeedMin, v.SpeedMax)
		}
	}
	for _, id := range []string{"car1", "car6"} {
		leg := w.Registry().Lookup(id).Mobility().(*core.WaypointPath).Legs()[0]
		if leg.Speed < 30 || leg.Speed >= 60 {
			t.Fatalf("%s speed = %v, want in [30, 60)", id, leg.Speed)
		}
	}
}

func TestBeamSelectionLayout(t *testing.T) {
	spec, _ := Builtin("mab", 5)
	if spec.Policy != config.PolicyBandit || spec.BanditSettings() != config.DefaultBandit() {
		t.Fatalf("policy = %q, bandit = %+v", spec.Policy, spec.Bandit)
	}
	a := NewAssociation(spec)
	cfg := core.DefaultConfig()
	cfg.StopTime = 1
	w := core.NewWorld(cfg, a)
	if err := w.Init(context.Background()); err != nil {
		t.Fatalf("Init error: %v", err)
	}
	if w.Name() != "Beam selection example" || w.Step() != 0.1 {
		t.Fatalf("name = %q, step = %v", w.Name(), w.Step())
	}
	// Six beams plus nineteen cars.
	if n := w.Registry().Len(); n != 25 {
		t.Fatalf("nodes = %d, want 25", n)
	}
	for i, az := range []float64{0, 60, 120, 180, 240, 300} {
		beam := w.Registry().Lookup(fmt.Sprintf("BS0.%d", i+1))
		if beam == nil {
			t.Fatalf("missing beam %d", i+1)
		}
		if p := beam.Transceiver().Channel().Properties(); p.Azimuth != az || p.BeamWidth != 60 || p.Radius != 120 {
			t.Fatalf("beam %d channel = %+v", i+1, p)
		}
	}
	ranges := map[string][2]float64{"car1": {20, 30}, "car2": {50, 70}, "car3_faster": {60, 100}}
	for id, r := range ranges {
		for _, leg := range w.Registry().Lookup(id).Mobility().(*core.WaypointPath).Legs() {
			if leg.Speed < r[0] || leg.Speed >= r[1] {
				t.Fatalf("%s leg speed = %v, want in [%v, %v)", id, leg.Speed, r[0], r[1])
			}
		}
	}
	for _, v := range spec.Vehicles {
		if v.Speed != 0 || len(v.Speeds) != len(v.Waypoints) {
			t.Fatalf("%s: speed = %v, speeds = %v", v.ID, v.Speed, v.Speeds)
		}
	}

	again, _ := Builtin("mab", 5)
	if !slices.Equal(spec.Vehicles[0].Speeds, again.Vehicles[0].Speeds) {
		t.Fatalf("leg speeds differ for the same seed")
	}
}

func TestSmallCellsIsDeterministicPerSeed(t *testing.T) {
	a, _ := Builtin("small-cells", 42)
	b, _ := Builtin("small-cells", 42)
	c, _ := Builtin("small-cells", 43)
	if len(a.BaseStations) != 50 || len(a.Vehicles) != 5 {
		t.Fatalf("small-cells has %d sites and %d vehicles", len(a.BaseStations), len(a.Vehicles))
	}
	for i := range a.BaseStations {
		if a.BaseStations[i].Position != b.BaseStations[i].Position {
			t.Fatalf("site %d differs for the same seed", i)
		}
		p := a.BaseStations[i].Position
		if p.X < 0 || p.X >= 500 || p.Y < -150 || p.Y >= 150 {
			t.Fatalf("site %d at %+v outside the map", i, p)
		}
	}
	if a.BaseStations[0].Position == c.BaseStations[0].Position {
		t.Fatalf("different seeds placed the first site identically")
	}
	if a.Roam == nil || a.Roam.Width != 500 || a.Roam.Height != 300 {
		t.Fatalf("roam = %+v", a.Roam)
	}
}

func TestRelayStartsOverCentralStation(t *testing.T) {
	spec, _ := Builtin("relay", 1)
	a := NewAssociation(spec)
	cfg := core.DefaultConfig()
	cfg.StopTime = 3
	w := core.NewWorld(cfg, a)
	if err := w.Init(context.Background()); err != nil {
		t.Fatalf("Init error: %v", err)
	}
	if w.Step() != 1 {
		t.Fatalf("step = %v, want the scenario override 1", w.Step())
	}
	iss := w.Registry().Lookup("ISS")
	if iss == nil || iss.Type() != core.NodeDrone {
		t.Fatalf("relay node = %v", iss)
	}
	if d := iss.Position().DistanceTo(core.Position{}); d > 1e-6 {
		t.Fatalf("relay starts %v from the origin", d)
	}

	w2 := core.NewWorld(cfg, NewAssociation(spec))
	if err := w2.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	w2.Tick()
	// One second of orbit is about 0.7 units; the central station is in range.
	s := w2.Scenario().(*Association)
	if bs, ok := s.Serving("ISS"); !ok || bs != "GS4" {
		t.Fatalf("Serving(ISS) = %q, %v, want GS4", bs, ok)
	}
}

func TestResolve(t *testing.T) {
	got, err := Resolve(config.ScenarioSpec{Name: "highway", Seed: 5})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if len(got.Vehicles) != 2 || got.Seed != 5 {
		t.Fatalf("Resolve = %+v", got)
	}

	got, err = Resolve(config.ScenarioSpec{})
	if err != nil || got.Name != "Single cell" {
		t.Fatalf("Resolve(empty) = %+v, %v", got.Name, err)
	}

	custom := config.ScenarioSpec{Name: "mine", Vehicles: []config.VehicleSpec{crawler("v", 0, 0)}}
	got, err = Resolve(custom)
	if err != nil || got.Name != "mine" || len(got.Vehicles) != 1 {
		t.Fatalf("Resolve(custom) = %+v, %v", got, err)
	}

	if _, err := Resolve(config.ScenarioSpec{Name: "nowhere"}); err == nil {
		t.Fatalf("expected error for unknown scenario")
	}
}
