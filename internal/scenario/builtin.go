package scenario

import (
	"fmt"
	"math/rand"
	"slices"
	"time"

	"github.com/signalsfoundry/vanet-simulator/core"
	"github.com/signalsfoundry/vanet-simulator/internal/config"
)

const (
	issLine1 = "1 25544U 98067A   21275.59097222  .00000204  00000-0  10270-4 0  9990"
	issLine2 = "2 25544  51.6459 115.9059 0001817  61.3028  35.9198 15.49370953257760"
)

var builtins = map[string]func(seed int64) config.ScenarioSpec{
	"simple":       simple,
	"highway":      highway,
	"busy-highway": busyHighway,
	"small-cells":  smallCells,
	"relay":        relay,
	"mab":          beamSelection,
}

// Names lists the built-in scenarios in lexical order.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Builtin returns the named built-in scenario. The seed is stored in the
// spec and also drives randomly placed nodes.
func Builtin(name string, seed int64) (config.ScenarioSpec, bool) {
	build, ok := builtins[name]
	if !ok {
		return config.ScenarioSpec{}, false
	}
	spec := build(seed)
	spec.Seed = seed
	return spec, true
}

// Resolve expands a spec that only names a built-in scenario. Specs that
// define nodes are returned as they are.
func Resolve(spec config.ScenarioSpec) (config.ScenarioSpec, error) {
	if !spec.Empty() {
		return spec, nil
	}
	name := spec.Name
	if name == "" {
		name = "simple"
	}
	out, ok := Builtin(name, spec.Seed)
	if !ok {
		return config.ScenarioSpec{}, fmt.Errorf("unknown scenario %q (have %v)", name, Names())
	}
	return out, nil
}

func disc(radius float64) map[string]any {
	return map[string]any{"model": core.ModelDisc, "frequency": 2.4, "radius": radius}
}

func sector(radius, width float64) map[string]any {
	return map[string]any{"model": core.ModelSector, "frequency": 2.4, "radius": radius, "beam_width": width}
}

func pt(x, y float64) config.Point { return config.Point{X: x, Y: y} }

// simple is one omni base station beside a straight road.
func simple(int64) config.ScenarioSpec {
	return config.ScenarioSpec{
		Name:     "Single cell",
		Channels: map[string]map[string]any{"omni": disc(100)},
		BaseStations: []config.SiteSpec{
			{ID: "BS", Position: pt(160, 0), Channel: "omni"},
		},
		Vehicles: []config.VehicleSpec{
			{ID: "vehicle", Channel: "omni", Start: pt(10, -10), Waypoints: []config.Point{pt(350, -10)}, Speed: 60},
		},
	}
}

// highway has three three-beam sites and two vehicles driving in
// opposite directions with a change of speed halfway.
func highway(int64) config.ScenarioSpec {
	beams := []float64{120, 180, 240}
	return config.ScenarioSpec{
		Name: "Highway",
		Channels: map[string]map[string]any{
			"omni":   disc(100),
			"sector": sector(100, 60),
		},
		BaseStations: []config.SiteSpec{
			{ID: "BS-1", Position: pt(100, 60), Channel: "sector", Beams: beams},
			{ID: "BS-2", Position: pt(160, 60), Channel: "sector", Beams: beams},
			{ID: "BS-3", Position: pt(280, 65), Channel: "sector", Beams: beams},
		},
		Vehicles: []config.VehicleSpec{
			{ID: "vehicle1", Channel: "omni", Start: pt(10, 0), Waypoints: []config.Point{pt(200, 0), pt(400, 0)}, Speed: 60, Speeds: []float64{60, 30}},
			{ID: "vehicle2", Channel: "omni", Start: pt(350, -10), Waypoints: []config.Point{pt(150, -10), pt(10, -10)}, Speed: 40, Speeds: []float64{40, 50}},
		},
	}
}

// busyHighway is a six-lane road between two rows of six-beam sites.
// Vehicles re-enter at the start of their lane when they reach the end.
func busyHighway(int64) config.ScenarioSpec {
	beams := []float64{0, 60, 120, 180, 240, 300}
	spec := config.ScenarioSpec{
		Name:    "A busy highway (M26)",
		Recycle: true,
		Channels: map[string]map[string]any{
			"omni":   disc(80),
			"sector": sector(80, 60),
		},
		Background: &config.BackgroundSpec{Image: "M26.png", X: -500, Y: 225},
	}
	north := []config.Point{pt(90, 50), pt(210, 50), pt(340, 50)}
	south := []config.Point{pt(100, -50), pt(220, -50), pt(360, -50)}
	for i, p := range north {
		spec.BaseStations = append(spec.BaseStations, config.SiteSpec{ID: fmt.Sprintf("N%d", i+1), Position: p, Channel: "sector", Beams: beams})
	}
	for i, p := range south {
		spec.BaseStations = append(spec.BaseStations, config.SiteSpec{ID: fmt.Sprintf("S%d", i+1), Position: p, Channel: "sector", Beams: beams})
	}
	lane := func(id string, from, to config.Point) config.VehicleSpec {
		return config.VehicleSpec{
			ID: id, Channel: "omni", Start: from, Waypoints: []config.Point{to},
			SpeedMin: 30, SpeedMax: 60,
		}
	}
	for i, y := range []float64{20, 15, 10} {
		spec.Vehicles = append(spec.Vehicles, lane(fmt.Sprintf("car%d", i+1), pt(0, y), pt(450, y)))
	}
	for i, y := range []float64{2, -3, -8} {
		spec.Vehicles = append(spec.Vehicles, lane(fmt.Sprintf("car%d", i+4), pt(450, y), pt(0, y)))
	}
	return spec
}

// smallCells scatters base stations over a map; vehicles roam to random
// destinations forever.
func smallCells(seed int64) config.ScenarioSpec {
	const (
		width, height = 500.0, 300.0
		sites         = 50
		vehicles      = 5
	)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	area := &config.AreaSpec{Width: width, Height: height, SpeedMin: 30, SpeedMax: 60}
	random := func() config.Point {
		p := randomPoint(rng, area)
		return pt(p.X, p.Y)
	}

	spec := config.ScenarioSpec{
		Name: "Small cells",
		Channels: map[string]map[string]any{
			"omni":   disc(80),
			"sector": sector(80, 60),
		},
		Roam: area,
	}
	beams := []float64{0, 60, 120, 180, 240, 300}
	for i := range sites {
		spec.BaseStations = append(spec.BaseStations, config.SiteSpec{
			ID: fmt.Sprintf("BS%d", i+1), Position: random(), Channel: "sector", Beams: beams,
		})
	}
	for i := range vehicles {
		spec.Vehicles = append(spec.Vehicles, config.VehicleSpec{
			ID: fmt.Sprintf("vehicle%d", i+1), Channel: "omni",
			Start: random(), Waypoints: []config.Point{random()},
			SpeedMin: 40, SpeedMax: 60,
		})
	}
	return spec
}

// relay is a low orbit relay passing over a line of ground stations.
// One scenario unit is ten kilometres.
func relay(int64) config.ScenarioSpec {
	spec := config.ScenarioSpec{
		Name: "Orbital relay",
		Channels: map[string]map[string]any{
			"ground": disc(150),
		},
		Relays: []config.RelaySpec{{
			ID: "ISS", Channel: "ground", Line1: issLine1, Line2: issLine2,
			UnitsPerKm: 0.1, Center: true,
		}},
		Step: 1,
	}
	for i := range 7 {
		x := float64(i-3) * 150
		spec.BaseStations = append(spec.BaseStations, config.SiteSpec{
			ID: fmt.Sprintf("GS%d", i+1), Position: pt(x, 0), Channel: "ground",
		})
	}
	return spec
}

// beamSelection is one six-beam site in a town centre. A bandit learns
// which beam tends to keep a vehicle longest; vehicles restart their
// route when they reach its end. Leg speeds are drawn once per seed.
func beamSelection(seed int64) config.ScenarioSpec {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	type speedRange struct{ min, max float64 }
	var (
		slow   = speedRange{20, 30}
		normal = speedRange{50, 70}
		fast   = speedRange{60, 100}
	)
	routes := []struct {
		id     string
		start  config.Point
		legs   []config.Point
		speeds speedRange
	}{
		{"car1", pt(200, 140), []config.Point{pt(230, 90), pt(255, 0), pt(240, -45), pt(40, -240)}, slow},
		{"car1_faster", pt(200, 140), []config.Point{pt(230, 90), pt(255, 0), pt(240, -45), pt(40, -240)}, fast},
		{"car2_slower", pt(200, 140), []config.Point{pt(230, 90), pt(270, 105), pt(440, 180)}, slow},
		{"car2", pt(200, 140), []config.Point{pt(230, 90), pt(270, 105), pt(440, 180)}, normal},
		{"car2_faster", pt(200, 140), []config.Point{pt(230, 90), pt(270, 105), pt(440, 180)}, fast},
		{"car3", pt(180, 190), []config.Point{pt(205, 130), pt(100, -60), pt(50, -150)}, normal},
		{"car3_faster", pt(180, 190), []config.Point{pt(205, 130), pt(100, -60), pt(50, -150)}, fast},
		{"car4", pt(180, 190), []config.Point{pt(230, 90), pt(255, -20), pt(310, 40), pt(360, 80)}, normal},
		{"car4_faster", pt(180, 190), []config.Point{pt(230, 90), pt(255, -20), pt(310, 40), pt(360, 80)}, fast},
		{"car4_inverse", pt(360, 80), []config.Point{pt(310, 40), pt(255, -20), pt(230, 90), pt(180, 190)}, normal},
		{"car4_inverse_faster", pt(360, 80), []config.Point{pt(310, 40), pt(255, -20), pt(230, 90), pt(180, 190)}, fast},
		{"car5", pt(200, 130), []config.Point{pt(130, -10), pt(75, 10), pt(60, 15)}, normal},
		{"car5_faster", pt(200, 130), []config.Point{pt(130, -10), pt(75, 10), pt(60, 15)}, fast},
		{"car5_inverse", pt(60, 15), []config.Point{pt(75, 10), pt(130, -10), pt(200, 130)}, normal},
		{"car5_inverse_faster", pt(60, 15), []config.Point{pt(75, 10), pt(130, -10), pt(200, 130)}, fast},
		{"car6", pt(200, 130), []config.Point{pt(235, 65), pt(250, -20), pt(225, -75), pt(250, -130)}, normal},
		{"car6_faster", pt(200, 130), []config.Point{pt(235, 65), pt(250, -20), pt(225, -75), pt(250, -130)}, fast},
		{"car6_inverse", pt(265, -180), []config.Point{pt(225, -75), pt(250, -20), pt(235, 65), pt(200, 130)}, normal},
		{"car6_inverse_faster", pt(265, -180), []config.Point{pt(225, -75), pt(250, -20), pt(235, 65), pt(200, 130)}, fast},
	}

	bandit := config.DefaultBandit()
	spec := config.ScenarioSpec{
		Name:    "Beam selection example",
		Recycle: true,
		Policy:  config.PolicyBandit,
		Bandit:  &bandit,
		Step:    0.1,
		Channels: map[string]map[string]any{
			"omni":   disc(120),
			"sector": sector(120, 60),
		},
		BaseStations: []config.SiteSpec{
			{ID: "BS0", Position: pt(200, 0), Channel: "sector", Beams: []float64{0, 60, 120, 180, 240, 300}},
		},
		Background: &config.BackgroundSpec{Image: "croydon.png", X: -500, Y: 400},
	}
	for _, r := range routes {
		speeds := make([]float64, len(r.legs))
		for i := range speeds {
			speeds[i] = r.speeds.min + rng.Float64()*(r.speeds.max-r.speeds.min)
		}
		spec.Vehicles = append(spec.Vehicles, config.VehicleSpec{
			ID: r.id, Channel: "omni", Start: r.start, Waypoints: r.legs, Speeds: speeds,
		})
	}
	return spec
}
