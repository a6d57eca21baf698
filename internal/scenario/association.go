// Package scenario implements vehicle-centric base station association on
// top of the core simulation kernel.
package scenario

import (
	"context"
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/signalsfoundry/vanet-simulator/core"
	"github.com/signalsfoundry/vanet-simulator/internal/config"
	"github.com/signalsfoundry/vanet-simulator/internal/logging"
	"github.com/signalsfoundry/vanet-simulator/internal/store"
)

// Recorder persists run results. *store.SQLiteStore implements it.
type Recorder interface {
	RecordRun(ctx context.Context, run store.Run) error
	RecordConnections(ctx context.Context, runID string, conns []store.Connection) error
}

// Metrics receives association metrics. *observability.SimCollector
// implements it.
type Metrics interface {
	ObserveHandshake(ok bool)
	SetAssociations(n int)
}

// Option configures an Association.
type Option func(*Association)

// WithLogger sets the scenario logger.
func WithLogger(l logging.Logger) Option {
	return func(a *Association) {
		if l != nil {
			a.log = l
		}
	}
}

// WithRecorder persists the run and its connections when it ends.
func WithRecorder(r Recorder) Option {
	return func(a *Association) { a.recorder = r }
}

// WithMetrics wires handshake and association metrics.
func WithMetrics(m Metrics) Option {
	return func(a *Association) { a.metrics = m }
}

// WithRunID sets the id the run is recorded under.
func WithRunID(id string) Option {
	return func(a *Association) {
		if id != "" {
			a.runID = id
		}
	}
}

// Style of a vehicle's connection line.
var (
	servingStyle      = core.Style{Color: core.ColorBlue, Width: 2}
	interferenceStyle = core.Style{Color: core.ColorBlack, Width: 1, Dashed: true}
)

type station struct {
	node    *core.Node
	serving *mobile

	// Bandit arm state: total service time started by this beam and the
	// number of services that ended.
	reward float64
	trials int
}

func (st *station) average() float64 {
	if st.trials == 0 {
		return 0
	}
	return st.reward / float64(st.trials)
}

type mobile struct {
	node    *core.Node
	vehicle *config.VehicleSpec

	serving      *station
	since        float64
	interference bool
}

// Association associates every vehicle with the free base station beam of
// highest CQI, verifies the link with a hello handshake each step and
// flags vehicles that another active beam also reaches. Under the bandit
// policy a multi-armed bandit picks one beam and vehicle pair per step
// instead.
type Association struct {
	spec     config.ScenarioSpec
	channels map[string]config.ChannelSpec
	bandit   *config.BanditSpec

	log      logging.Logger
	rng      *rand.Rand
	recorder Recorder
	metrics  Metrics
	runID    string

	world     *core.World
	stations  []*station
	byNode    map[*core.Node]*station
	mobiles   []*mobile
	order     []string
	history   []store.Connection
	startedAt time.Time
	finished  bool
}

// NewAssociation builds the scenario for spec. The spec is validated when
// the world is created.
func NewAssociation(spec config.ScenarioSpec, opts ...Option) *Association {
	seed := spec.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	a := &Association{
		spec:   spec,
		log:    logging.Noop(),
		rng:    rand.New(rand.NewSource(seed)),
		runID:  uuid.NewString(),
		byNode: map[*core.Node]*station{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RunID is the id results are recorded under.
func (a *Association) RunID() string { return a.runID }

// OnCreate builds base stations, vehicles and relays.
func (a *Association) OnCreate(w *core.World) error {
	if err := a.spec.Validate(); err != nil {
		return err
	}
	channels, err := a.spec.DecodedChannels()
	if err != nil {
		return err
	}
	a.channels = channels
	a.world = w
	if strings.EqualFold(a.spec.Policy, config.PolicyBandit) {
		b := a.spec.BanditSettings()
		a.bandit = &b
	}

	if a.spec.Name != "" {
		w.SetName(a.spec.Name)
	}
	if bg := a.spec.Background; bg != nil {
		w.SetBackground(core.Background{Image: bg.Image, X: bg.X, Y: bg.Y})
	}
	if a.spec.Step > 0 {
		if err := w.SetStep(a.spec.Step); err != nil {
			return err
		}
	}

	for _, site := range a.spec.BaseStations {
		a.addSite(w, site)
	}
	for i := range a.spec.Vehicles {
		v := &a.spec.Vehicles[i]
		n, err := a.newVehicle(w, v)
		if err != nil {
			return fmt.Errorf("vehicle %q: %w", v.ID, err)
		}
		a.mobiles = append(a.mobiles, &mobile{node: n, vehicle: v})
		a.order = append(a.order, v.ID)
	}
	for _, r := range a.spec.Relays {
		n, err := a.newRelay(w, r)
		if err != nil {
			return fmt.Errorf("relay %q: %w", r.ID, err)
		}
		a.mobiles = append(a.mobiles, &mobile{node: n})
		a.order = append(a.order, r.ID)
	}
	return nil
}

func (a *Association) addSite(w *core.World, site config.SiteSpec) {
	ch := a.channels[site.Channel]
	if len(site.Beams) == 0 {
		n := w.NewNode(site.ID, core.NodeBaseStation, core.NewStationary(site.Position.Position(), core.North), ch.Build(nil))
		a.addStation(n)
		return
	}
	for i, az := range site.Beams {
		id := fmt.Sprintf("%s.%d", site.ID, i+1)
		mob := core.NewStationary(site.Position.Position(), core.NewDirection(az))
		n := w.NewNode(id, core.NodeBaseStation, mob, ch.Build(&az))
		a.addStation(n)
	}
}

func (a *Association) addStation(n *core.Node) {
	st := &station{node: n}
	a.stations = append(a.stations, st)
	a.byNode[n] = st
}

func (a *Association) newVehicle(w *core.World, v *config.VehicleSpec) (*core.Node, error) {
	random, ok := a.randomSpeed(v)
	path := core.NewWaypointPath(v.Start.Position())
	for i, wp := range v.Waypoints {
		speed := v.Speed
		switch {
		case ok:
			speed = random
		case i < len(v.Speeds):
			speed = v.Speeds[i]
		}
		if err := path.AddLeg(speed, wp.Position()); err != nil {
			return nil, err
		}
	}
	return w.NewNode(v.ID, core.NodeVehicle, path, a.channels[v.Channel].Build(nil)), nil
}

func (a *Association) randomSpeed(v *config.VehicleSpec) (float64, bool) {
	if v.RandomSpeed() {
		return v.SpeedMin + a.rng.Float64()*(v.SpeedMax-v.SpeedMin), true
	}
	return 0, false
}

func (a *Association) newRelay(w *core.World, r config.RelaySpec) (*core.Node, error) {
	epoch, err := core.TLEEpoch(r.Line1)
	if err != nil {
		return nil, err
	}
	if r.Epoch != "" {
		if epoch, err = time.Parse(time.RFC3339, r.Epoch); err != nil {
			return nil, fmt.Errorf("epoch: %w", err)
		}
	}
	ref := core.GroundReference{
		LatitudeDeg:  r.Latitude,
		LongitudeDeg: r.Longitude,
		UnitsPerKm:   r.UnitsPerKm,
		TimeScale:    r.TimeScale,
	}
	if r.Center {
		if ref.LatitudeDeg, ref.LongitudeDeg, err = core.SubSatellitePoint(r.Line1, r.Line2, epoch); err != nil {
			return nil, err
		}
	}
	mob, err := core.NewOrbitalMobility(r.Line1, r.Line2, epoch, ref)
	if err != nil {
		return nil, err
	}
	return w.NewNode(r.ID, core.NodeDrone, mob, a.channels[r.Channel].Build(nil)), nil
}

// OnEvent drives the association on every step.
func (a *Association) OnEvent(simTime float64, ev core.Event) {
	switch ev.Kind {
	case core.EventStart:
		a.start(simTime)
	case core.EventStep:
		a.step(simTime)
	case core.EventPathComplete:
		a.pathComplete(simTime, ev.Node())
	case core.EventEnd, core.EventStop:
		a.finish(simTime)
	}
}

func (a *Association) start(simTime float64) {
	a.startedAt = time.Now()
	a.log.Info(context.Background(), "association scenario started",
		logging.String("scenario", a.world.Name()),
		logging.Int("base_stations", len(a.stations)),
		logging.Int("mobiles", len(a.mobiles)),
		logging.SimTime(simTime),
	)
}

func (a *Association) step(simTime float64) {
	a.verify(simTime)
	if a.bandit != nil {
		a.pullArm(simTime)
	} else {
		a.associateStrongest(simTime)
	}
	a.markInterference()

	if a.world.IsDisplay() {
		a.draw()
	}
	if a.metrics != nil {
		a.metrics.SetAssociations(a.associations())
	}
}

// verify drops every association whose hello handshake fails.
func (a *Association) verify(simTime float64) {
	for _, m := range a.mobiles {
		st := m.serving
		if st == nil {
			continue
		}
		if _, ok := a.hello(m.node, st.node); !ok {
			a.release(m, simTime)
			a.log.Info(context.Background(), "connection lost",
				logging.String("vehicle", m.node.ID()),
				logging.String("base_station", st.node.ID()),
				logging.SimTime(simTime),
			)
		}
	}
}

// associateStrongest connects each free vehicle to the free beam it hears
// with the highest CQI.
func (a *Association) associateStrongest(simTime float64) {
	for _, m := range a.mobiles {
		if m.serving != nil || m.node.Transceiver() == nil {
			continue
		}
		var best *station
		bestCQI := 0.0
		for _, n := range m.node.Transceiver().Broadcast(core.NewSignal(m.node, core.HelloTxPower)) {
			st := a.byNode[n]
			if st == nil || st.serving != nil {
				continue
			}
			cqi, ok := a.hello(m.node, st.node)
			if !ok {
				continue
			}
			if best == nil || cqi > bestCQI {
				best, bestCQI = st, cqi
			}
		}
		if best != nil {
			a.associate(m, best, simTime)
			a.log.Info(context.Background(), "associated",
				logging.String("vehicle", m.node.ID()),
				logging.String("base_station", best.node.ID()),
				logging.Float("cqi", bestCQI),
				logging.SimTime(simTime),
			)
		}
	}
}

// markInterference flags a link when another active beam also reaches
// the vehicle.
func (a *Association) markInterference() {
	for _, m := range a.mobiles {
		m.interference = false
		if m.serving == nil {
			continue
		}
		for _, n := range m.node.Transceiver().Broadcast(core.NewSignal(m.node, core.HelloTxPower)) {
			st := a.byNode[n]
			if st == nil || st.serving == nil || st == m.serving {
				continue
			}
			if _, ok := a.hello(m.node, st.node); ok {
				m.interference = true
				break
			}
		}
	}
}

func (a *Association) hello(me, other *core.Node) (float64, bool) {
	cqi, ok := core.Hello(me, other)
	if a.metrics != nil {
		a.metrics.ObserveHandshake(ok)
	}
	return cqi, ok
}

func (a *Association) associate(m *mobile, st *station, simTime float64) {
	m.serving = st
	m.since = simTime
	st.serving = m
}

func (a *Association) release(m *mobile, simTime float64) {
	st := m.serving
	if st == nil {
		return
	}
	if a.bandit != nil && !a.finished {
		st.reward += simTime - m.since
		st.trials++
	}
	if simTime > m.since {
		a.history = append(a.history, store.Connection{
			Vehicle:     m.node.ID(),
			BaseStation: st.node.ID(),
			Start:       m.since,
			End:         simTime,
		})
	}
	st.serving = nil
	m.serving = nil
	m.interference = false
}

// Serving returns the id of the base station currently serving the
// vehicle or relay with the given id.
func (a *Association) Serving(id string) (string, bool) {
	for _, m := range a.mobiles {
		if m.node.ID() == id && m.serving != nil {
			return m.serving.node.ID(), true
		}
	}
	return "", false
}

func (a *Association) associations() int {
	n := 0
	for _, m := range a.mobiles {
		if m.serving != nil {
			n++
		}
	}
	return n
}

func (a *Association) draw() {
	for _, st := range a.stations {
		d := st.node.Drawing()
		d.Clear()
		if st.serving != nil {
			d.DrawCoverage(st.node.Transceiver().Channel())
		}
	}
	for _, m := range a.mobiles {
		d := m.node.Drawing()
		d.Clear()
		switch {
		case m.serving == nil:
			d.SetColor(core.ColorRed)
		case m.interference:
			d.SetColor(core.ColorBlack)
			d.DrawLine(m.serving.node, interferenceStyle)
		default:
			d.SetColor(core.ColorBlue)
			d.DrawLine(m.serving.node, servingStyle)
		}
	}
}

func (a *Association) pathComplete(simTime float64, n *core.Node) {
	idx := -1
	for i, m := range a.mobiles {
		if m.node == n {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	m := a.mobiles[idx]
	ctx := context.Background()

	switch {
	case a.spec.Recycle && m.vehicle != nil:
		a.release(m, simTime)
		fresh, err := a.newVehicle(a.world, m.vehicle)
		if err != nil {
			a.log.Error(ctx, "failed to recycle vehicle",
				logging.String("vehicle", n.ID()),
				logging.Err(err),
			)
			return
		}
		n.Remove()
		a.mobiles[idx] = &mobile{node: fresh, vehicle: m.vehicle}
		a.log.Debug(ctx, "vehicle recycled",
			logging.String("vehicle", n.ID()),
			logging.SimTime(simTime),
		)
	case a.spec.Roam != nil:
		path, ok := n.Mobility().(*core.WaypointPath)
		if !ok {
			return
		}
		area := a.spec.Roam
		speed := area.SpeedMin + a.rng.Float64()*(area.SpeedMax-area.SpeedMin)
		target := randomPoint(a.rng, area)
		path.ResetPath()
		if err := path.AddLeg(speed, target); err != nil {
			a.log.Error(ctx, "failed to extend path", logging.String("vehicle", n.ID()), logging.Err(err))
		}
	default:
		a.log.Debug(ctx, "vehicle parked",
			logging.String("vehicle", n.ID()),
			logging.SimTime(simTime),
		)
	}
}

func randomPoint(rng *rand.Rand, area *config.AreaSpec) core.Position {
	return core.Position{
		X: rng.Float64() * area.Width,
		Y: (2*rng.Float64() - 1) * area.Height / 2,
	}
}

func (a *Association) finish(simTime float64) {
	if a.finished {
		return
	}
	a.finished = true
	for _, m := range a.mobiles {
		a.release(m, simTime)
	}
	if a.metrics != nil {
		a.metrics.SetAssociations(0)
	}

	ctx := context.Background()
	if a.bandit != nil {
		for _, b := range a.BeamStats() {
			a.log.Info(ctx, "beam reward",
				logging.String("base_station", b.ID),
				logging.Int("trials", b.Trials),
				logging.Float("total_reward", b.Reward),
				logging.Float("average_reward", b.Average),
			)
		}
	}
	stats := a.Statistics()
	for _, s := range stats {
		a.log.Info(ctx, "connection statistics",
			logging.String("vehicle", s.ID),
			logging.Int("connections", len(s.Connections)),
			logging.Float("mean_duration", s.Mean),
			logging.Float("total_duration", s.Total),
		)
	}

	if a.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	run := store.Run{
		ID:        a.runID,
		Scenario:  a.world.Name(),
		Seed:      a.spec.Seed,
		StartedAt: a.startedAt,
		StopTime:  a.world.Config().StopTime,
		SimTime:   simTime,
		Events:    a.world.Engine().Processed(),
	}
	if err := a.recorder.RecordRun(ctx, run); err != nil {
		a.log.Error(ctx, "failed to record run", logging.Err(err))
		return
	}
	if err := a.recorder.RecordConnections(ctx, a.runID, a.history); err != nil {
		a.log.Error(ctx, "failed to record connections", logging.Err(err))
	}
}

// VehicleStats summarizes the closed connections of one vehicle id,
// across every incarnation of a recycled vehicle.
type VehicleStats struct {
	ID          string
	Connections []store.Connection
	// Mean and Total are connection durations in simulated seconds.
	Mean  float64
	Total float64
}

// Statistics returns per-vehicle connection statistics in creation order.
// Vehicles that never connected are listed with zero values.
func (a *Association) Statistics() []VehicleStats {
	byID := make(map[string][]store.Connection, len(a.order))
	for _, c := range a.history {
		byID[c.Vehicle] = append(byID[c.Vehicle], c)
	}
	out := make([]VehicleStats, 0, len(a.order))
	for _, id := range a.order {
		conns := byID[id]
		s := VehicleStats{ID: id, Connections: conns}
		if len(conns) > 0 {
			durations := make([]float64, len(conns))
			for i, c := range conns {
				durations[i] = c.Duration()
				s.Total += durations[i]
			}
			s.Mean = stat.Mean(durations, nil)
		}
		out = append(out, s)
	}
	return out
}

// History returns every closed connection in closing order.
func (a *Association) History() []store.Connection {
	return slices.Clone(a.history)
}
