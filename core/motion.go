package core

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// EarthRadiusKm is the mean Earth radius used to project orbital positions
// onto the simulation plane (kilometres).
const EarthRadiusKm = 6371.0

var (
	ErrInvalidSpeed = errors.New("speed must be positive")
	ErrInvalidTLE   = errors.New("invalid TLE")
)

// Mobility moves a node's position and heading forward in simulated time.
type Mobility interface {
	Position() Position
	Direction() Direction
	// Advance moves the model forward by dt seconds and reports whether a
	// path finished during this call.
	Advance(dt float64) bool
}

// Stationary keeps a node at a fixed position and heading.
type Stationary struct {
	pos Position
	dir Direction
}

// NewStationary constructs a fixed mobility model.
func NewStationary(pos Position, dir Direction) *Stationary {
	return &Stationary{pos: pos, dir: dir}
}

func (s *Stationary) Position() Position       { return s.pos }
func (s *Stationary) Direction() Direction     { return s.dir }
func (s *Stationary) Advance(float64) bool     { return false }
func (s *Stationary) SetDirection(d Direction) { s.dir = d }

// Leg is one segment of a waypoint path: travel to Target at Speed
// (units per second).
type Leg struct {
	Speed  float64
	Target Position
}

// PathState is the progress of a WaypointPath.
type PathState int

const (
	PathNotStarted PathState = iota
	PathInProgress
	PathCompleted
)

func (s PathState) String() string {
	switch s {
	case PathNotStarted:
		return "not_started"
	case PathInProgress:
		return "in_progress"
	case PathCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// WaypointPath moves a node along an ordered list of legs.
type WaypointPath struct {
	start Position
	pos   Position
	dir   Direction
	legs  []Leg
	next  int
}

// NewWaypointPath returns an empty path anchored at start, heading north.
func NewWaypointPath(start Position) *WaypointPath {
	return &WaypointPath{start: start, pos: start, dir: North}
}

func (w *WaypointPath) Position() Position   { return w.pos }
func (w *WaypointPath) Direction() Direction { return w.dir }

// Start returns the position the path was created at.
func (w *WaypointPath) Start() Position { return w.start }

// Legs returns a copy of the configured legs.
func (w *WaypointPath) Legs() []Leg {
	out := make([]Leg, len(w.legs))
	copy(out, w.legs)
	return out
}

// State reports the path's progress.
func (w *WaypointPath) State() PathState {
	switch {
	case len(w.legs) == 0:
		return PathNotStarted
	case w.next >= len(w.legs):
		return PathCompleted
	default:
		return PathInProgress
	}
}

// AddLeg appends a leg. Legs may be appended to a completed path, which
// puts it back in progress from the current position.
func (w *WaypointPath) AddLeg(speed float64, target Position) error {
	if speed <= 0 || math.IsNaN(speed) {
		return fmt.Errorf("%w: %v", ErrInvalidSpeed, speed)
	}
	w.legs = append(w.legs, Leg{Speed: speed, Target: target})
	if w.next == len(w.legs)-1 {
		w.updateDirection()
	}
	return nil
}

// ResetPath drops all legs and keeps the current position.
func (w *WaypointPath) ResetPath() {
	w.legs = nil
	w.next = 0
}

// Restart moves the node back to its start and replays the legs.
func (w *WaypointPath) Restart() {
	w.pos = w.start
	w.next = 0
	w.updateDirection()
}

// Advance consumes whole legs while dt covers them and then moves part of
// the way along the current leg. It returns true only on the call that
// consumes the final leg.
func (w *WaypointPath) Advance(dt float64) bool {
	if w.next >= len(w.legs) {
		return false
	}
	for w.next < len(w.legs) {
		leg := w.legs[w.next]
		need := w.pos.DistanceTo(leg.Target) / leg.Speed
		if dt >= need {
			dt -= need
			w.pos = leg.Target
			w.next++
			w.updateDirection()
			continue
		}
		w.pos, _ = w.pos.MoveTowards(leg.Target, dt/need)
		w.updateDirection()
		return false
	}
	return true
}

func (w *WaypointPath) updateDirection() {
	if w.next >= len(w.legs) {
		return
	}
	target := w.legs[w.next].Target
	if w.pos.DistanceTo(target) == 0 {
		return
	}
	w.dir = NewDirection(w.pos.AzimuthTo(target))
}

// OrbitalMobility follows a satellite's sub-satellite point, propagated
// with SGP4 from a TLE, projected onto the tangent plane at a ground
// reference. It is used for relay nodes and never completes.
type OrbitalMobility struct {
	sat    satellite.Satellite
	epoch  time.Time
	ref    GroundReference
	offset time.Duration

	pos Position
	dir Direction
}

// GroundReference anchors the simulation plane on the Earth's surface.
type GroundReference struct {
	LatitudeDeg  float64
	LongitudeDeg float64
	// UnitsPerKm converts projected kilometres to scenario units.
	UnitsPerKm float64
	// TimeScale is orbit seconds per simulated second. Zero means 1.
	TimeScale float64
}

// NewOrbitalMobility constructs an orbital model from TLE lines, propagated
// from epoch.
func NewOrbitalMobility(line1, line2 string, epoch time.Time, ref GroundReference) (*OrbitalMobility, error) {
	if len(line1) < 69 || len(line2) < 69 || line1[0] != '1' || line2[0] != '2' {
		return nil, ErrInvalidTLE
	}
	if ref.UnitsPerKm <= 0 {
		ref.UnitsPerKm = 1
	}
	if ref.TimeScale <= 0 {
		ref.TimeScale = 1
	}
	m := &OrbitalMobility{
		sat:   satellite.TLEToSat(line1, line2, satellite.GravityWGS72),
		epoch: epoch.UTC(),
		ref:   ref,
		dir:   North,
	}
	m.pos = m.project(m.epoch)
	return m, nil
}

func (m *OrbitalMobility) Position() Position   { return m.pos }
func (m *OrbitalMobility) Direction() Direction { return m.dir }

// Advance propagates the orbit by dt simulated seconds.
func (m *OrbitalMobility) Advance(dt float64) bool {
	m.offset += time.Duration(dt * m.ref.TimeScale * float64(time.Second))
	next := m.project(m.epoch.Add(m.offset))
	if next.DistanceTo(m.pos) > 0 {
		m.dir = NewDirection(m.pos.AzimuthTo(next))
	}
	m.pos = next
	return false
}

// TLEEpoch parses the epoch field of a TLE's first line.
func TLEEpoch(line1 string) (time.Time, error) {
	if len(line1) < 32 || line1[0] != '1' {
		return time.Time{}, ErrInvalidTLE
	}
	field := strings.TrimSpace(line1[18:32])
	if len(field) < 3 {
		return time.Time{}, ErrInvalidTLE
	}
	yy, err := strconv.Atoi(field[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: epoch year: %w", ErrInvalidTLE, err)
	}
	days, err := strconv.ParseFloat(field[2:], 64)
	if err != nil || days < 1 {
		return time.Time{}, fmt.Errorf("%w: epoch day %q", ErrInvalidTLE, field[2:])
	}
	year := 2000 + yy
	if yy >= 57 {
		year = 1900 + yy
	}
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return start.Add(time.Duration((days - 1) * 24 * float64(time.Hour))), nil
}

// SubSatellitePoint returns the geocentric latitude and longitude in
// degrees below the satellite described by a TLE at time t.
func SubSatellitePoint(line1, line2 string, t time.Time) (latDeg, lonDeg float64, err error) {
	if len(line1) < 69 || len(line2) < 69 || line1[0] != '1' || line2[0] != '2' {
		return 0, 0, ErrInvalidTLE
	}
	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
	lat, lon := subPoint(sat, t.UTC())
	return lat * 180 / math.Pi, lon * 180 / math.Pi, nil
}

func subPoint(sat satellite.Satellite, t time.Time) (lat, lon float64) {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	posECI, _ := satellite.Propagate(sat, year, int(month), day, hour, min, sec)
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(jd)
	ecef := satellite.ECIToECEF(posECI, gmst)

	return math.Atan2(ecef.Z, math.Hypot(ecef.X, ecef.Y)), math.Atan2(ecef.Y, ecef.X)
}

// project maps the sub-satellite point at t onto an equirectangular
// tangent plane at the reference (x east, y north).
func (m *OrbitalMobility) project(t time.Time) Position {
	lat, lon := subPoint(m.sat, t)
	lat0 := m.ref.LatitudeDeg * math.Pi / 180
	lon0 := m.ref.LongitudeDeg * math.Pi / 180

	dLon := math.Remainder(lon-lon0, 2*math.Pi)
	return Position{
		X: EarthRadiusKm * dLon * math.Cos(lat0) * m.ref.UnitsPerKm,
		Y: EarthRadiusKm * (lat - lat0) * m.ref.UnitsPerKm,
	}
}
