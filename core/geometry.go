package core

import "math"

// Position is a point on the simulation plane in scenario units (metres for
// the built-in scenarios). It is a value type: assigning a Position copies it.
type Position struct {
	X, Y float64
}

// Add returns p + other.
func (p Position) Add(other Position) Position {
	return Position{X: p.X + other.X, Y: p.Y + other.Y}
}

// Sub returns p - other.
func (p Position) Sub(other Position) Position {
	return Position{X: p.X - other.X, Y: p.Y - other.Y}
}

// DistanceTo returns the straight-line distance between two points.
func (p Position) DistanceTo(other Position) float64 {
	return math.Hypot(other.X-p.X, other.Y-p.Y)
}

// AzimuthTo returns the compass bearing from p to other in degrees:
// 0° = north (+Y), increasing clockwise, normalized to [0,360).
func (p Position) AzimuthTo(other Position) float64 {
	dx := other.X - p.X
	dy := other.Y - p.Y
	return NormalizeAzimuth(90 - math.Atan2(dy, dx)*180/math.Pi)
}

// MoveTowards returns the point a fraction of the way from p to target.
// A fraction outside [0,1] leaves p unchanged and reports false.
func (p Position) MoveTowards(target Position, fraction float64) (Position, bool) {
	if fraction < 0 || fraction > 1 {
		return p, false
	}
	return Position{
		X: p.X + (target.X-p.X)*fraction,
		Y: p.Y + (target.Y-p.Y)*fraction,
	}, true
}

// NormalizeAzimuth folds an angle in degrees into [0,360).
func NormalizeAzimuth(deg float64) float64 {
	a := math.Mod(deg, 360)
	if a < 0 {
		a += 360
	}
	// math.Mod of a tiny negative value plus 360 can round up to 360.
	if a >= 360 {
		a -= 360
	}
	return a
}

// Direction is a heading. The 2-D simulator keeps Elevation at 0.
type Direction struct {
	Azimuth   float64
	Elevation float64
}

// North is the default heading of stationary nodes.
var North = Direction{}

// NewDirection returns a horizontal heading with a normalized azimuth.
func NewDirection(azimuth float64) Direction {
	return Direction{Azimuth: NormalizeAzimuth(azimuth)}
}

// Diff returns the signed angular difference other - d, folded into
// (-180,180] so that headings either side of north compare as close.
func (d Direction) Diff(other Direction) float64 {
	diff := NormalizeAzimuth(other.Azimuth - d.Azimuth)
	if diff > 180 {
		diff -= 360
	}
	return diff
}

// IsWithin reports whether other lies strictly less than rangeDeg away
// from d in either rotational direction.
func (d Direction) IsWithin(other Direction, rangeDeg float64) bool {
	return math.Abs(d.Diff(other)) < rangeDeg
}
