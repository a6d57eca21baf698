package core

// ShapeKind identifies a drawing annotation.
type ShapeKind int

const (
	ShapeLine ShapeKind = iota + 1
	ShapeCircle
	ShapeSector
)

func (k ShapeKind) String() string {
	switch k {
	case ShapeLine:
		return "line"
	case ShapeCircle:
		return "circle"
	case ShapeSector:
		return "sector"
	default:
		return "unknown"
	}
}

// Named colors understood by the frame renderer.
const (
	ColorBlack  = "black"
	ColorBlue   = "blue"
	ColorRed    = "red"
	ColorGreen  = "green"
	ColorOrange = "orange"
	ColorGray   = "gray"
)

// Style is how a renderer should stroke an annotation.
type Style struct {
	Color  string  `json:"color"`
	Width  float64 `json:"width"`
	Dashed bool    `json:"dashed,omitempty"`
}

var (
	// ConnectionStyle is the default style for lines between nodes.
	ConnectionStyle = Style{Color: ColorBlue, Width: 1}
	// CoverageStyle is the default style for circles and sectors.
	CoverageStyle = Style{Color: ColorRed, Width: 1}
)

// Shape is one annotation drawn around a node. Shapes are matched on their
// geometric parameters only; style never takes part in matching.
type Shape struct {
	Kind      ShapeKind
	Peer      *Node
	Radius    float64
	Azimuth   float64
	BeamWidth float64
	Style     Style
}

func (s Shape) matches(o Shape) bool {
	if s.Kind != o.Kind {
		return false
	}
	switch s.Kind {
	case ShapeLine:
		return s.Peer == o.Peer
	case ShapeCircle:
		return s.Radius == o.Radius
	case ShapeSector:
		return s.Radius == o.Radius && s.Azimuth == o.Azimuth && s.BeamWidth == o.BeamWidth
	}
	return false
}

// Drawing holds a node's annotations and display color. When disabled,
// every mutator is a no-op so headless runs skip the bookkeeping.
type Drawing struct {
	enabled bool
	color   string
	shapes  []Shape
}

func newDrawing(enabled bool) *Drawing {
	return &Drawing{enabled: enabled, color: ColorBlack}
}

// Enabled reports whether annotations are being recorded.
func (d *Drawing) Enabled() bool { return d.enabled }

// Shapes returns a copy of the current annotations.
func (d *Drawing) Shapes() []Shape {
	out := make([]Shape, len(d.shapes))
	copy(out, d.shapes)
	return out
}

// Clear removes every annotation.
func (d *Drawing) Clear() { d.shapes = d.shapes[:0] }

// DrawLine adds a line to peer unless one is already present.
func (d *Drawing) DrawLine(peer *Node, style ...Style) {
	d.add(Shape{Kind: ShapeLine, Peer: peer, Style: pick(style, ConnectionStyle)})
}

// RemoveLine removes the line to peer, if any.
func (d *Drawing) RemoveLine(peer *Node) {
	d.remove(Shape{Kind: ShapeLine, Peer: peer})
}

// DrawCircle adds a circle of the given radius around the node.
func (d *Drawing) DrawCircle(radius float64, style ...Style) {
	d.add(Shape{Kind: ShapeCircle, Radius: radius, Style: pick(style, CoverageStyle)})
}

// RemoveCircle removes the circle of the given radius, if any.
func (d *Drawing) RemoveCircle(radius float64) {
	d.remove(Shape{Kind: ShapeCircle, Radius: radius})
}

// DrawSector adds a wedge pointing at azimuth, beamWidth degrees wide.
func (d *Drawing) DrawSector(radius, azimuth, beamWidth float64, style ...Style) {
	d.add(Shape{Kind: ShapeSector, Radius: radius, Azimuth: azimuth, BeamWidth: beamWidth, Style: pick(style, CoverageStyle)})
}

// RemoveSector removes the matching wedge, if any.
func (d *Drawing) RemoveSector(radius, azimuth, beamWidth float64) {
	d.remove(Shape{Kind: ShapeSector, Radius: radius, Azimuth: azimuth, BeamWidth: beamWidth})
}

// DrawCoverage draws the radiation pattern of ch: a sector for sector
// models and a circle otherwise.
func (d *Drawing) DrawCoverage(ch Channel, style ...Style) {
	p := ch.Properties()
	if p.Model == ModelSector && p.BeamWidth < 360 {
		d.DrawSector(p.Radius, p.Azimuth, p.BeamWidth, style...)
		return
	}
	d.DrawCircle(p.Radius, style...)
}

// RemoveCoverage undoes DrawCoverage.
func (d *Drawing) RemoveCoverage(ch Channel) {
	p := ch.Properties()
	if p.Model == ModelSector && p.BeamWidth < 360 {
		d.RemoveSector(p.Radius, p.Azimuth, p.BeamWidth)
		return
	}
	d.RemoveCircle(p.Radius)
}

// Color returns the display color of the node.
func (d *Drawing) Color() string { return d.color }

// SetColor changes the display color of the node.
func (d *Drawing) SetColor(c string) {
	if !d.enabled {
		return
	}
	d.color = c
}

// ResetColor restores the default color.
func (d *Drawing) ResetColor() { d.color = ColorBlack }

func (d *Drawing) add(s Shape) {
	if !d.enabled {
		return
	}
	for _, existing := range d.shapes {
		if existing.matches(s) {
			return
		}
	}
	d.shapes = append(d.shapes, s)
}

func (d *Drawing) remove(s Shape) {
	if !d.enabled {
		return
	}
	for i, existing := range d.shapes {
		if existing.matches(s) {
			d.shapes = append(d.shapes[:i], d.shapes[i+1:]...)
			return
		}
	}
}

func pick(styles []Style, def Style) Style {
	if len(styles) > 0 {
		return styles[0]
	}
	return def
}
