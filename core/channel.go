package core

import "math"

// Channel models how a transmission radiates from its source. A channel is
// shared configuration: it is never mutated by propagation, which only
// writes into the Signal it is handed.
type Channel interface {
	// Frequency is the carrier frequency in GHz.
	Frequency() float64
	// CanReach is the cheap reachability pre-check used for fan-out.
	CanReach(src, dst *Node, sig *Signal) bool
	// Propagate writes quality and receive power for dst into sig and
	// returns it. Every failure collapses to zero quality.
	Propagate(src, dst *Node, sig *Signal) *Signal
	// CanDetect reports whether a propagated signal is usable.
	CanDetect(sig *Signal) bool
	// Properties describes the radiation pattern for drawing and logs.
	Properties() ChannelProperties
}

// ChannelProperties is the static shape of a channel.
type ChannelProperties struct {
	Model     string  `json:"model"`
	Frequency float64 `json:"frequency"`
	Radius    float64 `json:"radius"`
	BeamWidth float64 `json:"beam_width,omitempty"`
	Azimuth   float64 `json:"azimuth,omitempty"`
}

const (
	ModelDisc   = "disc"
	ModelSector = "sector"
)

// DiscModel radiates omnidirectionally up to Radius. Frequency is checked
// by CanReach only; Propagate is distance alone.
type DiscModel struct {
	freq   float64
	radius float64
}

// NewDiscModel constructs a disc channel.
func NewDiscModel(freq, radius float64) *DiscModel {
	return &DiscModel{freq: freq, radius: radius}
}

func (m *DiscModel) Frequency() float64 { return m.freq }
func (m *DiscModel) Radius() float64    { return m.radius }

func (m *DiscModel) CanReach(src, dst *Node, _ *Signal) bool {
	if !sameFrequency(src, dst) {
		return false
	}
	return src.Position().DistanceTo(dst.Position()) <= m.radius
}

func (m *DiscModel) Propagate(src, dst *Node, sig *Signal) *Signal {
	if sig == nil {
		return nil
	}
	d := src.Position().DistanceTo(dst.Position())
	if d > m.radius {
		return attenuate(sig, 0)
	}
	return attenuate(sig, linearQuality(d, m.radius))
}

func (m *DiscModel) CanDetect(sig *Signal) bool { return sig != nil && sig.Quality > 0 }

func (m *DiscModel) Properties() ChannelProperties {
	return ChannelProperties{Model: ModelDisc, Frequency: m.freq, Radius: m.radius}
}

// SectorModel radiates within a wedge of BeamWidth degrees centred on
// Azimuth, up to Radius.
type SectorModel struct {
	freq      float64
	radius    float64
	beamWidth float64
	azimuth   float64
}

// NewSectorModel constructs a sector channel. The azimuth is normalized to
// [0,360); the beam width is folded into [0,360] so that 360 stays a full
// circle. A NaN or infinite width covers nothing.
func NewSectorModel(freq, radius, beamWidth, azimuth float64) *SectorModel {
	return &SectorModel{
		freq:      freq,
		radius:    radius,
		beamWidth: foldBeamWidth(beamWidth),
		azimuth:   NormalizeAzimuth(azimuth),
	}
}

func foldBeamWidth(w float64) float64 {
	switch {
	case math.IsNaN(w) || math.IsInf(w, 0):
		return 0
	case w > 360:
		if w = math.Mod(w, 360); w == 0 {
			return 360
		}
	case w < 0:
		if w = math.Mod(w, 360); w < 0 {
			w += 360
		}
	}
	return w
}

func (m *SectorModel) Frequency() float64 { return m.freq }
func (m *SectorModel) Radius() float64    { return m.radius }
func (m *SectorModel) BeamWidth() float64 { return m.beamWidth }
func (m *SectorModel) Azimuth() float64   { return m.azimuth }

// CanReach checks frequency, distance and the bearing from src to dst.
func (m *SectorModel) CanReach(src, dst *Node, _ *Signal) bool {
	if !sameFrequency(src, dst) {
		return false
	}
	from, to := src.Position(), dst.Position()
	if from.DistanceTo(to) > m.radius {
		return false
	}
	return m.covers(from.AzimuthTo(to))
}

// Propagate gates on the bearing from dst back to src, after the frequency
// and distance checks.
func (m *SectorModel) Propagate(src, dst *Node, sig *Signal) *Signal {
	if sig == nil {
		return nil
	}
	from, to := src.Position(), dst.Position()
	d := from.DistanceTo(to)
	switch {
	case !sameFrequency(src, dst):
		return attenuate(sig, 0)
	case d > m.radius:
		return attenuate(sig, 0)
	case !m.covers(to.AzimuthTo(from)):
		return attenuate(sig, 0)
	}
	return attenuate(sig, linearQuality(d, m.radius))
}

func (m *SectorModel) CanDetect(sig *Signal) bool { return sig != nil && sig.Quality > 0 }

func (m *SectorModel) Properties() ChannelProperties {
	return ChannelProperties{
		Model:     ModelSector,
		Frequency: m.freq,
		Radius:    m.radius,
		BeamWidth: m.beamWidth,
		Azimuth:   m.azimuth,
	}
}

// covers tests angle against the unnormalized edges azimuth±width/2,
// edges inclusive, also trying angle±360 for wedges that cross north.
func (m *SectorModel) covers(angle float64) bool {
	left := m.azimuth - m.beamWidth/2
	right := m.azimuth + m.beamWidth/2
	for _, a := range [...]float64{angle, angle + 360, angle - 360} {
		if a >= left && a <= right {
			return true
		}
	}
	return false
}

func linearQuality(d, radius float64) float64 {
	if radius <= 0 {
		return 0
	}
	return 1 - d/radius
}

func attenuate(sig *Signal, q float64) *Signal {
	sig.Quality = q
	sig.RxPower = q
	return sig
}

func sameFrequency(src, dst *Node) bool {
	if src == nil || dst == nil {
		return false
	}
	a, b := src.Transceiver(), dst.Transceiver()
	if a == nil || b == nil {
		return false
	}
	return a.Channel().Frequency() == b.Channel().Frequency()
}
