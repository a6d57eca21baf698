package core

// Signal is one transmission attempt. Receivers work on a copy so that a
// signal fanned out to many nodes never shares computed distortion.
type Signal struct {
	// Source is the transmitting node. It is not owned by the signal.
	Source  *Node
	TxPower float64
	RxPower float64
	// Quality is the CQI in [0,1].
	Quality float64
}

// NewSignal returns a signal from source at the given transmit power.
func NewSignal(source *Node, txPower float64) *Signal {
	return &Signal{Source: source, TxPower: txPower}
}

// Copy returns an independent copy of s.
func (s *Signal) Copy() *Signal {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// LinkQuality is a coarse, human-readable classification of a CQI value.
type LinkQuality string

const (
	LinkQualityDown      LinkQuality = "down"
	LinkQualityPoor      LinkQuality = "poor"
	LinkQualityFair      LinkQuality = "fair"
	LinkQualityGood      LinkQuality = "good"
	LinkQualityExcellent LinkQuality = "excellent"
)

// ClassifyQuality buckets a CQI in [0,1].
func ClassifyQuality(q float64) LinkQuality {
	switch {
	case q <= 0:
		return LinkQualityDown
	case q < 0.25:
		return LinkQualityPoor
	case q < 0.5:
		return LinkQualityFair
	case q < 0.75:
		return LinkQualityGood
	default:
		return LinkQualityExcellent
	}
}
