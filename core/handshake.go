package core

// HelloTxPower is the transmit power used for handshake probes.
const HelloTxPower = 1.0

// Hello runs a probe/reply exchange from me to other and returns the CQI
// me measures on the reply. Both legs must reach independently, so a link
// covered in one direction only fails.
func Hello(me, other *Node) (float64, bool) {
	if me == nil || other == nil {
		return 0, false
	}
	mine, theirs := me.Transceiver(), other.Transceiver()
	if mine == nil || theirs == nil {
		return 0, false
	}

	probe := NewSignal(me, HelloTxPower)
	if mine.Unicast(probe, other) == nil {
		return 0, false
	}

	reply := NewSignal(other, HelloTxPower)
	if theirs.Unicast(reply, me) == nil {
		return 0, false
	}

	rx := mine.ReceivedSignal(other, reply)
	if !mine.CanDetect(rx) {
		return 0, false
	}
	return rx.Quality, true
}
