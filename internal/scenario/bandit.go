package scenario

import (
	"context"

	"github.com/signalsfoundry/vanet-simulator/core"
	"github.com/signalsfoundry/vanet-simulator/internal/logging"
)

// arm is one beam and vehicle pair the bandit may pull.
type arm struct {
	station *station
	mobile  *mobile
	cqi     float64
}

// pullArm associates at most one vehicle per step while fewer than
// MaxActive beams serve. Before ExploreUntil an arm is drawn at random
// with probability ExploreRandom and otherwise chosen by CQI; afterwards
// the beam with the best average reward wins. Ties go to the first arm.
func (a *Association) pullArm(simTime float64) {
	if a.associations() >= a.bandit.MaxActive {
		return
	}
	arms := a.arms()
	if len(arms) == 0 {
		return
	}

	var pick arm
	var reason string
	switch {
	case simTime < a.bandit.ExploreUntil && a.rng.Float64() < a.bandit.ExploreRandom:
		pick, reason = arms[a.rng.Intn(len(arms))], "explore random"
	case simTime < a.bandit.ExploreUntil:
		pick, reason = bestArm(arms, func(x arm) float64 { return x.cqi }), "explore best cqi"
	default:
		pick, reason = bestArm(arms, func(x arm) float64 { return x.station.average() }), "exploit best average"
	}

	a.associate(pick.mobile, pick.station, simTime)
	a.log.Info(context.Background(), "associated",
		logging.String("vehicle", pick.mobile.node.ID()),
		logging.String("base_station", pick.station.node.ID()),
		logging.Float("cqi", pick.cqi),
		logging.Float("average_reward", pick.station.average()),
		logging.String("reason", reason),
		logging.SimTime(simTime),
	)
}

// arms lists every free beam paired with each free vehicle it reaches
// whose hello back to the beam succeeds, in station then broadcast order.
func (a *Association) arms() []arm {
	var out []arm
	for _, st := range a.stations {
		if st.serving != nil {
			continue
		}
		for _, n := range st.node.Transceiver().Broadcast(core.NewSignal(st.node, core.HelloTxPower)) {
			if n.Type() != core.NodeVehicle {
				continue
			}
			m := a.mobileFor(n)
			if m == nil || m.serving != nil {
				continue
			}
			cqi, ok := a.hello(m.node, st.node)
			if !ok {
				continue
			}
			out = append(out, arm{station: st, mobile: m, cqi: cqi})
		}
	}
	return out
}

func bestArm(arms []arm, score func(arm) float64) arm {
	best := arms[0]
	for _, x := range arms[1:] {
		if score(x) > score(best) {
			best = x
		}
	}
	return best
}

func (a *Association) mobileFor(n *core.Node) *mobile {
	for _, m := range a.mobiles {
		if m.node == n {
			return m
		}
	}
	return nil
}

// BeamStat is the reward record of one base station beam.
type BeamStat struct {
	ID string
	// Reward is the summed duration, in simulated seconds, of the services
	// that ended; Average divides it by Trials.
	Reward  float64
	Trials  int
	Average float64
}

// BeamStats returns the bandit reward of every beam in creation order.
// Services still open when the run ends are not counted.
func (a *Association) BeamStats() []BeamStat {
	out := make([]BeamStat, 0, len(a.stations))
	for _, st := range a.stations {
		out = append(out, BeamStat{
			ID:      st.node.ID(),
			Reward:  st.reward,
			Trials:  st.trials,
			Average: st.average(),
		})
	}
	return out
}
