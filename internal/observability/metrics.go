package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SimCollector bundles Prometheus metrics for a simulation run. It
// satisfies core.MetricsRecorder so a World can drive it directly.
type SimCollector struct {
	gatherer prometheus.Gatherer

	EventsProcessed  *prometheus.CounterVec
	SimTime          prometheus.Gauge
	Nodes            *prometheus.GaugeVec
	Compactions      prometheus.Counter
	CompactedNodes   prometheus.Counter
	StepDuration     prometheus.Histogram
	Handshakes       *prometheus.CounterVec
	OpenAssociations prometheus.Gauge
}

// NewSimCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	events, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_events_processed_total",
		Help: "Simulation events delivered to the scenario, labeled by kind.",
	}, []string{"kind"}), "sim_events_processed_total")
	if err != nil {
		return nil, err
	}

	simTime, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_time_seconds",
		Help: "Simulated time of the last completed mobility step.",
	}), "sim_time_seconds")
	if err != nil {
		return nil, err
	}

	nodes, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sim_nodes",
		Help: "Nodes held by the registry, labeled by state (live or disabled).",
	}, []string{"state"}), "sim_nodes")
	if err != nil {
		return nil, err
	}

	compactions, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_compactions_total",
		Help: "Registry compactions performed.",
	}), "sim_compactions_total")
	if err != nil {
		return nil, err
	}
	compacted, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_compacted_nodes_total",
		Help: "Disabled nodes dropped by registry compaction.",
	}), "sim_compacted_nodes_total")
	if err != nil {
		return nil, err
	}

	stepDuration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_step_duration_seconds",
		Help:    "Wall time spent processing one mobility step, excluding pacing.",
		Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	}), "sim_step_duration_seconds")
	if err != nil {
		return nil, err
	}

	handshakes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_handshakes_total",
		Help: "Hello handshakes attempted by the scenario, labeled by outcome.",
	}, []string{"outcome"}), "sim_handshakes_total")
	if err != nil {
		return nil, err
	}

	associations, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_associations",
		Help: "Vehicle to base station associations currently open.",
	}), "sim_associations")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:         gatherer,
		EventsProcessed:  events,
		SimTime:          simTime,
		Nodes:            nodes,
		Compactions:      compactions,
		CompactedNodes:   compacted,
		StepDuration:     stepDuration,
		Handshakes:       handshakes,
		OpenAssociations: associations,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveEvent counts one delivered event.
func (c *SimCollector) ObserveEvent(kind string) {
	if c == nil || c.EventsProcessed == nil {
		return
	}
	c.EventsProcessed.WithLabelValues(kind).Inc()
}

// ObserveStep records the simulated time reached and the wall time the
// step took.
func (c *SimCollector) ObserveStep(simTime float64, wall time.Duration) {
	if c == nil {
		return
	}
	if c.SimTime != nil {
		c.SimTime.Set(simTime)
	}
	if c.StepDuration != nil {
		c.StepDuration.Observe(wall.Seconds())
	}
}

// SetNodeCounts updates the registry gauges.
func (c *SimCollector) SetNodeCounts(live, disabled int) {
	if c == nil || c.Nodes == nil {
		return
	}
	c.Nodes.WithLabelValues("live").Set(float64(live))
	c.Nodes.WithLabelValues("disabled").Set(float64(disabled))
}

// ObserveCompaction records one compaction that dropped the given nodes.
func (c *SimCollector) ObserveCompaction(dropped int) {
	if c == nil {
		return
	}
	if c.Compactions != nil {
		c.Compactions.Inc()
	}
	if c.CompactedNodes != nil {
		c.CompactedNodes.Add(float64(dropped))
	}
}

// ObserveHandshake counts one hello handshake.
func (c *SimCollector) ObserveHandshake(ok bool) {
	if c == nil || c.Handshakes == nil {
		return
	}
	outcome := "failed"
	if ok {
		outcome = "completed"
	}
	c.Handshakes.WithLabelValues(outcome).Inc()
}

// SetAssociations updates the open association gauge.
func (c *SimCollector) SetAssociations(n int) {
	if c == nil || c.OpenAssociations == nil {
		return
	}
	c.OpenAssociations.Set(float64(n))
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
