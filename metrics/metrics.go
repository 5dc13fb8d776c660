// Package metrics holds the runtime counters of the gateway and the controller.
//
// Counters are plain atomics so components can update them without a
// registry; Register exposes them as prometheus CounterFunc/GaugeFunc values.
package metrics

import (
	"errors"
	"math"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tankloop"

// GatewayMetrics contains atomic metrics for the gateway.
type GatewayMetrics struct {
	// TickCount indicates the number of plant steps taken.
	TickCount atomic.Uint64
	// SinkErrCount indicates the number of plant records a sink failed to take.
	SinkErrCount atomic.Uint64
	// CounterValue is the current value of the liveness counter registers.
	CounterValue atomic.Uint32
	// PumpOn reflects the last coil value applied to the plant.
	PumpOn atomic.Bool

	levelBits atomic.Uint64
	requests  *prometheus.CounterVec
}

func NewGateway() *GatewayMetrics {
	return &GatewayMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Modbus requests served, by point table and outcome.",
		}, []string{"table", "outcome"}),
	}
}

func (m *GatewayMetrics) SetLevel(level float64) {
	m.levelBits.Store(math.Float64bits(level))
}

func (m *GatewayMetrics) Level() float64 {
	return math.Float64frombits(m.levelBits.Load())
}

// ObserveRequest counts one Modbus request against table ("coils", "discrete_inputs", ...).
func (m *GatewayMetrics) ObserveRequest(table, outcome string) {
	m.requests.WithLabelValues(table, outcome).Inc()
}

// Requests returns the request counter for table and outcome.
func (m *GatewayMetrics) Requests(table, outcome string) prometheus.Counter {
	return m.requests.WithLabelValues(table, outcome)
}

func (m *GatewayMetrics) Register(reg prometheus.Registerer) error {
	return registerAll(reg,
		m.requests,
		prometheus.NewGaugeFunc(gaugeOpts("gateway", "tank_level", "Current simulated tank level."), m.Level),
		prometheus.NewGaugeFunc(gaugeOpts("gateway", "pump_on", "1 while the pump coil is on."), func() float64 {
			return boolValue(m.PumpOn.Load())
		}),
		prometheus.NewCounterFunc(counterOpts("gateway", "ticks_total", "Plant steps taken."), func() float64 {
			return float64(m.TickCount.Load())
		}),
		prometheus.NewCounterFunc(counterOpts("gateway", "sink_errors_total", "Plant records a sink failed to take."), func() float64 {
			return float64(m.SinkErrCount.Load())
		}),
		prometheus.NewGaugeFunc(gaugeOpts("gateway", "liveness_counter", "Current liveness counter register value."), func() float64 {
			return float64(m.CounterValue.Load())
		}),
	)
}

// ControllerMetrics contains atomic metrics for the controller.
type ControllerMetrics struct {
	// CycleCount indicates the number of completed poll cycles.
	CycleCount atomic.Uint64
	// ActionCount indicates the number of successful coil writes.
	ActionCount atomic.Uint64
	// RefreshCount indicates the number of resyncs performed.
	RefreshCount atomic.Uint64
	// SinkErrCount indicates the number of controller records a sink failed to take.
	SinkErrCount atomic.Uint64

	errors       *prometheus.CounterVec
	cycleSeconds prometheus.Histogram
}

func NewController() *ControllerMetrics {
	return &ControllerMetrics{
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "modbus_errors_total",
			Help:      "Failed Modbus accesses, by target point and error kind.",
		}, []string{"target", "kind"}),
		cycleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "cycle_seconds",
			Help:      "Duration of one poll cycle including a resync.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}
}

func (m *ControllerMetrics) ObserveError(target, kind string) {
	m.errors.WithLabelValues(target, kind).Inc()
}

// Errors returns the error counter for target and kind.
func (m *ControllerMetrics) Errors(target, kind string) prometheus.Counter {
	return m.errors.WithLabelValues(target, kind)
}

func (m *ControllerMetrics) ObserveCycle(seconds float64) {
	m.cycleSeconds.Observe(seconds)
}

func (m *ControllerMetrics) Register(reg prometheus.Registerer) error {
	return registerAll(reg,
		m.errors,
		m.cycleSeconds,
		prometheus.NewCounterFunc(counterOpts("controller", "cycles_total", "Completed poll cycles."), func() float64 {
			return float64(m.CycleCount.Load())
		}),
		prometheus.NewCounterFunc(counterOpts("controller", "actions_total", "Successful pump coil writes."), func() float64 {
			return float64(m.ActionCount.Load())
		}),
		prometheus.NewCounterFunc(counterOpts("controller", "refreshes_total", "Resyncs performed."), func() float64 {
			return float64(m.RefreshCount.Load())
		}),
		prometheus.NewCounterFunc(counterOpts("controller", "sink_errors_total", "Controller records a sink failed to take."), func() float64 {
			return float64(m.SinkErrCount.Load())
		}),
	)
}

func gaugeOpts(subsystem, name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help}
}

func counterOpts(subsystem, name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help}
}

func registerAll(reg prometheus.Registerer, collectors ...prometheus.Collector) error {
	var errs []error
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}

	return 0
}
