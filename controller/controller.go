// Package controller implements the hysteresis controller that keeps the tank
// level between the lower and upper sensors over Modbus TCP.
//
// Each cycle reads the lower sensor, then the upper one, and switches the pump
// only when the reading disagrees with the cached pump state. The cache is
// periodically resynced from the gateway. Every action, failed access and
// resync is appended to the controller history.
package controller

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go-tankloop/eventlog"
	"go-tankloop/logger"
	"go-tankloop/metrics"
	"go-tankloop/points"
)

const (
	MsgPumpOnByLLS       = "Turned ON pump by LLS"
	MsgPumpOffByULS      = "Turned OFF pump by ULS"
	MsgPumpOnFailed      = "MODBUS couldn't turn on pump."
	MsgPumpOffFailed     = "MODBUS couldn't turn off pump."
	MsgLowerReadFailed   = "MODBUS couldn't read lower sensor."
	MsgUpperReadFailed   = "MODBUS couldn't read upper sensor."
	MsgPumpReadFailed    = "MODBUS couldn't read pump state."
	MsgStateCacheUpdated = "Updated sensor state cache."
)

type Config struct {
	PollInterval time.Duration
	// RefreshInterval triggers a resync once this much monotonic time has passed.
	RefreshInterval time.Duration
	// RefreshCycles triggers a resync after this many cycles; 0 disables it.
	RefreshCycles int
}

type Controller struct {
	transport Transport
	cfg       Config
	sink      eventlog.Sink[eventlog.ControllerRecord]
	log       logger.Logger
	metrics   *metrics.ControllerMetrics
	clock     func() time.Time

	cache              Cache
	published          atomic.Pointer[Cache]
	lastRefresh        time.Time
	cyclesSinceRefresh int
}

type Option func(*Controller)

func WithLogger(l logger.Logger) Option {
	return func(c *Controller) { c.log = l }
}

func WithSink(s eventlog.Sink[eventlog.ControllerRecord]) Option {
	return func(c *Controller) { c.sink = s }
}

// WithMetrics replaces the default metrics; nil is ignored.
func WithMetrics(m *metrics.ControllerMetrics) Option {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithClock replaces the monotonic clock used for resync timing.
func WithClock(clock func() time.Time) Option {
	return func(c *Controller) { c.clock = clock }
}

func New(t Transport, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		transport: t,
		cfg:       cfg,
		log:       logger.GetLogger(),
		metrics:   metrics.NewController(),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Cache returns a copy of the cached view. Only safe from the goroutine
// running the controller; use Snapshot elsewhere.
func (c *Controller) Cache() Cache {
	return c.cache
}

// Snapshot returns the cache as of the end of the last cycle or resync.
// Safe for concurrent use.
func (c *Controller) Snapshot() CacheSnapshot {
	if p := c.published.Load(); p != nil {
		return p.Snapshot()
	}
	return Cache{}.Snapshot()
}

func (c *Controller) publish() {
	snapshot := c.cache
	c.published.Store(&snapshot)
}

// Run performs an initial resync, then one cycle per poll interval until ctx
// is cancelled. A cycle in progress completes before Run returns.
func (c *Controller) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}

	c.log.Info("controller started", "poll_interval", c.cfg.PollInterval,
		"refresh_interval", c.cfg.RefreshInterval, "refresh_cycles", c.cfg.RefreshCycles)
	c.Refresh(ctx)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("controller stopped")
			return nil
		case <-ticker.C:
			c.Cycle(ctx)
		}
	}
}

// Cycle runs one decision cycle: lower sensor, upper sensor, then a resync if due.
func (c *Controller) Cycle(ctx context.Context) {
	start := time.Now()

	c.checkLowerSensor(ctx)
	if ctx.Err() == nil {
		c.checkUpperSensor(ctx)
	}

	c.cyclesSinceRefresh++
	if ctx.Err() == nil && c.refreshDue() {
		c.Refresh(ctx)
	}

	c.publish()
	c.metrics.CycleCount.Add(1)
	c.metrics.ObserveCycle(time.Since(start).Seconds())
}

func (c *Controller) checkLowerSensor(ctx context.Context) {
	lower, err := c.transport.ReadDiscreteInput(ctx, points.LowerSensorInput).Get()
	if err != nil {
		c.recordError(eventlog.TargetLowerSensor, MsgLowerReadFailed, err)
		return
	}

	if !lower && !c.cache.Pump.Value() && ctx.Err() == nil {
		c.switchPump(ctx, true)
	}
	c.cache.Lower.set(lower)
}

func (c *Controller) checkUpperSensor(ctx context.Context) {
	upper, err := c.transport.ReadDiscreteInput(ctx, points.UpperSensorInput).Get()
	if err != nil {
		c.recordError(eventlog.TargetUpperSensor, MsgUpperReadFailed, err)
		return
	}

	if upper && c.cache.Pump.Value() && ctx.Err() == nil {
		c.switchPump(ctx, false)
	}
	c.cache.Upper.set(upper)
}

func (c *Controller) switchPump(ctx context.Context, on bool) {
	failed, done := MsgPumpOffFailed, MsgPumpOffByULS
	if on {
		failed, done = MsgPumpOnFailed, MsgPumpOnByLLS
	}

	if _, err := c.transport.WriteCoil(ctx, points.PumpCoil, on).Get(); err != nil {
		c.recordError(eventlog.TargetPump, failed, err)
		return
	}

	c.cache.Pump.set(on)
	c.metrics.ActionCount.Add(1)
	c.log.Info(done)
	c.emit(eventlog.NewAction(eventlog.Targets(eventlog.TargetPump), done))
}

// Refresh re-reads the pump coil and both sensors regardless of the cache and
// records which of them were read successfully. A refresh interrupted by
// cancellation keeps the values it read but is not recorded.
func (c *Controller) Refresh(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	var refreshed eventlog.TargetSet

	if pump, err := c.transport.ReadCoil(ctx, points.PumpCoil).Get(); err != nil {
		c.recordError(eventlog.TargetPump, MsgPumpReadFailed, err)
	} else {
		c.cache.Pump.set(pump)
		refreshed = refreshed.With(eventlog.TargetPump)
	}

	if upper, err := c.transport.ReadDiscreteInput(ctx, points.UpperSensorInput).Get(); err != nil {
		c.recordError(eventlog.TargetUpperSensor, MsgUpperReadFailed, err)
	} else {
		c.cache.Upper.set(upper)
		refreshed = refreshed.With(eventlog.TargetUpperSensor)
	}

	if lower, err := c.transport.ReadDiscreteInput(ctx, points.LowerSensorInput).Get(); err != nil {
		c.recordError(eventlog.TargetLowerSensor, MsgLowerReadFailed, err)
	} else {
		c.cache.Lower.set(lower)
		refreshed = refreshed.With(eventlog.TargetLowerSensor)
	}

	if ctx.Err() != nil {
		c.publish()
		return
	}

	c.lastRefresh = c.clock()
	c.cyclesSinceRefresh = 0
	c.publish()
	c.metrics.RefreshCount.Add(1)
	c.log.Debug(MsgStateCacheUpdated, "targets", refreshed.String(),
		"pump", c.cache.Pump.Value(), "upper", c.cache.Upper.Value(), "lower", c.cache.Lower.Value())
	c.emit(eventlog.NewStateRefresh(refreshed, MsgStateCacheUpdated))
}

func (c *Controller) refreshDue() bool {
	if c.cfg.RefreshCycles > 0 && c.cyclesSinceRefresh >= c.cfg.RefreshCycles {
		return true
	}

	return c.cfg.RefreshInterval > 0 && c.clock().Sub(c.lastRefresh) >= c.cfg.RefreshInterval
}

// recordError records a failed access. Requests refused because the loop is
// stopping never reached the gateway and are only logged.
func (c *Controller) recordError(target eventlog.Target, msg string, err error) {
	if errors.Is(err, context.Canceled) {
		c.log.Debug("request cancelled", "target", target.String(), "error", err)
		return
	}

	kind := TransportError
	var perr *PointError
	if errors.As(err, &perr) {
		kind = perr.Kind
	}

	c.metrics.ObserveError(target.String(), kind.String())
	c.log.Warn(msg, "target", target.String(), "error", err)
	c.emit(eventlog.NewModbusError(eventlog.Targets(target), msg))
}

func (c *Controller) emit(rec eventlog.ControllerRecord) {
	if c.sink == nil {
		return
	}
	if err := c.sink.Append(rec); err != nil {
		c.metrics.SinkErrCount.Add(1)
		c.log.Error("failed to append controller record", "kind", rec.Kind(), "error", err)
	}
}
