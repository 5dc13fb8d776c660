// Package gateway runs the simulated tank and serves its sensors and pump coil
// over Modbus TCP.
//
// The tick loop is the only writer of plant state. Each tick reads the pump
// coil, steps the plant, appends a plant record and publishes the sensors for
// the next period. A second loop bumps the liveness counter registers.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/simonvetter/modbus"

	"go-tankloop/config"
	"go-tankloop/eventlog"
	"go-tankloop/handlers"
	"go-tankloop/logger"
	"go-tankloop/metrics"
	"go-tankloop/plant"
	"go-tankloop/points"
)

var (
	// ErrBind is returned by Start when the Modbus listener cannot be opened.
	ErrBind = errors.New("modbus listen failed")
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("gateway already started")
)

// State is a snapshot of the gateway for status reporting.
type State struct {
	Plant  plant.State            `json:"plant"`
	Points handlers.PointSnapshot `json:"points"`
	Ticks  uint64                 `json:"ticks"`
}

type Gateway struct {
	cfg     config.GatewayConfig
	log     logger.Logger
	sink    eventlog.Sink[eventlog.PlantRecord]
	metrics *metrics.GatewayMetrics

	mu  sync.RWMutex
	sim *plant.Simulator

	points  *handlers.PointMap
	handler *handlers.PointHandler
	server  *modbus.ModbusServer
}

type Option func(*Gateway)

func WithLogger(l logger.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

func WithSink(s eventlog.Sink[eventlog.PlantRecord]) Option {
	return func(g *Gateway) { g.sink = s }
}

// WithMetrics replaces the default metrics; nil is ignored.
func WithMetrics(m *metrics.GatewayMetrics) Option {
	return func(g *Gateway) {
		if m != nil {
			g.metrics = m
		}
	}
}

// New builds the plant and the point map. The pump coil starts at the
// configured pump state and the sensors are published before the first tick.
func New(cfg config.GatewayConfig, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		cfg:     cfg,
		log:     logger.GetLogger(),
		metrics: metrics.NewGateway(),
		points:  handlers.NewPointMap(),
	}
	for _, opt := range opts {
		opt(g)
	}

	sim, err := plant.NewSimulator(cfg.Parameters, cfg.Timestep.Duration, cfg.PumpActive, cfg.LeakActive)
	if err != nil {
		return nil, err
	}
	g.sim = sim
	g.handler = handlers.NewPointHandler(g.points, g.log, g.metrics)

	if err := g.points.SetCoils(points.PumpCoil, []bool{cfg.PumpActive}); err != nil {
		return nil, err
	}
	g.publish(sim.State())

	return g, nil
}

// Start opens the Modbus TCP listener.
func (g *Gateway) Start() error {
	if g.server != nil {
		return ErrAlreadyStarted
	}

	server, err := modbus.NewServer(&modbus.ServerConfiguration{
		URL:        "tcp://" + g.cfg.Listen,
		Timeout:    g.cfg.ClientTimeout.Duration,
		MaxClients: g.cfg.MaxClients,
	}, g.handler)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBind, g.cfg.Listen, err)
	}
	if err := server.Start(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBind, g.cfg.Listen, err)
	}

	g.server = server
	g.log.Info("modbus server listening", "address", g.cfg.Listen, "max_clients", g.cfg.MaxClients)

	return nil
}

// Close stops the Modbus listener and drops every client.
func (g *Gateway) Close() error {
	if g.server == nil {
		return nil
	}

	err := g.server.Stop()
	g.server = nil
	g.log.Info("modbus server stopped")

	return err
}

// Run drives the tick loop and the counter loop until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		g.counterLoop(ctx)
	}()

	ticker := time.NewTicker(g.cfg.Timestep.Duration)
	defer ticker.Stop()
	g.log.Info("tick loop started", "timestep", g.cfg.Timestep.Duration, "leak_active", g.cfg.LeakActive)

	for {
		select {
		case <-ticker.C:
			g.Tick()
		case <-ctx.Done():
			wg.Wait()
			g.log.Info("tick loop stopped", "ticks", g.metrics.TickCount.Load())
			return nil
		}
	}
}

func (g *Gateway) counterLoop(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.CounterInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			value := g.points.IncrementCounters()
			g.metrics.CounterValue.Store(uint32(value))
		case <-ctx.Done():
			return
		}
	}
}

// Tick advances the plant by one timestep and returns the appended record.
// It never fails; sink errors are logged and counted.
func (g *Gateway) Tick() eventlog.PlantRecord {
	pumpOn, err := g.points.Coil(points.PumpCoil)
	if err != nil {
		g.log.Error("failed to read pump coil", "error", err)
	}

	g.mu.Lock()
	g.sim.SetLeak(g.cfg.LeakActive)
	g.sim.SetPump(pumpOn)
	g.sim.Step()
	state := g.sim.State()
	g.mu.Unlock()

	rec := eventlog.PlantRecord{
		Time:        eventlog.Now(),
		Level:       state.Level,
		PumpOn:      state.PumpActive,
		UpperActive: state.UpperSensorActive,
		LowerActive: state.LowerSensorActive,
		Overflowing: state.Overflowing,
		Empty:       state.Empty,
	}
	if g.sink != nil {
		if err := g.sink.Append(rec); err != nil {
			g.metrics.SinkErrCount.Add(1)
			g.log.Error("failed to append plant record", "error", err)
		}
	}

	g.publish(state)
	g.metrics.TickCount.Add(1)
	g.log.Debug("tick", "level", state.Level, "pump", state.PumpActive,
		"upper", state.UpperSensorActive, "lower", state.LowerSensorActive)

	return rec
}

func (g *Gateway) publish(state plant.State) {
	g.points.SetSensors(state.UpperSensorActive, state.LowerSensorActive)
	g.metrics.SetLevel(state.Level)
	g.metrics.PumpOn.Store(state.PumpActive)
}

// Points returns the point map served to clients.
func (g *Gateway) Points() *handlers.PointMap {
	return g.points
}

// ClientRequests returns the number of Modbus requests served per client address.
func (g *Gateway) ClientRequests() map[string]int64 {
	return g.handler.ClientRequests()
}

func (g *Gateway) State() State {
	g.mu.RLock()
	plantState := g.sim.State()
	g.mu.RUnlock()

	return State{
		Plant:  plantState,
		Points: g.points.Snapshot(),
		Ticks:  g.metrics.TickCount.Load(),
	}
}
