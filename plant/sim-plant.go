// Package plant models the simulated tank: a fixed-timestep level integrator with a
// pump filling it, a leak draining it and two level sensors.
//
// The level is an abstract quantity (liters, gallons, ...). The simulator is
// deterministic and owns its state; it never fails once constructed.
package plant

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidParameters is returned when a Parameters value violates its invariants.
	ErrInvalidParameters = errors.New("invalid simulation parameters")

	// ErrInvalidTimestep is returned when the timestep is not positive.
	ErrInvalidTimestep = errors.New("timestep must be positive")
)

// Parameters holds the immutable configuration of a simulation run.
type Parameters struct {
	// UpperSensorLevel is the level at or above which the upper sensor is active.
	UpperSensorLevel float64 `json:"upper_sensor_level"`
	// LowerSensorLevel is the level at or above which the lower sensor is active.
	LowerSensorLevel float64 `json:"lower_sensor_level"`
	// LeakRatePerSec is how much the level drops per second while leaking.
	LeakRatePerSec float64 `json:"leak_rate_per_sec"`
	// PumpRatePerSec is how much the level rises per second while pumping.
	PumpRatePerSec float64 `json:"pump_rate_per_sec"`

	InitialLevel float64 `json:"initial_level"`
	MinLevel     float64 `json:"min_level"`
	MaxLevel     float64 `json:"max_level"`
}

// DefaultParameters returns the parameters of the reference tank.
func DefaultParameters() Parameters {
	return Parameters{
		UpperSensorLevel: 75,
		LowerSensorLevel: 25,
		LeakRatePerSec:   5,
		PumpRatePerSec:   10,
		InitialLevel:     0,
		MinLevel:         0,
		MaxLevel:         100,
	}
}

// Validate checks min <= initial <= max, min < max and non-negative rates.
func (p Parameters) Validate() error {
	if p.MinLevel >= p.MaxLevel {
		return fmt.Errorf("%w: min_level %v must be below max_level %v", ErrInvalidParameters, p.MinLevel, p.MaxLevel)
	}
	if p.InitialLevel < p.MinLevel || p.InitialLevel > p.MaxLevel {
		return fmt.Errorf("%w: initial_level %v outside [%v, %v]", ErrInvalidParameters, p.InitialLevel, p.MinLevel, p.MaxLevel)
	}
	if p.LeakRatePerSec < 0 || p.PumpRatePerSec < 0 {
		return fmt.Errorf("%w: rates must not be negative", ErrInvalidParameters)
	}

	return nil
}

// State is a point-in-time copy of the simulator state.
type State struct {
	Level             float64 `json:"level"`
	PumpActive        bool    `json:"pump_active"`
	LeakActive        bool    `json:"leak_active"`
	Overflowing       bool    `json:"overflowing"`
	Empty             bool    `json:"empty"`
	Increasing        bool    `json:"increasing"`
	Decreasing        bool    `json:"decreasing"`
	UpperSensorActive bool    `json:"upper_sensor_active"`
	LowerSensorActive bool    `json:"lower_sensor_active"`
}

// Simulator advances the tank level one timestep at a time.
//
// It is not safe for concurrent use; a single loop owns it.
type Simulator struct {
	params   Parameters
	timestep time.Duration

	pumpPerStep float64
	leakPerStep float64

	level       float64
	pumpActive  bool
	leakActive  bool
	overflowing bool
	empty       bool
	increasing  bool
	decreasing  bool
}

// NewSimulator creates a simulator starting at params.InitialLevel.
func NewSimulator(params Parameters, timestep time.Duration, pumpActive, leakActive bool) (*Simulator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if timestep <= 0 {
		return nil, ErrInvalidTimestep
	}

	secs := timestep.Seconds()

	return &Simulator{
		params:      params,
		timestep:    timestep,
		pumpPerStep: params.PumpRatePerSec * secs,
		leakPerStep: params.LeakRatePerSec * secs,
		level:       params.InitialLevel,
		pumpActive:  pumpActive,
		leakActive:  leakActive,
		overflowing: params.InitialLevel >= params.MaxLevel,
		empty:       params.InitialLevel <= params.MinLevel,
	}, nil
}

// Step advances the simulation by one timestep. The pump and leak are assumed to
// be in their current setting for the whole step.
func (s *Simulator) Step() {
	s.increasing = false
	s.decreasing = false
	s.overflowing = false
	s.empty = false

	delta := 0.0
	if s.pumpActive {
		delta += s.pumpPerStep
	}
	if s.leakActive {
		delta -= s.leakPerStep
	}

	switch {
	case delta > 0:
		s.increasing = true
	case delta < 0:
		s.decreasing = true
	}

	s.level += delta

	if s.level <= s.params.MinLevel {
		s.level = s.params.MinLevel
		s.empty = true
	}
	if s.level >= s.params.MaxLevel {
		s.level = s.params.MaxLevel
		s.overflowing = true
	}
}

func (s *Simulator) SetPump(active bool) { s.pumpActive = active }

func (s *Simulator) SetLeak(active bool) { s.leakActive = active }

func (s *Simulator) Parameters() Parameters { return s.params }

func (s *Simulator) Timestep() time.Duration { return s.timestep }

func (s *Simulator) Level() float64 { return s.level }

func (s *Simulator) PumpActive() bool { return s.pumpActive }

func (s *Simulator) LeakActive() bool { return s.leakActive }

func (s *Simulator) IsOverflowing() bool { return s.overflowing }

func (s *Simulator) IsEmpty() bool { return s.empty }

func (s *Simulator) IsIncreasing() bool { return s.increasing }

func (s *Simulator) IsDecreasing() bool { return s.decreasing }

// UpperSensorActive reports whether the level is at or above the upper sensor.
func (s *Simulator) UpperSensorActive() bool {
	return s.level >= s.params.UpperSensorLevel
}

// LowerSensorActive reports whether the level is at or above the lower sensor.
// Both sensors trip on rising level; the lower one is not inverted.
func (s *Simulator) LowerSensorActive() bool {
	return s.level >= s.params.LowerSensorLevel
}

// State returns a snapshot of the current state.
func (s *Simulator) State() State {
	return State{
		Level:             s.level,
		PumpActive:        s.pumpActive,
		LeakActive:        s.leakActive,
		Overflowing:       s.overflowing,
		Empty:             s.empty,
		Increasing:        s.increasing,
		Decreasing:        s.decreasing,
		UpperSensorActive: s.UpperSensorActive(),
		LowerSensorActive: s.LowerSensorActive(),
	}
}
