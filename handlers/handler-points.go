package handlers

import (
	"errors"
	"fmt"
	"sync"

	"go-tankloop/points"
)

// ErrIllegalAddress is returned for any access outside the point map.
var ErrIllegalAddress = errors.New("illegal data address")

// PointMap is the gateway's Modbus data store: two discrete inputs, one coil and
// six holding registers. It is the only memory shared between the tick loop, the
// counter loop and the Modbus request handlers.
type PointMap struct {
	mu             sync.RWMutex
	discreteInputs [points.DiscreteInputCount]bool
	coils          [points.CoilCount]bool
	holding        [points.HoldingRegisterCount]uint16
}

// PointSnapshot is a copy of every point value at one instant.
type PointSnapshot struct {
	DiscreteInputs   []bool   `json:"discrete_inputs"`
	Coils            []bool   `json:"coils"`
	HoldingRegisters []uint16 `json:"holding_registers"`
}

func NewPointMap() *PointMap {
	return &PointMap{}
}

func checkRange(addr, quantity uint16, count int) error {
	if quantity == 0 || int(addr)+int(quantity) > count {
		return fmt.Errorf("%w: %d+%d exceeds %d points", ErrIllegalAddress, addr, quantity, count)
	}

	return nil
}

// SetSensors publishes both level sensors in one update.
func (pm *PointMap) SetSensors(upper, lower bool) {
	pm.mu.Lock()
	pm.discreteInputs[points.UpperSensorInput] = upper
	pm.discreteInputs[points.LowerSensorInput] = lower
	pm.mu.Unlock()
}

func (pm *PointMap) DiscreteInputs(addr, quantity uint16) ([]bool, error) {
	if err := checkRange(addr, quantity, points.DiscreteInputCount); err != nil {
		return nil, err
	}

	pm.mu.RLock()
	defer pm.mu.RUnlock()

	out := make([]bool, quantity)
	copy(out, pm.discreteInputs[addr:int(addr)+int(quantity)])

	return out, nil
}

func (pm *PointMap) Coils(addr, quantity uint16) ([]bool, error) {
	if err := checkRange(addr, quantity, points.CoilCount); err != nil {
		return nil, err
	}

	pm.mu.RLock()
	defer pm.mu.RUnlock()

	out := make([]bool, quantity)
	copy(out, pm.coils[addr:int(addr)+int(quantity)])

	return out, nil
}

// Coil returns a single coil value.
func (pm *PointMap) Coil(addr uint16) (bool, error) {
	values, err := pm.Coils(addr, 1)
	if err != nil {
		return false, err
	}

	return values[0], nil
}

// SetCoils writes values starting at addr. Nothing is written if any address is out of range.
func (pm *PointMap) SetCoils(addr uint16, values []bool) error {
	if len(values) > int(^uint16(0)) {
		return fmt.Errorf("%w: %d values", ErrIllegalAddress, len(values))
	}
	if err := checkRange(addr, uint16(len(values)), points.CoilCount); err != nil {
		return err
	}

	pm.mu.Lock()
	copy(pm.coils[addr:], values)
	pm.mu.Unlock()

	return nil
}

func (pm *PointMap) HoldingRegisters(addr, quantity uint16) ([]uint16, error) {
	if err := checkRange(addr, quantity, points.HoldingRegisterCount); err != nil {
		return nil, err
	}

	pm.mu.RLock()
	defer pm.mu.RUnlock()

	out := make([]uint16, quantity)
	copy(out, pm.holding[addr:int(addr)+int(quantity)])

	return out, nil
}

// IncrementCounters adds one to every holding register, wrapping at 2^16, and
// returns the new value of the first one.
func (pm *PointMap) IncrementCounters() uint16 {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	for i := range pm.holding {
		pm.holding[i]++
	}

	return pm.holding[points.CounterRegister]
}

func (pm *PointMap) Snapshot() PointSnapshot {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	return PointSnapshot{
		DiscreteInputs:   append([]bool(nil), pm.discreteInputs[:]...),
		Coils:            append([]bool(nil), pm.coils[:]...),
		HoldingRegisters: append([]uint16(nil), pm.holding[:]...),
	}
}
