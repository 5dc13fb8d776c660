package eventlog

import (
	"math"
	"time"
)

// PlantSummary aggregates a plant history.
type PlantSummary struct {
	Records     int     `json:"records"`
	Start       float64 `json:"start_s"`
	End         float64 `json:"end_s"`
	MinLevel    float64 `json:"min_level"`
	MaxLevel    float64 `json:"max_level"`
	PumpOnRatio float64 `json:"pump_on_ratio"`
	Overflowing int     `json:"overflowing"`
	Empty       int     `json:"empty"`
}

// ControllerSummary aggregates a controller history. ErrorsByTarget is keyed
// by target name.
type ControllerSummary struct {
	Records        int            `json:"records"`
	Actions        int            `json:"actions"`
	Errors         int            `json:"errors"`
	Refreshes      int            `json:"refreshes"`
	ErrorsByTarget map[string]int `json:"errors_by_target"`
}

// Summary describes a run with all offsets relative to TimeZero.
type Summary struct {
	TimeZero   time.Time         `json:"time_zero"`
	Plant      PlantSummary      `json:"plant"`
	Controller ControllerSummary `json:"controller"`
}

// Summarize aggregates both histories; ok is false when both are empty.
func Summarize(plant []PlantRecord, controller []ControllerRecord) (s Summary, ok bool) {
	zero, ok := TimeZero(plant, controller)
	if !ok {
		return Summary{}, false
	}
	s.TimeZero = zero

	p := &s.Plant
	p.Records = len(plant)
	p.MinLevel, p.MaxLevel = math.Inf(1), math.Inf(-1)
	pumpOn := 0
	for i, r := range plant {
		off := Offset(zero, r.Time)
		if i == 0 || off < p.Start {
			p.Start = off
		}
		if i == 0 || off > p.End {
			p.End = off
		}
		p.MinLevel = math.Min(p.MinLevel, r.Level)
		p.MaxLevel = math.Max(p.MaxLevel, r.Level)
		if r.PumpOn {
			pumpOn++
		}
		if r.Overflowing {
			p.Overflowing++
		}
		if r.Empty {
			p.Empty++
		}
	}
	if p.Records == 0 {
		p.MinLevel, p.MaxLevel = 0, 0
	} else {
		p.PumpOnRatio = float64(pumpOn) / float64(p.Records)
	}

	c := &s.Controller
	c.Records = len(controller)
	c.ErrorsByTarget = map[string]int{}
	for _, r := range controller {
		switch {
		case r.IsAction:
			c.Actions++
		case r.IsError:
			c.Errors++
			for _, t := range r.Targets.Slice() {
				c.ErrorsByTarget[t.String()]++
			}
		case r.IsRefresh:
			c.Refreshes++
		}
	}

	return s, true
}
