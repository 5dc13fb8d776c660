package eventlog

import (
	"strings"
)

// Target is something a controller record refers to.
type Target uint8

const (
	// TargetLowerSensor is the lower level sensor (LLS).
	TargetLowerSensor Target = 1 << iota
	// TargetUpperSensor is the upper level sensor (ULS).
	TargetUpperSensor
	// TargetPump is the pump coil.
	TargetPump
)

// allTargets is the serialization order.
var allTargets = [...]Target{TargetLowerSensor, TargetUpperSensor, TargetPump}

func (t Target) String() string {
	switch t {
	case TargetLowerSensor:
		return "LLS"
	case TargetUpperSensor:
		return "ULS"
	case TargetPump:
		return "pump"
	default:
		return ""
	}
}

// TargetSet is a set of targets. The zero value is the empty set.
type TargetSet uint8

// Targets builds a set from the given targets.
func Targets(targets ...Target) TargetSet {
	var s TargetSet
	for _, t := range targets {
		s = s.With(t)
	}

	return s
}

// AllTargets returns the set of every known target.
func AllTargets() TargetSet {
	return Targets(allTargets[:]...)
}

func (s TargetSet) With(t Target) TargetSet { return s | TargetSet(t) }

func (s TargetSet) Has(t Target) bool { return s&TargetSet(t) != 0 }

func (s TargetSet) IsEmpty() bool { return s == 0 }

// Slice returns the members in serialization order.
func (s TargetSet) Slice() []Target {
	out := make([]Target, 0, len(allTargets))
	for _, t := range allTargets {
		if s.Has(t) {
			out = append(out, t)
		}
	}

	return out
}

// String joins the members with dashes, always as LLS-ULS-pump order.
func (s TargetSet) String() string {
	parts := make([]string, 0, len(allTargets))
	for _, t := range s.Slice() {
		parts = append(parts, t.String())
	}

	return strings.Join(parts, "-")
}

// ParseTargetSet parses a dash-joined target list. Unknown, empty and duplicate
// tokens are dropped; parsing never fails.
func ParseTargetSet(s string) TargetSet {
	var set TargetSet
	for _, token := range strings.Split(s, "-") {
		switch strings.TrimSpace(token) {
		case "LLS":
			set = set.With(TargetLowerSensor)
		case "ULS":
			set = set.With(TargetUpperSensor)
		case "pump":
			set = set.With(TargetPump)
		}
	}

	return set
}

func (s TargetSet) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *TargetSet) UnmarshalText(text []byte) error {
	*s = ParseTargetSet(string(text))
	return nil
}
