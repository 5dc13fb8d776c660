package eventlog

import "time"

// TimeZero returns the earliest timestamp seen in either log. Downstream
// consumers align both logs on it. ok is false when both logs are empty.
func TimeZero(plant []PlantRecord, controller []ControllerRecord) (zero time.Time, ok bool) {
	consider := func(t time.Time) {
		if !ok || t.Before(zero) {
			zero = t
			ok = true
		}
	}
	for _, r := range plant {
		consider(r.Time)
	}
	for _, r := range controller {
		consider(r.Time)
	}

	return zero, ok
}

// Offset returns the seconds elapsed between zero and t.
func Offset(zero, t time.Time) float64 {
	return t.Sub(zero).Seconds()
}
