package controller

// Signal is a cached point value. It stays unknown until its first successful read.
type Signal struct {
	value bool
	known bool
}

// Value returns the cached value; an unknown signal reads as false.
func (s Signal) Value() bool { return s.known && s.value }

func (s Signal) Known() bool { return s.known }

func (s *Signal) set(v bool) {
	s.value = v
	s.known = true
}

// Cache is the controller's last known view of the gateway.
type Cache struct {
	Pump  Signal
	Upper Signal
	Lower Signal
}

// CacheSnapshot is the JSON view of a Cache; unknown signals are null.
type CacheSnapshot struct {
	Pump  *bool `json:"pump"`
	Upper *bool `json:"upper_sensor"`
	Lower *bool `json:"lower_sensor"`
}

func (c Cache) Snapshot() CacheSnapshot {
	return CacheSnapshot{Pump: c.Pump.ptr(), Upper: c.Upper.ptr(), Lower: c.Lower.ptr()}
}

func (s Signal) ptr() *bool {
	if !s.known {
		return nil
	}
	v := s.value
	return &v
}
