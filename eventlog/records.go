package eventlog

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the timestamp format of both logs: YYYY-MM-DD HH:MM:SS.ffffff.
const TimeLayout = "2006-01-02 15:04:05.000000"

var (
	// PlantHeader is the fixed header row of the plant history log.
	PlantHeader = []string{"Time", "level", "is_pump_on", "is_upper_sensor_active", "is_lower_sensor_active", "is_overflowing", "is_empty"}

	// ControllerHeader is the fixed header row of the controller history log.
	ControllerHeader = []string{"Time", "is_action", "is_modbus_error", "is_state_refresh", "targets", "message"}
)

// PlantRecord is one row of the plant history: the tank state after a tick.
type PlantRecord struct {
	Time        time.Time `json:"time"`
	Level       float64   `json:"level"`
	PumpOn      bool      `json:"pump_on"`
	UpperActive bool      `json:"upper_active"`
	LowerActive bool      `json:"lower_active"`
	Overflowing bool      `json:"overflowing"`
	Empty       bool      `json:"empty"`
}

// ControllerRecord is one row of the controller history: an action, a Modbus
// error or a state refresh.
type ControllerRecord struct {
	Time      time.Time `json:"time"`
	IsAction  bool      `json:"is_action"`
	IsError   bool      `json:"is_modbus_error"`
	IsRefresh bool      `json:"is_state_refresh"`
	Targets   TargetSet `json:"targets"`
	Message   string    `json:"message"`
}

// Now returns the current local time truncated to the log's microsecond resolution.
func Now() time.Time {
	return time.Now().Truncate(time.Microsecond)
}

// NewAction creates an action record stamped now.
func NewAction(targets TargetSet, message string) ControllerRecord {
	return ControllerRecord{Time: Now(), IsAction: true, Targets: targets, Message: message}
}

// NewModbusError creates a Modbus error record stamped now.
func NewModbusError(targets TargetSet, message string) ControllerRecord {
	return ControllerRecord{Time: Now(), IsError: true, Targets: targets, Message: message}
}

// NewStateRefresh creates a state refresh record stamped now.
func NewStateRefresh(targets TargetSet, message string) ControllerRecord {
	return ControllerRecord{Time: Now(), IsRefresh: true, Targets: targets, Message: message}
}

// Kind returns "action", "error" or "refresh".
func (r ControllerRecord) Kind() string {
	switch {
	case r.IsAction:
		return "action"
	case r.IsError:
		return "error"
	case r.IsRefresh:
		return "refresh"
	default:
		return "other"
	}
}

func formatTime(t time.Time) string {
	return t.Format(TimeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.ParseInLocation(TimeLayout, strings.TrimSpace(s), time.Local)
}

// formatBool writes booleans the way the analysis tooling expects them.
func formatBool(b bool) string {
	if b {
		return "True"
	}

	return "False"
}

// parseBool accepts true/1/yes in any case; everything else is false.
func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

func encodePlant(r PlantRecord) []string {
	return []string{
		formatTime(r.Time),
		strconv.FormatFloat(r.Level, 'f', -1, 64),
		formatBool(r.PumpOn),
		formatBool(r.UpperActive),
		formatBool(r.LowerActive),
		formatBool(r.Overflowing),
		formatBool(r.Empty),
	}
}

func decodePlant(row []string) (PlantRecord, error) {
	if len(row) != len(PlantHeader) {
		return PlantRecord{}, fmt.Errorf("%w: want %d fields, got %d", ErrMalformedRow, len(PlantHeader), len(row))
	}
	ts, err := parseTime(row[0])
	if err != nil {
		return PlantRecord{}, fmt.Errorf("%w: time: %w", ErrMalformedRow, err)
	}
	level, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
	if err != nil {
		return PlantRecord{}, fmt.Errorf("%w: level: %w", ErrMalformedRow, err)
	}

	return PlantRecord{
		Time:        ts,
		Level:       level,
		PumpOn:      parseBool(row[2]),
		UpperActive: parseBool(row[3]),
		LowerActive: parseBool(row[4]),
		Overflowing: parseBool(row[5]),
		Empty:       parseBool(row[6]),
	}, nil
}

func encodeController(r ControllerRecord) []string {
	return []string{
		formatTime(r.Time),
		formatBool(r.IsAction),
		formatBool(r.IsError),
		formatBool(r.IsRefresh),
		r.Targets.String(),
		r.Message,
	}
}

func decodeController(row []string) (ControllerRecord, error) {
	if len(row) != len(ControllerHeader) {
		return ControllerRecord{}, fmt.Errorf("%w: want %d fields, got %d", ErrMalformedRow, len(ControllerHeader), len(row))
	}
	ts, err := parseTime(row[0])
	if err != nil {
		return ControllerRecord{}, fmt.Errorf("%w: time: %w", ErrMalformedRow, err)
	}

	return ControllerRecord{
		Time:      ts,
		IsAction:  parseBool(row[1]),
		IsError:   parseBool(row[2]),
		IsRefresh: parseBool(row[3]),
		Targets:   ParseTargetSet(row[4]),
		Message:   row[5],
	}, nil
}
