// Package history mirrors the plant and controller histories into a SQL
// database so runs can be queried without parsing the CSV logs.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"go-tankloop/eventlog"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"

	appendTimeout = 2 * time.Second
)

// ErrUnsupportedDriver is returned by Open for drivers other than sqlite and pgx.
var ErrUnsupportedDriver = errors.New("unsupported history driver")

// Store is a history database. Timestamps are stored as Unix microseconds.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to the database and creates the history tables if needed.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// one writer at a time; concurrent sqlite writers fail with SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	id := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == DriverPostgres {
		id = "BIGSERIAL PRIMARY KEY"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS plant_history (
			id ` + id + `,
			run_id TEXT NOT NULL,
			recorded_us BIGINT NOT NULL,
			level DOUBLE PRECISION NOT NULL,
			pump_on BOOLEAN NOT NULL,
			upper_active BOOLEAN NOT NULL,
			lower_active BOOLEAN NOT NULL,
			overflowing BOOLEAN NOT NULL,
			empty BOOLEAN NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS controller_history (
			id ` + id + `,
			run_id TEXT NOT NULL,
			recorded_us BIGINT NOT NULL,
			is_action BOOLEAN NOT NULL,
			is_modbus_error BOOLEAN NOT NULL,
			is_state_refresh BOOLEAN NOT NULL,
			targets TEXT NOT NULL,
			message TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create history tables: %w", err)
		}
	}

	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}

	return b.String()
}

func (s *Store) AppendPlant(ctx context.Context, runID string, rec eventlog.PlantRecord) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO plant_history
		(run_id, recorded_us, level, pump_on, upper_active, lower_active, overflowing, empty)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		runID, rec.Time.UnixMicro(), rec.Level, rec.PumpOn, rec.UpperActive, rec.LowerActive, rec.Overflowing, rec.Empty)
	if err != nil {
		return fmt.Errorf("insert plant record: %w", err)
	}

	return nil
}

func (s *Store) AppendController(ctx context.Context, runID string, rec eventlog.ControllerRecord) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO controller_history
		(run_id, recorded_us, is_action, is_modbus_error, is_state_refresh, targets, message)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		runID, rec.Time.UnixMicro(), rec.IsAction, rec.IsError, rec.IsRefresh, rec.Targets.String(), rec.Message)
	if err != nil {
		return fmt.Errorf("insert controller record: %w", err)
	}

	return nil
}

// PlantSink returns a sink that mirrors plant records tagged with runID.
func (s *Store) PlantSink(runID string) eventlog.Sink[eventlog.PlantRecord] {
	return eventlog.SinkFunc[eventlog.PlantRecord](func(rec eventlog.PlantRecord) error {
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		defer cancel()
		return s.AppendPlant(ctx, runID, rec)
	})
}

// ControllerSink returns a sink that mirrors controller records tagged with runID.
func (s *Store) ControllerSink(runID string) eventlog.Sink[eventlog.ControllerRecord] {
	return eventlog.SinkFunc[eventlog.ControllerRecord](func(rec eventlog.ControllerRecord) error {
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		defer cancel()
		return s.AppendController(ctx, runID, rec)
	})
}

// Counts returns the number of plant and controller rows.
func (s *Store) Counts(ctx context.Context) (plant, controller int64, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM plant_history`).Scan(&plant); err != nil {
		return 0, 0, fmt.Errorf("count plant history: %w", err)
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM controller_history`).Scan(&controller); err != nil {
		return 0, 0, fmt.Errorf("count controller history: %w", err)
	}

	return plant, controller, nil
}

// TimeZero returns the earliest timestamp over both tables; ok is false when both are empty.
func (s *Store) TimeZero(ctx context.Context) (zero time.Time, ok bool, err error) {
	var micros sql.NullInt64
	err = s.db.QueryRowContext(ctx, `SELECT MIN(recorded_us) FROM (
		SELECT recorded_us FROM plant_history
		UNION ALL
		SELECT recorded_us FROM controller_history
	) AS combined`).Scan(&micros)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query time zero: %w", err)
	}
	if !micros.Valid {
		return time.Time{}, false, nil
	}

	return time.UnixMicro(micros.Int64), true, nil
}

// ControllerRecords returns every controller row of runID in insertion order.
func (s *Store) ControllerRecords(ctx context.Context, runID string) ([]eventlog.ControllerRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT recorded_us, is_action, is_modbus_error, is_state_refresh, targets, message
		FROM controller_history WHERE run_id = ? ORDER BY id`), runID)
	if err != nil {
		return nil, fmt.Errorf("select controller history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []eventlog.ControllerRecord
	for rows.Next() {
		var (
			micros  int64
			targets string
			rec     eventlog.ControllerRecord
		)
		if err := rows.Scan(&micros, &rec.IsAction, &rec.IsError, &rec.IsRefresh, &targets, &rec.Message); err != nil {
			return nil, fmt.Errorf("scan controller history: %w", err)
		}
		rec.Time = time.UnixMicro(micros)
		rec.Targets = eventlog.ParseTargetSet(targets)
		out = append(out, rec)
	}

	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
