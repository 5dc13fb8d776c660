package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-tankloop/eventlog"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "")
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	assert.Equal(t, "INSERT INTO t VALUES ($1, $2, $3)", pg.rebind("INSERT INTO t VALUES (?, ?, ?)"))

	lite := &Store{driver: DriverSQLite}
	assert.Equal(t, "SELECT ?", lite.rebind("SELECT ?"))
}

func TestStore_EmptyTimeZero(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.TimeZero(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_MirrorAndTimeZero(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 123456000, time.Local)
	plantSink := s.PlantSink("gw-run")
	for i := 0; i < 5; i++ {
		require.NoError(t, plantSink.Append(eventlog.PlantRecord{
			Time:        base.Add(time.Duration(i+1) * 500 * time.Millisecond),
			Level:       2.5 * float64(i+1),
			PumpOn:      true,
			LowerActive: i >= 4,
		}))
	}

	ctrlSink := s.ControllerSink("ctl-run")
	refresh := eventlog.NewStateRefresh(eventlog.AllTargets(), "Updated sensor state cache.")
	refresh.Time = base
	action := eventlog.NewAction(eventlog.Targets(eventlog.TargetPump), "Turned ON pump by LLS")
	action.Time = base.Add(time.Millisecond)
	require.NoError(t, ctrlSink.Append(refresh))
	require.NoError(t, ctrlSink.Append(action))

	plant, controller, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), plant)
	assert.Equal(t, int64(2), controller)

	zero, ok, err := s.TimeZero(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, zero.Equal(base), "got %v", zero)

	records, err := s.ControllerRecords(ctx, "ctl-run")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].IsRefresh)
	assert.Equal(t, eventlog.AllTargets(), records[0].Targets)
	assert.True(t, records[1].IsAction)
	assert.Equal(t, "Turned ON pump by LLS", records[1].Message)
	assert.True(t, records[1].Time.Equal(action.Time))

	none, err := s.ControllerRecords(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_ReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	s, err := Open(ctx, DriverSQLite, path)
	require.NoError(t, err)
	require.NoError(t, s.AppendPlant(ctx, "r", eventlog.PlantRecord{Time: time.Now(), Level: 1}))
	require.NoError(t, s.Close())

	s, err = Open(ctx, DriverSQLite, path)
	require.NoError(t, err)
	defer s.Close()

	plant, _, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), plant)
}
