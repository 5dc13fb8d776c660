package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-tankloop/config"
	"go-tankloop/controller"
	"go-tankloop/eventlog"
	"go-tankloop/gateway"
	"go-tankloop/logger"
	"go-tankloop/points"
)

func TestReadSource_Local(t *testing.T) {
	cfg = config.Default()
	path := filepath.Join(t.TempDir(), eventlog.PlantHistoryFile)

	plantLog, err := eventlog.OpenPlantLog(path)
	require.NoError(t, err)
	require.NoError(t, plantLog.Append(eventlog.PlantRecord{Time: eventlog.Now(), Level: 2.5, PumpOn: true}))
	require.NoError(t, plantLog.Close())

	records, err := readSource(context.Background(), path, eventlog.ReadPlantFile)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 2.5, records[0].Level)

	_, err = readSource(context.Background(), filepath.Join(t.TempDir(), "missing.csv"), eventlog.ReadPlantFile)
	assert.Error(t, err)

	_, err = readSource(context.Background(), "s3://bucket-only", eventlog.ReadPlantFile)
	assert.Error(t, err)
}

func TestPrintSummary(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.Local)
	s, ok := eventlog.Summarize(
		[]eventlog.PlantRecord{{Time: base.Add(time.Second), Level: 75, PumpOn: true}},
		[]eventlog.ControllerRecord{
			{Time: base, IsRefresh: true, Targets: eventlog.AllTargets()},
			{Time: base.Add(time.Second), IsError: true, Targets: eventlog.Targets(eventlog.TargetUpperSensor)},
		},
	)
	require.True(t, ok)

	var out bytes.Buffer
	require.NoError(t, printSummary(&out, s))

	text := out.String()
	assert.Contains(t, text, "2025-06-01 12:00:00.000000")
	assert.Contains(t, text, "1.000s .. 1.000s")
	assert.Contains(t, text, "100.0%")
	assert.Contains(t, text, "0 / 1 / 1")
	assert.Contains(t, text, "errors ULS")
}

func TestRootCommand_RegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	assert.True(t, names["gateway"])
	assert.True(t, names["controller"])
	assert.True(t, names["history"])
	assert.True(t, names["manual"])
	assert.NotNil(t, gatewayCmd.Flags().Lookup("open"))
	assert.NotNil(t, historySummaryCmd.Flags().Lookup("plant"))
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	return addr
}

func startGateway(t *testing.T) (*gateway.Gateway, *controller.ModbusTransport) {
	t.Helper()
	quiet := logger.NewSlogWriter(io.Discard, logger.ErrorLevel, false)

	gc := config.Default().Gateway
	gc.Listen = freeAddr(t)
	g, err := gateway.New(gc, gateway.WithLogger(quiet))
	require.NoError(t, err)
	require.NoError(t, g.Start())
	t.Cleanup(func() { _ = g.Close() })

	tr := controller.NewModbusTransport(gc.Listen, 1, time.Second, quiet)
	require.NoError(t, tr.Connect(context.Background(), 0))
	t.Cleanup(func() { _ = tr.Close() })

	return g, tr
}

func TestManual_StatusAndPump(t *testing.T) {
	g, tr := startGateway(t)
	ctx := context.Background()

	var out bytes.Buffer
	printStatus(ctx, &out, tr)
	assert.Equal(t, "Upper Water Level: OFF\nLower Water Level: OFF\nWater Pump:        OFF\n", out.String())

	out.Reset()
	require.NoError(t, setPump(ctx, &out, tr, true))
	assert.Equal(t, "Successfully turned the water pump ON.\n", out.String())

	on, err := g.Points().Coil(points.PumpCoil)
	require.NoError(t, err)
	assert.True(t, on)

	out.Reset()
	printStatus(ctx, &out, tr)
	assert.Contains(t, out.String(), "Water Pump:        ON")
}

func TestManual_UnreachableGatewayPrintsError(t *testing.T) {
	tr := controller.NewModbusTransport(freeAddr(t), 1, 200*time.Millisecond,
		logger.NewSlogWriter(io.Discard, logger.ErrorLevel, false))
	defer tr.Close()

	var out bytes.Buffer
	printStatus(context.Background(), &out, tr)
	assert.Equal(t, "Upper Water Level: ERROR\nLower Water Level: ERROR\nWater Pump:        ERROR\n", out.String())

	out.Reset()
	assert.Error(t, setPump(context.Background(), &out, tr, true))
	assert.Equal(t, "Unsuccessfully turned the water pump ON.\n", out.String())
}

func TestManual_Session(t *testing.T) {
	g, tr := startGateway(t)

	var out bytes.Buffer
	in := strings.NewReader("p\n1\n\np\nmaybe\n")
	require.NoError(t, manualSession(context.Background(), in, &out, tr))

	text := out.String()
	assert.Contains(t, text, "Successfully turned the water pump ON.")
	assert.Contains(t, text, "Could not understand request (maybe). Canceling.")
	assert.Equal(t, 4, strings.Count(text, "Upper Water Level:"))

	on, err := g.Points().Coil(points.PumpCoil)
	require.NoError(t, err)
	assert.True(t, on)
}

func TestParsePumpState(t *testing.T) {
	tests := []struct {
		in      string
		want    bool
		wantErr bool
	}{
		{in: "on", want: true},
		{in: " ON ", want: true},
		{in: "1", want: true},
		{in: "off"},
		{in: "0"},
		{in: "yes", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parsePumpState(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, errBadPumpState, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
