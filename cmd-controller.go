package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"go-tankloop/controller"
	"go-tankloop/eventlog"
	"go-tankloop/metrics"
	"go-tankloop/server/status"
)

const controllerRole = "controller"

var controllerCmd = &cobra.Command{
	Use:   "controller",
	Short: "Run the hysteresis controller against a gateway.",
	Long: "`controller` polls the gateway's level sensors over Modbus TCP, switches " +
		"the pump on at the lower sensor and off at the upper one, and appends " +
		"every action, error and resync to the controller history.",
	Args: cobra.NoArgs,
	RunE: runController,
}

func init() {
	rootCmd.AddCommand(controllerCmd)
}

func runController(cmd *cobra.Command, _ []string) error {
	log, err := setupLogger(controllerRole)
	if err != nil {
		return err
	}

	layout := eventlog.DefaultLayout(cfg.OutDir)
	rc := eventlog.NewRunContext(controllerRole, cfg.Controller)
	if err := eventlog.WriteRunContext(layout.ContextPath(controllerRole), rc); err != nil {
		return err
	}
	log = log.With("run_id", rc.RunID)

	controllerLog, err := eventlog.OpenControllerLog(layout.ControllerHistoryPath())
	if err != nil {
		return err
	}
	defer func() {
		if err := controllerLog.Close(); err != nil {
			log.Error("failed to close controller history", "error", err)
		}
	}()

	ctx, stop := signalContext()
	defer stop()

	sec, err := openSecondaries(ctx, log, rc.RunID)
	if err != nil {
		return err
	}
	defer sec.Close()

	sink := eventlog.NewFanout[eventlog.ControllerRecord](controllerLog)
	sec.attachController(sink)

	reg := newRegistry()
	m := metrics.NewController()
	if err := m.Register(reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	cc := cfg.Controller
	transport := controller.NewModbusTransport(cc.Server, cc.UnitID, cc.Timeout.Duration, log)
	defer func() {
		if err := transport.Close(); err != nil {
			log.Debug("failed to close modbus client", "error", err)
		}
	}()

	// requests redial on their own, so a failed first connect is not fatal
	if err := transport.Connect(ctx, cc.ConnectRetries); err != nil {
		log.Error("gateway unreachable, continuing with per-request redial", "error", err)
	}

	ctrl := controller.New(transport, controller.Config{
		PollInterval:    cc.PollInterval.Duration,
		RefreshInterval: cc.RefreshInterval.Duration,
		RefreshCycles:   cc.RefreshCycles,
	},
		controller.WithLogger(log),
		controller.WithSink(sink),
		controller.WithMetrics(m),
	)

	if _, err := startStatus(ctx, log, reg,
		status.WithState(func() any { return ctrl.Snapshot() }),
	); err != nil {
		return err
	}

	if err := ctrl.Run(ctx); err != nil {
		return err
	}

	archiveRun(log, rc.RunID, layout.ControllerHistoryPath(), layout.ContextPath(controllerRole))

	return nil
}
