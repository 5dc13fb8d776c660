package main

import (
	"fmt"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"go-tankloop/eventlog"
	"go-tankloop/gateway"
	"go-tankloop/metrics"
	"go-tankloop/server/status"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the tank simulator behind the Modbus TCP gateway.",
	Long: "`gateway` steps the simulated tank every timestep, serves its sensors " +
		"and pump coil over Modbus TCP and appends every step to the plant history.",
	Args: cobra.NoArgs,
	RunE: runGateway,
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
	gatewayCmd.Flags().BoolVar(&openStatus, "open", false, "open the status page in a browser once the gateway is up")
}

func runGateway(cmd *cobra.Command, _ []string) error {
	log, err := setupLogger("gateway")
	if err != nil {
		return err
	}

	layout := eventlog.DefaultLayout(cfg.OutDir)
	rc := eventlog.NewRunContext("gateway", cfg.Gateway)
	if err := eventlog.WriteRunContext(layout.ContextPath(""), rc); err != nil {
		return err
	}
	log = log.With("run_id", rc.RunID)

	plantLog, err := eventlog.OpenPlantLog(layout.PlantHistoryPath())
	if err != nil {
		return err
	}
	defer func() {
		if err := plantLog.Close(); err != nil {
			log.Error("failed to close plant history", "error", err)
		}
	}()

	ctx, stop := signalContext()
	defer stop()

	sec, err := openSecondaries(ctx, log, rc.RunID)
	if err != nil {
		return err
	}
	defer sec.Close()

	sink := eventlog.NewFanout[eventlog.PlantRecord](plantLog)
	sec.attachPlant(sink)

	reg := newRegistry()
	m := metrics.NewGateway()
	if err := m.Register(reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	gw, err := gateway.New(cfg.Gateway,
		gateway.WithLogger(log),
		gateway.WithSink(sink),
		gateway.WithMetrics(m),
	)
	if err != nil {
		return err
	}
	if err := gw.Start(); err != nil {
		return err
	}
	defer func() {
		if err := gw.Close(); err != nil {
			log.Warn("failed to stop modbus server", "error", err)
		}
	}()

	addr, err := startStatus(ctx, log, reg,
		status.WithState(func() any { return gw.State() }),
		status.WithClients(gw.ClientRequests),
	)
	if err != nil {
		return err
	}
	if openStatus && addr != "" {
		if err := browser.OpenURL("http://" + addr + "/api/state"); err != nil {
			log.Warn("failed to open browser", "error", err)
		}
	}

	if err := gw.Run(ctx); err != nil {
		return err
	}

	archiveRun(log, rc.RunID, layout.PlantHistoryPath(), layout.ContextPath(""))

	return nil
}
