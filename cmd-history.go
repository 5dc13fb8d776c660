package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"go-tankloop/archive"
	"go-tankloop/eventlog"
	"go-tankloop/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded runs.",
}

var historySummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize the plant and controller histories.",
	Long: "`history summary` reads both CSV histories, aligns them on their " +
		"earliest timestamp and prints per-log totals. Paths may be s3://bucket/key " +
		"references to archived runs.",
	Args: cobra.NoArgs,
	RunE: runHistorySummary,
}

var historyDBCmd = &cobra.Command{
	Use:   "db",
	Short: "Show row counts and time zero of the history database.",
	Args:  cobra.NoArgs,
	RunE:  runHistoryDB,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historySummaryCmd, historyDBCmd)

	historySummaryCmd.Flags().StringVar(&plantSource, "plant", "", "plant history CSV (default <out_dir>/Environment/EnvironmentHistory.csv)")
	historySummaryCmd.Flags().StringVar(&controllerSource, "controller", "", "controller history CSV (default <out_dir>/Environment/ControllerHistory.csv)")
}

func runHistorySummary(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	layout := eventlog.DefaultLayout(cfg.OutDir)

	plantRef := plantSource
	if plantRef == "" {
		plantRef = layout.PlantHistoryPath()
	}
	controllerRef := controllerSource
	if controllerRef == "" {
		controllerRef = layout.ControllerHistoryPath()
	}

	plant, err := readSource(ctx, plantRef, eventlog.ReadPlantFile)
	if err != nil {
		return err
	}
	controller, err := readSource(ctx, controllerRef, eventlog.ReadControllerFile)
	if err != nil {
		return err
	}

	s, ok := eventlog.Summarize(plant, controller)
	if !ok {
		return errors.New("both histories are empty")
	}

	return printSummary(cmd.OutOrStdout(), s)
}

// readSource reads a local or archived history file.
func readSource[T any](ctx context.Context, ref string, read func(string) ([]T, error)) ([]T, error) {
	src, err := archive.ParseSource(ref, nil)
	if err != nil {
		return nil, err
	}
	if obj, ok := src.(archive.ObjectSource); ok {
		ac := cfg.Archive
		ac.Bucket = obj.Bucket
		store, err := archive.New(ctx, ac)
		if err != nil {
			return nil, err
		}
		if src, err = archive.ParseSource(ref, store); err != nil {
			return nil, err
		}
	}

	path, release, err := src.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", src, err)
	}
	defer release()

	return read(path)
}

func printSummary(out io.Writer, s eventlog.Summary) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	p, c := s.Plant, s.Controller

	fmt.Fprintf(w, "time zero\t%s\n", s.TimeZero.Format(eventlog.TimeLayout))
	fmt.Fprintf(w, "plant records\t%d\n", p.Records)
	if p.Records > 0 {
		fmt.Fprintf(w, "plant span\t%.3fs .. %.3fs\n", p.Start, p.End)
		fmt.Fprintf(w, "level range\t%.2f .. %.2f\n", p.MinLevel, p.MaxLevel)
		fmt.Fprintf(w, "pump on\t%.1f%%\n", 100*p.PumpOnRatio)
		fmt.Fprintf(w, "overflowing / empty\t%d / %d\n", p.Overflowing, p.Empty)
	}
	fmt.Fprintf(w, "controller records\t%d\n", c.Records)
	fmt.Fprintf(w, "actions / errors / refreshes\t%d / %d / %d\n", c.Actions, c.Errors, c.Refreshes)

	targets := make([]string, 0, len(c.ErrorsByTarget))
	for t := range c.ErrorsByTarget {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	for _, t := range targets {
		fmt.Fprintf(w, "  errors %s\t%d\n", t, c.ErrorsByTarget[t])
	}

	return w.Flush()
}

func runHistoryDB(cmd *cobra.Command, _ []string) error {
	if cfg.History.Driver == "" {
		return errors.New("history.driver is not configured")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	store, err := history.Open(ctx, cfg.History.Driver, cfg.History.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	plant, controller, err := store.Counts(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "plant rows: %d\ncontroller rows: %d\n", plant, controller)
	if zero, ok, err := store.TimeZero(ctx); err != nil {
		return err
	} else if ok {
		fmt.Fprintf(out, "time zero: %s\n", zero.Format(eventlog.TimeLayout))
	}

	return nil
}
