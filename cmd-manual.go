package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"go-tankloop/controller"
	"go-tankloop/logger"
	"go-tankloop/points"
)

var errBadPumpState = errors.New("pump state must be on, off, 1 or 0")

var manualCmd = &cobra.Command{
	Use:   "manual",
	Short: "Operate the gateway by hand.",
	Long: "`manual` connects to the gateway as an operator. Without a subcommand it " +
		"prints the sensors and the pump, then prompts for commands until stdin " +
		"is closed.",
	Args: cobra.NoArgs,
	RunE: runManualSession,
}

var manualStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the sensors and the pump as ON, OFF or ERROR.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		t, err := openManualTransport(cmd)
		if err != nil {
			return err
		}
		defer t.Close()

		printStatus(cmd.Context(), cmd.OutOrStdout(), t)
		return nil
	},
}

var manualPumpCmd = &cobra.Command{
	Use:       "pump on|off",
	Short:     "Switch the pump coil.",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		on, err := parsePumpState(args[0])
		if err != nil {
			return err
		}

		t, err := openManualTransport(cmd)
		if err != nil {
			return err
		}
		defer t.Close()

		return setPump(cmd.Context(), cmd.OutOrStdout(), t, on)
	},
}

func init() {
	rootCmd.AddCommand(manualCmd)
	manualCmd.AddCommand(manualStatusCmd, manualPumpCmd)

	manualCmd.PersistentFlags().StringVar(&manualServer, "server", "", "gateway address (default controller.server)")
}

// openManualTransport connects to the gateway. A failed connect is only
// logged; requests redial and report ERROR while the gateway is down.
func openManualTransport(cmd *cobra.Command) (*controller.ModbusTransport, error) {
	level := logger.ErrorLevel
	if cmd.Flags().Changed("log-level") {
		var err error
		if level, err = logger.ParseLevel(cfg.LogLevel); err != nil {
			return nil, err
		}
	}
	log := logger.NewSlogWriter(cmd.ErrOrStderr(), level, false).With("component", "manual")

	cc := cfg.Controller
	server := cc.Server
	if manualServer != "" {
		server = manualServer
	}

	t := controller.NewModbusTransport(server, cc.UnitID, cc.Timeout.Duration, log)
	if err := t.Connect(cmd.Context(), 0); err != nil {
		log.Error("failed to connect to the gateway", "error", err)
	}

	return t, nil
}

func readingText(r controller.Result[bool]) string {
	switch {
	case !r.IsOk():
		return "ERROR"
	case r.Value:
		return "ON"
	default:
		return "OFF"
	}
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func parsePumpState(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "1":
		return true, nil
	case "off", "0":
		return false, nil
	default:
		return false, fmt.Errorf("%q: %w", s, errBadPumpState)
	}
}

func printStatus(ctx context.Context, out io.Writer, t controller.Transport) {
	upper := t.ReadDiscreteInput(ctx, points.UpperSensorInput)
	lower := t.ReadDiscreteInput(ctx, points.LowerSensorInput)
	pump := t.ReadCoil(ctx, points.PumpCoil)

	fmt.Fprintf(out, "Upper Water Level: %s\n", readingText(upper))
	fmt.Fprintf(out, "Lower Water Level: %s\n", readingText(lower))
	fmt.Fprintf(out, "Water Pump:        %s\n", readingText(pump))
}

func setPump(ctx context.Context, out io.Writer, t controller.Transport, on bool) error {
	if _, err := t.WriteCoil(ctx, points.PumpCoil, on).Get(); err != nil {
		fmt.Fprintf(out, "Unsuccessfully turned the water pump %s.\n", onOff(on))
		return err
	}

	fmt.Fprintf(out, "Successfully turned the water pump %s.\n", onOff(on))
	return nil
}

func runManualSession(cmd *cobra.Command, _ []string) error {
	t, err := openManualTransport(cmd)
	if err != nil {
		return err
	}
	defer t.Close()

	return manualSession(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), t)
}

// manualSession alternates a status page with a command prompt. An empty line
// refreshes the status; "p" asks for the pump state.
func manualSession(ctx context.Context, in io.Reader, out io.Writer, t controller.Transport) error {
	scanner := bufio.NewScanner(in)
	prompt := func(text string) (string, bool) {
		fmt.Fprint(out, text)
		if !scanner.Scan() {
			return "", false
		}
		return scanner.Text(), true
	}

	for ctx.Err() == nil {
		printStatus(ctx, out, t)

		line, ok := prompt("Update status: [Enter]\nWater pump:    p[Enter]\n> ")
		if !ok {
			break
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "p", "pump":
			answer, ok := prompt("[1] to activate, [0] to deactivate\n> ")
			if !ok {
				return scanner.Err()
			}
			on, err := parsePumpState(answer)
			if err != nil {
				fmt.Fprintf(out, "Could not understand request (%s). Canceling.\n", answer)
				continue
			}
			// the outcome is printed; the session goes on either way
			_ = setPump(ctx, out, t, on)
		}
	}

	return scanner.Err()
}
