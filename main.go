package main

import (
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"go-tankloop/config"
	"go-tankloop/logger"
)

var rootCmd = &cobra.Command{
	Use:   "tankloop",
	Short: "Closed-loop tank simulation over Modbus TCP.",
	Long: `tankloop runs a simulated water tank behind a Modbus TCP gateway and a ` +
		`hysteresis controller that keeps its level between two sensors. Both ` +
		`sides append their history to CSV logs.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath, envFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			loaded.LogLevel = logLevel
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "JSON configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file with TANKLOOP_* overrides (default .env if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("tankloop failed", "error", err)
		atexit.Exit(1)
	}
	atexit.Exit(0)
}
