package main

import "go-tankloop/config"

// Command-line state shared by the subcommands.
var (
	configPath string
	envFile    string
	logLevel   string

	// resolved in the root PersistentPreRunE
	cfg *config.Config

	openStatus bool

	plantSource      string
	controllerSource string

	manualServer string
)
