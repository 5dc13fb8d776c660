// Package config holds the settings of the gateway and controller processes.
//
// Settings are resolved in order: built-in defaults, an optional JSON file, an
// optional .env file, then TANKLOOP_* environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"go-tankloop/plant"
	"go-tankloop/points"
	"go-tankloop/util"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Duration is a time.Duration that reads and writes JSON as "500ms" style strings.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
}

type Config struct {
	// OutDir is where the run directory with both history logs is created.
	OutDir string `json:"out_dir"`
	// LogDir holds the per-component rotating process logs.
	LogDir   string `json:"log_dir"`
	LogLevel string `json:"log_level"`

	Gateway    GatewayConfig    `json:"gateway"`
	Controller ControllerConfig `json:"controller"`
	Status     StatusConfig     `json:"status"`
	Feed       FeedConfig       `json:"feed"`
	History    HistoryConfig    `json:"history"`
	Telemetry  TelemetryConfig  `json:"telemetry"`
	Archive    ArchiveConfig    `json:"archive"`
}

type GatewayConfig struct {
	Listen          string           `json:"listen"`
	Timestep        Duration         `json:"timestep"`
	CounterInterval Duration         `json:"counter_interval"`
	MaxClients      uint             `json:"max_clients"`
	ClientTimeout   Duration         `json:"client_timeout"`
	PumpActive      bool             `json:"pump_active"`
	LeakActive      bool             `json:"leak_active"`
	Parameters      plant.Parameters `json:"parameters"`
}

type ControllerConfig struct {
	Server          string   `json:"server"`
	UnitID          uint8    `json:"unit_id"`
	Timeout         Duration `json:"timeout"`
	PollInterval    Duration `json:"poll_interval"`
	RefreshInterval Duration `json:"refresh_interval"`
	// RefreshCycles forces a resync after this many cycles; 0 relies on RefreshInterval only.
	RefreshCycles  int `json:"refresh_cycles"`
	ConnectRetries int `json:"connect_retries"`
}

// StatusConfig configures the HTTP status server. An empty Listen disables it.
type StatusConfig struct {
	Listen string `json:"listen"`
}

// FeedConfig configures the live record feed. An empty Listen disables it.
type FeedConfig struct {
	Listen string `json:"listen"`
}

// HistoryConfig configures the database mirror. An empty Driver disables it.
type HistoryConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// TelemetryConfig configures record publishing. An empty Backend disables it.
type TelemetryConfig struct {
	Backend     string   `json:"backend"`
	URL         string   `json:"url"`
	Brokers     []string `json:"brokers"`
	TopicPrefix string   `json:"topic_prefix"`
	ClientID    string   `json:"client_id"`
}

// ArchiveConfig configures the S3 upload of finished runs. An empty Bucket disables it.
type ArchiveConfig struct {
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	Endpoint  string `json:"endpoint"`
	Prefix    string `json:"prefix"`
	PathStyle bool   `json:"path_style"`
}

// Default returns the reference setup: 0.5 s plant timestep, counters every 2 s,
// a resync every 30 s.
func Default() *Config {
	return &Config{
		OutDir:   "out",
		LogDir:   "log",
		LogLevel: "info",
		Gateway: GatewayConfig{
			Listen:          fmt.Sprintf("0.0.0.0:%d", points.DefaultPort),
			Timestep:        Duration{500 * time.Millisecond},
			CounterInterval: Duration{2 * time.Second},
			MaxClients:      10,
			ClientTimeout:   Duration{30 * time.Second},
			PumpActive:      false,
			LeakActive:      true,
			Parameters:      plant.DefaultParameters(),
		},
		Controller: ControllerConfig{
			Server:          fmt.Sprintf("127.0.0.1:%d", points.DefaultPort),
			UnitID:          1,
			Timeout:         Duration{5 * time.Second},
			PollInterval:    Duration{200 * time.Millisecond},
			RefreshInterval: Duration{30 * time.Second},
			RefreshCycles:   0,
			ConnectRetries:  3,
		},
		Telemetry: TelemetryConfig{
			TopicPrefix: "tankloop",
		},
	}
}

// Load resolves the configuration. path and envFile may be empty; a missing
// default .env file is not an error, a missing explicit one is.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := util.LoadJsonInto(path, cfg); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func (cfg *Config) applyEnv(lookup lookupFunc) error {
	str := func(target *string) func(string) error {
		return func(v string) error { *target = v; return nil }
	}
	dur := func(target *Duration) func(string) error {
		return func(v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return err
			}
			target.Duration = d
			return nil
		}
	}
	num := func(target *int) func(string) error {
		return func(v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			*target = n
			return nil
		}
	}
	flag := func(target *bool) func(string) error {
		return func(v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return err
			}
			*target = b
			return nil
		}
	}
	list := func(target *[]string) func(string) error {
		return func(v string) error {
			*target = nil
			for _, item := range strings.Split(v, ",") {
				if item = strings.TrimSpace(item); item != "" {
					*target = append(*target, item)
				}
			}
			return nil
		}
	}

	overrides := []struct {
		key   string
		apply func(string) error
	}{
		{"TANKLOOP_OUT_DIR", str(&cfg.OutDir)},
		{"TANKLOOP_LOG_DIR", str(&cfg.LogDir)},
		{"TANKLOOP_LOG_LEVEL", str(&cfg.LogLevel)},
		{"TANKLOOP_GATEWAY_LISTEN", str(&cfg.Gateway.Listen)},
		{"TANKLOOP_GATEWAY_TIMESTEP", dur(&cfg.Gateway.Timestep)},
		{"TANKLOOP_GATEWAY_COUNTER_INTERVAL", dur(&cfg.Gateway.CounterInterval)},
		{"TANKLOOP_GATEWAY_LEAK_ACTIVE", flag(&cfg.Gateway.LeakActive)},
		{"TANKLOOP_CONTROLLER_SERVER", str(&cfg.Controller.Server)},
		{"TANKLOOP_CONTROLLER_TIMEOUT", dur(&cfg.Controller.Timeout)},
		{"TANKLOOP_CONTROLLER_POLL_INTERVAL", dur(&cfg.Controller.PollInterval)},
		{"TANKLOOP_CONTROLLER_REFRESH_INTERVAL", dur(&cfg.Controller.RefreshInterval)},
		{"TANKLOOP_CONTROLLER_REFRESH_CYCLES", num(&cfg.Controller.RefreshCycles)},
		{"TANKLOOP_STATUS_LISTEN", str(&cfg.Status.Listen)},
		{"TANKLOOP_FEED_LISTEN", str(&cfg.Feed.Listen)},
		{"TANKLOOP_HISTORY_DRIVER", str(&cfg.History.Driver)},
		{"TANKLOOP_HISTORY_DSN", str(&cfg.History.DSN)},
		{"TANKLOOP_TELEMETRY_BACKEND", str(&cfg.Telemetry.Backend)},
		{"TANKLOOP_TELEMETRY_URL", str(&cfg.Telemetry.URL)},
		{"TANKLOOP_TELEMETRY_BROKERS", list(&cfg.Telemetry.Brokers)},
		{"TANKLOOP_TELEMETRY_TOPIC_PREFIX", str(&cfg.Telemetry.TopicPrefix)},
		{"TANKLOOP_ARCHIVE_BUCKET", str(&cfg.Archive.Bucket)},
		{"TANKLOOP_ARCHIVE_REGION", str(&cfg.Archive.Region)},
		{"TANKLOOP_ARCHIVE_ENDPOINT", str(&cfg.Archive.Endpoint)},
		{"TANKLOOP_ARCHIVE_PREFIX", str(&cfg.Archive.Prefix)},
		{"TANKLOOP_ARCHIVE_PATH_STYLE", flag(&cfg.Archive.PathStyle)},
	}

	for _, o := range overrides {
		v, ok := lookup(o.key)
		if !ok {
			continue
		}
		if err := o.apply(v); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, o.key, err)
		}
	}

	return nil
}

// Validate checks the settings both processes depend on.
func (cfg *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if cfg.OutDir == "" {
		add("out_dir must not be empty")
	}
	if err := cfg.Gateway.Parameters.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidConfig, err))
	}
	if cfg.Gateway.Timestep.Duration <= 0 {
		add("gateway.timestep must be positive")
	}
	if cfg.Gateway.CounterInterval.Duration <= 0 {
		add("gateway.counter_interval must be positive")
	}
	if _, _, err := net.SplitHostPort(cfg.Gateway.Listen); err != nil {
		add("gateway.listen %q: %v", cfg.Gateway.Listen, err)
	}
	if _, _, err := net.SplitHostPort(cfg.Controller.Server); err != nil {
		add("controller.server %q: %v", cfg.Controller.Server, err)
	}
	if cfg.Controller.PollInterval.Duration <= 0 {
		add("controller.poll_interval must be positive")
	}
	if cfg.Controller.RefreshInterval.Duration <= 0 && cfg.Controller.RefreshCycles <= 0 {
		add("controller needs refresh_interval or refresh_cycles")
	}
	if cfg.Controller.RefreshCycles < 0 {
		add("controller.refresh_cycles must not be negative")
	}
	if cfg.Controller.Timeout.Duration <= 0 {
		add("controller.timeout must be positive")
	}

	switch cfg.History.Driver {
	case "", "sqlite", "pgx":
	default:
		add("history.driver %q is not one of sqlite, pgx", cfg.History.Driver)
	}

	switch cfg.Telemetry.Backend {
	case "":
	case "mqtt":
		if cfg.Telemetry.URL == "" {
			add("telemetry.url is required for mqtt")
		}
	case "kafka":
		if len(cfg.Telemetry.Brokers) == 0 {
			add("telemetry.brokers is required for kafka")
		}
	default:
		add("telemetry.backend %q is not one of mqtt, kafka", cfg.Telemetry.Backend)
	}

	return errors.Join(errs...)
}
