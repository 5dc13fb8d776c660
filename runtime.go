package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tebeka/atexit"

	"go-tankloop/archive"
	"go-tankloop/eventlog"
	"go-tankloop/history"
	"go-tankloop/logger"
	socket "go-tankloop/server/socket-connection"
	"go-tankloop/server/status"
	"go-tankloop/telemetry"
)

const archiveTimeout = time.Minute

// setupLogger writes to stdout and to <log_dir>/<component>.log, and makes the
// result the package default.
func setupLogger(component string) (logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	file, err := logger.OpenRotatingFile(cfg.LogDir, component+".log", logger.DefaultMaxLines)
	if err != nil {
		return nil, err
	}
	atexit.Register(func() { _ = file.Close() })

	log := logger.NewSlogWriter(io.MultiWriter(os.Stdout, file), level, false).With("component", component)
	logger.SetLogger(log)

	return log, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// secondaries are the optional record consumers next to the CSV logs.
type secondaries struct {
	log   logger.Logger
	runID string

	feed      *socket.Server
	history   *history.Store
	telemetry *telemetry.Telemetry
}

// openSecondaries starts every secondary sink enabled in the configuration.
func openSecondaries(ctx context.Context, log logger.Logger, runID string) (*secondaries, error) {
	s := &secondaries{log: log, runID: runID}

	if cfg.Feed.Listen != "" {
		s.feed = socket.NewServer(log.With("server", "feed"))
		if err := s.feed.Listen(cfg.Feed.Listen); err != nil {
			return nil, fmt.Errorf("start feed: %w", err)
		}
		go func() {
			if err := s.feed.Serve(ctx); err != nil {
				log.Error("feed server stopped", "error", err)
			}
		}()
	}

	if cfg.History.Driver != "" {
		store, err := history.Open(ctx, cfg.History.Driver, cfg.History.DSN)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open history database: %w", err)
		}
		s.history = store
	}

	if cfg.Telemetry.Backend != "" {
		tel, err := telemetry.New(ctx, cfg.Telemetry, log.With("telemetry", cfg.Telemetry.Backend))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("start telemetry: %w", err)
		}
		s.telemetry = tel
	}

	return s, nil
}

func (s *secondaries) attachPlant(f *eventlog.Fanout[eventlog.PlantRecord]) {
	if s.feed != nil {
		f.Attach("feed", s.feed.PlantSink())
	}
	if s.history != nil {
		f.Attach("history", s.history.PlantSink(s.runID))
	}
	if s.telemetry != nil {
		f.Attach("telemetry", s.telemetry.PlantSink())
	}
}

func (s *secondaries) attachController(f *eventlog.Fanout[eventlog.ControllerRecord]) {
	if s.feed != nil {
		f.Attach("feed", s.feed.ControllerSink())
	}
	if s.history != nil {
		f.Attach("history", s.history.ControllerSink(s.runID))
	}
	if s.telemetry != nil {
		f.Attach("telemetry", s.telemetry.ControllerSink())
	}
}

func (s *secondaries) Close() {
	if s.feed != nil {
		if err := s.feed.Close(); err != nil {
			s.log.Warn("failed to close feed", "error", err)
		}
	}
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			s.log.Warn("failed to close history database", "error", err)
		}
	}
	if s.telemetry != nil {
		if err := s.telemetry.Close(); err != nil {
			s.log.Warn("failed to close telemetry", "error", err)
		}
	}
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// startStatus serves the status endpoints in the background when enabled and
// returns the bound address, or "" when disabled.
func startStatus(ctx context.Context, log logger.Logger, reg prometheus.Gatherer, opts ...status.Option) (string, error) {
	if cfg.Status.Listen == "" {
		return "", nil
	}

	srv := status.NewServer(log.With("server", "status"), reg, opts...)
	if err := srv.Listen(cfg.Status.Listen); err != nil {
		return "", fmt.Errorf("start status server: %w", err)
	}
	go func() {
		if err := srv.Serve(ctx); err != nil {
			log.Error("status server stopped", "error", err)
		}
	}()

	return srv.Addr().String(), nil
}

// archiveRun uploads the files of this run when an archive bucket is
// configured. Failures are logged; the local files stay in place either way.
func archiveRun(log logger.Logger, runID string, paths ...string) {
	if cfg.Archive.Bucket == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	store, err := archive.New(ctx, cfg.Archive, archive.WithLogger(log))
	if err != nil {
		log.Error("failed to set up archive", "error", err)
		return
	}

	keys, err := store.UploadRun(ctx, runID, paths...)
	if err != nil {
		log.Error("failed to archive run", "uploaded", len(keys), "error", err)
		return
	}
	log.Info("run archived", "bucket", store.Bucket(), "objects", len(keys))
}
