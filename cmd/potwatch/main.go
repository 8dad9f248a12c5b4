// Command potwatch tails honeypot logs, aggregates sessions, raises alerts,
// and serves the query API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/potwatch/potwatch/internal/alert"
	"github.com/potwatch/potwatch/internal/api"
	"github.com/potwatch/potwatch/internal/bus"
	"github.com/potwatch/potwatch/internal/config"
	"github.com/potwatch/potwatch/internal/intel"
	"github.com/potwatch/potwatch/internal/metrics"
	"github.com/potwatch/potwatch/internal/parser"
	"github.com/potwatch/potwatch/internal/risk"
	"github.com/potwatch/potwatch/internal/session"
	"github.com/potwatch/potwatch/internal/store"
	"github.com/potwatch/potwatch/internal/watcher"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("loading configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Logging.Level),
	}))

	logger.Info("starting potwatch",
		"log_paths", cfg.Honeypot.LogPaths,
		"history_hours", cfg.Honeypot.HistoryHours,
		"http_addr", cfg.HTTP.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	st := store.New(cfg.Filter.MaxLogs, cfg.Filter.MaxSessions, logger.With("component", "store"))
	eventBus := bus.New(256, m, logger.With("component", "bus"))

	var provider *intel.Provider
	if cfg.ThreatIntel.Enabled {
		provider = intel.NewProvider(logger.With("component", "intel"))
		if cfg.ThreatIntel.SeedExamples {
			provider.SeedExamples()
		}
		if len(cfg.ThreatIntel.Feeds) > 0 {
			if err := provider.LoadFeeds(cfg.ThreatIntel.Feeds); err != nil {
				logger.Warn("some threat intel feeds failed to load", "error", err)
			}
		}
		logger.Info("threat intel loaded", "entries", provider.Len())
	}

	scorer := risk.NewScorer(provider)
	manager := session.New(st, scorer, eventBus, m,
		cfg.SessionTimeout(), cfg.SweepInterval(), logger.With("component", "session"))

	alertEngine, err := alert.NewEngine(alert.Config{
		OnLoginSuccess:       cfg.Alerts.OnLoginSuccess,
		OnFileUpload:         cfg.Alerts.OnFileUpload,
		OnSuspiciousCommand:  cfg.Alerts.OnSuspiciousCommand,
		OnNewSourceIP:        cfg.Alerts.OnNewSourceIP,
		OnBlacklistedIP:      cfg.Alerts.OnBlacklistedIP,
		OnHighRisk:           cfg.Alerts.OnHighRisk,
		SuspiciousSubstrings: cfg.Alerts.OnCommands,
		IPBlacklist:          cfg.Alerts.IPBlacklist,
		IPWhitelist:          cfg.Alerts.IPWhitelist,
		DedupeSize:           cfg.Alerts.DedupeSize,
	}, eventBus, m, logger.With("component", "alert"))
	if err != nil {
		logger.Error("creating alert engine", "error", err)
		os.Exit(1)
	}

	w := watcher.New(cfg.Honeypot.LogPaths, logger.With("component", "watcher"))
	server := api.NewServer(cfg.HTTP.Addr, st, alertEngine, m, cfg.Filter.CaseSensitive, logger.With("component", "api"))

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		manager.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		alertEngine.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ingest(ctx, w.Lines(), cfg.HistoryWindow(), st, eventBus, m, logger.With("component", "ingest"))
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(); err != nil {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}

	wg.Wait()
	logger.Info("stopped")
}

// ingest parses tailed lines, drops replayed entries outside the history
// window, stores the rest, and publishes them on the bus. A malformed line
// is logged and skipped.
func ingest(ctx context.Context, lines <-chan watcher.Line, window time.Duration, st *store.Store, eventBus *bus.Bus, m *metrics.Metrics, logger *slog.Logger) {
	analyzer := parser.NewEnhancedAnalyzer()

	var cutoff time.Time
	if window > 0 {
		cutoff = time.Now().UTC().Add(-window)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			entry, err := analyzer.Parse(line.Text)
			if err != nil {
				m.IncParseErrors()
				logger.Warn("skipping malformed log line", "path", line.Path, "error", err)
				continue
			}
			if line.Replay && !cutoff.IsZero() && entry.Timestamp.Before(cutoff) {
				continue
			}
			m.IncEntriesParsed()
			st.AddLogEntry(*entry)
			m.SetLogEntriesInStore(st.LogEntryCount())
			eventBus.Publish(bus.Event{Kind: bus.KindLogEntry, LogEntry: entry})
		}
	}
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
