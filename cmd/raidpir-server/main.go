// Command raidpir-server runs one shard of a RAID-PIR server process: it
// loads a database and this shard's replication parameters from a YAML
// config file, keeps the preprocessing queue saturated in the background,
// and exposes health/readiness/metrics over HTTP. It does not speak the PIR
// wire protocol itself (spec.md §1/§6 explicitly leave the demonstration
// TCP client/server transport out of scope) — seed vending and query
// response remain library calls (Server.Seed, Server.Response) for whatever
// transport an operator plugs in.
package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/raidpir"
	"github.com/kenneth/raidpir/internal/adminhttp"
	"github.com/kenneth/raidpir/internal/config"
	"github.com/kenneth/raidpir/internal/dbsource"
	"github.com/kenneth/raidpir/internal/debug"
	"github.com/kenneth/raidpir/internal/metrics"
	"github.com/kenneth/raidpir/internal/seedaudit"
	"github.com/kenneth/raidpir/internal/tracing"
)

func main() {
	configPath := flag.String("config", "raidpir.yaml", "path to the server config file")
	flag.Parse()

	logger := logrus.New()

	if err := run(*configPath, logger); err != nil {
		logger.WithError(err).Fatal("raidpir-server exited with error")
	}
}

func run(configPath string, logger *logrus.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	debug.InitFromLogLevel(cfg.Logging.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Tracing.Enabled {
		tp, err := tracing.NewTracerProvider(ctx, cfg.Tracing.Exporter)
		if err != nil {
			return fmt.Errorf("setting up tracing: %w", err)
		}
		defer tp.Shutdown(context.Background())
	}

	loader, err := dbsource.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("building database loader: %w", err)
	}
	elements, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading database: %w", err)
	}

	server, err := raidpir.NewServer(
		elements,
		raidpir.NewBytes(make([]byte, cfg.Database.ElementSize)),
		cfg.Shard.ID,
		cfg.Shard.Servers,
		cfg.Shard.Redundancy,
		cfg.Shard.UseRussians,
	)
	if err != nil {
		return fmt.Errorf("constructing server: %w", err)
	}

	m := metrics.NewMetrics()
	m.SetRussiansEnabled(cfg.Shard.ID, cfg.Shard.UseRussians)
	m.StartSystemMetricsCollector(ctx)
	server.SetMetrics(m)

	audit := seedaudit.NewLogger(1024, seedaudit.StdoutWriter{})
	server.SetAuditLogger(audit)

	logger.WithFields(logrus.Fields{
		"shard_id":     cfg.Shard.ID,
		"servers":      cfg.Shard.Servers,
		"redundancy":   cfg.Shard.Redundancy,
		"use_russians": cfg.Shard.UseRussians,
		"blocks":       len(elements),
	}).Info("raidpir server starting")

	go preprocessLoop(ctx, server, m, logger)

	check := func(ctx context.Context) error {
		if server.QueueLen() == 0 {
			return fmt.Errorf("seed queue is empty")
		}
		return nil
	}
	handler := adminhttp.NewHandler(m, logger, check)

	logger.WithField("addr", cfg.Metrics.ListenAddr).Info("admin http surface listening")
	return adminhttp.ListenAndServe(ctx, cfg.Metrics.ListenAddr, handler)
}

// preprocessLoop keeps the server's seed queue topped up in the background,
// reporting queue depth to metrics after each pass. Server.Seed also calls
// Preprocess inline when the queue runs dry, so this loop is an optimization
// (it tries to stay ahead of demand) rather than a correctness requirement.
func preprocessLoop(ctx context.Context, s *raidpir.Server, m *metrics.Metrics, logger *logrus.Logger) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.QueueLen() >= raidpir.QueueSize {
				continue
			}
			s.PreprocessCtx(ctx)
			depth := s.QueueLen()
			m.SetQueueDepth(s.ID(), depth)
			if debug.Enabled() {
				logger.WithField("queue_depth", depth).Debug("preprocess pass completed")
			}
		}
	}
}
