// Command pipeline runs the disclosure ETL batch job.
//
// Usage:
//
//	pipeline [flags] run|extract|transform|discover
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"disclosure_pipeline/pkg/core/ingest"
	"disclosure_pipeline/pkg/core/pipeline"
	"disclosure_pipeline/pkg/platform/config"
	"disclosure_pipeline/pkg/platform/logger"
	"disclosure_pipeline/pkg/platform/metrics"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("pipeline", flag.ContinueOnError)
	configPath := fs.String("config", "", "settings file (.yaml, .yml, .hjson or .json)")
	periods := fs.Int("periods", 0, "number of recent periods to fetch (overrides config)")
	dataDir := fs.String("data", "", "output directory (overrides config)")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: pipeline [flags] run|extract|transform|discover\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}
	cmd := fs.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	if *periods > 0 {
		cfg.PeriodCount = *periods
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	defer writeMetrics(reg, cfg.MetricsTextfile, log)

	if cmd == "discover" {
		return discover(ctx, cfg, m, log)
	}

	o := pipeline.FromConfig(cfg, m, log)
	var sum *pipeline.Summary
	switch cmd {
	case "run":
		sum = o.Run(ctx)
	case "extract":
		sum = o.Extract(ctx)
	case "transform":
		sum = o.Transform(ctx)
	default:
		fs.Usage()
		return 2
	}

	log.Info("pipeline finished",
		zap.String("command", cmd),
		zap.String("run_id", sum.RunID),
		zap.String("status", string(sum.Status())),
		zap.String("report", sum.ReportPath),
		zap.String("bundle", sum.BundlePath))
	if failed := sum.Failed(); failed != nil {
		log.Error("pipeline aborted", zap.String("stage", failed.Stage), zap.Error(failed.Err))
		return 1
	}
	return 0
}

func discover(ctx context.Context, cfg config.Config, m *metrics.Metrics, log *zap.Logger) int {
	client := ingest.NewClient(ingest.ClientConfig{
		UserAgent:     cfg.UserAgent,
		RetryAttempts: cfg.RetryAttempts,
		RetryInitial:  cfg.RetryInitial.Duration,
		RateLimit:     cfg.RateLimit,
		RateBurst:     cfg.RateBurst,
	}, m, log)

	urls, err := ingest.NewDiscoverer(client, cfg.BaseURL, cfg.ListingTimeout.Duration, log).Discover(ctx, cfg.PeriodCount)
	for _, u := range urls {
		fmt.Println(u)
	}
	if err != nil {
		log.Warn("discovery truncated", zap.Int("found", len(urls)), zap.Error(err))
	}
	return 0
}

func writeMetrics(g prometheus.Gatherer, path string, log *zap.Logger) {
	if path == "" {
		return
	}
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		log.Warn("metrics textfile not written", zap.String("path", path), zap.Error(err))
	}
}
