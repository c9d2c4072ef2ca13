// Command api serves the read-only query API over the pipeline outputs.
// SIGHUP reloads the tables from disk.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"disclosure_pipeline/pkg/api/expenses"
	"disclosure_pipeline/pkg/core/store"
	"disclosure_pipeline/pkg/platform/config"
	"disclosure_pipeline/pkg/platform/httpserver"
	"disclosure_pipeline/pkg/platform/logger"
	"disclosure_pipeline/pkg/platform/metrics"
)

func main() {
	configPath := flag.String("config", "", "settings file (.yaml, .yml, .hjson or .json)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	holder := expenses.NewHolder(store.NewTableStore(cfg.DataDir), m, log)
	if err := holder.Reload(); err != nil {
		log.Fatal("initial snapshot load failed", zap.String("data_dir", cfg.DataDir), zap.Error(err))
	}

	handler := expenses.NewHandler(holder, m, log)
	srv := httpserver.New(cfg.APIAddr, expenses.NewRouter(handler, cfg.AllowedOrigins, reg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := holder.Reload(); err != nil {
				log.Error("snapshot reload failed, keeping previous", zap.Error(err))
			}
		}
	}()

	go func() {
		log.Info("api listening", zap.String("addr", cfg.APIAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	signal.Stop(hup)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", zap.Error(err))
	}
}
