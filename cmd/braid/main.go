// Package main is the braid MCP server entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/braidsearch/braid"
	"github.com/braidsearch/braid/common/logging"
	"github.com/braidsearch/braid/config"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to YAML config; empty uses built-in defaults")
		metricsAddr = flag.String("metrics", "", "address for the Prometheus /metrics endpoint; empty disables it")
		loadOnStart = flag.Bool("load", false, "restore index snapshots before serving")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("braid", braid.Version)
		return
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			panic("failed to load config: " + err.Error())
		}
		cfg = loaded
	}

	logger, err := logging.New(cfg.Logging.Env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	client, err := braid.New(cfg, braid.WithLogger(logger))
	if err != nil {
		logger.Fatal("failed to build pipeline", zap.Error(err))
	}
	defer func() { _ = client.Close() }()

	if *loadOnStart {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		if err := client.LoadIndexes(ctx); err != nil {
			logger.Warn("snapshot restore incomplete, serving anyway", zap.Error(err))
		}
		cancel()
	}

	var metricsSrv *http.Server
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			logger.Info("metrics endpoint up", zap.String("addr", *metricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	logger.Info("serving MCP over stdio", zap.String("version", braid.Version))

	errCh := make(chan error, 1)
	go func() { errCh <- braid.ServeStdio(client) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("stdio server error", zap.Error(err))
		}
	}

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics shutdown error", zap.Error(err))
		}
		cancel()
	}

	logger.Info("server stopped")
}
