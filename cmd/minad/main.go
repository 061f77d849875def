package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cstaal88/mina-pipeline/internal/checkpoint"
	"github.com/cstaal88/mina-pipeline/internal/clean"
	"github.com/cstaal88/mina-pipeline/internal/collect"
	"github.com/cstaal88/mina-pipeline/internal/config"
	"github.com/cstaal88/mina-pipeline/internal/logging"
	"github.com/cstaal88/mina-pipeline/internal/metrics"
	"github.com/cstaal88/mina-pipeline/internal/pipeline"
	"github.com/cstaal88/mina-pipeline/internal/rss"
	"github.com/cstaal88/mina-pipeline/internal/runlog"
	"github.com/cstaal88/mina-pipeline/internal/scheduler"
	"github.com/cstaal88/mina-pipeline/internal/scrape"
	"github.com/cstaal88/mina-pipeline/internal/search"
	"github.com/cstaal88/mina-pipeline/internal/server"
	"github.com/cstaal88/mina-pipeline/internal/snapshot"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to init logger", "error", err)
		os.Exit(1)
	}

	logger.Info("starting minad")

	topics, err := config.LoadTopics(cfg.Data.TopicsFile)
	if err != nil {
		logger.Error("failed to load topics", "error", err)
		os.Exit(1)
	}

	store, err := runlog.Open(cfg.Data.RunDB)
	if err != nil {
		logger.Error("failed to open run ledger", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	collector, err := metrics.New()
	if err != nil {
		logger.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}

	deps := pipeline.Deps{
		Feeds:     rss.New(cfg.Data, logger),
		Scraper:   scrape.New(scrape.DefaultOptions(), logger),
		Cleaner:   clean.New(cfg.Data, logger),
		Snapshots: snapshot.NewGistStore(logger),
		Ledger:    store,
		Metrics:   collector,
	}
	if cfg.API.Key != "" {
		client := search.NewClient(cfg.API, logger)
		checkpoints := checkpoint.NewFileStore(cfg.Data, logger)
		deps.Fetcher = collect.New(client, checkpoints, cfg.Data, cfg.API.PageSize, logger)
	} else {
		logger.Warn("no API key configured, query topics will not be fetched")
	}

	runner := pipeline.New(deps, cfg.Data, logger)
	sched := scheduler.New(topics, runner, cfg.Daemon.RunTimes, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Start(ctx)

	srv := server.New(cfg.Daemon, logger, server.NewHandler(store, collector, logger))

	go func() {
		logger.Info("starting server", "port", cfg.Daemon.Port)
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("minad started successfully",
		"topics", len(topics.Topics),
		"run_times", cfg.Daemon.RunTimes)
	logger.Info("API available", "url", fmt.Sprintf("http://localhost:%s", cfg.Daemon.Port))

	waitForSignal(logger)

	logger.Info("shutting down")
	sched.Stop()
	cancel()
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}

func waitForSignal(logger *slog.Logger) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	sig := <-c
	logger.Info("received signal", "signal", sig.String())
	signal.Stop(c)
	close(c)
}
