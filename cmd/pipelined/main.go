package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docintel/pipeline/internal/common"
	"github.com/docintel/pipeline/internal/engine"
	"github.com/docintel/pipeline/internal/export"
	"github.com/docintel/pipeline/internal/llm/openai"
	"github.com/docintel/pipeline/internal/pipeline"
	"github.com/docintel/pipeline/internal/repository"
	"github.com/docintel/pipeline/internal/server"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		pipelines pipeline.Store
		runs      repository.RunRepository
	)
	if cfg.Database.DSN != "" {
		pool, err := repository.Open(ctx, repository.Config{
			DSN:              cfg.Database.DSN,
			MaxConns:         cfg.Database.MaxConns,
			MinConns:         cfg.Database.MinConns,
			MaxConnLifetime:  cfg.Database.MaxConnLifetime,
			MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
			DialTimeout:      cfg.Database.DialTimeout,
			StatementTimeout: cfg.Database.StatementTimeout,
		}, logger)
		if err != nil {
			logger.Error("open db", "error", err)
			os.Exit(1)
		}
		defer repository.Close(pool, logger)

		if err := repository.HealthCheck(ctx, pool, cfg.Database.DialTimeout, logger); err != nil {
			logger.Error("db health failed", "error", err)
			os.Exit(1)
		}
		runs = repository.NewRunRepository(pool, logger)
		pipelines = repository.NewPipelineStore(pool, logger)
	} else {
		logger.Warn("no DB_URL set; using in-memory run ledger")
		runs = repository.NewMemoryRunLedger()
	}
	if cfg.Pipelines.Dir != "" {
		pipelines = pipeline.NewYAMLStore(cfg.Pipelines.Dir, logger)
	}

	invoker := openai.NewClient(openai.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	}, logger)

	eng := engine.New(pipelines, runs, invoker, engine.Options{
		RunTimeout:     cfg.Engine.RunTimeout,
		MaxConcurrency: cfg.Engine.MaxConcurrency,
		DefaultModel:   cfg.LLM.Model,
	}, logger)

	exp := export.NewService(runs, logger)
	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           server.New(eng, runs, exp, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http serving", "addr", cfg.Server.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}
