package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/huntr-cli/internal/api"
	"github.com/xkilldash9x/huntr-cli/internal/browser"
	"github.com/xkilldash9x/huntr-cli/internal/extract"
	"github.com/xkilldash9x/huntr-cli/internal/observability"
	"github.com/xkilldash9x/huntr-cli/internal/scoring"
	"github.com/xkilldash9x/huntr-cli/internal/session"
	"github.com/xkilldash9x/huntr-cli/internal/store"
	"github.com/xkilldash9x/huntr-cli/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hunt control plane: browser, session registry, and HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	logger := observability.GetLogger()
	defer observability.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Browser process, shared by every session.
	manager, err := browser.NewManager(ctx, logger, cfg.Browser)
	if err != nil {
		return err
	}

	// Persistence is optional; without a database URL, outcomes only reach
	// the activity feed.
	var st *store.Store
	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to create database pool: %w", err)
		}
		defer pool.Close()

		st, err = store.New(ctx, pool, logger)
		if err != nil {
			return err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			return err
		}
	} else {
		logger.Warn("No database configured; listing outcomes will not be persisted")
	}

	var scorer scoring.Engine
	if cfg.Scoring.APIKey != "" {
		scorer, err = scoring.NewGeminiEngine(ctx, logger, cfg.Scoring)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("No scoring API key configured; falling back to keyword matching")
		scorer = scoring.NewKeywordEngine(logger)
	}

	deps := worker.Deps{
		Logger:    logger,
		Extractor: extract.NewDOMExtractor(logger),
		Scorer:    scorer,
		Hunt:      cfg.Hunt,
	}
	if st != nil {
		deps.Store = st
	}

	registry := session.NewRegistry(logger, manager, worker.NewFactory(deps), session.Options{
		Pacing: session.PacingConfig{
			MeanDelay:         cfg.Pacing.MeanDelay,
			StdDevDelay:       cfg.Pacing.StdDevDelay,
			Debug:             cfg.Pacing.Debug,
			PausePollInterval: cfg.Pacing.PausePollInterval,
		},
		StopTimeout:      cfg.Session.StopTimeout,
		ActivityCapacity: cfg.Session.ActivityCapacity,
		DefaultBudget:    cfg.Session.Budget,
	})

	var lister api.ApplicationLister
	if st != nil {
		lister = st
	}
	server := api.NewServer(logger, cfg.Server, registry, lister)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})

	logger.Info("Hunt control plane is up", zap.String("addr", cfg.Server.Addr))
	err = g.Wait()

	// Orderly teardown: stop every session, then the browser process.
	registry.StopAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if shutdownErr := manager.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("Browser shutdown reported an error", zap.Error(shutdownErr))
	}

	return err
}
