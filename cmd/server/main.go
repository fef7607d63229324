package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itss-group/projectpulse/internal/api"
	"github.com/itss-group/projectpulse/internal/auth"
	"github.com/itss-group/projectpulse/internal/config"
	"github.com/itss-group/projectpulse/internal/database"
	"github.com/itss-group/projectpulse/internal/github"
	"github.com/itss-group/projectpulse/internal/monitoring"
	"github.com/itss-group/projectpulse/internal/notify"
	"github.com/itss-group/projectpulse/internal/pressure"
	"github.com/itss-group/projectpulse/internal/scoring"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		monitoring.NewLogger(monitoring.ParseLevel("info")).Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := monitoring.NewLogger(monitoring.ParseLevel(cfg.LogLevel))

	db, err := database.NewDB(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := database.NewRepository(db)

	var mailer notify.Mailer
	if cfg.SendgridAPIKey != "" {
		mailer = notify.NewSendgridMailer(cfg.SendgridAPIKey, cfg.FromName, cfg.FromEmail, cfg.AppName, logger.Logger)
	} else {
		mailer = notify.NewConsoleMailer(logger.Logger)
	}
	notifier := notify.NewService(repo, mailer, logger.Logger)

	scores := scoring.NewCalculator(repo, repo, repo, repo, repo,
		scoring.WithCommitCap(cfg.CommitCap),
		scoring.WithLogger(logger.Logger),
	)

	thresholds := pressure.Thresholds{
		Risk:                    cfg.RiskFraction,
		Overload:                cfg.OverloadFraction,
		DefaultProjectThreshold: cfg.DefaultPressureThreshold,
	}
	pressureCalc := pressure.NewCalculator(repo, repo, thresholds, logger.Logger)
	sweep := pressure.NewSweep(pressureCalc, repo, notifier, logger.Logger)

	tokens := auth.NewTokenService(cfg.JWTSecret, repo)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Periodic pressure sweep.
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				if err := sweep.UpdateAllPressureScores(rootCtx); err != nil {
					logger.Error("Pressure sweep failed", "error", err)
				}
			}
		}
	}()

	// Periodic commit ingestion, enabled when a token is configured.
	if cfg.GitHubToken != "" {
		ingestor := github.NewIngestor(github.NewClient(cfg.GitHubToken), repo, logger)
		go func() {
			ticker := time.NewTicker(cfg.CommitSyncInterval)
			defer ticker.Stop()

			for {
				select {
				case <-rootCtx.Done():
					return
				case <-ticker.C:
					if err := ingestor.SyncAll(rootCtx); err != nil {
						logger.Error("Commit ingestion failed", "error", err)
					}
				}
			}
		}()
	}

	server := api.NewServer(scores, pressureCalc, sweep, tokens, logger)
	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}

	go func() {
		logger.Info("Starting server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-rootCtx.Done()
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("Server exited")
}
