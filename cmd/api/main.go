package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/agriassist/backend/internal/advisory"
	"github.com/agriassist/backend/internal/auth"
	"github.com/agriassist/backend/internal/config"
	"github.com/agriassist/backend/internal/db"
	"github.com/agriassist/backend/internal/housekeeping"
	"github.com/agriassist/backend/internal/mailer"
	"github.com/agriassist/backend/internal/quota"
	"github.com/agriassist/backend/internal/repository"
	"github.com/agriassist/backend/internal/token"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Cannot reach PostgreSQL (connection refused or invalid). Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	slog.Info("Connected to PostgreSQL database successfully!")

	if err := db.Migrate(ctx, pool); err != nil {
		slog.Error("Schema migrations failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Schema migrations applied")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	// Stores
	accountRepo := repository.NewAccountRepo(pool)
	tokenRepo := repository.NewTokenRepo(pool)
	usageRepo := repository.NewUsageRepo(pool)

	// Background workers
	workers := river.NewWorkers()
	river.AddWorker(workers, mailer.NewSendEmailWorker(&mailer.LogSender{Log: logger}, logger))
	river.AddWorker(workers, housekeeping.NewPruneSessionsWorker(tokenRepo, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(time.Hour),
				func() (river.JobArgs, *river.InsertOpts) {
					return housekeeping.PruneSessionsArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}
	enqueueEmail := func(ctx context.Context, args mailer.SendEmailArgs) error {
		_, err := riverClient.Insert(ctx, args, nil)
		return err
	}

	// Core services
	signer := token.NewService(cfg.AccessTokenSecret, cfg.RefreshTokenSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	authSvc := auth.NewService(accountRepo, tokenRepo, signer, enqueueEmail, cfg.BcryptCost, cfg.RememberMeTTL, cfg.ResetTokenTTL)
	tracker := quota.NewTracker(usageRepo, cfg.Quota.TierCeilings())

	// Advisory boundary
	validator, err := advisory.NewValidator()
	if err != nil {
		slog.Error("Schema validator init failed", "error", err)
		os.Exit(1)
	}
	predictClient := advisory.NewPredictionClient(cfg.PredictionServiceURL, cfg.UpstreamTimeout)
	weatherClient := advisory.NewWeatherClient(cfg.WeatherServiceURL, cfg.WeatherAPIKey, cfg.UpstreamTimeout)
	chatClient := advisory.NewChatClient(cfg.ChatServiceURL, cfg.ChatAPIKey, cfg.UpstreamTimeout)

	authHandler := auth.NewHandler(authSvc, cfg.AccessTokenTTL, logger)
	advisoryHandler := advisory.NewHandler(predictClient, weatherClient, chatClient, tracker, validator, logger)

	mux := http.NewServeMux()
	RegisterRoutes(mux, authHandler, advisoryHandler, signer, accountRepo, tracker)

	handler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}).Handler(mux)

	// Start River client (delivers queued emails)
	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	serverAddr := "0.0.0.0:" + cfg.Port
	slog.Info("Starting HTTP server", "addr", serverAddr)
	if err := http.ListenAndServe(serverAddr, handler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
