package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	database "github.com/scamphub/scamp-backend/app/db"
	appLogger "github.com/scamphub/scamp-backend/app/logger"
	"github.com/scamphub/scamp-backend/app/observability/metrics"
	"github.com/scamphub/scamp-backend/app/tracer"
	"github.com/scamphub/scamp-backend/config"
	"github.com/scamphub/scamp-backend/internal/api"
	"github.com/scamphub/scamp-backend/internal/api/account"
	"github.com/scamphub/scamp-backend/internal/api/servers"
	"github.com/scamphub/scamp-backend/internal/api/stats"
	"github.com/scamphub/scamp-backend/internal/hash"
	"github.com/scamphub/scamp-backend/internal/mail"
	approuter "github.com/scamphub/scamp-backend/internal/router"
)

func main() {
	// Use standard log until slog is configured, in case godotenv fails
	err := godotenv.Load()
	if err != nil {
		log.Println("Warning: .env file not found or error loading:", err)
	}

	cfg, err := config.InitConfig()
	if err != nil {
		log.Fatalf("FATAL: Error initializing config: %v", err)
	}

	logger := setupLogger(cfg.Mode)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Observability ---
	tracer.InitTracingAndMetrics(cfg.Handlers.Prometheus.Port)
	metrics.InitAppMetrics()

	// --- Database Setup ---
	dbConfig, err := database.NewDatabaseConfig(&cfg, logger)
	if err != nil {
		logger.Error("Failed to generate database config", slog.Any("error", err))
		os.Exit(1)
	}

	if err = database.RunMigrations(dbConfig.ConnectionURL, logger); err != nil {
		logger.Error("Failed to run database migrations", slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := database.Init(dbConfig.ConnectionURL, logger)
	if err != nil {
		logger.Error("Failed to initialize database pool", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if !database.WaitForDB(ctx, pool, logger) {
		logger.Error("Database not ready after waiting, exiting.")
		os.Exit(1)
	}

	// --- Dependency Injection ---
	hasher := hash.New(cfg.Accounts.StaticSalt)
	tokens := account.NewTokenService(cfg.JWT)
	mailer := mail.FromConfig(cfg.SMTP, logger)

	userRepo := account.NewPostgresUserRepo(pool, logger)
	accountService := account.NewAccountService(
		userRepo, hasher, tokens, mailer,
		cfg.Accounts.VerificationExpiry, cfg.Accounts.SessionCacheTTL, logger)
	accountHandler := account.NewAccountHandler(accountService, logger)

	registry := servers.NewRegistry(cfg.Registry.PlayerLimit, cfg.Registry.ServerTimeout, logger)

	liveStats, err := stats.NewManager(cfg.Registry.StatsCSVPath, cfg.Registry.StatsUpdateRate, logger)
	if err != nil {
		logger.Error("Failed to open live stats file", slog.Any("error", err))
		os.Exit(1)
	}
	historical := []stats.Row{}
	if cfg.Registry.HistoricalCSVPath != "" {
		historical, err = stats.LoadRows(cfg.Registry.HistoricalCSVPath)
		if err != nil {
			logger.Error("Failed to load historical stats file", slog.Any("error", err))
			os.Exit(1)
		}
	}

	serversHandler := servers.NewServersHandler(registry, statsSampler{liveStats}, logger)
	statsHandler := stats.NewStatsHandler(liveStats, historical, cfg.Registry.ExcludedDates, logger)

	// --- Router Setup ---
	routerConfig := &approuter.Config{
		AccountHandler:         accountHandler,
		ServersHandler:         serversHandler,
		StatsHandler:           statsHandler,
		AuthenticateMiddleware: account.Authenticate(tokens, logger),
		RequireVerifiedEmail:   account.RequireVerifiedEmail(logger),
		RequireAdminMiddleware: account.RequireRoles(logger, api.RoleAdmin),
	}
	mainRouter := approuter.SetupRouter(routerConfig)

	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(appLogger.StructuredLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.StripSlashes)
	router.Use(middleware.Timeout(cfg.Server.Timeout))
	router.Mount("/", mainRouter)

	// --- HTTP Server Setup ---
	serverAddress := fmt.Sprintf(":%s", cfg.Server.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddress,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	go func() {
		logger.Info("Starting HTTP server", slog.String("address", serverAddress))
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server ListenAndServe error", slog.Any("error", err))
			cancel()
		}
	}()

	<-ctx.Done()

	logger.Info("Shutdown signal received, starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server graceful shutdown failed", slog.Any("error", err))
	} else {
		logger.Info("HTTP server gracefully stopped")
	}

	logger.Info("Application shut down complete.")
}

// statsSampler adapts the stats manager to the registry's push interface.
type statsSampler struct {
	manager *stats.Manager
}

func (s statsSampler) MaybeSample(now time.Time, playersOnline, serversOnline int) {
	if s.manager.MaybeSample(now, playersOnline, serversOnline) {
		metrics.Get().StatsSamplesTotal.Add(context.Background(), 1)
	}
}

// setupLogger configures and returns the application logger.
func setupLogger(mode string) *slog.Logger {
	var logger *slog.Logger

	if mode == "development" || mode == "" {
		// Colored logs for development
		tintOpts := &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.Kitchen,
			AddSource:  true,
		}
		logger = slog.New(tint.NewHandler(os.Stdout, tintOpts))
		log.Println("Initialized development logger (tint)")
	} else {
		// JSON logs for production
		jsonOpts := &slog.HandlerOptions{
			Level:     slog.LevelInfo,
			AddSource: false,
		}
		logger = slog.New(slog.NewJSONHandler(os.Stdout, jsonOpts))
		log.Println("Initialized production logger (JSON)")
	}
	return logger
}
