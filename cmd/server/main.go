package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/prosetya/examgate/internal/config"
	"github.com/prosetya/examgate/internal/database"
	"github.com/prosetya/examgate/internal/examapi"
	"github.com/prosetya/examgate/internal/handler"
	"github.com/prosetya/examgate/internal/logger"
	"github.com/prosetya/examgate/internal/middleware"
	"github.com/prosetya/examgate/internal/proctor"
	"github.com/prosetya/examgate/internal/router"
	"github.com/prosetya/examgate/internal/session"
	"github.com/prosetya/examgate/internal/storage"
	"github.com/prosetya/examgate/internal/submit"
	"github.com/prosetya/examgate/internal/validator"
	"github.com/prosetya/examgate/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExamGate")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Session Plumbing ──────────────────────────────────
	api := examapi.NewClient(cfg.PlatformBaseURL, cfg.PlatformToken, cfg.PlatformTimeout, log)
	vault := storage.NewRedisVault(rdb, log)
	recorder := worker.NewViolationRecorder(rdb, vault, log)

	registry := session.NewRegistry(api, vault, recorder, session.Options{
		TickInterval: cfg.TickInterval,
		Proctor: proctor.Config{
			FocusDebounce:     cfg.FocusDebounce,
			HeartbeatInterval: cfg.HeartbeatInterval,
			HeartbeatGrace:    cfg.HeartbeatGrace,
			RemediationDelay:  cfg.RemediationDelay,
			WarningDuration:   cfg.WarningDuration,
		},
		Submit: submit.Config{
			ResultFetchRetries: cfg.ResultFetchRetries,
			ResultFetchBackoff: cfg.ResultFetchBackoff,
		},
	}, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Portal: handler.NewCandidatePortalHandler(registry, api),
		WS:     handler.NewWSHandler(registry, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	archiveWorker := worker.NewViolationArchiveWorker(pool, rdb, log)
	go archiveWorker.Start(workerCtx)

	// ─── Setup Router ──────────────────────────────────────────────────
	verifier := middleware.NewVerifier(cfg.JWTSecret)
	r := router.SetupRouter(verifier, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop session timers. Answer state survives in Redis, so sessions
	// resume cleanly after a restart.
	registry.Shutdown()

	// 3. Stop background workers and wait for queues to drain.
	workerCancel()
	time.Sleep(2 * time.Second) // Allow workers to drain.

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
