package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/gameverify-backend/internal/config"
	"github.com/stemsi/gameverify-backend/internal/database"
	"github.com/stemsi/gameverify-backend/internal/handler"
	"github.com/stemsi/gameverify-backend/internal/logger"
	"github.com/stemsi/gameverify-backend/internal/middleware"
	"github.com/stemsi/gameverify-backend/internal/repository"
	"github.com/stemsi/gameverify-backend/internal/router"
	"github.com/stemsi/gameverify-backend/internal/service"
	"github.com/stemsi/gameverify-backend/internal/validator"
	"github.com/stemsi/gameverify-backend/internal/worker"
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
		Str("store", cfg.StoreBackend).
		Msg("Starting GameVerify Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewRealClock()

	// ─── Open Session Store ────────────────────────────────────────────
	stores, err := database.OpenStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open session store")
	}
	defer stores.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// ─── Initialize Services ──────────────────────────────────────────
	if cfg.UsesDefaultSigningSecret() && cfg.IsRelease() {
		log.Warn().Msg("SIGNING_SECRET is unset; submission signatures can be forged with the public default")
	}
	signer, err := service.NewSigner(cfg.SigningSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid signing configuration")
	}

	var locker service.Locker = service.NewLocalLocker()
	var events service.EventPublisher = service.NopEventPublisher{}
	if rdb != nil {
		locker = service.NewRedisLocker(rdb, cfg.SubmitLockTTL, cfg.SubmitLockTTL)
		events = service.NewRedisEventPublisher(rdb, stores.Pool != nil)
	} else {
		log.Warn().Msg("Submission lock is process-local; run a single instance")
	}

	authService := service.NewAuthService(cfg)
	sessionService := service.NewGameSessionService(stores.Sessions, signer, locker, events, clock, cfg, log)

	if cfg.EnableSignEndpoint {
		log.Warn().Msg("Debug signing endpoint is enabled; never run this in production")
	}

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		GameSession: handler.NewGameSessionHandler(sessionService, log),
		Review:      handler.NewReviewHandler(sessionService, log),
		WS:          handler.NewWSHandler(rdb, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	playerLimiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute, clock, middleware.ClaimsKey)
	runWorker(&workers, func() { playerLimiter.Cleanup(workerCtx) })

	expiryWorker := worker.NewExpiryWorker(sessionService, clock, cfg.ExpirySweep, log)
	runWorker(&workers, func() { expiryWorker.Start(workerCtx) })

	if rdb != nil && stores.Pool != nil {
		flagWorker := worker.NewFlagWorker(repository.NewFlagRepository(stores.Pool), rdb, log)
		runWorker(&workers, func() { flagWorker.Start(workerCtx) })
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, playerLimiter, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
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

	// 2. Stop background workers and wait for queues to drain.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

func runWorker(wg *sync.WaitGroup, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		fn()
	}()
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
