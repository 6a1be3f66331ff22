package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/quotelane/quotecore/internal/carriers/acuity"
	"github.com/quotelane/quotecore/internal/carriers/everest"
	"github.com/quotelane/quotecore/internal/carriers/victory"
	"github.com/quotelane/quotecore/internal/config"
	"github.com/quotelane/quotecore/internal/domain"
	"github.com/quotelane/quotecore/internal/handler"
	"github.com/quotelane/quotecore/internal/integration"
	"github.com/quotelane/quotecore/internal/question"
	"github.com/quotelane/quotecore/internal/repository"
	"github.com/quotelane/quotecore/internal/service"
	"github.com/quotelane/quotecore/internal/transport"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := newLogger(cfg)

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting carrier quoting service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := repository.Connect(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}
	log.Info().Msg("Database connection established")

	// Initialize repositories
	questionRepo := repository.NewQuestionRepository(db)
	quoteRepo := repository.NewQuoteRepository(db)
	carrierRepo := repository.NewCarrierRepository(db)

	// Question cache is optional: without Redis the engine degrades to
	// store-only resolution.
	var cache question.Cache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("Redis unreachable; question caching disabled")
		} else {
			cache = question.NewRedisCache(rdb, log)
			defer rdb.Close()
		}
	}
	engine := question.NewEngine(questionRepo, cache, log)

	// NATS is optional: without it events are dropped and cache
	// invalidation relies on TTL expiry.
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = nats.Connect(cfg.NATS.URL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			log.Warn().Err(err).Msg("NATS unreachable; quote events disabled")
			nc = nil
		} else {
			defer nc.Drain()
			if cache != nil {
				if _, err := question.SubscribeInvalidations(nc, cache, log); err != nil {
					log.Warn().Err(err).Msg("Failed to subscribe to cache invalidations")
				}
			}
		}
	}

	// Register carrier adapters
	registry := integration.NewRegistry()
	tokens := transport.NewTokenCache()
	registerAdapter(log, registry, cfg.Carrier.EverestInsurerID, domain.PolicyTypeWC, "everest", everest.Factory(tokens))
	registerAdapter(log, registry, cfg.Carrier.AcuityInsurerID, domain.PolicyTypeBOP, "acuity", acuity.Factory())
	registerAdapter(log, registry, cfg.Carrier.VictoryInsurerID, domain.PolicyTypeGL, "victory", victory.Factory())

	// Initialize services
	httpClient := transport.NewClient(log, cfg.Carrier.Timeout)
	events := service.NewEventPublisher(nc, log)
	quoteService := service.NewQuoteService(registry, engine, questionRepo, carrierRepo, quoteRepo, events, httpClient, log)
	bindService := service.NewBindService(registry, quoteRepo, events, quoteService, log)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(quoteService, bindService, log)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(cfg.Server.WriteTimeout))
	r.Get("/health", httpHandler.Health)
	r.Route("/api/v1", httpHandler.Routes)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Service.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).Level(level).With().
		Timestamp().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Logger()
	if cfg.Service.Environment == "development" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return log
}

func registerAdapter(log zerolog.Logger, registry *integration.Registry, insurerID int64, policyType domain.PolicyType, name string, factory integration.Factory) {
	if insurerID == 0 {
		log.Info().Str("adapter", name).Msg("Adapter disabled (no insurer ID configured)")
		return
	}
	if err := registry.Register(insurerID, policyType, factory); err != nil {
		log.Fatal().Err(err).Str("adapter", name).Msg("Failed to register adapter")
	}
	log.Info().Str("adapter", name).Int64("insurer_id", insurerID).Str("policy_type", string(policyType)).Msg("Adapter registered")
}
