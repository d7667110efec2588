package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"tally/internal/common/config"
	"tally/internal/common/logging"
	"tally/internal/common/metrics"
	"tally/internal/common/types"
	ledgerapi "tally/internal/ledger/api"
	"tally/internal/ledger/application"
	"tally/internal/ledger/infrastructure/kafka"
	"tally/internal/ledger/infrastructure/postgres"
	"tally/internal/ledger/publisher"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup structured logging
	logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	// Generate correlation ID for startup
	startupCtx := logging.WithCorrelationID(context.Background(), types.NewCorrelationID())

	logging.InfoContext(startupCtx, "Starting tally ledger service",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"log_level", cfg.LogLevel,
	)

	// Connect database
	pool, err := cfg.NewPostgresPool(startupCtx)
	if err != nil {
		logging.ErrorContext(startupCtx, "Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Setup Ledger context
	dataStore := postgres.NewDataStore(pool)
	transferService := application.NewTransferService(dataStore, cfg.TransactionsTopic)
	handler := ledgerapi.NewHandler(transferService)

	// Connect event bus and start the outbox publisher
	bus, err := kafka.NewPublisher(cfg.KafkaBrokers, cfg.ToSaramaConfig())
	if err != nil {
		logging.ErrorContext(startupCtx, "Failed to connect to Kafka", "error", err)
		os.Exit(1)
	}
	defer bus.Close()

	worker := publisher.NewWorker(dataStore.Outbox(), bus, publisher.Config{
		PollInterval:       cfg.OutboxPollInterval,
		BatchSize:          cfg.OutboxBatchSize,
		ClaimLease:         cfg.ClaimLease,
		PublishTimeout:     cfg.PublishTimeout,
		Workers:            cfg.PublisherWorkers,
		PublishedRetention: cfg.PublishedRetention,
		MaxRetries:         cfg.MaxRetries,
		Retry: publisher.RetryPolicy{
			InitialInterval: cfg.RetryInitialInterval,
			Multiplier:      cfg.RetryMultiplier,
			Jitter:          cfg.RetryJitter,
			MaxInterval:     cfg.RetryMaxInterval,
		},
	}, rand.New(rand.NewSource(time.Now().UnixNano())))

	worker.Start(context.Background())
	defer worker.Stop()

	logging.InfoContext(startupCtx, "Ledger context initialized")

	// Setup HTTP server
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", readyHandler(pool))
	mux.Handle("GET /metrics", metrics.Handler())
	handler.RegisterRoutes(mux)

	// Export pool stats on a slow ticker
	go poolStatsLoop(pool)

	// Middleware chain: metrics -> correlation -> handler
	httpHandler := metrics.Middleware(correlationMiddleware(mux))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      httpHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logging.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logging.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logging.Info("Server stopped")
}

// requestTimeout is the maximum time allowed for processing a single request.
const requestTimeout = 5 * time.Second

// correlationMiddleware adds correlation ID and request timeout to each request.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Check for existing correlation ID in header
		corrID, err := types.ParseCorrelationID(r.Header.Get("X-Correlation-ID"))
		if err != nil {
			corrID = types.NewCorrelationID()
		}

		// Add request timeout to prevent runaway requests
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		// Add correlation ID to context
		ctx = logging.WithCorrelationID(ctx, corrID)

		// Set response header
		w.Header().Set("X-Correlation-ID", corrID.String())

		// Log request
		logging.InfoContext(ctx, "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
		)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// poolStatsLoop exports database pool gauges every few seconds.
func poolStatsLoop(pool *pgxpool.Pool) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		stats := pool.Stat()
		metrics.DBPoolConnectionsInUse.Set(float64(stats.AcquiredConns()))
		metrics.DBPoolConnectionsIdle.Set(float64(stats.IdleConns()))
	}
}

// healthHandler returns basic health status.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

// readyHandler checks if all dependencies are available.
func readyHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")

		if err := pool.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "not ready",
				"reason": "database unreachable",
			})
			return
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "ready",
		})
	}
}
