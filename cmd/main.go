/*
Package main is the entry point for the voting board server.

It is responsible for loading configuration, initializing the global logging system,
opening the durable store, warming the identity cache, starting the presence hub and
the HTTP server, and gracefully handling operating system interrupt signals (SIGINT, SIGTERM)
to ensure a smooth server shutdown.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voteboard/internal/app/identity"
	"voteboard/internal/app/ledger"
	"voteboard/internal/app/presence"
	"voteboard/internal/app/store/memory"
	"voteboard/internal/app/store/postgres"
	"voteboard/internal/app/store/redisstore"
	"voteboard/internal/configs"
	"voteboard/internal/handler"
	"voteboard/internal/pkg/logx"
)

// durableStore is implemented by every store driver.
type durableStore interface {
	identity.Repository
	ledger.Repository
	Ping(ctx context.Context) error
	VoteLogLength(ctx context.Context) (int64, error)
	Close()
}

func openStore(ctx context.Context, cfg *configs.AppConfig) (durableStore, error) {
	switch cfg.StoreDriver {
	case configs.StoreDriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		return postgres.New(pool), nil

	case configs.StoreDriverRedis:
		client, err := redisstore.Connect(ctx, redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return redisstore.New(client, ""), nil

	case configs.StoreDriverMemory:
		return memory.New(), nil
	}

	return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
}

func main() {
	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration from environment variables
	cfg, err := configs.LoadConfig(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.LogLevel, cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Str("store_driver", cfg.StoreDriver).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Int("votes_per_user", cfg.VotesPerUser).
		Bool("enforce_vote_limit", cfg.EnforceVoteLimit).
		Strs("candidates", cfg.Candidates).
		Msg("Configuration loaded successfully")

	store, err := openStore(ctx, cfg)
	if err != nil {
		logx.Fatal(err, "Failed to open durable store", "store_driver", cfg.StoreDriver)
	}
	defer store.Close()

	identities := identity.NewStore(store, *logx.Logger())
	if _, err := identities.LoadAll(ctx); err != nil {
		logx.Warn("Starting with an empty identity cache.", "error", err.Error())
	}

	votes := ledger.New(store, ledger.Options{
		Candidates:   cfg.Candidates,
		VotesPerUser: cfg.VotesPerUser,
		EnforceLimit: cfg.EnforceVoteLimit,
	}, *logx.Logger())

	hub := presence.NewHub(identities, votes, *logx.Logger())
	go hub.Run()

	// Setup HTTP server and routes
	router := handler.Router(ctx, &handler.AppDeps{
		Hub:        hub,
		Identities: identities,
		Ledger:     votes,
		Store:      store,
		Config:     cfg,
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("Voting board server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server with a timeout of 5 seconds.
	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	if err := hub.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Presence hub did not stop in time")
	}

	logx.Info("Server gracefully stopped.")
}
