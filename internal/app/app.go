// Package app parses server configuration and runs the engine's process
// lifecycle: storage, coordinator, transport, graceful shutdown.
package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/louisbranch/gametable/internal/auth"
	"github.com/louisbranch/gametable/internal/platform/config"
	"github.com/louisbranch/gametable/internal/platform/otel"
	"github.com/louisbranch/gametable/internal/server"
	"github.com/louisbranch/gametable/internal/session/coordinator"
	"github.com/louisbranch/gametable/internal/session/persist"
	"github.com/louisbranch/gametable/internal/storage/sqlite"
)

const serviceName = "gametable"

// Config holds server configuration.
type Config struct {
	Addr        string        `env:"GAMETABLE_ADDR" envDefault:":8080"`
	DBPath      string        `env:"GAMETABLE_DB_PATH" envDefault:"gametable.db"`
	TokenSecret string        `env:"GAMETABLE_TOKEN_SECRET"`
	IdleTimeout time.Duration `env:"GAMETABLE_IDLE_TIMEOUT" envDefault:"5m"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The server listen address")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the sqlite database file")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Idle connection eviction timeout")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the session coordination engine and blocks until the context is
// cancelled or the listener fails.
func Run(ctx context.Context, cfg Config) error {
	if cfg.TokenSecret == "" {
		return errors.New("GAMETABLE_TOKEN_SECRET is required")
	}

	shutdownTracing, err := otel.Setup(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Printf("shutdown tracing failed err=%v", err)
		}
	}()

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("close storage failed err=%v", err)
		}
	}()

	verifier, err := auth.NewVerifier([]byte(cfg.TokenSecret))
	if err != nil {
		return fmt.Errorf("configure token verifier: %w", err)
	}

	persister := persist.New(store)
	registry := coordinator.NewRegistry(
		coordinator.Stores{Sessions: store, Events: store},
		persister,
		coordinator.WithIdleTimeout(cfg.IdleTimeout),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go persister.Run(runCtx)
	go registry.Run(runCtx)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.New(registry, verifier).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening addr=%s db=%s", cfg.Addr, cfg.DBPath)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		// Give the persister a moment to drain accepted events.
		deadline := time.Now().Add(5 * time.Second)
		for persister.Pending() > 0 && time.Now().Before(deadline) {
			time.Sleep(50 * time.Millisecond)
		}
		if pending := persister.Pending(); pending > 0 {
			log.Printf("shutting down with unpersisted events pending=%d", pending)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
