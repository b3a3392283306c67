// Command server runs the session-state core as a standalone process:
// Postgres-backed event store, notification bus, and the RPC dispatcher
// exposed over a thin local-debugging REST shim. Exit codes follow
// spec.md §6.4: 0 normal, 2 bad config, 3 database unrecoverable.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/conductorhq/sessioncore/internal/config"
	"github.com/conductorhq/sessioncore/internal/contextmgr"
	"github.com/conductorhq/sessioncore/internal/eventlog"
	"github.com/conductorhq/sessioncore/internal/notify"
	"github.com/conductorhq/sessioncore/internal/orchestrator"
	"github.com/conductorhq/sessioncore/internal/provider"
	"github.com/conductorhq/sessioncore/internal/rpcapi"
	"github.com/conductorhq/sessioncore/internal/store"
	"github.com/gin-gonic/gin"
)

const exitBadConfig = 2
const exitDatabaseUnrecoverable = 3

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	envPath := flag.String("env-file", getEnv("ENV_FILE", ".env"), "Path to a .env file to load before reading configuration")
	flag.Parse()

	cfg, err := config.Load(*envPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(exitBadConfig)
	}

	ctx := context.Background()
	s, err := store.New(ctx, cfg.DB)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(exitDatabaseUnrecoverable)
	}
	defer s.Close()
	slog.Info("connected to database", "host", cfg.DB.Host, "database", cfg.DB.Database)

	registry := contextmgr.DefaultModelRegistry()
	if cfg.ModelRegistryPath != "" {
		loaded, err := contextmgr.LoadModelRegistry(cfg.ModelRegistryPath)
		if err != nil {
			slog.Error("failed to load model registry", "path", cfg.ModelRegistryPath, "error", err)
			os.Exit(exitBadConfig)
		}
		registry = loaded
	}

	bus := notify.NewBus(notify.DefaultBufferSize)

	// Concrete provider wire clients are out of scope (spec §1 Non-goals).
	// providerFactory is the orchestrator's injection point; it streams a
	// scripted no-op response until a real provider adapter is wired in.
	providerFactory := func(model string) provider.Stream {
		return provider.NewFakeProvider(
			provider.TextDone("", eventlog.TokenUsage{}, model),
		)
	}

	dispatcher := rpcapi.New(s, bus, registry, noopTools{}, providerFactory, orchestrator.DefaultTurnTimeout)

	if err := dispatcher.RecoverOrphanedTurns(ctx); err != nil {
		slog.Error("orphaned turn recovery failed", "error", err)
	}

	gin.SetMode(getEnv("GIN_MODE", "release"))
	router := gin.Default()
	router.GET("/health", healthHandler(s))
	registerRoutes(router, dispatcher)

	addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)
	slog.Info("listening", "addr", addr)
	if err := router.Run(addr); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// noopTools is the default ToolExecutor: tool dispatch is an external
// collaborator per spec.md §4.5 item 3, out of scope for this binary.
type noopTools struct{}

func (noopTools) Execute(_ context.Context, call eventlog.ToolCallPayload) ([]eventlog.ContentBlock, bool, error) {
	return []eventlog.ContentBlock{eventlog.TextBlock("tool execution is not configured")}, true, nil
}

func healthHandler(s *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		health, err := s.Health(reqCtx)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": health, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "database": health})
	}
}
