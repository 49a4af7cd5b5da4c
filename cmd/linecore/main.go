// linecore control plane server: terminates LINE webhooks, serves the
// dashboard API, and fans conversation events out over WebSocket.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/chatbridge/linecore/pkg/api"
	"github.com/chatbridge/linecore/pkg/config"
	"github.com/chatbridge/linecore/pkg/database"
	"github.com/chatbridge/linecore/pkg/dispatch"
	"github.com/chatbridge/linecore/pkg/events"
	"github.com/chatbridge/linecore/pkg/line"
	"github.com/chatbridge/linecore/pkg/llm"
	"github.com/chatbridge/linecore/pkg/media"
	"github.com/chatbridge/linecore/pkg/objectstore"
	"github.com/chatbridge/linecore/pkg/retrieval"
	"github.com/chatbridge/linecore/pkg/services"
	"github.com/chatbridge/linecore/pkg/version"
	"github.com/chatbridge/linecore/pkg/webhook"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolveNodeID determines the node identifier that tags cross-process
// broadcasts. Priority: NODE_ID env > HOSTNAME env > "local"
func resolveNodeID() string {
	if id := os.Getenv("NODE_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	nodeID := resolveNodeID()

	slog.Info("Starting linecore",
		"version", version.GitCommit,
		"node_id", nodeID,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize database (applies pending migrations)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	slog.Info("Connected to PostgreSQL database")

	// 3. Object store for media payloads
	store, err := objectstore.New(cfg.ObjectStore, cfg.Server.PublicBaseURL)
	if err != nil {
		slog.Error("Failed to initialize object store", "error", err)
		os.Exit(1)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		slog.Error("Failed to ensure object store bucket", "error", err)
		os.Exit(1)
	}
	slog.Info("Object store ready", "bucket", cfg.ObjectStore.Bucket)

	// 4. LINE API client and domain services
	lineClient := line.NewClient(cfg.Line)
	botService := services.NewBotService(dbClient)
	conversationService := services.NewConversationService(dbClient)
	templateService := services.NewTemplateService(dbClient)
	knowledgeService := services.NewKnowledgeService(dbClient)
	slog.Info("Services initialized")

	// 5. WebSocket registry, publisher, and the optional Redis bridge
	registry := events.NewRegistry(botService, 0)

	var redisClient *redis.Client
	var bridge *events.Bridge
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password(),
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.Error("Failed to connect to Redis", "addr", cfg.Redis.Addr, "error", err)
			os.Exit(1)
		}

		bridge = events.NewBridge(redisClient, registry, nodeID)
		if err := bridge.Start(ctx); err != nil {
			slog.Error("Failed to start WebSocket bridge", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Info("Redis not configured, broadcasts stay process-local")
	}

	publisher := events.NewPublisher(registry, redisClient, nodeID)

	// 6. Media fetch pool
	mediaPool := media.NewPool(cfg.Media, lineClient, store, conversationService)
	mediaPool.Start(ctx)

	// 7. LLM client and retrieval engine for the AI fallback path
	llmClient := llm.NewClient(cfg.LLM)
	ragEngine := retrieval.NewEngine(cfg.Retrieval, cfg.LLM, llmClient, knowledgeService, conversationService)
	knowledgeService.SetInvalidationHook(ragEngine.InvalidateBot)

	// 8. Outbound dispatcher and webhook processor
	dispatcher := dispatch.NewDispatcher(lineClient, conversationService, publisher)
	processor := webhook.NewProcessor(cfg.Server.PublicBaseURL, webhook.Deps{
		Bots:          botService,
		Conversations: conversationService,
		Templates:     templateService,
		Line:          lineClient,
		Media:         mediaPool,
		Dispatcher:    dispatcher,
		RAG:           ragEngine,
		Publisher:     publisher,
	})

	// 9. Create HTTP server
	httpServer := api.NewServer(cfg, dbClient, botService, conversationService, processor, registry)
	httpServer.SetLineClient(lineClient)
	httpServer.SetPublisher(publisher)
	httpServer.SetMediaPool(mediaPool)
	httpServer.SetObjectStore(store)
	if redisClient != nil {
		httpServer.SetRedisClient(redisClient)
	}

	// 10. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		addr := cfg.Server.Addr()
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("linecore started successfully",
		"node_id", nodeID,
		"public_base_url", cfg.Server.PublicBaseURL,
		"media_workers", cfg.Media.Workers)

	// 11. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 12. Graceful shutdown. The HTTP listener stops first so no new
	// webhooks arrive while the media pool drains.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	poolDone := make(chan struct{})
	go func() {
		mediaPool.Stop()
		close(poolDone)
	}()

	select {
	case <-poolDone:
		slog.Info("Media pool drained")
	case <-time.After(cfg.Media.FetchTimeout + 5*time.Second):
		slog.Warn("Media pool shutdown timeout exceeded; queued fetches stay eligible for reprocessing")
	}

	if bridge != nil {
		bridge.Stop()
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			slog.Error("Error closing Redis client", "error", err)
		}
	}

	slog.Info("Shutdown complete")
}
