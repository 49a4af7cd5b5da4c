// Package api exposes the HTTP surface: the LINE webhook, dashboard REST
// endpoints, the media proxy, and the WebSocket handshakes.
package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/redis/go-redis/v9"

	"github.com/chatbridge/linecore/pkg/config"
	"github.com/chatbridge/linecore/pkg/database"
	"github.com/chatbridge/linecore/pkg/events"
	"github.com/chatbridge/linecore/pkg/line"
	"github.com/chatbridge/linecore/pkg/media"
	"github.com/chatbridge/linecore/pkg/objectstore"
	"github.com/chatbridge/linecore/pkg/services"
	"github.com/chatbridge/linecore/pkg/webhook"
)

// Server wires handlers to services and owns the HTTP listener.
type Server struct {
	cfg           *config.Config
	dbClient      *database.Client
	bots          *services.BotService
	conversations *services.ConversationService
	processor     *webhook.Processor
	registry      *events.Registry

	// Optional dependencies, injected via setters. Handlers that need one
	// answer 503 while it is absent.
	lineClient  *line.Client
	publisher   *events.Publisher
	mediaPool   *media.Pool
	objectStore *objectstore.Store
	redisClient *redis.Client

	echo *echo.Echo
	http *http.Server
}

// NewServer creates the API server and registers all routes.
func NewServer(
	cfg *config.Config,
	dbClient *database.Client,
	bots *services.BotService,
	conversations *services.ConversationService,
	processor *webhook.Processor,
	registry *events.Registry,
) *Server {
	s := &Server{
		cfg:           cfg,
		dbClient:      dbClient,
		bots:          bots,
		conversations: conversations,
		processor:     processor,
		registry:      registry,
	}

	e := echo.New()
	e.Use(recoverPanics())
	e.Use(requestLogger())
	e.Use(securityHeaders())
	s.echo = e
	s.registerRoutes()

	s.http = &http.Server{
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// SetLineClient injects the LINE API client used by the admin-send endpoint.
func (s *Server) SetLineClient(client *line.Client) {
	s.lineClient = client
}

// SetPublisher injects the broadcast publisher.
func (s *Server) SetPublisher(publisher *events.Publisher) {
	s.publisher = publisher
}

// SetMediaPool injects the media fetch pool used by the reprocess endpoint
// and the health check.
func (s *Server) SetMediaPool(pool *media.Pool) {
	s.mediaPool = pool
}

// SetObjectStore injects the object store backing the media proxy.
func (s *Server) SetObjectStore(store *objectstore.Store) {
	s.objectStore = store
}

// SetRedisClient injects the Redis client so the health check can ping the
// broadcast bridge backend.
func (s *Server) SetRedisClient(client *redis.Client) {
	s.redisClient = client
}

func (s *Server) registerRoutes() {
	e := s.echo

	e.GET("/health", s.healthHandler)

	v1 := e.Group("/api/v1")
	v1.POST("/webhooks/:bot_id", s.webhookHandler)
	v1.GET("/webhooks/:bot_id/status", s.webhookStatusHandler)

	v1.GET("/bots/:bot_id/conversations", s.listConversationsHandler)
	v1.GET("/bots/:bot_id/conversations/stats", s.conversationStatsHandler)
	v1.GET("/bots/:bot_id/conversations/:line_user_id/messages", s.listMessagesHandler)
	v1.POST("/bots/:bot_id/conversations/:line_user_id/messages", s.sendAdminMessageHandler)

	v1.POST("/bots/:bot_id/media/reprocess", s.reprocessMediaHandler)
	v1.GET("/media/*", s.mediaProxyHandler)

	v1.POST("/ws/token", s.mintWSTokenHandler)

	e.GET("/ws/bot/:bot_id", s.wsBotHandler)
	e.GET("/ws/dashboard/:user_id", s.wsDashboardHandler)
}

// Start listens on addr and serves until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.http.Addr = addr
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
