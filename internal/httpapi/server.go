package httpapi

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/CultureM8/culture-mate-chat-bridge/internal/bridge"
	"github.com/CultureM8/culture-mate-chat-bridge/internal/config"
	"github.com/CultureM8/culture-mate-chat-bridge/internal/metrics"
	"github.com/CultureM8/culture-mate-chat-bridge/internal/request"
)

// NewServer wires the UI-facing surface: the request lifecycle REST API,
// the live-room websocket endpoint, and Prometheus metrics.
func NewServer(cfg *config.Config, store *request.Store, orch *bridge.Orchestrator, cache *redis.Client, log *zap.SugaredLogger) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	app.Use(recover.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	reqHandler := NewRequestHandler(store, orch, cache, cfg.Redis.Prefix, log)
	limiter := NewRateLimiter(cache, cfg.Redis.Prefix, cfg.RateLimit.Limit, time.Duration(cfg.RateLimit.WindowSeconds)*time.Second)

	api := app.Group("/api/v1", AuthMiddleware(cfg.JWT.Secret))
	api.Post("/requests", limiter.Middleware(), reqHandler.Create)
	api.Post("/requests/:id/accept", reqHandler.Accept)
	api.Post("/requests/:id/reject", reqHandler.Reject)
	api.Get("/requests", reqHandler.List)
	api.Get("/requests/unread-count", reqHandler.UnreadCount)

	wsHandler := NewWSHandler(orch, store, cfg.JWT.Secret, log)
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/rooms/:roomId", websocket.New(wsHandler.Room))

	return app
}
