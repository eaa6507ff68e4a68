package http

import (
	"time"

	"github.com/fairlance/backend/internal/config"
	"github.com/fairlance/backend/internal/http/handlers"
	"github.com/fairlance/backend/internal/middleware"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	authHandler *handlers.AuthHandler,
	userHandler *handlers.UserHandler,
	projectHandler *handlers.ProjectHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	// Auth (public)
	api.Post("/auth/register", authHandler.Register)
	api.Post("/auth/login", authHandler.Login)

	// Rate-limited endpoints
	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// User
	protected.Get("/me", userHandler.GetMe)
	protected.Post("/me/wallet", userHandler.LinkWallet)

	// Projects
	protected.Post("/projects", projectHandler.CreateProject)
	protected.Post("/projects/intent", projectHandler.CreateIntent)
	protected.Get("/projects", projectHandler.ListProjects)
	protected.Get("/projects/:id", projectHandler.GetProject)
	protected.Post("/projects/:id/start", projectHandler.StartProject)
	protected.Post("/projects/:id/cancel", projectHandler.CancelProject)
	protected.Post("/projects/:id/dispute", projectHandler.RaiseDispute)
	protected.Post("/projects/:id/resolve", projectHandler.ResolveDispute)
	protected.Get("/projects/:id/escrow", projectHandler.GetEscrow)
	protected.Get("/projects/:id/events", projectHandler.GetHistory)
	protected.Get("/projects/:id/payouts", projectHandler.GetPayouts)

	// Milestones
	protected.Get("/projects/:id/milestones/:index", projectHandler.GetMilestone)
	protected.Post("/projects/:id/milestones/:index/submit", projectHandler.SubmitMilestone)
	protected.Post("/projects/:id/milestones/:index/approve", projectHandler.ApproveMilestone)
	protected.Post("/projects/:id/milestones/:index/reject", projectHandler.RejectMilestone)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
