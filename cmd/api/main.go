package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fairlance/backend/internal/config"
	"github.com/fairlance/backend/internal/db"
	"github.com/fairlance/backend/internal/deliverable"
	"github.com/fairlance/backend/internal/escrow"
	"github.com/fairlance/backend/internal/events"
	apphttp "github.com/fairlance/backend/internal/http"
	"github.com/fairlance/backend/internal/http/handlers"
	"github.com/fairlance/backend/internal/metrics"
	"github.com/fairlance/backend/internal/repositories"
	"github.com/fairlance/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	userRepo := repositories.NewUserRepo(pool)
	projectRepo := repositories.NewProjectRepo(pool)
	payoutRepo := repositories.NewPayoutRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Engine
	engineCfg := escrow.Config{
		PlatformFeeBps:    uint32(cfg.PlatformFeeBPS),
		AllowResubmission: cfg.AllowResubmission,
	}
	if cfg.ArbiterUserID != "" {
		arbiter, err := uuid.Parse(cfg.ArbiterUserID)
		if err != nil {
			log.Fatal("invalid ARBITER_USER_ID", zap.String("value", cfg.ArbiterUserID), zap.Error(err))
		}
		engineCfg.Arbiter = arbiter
	}
	engine := escrow.NewEngine(engineCfg)

	// Services
	intents := services.NewIntentStore(rdb, cfg.IntentTTL)
	probe := deliverable.NewProbe(cfg.ProbeTimeoutMS, cfg.ProbeMaxRetries, log)
	projectService := services.NewProjectService(engine, projectRepo, userRepo, payoutRepo, auditRepo, intents, probe, publisher, cfg, log)
	userService := services.NewUserService(userRepo, auditRepo, cfg, log)

	// The engine is authoritative; seed it from the mirror before serving.
	if err := projectService.Restore(ctx); err != nil {
		log.Fatal("failed to restore engine state", zap.Error(err))
	}

	// Deposits observed by the indexer
	depositQueue := events.NewDepositQueue(rdb)
	go consumeDeposits(ctx, depositQueue, projectService, log)

	// Handlers
	authHandler := handlers.NewAuthHandler(userService, log)
	userHandler := handlers.NewUserHandler(userService, log)
	projectHandler := handlers.NewProjectHandler(projectService, cfg, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Prometheus
	metrics.Serve(fmt.Sprintf(":%s", cfg.MetricsPort), log)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, authHandler, userHandler, projectHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

// consumeDeposits blocks on the deposit queue and feeds observed transfers
// into the project service, which matches them to funding intents.
func consumeDeposits(ctx context.Context, queue *events.DepositQueue, projectService *services.ProjectService, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		dep, err := queue.Pop(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("deposit queue pop failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if dep == nil {
			continue
		}

		if err := projectService.ConfirmDeposit(ctx, *dep); err != nil {
			log.Error("deposit confirmation failed",
				zap.String("memo", dep.Memo),
				zap.String("tx_hash", dep.TxHash),
				zap.Error(err),
			)
		}
	}
}
