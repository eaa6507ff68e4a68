package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fairlance/backend/internal/config"
	"github.com/fairlance/backend/internal/db"
	"github.com/fairlance/backend/internal/events"
	"github.com/fairlance/backend/internal/rail"
	"github.com/fairlance/backend/internal/repositories"
	"github.com/fairlance/backend/internal/services"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repos
	userRepo := repositories.NewUserRepo(pool)
	projectRepo := repositories.NewProjectRepo(pool)
	payoutRepo := repositories.NewPayoutRepo(pool)

	// Payment rail
	var r rail.Rail
	if cfg.RailEnabled {
		tonRail, err := rail.NewTONRail(ctx, cfg, log)
		if err != nil {
			log.Fatal("failed to initialise TON rail", zap.Error(err))
		}
		r = tonRail
	} else {
		log.Warn("payment rail disabled, transfers are logged only")
		r = rail.NewDevRail(log)
	}

	// Services
	publisher := events.NewRedisPublisher(rdb, log)
	payoutService := services.NewPayoutService(payoutRepo, userRepo, r, publisher, cfg, log)
	deadlineService := services.NewDeadlineService(projectRepo, publisher, cfg, log)

	log.Info("worker started",
		zap.Duration("payout_interval", cfg.PayoutInterval),
		zap.Duration("deadline_interval", cfg.DeadlineInterval),
	)

	// Run jobs on tickers
	payoutTicker := time.NewTicker(cfg.PayoutInterval)
	deadlineTicker := time.NewTicker(cfg.DeadlineInterval)
	defer payoutTicker.Stop()
	defer deadlineTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-payoutTicker.C:
			if err := payoutService.ProcessPending(ctx); err != nil {
				log.Error("payout cycle failed", zap.Error(err))
			}
		case <-deadlineTicker.C:
			if err := deadlineService.CheckDeadlines(ctx); err != nil {
				log.Error("deadline cycle failed", zap.Error(err))
			}
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}
