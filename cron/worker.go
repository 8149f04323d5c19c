package cron

import (
	"context"
	"fmt"
	"time"

	"appointqix/config"
	"appointqix/services/scheduling"
	"appointqix/utils"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Waitlist maintenance task types.
const (
	TypeExpireOffers = "waitlist:expire_offers"
	TypePruneStale   = "waitlist:prune_stale"
)

// InitWaitlistWorker starts the background worker and its periodic schedule.
// Offer expiry is driven entirely by these ticks, never by in-process timers,
// so a restart only delays a sweep instead of losing it. Both sweeps are
// idempotent; overlapping or repeated runs are harmless.
func InitWaitlistWorker(manager scheduling.WaitlistManager) {
	logger := utils.GetLogger()
	redisOpts := asynq.RedisClientOpt{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisQueueDB,
	}

	srv := asynq.NewServer(
		redisOpts,
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeExpireOffers, handleExpireOffers(manager))
	mux.HandleFunc(TypePruneStale, handlePruneStale(manager))

	go func() {
		logger.Info("starting waitlist worker")
		const maxAttempts = 5
		for attempts := 1; attempts <= maxAttempts; attempts++ {
			if err := srv.Run(mux); err != nil {
				logger.Error("waitlist worker failed to start",
					zap.Int("attempt", attempts), zap.Error(err))
				if attempts == maxAttempts {
					logger.Fatal("waitlist worker exhausted start attempts")
				}
				time.Sleep(time.Duration(attempts*2) * time.Second)
			} else {
				break
			}
		}
	}()

	go runScheduler(redisOpts, logger)
}

// runScheduler enqueues the periodic sweep tasks.
func runScheduler(redisOpts asynq.RedisClientOpt, logger *zap.Logger) {
	scheduler := asynq.NewScheduler(redisOpts, &asynq.SchedulerOpts{
		Location: time.UTC,
	})

	every := config.AppConfig.ExpireSweepEverySec
	if every <= 0 {
		every = 60
	}
	spec := fmt.Sprintf("@every %ds", every)

	if _, err := scheduler.Register(spec, asynq.NewTask(TypeExpireOffers, nil)); err != nil {
		logger.Fatal("registering offer-expiry schedule", zap.Error(err))
	}
	// Pruning can run far less often; lapsed desired ranges don't pile up fast.
	if _, err := scheduler.Register("@every 1h", asynq.NewTask(TypePruneStale, nil)); err != nil {
		logger.Fatal("registering waitlist-prune schedule", zap.Error(err))
	}

	if err := scheduler.Run(); err != nil {
		logger.Error("waitlist scheduler stopped", zap.Error(err))
	}
}

func handleExpireOffers(manager scheduling.WaitlistManager) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		n, err := manager.ExpireOffers(ctx)
		if err != nil {
			utils.GetLogger().Error("offer-expiry sweep failed", zap.Error(err))
			return err
		}
		if n > 0 {
			utils.GetLogger().Info("offer-expiry sweep done", zap.Int("expired", n))
		}
		return nil
	}
}

func handlePruneStale(manager scheduling.WaitlistManager) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		n, err := manager.PruneStale(ctx)
		if err != nil {
			utils.GetLogger().Error("waitlist prune sweep failed", zap.Error(err))
			return err
		}
		if n > 0 {
			utils.GetLogger().Info("waitlist prune sweep done", zap.Int("pruned", n))
		}
		return nil
	}
}
