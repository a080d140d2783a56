package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/safar/go-auction-engine/internal/auction"
	"github.com/safar/go-auction-engine/internal/config"
)

// Sweeper is the part of the engine the lifecycle jobs drive.
type Sweeper interface {
	CloseExpiredAuctions(ctx context.Context, limit int) (auction.SweepResult, error)
	ExpireOverduePayments(ctx context.Context, limit int) (auction.SweepResult, error)
	CleanupStalePaymentIntents(ctx context.Context, ttl time.Duration, limit int) (int64, error)
}

type Relayer interface {
	Relay(ctx context.Context, grace time.Duration, limit int) (int, error)
}

// AuctionJobs returns the close, expire, cleanup and outbox relay jobs.
func AuctionJobs(sweeper Sweeper, relayer Relayer, cfg config.SchedulerConfig) []Job {
	jobs := []Job{
		{
			Name:     "close-auctions",
			Interval: cfg.CloseInterval,
			Run: func(ctx context.Context) error {
				return batch(ctx, "close-auctions", cfg.BatchSize, sweeper.CloseExpiredAuctions)
			},
		},
		{
			Name:     "expire-payments",
			Interval: cfg.ExpireInterval,
			Run: func(ctx context.Context) error {
				return batch(ctx, "expire-payments", cfg.BatchSize, sweeper.ExpireOverduePayments)
			},
		},
		{
			Name:     "cleanup-pending-payments",
			Interval: cfg.CleanupInterval,
			Run: func(ctx context.Context) error {
				n, err := sweeper.CleanupStalePaymentIntents(ctx, cfg.PendingTTL, cfg.BatchSize)
				if err != nil {
					return err
				}
				if n > 0 {
					log.Printf("[scheduler] cleanup-pending-payments: removed %d stale intents", n)
				}
				return nil
			},
		},
	}

	if relayer != nil {
		jobs = append(jobs, Job{
			Name:     "relay-outbox",
			Interval: cfg.RelayInterval,
			Run: func(ctx context.Context) error {
				n, err := relayer.Relay(ctx, cfg.RelayGrace, cfg.BatchSize)
				if err != nil {
					return err
				}
				if n > 0 {
					log.Printf("[scheduler] relay-outbox: redelivered %d events", n)
				}
				return nil
			},
		})
	}

	return jobs
}

// batch runs one bounded sweep. Whatever is left over waits for the next tick.
func batch(ctx context.Context, name string, limit int, sweep func(context.Context, int) (auction.SweepResult, error)) error {
	res, err := sweep(ctx, limit)
	if res.Selected > 0 {
		log.Printf("[scheduler] %s: selected=%d transitioned=%d skipped=%d",
			name, res.Selected, res.Transitioned, res.Skipped)
	}
	return err
}
