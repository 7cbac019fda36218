package app

import (
	"context"
	"log"
	"time"

	"github.com/vaultpay/wallet-service/internal/store"
)

// IdempotencyReaper periodically fails idempotency keys stuck in PENDING,
// which unblocks clients retrying after a crash mid-operation left a key
// claimed but never finalized.
type IdempotencyReaper struct {
	repo     store.Repository
	metrics  *Metrics
	interval time.Duration
	ttl      time.Duration
}

func NewIdempotencyReaper(repo store.Repository, metrics *Metrics, interval, ttl time.Duration) *IdempotencyReaper {
	return &IdempotencyReaper{
		repo:     repo,
		metrics:  metrics,
		interval: interval,
		ttl:      ttl,
	}
}

// Run blocks until ctx is cancelled, sweeping on every tick.
func (rp *IdempotencyReaper) Run(ctx context.Context) {
	ticker := time.NewTicker(rp.interval)
	defer ticker.Stop()

	log.Printf("level=info component=idempotency_reaper msg=\"started\" interval=%s ttl=%s", rp.interval, rp.ttl)
	for {
		select {
		case <-ctx.Done():
			log.Printf("level=info component=idempotency_reaper msg=\"stopped\"")
			return
		case <-ticker.C:
			rp.sweep(ctx)
		}
	}
}

func (rp *IdempotencyReaper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-rp.ttl)
	reaped, err := rp.repo.ReapStaleIdempotencyKeys(ctx, cutoff)
	rp.metrics.ObserveReaperRun(reaped, err)
	if err != nil {
		log.Printf("level=error component=idempotency_reaper msg=\"sweep failed\" err=%v", err)
		return
	}
	if reaped > 0 {
		log.Printf("level=info component=idempotency_reaper msg=\"stale keys failed\" count=%d cutoff=%s", reaped, cutoff.UTC().Format(time.RFC3339))
	}
}
