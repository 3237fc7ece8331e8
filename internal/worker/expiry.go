package worker

import (
	"context"
	"time"

	"raffle-service/internal/util"

	"go.uber.org/zap"
)

const expiryLockKey = "expiry-sweep"

// Expirer expires overdue PENDING orders
type Expirer interface {
	ExpireOverdue(ctx context.Context, limit int) (int, error)
}

// Locker is a distributed lock shared by all replicas
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// ExpiryWorker periodically expires overdue orders. Only the replica holding
// the sweep lock runs a given tick.
type ExpiryWorker struct {
	expirer   Expirer
	locker    Locker
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
}

// NewExpiryWorker creates a new expiry worker. locker may be nil for a
// single replica.
func NewExpiryWorker(expirer Expirer, locker Locker, interval time.Duration, batchSize int) *ExpiryWorker {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ExpiryWorker{
		expirer:   expirer,
		locker:    locker,
		interval:  interval,
		batchSize: batchSize,
		logger:    util.GetLogger(),
	}
}

// Start runs sweeps until ctx is cancelled
func (w *ExpiryWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting expiry worker", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping expiry worker")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil {
				w.logger.Error("Expiry sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep expires overdue orders in batches until none remain. It returns the
// number of orders expired, or zero when another replica holds the lock.
func (w *ExpiryWorker) Sweep(ctx context.Context) (int, error) {
	if w.locker != nil {
		token, ok, err := w.locker.AcquireLock(ctx, expiryLockKey, w.interval)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, nil
		}
		defer func() {
			if err := w.locker.ReleaseLock(context.Background(), expiryLockKey, token); err != nil {
				w.logger.Warn("Failed to release expiry lock", zap.Error(err))
			}
		}()
	}

	total := 0
	for {
		n, err := w.expirer.ExpireOverdue(ctx, w.batchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n < w.batchSize {
			break
		}
	}
	if total > 0 {
		w.logger.Info("Expired overdue orders", zap.Int("count", total))
	}
	return total, nil
}
