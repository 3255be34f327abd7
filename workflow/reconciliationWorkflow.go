package workflow

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/bsm/redislock"
	"github.com/padaukcraft/beads_backend/config"
	"github.com/padaukcraft/beads_backend/models"
	"github.com/sirupsen/logrus"
)

func reconcileInterval() time.Duration {
	if v := os.Getenv("RECONCILE_INTERVAL_MINUTES"); v != "" {
		if minutes, err := strconv.Atoi(v); err == nil && minutes > 0 {
			return time.Duration(minutes) * time.Minute
		}
	}
	return time.Hour
}

// RunScheduledReconciliation sweeps all materials on a timer. The redis lock
// keeps the sweep single-flight across instances; losing the lock just means
// another instance is already doing the work this round.
func RunScheduledReconciliation(ctx context.Context, logger *logrus.Logger) {
	interval := reconcileInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		runReconcileOnce(ctx, logger, interval)
	}
}

func runReconcileOnce(ctx context.Context, logger *logrus.Logger, interval time.Duration) {
	locker := config.GetRedisLock()
	if locker != nil {
		lock, err := locker.Obtain(ctx, "reconcile:sweep", interval/2, nil)
		if err != nil {
			if !errors.Is(err, redislock.ErrNotObtained) {
				config.LogError(logger, "reconciliationWorkflow.go", "runReconcileOnce", "obtain sweep lock", nil, err)
			}
			return
		}
		defer lock.Release(ctx)
	}

	if _, err := models.ReconcileAll(ctx); err != nil {
		config.LogError(logger, "reconciliationWorkflow.go", "runReconcileOnce", "reconcile all", nil, err)
	}
}
