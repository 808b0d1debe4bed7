package cleanup

import (
	"context"
	"time"

	"vendingmachine/internal/logger"
)

const (
	cleanupHour       = 2   // 2 AM
	maxDeletionPerRun = 500 // Maximum entries to delete per run
	pruneTimeout      = time.Minute
)

// Pruner deletes journal entries recorded before a cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// StartCleanupRoutine prunes entries older than retention once a day until
// ctx is cancelled. The returned channel closes when the routine exits.
func StartCleanupRoutine(ctx context.Context, pruner Pruner, retention time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.LogInfo("Cleanup routine started - will run daily at %d:00 AM", cleanupHour)

		for {
			nextRun := NextRun(time.Now(), cleanupHour)
			sleepDuration := time.Until(nextRun)
			logger.LogInfo("Next cleanup scheduled for %v (in %v)", nextRun.Format("2006-01-02 15:04:05"), sleepDuration)

			timer := time.NewTimer(sleepDuration)
			select {
			case <-ctx.Done():
				timer.Stop()
				logger.LogInfo("Cleanup routine stopped")
				return
			case <-timer.C:
			}

			RunCleanup(ctx, pruner, retention, time.Now())
		}
	}()
	return done
}

// NextRun returns the next time at hour o'clock strictly after now.
func NextRun(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// RunCleanup deletes entries older than retention in batches of
// maxDeletionPerRun and returns how many were removed.
func RunCleanup(ctx context.Context, pruner Pruner, retention time.Duration, now time.Time) int {
	logger.LogInfo("Starting daily cleanup of old journal entries")

	cutoffTime := now.Add(-retention)
	logger.LogInfo("Cleaning entries older than %v (before %v)",
		retention, cutoffTime.Format("2006-01-02 15:04:05"))

	totalCleaned := 0
	for {
		pruneCtx, cancel := context.WithTimeout(ctx, pruneTimeout)
		cleaned, err := pruner.Prune(pruneCtx, cutoffTime, maxDeletionPerRun)
		cancel()
		if err != nil {
			logger.LogError("Failed to cleanup journal entries: %v", err)
			break
		}
		totalCleaned += cleaned
		if cleaned < maxDeletionPerRun || ctx.Err() != nil {
			break
		}
	}

	if totalCleaned == 0 {
		logger.LogInfo("Cleanup completed - no old entries found")
	} else {
		logger.LogInfo("Cleanup completed - total %d journal entries removed", totalCleaned)
	}
	return totalCleaned
}
