package store

import (
	"context"
	"log/slog"
	"time"
)

// StartRetentionWorker runs a background goroutine that periodically deletes chat
// states idle longer than maxIdle. It stops when ctx is canceled.
func StartRetentionWorker(ctx context.Context, repo Repository, maxIdle, interval time.Duration) {
	if maxIdle <= 0 || interval <= 0 {
		slog.Info("Retention worker disabled", "max_idle", maxIdle, "interval", interval)
		return
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", interval, "max_idle", maxIdle)

		for {
			select {
			case <-ticker.C:
				SweepChatStates(ctx, repo, maxIdle)
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// SweepChatStates performs one retention pass and returns how many states were removed.
func SweepChatStates(ctx context.Context, repo Repository, maxIdle time.Duration) int64 {
	deleted, err := repo.CleanupStaleChatStates(ctx, maxIdle)
	if err != nil {
		slog.Error("Retention worker failed to cleanup chat states", "error", err)
		return 0
	}
	if deleted > 0 {
		slog.Info("Retention worker removed stale chat states", "count", deleted)
	}
	return deleted
}
