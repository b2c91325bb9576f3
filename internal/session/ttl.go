package session

import (
	"context"
	"log/slog"
	"time"
)

// Purger deletes stale resume records. *store.SQLiteStore implements it.
type Purger interface {
	PurgeStaleResumes(ctx context.Context, maxAge time.Duration) (int64, error)
}

// TTLConfig controls the idle-session sweep.
type TTLConfig struct {
	Interval     time.Duration
	IdleTTL      time.Duration
	ResumeMaxAge time.Duration
}

// StartTTLWorker runs a background goroutine that periodically evicts idle
// sessions and purges stale resume records. purger may be nil.
func StartTTLWorker(ctx context.Context, reg *Registry, purger Purger, cfg TTLConfig) {
	ticker := time.NewTicker(cfg.Interval)
	go func() {
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", cfg.Interval, "ttl", cfg.IdleTTL)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, reg, purger, cfg)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(ctx context.Context, reg *Registry, purger Purger, cfg TTLConfig) {
	if evicted := reg.EvictIdle(cfg.IdleTTL); len(evicted) > 0 {
		slog.Info("TTL worker evicted idle sessions", "count", len(evicted), "remaining", reg.Len())
		for _, id := range evicted {
			slog.Debug("TTL worker closed session", "session_id", id)
		}
	}

	if purger == nil {
		return
	}
	if deleted, err := purger.PurgeStaleResumes(ctx, cfg.ResumeMaxAge); err != nil {
		slog.Error("TTL worker failed to purge stale resume records", "error", err)
	} else if deleted > 0 {
		slog.Info("TTL worker purged stale resume records", "count", deleted)
	}
}
