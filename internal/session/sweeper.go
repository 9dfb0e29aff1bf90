package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/nrudakov/tellerbot/internal/store"
)

const sweepInterval = 5 * time.Minute

// CleanupCallback is invoked for each evicted session, e.g. to close an
// attached websocket.
type CleanupCallback func(userID, sessionID string)

// StartSweeper runs a background goroutine that periodically evicts idle
// live conversations and prunes expired snapshots from the store.
func StartSweeper(ctx context.Context, mgr *Manager, repo store.Repository, ttl time.Duration, onEvict CleanupCallback) {
	ticker := time.NewTicker(sweepInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", sweepInterval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, mgr, repo, ttl, onEvict)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(ctx context.Context, mgr *Manager, repo store.Repository, ttl time.Duration, onEvict CleanupCallback) {
	evicted := mgr.EvictIdle(ttl)
	for _, pair := range evicted {
		if onEvict != nil {
			onEvict(pair[0], pair[1])
		}
	}
	if len(evicted) > 0 {
		slog.Info("Session sweeper evicted idle conversations", "count", len(evicted))
	}

	deleted, err := repo.CleanupExpiredConversations(ctx, ttl)
	if err != nil {
		slog.Error("Session sweeper failed to cleanup conversations", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Session sweeper pruned expired snapshots", "count", deleted)
	}
}
