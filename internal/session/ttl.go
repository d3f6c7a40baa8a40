package session

import (
	"context"
	"log/slog"
	"time"
)

const ttlWorkerInterval = 5 * time.Minute

// CleanupCallback is called for every session removed by the TTL worker.
type CleanupCallback func(key Key)

// StartTTLWorker runs a background goroutine that periodically removes
// conversations idle for longer than the configured TTL. It is a no-op when
// the TTL is not positive.
func (m *Manager) StartTTLWorker(ctx context.Context, interval time.Duration, onCleanup CleanupCallback) {
	if m.cfg.TTL <= 0 {
		return
	}
	if interval <= 0 {
		interval = ttlWorkerInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", interval, "ttl", m.cfg.TTL)

		for {
			select {
			case <-ticker.C:
				m.SweepExpired(ctx, onCleanup)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// SweepExpired removes idle conversations from the cache and the repository
// and returns how many rows were deleted.
func (m *Manager) SweepExpired(ctx context.Context, onCleanup CleanupCallback) int64 {
	expired, err := m.repo.ExpiredConversations(ctx, m.cfg.TTL)
	if err != nil {
		m.logger.Error("TTL worker failed to list expired conversations", "error", err)
		return 0
	}
	if len(expired) == 0 {
		return 0
	}

	m.logger.Info("TTL worker found expired conversations", "count", len(expired))
	for _, conv := range expired {
		key := Key{UserID: conv.UserID, SessionID: conv.SessionID}
		m.Evict(key)
		if onCleanup != nil {
			onCleanup(key)
		}
	}

	deleted, err := m.repo.CleanupExpiredConversations(ctx, m.cfg.TTL)
	if err != nil {
		m.logger.Error("TTL worker failed to delete expired conversations", "error", err)
		return 0
	}
	m.logger.Info("TTL worker cleanup completed", "deleted", deleted)
	return deleted
}
