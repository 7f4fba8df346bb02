package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RunRefreshLoop refreshes the credential on a fixed cadence until ctx is
// cancelled. It runs for the life of the process, independent of request
// traffic, so under normal operation no consumer ever observes a token past
// its expiry.
//
// The loop deliberately has no backoff: a transient failure is retried by the
// next scheduled tick. A rejected refresh token is logged prominently and the
// loop keeps its cadence; re-authentication is left to the next Token caller,
// since the interactive flow must never fire from a background task.
func (m *Manager) RunRefreshLoop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	slog.InfoContext(ctx, "starting credential refresh loop",
		"interval", interval, "audience", m.audience)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "credential refresh loop stopped")
			return nil
		case <-ticker.C:
			err := m.refreshNow(ctx)
			switch {
			case err == nil:
				slog.DebugContext(ctx, "scheduled credential refresh succeeded",
					"audience", m.audience)
			case errors.Is(err, ErrRefreshRejected), errors.Is(err, ErrInteractionRequired):
				slog.ErrorContext(ctx, "credential requires re-authentication, run 'airvane login'",
					"error", err, "audience", m.audience)
			default:
				slog.WarnContext(ctx, "scheduled credential refresh failed, retrying on next tick",
					"error", err, "audience", m.audience)
			}
		}
	}
}
