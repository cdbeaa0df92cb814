package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// DefaultSweepLimit caps one reconciliation pass when no limit is given.
const DefaultSweepLimit = 100

// SweepResult summarizes one reconciliation pass.
type SweepResult struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}

// CleanupResult summarizes one retention pass.
type CleanupResult struct {
	Expired int `json:"expired"`
	OldRead int `json:"old_read"`
}

// Sweeper re-drives push delivery for notifications that could not be
// pushed at creation time: the recipient had no token then, a prior attempt
// failed transiently, or the row was scheduled for later.
//
// The sweep is externally triggered (timer or operator endpoint) and
// non-transactional: a crash mid-run leaves already-updated rows finalized
// and untouched rows eligible for the next pass. A single-flight guard
// prevents overlapping sweeps within one process. Across processes a
// duplicate send on the same row is an accepted, bounded degradation - the
// final UpdatePushStatus write is idempotent and is the single source of
// truth - which is cheaper than distributed locking for an at-least-once
// channel.
type Sweeper struct {
	storage Storage
	tokens  TokenStore
	gateway PushSender
	logger  *slog.Logger
	running atomic.Bool
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweeperTokenStore enables clearing of provider-rejected tokens.
func WithSweeperTokenStore(tokens TokenStore) SweeperOption {
	return func(s *Sweeper) { s.tokens = tokens }
}

// WithSweeperLogger sets the logger for the Sweeper.
func WithSweeperLogger(logger *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSweeper creates a reconciliation sweeper over the given storage and
// gateway.
func NewSweeper(storage Storage, gateway PushSender, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		storage: storage,
		gateway: gateway,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Run executes one reconciliation pass over at most limit rows, most urgent
// then oldest first. Returns ErrSweepInProgress if another pass is running
// in this process.
func (s *Sweeper) Run(ctx context.Context, limit int) (SweepResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return SweepResult{}, ErrSweepInProgress
	}
	defer s.running.Store(false)

	if limit <= 0 {
		limit = DefaultSweepLimit
	}

	start := time.Now()
	var res SweepResult

	rows, err := s.storage.SelectPendingPush(ctx, limit)
	if err != nil {
		return res, fmt.Errorf("select pending push: %w", err)
	}

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			// Partial pass: finalized rows stay finalized, the rest are
			// picked up by the next run.
			return res, err
		}

		n := row.Notification
		out := s.gateway.Send(ctx, row.DeviceToken, n.PushMessage())

		var sendErr string
		if out.Err != nil {
			sendErr = out.Err.Error()
		}
		if err := s.storage.UpdatePushStatus(ctx, n.ID, out.Success, sendErr); err != nil {
			s.logger.LogAttrs(ctx, slog.LevelWarn, "failed to record sweep push outcome",
				logger.NotificationID(n.ID),
				logger.Error(err),
			)
		}

		res.Processed++
		if out.Success {
			res.Sent++
		} else {
			res.Failed++
			if out.InvalidToken && s.tokens != nil {
				// Clear now so the next sweep does not reselect the row
				// against a token the provider already declared dead.
				if err := s.tokens.ClearDeviceToken(ctx, n.RecipientID, row.DeviceToken); err != nil {
					s.logger.LogAttrs(ctx, slog.LevelWarn, "failed to clear invalid device token",
						logger.UserID(n.RecipientID),
						logger.Error(err),
					)
				}
			}
		}
	}

	s.logger.LogAttrs(ctx, slog.LevelInfo, "pending push sweep finished",
		slog.Int("processed", res.Processed),
		slog.Int("sent", res.Sent),
		slog.Int("failed", res.Failed),
		logger.Duration(time.Since(start)),
	)

	return res, nil
}

// Cleanup hard-deletes rows nobody can see anymore: expired rows, and read
// rows older than the retention window. This is the only path that removes
// dismissed rows.
func (s *Sweeper) Cleanup(ctx context.Context, readRetention time.Duration) (CleanupResult, error) {
	var res CleanupResult

	expired, err := s.storage.DeleteExpired(ctx)
	if err != nil {
		return res, fmt.Errorf("delete expired notifications: %w", err)
	}
	res.Expired = expired

	oldRead, err := s.storage.DeleteOldRead(ctx, readRetention)
	if err != nil {
		return res, fmt.Errorf("delete old read notifications: %w", err)
	}
	res.OldRead = oldRead

	s.logger.LogAttrs(ctx, slog.LevelInfo, "notification retention pass finished",
		slog.Int("expired", res.Expired),
		slog.Int("old_read", res.OldRead),
	)

	return res, nil
}
