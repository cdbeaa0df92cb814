package notify

import (
	"context"
	"time"
)

// Storage handles notification persistence and retrieval.
//
// Any operation failing at the storage layer is fatal for that call and is
// surfaced to the caller: without a persisted row there is nothing the
// delivery channels could retry against.
type Storage interface {
	// Insert stores a new notification.
	Insert(ctx context.Context, n Notification) error

	// InsertMany stores a batch of notifications and returns how many
	// rows were persisted.
	InsertMany(ctx context.Context, ns []Notification) (int, error)

	// Get retrieves a notification by id.
	Get(ctx context.Context, id string) (*Notification, error)

	// GetForUser retrieves a notification by id, returning ErrNotFound
	// when the row exists but belongs to another user.
	GetForUser(ctx context.Context, id, userID string) (*Notification, error)

	// List returns a page of visible notifications for a user plus the
	// total count of rows matching the filters. Dismissed and expired
	// rows are always excluded.
	List(ctx context.Context, userID string, opts ListOptions) ([]Notification, int, error)

	// MarkRead marks a notification as read. Idempotent: marking an
	// already-read row succeeds without change.
	MarkRead(ctx context.Context, id string) error

	// MarkAllRead marks every visible unread notification of the user as
	// read and returns the number of rows changed.
	MarkAllRead(ctx context.Context, userID string) (int, error)

	// Dismiss soft-deletes a notification. Irreversible except by hard
	// delete or retention.
	Dismiss(ctx context.Context, id string) error

	// Delete removes a notification permanently.
	Delete(ctx context.Context, id string) error

	// CountUnread returns the number of visible unread rows for the user.
	CountUnread(ctx context.Context, userID string) (int, error)

	// CountUnreadByCategory returns visible unread counts per category.
	CountUnreadByCategory(ctx context.Context, userID string) (map[Category]int, error)

	// UpdatePushStatus overwrites the push outcome tri-state of the row.
	// On success the error is cleared; on failure the sent timestamp is.
	UpdatePushStatus(ctx context.Context, id string, success bool, sendErr string) error

	// SelectPendingPush returns up to limit push-eligible rows joined with
	// their recipients' device tokens, most urgent then oldest first.
	// Rows whose recipient has no non-empty token are not selected at all.
	SelectPendingPush(ctx context.Context, limit int) ([]PendingPush, error)

	// DeleteExpired hard-deletes expired rows and returns the count.
	DeleteExpired(ctx context.Context) (int, error)

	// DeleteOldRead hard-deletes rows read longer than olderThan ago and
	// returns the count.
	DeleteOldRead(ctx context.Context, olderThan time.Duration) (int, error)
}

// ListOptions provides filtering, pagination and sorting for List.
type ListOptions struct {
	Category   Category // empty = all categories
	Type       Type     // empty = all types
	OnlyUnread bool
	Page       int    // 1-based; values < 1 are treated as 1
	Limit      int    // 0 = DefaultListLimit
	SortBy     string // restricted to SortableColumns, default "created_at"
	SortOrder  string // "asc" or "desc", default "desc"
}

// DefaultListLimit caps a listing page when no limit is given.
const DefaultListLimit = 20

// SortableColumns is the allow-list for ListOptions.SortBy. Anything else
// silently falls back to created_at to keep the sort column uninjectable.
var SortableColumns = map[string]struct{}{
	"created_at": {},
	"updated_at": {},
	"priority":   {},
	"read_at":    {},
}

// Normalize applies defaults and the sort allow-list. Storage adapters
// must call it before interpolating SortBy into a query.
func (o ListOptions) Normalize() ListOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if _, ok := SortableColumns[o.SortBy]; !ok {
		o.SortBy = "created_at"
	}
	if o.SortOrder != "asc" {
		o.SortOrder = "desc"
	}
	return o
}

// PendingPush is a push-eligible notification joined with the recipient's
// device token as it was at selection time.
type PendingPush struct {
	Notification Notification
	DeviceToken  string
}

// TokenPair captures a user's device token at the moment of a send, so a
// later conditional clear cannot wipe a token a concurrent login installed.
type TokenPair struct {
	UserID string
	Token  string
}

// TokenStore reads and conditionally clears device tokens owned by the
// recipient's account aggregate. The token is a single nullable credential
// per user, not an entity of this subsystem.
type TokenStore interface {
	// DeviceToken returns the user's current token, empty if none is set.
	DeviceToken(ctx context.Context, userID string) (string, error)

	// DeviceTokens returns the current non-empty tokens for the given
	// users in one query; users without a token are absent from the map.
	DeviceTokens(ctx context.Context, userIDs []string) (map[string]string, error)

	// ClearDeviceToken clears the stored token only if it still equals
	// token at the time of the write.
	ClearDeviceToken(ctx context.Context, userID, token string) error

	// ClearDeviceTokens applies the same conditional clear per pair in
	// one batched operation.
	ClearDeviceTokens(ctx context.Context, pairs []TokenPair) error
}
