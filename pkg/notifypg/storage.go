package notifypg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/notifykit/pkg/notify"
)

// priorityWeight orders the textual priority column numerically.
const priorityWeight = "CASE priority WHEN 'high' THEN 2 WHEN 'low' THEN 0 ELSE 1 END"

// notificationColumns is the canonical select list; scanNotification must
// stay aligned with it.
const notificationColumns = `id, recipient_id, title, body, summary, type, category,
	entity_type, entity_id, action_url, action_type, image_url, icon,
	priority, sender_id, data, is_read, read_at, is_dismissed, dismissed_at,
	is_push_sent, push_sent_at, push_error, scheduled_at, expires_at,
	created_at, updated_at`

// visibleRows is the visibility predicate shared by listing and unread
// counts: dismissed and expired rows never count.
const visibleRows = "NOT is_dismissed AND (expires_at IS NULL OR expires_at > now())"

// Storage implements notify.Storage on PostgreSQL.
type Storage struct {
	pool          *pgxpool.Pool
	accountsTable string
}

// StorageOption configures a Storage.
type StorageOption func(*Storage)

// WithAccountsTable overrides the table device tokens are joined from,
// default "accounts".
func WithAccountsTable(name string) StorageOption {
	return func(s *Storage) {
		if name != "" {
			s.accountsTable = name
		}
	}
}

// NewStorage creates a PostgreSQL-backed notification storage.
func NewStorage(pool *pgxpool.Pool, opts ...StorageOption) *Storage {
	s := &Storage{
		pool:          pool,
		accountsTable: "accounts",
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Storage) Insert(ctx context.Context, n notify.Notification) error {
	const q = `INSERT INTO notifications (` + notificationColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)`

	_, err := s.pool.Exec(ctx, q, insertArgs(n)...)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *Storage) InsertMany(ctx context.Context, ns []notify.Notification) (int, error) {
	if len(ns) == 0 {
		return 0, nil
	}

	rows := make([][]any, len(ns))
	for i, n := range ns {
		rows[i] = insertArgs(n)
	}

	copied, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"notifications"},
		notificationColumnNames(),
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return int(copied), fmt.Errorf("insert notifications: %w", err)
	}
	return int(copied), nil
}

func insertArgs(n notify.Notification) []any {
	return []any{
		n.ID, n.RecipientID, n.Title, n.Body, n.Summary, string(n.Type), string(n.Category),
		n.EntityType, n.EntityID, n.ActionURL, n.ActionType, n.ImageURL, n.Icon,
		string(n.Priority), n.SenderID, n.Data, n.IsRead, n.ReadAt, n.IsDismissed, n.DismissedAt,
		n.IsPushSent, n.PushSentAt, n.PushError, n.ScheduledAt, n.ExpiresAt,
		n.CreatedAt, n.UpdatedAt,
	}
}

func notificationColumnNames() []string {
	cols := strings.Split(notificationColumns, ",")
	for i := range cols {
		cols[i] = strings.TrimSpace(cols[i])
	}
	return cols
}

func scanNotification(row pgx.Row) (*notify.Notification, error) {
	var n notify.Notification
	err := row.Scan(
		&n.ID, &n.RecipientID, &n.Title, &n.Body, &n.Summary, &n.Type, &n.Category,
		&n.EntityType, &n.EntityID, &n.ActionURL, &n.ActionType, &n.ImageURL, &n.Icon,
		&n.Priority, &n.SenderID, &n.Data, &n.IsRead, &n.ReadAt, &n.IsDismissed, &n.DismissedAt,
		&n.IsPushSent, &n.PushSentAt, &n.PushError, &n.ScheduledAt, &n.ExpiresAt,
		&n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notify.ErrNotFound
		}
		return nil, fmt.Errorf("scan notification: %w", err)
	}
	return &n, nil
}

func (s *Storage) Get(ctx context.Context, id string) (*notify.Notification, error) {
	const q = `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`
	return scanNotification(s.pool.QueryRow(ctx, q, id))
}

func (s *Storage) GetForUser(ctx context.Context, id, userID string) (*notify.Notification, error) {
	const q = `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1 AND recipient_id = $2`
	return scanNotification(s.pool.QueryRow(ctx, q, id, userID))
}

func (s *Storage) List(ctx context.Context, userID string, opts notify.ListOptions) ([]notify.Notification, int, error) {
	opts = opts.Normalize()

	where := []string{"recipient_id = $1", visibleRows}
	args := []any{userID}

	if opts.Category != "" {
		args = append(args, string(opts.Category))
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if opts.Type != "" {
		args = append(args, string(opts.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if opts.OnlyUnread {
		where = append(where, "NOT is_read")
	}

	cond := strings.Join(where, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM notifications WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	// SortBy passed the allow-list in NormalizeListOptions; priority sorts
	// by weight, not lexicographically.
	orderCol := opts.SortBy
	if orderCol == "priority" {
		orderCol = priorityWeight
	}
	order := fmt.Sprintf("%s %s, created_at DESC", orderCol, strings.ToUpper(opts.SortOrder))

	args = append(args, opts.Limit, (opts.Page-1)*opts.Limit)
	q := fmt.Sprintf("SELECT %s FROM notifications WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d",
		notificationColumns, cond, order, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	ns := make([]notify.Notification, 0, opts.Limit)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		ns = append(ns, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}

	return ns, total, nil
}

func (s *Storage) MarkRead(ctx context.Context, id string) error {
	// COALESCE keeps the original read timestamp on repeated calls.
	const q = `UPDATE notifications
		SET is_read = true, read_at = COALESCE(read_at, now()), updated_at = now()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notify.ErrNotFound
	}
	return nil
}

func (s *Storage) MarkAllRead(ctx context.Context, userID string) (int, error) {
	const q = `UPDATE notifications
		SET is_read = true, read_at = now(), updated_at = now()
		WHERE recipient_id = $1 AND NOT is_read AND ` + visibleRows

	tag, err := s.pool.Exec(ctx, q, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Storage) Dismiss(ctx context.Context, id string) error {
	const q = `UPDATE notifications
		SET is_dismissed = true, dismissed_at = COALESCE(dismissed_at, now()), updated_at = now()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("dismiss notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notify.ErrNotFound
	}
	return nil
}

func (s *Storage) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notify.ErrNotFound
	}
	return nil
}

func (s *Storage) CountUnread(ctx context.Context, userID string) (int, error) {
	const q = `SELECT count(*) FROM notifications
		WHERE recipient_id = $1 AND NOT is_read AND ` + visibleRows

	var count int
	if err := s.pool.QueryRow(ctx, q, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

func (s *Storage) CountUnreadByCategory(ctx context.Context, userID string) (map[notify.Category]int, error) {
	const q = `SELECT category, count(*) FROM notifications
		WHERE recipient_id = $1 AND NOT is_read AND ` + visibleRows + `
		GROUP BY category`

	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("count unread notifications by category: %w", err)
	}
	defer rows.Close()

	counts := make(map[notify.Category]int)
	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("scan unread count: %w", err)
		}
		counts[notify.Category(category)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count unread notifications by category: %w", err)
	}

	return counts, nil
}

func (s *Storage) UpdatePushStatus(ctx context.Context, id string, success bool, sendErr string) error {
	// Overwrites the whole tri-state on every attempt; it is not a log.
	const q = `UPDATE notifications
		SET is_push_sent = $2,
		    push_sent_at = CASE WHEN $2 THEN now() ELSE NULL END,
		    push_error   = CASE WHEN $2 THEN '' ELSE $3 END,
		    updated_at   = now()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q, id, success, sendErr)
	if err != nil {
		return fmt.Errorf("update push status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notify.ErrNotFound
	}
	return nil
}

func (s *Storage) SelectPendingPush(ctx context.Context, limit int) ([]notify.PendingPush, error) {
	accounts := pgx.Identifier{s.accountsTable}.Sanitize()
	q := fmt.Sprintf(`SELECT %s, a.device_token
		FROM notifications n
		JOIN %s a ON a.id = n.recipient_id
		WHERE NOT n.is_push_sent
		  AND NOT n.is_dismissed
		  AND (n.scheduled_at IS NULL OR n.scheduled_at <= now())
		  AND (n.expires_at IS NULL OR n.expires_at > now())
		  AND a.device_token IS NOT NULL AND a.device_token <> ''
		ORDER BY %s DESC, n.created_at ASC
		LIMIT $1`,
		prefixColumns("n"), accounts, "CASE n.priority WHEN 'high' THEN 2 WHEN 'low' THEN 0 ELSE 1 END")

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending push: %w", err)
	}
	defer rows.Close()

	pending := make([]notify.PendingPush, 0, limit)
	for rows.Next() {
		var p notify.PendingPush
		n := &p.Notification
		if err := rows.Scan(
			&n.ID, &n.RecipientID, &n.Title, &n.Body, &n.Summary, &n.Type, &n.Category,
			&n.EntityType, &n.EntityID, &n.ActionURL, &n.ActionType, &n.ImageURL, &n.Icon,
			&n.Priority, &n.SenderID, &n.Data, &n.IsRead, &n.ReadAt, &n.IsDismissed, &n.DismissedAt,
			&n.IsPushSent, &n.PushSentAt, &n.PushError, &n.ScheduledAt, &n.ExpiresAt,
			&n.CreatedAt, &n.UpdatedAt,
			&p.DeviceToken,
		); err != nil {
			return nil, fmt.Errorf("scan pending push: %w", err)
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select pending push: %w", err)
	}

	return pending, nil
}

func prefixColumns(alias string) string {
	cols := notificationColumnNames()
	for i := range cols {
		cols[i] = alias + "." + cols[i]
	}
	return strings.Join(cols, ", ")
}

func (s *Storage) DeleteExpired(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notifications WHERE expires_at IS NOT NULL AND expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("delete expired notifications: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Storage) DeleteOldRead(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `DELETE FROM notifications WHERE is_read AND read_at IS NOT NULL AND read_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old read notifications: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
