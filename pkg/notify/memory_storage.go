package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryStorage is an in-memory implementation of the Storage interface.
// Suitable for development and testing; the pg and mongo adapters are the
// production implementations.
type MemoryStorage struct {
	rows   map[string]Notification // id -> notification
	tokens TokenStore              // joined by SelectPendingPush; may be nil
	mu     sync.RWMutex
}

// NewMemoryStorage creates an in-memory notification storage. The token
// store is used to join device tokens during pending-push selection; with a
// nil store no row is ever push-eligible.
func NewMemoryStorage(tokens TokenStore) *MemoryStorage {
	return &MemoryStorage{
		rows:   make(map[string]Notification),
		tokens: tokens,
	}
}

func (s *MemoryStorage) Insert(ctx context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(n)
}

func (s *MemoryStorage) InsertMany(ctx context.Context, ns []Notification) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, n := range ns {
		if err := s.insert(n); err != nil {
			return i, err
		}
	}
	return len(ns), nil
}

func (s *MemoryStorage) insert(n Notification) error {
	if n.ID == "" {
		return errors.New("notification ID is required")
	}
	if n.RecipientID == "" {
		return errors.New("recipient ID is required")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = n.CreatedAt
	}

	s.rows[n.ID] = n
	return nil
}

func (s *MemoryStorage) Get(ctx context.Context, id string) (*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	// Return a copy to prevent external mutation of stored data.
	return &n, nil
}

func (s *MemoryStorage) GetForUser(ctx context.Context, id, userID string) (*Notification, error) {
	n, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.RecipientID != userID {
		return nil, ErrNotFound
	}
	return n, nil
}

func (s *MemoryStorage) List(ctx context.Context, userID string, opts ListOptions) ([]Notification, int, error) {
	opts = opts.Normalize()
	now := time.Now()

	s.mu.RLock()
	var filtered []Notification
	for _, n := range s.rows {
		if n.RecipientID != userID || !n.visibleAt(now) {
			continue
		}
		if opts.Category != "" && n.Category != opts.Category {
			continue
		}
		if opts.Type != "" && n.Type != opts.Type {
			continue
		}
		if opts.OnlyUnread && n.IsRead {
			continue
		}
		filtered = append(filtered, n)
	}
	s.mu.RUnlock()

	sortNotifications(filtered, opts)

	total := len(filtered)
	start := (opts.Page - 1) * opts.Limit
	if start >= total {
		return []Notification{}, total, nil
	}
	end := min(start+opts.Limit, total)

	return filtered[start:end], total, nil
}

func sortNotifications(ns []Notification, opts ListOptions) {
	asc := opts.SortOrder == "asc"
	sort.SliceStable(ns, func(i, j int) bool {
		less := false
		switch opts.SortBy {
		case "priority":
			less = ns[i].Priority.Weight() < ns[j].Priority.Weight()
		case "updated_at":
			less = ns[i].UpdatedAt.Before(ns[j].UpdatedAt)
		case "read_at":
			less = timePtrBefore(ns[i].ReadAt, ns[j].ReadAt)
		default:
			less = ns[i].CreatedAt.Before(ns[j].CreatedAt)
		}
		if asc {
			return less
		}
		return !less
	})
}

func timePtrBefore(a, b *time.Time) bool {
	switch {
	case a == nil:
		return b != nil
	case b == nil:
		return false
	default:
		return a.Before(*b)
	}
}

func (s *MemoryStorage) MarkRead(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	if n.IsRead {
		return nil
	}

	now := time.Now()
	n.IsRead = true
	n.ReadAt = &now
	n.UpdatedAt = now
	s.rows[id] = n
	return nil
}

func (s *MemoryStorage) MarkAllRead(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	count := 0
	for id, n := range s.rows {
		if n.RecipientID != userID || n.IsRead || !n.visibleAt(now) {
			continue
		}
		readAt := now
		n.IsRead = true
		n.ReadAt = &readAt
		n.UpdatedAt = now
		s.rows[id] = n
		count++
	}
	return count, nil
}

func (s *MemoryStorage) Dismiss(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	if n.IsDismissed {
		return nil
	}

	now := time.Now()
	n.IsDismissed = true
	n.DismissedAt = &now
	n.UpdatedAt = now
	s.rows[id] = n
	return nil
}

func (s *MemoryStorage) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[id]; !ok {
		return ErrNotFound
	}
	delete(s.rows, id)
	return nil
}

func (s *MemoryStorage) CountUnread(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	count := 0
	for _, n := range s.rows {
		if n.RecipientID == userID && !n.IsRead && n.visibleAt(now) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStorage) CountUnreadByCategory(ctx context.Context, userID string) (map[Category]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	counts := make(map[Category]int)
	for _, n := range s.rows {
		if n.RecipientID == userID && !n.IsRead && n.visibleAt(now) {
			counts[n.Category]++
		}
	}
	return counts, nil
}

func (s *MemoryStorage) UpdatePushStatus(ctx context.Context, id string, success bool, sendErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}

	now := time.Now()
	n.IsPushSent = success
	n.UpdatedAt = now
	if success {
		n.PushSentAt = &now
		n.PushError = ""
	} else {
		n.PushSentAt = nil
		n.PushError = sendErr
	}
	s.rows[id] = n
	return nil
}

func (s *MemoryStorage) SelectPendingPush(ctx context.Context, limit int) ([]PendingPush, error) {
	now := time.Now()

	s.mu.RLock()
	var eligible []Notification
	for _, n := range s.rows {
		if n.pushEligibleAt(now) {
			eligible = append(eligible, n)
		}
	}
	s.mu.RUnlock()

	if len(eligible) == 0 || s.tokens == nil {
		return []PendingPush{}, nil
	}

	userIDs := make([]string, 0, len(eligible))
	for _, n := range eligible {
		userIDs = append(userIDs, n.RecipientID)
	}
	tokens, err := s.tokens.DeviceTokens(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	// Most urgent, then oldest, first.
	sort.SliceStable(eligible, func(i, j int) bool {
		wi, wj := eligible[i].Priority.Weight(), eligible[j].Priority.Weight()
		if wi != wj {
			return wi > wj
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})

	rows := make([]PendingPush, 0, min(limit, len(eligible)))
	for _, n := range eligible {
		token, ok := tokens[n.RecipientID]
		if !ok || token == "" {
			continue // no token on file is not a failure, just not selectable
		}
		rows = append(rows, PendingPush{Notification: n, DeviceToken: token})
		if len(rows) == limit {
			break
		}
	}
	return rows, nil
}

func (s *MemoryStorage) DeleteExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	count := 0
	for id, n := range s.rows {
		if n.expiredAt(now) {
			delete(s.rows, id)
			count++
		}
	}
	return count, nil
}

func (s *MemoryStorage) DeleteOldRead(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	count := 0
	for id, n := range s.rows {
		if n.IsRead && n.ReadAt != nil && n.ReadAt.Before(cutoff) {
			delete(s.rows, id)
			count++
		}
	}
	return count, nil
}
