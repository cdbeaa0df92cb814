package notifymongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/notifykit/pkg/notify"
)

// notificationDoc is the BSON shape of a notification. priority_weight is
// denormalized on write so sorting by priority stays a plain index sort.
type notificationDoc struct {
	ID             string         `bson:"_id"`
	RecipientID    string         `bson:"recipient_id"`
	Title          string         `bson:"title"`
	Body           string         `bson:"body"`
	Summary        string         `bson:"summary,omitempty"`
	Type           string         `bson:"type"`
	Category       string         `bson:"category"`
	EntityType     string         `bson:"entity_type,omitempty"`
	EntityID       string         `bson:"entity_id,omitempty"`
	ActionURL      string         `bson:"action_url,omitempty"`
	ActionType     string         `bson:"action_type,omitempty"`
	ImageURL       string         `bson:"image_url,omitempty"`
	Icon           string         `bson:"icon,omitempty"`
	Priority       string         `bson:"priority"`
	PriorityWeight int            `bson:"priority_weight"`
	SenderID       string         `bson:"sender_id,omitempty"`
	Data           map[string]any `bson:"data,omitempty"`
	IsRead         bool           `bson:"is_read"`
	ReadAt         *time.Time     `bson:"read_at,omitempty"`
	IsDismissed    bool           `bson:"is_dismissed"`
	DismissedAt    *time.Time     `bson:"dismissed_at,omitempty"`
	IsPushSent     bool           `bson:"is_push_sent"`
	PushSentAt     *time.Time     `bson:"push_sent_at,omitempty"`
	PushError      string         `bson:"push_error,omitempty"`
	ScheduledAt    *time.Time     `bson:"scheduled_at,omitempty"`
	ExpiresAt      *time.Time     `bson:"expires_at,omitempty"`
	CreatedAt      time.Time      `bson:"created_at"`
	UpdatedAt      time.Time      `bson:"updated_at"`
}

func docFromNotification(n notify.Notification) notificationDoc {
	return notificationDoc{
		ID:             n.ID,
		RecipientID:    n.RecipientID,
		Title:          n.Title,
		Body:           n.Body,
		Summary:        n.Summary,
		Type:           string(n.Type),
		Category:       string(n.Category),
		EntityType:     n.EntityType,
		EntityID:       n.EntityID,
		ActionURL:      n.ActionURL,
		ActionType:     n.ActionType,
		ImageURL:       n.ImageURL,
		Icon:           n.Icon,
		Priority:       string(n.Priority),
		PriorityWeight: n.Priority.Weight(),
		SenderID:       n.SenderID,
		Data:           n.Data,
		IsRead:         n.IsRead,
		ReadAt:         n.ReadAt,
		IsDismissed:    n.IsDismissed,
		DismissedAt:    n.DismissedAt,
		IsPushSent:     n.IsPushSent,
		PushSentAt:     n.PushSentAt,
		PushError:      n.PushError,
		ScheduledAt:    n.ScheduledAt,
		ExpiresAt:      n.ExpiresAt,
		CreatedAt:      n.CreatedAt,
		UpdatedAt:      n.UpdatedAt,
	}
}

func (d notificationDoc) toNotification() notify.Notification {
	return notify.Notification{
		ID:          d.ID,
		RecipientID: d.RecipientID,
		Title:       d.Title,
		Body:        d.Body,
		Summary:     d.Summary,
		Type:        notify.Type(d.Type),
		Category:    notify.Category(d.Category),
		EntityType:  d.EntityType,
		EntityID:    d.EntityID,
		ActionURL:   d.ActionURL,
		ActionType:  d.ActionType,
		ImageURL:    d.ImageURL,
		Icon:        d.Icon,
		Priority:    notify.Priority(d.Priority),
		SenderID:    d.SenderID,
		Data:        d.Data,
		IsRead:      d.IsRead,
		ReadAt:      d.ReadAt,
		IsDismissed: d.IsDismissed,
		DismissedAt: d.DismissedAt,
		IsPushSent:  d.IsPushSent,
		PushSentAt:  d.PushSentAt,
		PushError:   d.PushError,
		ScheduledAt: d.ScheduledAt,
		ExpiresAt:   d.ExpiresAt,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// notExpired matches rows without an expiry or with a future one.
func notExpired(now time.Time) bson.D {
	return bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "expires_at", Value: bson.D{{Key: "$exists", Value: false}}}},
		bson.D{{Key: "expires_at", Value: nil}},
		bson.D{{Key: "expires_at", Value: bson.D{{Key: "$gt", Value: now}}}},
	}}}
}

// Storage implements notify.Storage on a MongoDB collection.
type Storage struct {
	coll         *mongo.Collection
	accountsColl string
}

// StorageOption configures a Storage.
type StorageOption func(*Storage)

// WithCollection overrides the notifications collection name, default
// "notifications".
func WithCollection(name string) StorageOption {
	return func(s *Storage) {
		if name != "" {
			s.coll = s.coll.Database().Collection(name)
		}
	}
}

// WithAccountsCollection overrides the collection device tokens are looked
// up from, default "accounts".
func WithAccountsCollection(name string) StorageOption {
	return func(s *Storage) {
		if name != "" {
			s.accountsColl = name
		}
	}
}

// NewStorage creates a MongoDB-backed notification storage.
func NewStorage(db *mongo.Database, opts ...StorageOption) *Storage {
	s := &Storage{
		coll:         db.Collection("notifications"),
		accountsColl: "accounts",
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// EnsureIndexes creates the indexes the listing and pending-push scans rely
// on. Safe to call on every startup.
func (s *Storage) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "recipient_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{
			Keys: bson.D{{Key: "priority_weight", Value: -1}, {Key: "created_at", Value: 1}},
			Options: options.Index().SetPartialFilterExpression(bson.D{
				{Key: "is_push_sent", Value: false},
				{Key: "is_dismissed", Value: false},
			}),
		},
	})
	if err != nil {
		return fmt.Errorf("ensure notification indexes: %w", err)
	}
	return nil
}

func (s *Storage) Insert(ctx context.Context, n notify.Notification) error {
	if _, err := s.coll.InsertOne(ctx, docFromNotification(n)); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *Storage) InsertMany(ctx context.Context, ns []notify.Notification) (int, error) {
	if len(ns) == 0 {
		return 0, nil
	}

	docs := make([]any, len(ns))
	for i, n := range ns {
		docs[i] = docFromNotification(n)
	}

	res, err := s.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	inserted := 0
	if res != nil {
		inserted = len(res.InsertedIDs)
	}
	if err != nil {
		return inserted, fmt.Errorf("insert notifications: %w", err)
	}
	return inserted, nil
}

func (s *Storage) Get(ctx context.Context, id string) (*notify.Notification, error) {
	return s.findOne(ctx, bson.D{{Key: "_id", Value: id}})
}

func (s *Storage) GetForUser(ctx context.Context, id, userID string) (*notify.Notification, error) {
	return s.findOne(ctx, bson.D{{Key: "_id", Value: id}, {Key: "recipient_id", Value: userID}})
}

func (s *Storage) findOne(ctx context.Context, filter bson.D) (*notify.Notification, error) {
	var doc notificationDoc
	if err := s.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notify.ErrNotFound
		}
		return nil, fmt.Errorf("find notification: %w", err)
	}
	n := doc.toNotification()
	return &n, nil
}

func (s *Storage) List(ctx context.Context, userID string, opts notify.ListOptions) ([]notify.Notification, int, error) {
	opts = opts.Normalize()
	now := time.Now()

	filter := bson.D{
		{Key: "recipient_id", Value: userID},
		{Key: "is_dismissed", Value: false},
	}
	filter = append(filter, notExpired(now)...)
	if opts.Category != "" {
		filter = append(filter, bson.E{Key: "category", Value: string(opts.Category)})
	}
	if opts.Type != "" {
		filter = append(filter, bson.E{Key: "type", Value: string(opts.Type)})
	}
	if opts.OnlyUnread {
		filter = append(filter, bson.E{Key: "is_read", Value: false})
	}

	total, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	sortField := opts.SortBy
	if sortField == "priority" {
		sortField = "priority_weight"
	}
	dir := -1
	if opts.SortOrder == "asc" {
		dir = 1
	}

	cursor, err := s.coll.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: sortField, Value: dir}, {Key: "created_at", Value: -1}}).
		SetSkip(int64((opts.Page-1)*opts.Limit)).
		SetLimit(int64(opts.Limit)))
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []notificationDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}

	ns := make([]notify.Notification, len(docs))
	for i, d := range docs {
		ns[i] = d.toNotification()
	}

	return ns, int(total), nil
}

func (s *Storage) MarkRead(ctx context.Context, id string) error {
	// Pipeline update keeps the original read timestamp on repeated calls.
	update := mongo.Pipeline{
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "is_read", Value: true},
			{Key: "read_at", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$read_at", "$$NOW"}}}},
			{Key: "updated_at", Value: "$$NOW"},
		}}},
	}

	res, err := s.coll.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, update)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if res.MatchedCount == 0 {
		return notify.ErrNotFound
	}
	return nil
}

func (s *Storage) MarkAllRead(ctx context.Context, userID string) (int, error) {
	now := time.Now()
	filter := bson.D{
		{Key: "recipient_id", Value: userID},
		{Key: "is_read", Value: false},
		{Key: "is_dismissed", Value: false},
	}
	filter = append(filter, notExpired(now)...)

	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "is_read", Value: true},
		{Key: "read_at", Value: now},
		{Key: "updated_at", Value: now},
	}}}

	res, err := s.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return int(res.ModifiedCount), nil
}

func (s *Storage) Dismiss(ctx context.Context, id string) error {
	update := mongo.Pipeline{
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "is_dismissed", Value: true},
			{Key: "dismissed_at", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$dismissed_at", "$$NOW"}}}},
			{Key: "updated_at", Value: "$$NOW"},
		}}},
	}

	res, err := s.coll.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, update)
	if err != nil {
		return fmt.Errorf("dismiss notification: %w", err)
	}
	if res.MatchedCount == 0 {
		return notify.ErrNotFound
	}
	return nil
}

func (s *Storage) Delete(ctx context.Context, id string) error {
	res, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if res.DeletedCount == 0 {
		return notify.ErrNotFound
	}
	return nil
}

func (s *Storage) CountUnread(ctx context.Context, userID string) (int, error) {
	filter := bson.D{
		{Key: "recipient_id", Value: userID},
		{Key: "is_read", Value: false},
		{Key: "is_dismissed", Value: false},
	}
	filter = append(filter, notExpired(time.Now())...)

	count, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return int(count), nil
}

func (s *Storage) CountUnreadByCategory(ctx context.Context, userID string) (map[notify.Category]int, error) {
	filter := bson.D{
		{Key: "recipient_id", Value: userID},
		{Key: "is_read", Value: false},
		{Key: "is_dismissed", Value: false},
	}
	filter = append(filter, notExpired(time.Now())...)

	cursor, err := s.coll.Aggregate(ctx, mongo.Pipeline{
		bson.D{{Key: "$match", Value: filter}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$category"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	})
	if err != nil {
		return nil, fmt.Errorf("count unread notifications by category: %w", err)
	}
	defer cursor.Close(ctx)

	var groups []struct {
		Category string `bson:"_id"`
		Count    int    `bson:"count"`
	}
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, fmt.Errorf("count unread notifications by category: %w", err)
	}

	counts := make(map[notify.Category]int, len(groups))
	for _, g := range groups {
		counts[notify.Category(g.Category)] = g.Count
	}

	return counts, nil
}

func (s *Storage) UpdatePushStatus(ctx context.Context, id string, success bool, sendErr string) error {
	// Overwrites the whole tri-state on every attempt; it is not a log.
	now := time.Now()
	var update bson.D
	if success {
		update = bson.D{{Key: "$set", Value: bson.D{
			{Key: "is_push_sent", Value: true},
			{Key: "push_sent_at", Value: now},
			{Key: "push_error", Value: ""},
			{Key: "updated_at", Value: now},
		}}}
	} else {
		update = bson.D{
			{Key: "$set", Value: bson.D{
				{Key: "is_push_sent", Value: false},
				{Key: "push_error", Value: sendErr},
				{Key: "updated_at", Value: now},
			}},
			{Key: "$unset", Value: bson.D{{Key: "push_sent_at", Value: ""}}},
		}
	}

	res, err := s.coll.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, update)
	if err != nil {
		return fmt.Errorf("update push status: %w", err)
	}
	if res.MatchedCount == 0 {
		return notify.ErrNotFound
	}
	return nil
}

func (s *Storage) SelectPendingPush(ctx context.Context, limit int) ([]notify.PendingPush, error) {
	now := time.Now()

	match := bson.D{
		{Key: "is_push_sent", Value: false},
		{Key: "is_dismissed", Value: false},
		{Key: "$and", Value: bson.A{
			bson.D{{Key: "$or", Value: bson.A{
				bson.D{{Key: "scheduled_at", Value: bson.D{{Key: "$exists", Value: false}}}},
				bson.D{{Key: "scheduled_at", Value: nil}},
				bson.D{{Key: "scheduled_at", Value: bson.D{{Key: "$lte", Value: now}}}},
			}}},
			notExpired(now),
		}},
	}

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: match}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "priority_weight", Value: -1}, {Key: "created_at", Value: 1}}}},
		bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: s.accountsColl},
			{Key: "localField", Value: "recipient_id"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "account"},
		}}},
		bson.D{{Key: "$unwind", Value: "$account"}},
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "account.device_token", Value: bson.D{{Key: "$exists", Value: true}, {Key: "$nin", Value: bson.A{nil, ""}}}},
		}}},
		bson.D{{Key: "$limit", Value: int64(limit)}},
		bson.D{{Key: "$addFields", Value: bson.D{{Key: "device_token", Value: "$account.device_token"}}}},
		bson.D{{Key: "$project", Value: bson.D{{Key: "account", Value: 0}}}},
	}

	cursor, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("select pending push: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []struct {
		notificationDoc `bson:",inline"`
		DeviceToken     string `bson:"device_token"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("select pending push: %w", err)
	}

	pending := make([]notify.PendingPush, len(docs))
	for i, d := range docs {
		pending[i] = notify.PendingPush{
			Notification: d.toNotification(),
			DeviceToken:  d.DeviceToken,
		}
	}

	return pending, nil
}

func (s *Storage) DeleteExpired(ctx context.Context) (int, error) {
	res, err := s.coll.DeleteMany(ctx, bson.D{
		{Key: "expires_at", Value: bson.D{{Key: "$ne", Value: nil}, {Key: "$lte", Value: time.Now()}}},
	})
	if err != nil {
		return 0, fmt.Errorf("delete expired notifications: %w", err)
	}
	return int(res.DeletedCount), nil
}

func (s *Storage) DeleteOldRead(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := s.coll.DeleteMany(ctx, bson.D{
		{Key: "is_read", Value: true},
		{Key: "read_at", Value: bson.D{{Key: "$lt", Value: cutoff}}},
	})
	if err != nil {
		return 0, fmt.Errorf("delete old read notifications: %w", err)
	}
	return int(res.DeletedCount), nil
}
