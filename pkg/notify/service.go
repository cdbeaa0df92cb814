package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/push"
	"github.com/dmitrymomot/notifykit/pkg/realtime"
)

// Realtime event names.
const (
	EventNotificationNew    = "notification:new"
	EventNotificationUrgent = "notification:urgent"
)

// dispatchTimeout bounds the background fan-out of one create call.
const dispatchTimeout = 30 * time.Second

// PushSender is the Service's view of the push gateway.
// *push.Gateway satisfies it; tests substitute a mock.
type PushSender interface {
	Send(ctx context.Context, token string, msg push.Message) push.Result
	SendBatch(ctx context.Context, tokens []string, msg push.Message) push.BatchResult
}

// Service orchestrates notification creation across the three delivery
// channels: durable storage, the realtime bus, and the push gateway.
//
// Persistence is synchronous so a caller's immediate follow-up read sees the
// new row. Realtime publish and push dispatch run as a detached background
// task per call and can never fail the triggering domain action; transient
// push failures are retried later by the Sweeper.
type Service struct {
	storage Storage
	tokens  TokenStore
	bus     realtime.Bus
	gateway PushSender
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithBus enables realtime delivery through the given bus.
func WithBus(bus realtime.Bus) ServiceOption {
	return func(s *Service) { s.bus = bus }
}

// WithGateway enables push delivery through the given gateway.
func WithGateway(gateway PushSender) ServiceOption {
	return func(s *Service) { s.gateway = gateway }
}

// WithTokenStore sets the device token source used for push delivery.
func WithTokenStore(tokens TokenStore) ServiceOption {
	return func(s *Service) { s.tokens = tokens }
}

// WithServiceLogger sets the logger for the Service.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a notification service. Storage is required; realtime
// and push channels are optional and skipped when not configured.
func NewService(storage Storage, opts ...ServiceOption) *Service {
	s := &Service{
		storage: storage,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// CreateParams is the payload domain producers pass to Create/CreateForMany.
type CreateParams struct {
	RecipientID string
	Title       string
	Body        string
	Summary     string
	Type        Type     // defaults to TypeInfo
	Category    Category // defaults to CategorySystem
	EntityType  string
	EntityID    string
	ActionURL   string
	ActionType  string
	ImageURL    string
	Icon        string
	Priority    Priority // defaults to PriorityNormal
	SenderID    string
	Data        map[string]any // opaque, stored and forwarded unvalidated
	ScheduledAt *time.Time
	ExpiresAt   *time.Time
}

func (p CreateParams) validate(requireRecipient bool) error {
	if requireRecipient && p.RecipientID == "" {
		return fmt.Errorf("%w: recipient id is required", ErrValidation)
	}
	if p.Title == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if p.Body == "" {
		return fmt.Errorf("%w: body is required", ErrValidation)
	}
	return nil
}

// CreateOption adjusts delivery behavior for one create call.
type CreateOption func(*createOptions)

type createOptions struct {
	emitRealtime bool
	sendPush     bool
	deviceToken  string
}

func defaultCreateOptions() createOptions {
	return createOptions{emitRealtime: true, sendPush: true}
}

// WithoutRealtime suppresses the realtime publish for this call.
func WithoutRealtime() CreateOption {
	return func(o *createOptions) { o.emitRealtime = false }
}

// WithoutPush suppresses push dispatch for this call.
func WithoutPush() CreateOption {
	return func(o *createOptions) { o.sendPush = false }
}

// WithDeviceToken uses the given token instead of looking one up.
func WithDeviceToken(token string) CreateOption {
	return func(o *createOptions) { o.deviceToken = token }
}

// Create persists one notification and fans it out. The returned
// notification reflects the persisted row; realtime and push outcomes never
// affect the return value.
func (s *Service) Create(ctx context.Context, params CreateParams, opts ...CreateOption) (*Notification, error) {
	options := defaultCreateOptions()
	for _, opt := range opts {
		opt(&options)
	}

	if err := params.validate(true); err != nil {
		return nil, err
	}

	n := newNotification(params, params.RecipientID)
	if err := s.storage.Insert(ctx, n); err != nil {
		return nil, fmt.Errorf("store notification: %w", err)
	}

	s.wg.Add(1)
	go func(ctx context.Context) {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
		defer cancel()

		if options.emitRealtime {
			s.emitRealtime(ctx, n)
		}
		if options.sendPush {
			s.sendPush(ctx, n, options.deviceToken)
		}
	}(context.WithoutCancel(ctx))

	return &n, nil
}

// CreateForMany persists one notification per recipient in a single batch
// write and fans them out. The returned count is the number of persisted
// rows, independent of realtime or push outcome.
func (s *Service) CreateForMany(ctx context.Context, recipientIDs []string, params CreateParams, opts ...CreateOption) (int, error) {
	options := defaultCreateOptions()
	for _, opt := range opts {
		opt(&options)
	}

	if len(recipientIDs) == 0 {
		return 0, fmt.Errorf("%w: at least one recipient is required", ErrValidation)
	}
	if err := params.validate(false); err != nil {
		return 0, err
	}

	ns := make([]Notification, len(recipientIDs))
	for i, recipientID := range recipientIDs {
		if recipientID == "" {
			return 0, fmt.Errorf("%w: recipient id is required", ErrValidation)
		}
		ns[i] = newNotification(params, recipientID)
	}

	count, err := s.storage.InsertMany(ctx, ns)
	if err != nil {
		return count, fmt.Errorf("store notifications: %w", err)
	}

	s.wg.Add(1)
	go func(ctx context.Context) {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
		defer cancel()

		if options.emitRealtime {
			for i := range ns {
				s.emitRealtime(ctx, ns[i])
			}
		}
		if options.sendPush {
			s.sendPushBatch(ctx, ns, params)
		}
	}(context.WithoutCancel(ctx))

	return count, nil
}

// Wait blocks until all in-flight background dispatches complete. Intended
// for graceful shutdown and for tests that assert on delivery side effects.
func (s *Service) Wait() {
	s.wg.Wait()
}

func newNotification(params CreateParams, recipientID string) Notification {
	now := time.Now().UTC()

	typ := params.Type
	if typ == "" {
		typ = TypeInfo
	}
	category := params.Category
	if category == "" {
		category = CategorySystem
	}
	priority := params.Priority
	if priority == "" {
		priority = PriorityNormal
	}

	return Notification{
		ID:          uuid.New().String(),
		RecipientID: recipientID,
		Title:       params.Title,
		Body:        params.Body,
		Summary:     params.Summary,
		Type:        typ,
		Category:    category,
		EntityType:  params.EntityType,
		EntityID:    params.EntityID,
		ActionURL:   params.ActionURL,
		ActionType:  params.ActionType,
		ImageURL:    params.ImageURL,
		Icon:        params.Icon,
		Priority:    priority,
		SenderID:    params.SenderID,
		Data:        params.Data,
		ScheduledAt: params.ScheduledAt,
		ExpiresAt:   params.ExpiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// emitRealtime publishes the notification to the recipient's connected
// sessions. High-priority notifications are duplicated onto the urgent
// channel. Best effort by bus contract; nothing to propagate.
func (s *Service) emitRealtime(ctx context.Context, n Notification) {
	if s.bus == nil {
		return
	}

	s.bus.Publish(ctx, n.RecipientID, EventNotificationNew, n)
	if n.Priority == PriorityHigh {
		s.bus.Publish(ctx, n.RecipientID, EventNotificationUrgent, n)
	}
}

// sendPush attempts immediate push delivery for one notification.
// A missing device token is a precondition, not a failure: the row keeps its
// pristine pending state and becomes sweep-eligible once a token appears.
func (s *Service) sendPush(ctx context.Context, n Notification, overrideToken string) {
	if s.gateway == nil {
		return
	}
	if n.ScheduledAt != nil && n.ScheduledAt.After(time.Now()) {
		return // not due yet; the sweeper picks it up once scheduled_at passes
	}

	token := overrideToken
	if token == "" && s.tokens != nil {
		var err error
		token, err = s.tokens.DeviceToken(ctx, n.RecipientID)
		if err != nil {
			s.logger.LogAttrs(ctx, slog.LevelWarn, "failed to resolve device token",
				logger.UserID(n.RecipientID),
				logger.NotificationID(n.ID),
				logger.Error(err),
			)
			return
		}
	}
	if token == "" {
		s.logger.LogAttrs(ctx, slog.LevelDebug, "push skipped, no device token on file",
			logger.UserID(n.RecipientID),
			logger.NotificationID(n.ID),
		)
		return
	}

	res := s.gateway.Send(ctx, token, n.PushMessage())
	s.recordPushOutcome(ctx, n.ID, res)

	if res.InvalidToken {
		s.clearToken(ctx, n.RecipientID, token)
	}
}

// sendPushBatch resolves tokens for all recipients in one query, sends one
// chunked batch, writes back per-row outcomes, and clears every token the
// gateway flagged as invalid.
func (s *Service) sendPushBatch(ctx context.Context, ns []Notification, params CreateParams) {
	if s.gateway == nil || s.tokens == nil {
		return
	}
	if params.ScheduledAt != nil && params.ScheduledAt.After(time.Now()) {
		return
	}

	userIDs := make([]string, len(ns))
	for i := range ns {
		userIDs[i] = ns[i].RecipientID
	}

	tokens, err := s.tokens.DeviceTokens(ctx, userIDs)
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "failed to resolve device tokens for batch push",
			logger.Count(len(ns)),
			logger.Error(err),
		)
		return
	}
	if len(tokens) == 0 {
		return
	}

	// Deterministic token order: recipient order, skipping tokenless users.
	tokenList := make([]string, 0, len(tokens))
	tokenOwner := make(map[string]string, len(tokens)) // token -> userID
	for _, id := range userIDs {
		if token, ok := tokens[id]; ok {
			tokenList = append(tokenList, token)
			tokenOwner[token] = id
		}
	}

	batch := s.gateway.SendBatch(ctx, tokenList, batchPushMessage(params))

	failed := make(map[string]struct{}, len(batch.FailedTokens))
	for _, token := range batch.FailedTokens {
		failed[token] = struct{}{}
	}
	invalid := make(map[string]struct{}, len(batch.InvalidTokens))
	for _, token := range batch.InvalidTokens {
		invalid[token] = struct{}{}
	}

	for i := range ns {
		token, ok := tokens[ns[i].RecipientID]
		if !ok {
			continue // no token: row stays pending for the sweeper
		}

		var sendErr string
		if _, isInvalid := invalid[token]; isInvalid {
			sendErr = push.ErrInvalidToken.Error()
		} else if _, isFailed := failed[token]; isFailed {
			sendErr = push.ErrSendFailed.Error()
		}
		s.recordPushOutcome(ctx, ns[i].ID, push.Result{
			Success: sendErr == "",
			Err:     errIf(sendErr),
		})
	}

	if len(batch.InvalidTokens) > 0 {
		pairs := make([]TokenPair, 0, len(batch.InvalidTokens))
		for _, token := range batch.InvalidTokens {
			pairs = append(pairs, TokenPair{UserID: tokenOwner[token], Token: token})
		}
		if err := s.tokens.ClearDeviceTokens(ctx, pairs); err != nil {
			s.logger.LogAttrs(ctx, slog.LevelWarn, "failed to clear invalid device tokens",
				logger.Count(len(pairs)),
				logger.Error(err),
			)
		}
	}
}

func errIf(msg string) error {
	if msg == "" {
		return nil
	}
	return fmt.Errorf("%s", msg)
}

// batchPushMessage builds the shared payload for a fan-out send. Unlike the
// single-recipient path it cannot reference a notification id, since one
// payload serves every recipient.
func batchPushMessage(params CreateParams) push.Message {
	category := params.Category
	if category == "" {
		category = CategorySystem
	}
	priority := params.Priority
	if priority == "" {
		priority = PriorityNormal
	}

	data := make(map[string]any, len(params.Data)+3)
	for k, v := range params.Data {
		data[k] = v
	}
	if params.EntityType != "" {
		data["entity_type"] = params.EntityType
		data["entity_id"] = params.EntityID
	}
	if params.ActionURL != "" {
		data["action_url"] = params.ActionURL
	}

	return push.Message{
		Title:    params.Title,
		Body:     params.Body,
		ImageURL: params.ImageURL,
		Template: string(TemplateFor(category)),
		Priority: string(priority),
		Data:     data,
	}
}

func (s *Service) recordPushOutcome(ctx context.Context, id string, res push.Result) {
	var sendErr string
	if res.Err != nil {
		sendErr = res.Err.Error()
	}
	if err := s.storage.UpdatePushStatus(ctx, id, res.Success, sendErr); err != nil {
		// Bookkeeping failure only; the row stays pending and the sweeper
		// will retry it.
		s.logger.LogAttrs(ctx, slog.LevelWarn, "failed to record push outcome",
			logger.NotificationID(id),
			logger.Error(err),
		)
	}
}

func (s *Service) clearToken(ctx context.Context, userID, token string) {
	if s.tokens == nil {
		return
	}
	if err := s.tokens.ClearDeviceToken(ctx, userID, token); err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "failed to clear invalid device token",
			logger.UserID(userID),
			logger.Error(err),
		)
	}
}

// Get retrieves a notification owned by the user.
func (s *Service) Get(ctx context.Context, id, userID string) (*Notification, error) {
	return s.storage.GetForUser(ctx, id, userID)
}

// List returns a page of the user's visible notifications plus the total.
func (s *Service) List(ctx context.Context, userID string, opts ListOptions) ([]Notification, int, error) {
	return s.storage.List(ctx, userID, opts)
}

// MarkRead marks a notification owned by the user as read. Idempotent.
func (s *Service) MarkRead(ctx context.Context, id, userID string) error {
	if _, err := s.storage.GetForUser(ctx, id, userID); err != nil {
		return err
	}
	return s.storage.MarkRead(ctx, id)
}

// MarkAllRead marks all the user's visible notifications as read.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int, error) {
	return s.storage.MarkAllRead(ctx, userID)
}

// Dismiss soft-deletes a notification owned by the user.
func (s *Service) Dismiss(ctx context.Context, id, userID string) error {
	if _, err := s.storage.GetForUser(ctx, id, userID); err != nil {
		return err
	}
	return s.storage.Dismiss(ctx, id)
}

// Delete permanently removes a notification owned by the user.
func (s *Service) Delete(ctx context.Context, id, userID string) error {
	if _, err := s.storage.GetForUser(ctx, id, userID); err != nil {
		return err
	}
	return s.storage.Delete(ctx, id)
}

// UnreadCount returns the number of visible unread notifications.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.storage.CountUnread(ctx, userID)
}

// UnreadCountByCategory returns visible unread counts grouped by category.
func (s *Service) UnreadCountByCategory(ctx context.Context, userID string) (map[Category]int, error) {
	return s.storage.CountUnreadByCategory(ctx, userID)
}
