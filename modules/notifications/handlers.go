package notifications

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/notify"
	"github.com/dmitrymomot/notifykit/pkg/push"
)

type handlers struct {
	svc     *notify.Service
	sweeper *notify.Sweeper
	gateway *push.Gateway
	userID  func(r *http.Request) string
	log     *slog.Logger
}

// requireUser resolves the authenticated user or writes a 401.
func (h *handlers) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := h.userID(r)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, jsonResponse{
			Error: &errorDetail{Code: "unauthorized"},
		})
		return "", false
	}
	return userID, true
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	opts := notify.ListOptions{
		Category:   notify.Category(q.Get("category")),
		Type:       notify.Type(q.Get("type")),
		OnlyUnread: q.Get("unread") == "true",
		SortBy:     q.Get("sort_by"),
		SortOrder:  q.Get("sort_order"),
	}
	opts.Page, _ = strconv.Atoi(q.Get("page"))
	opts.Limit, _ = strconv.Atoi(q.Get("limit"))
	opts = opts.Normalize()

	ns, total, err := h.svc.List(r.Context(), userID, opts)
	if err != nil {
		h.logError(r, "list notifications", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, jsonResponse{
		Data: ns,
		Meta: map[string]any{
			"total": total,
			"page":  opts.Page,
			"limit": opts.Limit,
		},
	})
}

func (h *handlers) get(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	n, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, n)
}

func (h *handlers) unreadCount(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	count, err := h.svc.UnreadCount(r.Context(), userID)
	if err != nil {
		h.logError(r, "count unread", err)
		writeError(w, err)
		return
	}

	byCategory, err := h.svc.UnreadCountByCategory(r.Context(), userID)
	if err != nil {
		h.logError(r, "count unread by category", err)
		writeError(w, err)
		return
	}

	writeData(w, map[string]any{
		"total":       count,
		"by_category": byCategory,
	})
}

func (h *handlers) markRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	if err := h.svc.MarkRead(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, map[string]any{"read": true})
}

func (h *handlers) markAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	updated, err := h.svc.MarkAllRead(r.Context(), userID)
	if err != nil {
		h.logError(r, "mark all read", err)
		writeError(w, err)
		return
	}
	writeData(w, map[string]any{"updated": updated})
}

func (h *handlers) dismiss(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	if err := h.svc.Dismiss(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, map[string]any{"dismissed": true})
}

func (h *handlers) remove(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, map[string]any{"deleted": true})
}

// sendRequest is the operator payload for POST /push/send. Either a single
// recipient or a recipient list; delivery toggles mirror the create options.
type sendRequest struct {
	RecipientID  string         `json:"recipient_id"`
	RecipientIDs []string       `json:"recipient_ids"`
	Title        string         `json:"title"`
	Body         string         `json:"body"`
	Summary      string         `json:"summary"`
	Type         string         `json:"type"`
	Category     string         `json:"category"`
	EntityType   string         `json:"entity_type"`
	EntityID     string         `json:"entity_id"`
	ActionURL    string         `json:"action_url"`
	ActionType   string         `json:"action_type"`
	ImageURL     string         `json:"image_url"`
	Icon         string         `json:"icon"`
	Priority     string         `json:"priority"`
	SenderID     string         `json:"sender_id"`
	Data         map[string]any `json:"data"`
	ScheduledAt  *time.Time     `json:"scheduled_at"`
	ExpiresAt    *time.Time     `json:"expires_at"`
	SkipRealtime bool           `json:"skip_realtime"`
	SkipPush     bool           `json:"skip_push"`
}

func (req sendRequest) params() notify.CreateParams {
	return notify.CreateParams{
		RecipientID: req.RecipientID,
		Title:       req.Title,
		Body:        req.Body,
		Summary:     req.Summary,
		Type:        notify.Type(req.Type),
		Category:    notify.Category(req.Category),
		EntityType:  req.EntityType,
		EntityID:    req.EntityID,
		ActionURL:   req.ActionURL,
		ActionType:  req.ActionType,
		ImageURL:    req.ImageURL,
		Icon:        req.Icon,
		Priority:    notify.Priority(req.Priority),
		SenderID:    req.SenderID,
		Data:        req.Data,
		ScheduledAt: req.ScheduledAt,
		ExpiresAt:   req.ExpiresAt,
	}
}

func (req sendRequest) options() []notify.CreateOption {
	var opts []notify.CreateOption
	if req.SkipRealtime {
		opts = append(opts, notify.WithoutRealtime())
	}
	if req.SkipPush {
		opts = append(opts, notify.WithoutPush())
	}
	return opts
}

func (h *handlers) send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body", notify.ErrValidation))
		return
	}

	if len(req.RecipientIDs) > 0 {
		created, err := h.svc.CreateForMany(r.Context(), req.RecipientIDs, req.params(), req.options()...)
		if err != nil {
			h.logError(r, "create notifications", err)
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, jsonResponse{Data: map[string]any{"created": created}})
		return
	}

	n, err := h.svc.Create(r.Context(), req.params(), req.options()...)
	if err != nil {
		h.logError(r, "create notification", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, jsonResponse{Data: n})
}

// testPush sends a minimal message straight through the gateway, bypassing
// storage, so operators can verify provider credentials and a device token.
func (h *handlers) testPush(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceToken string `json:"device_token"`
		Title       string `json:"title"`
		Body        string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body", notify.ErrValidation))
		return
	}
	if req.DeviceToken == "" {
		writeError(w, fmt.Errorf("%w: device token is required", notify.ErrValidation))
		return
	}
	if req.Title == "" {
		req.Title = "Test notification"
	}
	if req.Body == "" {
		req.Body = "Push delivery is working."
	}

	res := h.gateway.Send(r.Context(), req.DeviceToken, push.Message{
		Title:    req.Title,
		Body:     req.Body,
		Template: string(notify.TemplateGeneric),
	})

	data := map[string]any{
		"success":       res.Success,
		"invalid_token": res.InvalidToken,
	}
	if res.MessageID != "" {
		data["message_id"] = res.MessageID
	}
	if res.Err != nil {
		data["error"] = res.Err.Error()
	}
	writeData(w, data)
}

func (h *handlers) sweep(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = notify.DefaultSweepLimit
	}

	res, err := h.sweeper.Run(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeData(w, map[string]any{
		"processed": res.Processed,
		"sent":      res.Sent,
		"failed":    res.Failed,
	})
}

func (h *handlers) logError(r *http.Request, msg string, err error) {
	h.log.LogAttrs(r.Context(), slog.LevelError, msg,
		logger.Error(err),
		logger.Component("notifications_module"),
		slog.String("path", r.URL.Path),
	)
}
