package notify

import (
	"time"

	"github.com/dmitrymomot/notifykit/pkg/push"
)

// Type represents the notification type/severity.
type Type string

const (
	TypeInfo    Type = "info"
	TypeSuccess Type = "success"
	TypeWarning Type = "warning"
	TypeError   Type = "error"
	TypeAction  Type = "action"
)

// Category identifies the domain area that produced the notification and
// selects the push template.
type Category string

const (
	CategorySystem       Category = "system"
	CategoryIncident     Category = "incident"
	CategoryChat         Category = "chat"
	CategoryAnnouncement Category = "announcement"
	CategoryApproval     Category = "approval"
	CategoryAlert        Category = "alert"
	CategoryReminder     Category = "reminder"
)

// Priority represents the notification priority level. It drives sweep
// ordering and duplicates high-priority events onto the urgent channel.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Weight returns the numeric sort weight of the priority; unknown or empty
// values weigh as normal.
func (p Priority) Weight() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityHigh:
		return 2
	default:
		return 1
	}
}

// PushTemplate is the provider-side layout hint attached to push messages.
type PushTemplate string

const (
	TemplateGeneric      PushTemplate = "generic"
	TemplateIncident     PushTemplate = "incident"
	TemplateChat         PushTemplate = "chat"
	TemplateAnnouncement PushTemplate = "announcement"
	TemplateApproval     PushTemplate = "approval"
	TemplateAlert        PushTemplate = "alert"
	TemplateReminder     PushTemplate = "reminder"
)

// TemplateFor maps a category to its push template. The mapping is total:
// CategorySystem and any future or unknown category fall back to
// TemplateGeneric explicitly.
func TemplateFor(c Category) PushTemplate {
	switch c {
	case CategoryIncident:
		return TemplateIncident
	case CategoryChat:
		return TemplateChat
	case CategoryAnnouncement:
		return TemplateAnnouncement
	case CategoryApproval:
		return TemplateApproval
	case CategoryAlert:
		return TemplateAlert
	case CategoryReminder:
		return TemplateReminder
	case CategorySystem:
		return TemplateGeneric
	default:
		return TemplateGeneric
	}
}

// Notification is the durable per-recipient notification record. It is
// created by the Service and mutated only through Storage operations.
type Notification struct {
	ID          string   `json:"id"`
	RecipientID string   `json:"recipient_id"`
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	Summary     string   `json:"summary,omitempty"`
	Type        Type     `json:"type"`
	Category    Category `json:"category"`

	// Polymorphic reference to the triggering domain object; opaque here.
	EntityType string `json:"entity_type,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`

	// Client navigation hints.
	ActionURL  string `json:"action_url,omitempty"`
	ActionType string `json:"action_type,omitempty"`
	ImageURL   string `json:"image_url,omitempty"`
	Icon       string `json:"icon,omitempty"`

	Priority Priority       `json:"priority"`
	SenderID string         `json:"sender_id,omitempty"`
	Data     map[string]any `json:"data,omitempty"` // opaque payload, passed through unvalidated

	IsRead bool       `json:"is_read"`
	ReadAt *time.Time `json:"read_at,omitempty"`

	// Soft delete: once dismissed the row stays invisible to listing and
	// unread counts until a retention job hard-deletes it.
	IsDismissed bool       `json:"is_dismissed"`
	DismissedAt *time.Time `json:"dismissed_at,omitempty"`

	// Latest push outcome. Each attempt overwrites this tri-state; it is
	// not an append log.
	IsPushSent bool       `json:"is_push_sent"`
	PushSentAt *time.Time `json:"push_sent_at,omitempty"`
	PushError  string     `json:"push_error,omitempty"`

	// Not eligible for push before this instant; irrelevant to listing.
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`

	// Once passed, the row is invisible to listing and unread counts
	// regardless of read/dismissed state.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsExpired reports whether the notification has expired.
func (n *Notification) IsExpired() bool {
	return n.expiredAt(time.Now())
}

func (n *Notification) expiredAt(now time.Time) bool {
	if n.ExpiresAt == nil {
		return false
	}
	return now.After(*n.ExpiresAt)
}

// visibleAt reports whether the row counts for listing and unread counts.
func (n *Notification) visibleAt(now time.Time) bool {
	return !n.IsDismissed && !n.expiredAt(now)
}

// pushEligibleAt reports whether the row qualifies for a push attempt:
// not yet successfully pushed, not dismissed, due, and not expired.
func (n *Notification) pushEligibleAt(now time.Time) bool {
	if n.IsPushSent || n.IsDismissed || n.expiredAt(now) {
		return false
	}
	if n.ScheduledAt != nil && n.ScheduledAt.After(now) {
		return false
	}
	return true
}

// PushMessage builds the push payload for this notification. The opaque
// Data document is copied through untouched, enriched with the record
// reference the mobile client needs for navigation.
func (n *Notification) PushMessage() push.Message {
	data := make(map[string]any, len(n.Data)+4)
	for k, v := range n.Data {
		data[k] = v
	}
	data["notification_id"] = n.ID
	if n.EntityType != "" {
		data["entity_type"] = n.EntityType
		data["entity_id"] = n.EntityID
	}
	if n.ActionURL != "" {
		data["action_url"] = n.ActionURL
	}

	return push.Message{
		Title:    n.Title,
		Body:     n.Body,
		ImageURL: n.ImageURL,
		Template: string(TemplateFor(n.Category)),
		Priority: string(n.Priority),
		Data:     data,
	}
}
