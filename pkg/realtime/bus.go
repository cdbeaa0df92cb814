package realtime

import "context"

// Bus publishes events to connected client sessions.
//
// All methods are best-effort and must never surface delivery failures to
// the caller; the signatures return nothing by contract. Implementations
// log-and-continue on any internal error.
type Bus interface {
	// Publish targets every connected session of one user.
	Publish(ctx context.Context, userID, event string, payload any)

	// PublishToRole targets every connected session holding the role.
	PublishToRole(ctx context.Context, role, event string, payload any)

	// PublishToAll targets every connected session.
	PublishToAll(ctx context.Context, event string, payload any)
}

// Event is the envelope delivered to subscribers.
type Event struct {
	Name    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

// Target keys shared by all Bus implementations.
func userTarget(userID string) string { return "user:" + userID }
func roleTarget(role string) string   { return "role:" + role }

const allTarget = "all"
