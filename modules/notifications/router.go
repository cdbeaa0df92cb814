package notifications

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/notifykit/pkg/notify"
	"github.com/dmitrymomot/notifykit/pkg/push"
)

// RouterOptions configures which operations the module exposes. Service and
// UserID are required; operator endpoints are only mounted when their
// collaborator is provided.
type RouterOptions struct {
	Service *notify.Service

	// UserID resolves the authenticated user from the request, usually out
	// of the session the surrounding application installed. Empty means
	// unauthenticated and the request is rejected.
	UserID func(r *http.Request) string

	// Sweeper enables POST /sweep.
	Sweeper *notify.Sweeper

	// Gateway enables POST /push/test for direct delivery checks.
	Gateway *push.Gateway

	Logger *slog.Logger
}

// Router creates the notifications module router.
//
// Example:
//
//	r := chi.NewRouter()
//	r.Mount("/notifications", notifications.Router(notifications.RouterOptions{
//	    Service: svc,
//	    Sweeper: sweeper,
//	    UserID:  sessionUserID,
//	}))
func Router(opts RouterOptions) chi.Router {
	if opts.Service == nil {
		panic("notifications: RouterOptions.Service is required")
	}
	if opts.UserID == nil {
		panic("notifications: RouterOptions.UserID is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	h := &handlers{
		svc:     opts.Service,
		sweeper: opts.Sweeper,
		gateway: opts.Gateway,
		userID:  opts.UserID,
		log:     opts.Logger,
	}

	r := chi.NewRouter()

	r.Get("/", h.list)
	r.Get("/unread-count", h.unreadCount)
	r.Post("/read-all", h.markAllRead)
	r.Get("/{id}", h.get)
	r.Post("/{id}/read", h.markRead)
	r.Post("/{id}/dismiss", h.dismiss)
	r.Delete("/{id}", h.remove)

	r.Post("/push/send", h.send)
	if opts.Gateway != nil {
		r.Post("/push/test", h.testPush)
	}
	if opts.Sweeper != nil {
		r.Post("/sweep", h.sweep)
	}

	return r
}
