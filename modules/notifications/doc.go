// Package notifications exposes the operational HTTP surface of the
// notification subsystem: listing and read-state endpoints for clients, and
// send/sweep endpoints for operators and internal services.
//
// The module is a thin chi router over the core operations; it owns no
// business logic. Mount it behind the application's auth middleware and
// tell it how to resolve the authenticated user:
//
//	r.Mount("/notifications", notifications.Router(notifications.RouterOptions{
//	    Service: svc,
//	    Sweeper: sweeper,
//	    UserID:  func(r *http.Request) string { return session.UserID(r.Context()) },
//	}))
package notifications
