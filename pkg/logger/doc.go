// Package logger provides a thin factory around Go's slog package with
// functional options for configuration and helper attribute constructors.
//
// The package standardises structured logging across the module by exposing a
// single factory - New - that creates a *slog.Logger configured by a set of
// Option functions, plus helper constructors (Error, UserID, NotificationID,
// ...) that keep attribute naming consistent across packages.
//
//	log := logger.New(logger.WithDevelopment("notifykit"))
//	log.InfoContext(ctx, "notification stored",
//	    logger.UserID(userID),
//	    logger.NotificationID(id),
//	)
package logger
