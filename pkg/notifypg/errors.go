package notifypg

import "errors"

var (
	// ErrFailedToParseDBConfig is returned when the connection string is invalid.
	ErrFailedToParseDBConfig = errors.New("failed to parse database config")

	// ErrFailedToOpenDBConnection is returned when all connection attempts fail.
	ErrFailedToOpenDBConnection = errors.New("failed to open database connection")

	// ErrFailedToApplyMigrations is returned when schema migration fails.
	ErrFailedToApplyMigrations = errors.New("failed to apply database migrations")
)
