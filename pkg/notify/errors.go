package notify

import "errors"

var (
	// ErrValidation is returned when a create payload misses a required field.
	// It is rejected before anything is persisted.
	ErrValidation = errors.New("notification validation failed")

	// ErrNotFound is returned for an unknown notification id, or an id that
	// is not owned by the requesting user.
	ErrNotFound = errors.New("notification not found")

	// ErrSweepInProgress is returned when a sweep is started while another
	// one is still running in this process.
	ErrSweepInProgress = errors.New("pending push sweep already in progress")
)
