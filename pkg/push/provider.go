package push

import "context"

// Provider is the wire-level contract with a concrete push service.
// Implementations must classify provider responses: a Result with
// InvalidToken set means the provider confirmed the token is dead.
type Provider interface {
	// Send delivers the message to a single device token.
	Send(ctx context.Context, token string, msg Message) Result

	// SendMulticast delivers the message to up to MaxBatchSize tokens.
	// The returned slice is positionally aligned with the input tokens.
	// A non-nil error means the whole call failed before any per-token
	// outcome was obtained.
	SendMulticast(ctx context.Context, tokens []string, msg Message) ([]Result, error)

	// MaxBatchSize is the provider's maximum multicast size.
	MaxBatchSize() int
}
