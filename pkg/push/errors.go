package push

import "errors"

var (
	// ErrEmptyToken is returned when a send is attempted without a device token.
	ErrEmptyToken = errors.New("device token is empty")

	// ErrSendFailed wraps any provider-side delivery failure.
	ErrSendFailed = errors.New("push send failed")

	// ErrInvalidToken marks a failure where the provider confirmed the device
	// token is no longer valid (unregistered, not found, or mismatched sender).
	ErrInvalidToken = errors.New("device token rejected by provider")

	// ErrTimeout marks a send attempt that exceeded the gateway timeout.
	// Timeouts are always classified as transient, never as invalid tokens.
	ErrTimeout = errors.New("push request timed out")
)
