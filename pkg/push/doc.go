// Package push wraps an external mobile push provider behind a small
// gateway with error classification.
//
// The package separates two concerns:
//
//   - Provider: the wire protocol of a concrete push service. HTTPProvider
//     implements an FCM-v1-style JSON API; tests substitute a scripted fake.
//   - Gateway: policy around the provider - bounded per-call timeouts,
//     deterministic chunking for batch sends, and classification of provider
//     errors into transient failures vs. confirmed-dead device tokens.
//
// A confirmed-dead token (reported as unregistered or mismatched by the
// provider) is surfaced via Result.InvalidToken so callers can clear the
// stored credential. Every other failure, including timeouts and quota
// errors, is transient and safe to retry.
//
//	provider := push.NewHTTPProvider(cfg.Endpoint,
//	    push.WithTokenSource(tokenSource),
//	)
//	gateway := push.New(provider, push.WithTimeout(cfg.Timeout))
//
//	res := gateway.Send(ctx, deviceToken, push.Message{
//	    Title: "New incident",
//	    Body:  "Server room temperature above threshold",
//	})
//	if res.InvalidToken {
//	    // clear the stored device token
//	}
package push
