package push

// Message is the provider-agnostic push payload.
type Message struct {
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	ImageURL string         `json:"image_url,omitempty"`
	Template string         `json:"template,omitempty"` // provider-side layout hint
	Priority string         `json:"priority,omitempty"` // "normal" or "high"
	Data     map[string]any `json:"data,omitempty"`     // opaque, passed through unvalidated
}

// Result is the outcome of a single send attempt.
type Result struct {
	Success      bool
	MessageID    string
	Err          error
	InvalidToken bool
}

// BatchResult aggregates the outcome of a chunked batch send.
// FailedTokens is a superset of InvalidTokens: it includes every token whose
// send did not succeed, whether the failure was transient or a dead token.
type BatchResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
	FailedTokens  []string
}
