package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultMaxBatchSize matches the multicast limit of common push services.
const DefaultMaxBatchSize = 500

// HTTPProvider talks to an FCM-v1-style push API: single JSON POST per
// message, OAuth2 bearer authentication, structured error responses.
type HTTPProvider struct {
	endpoint     string
	client       *http.Client
	maxBatchSize int
}

// ProviderOption configures an HTTPProvider.
type ProviderOption func(*HTTPProvider)

// WithHTTPClient sets a custom HTTP client, e.g. for tests or proxies.
// Nil clients are ignored.
func WithHTTPClient(client *http.Client) ProviderOption {
	return func(p *HTTPProvider) {
		if client != nil {
			p.client = client
		}
	}
}

// WithTokenSource authenticates requests with OAuth2 bearer tokens minted by
// the given source, as FCM-v1-style APIs require for service accounts.
func WithTokenSource(ts oauth2.TokenSource) ProviderOption {
	return func(p *HTTPProvider) {
		if ts == nil {
			return
		}
		base := p.client
		p.client = &http.Client{
			Timeout: base.Timeout,
			Transport: &oauth2.Transport{
				Source: ts,
				Base:   base.Transport,
			},
		}
	}
}

// WithMaxBatchSize overrides the provider multicast limit.
func WithMaxBatchSize(n int) ProviderOption {
	return func(p *HTTPProvider) {
		if n > 0 {
			p.maxBatchSize = n
		}
	}
}

// NewHTTPProvider creates a provider posting to the given messages endpoint.
// Connection pooling mirrors a long-lived outbound integration: one endpoint,
// moderate concurrency, idle connections reclaimed.
func NewHTTPProvider(endpoint string, opts ...ProviderOption) *HTTPProvider {
	p := &HTTPProvider{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 30 * time.Second, // hard cap; the gateway applies the real per-call timeout
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		maxBatchSize: DefaultMaxBatchSize,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// sendRequest is the provider wire format.
type sendRequest struct {
	Message sendMessage `json:"message"`
}

type sendMessage struct {
	Token        string            `json:"token"`
	Notification wireNotification  `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
	Android      *androidConfig    `json:"android,omitempty"`
}

type wireNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Image string `json:"image,omitempty"`
}

type androidConfig struct {
	Priority string `json:"priority,omitempty"`
}

type sendResponse struct {
	Name string `json:"name"` // provider-assigned message id
}

type errorResponse struct {
	Error struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Details []struct {
			ErrorCode string `json:"errorCode"`
		} `json:"details"`
	} `json:"error"`
}

func (p *HTTPProvider) Send(ctx context.Context, token string, msg Message) Result {
	body, err := json.Marshal(sendRequest{Message: buildWireMessage(token, msg)})
	if err != nil {
		return Result{Err: fmt.Errorf("marshal push payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{Err: fmt.Errorf("create push request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Result{Err: fmt.Errorf("%w: %w", context.DeadlineExceeded, err)}
		}
		return Result{Err: errors.Join(ErrSendFailed, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	// 64KB limit prevents memory exhaustion on misbehaving endpoints.
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var ok sendResponse
		_ = json.Unmarshal(respBody, &ok)
		return Result{Success: true, MessageID: ok.Name}
	}

	return classifyError(resp.StatusCode, respBody)
}

// SendMulticast sends the message to each token sequentially over the single
// message endpoint. The v1-style API has no multicast call, so MaxBatchSize
// only bounds how much work a single gateway chunk represents.
func (p *HTTPProvider) SendMulticast(ctx context.Context, tokens []string, msg Message) ([]Result, error) {
	results := make([]Result, len(tokens))
	for i, token := range tokens {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results[i] = p.Send(ctx, token, msg)
	}
	return results, nil
}

func (p *HTTPProvider) MaxBatchSize() int {
	return p.maxBatchSize
}

// classifyError maps a provider error response onto the Result taxonomy.
// Only codes meaning "this registration no longer exists" flag the token as
// invalid; quota, argument, and server errors stay transient.
func classifyError(statusCode int, body []byte) Result {
	var apiErr errorResponse
	_ = json.Unmarshal(body, &apiErr)

	code := apiErr.Error.Status
	for _, d := range apiErr.Error.Details {
		if d.ErrorCode != "" {
			code = d.ErrorCode
		}
	}

	invalid := false
	switch strings.ToUpper(code) {
	case "UNREGISTERED", "NOT_FOUND", "SENDER_ID_MISMATCH":
		invalid = true
	default:
		// 404/410 without a parseable body still mean the registration is gone.
		if statusCode == http.StatusNotFound || statusCode == http.StatusGone {
			invalid = true
		}
	}

	msg := apiErr.Error.Message
	if msg == "" {
		msg = strings.ReplaceAll(string(body), "\n", " ")
		if len(msg) > 200 {
			msg = msg[:200] + "..."
		}
	}

	err := fmt.Errorf("%w: status %d: %s", ErrSendFailed, statusCode, msg)
	if invalid {
		err = errors.Join(ErrInvalidToken, err)
	}

	return Result{Err: err, InvalidToken: invalid}
}

func buildWireMessage(token string, msg Message) sendMessage {
	wire := sendMessage{
		Token: token,
		Notification: wireNotification{
			Title: msg.Title,
			Body:  msg.Body,
			Image: msg.ImageURL,
		},
		Data: stringifyData(msg),
	}
	if msg.Priority != "" {
		wire.Android = &androidConfig{Priority: msg.Priority}
	}
	return wire
}

// stringifyData flattens the opaque payload into the string map the wire
// format requires. Scalars use their natural representation; everything else
// is embedded as JSON. The payload itself is never validated or reshaped.
func stringifyData(msg Message) map[string]string {
	if len(msg.Data) == 0 && msg.Template == "" {
		return nil
	}

	data := make(map[string]string, len(msg.Data)+1)
	for k, v := range msg.Data {
		switch val := v.(type) {
		case string:
			data[k] = val
		case fmt.Stringer:
			data[k] = val.String()
		case nil:
			data[k] = ""
		default:
			if raw, err := json.Marshal(val); err == nil {
				data[k] = string(raw)
			} else {
				data[k] = fmt.Sprint(val)
			}
		}
	}
	if msg.Template != "" {
		data["template"] = msg.Template
	}
	return data
}
