package push

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultTimeout bounds every provider call made by the gateway.
const DefaultTimeout = 10 * time.Second

// Gateway applies delivery policy on top of a Provider: bounded timeouts,
// deterministic batch chunking, and failure isolation between chunks.
type Gateway struct {
	provider Provider
	timeout  time.Duration
	logger   *slog.Logger
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithTimeout sets the per-call timeout for provider requests.
func WithTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithLogger sets the logger for the Gateway.
func WithLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New creates a Gateway around the given provider.
func New(provider Provider, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		provider: provider,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Send delivers the message to a single device token with a bounded timeout.
// The returned Result carries the classification; Send never panics or blocks
// beyond the configured timeout.
func (g *Gateway) Send(ctx context.Context, token string, msg Message) Result {
	if token == "" {
		return Result{Err: ErrEmptyToken}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	res := g.provider.Send(ctx, token, msg)

	// A timeout is a transient failure regardless of what the provider
	// implementation reported; it must never clear a token.
	if res.Err != nil && errors.Is(res.Err, context.DeadlineExceeded) {
		res.Err = errors.Join(ErrTimeout, res.Err)
		res.InvalidToken = false
		res.Success = false
	}

	return res
}

// SendBatch delivers the message to all tokens, splitting them into
// fixed-size ordered chunks at the provider's maximum multicast size.
// Each chunk is sent independently: a chunk-level failure counts as failures
// for that chunk only and does not abort the remaining chunks.
func (g *Gateway) SendBatch(ctx context.Context, tokens []string, msg Message) BatchResult {
	var batch BatchResult
	if len(tokens) == 0 {
		return batch
	}

	for _, chunk := range chunkTokens(tokens, g.provider.MaxBatchSize()) {
		results, err := g.sendChunk(ctx, chunk, msg)
		if err != nil {
			batch.FailureCount += len(chunk)
			batch.FailedTokens = append(batch.FailedTokens, chunk...)
			g.logger.LogAttrs(ctx, slog.LevelWarn, "push batch chunk failed",
				slog.Int("chunk_size", len(chunk)),
				slog.Any("error", err),
			)
			continue
		}

		for i, res := range results {
			if res.Success {
				batch.SuccessCount++
				continue
			}
			batch.FailureCount++
			batch.FailedTokens = append(batch.FailedTokens, chunk[i])
			if res.InvalidToken {
				batch.InvalidTokens = append(batch.InvalidTokens, chunk[i])
			}
		}
	}

	return batch
}

func (g *Gateway) sendChunk(ctx context.Context, chunk []string, msg Message) ([]Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	results, err := g.provider.SendMulticast(ctx, chunk, msg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errors.Join(ErrTimeout, err)
		}
		return nil, errors.Join(ErrSendFailed, err)
	}
	if len(results) != len(chunk) {
		return nil, errors.Join(ErrSendFailed, errors.New("provider returned misaligned multicast results"))
	}

	return results, nil
}

// chunkTokens splits tokens into ordered slices of at most size elements.
// Slicing is stable: input order is preserved and no token appears twice.
func chunkTokens(tokens []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}

	chunks := make([][]string, 0, (len(tokens)+size-1)/size)
	for start := 0; start < len(tokens); start += size {
		end := min(start+size, len(tokens))
		chunks = append(chunks, tokens[start:end])
	}
	return chunks
}
