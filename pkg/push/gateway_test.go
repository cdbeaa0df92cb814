package push

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider scripts per-token outcomes and records every call.
type fakeProvider struct {
	maxBatchSize int
	sendFn       func(ctx context.Context, token string, msg Message) Result
	multicastFn  func(ctx context.Context, tokens []string, msg Message) ([]Result, error)

	multicastCalls [][]string
}

func (p *fakeProvider) Send(ctx context.Context, token string, msg Message) Result {
	if p.sendFn != nil {
		return p.sendFn(ctx, token, msg)
	}
	return Result{Success: true}
}

func (p *fakeProvider) SendMulticast(ctx context.Context, tokens []string, msg Message) ([]Result, error) {
	p.multicastCalls = append(p.multicastCalls, append([]string(nil), tokens...))
	if p.multicastFn != nil {
		return p.multicastFn(ctx, tokens, msg)
	}
	results := make([]Result, len(tokens))
	for i := range results {
		results[i] = Result{Success: true}
	}
	return results, nil
}

func (p *fakeProvider) MaxBatchSize() int {
	if p.maxBatchSize > 0 {
		return p.maxBatchSize
	}
	return 500
}

func TestGateway_Send(t *testing.T) {
	t.Run("empty token", func(t *testing.T) {
		g := New(&fakeProvider{})

		res := g.Send(context.Background(), "", Message{Title: "t"})

		assert.False(t, res.Success)
		assert.ErrorIs(t, res.Err, ErrEmptyToken)
		assert.False(t, res.InvalidToken)
	})

	t.Run("success passes through", func(t *testing.T) {
		provider := &fakeProvider{
			sendFn: func(ctx context.Context, token string, msg Message) Result {
				return Result{Success: true, MessageID: "msg-1"}
			},
		}
		g := New(provider)

		res := g.Send(context.Background(), "token-1", Message{Title: "t"})

		assert.True(t, res.Success)
		assert.Equal(t, "msg-1", res.MessageID)
	})

	t.Run("timeout is transient and never invalidates the token", func(t *testing.T) {
		provider := &fakeProvider{
			sendFn: func(ctx context.Context, token string, msg Message) Result {
				// Provider misclassifies a timeout as a dead token; the
				// gateway must override it.
				return Result{Err: context.DeadlineExceeded, InvalidToken: true}
			},
		}
		g := New(provider)

		res := g.Send(context.Background(), "token-1", Message{Title: "t"})

		assert.False(t, res.Success)
		assert.ErrorIs(t, res.Err, ErrTimeout)
		assert.False(t, res.InvalidToken)
	})

	t.Run("invalid token classification passes through", func(t *testing.T) {
		provider := &fakeProvider{
			sendFn: func(ctx context.Context, token string, msg Message) Result {
				return Result{Err: ErrInvalidToken, InvalidToken: true}
			},
		}
		g := New(provider)

		res := g.Send(context.Background(), "token-1", Message{Title: "t"})

		assert.False(t, res.Success)
		assert.True(t, res.InvalidToken)
	})
}

func TestGateway_SendBatch_Chunking(t *testing.T) {
	// 1200 tokens at a batch size of 500 must produce exactly three provider
	// calls of 500, 500 and 200 tokens, in input order, with no duplicates.
	tokens := make([]string, 1200)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("token-%04d", i)
	}

	provider := &fakeProvider{maxBatchSize: 500}
	g := New(provider)

	batch := g.SendBatch(context.Background(), tokens, Message{Title: "t"})

	require.Len(t, provider.multicastCalls, 3)
	assert.Len(t, provider.multicastCalls[0], 500)
	assert.Len(t, provider.multicastCalls[1], 500)
	assert.Len(t, provider.multicastCalls[2], 200)

	var flattened []string
	for _, call := range provider.multicastCalls {
		flattened = append(flattened, call...)
	}
	assert.Equal(t, tokens, flattened)

	assert.Equal(t, 1200, batch.SuccessCount)
	assert.Zero(t, batch.FailureCount)
	assert.Empty(t, batch.FailedTokens)
}

func TestGateway_SendBatch_ChunkFailureIsolation(t *testing.T) {
	tokens := []string{"a", "b", "c", "d", "e"}

	calls := 0
	provider := &fakeProvider{
		maxBatchSize: 2,
		multicastFn: func(ctx context.Context, chunk []string, msg Message) ([]Result, error) {
			calls++
			if calls == 2 {
				return nil, errors.New("provider unavailable")
			}
			results := make([]Result, len(chunk))
			for i := range results {
				results[i] = Result{Success: true}
			}
			return results, nil
		},
	}
	g := New(provider)

	batch := g.SendBatch(context.Background(), tokens, Message{Title: "t"})

	// Chunks: [a b] ok, [c d] failed, [e] ok.
	assert.Equal(t, 3, batch.SuccessCount)
	assert.Equal(t, 2, batch.FailureCount)
	assert.Equal(t, []string{"c", "d"}, batch.FailedTokens)
	assert.Empty(t, batch.InvalidTokens)
}

func TestGateway_SendBatch_PerTokenOutcomes(t *testing.T) {
	tokens := []string{"ok", "dead", "flaky"}

	provider := &fakeProvider{
		maxBatchSize: 10,
		multicastFn: func(ctx context.Context, chunk []string, msg Message) ([]Result, error) {
			return []Result{
				{Success: true},
				{Err: ErrInvalidToken, InvalidToken: true},
				{Err: ErrSendFailed},
			}, nil
		},
	}
	g := New(provider)

	batch := g.SendBatch(context.Background(), tokens, Message{Title: "t"})

	assert.Equal(t, 1, batch.SuccessCount)
	assert.Equal(t, 2, batch.FailureCount)
	assert.Equal(t, []string{"dead", "flaky"}, batch.FailedTokens)
	assert.Equal(t, []string{"dead"}, batch.InvalidTokens)
}

func TestGateway_SendBatch_MisalignedResults(t *testing.T) {
	tokens := []string{"a", "b"}

	provider := &fakeProvider{
		maxBatchSize: 10,
		multicastFn: func(ctx context.Context, chunk []string, msg Message) ([]Result, error) {
			return []Result{{Success: true}}, nil // one result short
		},
	}
	g := New(provider)

	batch := g.SendBatch(context.Background(), tokens, Message{Title: "t"})

	// Misaligned results cannot be attributed per token, so the whole chunk
	// counts as transient failures and no token is marked invalid.
	assert.Zero(t, batch.SuccessCount)
	assert.Equal(t, 2, batch.FailureCount)
	assert.Equal(t, tokens, batch.FailedTokens)
	assert.Empty(t, batch.InvalidTokens)
}

func TestGateway_SendBatch_Empty(t *testing.T) {
	provider := &fakeProvider{}
	g := New(provider)

	batch := g.SendBatch(context.Background(), nil, Message{Title: "t"})

	assert.Zero(t, batch.SuccessCount)
	assert.Zero(t, batch.FailureCount)
	assert.Empty(t, provider.multicastCalls)
}

func TestChunkTokens(t *testing.T) {
	tests := []struct {
		name   string
		tokens []string
		size   int
		want   [][]string
	}{
		{
			name:   "even split",
			tokens: []string{"a", "b", "c", "d"},
			size:   2,
			want:   [][]string{{"a", "b"}, {"c", "d"}},
		},
		{
			name:   "remainder chunk",
			tokens: []string{"a", "b", "c"},
			size:   2,
			want:   [][]string{{"a", "b"}, {"c"}},
		},
		{
			name:   "single chunk",
			tokens: []string{"a"},
			size:   500,
			want:   [][]string{{"a"}},
		},
		{
			name:   "zero size falls back to one",
			tokens: []string{"a", "b"},
			size:   0,
			want:   [][]string{{"a"}, {"b"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, chunkTokens(tt.tokens, tt.size))
		})
	}
}
