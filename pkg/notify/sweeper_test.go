package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/push"
)

// blockingGateway holds every Send until released, to force sweep overlap.
type blockingGateway struct {
	entered chan struct{}
	release chan struct{}
}

func (g *blockingGateway) Send(ctx context.Context, token string, msg push.Message) push.Result {
	g.entered <- struct{}{}
	<-g.release
	return push.Result{Success: true}
}

func (g *blockingGateway) SendBatch(ctx context.Context, tokens []string, msg push.Message) push.BatchResult {
	return push.BatchResult{}
}

func TestSweeper_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("retries pending rows most urgent then oldest first", func(t *testing.T) {
		tokens := NewMemoryTokenStore()
		tokens.SetDeviceToken("user-1", "token-1")
		storage := NewMemoryStorage(tokens)

		now := time.Now()
		seedNotification(t, storage, Notification{ID: "normal-old", RecipientID: "user-1", Title: "t", Body: "b", Priority: PriorityNormal, CreatedAt: now.Add(-2 * time.Hour)})
		seedNotification(t, storage, Notification{ID: "normal-new", RecipientID: "user-1", Title: "t", Body: "b", Priority: PriorityNormal, CreatedAt: now.Add(-time.Hour)})
		seedNotification(t, storage, Notification{ID: "high", RecipientID: "user-1", Title: "t", Body: "b", Priority: PriorityHigh, CreatedAt: now})

		gateway := &stubGateway{sendResult: push.Result{Success: true}}
		sweeper := NewSweeper(storage, gateway, WithSweeperTokenStore(tokens))

		res, err := sweeper.Run(ctx, 0)
		require.NoError(t, err)

		assert.Equal(t, SweepResult{Processed: 3, Sent: 3}, res)

		// High priority first despite being the newest row, then oldest.
		require.Len(t, gateway.sendMsgs, 3)
		sentOrder := make([]string, len(gateway.sendMsgs))
		for i, msg := range gateway.sendMsgs {
			sentOrder[i] = msg.Data["notification_id"].(string)
		}
		assert.Equal(t, []string{"high", "normal-old", "normal-new"}, sentOrder)

		for _, id := range []string{"normal-old", "normal-new", "high"} {
			n, err := storage.Get(ctx, id)
			require.NoError(t, err)
			assert.True(t, n.IsPushSent)
		}

		// A second pass finds nothing.
		res, err = sweeper.Run(ctx, 0)
		require.NoError(t, err)
		assert.Zero(t, res.Processed)
	})

	t.Run("transient failure keeps the row pending and the token intact", func(t *testing.T) {
		tokens := NewMemoryTokenStore()
		tokens.SetDeviceToken("user-1", "token-1")
		storage := NewMemoryStorage(tokens)
		seedNotification(t, storage, Notification{ID: "n-1", RecipientID: "user-1", Title: "t", Body: "b"})

		gateway := &stubGateway{sendResult: push.Result{Err: push.ErrTimeout}}
		sweeper := NewSweeper(storage, gateway, WithSweeperTokenStore(tokens))

		res, err := sweeper.Run(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, SweepResult{Processed: 1, Failed: 1}, res)

		n, err := storage.Get(ctx, "n-1")
		require.NoError(t, err)
		assert.False(t, n.IsPushSent)
		assert.NotEmpty(t, n.PushError)

		token, err := tokens.DeviceToken(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, "token-1", token)
	})

	t.Run("invalid token is cleared so the row is not reselected", func(t *testing.T) {
		tokens := NewMemoryTokenStore()
		tokens.SetDeviceToken("user-1", "dead-token")
		storage := NewMemoryStorage(tokens)
		seedNotification(t, storage, Notification{ID: "n-1", RecipientID: "user-1", Title: "t", Body: "b"})

		gateway := &stubGateway{sendResult: push.Result{Err: push.ErrInvalidToken, InvalidToken: true}}
		sweeper := NewSweeper(storage, gateway, WithSweeperTokenStore(tokens))

		res, err := sweeper.Run(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, SweepResult{Processed: 1, Failed: 1}, res)

		token, err := tokens.DeviceToken(ctx, "user-1")
		require.NoError(t, err)
		assert.Empty(t, token)

		// The row stays failed but is no longer selectable without a token.
		res, err = sweeper.Run(ctx, 0)
		require.NoError(t, err)
		assert.Zero(t, res.Processed)
	})

	t.Run("limit bounds one pass", func(t *testing.T) {
		tokens := NewMemoryTokenStore()
		tokens.SetDeviceToken("user-1", "token-1")
		storage := NewMemoryStorage(tokens)
		for _, id := range []string{"n-1", "n-2", "n-3"} {
			seedNotification(t, storage, Notification{ID: id, RecipientID: "user-1", Title: "t", Body: "b"})
		}

		gateway := &stubGateway{sendResult: push.Result{Success: true}}
		sweeper := NewSweeper(storage, gateway, WithSweeperTokenStore(tokens))

		res, err := sweeper.Run(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Processed)

		res, err = sweeper.Run(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Processed)
	})

	t.Run("overlapping runs are rejected", func(t *testing.T) {
		tokens := NewMemoryTokenStore()
		tokens.SetDeviceToken("user-1", "token-1")
		storage := NewMemoryStorage(tokens)
		seedNotification(t, storage, Notification{ID: "n-1", RecipientID: "user-1", Title: "t", Body: "b"})

		gateway := &blockingGateway{
			entered: make(chan struct{}),
			release: make(chan struct{}),
		}
		sweeper := NewSweeper(storage, gateway, WithSweeperTokenStore(tokens))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sweeper.Run(ctx, 0)
			assert.NoError(t, err)
		}()

		<-gateway.entered // first run is mid-send

		_, err := sweeper.Run(ctx, 0)
		assert.ErrorIs(t, err, ErrSweepInProgress)

		close(gateway.release)
		wg.Wait()

		// The guard resets once the first run finishes.
		_, err = sweeper.Run(ctx, 0)
		assert.NoError(t, err)
	})
}

func TestSweeper_Cleanup(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage(nil)

	now := time.Now()
	past := now.Add(-time.Hour)
	longAgo := now.Add(-60 * 24 * time.Hour)

	seedNotification(t, storage, Notification{ID: "expired", RecipientID: "user-1", Title: "t", Body: "b", ExpiresAt: &past})
	seedNotification(t, storage, Notification{ID: "old-read", RecipientID: "user-1", Title: "t", Body: "b", IsRead: true, ReadAt: &longAgo})
	seedNotification(t, storage, Notification{ID: "kept", RecipientID: "user-1", Title: "t", Body: "b"})

	sweeper := NewSweeper(storage, &stubGateway{})

	res, err := sweeper.Cleanup(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, CleanupResult{Expired: 1, OldRead: 1}, res)

	_, err = storage.Get(ctx, "kept")
	assert.NoError(t, err)
}
