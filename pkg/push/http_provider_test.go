package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProvider_Send(t *testing.T) {
	t.Run("success returns provider message id", func(t *testing.T) {
		var gotReq sendRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
			_ = json.NewEncoder(w).Encode(sendResponse{Name: "projects/x/messages/123"})
		}))
		defer srv.Close()

		p := NewHTTPProvider(srv.URL)
		res := p.Send(context.Background(), "token-1", Message{
			Title:    "Title",
			Body:     "Body",
			Template: "chat",
			Priority: "high",
			Data:     map[string]any{"thread": "t-9", "count": 3},
		})

		require.NoError(t, res.Err)
		assert.True(t, res.Success)
		assert.Equal(t, "projects/x/messages/123", res.MessageID)

		assert.Equal(t, "token-1", gotReq.Message.Token)
		assert.Equal(t, "Title", gotReq.Message.Notification.Title)
		assert.Equal(t, "chat", gotReq.Message.Data["template"])
		assert.Equal(t, "t-9", gotReq.Message.Data["thread"])
		assert.Equal(t, "3", gotReq.Message.Data["count"])
		require.NotNil(t, gotReq.Message.Android)
		assert.Equal(t, "high", gotReq.Message.Android.Priority)
	})

	t.Run("unregistered token is invalid", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"status":"NOT_FOUND","message":"Requested entity was not found.","details":[{"errorCode":"UNREGISTERED"}]}}`))
		}))
		defer srv.Close()

		p := NewHTTPProvider(srv.URL)
		res := p.Send(context.Background(), "dead-token", Message{Title: "t", Body: "b"})

		assert.False(t, res.Success)
		assert.True(t, res.InvalidToken)
		assert.ErrorIs(t, res.Err, ErrInvalidToken)
	})

	t.Run("gone without body is invalid", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusGone)
		}))
		defer srv.Close()

		p := NewHTTPProvider(srv.URL)
		res := p.Send(context.Background(), "dead-token", Message{Title: "t", Body: "b"})

		assert.True(t, res.InvalidToken)
	})

	t.Run("server error is transient", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"status":"UNAVAILABLE","message":"try later"}}`))
		}))
		defer srv.Close()

		p := NewHTTPProvider(srv.URL)
		res := p.Send(context.Background(), "token-1", Message{Title: "t", Body: "b"})

		assert.False(t, res.Success)
		assert.False(t, res.InvalidToken)
		assert.ErrorIs(t, res.Err, ErrSendFailed)
	})

	t.Run("quota error is transient", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"status":"QUOTA_EXCEEDED","message":"quota"}}`))
		}))
		defer srv.Close()

		p := NewHTTPProvider(srv.URL)
		res := p.Send(context.Background(), "token-1", Message{Title: "t", Body: "b"})

		assert.False(t, res.InvalidToken)
	})

	t.Run("context deadline surfaces as deadline exceeded", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		p := NewHTTPProvider(srv.URL)
		res := p.Send(ctx, "token-1", Message{Title: "t", Body: "b"})

		assert.False(t, res.Success)
		assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
		assert.False(t, res.InvalidToken)
	})
}

func TestHTTPProvider_SendMulticast(t *testing.T) {
	var tokens []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		tokens = append(tokens, req.Message.Token)
		_ = json.NewEncoder(w).Encode(sendResponse{Name: "m-" + req.Message.Token})
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL)
	results, err := p.SendMulticast(context.Background(), []string{"a", "b", "c"}, Message{Title: "t", Body: "b"})

	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"a", "b", "c"}, tokens)
	for _, res := range results {
		assert.True(t, res.Success)
	}
}

func TestStringifyData(t *testing.T) {
	data := stringifyData(Message{
		Template: "alert",
		Data: map[string]any{
			"str":    "v",
			"num":    42,
			"nested": map[string]any{"k": "v"},
			"empty":  nil,
		},
	})

	assert.Equal(t, "alert", data["template"])
	assert.Equal(t, "v", data["str"])
	assert.Equal(t, "42", data["num"])
	assert.JSONEq(t, `{"k":"v"}`, data["nested"])
	assert.Equal(t, "", data["empty"])

	assert.Nil(t, stringifyData(Message{}))
}
