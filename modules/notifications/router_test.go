package notifications_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/modules/notifications"
	"github.com/dmitrymomot/notifykit/pkg/notify"
)

func newTestServer(t *testing.T) (*httptest.Server, *notify.Service, *notify.MemoryStorage) {
	t.Helper()

	tokens := notify.NewMemoryTokenStore()
	storage := notify.NewMemoryStorage(tokens)
	svc := notify.NewService(storage, notify.WithTokenStore(tokens))

	router := notifications.Router(notifications.RouterOptions{
		Service: svc,
		UserID:  func(r *http.Request) string { return r.Header.Get("X-User-ID") },
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, svc, storage
}

func doRequest(t *testing.T, method, url, userID, body string) (*http.Response, map[string]any) {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func seedUserNotification(t *testing.T, svc *notify.Service, userID, title string) *notify.Notification {
	t.Helper()
	n, err := svc.Create(context.Background(), notify.CreateParams{
		RecipientID: userID,
		Title:       title,
		Body:        "body",
	})
	require.NoError(t, err)
	svc.Wait()
	return n
}

func TestRouter_List(t *testing.T) {
	srv, svc, _ := newTestServer(t)

	seedUserNotification(t, svc, "user-1", "first")
	seedUserNotification(t, svc, "user-1", "second")
	seedUserNotification(t, svc, "user-2", "other")

	resp, body := doRequest(t, http.MethodGet, srv.URL+"/?limit=10", "user-1", "")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].([]any)
	assert.Len(t, data, 2)
	meta := body["meta"].(map[string]any)
	assert.EqualValues(t, 2, meta["total"])
}

func TestRouter_Unauthorized(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, body := doRequest(t, http.MethodGet, srv.URL+"/", "", "")

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	errDetail := body["error"].(map[string]any)
	assert.Equal(t, "unauthorized", errDetail["code"])
}

func TestRouter_MarkReadAndUnreadCount(t *testing.T) {
	srv, svc, _ := newTestServer(t)
	n := seedUserNotification(t, svc, "user-1", "first")
	seedUserNotification(t, svc, "user-1", "second")

	resp, body := doRequest(t, http.MethodGet, srv.URL+"/unread-count", "user-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["data"].(map[string]any)["total"])

	resp, _ = doRequest(t, http.MethodPost, srv.URL+"/"+n.ID+"/read", "user-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doRequest(t, http.MethodGet, srv.URL+"/unread-count", "user-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["data"].(map[string]any)["total"])

	t.Run("foreign notification is 404", func(t *testing.T) {
		resp, body := doRequest(t, http.MethodPost, srv.URL+"/"+n.ID+"/read", "user-2", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "not_found", body["error"].(map[string]any)["code"])
	})
}

func TestRouter_ReadAll(t *testing.T) {
	srv, svc, _ := newTestServer(t)
	seedUserNotification(t, svc, "user-1", "first")
	seedUserNotification(t, svc, "user-1", "second")

	resp, body := doRequest(t, http.MethodPost, srv.URL+"/read-all", "user-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["data"].(map[string]any)["updated"])
}

func TestRouter_DismissHidesFromList(t *testing.T) {
	srv, svc, _ := newTestServer(t)
	n := seedUserNotification(t, svc, "user-1", "first")

	resp, _ := doRequest(t, http.MethodPost, srv.URL+"/"+n.ID+"/dismiss", "user-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doRequest(t, http.MethodGet, srv.URL+"/", "user-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, body["data"])
	assert.EqualValues(t, 0, body["meta"].(map[string]any)["total"])
}

func TestRouter_Send(t *testing.T) {
	srv, svc, _ := newTestServer(t)

	t.Run("single recipient", func(t *testing.T) {
		resp, body := doRequest(t, http.MethodPost, srv.URL+"/push/send", "operator",
			`{"recipient_id":"user-1","title":"Hello","body":"World"}`)
		svc.Wait()

		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		data := body["data"].(map[string]any)
		assert.Equal(t, "user-1", data["recipient_id"])
		assert.Equal(t, "Hello", data["title"])
	})

	t.Run("fan-out", func(t *testing.T) {
		resp, body := doRequest(t, http.MethodPost, srv.URL+"/push/send", "operator",
			`{"recipient_ids":["user-2","user-3"],"title":"Hello","body":"World"}`)
		svc.Wait()

		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.EqualValues(t, 2, body["data"].(map[string]any)["created"])
	})

	t.Run("validation error", func(t *testing.T) {
		resp, body := doRequest(t, http.MethodPost, srv.URL+"/push/send", "operator",
			`{"recipient_id":"user-1","title":"no body"}`)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "validation_error", body["error"].(map[string]any)["code"])
	})

	t.Run("malformed json", func(t *testing.T) {
		resp, _ := doRequest(t, http.MethodPost, srv.URL+"/push/send", "operator", `{not json`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestRouter_OptionalEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)

	// Without a sweeper or gateway the routes are not mounted.
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/sweep", nil)
	require.NoError(t, err)
	req.Header.Set("X-User-ID", "operator")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
