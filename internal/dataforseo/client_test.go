package dataforseo

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("login", "pass", WithBaseURL(srv.URL), WithRateLimit(100))
}

func TestClient_TaskPost(t *testing.T) {
	var got []TaskPostRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "login", user)
		assert.Equal(t, "pass", pass)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, pathTaskPost, r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_, _ = w.Write([]byte(`{
			"status_code": 20000, "status_message": "Ok.", "tasks_count": 2, "tasks_error": 1,
			"tasks": [
				{"id": "t-1", "status_code": 20100, "status_message": "Task Created.", "data": {"tag": "a"}},
				{"id": "t-2", "status_code": 40501, "status_message": "Invalid Field", "data": {"tag": "b"}}
			]
		}`))
	})

	posted, err := c.TaskPost(context.Background(), []TaskPostRequest{
		{Keyword: "salsa in Paris", LocationCode: 1006094, LanguageCode: "en", Depth: 100, Tag: "a"},
		{Keyword: "tango in Paris", LocationCode: 1006094, LanguageCode: "en", Depth: 100, Tag: "b"},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "salsa in Paris", got[0].Keyword)

	require.Len(t, posted, 2)
	assert.True(t, posted[0].Created())
	assert.Equal(t, "a", posted[0].Tag)
	assert.False(t, posted[1].Created())
}

func TestClient_TaskPostLimit(t *testing.T) {
	c := NewClient("l", "p")
	tasks := make([]TaskPostRequest, MaxTasksPerPost+1)
	_, err := c.TaskPost(context.Background(), tasks)
	require.Error(t, err)

	posted, err := c.TaskPost(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, posted)
}

func TestClient_TasksReady(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathTasksReady, r.URL.Path)
		_, _ = w.Write([]byte(`{
			"status_code": 20000,
			"tasks": [{"id": "x", "status_code": 20000, "result": [
				{"id": "t-1", "se": "google", "se_type": "events", "tag": "a"},
				{"id": "t-9", "se": "google", "se_type": "events", "tag": "z"}
			]}]
		}`))
	})

	ready, err := c.TasksReady(context.Background())
	require.NoError(t, err)
	require.Len(t, ready, 2)
	assert.Equal(t, "t-1", ready[0].ID)
	assert.Equal(t, "z", ready[1].Tag)
}

func TestClient_TaskGet(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case pathTaskGet + "t-1":
			_, _ = w.Write([]byte(`{
				"status_code": 20000,
				"tasks": [{"id": "t-1", "status_code": 20000, "data": {"keyword": "salsa in Paris", "tag": "a"},
					"result": [{"items": [{"type": "event_item", "title": "Salsa Night", "url": "https://example.com/e/1"}]}]}]
			}`))
		case pathTaskGet + "t-2":
			_, _ = w.Write([]byte(`{"status_code": 20000, "tasks": [{"id": "t-2", "status_code": 40602, "status_message": "Task In Queue."}]}`))
		default:
			http.NotFound(w, r)
		}
	})

	task, err := c.TaskGet(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, "a", task.Data.Tag)
	assert.Contains(t, string(task.Result), "Salsa Night")

	_, err = c.TaskGet(context.Background(), "t-2")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 40602, apiErr.StatusCode)

	_, err = c.TaskGet(context.Background(), "")
	require.Error(t, err)
}

func TestClient_IDList(t *testing.T) {
	from := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathIDList, r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"date_from":"2026-10-01 12:00:00 +0000"`)
		_, _ = w.Write([]byte(`{
			"status_code": 20000,
			"tasks": [{"status_code": 20000, "result": [
				{"id": "t-1", "endpoint": "/v3/serp/google/events/task_post", "tag": "a", "result_id": "r-1"},
				{"id": "t-2", "endpoint": "/v3/serp/google/organic/task_post", "tag": "b"}
			]}]
		}`))
	})

	entries, err := c.IDList(context.Background(), from, time.Time{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "r-1", entries[0].ResultID)
	assert.True(t, strings.Contains(entries[0].Endpoint, "events"))
}

func TestClient_EnvelopeError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == pathTasksReady {
			_, _ = w.Write([]byte(`{"status_code": 40100, "status_message": "You are not authorized"}`))
			return
		}
		http.Error(w, "down", http.StatusBadGateway)
	})

	_, err := c.TasksReady(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 40100, apiErr.StatusCode)

	_, err = c.IDList(context.Background(), time.Now(), time.Time{})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}
