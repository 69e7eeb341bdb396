package mockapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func do(t *testing.T, srv *httptest.Server, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, r)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestServer_Lifecycle(t *testing.T) {
	api := New(Options{})
	srv := httptest.NewServer(api)
	defer srv.Close()

	resp, body := do(t, srv, http.MethodGet, "/api/tasks", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))

	resp, body = do(t, srv, http.MethodPost, "/api/tasks", `{"title":"Task 1","description":"Load test task"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created Task
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, int64(1), created.ID)
	assert.Equal(t, StatusTodo, created.Status)
	assert.Zero(t, created.ViewCount)

	for i := 0; i < 2; i++ {
		resp, body = do(t, srv, http.MethodGet, "/api/tasks/1", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	var fetched Task
	require.NoError(t, json.Unmarshal(body, &fetched))
	assert.Equal(t, int64(2), fetched.ViewCount)

	resp, body = do(t, srv, http.MethodPut, "/api/tasks/1", `{"title":"Renamed","status":"DONE","priority":2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated Task
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, StatusDone, updated.Status)
	require.NotNil(t, updated.Priority)
	assert.Equal(t, 2, *updated.Priority)

	resp, body = do(t, srv, http.MethodGet, "/api/tasks", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []Task
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Zero(t, list[0].ViewCount, "list responses do not carry view counts")

	resp, _ = do(t, srv, http.MethodDelete, "/api/tasks/1", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, srv, http.MethodDelete, "/api/tasks/1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Zero(t, api.Len())
	assert.Equal(t, int64(8), api.Requests())
}

func TestServer_BadRequests(t *testing.T) {
	srv := httptest.NewServer(New(Options{}))
	defer srv.Close()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"blank title", http.MethodPost, "/api/tasks", `{"title":"  "}`, http.StatusBadRequest},
		{"invalid JSON", http.MethodPost, "/api/tasks", `{"title":`, http.StatusBadRequest},
		{"invalid status", http.MethodPost, "/api/tasks", `{"title":"x","status":"LATER"}`, http.StatusBadRequest},
		{"bad id", http.MethodGet, "/api/tasks/abc", "", http.StatusBadRequest},
		{"missing task", http.MethodGet, "/api/tasks/42", "", http.StatusNotFound},
		{"update missing", http.MethodPut, "/api/tasks/42", `{"title":"x"}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, srv, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Contains(t, string(body), `"error"`)
		})
	}
}

func TestServer_Health(t *testing.T) {
	api := New(Options{ErrorRate: 1})
	srv := httptest.NewServer(api)
	defer srv.Close()

	resp, body := do(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
	assert.Zero(t, api.Requests(), "health checks are not counted")
}

func TestServer_ErrorInjection(t *testing.T) {
	api := New(Options{ErrorRate: 1})
	srv := httptest.NewServer(api)
	defer srv.Close()

	for i := 0; i < 5; i++ {
		resp, _ := do(t, srv, http.MethodGet, "/api/tasks", "")
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	}
	assert.Equal(t, int64(5), api.InjectedErrors())
}

func TestServer_LatencyAndListLimit(t *testing.T) {
	api := New(Options{Latency: 20 * time.Millisecond, ListLimit: 2})
	srv := httptest.NewServer(api)
	defer srv.Close()

	for _, title := range []string{"a", "b", "c"} {
		resp, _ := do(t, srv, http.MethodPost, "/api/tasks", `{"title":"`+title+`"}`)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	start := time.Now()
	_, body := do(t, srv, http.MethodGet, "/api/tasks", "")
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	var list []Task
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].Title)
	assert.Equal(t, "c", list[1].Title)
}
