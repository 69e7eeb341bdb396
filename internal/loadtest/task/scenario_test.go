package task

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/taskload/internal/loadtest"
	"github.com/wesleyorama2/taskload/internal/loadtest/httpclient"
	"github.com/wesleyorama2/taskload/internal/loadtest/metrics"
)

type call struct {
	method      string
	path        string
	contentType string
	body        []byte
}

func taskServer(t *testing.T, createStatus int) (*httptest.Server, func() []call) {
	t.Helper()
	var mu sync.Mutex
	var calls []call

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, call{r.Method, r.URL.Path, r.Header.Get("Content-Type"), body})
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`[{"id":1,"title":"Task 1","status":"TODO","viewCount":0}]`))
		case http.MethodPost:
			w.WriteHeader(createStatus)
			_, _ = w.Write([]byte(`{"id":2,"title":"Task 2","status":"TODO"}`))
		}
	}))
	t.Cleanup(srv.Close)

	return srv, func() []call {
		mu.Lock()
		defer mu.Unlock()
		return append([]call(nil), calls...)
	}
}

func TestTaskTitle(t *testing.T) {
	base := time.UnixMilli(1700000000000)
	assert.Equal(t, "Task 1700000000000", TaskTitle("Task ", base))

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		title := TaskTitle("Task ", base.Add(time.Duration(i)*time.Millisecond))
		assert.False(t, seen[title], "duplicate title %q", title)
		seen[title] = true
	}
}

func TestNew_Validation(t *testing.T) {
	client := httpclient.New(httpclient.DefaultConfig())
	m := metrics.NewEngine()

	_, err := New(Config{BaseURL: "http://x"}, nil, m)
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "http://x"}, client, nil)
	assert.Error(t, err)
	_, err = New(Config{}, client, m)
	assert.Error(t, err)

	s, err := New(Config{BaseURL: "http://x/"}, client, m)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, s.cfg.MaxResponseTime)
	assert.Equal(t, "http://x", s.listURL)
}

func TestScenario_Run(t *testing.T) {
	srv, calls := taskServer(t, http.StatusCreated)
	m := metrics.NewEngine()

	cfg := DefaultConfig(srv.URL)
	cfg.ValidateList = true
	cfg.ValidateSchema = true
	cfg.Headers = map[string]string{"Authorization": "Bearer token"}

	s, err := New(cfg, httpclient.New(httpclient.DefaultConfig()), m,
		WithClock(func() time.Time { return time.UnixMilli(1700000000123) }))
	require.NoError(t, err)

	require.NoError(t, s.Run(context.Background(), loadtest.IterationInfo{VU: 3, Iteration: 7}))

	got := calls()
	require.Len(t, got, 2)
	assert.Equal(t, http.MethodGet, got[0].method)
	assert.Equal(t, "/api/tasks", got[0].path)
	assert.Equal(t, http.MethodPost, got[1].method)
	assert.Equal(t, "application/json", got[1].contentType)

	var body CreateRequest
	require.NoError(t, json.Unmarshal(got[1].body, &body))
	assert.Equal(t, "Task 1700000000123", body.Title)
	assert.Equal(t, "Load test task", body.Description)

	snap := m.GetSnapshot()
	assert.Equal(t, int64(2), snap.TotalRequests)
	assert.Equal(t, 0.0, snap.ErrorRate)
	assert.Contains(t, snap.Endpoints(), ListTasks)
	assert.Contains(t, snap.Endpoints(), CreateTask)

	passed := make(map[string]int64)
	for _, c := range snap.Checks {
		assert.Zero(t, c.Fails, "check %q failed", c.Name)
		passed[c.Name] = c.Passes
	}
	for _, name := range []string{CheckListStatus, "response time < 500ms", CheckCreated, CheckListIsArray, CheckListSchema, CheckTaskSchema} {
		assert.Equal(t, int64(1), passed[name], name)
	}
}

func TestScenario_CreateAccepts200(t *testing.T) {
	srv, _ := taskServer(t, http.StatusOK)
	m := metrics.NewEngine()

	s, err := New(DefaultConfig(srv.URL), httpclient.New(httpclient.DefaultConfig()), m)
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background(), loadtest.IterationInfo{VU: 1, Iteration: 1}))

	for _, c := range m.GetSnapshot().Checks {
		if c.Name == CheckCreated {
			assert.Equal(t, int64(1), c.Passes)
		}
	}
}

func TestScenario_FailedCreateIsObservational(t *testing.T) {
	srv, calls := taskServer(t, http.StatusInternalServerError)
	m := metrics.NewEngine()

	s, err := New(DefaultConfig(srv.URL), httpclient.New(httpclient.DefaultConfig()), m)
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background(), loadtest.IterationInfo{VU: 1, Iteration: 1}))
	require.NoError(t, s.Run(context.Background(), loadtest.IterationInfo{VU: 1, Iteration: 2}))

	assert.Len(t, calls(), 4)
	snap := m.GetSnapshot()
	assert.Equal(t, 0.5, snap.ErrorRate)
	for _, c := range snap.Checks {
		if c.Name == CheckCreated {
			assert.Equal(t, int64(2), c.Fails)
		}
	}
}

func TestScenario_UnreachableTarget(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	m := metrics.NewEngine()
	s, err := New(DefaultConfig(url), httpclient.New(httpclient.DefaultConfig()), m)
	require.NoError(t, err)

	require.NoError(t, s.Run(context.Background(), loadtest.IterationInfo{VU: 1, Iteration: 1}))

	snap := m.GetSnapshot()
	assert.Equal(t, int64(2), snap.TotalRequests)
	assert.Equal(t, int64(2), snap.FailedRequests)
	assert.Equal(t, 1.0, snap.ErrorRate)
}

func TestScenario_CancelledBeforeCreate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		<-r.Context().Done()
	}))
	defer srv.Close()

	m := metrics.NewEngine()
	s, err := New(DefaultConfig(srv.URL), httpclient.New(httpclient.DefaultConfig()), m)
	require.NoError(t, err)

	err = s.Run(ctx, loadtest.IterationInfo{VU: 1, Iteration: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, int64(0), m.GetSnapshot().TotalRequests)
}

func TestResponseTimeCheckName(t *testing.T) {
	assert.Equal(t, "response time < 500ms", ResponseTimeCheckName(500*time.Millisecond))
	assert.Equal(t, "response time < 1s", ResponseTimeCheckName(time.Second))
}
