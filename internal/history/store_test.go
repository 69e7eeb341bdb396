package history

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/taskload/internal/loadtest/engine"
	"github.com/wesleyorama2/taskload/internal/loadtest/metrics"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func runID(start time.Time) string {
	return ulid.MustNew(ulid.Timestamp(start), ulid.DefaultEntropy()).String()
}

func TestStore_SaveListGet(t *testing.T) {
	s := openTemp(t)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 3; i++ {
		start := base.Add(time.Duration(i) * time.Hour)
		id := runID(start)
		ids = append(ids, id)
		require.NoError(t, s.Save(Record{
			ID:        id,
			Name:      "run",
			StartTime: start,
			Passed:    i != 1,
			Summary:   json.RawMessage(`{"metrics":{}}`),
		}))
	}

	all, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID, "newest first")
	assert.Equal(t, ids[0], all[2].ID)
	assert.Nil(t, all[0].Summary, "list omits summaries")

	two, err := s.List(2)
	require.NoError(t, err)
	assert.Len(t, two, 2)

	r, err := s.Get(ids[1])
	require.NoError(t, err)
	assert.False(t, r.Passed)
	assert.JSONEq(t, `{"metrics":{}}`, string(r.Summary))
}

func TestStore_GetByPrefix(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.Save(Record{ID: "01AAAA0001"}))
	require.NoError(t, s.Save(Record{ID: "01AAAA0002"}))
	require.NoError(t, s.Save(Record{ID: "01BBBB0001"}))

	r, err := s.Get("01BB")
	require.NoError(t, err)
	assert.Equal(t, "01BBBB0001", r.ID)

	_, err = s.Get("01AAAA")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")

	_, err = s.Get("02")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get("")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_DeleteAndValidation(t *testing.T) {
	s := openTemp(t)
	assert.Error(t, s.Save(Record{}))

	require.NoError(t, s.Save(Record{ID: "01CCCC"}))
	require.NoError(t, s.Delete("01CCCC"))
	assert.ErrorIs(t, s.Delete("01CCCC"), ErrNotFound)

	list, err := s.List(0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, path, s.Path())
	require.NoError(t, s.Save(Record{ID: "01DDDD", Name: "persisted"}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	r, err := s.Get("01DDDD")
	require.NoError(t, err)
	assert.Equal(t, "persisted", r.Name)
}

func TestNewRecord(t *testing.T) {
	m := metrics.NewEngine()
	m.Record(metrics.Sample{Name: "list_tasks", Status: 200, Duration: 30 * time.Millisecond})
	m.Record(metrics.Sample{Name: "create_task", Status: 500, Duration: 30 * time.Millisecond})
	m.Stop()

	s := &engine.RunSummary{
		ID:       "01EEEE",
		Name:     "tasks",
		BaseURL:  "http://127.0.0.1:8080",
		Duration: time.Minute,
		MaxVUs:   5,
		Metrics:  m.GetSnapshot(),
	}
	r := NewRecord(s, []byte(`{}`))
	assert.Equal(t, "01EEEE", r.ID)
	assert.Equal(t, int64(2), r.Requests)
	assert.Equal(t, 0.5, r.ErrorRate)
	assert.Greater(t, r.P95, time.Duration(0))
	assert.Equal(t, 5, r.MaxVUs)
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	p, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, "history.db", filepath.Base(p))
	assert.Equal(t, ".taskload", filepath.Base(filepath.Dir(p)))
}
