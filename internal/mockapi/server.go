// Package mockapi is an in-memory task API for demos and tests.
//
// It serves the same routes as the real service:
//
//	GET    /api/tasks        list tasks
//	POST   /api/tasks        create a task (201)
//	GET    /api/tasks/{id}   fetch a task and bump its view count
//	PUT    /api/tasks/{id}   replace a task
//	DELETE /api/tasks/{id}   delete a task (204)
//	GET    /health           liveness
package mockapi

import (
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Status is the workflow state of a task.
type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
)

func (s Status) valid() bool {
	return s == StatusTodo || s == StatusInProgress || s == StatusDone
}

// Task is the API representation of a task.
type Task struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	Priority    *int      `json:"priority"`
	Assignee    *string   `json:"assignee"`
	ViewCount   int64     `json:"viewCount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TaskRequest is the body of create and update calls.
type TaskRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Status      Status  `json:"status,omitempty"`
	Priority    *int    `json:"priority,omitempty"`
	Assignee    *string `json:"assignee,omitempty"`
}

// Options tune the mock's behaviour.
type Options struct {
	// Latency is added to every /api request.
	Latency time.Duration

	// ErrorRate is the fraction of /api requests answered with 500.
	ErrorRate float64

	// ListLimit caps the list response to the most recent tasks. Zero
	// returns every task.
	ListLimit int

	Logger *zap.Logger
}

// Server is the mock task API.
type Server struct {
	opts   Options
	logger *zap.Logger
	router chi.Router

	mu     sync.RWMutex
	tasks  map[int64]*Task
	order  []int64
	nextID int64

	requests atomic.Int64
	injected atomic.Int64
	now      func() time.Time
}

// New creates an empty mock API.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		opts:   opts,
		logger: logger.With(zap.String("component", "mockapi")),
		tasks:  make(map[int64]*Task),
		now:    time.Now,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/api/tasks", func(r chi.Router) {
		r.Use(s.count, s.delay, s.injectErrors)
		r.Get("/", s.listTasks)
		r.Post("/", s.createTask)
		r.Get("/{id}", s.getTask)
		r.Put("/{id}", s.updateTask)
		r.Delete("/{id}", s.deleteTask)
	})
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Len returns the number of stored tasks.
func (s *Server) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// Requests returns the number of /api requests served.
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

// InjectedErrors returns how many requests were failed on purpose.
func (s *Server) InjectedErrors() int64 {
	return s.injected.Load()
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) delay(next http.Handler) http.Handler {
	if s.opts.Latency <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t := time.NewTimer(s.opts.Latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-r.Context().Done():
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) injectErrors(next http.Handler) http.Handler {
	if s.opts.ErrorRate <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rand.Float64() < s.opts.ErrorRate {
			s.injected.Add(1)
			writeError(w, http.StatusInternalServerError, "injected failure")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) listTasks(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	ids := s.order
	if s.opts.ListLimit > 0 && len(ids) > s.opts.ListLimit {
		ids = ids[len(ids)-s.opts.ListLimit:]
	}
	out := make([]Task, 0, len(ids))
	for _, id := range ids {
		t := *s.tasks[id]
		// list responses do not carry view counts
		t.ViewCount = 0
		out = append(out, t)
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTask(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Status == "" {
		req.Status = StatusTodo
	}

	now := s.now()
	s.mu.Lock()
	s.nextID++
	t := &Task{
		ID:          s.nextID,
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		Assignee:    req.Assignee,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.tasks[t.ID] = t
	s.order = append(s.order, t.ID)
	out := *t
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	t, found := s.tasks[id]
	var out Task
	if found {
		t.ViewCount++
		out = *t
	}
	s.mu.Unlock()

	if !found {
		writeError(w, http.StatusNotFound, "task "+strconv.FormatInt(id, 10)+" not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	req, err := decodeTask(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	t, found := s.tasks[id]
	var out Task
	if found {
		t.Title = req.Title
		t.Description = req.Description
		if req.Status != "" {
			t.Status = req.Status
		}
		t.Priority = req.Priority
		t.Assignee = req.Assignee
		t.UpdatedAt = s.now()
		out = *t
	}
	s.mu.Unlock()

	if !found {
		writeError(w, http.StatusNotFound, "task "+strconv.FormatInt(id, 10)+" not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	_, found := s.tasks[id]
	if found {
		delete(s.tasks, id)
		for i, v := range s.order {
			if v == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	if !found {
		writeError(w, http.StatusNotFound, "task "+strconv.FormatInt(id, 10)+" not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeTask(r *http.Request) (TaskRequest, error) {
	var req TaskRequest
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(&req); err != nil {
		return req, errors.New("invalid JSON body")
	}
	if strings.TrimSpace(req.Title) == "" {
		return req, errors.New("title must not be blank")
	}
	if req.Status != "" && !req.Status.valid() {
		return req, errors.New("invalid status " + strconv.Quote(string(req.Status)))
	}
	return req, nil
}

func taskID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
