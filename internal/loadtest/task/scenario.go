// Package task implements the task-API iteration every VU repeats: list the
// tasks, then create one.
package task

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/taskload/internal/loadtest"
	"github.com/wesleyorama2/taskload/internal/loadtest/check"
	"github.com/wesleyorama2/taskload/internal/loadtest/httpclient"
	"github.com/wesleyorama2/taskload/internal/loadtest/metrics"
)

// Request names, used as the name tag of samples.
const (
	ListTasks  = "list_tasks"
	CreateTask = "create_task"
)

// Check names.
const (
	CheckListStatus  = "status is 200"
	CheckCreated     = "task created"
	CheckListIsArray = "list is a JSON array"
	CheckListSchema  = "tasks match schema"
	CheckTaskSchema  = "created task matches schema"
)

// Config describes the iteration.
type Config struct {
	BaseURL     string
	ListPath    string
	CreatePath  string
	TitlePrefix string
	Description string

	// MaxResponseTime is the limit of the list response-time check.
	MaxResponseTime time.Duration

	ValidateList   bool
	ValidateSchema bool

	// Headers are added to both requests.
	Headers map[string]string
}

// DefaultConfig returns the iteration defaults for baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:         baseURL,
		ListPath:        "/api/tasks",
		CreatePath:      "/api/tasks",
		TitlePrefix:     "Task ",
		Description:     "Load test task",
		MaxResponseTime: 500 * time.Millisecond,
	}
}

// Doer issues one HTTP request.
type Doer interface {
	Do(ctx context.Context, req httpclient.Request) (*httpclient.Result, error)
}

// Recorder receives samples and check outcomes.
type Recorder interface {
	Record(s metrics.Sample)
	RecordCheck(name string, ok bool)
}

// CreateRequest is the body of the create call.
type CreateRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Scenario is a loadtest.Iteration. It is safe for concurrent use.
type Scenario struct {
	cfg    Config
	client Doer
	rec    Recorder
	logger *zap.Logger
	now    func() time.Time

	listURL   string
	createURL string

	listChecks   []check.Check
	createChecks []check.Check
}

// Option configures a Scenario.
type Option func(*Scenario)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scenario) {
		s.logger = l
	}
}

// WithClock sets the clock task titles are derived from.
func WithClock(now func() time.Time) Option {
	return func(s *Scenario) {
		s.now = now
	}
}

// New validates cfg and builds the checks.
func New(cfg Config, client Doer, rec Recorder, opts ...Option) (*Scenario, error) {
	if client == nil {
		return nil, fmt.Errorf("task: client is required")
	}
	if rec == nil {
		return nil, fmt.Errorf("task: recorder is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("task: base URL is required")
	}
	if cfg.MaxResponseTime <= 0 {
		cfg.MaxResponseTime = 500 * time.Millisecond
	}

	s := &Scenario{
		cfg:       cfg,
		client:    client,
		rec:       rec,
		logger:    zap.NewNop(),
		now:       time.Now,
		listURL:   joinURL(cfg.BaseURL, cfg.ListPath),
		createURL: joinURL(cfg.BaseURL, cfg.CreatePath),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "task-scenario"))

	s.listChecks = []check.Check{
		{Name: CheckListStatus, Fn: check.StatusIs(http.StatusOK)},
		{Name: ResponseTimeCheckName(cfg.MaxResponseTime), Fn: check.DurationBelow(cfg.MaxResponseTime)},
	}
	s.createChecks = []check.Check{
		{Name: CheckCreated, Fn: check.StatusIs(http.StatusOK, http.StatusCreated)},
	}
	if cfg.ValidateList {
		s.listChecks = append(s.listChecks, check.Check{Name: CheckListIsArray, Fn: check.IsJSONArray("$")})
	}
	if cfg.ValidateSchema {
		taskSchema, listSchema, err := check.TaskSchemas()
		if err != nil {
			return nil, fmt.Errorf("task: %w", err)
		}
		s.listChecks = append(s.listChecks, check.Check{Name: CheckListSchema, Fn: listSchema.Matches()})
		s.createChecks = append(s.createChecks, check.Check{Name: CheckTaskSchema, Fn: taskSchema.Matches()})
	}
	return s, nil
}

// ResponseTimeCheckName names the list response-time check, e.g.
// "response time < 500ms".
func ResponseTimeCheckName(limit time.Duration) string {
	return "response time < " + limit.String()
}

// TaskTitle derives a task title from t's Unix milliseconds.
func TaskTitle(prefix string, t time.Time) string {
	return prefix + strconv.FormatInt(t.UnixMilli(), 10)
}

// Run performs one iteration. The create call is issued only after the
// list call has completed.
func (s *Scenario) Run(ctx context.Context, info loadtest.IterationInfo) error {
	list, err := s.do(ctx, info, httpclient.Request{
		Name:   ListTasks,
		Method: http.MethodGet,
		URL:    s.listURL,
		Header: s.header(false),
	})
	if err != nil {
		return err
	}
	check.Run(s.rec, response(list), s.listChecks...)

	body, err := json.Marshal(CreateRequest{
		Title:       TaskTitle(s.cfg.TitlePrefix, s.now()),
		Description: s.cfg.Description,
	})
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	created, err := s.do(ctx, info, httpclient.Request{
		Name:   CreateTask,
		Method: http.MethodPost,
		URL:    s.createURL,
		Body:   body,
		Header: s.header(true),
	})
	if err != nil {
		return err
	}
	if check.Run(s.rec, response(created), s.createChecks...) {
		if id, ok := check.CreatedID(created.Body); ok {
			s.logger.Debug("task created", zap.Int("vu", info.VU), zap.String("id", id))
		}
	}
	return nil
}

func (s *Scenario) do(ctx context.Context, info loadtest.IterationInfo, req httpclient.Request) (*httpclient.Result, error) {
	res, err := s.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	res.Sample.VU = info.VU
	res.Sample.Iteration = info.Iteration
	s.rec.Record(res.Sample)

	if res.Sample.Err != nil {
		s.logger.Debug("request failed",
			zap.String("name", req.Name),
			zap.Int("vu", info.VU),
			zap.Error(res.Sample.Err))
	}
	return res, nil
}

func (s *Scenario) header(withBody bool) http.Header {
	h := make(http.Header, len(s.cfg.Headers)+1)
	for k, v := range s.cfg.Headers {
		h.Set(k, v)
	}
	if withBody {
		h.Set("Content-Type", "application/json")
	}
	return h
}

func response(r *httpclient.Result) check.Response {
	return check.Response{
		Status:   r.Sample.Status,
		Duration: r.Sample.Duration,
		Body:     r.Body,
		Err:      r.Sample.Err,
	}
}

func joinURL(base, path string) string {
	if path == "" {
		return strings.TrimRight(base, "/")
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

var _ loadtest.Iteration = (*Scenario)(nil)
