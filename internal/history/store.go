// Package history keeps a local record of finished runs in a bbolt file.
package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/wesleyorama2/taskload/internal/loadtest/engine"
)

const bucketRuns = "runs"

// ErrNotFound is returned by Get when no run matches.
var ErrNotFound = errors.New("run not found")

// Record is one stored run. Summary holds the summary.json document.
type Record struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	BaseURL     string          `json:"baseUrl"`
	StartTime   time.Time       `json:"startTime"`
	Duration    time.Duration   `json:"duration"`
	Passed      bool            `json:"passed"`
	Interrupted bool            `json:"interrupted"`
	MaxVUs      int             `json:"maxVUs"`
	Requests    int64           `json:"requests"`
	ErrorRate   float64         `json:"errorRate"`
	P95         time.Duration   `json:"p95"`
	Summary     json.RawMessage `json:"summary,omitempty"`
}

// NewRecord builds the record of a finished run.
func NewRecord(s *engine.RunSummary, summaryJSON []byte) Record {
	r := Record{
		ID:          s.ID,
		Name:        s.Name,
		BaseURL:     s.BaseURL,
		StartTime:   s.StartTime,
		Duration:    s.Duration,
		Passed:      s.Passed,
		Interrupted: s.Interrupted,
		MaxVUs:      s.MaxVUs,
		Summary:     summaryJSON,
	}
	if s.Metrics != nil {
		r.Requests = s.Metrics.TotalRequests
		r.ErrorRate = s.Metrics.ErrorRate
		r.P95 = s.Metrics.Latency().P95
	}
	return r
}

// Store persists records keyed by run ID. Run IDs are ULIDs, so key order
// is start order.
type Store struct {
	db   *bbolt.DB
	path string
}

// DefaultPath returns ~/.taskload/history.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".taskload", "history.db"), nil
}

// Open opens or creates the store at path. An empty path uses DefaultPath.
func Open(path string) (*Store, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketRuns))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise history: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the file backing the store.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores r, replacing any record with the same ID.
func (s *Store) Save(r Record) error {
	if r.ID == "" {
		return fmt.Errorf("record has no ID")
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketRuns)).Put([]byte(r.ID), data)
	})
}

// List returns up to limit records, newest first, without their summary
// documents. A limit of zero returns every record.
func (s *Store) List(limit int) ([]Record, error) {
	var out []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketRuns)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("corrupt record %s: %w", k, err)
			}
			r.Summary = nil
			out = append(out, r)
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// Get returns the record whose ID is id or starts with id. An ambiguous
// prefix is an error.
func (s *Store) Get(id string) (*Record, error) {
	if id == "" {
		return nil, ErrNotFound
	}

	var r *Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketRuns))
		if v := b.Get([]byte(id)); v != nil {
			r = new(Record)
			return json.Unmarshal(v, r)
		}

		prefix := []byte(id)
		c := b.Cursor()
		var match []byte
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if match != nil {
				return fmt.Errorf("run ID prefix %q is ambiguous", id)
			}
			match = v
		}
		if match == nil {
			return ErrNotFound
		}
		r = new(Record)
		return json.Unmarshal(match, r)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Delete removes the record with the exact id.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketRuns))
		if b.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}
