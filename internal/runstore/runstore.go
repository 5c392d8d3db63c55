// Package runstore is a durable, queryable audit log of terminal run
// outcomes, backed by bbolt. It is not the durable queue spec.md's
// Non-goals exclude: runs are still accepted and executed in-memory, and
// entries are written only after a run has already reached a terminal
// state, purely for operational introspection.
package runstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

var bucketRuns = []byte("runs")

// Record is one terminal run outcome.
type Record struct {
	RunID      string         `json:"run_id"`
	TaskCode   string         `json:"task_code"`
	TaskID     string         `json:"task_id"`
	ExecType   string         `json:"exec_type"`
	Status     string         `json:"status"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms"`
	Stats      map[string]any `json:"stats,omitempty"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Store owns the bbolt database file.
type Store struct {
	mu sync.Mutex
	db *bbolt.DB
}

// Open creates/opens the bbolt database at path, ensuring the runs bucket
// exists. path's parent directory must already exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("runstore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRuns)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("runstore: create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Put writes or overwrites the record for rec.RunID.
func (s *Store) Put(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("runstore: marshal record: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRuns).Put([]byte(rec.RunID), data)
	})
}

// Get fetches the record for runID.
func (s *Store) Get(runID string) (Record, bool, error) {
	var rec Record
	found := false
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketRuns).Get([]byte(runID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("runstore: get %s: %w", runID, err)
	}
	return rec, found, nil
}

// List returns every record with FinishedAt >= since, newest first.
func (s *Store) List(since time.Time) ([]Record, error) {
	var out []Record
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(_, data []byte) error {
			var rec Record
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
			if !rec.FinishedAt.Before(since) {
				out = append(out, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("runstore: list: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FinishedAt.After(out[j].FinishedAt) })
	return out, nil
}

// PruneOlderThan deletes every record whose FinishedAt is before the cutoff
// and returns the count removed. Used by the Housekeeping Scheduler.
func (s *Store) PruneOlderThan(cutoff time.Time) (int, error) {
	var toDelete [][]byte
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		if err := b.ForEach(func(k, data []byte) error {
			var rec Record
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
			if rec.FinishedAt.Before(cutoff) {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("runstore: prune: %w", err)
	}
	return len(toDelete), nil
}
