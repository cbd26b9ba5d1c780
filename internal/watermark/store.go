// Package watermark persists the per-table incremental high-water marks
// between runs. The store is a single JSON file rewritten atomically; one
// entry per table.
package watermark

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Watermark records the highest watermark-column value seen for a table
// during its most recent successful extraction.
type Watermark struct {
	// LastValue is stored in the source's native string form (timestamps
	// format as ISO-8601, so lexicographic order matches time order).
	LastValue        string    `json:"last_value"`
	LastRunTimestamp time.Time `json:"last_run_timestamp"`
	WatermarkColumn  string    `json:"watermark_column"`
}

// RegressionError is returned when an update would move a table's watermark
// backwards. A regressed cursor silently accepted would permanently lose
// incremental coverage, so this is surfaced loudly instead.
type RegressionError struct {
	Table    string
	Column   string
	Stored   string
	Proposed string
}

func (e *RegressionError) Error() string {
	return fmt.Sprintf("watermark regression for %s.%s: stored %q, proposed %q",
		e.Table, e.Column, e.Stored, e.Proposed)
}

// Store is the durable keyed watermark mapping. It is shared across the
// extraction worker pool; a single coarse lock is enough since each worker
// touches a different table key once per run.
type Store struct {
	path string

	mu      sync.Mutex
	entries map[string]Watermark
}

// NewStore creates a store backed by the given file path. Call Load before
// first use.
func NewStore(path string) *Store {
	return &Store{path: path, entries: make(map[string]Watermark)}
}

// Load reads the store file into memory. A missing file means a first run
// and yields an empty mapping, not an error.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.entries = make(map[string]Watermark)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading watermark store: %w", err)
	}

	entries := make(map[string]Watermark)
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parsing watermark store %s: %w", s.path, err)
	}
	s.entries = entries
	return nil
}

// Get returns the watermark for a table. ok is false when the table has no
// incremental baseline yet, which means the next extraction must be full.
func (s *Store) Get(table string) (Watermark, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.entries[table]
	return w, ok
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Tables returns the table names present in the store.
func (s *Store) Tables() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

// Update sets or overwrites a table's watermark. An update against the same
// column with a smaller value is rejected with a RegressionError. A column
// change replaces the entry outright: the planner has already forced a full
// extraction for that case, so the old value carries no meaning.
func (s *Store) Update(table, column, newValue string, runTimestamp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.entries[table]; ok && prev.WatermarkColumn == column && newValue < prev.LastValue {
		return &RegressionError{Table: table, Column: column, Stored: prev.LastValue, Proposed: newValue}
	}

	s.entries[table] = Watermark{
		LastValue:        newValue,
		LastRunTimestamp: runTimestamp,
		WatermarkColumn:  column,
	}
	return nil
}

// Discard removes a table's entry. Used when the chosen watermark column has
// changed and the stored value no longer applies.
func (s *Store) Discard(table string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, table)
}

// Persist flushes the mapping to disk atomically: write to a temp file in
// the same directory, then rename over the target. A crash mid-write leaves
// the previous store intact.
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding watermark store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating watermark directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".watermarks-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp watermark file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing watermark store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp watermark file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing watermark store: %w", err)
	}
	return nil
}
