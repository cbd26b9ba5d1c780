package watermark

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFile(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "watermarks.json"))
	if err := s.Load(); err != nil {
		t.Fatalf("load of missing file: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("entries = %d, want 0", s.Len())
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watermarks.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewStore(path)
	if err := s.Load(); err == nil {
		t.Fatal("expected error for corrupt store file")
	}
}

func TestUpdatePersistRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "watermarks.json")
	runTS := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	s := NewStore(path)
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	if err := s.Update("fac_orders", "updated_at", "2025-06-01 11:58:00", runTS); err != nil {
		t.Fatal(err)
	}
	if err := s.Persist(); err != nil {
		t.Fatal(err)
	}

	reloaded := NewStore(path)
	if err := reloaded.Load(); err != nil {
		t.Fatal(err)
	}
	w, ok := reloaded.Get("fac_orders")
	if !ok {
		t.Fatal("entry missing after reload")
	}
	if w.LastValue != "2025-06-01 11:58:00" || w.WatermarkColumn != "updated_at" {
		t.Errorf("reloaded entry = %+v", w)
	}
	if !w.LastRunTimestamp.Equal(runTS) {
		t.Errorf("run timestamp = %v, want %v", w.LastRunTimestamp, runTS)
	}
}

func TestUpdateRejectsRegression(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "watermarks.json"))
	now := time.Now()

	if err := s.Update("mov_stock", "f_fecha", "2025-06-02", now); err != nil {
		t.Fatal(err)
	}

	err := s.Update("mov_stock", "f_fecha", "2025-06-01", now)
	if err == nil {
		t.Fatal("expected regression error")
	}
	var regErr *RegressionError
	if !errors.As(err, &regErr) {
		t.Fatalf("error type = %T, want *RegressionError", err)
	}
	if regErr.Stored != "2025-06-02" || regErr.Proposed != "2025-06-01" {
		t.Errorf("regression error = %+v", regErr)
	}

	// The stored value must be untouched after a rejected update.
	w, _ := s.Get("mov_stock")
	if w.LastValue != "2025-06-02" {
		t.Errorf("stored value = %q, want 2025-06-02", w.LastValue)
	}
}

func TestUpdateEqualValueIsNotRegression(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "watermarks.json"))
	now := time.Now()

	if err := s.Update("t", "updated_at", "2025-06-02 00:00:00", now); err != nil {
		t.Fatal(err)
	}
	// A run with no new rows re-submits the same value; that must succeed.
	if err := s.Update("t", "updated_at", "2025-06-02 00:00:00", now.Add(time.Hour)); err != nil {
		t.Errorf("equal value rejected: %v", err)
	}
}

func TestUpdateColumnChangeReplacesEntry(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "watermarks.json"))
	now := time.Now()

	if err := s.Update("t", "updated_at", "2025-06-02 00:00:00", now); err != nil {
		t.Fatal(err)
	}
	// Different column: the smaller value is fine, the old cursor does not
	// apply anymore.
	if err := s.Update("t", "created_at", "2020-01-01 00:00:00", now); err != nil {
		t.Fatalf("column change rejected: %v", err)
	}
	w, _ := s.Get("t")
	if w.WatermarkColumn != "created_at" || w.LastValue != "2020-01-01 00:00:00" {
		t.Errorf("entry after column change = %+v", w)
	}
}

func TestDiscard(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "watermarks.json"))
	if err := s.Update("t", "updated_at", "2025-06-02", time.Now()); err != nil {
		t.Fatal(err)
	}
	s.Discard("t")
	if _, ok := s.Get("t"); ok {
		t.Error("entry still present after discard")
	}
}

func TestPersistLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "watermarks.json"))
	if err := s.Update("t", "updated_at", "2025-06-02", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.Persist(); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "watermarks.json" {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("directory contents = %v, want only watermarks.json", names)
	}
}

func TestPersistWritesValidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watermarks.json")
	s := NewStore(path)
	if err := s.Update("fac_orders", "updated_at", "2025-06-01 11:58:00", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.Persist(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]Watermark
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("persisted file is not valid JSON: %v", err)
	}
	if _, ok := m["fac_orders"]; !ok {
		t.Error("fac_orders missing from persisted mapping")
	}
}
