package runstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"comfybatch/internal/runner"
)

func fileStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runs.json")
	return New(path), path
}

func TestPutGetRoundTrip(t *testing.T) {
	s, _ := fileStore(t)
	s.EnsureLoaded()
	s.Put(Record{RunID: "r-1", CaseName: "case a", Status: "success", SavedFiles: []string{"a.png"}})

	got, ok := s.Get("r-1")
	if !ok || got.CaseName != "case a" || got.Status != "success" {
		t.Fatalf("Get() = %+v, %v", got, ok)
	}
	if got.CreatedAt.IsZero() {
		t.Fatalf("CreatedAt not defaulted")
	}
}

func TestSaveAndReload(t *testing.T) {
	s, path := fileStore(t)
	s.Put(Record{RunID: "r-1", CaseName: "a", Status: "success"})
	s.Put(Record{RunID: "r-2", CaseName: "b", Status: "failed", Error: "boom"})
	s.Save()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("store file missing: %v", err)
	}

	reloaded := New(path)
	got, ok := reloaded.Get("r-2")
	if !ok || got.Error != "boom" {
		t.Fatalf("reloaded record = %+v, %v", got, ok)
	}
}

func TestPutReplacesSameRunID(t *testing.T) {
	s, _ := fileStore(t)
	s.Put(Record{RunID: "r-1", CaseName: "a", Status: "failed"})
	s.Put(Record{RunID: "r-1", CaseName: "a", Status: "success"})

	got, _ := s.Get("r-1")
	if got.Status != "success" {
		t.Fatalf("record not replaced: %+v", got)
	}
	if list := s.ListByCase("a"); len(list) != 1 {
		t.Fatalf("duplicate run ids: %+v", list)
	}
}

func TestListByCaseNewestFirst(t *testing.T) {
	s, _ := fileStore(t)
	base := time.Now()
	s.Put(Record{RunID: "old", CaseName: "a", Status: "success", CreatedAt: base.Add(-time.Hour)})
	s.Put(Record{RunID: "new", CaseName: "a", Status: "success", CreatedAt: base})
	s.Put(Record{RunID: "other", CaseName: "b", Status: "success", CreatedAt: base})

	list := s.ListByCase("a")
	if len(list) != 2 || list[0].RunID != "new" {
		t.Fatalf("ListByCase() = %+v", list)
	}
	// Empty case name lists everything.
	if all := s.ListByCase(""); len(all) != 3 {
		t.Fatalf("ListByCase(\"\") = %+v", all)
	}
}

func TestCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := New(path)
	if list := s.ListByCase(""); len(list) != 0 {
		t.Fatalf("corrupt store should start empty, got %+v", list)
	}
}

func TestNilStoreIsSafe(t *testing.T) {
	var s *Store
	s.EnsureLoaded()
	s.Put(Record{RunID: "x"})
	s.Save()
	if _, ok := s.Get("x"); ok {
		t.Fatalf("nil store returned a record")
	}
	if list := s.ListByCase("a"); list != nil {
		t.Fatalf("nil store list = %v", list)
	}
}

func TestNormalizeRecord(t *testing.T) {
	rec := normalizeRecord(Record{RunID: " r-1 ", CaseName: " a "})
	if rec.RunID != "r-1" || rec.CaseName != "a" || rec.Status != "unknown" {
		t.Fatalf("normalizeRecord() = %+v", rec)
	}
}

func TestNewFromEnvFallsBackToFile(t *testing.T) {
	t.Setenv("RUN_STORE_PG_DSN", "")
	path := filepath.Join(t.TempDir(), "runs.json")
	s := NewFromEnv(path)
	s.Put(Record{RunID: "r-1", CaseName: "a", Status: "success"})
	if _, ok := s.Get("r-1"); !ok {
		t.Fatalf("file fallback store not working")
	}
}

func TestRecorderPersistsResult(t *testing.T) {
	s, path := fileStore(t)
	rec := Recorder{Store: s}
	rec.Record(context.Background(), runner.Result{
		RunID:        "r-1",
		Name:         "case a",
		WorkflowPath: "wf/a.json",
		Status:       "success",
		PromptID:     "p-1",
		SavedFiles:   []string{"out/a.png"},
	})

	reloaded := New(path)
	got, ok := reloaded.Get("r-1")
	if !ok {
		t.Fatalf("recorded run not persisted")
	}
	if got.CaseName != "case a" || got.WorkflowPath != "wf/a.json" || got.PromptID != "p-1" {
		t.Fatalf("record = %+v", got)
	}
	if len(got.SavedFiles) != 1 {
		t.Fatalf("saved files = %v", got.SavedFiles)
	}
}
