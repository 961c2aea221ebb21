// Package runstore persists the history of batch case runs. The default
// backend is a single JSON file; setting RUN_STORE_PG_DSN switches to
// Postgres, with listings served through a small LRU read cache. The store is
// advisory bookkeeping — losing it never affects outputs already on disk.
package runstore

import (
	"database/sql"
	"os"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Record is one finished case run.
type Record struct {
	RunID        string    `json:"run_id"`
	CaseName     string    `json:"case_name"`
	WorkflowPath string    `json:"workflow_path"`
	PromptID     string    `json:"prompt_id,omitempty"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	OutputDir    string    `json:"output_dir,omitempty"`
	SavedFiles   []string  `json:"saved_files,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

const caseCacheSize = 512

// Store holds run records in a JSON file or, when constructed with a DSN, in
// Postgres.
type Store struct {
	path string
	db   *sql.DB

	loadOnce sync.Once
	mu       sync.RWMutex
	byID     map[string]Record

	schemaOnce sync.Once
	schemaErr  error

	caseCache *lru.Cache[string, []Record]
}

// New builds a file-backed store at path.
func New(path string) *Store {
	return &Store{
		path: path,
		byID: make(map[string]Record),
	}
}

// NewPostgres builds a Postgres-backed store.
func NewPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	cache, err := lru.New[string, []Record](caseCacheSize)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{
		db:        db,
		caseCache: cache,
	}, nil
}

// NewFromEnv picks the backend from RUN_STORE_PG_DSN, falling back to the
// file backend when the DSN is unset or the connection fails.
func NewFromEnv(path string) *Store {
	dsn := strings.TrimSpace(os.Getenv("RUN_STORE_PG_DSN"))
	if dsn == "" {
		return New(path)
	}
	s, err := NewPostgres(dsn)
	if err != nil {
		return New(path)
	}
	return s
}

// EnsureLoaded prepares the backend (file load or schema creation).
func (s *Store) EnsureLoaded() {
	if s == nil {
		return
	}
	if s.db != nil {
		_ = s.ensureSchema()
		return
	}
	s.ensureLoadedFile()
}

// Save flushes the file backend; a no-op on Postgres.
func (s *Store) Save() {
	if s == nil || s.db != nil {
		return
	}
	s.saveFile()
}

// Put stores one record, replacing any record with the same run id.
func (s *Store) Put(rec Record) {
	if s == nil {
		return
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if s.db != nil {
		s.putDB(rec)
		if s.caseCache != nil {
			s.caseCache.Remove(rec.CaseName)
		}
		return
	}
	s.putFile(rec)
}

// Get looks up one record by run id.
func (s *Store) Get(runID string) (Record, bool) {
	if s == nil {
		return Record{}, false
	}
	if s.db != nil {
		return s.getDB(runID)
	}
	return s.getFile(runID)
}

// ListByCase returns every record for one case name, newest first.
func (s *Store) ListByCase(caseName string) []Record {
	if s == nil {
		return nil
	}
	if s.db != nil {
		if s.caseCache != nil {
			if cached, ok := s.caseCache.Get(caseName); ok {
				return cached
			}
		}
		records := s.listByCaseDB(caseName)
		if s.caseCache != nil {
			s.caseCache.Add(caseName, records)
		}
		return records
	}
	return s.listByCaseFile(caseName)
}

func normalizeRecord(rec Record) Record {
	rec.RunID = strings.TrimSpace(rec.RunID)
	rec.CaseName = strings.TrimSpace(rec.CaseName)
	if rec.Status == "" {
		rec.Status = "unknown"
	}
	return rec
}
