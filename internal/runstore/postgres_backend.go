package runstore

import (
	"encoding/json"
	"strings"
)

func (s *Store) ensureSchema() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.Exec(`
CREATE TABLE IF NOT EXISTS run_records (
  run_id TEXT PRIMARY KEY,
  case_name TEXT NOT NULL DEFAULT '',
  workflow_path TEXT NOT NULL DEFAULT '',
  prompt_id TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT 'unknown',
  error TEXT NOT NULL DEFAULT '',
  output_dir TEXT NOT NULL DEFAULT '',
  saved_files TEXT NOT NULL DEFAULT '[]',
  created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_run_records_case_name ON run_records (case_name);
`)
	})
	return s.schemaErr
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, bool) {
	var rec Record
	var savedFiles string
	err := row.Scan(
		&rec.RunID,
		&rec.CaseName,
		&rec.WorkflowPath,
		&rec.PromptID,
		&rec.Status,
		&rec.Error,
		&rec.OutputDir,
		&savedFiles,
		&rec.CreatedAt,
	)
	if err != nil {
		return Record{}, false
	}
	_ = json.Unmarshal([]byte(savedFiles), &rec.SavedFiles)
	return normalizeRecord(rec), true
}

func (s *Store) putDB(rec Record) {
	if err := s.ensureSchema(); err != nil {
		return
	}
	rec = normalizeRecord(rec)
	if rec.RunID == "" {
		return
	}
	savedFiles, err := json.Marshal(rec.SavedFiles)
	if err != nil {
		savedFiles = []byte("[]")
	}
	_, _ = s.db.Exec(`
INSERT INTO run_records (
  run_id, case_name, workflow_path, prompt_id, status, error, output_dir, saved_files, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (run_id)
DO UPDATE SET case_name=EXCLUDED.case_name,
  workflow_path=EXCLUDED.workflow_path,
  prompt_id=EXCLUDED.prompt_id,
  status=EXCLUDED.status,
  error=EXCLUDED.error,
  output_dir=EXCLUDED.output_dir,
  saved_files=EXCLUDED.saved_files`,
		rec.RunID, rec.CaseName, rec.WorkflowPath, rec.PromptID, rec.Status,
		rec.Error, rec.OutputDir, string(savedFiles), rec.CreatedAt)
}

func (s *Store) getDB(runID string) (Record, bool) {
	if err := s.ensureSchema(); err != nil {
		return Record{}, false
	}
	id := strings.TrimSpace(runID)
	if id == "" {
		return Record{}, false
	}
	row := s.db.QueryRow(`SELECT run_id, case_name, workflow_path, prompt_id, status, error, output_dir, saved_files, created_at
FROM run_records WHERE run_id = $1`, id)
	return scanRecord(row)
}

func (s *Store) listByCaseDB(caseName string) []Record {
	if err := s.ensureSchema(); err != nil {
		return nil
	}
	rows, err := s.db.Query(`SELECT run_id, case_name, workflow_path, prompt_id, status, error, output_dir, saved_files, created_at
FROM run_records WHERE case_name = $1 ORDER BY created_at DESC`, strings.TrimSpace(caseName))
	if err != nil {
		return nil
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		if rec, ok := scanRecord(rows); ok {
			out = append(out, rec)
		}
	}
	return out
}
