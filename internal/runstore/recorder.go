package runstore

import (
	"context"
	"time"

	"comfybatch/internal/runner"
)

// Recorder adapts the store to the runner's result callback.
type Recorder struct {
	Store *Store
}

// Record implements runner.Recorder.
func (r Recorder) Record(_ context.Context, res runner.Result) {
	if r.Store == nil {
		return
	}
	r.Store.Put(Record{
		RunID:        res.RunID,
		CaseName:     res.Name,
		WorkflowPath: res.WorkflowPath,
		PromptID:     res.PromptID,
		Status:       res.Status,
		Error:        res.Error,
		OutputDir:    res.OutputDir,
		SavedFiles:   res.SavedFiles,
		CreatedAt:    time.Now(),
	})
	r.Store.Save()
}
