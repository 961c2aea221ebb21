// Package runner sequences batch workflow executions: it resolves each case's
// inputs against the execution server, runs the workflow, and persists every
// output alongside run metadata. Case failures are isolated — a bad case is
// recorded and the batch moves on.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"comfybatch/internal/comfy"
	"comfybatch/internal/graph"
)

// Executor is the slice of the execution client the runner needs. Tests and
// the web layer substitute fakes.
type Executor interface {
	UploadAsset(ctx context.Context, path string, kind string) (string, error)
	Execute(ctx context.Context, doc graph.Document) (string, map[string]any, error)
	CollectOutputs(ctx context.Context, history map[string]any) ([]comfy.OutputAsset, error)
}

// Recorder receives every finished case result. Optional.
type Recorder interface {
	Record(ctx context.Context, result Result)
}

// Mirror pushes persisted output files to a remote artifact store. Optional;
// mirroring is best-effort and never fails a case.
type Mirror interface {
	Mirror(ctx context.Context, runID, path string) error
}

// Result is the outcome of one case.
type Result struct {
	RunID        string         `json:"run_id"`
	Name         string         `json:"name"`
	WorkflowPath string         `json:"workflow_path,omitempty"`
	Status       string         `json:"status"`
	Error        string         `json:"error,omitempty"`
	PromptID     string         `json:"prompt_id,omitempty"`
	OutputDir    string         `json:"output_dir,omitempty"`
	SavedFiles   []string       `json:"saved_files,omitempty"`
	MetadataFile string         `json:"metadata_file,omitempty"`
	ServerStatus map[string]any `json:"server_status,omitempty"`
}

// Runner coordinates case execution and result accounting.
type Runner struct {
	client     Executor
	outputRoot string
	recorder   Recorder
	mirror     Mirror

	mu      sync.Mutex
	results []Result
}

// New builds a runner persisting outputs under outputRoot.
func New(client Executor, outputRoot string) *Runner {
	return &Runner{client: client, outputRoot: outputRoot}
}

// WithRecorder attaches a result recorder and returns the runner.
func (r *Runner) WithRecorder(rec Recorder) *Runner {
	r.recorder = rec
	return r
}

// WithMirror attaches an artifact mirror and returns the runner.
func (r *Runner) WithMirror(m Mirror) *Runner {
	r.mirror = m
	return r
}

// RunAll executes every case in order. Cancellation is honored between cases,
// never mid-execution of a single workflow.
func (r *Runner) RunAll(ctx context.Context, cases []Case) error {
	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.RunCase(ctx, c)
	}
	return nil
}

// RunCase executes one case. Any failure is captured in the result rather
// than propagated, so one bad case never aborts its siblings.
func (r *Runner) RunCase(ctx context.Context, c Case) Result {
	log.Printf("==== running workflow: %s ====", c.Name)
	result := Result{RunID: uuid.NewString(), Name: c.Name, WorkflowPath: c.WorkflowPath}

	if err := r.runCase(ctx, c, &result); err != nil {
		log.Printf("workflow %s failed: %v", c.Name, err)
		result.Status = "failed"
		result.Error = err.Error()
	} else {
		log.Printf("workflow %s finished successfully", c.Name)
		result.Status = "success"
	}

	r.mu.Lock()
	r.results = append(r.results, result)
	r.mu.Unlock()
	if r.recorder != nil {
		r.recorder.Record(ctx, result)
	}
	return result
}

func (r *Runner) runCase(ctx context.Context, c Case, result *Result) error {
	doc, err := graph.Load(c.WorkflowPath)
	if err != nil {
		return err
	}

	mapping, err := r.prepareInputs(ctx, c.Inputs)
	if err != nil {
		return err
	}
	doc = graph.SubstitutePlaceholders(doc, mapping)
	for selector, updates := range c.TextInputs {
		graph.ApplyFieldOverrides(doc, selector, updates)
	}
	graph.ApplyOverrides(doc, c.Overrides)

	promptID, history, err := r.client.Execute(ctx, doc)
	result.PromptID = promptID
	if err != nil {
		return err
	}

	statusInfo, _ := history["status"].(map[string]any)
	result.ServerStatus = statusInfo
	if state, ok := statusInfo["status"].(string); ok && state != "success" {
		return fmt.Errorf("workflow reported non-success status: %v", statusInfo)
	}

	outputs, err := r.client.CollectOutputs(ctx, history)
	if err != nil {
		return err
	}

	outputDir, err := r.resolveOutputDir(c)
	if err != nil {
		return err
	}
	result.OutputDir = outputDir

	saved, err := persistOutputs(outputs, outputDir)
	if err != nil {
		return err
	}
	result.SavedFiles = saved

	metadataPath, err := writeMetadata(outputDir, c, promptID, statusInfo, saved)
	if err != nil {
		return err
	}
	result.MetadataFile = metadataPath

	if r.mirror != nil {
		for _, path := range append(append([]string{}, saved...), metadataPath) {
			if err := r.mirror.Mirror(ctx, result.RunID, path); err != nil {
				log.Printf("runner: mirror %s: %v", path, err)
			}
		}
	}
	return nil
}

// prepareInputs resolves every declared input to a remote asset name,
// uploading local files as needed. Repeated uploads of the same path are not
// deduplicated — each case uploads independently.
func (r *Runner) prepareInputs(ctx context.Context, inputs map[string]AssetSpec) (map[string]string, error) {
	mapping := map[string]string{}
	for placeholder, spec := range inputs {
		var remoteName string
		if spec.NeedsUpload() {
			name, err := r.client.UploadAsset(ctx, spec.Path, spec.UploadType)
			if err != nil {
				return nil, err
			}
			remoteName = name
		} else {
			remoteName = spec.RemoteName()
			log.Printf("using existing server asset %s -> %s", placeholder, remoteName)
		}
		for _, alias := range graph.PlaceholderAliases(placeholder) {
			mapping[alias] = remoteName
		}
	}
	return mapping, nil
}

func (r *Runner) resolveOutputDir(c Case) (string, error) {
	base := c.OutputDir
	if base == "" {
		base = filepath.Join(r.outputRoot, SanitizeForFS(c.Name))
	}
	dir := filepath.Join(base, time.Now().Format("20060102-150405"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return dir, nil
}

func persistOutputs(outputs []comfy.OutputAsset, dir string) ([]string, error) {
	saved := make([]string, 0, len(outputs))
	for _, asset := range outputs {
		filename := fmt.Sprintf("%s_%s_%d_%s", asset.NodeID, asset.Bucket, asset.Index, asset.OriginalFilename)
		path := filepath.Join(dir, filename)
		if err := os.WriteFile(path, asset.Data, 0o644); err != nil {
			return nil, fmt.Errorf("save output %s: %w", filename, err)
		}
		saved = append(saved, path)
	}
	return saved, nil
}

func writeMetadata(dir string, c Case, promptID string, statusInfo map[string]any, saved []string) (string, error) {
	metadata := map[string]any{
		"case_name":     c.Name,
		"workflow_path": c.WorkflowPath,
		"prompt_id":     promptID,
		"status":        statusInfo,
		"saved_files":   saved,
	}
	b, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "run_metadata.json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return "", fmt.Errorf("write run metadata: %w", err)
	}
	return path, nil
}

// Results returns a copy of every recorded result.
func (r *Runner) Results() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.results...)
}

// Summary renders the batch outcome as "N succeeded, M failed". Partial
// failure is reported, never escalated to total failure.
func (r *Runner) Summary() (succeeded, failed int, failedNames []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range r.results {
		if res.Status == "success" {
			succeeded++
		} else {
			failed++
			failedNames = append(failedNames, res.Name)
		}
	}
	return succeeded, failed, failedNames
}
