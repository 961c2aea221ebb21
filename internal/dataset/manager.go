// Package dataset maintains on-disk datasets of paired control/target
// samples and drives the generation loop that fills them by running one
// workflow over batches of assets.
//
// A dataset directory holds one target folder and one control folder per
// placeholder. Files are named by a zero-padded 7-digit index; a control and
// a target sharing an index are one logical pair. Two folder naming
// conventions coexist: the legacy names (target, control, control1…) and the
// current dataset-prefixed names ({dataset}_target, {dataset}_control1…).
// Both are honored on read; new folders always use the prefixed form.
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ErrNotFound reports a missing dataset, pair, or media asset.
var ErrNotFound = errors.New("not found")

// MetadataFile is the advisory bookkeeping file inside each dataset. The
// actual pair count is always recomputed from disk, so metadata and disk can
// never permanently diverge.
const MetadataFile = "metadata.json"

// Structure is the resolved folder layout for one dataset run batch.
type Structure struct {
	Dir      string
	Target   string
	Controls map[string]string // slot name -> absolute folder path
}

// Metadata is the advisory per-dataset record. TotalRuns accumulates across
// append operations and is never overwritten.
type Metadata struct {
	DatasetName     string            `json:"dataset_name"`
	WorkflowID      string            `json:"workflow_id,omitempty"`
	WorkflowPath    string            `json:"workflow_path,omitempty"`
	WorkflowName    string            `json:"workflow_name,omitempty"`
	TotalRuns       int               `json:"total_runs"`
	Placeholders    []string          `json:"placeholders,omitempty"`
	PlaceholderMap  map[string]string `json:"placeholder_map,omitempty"`
	ControlSlots    map[string]string `json:"control_slots,omitempty"`
	PromptOverrides []PromptOverride  `json:"prompt_overrides,omitempty"`
	DatasetPrompt   string            `json:"dataset_prompt,omitempty"`
}

// PromptOverride pins one node input field to a text value for every run in
// a dataset batch.
type PromptOverride struct {
	NodeID string `json:"node_id"`
	Field  string `json:"field"`
	Value  string `json:"value"`
}

// Info summarizes one dataset for listings.
type Info struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	WorkflowID   string `json:"workflow_id,omitempty"`
	WorkflowName string `json:"workflow_name,omitempty"`
	TotalRuns    int    `json:"total_runs"`
}

// Manager owns the dataset root directory.
type Manager struct {
	root string
}

// NewManager creates the dataset root if needed.
func NewManager(root string) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create dataset root: %w", err)
	}
	return &Manager{root: root}, nil
}

// Root returns the dataset root directory.
func (m *Manager) Root() string { return m.root }

// DatasetDir returns the directory for a dataset name.
func (m *Manager) DatasetDir(name string) string {
	return filepath.Join(m.root, name)
}

// EnsureStructure prepares the folder layout for a run batch over the given
// placeholder order and returns it with the placeholder→slot map and the
// highest index already present on disk (0 for a new dataset). New indices
// must start at lastIndex+1; that is what makes appending monotone and
// collision-free.
//
// existingSlots, when loaded from prior metadata, pins placeholders to the
// folder names they were assigned before — appends must never reshuffle
// folders, or index pairing across runs breaks. Callers must serialize
// appends to one dataset; concurrent appenders race on lastIndex.
func (m *Manager) EnsureStructure(name string, order []string, existingSlots map[string]string) (Structure, map[string]string, int, error) {
	dir := m.DatasetDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Structure{}, nil, 0, fmt.Errorf("create dataset dir: %w", err)
	}

	structure := Structure{
		Dir:      dir,
		Target:   resolveFolder(dir, name, "target"),
		Controls: map[string]string{},
	}
	if err := os.MkdirAll(structure.Target, 0o755); err != nil {
		return Structure{}, nil, 0, fmt.Errorf("create target dir: %w", err)
	}

	slotMap := map[string]string{}
	used := map[string]bool{}
	for _, slot := range existingSlots {
		used[slot] = true
	}

	for _, placeholder := range order {
		slot := existingSlots[placeholder]
		if slot == "" {
			slot = m.freshControlSlot(name, used)
		}
		used[slot] = true
		slotMap[placeholder] = slot

		path := resolveFolder(dir, name, slot)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return Structure{}, nil, 0, fmt.Errorf("create control dir %s: %w", slot, err)
		}
		structure.Controls[slot] = path
	}

	last, err := lastIndexOnDisk(dir, name)
	if err != nil {
		return Structure{}, nil, 0, err
	}
	return structure, slotMap, last, nil
}

func (m *Manager) freshControlSlot(name string, used map[string]bool) string {
	for i := 1; ; i++ {
		slot := fmt.Sprintf("%s_control%d", name, i)
		if used[slot] {
			continue
		}
		// A folder already on disk under either convention is taken even if
		// no metadata claims it.
		if _, err := os.Stat(filepath.Join(m.DatasetDir(name), slot)); err == nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(m.DatasetDir(name), fmt.Sprintf("control%d", i))); err == nil {
			continue
		}
		return slot
	}
}

// resolveFolder maps a logical role ("target", "control", "control2",
// "{dataset}_control2"…) onto the actual folder path, preferring an existing
// folder under either naming convention and falling back to the prefixed
// convention for creation.
func resolveFolder(datasetDir, datasetName, role string) string {
	candidates := folderCandidates(datasetName, role)
	for _, candidate := range candidates {
		path := filepath.Join(datasetDir, candidate)
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return path
		}
	}
	return filepath.Join(datasetDir, candidates[0])
}

func folderCandidates(datasetName, role string) []string {
	prefix := datasetName + "_"
	if strings.HasPrefix(role, prefix) {
		// Already a prefixed slot name; the legacy twin drops the prefix.
		return []string{role, strings.TrimPrefix(role, prefix)}
	}
	return []string{prefix + role, role}
}

// lastIndexOnDisk scans every target/control folder under both naming
// conventions for the maximum numeric file index.
func lastIndexOnDisk(datasetDir, datasetName string) (int, error) {
	entries, err := os.ReadDir(datasetDir)
	if err != nil {
		return 0, fmt.Errorf("scan dataset dir: %w", err)
	}
	last := 0
	for _, entry := range entries {
		if !entry.IsDir() || !isSampleFolder(entry.Name(), datasetName) {
			continue
		}
		indexed, err := listIndexedFiles(filepath.Join(datasetDir, entry.Name()))
		if err != nil {
			return 0, err
		}
		for index := range indexed {
			if index > last {
				last = index
			}
		}
	}
	return last, nil
}

func isSampleFolder(folder, datasetName string) bool {
	logical := strings.TrimPrefix(folder, datasetName+"_")
	return logical == "target" || logical == "control" || strings.HasPrefix(logical, "control")
}

// listIndexedFiles maps numeric index -> filenames for every file in folder
// whose stem parses as an integer. Non-indexed files are ignored. An index
// may carry several files (a target plus its .txt annotation).
func listIndexedFiles(folder string) (map[int][]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[int][]string{}, nil
		}
		return nil, fmt.Errorf("scan folder %s: %w", folder, err)
	}
	indexed := map[int][]string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		stem := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		index, err := strconv.Atoi(stem)
		if err != nil {
			continue
		}
		indexed[index] = append(indexed[index], entry.Name())
	}
	return indexed, nil
}

// listTargetFiles splits a target folder into media files and .txt prompt
// annotations, both keyed by index.
func listTargetFiles(folder string) (map[int]string, map[int]string, error) {
	all, err := listIndexedFiles(folder)
	if err != nil {
		return nil, nil, err
	}
	files := map[int]string{}
	prompts := map[int]string{}
	for index, names := range all {
		for _, filename := range names {
			if strings.EqualFold(filepath.Ext(filename), ".txt") {
				prompts[index] = filename
			} else {
				files[index] = filename
			}
		}
	}
	return files, prompts, nil
}

// indexAlias renders the canonical zero-padded form of a pair index.
func indexAlias(index int) string {
	return fmt.Sprintf("%07d", index)
}

// SavePromptAnnotation writes the free-text prompt for one target index.
func (m *Manager) SavePromptAnnotation(folder string, index int, text string) error {
	path := filepath.Join(folder, indexAlias(index)+".txt")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write prompt annotation: %w", err)
	}
	return nil
}

// LoadMetadata reads a dataset's metadata file. A missing file returns zero
// metadata, not an error.
func (m *Manager) LoadMetadata(name string) (Metadata, error) {
	b, err := os.ReadFile(filepath.Join(m.DatasetDir(name), MetadataFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Metadata{}, nil
		}
		return Metadata{}, fmt.Errorf("read dataset metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(b, &meta); err != nil {
		return Metadata{}, fmt.Errorf("parse dataset metadata: %w", err)
	}
	return meta, nil
}

// SaveMetadata writes a dataset's metadata file.
func (m *Manager) SaveMetadata(name string, meta Metadata) error {
	if err := os.MkdirAll(m.DatasetDir(name), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(m.DatasetDir(name), MetadataFile)
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write dataset metadata: %w", err)
	}
	return nil
}

// ListDatasets returns a summary for every dataset directory under the root.
func (m *Manager) ListDatasets() ([]Info, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("scan dataset root: %w", err)
	}
	infos := make([]Info, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info := Info{Name: entry.Name(), Path: filepath.Join(m.root, entry.Name())}
		meta, err := m.LoadMetadata(entry.Name())
		if err == nil {
			info.WorkflowID = meta.WorkflowID
			info.WorkflowName = meta.WorkflowName
			info.TotalRuns = meta.TotalRuns
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// RemoveDataset deletes a dataset directory and everything under it.
func (m *Manager) RemoveDataset(name string) error {
	dir := m.DatasetDir(name)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return os.RemoveAll(dir)
}

// Pair is one indexed control/target sample on disk. Missing files are empty
// strings — a pair may be partial after a manual deletion.
type Pair struct {
	Index    int               `json:"index"`
	Controls map[string]string `json:"controls"`
	Target   string            `json:"target,omitempty"`
	Prompt   string            `json:"prompt,omitempty"`
}

// CollectPairs recomputes the dataset's pairs by scanning index numbers on
// disk. Metadata is never consulted — disk is the source of truth.
func (m *Manager) CollectPairs(name string) ([]Pair, error) {
	dir := m.DatasetDir(name)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("dataset %s: %w", name, ErrNotFound)
	}

	targetDir := resolveFolder(dir, name, "target")
	targets, prompts, err := listTargetFiles(targetDir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan dataset dir: %w", err)
	}
	controlFiles := map[string]map[int][]string{}
	indices := map[int]bool{}
	for index := range targets {
		indices[index] = true
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		logical := strings.TrimPrefix(entry.Name(), name+"_")
		if !strings.HasPrefix(logical, "control") {
			continue
		}
		files, err := listIndexedFiles(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		controlFiles[entry.Name()] = files
		for index := range files {
			indices[index] = true
		}
	}

	sorted := make([]int, 0, len(indices))
	for index := range indices {
		sorted = append(sorted, index)
	}
	sort.Ints(sorted)

	pairs := make([]Pair, 0, len(sorted))
	for _, index := range sorted {
		pair := Pair{Index: index, Controls: map[string]string{}}
		if filename, ok := targets[index]; ok {
			pair.Target = filepath.Join(targetDir, filename)
		}
		if filename, ok := prompts[index]; ok {
			pair.Prompt = filepath.Join(targetDir, filename)
		}
		for slot, files := range controlFiles {
			if names, ok := files[index]; ok && len(names) > 0 {
				pair.Controls[slot] = filepath.Join(dir, slot, names[0])
			}
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

// RemovePair deletes every file carrying the given index across the
// dataset's target and control folders.
func (m *Manager) RemovePair(name string, index int) error {
	dir := m.DatasetDir(name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("scan dataset dir: %w", err)
	}
	prefix := indexAlias(index)
	for _, entry := range entries {
		if !entry.IsDir() || !isSampleFolder(entry.Name(), name) {
			continue
		}
		folder := filepath.Join(dir, entry.Name())
		files, err := os.ReadDir(folder)
		if err != nil {
			continue
		}
		for _, file := range files {
			if strings.HasPrefix(file.Name(), prefix) {
				_ = os.Remove(filepath.Join(folder, file.Name()))
			}
		}
	}
	return nil
}

// ResolveMediaPath maps a media-library-relative path onto an absolute path,
// rejecting anything that escapes the library root.
func ResolveMediaPath(mediaRoot, relative string) (string, error) {
	root, err := filepath.Abs(mediaRoot)
	if err != nil {
		return "", err
	}
	candidate, err := filepath.Abs(filepath.Join(root, relative))
	if err != nil {
		return "", err
	}
	if candidate != root && !strings.HasPrefix(candidate, root+string(filepath.Separator)) {
		return "", fmt.Errorf("illegal media path: %s", relative)
	}
	return candidate, nil
}
