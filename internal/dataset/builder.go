package dataset

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"comfybatch/internal/catalog"
	"comfybatch/internal/comfy"
	"comfybatch/internal/graph"
	"comfybatch/internal/runner"
)

// ErrDatasetExists reports a non-append run against a non-empty dataset.
var ErrDatasetExists = errors.New("dataset already exists")

// Executor is the slice of the execution client the builder needs.
type Executor interface {
	UploadAsset(ctx context.Context, path string, kind string) (string, error)
	Execute(ctx context.Context, doc graph.Document) (string, map[string]any, error)
	CollectOutputs(ctx context.Context, history map[string]any) ([]comfy.OutputAsset, error)
}

// Progress receives per-pair completion callbacks. Optional.
type Progress interface {
	Update(completed, total int, message string)
}

// Request describes one dataset generation batch.
type Request struct {
	DatasetName        string              `json:"dataset_name"`
	WorkflowID         string              `json:"workflow_id"`
	Placeholders       map[string][]string `json:"placeholders"`
	ConvertImagesToJPG bool                `json:"convert_images_to_jpg"`
	Append             bool                `json:"append"`
	PromptOverrides    []PromptOverride    `json:"prompt_overrides,omitempty"`
	DatasetPrompt      string              `json:"dataset_prompt,omitempty"`
}

// Summary is the outcome of one completed batch.
type Summary struct {
	Dataset      string `json:"dataset"`
	TotalRuns    int    `json:"total_runs"`
	PreviousRuns int    `json:"previous_runs"`
	TotalCount   int    `json:"total_count"`
}

// Builder runs one workflow over cross-products of placeholder assets and
// fills an indexed dataset with the resulting control/target pairs.
type Builder struct {
	manager   *Manager
	catalog   *catalog.Store
	client    Executor
	mediaRoot string
}

// NewBuilder wires a builder over its collaborators. mediaRoot anchors the
// relative asset paths arriving in requests.
func NewBuilder(manager *Manager, store *catalog.Store, client Executor, mediaRoot string) *Builder {
	return &Builder{manager: manager, catalog: store, client: client, mediaRoot: mediaRoot}
}

// Generate runs one batch. If the dataset directory did not exist before the
// run, any pair failure rolls the whole directory back; on a pre-existing
// dataset partial progress is left in place. Cancellation is honored at pair
// boundaries only.
func (b *Builder) Generate(ctx context.Context, req Request, progress Progress) (Summary, error) {
	name := runner.SanitizeForFS(strings.TrimSpace(req.DatasetName))
	if strings.TrimSpace(req.DatasetName) == "" {
		return Summary{}, &runner.ValidationError{Msg: "dataset name must not be empty"}
	}
	if len(req.Placeholders) == 0 {
		return Summary{}, &runner.ValidationError{Msg: "placeholder assets must be provided"}
	}

	preExists, hasContent, err := b.datasetState(name)
	if err != nil {
		return Summary{}, err
	}
	if hasContent && !req.Append {
		return Summary{}, fmt.Errorf("dataset %s: %w", name, ErrDatasetExists)
	}

	existingMeta, err := b.manager.LoadMetadata(name)
	if err != nil {
		return Summary{}, err
	}

	order, normalized, labels, err := b.normalizePlaceholders(req.Placeholders)
	if err != nil {
		return Summary{}, err
	}

	workflow, ok := b.catalog.GetWorkflow(req.WorkflowID)
	if !ok {
		return Summary{}, fmt.Errorf("workflow %s: %w", req.WorkflowID, ErrNotFound)
	}

	structure, slotMap, lastIndex, err := b.manager.EnsureStructure(name, order, existingMeta.ControlSlots)
	if err != nil {
		return Summary{}, err
	}

	pairs, err := IterPairs(normalized)
	if err != nil {
		return Summary{}, &runner.ValidationError{Msg: err.Error()}
	}
	total := len(pairs)

	overrides := cleanPromptOverrides(req.PromptOverrides)
	prompt := strings.TrimSpace(req.DatasetPrompt)

	if err := b.runPairs(ctx, workflow, req, structure, slotMap, order, pairs, lastIndex, overrides, prompt, progress); err != nil {
		if !preExists {
			if rmErr := b.manager.RemoveDataset(name); rmErr != nil {
				log.Printf("rollback of dataset %s failed: %v", name, rmErr)
			}
		}
		return Summary{}, err
	}

	meta := Metadata{
		DatasetName:     name,
		WorkflowID:      workflow.ID,
		WorkflowPath:    workflow.Path,
		WorkflowName:    workflow.Name,
		TotalRuns:       existingMeta.TotalRuns + total,
		Placeholders:    labelsInOrder(order, labels),
		PlaceholderMap:  labels,
		ControlSlots:    slotMap,
		PromptOverrides: overrides,
		DatasetPrompt:   prompt,
	}
	if err := b.manager.SaveMetadata(name, meta); err != nil {
		return Summary{}, err
	}

	return Summary{
		Dataset:      name,
		TotalRuns:    total,
		PreviousRuns: existingMeta.TotalRuns,
		TotalCount:   existingMeta.TotalRuns + total,
	}, nil
}

func (b *Builder) runPairs(
	ctx context.Context,
	workflow catalog.Workflow,
	req Request,
	structure Structure,
	slotMap map[string]string,
	order []string,
	pairs []map[string]string,
	lastIndex int,
	overrides []PromptOverride,
	prompt string,
	progress Progress,
) error {
	for offset, pair := range pairs {
		if err := ctx.Err(); err != nil {
			return err
		}
		index := lastIndex + offset + 1

		remoteMapping := map[string]string{}
		for _, placeholder := range order {
			slot := slotMap[placeholder]
			controlDir, ok := structure.Controls[slot]
			if !ok {
				return fmt.Errorf("no control folder assigned for %s", placeholder)
			}
			source := pair[placeholder]
			savedControl, err := b.manager.SaveControl(controlDir, index, source, req.ConvertImagesToJPG)
			if err != nil {
				return err
			}
			remoteName, err := b.client.UploadAsset(ctx, savedControl, "")
			if err != nil {
				return err
			}
			for _, alias := range graph.PlaceholderAliases(placeholder) {
				remoteMapping[alias] = remoteName
			}
		}

		doc, err := b.catalog.LoadDocument(workflow.ID)
		if err != nil {
			return err
		}
		doc = graph.SubstitutePlaceholders(doc, remoteMapping)
		for _, override := range overrides {
			graph.ApplyFieldOverrides(doc, "id:"+override.NodeID, map[string]any{override.Field: override.Value})
		}

		_, history, err := b.client.Execute(ctx, doc)
		if err != nil {
			return err
		}
		outputs, err := b.client.CollectOutputs(ctx, history)
		if err != nil {
			return err
		}

		asset, ok := pickTargetAsset(outputs)
		if !ok {
			return fmt.Errorf("workflow returned no image or video output")
		}
		convert := req.ConvertImagesToJPG && asset.Bucket == "images"
		if _, err := b.manager.SaveTargetAsset(structure.Target, index, asset.OriginalFilename, asset.Data, convert); err != nil {
			return err
		}
		if prompt != "" {
			if err := b.manager.SavePromptAnnotation(structure.Target, index, prompt); err != nil {
				return err
			}
		}
		if progress != nil {
			progress.Update(offset+1, len(pairs), fmt.Sprintf("run %d/%d completed", offset+1, len(pairs)))
		}
	}
	return nil
}

// pickTargetAsset selects the first output landing in the images or videos
// bucket; everything else (files, gifs, audio) is ignored for pairing.
func pickTargetAsset(outputs []comfy.OutputAsset) (comfy.OutputAsset, bool) {
	for _, asset := range outputs {
		if asset.Bucket == "images" || asset.Bucket == "videos" {
			return asset, true
		}
	}
	return comfy.OutputAsset{}, false
}

func (b *Builder) datasetState(name string) (preExists bool, hasContent bool, err error) {
	dir := b.manager.DatasetDir(name)
	entries, readErr := readDirIfExists(dir)
	if readErr != nil {
		return false, false, readErr
	}
	if entries == nil {
		return false, false, nil
	}
	return true, len(entries) > 0, nil
}

// readDirIfExists returns nil entries (not an error) for a missing dir.
func readDirIfExists(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan dataset dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}

func (b *Builder) normalizePlaceholders(placeholders map[string][]string) (order []string, normalized map[string][]string, labels map[string]string, err error) {
	normalized = map[string][]string{}
	labels = map[string]string{}
	keys := make([]string, 0, len(placeholders))
	for key := range placeholders {
		keys = append(keys, key)
	}
	// Request maps carry no order; sort so slot assignment is deterministic.
	sort.Strings(keys)
	for _, key := range keys {
		values := placeholders[key]
		canon, ok := graph.NormalizePlaceholder(key)
		if !ok {
			return nil, nil, nil, &runner.ValidationError{Msg: "placeholder name must not be empty"}
		}
		resolved := make([]string, 0, len(values))
		for _, rel := range values {
			path, resolveErr := ResolveMediaPath(b.mediaRoot, rel)
			if resolveErr != nil {
				return nil, nil, nil, resolveErr
			}
			resolved = append(resolved, path)
		}
		order = append(order, canon)
		normalized[canon] = resolved
		labels[canon] = key
	}
	return order, normalized, labels, nil
}

func cleanPromptOverrides(overrides []PromptOverride) []PromptOverride {
	cleaned := make([]PromptOverride, 0, len(overrides))
	for _, o := range overrides {
		o.NodeID = strings.TrimSpace(o.NodeID)
		o.Field = strings.TrimSpace(o.Field)
		o.Value = strings.TrimSpace(o.Value)
		if o.NodeID == "" || o.Field == "" || o.Value == "" {
			continue
		}
		cleaned = append(cleaned, o)
	}
	return cleaned
}

func labelsInOrder(order []string, labels map[string]string) []string {
	out := make([]string, 0, len(order))
	for _, canon := range order {
		out = append(out, labels[canon])
	}
	return out
}
