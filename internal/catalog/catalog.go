// Package catalog indexes a directory tree of workflow documents and groups
// the ones that share an input/output signature. The whole index is rebuilt
// on every refresh — catalogs are small, and swapping a complete snapshot
// under a mutex avoids staleness bugs an incremental index would invite.
package catalog

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"comfybatch/internal/graph"
)

// Placeholder is one declared workflow input with its inferred media type.
type Placeholder struct {
	Name      string `json:"name"`
	MediaType string `json:"media_type"`
}

// Workflow is one catalog entry. ID is the path relative to the catalog root.
type Workflow struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Path         string        `json:"path"`
	Placeholders []Placeholder `json:"placeholders"`
	OutputTypes  []string      `json:"output_types"`
}

// InputSignature returns the sorted (name, media type) pairs that identify
// this workflow's input shape.
func (w Workflow) InputSignature() [][2]string {
	sig := make([][2]string, 0, len(w.Placeholders))
	for _, p := range w.Placeholders {
		sig = append(sig, [2]string{p.Name, p.MediaType})
	}
	sort.Slice(sig, func(i, j int) bool {
		if sig[i][0] != sig[j][0] {
			return sig[i][0] < sig[j][0]
		}
		return sig[i][1] < sig[j][1]
	})
	return sig
}

// OutputSignature returns the sorted output media types.
func (w Workflow) OutputSignature() []string {
	out := append([]string(nil), w.OutputTypes...)
	sort.Strings(out)
	return out
}

const docCacheSize = 256

// Store is the rebuildable catalog snapshot. Parsed documents are kept in a
// bounded LRU keyed by path and modification time so unchanged files are not
// re-parsed on every refresh or run.
type Store struct {
	root string

	mu        sync.RWMutex
	workflows map[string]Workflow
	groups    map[string]Group

	docs *lru.Cache[string, graph.Document]
}

// New creates a catalog over root and performs the initial scan.
func New(root string) (*Store, error) {
	docs, err := lru.New[string, graph.Document](docCacheSize)
	if err != nil {
		return nil, err
	}
	s := &Store{
		root:      root,
		workflows: map[string]Workflow{},
		groups:    map[string]Group{},
		docs:      docs,
	}
	if err := s.Refresh(); err != nil {
		return nil, err
	}
	return s, nil
}

// Refresh rescans the root recursively and replaces the snapshot. Files that
// fail to parse are skipped, never fatal.
func (s *Store) Refresh() error {
	workflows := map[string]Workflow{}
	if _, err := os.Stat(s.root); err == nil {
		err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".json") {
				return nil
			}
			info, ok := s.inspect(path)
			if !ok {
				return nil
			}
			workflows[info.ID] = info
			return nil
		})
		if err != nil {
			return fmt.Errorf("scan workflow root %s: %w", s.root, err)
		}
	}

	groups := buildGroups(workflows)

	s.mu.Lock()
	s.workflows = workflows
	s.groups = groups
	s.mu.Unlock()
	return nil
}

func (s *Store) inspect(path string) (Workflow, bool) {
	doc, err := s.loadCached(path)
	if err != nil {
		return Workflow{}, false
	}

	found := graph.DiscoverPlaceholders(doc)
	placeholders := make([]Placeholder, 0, len(found))
	for _, name := range graph.SortedPlaceholderNames(found) {
		placeholders = append(placeholders, Placeholder{
			Name:      name,
			MediaType: graph.InferMediaType(name, found[name]),
		})
	}

	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		rel = path
	}
	return Workflow{
		ID:           filepath.ToSlash(rel),
		Name:         strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Path:         path,
		Placeholders: placeholders,
		OutputTypes:  graph.InferOutputTypes(doc),
	}, true
}

func (s *Store) loadCached(path string) (graph.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%s|%d|%d", path, info.ModTime().UnixNano(), info.Size())
	if doc, ok := s.docs.Get(key); ok {
		return doc, nil
	}
	doc, err := graph.Load(path)
	if err != nil {
		return nil, err
	}
	s.docs.Add(key, doc)
	return doc, nil
}

// LoadDocument returns a private deep copy of a workflow's document, loaded
// fresh from the cache-backed store. Callers may mutate the copy freely; the
// on-disk original is never touched by execution.
func (s *Store) LoadDocument(id string) (graph.Document, error) {
	w, ok := s.GetWorkflow(id)
	if !ok {
		return nil, fmt.Errorf("workflow %s not found", id)
	}
	doc, err := s.loadCached(w.Path)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", id, err)
	}
	return doc.Clone(), nil
}

// GetWorkflow looks up one catalog entry by identifier.
func (s *Store) GetWorkflow(id string) (Workflow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workflows[id]
	return w, ok
}

// ListWorkflows returns every entry sorted by identifier.
func (s *Store) ListWorkflows() []Workflow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Workflow, 0, len(s.workflows))
	for _, w := range s.workflows {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetGroup looks up one signature group by identifier.
func (s *Store) GetGroup(id string) (Group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	return g, ok
}

// ListGroups returns every group sorted by label.
func (s *Store) ListGroups() []Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label() < out[j].Label() })
	return out
}
