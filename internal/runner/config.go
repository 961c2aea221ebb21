package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// DefaultServerURL is used when neither config nor flags name a server.
const DefaultServerURL = "http://127.0.0.1:8189"

// ValidationError reports malformed run configuration.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationErrf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// AssetSpec resolves one placeholder to a concrete asset. Either a local file
// to upload, or (with Upload=false) the name of an asset already resident on
// the server.
type AssetSpec struct {
	Path       string `json:"path"`
	UploadType string `json:"upload_type,omitempty"`
	Upload     *bool  `json:"upload,omitempty"`
	Name       string `json:"name,omitempty"`
}

// NeedsUpload reports whether the spec requires uploading a local file.
func (a AssetSpec) NeedsUpload() bool {
	return a.Upload == nil || *a.Upload
}

// RemoteName returns the pre-resident server asset name for no-upload specs.
func (a AssetSpec) RemoteName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Path
}

// UnmarshalJSON accepts either a bare path string or the full object form.
func (a *AssetSpec) UnmarshalJSON(data []byte) error {
	var path string
	if err := json.Unmarshal(data, &path); err == nil {
		*a = AssetSpec{Path: path}
		return nil
	}
	type plain AssetSpec
	var obj plain
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("asset spec must be a path or an object: %w", err)
	}
	*a = AssetSpec(obj)
	return nil
}

// Case is one workflow execution request.
type Case struct {
	Name         string                    `json:"name"`
	WorkflowPath string                    `json:"workflow_path"`
	Inputs       map[string]AssetSpec      `json:"inputs,omitempty"`
	TextInputs   map[string]map[string]any `json:"text_inputs,omitempty"`
	Overrides    map[string]any            `json:"overrides,omitempty"`
	OutputDir    string                    `json:"output_dir,omitempty"`
}

// Config is the parsed batch configuration file.
type Config struct {
	Server     string `json:"server"`
	OutputRoot string `json:"output_dir"`
	Cases      []Case `json:"workflows"`
}

// LoadConfig reads a batch configuration, applying the name filter when given.
// An empty workflows list, a nameless entry, or a filter matching nothing are
// all validation errors.
func LoadConfig(path string, only []string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Server == "" {
		cfg.Server = DefaultServerURL
	}
	if len(cfg.Cases) == 0 {
		return Config{}, validationErrf("configuration must include a non-empty 'workflows' list")
	}

	allowed := map[string]bool{}
	for _, name := range only {
		allowed[name] = true
	}
	filtered := make([]Case, 0, len(cfg.Cases))
	for _, c := range cfg.Cases {
		if c.Name == "" {
			return Config{}, validationErrf("each workflow entry must include a 'name'")
		}
		if len(allowed) > 0 && !allowed[c.Name] {
			continue
		}
		filtered = append(filtered, c)
	}
	if len(allowed) > 0 && len(filtered) == 0 {
		return Config{}, validationErrf("no workflows matched the provided filters")
	}
	cfg.Cases = filtered
	return cfg, nil
}

var unsafeFSChars = regexp.MustCompile(`[^\w.\-]+`)

// SanitizeForFS maps an arbitrary name onto a safe directory name.
func SanitizeForFS(value string) string {
	cleaned := strings.Trim(unsafeFSChars.ReplaceAllString(value, "_"), "_")
	if cleaned == "" {
		return "workflow"
	}
	return cleaned
}
