// Package config resolves the application's runtime settings from a .env
// file, process environment, and defaults.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the resolved settings shared by the CLI and the web layer.
type Config struct {
	ServerURL    string
	Timeout      time.Duration
	WorkflowRoot string
	MediaRoot    string
	DatasetRoot  string
	OutputRoot   string
	RunStorePath string
	Artifact     ArtifactConfig
}

// ArtifactConfig selects and configures the optional S3 output mirror.
type ArtifactConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Load reads .env when present and resolves every setting.
func Load() (*Config, error) {
	_ = godotenv.Load()

	base := strings.TrimSpace(os.Getenv("COMFYBATCH_HOME"))
	if base == "" {
		base = "."
	}

	timeout := 120 * time.Second
	if raw := strings.TrimSpace(os.Getenv("COMFY_TIMEOUT_SECONDS")); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			timeout = time.Duration(secs) * time.Second
		}
	}

	return &Config{
		ServerURL:    firstNonEmpty(os.Getenv("COMFY_SERVER_URL"), "http://127.0.0.1:8189"),
		Timeout:      timeout,
		WorkflowRoot: firstNonEmpty(os.Getenv("WORKFLOW_ROOT"), filepath.Join(base, "workflow")),
		MediaRoot:    firstNonEmpty(os.Getenv("MEDIA_ROOT"), filepath.Join(base, "media")),
		DatasetRoot:  firstNonEmpty(os.Getenv("DATASET_ROOT"), filepath.Join(base, "datasets")),
		OutputRoot:   firstNonEmpty(os.Getenv("OUTPUT_ROOT"), filepath.Join(base, "workflow_test_output")),
		RunStorePath: firstNonEmpty(os.Getenv("RUN_STORE_PATH"), filepath.Join(base, "run_history.json")),
		Artifact:     loadArtifactConfig(),
	}, nil
}

func loadArtifactConfig() ArtifactConfig {
	endpoint := strings.TrimSpace(os.Getenv("ARTIFACT_S3_ENDPOINT"))
	return ArtifactConfig{
		Enabled:   endpoint != "",
		Endpoint:  endpoint,
		Region:    firstNonEmpty(os.Getenv("ARTIFACT_S3_REGION"), "us-east-1"),
		AccessKey: firstNonEmpty(os.Getenv("ARTIFACT_S3_ACCESS_KEY"), os.Getenv("MINIO_ROOT_USER")),
		SecretKey: firstNonEmpty(os.Getenv("ARTIFACT_S3_SECRET_KEY"), os.Getenv("MINIO_ROOT_PASSWORD")),
		Bucket:    firstNonEmpty(os.Getenv("ARTIFACT_S3_BUCKET"), "comfybatch-outputs"),
		UseSSL:    resolveUseSSL(),
	}
}

func resolveUseSSL() bool {
	raw := strings.TrimSpace(os.Getenv("ARTIFACT_S3_USE_SSL"))
	if raw == "" {
		return false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
