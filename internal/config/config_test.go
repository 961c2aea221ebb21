package config

import (
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"COMFYBATCH_HOME", "COMFY_SERVER_URL", "COMFY_TIMEOUT_SECONDS",
		"WORKFLOW_ROOT", "MEDIA_ROOT", "DATASET_ROOT", "OUTPUT_ROOT", "RUN_STORE_PATH",
		"ARTIFACT_S3_ENDPOINT", "ARTIFACT_S3_REGION", "ARTIFACT_S3_ACCESS_KEY",
		"ARTIFACT_S3_SECRET_KEY", "ARTIFACT_S3_BUCKET", "ARTIFACT_S3_USE_SSL",
		"MINIO_ROOT_USER", "MINIO_ROOT_PASSWORD",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerURL != "http://127.0.0.1:8189" {
		t.Fatalf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.Timeout != 120*time.Second {
		t.Fatalf("Timeout = %v", cfg.Timeout)
	}
	if cfg.WorkflowRoot != filepath.Join(".", "workflow") {
		t.Fatalf("WorkflowRoot = %q", cfg.WorkflowRoot)
	}
	if cfg.Artifact.Enabled {
		t.Fatalf("artifact mirror enabled without an endpoint")
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("COMFYBATCH_HOME", "/srv/comfybatch")
	t.Setenv("COMFY_SERVER_URL", "http://gpu:8189")
	t.Setenv("COMFY_TIMEOUT_SECONDS", "300")
	t.Setenv("DATASET_ROOT", "/data/sets")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerURL != "http://gpu:8189" {
		t.Fatalf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.Timeout != 5*time.Minute {
		t.Fatalf("Timeout = %v", cfg.Timeout)
	}
	if cfg.DatasetRoot != "/data/sets" {
		t.Fatalf("DatasetRoot = %q", cfg.DatasetRoot)
	}
	if cfg.MediaRoot != filepath.Join("/srv/comfybatch", "media") {
		t.Fatalf("MediaRoot = %q", cfg.MediaRoot)
	}
}

func TestLoadInvalidTimeoutFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("COMFY_TIMEOUT_SECONDS", "not-a-number")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Timeout != 120*time.Second {
		t.Fatalf("Timeout = %v", cfg.Timeout)
	}
}

func TestArtifactConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("ARTIFACT_S3_ENDPOINT", "minio:9000")
	t.Setenv("MINIO_ROOT_USER", "root")
	t.Setenv("MINIO_ROOT_PASSWORD", "secret")
	t.Setenv("ARTIFACT_S3_USE_SSL", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	a := cfg.Artifact
	if !a.Enabled || a.Endpoint != "minio:9000" {
		t.Fatalf("artifact = %+v", a)
	}
	if a.AccessKey != "root" || a.SecretKey != "secret" {
		t.Fatalf("minio credential fallback failed: %+v", a)
	}
	if a.Bucket != "comfybatch-outputs" || a.Region != "us-east-1" {
		t.Fatalf("artifact defaults: %+v", a)
	}
	if !a.UseSSL {
		t.Fatalf("UseSSL not parsed")
	}
}
