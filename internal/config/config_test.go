package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"aftermath/internal/config"
)

func TestLoadDefaultConfigUsesEnvProjectAndExpandsPaths(t *testing.T) {
	t.Setenv("GOOGLE_CLOUD_PROJECT", "test-project")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantWork := filepath.Join(tempHome, ".local", "share", "aftermath")
	if cfg.Paths.WorkDir != wantWork {
		t.Fatalf("unexpected work dir: got %q want %q", cfg.Paths.WorkDir, wantWork)
	}
	if cfg.Cloud.ProjectID != "test-project" {
		t.Fatalf("expected project id from env, got %q", cfg.Cloud.ProjectID)
	}
	if cfg.Cloud.Region != "us-central1" {
		t.Fatalf("unexpected default region: %q", cfg.Cloud.Region)
	}
	if cfg.Labeling.LabelerCount != 1 {
		t.Fatalf("unexpected default labeler count: %d", cfg.Labeling.LabelerCount)
	}
	if cfg.Examples.Resolution != 0.5 {
		t.Fatalf("unexpected default resolution: %v", cfg.Examples.Resolution)
	}
	if cfg.Logging.Format != "console" {
		t.Fatalf("unexpected default log format: %q", cfg.Logging.Format)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.WorkDir, cfg.Paths.LogDir} {
		if _, err := os.Stat(dir); err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
	}
	if cfg.RunDatabasePath() != filepath.Join(wantWork, "runs.db") {
		t.Fatalf("unexpected run database path: %q", cfg.RunDatabasePath())
	}
}

func TestLoadMissingProjectFails(t *testing.T) {
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	t.Setenv("HOME", t.TempDir())

	_, _, _, err := config.Load("")
	if err == nil {
		t.Fatal("expected error when project id missing")
	}
	if !strings.Contains(err.Error(), "cloud.project_id") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadExplicitFileOverridesDefaults(t *testing.T) {
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "aftermath.toml")
	content := `
[cloud]
project_id = "disaster-assessment"
region = "Europe-West1"

[dataflow]
max_workers = 4

[logging]
format = "JSON"
level = "DEBUG"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected explicit config to resolve, got %q exists=%v", resolved, exists)
	}
	if cfg.Cloud.ProjectID != "disaster-assessment" {
		t.Fatalf("unexpected project id: %q", cfg.Cloud.ProjectID)
	}
	if cfg.Cloud.Region != "europe-west1" {
		t.Fatalf("expected region lowercased, got %q", cfg.Cloud.Region)
	}
	if cfg.Dataflow.MaxWorkers != 4 {
		t.Fatalf("unexpected max workers: %d", cfg.Dataflow.MaxWorkers)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging settings: %+v", cfg.Logging)
	}
	// Unset sections keep their defaults.
	if cfg.Training.MachineType != config.Default().Training.MachineType {
		t.Fatalf("unexpected machine type: %q", cfg.Training.MachineType)
	}
}

func TestValidateRejectsBadPaths(t *testing.T) {
	cfg := config.Default()
	cfg.Cloud.ProjectID = "p"
	cfg.Dataflow.ContainerSpecPath = "/not/a/bucket/path"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non gs:// container spec path")
	}

	cfg = config.Default()
	cfg.Cloud.ProjectID = "p"
	cfg.Labeling.InstructionURI = "http://example.com/instructions.pdf"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non gs:// instruction uri")
	}
}

func TestSampleConfigParses(t *testing.T) {
	var cfg config.Config
	if err := toml.Unmarshal([]byte(config.SampleConfig()), &cfg); err != nil {
		t.Fatalf("sample config does not parse: %v", err)
	}
	if cfg.Cloud.Region != "us-central1" {
		t.Fatalf("unexpected sample region: %q", cfg.Cloud.Region)
	}
}
