package testsupport

import (
	"path/filepath"
	"testing"

	"aftermath/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Cloud.ProjectID = "test-project"
	cfgVal.Cloud.Region = "us-central1"
	cfgVal.Paths.WorkDir = filepath.Join(base, "work")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Dataflow.ContainerSpecPath = "gs://test-templates/examplegen.json"
	cfgVal.Training.TrainImageURI = "gcr.io/test-project/train:latest"
	cfgVal.Training.EvalImageURI = "gcr.io/test-project/eval:latest"
	cfgVal.Training.InferenceImageURI = "gcr.io/test-project/inference:latest"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithProjectID sets the GCP project id on the test config.
func WithProjectID(id string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Cloud.ProjectID = id
	}
}

// WithRegion sets the GCP region on the test config.
func WithRegion(region string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Cloud.Region = region
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.WorkDir)
}
