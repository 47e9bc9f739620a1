package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Cloud contains Google Cloud project and credential settings shared by
// every remote job.
type Cloud struct {
	ProjectID       string `toml:"project_id"`
	Region          string `toml:"region"`
	ServiceAccount  string `toml:"service_account"`
	CredentialsPath string `toml:"credentials_path"`
}

// Paths contains local directory configuration.
type Paths struct {
	WorkDir string `toml:"work_dir"`
	LogDir  string `toml:"log_dir"`
}

// Dataflow contains configuration for the example generation pipeline.
type Dataflow struct {
	ContainerSpecPath string `toml:"container_spec_path"`
	WorkerMachineType string `toml:"worker_machine_type"`
	MaxWorkers        int    `toml:"max_workers"`
	TempLocation      string `toml:"temp_location"`
	LaunchTimeout     int    `toml:"launch_timeout"`
}

// Labeling contains configuration for the managed labeling service.
type Labeling struct {
	InstructionURI  string `toml:"instruction_uri"`
	LabelerCount    int    `toml:"labeler_count"`
	InputsSchemaURI string `toml:"inputs_schema_uri"`
	PollTimeout     int    `toml:"poll_timeout"`
}

// Training contains configuration for train, eval, and inference jobs.
type Training struct {
	TrainImageURI     string `toml:"train_image_uri"`
	EvalImageURI      string `toml:"eval_image_uri"`
	InferenceImageURI string `toml:"inference_image_uri"`
	MachineType       string `toml:"machine_type"`
	AcceleratorType   string `toml:"accelerator_type"`
	AcceleratorCount  int    `toml:"accelerator_count"`
	Epochs            int    `toml:"epochs"`
}

// Examples contains configuration for building example extraction.
type Examples struct {
	Resolution float64 `toml:"resolution"`
	PatchSize  int     `toml:"patch_size"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for aftermath.
//
// Configuration sections by subsystem:
//   - Cloud: GCP project, region, and credentials
//   - Paths: local run database and log directories
//   - Dataflow: example generation pipeline settings
//   - Examples: building patch extraction parameters
//   - Labeling: managed labeling service settings
//   - Training: train/eval/inference container settings
//   - Logging: log format and level
type Config struct {
	Cloud    Cloud    `toml:"cloud"`
	Paths    Paths    `toml:"paths"`
	Dataflow Dataflow `toml:"dataflow"`
	Examples Examples `toml:"examples"`
	Labeling Labeling `toml:"labeling"`
	Training Training `toml:"training"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/aftermath/config.toml")
}

// SampleConfig returns the embedded sample configuration content.
func SampleConfig() string {
	return sampleConfig
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/aftermath/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("aftermath.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required local directories for CLI operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// RunDatabasePath returns the path to the run state database.
func (c *Config) RunDatabasePath() string {
	return filepath.Join(c.Paths.WorkDir, "runs.db")
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}
