package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateCloud(); err != nil {
		return err
	}
	if err := c.validateDataflow(); err != nil {
		return err
	}
	if err := c.validateExamples(); err != nil {
		return err
	}
	if err := c.validateLabeling(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateCloud() error {
	if c.Cloud.ProjectID == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/aftermath/config.toml"
		}
		return fmt.Errorf("cloud.project_id is required. Set GOOGLE_CLOUD_PROJECT env var or edit %s (create with 'aftermath config init')", defaultPath)
	}
	if c.Cloud.Region == "" {
		return errors.New("cloud.region must be set")
	}
	return nil
}

func (c *Config) validateDataflow() error {
	if c.Dataflow.ContainerSpecPath != "" && !strings.HasPrefix(c.Dataflow.ContainerSpecPath, "gs://") {
		return errors.New("dataflow.container_spec_path must be a gs:// path")
	}
	if c.Dataflow.TempLocation != "" && !strings.HasPrefix(c.Dataflow.TempLocation, "gs://") {
		return errors.New("dataflow.temp_location must be a gs:// path")
	}
	return nil
}

func (c *Config) validateExamples() error {
	if c.Examples.Resolution <= 0 {
		return errors.New("examples.resolution must be positive")
	}
	if c.Examples.PatchSize <= 0 {
		return errors.New("examples.patch_size must be positive")
	}
	return nil
}

func (c *Config) validateLabeling() error {
	if c.Labeling.InstructionURI != "" && !strings.HasPrefix(c.Labeling.InstructionURI, "gs://") {
		return errors.New("labeling.instruction_uri must be a gs:// path")
	}
	return nil
}
