package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeCloud(); err != nil {
		return err
	}
	c.normalizeDataflow()
	c.normalizeExamples()
	c.normalizeLabeling()
	c.normalizeTraining()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeCloud() error {
	c.Cloud.ProjectID = strings.TrimSpace(c.Cloud.ProjectID)
	if c.Cloud.ProjectID == "" {
		if value, ok := os.LookupEnv("GOOGLE_CLOUD_PROJECT"); ok {
			c.Cloud.ProjectID = strings.TrimSpace(value)
		}
	}
	c.Cloud.Region = strings.ToLower(strings.TrimSpace(c.Cloud.Region))
	if c.Cloud.Region == "" {
		c.Cloud.Region = defaultRegion
	}
	c.Cloud.ServiceAccount = strings.TrimSpace(c.Cloud.ServiceAccount)
	c.Cloud.CredentialsPath = strings.TrimSpace(c.Cloud.CredentialsPath)
	if c.Cloud.CredentialsPath == "" {
		if value, ok := os.LookupEnv("GOOGLE_APPLICATION_CREDENTIALS"); ok {
			c.Cloud.CredentialsPath = strings.TrimSpace(value)
		}
	}
	if c.Cloud.CredentialsPath != "" {
		expanded, err := expandPath(c.Cloud.CredentialsPath)
		if err != nil {
			return fmt.Errorf("cloud.credentials_path: %w", err)
		}
		c.Cloud.CredentialsPath = expanded
	}
	return nil
}

func (c *Config) normalizeDataflow() {
	c.Dataflow.ContainerSpecPath = strings.TrimSpace(c.Dataflow.ContainerSpecPath)
	c.Dataflow.TempLocation = strings.TrimSpace(c.Dataflow.TempLocation)
	c.Dataflow.WorkerMachineType = strings.TrimSpace(c.Dataflow.WorkerMachineType)
	if c.Dataflow.WorkerMachineType == "" {
		c.Dataflow.WorkerMachineType = defaultDataflowMachineType
	}
	if c.Dataflow.MaxWorkers <= 0 {
		c.Dataflow.MaxWorkers = defaultDataflowMaxWorkers
	}
	if c.Dataflow.LaunchTimeout <= 0 {
		c.Dataflow.LaunchTimeout = defaultDataflowTimeout
	}
}

func (c *Config) normalizeExamples() {
	if c.Examples.Resolution <= 0 {
		c.Examples.Resolution = defaultResolution
	}
	if c.Examples.PatchSize <= 0 {
		c.Examples.PatchSize = defaultPatchSize
	}
}

func (c *Config) normalizeLabeling() {
	c.Labeling.InstructionURI = strings.TrimSpace(c.Labeling.InstructionURI)
	c.Labeling.InputsSchemaURI = strings.TrimSpace(c.Labeling.InputsSchemaURI)
	if c.Labeling.InputsSchemaURI == "" {
		c.Labeling.InputsSchemaURI = defaultInputsSchemaURI
	}
	if c.Labeling.LabelerCount <= 0 {
		c.Labeling.LabelerCount = defaultLabelerCount
	}
	if c.Labeling.PollTimeout <= 0 {
		c.Labeling.PollTimeout = defaultLabelingPollTimeout
	}
}

func (c *Config) normalizeTraining() {
	c.Training.TrainImageURI = strings.TrimSpace(c.Training.TrainImageURI)
	c.Training.EvalImageURI = strings.TrimSpace(c.Training.EvalImageURI)
	c.Training.InferenceImageURI = strings.TrimSpace(c.Training.InferenceImageURI)
	c.Training.MachineType = strings.TrimSpace(c.Training.MachineType)
	if c.Training.MachineType == "" {
		c.Training.MachineType = defaultTrainMachineType
	}
	c.Training.AcceleratorType = strings.TrimSpace(c.Training.AcceleratorType)
	if c.Training.AcceleratorType == "" {
		c.Training.AcceleratorType = defaultAcceleratorType
	}
	if c.Training.AcceleratorCount <= 0 {
		c.Training.AcceleratorCount = defaultAcceleratorCount
	}
	if c.Training.Epochs <= 0 {
		c.Training.Epochs = defaultEpochs
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
