package config

const (
	defaultWorkDir             = "~/.local/share/aftermath"
	defaultLogDir              = "~/.local/share/aftermath/logs"
	defaultRegion              = "us-central1"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultDataflowMachineType = "n1-highmem-8"
	defaultDataflowMaxWorkers  = 20
	defaultDataflowTimeout     = 600
	defaultLabelerCount        = 1
	defaultLabelingPollTimeout = 120
	defaultInputsSchemaURI     = "gs://google-cloud-aiplatform/schema/datalabelingjob/inputs/image_classification_1.0.0.yaml"
	defaultTrainMachineType    = "n1-highmem-16"
	defaultAcceleratorType     = "NVIDIA_TESLA_T4"
	defaultAcceleratorCount    = 1
	defaultEpochs              = 100
	defaultResolution          = 0.5
	defaultPatchSize           = 64
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Cloud: Cloud{
			Region: defaultRegion,
		},
		Paths: Paths{
			WorkDir: defaultWorkDir,
			LogDir:  defaultLogDir,
		},
		Dataflow: Dataflow{
			WorkerMachineType: defaultDataflowMachineType,
			MaxWorkers:        defaultDataflowMaxWorkers,
			LaunchTimeout:     defaultDataflowTimeout,
		},
		Examples: Examples{
			Resolution: defaultResolution,
			PatchSize:  defaultPatchSize,
		},
		Labeling: Labeling{
			LabelerCount:    defaultLabelerCount,
			InputsSchemaURI: defaultInputsSchemaURI,
			PollTimeout:     defaultLabelingPollTimeout,
		},
		Training: Training{
			MachineType:      defaultTrainMachineType,
			AcceleratorType:  defaultAcceleratorType,
			AcceleratorCount: defaultAcceleratorCount,
			Epochs:           defaultEpochs,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
