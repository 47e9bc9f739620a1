package vertex

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Job states reported by the custom jobs API.
const (
	JobStateQueued    = "JOB_STATE_QUEUED"
	JobStatePending   = "JOB_STATE_PENDING"
	JobStateRunning   = "JOB_STATE_RUNNING"
	JobStateSucceeded = "JOB_STATE_SUCCEEDED"
	JobStateFailed    = "JOB_STATE_FAILED"
	JobStateCancelled = "JOB_STATE_CANCELLED"
)

// IsTerminalState reports whether the job state is final.
func IsTerminalState(state string) bool {
	switch state {
	case JobStateSucceeded, JobStateFailed, JobStateCancelled:
		return true
	default:
		return false
	}
}

// CustomJobSpec describes a containerized job submission.
type CustomJobSpec struct {
	DisplayName      string
	ImageURI         string
	Args             []string
	MachineType      string
	AcceleratorType  string
	AcceleratorCount int
	OutputURIPrefix  string
}

// JobStatus is the subset of custom job state the pipeline consumes.
type JobStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type machineSpec struct {
	MachineType      string `json:"machineType"`
	AcceleratorType  string `json:"acceleratorType,omitempty"`
	AcceleratorCount int    `json:"acceleratorCount,omitempty"`
}

type containerSpec struct {
	ImageURI string   `json:"imageUri"`
	Args     []string `json:"args,omitempty"`
}

type workerPoolSpec struct {
	MachineSpec   machineSpec   `json:"machineSpec"`
	ReplicaCount  string        `json:"replicaCount"`
	ContainerSpec containerSpec `json:"containerSpec"`
}

type gcsDestination struct {
	OutputURIPrefix string `json:"outputUriPrefix"`
}

type customJobSpecBody struct {
	WorkerPoolSpecs     []workerPoolSpec `json:"workerPoolSpecs"`
	ServiceAccount      string           `json:"serviceAccount,omitempty"`
	BaseOutputDirectory *gcsDestination  `json:"baseOutputDirectory,omitempty"`
}

type customJobBody struct {
	DisplayName string            `json:"displayName"`
	JobSpec     customJobSpecBody `json:"jobSpec"`
}

// CreateCustomJob submits a containerized job and returns its resource name.
func (c *Client) CreateCustomJob(ctx context.Context, spec CustomJobSpec) (*JobStatus, error) {
	if strings.TrimSpace(spec.DisplayName) == "" {
		return nil, fmt.Errorf("custom job display name must be set")
	}
	if strings.TrimSpace(spec.ImageURI) == "" {
		return nil, fmt.Errorf("custom job image uri must be set")
	}

	body := customJobBody{
		DisplayName: spec.DisplayName,
		JobSpec: customJobSpecBody{
			WorkerPoolSpecs: []workerPoolSpec{{
				MachineSpec: machineSpec{
					MachineType:      spec.MachineType,
					AcceleratorType:  spec.AcceleratorType,
					AcceleratorCount: spec.AcceleratorCount,
				},
				ReplicaCount: "1",
				ContainerSpec: containerSpec{
					ImageURI: spec.ImageURI,
					Args:     spec.Args,
				},
			}},
			ServiceAccount: c.cfg.ServiceAccount,
		},
	}
	if spec.OutputURIPrefix != "" {
		body.JobSpec.BaseOutputDirectory = &gcsDestination{OutputURIPrefix: spec.OutputURIPrefix}
	}

	var status JobStatus
	path := fmt.Sprintf("/v1/%s/customJobs", c.parent())
	if err := c.doJSON(ctx, http.MethodPost, path, body, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetCustomJob fetches the current state of a custom job by resource name.
func (c *Client) GetCustomJob(ctx context.Context, name string) (*JobStatus, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("custom job name must be set")
	}
	var status JobStatus
	if err := c.doJSON(ctx, http.MethodGet, "/v1/"+name, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// CancelCustomJob requests cancellation of a running custom job.
func (c *Client) CancelCustomJob(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("custom job name must be set")
	}
	return c.doJSON(ctx, http.MethodPost, "/v1/"+name+":cancel", struct{}{}, nil)
}
