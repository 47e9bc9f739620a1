package vertex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	imageDatasetSchemaURI = "gs://google-cloud-aiplatform/schema/dataset/metadata/image_1.0.0.yaml"
	imageImportSchemaURI  = "gs://google-cloud-aiplatform/schema/dataset/ioformat/image_classification_single_label_io_format_1.0.0.yaml"
)

// Dataset is the subset of dataset state the pipeline consumes.
type Dataset struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// ID returns the trailing numeric identifier of the dataset resource name.
func (d Dataset) ID() string {
	idx := strings.LastIndex(d.Name, "/")
	if idx < 0 {
		return d.Name
	}
	return d.Name[idx+1:]
}

type operation struct {
	Name     string          `json:"name"`
	Done     bool            `json:"done"`
	Response json.RawMessage `json:"response"`
	Error    *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateImageDataset creates an image dataset and waits for the creation
// operation to finish.
func (c *Client) CreateImageDataset(ctx context.Context, displayName string) (*Dataset, error) {
	body := map[string]string{
		"displayName":       displayName,
		"metadataSchemaUri": imageDatasetSchemaURI,
	}

	var op operation
	path := fmt.Sprintf("/v1/%s/datasets", c.parent())
	if err := c.doJSON(ctx, http.MethodPost, path, body, &op); err != nil {
		return nil, err
	}

	finished, err := c.waitOperation(ctx, op)
	if err != nil {
		return nil, err
	}

	var dataset Dataset
	if err := json.Unmarshal(finished.Response, &dataset); err != nil {
		return nil, fmt.Errorf("decode dataset response: %w", err)
	}
	return &dataset, nil
}

// ImportDataItems starts importing an import-file manifest into the dataset.
// The import runs server-side; the returned operation name can be polled
// with WaitForImport.
func (c *Client) ImportDataItems(ctx context.Context, datasetName, importFileURI string) (string, error) {
	body := map[string]any{
		"importConfigs": []map[string]any{{
			"gcsSource":       map[string]any{"uris": []string{importFileURI}},
			"importSchemaUri": imageImportSchemaURI,
		}},
	}

	var op operation
	if err := c.doJSON(ctx, http.MethodPost, "/v1/"+datasetName+":import", body, &op); err != nil {
		return "", err
	}
	return op.Name, nil
}

// WaitForImport blocks until the named import operation completes.
func (c *Client) WaitForImport(ctx context.Context, operationName string) error {
	_, err := c.waitOperation(ctx, operation{Name: operationName})
	return err
}

func (c *Client) waitOperation(ctx context.Context, op operation) (*operation, error) {
	current := op
	for !current.Done {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.sleep(c.retryBaseDelay)
		var next operation
		if err := c.doJSON(ctx, http.MethodGet, "/v1/"+current.Name, nil, &next); err != nil {
			return nil, err
		}
		current = next
	}
	if current.Error != nil {
		return nil, fmt.Errorf("operation %s failed: %s", current.Name, current.Error.Message)
	}
	return &current, nil
}

// LabelingJobSpec describes a managed data labeling job over a dataset.
type LabelingJobSpec struct {
	DisplayName     string
	DatasetName     string
	InstructionURI  string
	InputsSchemaURI string
	LabelerCount    int
	AnnotationSpecs []string
}

// LabelingJob is the subset of data labeling job state the pipeline consumes.
type LabelingJob struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Progress int    `json:"labelingProgress"`
}

// CompletionPercentage reports how much of the labeling task human labelers
// have finished.
func (j LabelingJob) CompletionPercentage() float64 {
	if j.Progress < 0 {
		return 0
	}
	if j.Progress > 100 {
		return 100
	}
	return float64(j.Progress)
}

// CreateDataLabelingJob submits a human labeling task for the dataset.
func (c *Client) CreateDataLabelingJob(ctx context.Context, spec LabelingJobSpec) (*LabelingJob, error) {
	if strings.TrimSpace(spec.DatasetName) == "" {
		return nil, fmt.Errorf("labeling job dataset must be set")
	}
	if len(spec.AnnotationSpecs) == 0 {
		return nil, fmt.Errorf("labeling job annotation specs must be set")
	}
	labelerCount := spec.LabelerCount
	if labelerCount <= 0 {
		labelerCount = 1
	}

	body := map[string]any{
		"displayName":     spec.DisplayName,
		"datasets":        []string{spec.DatasetName},
		"labelerCount":    labelerCount,
		"instructionUri":  spec.InstructionURI,
		"inputsSchemaUri": spec.InputsSchemaURI,
		"inputs": map[string]any{
			"annotationSpecs": spec.AnnotationSpecs,
		},
	}

	var job LabelingJob
	path := fmt.Sprintf("/v1/%s/dataLabelingJobs", c.parent())
	if err := c.doJSON(ctx, http.MethodPost, path, body, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetDataLabelingJob fetches the current state of a labeling job.
func (c *Client) GetDataLabelingJob(ctx context.Context, name string) (*LabelingJob, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("labeling job name must be set")
	}
	var job LabelingJob
	if err := c.doJSON(ctx, http.MethodGet, "/v1/"+name, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ExportDataConfig names the GCS prefix a dataset export writes to.
type ExportDataConfig struct {
	OutputURIPrefix string
}

// ExportData exports the labeled dataset contents to GCS and waits for the
// export to finish. Returns the exported file paths.
func (c *Client) ExportData(ctx context.Context, datasetName string, cfg ExportDataConfig) ([]string, error) {
	body := map[string]any{
		"exportConfig": map[string]any{
			"gcsDestination": map[string]any{"outputUriPrefix": cfg.OutputURIPrefix},
		},
	}

	var op operation
	if err := c.doJSON(ctx, http.MethodPost, "/v1/"+datasetName+":export", body, &op); err != nil {
		return nil, err
	}

	finished, err := c.waitOperation(ctx, op)
	if err != nil {
		return nil, err
	}

	var response struct {
		ExportedFiles []string `json:"exportedFiles"`
	}
	if err := json.Unmarshal(finished.Response, &response); err != nil {
		return nil, fmt.Errorf("decode export response: %w", err)
	}
	return response.ExportedFiles, nil
}
