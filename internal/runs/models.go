package runs

import (
	"strings"
	"time"
)

// Status represents the lifecycle of an assessment run.
type Status string

const (
	StatusPending            Status = "pending"
	StatusResolvingImages    Status = "resolving_images"
	StatusImagesResolved     Status = "images_resolved"
	StatusGeneratingExamples Status = "generating_examples"
	StatusExamplesGenerated  Status = "examples_generated"
	StatusLabeling           Status = "labeling"
	StatusLabeled            Status = "labeled"
	StatusAssemblingDataset  Status = "assembling_dataset"
	StatusDatasetReady       Status = "dataset_ready"
	StatusTraining           Status = "training"
	StatusTrainComplete      Status = "train_complete"
	StatusTrained            Status = "trained"
	StatusPredicting         Status = "predicting"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
	StatusReview             Status = "review"
)

var allStatuses = []Status{
	StatusPending,
	StatusResolvingImages,
	StatusImagesResolved,
	StatusGeneratingExamples,
	StatusExamplesGenerated,
	StatusLabeling,
	StatusLabeled,
	StatusAssemblingDataset,
	StatusDatasetReady,
	StatusTraining,
	StatusTrainComplete,
	StatusTrained,
	StatusPredicting,
	StatusCompleted,
	StatusFailed,
	StatusReview,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusResolvingImages:    {},
	StatusGeneratingExamples: {},
	StatusLabeling:           {},
	StatusAssemblingDataset:  {},
	StatusTraining:           {},
	StatusPredicting:         {},
}

type statusTransition struct {
	from Status
	to   Status
}

// Interrupted in-flight statuses roll back to the checkpoint the stage
// started from.
var stageRollbackTransitions = []statusTransition{
	{from: StatusResolvingImages, to: StatusPending},
	{from: StatusGeneratingExamples, to: StatusImagesResolved},
	{from: StatusLabeling, to: StatusExamplesGenerated},
	{from: StatusAssemblingDataset, to: StatusLabeled},
	{from: StatusTraining, to: StatusDatasetReady},
	{from: StatusPredicting, to: StatusTrained},
}

func processingRollbackTransitions() []statusTransition {
	return stageRollbackTransitions
}

// HealthSummary describes aggregated run counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Failed     int
	Review     int
	Completed  int
}

// Run represents an assessment run persisted in SQLite.
//
// Every identifier a later stage needs is written back here at stage
// completion, so a run survives process restarts and stages can skip
// remote work that already finished.
type Run struct {
	ID           int64
	Slug         string
	Disaster     string
	EventName    string
	Country      string
	Organisation string
	RunLabel     string
	Year         int
	Month        int
	Bucket       string
	Status       Status

	BeforePattern string
	AfterPattern  string
	AOIPath       string
	BeforePaths   string
	AfterPaths    string

	LabeledPath     string
	LabeledKey      string
	LabelMapJSON    string
	SemiSupervised  bool
	ExampleGenJobID string
	ExamplesDir     string

	DatasetID       string
	DatasetName     string
	LabelingJobID   string
	LabelingJobName string
	LabelingPercent float64

	DatasetJobID string

	TrainPath  string
	TestPath   string
	TrainJobID string
	EvalJobID  string
	Checkpoint string

	InferenceJobID  string
	PredictionsPath string

	ProgressStage   string
	ProgressPercent float64
	ProgressMessage string
	ErrorMessage    string
	NeedsReview     bool
	ReviewReason    string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessing returns true when the status reflects an in-flight operation.
func (r Run) IsProcessing() bool {
	return IsProcessingStatus(r.Status)
}

// IsProcessingStatus reports whether a status reflects an in-flight operation.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// SetProgress updates all three progress fields atomically.
func (r *Run) SetProgress(stage, message string, percent float64) {
	r.ProgressStage = stage
	r.ProgressMessage = message
	r.ProgressPercent = percent
}

// SetProgressComplete sets progress to 100% with the given stage and message.
func (r *Run) SetProgressComplete(stage, message string) {
	r.SetProgress(stage, message, 100)
}

// SetFailed marks the run as failed with the given error message.
func (r *Run) SetFailed(message string) {
	r.Status = StatusFailed
	r.ErrorMessage = message
	r.ProgressMessage = message
}

// SetReview flags the run for operator attention with a reason.
func (r *Run) SetReview(reason string) {
	r.Status = StatusReview
	r.NeedsReview = true
	r.ReviewReason = reason
}

// ClearReview removes the review flag, typically after an operator fixed the
// underlying problem and reset the run.
func (r *Run) ClearReview() {
	r.NeedsReview = false
	r.ReviewReason = ""
}
