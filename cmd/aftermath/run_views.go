package main

import (
	"time"

	"aftermath/internal/runs"
)

// runView is the compact JSON shape emitted by 'run list --json'.
type runView struct {
	ID              int64   `json:"id"`
	Slug            string  `json:"slug"`
	Status          string  `json:"status"`
	Bucket          string  `json:"bucket"`
	ProgressStage   string  `json:"progress_stage,omitempty"`
	ProgressPercent float64 `json:"progress_percent"`
	ProgressMessage string  `json:"progress_message,omitempty"`
	Error           string  `json:"error,omitempty"`
	NeedsReview     bool    `json:"needs_review,omitempty"`
	ReviewReason    string  `json:"review_reason,omitempty"`
	UpdatedAt       string  `json:"updated_at"`
}

func newRunView(run *runs.Run) runView {
	return runView{
		ID:              run.ID,
		Slug:            run.Slug,
		Status:          string(run.Status),
		Bucket:          run.Bucket,
		ProgressStage:   run.ProgressStage,
		ProgressPercent: run.ProgressPercent,
		ProgressMessage: run.ProgressMessage,
		Error:           run.ErrorMessage,
		NeedsReview:     run.NeedsReview,
		ReviewReason:    run.ReviewReason,
		UpdatedAt:       run.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// runDetail is the full JSON shape emitted by 'run show --json'.
type runDetail struct {
	runView

	Disaster     string `json:"disaster"`
	EventName    string `json:"event_name,omitempty"`
	Country      string `json:"country,omitempty"`
	Organisation string `json:"organisation"`
	RunLabel     string `json:"run_label,omitempty"`
	Year         int    `json:"year"`
	Month        int    `json:"month"`

	BeforePattern string `json:"before_pattern,omitempty"`
	AfterPattern  string `json:"after_pattern,omitempty"`
	AOIPath       string `json:"aoi_path,omitempty"`
	BeforePaths   string `json:"before_paths,omitempty"`
	AfterPaths    string `json:"after_paths,omitempty"`

	LabeledPath    string `json:"labeled_path,omitempty"`
	LabeledKey     string `json:"labeled_key,omitempty"`
	LabelMapJSON   string `json:"label_map,omitempty"`
	SemiSupervised bool   `json:"semi_supervised,omitempty"`

	ExampleGenJobID string  `json:"examplegen_job_id,omitempty"`
	ExamplesDir     string  `json:"examples_dir,omitempty"`
	DatasetID       string  `json:"dataset_id,omitempty"`
	LabelingJobID   string  `json:"labeling_job_id,omitempty"`
	LabelingPercent float64 `json:"labeling_percent,omitempty"`
	DatasetJobID    string  `json:"dataset_job_id,omitempty"`

	TrainPath  string `json:"train_path,omitempty"`
	TestPath   string `json:"test_path,omitempty"`
	TrainJobID string `json:"train_job_id,omitempty"`
	EvalJobID  string `json:"eval_job_id,omitempty"`
	Checkpoint string `json:"checkpoint,omitempty"`

	InferenceJobID  string `json:"inference_job_id,omitempty"`
	PredictionsPath string `json:"predictions_path,omitempty"`

	CreatedAt string `json:"created_at"`
}

func newRunDetail(run *runs.Run) runDetail {
	return runDetail{
		runView:         newRunView(run),
		Disaster:        run.Disaster,
		EventName:       run.EventName,
		Country:         run.Country,
		Organisation:    run.Organisation,
		RunLabel:        run.RunLabel,
		Year:            run.Year,
		Month:           run.Month,
		BeforePattern:   run.BeforePattern,
		AfterPattern:    run.AfterPattern,
		AOIPath:         run.AOIPath,
		BeforePaths:     run.BeforePaths,
		AfterPaths:      run.AfterPaths,
		LabeledPath:     run.LabeledPath,
		LabeledKey:      run.LabeledKey,
		LabelMapJSON:    run.LabelMapJSON,
		SemiSupervised:  run.SemiSupervised,
		ExampleGenJobID: run.ExampleGenJobID,
		ExamplesDir:     run.ExamplesDir,
		DatasetID:       run.DatasetID,
		LabelingJobID:   run.LabelingJobID,
		LabelingPercent: run.LabelingPercent,
		DatasetJobID:    run.DatasetJobID,
		TrainPath:       run.TrainPath,
		TestPath:        run.TestPath,
		TrainJobID:      run.TrainJobID,
		EvalJobID:       run.EvalJobID,
		Checkpoint:      run.Checkpoint,
		InferenceJobID:  run.InferenceJobID,
		PredictionsPath: run.PredictionsPath,
		CreatedAt:       run.CreatedAt.UTC().Format(time.RFC3339),
	}
}
