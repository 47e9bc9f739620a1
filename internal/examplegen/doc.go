// Package examplegen launches the Dataflow job that cuts before/after image
// pairs into training example patches.
//
// The job runs in labeled mode when the run carries a label file, otherwise
// it produces unlabeled examples for the labeling stage. Execute blocks
// until the remote job reaches a terminal state; the job id is persisted as
// soon as the launch succeeds so an interrupted wait resumes against the
// same job.
package examplegen
