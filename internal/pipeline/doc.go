// Package pipeline sequences the assessment stages over persisted runs.
//
// The manager maps each run status to the stage that takes it forward,
// stamps the run with the stage's in-flight status before executing, and
// persists either the stage's completion status or a failure/review status
// derived from the error class. Execution is synchronous: one stage, one
// run, one process at a time.
package pipeline
