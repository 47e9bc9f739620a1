// Package vertex talks to the Vertex AI REST API: custom jobs for training,
// evaluation, and inference containers, plus image datasets and managed data
// labeling jobs.
//
// The client is a thin JSON wrapper with retry on transient failures. Job
// and dataset identifiers returned here are persisted on the run record so
// later stages and status commands can poll them.
package vertex
