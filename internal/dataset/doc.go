// Package dataset turns completed labels into train and test example sets.
//
// It exports the labeled dataset to the run's bucket, then submits the
// creation job that merges the annotations back into the generated examples
// and splits them by the configured test fraction. The resulting train and
// test paths are persisted on the run for the training stage.
package dataset
