// Package labeling drives the managed human labeling flow: it creates the
// image dataset, imports the labeling candidates produced by example
// generation, and submits the data labeling job.
//
// Human labelers work at their own pace, so every created identifier is
// persisted immediately and each step is skipped on resume when its
// identifier is already present. Await blocks until the labelers report
// 100% completion.
package labeling
