// Package services provides shared plumbing for the remote job clients:
// sentinel error classification, context annotation helpers, and Google
// Cloud credential resolution.
//
// Stage implementations wrap failures with the sentinels defined here so the
// pipeline can decide whether a run should land in review (operator input
// needed) or failed (retry after diagnosis).
package services
