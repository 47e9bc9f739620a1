// Package gcs wraps Cloud Storage access for the pipeline: idempotent bucket
// provisioning, object listing, and wildcard image pattern resolution.
package gcs
