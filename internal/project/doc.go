// Package project derives canonical names from disaster metadata.
//
// A Descriptor collects the operator-supplied event fields and produces the
// project slug every other component keys on: the run record, the GCS bucket,
// and the output directory layout all embed it. Derivation is deterministic
// so re-entering the same metadata always resolves the same run.
package project
