// Package logging builds slog loggers for the CLI.
//
// Output defaults to a console handler for interactive use and switches to
// JSON when configured. Context helpers attach run, stage, and correlation
// identifiers so every stage log line can be traced back to the run record
// it mutated.
package logging
