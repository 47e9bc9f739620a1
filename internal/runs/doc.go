// Package runs persists assessment run state in SQLite.
//
// A Run records every identifier produced by the pipeline stages (resolved
// image paths, remote job ids, dataset names, checkpoint selections) so that
// stages started in separate CLI invocations can pick up where the previous
// stage left off. The store applies its schema on open, serializes access
// across processes with a file lock, and rolls back in-flight statuses left
// behind by interrupted commands.
package runs
