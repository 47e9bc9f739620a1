package runs

import "errors"

var (
	// ErrNotFound indicates the requested run does not exist.
	ErrNotFound = errors.New("run not found")
	// ErrDuplicateSlug indicates a run with the same project slug already exists.
	ErrDuplicateSlug = errors.New("run with this slug already exists")
)
