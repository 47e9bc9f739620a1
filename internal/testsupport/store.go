package testsupport

import (
	"context"
	"testing"

	"aftermath/internal/config"
	"aftermath/internal/runs"
)

// MustOpenStore opens a runs.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *runs.Store {
	t.Helper()

	store, err := runs.Open(cfg)
	if err != nil {
		t.Fatalf("runs.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewRun creates a pending run for tests using the provided store.
func NewRun(t testing.TB, store *runs.Store, slug string) *runs.Run {
	t.Helper()

	run, err := store.Create(context.Background(), &runs.Run{
		Slug:         slug,
		Disaster:     "cyclone",
		Organisation: "wfp",
		Year:         2023,
		Month:        3,
		Bucket:       "test-project-" + slug,
	})
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return run
}
