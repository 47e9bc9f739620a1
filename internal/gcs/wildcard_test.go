package gcs_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"aftermath/internal/gcs"
)

type fakeLister struct {
	names    map[string][]string
	err      error
	requests int
}

func (f *fakeLister) ListObjectNames(ctx context.Context, bucket, prefix string) ([]string, error) {
	f.requests++
	if f.err != nil {
		return nil, f.err
	}
	return f.names[bucket], nil
}

func TestResolvePatternExtractsWildcardValues(t *testing.T) {
	lister := &fakeLister{names: map[string][]string{
		"assessment": {
			"images/before/mosaic-a.tif",
			"images/before/mosaic-b.tif",
			"images/before/readme.txt",
			"images/after/mosaic-a.tif",
		},
	}}

	resolved, err := gcs.ResolvePattern(context.Background(), lister, "gs://assessment/images/before/*.tif", "")
	if err != nil {
		t.Fatalf("ResolvePattern failed: %v", err)
	}
	want := []string{
		"gs://assessment/images/before/mosaic-a.tif",
		"gs://assessment/images/before/mosaic-b.tif",
	}
	if !reflect.DeepEqual(resolved, want) {
		t.Fatalf("unexpected resolution: %v", resolved)
	}
}

func TestResolvePatternOrderIndependent(t *testing.T) {
	forward := &fakeLister{names: map[string][]string{
		"b": {"x/1.tif", "x/2.tif", "x/3.tif"},
	}}
	reversed := &fakeLister{names: map[string][]string{
		"b": {"x/3.tif", "x/2.tif", "x/1.tif"},
	}}

	first, err := gcs.ResolvePattern(context.Background(), forward, "gs://b/x/*.tif", "")
	if err != nil {
		t.Fatalf("ResolvePattern failed: %v", err)
	}
	second, err := gcs.ResolvePattern(context.Background(), reversed, "gs://b/x/*.tif", "")
	if err != nil {
		t.Fatalf("ResolvePattern failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("resolution depends on listing order: %v vs %v", first, second)
	}
}

func TestResolvePatternExplicitListSkipsListing(t *testing.T) {
	lister := &fakeLister{}
	resolved, err := gcs.ResolvePattern(context.Background(), lister, "gs://b/images/*/mosaic.tif", "east, west")
	if err != nil {
		t.Fatalf("ResolvePattern failed: %v", err)
	}
	want := []string{
		"gs://b/images/east/mosaic.tif",
		"gs://b/images/west/mosaic.tif",
	}
	if !reflect.DeepEqual(resolved, want) {
		t.Fatalf("unexpected resolution: %v", resolved)
	}
	if lister.requests != 0 {
		t.Fatalf("expected no listing calls, got %d", lister.requests)
	}
}

func TestResolvePatternEmptyMatchPropagates(t *testing.T) {
	lister := &fakeLister{names: map[string][]string{"b": {"other/file.tif"}}}
	resolved, err := gcs.ResolvePattern(context.Background(), lister, "gs://b/images/*.tif", "")
	if err != nil {
		t.Fatalf("ResolvePattern failed: %v", err)
	}
	if len(resolved) != 0 {
		t.Fatalf("expected empty resolution, got %v", resolved)
	}
}

func TestResolvePatternWildcardStaysInSegment(t *testing.T) {
	lister := &fakeLister{names: map[string][]string{
		"b": {
			"images/before.tif",
			"images/nested/before.tif",
		},
	}}
	resolved, err := gcs.ResolvePattern(context.Background(), lister, "gs://b/images/*.tif", "")
	if err != nil {
		t.Fatalf("ResolvePattern failed: %v", err)
	}
	want := []string{"gs://b/images/before.tif"}
	if !reflect.DeepEqual(resolved, want) {
		t.Fatalf("wildcard crossed path separator: %v", resolved)
	}
}

func TestResolvePatternWithoutWildcardPassesThrough(t *testing.T) {
	lister := &fakeLister{}
	resolved, err := gcs.ResolvePattern(context.Background(), lister, "gs://b/images/before.tif", "")
	if err != nil {
		t.Fatalf("ResolvePattern failed: %v", err)
	}
	if !reflect.DeepEqual(resolved, []string{"gs://b/images/before.tif"}) {
		t.Fatalf("unexpected resolution: %v", resolved)
	}
	if lister.requests != 0 {
		t.Fatalf("expected no listing calls, got %d", lister.requests)
	}
}

func TestResolvePatternRejectsMultipleWildcards(t *testing.T) {
	if _, err := gcs.ResolvePattern(context.Background(), &fakeLister{}, "gs://b/*/x/*.tif", ""); err == nil {
		t.Fatal("expected error for multiple wildcards")
	}
}

func TestResolvePatternListingError(t *testing.T) {
	boom := errors.New("listing failed")
	lister := &fakeLister{err: boom}
	if _, err := gcs.ResolvePattern(context.Background(), lister, "gs://b/x/*.tif", ""); !errors.Is(err, boom) {
		t.Fatalf("expected listing error, got %v", err)
	}
}

func TestParseGSPath(t *testing.T) {
	bucket, name, err := gcs.ParseGSPath("gs://assessment/images/aoi.geojson")
	if err != nil {
		t.Fatalf("ParseGSPath failed: %v", err)
	}
	if bucket != "assessment" || name != "images/aoi.geojson" {
		t.Fatalf("unexpected parse: %q %q", bucket, name)
	}

	if _, _, err := gcs.ParseGSPath("/local/path"); err == nil {
		t.Fatal("expected error for non gs:// path")
	}
}

func TestJoinAndSplitPaths(t *testing.T) {
	paths := []string{"gs://b/1.tif", "gs://b/2.tif"}
	joined := gcs.JoinPaths(paths)
	if joined != "gs://b/1.tif,gs://b/2.tif" {
		t.Fatalf("unexpected join: %q", joined)
	}
	if !reflect.DeepEqual(gcs.SplitPaths(joined), paths) {
		t.Fatalf("round trip mismatch: %v", gcs.SplitPaths(joined))
	}
	if gcs.SplitPaths("  ") != nil {
		t.Fatal("expected nil for blank input")
	}
}
