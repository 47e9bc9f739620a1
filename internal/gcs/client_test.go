package gcs

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/storage"
)

type fakeBucket struct {
	exists     bool
	attrsErr   error
	createErr  error
	attrsCalls int
	created    []*storage.BucketAttrs
	projectID  string
}

func (f *fakeBucket) Attrs(ctx context.Context) (*storage.BucketAttrs, error) {
	f.attrsCalls++
	if f.attrsErr != nil {
		return nil, f.attrsErr
	}
	if !f.exists {
		return nil, storage.ErrBucketNotExist
	}
	return &storage.BucketAttrs{}, nil
}

func (f *fakeBucket) Create(ctx context.Context, projectID string, attrs *storage.BucketAttrs) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.projectID = projectID
	f.created = append(f.created, attrs)
	f.exists = true
	return nil
}

func newBucketClient(bucket *fakeBucket) *Client {
	return &Client{
		projectID: "test-project",
		buckets:   func(string) bucketHandle { return bucket },
	}
}

func TestEnsureBucketCreatesMissingBucket(t *testing.T) {
	bucket := &fakeBucket{}
	client := newBucketClient(bucket)

	created, err := client.EnsureBucket(context.Background(), "aftermath-runs", "europe-west1")
	if err != nil {
		t.Fatalf("EnsureBucket failed: %v", err)
	}
	if !created {
		t.Fatal("expected bucket creation")
	}
	if len(bucket.created) != 1 {
		t.Fatalf("expected one create call, got %d", len(bucket.created))
	}
	if bucket.created[0].Location != "europe-west1" {
		t.Fatalf("unexpected location: %q", bucket.created[0].Location)
	}
	if bucket.projectID != "test-project" {
		t.Fatalf("unexpected project: %q", bucket.projectID)
	}
}

func TestEnsureBucketIsIdempotent(t *testing.T) {
	bucket := &fakeBucket{}
	client := newBucketClient(bucket)

	ctx := context.Background()
	if _, err := client.EnsureBucket(ctx, "aftermath-runs", ""); err != nil {
		t.Fatalf("first EnsureBucket failed: %v", err)
	}
	created, err := client.EnsureBucket(ctx, "aftermath-runs", "")
	if err != nil {
		t.Fatalf("second EnsureBucket failed: %v", err)
	}
	if created {
		t.Fatal("expected second call to be a no-op")
	}
	if len(bucket.created) != 1 {
		t.Fatalf("expected a single create call, got %d", len(bucket.created))
	}
	if bucket.attrsCalls != 2 {
		t.Fatalf("expected attrs checked on every call, got %d", bucket.attrsCalls)
	}
}

func TestEnsureBucketPropagatesAttrsError(t *testing.T) {
	wantErr := errors.New("permission denied")
	bucket := &fakeBucket{attrsErr: wantErr}
	client := newBucketClient(bucket)

	if _, err := client.EnsureBucket(context.Background(), "aftermath-runs", ""); !errors.Is(err, wantErr) {
		t.Fatalf("expected attrs error, got %v", err)
	}
	if len(bucket.created) != 0 {
		t.Fatal("expected no create attempt on lookup failure")
	}
}
