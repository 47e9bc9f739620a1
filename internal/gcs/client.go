package gcs

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Client wraps a Cloud Storage client with the operations the pipeline needs.
type Client struct {
	client    *storage.Client
	projectID string
	buckets   func(name string) bucketHandle
}

// bucketHandle is the slice of *storage.BucketHandle that EnsureBucket
// needs. Tests substitute it to exercise the create-if-missing logic
// without a live backend.
type bucketHandle interface {
	Attrs(ctx context.Context) (*storage.BucketAttrs, error)
	Create(ctx context.Context, projectID string, attrs *storage.BucketAttrs) error
}

// NewClient constructs a storage client. When credentialsPath is empty,
// application default credentials are used.
func NewClient(ctx context.Context, projectID, credentialsPath string) (*Client, error) {
	var opts []option.ClientOption
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	c := &Client{client: client, projectID: projectID}
	c.buckets = func(name string) bucketHandle { return client.Bucket(name) }
	return c, nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnsureBucket creates the bucket if it does not already exist. Returns true
// when a new bucket was created. Calling it again with the same name is a
// no-op.
func (c *Client) EnsureBucket(ctx context.Context, bucket, location string) (bool, error) {
	handle := c.buckets(bucket)
	_, err := handle.Attrs(ctx)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, storage.ErrBucketNotExist) {
		return false, fmt.Errorf("check bucket %s: %w", bucket, err)
	}

	attrs := &storage.BucketAttrs{}
	if location != "" {
		attrs.Location = location
	}
	if err := handle.Create(ctx, c.projectID, attrs); err != nil {
		return false, fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return true, nil
}

// ListObjectNames returns the names of all objects under the given prefix.
func (c *Client) ListObjectNames(ctx context.Context, bucket, prefix string) ([]string, error) {
	it := c.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list objects in %s: %w", bucket, err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

// ObjectExists reports whether the named object is present.
func (c *Client) ObjectExists(ctx context.Context, bucket, name string) (bool, error) {
	_, err := c.client.Bucket(bucket).Object(name).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s/%s: %w", bucket, name, err)
}
