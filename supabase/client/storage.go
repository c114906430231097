package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// =============================================================================
// Storage Operations
// =============================================================================

// UploadOptions for file uploads.
type UploadOptions struct {
	ContentType  string
	CacheControl string
	// Upsert overwrites an existing object at the same path.
	Upsert bool
}

// StorageClient handles storage operations.
type StorageClient struct {
	client *Client
}

// Storage returns a storage client.
func (c *Client) Storage() *StorageClient {
	return &StorageClient{client: c}
}

// From returns a bucket client.
func (s *StorageClient) From(bucket string) *BucketClient {
	return &BucketClient{
		client: s.client,
		bucket: bucket,
	}
}

// BucketClient handles operations on one bucket.
type BucketClient struct {
	client *Client
	bucket string
}

// Upload stores data at path and returns the object key. It makes a single
// attempt; without opts.Upsert an existing object is a conflict error.
func (b *BucketClient) Upload(ctx context.Context, path string, data []byte, opts UploadOptions) (string, error) {
	reqURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", b.client.baseURL, b.bucket, escapePath(path))

	req, err := b.client.newRequest(ctx, http.MethodPost, reqURL, data)
	if err != nil {
		return "", err
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	if opts.CacheControl != "" {
		req.Header.Set("Cache-Control", opts.CacheControl)
	}
	req.Header.Set("x-upsert", strconv.FormatBool(opts.Upsert))

	resp, err := b.client.do(req)
	if err != nil {
		return "", err
	}

	var result struct {
		Key string `json:"Key"`
	}
	if err := resp.JSON(&result); err != nil || result.Key == "" {
		return b.bucket + "/" + path, nil
	}
	return result.Key, nil
}

// GetPublicURL returns the public URL for a file.
func (b *BucketClient) GetPublicURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", b.client.baseURL, b.bucket, escapePath(path))
}

func escapePath(p string) string {
	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
