package memory

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/snapshare/client/internal/store"
)

// DefaultBlobBaseURL is the URL prefix for objects stored in memory.
const DefaultBlobBaseURL = "memory://storage"

// Blobs keeps uploaded objects in memory.
type Blobs struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string][]byte
	types   map[string]string
}

// NewBlobs creates a blob store whose public URLs start with baseURL.
func NewBlobs(baseURL string) *Blobs {
	if baseURL == "" {
		baseURL = DefaultBlobBaseURL
	}
	return &Blobs{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

var _ store.BlobStore = (*Blobs)(nil)

// Upload stores a copy of data. Without opts.Upsert an existing object is store.ErrConflict.
func (b *Blobs) Upload(ctx context.Context, bucket, path string, data []byte, opts store.UploadOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := bucket + "/" + path

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.objects[key]; ok && !opts.Upsert {
		return fmt.Errorf("object %s: %w", key, store.ErrConflict)
	}
	b.objects[key] = append([]byte(nil), data...)
	b.types[key] = opts.ContentType
	return nil
}

// PublicURL returns the URL an object is served under.
func (b *Blobs) PublicURL(bucket, path string) string {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return b.baseURL + "/" + bucket + "/" + strings.Join(parts, "/")
}

// Object returns a stored object and its content type.
func (b *Blobs) Object(bucket, path string) ([]byte, string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	key := bucket + "/" + path
	data, ok := b.objects[key]
	return data, b.types[key], ok
}
