package supabase

import (
	"context"

	"github.com/snapshare/client/internal/store"
	"github.com/snapshare/client/supabase/client"
)

// Blobs implements store.BlobStore on Supabase Storage.
type Blobs struct {
	storage *client.StorageClient
}

// NewBlobs creates a blob store on c.
func NewBlobs(c *client.Client) *Blobs {
	return &Blobs{storage: c.Storage()}
}

var _ store.BlobStore = (*Blobs)(nil)

// Upload stores data in bucket at path with a single attempt.
func (b *Blobs) Upload(ctx context.Context, bucket, path string, data []byte, opts store.UploadOptions) error {
	_, err := b.storage.From(bucket).Upload(ctx, path, data, client.UploadOptions{
		ContentType: opts.ContentType,
		Upsert:      opts.Upsert,
	})
	if err != nil {
		return translate(err)
	}
	return nil
}

// PublicURL returns the public URL of an object.
func (b *Blobs) PublicURL(bucket, path string) string {
	return b.storage.From(bucket).GetPublicURL(path)
}
