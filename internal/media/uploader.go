package media

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/snapshare/client/internal/metrics"
	"github.com/snapshare/client/internal/store"
	"github.com/snapshare/client/pkg/logger"
)

var localSchemes = map[string]bool{
	"file":           true,
	"content":        true,
	"ph":             true,
	"assets-library": true,
}

// IsLocal reports whether uri refers to an on-device image that must be
// uploaded before use.
func IsLocal(uri string) bool {
	if strings.HasPrefix(uri, "/") {
		return true
	}
	scheme, _, ok := strings.Cut(uri, "://")
	return ok && localSchemes[strings.ToLower(scheme)]
}

// Reader loads the bytes behind a local URI.
type Reader func(uri string) ([]byte, error)

// ReadLocalFile reads file:// URIs and absolute paths from the filesystem.
func ReadLocalFile(uri string) ([]byte, error) {
	p := uri
	if strings.HasPrefix(uri, "file://") {
		u, err := url.Parse(uri)
		if err != nil {
			return nil, fmt.Errorf("parse image uri: %w", err)
		}
		p = u.Path
	} else if !strings.HasPrefix(uri, "/") {
		return nil, fmt.Errorf("unsupported image uri %q", uri)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return data, nil
}

// Uploader puts local images into storage and returns their public URLs.
type Uploader struct {
	blobs store.BlobStore
	read  Reader
	now   func() time.Time
	newID func() string
	log   *logger.Logger
}

// NewUploader creates an uploader. A nil read uses ReadLocalFile.
func NewUploader(blobs store.BlobStore, read Reader, log *logger.Logger) *Uploader {
	if read == nil {
		read = ReadLocalFile
	}
	if log == nil {
		log = logger.NewDefault("media")
	}
	return &Uploader{blobs: blobs, read: read, now: time.Now, newID: uuid.NewString, log: log}
}

// UploadImage stores a post image at <userID>/<unix millis>_<uuid>.<ext>
// without overwriting and returns its public URL. It makes a single attempt.
func (u *Uploader) UploadImage(ctx context.Context, userID, localURI string) (string, error) {
	ext := extension(localURI)
	objectPath := fmt.Sprintf("%s/%d_%s.%s", userID, u.now().UnixMilli(), u.newID(), ext)
	return u.upload(ctx, store.BucketPostImages, objectPath, localURI, ext, false)
}

// UploadAvatar stores a profile image at avatars/<userID>/profile.<ext>,
// replacing any previous one, and returns its public URL.
func (u *Uploader) UploadAvatar(ctx context.Context, userID, localURI string) (string, error) {
	ext := extension(localURI)
	objectPath := fmt.Sprintf("avatars/%s/profile.%s", userID, ext)
	return u.upload(ctx, store.BucketProfileImages, objectPath, localURI, ext, true)
}

func (u *Uploader) upload(ctx context.Context, bucket, objectPath, localURI, ext string, upsert bool) (string, error) {
	log := u.log.WithField("bucket", bucket).WithField("path", objectPath)

	data, err := u.read(localURI)
	if err != nil {
		log.WithError(err).Error("read image failed")
		return "", err
	}

	err = u.blobs.Upload(ctx, bucket, objectPath, data, store.UploadOptions{
		ContentType: contentType(ext, data),
		Upsert:      upsert,
	})
	if err != nil {
		log.WithError(err).Error("upload image failed")
		return "", fmt.Errorf("upload image: %w", err)
	}

	metrics.RecordUpload(bucket, len(data))
	log.WithField("bytes", len(data)).Info("image uploaded")
	return u.blobs.PublicURL(bucket, objectPath), nil
}

// extension returns the lower-case file extension of uri, defaulting to jpg.
func extension(uri string) string {
	p := uri
	if u, err := url.Parse(uri); err == nil && u.Path != "" {
		p = u.Path
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	if ext == "" || len(ext) > 5 {
		return "jpg"
	}
	return ext
}

func contentType(ext string, data []byte) string {
	if ext == "jpg" {
		return "image/jpeg"
	}
	if ct := mime.TypeByExtension("." + ext); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}
