// Package store defines the persistence interfaces the app's flows run on.
// The supabase subpackage talks to the backend; memory keeps everything in
// process for the offline demo mode and for tests.
package store

import (
	"context"
	"errors"

	"github.com/snapshare/client/internal/model"
)

// Table and bucket names.
const (
	TableProfiles     = "profiles"
	TablePosts        = "posts"
	TableUserSettings = "user_settings"

	BucketPostImages    = "post-images"
	BucketProfileImages = "profile-images"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write collides with an existing row or object.
	ErrConflict = errors.New("already exists")
)

// ProfileStore reads and writes profiles.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (model.Identity, error)
	// CreateProfile inserts the profile and returns the row as stored.
	CreateProfile(ctx context.Context, profile model.Identity) (model.Identity, error)
	UpdateProfile(ctx context.Context, id string, patch model.IdentityPatch) error
}

// PostStore reads and writes posts.
type PostStore interface {
	// ListPosts returns every post with its author, newest first.
	ListPosts(ctx context.Context) ([]model.Post, error)
	// ListUserPosts returns one user's posts, newest first.
	ListUserPosts(ctx context.Context, userID string) ([]model.Post, error)
	CreatePost(ctx context.Context, post model.NewPost) (model.Post, error)
	// SetLikes writes the like counter and returns the stored post.
	SetLikes(ctx context.Context, postID string, likes int) (model.Post, error)
}

// SettingsStore reads and writes user settings.
type SettingsStore interface {
	GetSettings(ctx context.Context, userID string) (model.UserSettings, error)
	CreateSettings(ctx context.Context, userID string) (model.UserSettings, error)
	UpdateSettings(ctx context.Context, userID string, patch model.SettingsPatch) (model.UserSettings, error)
}

// UploadOptions controls a blob upload.
type UploadOptions struct {
	ContentType string
	// Upsert replaces an existing object instead of failing with ErrConflict.
	Upsert bool
}

// BlobStore stores images and hands out public URLs for them.
type BlobStore interface {
	Upload(ctx context.Context, bucket, path string, data []byte, opts UploadOptions) error
	PublicURL(bucket, path string) string
}
