// Package post implements creating a post from a caption and an image.
package post

import (
	"context"
	"strings"

	"github.com/snapshare/client/internal/media"
	"github.com/snapshare/client/internal/metrics"
	"github.com/snapshare/client/internal/model"
	"github.com/snapshare/client/internal/store"
	"github.com/snapshare/client/pkg/logger"
)

// IdentitySource returns the signed-in identity, or nil.
type IdentitySource interface {
	Identity() *model.Identity
}

// ImageUploader uploads a local image for a user and returns its public URL.
type ImageUploader interface {
	UploadImage(ctx context.Context, userID, localURI string) (string, error)
}

// Service creates posts.
type Service struct {
	posts    store.PostStore
	uploader ImageUploader
	identity IdentitySource
	log      *logger.Logger
}

// NewService creates a post service.
func NewService(posts store.PostStore, uploader ImageUploader, identity IdentitySource, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("post")
	}
	return &Service{posts: posts, uploader: uploader, identity: identity, log: log}
}

// CreatePost validates input, uploads a local image if needed and inserts the
// post with zero counters. Validation failures happen before any backend call.
func (s *Service) CreatePost(ctx context.Context, caption, imageRef string) (model.Post, error) {
	caption = strings.TrimSpace(caption)
	imageRef = strings.TrimSpace(imageRef)

	if caption == "" {
		metrics.RecordOperation("post", "create", metrics.OutcomeInvalid)
		return model.Post{}, model.Invalid("caption", "Please write a caption for your post")
	}
	if imageRef == "" {
		metrics.RecordOperation("post", "create", metrics.OutcomeInvalid)
		return model.Post{}, model.Invalid("image", "Please select an image for your post")
	}
	user := s.identity.Identity()
	if user == nil {
		return model.Post{}, model.ErrNotAuthenticated
	}

	log := s.log.WithField("user_id", user.ID)

	imageURL := imageRef
	if media.IsLocal(imageRef) {
		uploaded, err := s.uploader.UploadImage(ctx, user.ID, imageRef)
		if err != nil {
			metrics.RecordOperation("post", "create", metrics.OutcomeError)
			return model.Post{}, err
		}
		imageURL = uploaded
	}

	created, err := s.posts.CreatePost(ctx, model.NewPost{
		UserID:   user.ID,
		ImageURL: imageURL,
		Caption:  caption,
	})
	if err != nil {
		log.WithError(err).Error("create post failed")
		metrics.RecordOperation("post", "create", metrics.OutcomeError)
		return model.Post{}, err
	}

	created.User = user.Clone()
	metrics.RecordOperation("post", "create", metrics.OutcomeOK)
	log.WithField("post_id", created.ID).Info("post created")
	return created, nil
}
