// Package profile implements editing the signed-in user's profile and
// reading their own posts.
package profile

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/snapshare/client/internal/metrics"
	"github.com/snapshare/client/internal/model"
	"github.com/snapshare/client/internal/store"
	"github.com/snapshare/client/pkg/logger"
)

// Identities reads and writes the signed-in identity.
type Identities interface {
	Identity() *model.Identity
	UpdateIdentity(ctx context.Context, patch model.IdentityPatch) error
}

// AvatarUploader stores a local avatar image and returns its public URL.
type AvatarUploader interface {
	UploadAvatar(ctx context.Context, userID, localURI string) (string, error)
}

// Draft is an editable copy of the profile fields.
type Draft struct {
	Name     string
	Username string
	Bio      string
}

// Stats summarises a user's posts.
type Stats struct {
	Posts    int
	Likes    int
	Comments int
}

// Editor edits the signed-in user's profile.
type Editor struct {
	identities Identities
	uploader   AvatarUploader
	posts      store.PostStore
	log        *logger.Logger

	mu    sync.Mutex
	draft *Draft
}

// NewEditor creates a profile editor.
func NewEditor(identities Identities, uploader AvatarUploader, posts store.PostStore, log *logger.Logger) *Editor {
	if log == nil {
		log = logger.NewDefault("profile")
	}
	return &Editor{identities: identities, uploader: uploader, posts: posts, log: log}
}

// Open snapshots the current identity into a draft.
func (e *Editor) Open() (Draft, error) {
	current := e.identities.Identity()
	if current == nil {
		return Draft{}, model.ErrNotAuthenticated
	}
	d := Draft{Name: current.Name, Username: current.Username}
	if current.Bio != nil {
		d.Bio = *current.Bio
	}

	e.mu.Lock()
	e.draft = &d
	e.mu.Unlock()
	return d, nil
}

// Editing reports whether a draft is open.
func (e *Editor) Editing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draft != nil
}

// Cancel discards the open draft.
func (e *Editor) Cancel() {
	e.mu.Lock()
	e.draft = nil
	e.mu.Unlock()
}

// Save writes draft through the session. Name and username are required.
// The open draft is discarded only when the write succeeds.
func (e *Editor) Save(ctx context.Context, draft Draft) error {
	name := normalize(draft.Name)
	username := normalize(draft.Username)
	bio := normalize(draft.Bio)

	if name == "" || username == "" {
		metrics.RecordOperation("profile", "save", metrics.OutcomeInvalid)
		return model.Invalid("profile", "Name and username are required")
	}

	err := e.identities.UpdateIdentity(ctx, model.IdentityPatch{
		Name:     &name,
		Username: &username,
		Bio:      &bio,
	})
	if err != nil {
		metrics.RecordOperation("profile", "save", metrics.OutcomeError)
		return err
	}

	e.Cancel()
	metrics.RecordOperation("profile", "save", metrics.OutcomeOK)
	return nil
}

// UpdateAvatar uploads localURI as the user's avatar and stores its URL on
// the profile.
func (e *Editor) UpdateAvatar(ctx context.Context, localURI string) (string, error) {
	current := e.identities.Identity()
	if current == nil {
		return "", model.ErrNotAuthenticated
	}
	if strings.TrimSpace(localURI) == "" {
		return "", model.Invalid("avatar", "Please select an image")
	}

	url, err := e.uploader.UploadAvatar(ctx, current.ID, localURI)
	if err != nil {
		metrics.RecordOperation("profile", "avatar", metrics.OutcomeError)
		return "", err
	}
	if err := e.identities.UpdateIdentity(ctx, model.IdentityPatch{AvatarURL: &url}); err != nil {
		metrics.RecordOperation("profile", "avatar", metrics.OutcomeError)
		return "", err
	}

	metrics.RecordOperation("profile", "avatar", metrics.OutcomeOK)
	e.log.WithField("user_id", current.ID).Info("avatar updated")
	return url, nil
}

// RemoveAvatar clears the avatar URL. The stored object is left in place.
func (e *Editor) RemoveAvatar(ctx context.Context) error {
	if err := e.identities.UpdateIdentity(ctx, model.IdentityPatch{RemoveAvatar: true}); err != nil {
		metrics.RecordOperation("profile", "remove_avatar", metrics.OutcomeError)
		return err
	}
	metrics.RecordOperation("profile", "remove_avatar", metrics.OutcomeOK)
	return nil
}

// Posts returns the signed-in user's posts, newest first.
func (e *Editor) Posts(ctx context.Context) ([]model.Post, error) {
	current := e.identities.Identity()
	if current == nil {
		return nil, model.ErrNotAuthenticated
	}
	posts, err := e.posts.ListUserPosts(ctx, current.ID)
	if err != nil {
		e.log.WithError(err).WithField("user_id", current.ID).Error("load user posts failed")
		return nil, fmt.Errorf("load user posts: %w", err)
	}
	return posts, nil
}

// Summarize counts posts and totals their likes and comments.
func Summarize(posts []model.Post) Stats {
	s := Stats{Posts: len(posts)}
	for _, p := range posts {
		s.Likes += p.Likes
		s.Comments += p.Comments
	}
	return s
}

func normalize(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}
