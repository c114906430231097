// Package supabase implements the store interfaces on a Supabase project.
package supabase

import (
	"context"
	"errors"

	"github.com/snapshare/client/internal/model"
	"github.com/snapshare/client/internal/store"
	"github.com/snapshare/client/supabase/client"
)

// postColumns selects a post with its author embedded under "user".
const postColumns = "*, user:profiles(id, username, full_name, avatar_url)"

// =============================================================================
// Repository
// =============================================================================

// Repository implements the profile, post and settings stores.
type Repository struct {
	db *client.Client
}

// NewRepository creates a repository on c.
func NewRepository(c *client.Client) *Repository {
	return &Repository{db: c}
}

var (
	_ store.ProfileStore  = (*Repository)(nil)
	_ store.PostStore     = (*Repository)(nil)
	_ store.SettingsStore = (*Repository)(nil)
)

// =============================================================================
// Profiles
// =============================================================================

// GetProfile fetches one profile. A missing row is store.ErrNotFound.
func (r *Repository) GetProfile(ctx context.Context, id string) (model.Identity, error) {
	resp, err := r.db.From(store.TableProfiles).Select("*").Eq("id", id).Single().Execute(ctx)
	if err != nil {
		return model.Identity{}, translate(err)
	}
	return model.ProfileFromRow(resp.Body)
}

// CreateProfile inserts a profile and returns the created row.
func (r *Repository) CreateProfile(ctx context.Context, profile model.Identity) (model.Identity, error) {
	resp, err := r.db.From(store.TableProfiles).Insert(profile.ProfileRow()).Select("*").Single().Execute(ctx)
	if err != nil {
		return model.Identity{}, translate(err)
	}
	created, err := model.ProfileFromRow(resp.Body)
	if err != nil {
		return model.Identity{}, err
	}
	if created.Email == "" {
		created.Email = profile.Email
	}
	return created, nil
}

// UpdateProfile writes the fields set in patch.
func (r *Repository) UpdateProfile(ctx context.Context, id string, patch model.IdentityPatch) error {
	if patch.Empty() {
		return nil
	}
	if _, err := r.db.From(store.TableProfiles).Update(patch.Row()).Eq("id", id).Execute(ctx); err != nil {
		return translate(err)
	}
	return nil
}

// =============================================================================
// Posts
// =============================================================================

// ListPosts returns all posts newest first.
func (r *Repository) ListPosts(ctx context.Context) ([]model.Post, error) {
	resp, err := r.db.From(store.TablePosts).Select(postColumns).Order("created_at", false).Execute(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return model.PostsFromRows(resp.Body)
}

// ListUserPosts returns one user's posts newest first.
func (r *Repository) ListUserPosts(ctx context.Context, userID string) ([]model.Post, error) {
	resp, err := r.db.From(store.TablePosts).Select(postColumns).Eq("user_id", userID).Order("created_at", false).Execute(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return model.PostsFromRows(resp.Body)
}

// CreatePost inserts a post and returns it with its author.
func (r *Repository) CreatePost(ctx context.Context, post model.NewPost) (model.Post, error) {
	resp, err := r.db.From(store.TablePosts).Insert(post.Row()).Select(postColumns).Single().Execute(ctx)
	if err != nil {
		return model.Post{}, translate(err)
	}
	return model.PostFromRow(resp.Body)
}

// SetLikes writes the like counter and returns the acknowledged row.
func (r *Repository) SetLikes(ctx context.Context, postID string, likes int) (model.Post, error) {
	resp, err := r.db.From(store.TablePosts).
		Update(map[string]any{"likes": likes}).
		Eq("id", postID).
		Select(postColumns).
		Single().
		Execute(ctx)
	if err != nil {
		return model.Post{}, translate(err)
	}
	return model.PostFromRow(resp.Body)
}

// =============================================================================
// Settings
// =============================================================================

// GetSettings fetches a user's settings. A missing row is store.ErrNotFound.
func (r *Repository) GetSettings(ctx context.Context, userID string) (model.UserSettings, error) {
	resp, err := r.db.From(store.TableUserSettings).Select("*").Eq("user_id", userID).Single().Execute(ctx)
	if err != nil {
		return model.UserSettings{}, translate(err)
	}
	return model.SettingsFromRow(resp.Body)
}

// CreateSettings inserts the default settings row for a user.
func (r *Repository) CreateSettings(ctx context.Context, userID string) (model.UserSettings, error) {
	def := model.DefaultSettings(userID)
	row := map[string]any{
		"user_id":             def.UserID,
		"private_account":     def.PrivateAccount,
		"push_notifications":  def.PushNotifications,
		"email_notifications": def.EmailNotifications,
	}
	resp, err := r.db.From(store.TableUserSettings).Insert(row).Single().Execute(ctx)
	if err != nil {
		return model.UserSettings{}, translate(err)
	}
	return model.SettingsFromRow(resp.Body)
}

// UpdateSettings writes the fields set in patch and returns the stored row.
func (r *Repository) UpdateSettings(ctx context.Context, userID string, patch model.SettingsPatch) (model.UserSettings, error) {
	row := patch.Row()
	if len(row) == 0 {
		return r.GetSettings(ctx, userID)
	}
	resp, err := r.db.From(store.TableUserSettings).Update(row).Eq("user_id", userID).Single().Execute(ctx)
	if err != nil {
		return model.UserSettings{}, translate(err)
	}
	return model.SettingsFromRow(resp.Body)
}

// =============================================================================
// Errors
// =============================================================================

// translate tags backend errors with the store sentinels while keeping the
// backend message as the error text.
func translate(err error) error {
	var apiErr *client.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case client.IsNotFound(err):
		return &taggedError{err: err, kind: store.ErrNotFound}
	case apiErr.Code == "23505" || apiErr.Code == "Duplicate" || apiErr.StatusCode == 409:
		return &taggedError{err: err, kind: store.ErrConflict}
	}
	return err
}

type taggedError struct {
	err  error
	kind error
}

func (e *taggedError) Error() string { return e.err.Error() }

func (e *taggedError) Unwrap() []error { return []error{e.kind, e.err} }
