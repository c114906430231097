// Package memory is an in-process implementation of the store interfaces,
// used for the offline demo mode and in tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/snapshare/client/internal/model"
	"github.com/snapshare/client/internal/store"
)

// Store keeps profiles, posts and settings in memory.
type Store struct {
	mu       sync.RWMutex
	now      func() time.Time
	profiles map[string]model.Identity
	posts    map[string]model.Post
	settings map[string]model.UserSettings
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		now:      time.Now,
		profiles: make(map[string]model.Identity),
		posts:    make(map[string]model.Post),
		settings: make(map[string]model.UserSettings),
	}
}

var (
	_ store.ProfileStore  = (*Store)(nil)
	_ store.PostStore     = (*Store)(nil)
	_ store.SettingsStore = (*Store)(nil)
)

// Seed loads posts and their authors. Existing rows with the same id are replaced.
func (s *Store) Seed(posts []model.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range posts {
		if p.User.ID != "" {
			if _, ok := s.profiles[p.User.ID]; !ok {
				s.profiles[p.User.ID] = p.User.Clone()
			}
		}
		s.posts[p.ID] = p
	}
}

// =============================================================================
// Profiles
// =============================================================================

// GetProfile returns a profile or store.ErrNotFound.
func (s *Store) GetProfile(ctx context.Context, id string) (model.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return model.Identity{}, fmt.Errorf("profile %s: %w", id, store.ErrNotFound)
	}
	return p.Clone(), nil
}

// CreateProfile inserts a profile. An existing id is store.ErrConflict.
func (s *Store) CreateProfile(ctx context.Context, profile model.Identity) (model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if profile.ID == "" {
		return model.Identity{}, fmt.Errorf("profile id is required")
	}
	if _, ok := s.profiles[profile.ID]; ok {
		return model.Identity{}, fmt.Errorf("profile %s: %w", profile.ID, store.ErrConflict)
	}
	s.profiles[profile.ID] = profile.Clone()
	return profile.Clone(), nil
}

// UpdateProfile merges patch into a stored profile.
func (s *Store) UpdateProfile(ctx context.Context, id string, patch model.IdentityPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id]
	if !ok {
		return fmt.Errorf("profile %s: %w", id, store.ErrNotFound)
	}
	s.profiles[id] = p.Apply(patch)
	return nil
}

// =============================================================================
// Posts
// =============================================================================

// ListPosts returns all posts newest first.
func (s *Store) ListPosts(ctx context.Context) ([]model.Post, error) {
	return s.list(func(model.Post) bool { return true }), nil
}

// ListUserPosts returns one user's posts newest first.
func (s *Store) ListUserPosts(ctx context.Context, userID string) ([]model.Post, error) {
	return s.list(func(p model.Post) bool { return p.UserID == userID }), nil
}

// CreatePost stores a new post with zero counters.
func (s *Store) CreatePost(ctx context.Context, post model.NewPost) (model.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := model.Post{
		ID:        uuid.NewString(),
		UserID:    post.UserID,
		ImageURL:  post.ImageURL,
		Caption:   post.Caption,
		CreatedAt: s.now().UTC(),
	}
	s.posts[p.ID] = p
	return s.joinLocked(p), nil
}

// SetLikes writes the like counter.
func (s *Store) SetLikes(ctx context.Context, postID string, likes int) (model.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[postID]
	if !ok {
		return model.Post{}, fmt.Errorf("post %s: %w", postID, store.ErrNotFound)
	}
	p.Likes = likes
	s.posts[postID] = p
	return s.joinLocked(p), nil
}

func (s *Store) list(keep func(model.Post) bool) []model.Post {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Post, 0, len(s.posts))
	for _, p := range s.posts {
		if keep(p) {
			out = append(out, s.joinLocked(p))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// joinLocked embeds the current author profile, falling back to the author
// stored with the post.
func (s *Store) joinLocked(p model.Post) model.Post {
	if author, ok := s.profiles[p.UserID]; ok {
		p.User = author.Clone()
	} else if p.User.ID == "" {
		p.User = model.Identity{ID: p.UserID, Name: "unknown", Username: "unknown"}
	}
	return p
}

// =============================================================================
// Settings
// =============================================================================

// GetSettings returns a user's settings or store.ErrNotFound.
func (s *Store) GetSettings(ctx context.Context, userID string) (model.UserSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.settings[userID]
	if !ok {
		return model.UserSettings{}, fmt.Errorf("settings %s: %w", userID, store.ErrNotFound)
	}
	return st, nil
}

// CreateSettings stores the default settings for a user.
func (s *Store) CreateSettings(ctx context.Context, userID string) (model.UserSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.settings[userID]; ok {
		return model.UserSettings{}, fmt.Errorf("settings %s: %w", userID, store.ErrConflict)
	}
	st := model.DefaultSettings(userID)
	now := s.now().UTC()
	st.CreatedAt = now
	st.UpdatedAt = now
	s.settings[userID] = st
	return st, nil
}

// UpdateSettings merges patch into a user's settings.
func (s *Store) UpdateSettings(ctx context.Context, userID string, patch model.SettingsPatch) (model.UserSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.settings[userID]
	if !ok {
		return model.UserSettings{}, fmt.Errorf("settings %s: %w", userID, store.ErrNotFound)
	}
	st = st.Apply(patch)
	st.UpdatedAt = s.now().UTC()
	s.settings[userID] = st
	return st, nil
}
