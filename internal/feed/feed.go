// Package feed loads the post feed and applies likes.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/snapshare/client/internal/metrics"
	"github.com/snapshare/client/internal/model"
	"github.com/snapshare/client/internal/store"
	"github.com/snapshare/client/pkg/logger"
)

var (
	// ErrUnavailable wraps any failure to load the feed.
	ErrUnavailable = errors.New("failed to load posts")

	// ErrPostNotFound is returned when liking a post that is not in the loaded feed.
	ErrPostNotFound = errors.New("post not found")
)

// Accessor holds the loaded feed.
type Accessor struct {
	posts store.PostStore
	log   *logger.Logger

	mu         sync.RWMutex
	items      []model.Post
	refreshing bool
}

// New creates an accessor on posts.
func New(posts store.PostStore, log *logger.Logger) *Accessor {
	if log == nil {
		log = logger.NewDefault("feed")
	}
	return &Accessor{posts: posts, log: log}
}

// ListPosts loads every post with its author, newest first, and replaces the
// local feed.
func (a *Accessor) ListPosts(ctx context.Context) ([]model.Post, error) {
	posts, err := a.posts.ListPosts(ctx)
	if err != nil {
		a.log.WithError(err).Error("load feed failed")
		metrics.RecordOperation("feed", "list", metrics.OutcomeError)
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	SortNewestFirst(posts)

	a.mu.Lock()
	a.items = clonePosts(posts)
	a.mu.Unlock()

	metrics.RecordOperation("feed", "list", metrics.OutcomeOK)
	a.log.WithField("count", len(posts)).Debug("feed loaded")
	return posts, nil
}

// LikePost writes the local like count plus one and merges the count the
// backend acknowledges. Repeated calls keep incrementing.
func (a *Accessor) LikePost(ctx context.Context, postID string) (model.Post, error) {
	a.mu.RLock()
	idx := indexOf(a.items, postID)
	var likes int
	if idx >= 0 {
		likes = a.items[idx].Likes
	}
	a.mu.RUnlock()
	if idx < 0 {
		return model.Post{}, fmt.Errorf("%w: %s", ErrPostNotFound, postID)
	}

	ack, err := a.posts.SetLikes(ctx, postID, likes+1)
	if err != nil {
		a.log.WithError(err).WithField("post_id", postID).Error("like post failed")
		metrics.RecordOperation("feed", "like", metrics.OutcomeError)
		return model.Post{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	metrics.RecordOperation("feed", "like", metrics.OutcomeOK)
	// The feed may have been reloaded while the write was in flight.
	if idx = indexOf(a.items, postID); idx < 0 {
		return ack, nil
	}
	a.items[idx].Likes = ack.Likes
	return a.items[idx], nil
}

// Refresh reloads the feed while Refreshing reports true.
func (a *Accessor) Refresh(ctx context.Context) ([]model.Post, error) {
	a.mu.Lock()
	a.refreshing = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.refreshing = false
		a.mu.Unlock()
	}()
	return a.ListPosts(ctx)
}

// Refreshing reports whether a Refresh is in progress.
func (a *Accessor) Refreshing() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.refreshing
}

// Posts returns a copy of the loaded feed.
func (a *Accessor) Posts() []model.Post {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return clonePosts(a.items)
}

// SortNewestFirst orders posts by creation time descending, keeping the
// input order for equal times.
func SortNewestFirst(posts []model.Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
}

func indexOf(posts []model.Post, id string) int {
	for i := range posts {
		if posts[i].ID == id {
			return i
		}
	}
	return -1
}

func clonePosts(posts []model.Post) []model.Post {
	out := make([]model.Post, len(posts))
	for i, p := range posts {
		p.User = p.User.Clone()
		out[i] = p
	}
	return out
}
