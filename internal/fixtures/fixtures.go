// Package fixtures ships the demo feed used in mock mode and by the seed tool.
package fixtures

import (
	_ "embed"
	"fmt"

	"github.com/snapshare/client/internal/model"
)

//go:embed posts.json
var postsJSON []byte

// Posts returns the demo posts, newest first.
func Posts() ([]model.Post, error) {
	posts, err := model.PostsFromRows(postsJSON)
	if err != nil {
		return nil, fmt.Errorf("load fixture posts: %w", err)
	}
	return posts, nil
}

// Authors returns the distinct authors of the demo posts in first-seen order.
func Authors(posts []model.Post) []model.Identity {
	seen := make(map[string]bool)
	var out []model.Identity
	for _, p := range posts {
		if p.User.ID == "" || seen[p.User.ID] {
			continue
		}
		seen[p.User.ID] = true
		out = append(out, p.User.Clone())
	}
	return out
}
