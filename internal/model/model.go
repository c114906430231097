// Package model holds the app's domain types and the mapping from backend rows.
package model

import (
	"strings"
	"time"
)

// Identity is the signed-in user's profile as the app sees it.
type Identity struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	Name      string  `json:"name"`
	Username  string  `json:"username"`
	AvatarURL *string `json:"avatar_url,omitempty"`
	Bio       *string `json:"bio,omitempty"`
}

// Clone returns a deep copy.
func (i Identity) Clone() Identity {
	out := i
	if i.AvatarURL != nil {
		v := *i.AvatarURL
		out.AvatarURL = &v
	}
	if i.Bio != nil {
		v := *i.Bio
		out.Bio = &v
	}
	return out
}

// Apply merges the set fields of patch into a copy of i.
func (i Identity) Apply(patch IdentityPatch) Identity {
	out := i.Clone()
	if patch.Name != nil {
		out.Name = *patch.Name
	}
	if patch.Username != nil {
		out.Username = *patch.Username
	}
	if patch.Bio != nil {
		// An empty bio reads back from the backend as null.
		out.Bio = nil
		if *patch.Bio != "" {
			out.Bio = String(*patch.Bio)
		}
	}
	switch {
	case patch.RemoveAvatar:
		out.AvatarURL = nil
	case patch.AvatarURL != nil:
		out.AvatarURL = String(*patch.AvatarURL)
	}
	return out
}

// IdentityPatch is a partial profile update. Nil fields are left unchanged.
type IdentityPatch struct {
	Name      *string
	Username  *string
	Bio       *string
	AvatarURL *string
	// RemoveAvatar clears the avatar and wins over AvatarURL.
	RemoveAvatar bool
}

// Empty reports whether the patch changes nothing.
func (p IdentityPatch) Empty() bool {
	return p.Name == nil && p.Username == nil && p.Bio == nil && p.AvatarURL == nil && !p.RemoveAvatar
}

// Row returns the profiles columns the patch writes.
func (p IdentityPatch) Row() map[string]any {
	row := make(map[string]any)
	if p.Name != nil {
		row["full_name"] = *p.Name
	}
	if p.Username != nil {
		row["username"] = *p.Username
	}
	if p.Bio != nil {
		row["bio"] = *p.Bio
	}
	switch {
	case p.RemoveAvatar:
		row["avatar_url"] = nil
	case p.AvatarURL != nil:
		row["avatar_url"] = *p.AvatarURL
	}
	return row
}

// ProfileRow returns the profiles row for inserting identity.
func (i Identity) ProfileRow() map[string]any {
	row := map[string]any{
		"id":         i.ID,
		"username":   i.Username,
		"full_name":  i.Name,
		"avatar_url": nil,
		"bio":        nil,
	}
	if i.Email != "" {
		row["email"] = i.Email
	}
	if i.AvatarURL != nil {
		row["avatar_url"] = *i.AvatarURL
	}
	if i.Bio != nil {
		row["bio"] = *i.Bio
	}
	return row
}

// DefaultProfile builds the profile created on first sign-in from the auth
// user's email and metadata.
func DefaultProfile(userID, email string, metadata map[string]any) Identity {
	username, _ := metadata["username"].(string)
	username = strings.TrimSpace(username)
	if username == "" {
		short := userID
		if len(short) > 8 {
			short = short[:8]
		}
		username = "user_" + short
	}

	name, _ := metadata["username"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		if local, _, ok := strings.Cut(email, "@"); ok && local != "" {
			name = local
		}
	}
	if name == "" {
		name = "User"
	}

	return Identity{ID: userID, Email: email, Name: name, Username: username}
}

// Post is a feed entry with its author embedded.
type Post struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	User      Identity  `json:"user"`
	ImageURL  string    `json:"image_url"`
	Caption   string    `json:"caption"`
	CreatedAt time.Time `json:"created_at"`
	Likes     int       `json:"likes"`
	Comments  int       `json:"comments"`
}

// NewPost is the input for creating a post.
type NewPost struct {
	UserID   string
	ImageURL string
	Caption  string
}

// Row returns the posts row to insert. Counters start at zero.
func (p NewPost) Row() map[string]any {
	return map[string]any{
		"user_id":   p.UserID,
		"image_url": p.ImageURL,
		"caption":   p.Caption,
		"likes":     0,
		"comments":  0,
	}
}

// UserSettings are per-user preferences.
type UserSettings struct {
	UserID             string    `json:"user_id"`
	PrivateAccount     bool      `json:"private_account"`
	PushNotifications  bool      `json:"push_notifications"`
	EmailNotifications bool      `json:"email_notifications"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// DefaultSettings are the settings of a user who has never changed them.
func DefaultSettings(userID string) UserSettings {
	return UserSettings{
		UserID:             userID,
		PrivateAccount:     false,
		PushNotifications:  true,
		EmailNotifications: true,
	}
}

// Apply merges the set fields of patch into a copy of s.
func (s UserSettings) Apply(patch SettingsPatch) UserSettings {
	if patch.PrivateAccount != nil {
		s.PrivateAccount = *patch.PrivateAccount
	}
	if patch.PushNotifications != nil {
		s.PushNotifications = *patch.PushNotifications
	}
	if patch.EmailNotifications != nil {
		s.EmailNotifications = *patch.EmailNotifications
	}
	return s
}

// SettingsPatch is a partial settings update.
type SettingsPatch struct {
	PrivateAccount     *bool
	PushNotifications  *bool
	EmailNotifications *bool
}

// Row returns the user_settings columns the patch writes.
func (p SettingsPatch) Row() map[string]any {
	row := make(map[string]any)
	if p.PrivateAccount != nil {
		row["private_account"] = *p.PrivateAccount
	}
	if p.PushNotifications != nil {
		row["push_notifications"] = *p.PushNotifications
	}
	if p.EmailNotifications != nil {
		row["email_notifications"] = *p.EmailNotifications
	}
	return row
}

// String returns a pointer to v.
func String(v string) *string {
	return &v
}

// Bool returns a pointer to v.
func Bool(v bool) *bool {
	return &v
}
