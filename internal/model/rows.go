package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Row mapping is explicit so that a missing or null column always lands on a
// known default instead of a zero value picked by a decoder.

const unknownUsername = "unknown"

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05.999999",
}

// ProfileFromRow maps a profiles row.
func ProfileFromRow(raw []byte) (Identity, error) {
	res, err := parseObject(raw)
	if err != nil {
		return Identity{}, err
	}
	return ProfileFromResult(res)
}

// ProfileFromResult maps an already parsed profiles row or embedded author.
func ProfileFromResult(res gjson.Result) (Identity, error) {
	if !res.IsObject() {
		return Identity{}, fmt.Errorf("%w: profile is %s", ErrInvalidRow, res.Type)
	}
	id := res.Get("id").String()
	if id == "" {
		return Identity{}, fmt.Errorf("%w: profile without id", ErrInvalidRow)
	}

	username := strings.TrimSpace(res.Get("username").String())
	name := firstNonEmpty(
		res.Get("full_name").String(),
		res.Get("name").String(),
		username,
	)

	return Identity{
		ID:        id,
		Email:     res.Get("email").String(),
		Name:      name,
		Username:  username,
		AvatarURL: optionalString(res.Get("avatar_url")),
		Bio:       optionalString(res.Get("bio")),
	}, nil
}

// PostFromRow maps a posts row with its embedded author.
func PostFromRow(raw []byte) (Post, error) {
	res, err := parseObject(raw)
	if err != nil {
		return Post{}, err
	}
	return PostFromResult(res)
}

// PostFromResult maps an already parsed posts row. The author may be embedded
// as "user" or "profiles"; a missing author becomes a placeholder identity.
func PostFromResult(res gjson.Result) (Post, error) {
	if !res.IsObject() {
		return Post{}, fmt.Errorf("%w: post is %s", ErrInvalidRow, res.Type)
	}
	id := res.Get("id").String()
	if id == "" {
		return Post{}, fmt.Errorf("%w: post without id", ErrInvalidRow)
	}

	userID := res.Get("user_id").String()
	author := res.Get("user")
	if !author.IsObject() {
		author = res.Get("profiles")
	}

	var user Identity
	if author.IsObject() {
		u, err := ProfileFromResult(author)
		if err != nil {
			return Post{}, fmt.Errorf("post %s author: %w", id, err)
		}
		user = u
	}
	if userID == "" {
		userID = user.ID
	}
	if user.ID == "" {
		user = Identity{ID: userID, Name: unknownUsername, Username: unknownUsername}
	}

	ts := res.Get("created_at")
	if !ts.Exists() {
		ts = res.Get("timestamp")
	}
	createdAt, err := parseTime(ts)
	if err != nil {
		return Post{}, fmt.Errorf("%w: post %s created_at: %v", ErrInvalidRow, id, err)
	}

	return Post{
		ID:        id,
		UserID:    userID,
		User:      user,
		ImageURL:  res.Get("image_url").String(),
		Caption:   res.Get("caption").String(),
		CreatedAt: createdAt,
		Likes:     counter(res.Get("likes")),
		Comments:  counter(res.Get("comments")),
	}, nil
}

// PostsFromRows maps a JSON array of posts rows.
func PostsFromRows(raw []byte) ([]Post, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: malformed JSON", ErrInvalidRow)
	}
	res := gjson.ParseBytes(raw)
	if !res.IsArray() {
		return nil, fmt.Errorf("%w: expected array, got %s", ErrInvalidRow, res.Type)
	}

	items := res.Array()
	posts := make([]Post, 0, len(items))
	for _, item := range items {
		p, err := PostFromResult(item)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, nil
}

// SettingsFromRow maps a user_settings row.
func SettingsFromRow(raw []byte) (UserSettings, error) {
	res, err := parseObject(raw)
	if err != nil {
		return UserSettings{}, err
	}
	userID := res.Get("user_id").String()
	if userID == "" {
		return UserSettings{}, fmt.Errorf("%w: settings without user_id", ErrInvalidRow)
	}

	s := DefaultSettings(userID)
	s.PrivateAccount = boolOr(res.Get("private_account"), s.PrivateAccount)
	s.PushNotifications = boolOr(res.Get("push_notifications"), s.PushNotifications)
	s.EmailNotifications = boolOr(res.Get("email_notifications"), s.EmailNotifications)
	if s.CreatedAt, err = parseTime(res.Get("created_at")); err != nil {
		return UserSettings{}, fmt.Errorf("%w: settings created_at: %v", ErrInvalidRow, err)
	}
	if s.UpdatedAt, err = parseTime(res.Get("updated_at")); err != nil {
		return UserSettings{}, fmt.Errorf("%w: settings updated_at: %v", ErrInvalidRow, err)
	}
	return s, nil
}

func parseObject(raw []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("%w: malformed JSON", ErrInvalidRow)
	}
	res := gjson.ParseBytes(raw)
	if res.IsArray() {
		// A representation of a single mutated row comes back as a one element array.
		items := res.Array()
		if len(items) != 1 {
			return gjson.Result{}, fmt.Errorf("%w: expected one row, got %d", ErrInvalidRow, len(items))
		}
		res = items[0]
	}
	if !res.IsObject() {
		return gjson.Result{}, fmt.Errorf("%w: expected object, got %s", ErrInvalidRow, res.Type)
	}
	return res, nil
}

// counter maps null, missing and negative counters to zero.
func counter(v gjson.Result) int {
	if v.Type != gjson.Number && v.Type != gjson.String {
		return 0
	}
	n := int(v.Int())
	if n < 0 {
		return 0
	}
	return n
}

func boolOr(v gjson.Result, def bool) bool {
	switch v.Type {
	case gjson.True:
		return true
	case gjson.False:
		return false
	default:
		return def
	}
}

func optionalString(v gjson.Result) *string {
	if v.Type != gjson.String || v.Str == "" {
		return nil
	}
	s := v.Str
	return &s
}

// parseTime accepts the timestamp formats PostgREST emits. Missing is the zero time.
func parseTime(v gjson.Result) (time.Time, error) {
	if v.Type == gjson.Null || !v.Exists() || v.String() == "" {
		return time.Time{}, nil
	}
	if v.Type == gjson.Number {
		return time.UnixMilli(v.Int()).UTC(), nil
	}
	s := v.String()
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
