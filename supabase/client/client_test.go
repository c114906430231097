package client_test

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapshare/client/internal/testutil"
	"github.com/snapshare/client/pkg/logger"
	"github.com/snapshare/client/supabase/client"
)

func newClient(t *testing.T, fake *testutil.FakeSupabase, storage client.SessionStorage) *client.Client {
	t.Helper()
	c, err := client.New(client.Config{
		URL:            fake.URL() + "/",
		APIKey:         testutil.FakeAPIKey,
		SessionStorage: storage,
		Logger:         logger.NewDiscard("supabase"),
	})
	require.NoError(t, err)
	return c
}

// =============================================================================
// Client
// =============================================================================

func TestNewRequiresURLAndKey(t *testing.T) {
	_, err := client.New(client.Config{APIKey: "k"})
	assert.Error(t, err)

	_, err = client.New(client.Config{URL: "http://localhost"})
	assert.Error(t, err)
}

func TestBaseURLTrimsSlash(t *testing.T) {
	fake := testutil.NewFakeSupabase(t)
	c := newClient(t, fake, nil)
	assert.Equal(t, fake.URL(), c.BaseURL())
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, client.IsNotFound(&client.Error{Code: client.CodeNoRows, StatusCode: http.StatusNotAcceptable}))
	assert.True(t, client.IsNotFound(&client.Error{StatusCode: http.StatusNotFound}))
	assert.False(t, client.IsNotFound(&client.Error{Code: "23505", StatusCode: http.StatusConflict}))
	assert.False(t, client.IsNotFound(errors.New("boom")))
}

// =============================================================================
// PostgREST
// =============================================================================

func TestQuerySingleMissingRowIsNotFound(t *testing.T) {
	fake := testutil.NewFakeSupabase(t)
	c := newClient(t, fake, nil)

	_, err := c.From("profiles").Select("*").Eq("id", "nobody").Single().Execute(context.Background())
	require.Error(t, err)
	assert.True(t, client.IsNotFound(err))

	var apiErr *client.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, client.CodeNoRows, apiErr.Code)
	assert.Equal(t, "JSON object requested, multiple (or no) rows returned", apiErr.Message)
}

func TestQueryBuildsFiltersAndOrder(t *testing.T) {
	fake := testutil.NewFakeSupabase(t)
	fake.Seed("posts",
		map[string]any{"id": "p1", "user_id": "u1", "created_at": "2024-01-01T00:00:00Z"},
		map[string]any{"id": "p2", "user_id": "u1", "created_at": "2024-02-01T00:00:00Z"},
		map[string]any{"id": "p3", "user_id": "u2", "created_at": "2024-03-01T00:00:00Z"},
	)
	c := newClient(t, fake, nil)

	resp, err := c.From("posts").Eq("user_id", "u1").Order("created_at", false).Execute(context.Background())
	require.NoError(t, err)
	var rows []map[string]any
	require.NoError(t, resp.JSON(&rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "p2", rows[0]["id"])
	assert.Equal(t, "p1", rows[1]["id"])

	reqs := fake.Requests()
	last := reqs[len(reqs)-1]
	assert.Equal(t, "eq.u1", last.Query.Get("user_id"))
	assert.Equal(t, "created_at.desc", last.Query.Get("order"))
	assert.Equal(t, "*", last.Query.Get("select"))
	assert.Equal(t, "Bearer "+testutil.FakeAPIKey, last.Header.Get("Authorization"))
}

func TestInsertReturnsRepresentation(t *testing.T) {
	fake := testutil.NewFakeSupabase(t)
	c := newClient(t, fake, nil)

	resp, err := c.From("profiles").Insert(map[string]any{"id": "u1", "username": "alice"}).Single().Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.JSONEq(t, `{"id":"u1","username":"alice"}`, string(resp.Body))

	last := fake.Requests()[len(fake.Requests())-1]
	assert.Equal(t, "return=representation", last.Header.Get("Prefer"))

	_, err = c.From("profiles").Insert(map[string]any{"id": "u1"}).Execute(context.Background())
	var apiErr *client.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "23505", apiErr.Code)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
}

func TestUpdatePatchesMatchingRows(t *testing.T) {
	fake := testutil.NewFakeSupabase(t)
	fake.Seed("posts", map[string]any{"id": "p1", "likes": 1}, map[string]any{"id": "p2", "likes": 5})
	c := newClient(t, fake, nil)

	resp, err := c.From("posts").Update(map[string]any{"likes": 2}).Eq("id", "p1").Single().Execute(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"p1","likes":2}`, string(resp.Body))

	rows := fake.Rows("posts")
	assert.EqualValues(t, 2, rows[0]["likes"])
	assert.EqualValues(t, 5, rows[1]["likes"])
}

// =============================================================================
// Auth
// =============================================================================

func TestSignInPersistsSessionAndEmits(t *testing.T) {
	fake := testutil.NewFakeSupabase(t)
	userID := fake.AddUser("a@x.com", "secret1", map[string]any{"username": "alice"})
	storage := client.NewMemoryStorage()
	c := newClient(t, fake, storage)

	var events []client.AuthChangeEvent
	unsubscribe := c.Auth().OnAuthStateChange(func(event client.AuthChangeEvent, s *client.Session) {
		events = append(events, event)
	})
	defer unsubscribe()

	session, err := c.Auth().SignInWithPassword(context.Background(), "a@x.com", "secret1")
	require.NoError(t, err)
	require.NotNil(t, session.User)
	assert.Equal(t, userID, session.User.ID)
	assert.Equal(t, "alice", session.User.UserMetadata["username"])
	assert.NotZero(t, session.ExpiresAt)
	assert.Equal(t, []client.AuthChangeEvent{client.EventSignedIn}, events)

	stored, err := storage.Load()
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, session.AccessToken, stored.AccessToken)

	// Table requests now carry the user token.
	_, _ = c.From("profiles").Execute(context.Background())
	last := fake.Requests()[len(fake.Requests())-1]
	assert.Equal(t, "Bearer "+session.AccessToken, last.Header.Get("Authorization"))
}

func TestSignInRejectedKeepsBackendMessage(t *testing.T) {
	fake := testutil.NewFakeSupabase(t)
	fake.AddUser("a@x.com", "secret1", nil)
	c := newClient(t, fake, nil)

	_, err := c.Auth().SignInWithPassword(context.Background(), "a@x.com", "wrong")
	require.Error(t, err)
	assert.Equal(t, "Invalid login credentials", err.Error())

	s, err := c.Auth().GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestSignUpSendsMetadataAndSignsIn(t *testing.T) {
	fake := testutil.NewFakeSupabase(t)
	c := newClient(t, fake, nil)

	var got *client.Session
	c.Auth().OnAuthStateChange(func(event client.AuthChangeEvent, s *client.Session) {
		got = s
	})

	user, err := c.Auth().SignUp(context.Background(), "b@x.com", "secret1", map[string]any{"username": "bob"})
	require.NoError(t, err)
	assert.Equal(t, "b@x.com", user.Email)
	assert.Equal(t, "bob", user.UserMetadata["username"])
	require.NotNil(t, got)
	assert.Equal(t, user.ID, got.User.ID)

	_, err = c.Auth().SignUp(context.Background(), "b@x.com", "secret1", nil)
	var apiErr *client.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "user_already_exists", apiErr.Code)
	assert.Equal(t, "User already registered", apiErr.Message)
}

func TestSignOutClearsSession(t *testing.T) {
	fake := testutil.NewFakeSupabase(t)
	fake.AddUser("a@x.com", "secret1", nil)
	storage := client.NewMemoryStorage()
	c := newClient(t, fake, storage)

	_, err := c.Auth().SignInWithPassword(context.Background(), "a@x.com", "secret1")
	require.NoError(t, err)

	var signedOut bool
	c.Auth().OnAuthStateChange(func(event client.AuthChangeEvent, s *client.Session) {
		if event == client.EventSignedOut {
			signedOut = s == nil
		}
	})

	require.NoError(t, c.Auth().SignOut(context.Background()))
	assert.True(t, signedOut)
	assert.Equal(t, 1, fake.RequestCount("/auth/v1/logout"))

	stored, err := storage.Load()
	require.NoError(t, err)
	assert.Nil(t, stored)

	_, err = c.Auth().GetUser(context.Background())
	assert.ErrorIs(t, err, client.ErrNoSession)
}

func TestSignOutWithRevokedTokenStillClears(t *testing.T) {
	fake := testutil.NewFakeSupabase(t)
	fake.AddUser("a@x.com", "secret1", nil)
	c := newClient(t, fake, nil)

	_, err := c.Auth().SignInWithPassword(context.Background(), "a@x.com", "secret1")
	require.NoError(t, err)
	fake.ExpireTokens()

	require.NoError(t, c.Auth().SignOut(context.Background()))
	s, err := c.Auth().GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestSignOutServerErrorKeepsSession(t *testing.T) {
	fake := testutil.NewFakeSupabase(t)
	fake.AddUser("a@x.com", "secret1", nil)
	c := newClient(t, fake, nil)

	_, err := c.Auth().SignInWithPassword(context.Background(), "a@x.com", "secret1")
	require.NoError(t, err)
	fake.FailNext(http.MethodPost, "/auth/v1/logout", http.StatusInternalServerError, `{"msg":"database unavailable"}`)

	err = c.Auth().SignOut(context.Background())
	require.Error(t, err)
	assert.Equal(t, "database unavailable", err.Error())

	s, err := c.Auth().GetSession(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestGetSessionRestoresAndRefreshesExpired(t *testing.T) {
	fake := testutil.NewFakeSupabase(t)
	fake.TokenTTL = 5 * time.Second // inside the refresh margin
	fake.AddUser("a@x.com", "secret1", nil)
	path := filepath.Join(t.TempDir(), "auth", "session.json")

	first := newClient(t, fake, client.NewFileStorage(path))
	original, err := first.Auth().SignInWithPassword(context.Background(), "a@x.com", "secret1")
	require.NoError(t, err)
	tokenCalls := fake.RequestCount("/auth/v1/token")

	fake.TokenTTL = time.Hour
	second := newClient(t, fake, client.NewFileStorage(path))
	var events []client.AuthChangeEvent
	second.Auth().OnAuthStateChange(func(event client.AuthChangeEvent, s *client.Session) {
		events = append(events, event)
	})

	restored, err := second.Auth().GetSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.NotEqual(t, original.AccessToken, restored.AccessToken)
	assert.Equal(t, original.User.ID, restored.User.ID)
	assert.Equal(t, []client.AuthChangeEvent{client.EventTokenRefreshed}, events)
	assert.Equal(t, tokenCalls+1, fake.RequestCount("/auth/v1/token"))
}

func TestRefreshRejectedSignsOut(t *testing.T) {
	fake := testutil.NewFakeSupabase(t)
	fake.AddUser("a@x.com", "secret1", nil)
	c := newClient(t, fake, nil)

	_, err := c.Auth().SignInWithPassword(context.Background(), "a@x.com", "secret1")
	require.NoError(t, err)

	var events []client.AuthChangeEvent
	c.Auth().OnAuthStateChange(func(event client.AuthChangeEvent, s *client.Session) {
		events = append(events, event)
	})
	fake.FailNext(http.MethodPost, "/auth/v1/token", http.StatusBadRequest,
		`{"error":"invalid_grant","error_description":"Invalid Refresh Token"}`)

	_, err = c.Auth().RefreshSession(context.Background())
	require.Error(t, err)
	assert.Equal(t, []client.AuthChangeEvent{client.EventSignedOut}, events)
}

func TestSessionExpiryFallsBackToJWT(t *testing.T) {
	fake := testutil.NewFakeSupabase(t)
	fake.AddUser("a@x.com", "secret1", nil)
	c := newClient(t, fake, nil)

	s, err := c.Auth().SignInWithPassword(context.Background(), "a@x.com", "secret1")
	require.NoError(t, err)

	fromJWT := &client.Session{AccessToken: s.AccessToken}
	assert.WithinDuration(t, time.Unix(s.ExpiresAt, 0), fromJWT.Expiry(), 2*time.Second)
	assert.False(t, fromJWT.Expired(time.Now()))
	assert.True(t, fromJWT.Expired(time.Now().Add(2*time.Hour)))

	garbage := &client.Session{AccessToken: "not-a-jwt"}
	assert.True(t, garbage.Expiry().IsZero())
	assert.False(t, garbage.Expired(time.Now()))
}

// =============================================================================
// Session storage
// =============================================================================

func TestFileStorageRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	fs := client.NewFileStorage(path)

	s, err := fs.Load()
	require.NoError(t, err)
	assert.Nil(t, s)

	require.NoError(t, fs.Save(&client.Session{AccessToken: "tok", RefreshToken: "ref", User: &client.User{ID: "u1"}}))
	s, err = fs.Load()
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "tok", s.AccessToken)
	assert.Equal(t, "u1", s.User.ID)

	require.NoError(t, fs.Remove())
	require.NoError(t, fs.Remove())
	s, err = fs.Load()
	require.NoError(t, err)
	assert.Nil(t, s)
}

// =============================================================================
// Storage
// =============================================================================

func TestUploadWithoutUpsertConflicts(t *testing.T) {
	fake := testutil.NewFakeSupabase(t)
	c := newClient(t, fake, nil)
	bucket := c.Storage().From("post-images")

	key, err := bucket.Upload(context.Background(), "u1/1.jpg", []byte("img"), client.UploadOptions{ContentType: "image/jpeg"})
	require.NoError(t, err)
	assert.Equal(t, "post-images/u1/1.jpg", key)

	last := fake.Requests()[len(fake.Requests())-1]
	assert.Equal(t, "image/jpeg", last.Header.Get("Content-Type"))
	assert.Equal(t, "false", last.Header.Get("x-upsert"))

	_, err = bucket.Upload(context.Background(), "u1/1.jpg", []byte("img2"), client.UploadOptions{})
	var apiErr *client.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Duplicate", apiErr.Code)
	assert.Equal(t, "The resource already exists", apiErr.Message)

	data, ok := fake.Object("post-images", "u1/1.jpg")
	require.True(t, ok)
	assert.Equal(t, []byte("img"), data)
}

func TestUploadWithUpsertOverwrites(t *testing.T) {
	fake := testutil.NewFakeSupabase(t)
	c := newClient(t, fake, nil)
	bucket := c.Storage().From("profile-images")

	_, err := bucket.Upload(context.Background(), "avatars/u1/profile.png", []byte("v1"), client.UploadOptions{Upsert: true})
	require.NoError(t, err)
	_, err = bucket.Upload(context.Background(), "avatars/u1/profile.png", []byte("v2"), client.UploadOptions{Upsert: true})
	require.NoError(t, err)

	data, _ := fake.Object("profile-images", "avatars/u1/profile.png")
	assert.Equal(t, []byte("v2"), data)
}

func TestGetPublicURL(t *testing.T) {
	fake := testutil.NewFakeSupabase(t)
	c := newClient(t, fake, nil)

	got := c.Storage().From("post-images").GetPublicURL("u1/my photo.jpg")
	assert.Equal(t, fake.URL()+"/storage/v1/object/public/post-images/u1/my%20photo.jpg", got)
}
