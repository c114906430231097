package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authmem "github.com/snapshare/client/internal/auth/memory"
	"github.com/snapshare/client/internal/model"
	"github.com/snapshare/client/internal/store"
	"github.com/snapshare/client/internal/store/memory"
	supastore "github.com/snapshare/client/internal/store/supabase"
	"github.com/snapshare/client/internal/testutil"
	"github.com/snapshare/client/pkg/logger"
	"github.com/snapshare/client/supabase/client"
)

// flakyProfiles fails selected operations of the wrapped store.
type flakyProfiles struct {
	store.ProfileStore
	createErr error
	updateErr error
	getErr    error

	mu      sync.Mutex
	creates int
}

func (f *flakyProfiles) GetProfile(ctx context.Context, id string) (model.Identity, error) {
	if f.getErr != nil {
		return model.Identity{}, f.getErr
	}
	return f.ProfileStore.GetProfile(ctx, id)
}

func (f *flakyProfiles) CreateProfile(ctx context.Context, p model.Identity) (model.Identity, error) {
	f.mu.Lock()
	f.creates++
	f.mu.Unlock()
	if f.createErr != nil {
		return model.Identity{}, f.createErr
	}
	return f.ProfileStore.CreateProfile(ctx, p)
}

func (f *flakyProfiles) UpdateProfile(ctx context.Context, id string, patch model.IdentityPatch) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	return f.ProfileStore.UpdateProfile(ctx, id, patch)
}

type fixture struct {
	auth     *authmem.Auth
	data     *memory.Store
	profiles *flakyProfiles
	store    *Store
	states   []model.SessionState
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		auth: authmem.New(logger.NewDiscard("auth")),
		data: memory.NewStore(),
	}
	f.profiles = &flakyProfiles{ProfileStore: f.data}
	f.store = New(f.auth, f.profiles, f.data, logger.NewDiscard("session"))
	f.store.Watch(func(s model.Session) { f.states = append(f.states, s.State) })
	t.Cleanup(f.store.Stop)
	return f
}

// =============================================================================
// Startup
// =============================================================================

func TestNewStoreIsUnresolved(t *testing.T) {
	f := newFixture(t)
	s := f.store.Current()
	assert.Equal(t, model.StateUnresolved, s.State)
	assert.True(t, s.IsLoading)
	assert.Nil(t, s.User)
}

func TestStartWithoutSessionIsUnauthenticated(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Start(context.Background()))

	s := f.store.Current()
	assert.Equal(t, model.StateUnauthenticated, s.State)
	assert.False(t, s.IsLoading)
	assert.Nil(t, s.User)
	assert.Equal(t, []model.SessionState{model.StateLoading, model.StateUnauthenticated}, f.states)
}

func TestStartWithExistingSessionResolvesProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.auth.AddAccount("a@x.com", "secret1", map[string]any{"username": "alice"})
	require.NoError(t, err)
	_, err = f.auth.SignInWithPassword(ctx, "a@x.com", "secret1") // before Start: no listener yet
	require.NoError(t, err)

	require.NoError(t, f.store.Start(ctx))
	id := f.store.Identity()
	require.NotNil(t, id)
	assert.Equal(t, "alice", id.Username)
	assert.Equal(t, model.StateAuthenticated, f.store.Current().State)

	require.NoError(t, f.store.Start(ctx), "second Start is a no-op")
}

// =============================================================================
// Sign up / in / out
// =============================================================================

func TestSignUpCreatesProfileFromMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Start(ctx))

	require.NoError(t, f.store.SignUp(ctx, "a@x.com", "secret1", "alice"))

	s := f.store.Current()
	require.Equal(t, model.StateAuthenticated, s.State)
	require.NotNil(t, s.User)
	assert.Equal(t, "alice", s.User.Username)
	assert.Equal(t, "alice", s.User.Name)
	assert.Equal(t, "a@x.com", s.User.Email)
	assert.Nil(t, s.User.AvatarURL)
	assert.Nil(t, s.User.Bio)

	stored, err := f.data.GetProfile(ctx, s.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", stored.Username)

	settings := f.store.Settings()
	require.NotNil(t, settings, "default settings created on login")
	assert.Equal(t, s.User.ID, settings.UserID)

	assert.Equal(t, []model.SessionState{
		model.StateLoading, model.StateUnauthenticated, // Start
		model.StateLoading, model.StateAuthenticated, // sign up
	}, f.states)
}

func TestSignUpValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.store.SignUp(ctx, "a@x.com", "secret1", " ")
	assert.True(t, model.IsValidation(err))
	err = f.store.SignUp(ctx, "a@x.com", "12345", "alice")
	require.True(t, model.IsValidation(err))
	assert.Equal(t, "Password must be at least 6 characters", err.Error())
	err = f.store.SignIn(ctx, "", "x")
	assert.True(t, model.IsValidation(err))

	_, err = f.auth.GetUser(ctx)
	assert.ErrorIs(t, err, client.ErrNoSession, "no account was created")
}

func TestSignInWrongPasswordSurfacesBackendMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Start(ctx))
	_, err := f.auth.AddAccount("a@x.com", "secret1", nil)
	require.NoError(t, err)

	err = f.store.SignIn(ctx, "a@x.com", "wrong")
	assert.EqualError(t, err, "Invalid login credentials")
	assert.Equal(t, model.StateUnauthenticated, f.store.Current().State)
}

func TestSignOutAlwaysClears(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Start(ctx))
	require.NoError(t, f.store.SignUp(ctx, "a@x.com", "secret1", "alice"))

	require.NoError(t, f.store.SignOut(ctx))
	s := f.store.Current()
	assert.Nil(t, s.User)
	assert.False(t, s.IsLoading)
	assert.Nil(t, f.store.Settings())

	// Sign back in reuses the existing profile.
	require.NoError(t, f.store.SignIn(ctx, "a@x.com", "secret1"))
	assert.Equal(t, "alice", f.store.Identity().Username)
	assert.Equal(t, 1, f.profiles.creates)
}

func TestSignedOutEventWhileLoading(t *testing.T) {
	f := newFixture(t)
	f.store.HandleAuthEvent(context.Background(), client.EventSignedOut, nil)
	s := f.store.Current()
	assert.Equal(t, model.StateUnauthenticated, s.State)
	assert.Nil(t, s.User)
	assert.False(t, s.IsLoading)
}

// =============================================================================
// Profile resolution failures
// =============================================================================

func TestProfileCreationFailureStaysLoading(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Start(ctx))
	f.profiles.createErr = errors.New("permission denied for table profiles")

	require.NoError(t, f.store.SignUp(ctx, "a@x.com", "secret1", "alice"))

	s := f.store.Current()
	assert.Equal(t, model.StateLoading, s.State)
	assert.True(t, s.IsLoading)
	assert.Nil(t, s.User)
}

func TestResolveProfileWrapsCreationError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.auth.SignUp(ctx, "a@x.com", "secret1", nil)
	require.NoError(t, err)
	f.profiles.createErr = errors.New("boom")

	user, err := f.auth.GetUser(ctx)
	require.NoError(t, err)
	_, err = f.store.ResolveProfile(ctx, user.ID)
	assert.ErrorIs(t, err, ErrProfileCreation)
}

func TestProfileFetchFailureSignsOutLocally(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Start(ctx))
	f.profiles.getErr = errors.New("connection refused")

	require.NoError(t, f.store.SignUp(ctx, "a@x.com", "secret1", "alice"))
	s := f.store.Current()
	assert.Equal(t, model.StateUnauthenticated, s.State)
	assert.Zero(t, f.profiles.creates)
}

// =============================================================================
// Identity updates
// =============================================================================

func TestUpdateIdentityRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Start(ctx))
	require.NoError(t, f.store.SignUp(ctx, "a@x.com", "secret1", "alice"))

	require.NoError(t, f.store.UpdateIdentity(ctx, model.IdentityPatch{Bio: model.String("hello")}))

	id := f.store.Identity()
	require.NotNil(t, id.Bio)
	assert.Equal(t, "hello", *id.Bio)
	assert.Equal(t, "alice", id.Username, "other fields untouched")

	stored, err := f.data.GetProfile(ctx, id.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", *stored.Bio)
}

func TestUpdateIdentityFailureDoesNotMerge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Start(ctx))
	require.NoError(t, f.store.SignUp(ctx, "a@x.com", "secret1", "alice"))
	f.profiles.updateErr = errors.New(`duplicate key value violates unique constraint "profiles_username_key"`)

	err := f.store.UpdateIdentity(ctx, model.IdentityPatch{Username: model.String("bob")})
	assert.EqualError(t, err, `duplicate key value violates unique constraint "profiles_username_key"`)
	assert.Equal(t, "alice", f.store.Identity().Username)
}

func TestUpdateIdentityRequiresSession(t *testing.T) {
	f := newFixture(t)
	err := f.store.UpdateIdentity(context.Background(), model.IdentityPatch{Name: model.String("x")})
	assert.ErrorIs(t, err, model.ErrNotAuthenticated)
}

func TestRefreshUserPicksUpRemoteChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Start(ctx))
	require.NoError(t, f.store.SignUp(ctx, "a@x.com", "secret1", "alice"))
	id := f.store.Identity()

	require.NoError(t, f.data.UpdateProfile(ctx, id.ID, model.IdentityPatch{Name: model.String("Alice Liddell")}))
	require.NoError(t, f.store.RefreshUser(ctx))
	assert.Equal(t, "Alice Liddell", f.store.Identity().Name)
}

// =============================================================================
// Settings
// =============================================================================

func TestUpdateSettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.UpdateSettings(ctx, model.SettingsPatch{PrivateAccount: model.Bool(true)})
	assert.ErrorIs(t, err, ErrNoSettings)

	require.NoError(t, f.store.Start(ctx))
	require.NoError(t, f.store.SignUp(ctx, "a@x.com", "secret1", "alice"))

	updated, err := f.store.UpdateSettings(ctx, model.SettingsPatch{PrivateAccount: model.Bool(true)})
	require.NoError(t, err)
	assert.True(t, updated.PrivateAccount)
	assert.True(t, f.store.Settings().PrivateAccount)
}

func TestWatchCancel(t *testing.T) {
	f := newFixture(t)
	var calls int
	cancel := f.store.Watch(func(model.Session) { calls++ })
	f.store.HandleAuthEvent(context.Background(), client.EventSignedOut, nil)
	cancel()
	f.store.HandleAuthEvent(context.Background(), client.EventSignedOut, nil)
	assert.Equal(t, 1, calls)
}

// =============================================================================
// Sign-out racing in-flight work
// =============================================================================

// gatedProfiles blocks GetProfile or UpdateProfile until release is closed.
type gatedProfiles struct {
	store.ProfileStore
	gateGet    bool
	gateUpdate bool
	entered    chan struct{}
	release    chan struct{}
}

func newGatedProfiles(inner store.ProfileStore) *gatedProfiles {
	return &gatedProfiles{
		ProfileStore: inner,
		entered:      make(chan struct{}, 1),
		release:      make(chan struct{}),
	}
}

func (g *gatedProfiles) wait() {
	g.entered <- struct{}{}
	<-g.release
}

func (g *gatedProfiles) GetProfile(ctx context.Context, id string) (model.Identity, error) {
	if g.gateGet {
		g.wait()
	}
	return g.ProfileStore.GetProfile(ctx, id)
}

func (g *gatedProfiles) UpdateProfile(ctx context.Context, id string, patch model.IdentityPatch) error {
	if g.gateUpdate {
		g.wait()
	}
	return g.ProfileStore.UpdateProfile(ctx, id, patch)
}

func TestSignOutDuringProfileFetchStaysSignedOut(t *testing.T) {
	ctx := context.Background()
	data := memory.NewStore()
	_, err := data.CreateProfile(ctx, model.Identity{ID: "u1", Name: "alice", Username: "alice"})
	require.NoError(t, err)

	gated := newGatedProfiles(data)
	gated.gateGet = true
	s := New(authmem.New(logger.NewDiscard("auth")), gated, data, logger.NewDiscard("session"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.HandleAuthEvent(ctx, client.EventSignedIn, &client.Session{User: &client.User{ID: "u1"}})
	}()

	<-gated.entered
	s.HandleAuthEvent(ctx, client.EventSignedOut, nil)
	close(gated.release)
	<-done

	assert.Equal(t, model.SignedOutSession(), s.Current())
	assert.Nil(t, s.Identity())
	assert.Nil(t, s.Settings())

	// A later sign-in is not affected by the abandoned one.
	gated.gateGet = false
	s.HandleAuthEvent(ctx, client.EventSignedIn, &client.Session{User: &client.User{ID: "u1"}})
	require.NotNil(t, s.Identity())
	assert.Equal(t, "alice", s.Identity().Username)
}

func TestSignOutDuringIdentityUpdateDoesNotRevive(t *testing.T) {
	ctx := context.Background()
	data := memory.NewStore()
	_, err := data.CreateProfile(ctx, model.Identity{ID: "u1", Name: "alice", Username: "alice"})
	require.NoError(t, err)

	gated := newGatedProfiles(data)
	s := New(authmem.New(logger.NewDiscard("auth")), gated, data, logger.NewDiscard("session"))
	s.HandleAuthEvent(ctx, client.EventSignedIn, &client.Session{User: &client.User{ID: "u1"}})
	require.NotNil(t, s.Identity())

	gated.gateUpdate = true
	errs := make(chan error, 1)
	go func() {
		errs <- s.UpdateIdentity(ctx, model.IdentityPatch{Bio: model.String("late")})
	}()

	<-gated.entered
	s.HandleAuthEvent(ctx, client.EventSignedOut, nil)
	// Same user signs back in before the write lands.
	gated.gateUpdate = false
	s.HandleAuthEvent(ctx, client.EventSignedIn, &client.Session{User: &client.User{ID: "u1"}})
	close(gated.release)
	require.NoError(t, <-errs)

	// The merge from the previous session is dropped; the backend row has it.
	require.NotNil(t, s.Identity())
	assert.Nil(t, s.Identity().Bio)
	stored, err := data.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, stored.Bio)
	assert.Equal(t, "late", *stored.Bio)
}

func TestSignOutDuringRefreshStaysSignedOut(t *testing.T) {
	ctx := context.Background()
	data := memory.NewStore()
	_, err := data.CreateProfile(ctx, model.Identity{ID: "u1", Name: "alice", Username: "alice"})
	require.NoError(t, err)

	gated := newGatedProfiles(data)
	s := New(authmem.New(logger.NewDiscard("auth")), gated, data, logger.NewDiscard("session"))
	s.HandleAuthEvent(ctx, client.EventSignedIn, &client.Session{User: &client.User{ID: "u1"}})
	require.NotNil(t, s.Identity())

	gated.gateGet = true
	errs := make(chan error, 1)
	go func() { errs <- s.RefreshUser(ctx) }()

	<-gated.entered
	s.HandleAuthEvent(ctx, client.EventSignedOut, nil)
	close(gated.release)
	require.NoError(t, <-errs)

	assert.Equal(t, model.SignedOutSession(), s.Current())
}

func TestSnapshotsAreCopies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Start(ctx))
	require.NoError(t, f.store.SignUp(ctx, "a@x.com", "secret1", "alice"))

	snap := f.store.Current()
	snap.User.Username = "mallory"
	assert.Equal(t, "alice", f.store.Identity().Username)
}

// =============================================================================
// Backend mode
// =============================================================================

func TestBackendSignUpScenario(t *testing.T) {
	fake := testutil.NewFakeSupabase(t)
	c, err := client.New(client.Config{URL: fake.URL(), APIKey: testutil.FakeAPIKey, Logger: logger.NewDiscard("supabase")})
	require.NoError(t, err)
	repo := supastore.NewRepository(c)
	st := New(c.Auth(), repo, repo, logger.NewDiscard("session"))
	t.Cleanup(st.Stop)
	ctx := context.Background()

	require.NoError(t, st.Start(ctx))
	require.NoError(t, st.SignUp(ctx, "a@x.com", "secret1", "alice"))

	id := st.Identity()
	require.NotNil(t, id)
	assert.Equal(t, "alice", id.Username)
	assert.Equal(t, "alice", id.Name)
	assert.Equal(t, "a@x.com", id.Email)

	profiles := fake.Rows(store.TableProfiles)
	require.Len(t, profiles, 1)
	assert.Equal(t, id.ID, profiles[0]["id"])
	assert.Len(t, fake.Rows(store.TableUserSettings), 1)

	require.NoError(t, st.SignOut(ctx))
	assert.Nil(t, st.Identity())
	assert.False(t, st.Current().IsLoading)
}
