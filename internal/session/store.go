// Package session owns who is signed in. A Store is the single writer of the
// session snapshot; readers take copies with Current or subscribe with Watch.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/snapshare/client/internal/metrics"
	"github.com/snapshare/client/internal/model"
	"github.com/snapshare/client/internal/store"
	"github.com/snapshare/client/pkg/logger"
	"github.com/snapshare/client/supabase/client"
)

const minPasswordLength = 6

var (
	// ErrProfileCreation marks a failed first-login profile insert. The
	// session stays Loading when it happens.
	ErrProfileCreation = errors.New("create profile")

	// ErrNoSettings is returned by UpdateSettings before settings are loaded.
	ErrNoSettings = errors.New("settings not loaded")
)

// AuthProvider is the auth backend. *client.AuthClient and the in-memory
// provider both satisfy it.
type AuthProvider interface {
	GetSession(ctx context.Context) (*client.Session, error)
	GetUser(ctx context.Context) (*client.User, error)
	SignInWithPassword(ctx context.Context, email, password string) (*client.Session, error)
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*client.User, error)
	SignOut(ctx context.Context) error
	OnAuthStateChange(fn client.AuthStateListener) func()
}

// Store tracks the session and the signed-in user's settings.
type Store struct {
	auth     AuthProvider
	profiles store.ProfileStore
	settings store.SettingsStore
	log      *logger.Logger

	mu          sync.RWMutex
	session     model.Session
	userSetting *model.UserSettings
	watchers    map[int]func(model.Session)
	nextID      int
	started     bool
	eventCtx    context.Context
	unsubscribe func()

	// epoch advances on every sign-out. Work started under an older epoch
	// must not publish.
	epoch uint64
}

// New creates a store in the Unresolved state.
func New(auth AuthProvider, profiles store.ProfileStore, settings store.SettingsStore, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewDefault("session")
	}
	return &Store{
		auth:     auth,
		profiles: profiles,
		settings: settings,
		log:      log,
		session:  model.UnresolvedSession(),
		watchers: make(map[int]func(model.Session)),
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start subscribes to auth events and resolves the stored session. ctx is
// also used for work triggered by later auth events, so it should live as
// long as the store. Calling Start twice is a no-op.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.eventCtx = ctx
	s.mu.Unlock()

	unsubscribe := s.auth.OnAuthStateChange(func(event client.AuthChangeEvent, sess *client.Session) {
		s.HandleAuthEvent(s.backgroundContext(), event, sess)
	})
	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	s.set(model.LoadingSession(nil))

	current, err := s.auth.GetSession(ctx)
	if err != nil {
		s.log.WithError(err).Warn("restore session failed")
		s.set(model.SignedOutSession())
		return fmt.Errorf("restore session: %w", err)
	}
	if current == nil || current.User == nil {
		s.set(model.SignedOutSession())
		return nil
	}
	s.login(ctx, current.User.ID)
	return nil
}

// Stop unsubscribes from auth events.
func (s *Store) Stop() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// HandleAuthEvent applies an auth event. Sign-in and token refresh resolve
// the profile; sign-out clears the identity before returning.
func (s *Store) HandleAuthEvent(ctx context.Context, event client.AuthChangeEvent, sess *client.Session) {
	s.log.WithField("event", string(event)).Debug("auth event")

	switch event {
	case client.EventSignedIn, client.EventTokenRefreshed:
		if sess == nil || sess.User == nil {
			return
		}
		s.login(ctx, sess.User.ID)
	case client.EventSignedOut:
		s.mu.Lock()
		s.epoch++
		s.userSetting = nil
		notify := s.commitLocked(model.SignedOutSession())
		s.mu.Unlock()
		notify()
	}
}

// login resolves the profile for userID and publishes it.
func (s *Store) login(ctx context.Context, userID string) {
	s.mu.RLock()
	epoch := s.epoch
	prev := s.session.Clone()
	s.mu.RUnlock()

	alreadyIn := prev.State == model.StateAuthenticated && prev.User != nil && prev.User.ID == userID
	if !alreadyIn && !s.publishIf(epoch, model.LoadingSession(nil)) {
		return
	}

	identity, err := s.ResolveProfile(ctx, userID)
	switch {
	case errors.Is(err, ErrProfileCreation):
		// Known gap: the session stays Loading.
		return
	case err != nil:
		s.log.WithError(err).WithField("user_id", userID).Error("fetch profile failed")
		if alreadyIn {
			s.publishIf(epoch, prev)
		} else {
			s.publishIf(epoch, model.SignedOutSession())
		}
		return
	}

	if !s.publishIf(epoch, model.AuthenticatedSession(identity)) {
		s.log.WithField("user_id", userID).Debug("signed out while resolving profile")
		return
	}
	s.loadSettings(ctx, userID, epoch)
}

// =============================================================================
// Profile
// =============================================================================

// ResolveProfile returns the profile for userID, creating it on first login.
func (s *Store) ResolveProfile(ctx context.Context, userID string) (model.Identity, error) {
	identity, err := s.profiles.GetProfile(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return s.CreateProfile(ctx, userID)
	}
	if err != nil {
		return model.Identity{}, err
	}
	return identity, nil
}

// CreateProfile inserts the default profile for the signed-in auth user and
// returns the created row. Failures wrap ErrProfileCreation.
func (s *Store) CreateProfile(ctx context.Context, userID string) (model.Identity, error) {
	log := s.log.WithField("user_id", userID)

	user, err := s.auth.GetUser(ctx)
	if err != nil {
		log.WithError(err).Error("read auth user for profile creation failed")
		return model.Identity{}, fmt.Errorf("%w: %w", ErrProfileCreation, err)
	}
	if user == nil {
		log.Error("no auth user for profile creation")
		return model.Identity{}, fmt.Errorf("%w: %w", ErrProfileCreation, client.ErrNoSession)
	}

	created, err := s.profiles.CreateProfile(ctx, model.DefaultProfile(userID, user.Email, user.UserMetadata))
	if err != nil {
		log.WithError(err).Error("insert profile failed")
		return model.Identity{}, fmt.Errorf("%w: %w", ErrProfileCreation, err)
	}
	log.WithField("username", created.Username).Info("profile created")
	return created, nil
}

// UpdateIdentity writes patch to the backend and merges it into the current
// identity only after the write succeeds.
func (s *Store) UpdateIdentity(ctx context.Context, patch model.IdentityPatch) error {
	s.mu.RLock()
	epoch := s.epoch
	current := s.session.Clone().User
	s.mu.RUnlock()
	if current == nil {
		return model.ErrNotAuthenticated
	}
	if patch.Empty() {
		return nil
	}

	if err := s.profiles.UpdateProfile(ctx, current.ID, patch); err != nil {
		s.log.WithError(err).WithField("user_id", current.ID).Error("update profile failed")
		metrics.RecordOperation("session", "update_identity", metrics.OutcomeError)
		return err
	}

	s.mu.Lock()
	if !s.sameUserLocked(epoch, current.ID) {
		// Signed out or switched user while the write was in flight.
		s.mu.Unlock()
		return nil
	}
	notify := s.commitLocked(model.AuthenticatedSession(s.session.User.Apply(patch)))
	s.mu.Unlock()

	notify()
	metrics.RecordOperation("session", "update_identity", metrics.OutcomeOK)
	return nil
}

// RefreshUser re-reads the profile and settings of the signed-in user.
func (s *Store) RefreshUser(ctx context.Context) error {
	s.mu.RLock()
	epoch := s.epoch
	current := s.session.Clone().User
	s.mu.RUnlock()
	if current == nil {
		return nil
	}
	identity, err := s.ResolveProfile(ctx, current.ID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if !s.sameUserLocked(epoch, current.ID) {
		s.mu.Unlock()
		return nil
	}
	notify := s.commitLocked(model.AuthenticatedSession(identity))
	s.mu.Unlock()

	notify()
	s.loadSettings(ctx, current.ID, epoch)
	return nil
}

// =============================================================================
// Credentials
// =============================================================================

// SignIn starts a session. The identity arrives through the auth event.
func (s *Store) SignIn(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return model.Invalid("credentials", "Please fill in all fields")
	}
	if _, err := s.auth.SignInWithPassword(ctx, email, password); err != nil {
		s.log.WithError(err).Warn("sign in failed")
		metrics.RecordOperation("session", "sign_in", metrics.OutcomeError)
		return err
	}
	metrics.RecordOperation("session", "sign_in", metrics.OutcomeOK)
	return nil
}

// SignUp registers an account with username stored as auth metadata.
func (s *Store) SignUp(ctx context.Context, email, password, username string) error {
	email = strings.TrimSpace(email)
	username = strings.TrimSpace(username)
	if email == "" || password == "" || username == "" {
		return model.Invalid("credentials", "Please fill in all fields")
	}
	if len(password) < minPasswordLength {
		return model.Invalid("password", "Password must be at least %d characters", minPasswordLength)
	}
	if _, err := s.auth.SignUp(ctx, email, password, map[string]any{"username": username}); err != nil {
		s.log.WithError(err).Warn("sign up failed")
		metrics.RecordOperation("session", "sign_up", metrics.OutcomeError)
		return err
	}
	metrics.RecordOperation("session", "sign_up", metrics.OutcomeOK)
	return nil
}

// SignOut ends the session. On success the identity is cleared by the
// sign-out event before SignOut returns.
func (s *Store) SignOut(ctx context.Context) error {
	if err := s.auth.SignOut(ctx); err != nil {
		s.log.WithError(err).Warn("sign out failed")
		return err
	}
	return nil
}

// =============================================================================
// Settings
// =============================================================================

// Settings returns the signed-in user's settings, or nil before they load.
func (s *Store) Settings() *model.UserSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.userSetting == nil {
		return nil
	}
	out := *s.userSetting
	return &out
}

// UpdateSettings writes patch and stores the returned row.
func (s *Store) UpdateSettings(ctx context.Context, patch model.SettingsPatch) (model.UserSettings, error) {
	current := s.Settings()
	if current == nil {
		return model.UserSettings{}, ErrNoSettings
	}
	updated, err := s.settings.UpdateSettings(ctx, current.UserID, patch)
	if err != nil {
		s.log.WithError(err).Error("update settings failed")
		return model.UserSettings{}, err
	}

	s.mu.Lock()
	if s.session.User != nil && s.session.User.ID == updated.UserID {
		s.userSetting = &updated
	}
	s.mu.Unlock()
	return updated, nil
}

// loadSettings fetches settings, creating the default row when missing.
// Errors are logged only.
func (s *Store) loadSettings(ctx context.Context, userID string, epoch uint64) {
	settings, err := s.settings.GetSettings(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		settings, err = s.settings.CreateSettings(ctx, userID)
	}
	if err != nil {
		s.log.WithError(err).WithField("user_id", userID).Error("load settings failed")
		return
	}

	s.mu.Lock()
	if s.sameUserLocked(epoch, userID) {
		s.userSetting = &settings
	}
	s.mu.Unlock()
}

// =============================================================================
// Readers
// =============================================================================

// Current returns a snapshot of the session.
func (s *Store) Current() model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Clone()
}

// Identity returns the signed-in identity, or nil.
func (s *Store) Identity() *model.Identity {
	return s.Current().User
}

// Watch calls fn with every new session snapshot until the returned cancel
// func is called. fn runs synchronously on the goroutine that changed the
// session and must not block.
func (s *Store) Watch(fn func(model.Session)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

// set publishes next unconditionally.
func (s *Store) set(next model.Session) {
	s.mu.Lock()
	notify := s.commitLocked(next)
	s.mu.Unlock()
	notify()
}

// publishIf publishes next only if no sign-out happened since epoch was read.
func (s *Store) publishIf(epoch uint64, next model.Session) bool {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return false
	}
	notify := s.commitLocked(next)
	s.mu.Unlock()
	notify()
	return true
}

func (s *Store) sameUserLocked(epoch uint64, userID string) bool {
	return s.epoch == epoch && s.session.User != nil && s.session.User.ID == userID
}

// commitLocked stores next and returns the func that notifies watchers. The
// caller holds s.mu and must call the func after unlocking.
func (s *Store) commitLocked(next model.Session) func() {
	prevState := s.session.State
	s.session = next.Clone()
	watchers := make([]func(model.Session), 0, len(s.watchers))
	for _, fn := range s.watchers {
		watchers = append(watchers, fn)
	}

	return func() {
		if prevState != next.State {
			metrics.RecordSessionTransition(next.State.String())
			s.log.WithField("state", next.State.String()).Debug("session state changed")
		}
		for _, fn := range watchers {
			fn(next.Clone())
		}
	}
}

func (s *Store) backgroundContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.eventCtx == nil {
		return context.Background()
	}
	return s.eventCtx
}
