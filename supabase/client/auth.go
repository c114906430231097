package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expiryMargin refreshes a little before the token actually expires.
const expiryMargin = 10 * time.Second

// ErrNoSession is returned by calls that need a signed-in user.
var ErrNoSession = errors.New("auth session missing")

// AuthChangeEvent is pushed to listeners when the session changes.
type AuthChangeEvent string

const (
	EventSignedIn       AuthChangeEvent = "SIGNED_IN"
	EventSignedOut      AuthChangeEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthChangeEvent = "TOKEN_REFRESHED"
)

// AuthStateListener receives auth events. session is nil for EventSignedOut.
type AuthStateListener func(event AuthChangeEvent, session *Session)

// Session is a GoTrue session.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user"`
}

// Expiry returns when the access token expires. It prefers expires_at and
// falls back to the JWT exp claim; the zero time means unknown.
func (s *Session) Expiry() time.Time {
	if s.ExpiresAt > 0 {
		return time.Unix(s.ExpiresAt, 0)
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// Expired reports whether the access token is expired (or about to be) at now.
func (s *Session) Expired(now time.Time) bool {
	exp := s.Expiry()
	if exp.IsZero() {
		return false
	}
	return !now.Add(expiryMargin).Before(exp)
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	return &out
}

// User represents a Supabase auth user.
type User struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	Phone            string         `json:"phone"`
	Role             string         `json:"role"`
	EmailConfirmedAt string         `json:"email_confirmed_at"`
	CreatedAt        string         `json:"created_at"`
	UpdatedAt        string         `json:"updated_at"`
	AppMetadata      map[string]any `json:"app_metadata"`
	UserMetadata     map[string]any `json:"user_metadata"`
}

// =============================================================================
// Auth Operations
// =============================================================================

// AuthClient handles authentication and owns the current session.
type AuthClient struct {
	client  *Client
	storage SessionStorage
	now     func() time.Time

	mu        sync.RWMutex
	session   *Session
	restored  bool
	listeners map[int]AuthStateListener
	nextID    int
}

func newAuthClient(c *Client, storage SessionStorage) *AuthClient {
	return &AuthClient{
		client:    c,
		storage:   storage,
		now:       time.Now,
		listeners: make(map[int]AuthStateListener),
	}
}

// Auth returns the auth client.
func (c *Client) Auth() *AuthClient {
	return c.auth
}

// OnAuthStateChange registers fn for auth events and returns its unsubscribe func.
func (a *AuthClient) OnAuthStateChange(fn AuthStateListener) func() {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

// SignUp creates a new user. metadata is stored as user_metadata. When the
// project does not require email confirmation a session is returned and
// EventSignedIn is emitted.
func (a *AuthClient) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*User, error) {
	reqBody := map[string]any{
		"email":    email,
		"password": password,
	}
	if len(metadata) > 0 {
		reqBody["data"] = metadata
	}

	resp, err := a.post(ctx, a.client.baseURL+"/auth/v1/signup", reqBody)
	if err != nil {
		return nil, err
	}

	var session Session
	if err := resp.JSON(&session); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if session.AccessToken != "" {
		if err := a.setSession(&session, EventSignedIn); err != nil {
			return nil, err
		}
		return session.User, nil
	}

	// Confirmation pending: the body is the bare user.
	var user User
	if err := resp.JSON(&user); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &user, nil
}

// SignInWithPassword signs a user in and emits EventSignedIn.
func (a *AuthClient) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	resp, err := a.post(ctx, a.client.baseURL+"/auth/v1/token?grant_type=password", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}

	var session Session
	if err := resp.JSON(&session); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if err := a.setSession(&session, EventSignedIn); err != nil {
		return nil, err
	}
	return session.clone(), nil
}

// SignOut revokes the session server side, clears it locally and emits
// EventSignedOut. A session the server no longer knows is treated as signed out.
func (a *AuthClient) SignOut(ctx context.Context) error {
	token := a.accessToken()
	if token != "" {
		req, err := a.client.newRequest(ctx, http.MethodPost, a.client.baseURL+"/auth/v1/logout", nil)
		if err != nil {
			return err
		}
		if _, err := a.client.do(req); err != nil && !isSessionGone(err) {
			return err
		}
	}
	return a.clearSession()
}

// GetSession returns the current session, restoring it from storage on first
// use and refreshing it when the access token has expired. It returns nil
// when nobody is signed in.
func (a *AuthClient) GetSession(ctx context.Context) (*Session, error) {
	session, err := a.currentOrRestored()
	if err != nil || session == nil {
		return nil, err
	}
	if session.Expired(a.now()) {
		return a.RefreshSession(ctx)
	}
	return session, nil
}

// RefreshSession exchanges the refresh token for a new session and emits
// EventTokenRefreshed. If the server rejects the refresh token the session is
// cleared and EventSignedOut is emitted.
func (a *AuthClient) RefreshSession(ctx context.Context) (*Session, error) {
	a.mu.RLock()
	current := a.session.clone()
	a.mu.RUnlock()
	if current == nil || current.RefreshToken == "" {
		return nil, ErrNoSession
	}

	resp, err := a.post(ctx, a.client.baseURL+"/auth/v1/token?grant_type=refresh_token", map[string]string{
		"refresh_token": current.RefreshToken,
	})
	if err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
			if clearErr := a.clearSession(); clearErr != nil {
				a.client.log.WithError(clearErr).Warn("clear rejected session")
			}
		}
		return nil, err
	}

	var session Session
	if err := resp.JSON(&session); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if session.User == nil {
		session.User = current.User
	}
	if err := a.setSession(&session, EventTokenRefreshed); err != nil {
		return nil, err
	}
	return session.clone(), nil
}

// GetUser fetches the signed-in user from the server.
func (a *AuthClient) GetUser(ctx context.Context) (*User, error) {
	if a.accessToken() == "" {
		return nil, ErrNoSession
	}

	req, err := a.client.newRequest(ctx, http.MethodGet, a.client.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.do(req)
	if err != nil {
		return nil, err
	}

	var user User
	if err := resp.JSON(&user); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &user, nil
}

// =============================================================================
// Session State
// =============================================================================

func (a *AuthClient) accessToken() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.session == nil {
		return ""
	}
	return a.session.AccessToken
}

func (a *AuthClient) currentOrRestored() (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.restored {
		a.restored = true
		stored, err := a.storage.Load()
		if err != nil {
			return nil, fmt.Errorf("restore session: %w", err)
		}
		if a.session == nil {
			a.session = stored
		}
	}
	return a.session.clone(), nil
}

func (a *AuthClient) setSession(session *Session, event AuthChangeEvent) error {
	if session.ExpiresAt == 0 && session.ExpiresIn > 0 {
		session.ExpiresAt = a.now().Add(time.Duration(session.ExpiresIn) * time.Second).Unix()
	}

	a.mu.Lock()
	a.session = session.clone()
	a.restored = true
	err := a.storage.Save(session)
	a.mu.Unlock()

	if err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	a.emit(event, session.clone())
	return nil
}

func (a *AuthClient) clearSession() error {
	a.mu.Lock()
	a.session = nil
	a.restored = true
	err := a.storage.Remove()
	a.mu.Unlock()

	a.emit(EventSignedOut, nil)
	if err != nil {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

// emit runs listeners outside the lock so they may call back into the client.
func (a *AuthClient) emit(event AuthChangeEvent, session *Session) {
	a.mu.RLock()
	listeners := make([]AuthStateListener, 0, len(a.listeners))
	for _, fn := range a.listeners {
		listeners = append(listeners, fn)
	}
	a.mu.RUnlock()

	for _, fn := range listeners {
		fn(event, session.clone())
	}
}

func (a *AuthClient) post(ctx context.Context, url string, body any) (*Response, error) {
	req, err := a.client.newRequest(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	// Auth endpoints authenticate with the API key, not a user token.
	req.Header.Set("Authorization", "Bearer "+a.client.apiKey)
	return a.client.do(req)
}

func isSessionGone(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}
