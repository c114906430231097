// Package memory is an in-process auth provider for the offline demo mode.
// It mirrors the Supabase auth client's behaviour, including its events and
// error messages, and signs HS256 access tokens with a per-process key.
package memory

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/snapshare/client/pkg/logger"
	"github.com/snapshare/client/supabase/client"
)

const defaultTokenTTL = time.Hour

type account struct {
	user         client.User
	passwordHash []byte
}

// Auth keeps accounts and the current session in memory.
type Auth struct {
	log  *logger.Logger
	key  []byte
	ttl  time.Duration
	cost int
	now  func() time.Time

	mu        sync.RWMutex
	accounts  map[string]*account // by email
	session   *client.Session
	listeners map[int]client.AuthStateListener
	nextID    int
}

// New creates an empty provider.
func New(log *logger.Logger) *Auth {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		// crypto/rand does not fail on supported platforms.
		panic(fmt.Sprintf("generate signing key: %v", err))
	}
	return &Auth{
		log:       log,
		key:       key,
		ttl:       defaultTokenTTL,
		cost:      bcrypt.DefaultCost,
		now:       time.Now,
		accounts:  make(map[string]*account),
		listeners: make(map[int]client.AuthStateListener),
	}
}

// AddAccount registers an account without signing it in and returns its user id.
func (a *Auth) AddAccount(email, password string, metadata map[string]any) (string, error) {
	hash, err := a.hash(password)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	u, err := a.addLocked(email, hash, metadata)
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

// OnAuthStateChange registers fn and returns its unsubscribe func.
func (a *Auth) OnAuthStateChange(fn client.AuthStateListener) func() {
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

// SignUp creates an account and signs it in.
func (a *Auth) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*client.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash, err := a.hash(password)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	u, err := a.addLocked(email, hash, metadata)
	if err != nil {
		a.mu.Unlock()
		return nil, err
	}
	session, err := a.issueLocked(*u)
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}

	a.log.WithField("user_id", u.ID).Info("account created")
	a.emit(client.EventSignedIn, session)
	out := *u
	return &out, nil
}

// SignInWithPassword checks credentials and starts a session.
func (a *Auth) SignInWithPassword(ctx context.Context, email, password string) (*client.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	acc, ok := a.accounts[email]
	a.mu.RUnlock()
	if !ok || bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(password)) != nil {
		return nil, &client.Error{
			Code:       "invalid_credentials",
			Message:    "Invalid login credentials",
			StatusCode: http.StatusBadRequest,
		}
	}

	a.mu.Lock()
	session, err := a.issueLocked(acc.user)
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}

	a.emit(client.EventSignedIn, session)
	return cloneSession(session), nil
}

// SignOut ends the session and emits EventSignedOut.
func (a *Auth) SignOut(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	a.session = nil
	a.mu.Unlock()

	a.emit(client.EventSignedOut, nil)
	return nil
}

// GetSession returns the current session, re-issuing the token once it has
// expired. It returns nil when nobody is signed in.
func (a *Auth) GetSession(ctx context.Context) (*client.Session, error) {
	a.mu.Lock()
	current := cloneSession(a.session)
	if current == nil {
		a.mu.Unlock()
		return nil, nil
	}
	if !current.Expired(a.now()) {
		a.mu.Unlock()
		return current, nil
	}
	refreshed, err := a.issueLocked(*current.User)
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}

	a.emit(client.EventTokenRefreshed, refreshed)
	return cloneSession(refreshed), nil
}

// GetUser returns the user the current access token was issued to.
func (a *Auth) GetUser(ctx context.Context) (*client.User, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.session == nil {
		return nil, client.ErrNoSession
	}
	sub, err := a.verifyToken(a.session.AccessToken)
	if err != nil {
		return nil, &client.Error{
			Code:       "bad_jwt",
			Message:    err.Error(),
			StatusCode: http.StatusUnauthorized,
		}
	}
	for _, acc := range a.accounts {
		if acc.user.ID == sub {
			u := acc.user
			return &u, nil
		}
	}
	return nil, client.ErrNoSession
}

// verifyToken checks an access token issued by this provider and returns its subject.
func (a *Auth) verifyToken(token string) (string, error) {
	claims := jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return a.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}
	return claims.Subject, nil
}

func (a *Auth) hash(password string) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

func (a *Auth) addLocked(email string, passwordHash []byte, metadata map[string]any) (*client.User, error) {
	if _, exists := a.accounts[email]; exists {
		return nil, &client.Error{
			Code:       "user_already_exists",
			Message:    "User already registered",
			StatusCode: http.StatusUnprocessableEntity,
		}
	}

	meta := make(map[string]any, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	now := a.now().UTC().Format(time.RFC3339)
	acc := &account{
		user: client.User{
			ID:           uuid.NewString(),
			Email:        email,
			Role:         "authenticated",
			CreatedAt:    now,
			UpdatedAt:    now,
			AppMetadata:  map[string]any{"provider": "email"},
			UserMetadata: meta,
		},
		passwordHash: passwordHash,
	}
	a.accounts[email] = acc
	return &acc.user, nil
}

func (a *Auth) issueLocked(u client.User) (*client.Session, error) {
	now := a.now()
	exp := now.Add(a.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   u.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	})
	signed, err := token.SignedString(a.key)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	user := u
	a.session = &client.Session{
		AccessToken:  signed,
		TokenType:    "bearer",
		ExpiresIn:    int(a.ttl.Seconds()),
		ExpiresAt:    exp.Unix(),
		RefreshToken: uuid.NewString(),
		User:         &user,
	}
	return cloneSession(a.session), nil
}

func (a *Auth) emit(event client.AuthChangeEvent, session *client.Session) {
	a.mu.RLock()
	listeners := make([]client.AuthStateListener, 0, len(a.listeners))
	for _, fn := range a.listeners {
		listeners = append(listeners, fn)
	}
	a.mu.RUnlock()

	for _, fn := range listeners {
		fn(event, cloneSession(session))
	}
}

func cloneSession(s *client.Session) *client.Session {
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
