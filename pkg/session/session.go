// Package session keeps the login state: the access token persisted under
// the authToken key and the user read from its claims.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"finance-client/pkg/finance"
	"finance-client/pkg/localstore"
	"finance-client/pkg/logging"
)

// TokenKey is the local storage key of the access token.
const TokenKey = "authToken"

var (
	ErrNotAuthenticated = errors.New("session: not authenticated")
	ErrOpaqueToken      = errors.New("session: token is not a JWT")
)

// KV is the persistent key/value storage the token lives in.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Authenticator exchanges credentials for a token.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*finance.Token, error)
}

// User is what the client knows about the logged-in user. Claims are read
// without verifying the signature; they are for display only.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type Session struct {
	kv     KV
	logger *logging.Logger

	mu     sync.Mutex
	token  string
	loaded bool
}

func New(kv KV, logger *logging.Logger) *Session {
	return &Session{
		kv:     kv,
		logger: logging.OrGlobal(logger, logging.ComponentSession),
	}
}

// load reads the token once. s.mu must be held.
func (s *Session) load(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	token, err := s.kv.Get(ctx, TokenKey)
	switch {
	case errors.Is(err, localstore.ErrNotFound):
		token = ""
	case err != nil:
		return fmt.Errorf("session: reading token: %w", err)
	}
	s.token = token
	s.loaded = true
	return nil
}

// Token returns the stored access token, or "" when logged out. It
// satisfies httpclient.TokenSource.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(ctx); err != nil {
		return "", err
	}
	return s.token, nil
}

// IsAuthenticated reports whether a token is stored.
func (s *Session) IsAuthenticated(ctx context.Context) bool {
	token, err := s.Token(ctx)
	return err == nil && token != ""
}

// Login authenticates with auth and persists the token.
func (s *Session) Login(ctx context.Context, auth Authenticator, email, password string) (*User, error) {
	tok, err := auth.Login(ctx, email, password)
	if err != nil {
		s.logger.Warn("login failed", zap.String("email", email), zap.Error(err))
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Set(ctx, TokenKey, tok.AccessToken); err != nil {
		return nil, fmt.Errorf("session: storing token: %w", err)
	}
	s.token = tok.AccessToken
	s.loaded = true

	user, err := ParseUser(tok.AccessToken)
	if err != nil {
		// Opaque tokens still authenticate requests.
		s.logger.Debug("token claims unavailable", zap.Error(err))
		user = User{Email: email}
	}
	if user.Email == "" {
		user.Email = email
	}
	s.logger.Info("logged in", zap.String("email", user.Email))
	return &user, nil
}

// Logout forgets the token.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Delete(ctx, TokenKey); err != nil {
		return fmt.Errorf("session: removing token: %w", err)
	}
	s.token = ""
	s.loaded = true
	return nil
}

// User returns the logged-in user from the token claims.
func (s *Session) User(ctx context.Context) (*User, error) {
	token, err := s.Token(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrNotAuthenticated
	}
	user, err := ParseUser(token)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ParseUser reads sub, email and name from a JWT without verifying it.
func ParseUser(token string) (User, error) {
	if strings.Count(token, ".") != 2 {
		return User{}, ErrOpaqueToken
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrOpaqueToken, err)
	}

	var u User
	if sub, err := claims.GetSubject(); err == nil {
		u.ID = sub
	}
	u.Email, _ = claims["email"].(string)
	u.Name, _ = claims["name"].(string)
	if u.Email == "" && strings.Contains(u.ID, "@") {
		u.Email = u.ID
	}
	return u, nil
}
