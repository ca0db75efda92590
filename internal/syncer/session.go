package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/quickreach/backend/internal/auth"
	"github.com/quickreach/backend/internal/feed"
	"github.com/quickreach/backend/internal/logging"
	"github.com/quickreach/backend/internal/models"
)

// Authenticator is the account side of the backend.
type Authenticator interface {
	Register(ctx context.Context, email, password string) (auth.Identity, error)
	Authenticate(ctx context.Context, email, password string) (auth.Identity, error)
	Resume(ctx context.Context, refreshToken string) (auth.Identity, error)
	SignOut(ctx context.Context, refreshToken string)
}

// SessionState is the signed-in identity. The zero value means signed out.
type SessionState struct {
	UserID string `json:"userId,omitempty"`
	Email  string `json:"email,omitempty"`
}

// SignedIn reports whether the state carries a user.
func (s SessionState) SignedIn() bool {
	return s.UserID != ""
}

// Session is the authentication gate for one consumer. It starts unresolved:
// observers see nothing until SignIn, Register, Restore or Resolve settles
// the state, and every change after that.
type Session struct {
	auth Authenticator

	mu        sync.Mutex
	resolved  bool
	state     SessionState
	tokens    models.SessionTokens
	observers map[*feed.Feed[SessionState]]struct{}
}

// NewSession returns an unresolved session backed by a.
func NewSession(a Authenticator) *Session {
	return &Session{
		auth:      a,
		observers: make(map[*feed.Feed[SessionState]]struct{}),
	}
}

// NewAuthenticatedSession returns a session already resolved to state, for
// callers whose identity was established elsewhere (a verified bearer token).
// It cannot sign in again.
func NewAuthenticatedSession(state SessionState) *Session {
	s := NewSession(nil)
	s.resolved = true
	s.state = state
	return s
}

// Observe streams the session state. The current state is emitted right away
// if it has been resolved.
func (s *Session) Observe(ctx context.Context) *feed.Feed[SessionState] {
	var f *feed.Feed[SessionState]
	f = feed.New[SessionState](func() {
		s.mu.Lock()
		delete(s.observers, f)
		s.mu.Unlock()
	})

	s.mu.Lock()
	s.observers[f] = struct{}{}
	if s.resolved {
		f.Publish(s.state)
	}
	s.mu.Unlock()

	return f.Bind(ctx)
}

// Current returns the state and whether it has been resolved yet.
func (s *Session) Current() (SessionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.resolved
}

// Tokens returns the credentials of the signed-in user, if any.
func (s *Session) Tokens() models.SessionTokens {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens
}

// Resolve settles an unresolved session as signed out. It is a no-op otherwise.
func (s *Session) Resolve() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.resolved {
		s.setLocked(SessionState{}, models.SessionTokens{})
	}
}

// SignIn authenticates with email and password. Credential problems are
// returned as *AuthError and leave the current state in place.
func (s *Session) SignIn(ctx context.Context, email, password string) error {
	if s.auth == nil {
		return errors.New("session: sign in not supported")
	}
	identity, err := s.auth.Authenticate(ctx, email, password)
	if err != nil {
		s.Resolve()
		return AuthErrorFrom(err)
	}
	s.apply(identity)
	return nil
}

// Register creates an account and signs it in.
func (s *Session) Register(ctx context.Context, email, password string) error {
	if s.auth == nil {
		return errors.New("session: registration not supported")
	}
	identity, err := s.auth.Register(ctx, email, password)
	if err != nil {
		s.Resolve()
		return AuthErrorFrom(err)
	}
	s.apply(identity)
	return nil
}

// Restore resumes a persisted session from its refresh token. Any failure,
// the backend being unreachable included, leaves the session signed out.
func (s *Session) Restore(ctx context.Context, refreshToken string) error {
	if s.auth == nil || refreshToken == "" {
		s.signedOut()
		return nil
	}
	identity, err := s.auth.Resume(ctx, refreshToken)
	if err != nil {
		s.signedOut()
		logging.FromContext(ctx).Info("session restore failed", slog.Any("error", err))
		return fmt.Errorf("restore session: %w", err)
	}
	s.apply(identity)
	return nil
}

// SignOut clears the session. Revoking the refresh token is best effort.
func (s *Session) SignOut(ctx context.Context) {
	refresh := s.Tokens().RefreshToken
	s.signedOut()
	if s.auth != nil && refresh != "" {
		s.auth.SignOut(ctx, refresh)
	}
}

func (s *Session) apply(identity auth.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(SessionState{UserID: identity.UserID, Email: identity.Email}, identity.Tokens)
}

func (s *Session) signedOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(SessionState{}, models.SessionTokens{})
}

func (s *Session) setLocked(state SessionState, tokens models.SessionTokens) {
	changed := !s.resolved || s.state != state
	s.resolved = true
	s.state = state
	s.tokens = tokens
	if !changed {
		return
	}
	for f := range s.observers {
		f.Publish(state)
	}
}
