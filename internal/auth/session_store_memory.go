package auth

import (
	"context"
	"strings"
	"sync"

	"github.com/quickreach/backend/internal/models"
)

// NewInMemorySessionStore returns a SessionStore backed by an in-memory map.
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{sessions: make(map[string]RefreshSession)}
}

// InMemorySessionStore implements SessionStore for tests and the memory backend.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]RefreshSession
}

func (s *InMemorySessionStore) Save(_ context.Context, session RefreshSession) error {
	s.mu.Lock()
	s.sessions[session.RefreshToken] = session
	s.mu.Unlock()
	return nil
}

func (s *InMemorySessionStore) Find(_ context.Context, refreshToken string) (RefreshSession, error) {
	s.mu.RLock()
	session, ok := s.sessions[refreshToken]
	s.mu.RUnlock()
	if !ok {
		return RefreshSession{}, ErrSessionNotFound
	}
	return session, nil
}

func (s *InMemorySessionStore) Delete(_ context.Context, refreshToken string) error {
	s.mu.Lock()
	delete(s.sessions, refreshToken)
	s.mu.Unlock()
	return nil
}

// Has reports whether a refresh token exists. Useful for tests.
func (s *InMemorySessionStore) Has(refreshToken string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[refreshToken]
	return ok
}

// NewInMemoryUserStore returns a UserStore backed by in-memory maps.
func NewInMemoryUserStore() *InMemoryUserStore {
	return &InMemoryUserStore{
		byID:    make(map[string]models.User),
		byEmail: make(map[string]string),
	}
}

// InMemoryUserStore implements UserStore for tests and the memory backend.
type InMemoryUserStore struct {
	mu      sync.RWMutex
	byID    map[string]models.User
	byEmail map[string]string
}

func (s *InMemoryUserStore) Create(_ context.Context, user models.User) error {
	email := strings.ToLower(user.Email)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[email]; exists {
		return ErrAccountExists
	}
	if _, exists := s.byID[user.ID]; exists {
		return ErrAccountExists
	}
	s.byID[user.ID] = user
	s.byEmail[email] = user.ID
	return nil
}

func (s *InMemoryUserStore) FindByEmail(_ context.Context, email string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return s.byID[id], nil
}

func (s *InMemoryUserStore) FindByID(_ context.Context, id string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.byID[id]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return user, nil
}

var (
	_ SessionStore = (*InMemorySessionStore)(nil)
	_ UserStore    = (*InMemoryUserStore)(nil)
)
