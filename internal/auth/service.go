package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/quickreach/backend/internal/models"
)

// MinPasswordLength is the shortest password accepted at registration.
const MinPasswordLength = 6

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountExists      = errors.New("account already exists")
	ErrWeakCredential     = errors.New("password too weak")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrUserNotFound       = errors.New("user not found")
)

// UserStore is the account persistence the Service needs. Implementations
// report ErrUserNotFound and ErrAccountExists (possibly wrapped).
type UserStore interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindByID(ctx context.Context, id string) (models.User, error)
}

// Identity is an authenticated user together with the tokens proving it.
type Identity struct {
	UserID string
	Email  string
	Tokens models.SessionTokens
}

// Service implements account registration and sign-in on top of a UserStore
// and a token Manager.
type Service struct {
	users  UserStore
	tokens *Manager
	now    func() time.Time
	cost   int
}

// NewService wires a Service.
func NewService(users UserStore, tokens *Manager) *Service {
	return &Service{
		users:  users,
		tokens: tokens,
		now:    func() time.Time { return time.Now().UTC() },
		cost:   bcrypt.DefaultCost,
	}
}

// Register creates an account and signs it in.
func (s *Service) Register(ctx context.Context, email, password string) (Identity, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Identity{}, err
	}
	if len(password) < MinPasswordLength {
		return Identity{}, ErrWeakCredential
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return Identity{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	user := models.User{
		ID:        uuid.NewString(),
		Email:     email,
		Password:  string(hash),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrAccountExists) {
			return Identity{}, ErrAccountExists
		}
		return Identity{}, fmt.Errorf("create user: %w", err)
	}

	return s.issue(ctx, user)
}

// Authenticate verifies credentials and signs the user in. Unknown emails and
// wrong passwords are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return Identity{}, ErrInvalidCredentials
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Identity{}, ErrInvalidCredentials
		}
		return Identity{}, fmt.Errorf("find user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return Identity{}, ErrInvalidCredentials
	}

	return s.issue(ctx, user)
}

// Resume exchanges a refresh token for a fresh identity.
func (s *Service) Resume(ctx context.Context, refreshToken string) (Identity, error) {
	userID, err := s.tokens.Refresh(ctx, refreshToken)
	if err != nil {
		return Identity{}, err
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Identity{}, ErrSessionNotFound
		}
		return Identity{}, fmt.Errorf("find user: %w", err)
	}

	return s.issue(ctx, user)
}

// SignOut revokes the refresh token. Unknown tokens are ignored.
func (s *Service) SignOut(ctx context.Context, refreshToken string) {
	s.tokens.Revoke(ctx, refreshToken)
}

// RequestPasswordReset accepts a reset request for email. Whether an account
// exists is never revealed; only malformed addresses and lookup failures are
// reported.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	if _, err := s.users.FindByEmail(ctx, email); err != nil && !errors.Is(err, ErrUserNotFound) {
		return fmt.Errorf("find user: %w", err)
	}
	return nil
}

// Verify resolves an access token to the identity it was issued for.
func (s *Service) Verify(accessToken string) (Claims, error) {
	return s.tokens.Verify(accessToken)
}

func (s *Service) issue(ctx context.Context, user models.User) (Identity, error) {
	tokens, err := s.tokens.Issue(ctx, user.ID, user.Email)
	if err != nil {
		return Identity{}, fmt.Errorf("issue tokens: %w", err)
	}
	return Identity{UserID: user.ID, Email: user.Email, Tokens: tokens}, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}
