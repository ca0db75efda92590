package syncer

import (
	"errors"
	"fmt"

	"github.com/quickreach/backend/internal/auth"
	"github.com/quickreach/backend/internal/backend"
)

// ErrSignedOut is returned by Client operations when no user is signed in.
var ErrSignedOut = errors.New("not signed in")

// ValidationError reports a rejected field. Nothing reaches the backend when
// it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AuthErrorKind classifies sign-in and registration failures.
type AuthErrorKind string

const (
	InvalidCredentials AuthErrorKind = "invalid_credentials"
	AlreadyExists      AuthErrorKind = "already_exists"
	WeakCredential     AuthErrorKind = "weak_credential"
	InvalidEmail       AuthErrorKind = "invalid_email"
)

// AuthError is a sign-in or registration failure meant to be shown to the user.
type AuthError struct {
	Kind AuthErrorKind
	err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth: %s", e.Kind)
}

func (e *AuthError) Unwrap() error { return e.err }

// Message is a user-readable description of the failure.
func (e *AuthError) Message() string {
	switch e.Kind {
	case InvalidCredentials:
		return "Incorrect email or password."
	case AlreadyExists:
		return "An account with this email already exists."
	case WeakCredential:
		return fmt.Sprintf("Password must be at least %d characters.", auth.MinPasswordLength)
	case InvalidEmail:
		return "Please enter a valid email address."
	default:
		return "Something went wrong. Please try again."
	}
}

// IsRetryable reports whether err was caused by the backend being unreachable.
func IsRetryable(err error) bool {
	return errors.Is(err, backend.ErrUnavailable)
}

// AuthErrorFrom converts account failures into an *AuthError. Other errors
// are returned unchanged.
func AuthErrorFrom(err error) error {
	var kind AuthErrorKind
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		kind = InvalidCredentials
	case errors.Is(err, auth.ErrAccountExists):
		kind = AlreadyExists
	case errors.Is(err, auth.ErrWeakCredential):
		kind = WeakCredential
	case errors.Is(err, auth.ErrInvalidEmail):
		kind = InvalidEmail
	default:
		return err
	}
	return &AuthError{Kind: kind, err: err}
}
