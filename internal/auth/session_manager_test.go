package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

var testSecret = []byte("test-signing-secret")

func newTestManager(accessTTL, refreshTTL time.Duration) (*Manager, *InMemorySessionStore) {
	store := NewInMemorySessionStore()
	return NewManager(testSecret, accessTTL, refreshTTL, store), store
}

func TestManagerIssueVerifyAndRefresh(t *testing.T) {
	manager, store := newTestManager(time.Minute, time.Hour)

	tokens, err := manager.Issue(context.Background(), "user-1", "rider@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Fatalf("expected non-empty tokens: %+v", tokens)
	}

	claims, err := manager.Verify(tokens.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.Email != "rider@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	userID, err := manager.Refresh(context.Background(), tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("expected user-1, got %q", userID)
	}
	if store.Has(tokens.RefreshToken) {
		t.Fatal("old token should have been consumed")
	}
}

func TestManagerIssueValidation(t *testing.T) {
	manager, _ := newTestManager(time.Minute, time.Hour)
	if _, err := manager.Issue(context.Background(), "", ""); err == nil {
		t.Fatal("expected error for empty user id")
	}
}

func TestManagerVerifyRejectsBadTokens(t *testing.T) {
	manager, _ := newTestManager(time.Minute, time.Hour)
	tokens, err := manager.Issue(context.Background(), "user-1", "rider@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	other := NewManager([]byte("another-secret"), time.Minute, time.Hour, NewInMemorySessionStore())
	if _, err := other.Verify(tokens.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token for foreign signature, got %v", err)
	}

	if _, err := manager.Verify("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token for garbage, got %v", err)
	}
	if _, err := manager.Verify(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token for empty input, got %v", err)
	}

	manager.now = func() time.Time { return time.Now().UTC().Add(2 * time.Minute) }
	if _, err := manager.Verify(tokens.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected expired token, got %v", err)
	}
}

func TestManagerRefreshFailures(t *testing.T) {
	manager, _ := newTestManager(time.Minute, time.Hour)

	if _, err := manager.Refresh(context.Background(), ""); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected session not found got %v", err)
	}

	tokens, err := manager.Issue(context.Background(), "user-1", "rider@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	manager.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	if _, err := manager.Refresh(context.Background(), tokens.RefreshToken); !errors.Is(err, ErrRefreshTokenExpired) {
		t.Fatalf("expected refresh expired got %v", err)
	}

	manager.now = func() time.Time { return time.Now().UTC() }
	tokens, err = manager.Issue(context.Background(), "user-1", "rider@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	manager.Revoke(context.Background(), tokens.RefreshToken)
	if _, err := manager.Refresh(context.Background(), tokens.RefreshToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected session not found after revoke got %v", err)
	}
}
