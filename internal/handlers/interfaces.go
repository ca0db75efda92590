package handlers

import (
	"context"

	"github.com/quickreach/backend/internal/auth"
	"github.com/quickreach/backend/internal/feed"
	"github.com/quickreach/backend/internal/models"
	"github.com/quickreach/backend/internal/syncer"
)

// AccountService captures the account operations required by the auth handlers.
type AccountService interface {
	Register(ctx context.Context, email, password string) (auth.Identity, error)
	Authenticate(ctx context.Context, email, password string) (auth.Identity, error)
	Resume(ctx context.Context, refreshToken string) (auth.Identity, error)
	SignOut(ctx context.Context, refreshToken string)
	RequestPasswordReset(ctx context.Context, email string) error
}

// RequestService reads, observes and mutates delivery requests on behalf of
// a principal.
type RequestService interface {
	ObserveOwnedRequests(ctx context.Context, ownerID string) (*feed.Feed[[]syncer.RequestView], error)
	ObserveRequest(ctx context.Context, principal, id string) (*feed.Feed[syncer.Detail], error)
	GetRequest(ctx context.Context, principal, id string) (syncer.RequestView, error)
	CreateRequest(ctx context.Context, ownerID string, in syncer.NewRequest) (string, error)
	UpdateRequest(ctx context.Context, principal, id string, patch models.RequestPatch) error
	DeleteRequest(ctx context.Context, principal, id string) error
}

// TokenVerifier resolves bearer tokens for the authenticated routes.
type TokenVerifier interface {
	Verify(accessToken string) (auth.Claims, error)
}
