// Package backend is the document store behind the sync layer: delivery
// request reads and writes, plus live subscriptions that push a full fresh
// snapshot after every change.
//
// Documents are visible only to their owner. That rule is enforced here and
// nowhere else: reads by anyone else behave as if the document did not exist
// and writes by anyone else fail with ErrPermissionDenied.
package backend

import (
	"context"
	"errors"

	"github.com/quickreach/backend/internal/feed"
	"github.com/quickreach/backend/internal/models"
)

var (
	// ErrNotFound indicates the document does not exist or is not visible to the caller.
	ErrNotFound = errors.New("document not found")
	// ErrPermissionDenied indicates a write to a document owned by someone else.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUnavailable indicates the store could not be reached. Callers may retry.
	ErrUnavailable = errors.New("backend unavailable")
)

// Snapshot is one emission of a document subscription.
type Snapshot struct {
	Request models.DeliveryRequest
	Exists  bool
}

// Store is the contract the sync layer consumes.
//
// Subscriptions emit an initial snapshot as soon as the store can produce
// one, then a fresh snapshot after every change affecting them. They survive
// transport loss and emit again once the store is reachable. Closing the
// returned feed, or cancelling ctx, unregisters the subscription.
type Store interface {
	// SubscribeOwned streams every request whose owner is ownerID, newest first.
	SubscribeOwned(ctx context.Context, ownerID string) (*feed.Feed[[]models.DeliveryRequest], error)
	// SubscribeRequest streams a single request as seen by principal.
	SubscribeRequest(ctx context.Context, principal, id string) (*feed.Feed[Snapshot], error)
	Get(ctx context.Context, principal, id string) (models.DeliveryRequest, error)
	// Create assigns ID, CreatedAt and UpdatedAt and stores req as given.
	Create(ctx context.Context, req models.DeliveryRequest) (models.DeliveryRequest, error)
	// Update applies a partial update. Fields not set in patch are untouched.
	Update(ctx context.Context, principal, id string, patch models.RequestPatch) error
	// Delete removes the request and returns it as it was.
	Delete(ctx context.Context, principal, id string) (models.DeliveryRequest, error)
}

func visibleTo(req models.DeliveryRequest, principal string) bool {
	return principal != "" && req.OwnerID == principal
}

func snapshotFor(req models.DeliveryRequest, found bool, principal string) Snapshot {
	if !found || !visibleTo(req, principal) {
		return Snapshot{}
	}
	return Snapshot{Request: req, Exists: true}
}
