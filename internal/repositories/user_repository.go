package repositories

import (
	"context"
	"time"

	"github.com/quickreach/backend/internal/models"
)

// UserRepository defines the data access contract for users.
type UserRepository interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindByID(ctx context.Context, id string) (models.User, error)
	Update(ctx context.Context, user models.User) error
}

// DeliveryRequestRepository defines the data access contract for delivery requests.
// Ownership is not checked here; callers enforce the access policy.
type DeliveryRequestRepository interface {
	Create(ctx context.Context, req models.DeliveryRequest) error
	FindByID(ctx context.Context, id string) (models.DeliveryRequest, error)
	ListByOwner(ctx context.Context, ownerID string) ([]models.DeliveryRequest, error)
	Update(ctx context.Context, id string, patch models.RequestPatch, updatedAt time.Time) (models.DeliveryRequest, error)
	Delete(ctx context.Context, id string) (models.DeliveryRequest, error)
}
