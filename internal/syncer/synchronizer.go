package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/quickreach/backend/internal/backend"
	"github.com/quickreach/backend/internal/feed"
	"github.com/quickreach/backend/internal/logging"
	"github.com/quickreach/backend/internal/models"
)

// Archiver receives requests removed by DeleteRequest.
type Archiver interface {
	Enqueue(ctx context.Context, req models.DeliveryRequest) error
}

// NewRequest holds the caller-supplied fields of a request being created.
type NewRequest struct {
	ItemName        string  `json:"itemName"`
	Category        string  `json:"category"`
	PickupLocation  string  `json:"pickupLocation"`
	DropoffLocation string  `json:"dropoffLocation"`
	Instructions    string  `json:"instructions"`
	Price           float64 `json:"price"`
	Priority        int     `json:"priority"`
}

// Synchronizer keeps list and detail views in step with the backend and
// issues mutations against it. It holds no per-user state; every call names
// the principal it acts for.
type Synchronizer struct {
	store    backend.Store
	archiver Archiver
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithArchiver archives every request removed through DeleteRequest.
func WithArchiver(a Archiver) Option {
	return func(s *Synchronizer) { s.archiver = a }
}

// NewSynchronizer returns a Synchronizer over store.
func NewSynchronizer(store backend.Store, opts ...Option) *Synchronizer {
	s := &Synchronizer{store: store}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ObserveOwnedRequests streams the full list of ownerID's requests, newest
// first with ties broken by id. Every emission replaces the previous one.
// The feed ends when closed or when ctx is done; nothing is delivered after.
func (s *Synchronizer) ObserveOwnedRequests(ctx context.Context, ownerID string) (*feed.Feed[[]RequestView], error) {
	if ownerID == "" {
		return nil, ErrSignedOut
	}

	src, err := s.store.SubscribeOwned(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("subscribe to requests of %s: %w", ownerID, err)
	}
	return feed.Pipe(src, listViews).Bind(ctx), nil
}

// ObserveRequest streams a single request as seen by principal. A missing,
// deleted or foreign request is reported as Detail.NotFound.
func (s *Synchronizer) ObserveRequest(ctx context.Context, principal, id string) (*feed.Feed[Detail], error) {
	if principal == "" {
		return nil, ErrSignedOut
	}

	src, err := s.store.SubscribeRequest(ctx, principal, id)
	if err != nil {
		return nil, fmt.Errorf("subscribe to request %s: %w", id, err)
	}
	return feed.Pipe(src, detailFrom).Bind(ctx), nil
}

// GetRequest reads a request once. Missing or foreign requests report
// backend.ErrNotFound.
func (s *Synchronizer) GetRequest(ctx context.Context, principal, id string) (RequestView, error) {
	req, err := s.store.Get(ctx, principal, id)
	if err != nil {
		return RequestView{}, fmt.Errorf("get request %s: %w", id, err)
	}
	return NewRequestView(req), nil
}

// CreateRequest validates in and stores it as a Pending request owned by
// ownerID. It returns the id assigned by the backend.
func (s *Synchronizer) CreateRequest(ctx context.Context, ownerID string, in NewRequest) (id string, err error) {
	ctx, span := logging.StartSpan(ctx, "syncer.CreateRequest")
	defer func() {
		span.Fail(err)
		span.End()
	}()

	if ownerID == "" {
		return "", ErrSignedOut
	}

	req := models.DeliveryRequest{
		ItemName:        strings.TrimSpace(in.ItemName),
		Category:        strings.TrimSpace(in.Category),
		PickupLocation:  strings.TrimSpace(in.PickupLocation),
		DropoffLocation: strings.TrimSpace(in.DropoffLocation),
		Instructions:    strings.TrimSpace(in.Instructions),
		Price:           in.Price,
		Priority:        in.Priority,
		Status:          models.StatusPending,
		OwnerID:         ownerID,
	}
	if err := validateRequest(req); err != nil {
		return "", err
	}

	created, err := s.store.Create(ctx, req)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	logging.FromContext(ctx).Info("delivery request created",
		slog.String("request_id", created.ID),
		slog.String("owner_id", ownerID),
	)
	return created.ID, nil
}

// UpdateRequest applies patch to request id. Only the supplied fields are
// validated and written. An empty patch succeeds without contacting the
// backend.
//
// Ownership is not checked here. The backend access policy is the single
// enforcement point and reports backend.ErrPermissionDenied for non-owners.
func (s *Synchronizer) UpdateRequest(ctx context.Context, principal, id string, patch models.RequestPatch) (err error) {
	ctx, span := logging.StartSpan(ctx, "syncer.UpdateRequest")
	defer func() {
		span.Fail(err)
		span.End()
	}()

	patch, err = normalizePatch(patch)
	if err != nil {
		return err
	}
	if patch.Empty() {
		return nil
	}

	if err := s.store.Update(ctx, principal, id, patch); err != nil {
		return fmt.Errorf("update request %s: %w", id, err)
	}
	return nil
}

// DeleteRequest removes request id. Deleting a request that no longer exists
// succeeds. Removed requests are handed to the archiver when one is set.
func (s *Synchronizer) DeleteRequest(ctx context.Context, principal, id string) (err error) {
	ctx, span := logging.StartSpan(ctx, "syncer.DeleteRequest")
	defer func() {
		span.Fail(err)
		span.End()
	}()

	removed, err := s.store.Delete(ctx, principal, id)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("delete request %s: %w", id, err)
	}

	if s.archiver != nil {
		if err := s.archiver.Enqueue(ctx, removed); err != nil {
			logging.FromContext(ctx).Warn("archive deleted request",
				slog.String("request_id", id),
				slog.Any("error", err),
			)
		}
	}
	return nil
}

func validateRequest(req models.DeliveryRequest) error {
	if req.ItemName == "" {
		return &ValidationError{Field: "itemName", Reason: "must not be empty"}
	}
	if req.DropoffLocation == "" {
		return &ValidationError{Field: "dropoffLocation", Reason: "must not be empty"}
	}
	if err := validatePrice(req.Price); err != nil {
		return err
	}
	if req.Priority < models.MinPriority || req.Priority > models.MaxPriority {
		return &ValidationError{Field: "priority", Reason: fmt.Sprintf("must be between %d and %d", models.MinPriority, models.MaxPriority)}
	}
	return nil
}

func normalizePatch(p models.RequestPatch) (models.RequestPatch, error) {
	trim := func(v *string) *string {
		if v == nil {
			return nil
		}
		t := strings.TrimSpace(*v)
		return &t
	}
	p.ItemName = trim(p.ItemName)
	p.Category = trim(p.Category)
	p.PickupLocation = trim(p.PickupLocation)
	p.DropoffLocation = trim(p.DropoffLocation)
	p.Instructions = trim(p.Instructions)

	if p.ItemName != nil && *p.ItemName == "" {
		return p, &ValidationError{Field: "itemName", Reason: "must not be empty"}
	}
	if p.DropoffLocation != nil && *p.DropoffLocation == "" {
		return p, &ValidationError{Field: "dropoffLocation", Reason: "must not be empty"}
	}
	if p.Price != nil {
		if err := validatePrice(*p.Price); err != nil {
			return p, err
		}
	}
	if p.Priority != nil && (*p.Priority < models.MinPriority || *p.Priority > models.MaxPriority) {
		return p, &ValidationError{Field: "priority", Reason: fmt.Sprintf("must be between %d and %d", models.MinPriority, models.MaxPriority)}
	}
	if p.Status != nil && !p.Status.Valid() {
		return p, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", *p.Status)}
	}
	return p, nil
}

// validatePrice rejects negative prices and values JSON cannot encode.
func validatePrice(price float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return &ValidationError{Field: "price", Reason: "must be a finite number"}
	}
	if price < 0 {
		return &ValidationError{Field: "price", Reason: "must not be negative"}
	}
	return nil
}
