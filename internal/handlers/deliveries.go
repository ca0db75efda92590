package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/quickreach/backend/internal/auth"
	"github.com/quickreach/backend/internal/backend"
	"github.com/quickreach/backend/internal/logging"
	"github.com/quickreach/backend/internal/models"
	"github.com/quickreach/backend/internal/syncer"
)

// DefaultSnapshotTimeout bounds how long a plain GET waits for the first
// list snapshot before reporting the backend as unavailable.
const DefaultSnapshotTimeout = 5 * time.Second

// DeliveryHandler implements the request/response delivery endpoints.
type DeliveryHandler struct {
	Requests        RequestService
	SnapshotTimeout time.Duration
}

// List handles GET /api/v1/deliveries.
func (h DeliveryHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}

	timeout := h.SnapshotTimeout
	if timeout <= 0 {
		timeout = DefaultSnapshotTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	list, err := h.Requests.ObserveOwnedRequests(waitCtx, auth.UserIDFromContext(ctx))
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	defer list.Close()

	views, err := list.Next(waitCtx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logging.FromContext(ctx).Warn("no list snapshot before deadline", "error", err)
		respondError(ctx, w, backend.ErrUnavailable)
		return
	}

	if views == nil {
		views = []syncer.RequestView{}
	}
	respondJSON(ctx, w, http.StatusOK, listResponse{Requests: views})
}

// Create handles POST /api/v1/deliveries.
func (h DeliveryHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}

	var req syncer.NewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logging.FromContext(ctx).Warn("invalid create payload", "error", err)
		respondMessage(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := h.Requests.CreateRequest(ctx, auth.UserIDFromContext(ctx), req)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/deliveries/"+id)
	respondJSON(ctx, w, http.StatusCreated, map[string]string{"id": id})
}

// Get handles GET /api/v1/deliveries/{id}.
func (h DeliveryHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}

	view, err := h.Requests.GetRequest(ctx, auth.UserIDFromContext(ctx), r.PathValue("id"))
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, view)
}

// Update handles PATCH /api/v1/deliveries/{id}. Only the fields present in
// the body are changed.
func (h DeliveryHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}

	var req patchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logging.FromContext(ctx).Warn("invalid update payload", "error", err)
		respondMessage(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	patch, err := req.toPatch()
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	principal := auth.UserIDFromContext(ctx)
	id := r.PathValue("id")
	if err := h.Requests.UpdateRequest(ctx, principal, id, patch); err != nil {
		respondError(ctx, w, err)
		return
	}

	view, err := h.Requests.GetRequest(ctx, principal, id)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, view)
}

// Delete handles DELETE /api/v1/deliveries/{id}.
func (h DeliveryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}

	if err := h.Requests.DeleteRequest(ctx, auth.UserIDFromContext(ctx), r.PathValue("id")); err != nil {
		respondError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h DeliveryHandler) ready(ctx context.Context, w http.ResponseWriter) bool {
	if h.Requests == nil {
		logging.FromContext(ctx).Error("request service unavailable")
		respondMessage(ctx, w, http.StatusInternalServerError, "delivery services unavailable")
		return false
	}
	return true
}

type listResponse struct {
	Requests []syncer.RequestView `json:"requests"`
}

type patchRequest struct {
	ItemName        *string  `json:"itemName"`
	Category        *string  `json:"category"`
	PickupLocation  *string  `json:"pickupLocation"`
	DropoffLocation *string  `json:"dropoffLocation"`
	Instructions    *string  `json:"instructions"`
	Price           *float64 `json:"price"`
	Priority        *int     `json:"priority"`
	Status          *string  `json:"status"`
}

func (p patchRequest) toPatch() (models.RequestPatch, error) {
	patch := models.RequestPatch{
		ItemName:        p.ItemName,
		Category:        p.Category,
		PickupLocation:  p.PickupLocation,
		DropoffLocation: p.DropoffLocation,
		Instructions:    p.Instructions,
		Price:           p.Price,
		Priority:        p.Priority,
	}
	if p.Status != nil {
		status, err := models.ParseStatus(*p.Status)
		if err != nil {
			return patch, &syncer.ValidationError{Field: "status", Reason: err.Error()}
		}
		patch.Status = &status
	}
	return patch, nil
}
