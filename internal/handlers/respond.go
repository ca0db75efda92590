package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/quickreach/backend/internal/auth"
	"github.com/quickreach/backend/internal/backend"
	"github.com/quickreach/backend/internal/logging"
	"github.com/quickreach/backend/internal/syncer"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error("encode response body", "status", status, "error", err)
		return
	}

	logger := logging.FromContext(ctx)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "status", status, "response", payload)
	case status >= http.StatusBadRequest:
		logger.Warn("request returned client error", "status", status, "response", payload)
	}
}

func respondMessage(ctx context.Context, w http.ResponseWriter, status int, msg string) {
	respondJSON(ctx, w, status, errorResponse{Error: msg})
}

// respondError translates domain failures into HTTP responses.
func respondError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		verr *syncer.ValidationError
		aerr *syncer.AuthError
	)

	switch {
	case errors.As(err, &verr):
		respondJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: verr.Error(), Field: verr.Field})
	case errors.As(err, &aerr):
		respondJSON(ctx, w, authStatus(aerr.Kind), errorResponse{Error: aerr.Message(), Code: string(aerr.Kind)})
	case errors.Is(err, syncer.ErrSignedOut):
		respondMessage(ctx, w, http.StatusUnauthorized, "sign in required")
	case errors.Is(err, auth.ErrSessionNotFound), errors.Is(err, auth.ErrRefreshTokenExpired):
		respondMessage(ctx, w, http.StatusUnauthorized, "session expired, sign in again")
	case errors.Is(err, backend.ErrNotFound):
		respondMessage(ctx, w, http.StatusNotFound, "delivery request not found")
	case errors.Is(err, backend.ErrPermissionDenied):
		respondMessage(ctx, w, http.StatusForbidden, "not allowed to modify this delivery request")
	case syncer.IsRetryable(err):
		respondJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{Error: "backend unavailable", Retryable: true})
	default:
		logging.FromContext(ctx).Error("unhandled error", "error", err)
		respondMessage(ctx, w, http.StatusInternalServerError, "internal error")
	}
}

func authStatus(kind syncer.AuthErrorKind) int {
	switch kind {
	case syncer.InvalidCredentials:
		return http.StatusUnauthorized
	case syncer.AlreadyExists:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}
