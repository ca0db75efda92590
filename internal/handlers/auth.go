package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/quickreach/backend/internal/auth"
	"github.com/quickreach/backend/internal/logging"
	"github.com/quickreach/backend/internal/models"
	"github.com/quickreach/backend/internal/syncer"
)

// AuthHandler implements account endpoints.
type AuthHandler struct {
	Accounts AccountService
}

// SignUp handles POST /api/v1/auth/signup requests.
func (h AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Accounts == nil {
		logger.Error("account service unavailable")
		respondMessage(ctx, w, http.StatusInternalServerError, "authentication services unavailable")
		return
	}

	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.Warn("invalid signup payload", "error", err)
		respondMessage(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	identity, err := h.Accounts.Register(ctx, req.Email, req.Password)
	if err != nil {
		logger.Warn("signup failed", "email", strings.TrimSpace(req.Email), "error", err)
		respondError(ctx, w, syncer.AuthErrorFrom(err))
		return
	}

	logger.Info("account created", "userId", identity.UserID)
	respondJSON(ctx, w, http.StatusCreated, newAuthResponse(identity))
}

// Login handles POST /api/v1/auth/login requests.
func (h AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Accounts == nil {
		logger.Error("account service unavailable")
		respondMessage(ctx, w, http.StatusInternalServerError, "authentication services unavailable")
		return
	}

	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.Warn("invalid login payload", "error", err)
		respondMessage(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	identity, err := h.Accounts.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		logger.Warn("login failed", "email", strings.TrimSpace(req.Email), "error", err)
		respondError(ctx, w, syncer.AuthErrorFrom(err))
		return
	}

	respondJSON(ctx, w, http.StatusOK, newAuthResponse(identity))
}

// Refresh exchanges a refresh token for a new session. The presented token
// is consumed.
func (h AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Accounts == nil {
		logger.Error("account service unavailable")
		respondMessage(ctx, w, http.StatusInternalServerError, "session service unavailable")
		return
	}

	token, ok := h.refreshToken(w, r)
	if !ok {
		return
	}

	identity, err := h.Accounts.Resume(ctx, token)
	if err != nil {
		if errors.Is(err, auth.ErrSessionNotFound) || errors.Is(err, auth.ErrRefreshTokenExpired) {
			logger.Warn("refresh rejected", "error", err)
		}
		respondError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, newAuthResponse(identity))
}

// Logout revokes a refresh token. Unknown tokens are accepted silently.
func (h AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.Accounts == nil {
		logging.FromContext(ctx).Error("account service unavailable")
		respondMessage(ctx, w, http.StatusInternalServerError, "session service unavailable")
		return
	}

	token, ok := h.refreshToken(w, r)
	if !ok {
		return
	}

	h.Accounts.SignOut(ctx, token)
	w.WriteHeader(http.StatusNoContent)
}

// RequestPasswordReset handles POST /api/v1/auth/password-reset requests.
func (h AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Accounts == nil {
		logger.Error("account service unavailable")
		respondMessage(ctx, w, http.StatusInternalServerError, "authentication services unavailable")
		return
	}

	var req passwordResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.Warn("invalid password reset payload", "error", err)
		respondMessage(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.Accounts.RequestPasswordReset(ctx, req.Email); err != nil {
		if errors.Is(err, auth.ErrInvalidEmail) {
			respondError(ctx, w, syncer.AuthErrorFrom(err))
			return
		}
		logger.Error("password reset lookup failed", "error", err)
		respondMessage(ctx, w, http.StatusInternalServerError, "unable to process password reset")
		return
	}

	respondJSON(ctx, w, http.StatusAccepted, map[string]string{
		"status": "If an account exists for that email, password reset instructions have been sent.",
	})
}

func (h AuthHandler) refreshToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	ctx := r.Context()

	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logging.FromContext(ctx).Warn("invalid refresh payload", "error", err)
		respondMessage(ctx, w, http.StatusBadRequest, "invalid request body")
		return "", false
	}

	token := strings.TrimSpace(req.RefreshToken)
	if token == "" {
		respondMessage(ctx, w, http.StatusBadRequest, "refresh token is required")
		return "", false
	}
	return token, true
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type passwordResetRequest struct {
	Email string `json:"email"`
}

type authResponse struct {
	UserID string               `json:"userId"`
	Email  string               `json:"email"`
	Tokens models.SessionTokens `json:"tokens"`
}

func newAuthResponse(identity auth.Identity) authResponse {
	return authResponse{UserID: identity.UserID, Email: identity.Email, Tokens: identity.Tokens}
}
