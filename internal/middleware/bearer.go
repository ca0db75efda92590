package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/quickreach/backend/internal/auth"
	"github.com/quickreach/backend/internal/logging"
)

// AccessTokenParam is the query parameter accepted in place of the
// Authorization header. Browsers cannot set headers on WebSocket upgrades.
const AccessTokenParam = "access_token"

// TokenVerifier resolves access tokens to the claims they carry.
type TokenVerifier interface {
	Verify(accessToken string) (auth.Claims, error)
}

// RequireBearer rejects requests without a valid access token and stores the
// verified claims in the request context.
func RequireBearer(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger := logging.FromContext(ctx)

			if verifier == nil {
				logger.Error("token verifier unavailable")
				writeError(w, http.StatusInternalServerError, "authentication services unavailable")
				return
			}

			token := BearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "missing access token")
				return
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				msg := "invalid access token"
				if errors.Is(err, auth.ErrTokenExpired) {
					msg = "access token expired"
				}
				logger.Warn("access token rejected", slog.Any("error", err))
				writeError(w, http.StatusUnauthorized, msg)
				return
			}

			ctx = auth.WithClaims(ctx, claims)
			ctx = logging.With(ctx, slog.String("user_id", claims.UserID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the access token from the Authorization header or
// the access_token query parameter.
func BearerToken(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get(AccessTokenParam))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
