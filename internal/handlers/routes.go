package handlers

import (
	"net/http"
	"time"

	"github.com/quickreach/backend/internal/middleware"
)

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Accounts       AccountService
	Requests       RequestService
	Tokens         TokenVerifier
	AuthLimiter    middleware.RateLimiter
	BackendName    string
	OriginPatterns []string
}

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{Backend: deps.BackendName, Started: time.Now()}
	accounts := AuthHandler{Accounts: deps.Accounts}
	deliveries := DeliveryHandler{Requests: deps.Requests}
	live := LiveHandler{Requests: deps.Requests, OriginPatterns: deps.OriginPatterns}

	limited := func(scope string, h http.HandlerFunc) http.Handler {
		return middleware.RateLimit(deps.AuthLimiter, scope)(h)
	}
	authed := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireBearer(deps.Tokens)(h)
	}

	mux.HandleFunc("GET /healthz", health.Handle)

	mux.Handle("POST /api/v1/auth/signup", limited("signup", accounts.SignUp))
	mux.Handle("POST /api/v1/auth/login", limited("login", accounts.Login))
	mux.HandleFunc("POST /api/v1/auth/refresh", accounts.Refresh)
	mux.HandleFunc("POST /api/v1/auth/logout", accounts.Logout)
	mux.Handle("POST /api/v1/auth/password-reset", limited("password-reset", accounts.RequestPasswordReset))

	mux.Handle("GET /api/v1/deliveries", authed(deliveries.List))
	mux.Handle("POST /api/v1/deliveries", authed(deliveries.Create))
	mux.Handle("GET /api/v1/deliveries/{id}", authed(deliveries.Get))
	mux.Handle("PATCH /api/v1/deliveries/{id}", authed(deliveries.Update))
	mux.Handle("DELETE /api/v1/deliveries/{id}", authed(deliveries.Delete))

	mux.Handle("GET /api/v1/live/deliveries", authed(live.Deliveries))
	mux.Handle("GET /api/v1/live/deliveries/{id}", authed(live.Delivery))
}
