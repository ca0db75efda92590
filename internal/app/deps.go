package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quickreach/backend/internal/archive"
	"github.com/quickreach/backend/internal/auth"
	"github.com/quickreach/backend/internal/backend"
	"github.com/quickreach/backend/internal/config"
	"github.com/quickreach/backend/internal/db"
	"github.com/quickreach/backend/internal/handlers"
	"github.com/quickreach/backend/internal/middleware"
	"github.com/quickreach/backend/internal/repositories"
	"github.com/quickreach/backend/internal/storage"
	"github.com/quickreach/backend/internal/syncer"
)

const sessionPruneInterval = time.Hour

// services holds the wired domain layer shared by serve and watch.
type services struct {
	Accounts *auth.Service
	Sync     *syncer.Synchronizer
	Store    backend.Store

	// background tasks run for the lifetime of the process.
	background []func(ctx context.Context) error
	cleanup    []func(ctx context.Context) error
}

// Shutdown runs cleanup hooks in reverse order.
func (s *services) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		if err := s.cleanup[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildServices wires together concrete implementations for the configured
// backend. pool is only used by the postgres backend.
func buildServices(ctx context.Context, pool db.Pool, cfg config.Config, logger *slog.Logger) (*services, error) {
	secret, err := signingSecret(cfg.Auth.JWTSecret, logger)
	if err != nil {
		return nil, err
	}

	svc := &services{}

	var (
		users    auth.UserStore
		sessions auth.SessionStore
	)
	switch cfg.Backend {
	case config.BackendMemory:
		users = auth.NewInMemoryUserStore()
		sessions = auth.NewInMemorySessionStore()
		svc.Store = backend.NewMemoryStore()
	case config.BackendPostgres:
		if pool == nil {
			return nil, errors.New("postgres backend requires a database pool")
		}
		sessionStore := repositories.NewPostgresSessionStore(pool)
		users = repositories.NewPostgresUserRepository(pool)
		sessions = sessionStore
		store := backend.NewPostgresStore(pool, repositories.NewPostgresDeliveryRequestRepository(pool))
		svc.Store = store
		svc.background = append(svc.background, store.Listen, func(ctx context.Context) error {
			return pruneSessions(ctx, sessionStore, logger)
		})
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	manager := auth.NewManager(secret, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL, sessions)
	svc.Accounts = auth.NewService(users, manager)

	var opts []syncer.Option
	if cfg.Archive.Enabled() {
		objects, err := storage.NewS3Storage(ctx, cfg.Archive.Store)
		if err != nil {
			return nil, fmt.Errorf("configure archive storage: %w", err)
		}
		queue := archive.NewQueue(objects, archive.Config{
			QueueSize: cfg.Archive.QueueSize,
			Workers:   cfg.Archive.Workers,
		}, logger)
		opts = append(opts, syncer.WithArchiver(queue))
		svc.cleanup = append(svc.cleanup, queue.Shutdown)
		logger.Info("archiving deleted requests", slog.String("bucket", cfg.Archive.Store.Bucket))
	}
	svc.Sync = syncer.NewSynchronizer(svc.Store, opts...)

	return svc, nil
}

// routes returns the HTTP dependencies for svc.
func (s *services) routes(cfg config.Config) handlers.Dependencies {
	return handlers.Dependencies{
		Accounts: s.Accounts,
		Requests: s.Sync,
		Tokens:   s.Accounts,
		AuthLimiter: middleware.NewIPRateLimiter(
			cfg.Auth.RateLimit,
			cfg.Auth.RateLimitWindow,
			cfg.Auth.RateLimitBurst,
			10*time.Minute,
		),
		BackendName: cfg.Backend,
	}
}

// startBackground launches the background tasks. Failures other than
// cancellation are logged.
func (s *services) startBackground(ctx context.Context, logger *slog.Logger) {
	for _, task := range s.background {
		go func(task func(context.Context) error) {
			if err := task(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("background task stopped", slog.Any("error", err))
			}
		}(task)
	}
}

func signingSecret(configured string, logger *slog.Logger) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate signing secret: %w", err)
	}
	logger.Warn("QUICKREACH_JWT_SECRET not set; using an ephemeral secret, tokens will not survive a restart")
	return []byte(base64.RawStdEncoding.EncodeToString(buf)), nil
}

type expiredSessionPruner interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

func pruneSessions(ctx context.Context, store expiredSessionPruner, logger *slog.Logger) error {
	ticker := time.NewTicker(sessionPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			removed, err := store.DeleteExpired(ctx, now.UTC())
			if err != nil {
				logger.Warn("prune expired sessions", slog.Any("error", err))
				continue
			}
			if removed > 0 {
				logger.Info("pruned expired sessions", slog.Int64("count", removed))
			}
		}
	}
}
