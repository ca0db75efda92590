package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quickreach/backend/internal/db"
	"github.com/quickreach/backend/internal/feed"
	"github.com/quickreach/backend/internal/logging"
	"github.com/quickreach/backend/internal/models"
	"github.com/quickreach/backend/internal/repositories"
)

// StaleRetryInterval is how often watchers whose last refresh failed are
// refreshed again.
var StaleRetryInterval = time.Second

// ChangeChannel is the PostgreSQL notification channel carrying
// "<owner>|<id>" for every committed delivery request write.
const ChangeChannel = "delivery_request_changes"

// PostgresStore is a Store over PostgreSQL. Writes go through the repository
// and are announced with pg_notify; a Listener turns those notifications
// into fresh snapshots for every affected subscription, across processes.
type PostgresStore struct {
	pool     db.Pool
	requests repositories.DeliveryRequestRepository
	watchers *registry
	now      func() time.Time

	// stale holds watchers whose last refresh failed; retried by Listen.
	staleMu    sync.Mutex
	staleLists map[*listWatcher]struct{}
	staleDocs  map[*docWatcher]struct{}
}

// NewPostgresStore wires a store over pool.
func NewPostgresStore(pool db.Pool, requests repositories.DeliveryRequestRepository) *PostgresStore {
	return &PostgresStore{
		pool:     pool,
		requests: requests,
		watchers:   newRegistry(),
		now:        func() time.Time { return time.Now().UTC() },
		staleLists: make(map[*listWatcher]struct{}),
		staleDocs:  make(map[*docWatcher]struct{}),
	}
}

// Listen blocks, applying change notifications until ctx is done. Watchers
// whose refresh failed are retried every StaleRetryInterval meanwhile.
func (s *PostgresStore) Listen(ctx context.Context) error {
	go s.retryStaleLoop(ctx, StaleRetryInterval)

	listener := NewListener(s.pool, ChangeChannel, s.applyChange, s.refreshAll)
	return listener.Run(ctx)
}

func (s *PostgresStore) retryStaleLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.retryStale(ctx)
		}
	}
}

// retryStale refreshes every watcher whose previous refresh failed. Watchers
// that fail again stay queued.
func (s *PostgresStore) retryStale(ctx context.Context) {
	s.staleMu.Lock()
	lists := make([]*listWatcher, 0, len(s.staleLists))
	for w := range s.staleLists {
		lists = append(lists, w)
	}
	docs := make([]*docWatcher, 0, len(s.staleDocs))
	for w := range s.staleDocs {
		docs = append(docs, w)
	}
	s.staleMu.Unlock()

	for _, w := range lists {
		_ = s.refreshList(ctx, w)
	}
	for _, w := range docs {
		_ = s.refreshDoc(ctx, w)
	}
}

// staleCount reports how many watchers are waiting for a retry.
func (s *PostgresStore) staleCount() int {
	s.staleMu.Lock()
	defer s.staleMu.Unlock()
	return len(s.staleLists) + len(s.staleDocs)
}

func (s *PostgresStore) markList(w *listWatcher, stale bool) {
	s.staleMu.Lock()
	defer s.staleMu.Unlock()
	if stale {
		s.staleLists[w] = struct{}{}
	} else {
		delete(s.staleLists, w)
	}
}

func (s *PostgresStore) markDoc(w *docWatcher, stale bool) {
	s.staleMu.Lock()
	defer s.staleMu.Unlock()
	if stale {
		s.staleDocs[w] = struct{}{}
	} else {
		delete(s.staleDocs, w)
	}
}

// Subscriptions reports how many subscriptions are open.
func (s *PostgresStore) Subscriptions() int {
	return s.watchers.count()
}

func (s *PostgresStore) SubscribeOwned(ctx context.Context, ownerID string) (*feed.Feed[[]models.DeliveryRequest], error) {
	if ownerID == "" {
		return nil, fmt.Errorf("subscribe owned: %w", ErrPermissionDenied)
	}

	w := s.watchers.watchList(ownerID)
	if err := s.refreshList(ctx, w); err != nil && !errors.Is(err, ErrUnavailable) {
		w.feed.Close()
		return nil, err
	}
	return w.feed.Bind(ctx), nil
}

func (s *PostgresStore) SubscribeRequest(ctx context.Context, principal, id string) (*feed.Feed[Snapshot], error) {
	w := s.watchers.watchDoc(principal, id)
	if err := s.refreshDoc(ctx, w); err != nil && !errors.Is(err, ErrUnavailable) {
		w.feed.Close()
		return nil, err
	}
	return w.feed.Bind(ctx), nil
}

func (s *PostgresStore) Get(ctx context.Context, principal, id string) (models.DeliveryRequest, error) {
	req, err := s.requests.FindByID(ctx, id)
	if err != nil {
		return models.DeliveryRequest{}, classify(err)
	}
	if !visibleTo(req, principal) {
		return models.DeliveryRequest{}, ErrNotFound
	}
	return req, nil
}

func (s *PostgresStore) Create(ctx context.Context, req models.DeliveryRequest) (models.DeliveryRequest, error) {
	if req.OwnerID == "" {
		return models.DeliveryRequest{}, ErrPermissionDenied
	}

	now := s.now()
	req.ID = uuid.NewString()
	req.CreatedAt = now
	req.UpdatedAt = now

	if err := s.requests.Create(ctx, req); err != nil {
		return models.DeliveryRequest{}, classify(err)
	}

	s.announce(ctx, req.OwnerID, req.ID)
	return req, nil
}

func (s *PostgresStore) Update(ctx context.Context, principal, id string, patch models.RequestPatch) error {
	current, err := s.requests.FindByID(ctx, id)
	if err != nil {
		return classify(err)
	}
	if !visibleTo(current, principal) {
		return ErrPermissionDenied
	}

	if _, err := s.requests.Update(ctx, id, patch, s.now()); err != nil {
		return classify(err)
	}

	s.announce(ctx, current.OwnerID, id)
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, principal, id string) (models.DeliveryRequest, error) {
	current, err := s.requests.FindByID(ctx, id)
	if err != nil {
		return models.DeliveryRequest{}, classify(err)
	}
	if !visibleTo(current, principal) {
		return models.DeliveryRequest{}, ErrPermissionDenied
	}

	removed, err := s.requests.Delete(ctx, id)
	if err != nil {
		return models.DeliveryRequest{}, classify(err)
	}

	s.announce(ctx, removed.OwnerID, id)
	return removed, nil
}

// announce publishes the change to every process listening on ChangeChannel.
// If the notification cannot be sent, local subscriptions are refreshed
// directly so this process at least stays consistent.
func (s *PostgresStore) announce(ctx context.Context, owner, id string) {
	err := func() error {
		conn, err := s.pool.Acquire(ctx)
		if err != nil {
			return err
		}
		defer conn.Release()
		_, err = conn.Exec(ctx, `SELECT pg_notify($1, $2)`, ChangeChannel, owner+"|"+id)
		return err
	}()
	if err != nil {
		logging.FromContext(ctx).Warn("change notification failed, refreshing locally",
			slog.String("request_id", id),
			slog.Any("error", err),
		)
		s.applyChange(context.WithoutCancel(ctx), owner+"|"+id)
	}
}

func (s *PostgresStore) applyChange(ctx context.Context, payload string) {
	owner, id, ok := strings.Cut(payload, "|")
	if !ok {
		logging.FromContext(ctx).Warn("ignoring malformed change notification", slog.String("payload", payload))
		return
	}
	for _, w := range s.watchers.listsFor(owner) {
		_ = s.refreshList(ctx, w)
	}
	for _, w := range s.watchers.docsFor(id) {
		_ = s.refreshDoc(ctx, w)
	}
}

func (s *PostgresStore) refreshAll(ctx context.Context) {
	lists, docs := s.watchers.all()
	for _, w := range lists {
		_ = s.refreshList(ctx, w)
	}
	for _, w := range docs {
		_ = s.refreshDoc(ctx, w)
	}
}

func (s *PostgresStore) refreshList(ctx context.Context, w *listWatcher) error {
	w.refresh.Lock()
	defer w.refresh.Unlock()

	if w.feed.Closed() {
		s.markList(w, false)
		return nil
	}
	list, err := s.requests.ListByOwner(ctx, w.owner)
	if err != nil {
		s.markList(w, true)
		err = classify(err)
		logging.FromContext(ctx).Warn("refresh owned requests failed",
			slog.String("owner_id", w.owner),
			slog.Any("error", err),
		)
		return err
	}
	s.markList(w, false)
	w.feed.Publish(list)
	return nil
}

func (s *PostgresStore) refreshDoc(ctx context.Context, w *docWatcher) error {
	w.refresh.Lock()
	defer w.refresh.Unlock()

	if w.feed.Closed() {
		s.markDoc(w, false)
		return nil
	}
	req, err := s.requests.FindByID(ctx, w.id)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		s.markDoc(w, false)
		w.feed.Publish(Snapshot{})
		return nil
	case err != nil:
		s.markDoc(w, true)
		err = classify(err)
		logging.FromContext(ctx).Warn("refresh delivery request failed",
			slog.String("request_id", w.id),
			slog.Any("error", err),
		)
		return err
	}
	s.markDoc(w, false)
	w.feed.Publish(snapshotFor(req, true, w.principal))
	return nil
}

// classify maps repository and driver errors onto the Store error set.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repositories.ErrNotFound):
		return ErrNotFound
	case isUnavailable(err):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return err
	}
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, pgx.ErrTxClosed) {
		return true
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

var _ Store = (*PostgresStore)(nil)
