package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quickreach/backend/internal/feed"
	"github.com/quickreach/backend/internal/models"
)

// MemoryStore is an in-process Store. Snapshots are published while the
// store lock is held, so every subscriber observes writes in commit order.
type MemoryStore struct {
	mu       sync.Mutex
	docs     map[string]models.DeliveryRequest
	online   bool
	now      func() time.Time
	newID    func() string
	watchers *registry
}

// MemoryOption customises a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithIDGenerator overrides document id allocation.
func WithIDGenerator(newID func() string) MemoryOption {
	return func(s *MemoryStore) { s.newID = newID }
}

// NewMemoryStore returns an empty, online store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		docs:     make(map[string]models.DeliveryRequest),
		online:   true,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
		watchers: newRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetOnline simulates losing or regaining the connection to the store. While
// offline every call fails with ErrUnavailable and subscriptions stay open
// without emitting. Coming back online pushes a fresh snapshot to all of them.
func (s *MemoryStore) SetOnline(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.online == online {
		return
	}
	s.online = online
	if !online {
		return
	}
	lists, docs := s.watchers.all()
	for _, w := range lists {
		w.feed.Publish(s.ownedLocked(w.owner))
	}
	for _, w := range docs {
		doc, ok := s.docs[w.id]
		w.feed.Publish(snapshotFor(doc, ok, w.principal))
	}
}

// Subscriptions reports how many subscriptions are open.
func (s *MemoryStore) Subscriptions() int {
	return s.watchers.count()
}

func (s *MemoryStore) SubscribeOwned(ctx context.Context, ownerID string) (*feed.Feed[[]models.DeliveryRequest], error) {
	if ownerID == "" {
		return nil, fmt.Errorf("subscribe owned: %w", ErrPermissionDenied)
	}

	s.mu.Lock()
	w := s.watchers.watchList(ownerID)
	if s.online {
		w.feed.Publish(s.ownedLocked(ownerID))
	}
	s.mu.Unlock()

	return w.feed.Bind(ctx), nil
}

func (s *MemoryStore) SubscribeRequest(ctx context.Context, principal, id string) (*feed.Feed[Snapshot], error) {
	s.mu.Lock()
	w := s.watchers.watchDoc(principal, id)
	if s.online {
		doc, ok := s.docs[id]
		w.feed.Publish(snapshotFor(doc, ok, principal))
	}
	s.mu.Unlock()

	return w.feed.Bind(ctx), nil
}

func (s *MemoryStore) Get(_ context.Context, principal, id string) (models.DeliveryRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.online {
		return models.DeliveryRequest{}, ErrUnavailable
	}
	doc, ok := s.docs[id]
	if !ok || !visibleTo(doc, principal) {
		return models.DeliveryRequest{}, ErrNotFound
	}
	return doc, nil
}

func (s *MemoryStore) Create(_ context.Context, req models.DeliveryRequest) (models.DeliveryRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.online {
		return models.DeliveryRequest{}, ErrUnavailable
	}
	if req.OwnerID == "" {
		return models.DeliveryRequest{}, ErrPermissionDenied
	}

	req.ID = s.newID()
	if _, exists := s.docs[req.ID]; exists {
		return models.DeliveryRequest{}, fmt.Errorf("create: duplicate id %s", req.ID)
	}
	now := s.now()
	req.CreatedAt = now
	req.UpdatedAt = now
	s.docs[req.ID] = req

	s.notifyLocked(req.OwnerID, req.ID)
	return req, nil
}

func (s *MemoryStore) Update(_ context.Context, principal, id string, patch models.RequestPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.online {
		return ErrUnavailable
	}
	doc, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	if !visibleTo(doc, principal) {
		return ErrPermissionDenied
	}

	doc = patch.Apply(doc)
	doc.UpdatedAt = s.now()
	s.docs[id] = doc

	s.notifyLocked(doc.OwnerID, id)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, principal, id string) (models.DeliveryRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.online {
		return models.DeliveryRequest{}, ErrUnavailable
	}
	doc, ok := s.docs[id]
	if !ok {
		return models.DeliveryRequest{}, ErrNotFound
	}
	if !visibleTo(doc, principal) {
		return models.DeliveryRequest{}, ErrPermissionDenied
	}

	delete(s.docs, id)
	s.notifyLocked(doc.OwnerID, id)
	return doc, nil
}

func (s *MemoryStore) notifyLocked(owner, id string) {
	for _, w := range s.watchers.listsFor(owner) {
		w.feed.Publish(s.ownedLocked(owner))
	}
	doc, ok := s.docs[id]
	for _, w := range s.watchers.docsFor(id) {
		w.feed.Publish(snapshotFor(doc, ok, w.principal))
	}
}

func (s *MemoryStore) ownedLocked(owner string) []models.DeliveryRequest {
	out := make([]models.DeliveryRequest, 0)
	for _, doc := range s.docs {
		if doc.OwnerID == owner {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

var _ Store = (*MemoryStore)(nil)
