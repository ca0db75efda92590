package backend

import (
	"sync"

	"github.com/quickreach/backend/internal/feed"
	"github.com/quickreach/backend/internal/models"
)

type listWatcher struct {
	owner string
	feed  *feed.Feed[[]models.DeliveryRequest]
	// refresh serializes snapshot production so a slower, older read can
	// never be published after a newer one.
	refresh sync.Mutex
}

type docWatcher struct {
	id        string
	principal string
	feed      *feed.Feed[Snapshot]
	refresh   sync.Mutex
}

// registry tracks open subscriptions. Lock order: store lock, then
// registry.mu, then feed locks.
type registry struct {
	mu    sync.Mutex
	lists map[string]map[*listWatcher]struct{}
	docs  map[string]map[*docWatcher]struct{}
}

func newRegistry() *registry {
	return &registry{
		lists: make(map[string]map[*listWatcher]struct{}),
		docs:  make(map[string]map[*docWatcher]struct{}),
	}
}

func (r *registry) watchList(owner string) *listWatcher {
	w := &listWatcher{owner: owner}
	w.feed = feed.New[[]models.DeliveryRequest](func() { r.unwatchList(w) })

	r.mu.Lock()
	set, ok := r.lists[owner]
	if !ok {
		set = make(map[*listWatcher]struct{})
		r.lists[owner] = set
	}
	set[w] = struct{}{}
	r.mu.Unlock()
	return w
}

func (r *registry) unwatchList(w *listWatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.lists[w.owner]; ok {
		delete(set, w)
		if len(set) == 0 {
			delete(r.lists, w.owner)
		}
	}
}

func (r *registry) watchDoc(principal, id string) *docWatcher {
	w := &docWatcher{id: id, principal: principal}
	w.feed = feed.New[Snapshot](func() { r.unwatchDoc(w) })

	r.mu.Lock()
	set, ok := r.docs[id]
	if !ok {
		set = make(map[*docWatcher]struct{})
		r.docs[id] = set
	}
	set[w] = struct{}{}
	r.mu.Unlock()
	return w
}

func (r *registry) unwatchDoc(w *docWatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.docs[w.id]; ok {
		delete(set, w)
		if len(set) == 0 {
			delete(r.docs, w.id)
		}
	}
}

func (r *registry) listsFor(owner string) []*listWatcher {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*listWatcher, 0, len(r.lists[owner]))
	for w := range r.lists[owner] {
		out = append(out, w)
	}
	return out
}

func (r *registry) docsFor(id string) []*docWatcher {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*docWatcher, 0, len(r.docs[id]))
	for w := range r.docs[id] {
		out = append(out, w)
	}
	return out
}

func (r *registry) all() ([]*listWatcher, []*docWatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var lists []*listWatcher
	for _, set := range r.lists {
		for w := range set {
			lists = append(lists, w)
		}
	}
	var docs []*docWatcher
	for _, set := range r.docs {
		for w := range set {
			docs = append(docs, w)
		}
	}
	return lists, docs
}

// count reports open subscriptions. Used by tests and health reporting.
func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, set := range r.lists {
		n += len(set)
	}
	for _, set := range r.docs {
		n += len(set)
	}
	return n
}
