package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/quickreach/backend/internal/backend"
	"github.com/quickreach/backend/internal/feed"
	"github.com/quickreach/backend/internal/logging"
	"github.com/quickreach/backend/internal/models"
)

// Client binds a Synchronizer to a Session so consumers act as whoever is
// signed in.
type Client struct {
	session *Session
	sync    *Synchronizer
}

// NewClient returns a Client acting through session.
func NewClient(session *Session, sync *Synchronizer) *Client {
	return &Client{session: session, sync: sync}
}

// Session returns the gate the client follows.
func (c *Client) Session() *Session {
	return c.session
}

func (c *Client) userID() (string, error) {
	state, _ := c.session.Current()
	if !state.SignedIn() {
		return "", ErrSignedOut
	}
	return state.UserID, nil
}

// FollowOwnedRequests streams the signed-in user's requests across identity
// changes. Each change tears down the previous list subscription before the
// next one opens. Signing out emits an empty list. Nothing is emitted until
// the session resolves. A subscription the backend refuses is retried with
// backoff for as long as the same user stays signed in.
func (c *Client) FollowOwnedRequests(ctx context.Context) *feed.Feed[[]RequestView] {
	inner, cancel := context.WithCancel(ctx)
	out := feed.New[[]RequestView](cancel)
	out.Bind(ctx)

	sessions := c.session.Observe(inner)
	go func() {
		defer out.Close()

		var (
			current  *feed.Feed[[]RequestView]
			owner    string
			settled  bool
			attempts int
			retry    *time.Timer
		)
		closeCurrent := func() {
			if current != nil {
				current.Close()
				current = nil
			}
		}
		stopRetry := func() {
			if retry != nil {
				retry.Stop()
				retry = nil
			}
			attempts = 0
		}
		defer closeCurrent()
		defer stopRetry()

		subscribe := func() {
			sub, err := c.sync.ObserveOwnedRequests(inner, owner)
			if err != nil {
				attempts++
				delay := backend.BackoffDelay(attempts)
				logging.FromContext(ctx).Warn("follow owned requests",
					slog.String("owner_id", owner),
					slog.Int("attempt", attempts),
					slog.Duration("retry_in", delay),
					slog.Any("error", err),
				)
				retry = time.NewTimer(delay)
				return
			}
			retry = nil
			attempts = 0
			current = sub
		}

		for {
			var lists <-chan []RequestView
			if current != nil {
				lists = current.C()
			}
			var retries <-chan time.Time
			if retry != nil {
				retries = retry.C
			}

			select {
			case <-out.Done():
				return
			case state, ok := <-sessions.C():
				if !ok {
					return
				}
				if settled && state.UserID == owner {
					continue
				}
				settled = true
				closeCurrent()
				stopRetry()
				owner = state.UserID
				if owner == "" {
					out.Publish([]RequestView{})
					continue
				}
				subscribe()
			case <-retries:
				retry = nil
				if owner != "" && current == nil {
					subscribe()
				}
			case list, ok := <-lists:
				if !ok {
					current = nil
					continue
				}
				out.Publish(list)
			}
		}
	}()

	return out
}

// ObserveRequest streams request id as seen by the signed-in user.
func (c *Client) ObserveRequest(ctx context.Context, id string) (*feed.Feed[Detail], error) {
	user, err := c.userID()
	if err != nil {
		return nil, err
	}
	return c.sync.ObserveRequest(ctx, user, id)
}

// CreateRequest creates a request owned by the signed-in user.
func (c *Client) CreateRequest(ctx context.Context, in NewRequest) (string, error) {
	user, err := c.userID()
	if err != nil {
		return "", err
	}
	return c.sync.CreateRequest(ctx, user, in)
}

// UpdateRequest patches request id on behalf of the signed-in user.
func (c *Client) UpdateRequest(ctx context.Context, id string, patch models.RequestPatch) error {
	user, err := c.userID()
	if err != nil {
		return err
	}
	return c.sync.UpdateRequest(ctx, user, id, patch)
}

// DeleteRequest removes request id on behalf of the signed-in user.
func (c *Client) DeleteRequest(ctx context.Context, id string) error {
	user, err := c.userID()
	if err != nil {
		return err
	}
	return c.sync.DeleteRequest(ctx, user, id)
}
