package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/quickreach/backend/internal/auth"
	"github.com/quickreach/backend/internal/logging"
	"github.com/quickreach/backend/internal/syncer"
)

const defaultLiveWriteTimeout = 10 * time.Second

// Message types sent over the live endpoints.
const (
	MessageSnapshot = "snapshot"
	MessageRequest  = "request"
	MessageNotFound = "not_found"
)

var errStreamEnded = errors.New("subscription ended")

// LiveMessage is one frame on a live endpoint.
type LiveMessage struct {
	Type     string               `json:"type"`
	Requests []syncer.RequestView `json:"requests,omitempty"`
	Request  *syncer.RequestView  `json:"request,omitempty"`
}

// LiveHandler streams delivery request changes over WebSocket. Each
// connection owns exactly one subscription, torn down when the connection
// closes.
type LiveHandler struct {
	Requests       RequestService
	OriginPatterns []string
	WriteTimeout   time.Duration
}

// Deliveries handles GET /api/v1/live/deliveries.
func (h LiveHandler) Deliveries(w http.ResponseWriter, r *http.Request) {
	conn, ctx, ok := h.accept(w, r)
	if !ok {
		return
	}
	defer conn.CloseNow()

	list, err := h.Requests.ObserveOwnedRequests(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		h.closeWith(ctx, conn, err)
		return
	}
	defer list.Close()

	err = pump(ctx, conn, h.writeTimeout(), list.C(), func(views []syncer.RequestView) LiveMessage {
		if views == nil {
			views = []syncer.RequestView{}
		}
		return LiveMessage{Type: MessageSnapshot, Requests: views}
	})
	h.closeWith(ctx, conn, err)
}

// Delivery handles GET /api/v1/live/deliveries/{id}.
func (h LiveHandler) Delivery(w http.ResponseWriter, r *http.Request) {
	conn, ctx, ok := h.accept(w, r)
	if !ok {
		return
	}
	defer conn.CloseNow()

	detail, err := h.Requests.ObserveRequest(ctx, auth.UserIDFromContext(ctx), r.PathValue("id"))
	if err != nil {
		h.closeWith(ctx, conn, err)
		return
	}
	defer detail.Close()

	err = pump(ctx, conn, h.writeTimeout(), detail.C(), func(d syncer.Detail) LiveMessage {
		if d.NotFound {
			return LiveMessage{Type: MessageNotFound}
		}
		view := d.Request
		return LiveMessage{Type: MessageRequest, Request: &view}
	})
	h.closeWith(ctx, conn, err)
}

func (h LiveHandler) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, context.Context, bool) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Requests == nil {
		logger.Error("request service unavailable")
		respondMessage(ctx, w, http.StatusInternalServerError, "delivery services unavailable")
		return nil, nil, false
	}

	// The server write timeout would otherwise cut long-lived streams.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.OriginPatterns})
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return nil, nil, false
	}

	// Clients never send frames; CloseRead cancels ctx once they go away.
	return conn, conn.CloseRead(ctx), true
}

func (h LiveHandler) closeWith(ctx context.Context, conn *websocket.Conn, err error) {
	logger := logging.FromContext(ctx)
	switch {
	case err == nil, ctx.Err() != nil:
		_ = conn.Close(websocket.StatusNormalClosure, "")
	case errors.Is(err, errStreamEnded):
		_ = conn.Close(websocket.StatusGoingAway, "subscription ended")
	case syncer.IsRetryable(err):
		logger.Warn("live subscription unavailable", "error", err)
		_ = conn.Close(websocket.StatusTryAgainLater, "backend unavailable")
	default:
		logger.Error("live subscription failed", "error", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
	}
}

func (h LiveHandler) writeTimeout() time.Duration {
	if h.WriteTimeout > 0 {
		return h.WriteTimeout
	}
	return defaultLiveWriteTimeout
}

// pump writes every value received on ch until ctx ends or ch closes.
func pump[T any](ctx context.Context, conn *websocket.Conn, timeout time.Duration, ch <-chan T, encode func(T) LiveMessage) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errStreamEnded
			}
			writeCtx, cancel := context.WithTimeout(ctx, timeout)
			err := wsjson.Write(writeCtx, conn, encode(v))
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}
