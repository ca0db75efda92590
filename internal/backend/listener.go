package backend

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/quickreach/backend/internal/db"
	"github.com/quickreach/backend/internal/logging"
)

const (
	listenBaseBackoff = 100 * time.Millisecond
	listenMaxBackoff  = 3 * time.Second
)

// Listener holds one pooled connection in LISTEN mode and forwards every
// notification payload. After each (re)connect onConnect runs so callers can
// catch up on anything missed while disconnected.
type Listener struct {
	pool      db.Pool
	channel   string
	onNotify  func(ctx context.Context, payload string)
	onConnect func(ctx context.Context)
}

// NewListener constructs a Listener for channel.
func NewListener(pool db.Pool, channel string, onNotify func(context.Context, string), onConnect func(context.Context)) *Listener {
	return &Listener{pool: pool, channel: channel, onNotify: onNotify, onConnect: onConnect}
}

// Run listens until ctx is done, reconnecting with exponential backoff.
func (l *Listener) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx).With(slog.String("channel", l.channel))

	attempt := 0
	for {
		err := l.listen(ctx, func() { attempt = 0 })
		if ctx.Err() != nil {
			return nil
		}

		attempt++
		delay := BackoffDelay(attempt)
		logger.Warn("change listener disconnected",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", delay),
			slog.Any("error", err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (l *Listener) listen(ctx context.Context, connected func()) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener connection: %w", err)
	}
	defer func() {
		// A connection left in LISTEN mode must not go back to the pool.
		_ = conn.Hijack().Close(context.Background())
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", l.channel, err)
	}
	connected()
	if l.onConnect != nil {
		l.onConnect(ctx)
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		if l.onNotify != nil {
			l.onNotify(ctx, notification.Payload)
		}
	}
}

// BackoffDelay is the wait before reconnect or resubscribe attempt n (n >= 1),
// doubling from 100ms up to 3s.
func BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	if attempt > 6 {
		return listenMaxBackoff
	}
	backoff := time.Duration(math.Pow(2, float64(attempt-1))) * listenBaseBackoff
	if backoff > listenMaxBackoff {
		backoff = listenMaxBackoff
	}
	return backoff
}
