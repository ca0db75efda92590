// Package feed provides a single-consumer stream that only ever holds the
// latest undelivered value, together with an explicit teardown handle.
//
// Producers call Publish and never block. A consumer that falls behind
// observes the newest value only; intermediate values are dropped but the
// order of the values it does see is never inverted. Close releases the
// producer side exactly once and guarantees nothing more is delivered.
package feed

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Next once the feed has been torn down.
var ErrClosed = errors.New("feed closed")

// Feed is a latest-value stream of T.
type Feed[T any] struct {
	ch   chan T
	done chan struct{}

	mu      sync.Mutex
	closed  bool
	stop    func() bool
	release func()
}

// New returns an open feed. release, when non-nil, runs once on Close and is
// where producers unregister the feed.
func New[T any](release func()) *Feed[T] {
	return &Feed[T]{
		ch:      make(chan T, 1),
		done:    make(chan struct{}),
		release: release,
	}
}

// C delivers values. It is closed when the feed is closed.
func (f *Feed[T]) C() <-chan T {
	return f.ch
}

// Done is closed when the feed is closed.
func (f *Feed[T]) Done() <-chan struct{} {
	return f.done
}

// Publish replaces any pending value with v. It reports false once the feed
// is closed.
func (f *Feed[T]) Publish(v T) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false
	}
	select {
	case <-f.ch:
	default:
	}
	f.ch <- v
	return true
}

// Closed reports whether Close has run.
func (f *Feed[T]) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Close tears the feed down. Pending values are discarded. Safe to call
// more than once and from any goroutine.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	select {
	case <-f.ch:
	default:
	}
	close(f.ch)
	close(f.done)
	stop, release := f.stop, f.release
	f.stop, f.release = nil, nil
	f.mu.Unlock()

	if stop != nil {
		stop()
	}
	if release != nil {
		release()
	}
}

// Bind closes the feed when ctx is done and returns f for chaining.
func (f *Feed[T]) Bind(ctx context.Context) *Feed[T] {
	if ctx == nil {
		return f
	}
	stop := context.AfterFunc(ctx, f.Close)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		stop()
		return f
	}
	f.stop = stop
	f.mu.Unlock()
	return f
}

// Next blocks until a value is available, the feed closes or ctx is done.
func (f *Feed[T]) Next(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case v, ok := <-f.ch:
		if !ok {
			return zero, ErrClosed
		}
		return v, nil
	}
}

// Pipe returns a feed carrying fn applied to every value of src. Closing
// either feed closes the other.
func Pipe[S, D any](src *Feed[S], fn func(S) D) *Feed[D] {
	dst := New[D](src.Close)
	go func() {
		defer dst.Close()
		for {
			select {
			case <-dst.Done():
				return
			case v, ok := <-src.C():
				if !ok {
					return
				}
				dst.Publish(fn(v))
			}
		}
	}()
	return dst
}
