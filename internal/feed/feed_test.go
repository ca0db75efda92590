package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPublishKeepsLatestValue(t *testing.T) {
	f := New[int](nil)
	defer f.Close()

	for i := 1; i <= 5; i++ {
		if !f.Publish(i) {
			t.Fatalf("publish %d rejected on open feed", i)
		}
	}

	got, err := f.Next(context.Background())
	if err != nil {
		t.Fatalf("Next returned error: %v", err)
	}
	if got != 5 {
		t.Fatalf("expected latest value 5, got %d", got)
	}

	select {
	case v := <-f.C():
		t.Fatalf("expected no pending value, got %d", v)
	default:
	}
}

func TestCloseRunsReleaseOnceAndDiscardsPending(t *testing.T) {
	var releases int32
	f := New[string](func() { atomic.AddInt32(&releases, 1) })

	f.Publish("pending")
	f.Close()
	f.Close()

	if got := atomic.LoadInt32(&releases); got != 1 {
		t.Fatalf("expected release to run once, ran %d times", got)
	}
	if f.Publish("late") {
		t.Fatal("publish after close should report false")
	}

	v, ok := <-f.C()
	if ok {
		t.Fatalf("expected closed channel, received %q", v)
	}
	if _, err := f.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if !f.Closed() {
		t.Fatal("expected Closed to report true")
	}
}

func TestBindClosesOnCancel(t *testing.T) {
	released := make(chan struct{})
	f := New[int](func() { close(released) })

	ctx, cancel := context.WithCancel(context.Background())
	f.Bind(ctx)
	cancel()

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("feed was not released after context cancellation")
	}
	select {
	case <-f.Done():
	default:
		t.Fatal("expected Done to be closed")
	}
}

func TestBindAfterCloseIsHarmless(t *testing.T) {
	f := New[int](nil)
	f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Bind(ctx)
}

func TestPublishNeverBlocksWithoutConsumer(t *testing.T) {
	f := New[int](nil)
	defer f.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			f.Publish(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked")
	}
}

func TestConcurrentPublishAndCloseDoesNotPanic(t *testing.T) {
	for round := 0; round < 50; round++ {
		f := New[int](nil)
		var wg sync.WaitGroup
		for p := 0; p < 4; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					f.Publish(i)
				}
			}()
		}
		go f.Close()
		wg.Wait()
		f.Close()
	}
}

func TestValuesArriveInPublishOrder(t *testing.T) {
	f := New[int](nil)
	defer f.Close()

	go func() {
		for i := 1; i <= 1000; i++ {
			f.Publish(i)
		}
	}()

	last := 0
	deadline := time.After(2 * time.Second)
	for last < 1000 {
		select {
		case v := <-f.C():
			if v <= last {
				t.Fatalf("received %d after %d", v, last)
			}
			last = v
		case <-deadline:
			t.Fatalf("timed out at %d", last)
		}
	}
}

func TestPipeMapsAndPropagatesClose(t *testing.T) {
	var srcReleased int32
	src := New[int](func() { atomic.AddInt32(&srcReleased, 1) })
	dst := Pipe(src, func(v int) string {
		if v%2 == 0 {
			return "even"
		}
		return "odd"
	})

	src.Publish(3)
	got, err := dst.Next(context.Background())
	if err != nil || got != "odd" {
		t.Fatalf("expected odd, got %q, %v", got, err)
	}

	dst.Close()
	if atomic.LoadInt32(&srcReleased) != 1 {
		t.Fatal("closing the destination should close the source")
	}
}

func TestPipeClosesWhenSourceCloses(t *testing.T) {
	src := New[int](nil)
	dst := Pipe(src, func(v int) int { return v * 2 })

	src.Close()

	select {
	case <-dst.Done():
	case <-time.After(time.Second):
		t.Fatal("destination not closed after source closed")
	}
}
