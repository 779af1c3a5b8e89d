package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWithLockSerializesSameKey(t *testing.T) {
	m := NewManager(time.Second, 0)

	var inside int32
	var maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.WithLock(context.Background(), "checkout:u1:t1", func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				if n > atomic.LoadInt32(&maxInside) {
					atomic.StoreInt32(&maxInside, n)
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			if err != nil {
				t.Errorf("WithLock: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", maxInside)
	}
}

func TestWithLockDifferentKeysRunConcurrently(t *testing.T) {
	m := NewManager(50*time.Millisecond, 0)

	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = m.WithLock(context.Background(), "checkout:u1:t1", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	// a different buyer must not wait on u1's key
	err := m.WithLock(context.Background(), "checkout:u2:t1", func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("different key blocked: %v", err)
	}
	close(release)
}

func TestWithLockTimeout(t *testing.T) {
	m := NewManager(20*time.Millisecond, 0)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = m.WithLock(context.Background(), "k", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := m.WithLock(context.Background(), "k", func(context.Context) error {
		t.Error("callback must not run after timeout")
		return nil
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
	close(release)
}

func TestWithLockReleasesOnPanic(t *testing.T) {
	m := NewManager(100*time.Millisecond, 0)

	func() {
		defer func() { _ = recover() }()
		_ = m.WithLock(context.Background(), "k", func(context.Context) error {
			panic("boom")
		})
	}()

	// lock must be free again
	err := m.WithLock(context.Background(), "k", func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("lock not released after panic: %v", err)
	}
}

func TestWithLockHoldCeiling(t *testing.T) {
	m := NewManager(time.Second, 10*time.Millisecond)

	err := m.WithLock(context.Background(), "k", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded from hold ceiling", err)
	}
}

func TestWithLockEntriesGarbageCollected(t *testing.T) {
	m := NewManager(time.Second, 0)
	_ = m.WithLock(context.Background(), "k", func(context.Context) error { return nil })

	m.mu.Lock()
	n := len(m.entries)
	m.mu.Unlock()
	if n != 0 {
		t.Fatalf("entries leaked: %d", n)
	}
}
