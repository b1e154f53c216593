package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTTLCache_CachesWithinTTL(t *testing.T) {
	var calls int32
	c := New(50*time.Millisecond, func(ctx context.Context, key string) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 42, nil
	})

	for i := 0; i < 5; i++ {
		v, err := c.Get(context.Background(), "k")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if v != 42 {
			t.Fatalf("v = %d, want 42", v)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("loader called %d times, want 1", got)
	}
}

func TestTTLCache_RefreshesAfterExpiry(t *testing.T) {
	var calls int32
	c := New(5*time.Millisecond, func(ctx context.Context, key string) (int, error) {
		return int(atomic.AddInt32(&calls, 1)), nil
	})

	first, _ := c.Get(context.Background(), "k")
	time.Sleep(15 * time.Millisecond)
	second, _ := c.Get(context.Background(), "k")

	if first == second {
		t.Fatalf("expected a refreshed value after TTL expiry, got %d both times", first)
	}
}

func TestTTLCache_ConcurrentMissesCollapseToOneLoad(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	c := New(time.Minute, func(ctx context.Context, key string) (int, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 7, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get(context.Background(), "k")
			if err != nil || v != 7 {
				t.Errorf("Get = %d, %v", v, err)
			}
		}()
	}
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("loader called %d times concurrently, want 1", got)
	}
}

func TestTTLCache_ErrorNotCached(t *testing.T) {
	var calls int32
	c := New(time.Minute, func(ctx context.Context, key string) (int, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return 0, errors.New("boom")
		}
		return 99, nil
	})

	if _, err := c.Get(context.Background(), "k"); err == nil {
		t.Fatal("expected first call to fail")
	}
	v, err := c.Get(context.Background(), "k")
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if v != 99 {
		t.Fatalf("v = %d, want 99", v)
	}
}

func TestTTLCache_Invalidate(t *testing.T) {
	var calls int32
	c := New(time.Minute, func(ctx context.Context, key string) (int, error) {
		return int(atomic.AddInt32(&calls, 1)), nil
	})

	first, _ := c.Get(context.Background(), "k")
	c.Invalidate("k")
	second, _ := c.Get(context.Background(), "k")

	if first == second {
		t.Fatal("expected a fresh load after Invalidate")
	}
}
