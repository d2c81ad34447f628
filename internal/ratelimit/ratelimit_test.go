package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type testRoute struct {
	key   string
	major string
}

func (r testRoute) Key() string         { return r.key }
func (r testRoute) MajorParams() string { return r.major }

func TestBucketWindowReset(t *testing.T) {
	b := NewBucket("test", 2, 50*time.Millisecond, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := b.Acquire(ctx); err != nil {
			t.Fatalf("Acquire returned error: %v", err)
		}
	}

	if b.Remaining() != 0 {
		t.Fatalf("Expected 0 remaining, but got %d", b.Remaining())
	}

	time.Sleep(time.Until(b.ResetAt()) + 5*time.Millisecond)

	start := time.Now()

	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Errorf("Expected immediate acquire after reset, took %s", elapsed)
	}

	if b.Remaining() != 1 {
		t.Errorf("Expected %d remaining, but got %d", 1, b.Remaining())
	}
}

func TestBucketSixthAcquireWaitsForReset(t *testing.T) {
	b := NewBucket("test", 5, 200*time.Millisecond, nil)
	ctx := context.Background()

	var wg sync.WaitGroup

	start := time.Now()

	for i := 0; i < 5; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := b.Acquire(ctx); err != nil {
				t.Errorf("Acquire returned error: %v", err)
			}
		}()
	}

	wg.Wait()

	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("Expected five immediate acquires, took %s", elapsed)
	}

	resetAt := b.ResetAt()

	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	if time.Now().Before(resetAt) {
		t.Errorf("Sixth acquire returned before the window reset")
	}

	if b.Remaining() != 4 {
		t.Errorf("Expected 4 remaining, but got %d", b.Remaining())
	}
}

func TestBucketFIFO(t *testing.T) {
	b := NewBucket("test", 1, 100*time.Millisecond, nil)
	ctx := context.Background()

	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)

	for i := 0; i < 4; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			if err := b.Acquire(ctx); err != nil {
				t.Errorf("Acquire returned error: %v", err)

				return
			}

			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}(i)

		// Wait for the waiter to be queued before adding the next one.
		for b.Queued() != i+1 {
			time.Sleep(time.Millisecond)
		}
	}

	wg.Wait()

	expected := []int{0, 1, 2, 3}

	if !reflect.DeepEqual(order, expected) {
		t.Errorf("Expected %v, but got %v", expected, order)
	}
}

func TestBucketCeilingDrainsQueue(t *testing.T) {
	b := NewBucket("test", 1, time.Hour, nil)
	ctx := context.Background()

	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	queuedErr := make(chan error, 1)

	go func() {
		queuedErr <- b.Acquire(ctx)
	}()

	for b.Queued() != 1 {
		time.Sleep(time.Millisecond)
	}

	b.maxWait.Store(time.Second)

	var ceilingErr *CeilingExceededError

	if err := b.Acquire(ctx); !errors.As(err, &ceilingErr) {
		t.Fatalf("Expected CeilingExceededError, but got %v", err)
	}

	if ceilingErr.RetryAfter <= time.Second {
		t.Errorf("Expected retry after above the ceiling, but got %s", ceilingErr.RetryAfter)
	}

	select {
	case err := <-queuedErr:
		if !errors.As(err, &ceilingErr) {
			t.Errorf("Expected queued waiter to fail with CeilingExceededError, but got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Queued waiter was stranded")
	}
}

func TestBucketAcquireCancelled(t *testing.T) {
	b := NewBucket("test", 1, time.Hour, nil)

	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := b.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded, but got %v", err)
	}
}

func TestGlobalThrottleBlocksAll(t *testing.T) {
	registry := NewRegistry(zerolog.Nop(), 0)
	defer registry.Close()

	routes := []testRoute{
		{key: "GET /channels/{channel_id}", major: "1"},
		{key: "POST /channels/{channel_id}/messages", major: "2"},
		{key: "GET /users/@me", major: ""},
	}

	retryAfter := 100 * time.Millisecond
	registry.Global().Trip(retryAfter)

	if !registry.IsRateLimited(routes[2]) {
		t.Errorf("Expected route to be ratelimited while the global throttle is tripped")
	}

	start := time.Now()

	var wg sync.WaitGroup

	for _, route := range routes {
		wg.Add(1)

		go func(route testRoute) {
			defer wg.Done()

			if err := registry.Bucket(route).Acquire(context.Background()); err != nil {
				t.Errorf("Acquire returned error: %v", err)
			}

			if elapsed := time.Since(start); elapsed < retryAfter-5*time.Millisecond {
				t.Errorf("Acquire on %s returned after %s, before the throttle cleared", route.key, elapsed)
			}
		}(route)
	}

	wg.Wait()

	if registry.Global().IsTripped() {
		t.Errorf("Expected throttle to be cleared")
	}
}

func TestGlobalThrottleClear(t *testing.T) {
	g := NewGlobalThrottle()
	g.Trip(time.Hour)

	done := make(chan error, 1)

	go func() {
		done <- g.Wait(context.Background())
	}()

	g.Clear()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Wait returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Clear")
	}
}

func TestGlobalThrottleExtends(t *testing.T) {
	g := NewGlobalThrottle()
	g.Trip(20 * time.Millisecond)
	g.Trip(80 * time.Millisecond)
	g.Trip(10 * time.Millisecond)

	time.Sleep(40 * time.Millisecond)

	if !g.IsTripped() {
		t.Errorf("Expected the longer trip to still hold")
	}

	time.Sleep(60 * time.Millisecond)

	if g.IsTripped() {
		t.Errorf("Expected throttle to be cleared")
	}
}

func TestRegistryRekeyIdempotent(t *testing.T) {
	registry := NewRegistry(zerolog.Nop(), 0)
	defer registry.Close()

	route := testRoute{key: "POST /channels/{channel_id}/messages", major: "1"}

	provisional := registry.Bucket(route)

	first := registry.Update(route, "abcd", http.Header{}, http.StatusOK)
	if first != provisional {
		t.Errorf("Expected the provisional bucket to be re-keyed, got a new bucket")
	}

	count := registry.Len()

	second := registry.Update(route, "abcd", http.Header{}, http.StatusOK)
	if second != first {
		t.Errorf("Expected the same bucket after a repeated update")
	}

	if registry.Len() != count {
		t.Errorf("Expected %d buckets, but got %d", count, registry.Len())
	}

	if registry.Bucket(route) != first {
		t.Errorf("Expected route to resolve to the discovered bucket")
	}
}

func TestRegistrySharedHashMerges(t *testing.T) {
	registry := NewRegistry(zerolog.Nop(), 0)
	defer registry.Close()

	a := testRoute{key: "GET /channels/{channel_id}/messages", major: "1"}
	b := testRoute{key: "GET /channels/{channel_id}/pins", major: "1"}

	canonical := registry.Update(a, "shared", http.Header{}, http.StatusOK)
	merged := registry.Update(b, "shared", http.Header{}, http.StatusOK)

	if merged != canonical {
		t.Errorf("Expected both routes to share one bucket")
	}

	if registry.Bucket(b) != canonical {
		t.Errorf("Expected second route to resolve to the shared bucket")
	}
}

func TestRegistryUpdateFromHeaders(t *testing.T) {
	registry := NewRegistry(zerolog.Nop(), 0)
	defer registry.Close()

	route := testRoute{key: "GET /guilds/{guild_id}", major: "1"}

	header := http.Header{}
	header.Set("X-RateLimit-Limit", "10")
	header.Set("X-RateLimit-Remaining", "0")
	header.Set("X-RateLimit-Reset-After", "1.5")

	bucket := registry.Update(route, "", header, http.StatusOK)

	if bucket.Limit() != 10 {
		t.Errorf("Expected limit 10, but got %d", bucket.Limit())
	}

	if !registry.IsRateLimited(route) {
		t.Errorf("Expected route to be ratelimited")
	}

	// Ratelimited responses and missing headers leave state untouched.
	header.Set("X-RateLimit-Remaining", "7")
	registry.Update(route, "", header, http.StatusTooManyRequests)
	registry.Update(route, "", http.Header{}, http.StatusOK)

	if bucket.Remaining() != 0 {
		t.Errorf("Expected 0 remaining, but got %d", bucket.Remaining())
	}
}

func TestRegistryClose(t *testing.T) {
	registry := NewRegistry(zerolog.Nop(), 0)
	route := testRoute{key: "GET /gateway", major: ""}

	header := http.Header{}
	header.Set("X-RateLimit-Remaining", "0")
	header.Set("X-RateLimit-Reset-After", "60")
	registry.Update(route, "", header, http.StatusOK)

	done := make(chan error, 1)

	go func() {
		done <- registry.Bucket(route).Acquire(context.Background())
	}()

	time.Sleep(10 * time.Millisecond)
	registry.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrRegistryClosed) {
			t.Errorf("Expected ErrRegistryClosed, but got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire did not return after Close")
	}
}

func TestBucketCancelReturnsGrantedPermit(t *testing.T) {
	b := NewBucket("test", 2, time.Hour, nil)

	for i := 0; i < 2; i++ {
		if err := b.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire returned error: %v", err)
		}
	}

	// A permit granted at the same moment the caller gave up.
	w := &waiter{ready: make(chan error, 1)}
	w.ready <- nil

	b.cancel(w)

	if !w.cancelled.Load() {
		t.Errorf("Expected waiter to be marked cancelled")
	}

	if b.Remaining() != 1 {
		t.Errorf("Expected the permit to be returned, but got %d remaining", b.Remaining())
	}

	if err := b.Acquire(context.Background()); err != nil {
		t.Errorf("Acquire returned error: %v", err)
	}

	// A waiter that was failed keeps nothing to return.
	w = &waiter{ready: make(chan error, 1)}
	w.ready <- ErrRegistryClosed

	b.cancel(w)

	if b.Remaining() != 0 {
		t.Errorf("Expected 0 remaining, but got %d", b.Remaining())
	}
}

func TestBucketRechecksGlobalThrottle(t *testing.T) {
	registry := NewRegistry(zerolog.Nop(), 0)
	defer registry.Close()

	bucket := registry.Bucket(testRoute{key: "GET /gateway", major: ""})

	retryAfter := 50 * time.Millisecond

	// Acquire passes the global check and then blocks on the bucket lock.
	bucket.mu.Lock()

	done := make(chan error, 1)

	go func() {
		done <- bucket.Acquire(context.Background())
	}()

	time.Sleep(10 * time.Millisecond)

	start := time.Now()
	registry.Global().Trip(retryAfter)
	bucket.mu.Unlock()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Acquire returned error: %v", err)
		}

		if elapsed := time.Since(start); elapsed < retryAfter-5*time.Millisecond {
			t.Errorf("Acquire returned after %s, before the throttle cleared", elapsed)
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire did not return after the throttle cleared")
	}
}
