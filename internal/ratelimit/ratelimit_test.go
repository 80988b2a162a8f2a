package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/fenceio/fence/internal/errs"
)

func TestAllowWithinWindow(t *testing.T) {
	clock := time.Unix(1000, 0)
	l := NewLimiter(Config{MaxCalls: 3, Window: time.Minute})
	l.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		if err := l.Allow(); err != nil {
			t.Fatalf("call %d rejected: %v", i+1, err)
		}
	}

	// The (N+1)-th call inside the window is rejected.
	if err := l.Allow(); !errs.IsKind(err, errs.RateLimitExceeded) {
		t.Fatalf("call 4: got %v, want rate limit exceeded", err)
	}

	// After the window elapses, a new call succeeds.
	clock = clock.Add(time.Minute + time.Second)
	if err := l.Allow(); err != nil {
		t.Fatalf("call after window elapsed: %v", err)
	}
}

func TestAllowSlidingBehavior(t *testing.T) {
	clock := time.Unix(1000, 0)
	l := NewLimiter(Config{MaxCalls: 2, Window: time.Minute})
	l.now = func() time.Time { return clock }

	if err := l.Allow(); err != nil {
		t.Fatal(err)
	}
	clock = clock.Add(40 * time.Second)
	if err := l.Allow(); err != nil {
		t.Fatal(err)
	}

	// 30s later the first call has aged out but the second has not.
	clock = clock.Add(30 * time.Second)
	if err := l.Allow(); err != nil {
		t.Fatalf("call after first aged out: %v", err)
	}
	if err := l.Allow(); !errs.IsKind(err, errs.RateLimitExceeded) {
		t.Fatalf("window should be full again: got %v", err)
	}
}

func TestUnlimited(t *testing.T) {
	l := NewLimiter(Config{})
	for i := 0; i < 100; i++ {
		if err := l.Allow(); err != nil {
			t.Fatalf("unlimited limiter rejected call %d: %v", i, err)
		}
	}
}

// The check-and-record must be atomic: under concurrency, exactly MaxCalls
// admissions succeed.
func TestAllowConcurrent(t *testing.T) {
	l := NewLimiter(Config{MaxCalls: 10, Window: time.Minute})

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Allow(); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 10 {
		t.Errorf("admitted = %d, want exactly 10", admitted)
	}
}
