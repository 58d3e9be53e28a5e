package oauthlifecycle

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestBackoffWithJitterIncreases checks the backoff grows across attempts
// and always includes a non-negative jitter component.
func TestBackoffWithJitterIncreases(t *testing.T) {
	base := 100 * time.Millisecond

	d1 := backoffWithJitter(base, 1)
	d3 := backoffWithJitter(base, 3)

	if d1 < base {
		t.Errorf("attempt 1 backoff %v should be at least base %v", d1, base)
	}
	if d3 <= d1 {
		t.Errorf("attempt 3 backoff %v should exceed attempt 1 backoff %v", d3, d1)
	}
}

func TestCoalesceRefreshToken(t *testing.T) {
	if got := coalesceRefreshToken("new", "old"); got != "new" {
		t.Errorf("expected fresh token to win, got %q", got)
	}
	if got := coalesceRefreshToken("", "old"); got != "old" {
		t.Errorf("expected fallback to previous token when platform omits one, got %q", got)
	}
}

// TestSingleflightCollapsesConcurrentCalls verifies the concurrency
// contract independent of Manager: K concurrent callers sharing a
// singleflight key produce exactly one execution of the wrapped function.
func TestSingleflightCollapsesConcurrentCalls(t *testing.T) {
	m := &Manager{}
	var calls int32

	const callers = 20
	var wg sync.WaitGroup
	wg.Add(callers)

	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			<-start
			m.group.Do("same-connection", func() (any, error) {
				atomic.AddInt32(&calls, 1)
				time.Sleep(10 * time.Millisecond)
				return "token", nil
			})
		}()
	}
	close(start)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected exactly 1 upstream call for %d concurrent callers, got %d", callers, got)
	}
}
