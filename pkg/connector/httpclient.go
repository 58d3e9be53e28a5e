package connector

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
)

// RateLimitedClient wraps an *http.Client with a circuit breaker so a
// platform having a bad day trips open after repeated server errors
// instead of letting every discovery run queue up against it, and honors
// Retry-After on 429 responses by handing the caller a wait duration.
type RateLimitedClient struct {
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewRateLimitedClient builds a client for the named platform. name is used
// as the breaker's identity in logs/metrics.
func NewRateLimitedClient(name string, timeout time.Duration) *RateLimitedClient {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &RateLimitedClient{
		http:    &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// ErrRateLimited is returned when the platform answered 429; RetryAfter is
// the duration the caller should wait before trying again.
type ErrRateLimited struct {
	RetryAfter time.Duration
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("connector: rate limited, retry after %s", e.RetryAfter)
}

// Do executes req through the circuit breaker. A 5xx response counts as a
// breaker failure; a 429 is translated into ErrRateLimited without tripping
// the breaker, since rate limiting is expected platform behavior, not an
// outage.
func (c *RateLimitedClient) Do(req *http.Request) (*http.Response, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			return nil, fmt.Errorf("connector: upstream returned %d", resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}

	resp := result.(*http.Response)
	if resp.StatusCode == http.StatusTooManyRequests {
		wait := parseRetryAfter(resp.Header.Get("Retry-After"))
		resp.Body.Close()
		return nil, &ErrRateLimited{RetryAfter: wait}
	}

	return resp, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 30 * time.Second
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(header); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 30 * time.Second
}
