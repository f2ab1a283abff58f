package resilience

import (
	"math/rand"
	"net/http"
	"time"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = 100 * time.Millisecond
	defaultMaxDelay   = 5 * time.Second
)

var retryableStatuses = map[int]struct{}{
	http.StatusRequestTimeout:      {},
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

// RetryableStatus reports whether a response status qualifies for a retry.
func RetryableStatus(status int) bool {
	_, ok := retryableStatuses[status]
	return ok
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// Retrier re-executes idempotent requests whose responses came back with a
// transient status. Other methods and non-retryable statuses pass through
// untouched without consuming an attempt.
type Retrier struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	sleep      func(time.Duration)
	jitter     func() float64
}

// RetryOption configures a Retrier.
type RetryOption func(*Retrier)

func WithMaxRetries(n int) RetryOption {
	return func(rt *Retrier) {
		if n >= 0 {
			rt.maxRetries = n
		}
	}
}

func WithBaseDelay(d time.Duration) RetryOption {
	return func(rt *Retrier) {
		if d > 0 {
			rt.baseDelay = d
		}
	}
}

func WithMaxDelay(d time.Duration) RetryOption {
	return func(rt *Retrier) {
		if d > 0 {
			rt.maxDelay = d
		}
	}
}

// WithSleeper overrides the delay function (tests inject a recorder).
func WithSleeper(fn func(time.Duration)) RetryOption {
	return func(rt *Retrier) {
		if fn != nil {
			rt.sleep = fn
		}
	}
}

// WithJitterSource overrides the jitter fraction source in [0,1).
func WithJitterSource(fn func() float64) RetryOption {
	return func(rt *Retrier) {
		if fn != nil {
			rt.jitter = fn
		}
	}
}

// NewRetrier constructs a Retrier with exponential backoff defaults.
func NewRetrier(opts ...RetryOption) *Retrier {
	rt := &Retrier{
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		maxDelay:   defaultMaxDelay,
		sleep:      time.Sleep,
		jitter:     rand.Float64,
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Backoff computes the delay before retry number attempt (1-based):
// min(maxDelay, baseDelay * 2^(attempt-1) * (1 + up to 10% jitter)).
func (rt *Retrier) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := rt.baseDelay << uint(attempt-1)
	delay = time.Duration(float64(delay) * (1 + 0.1*rt.jitter()))
	if delay > rt.maxDelay {
		delay = rt.maxDelay
	}
	return delay
}

// Middleware buffers the inner response and replays the request on
// transient failures. The client sees exactly one response: the first
// non-retryable one, or the last attempt.
func (rt *Retrier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !idempotent(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		buf := NewResponseBuffer()
		for attempt := 0; ; attempt++ {
			buf.Reset()
			next.ServeHTTP(buf, r)

			if !RetryableStatus(buf.Status()) || attempt >= rt.maxRetries {
				buf.Flush(w)
				return
			}
			if r.Context().Err() != nil {
				buf.Flush(w)
				return
			}
			rt.sleep(rt.Backoff(attempt + 1))
		}
	})
}
