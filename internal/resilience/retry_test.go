package resilience

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryEventualSuccess(t *testing.T) {
	var delays []time.Duration
	rt := NewRetrier(
		WithMaxRetries(3),
		WithBaseDelay(100*time.Millisecond),
		WithSleeper(func(d time.Duration) { delays = append(delays, d) }),
		WithJitterSource(func() float64 { return 0 }),
	)

	calls := 0
	handler := rt.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("finally"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/slow", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "finally", rr.Body.String())
	assert.Equal(t, 3, calls)
	// exponential backoff without jitter: 100ms, 200ms
	require.Len(t, delays, 2)
	assert.Equal(t, 100*time.Millisecond, delays[0])
	assert.Equal(t, 200*time.Millisecond, delays[1])
}

func TestRetryExhaustsBudget(t *testing.T) {
	rt := NewRetrier(WithMaxRetries(2), WithSleeper(func(time.Duration) {}))

	calls := 0
	handler := rt.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/down", nil))

	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, 3, calls, "initial attempt plus two retries")
}

func TestRetrySkipsNonIdempotentMethods(t *testing.T) {
	rt := NewRetrier(WithSleeper(func(time.Duration) {}))

	calls := 0
	handler := rt.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/mutate", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, 1, calls)
}

func TestRetryPassesThroughNonRetryableStatus(t *testing.T) {
	rt := NewRetrier(WithSleeper(func(d time.Duration) { t.Fatalf("unexpected sleep %v", d) }))

	calls := 0
	handler := rt.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, 1, calls)
}

func TestBackoffCapsAtMaxDelay(t *testing.T) {
	rt := NewRetrier(
		WithBaseDelay(time.Second),
		WithMaxDelay(3*time.Second),
		WithJitterSource(func() float64 { return 0 }),
	)

	assert.Equal(t, time.Second, rt.Backoff(1))
	assert.Equal(t, 2*time.Second, rt.Backoff(2))
	assert.Equal(t, 3*time.Second, rt.Backoff(3), "capped")
	assert.Equal(t, 3*time.Second, rt.Backoff(10), "still capped")
}

func TestBackoffJitterStaysWithinTenPercent(t *testing.T) {
	rt := NewRetrier(
		WithBaseDelay(100*time.Millisecond),
		WithJitterSource(func() float64 { return 0.999 }),
	)
	d := rt.Backoff(1)
	assert.GreaterOrEqual(t, d, 100*time.Millisecond)
	assert.Less(t, d, 110*time.Millisecond)
}

func TestRetryableStatusSet(t *testing.T) {
	for _, status := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, RetryableStatus(status), "status %d", status)
	}
	for _, status := range []int{200, 201, 204, 301, 400, 401, 403, 404, 409, 422} {
		assert.False(t, RetryableStatus(status), "status %d", status)
	}
}
