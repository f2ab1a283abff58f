package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"syscall"
	"time"

	"gatehouse.org/internal/obs"
)

// State is the circuit breaker lifecycle position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

const (
	defaultFailureThreshold = 5
	defaultRecoveryTimeout  = time.Minute
	defaultHalfOpenMax      = 3
)

// Breaker is a process-local circuit breaker. Transitions:
//
//	Closed    -> Open      after failureThreshold consecutive failures
//	Open      -> HalfOpen  lazily, on the first call after recoveryTimeout
//	HalfOpen  -> Closed    after halfOpenMax successful trial calls
//	HalfOpen  -> Open      on any failure
//
// The Open->HalfOpen check happens on the request path; there is no
// background timer.
type Breaker struct {
	mu sync.Mutex

	failureThreshold int
	recoveryTimeout  time.Duration
	halfOpenMax      int
	now              func() time.Time

	state               State
	consecutiveFailures int
	totalCalls          int64
	lastFailure         time.Time
	halfOpenAdmitted    int
	halfOpenSuccesses   int
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

func WithFailureThreshold(n int) BreakerOption {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

func WithRecoveryTimeout(d time.Duration) BreakerOption {
	return func(b *Breaker) {
		if d > 0 {
			b.recoveryTimeout = d
		}
	}
}

func WithHalfOpenMax(n int) BreakerOption {
	return func(b *Breaker) {
		if n > 0 {
			b.halfOpenMax = n
		}
	}
}

// WithBreakerClock overrides the time source (useful for tests).
func WithBreakerClock(fn func() time.Time) BreakerOption {
	return func(b *Breaker) {
		if fn != nil {
			b.now = fn
		}
	}
}

// NewBreaker constructs a closed breaker.
func NewBreaker(opts ...BreakerOption) *Breaker {
	b := &Breaker{
		failureThreshold: defaultFailureThreshold,
		recoveryTimeout:  defaultRecoveryTimeout,
		halfOpenMax:      defaultHalfOpenMax,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the current state, applying the lazy Open->HalfOpen
// transition first.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpenLocked()
	return b.state
}

// Allow reports whether a call may proceed. When rejected, retryAfter
// carries the remaining recovery window.
func (b *Breaker) Allow() (ok bool, retryAfter time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeHalfOpenLocked()

	switch b.state {
	case StateOpen:
		remaining := b.recoveryTimeout - b.now().Sub(b.lastFailure)
		if remaining < time.Second {
			remaining = time.Second
		}
		return false, remaining
	case StateHalfOpen:
		if b.halfOpenAdmitted >= b.halfOpenMax {
			return false, time.Second
		}
		b.halfOpenAdmitted++
	}
	b.totalCalls++
	return true, 0
}

func (b *Breaker) maybeHalfOpenLocked() {
	if b.state == StateOpen && b.now().Sub(b.lastFailure) >= b.recoveryTimeout {
		b.state = StateHalfOpen
		b.halfOpenAdmitted = 0
		b.halfOpenSuccesses = 0
	}
}

// RecordSuccess resets the consecutive-failure counter unconditionally and
// advances the half-open trial count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	if b.state == StateHalfOpen {
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.halfOpenMax {
			b.state = StateClosed
			obs.LogEvent("info", "breaker_closed", nil)
		}
	}
}

// RecordFailure counts a qualifying failure and trips the breaker when the
// threshold is reached. Any half-open failure reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()
	b.consecutiveFailures++

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		obs.LogEvent("warn", "breaker_reopened", nil)
	case StateClosed:
		if b.consecutiveFailures >= b.failureThreshold {
			b.state = StateOpen
			obs.LogEvent("warn", "breaker_opened", map[string]any{
				"consecutive_failures": b.consecutiveFailures,
			})
		}
	}
}

// ServerFailureStatus reports whether an HTTP status counts toward the
// failure threshold. Client errors never trip the breaker.
func ServerFailureStatus(status int) bool {
	return status >= 500 || status == http.StatusRequestTimeout
}

// TransientError reports whether err is a timeout or one of the network
// failure classes (connection refused/reset, DNS not found) that count as
// server-side failures.
func TransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}

// BreakerMiddleware guards the handler chain with the breaker. Open-circuit
// rejections answer 503 with a Retry-After hint; the reject writer can be
// replaced so callers control the body shape.
func BreakerMiddleware(b *Breaker, reject func(w http.ResponseWriter, r *http.Request, retryAfter time.Duration)) func(http.Handler) http.Handler {
	if reject == nil {
		reject = func(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Round(time.Second).Seconds())))
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, retryAfter := b.Allow()
			if !ok {
				reject(w, r, retryAfter)
				return
			}
			sw := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(sw, r)
			if ServerFailureStatus(sw.code) {
				b.RecordFailure()
				return
			}
			b.RecordSuccess()
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
