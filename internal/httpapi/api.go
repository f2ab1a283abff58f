package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/resilience"
)

// Options carries the tunables the HTTP layer needs from configuration.
type Options struct {
	Version        string
	CORSOrigins    []string
	RateBurst      int
	RatePerSec     int
	RequestTimeout time.Duration
	MaxBodyBytes   int64

	CacheTTL time.Duration

	BreakerFailureThreshold int
	BreakerRecoveryTimeout  time.Duration
	BreakerHalfOpenMax      int

	RetryMax       int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// API is the HTTP layer: routing, per-route authorization, and the
// resilience components that wrap the mux.
type API struct {
	mux        *http.ServeMux
	svc        *auth.Service
	guard      *auth.Guard
	stats      *resilience.Stats
	cache      *resilience.Cache
	breaker    *resilience.Breaker
	retrier    *resilience.Retrier
	readyProbe ReadyProbe
	opts       Options
}

// New wires routes, the role guard, and the resilience chain. Zero-valued
// option fields fall back to each component's own defaults.
func New(svc *auth.Service, rp ReadyProbe, opts Options) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		guard:      auth.NewGuard(),
		stats:      resilience.NewStats(),
		cache:      resilience.NewCache(resilience.WithCacheTTL(opts.CacheTTL)),
		breaker: resilience.NewBreaker(
			resilience.WithFailureThreshold(opts.BreakerFailureThreshold),
			resilience.WithRecoveryTimeout(opts.BreakerRecoveryTimeout),
			resilience.WithHalfOpenMax(opts.BreakerHalfOpenMax),
		),
		retrier: resilience.NewRetrier(
			resilience.WithMaxRetries(opts.RetryMax),
			resilience.WithBaseDelay(opts.RetryBaseDelay),
			resilience.WithMaxDelay(opts.RetryMaxDelay),
		),
		readyProbe: rp,
		opts:       opts,
	}

	// ops stats are admin-only; everything else guarded by authentication
	// alone.
	a.guard.Require(RouteStats, auth.RoleAdmin)

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /v1/auth/register", a.secure(RouteRegister, a.handleRegister))
	a.mux.HandleFunc("POST /v1/auth/login", a.secure(RouteLogin, a.handleLogin))
	a.mux.HandleFunc("POST /v1/auth/refresh", a.secure(RouteRefresh, a.handleRefresh))
	a.mux.HandleFunc("POST /v1/auth/logout", a.secure(RouteLogout, a.handleLogout))
	a.mux.HandleFunc("POST /v1/auth/logout-all", a.secure(RouteLogoutAll, a.handleLogoutAll))
	a.mux.HandleFunc("GET /v1/auth/profile", a.secure(RouteProfile, a.handleProfile))
	a.mux.HandleFunc("POST /v1/auth/change-password", a.secure(RouteChangePassword, a.handleChangePassword))

	a.mux.HandleFunc("GET /v1/ops/stats", a.secure(RouteStats, a.handleStats))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "no such endpoint")
	})

	return a
}

// Guard exposes the role guard so callers can add requirements.
func (a *API) Guard() *auth.Guard { return a.guard }

// Stats exposes the aggregator for the operational endpoints and server
// shutdown summaries.
func (a *API) Stats() *resilience.Stats { return a.stats }

// Handler assembles the middleware chain around the mux. Ordering, outermost
// first:
//
//	Recover, RequestID, LoggingJSON, SecurityHeaders, CORS, MaxBodyBytes,
//	RateLimit, Timeout, Instrument, Stats, Breaker, Retry, Gzip, Cache, mux
//
// The breaker sits outside the retrier so an open circuit short-circuits
// before any retry budget is spent. The cache sits inside gzip so stored
// entries hold plain bodies; compression is then negotiated per request,
// cache hits included.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = a.cache.Middleware(h)
	h = Gzip(h)
	h = a.retrier.Middleware(h)
	h = resilience.BreakerMiddleware(a.breaker, rejectOpenCircuit)(h)
	h = a.stats.Middleware(h)
	h = obs.Instrument(h)
	if a.opts.RequestTimeout > 0 {
		h = Timeout(h, a.opts.RequestTimeout)
	}
	h = RateLimit(h, a.opts.RateBurst, a.opts.RatePerSec)
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = CORS(h, a.opts.CORSOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	h = Recover(h)
	return h
}

// rejectOpenCircuit answers open-circuit rejections with the standard
// envelope instead of the breaker's plain-text default.
func rejectOpenCircuit(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Round(time.Second).Seconds())))
	writeError(w, r, http.StatusServiceUnavailable, "service temporarily unavailable")
}
