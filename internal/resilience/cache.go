package resilience

import (
	"bytes"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gatehouse.org/internal/obs"
)

const (
	defaultCacheTTL         = time.Minute
	defaultCleanupThreshold = 1000
)

// failureMarker is the envelope signature of an unsuccessful response;
// such bodies are never cached even when the status is 2xx.
var failureMarker = []byte(`"success":false`)

type cacheEntry struct {
	status  int
	header  http.Header
	body    []byte
	expires time.Time
}

// Cache is a process-local response cache for successful GET responses.
// Expired keys are evicted lazily on read; once the map grows past the
// cleanup threshold a full sweep runs. State is per instance and never
// shared across replicas.
type Cache struct {
	mu               sync.Mutex
	entries          map[string]*cacheEntry
	ttl              time.Duration
	cleanupThreshold int
	now              func() time.Time
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

func WithCacheTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithCleanupThreshold(n int) CacheOption {
	return func(c *Cache) {
		if n > 0 {
			c.cleanupThreshold = n
		}
	}
}

// WithCacheClock overrides the time source (useful for tests).
func WithCacheClock(fn func() time.Time) CacheOption {
	return func(c *Cache) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCache constructs an empty cache.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		entries:          make(map[string]*cacheEntry),
		ttl:              defaultCacheTTL,
		cleanupThreshold: defaultCleanupThreshold,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key builds the cache key from method, path, and the sorted query string,
// so parameter order never splits entries.
func Key(r *http.Request) string {
	q := r.URL.Query()
	if len(q) == 0 {
		return r.Method + " " + r.URL.Path
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString(r.Method)
	sb.WriteByte(' ')
	sb.WriteString(r.URL.Path)
	sb.WriteByte('?')
	for i, k := range keys {
		vals := append([]string(nil), q[k]...)
		sort.Strings(vals)
		for j, v := range vals {
			if i+j > 0 {
				sb.WriteByte('&')
			}
			sb.WriteString(k)
			sb.WriteByte('=')
			sb.WriteString(v)
		}
	}
	return sb.String()
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) get(key string) (*cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expires.After(c.now()) {
		delete(c.entries, key)
		return nil, false
	}
	return e, true
}

func (c *Cache) put(key string, e *cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = e
	if len(c.entries) > c.cleanupThreshold {
		now := c.now()
		var swept int
		for k, v := range c.entries {
			if !v.expires.After(now) {
				delete(c.entries, k)
				swept++
			}
		}
		if swept > 0 {
			obs.LogEvent("info", "cache_sweep", map[string]any{
				"swept": swept, "remaining": len(c.entries),
			})
		}
	}
}

// maxAgeOverride extracts a max-age TTL override from Cache-Control.
func maxAgeOverride(header string) (time.Duration, bool) {
	for _, directive := range strings.Split(header, ",") {
		directive = strings.TrimSpace(directive)
		if v, ok := strings.CutPrefix(directive, "max-age="); ok {
			secs, err := strconv.Atoi(v)
			if err != nil || secs <= 0 {
				return 0, false
			}
			return time.Duration(secs) * time.Second, true
		}
	}
	return 0, false
}

func hasNoCache(header string) bool {
	for _, directive := range strings.Split(header, ",") {
		if strings.TrimSpace(directive) == "no-cache" {
			return true
		}
	}
	return false
}

// Middleware serves cached GET responses and stores fresh successful ones.
// A request bearing Cache-Control: no-cache bypasses both lookup and store.
// Credentialed requests are never cached: the key carries no identity, so a
// stored response would leak across callers.
func (c *Cache) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.Header.Get("Authorization") != "" {
			next.ServeHTTP(w, r)
			return
		}
		cc := r.Header.Get("Cache-Control")
		if hasNoCache(cc) {
			w.Header().Set("X-Cache", "BYPASS")
			next.ServeHTTP(w, r)
			return
		}

		key := Key(r)
		if e, ok := c.get(key); ok {
			dst := w.Header()
			for k, vv := range e.header {
				dst[k] = vv
			}
			dst.Set("X-Cache", "HIT")
			w.WriteHeader(e.status)
			_, _ = w.Write(e.body)
			return
		}

		buf := NewResponseBuffer()
		next.ServeHTTP(buf, r)

		if cacheable(buf) {
			ttl := c.ttl
			if override, ok := maxAgeOverride(cc); ok {
				ttl = override
			}
			body := append([]byte(nil), buf.Body()...)
			c.put(key, &cacheEntry{
				status:  buf.Status(),
				header:  buf.Header().Clone(),
				body:    body,
				expires: c.now().Add(ttl),
			})
		}

		buf.Header().Set("X-Cache", "MISS")
		buf.Flush(w)
	})
}

func cacheable(buf *ResponseBuffer) bool {
	if buf.Status() < 200 || buf.Status() > 299 {
		return false
	}
	return !bytes.Contains(buf.Body(), failureMarker)
}
