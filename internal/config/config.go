package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every runtime knob the service reads from the environment.
type Config struct {
	Addr     string
	GRPCAddr string

	PostgresDSN string

	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string

	CORSOrigins []string

	RateBurst  int
	RatePerSec int

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

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:     envDefault("GATEHOUSE_ADDR", ":8080"),
		GRPCAddr: os.Getenv("GATEHOUSE_GRPC_ADDR"),

		PostgresDSN: os.Getenv("GATEHOUSE_PG_DSN"),

		AccessSecret:  []byte(os.Getenv("GATEHOUSE_ACCESS_SECRET")),
		RefreshSecret: []byte(os.Getenv("GATEHOUSE_REFRESH_SECRET")),
		AccessTTL:     envDurationDefault("GATEHOUSE_ACCESS_TTL", 15*time.Minute),
		RefreshTTL:    envDurationDefault("GATEHOUSE_REFRESH_TTL", 7*24*time.Hour),
		Issuer:        envDefault("GATEHOUSE_ISSUER", "gatehouse"),

		CORSOrigins: csv(os.Getenv("GATEHOUSE_CORS_ORIGINS")),

		RateBurst:  envIntDefault("GATEHOUSE_RATE_BURST", 20),
		RatePerSec: envIntDefault("GATEHOUSE_RATE_PER_SEC", 10),

		RequestTimeout: envDurationDefault("GATEHOUSE_REQUEST_TIMEOUT", 30*time.Second),
		MaxBodyBytes:   envInt64Default("GATEHOUSE_MAX_BODY_BYTES", 1<<20),

		CacheTTL: envDurationDefault("GATEHOUSE_CACHE_TTL", time.Minute),

		BreakerFailureThreshold: envIntDefault("GATEHOUSE_BREAKER_FAILURES", 5),
		BreakerRecoveryTimeout:  envDurationDefault("GATEHOUSE_BREAKER_RECOVERY", time.Minute),
		BreakerHalfOpenMax:      envIntDefault("GATEHOUSE_BREAKER_HALF_OPEN", 3),

		RetryMax:       envIntDefault("GATEHOUSE_RETRY_MAX", 3),
		RetryBaseDelay: envDurationDefault("GATEHOUSE_RETRY_BASE_DELAY", 100*time.Millisecond),
		RetryMaxDelay:  envDurationDefault("GATEHOUSE_RETRY_MAX_DELAY", 5*time.Second),
	}
}

// Validate checks the invariants the server cannot start without.
func (c Config) Validate() error {
	if len(c.AccessSecret) == 0 {
		return fmt.Errorf("missing required env GATEHOUSE_ACCESS_SECRET")
	}
	if len(c.RefreshSecret) == 0 {
		return fmt.Errorf("missing required env GATEHOUSE_REFRESH_SECRET")
	}
	if string(c.AccessSecret) == string(c.RefreshSecret) {
		return fmt.Errorf("access and refresh secrets must differ")
	}
	return nil
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envInt64Default(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func csv(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
