package resilience

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsAggregatesPerEndpoint(t *testing.T) {
	s := NewStats()

	s.Record("GET", "/v1/auth/profile", 200, 10*time.Millisecond)
	s.Record("GET", "/v1/auth/profile", 200, 30*time.Millisecond)
	s.Record("GET", "/v1/auth/profile", 401, 20*time.Millisecond)
	s.Record("POST", "/v1/auth/login", 200, 40*time.Millisecond)

	ep, ok := s.Endpoint("GET /v1/auth/profile")
	require.True(t, ok)
	assert.Equal(t, int64(3), ep.Count)
	assert.Equal(t, 20*time.Millisecond, ep.AvgDuration)
	assert.Equal(t, 10*time.Millisecond, ep.MinDuration)
	assert.Equal(t, 30*time.Millisecond, ep.MaxDuration)
	assert.Equal(t, int64(2), ep.Success)
	assert.Equal(t, int64(1), ep.Errors)
	assert.Equal(t, int64(2), ep.Statuses[200])
	assert.Equal(t, int64(1), ep.Statuses[401])

	_, ok = s.Endpoint("DELETE /v1/auth/profile")
	assert.False(t, ok)

	snap := s.Snapshot()
	require.NotEmpty(t, snap)
	assert.Equal(t, "ALL", snap[0].Key)
	assert.Equal(t, int64(4), snap[0].Count)
}

func TestStatsHealthVerdicts(t *testing.T) {
	s := NewStats()
	assert.Equal(t, VerdictHealthy, s.Health(), "no traffic yet")

	for i := 0; i < 95; i++ {
		s.Record("GET", "/ok", 200, 5*time.Millisecond)
	}
	assert.Equal(t, VerdictHealthy, s.Health())

	// push the error rate past 10%
	for i := 0; i < 15; i++ {
		s.Record("GET", "/ok", 500, 5*time.Millisecond)
	}
	assert.Equal(t, VerdictDegraded, s.Health())

	// past 50%
	for i := 0; i < 200; i++ {
		s.Record("GET", "/ok", 500, 5*time.Millisecond)
	}
	assert.Equal(t, VerdictUnhealthy, s.Health())
}

func TestStatsHealthDegradedOnLatency(t *testing.T) {
	s := NewStats()
	for i := 0; i < 10; i++ {
		s.Record("GET", "/slowish", 200, 1500*time.Millisecond)
	}
	assert.Equal(t, VerdictDegraded, s.Health())

	s2 := NewStats()
	for i := 0; i < 10; i++ {
		s2.Record("GET", "/glacial", 200, 4*time.Second)
	}
	assert.Equal(t, VerdictUnhealthy, s2.Health())
}

func TestStatsMiddlewareRecords(t *testing.T) {
	s := NewStats()
	handler := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/auth/register", nil))

	ep, ok := s.Endpoint("POST /v1/auth/register")
	require.True(t, ok)
	assert.Equal(t, int64(1), ep.Count)
	assert.Equal(t, int64(1), ep.Statuses[http.StatusCreated])
}

func TestStatsIsolatedInstances(t *testing.T) {
	a := NewStats()
	b := NewStats()
	a.Record("GET", "/x", 200, time.Millisecond)

	_, ok := b.Endpoint("GET /x")
	assert.False(t, ok, "instances share no state")
}
