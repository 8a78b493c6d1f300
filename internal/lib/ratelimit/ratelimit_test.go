package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStats struct {
	mu     sync.Mutex
	events []Event
}

func (m *memoryStats) Record(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func TestMiddlewareAllowsThenRejectsSameKey(t *testing.T) {
	stats := &memoryStats{}
	calls := 0
	h := Middleware(Options{
		Store:      NewStore(0.01, 1),
		Stats:      stats,
		RetryAfter: 30 * time.Second,
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	do := func(remote string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/admin/login", nil)
		r.RemoteAddr = remote
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1:1234").Code)

	second := do("10.0.0.1:5678")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "30", second.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, do("10.0.0.2:1234").Code, "other keys keep their own bucket")
	assert.Equal(t, 2, calls)

	require.Len(t, stats.events, 3)
	assert.True(t, stats.events[0].Allowed)
	assert.False(t, stats.events[1].Allowed)
	assert.Equal(t, "10.0.0.1", stats.events[1].Key)
}

func TestMiddlewareCustomReject(t *testing.T) {
	h := Middleware(Options{
		Store: NewStore(0.01, 1),
		KeyFn: func(*http.Request) string { return "fixed" },
		OnReject: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i, want := range []int{http.StatusOK, http.StatusTeapot} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, want, w.Code, "request %d", i)
	}
}

func TestMiddlewareWithoutStorePassesThrough(t *testing.T) {
	h := Middleware(Options{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{"remote addr", "192.0.2.1:3000", nil, "192.0.2.1"},
		{"forwarded first hop", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}, "203.0.113.5"},
		{"real ip", "10.0.0.1:1", map[string]string{"X-Real-IP": "198.51.100.7"}, "198.51.100.7"},
		{"no port", "192.0.2.9", nil, "192.0.2.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}

func TestStoreCleanupForgetsIdleKeys(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(1, 1, WithIdleTTL(time.Minute))
	s.now = func() time.Time { return now }

	s.Allow("a")
	now = now.Add(30 * time.Second)
	s.Allow("b")
	now = now.Add(45 * time.Second)

	s.Cleanup()
	assert.Equal(t, 1, s.Len())
}

func TestRedisStatsKeysAndNilSafety(t *testing.T) {
	s := NewRedisStats(nil, ":modtok:login:", 0)
	total, minute, route := s.Keys(time.Date(2026, 3, 4, 5, 6, 0, 0, time.UTC))
	assert.Equal(t, "modtok:login:total", total)
	assert.Equal(t, "modtok:login:minute:202603040506", minute)
	assert.Equal(t, "modtok:login:route", route)

	assert.NoError(t, s.Record(context.Background(), Event{Key: "x"}))
	var nilStats *RedisStats
	assert.NoError(t, nilStats.Record(context.Background(), Event{Key: "x"}))
}
