package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCORS(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	t.Run("preflight from allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/upload", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
		assert.Equal(t, "Origin", rec.Header().Get("Vary"))
	})

	t.Run("simple request from allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "Content-Disposition")
	})

	t.Run("disallowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://evil.example")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("wildcard", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Server.CORS.AllowedOrigins = []string{"*"}
		s := newTestServer(t, cfg)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://anything.example")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, "http://anything.example", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("disabled", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Server.CORS.Enabled = false
		s := newTestServer(t, cfg)

		req := httptest.NewRequest(http.MethodOptions, "/upload", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		assert.NotEqual(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestRateLimitIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Upload.RateLimit.Enabled = true
	cfg.Upload.RateLimit.RequestsPerMin = 1
	cfg.Upload.RateLimit.Burst = 1
	s := newTestServer(t, cfg)

	classify := func(forwardedFor string) int {
		req := httptest.NewRequest(http.MethodPost, "/classify", nil)
		req.RemoteAddr = "203.0.113.7:40000"
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", forwardedFor)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		return rec.Code
	}

	assert.NotEqual(t, http.StatusTooManyRequests, classify("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, classify("10.0.0.2"))
	assert.Equal(t, http.StatusTooManyRequests, classify("10.0.0.3"))
	assert.Equal(t, 1, s.limiter.size())
}

func TestClientIP(t *testing.T) {
	proxies := parseTrustedProxies([]string{"192.0.2.1", "10.0.0.0/8", "not-an-ip"})
	require.Len(t, proxies, 2)

	cases := []struct {
		name       string
		remoteAddr string
		xff        string
		realIP     string
		want       string
	}{
		{"untrusted peer", "203.0.113.7:1234", "198.51.100.9", "", "203.0.113.7"},
		{"trusted peer single hop", "192.0.2.1:1234", "198.51.100.9", "", "198.51.100.9"},
		{"trusted peer skips trusted hops", "192.0.2.1:1234", "198.51.100.9, 10.1.2.3", "", "198.51.100.9"},
		{"trusted peer ignores spoofed leftmost", "192.0.2.1:1234", "6.6.6.6, 198.51.100.9", "", "198.51.100.9"},
		{"trusted peer real ip", "192.0.2.1:1234", "", "198.51.100.4", "198.51.100.4"},
		{"trusted peer no headers", "192.0.2.1:1234", "", "", "192.0.2.1"},
		{"trusted peer garbage header", "192.0.2.1:1234", "nonsense", "", "192.0.2.1"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			assert.Equal(t, tc.want, proxies.clientIP(req))
		})
	}

	t.Run("no proxies configured", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		req.Header.Set("X-Forwarded-For", "198.51.100.9")
		assert.Equal(t, "192.0.2.1", parseTrustedProxies(nil).clientIP(req))
	})
}

func TestIPRateLimiterCleanup(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := newIPRateLimiter(60, 1)
	l.now = func() time.Time { return now }

	l.allow("198.51.100.1")
	now = now.Add(30 * time.Minute)
	l.allow("198.51.100.2")
	require.Equal(t, 2, l.size())

	now = now.Add(45 * time.Minute)
	assert.Equal(t, 1, l.cleanup(time.Hour))
	assert.Equal(t, 1, l.size())

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, l.cleanup(time.Hour))
	assert.Equal(t, 0, l.size())
}

func TestIPRateLimiterRunCleanupStops(t *testing.T) {
	l := newIPRateLimiter(60, 1)
	l.allow("198.51.100.1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.runCleanup(ctx, 5*time.Millisecond, 0, zap.NewNop())
		close(done)
	}()

	require.Eventually(t, func() bool { return l.size() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup loop did not stop after cancel")
	}
}
