package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestClientIP(t *testing.T) {
	proxies := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	tests := []struct {
		name    string
		trusted []netip.Prefix
		headers map[string]string
		remote  string
		want    string
	}{
		{"untrusted peer forwarded", nil, map[string]string{"X-Forwarded-For": "203.0.113.7"}, "192.0.2.1:1234", "192.0.2.1"},
		{"untrusted peer real ip", nil, map[string]string{"X-Real-IP": "198.51.100.2"}, "192.0.2.1:1234", "192.0.2.1"},
		{"trusted proxy forwarded", proxies, map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.5"}, "10.0.0.2:1234", "203.0.113.7"},
		{"spoofed left hops ignored", proxies, map[string]string{"X-Forwarded-For": "1.2.3.4, 203.0.113.7"}, "10.0.0.2:1234", "203.0.113.7"},
		{"malformed hop", proxies, map[string]string{"X-Forwarded-For": "junk, 10.0.0.9"}, "10.0.0.2:1234", "10.0.0.9"},
		{"trusted proxy real ip", proxies, map[string]string{"X-Real-IP": "198.51.100.2"}, "10.0.0.2:1234", "198.51.100.2"},
		{"remote addr", proxies, nil, "192.0.2.1:5555", "192.0.2.1"},
		{"ipv6 remote", nil, nil, "[2001:db8::1]:443", "2001:db8::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}

			var got string
			RealIP(tt.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = ClientIP(r)
			})).ServeHTTP(httptest.NewRecorder(), r)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIPRateLimiter(t *testing.T) {
	h := NewIPRateLimiter(1, 2).Middleware(ok)

	do := func(ip string) int {
		r := httptest.NewRequest(http.MethodPost, "/auth/reporter", nil)
		r.RemoteAddr = ip + ":1000"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do("192.0.2.1"))
	assert.Equal(t, http.StatusOK, do("192.0.2.1"))
	assert.Equal(t, http.StatusTooManyRequests, do("192.0.2.1"))
	assert.Equal(t, http.StatusOK, do("192.0.2.2"), "buckets are per IP")
}

func TestIPRateLimiterIgnoresForwardedFromUntrustedPeer(t *testing.T) {
	limiter := NewIPRateLimiter(1, 2)
	h := RealIP(nil)(limiter.Middleware(ok))

	codes := make([]int, 0, 3)
	for _, forwarded := range []string{"203.0.113.1", "203.0.113.2", "203.0.113.3"} {
		r := httptest.NewRequest(http.MethodPost, "/auth/reporter", nil)
		r.RemoteAddr = "192.0.2.1:1000"
		r.Header.Set("X-Forwarded-For", forwarded)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, 1, limiter.Len())
}

func TestIPRateLimiterEvictsIdle(t *testing.T) {
	limiter := NewIPRateLimiter(1, 2)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return clock }

	limiter.GetLimiter("192.0.2.1")
	limiter.GetLimiter("192.0.2.2")
	assert.Equal(t, 2, limiter.Len())

	clock = clock.Add(5 * time.Minute)
	limiter.GetLimiter("192.0.2.2")

	clock = clock.Add(limiterIdleTTL)
	limiter.GetLimiter("192.0.2.3")
	assert.Equal(t, 1, limiter.Len(), "only the fresh bucket survives")

	clock = clock.Add(time.Minute)
	limiter.GetLimiter("192.0.2.2")
	assert.Equal(t, 2, limiter.Len())
}

func TestSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SecurityHeaders(ok).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
}

func TestRecovererAndLogger(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	boom := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	h := RequestLogger(log)(Recoverer(log)(boom))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x?ticket=secret", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, buf.String(), `"panic":"boom"`)
	assert.Contains(t, buf.String(), `"path":"/x"`)
	assert.NotContains(t, buf.String(), "secret")
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example"})(ok)

	r := httptest.NewRequest(http.MethodOptions, "/api/v1/reports", nil)
	r.Header.Set("Origin", "https://app.example")
	r.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	require.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	r = httptest.NewRequest(http.MethodGet, "/api/v1/reports", nil)
	r.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
