package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func echoPrincipal() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := PrincipalFrom(r.Context())
		_, _ = w.Write([]byte(p.UserID + "|" + p.Role))
	})
}

func TestAuthenticate(t *testing.T) {
	userToken, err := IssueToken(secret, "user-1", false, time.Hour)
	require.NoError(t, err)
	adminToken, err := IssueToken(secret, "ops", true, time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(secret, "user-1", false, -time.Minute)
	require.NoError(t, err)
	foreign, err := IssueToken("other-secret", "user-1", false, time.Hour)
	require.NoError(t, err)
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-1"}).SignedString([]byte(secret))
	require.NoError(t, err)

	tests := []struct {
		name     string
		header   string
		wantCode int
		wantBody string
	}{
		{"user", "Bearer " + userToken, http.StatusOK, "user-1|"},
		{"admin", "Bearer " + adminToken, http.StatusOK, "ops|admin"},
		{"missing", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic " + userToken, http.StatusUnauthorized, ""},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, ""},
		{"wrong secret", "Bearer " + foreign, http.StatusUnauthorized, ""},
		{"no expiry", "Bearer " + noExp, http.StatusUnauthorized, ""},
	}
	h := Authenticate(secret)(echoPrincipal())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/orders", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, w.Body.String())
			} else {
				assert.Contains(t, w.Body.String(), `"error"`)
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	h := Authenticate(secret)(RequireAdmin(echoPrincipal()))

	userToken, _ := IssueToken(secret, "user-1", false, time.Hour)
	r := httptest.NewRequest(http.MethodGet, "/admin/ledger/anomalies", nil)
	r.Header.Set("Authorization", "Bearer "+userToken)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusForbidden, w.Code)

	adminToken, _ := IssueToken(secret, "ops", true, time.Hour)
	r.Header.Set("Authorization", "Bearer "+adminToken)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPrincipalCanAccess(t *testing.T) {
	assert.True(t, Principal{UserID: "u1"}.CanAccess("u1"))
	assert.False(t, Principal{UserID: "u1"}.CanAccess("u2"))
	assert.True(t, Principal{UserID: "ops", Role: RoleAdmin}.CanAccess("u2"))
}

func TestRateLimiter(t *testing.T) {
	l := NewRateLimiter(1, 2)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	send := func(addr string) int {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = addr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, send("10.0.0.1:1000"))
	assert.Equal(t, http.StatusOK, send("10.0.0.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:1002"))
	assert.Equal(t, http.StatusOK, send("10.0.0.2:1000"), "buckets are per client")
}

func TestRateLimiterPrunesIdleClients(t *testing.T) {
	l := NewRateLimiter(1, 1)
	start := time.Now()
	assert.True(t, l.allow("a", start))
	assert.True(t, l.allow("b", start.Add(time.Hour)))
	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.clients, "a")
	assert.Contains(t, l.clients, "b")
}

func TestClientIP(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	h := ClientIP(trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.RemoteAddr))
	}))

	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{"direct peer keeps address", "6.6.6.6:4000", nil, "6.6.6.6:4000"},
		{"forged real ip from untrusted peer", "6.6.6.6:4000", map[string]string{"X-Real-IP": "196.201.214.200"}, "6.6.6.6:4000"},
		{"forged forwarded-for from untrusted peer", "6.6.6.6:4000", map[string]string{"X-Forwarded-For": "196.201.214.200"}, "6.6.6.6:4000"},
		{"trusted proxy real ip", "10.1.2.3:4000", map[string]string{"X-Real-IP": "196.201.214.200"}, "196.201.214.200"},
		{"trusted proxy forwarded-for takes rightmost untrusted hop", "10.1.2.3:4000",
			map[string]string{"X-Forwarded-For": "1.1.1.1, 196.201.214.200, 10.9.9.9"}, "196.201.214.200"},
		{"trusted proxy with garbage header", "10.1.2.3:4000", map[string]string{"X-Forwarded-For": "nonsense"}, "10.1.2.3:4000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, tt.want, w.Body.String())
		})
	}
}

func TestRateLimiterIgnoresForgedForwardingHeaders(t *testing.T) {
	h := ClientIP(nil)(NewRateLimiter(1, 1).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	codes := make([]int, 0, 3)
	for _, forged := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"} {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "6.6.6.6:4000"
		r.Header.Set("X-Real-IP", forged)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
}
