package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"magink/crypto"
)

func testCaller(b byte) crypto.Address {
	var raw [20]byte
	raw[0] = b
	return crypto.NewAddress(crypto.AccountPrefix, raw[:])
}

func TestAuthenticatorAcceptsSignedToken(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{HMACSecret: "secret", Issuer: "magink"}, nil)
	caller := testCaller(1)

	token, err := SignToken("secret", "magink", caller, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	got, err := auth.Authenticate(token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got != caller {
		t.Fatalf("expected %s, got %s", caller, got)
	}

	wrongIssuer, _ := SignToken("secret", "other", caller, time.Minute)
	if _, err := auth.Authenticate(wrongIssuer); err == nil {
		t.Fatalf("expected issuer mismatch to fail")
	}
	expired, _ := SignToken("secret", "magink", caller, time.Nanosecond)
	auth.cfg.ClockSkew = time.Nanosecond
	time.Sleep(10 * time.Millisecond)
	if _, err := auth.Authenticate(expired); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestAuthMiddlewareSetsCaller(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{HMACSecret: "secret"}, nil)
	caller := testCaller(2)
	token, _ := SignToken("secret", "", caller, time.Minute)

	var seen crypto.Address
	var authenticated bool
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, authenticated = CallerFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if !authenticated || seen != caller {
		t.Fatalf("expected caller %s, got %s (ok=%v)", caller, seen, authenticated)
	}

	authenticated = false
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))
	if authenticated {
		t.Fatalf("anonymous request must not carry a caller")
	}

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", res.Code)
	}
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RatePerSecond: 1, Burst: 1}, nil)
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }

	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}

	other := httptest.NewRequest(http.MethodPost, "/", nil)
	other.RemoteAddr = "198.51.100.7:4000"
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, other)
	if res.Code != http.StatusOK {
		t.Fatalf("expected a different client to have its own bucket, got %d", res.Code)
	}

	now = now.Add(time.Second)
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected refill after one second, got %d", res.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"https://magink.app"}})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("preflight must not reach the handler")
	}))
	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://magink.app")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if got := res.Header().Get("Access-Control-Allow-Origin"); got != "https://magink.app" {
		t.Fatalf("unexpected origin header %q", got)
	}
}
