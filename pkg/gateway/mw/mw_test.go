package mw

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vocalis-ai/vocalis/pkg/core"
	"github.com/vocalis-ai/vocalis/pkg/gateway/auth"
	"github.com/vocalis-ai/vocalis/pkg/gateway/config"
	"github.com/vocalis-ai/vocalis/pkg/gateway/ratelimit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequestIDGenerated(t *testing.T) {
	var got string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = RequestIDFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if !strings.HasPrefix(got, "req_") {
		t.Fatalf("request id = %q, want req_ prefix", got)
	}
	if hdr := rec.Header().Get("X-Request-ID"); hdr != got {
		t.Fatalf("header = %q, want %q", hdr, got)
	}
}

func TestRequestIDPassthrough(t *testing.T) {
	var got string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = RequestIDFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req_upstream")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got != "req_upstream" {
		t.Fatalf("request id = %q, want req_upstream", got)
	}
}

func TestAuthDisabledPassesThrough(t *testing.T) {
	cfg := config.Config{AuthMode: config.AuthModeDisabled}
	rec := httptest.NewRecorder()
	Auth(cfg, okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAuthRequiredRejectsMissingToken(t *testing.T) {
	cfg := config.Config{AuthMode: config.AuthModeRequired, JWTSecret: "secret"}
	rec := httptest.NewRecorder()
	Auth(cfg, okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	var env struct {
		Error *core.Error `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if env.Error == nil || env.Error.Type != core.ErrAuthentication {
		t.Fatalf("error = %+v, want authentication_error", env.Error)
	}
}

func TestAuthOptionalAllowsAnonymous(t *testing.T) {
	cfg := config.Config{AuthMode: config.AuthModeOptional, JWTSecret: "secret"}
	rec := httptest.NewRecorder()
	Auth(cfg, okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAuthOptionalRejectsBadToken(t *testing.T) {
	cfg := config.Config{AuthMode: config.AuthModeOptional, JWTSecret: "secret"}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	rec := httptest.NewRecorder()
	Auth(cfg, okHandler()).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthRequiredPassesSignalingRoute(t *testing.T) {
	cfg := config.Config{AuthMode: config.AuthModeRequired, JWTSecret: "secret"}
	req := httptest.NewRequest(http.MethodPost, "/v1/realtime/calls", nil)
	req.Header.Set("Authorization", "Bearer eph_abc")
	rec := httptest.NewRecorder()
	Auth(cfg, okHandler()).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAuthResolvesPrincipal(t *testing.T) {
	cfg := config.Config{AuthMode: config.AuthModeRequired, JWTSecret: "secret"}
	token, err := auth.Sign(auth.Principal{Subject: "user_1", Email: "ada@example.com"}, "secret")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	var got *auth.Principal
	h := Auth(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.PrincipalFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got == nil || got.Subject != "user_1" || got.Email != "ada@example.com" {
		t.Fatalf("principal = %+v, want user_1 / ada@example.com", got)
	}
}

func TestRateLimitDenies(t *testing.T) {
	limiter := ratelimit.New(1, time.Minute, nil)
	h := RateLimit(limiter, nil, okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/tools/knowledge", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("first status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/tools/knowledge", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Fatalf("Retry-After = %q, want 60", rec.Header().Get("Retry-After"))
	}
}

func TestRateLimitSkipsHealth(t *testing.T) {
	limiter := ratelimit.New(1, time.Minute, nil)
	h := RateLimit(limiter, nil, okHandler())

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("healthz request %d status = %d, want 200", i+1, rec.Code)
		}
	}
}

func TestRecover(t *testing.T) {
	h := Recover(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestCORSPreflightAllowed(t *testing.T) {
	cfg := config.Config{CORSAllowedOrigins: map[string]struct{}{"https://app.example.com": {}}}
	req := httptest.NewRequest(http.MethodOptions, "/v1/realtime/token", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	rec := httptest.NewRecorder()
	CORS(cfg, okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("allow-origin = %q, want the origin echoed", got)
	}
}

func TestCORSPreflightDeniedByDefault(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/v1/realtime/token", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	rec := httptest.NewRecorder()
	CORS(config.Config{}, okHandler()).ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestCORSSimpleRequestUnlistedOriginGetsNoHeaders(t *testing.T) {
	cfg := config.Config{CORSAllowedOrigins: map[string]struct{}{"https://app.example.com": {}}}
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example.com")

	rec := httptest.NewRecorder()
	CORS(cfg, okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unlisted origin received Access-Control-Allow-Origin")
	}
}
