package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vocalis-ai/vocalis/pkg/gateway/config"
)

func newTestServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	s, err := New(context.Background(), cfg, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func baseConfig() config.Config {
	return config.Config{
		AuthMode:          config.AuthModeDisabled,
		MaxBodyBytes:      1 << 20,
		RealtimeAPIKey:    "sk-test",
		RealtimeModel:     "gpt-realtime",
		RateLimitRequests: 100,
		RateLimitWindow:   time.Minute,
	}
}

func TestHealthzThroughMiddleware(t *testing.T) {
	s := newTestServer(t, baseConfig())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("X-Request-ID header missing")
	}
}

func TestUnknownRouteGetsErrorEnvelope(t *testing.T) {
	s := newTestServer(t, baseConfig())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var env struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Error.Type != "not_found_error" {
		t.Fatalf("error type = %q, want not_found_error", env.Error.Type)
	}
}

func TestTokenRouteEndToEnd(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"value": "eph_abc", "expires_at": 1756400000})
	}))
	defer upstream.Close()

	cfg := baseConfig()
	cfg.RealtimeBaseURL = upstream.URL
	s := newTestServer(t, cfg)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/realtime/token",
		strings.NewReader(`{"caller_name":"Ada","caller_email":"ada@example.com"}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "eph_abc") {
		t.Fatalf("body = %q, want minted credential", rec.Body.String())
	}
}

func TestSignalingRouteEndToEnd(t *testing.T) {
	var gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/sdp")
		_, _ = w.Write([]byte("v=0\na=answer"))
	}))
	defer upstream.Close()

	cfg := baseConfig()
	cfg.AuthMode = config.AuthModeRequired
	cfg.JWTSecret = "secret"
	cfg.RealtimeBaseURL = upstream.URL
	s := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/v1/realtime/calls", strings.NewReader("v=0\na=offer"))
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set("Authorization", "Bearer eph_abc")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if gotAuth != "Bearer eph_abc" {
		t.Fatalf("upstream auth = %q, want the ephemeral credential forwarded", gotAuth)
	}
	if got := rec.Body.String(); got != "v=0\na=answer" {
		t.Fatalf("answer = %q", got)
	}
}

func TestAuthRequiredAppliesToToolRoutes(t *testing.T) {
	cfg := baseConfig()
	cfg.AuthMode = config.AuthModeRequired
	cfg.JWTSecret = "secret"
	s := newTestServer(t, cfg)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/tools/knowledge",
		strings.NewReader(`{"query":"pricing"}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRateLimitAppliedThroughChain(t *testing.T) {
	cfg := baseConfig()
	cfg.RateLimitRequests = 1
	s := newTestServer(t, cfg)

	h := s.Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/tools/schedule",
		strings.NewReader(`{}`)))
	first := rec.Code

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/tools/schedule",
		strings.NewReader(`{}`)))

	if first == http.StatusTooManyRequests {
		t.Fatalf("first request already limited, status = %d", first)
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", rec.Code)
	}
}

func TestRejectsBadRedisURL(t *testing.T) {
	cfg := baseConfig()
	cfg.RedisURL = "://not-a-url"
	if _, err := New(context.Background(), cfg, nil, nil); err == nil {
		t.Fatal("New() with bad redis url succeeded")
	}
}
