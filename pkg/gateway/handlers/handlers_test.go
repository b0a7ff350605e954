package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vocalis-ai/vocalis/pkg/gateway/config"
)

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler{}.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ok\n" {
		t.Fatalf("body = %q, want ok", rec.Body.String())
	}
}

func TestReadyHandlerReportsIssues(t *testing.T) {
	// No realtime key configured: readiness must surface it.
	h := ReadyHandler{Config: config.Config{
		AuthMode:            config.AuthModeDisabled,
		MaxBodyBytes:        1 << 20,
		ReadHeaderTimeout:   1,
		ReadTimeout:         1,
		ShutdownGracePeriod: 1,
	}}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var resp struct {
		OK     bool     `json:"ok"`
		Issues []string `json:"issues"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.OK || len(resp.Issues) == 0 {
		t.Fatalf("resp = %+v, want issues reported", resp)
	}
}

func TestReadyHandlerOK(t *testing.T) {
	h := ReadyHandler{Config: config.Config{
		AuthMode:            config.AuthModeDisabled,
		MaxBodyBytes:        1 << 20,
		RealtimeAPIKey:      "sk-test",
		ReadHeaderTimeout:   1,
		ReadTimeout:         1,
		ShutdownGracePeriod: 1,
	}, StoreReady: true}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestNotFoundHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NotFoundHandler{}.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "unknown route") {
		t.Fatalf("body = %q, want unknown route", rec.Body.String())
	}
}

func TestConversationsWithoutStore(t *testing.T) {
	h := ConversationsHandler{Config: testConfig()}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/conversations",
		strings.NewReader(`{"session_id":"s1","messages":[]}`)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestPostCallRequiresSessionID(t *testing.T) {
	h := PostCallHandler{Config: testConfig()}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/postcall",
		strings.NewReader(`{"messages":[{"role":"user","text":"hi"}]}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPostCallRequiresMessages(t *testing.T) {
	h := PostCallHandler{Config: testConfig()}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/postcall",
		strings.NewReader(`{"session_id":"s1"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPostCallFallbackSummary(t *testing.T) {
	// No analyzer and no store: the handler still answers with a summary
	// derived from the transcript.
	h := PostCallHandler{Config: testConfig()}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/postcall", strings.NewReader(
		`{"session_id":"s1","caller_email":"ada@example.com","messages":[
			{"role":"assistant","text":"Hello, how can I help?"},
			{"role":"user","text":"I want to book a call about the staff role."}
		]}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Summary string `json:"summary"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.Contains(resp.Summary, "book a call") {
		t.Fatalf("summary = %q, want the caller's ask included", resp.Summary)
	}
}

func TestDecodeJSONRejectsOversizedBody(t *testing.T) {
	var v map[string]any
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"pad":"`+strings.Repeat("x", 100)+`"}`))
	if err := decodeJSON(rec, req, 10, &v); err == nil {
		t.Fatal("decodeJSON() with oversized body succeeded")
	}
}

func TestDecodeJSONAllowsEmptyBody(t *testing.T) {
	var v struct {
		Days int `json:"days"`
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if err := decodeJSON(rec, req, 1<<20, &v); err != nil {
		t.Fatalf("decodeJSON() on empty body error = %v", err)
	}
}
