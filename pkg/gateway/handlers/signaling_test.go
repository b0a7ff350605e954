package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vocalis-ai/vocalis/pkg/core"
	"github.com/vocalis-ai/vocalis/pkg/gateway/apierror"
)

func TestCallsHandlerProxiesOffer(t *testing.T) {
	var gotAuth, gotModel, gotOffer, gotContentType string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realtime/calls" {
			t.Errorf("path = %q, want /realtime/calls", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotModel = r.URL.Query().Get("model")
		gotContentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		gotOffer = string(body)
		w.Header().Set("Content-Type", "application/sdp")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("v=0\na=answer"))
	}))
	defer upstream.Close()

	cfg := testConfig()
	cfg.RealtimeBaseURL = upstream.URL
	h := CallsHandler{Config: cfg, HTTPClient: upstream.Client()}

	req := httptest.NewRequest(http.MethodPost, "/v1/realtime/calls", strings.NewReader("v=0\na=offer"))
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set("Authorization", "Bearer eph_abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if gotAuth != "Bearer eph_abc" {
		t.Fatalf("upstream auth = %q, want Bearer eph_abc", gotAuth)
	}
	if gotModel != "gpt-realtime" {
		t.Fatalf("upstream model = %q, want gpt-realtime", gotModel)
	}
	if gotContentType != "application/sdp" {
		t.Fatalf("upstream content type = %q, want application/sdp", gotContentType)
	}
	if gotOffer != "v=0\na=offer" {
		t.Fatalf("upstream offer = %q", gotOffer)
	}
	if got := rec.Body.String(); got != "v=0\na=answer" {
		t.Fatalf("answer = %q", got)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/sdp" {
		t.Fatalf("content type = %q, want application/sdp", ct)
	}
}

func TestCallsHandlerFallsBackToGatewayKey(t *testing.T) {
	var gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte("v=0\na=answer"))
	}))
	defer upstream.Close()

	cfg := testConfig()
	cfg.RealtimeBaseURL = upstream.URL
	h := CallsHandler{Config: cfg, HTTPClient: upstream.Client()}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/realtime/calls", strings.NewReader("v=0\na=offer")))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotAuth != "Bearer sk-upstream" {
		t.Fatalf("upstream auth = %q, want Bearer sk-upstream", gotAuth)
	}
}

func TestCallsHandlerUpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such session", http.StatusUnauthorized)
	}))
	defer upstream.Close()

	cfg := testConfig()
	cfg.RealtimeBaseURL = upstream.URL
	h := CallsHandler{Config: cfg, HTTPClient: upstream.Client()}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/realtime/calls", strings.NewReader("v=0\na=offer")))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	var env apierror.Envelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Error == nil || env.Error.Type != core.ErrAPI {
		t.Fatalf("error = %+v, want api_error", env.Error)
	}
}

func TestCallsHandlerRequiresOffer(t *testing.T) {
	h := CallsHandler{Config: testConfig()}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/realtime/calls", strings.NewReader("  \n")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCallsHandlerRejectsGet(t *testing.T) {
	h := CallsHandler{Config: testConfig()}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/realtime/calls", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
