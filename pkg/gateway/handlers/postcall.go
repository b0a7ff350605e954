package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vocalis-ai/vocalis/pkg/core"
	"github.com/vocalis-ai/vocalis/pkg/gateway/config"
	"github.com/vocalis-ai/vocalis/pkg/gateway/research"
	"github.com/vocalis-ai/vocalis/pkg/gateway/store"
)

// PostCallHandler runs the wrap-up pipeline after a call ends: summarize the
// transcript, remember the caller, and record the summary against their
// history. Each step degrades independently.
type PostCallHandler struct {
	Config   config.Config
	Store    *store.Store
	Research *research.Analyzer
	Logger   *slog.Logger
}

type postCallRequest struct {
	SessionID   string `json:"session_id"`
	CallerEmail string `json:"caller_email"`
	CallerName  string `json:"caller_name"`
	Company     string `json:"company"`
	Messages    []struct {
		Role string `json:"role"`
		Text string `json:"text"`
	} `json:"messages"`
}

func (h PostCallHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req postCallRequest
	if err := decodeJSON(w, r, h.Config.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("session_id is required", "session_id"))
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("messages is required", "messages"))
		return
	}

	summary := h.summarize(r, req)

	email := strings.TrimSpace(req.CallerEmail)
	if email != "" && h.Store != nil {
		if err := h.Store.UpsertCaller(r.Context(), email, req.CallerName, req.Company); err != nil && h.Logger != nil {
			h.Logger.Error("caller upsert failed", "email", email, "error", err)
		}
		if err := h.Store.InsertCallSummary(r.Context(), email, req.SessionID, summary); err != nil && h.Logger != nil {
			h.Logger.Error("call summary insert failed", "session", req.SessionID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

func (h PostCallHandler) summarize(r *http.Request, req postCallRequest) string {
	var b strings.Builder
	for _, m := range req.Messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Text)
	}

	if h.Research.Configured() {
		summary, err := h.Research.SummarizeCall(r.Context(), b.String())
		if err == nil && strings.TrimSpace(summary) != "" {
			return summary
		}
		if err != nil && h.Logger != nil {
			h.Logger.Warn("call summarization failed", "session", req.SessionID, "error", err)
		}
	}

	// Fallback: first user line stands in for the whole call.
	for _, m := range req.Messages {
		if m.Role == "user" && strings.TrimSpace(m.Text) != "" {
			return fmt.Sprintf("Caller said: %s (%d messages total)", m.Text, len(req.Messages))
		}
	}
	return fmt.Sprintf("Call with %d messages; no summary available.", len(req.Messages))
}
