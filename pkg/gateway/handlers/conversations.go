package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vocalis-ai/vocalis/pkg/core"
	"github.com/vocalis-ai/vocalis/pkg/gateway/config"
	"github.com/vocalis-ai/vocalis/pkg/gateway/store"
)

const recentConversationLimit = 20

// ConversationsHandler persists and lists transcript snapshots. POST is the
// fire-and-forget flush target of the session core: it replaces the whole
// snapshot for a session id.
type ConversationsHandler struct {
	Config config.Config
	Store  *store.Store
	Logger *slog.Logger
}

type upsertConversationRequest struct {
	SessionID string          `json:"session_id"`
	Messages  json.RawMessage `json:"messages"`
}

func (h ConversationsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store is not configured"})
		return
	}
	switch r.Method {
	case http.MethodPost:
		h.upsert(w, r)
	case http.MethodGet:
		h.list(w, r)
	default:
		writeError(w, r, core.NewInvalidRequestError("method not allowed"))
	}
}

func (h ConversationsHandler) upsert(w http.ResponseWriter, r *http.Request) {
	var req upsertConversationRequest
	if err := decodeJSON(w, r, h.Config.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("session_id is required", "session_id"))
		return
	}
	if len(req.Messages) == 0 {
		req.Messages = json.RawMessage("[]")
	}

	if err := h.Store.UpsertConversation(r.Context(), req.SessionID, req.Messages); err != nil {
		if h.Logger != nil {
			h.Logger.Error("conversation upsert failed", "session", req.SessionID, "error", err)
		}
		writeError(w, r, core.NewAPIError("could not persist conversation"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h ConversationsHandler) list(w http.ResponseWriter, r *http.Request) {
	convs, err := h.Store.RecentConversations(r.Context(), recentConversationLimit)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("conversation list failed", "error", err)
		}
		writeError(w, r, core.NewAPIError("could not list conversations"))
		return
	}
	if convs == nil {
		convs = []store.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}
