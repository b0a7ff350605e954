package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vocalis-ai/vocalis/pkg/core"
	"github.com/vocalis-ai/vocalis/pkg/gateway/config"
	"github.com/vocalis-ai/vocalis/pkg/gateway/telemetry"
)

// TokenHandler mints one ephemeral realtime credential per request against
// the upstream provider. The credential authorizes exactly one negotiation
// attempt; the gateway's own API key never reaches the client.
type TokenHandler struct {
	Config     config.Config
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *telemetry.Metrics
}

type tokenRequest struct {
	CallerName  string `json:"caller_name"`
	CallerEmail string `json:"caller_email"`
}

type tokenResponse struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at"`
}

func (h TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, h.Config.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}

	upstreamBody, err := json.Marshal(map[string]any{
		"session": map[string]any{
			"type":  "realtime",
			"model": h.Config.RealtimeModel,
		},
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	url := strings.TrimRight(h.Config.RealtimeBaseURL, "/") + "/realtime/client_secrets"
	upstreamReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, url, bytes.NewReader(upstreamBody))
	if err != nil {
		writeError(w, r, err)
		return
	}
	upstreamReq.Header.Set("Content-Type", "application/json")
	upstreamReq.Header.Set("Authorization", "Bearer "+h.Config.RealtimeAPIKey)

	resp, err := h.httpClient().Do(upstreamReq)
	if err != nil {
		writeError(w, r, core.NewAPIError(fmt.Sprintf("realtime provider unreachable: %v", err)))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if h.Logger != nil {
			h.Logger.Warn("credential mint rejected", "status", resp.StatusCode, "body", string(snippet))
		}
		writeError(w, r, core.NewAPIError(fmt.Sprintf("realtime provider returned status %d", resp.StatusCode)))
		return
	}

	var minted tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&minted); err != nil {
		writeError(w, r, core.NewAPIError(fmt.Sprintf("decode provider response: %v", err)))
		return
	}
	if strings.TrimSpace(minted.Value) == "" {
		writeError(w, r, core.NewAPIError("provider response has no credential value"))
		return
	}

	h.Metrics.Minted(r.Context())
	if h.Logger != nil {
		h.Logger.Info("minted credential", "caller", req.CallerName, "email", req.CallerEmail, "expires_at", minted.ExpiresAt)
	}
	writeJSON(w, http.StatusOK, minted)
}

func (h TokenHandler) httpClient() *http.Client {
	if h.HTTPClient != nil {
		return h.HTTPClient
	}
	return http.DefaultClient
}
