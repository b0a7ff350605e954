package handlers

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/vocalis-ai/vocalis/pkg/core"
	"github.com/vocalis-ai/vocalis/pkg/gateway/config"
)

// CallsHandler proxies SDP negotiation to the upstream realtime provider.
// The ephemeral credential minted by TokenHandler arrives on the client's
// Authorization header and is forwarded as-is; the gateway's own API key is
// used only when the client sends none.
type CallsHandler struct {
	Config     config.Config
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func (h CallsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	maxBytes := h.Config.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	offer, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
	if err != nil {
		writeError(w, r, core.NewInvalidRequestError(fmt.Sprintf("read offer: %v", err)))
		return
	}
	if len(bytes.TrimSpace(offer)) == 0 {
		writeError(w, r, core.NewInvalidRequestError("offer description is required"))
		return
	}

	endpoint := strings.TrimRight(h.Config.RealtimeBaseURL, "/") + "/realtime/calls?model=" +
		url.QueryEscape(h.Config.RealtimeModel)
	upstreamReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, endpoint, bytes.NewReader(offer))
	if err != nil {
		writeError(w, r, err)
		return
	}
	upstreamReq.Header.Set("Content-Type", "application/sdp")
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		authz = "Bearer " + h.Config.RealtimeAPIKey
	}
	upstreamReq.Header.Set("Authorization", authz)

	resp, err := h.httpClient().Do(upstreamReq)
	if err != nil {
		writeError(w, r, core.NewAPIError(fmt.Sprintf("realtime provider unreachable: %v", err)))
		return
	}
	defer resp.Body.Close()

	answer, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		writeError(w, r, core.NewAPIError(fmt.Sprintf("read answer: %v", err)))
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if h.Logger != nil {
			h.Logger.Warn("signaling rejected", "status", resp.StatusCode, "body", string(answer[:min(len(answer), 512)]))
		}
		writeError(w, r, core.NewAPIError(fmt.Sprintf("realtime provider returned status %d", resp.StatusCode)))
		return
	}

	w.Header().Set("Content-Type", "application/sdp")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(answer)
}

func (h CallsHandler) httpClient() *http.Client {
	if h.HTTPClient != nil {
		return h.HTTPClient
	}
	return http.DefaultClient
}
