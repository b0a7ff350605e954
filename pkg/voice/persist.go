package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Flusher writes finalized transcript messages to the persistence
// collaborator. Persistence is fire-and-forget: a failed flush is logged by
// the caller and never affects the live conversation.
type Flusher struct {
	url        string
	httpClient *http.Client
}

// NewFlusher creates a transcript flusher. An empty URL disables persistence.
func NewFlusher(url string, httpClient *http.Client) *Flusher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Flusher{url: strings.TrimSpace(url), httpClient: httpClient}
}

// Configured reports whether persistence is enabled.
func (f *Flusher) Configured() bool {
	return f != nil && f.url != ""
}

type flushRequest struct {
	SessionID string              `json:"session_id"`
	Messages  []TranscriptMessage `json:"messages"`
}

// Flush upserts the session's finalized messages. Safe to call repeatedly
// with the same snapshot; the collaborator replaces by session id.
func (f *Flusher) Flush(ctx context.Context, sessionID string, messages []TranscriptMessage) error {
	if !f.Configured() {
		return nil
	}
	if len(messages) == 0 {
		return nil
	}

	body, err := json.Marshal(flushRequest{SessionID: sessionID, Messages: messages})
	if err != nil {
		return fmt.Errorf("encode flush request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build flush request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("flush transcript: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("flush transcript: status %d", resp.StatusCode)
	}
	return nil
}
