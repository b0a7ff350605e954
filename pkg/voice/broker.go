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

	"github.com/vocalis-ai/vocalis/pkg/core"
)

const (
	// refreshSafetyBuffer is subtracted from a credential's remaining
	// lifetime when scheduling the proactive refresh.
	refreshSafetyBuffer = 30 * time.Second

	maxTokenResponseBytes = 1 << 20
)

// Credential is one short-lived credential minted for a connection attempt.
type Credential struct {
	Value     string
	ExpiresAt time.Time
}

// CallerIdentity identifies the human on the call. Forwarded when minting so
// the collaborator can bind the credential and the caller's memory to them.
type CallerIdentity struct {
	Name  string
	Email string
}

// Broker mints ephemeral connection credentials from the token collaborator.
// Each connection attempt mints a fresh credential; credentials are never
// reused across attempts.
type Broker struct {
	tokenURL   string
	httpClient *http.Client
	caller     CallerIdentity
}

// NewBroker creates a credential broker. The caller identity, when present,
// is forwarded so the collaborator can bind the credential to a caller.
func NewBroker(tokenURL string, httpClient *http.Client, caller CallerIdentity) *Broker {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Broker{
		tokenURL:   strings.TrimSpace(tokenURL),
		httpClient: httpClient,
		caller: CallerIdentity{
			Name:  strings.TrimSpace(caller.Name),
			Email: strings.TrimSpace(caller.Email),
		},
	}
}

// Configured reports whether the broker has a token endpoint.
func (b *Broker) Configured() bool {
	return b != nil && b.tokenURL != ""
}

type tokenRequest struct {
	CallerName  string `json:"caller_name,omitempty"`
	CallerEmail string `json:"caller_email,omitempty"`
}

type tokenResponse struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at"`
}

// Mint requests one fresh credential. Failures are credential errors and are
// eligible for the supervisor's retry path.
func (b *Broker) Mint(ctx context.Context) (Credential, error) {
	if !b.Configured() {
		return Credential{}, core.NewCredentialError("token endpoint is not configured")
	}

	body, err := json.Marshal(tokenRequest{CallerName: b.caller.Name, CallerEmail: b.caller.Email})
	if err != nil {
		return Credential{}, core.NewCredentialError(fmt.Sprintf("encode token request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.tokenURL, bytes.NewReader(body))
	if err != nil {
		return Credential{}, core.NewCredentialError(fmt.Sprintf("build token request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return Credential{}, core.NewCredentialError(fmt.Sprintf("token endpoint unreachable: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Credential{}, core.NewCredentialError(
			fmt.Sprintf("token endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	var tr tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxTokenResponseBytes)).Decode(&tr); err != nil {
		return Credential{}, core.NewCredentialError(fmt.Sprintf("decode token response: %v", err))
	}
	if strings.TrimSpace(tr.Value) == "" {
		return Credential{}, core.NewCredentialError("token response has no credential value")
	}

	cred := Credential{Value: tr.Value}
	if tr.ExpiresAt > 0 {
		cred.ExpiresAt = time.Unix(tr.ExpiresAt, 0)
	}
	return cred, nil
}

// TimeUntilRefresh returns how long to wait before proactively replacing a
// credential that expires at the given time. The refresh fires a safety
// buffer ahead of expiry, and immediately when the credential is already
// inside the buffer. A zero expiry means the credential does not expire.
func TimeUntilRefresh(expiresAt time.Time, now time.Time) (time.Duration, bool) {
	if expiresAt.IsZero() {
		return 0, false
	}
	d := expiresAt.Sub(now) - refreshSafetyBuffer
	if d < 0 {
		d = 0
	}
	return d, true
}
