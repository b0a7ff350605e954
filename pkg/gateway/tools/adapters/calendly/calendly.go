// Package calendly is a minimal Calendly API client covering availability
// lookups and prefilled booking links.
package calendly

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.calendly.com"

type Slot struct {
	Start         time.Time
	SchedulingURL string
}

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewClient(apiKey, baseURL string, httpClient *http.Client) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (c *Client) Configured() bool {
	return c != nil && c.apiKey != ""
}

// AvailableTimes lists open start times for an event type in [from, to).
// Calendly caps the range at 7 days per request.
func (c *Client) AvailableTimes(ctx context.Context, eventType string, from, to time.Time) ([]Slot, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("calendly api key is not configured")
	}
	if strings.TrimSpace(eventType) == "" {
		return nil, fmt.Errorf("event type is required")
	}

	q := url.Values{}
	q.Set("event_type", eventType)
	q.Set("start_time", from.UTC().Format(time.RFC3339))
	q.Set("end_time", to.UTC().Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/event_type_available_times?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return nil, fmt.Errorf("calendly error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var decoded struct {
		Collection []struct {
			Status        string    `json:"status"`
			StartTime     time.Time `json:"start_time"`
			SchedulingURL string    `json:"scheduling_url"`
		} `json:"collection"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	slots := make([]Slot, 0, len(decoded.Collection))
	for _, s := range decoded.Collection {
		if s.Status != "" && s.Status != "available" {
			continue
		}
		slots = append(slots, Slot{Start: s.StartTime, SchedulingURL: s.SchedulingURL})
	}
	return slots, nil
}

// BookingLink builds a prefilled scheduling link for a public event URL.
func BookingLink(eventURL, name, email string, start time.Time) string {
	u, err := url.Parse(strings.TrimSpace(eventURL))
	if err != nil || u.Host == "" {
		return eventURL
	}
	if !start.IsZero() {
		u.Path = strings.TrimRight(u.Path, "/") + "/" + start.UTC().Format("2006-01-02T15:04:05Z")
	}
	q := u.Query()
	if strings.TrimSpace(name) != "" {
		q.Set("name", strings.TrimSpace(name))
	}
	if strings.TrimSpace(email) != "" {
		q.Set("email", strings.TrimSpace(email))
	}
	u.RawQuery = q.Encode()
	return u.String()
}
