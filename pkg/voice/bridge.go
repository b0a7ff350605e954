package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vocalis-ai/vocalis/pkg/voice/protocol"
)

// toolPaths maps the remote model's function names onto gateway tool routes.
// An unmapped name is answered locally; it never produces an HTTP call.
var toolPaths = map[string]string{
	"check_availability":      "/v1/tools/availability",
	"schedule_meeting":        "/v1/tools/schedule",
	"send_confirmation_email": "/v1/tools/send-email",
	"retrieve_knowledge":      "/v1/tools/knowledge",
	"lookup_caller":           "/v1/tools/caller-memory",
	"research_role":           "/v1/tools/research-role",
}

// toolLabels are the user-facing activity labels per tool.
var toolLabels = map[string]string{
	"check_availability":      "Checking the calendar",
	"schedule_meeting":        "Booking a meeting",
	"send_confirmation_email": "Sending a confirmation email",
	"retrieve_knowledge":      "Searching background notes",
	"lookup_caller":           "Looking up the caller",
	"research_role":           "Researching the role",
}

// ToolLabel returns a short progress label for the named tool.
func ToolLabel(name string) string {
	if l, ok := toolLabels[name]; ok {
		return l
	}
	return "Running " + name
}

const maxToolResponseBytes = 1 << 20

// Bridge executes tool-call requests against the gateway's tool routes and
// renders the responses as natural-language strings for the remote model. A
// bridge never returns an error: every failure becomes a descriptive result
// string so the model can recover in conversation.
type Bridge struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewBridge creates a tool bridge rooted at the gateway base URL.
func NewBridge(baseURL string, httpClient *http.Client, logger *slog.Logger) *Bridge {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Execute runs one tool call to completion and returns the result string for
// the model. Exactly one result is produced per call, success or failure.
func (b *Bridge) Execute(ctx context.Context, call protocol.FunctionCall) string {
	path, ok := toolPaths[call.Name]
	if !ok {
		return fmt.Sprintf("I don't have a function called %q.", call.Name)
	}
	if b.baseURL == "" {
		return fmt.Sprintf("The %s tool is not available right now.", call.Name)
	}

	args := normalizeArguments(call.Arguments)

	body, status, err := b.post(ctx, path, args)
	if err != nil {
		b.logger.Warn("tool call failed", "tool", call.Name, "error", err)
		return fmt.Sprintf("The %s tool failed: %v. Let the caller know and offer to try again.", call.Name, err)
	}
	if status < 200 || status >= 300 {
		b.logger.Warn("tool call rejected", "tool", call.Name, "status", status)
		return fmt.Sprintf("The %s tool returned an error (status %d). Let the caller know and offer to try again.", call.Name, status)
	}

	return formatToolResult(call.Name, body)
}

// normalizeArguments validates the model's argument payload. Anything that is
// not a JSON object collapses to an empty object so the collaborator sees a
// well-formed request.
func normalizeArguments(args string) []byte {
	trimmed := strings.TrimSpace(args)
	if trimmed == "" {
		return []byte("{}")
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return []byte("{}")
	}
	return []byte(trimmed)
}

func (b *Bridge) post(ctx context.Context, path string, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxToolResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}

// formatToolResult renders a tool route response as prose. Responses that do
// not decode fall back to the raw body so the model still gets something.
func formatToolResult(name string, body []byte) string {
	switch name {
	case "check_availability":
		return formatAvailability(body)
	case "schedule_meeting":
		return formatSchedule(body)
	case "send_confirmation_email":
		return formatSendEmail(body)
	case "retrieve_knowledge":
		return formatKnowledge(body)
	case "lookup_caller":
		return formatCallerMemory(body)
	case "research_role":
		return formatResearch(body)
	}
	return strings.TrimSpace(string(body))
}

type availabilitySlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func formatAvailability(body []byte) string {
	var resp struct {
		Slots []availabilitySlot `json:"slots"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return strings.TrimSpace(string(body))
	}
	if len(resp.Slots) == 0 {
		return "No open slots were found in the requested window."
	}

	// Group by day so the model can read slots out naturally.
	var b strings.Builder
	b.WriteString("Open slots:\n")
	lastDay := ""
	for _, s := range resp.Slots {
		day := s.Start.Format("Monday, January 2")
		if day != lastDay {
			fmt.Fprintf(&b, "%s:\n", day)
			lastDay = day
		}
		fmt.Fprintf(&b, "  - %s to %s\n", s.Start.Format("3:04 PM"), s.End.Format("3:04 PM"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatSchedule(body []byte) string {
	var resp struct {
		Scheduled  bool      `json:"scheduled"`
		Start      time.Time `json:"start"`
		BookingURL string    `json:"booking_url"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return strings.TrimSpace(string(body))
	}
	if !resp.Scheduled {
		if resp.BookingURL != "" {
			return "The slot could not be booked directly. Share this booking link with the caller: " + resp.BookingURL
		}
		return "The meeting could not be scheduled. Offer to try a different time."
	}
	msg := "The meeting is booked"
	if !resp.Start.IsZero() {
		msg += " for " + resp.Start.Format("Monday, January 2 at 3:04 PM")
	}
	if resp.BookingURL != "" {
		msg += ". Details: " + resp.BookingURL
	}
	return msg + "."
}

func formatSendEmail(body []byte) string {
	var resp struct {
		Sent bool   `json:"sent"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return strings.TrimSpace(string(body))
	}
	if !resp.Sent {
		return "The confirmation email could not be sent. Let the caller know."
	}
	return "The confirmation email was sent."
}

func formatKnowledge(body []byte) string {
	var resp struct {
		Results []struct {
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return strings.TrimSpace(string(body))
	}
	if len(resp.Results) == 0 {
		return "Nothing relevant was found in the background notes."
	}
	var b strings.Builder
	b.WriteString("Relevant background notes:\n")
	for _, r := range resp.Results {
		fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(r.Content))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatCallerMemory(body []byte) string {
	var resp struct {
		Found      bool      `json:"found"`
		Name       string    `json:"name"`
		Company    string    `json:"company"`
		LastCallAt time.Time `json:"last_call_at"`
		Summary    string    `json:"summary"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return strings.TrimSpace(string(body))
	}
	if !resp.Found {
		return "This caller has not called before."
	}
	var b strings.Builder
	b.WriteString("Returning caller")
	if resp.Name != "" {
		b.WriteString(": " + resp.Name)
	}
	if resp.Company != "" {
		b.WriteString(" from " + resp.Company)
	}
	b.WriteString(".")
	if !resp.LastCallAt.IsZero() {
		fmt.Fprintf(&b, " Last call was %s.", resp.LastCallAt.Format("January 2, 2006"))
	}
	if resp.Summary != "" {
		b.WriteString(" Previous conversation: " + strings.TrimSpace(resp.Summary))
	}
	return b.String()
}

func formatResearch(body []byte) string {
	var resp struct {
		Brief string `json:"brief"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return strings.TrimSpace(string(body))
	}
	if strings.TrimSpace(resp.Brief) == "" {
		return "No research notes came back for that role."
	}
	return strings.TrimSpace(resp.Brief)
}
