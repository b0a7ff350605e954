package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/vocalis-ai/vocalis/pkg/core"
	"github.com/vocalis-ai/vocalis/pkg/gateway/auth"
	"github.com/vocalis-ai/vocalis/pkg/gateway/config"
	"github.com/vocalis-ai/vocalis/pkg/gateway/research"
	"github.com/vocalis-ai/vocalis/pkg/gateway/store"
	"github.com/vocalis-ai/vocalis/pkg/gateway/telemetry"
	"github.com/vocalis-ai/vocalis/pkg/gateway/tools/adapters/calendly"
	"github.com/vocalis-ai/vocalis/pkg/gateway/tools/adapters/openaiembed"
	"github.com/vocalis-ai/vocalis/pkg/gateway/tools/adapters/resend"
)

const (
	availabilityDays      = 7
	businessHourStart     = 10
	businessHourEnd       = 17
	defaultSlotDuration   = 30 * time.Minute
	knowledgeThreshold    = 0.5
	knowledgeResultLimit  = 5
	callerSummaryLookback = 3
)

// Tools bundles the dependencies behind the six tool routes. Each route is
// independently fallible and independently degradable: a missing backend
// yields 503, never a crash.
type Tools struct {
	Config   config.Config
	Store    *store.Store
	Calendly *calendly.Client
	Resend   *resend.Client
	Embedder *openaiembed.Client
	Research *research.Analyzer
	Logger   *slog.Logger
	Metrics  *telemetry.Metrics
}

func (t *Tools) record(r *http.Request, name string, ok bool) {
	t.Metrics.Tool(r.Context(), name, ok)
	if t.Logger != nil {
		t.Logger.Info("tool executed", "tool", name, "ok", ok)
	}
}

// --- check_availability ---

type availabilitySlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type availabilityResponse struct {
	Slots      []availabilitySlot `json:"slots"`
	Note       string             `json:"note,omitempty"`
	BookingURL string             `json:"booking_url,omitempty"`
}

func (t *Tools) Availability() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}
		var req struct {
			Days int `json:"days"`
		}
		if err := decodeJSON(w, r, t.Config.MaxBodyBytes, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if req.Days <= 0 || req.Days > availabilityDays {
			req.Days = availabilityDays
		}

		now := time.Now()
		raw, err := t.Calendly.AvailableTimes(r.Context(), t.Config.CalendlyEventURL, now, now.AddDate(0, 0, req.Days))
		if err != nil {
			// Degrade to the public booking page rather than failing the call.
			if t.Logger != nil {
				t.Logger.Warn("availability lookup failed", "error", err)
			}
			t.record(r, "check_availability", false)
			writeJSON(w, http.StatusOK, availabilityResponse{
				Slots:      []availabilitySlot{},
				Note:       "Live availability is unavailable right now; offer the booking page instead.",
				BookingURL: t.Config.CalendlyEventURL,
			})
			return
		}

		slots := filterBusinessHours(raw)
		t.record(r, "check_availability", true)
		writeJSON(w, http.StatusOK, availabilityResponse{Slots: slots})
	})
}

// filterBusinessHours keeps slots starting 10:00-17:00 Eastern, sorted.
func filterBusinessHours(raw []calendly.Slot) []availabilitySlot {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	out := make([]availabilitySlot, 0, len(raw))
	for _, s := range raw {
		local := s.Start.In(loc)
		if local.Hour() < businessHourStart || local.Hour() >= businessHourEnd {
			continue
		}
		out = append(out, availabilitySlot{Start: local, End: local.Add(defaultSlotDuration)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// --- schedule_meeting ---

func (t *Tools) Schedule() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}
		var req struct {
			Start time.Time `json:"start"`
			Name  string    `json:"name"`
			Email string    `json:"email"`
		}
		if err := decodeJSON(w, r, t.Config.MaxBodyBytes, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if req.Start.IsZero() {
			writeError(w, r, core.NewInvalidRequestErrorWithParam("start is required", "start"))
			return
		}
		if strings.TrimSpace(t.Config.CalendlyEventURL) == "" {
			t.record(r, "schedule_meeting", false)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "scheduling is not configured"})
			return
		}

		link := calendly.BookingLink(t.Config.CalendlyEventURL, req.Name, req.Email, req.Start)
		t.record(r, "schedule_meeting", true)
		writeJSON(w, http.StatusOK, map[string]any{
			"scheduled":   true,
			"start":       req.Start,
			"booking_url": link,
		})
	})
}

// --- send_confirmation_email ---

func (t *Tools) SendEmail() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}
		if !t.Resend.Configured() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "email is not configured"})
			return
		}
		var req struct {
			To      string `json:"to"`
			Subject string `json:"subject"`
			Body    string `json:"body"`
		}
		if err := decodeJSON(w, r, t.Config.MaxBodyBytes, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if strings.TrimSpace(req.To) == "" {
			writeError(w, r, core.NewInvalidRequestErrorWithParam("to is required", "to"))
			return
		}
		if strings.TrimSpace(req.Subject) == "" {
			req.Subject = "Meeting confirmation"
		}

		id, err := t.Resend.Send(r.Context(), req.To, req.Subject, req.Body)
		if err != nil {
			t.record(r, "send_confirmation_email", false)
			writeError(w, r, core.NewToolError("send_confirmation_email", fmt.Sprintf("send failed: %v", err)))
			return
		}
		t.record(r, "send_confirmation_email", true)
		writeJSON(w, http.StatusOK, map[string]any{"sent": true, "id": id})
	})
}

// --- retrieve_knowledge ---

func (t *Tools) Knowledge() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}
		if t.Store == nil || !t.Embedder.Configured() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "knowledge base is not configured"})
			return
		}
		var req struct {
			Query string `json:"query"`
		}
		if err := decodeJSON(w, r, t.Config.MaxBodyBytes, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			writeError(w, r, core.NewInvalidRequestErrorWithParam("query is required", "query"))
			return
		}

		matches, err := t.searchKnowledge(r, req.Query)
		if err != nil {
			t.record(r, "retrieve_knowledge", false)
			writeError(w, r, core.NewToolError("retrieve_knowledge", err.Error()))
			return
		}
		if matches == nil {
			matches = []store.KnowledgeMatch{}
		}
		t.record(r, "retrieve_knowledge", true)
		writeJSON(w, http.StatusOK, map[string]any{"results": matches})
	})
}

func (t *Tools) searchKnowledge(r *http.Request, query string) ([]store.KnowledgeMatch, error) {
	vec, err := t.Embedder.Embed(r.Context(), query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := t.Store.SearchKnowledge(r.Context(), vec, knowledgeThreshold, knowledgeResultLimit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return matches, nil
}

// --- lookup_caller ---

func (t *Tools) CallerMemory() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}
		if t.Store == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store is not configured"})
			return
		}
		var req struct {
			Email string `json:"email"`
		}
		if err := decodeJSON(w, r, t.Config.MaxBodyBytes, &req); err != nil {
			writeError(w, r, err)
			return
		}
		email := strings.TrimSpace(req.Email)
		if email == "" {
			// Fall back to the authenticated caller's identity.
			if p, ok := auth.PrincipalFrom(r.Context()); ok {
				email = p.Email
			}
		}
		if email == "" {
			writeError(w, r, core.NewInvalidRequestErrorWithParam("email is required", "email"))
			return
		}

		caller, err := t.Store.GetCaller(r.Context(), email)
		if errors.Is(err, store.ErrNotFound) {
			t.record(r, "lookup_caller", true)
			writeJSON(w, http.StatusOK, map[string]any{"found": false})
			return
		}
		if err != nil {
			t.record(r, "lookup_caller", false)
			writeError(w, r, core.NewToolError("lookup_caller", err.Error()))
			return
		}

		summaries, err := t.Store.RecentCallSummaries(r.Context(), email, callerSummaryLookback)
		if err != nil && t.Logger != nil {
			t.Logger.Warn("call summary lookup failed", "email", email, "error", err)
		}
		var lastCallAt time.Time
		var parts []string
		for _, s := range summaries {
			if s.CreatedAt.After(lastCallAt) {
				lastCallAt = s.CreatedAt
			}
			parts = append(parts, s.Summary)
		}

		t.record(r, "lookup_caller", true)
		writeJSON(w, http.StatusOK, map[string]any{
			"found":        true,
			"name":         caller.Name,
			"company":      caller.Company,
			"last_call_at": lastCallAt,
			"summary":      strings.Join(parts, " "),
		})
	})
}

// --- research_role ---

func (t *Tools) ResearchRole() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}
		var req struct {
			Company string `json:"company"`
			Role    string `json:"role"`
		}
		if err := decodeJSON(w, r, t.Config.MaxBodyBytes, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if strings.TrimSpace(req.Company) == "" && strings.TrimSpace(req.Role) == "" {
			writeError(w, r, core.NewInvalidRequestError("company or role is required"))
			return
		}

		background := ""
		if t.Store != nil && t.Embedder.Configured() {
			if matches, err := t.searchKnowledge(r, req.Company+" "+req.Role); err == nil {
				var parts []string
				for _, m := range matches {
					parts = append(parts, m.Content)
				}
				background = strings.Join(parts, "\n")
			}
		}

		brief, err := t.Research.ResearchRole(r.Context(), req.Company, req.Role, background)
		if err != nil {
			// Degraded default keeps the conversation moving.
			if t.Logger != nil {
				t.Logger.Warn("role research failed", "error", err)
			}
			t.record(r, "research_role", false)
			brief = fmt.Sprintf(
				"I could not pull live research on %s just now, but the background notes cover similar work; "+
					"mention the relevant experience and offer to follow up with specifics by email.",
				strings.TrimSpace(req.Company+" "+req.Role))
			writeJSON(w, http.StatusOK, map[string]string{"brief": brief})
			return
		}
		t.record(r, "research_role", true)
		writeJSON(w, http.StatusOK, map[string]string{"brief": brief})
	})
}
