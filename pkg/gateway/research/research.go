// Package research runs the gateway's generative analysis tasks: role
// research briefs and post-call transcript summaries.
package research

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type Analyzer struct {
	client *genai.Client
	model  string
}

// New creates an analyzer backed by the Gemini API. An empty API key returns
// an unconfigured analyzer; callers degrade to canned output.
func New(ctx context.Context, apiKey, model string) (*Analyzer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return &Analyzer{}, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	if strings.TrimSpace(model) == "" {
		model = "gemini-2.0-flash"
	}
	return &Analyzer{client: client, model: model}, nil
}

func (a *Analyzer) Configured() bool {
	return a != nil && a.client != nil
}

// ResearchRole produces a short spoken-word brief on how a candidate profile
// fits the given company and role.
func (a *Analyzer) ResearchRole(ctx context.Context, company, role, background string) (string, error) {
	if !a.Configured() {
		return "", fmt.Errorf("analyzer is not configured")
	}
	prompt := fmt.Sprintf(
		"You are preparing a phone-call brief. Company: %s. Role: %s.\n"+
			"Candidate background notes:\n%s\n\n"+
			"Write 3-4 short sentences, suitable to be read aloud, on why the candidate "+
			"fits this role. No markdown, no bullet points.",
		company, role, background)
	return a.generate(ctx, prompt)
}

// SummarizeCall condenses a call transcript into a few sentences for the
// caller-memory store.
func (a *Analyzer) SummarizeCall(ctx context.Context, transcript string) (string, error) {
	if !a.Configured() {
		return "", fmt.Errorf("analyzer is not configured")
	}
	prompt := "Summarize this phone call in 2-3 sentences. Note who called, what they wanted, " +
		"and any follow-ups agreed. Transcript:\n\n" + transcript
	return a.generate(ctx, prompt)
}

func (a *Analyzer) generate(ctx context.Context, prompt string) (string, error) {
	resp, err := a.client.Models.GenerateContent(ctx, a.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("model returned no text")
	}
	return text, nil
}
