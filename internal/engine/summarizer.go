// ABOUTME: Summarization engine client for Gemini-style generateContent APIs.
// ABOUTME: Summarizes the stored transcript, persists the summary via Sink.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// defaultPrompt is used when neither the recording nor the job params carry
// a custom prompt.
const defaultPrompt = "Summarize the following transcript into concise meeting notes. " +
	"Lead with key decisions and action items, then a short topic outline."

// SummarizerConfig holds the connection settings for the summarization API.
type SummarizerConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Summarizer calls a generateContent-style LLM API over the recording's
// transcript and writes the resulting summary onto the recording.
type Summarizer struct {
	client *http.Client
	cfg    SummarizerConfig
	sink   Sink
}

// NewSummarizer creates a Summarizer. See NewTranscriber for client notes.
func NewSummarizer(client *http.Client, cfg SummarizerConfig, sink Sink) *Summarizer {
	return &Summarizer{client: client, cfg: cfg, sink: sink}
}

// summarizeParams is the per-job payload a producer may attach.
type summarizeParams struct {
	Prompt string `json:"prompt,omitempty"`
}

type generatePart struct {
	Text string `json:"text"`
}

type generateContent struct {
	Parts []generatePart `json:"parts"`
}

type generateRequest struct {
	Contents []generateContent `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content generateContent `json:"content"`
	} `json:"candidates"`
}

// Process summarizes the subject's transcript and stores the result.
func (s *Summarizer) Process(ctx context.Context, subject Subject, params json.RawMessage) error {
	if strings.TrimSpace(subject.Transcript) == "" {
		// Without a transcript there is nothing to summarize, and a retry
		// cannot change that.
		return Permanent("summarize", errors.New("recording has no transcript"))
	}

	var p summarizeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return Permanent("summarize", fmt.Errorf("decode params: %w", err))
		}
	}
	prompt := defaultPrompt
	if subject.Prompt != "" {
		prompt = subject.Prompt
	}
	if p.Prompt != "" {
		prompt = p.Prompt
	}

	reqBody := generateRequest{Contents: []generateContent{
		{Parts: []generatePart{{Text: prompt + "\n\n" + subject.Transcript}}},
	}}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Permanent("summarize", fmt.Errorf("encode request: %w", err))
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		s.cfg.BaseURL, s.cfg.Model, s.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Permanent("summarize", fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Transient("summarize", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus("summarize", resp)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Permanent("summarize", fmt.Errorf("decode response: %w", err))
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return Permanent("summarize", errors.New("empty completion"))
	}

	var b strings.Builder
	for _, part := range out.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}

	if err := s.sink.SaveSummary(ctx, subject.ID, b.String()); err != nil {
		return fmt.Errorf("persist summary: %w", err)
	}
	return nil
}
