// ABOUTME: Speech-to-text engine client for Whisper-compatible HTTP services.
// ABOUTME: Streams the audio artifact as multipart, persists the transcript via Sink.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

// TranscriberConfig holds the connection settings for the speech-to-text
// service (any server exposing the /v1/audio/transcriptions shape works).
type TranscriberConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Transcriber calls an external speech-to-text HTTP service and writes the
// resulting transcript onto the recording.
type Transcriber struct {
	client *http.Client
	cfg    TranscriberConfig
	sink   Sink
}

// NewTranscriber creates a Transcriber. client is constructed once at startup;
// its Timeout should be zero since the worker bounds each call with a context
// deadline.
func NewTranscriber(client *http.Client, cfg TranscriberConfig, sink Sink) *Transcriber {
	return &Transcriber{client: client, cfg: cfg, sink: sink}
}

// transcribeParams is the per-job payload a producer may attach. Unknown
// fields are ignored; everything here overrides the recording's defaults.
type transcribeParams struct {
	Language    string `json:"language,omitempty"`
	MinSpeakers int    `json:"min_speakers,omitempty"`
	MaxSpeakers int    `json:"max_speakers,omitempty"`
}

// Process uploads the subject's audio artifact and stores the transcript.
func (t *Transcriber) Process(ctx context.Context, subject Subject, params json.RawMessage) error {
	var p transcribeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return Permanent("transcribe", fmt.Errorf("decode params: %w", err))
		}
	}
	language := subject.Language
	if p.Language != "" {
		language = p.Language
	}

	f, err := os.Open(subject.AudioPath)
	if err != nil {
		// A missing artifact will not appear on retry; do not burn attempts.
		return Permanent("transcribe", fmt.Errorf("open audio: %w", err))
	}
	defer f.Close() //nolint:errcheck

	// Stream the multipart body instead of buffering: recordings can be
	// hundreds of megabytes.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := t.writeBody(mw, f, language, p)
		mw.Close()     //nolint:errcheck
		pw.CloseWithError(err) //nolint:errcheck
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.cfg.BaseURL+"/v1/audio/transcriptions", pr)
	if err != nil {
		return Permanent("transcribe", fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if t.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return Transient("transcribe", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus("transcribe", resp)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Permanent("transcribe", fmt.Errorf("decode response: %w", err))
	}

	if err := t.sink.SaveTranscript(ctx, subject.ID, out.Text); err != nil {
		return fmt.Errorf("persist transcript: %w", err)
	}
	return nil
}

func (t *Transcriber) writeBody(mw *multipart.Writer, f *os.File, language string, p transcribeParams) error {
	part, err := mw.CreateFormFile("file", filepath.Base(f.Name()))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	if err := mw.WriteField("model", t.cfg.Model); err != nil {
		return err
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return err
		}
	}
	if p.MinSpeakers > 0 {
		if err := mw.WriteField("min_speakers", fmt.Sprint(p.MinSpeakers)); err != nil {
			return err
		}
	}
	if p.MaxSpeakers > 0 {
		if err := mw.WriteField("max_speakers", fmt.Sprint(p.MaxSpeakers)); err != nil {
			return err
		}
	}
	return nil
}
