// ABOUTME: Tests for the engine clients: HTTP status classification,
// ABOUTME: multipart/request shapes, and output persistence through the Sink.
package engine_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/murtaza-nasir/speakr-sub000/internal/engine"
)

type fakeSink struct {
	mu          sync.Mutex
	transcripts map[uuid.UUID]string
	summaries   map[uuid.UUID]string
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		transcripts: make(map[uuid.UUID]string),
		summaries:   make(map[uuid.UUID]string),
	}
}

func (f *fakeSink) SaveTranscript(_ context.Context, id uuid.UUID, transcript string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts[id] = transcript
	return nil
}

func (f *fakeSink) SaveSummary(_ context.Context, id uuid.UUID, summary string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries[id] = summary
	return nil
}

func writeTempAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp3")
	require.NoError(t, os.WriteFile(path, []byte("fake audio"), 0o600))
	return path
}

func TestTranscriberSavesTranscript(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		require.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "en", r.FormValue("language"))
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "clip.mp3", header.Filename)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"hello world"}`))
	}))
	defer srv.Close()

	sink := newFakeSink()
	tr := engine.NewTranscriber(srv.Client(), engine.TranscriberConfig{
		BaseURL: srv.URL,
		APIKey:  "sekrit",
		Model:   "whisper-1",
	}, sink)

	subject := engine.Subject{ID: uuid.New(), AudioPath: writeTempAudio(t), Language: "en"}
	require.NoError(t, tr.Process(context.Background(), subject, nil))
	assert.Equal(t, "hello world", sink.transcripts[subject.ID])
}

func TestTranscriberStatusClassification(t *testing.T) {
	t.Parallel()
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusUnprocessableEntity, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "nope", tc.status)
		}))

		tr := engine.NewTranscriber(srv.Client(), engine.TranscriberConfig{
			BaseURL: srv.URL,
			Model:   "whisper-1",
		}, newFakeSink())
		err := tr.Process(context.Background(),
			engine.Subject{ID: uuid.New(), AudioPath: writeTempAudio(t)}, nil)
		srv.Close()

		require.Error(t, err, "status %d", tc.status)
		assert.Equal(t, tc.retryable, engine.IsRetryable(err),
			"status %d retryable classification", tc.status)
	}
}

func TestTranscriberMissingAudioIsPermanent(t *testing.T) {
	t.Parallel()
	tr := engine.NewTranscriber(http.DefaultClient, engine.TranscriberConfig{
		BaseURL: "http://localhost:0",
		Model:   "whisper-1",
	}, newFakeSink())

	err := tr.Process(context.Background(),
		engine.Subject{ID: uuid.New(), AudioPath: "/nonexistent/gone.mp3"}, nil)
	require.Error(t, err)
	assert.False(t, engine.IsRetryable(err), "missing artifact cannot be fixed by retrying")
}

func TestTranscriberTransportErrorIsRetryable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused from here on

	tr := engine.NewTranscriber(http.DefaultClient, engine.TranscriberConfig{
		BaseURL: srv.URL,
		Model:   "whisper-1",
	}, newFakeSink())
	err := tr.Process(context.Background(),
		engine.Subject{ID: uuid.New(), AudioPath: writeTempAudio(t)}, nil)
	require.Error(t, err)
	assert.True(t, engine.IsRetryable(err))
}

func TestSummarizerSavesSummary(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", r.URL.Path)
		require.Equal(t, "sekrit", r.URL.Query().Get("key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"key decisions: ship it"}]}}]}`))
	}))
	defer srv.Close()

	sink := newFakeSink()
	sum := engine.NewSummarizer(srv.Client(), engine.SummarizerConfig{
		BaseURL: srv.URL,
		APIKey:  "sekrit",
		Model:   "gemini-2.0-flash",
	}, sink)

	subject := engine.Subject{ID: uuid.New(), Transcript: "a long meeting transcript"}
	require.NoError(t, sum.Process(context.Background(), subject, nil))
	assert.Equal(t, "key decisions: ship it", sink.summaries[subject.ID])
}

func TestSummarizerEmptyTranscriptIsPermanent(t *testing.T) {
	t.Parallel()
	sum := engine.NewSummarizer(http.DefaultClient, engine.SummarizerConfig{
		BaseURL: "http://localhost:0",
		Model:   "gemini-2.0-flash",
	}, newFakeSink())

	err := sum.Process(context.Background(),
		engine.Subject{ID: uuid.New(), Transcript: "   "}, nil)
	require.Error(t, err)
	assert.False(t, engine.IsRetryable(err))
}

func TestIsRetryableDefaultsToTrue(t *testing.T) {
	t.Parallel()
	assert.True(t, engine.IsRetryable(errors.New("unclassified")))
	assert.True(t, engine.IsRetryable(engine.Transient("op", errors.New("x"))))
	assert.False(t, engine.IsRetryable(engine.Permanent("op", errors.New("x"))))
}
