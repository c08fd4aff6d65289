// Package engine is the boundary to the external processing engines
// (speech-to-text and summarization). Engines receive an immutable view of
// the recording, write their output back through a narrow Sink, and report
// failures with an explicit retryable/permanent classification that the
// worker's outcome policy branches on.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
)

// Subject is the immutable view of a recording handed to an engine. It is a
// value snapshot taken inside the worker's read transaction — engines never
// see a live database row.
type Subject struct {
	ID         uuid.UUID
	OwnerID    uuid.UUID
	Title      string
	AudioPath  string
	Language   string
	Transcript string
	Prompt     string
}

// Engine processes one recording. params is the job's opaque payload,
// passed through from the producer untouched.
type Engine interface {
	Process(ctx context.Context, subject Subject, params json.RawMessage) error
}

// Sink persists engine output onto the recording row.
type Sink interface {
	SaveTranscript(ctx context.Context, recordingID uuid.UUID, transcript string) error
	SaveSummary(ctx context.Context, recordingID uuid.UUID, summary string) error
}

// Error is a classified processing failure.
type Error struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure (timeouts, rate limits,
// provider 5xx).
func Transient(op string, err error) *Error {
	return &Error{Op: op, Retryable: true, Err: err}
}

// Permanent wraps err as a non-retryable failure (malformed input,
// unrecoverable provider error).
func Permanent(op string, err error) *Error {
	return &Error{Op: op, Retryable: false, Err: err}
}

// IsRetryable reports whether a processing failure should be retried.
// Only an explicit Permanent classification suppresses retry; anything
// unclassified (transport errors, deadline expiry, a database blip while
// persisting output) is retried rather than risking the permanent-failure
// cleanup cascade on a recoverable condition.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return true
}

// classifyStatus converts a non-2xx engine response into a classified error:
// 429 and 5xx are provider-side transient conditions, every other status is
// a permanent rejection of this input.
func classifyStatus(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096)) //nolint:errcheck
	err := fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return Transient(op, err)
	}
	return Permanent(op, err)
}
