// ABOUTME: Recording endpoints: multipart upload (the transcription producer),
// ABOUTME: list/detail, reprocess (the reprocessing producer), and delete.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/murtaza-nasir/speakr-sub000/internal/store"
)

// registerRecordingRoutes wires up the JSON recording endpoints on the huma
// API. The multipart upload endpoint is registered directly on chi.
//
//	GET    /recordings                 — list the caller's recordings
//	GET    /recordings/{id}            — single recording with outputs
//	POST   /recordings/{id}/reprocess  — enqueue a reprocessing job
//	DELETE /recordings/{id}            — remove recording, jobs, and artifact
func registerRecordingRoutes(api huma.API, srv *Server) {
	huma.Register(api, huma.Operation{
		OperationID: "list-recordings",
		Method:      http.MethodGet,
		Path:        "/recordings",
		Summary:     "List recordings",
		Tags:        []string{"Recordings"},
	}, srv.listRecordingsHandler)

	huma.Register(api, huma.Operation{
		OperationID: "get-recording",
		Method:      http.MethodGet,
		Path:        "/recordings/{id}",
		Summary:     "Get recording detail",
		Description: "Returns the recording with its transcript and summary when available.",
		Tags:        []string{"Recordings"},
	}, srv.getRecordingHandler)

	huma.Register(api, huma.Operation{
		OperationID: "reprocess-recording",
		Method:      http.MethodPost,
		Path:        "/recordings/{id}/reprocess",
		Summary:     "Reprocess a recording",
		Description: "Enqueues a reprocessing job for the transcription or summary stage. The existing recording is kept even if reprocessing fails.",
		Tags:        []string{"Recordings"},
	}, srv.reprocessRecordingHandler)

	huma.Register(api, huma.Operation{
		OperationID: "delete-recording",
		Method:      http.MethodDelete,
		Path:        "/recordings/{id}",
		Summary:     "Delete a recording",
		Description: "Removes the recording, all of its job records, and the stored audio artifact.",
		Tags:        []string{"Recordings"},
	}, srv.deleteRecordingHandler)
}

// ── Response types ────────────────────────────────────────────────────────────

// RecordingItem is the list-view representation of a recording.
type RecordingItem struct {
	ID            uuid.UUID `json:"id"`
	Title         string    `json:"title"`
	Status        string    `json:"status"`
	Language      *string   `json:"language,omitempty"`
	AutoSummarize bool      `json:"auto_summarize"`
	CreatedAt     string    `json:"created_at"` // RFC3339
	UpdatedAt     string    `json:"updated_at"` // RFC3339
}

// RecordingDetail extends RecordingItem with the engine outputs.
type RecordingDetail struct {
	RecordingItem
	SummaryPrompt *string `json:"summary_prompt,omitempty"`
	Transcript    *string `json:"transcript,omitempty"`
	Summary       *string `json:"summary,omitempty"`
}

func recordingToItem(r store.Recording) RecordingItem {
	item := RecordingItem{
		ID:            r.ID,
		Title:         r.Title,
		Status:        string(r.Status),
		AutoSummarize: r.AutoSummarize,
		CreatedAt:     r.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     r.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if r.Language.Valid {
		item.Language = &r.Language.String
	}
	return item
}

func recordingToDetail(r store.Recording) RecordingDetail {
	detail := RecordingDetail{RecordingItem: recordingToItem(r)}
	if r.SummaryPrompt.Valid {
		detail.SummaryPrompt = &r.SummaryPrompt.String
	}
	if r.Transcript.Valid {
		detail.Transcript = &r.Transcript.String
	}
	if r.Summary.Valid {
		detail.Summary = &r.Summary.String
	}
	return detail
}

// ── POST /recordings (multipart upload) ───────────────────────────────────────

// uploadResponse is the JSON body returned by the upload endpoint.
type uploadResponse struct {
	Recording RecordingItem `json:"recording"`
	JobID     uuid.UUID     `json:"job_id"`
}

// uploadRecordingHandler accepts a multipart upload, stores the artifact, and
// creates the recording plus its transcribe job in one transaction. A failure
// after the artifact is written removes the file again so nothing is orphaned.
func (srv *Server) uploadRecordingHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "multipart field 'file' is required", http.StatusBadRequest)
		return
	}
	defer file.Close() //nolint:errcheck

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		title = header.Filename
	}
	if title == "" {
		http.Error(w, "title or filename is required", http.StatusBadRequest)
		return
	}

	p := store.CreateRecordingParams{
		OwnerID:       userID,
		Title:         title,
		AutoSummarize: r.FormValue("auto_summarize") != "false",
	}
	if lang := strings.TrimSpace(r.FormValue("language")); lang != "" {
		p.Language = &lang
	}
	if prompt := strings.TrimSpace(r.FormValue("summary_prompt")); prompt != "" {
		p.SummaryPrompt = &prompt
	}

	path, err := srv.blobs.Save(userID, header.Filename, file)
	if err != nil {
		slog.ErrorContext(r.Context(), "store upload failed", "error", err)
		http.Error(w, "failed to store upload", http.StatusInternalServerError)
		return
	}
	p.AudioPath = path

	rec, jobID, err := srv.store.CreateRecordingWithJob(r.Context(), p, store.KindTranscribe, nil)
	if err != nil {
		if rmErr := srv.blobs.Remove(path); rmErr != nil {
			slog.WarnContext(r.Context(), "orphaned artifact cleanup failed", "path", path, "error", rmErr)
		}
		slog.ErrorContext(r.Context(), "create recording failed", "error", err)
		http.Error(w, "failed to create recording", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(uploadResponse{
		Recording: recordingToItem(*rec),
		JobID:     jobID,
	}); err != nil {
		slog.ErrorContext(r.Context(), "encode upload response failed", "error", err)
	}
}

// ── GET /recordings ───────────────────────────────────────────────────────────

// ListRecordingsInput defines query parameters for the recording list.
type ListRecordingsInput struct {
	Limit int `query:"limit" minimum:"1" maximum:"200" default:"50" doc:"Page size (max 200)"`
}

// ListRecordingsOutput is the response for GET /recordings.
type ListRecordingsOutput struct {
	Body *ListRecordingsBody
}

// ListRecordingsBody wraps the recording list.
type ListRecordingsBody struct {
	Recordings []RecordingItem `json:"recordings"`
}

func (srv *Server) listRecordingsHandler(ctx context.Context, input *ListRecordingsInput) (*ListRecordingsOutput, error) {
	userID, ok := userIDFrom(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	rows, err := srv.store.ListRecordings(ctx, userID, input.Limit)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}

	items := make([]RecordingItem, len(rows))
	for i, r := range rows {
		items[i] = recordingToItem(r)
	}
	return &ListRecordingsOutput{Body: &ListRecordingsBody{Recordings: items}}, nil
}

// ── GET /recordings/{id} ──────────────────────────────────────────────────────

// GetRecordingInput defines path parameters for the detail endpoint.
type GetRecordingInput struct {
	ID uuid.UUID `path:"id" doc:"Recording ID"`
}

// GetRecordingOutput is the response for GET /recordings/{id}.
type GetRecordingOutput struct {
	Body *RecordingDetail
}

func (srv *Server) getRecordingHandler(ctx context.Context, input *GetRecordingInput) (*GetRecordingOutput, error) {
	userID, ok := userIDFrom(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	rec, err := srv.store.GetRecording(ctx, userID, input.ID)
	if err != nil {
		return nil, fmt.Errorf("get recording: %w", err)
	}
	if rec == nil {
		return nil, huma.Error404NotFound("recording not found")
	}

	detail := recordingToDetail(*rec)
	return &GetRecordingOutput{Body: &detail}, nil
}

// ── POST /recordings/{id}/reprocess ───────────────────────────────────────────

// ReprocessInput defines the reprocess request.
type ReprocessInput struct {
	ID   uuid.UUID `path:"id" doc:"Recording ID"`
	Body struct {
		Stage       string `json:"stage" enum:"transcription,summary" doc:"Pipeline stage to rerun"`
		Language    string `json:"language,omitempty" doc:"Override transcription language"`
		MinSpeakers int    `json:"min_speakers,omitempty" minimum:"0" doc:"Diarization lower bound"`
		MaxSpeakers int    `json:"max_speakers,omitempty" minimum:"0" doc:"Diarization upper bound"`
		Prompt      string `json:"prompt,omitempty" doc:"Override summarization prompt"`
	}
}

// ReprocessOutput is the response for POST /recordings/{id}/reprocess.
type ReprocessOutput struct {
	Body *ReprocessBody
}

// ReprocessBody reports the enqueued job.
type ReprocessBody struct {
	JobID uuid.UUID `json:"job_id"`
	Kind  string    `json:"kind"`
}

func (srv *Server) reprocessRecordingHandler(ctx context.Context, input *ReprocessInput) (*ReprocessOutput, error) {
	userID, ok := userIDFrom(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	rec, err := srv.store.GetRecording(ctx, userID, input.ID)
	if err != nil {
		return nil, fmt.Errorf("reprocess: %w", err)
	}
	if rec == nil {
		return nil, huma.Error404NotFound("recording not found")
	}

	var (
		kind   store.JobKind
		params any
	)
	switch input.Body.Stage {
	case "transcription":
		kind = store.KindReprocessTranscription
		params = map[string]any{
			"language":     input.Body.Language,
			"min_speakers": input.Body.MinSpeakers,
			"max_speakers": input.Body.MaxSpeakers,
		}
	case "summary":
		kind = store.KindReprocessSummary
		if !rec.Transcript.Valid || strings.TrimSpace(rec.Transcript.String) == "" {
			return nil, huma.Error409Conflict("recording has no transcript to summarize")
		}
		params = map[string]any{"prompt": input.Body.Prompt}
	default:
		return nil, huma.Error400BadRequest("stage must be 'transcription' or 'summary'")
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("reprocess: encode params: %w", err)
	}

	jobID, err := srv.store.EnqueueJob(ctx, store.EnqueueJobParams{
		OwnerID:     userID,
		RecordingID: rec.ID,
		Kind:        kind,
		Params:      raw,
		IsNewUpload: false,
	})
	if err != nil {
		return nil, fmt.Errorf("reprocess: %w", err)
	}

	return &ReprocessOutput{Body: &ReprocessBody{JobID: jobID, Kind: string(kind)}}, nil
}

// ── DELETE /recordings/{id} ───────────────────────────────────────────────────

// DeleteRecordingInput defines path parameters for the delete endpoint.
type DeleteRecordingInput struct {
	ID uuid.UUID `path:"id" doc:"Recording ID"`
}

// DeleteRecordingOutput is the empty 204 response.
type DeleteRecordingOutput struct{}

func (srv *Server) deleteRecordingHandler(ctx context.Context, input *DeleteRecordingInput) (*DeleteRecordingOutput, error) {
	userID, ok := userIDFrom(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	rec, err := srv.store.GetRecording(ctx, userID, input.ID)
	if err != nil {
		return nil, fmt.Errorf("delete recording: %w", err)
	}
	if rec == nil {
		return nil, huma.Error404NotFound("recording not found")
	}

	if err := srv.deleteRecordingAndArtifact(ctx, rec.ID); err != nil {
		return nil, fmt.Errorf("delete recording: %w", err)
	}
	return &DeleteRecordingOutput{}, nil
}

// deleteRecordingAndArtifact removes the recording row with its job rows, then
// best-effort removes the stored audio file. Row cleanup wins over file
// cleanup: an orphaned file is recoverable, an orphaned row is user-visible.
func (srv *Server) deleteRecordingAndArtifact(ctx context.Context, recordingID uuid.UUID) error {
	audioPath, found, err := srv.store.DeleteRecordingCascade(ctx, recordingID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if err := srv.blobs.Remove(audioPath); err != nil {
		slog.WarnContext(ctx, "remove audio artifact failed", "path", audioPath, "error", err)
	}
	return nil
}
