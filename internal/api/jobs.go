// ABOUTME: Job status and control endpoints: list, retry, delete, and
// ABOUTME: clear-completed, all scoped to the authenticated owner.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/murtaza-nasir/speakr-sub000/internal/store"
)

// registerJobRoutes wires up the job status/control endpoints on the huma API.
//
//	GET    /jobs                  — active jobs plus recently finished ones
//	POST   /jobs/{id}/retry       — requeue a failed job
//	DELETE /jobs/{id}             — remove a job record
//	POST   /jobs/clear-completed  — bulk-remove the caller's completed jobs
func registerJobRoutes(api huma.API, srv *Server) {
	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List processing jobs",
		Description: "Returns the caller's queued and processing jobs, plus terminal jobs that finished within the recent window.",
		Tags:        []string{"Jobs"},
	}, srv.listJobsHandler)

	huma.Register(api, huma.Operation{
		OperationID: "retry-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{id}/retry",
		Summary:     "Retry a failed job",
		Description: "Resets a failed job back to queued with a fresh retry budget. Only failed jobs can be retried.",
		Tags:        []string{"Jobs"},
	}, srv.retryJobHandler)

	huma.Register(api, huma.Operation{
		OperationID: "delete-job",
		Method:      http.MethodDelete,
		Path:        "/jobs/{id}",
		Summary:     "Delete a job record",
		Description: "Removes a job record. Deleting a failed new-upload job also removes its recording and audio artifact.",
		Tags:        []string{"Jobs"},
	}, srv.deleteJobHandler)

	huma.Register(api, huma.Operation{
		OperationID: "clear-completed-jobs",
		Method:      http.MethodPost,
		Path:        "/jobs/clear-completed",
		Summary:     "Clear completed jobs",
		Description: "Removes all of the caller's completed job records.",
		Tags:        []string{"Jobs"},
	}, srv.clearCompletedJobsHandler)
}

// ── Response types ────────────────────────────────────────────────────────────

// JobItem is the API representation of a processing job.
type JobItem struct {
	ID             uuid.UUID `json:"id"`
	RecordingID    uuid.UUID `json:"recording_id"`
	RecordingTitle string    `json:"recording_title,omitempty"`
	Kind           string    `json:"kind"`
	Queue          string    `json:"queue"`
	Status         string    `json:"status"`
	ErrorMessage   *string   `json:"error_message,omitempty"`
	RetryCount     int32     `json:"retry_count"`
	IsNewUpload    bool      `json:"is_new_upload"`
	CreatedAt      string    `json:"created_at"`             // RFC3339
	StartedAt      *string   `json:"started_at,omitempty"`   // RFC3339
	CompletedAt    *string   `json:"completed_at,omitempty"` // RFC3339
}

func jobToItem(j store.Job, title string) JobItem {
	item := JobItem{
		ID:             j.ID,
		RecordingID:    j.RecordingID,
		RecordingTitle: title,
		Kind:           string(j.Kind),
		Queue:          j.Kind.Queue(),
		Status:         string(j.Status),
		RetryCount:     j.RetryCount,
		IsNewUpload:    j.IsNewUpload,
		CreatedAt:      j.CreatedAt.UTC().Format(time.RFC3339),
	}
	if j.ErrorMessage.Valid {
		item.ErrorMessage = &j.ErrorMessage.String
	}
	if j.StartedAt.Valid {
		s := j.StartedAt.Time.UTC().Format(time.RFC3339)
		item.StartedAt = &s
	}
	if j.CompletedAt.Valid {
		s := j.CompletedAt.Time.UTC().Format(time.RFC3339)
		item.CompletedAt = &s
	}
	return item
}

// ── GET /jobs ─────────────────────────────────────────────────────────────────

// ListJobsInput has no parameters; the recent window is a server setting so
// every polling client sees the same view.
type ListJobsInput struct{}

// ListJobsOutput is the response body for GET /jobs.
type ListJobsOutput struct {
	Body *ListJobsBody
}

// ListJobsBody is the JSON body of the job list response.
type ListJobsBody struct {
	Jobs []JobItem `json:"jobs"`
}

func (srv *Server) listJobsHandler(ctx context.Context, _ *ListJobsInput) (*ListJobsOutput, error) {
	userID, ok := userIDFrom(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	since := time.Now().Add(-srv.cfg.JobsRecentWindow)
	rows, err := srv.store.ListOwnerJobs(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	jobs := make([]JobItem, len(rows))
	for i, r := range rows {
		jobs[i] = jobToItem(r.Job, r.RecordingTitle)
	}
	return &ListJobsOutput{Body: &ListJobsBody{Jobs: jobs}}, nil
}

// ── POST /jobs/{id}/retry ─────────────────────────────────────────────────────

// RetryJobInput defines path parameters for the retry endpoint.
type RetryJobInput struct {
	ID uuid.UUID `path:"id" doc:"Job ID"`
}

// RetryJobOutput is the response for POST /jobs/{id}/retry.
type RetryJobOutput struct {
	Body *JobItem
}

func (srv *Server) retryJobHandler(ctx context.Context, input *RetryJobInput) (*RetryJobOutput, error) {
	userID, ok := userIDFrom(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	// Distinguish "not yours / missing" from "yours but not failed" so the
	// client can show a useful error. The reset itself re-checks both
	// conditions atomically.
	existing, err := srv.store.GetJob(ctx, input.ID)
	if err != nil {
		return nil, fmt.Errorf("retry job: %w", err)
	}
	if existing == nil || existing.OwnerID != userID {
		return nil, huma.Error404NotFound("job not found")
	}
	if existing.Status != store.JobFailed {
		return nil, huma.Error409Conflict(fmt.Sprintf("job is %s; only failed jobs can be retried", existing.Status))
	}

	job, err := srv.store.ResetFailedJob(ctx, userID, input.ID)
	if err != nil {
		return nil, fmt.Errorf("retry job: %w", err)
	}
	if job == nil {
		// Raced with a concurrent mutation between the read and the reset.
		return nil, huma.Error409Conflict("job is no longer retryable")
	}

	item := jobToItem(*job, "")
	return &RetryJobOutput{Body: &item}, nil
}

// ── DELETE /jobs/{id} ─────────────────────────────────────────────────────────

// DeleteJobInput defines path parameters for the delete endpoint.
type DeleteJobInput struct {
	ID uuid.UUID `path:"id" doc:"Job ID"`
}

// DeleteJobOutput is the empty 204 response.
type DeleteJobOutput struct{}

func (srv *Server) deleteJobHandler(ctx context.Context, input *DeleteJobInput) (*DeleteJobOutput, error) {
	userID, ok := userIDFrom(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	job, err := srv.store.GetJob(ctx, input.ID)
	if err != nil {
		return nil, fmt.Errorf("delete job: %w", err)
	}
	if job == nil || job.OwnerID != userID {
		return nil, huma.Error404NotFound("job not found")
	}
	if job.Status == store.JobProcessing {
		return nil, huma.Error409Conflict("job is processing; wait for it to finish")
	}

	// A failed new upload never produced anything the user can see, so
	// deleting its job record removes the whole upload.
	if job.Status == store.JobFailed && job.IsNewUpload {
		if err := srv.deleteRecordingAndArtifact(ctx, job.RecordingID); err != nil {
			return nil, fmt.Errorf("delete job: %w", err)
		}
		return &DeleteJobOutput{}, nil
	}

	deleted, err := srv.store.DeleteJob(ctx, userID, input.ID)
	if err != nil {
		return nil, fmt.Errorf("delete job: %w", err)
	}
	if !deleted {
		return nil, huma.Error404NotFound("job not found")
	}
	return &DeleteJobOutput{}, nil
}

// ── POST /jobs/clear-completed ────────────────────────────────────────────────

// ClearCompletedInput has no parameters.
type ClearCompletedInput struct{}

// ClearCompletedOutput is the response for POST /jobs/clear-completed.
type ClearCompletedOutput struct {
	Body *ClearCompletedBody
}

// ClearCompletedBody reports how many job records were removed.
type ClearCompletedBody struct {
	Cleared int64 `json:"cleared"`
}

func (srv *Server) clearCompletedJobsHandler(ctx context.Context, _ *ClearCompletedInput) (*ClearCompletedOutput, error) {
	userID, ok := userIDFrom(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	n, err := srv.store.ClearCompletedJobs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("clear completed jobs: %w", err)
	}
	return &ClearCompletedOutput{Body: &ClearCompletedBody{Cleared: n}}, nil
}
