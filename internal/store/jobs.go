// ABOUTME: Store methods for the processing job queue: enqueue, the atomic
// ABOUTME: claim write, fairness queries, outcome writes, and the control API reads.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// JobKind identifies which engine call a job performs.
type JobKind string

// Job kinds. The reprocess_* kinds run against a recording that already
// existed before the job; transcribe/summarize are first-pass work.
const (
	KindTranscribe             JobKind = "transcribe"
	KindSummarize              JobKind = "summarize"
	KindReprocessTranscription JobKind = "reprocess_transcription"
	KindReprocessSummary       JobKind = "reprocess_summary"
)

// JobStatus is the lifecycle state of a job row.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Logical queue names. Each queue has its own worker loop and its own
// rotation cursor, so a summary backlog never blocks transcription
// throughput and vice versa.
const (
	QueueTranscription = "transcription"
	QueueSummary       = "summary"
)

// Queue returns the logical queue a kind is scheduled on.
func (k JobKind) Queue() string {
	switch k {
	case KindTranscribe, KindReprocessTranscription:
		return QueueTranscription
	default:
		return QueueSummary
	}
}

// KindsForQueue returns the job kinds scheduled on the named queue.
func KindsForQueue(queue string) []JobKind {
	if queue == QueueTranscription {
		return []JobKind{KindTranscribe, KindReprocessTranscription}
	}
	return []JobKind{KindSummarize, KindReprocessSummary}
}

// Queues lists all logical queue names.
func Queues() []string {
	return []string{QueueTranscription, QueueSummary}
}

// Job is one processing job row.
type Job struct {
	ID           uuid.UUID
	OwnerID      uuid.UUID
	RecordingID  uuid.UUID
	Kind         JobKind
	Status       JobStatus
	Params       json.RawMessage
	ErrorMessage sql.NullString
	RetryCount   int32
	IsNewUpload  bool
	CreatedAt    time.Time
	StartedAt    sql.NullTime
	CompletedAt  sql.NullTime
}

// JobWithRecording extends a Job with the recording title for list responses.
type JobWithRecording struct {
	Job
	RecordingTitle string
}

const jobColumns = `id, owner_id, recording_id, kind, status, params,
	error_message, retry_count, is_new_upload, created_at, started_at, completed_at`

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	var (
		j      Job
		params []byte
	)
	err := row.Scan(
		&j.ID, &j.OwnerID, &j.RecordingID, &j.Kind, &j.Status, &params,
		&j.ErrorMessage, &j.RetryCount, &j.IsNewUpload,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Params = json.RawMessage(params)
	return &j, nil
}

// EnqueueJobParams holds the fields for creating a job row.
type EnqueueJobParams struct {
	OwnerID     uuid.UUID
	RecordingID uuid.UUID
	Kind        JobKind
	// Params is passed through to the engine untouched. Empty means '{}'.
	Params      json.RawMessage
	IsNewUpload bool
}

// querier is satisfied by both *sql.DB and *sql.Tx so enqueue can run inside
// the producer's transaction (upload creates the recording and its first job
// atomically).
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EnqueueJob inserts a job in state queued and returns its id. A recording_id
// that does not reference an existing recording is rejected by the foreign
// key — producer misuse surfaces here, not in the scheduler.
func (s *Store) EnqueueJob(ctx context.Context, p EnqueueJobParams) (uuid.UUID, error) {
	return enqueueJob(ctx, s.db, p)
}

func enqueueJob(ctx context.Context, q querier, p EnqueueJobParams) (uuid.UUID, error) {
	if len(p.Params) == 0 {
		p.Params = json.RawMessage(`{}`)
	}
	const query = `
		INSERT INTO processing_jobs (owner_id, recording_id, kind, params, is_new_upload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	var id uuid.UUID
	err := q.QueryRowContext(ctx, query,
		p.OwnerID, p.RecordingID, string(p.Kind), []byte(p.Params), p.IsNewUpload,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("enqueue job: %w", err)
	}
	return id, nil
}

// GetJob returns the job with the given id, or (nil, nil) if not found.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM processing_jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ClaimJob attempts the queued→processing transition for one candidate job.
// The write succeeds if and only if the row is still queued at the moment of
// the update; a concurrent worker winning the race makes this return
// (nil, nil). This single conditional write is the entire claim protocol —
// no application-level locking exists, so any number of worker processes can
// share the table safely.
func (s *Store) ClaimJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE processing_jobs
		SET status = 'processing', started_at = now()
		WHERE id = $1 AND status = 'queued'
		RETURNING `+jobColumns, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // lost the race; not an error
	}
	if err != nil {
		return nil, fmt.Errorf("claim job %s: %w", id, err)
	}
	return j, nil
}

// QueuedOwners returns the distinct owners that have at least one queued job
// on the named queue, ordered by owner id so rotation order is stable.
func (s *Store) QueuedOwners(ctx context.Context, queue string) ([]uuid.UUID, error) {
	kinds := KindsForQueue(queue)
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT owner_id
		FROM processing_jobs
		WHERE status = 'queued' AND kind = ANY($1)
		ORDER BY owner_id`, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("queued owners: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var owners []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("queued owners: scan: %w", err)
		}
		owners = append(owners, id)
	}
	return owners, rows.Err()
}

// OldestQueuedJob returns the owner's oldest queued job on the named queue
// (strict FIFO per owner), or (nil, nil) if the owner has none left.
func (s *Store) OldestQueuedJob(ctx context.Context, queue string, ownerID uuid.UUID) (*Job, error) {
	kinds := KindsForQueue(queue)
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM processing_jobs
		WHERE owner_id = $1 AND status = 'queued' AND kind = ANY($2)
		ORDER BY created_at, id
		LIMIT 1`, ownerID, pq.Array(names))
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("oldest queued job: %w", err)
	}
	return j, nil
}

// QueueCursor returns the rotation position for the named queue: the owner
// most recently served, or invalid if the rotation has not started.
func (s *Store) QueueCursor(ctx context.Context, queue string) (uuid.NullUUID, error) {
	var cur uuid.NullUUID
	err := s.db.QueryRowContext(ctx,
		`SELECT last_owner_id FROM queue_cursors WHERE queue_name = $1`, queue,
	).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.NullUUID{}, nil
	}
	if err != nil {
		return uuid.NullUUID{}, fmt.Errorf("queue cursor: %w", err)
	}
	return cur, nil
}

// AdvanceQueueCursor records ownerID as the owner most recently served on the
// named queue. Best-effort: a lost update between concurrent workers skews
// one rotation step at most and never affects claim safety.
func (s *Store) AdvanceQueueCursor(ctx context.Context, queue string, ownerID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queue_cursors (queue_name, last_owner_id, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (queue_name)
		DO UPDATE SET last_owner_id = EXCLUDED.last_owner_id, updated_at = now()`,
		queue, ownerID)
	if err != nil {
		return fmt.Errorf("advance queue cursor: %w", err)
	}
	return nil
}

// CompleteJob marks a processing job as succeeded.
func (s *Store) CompleteJob(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE processing_jobs
		SET status = 'completed', completed_at = now()
		WHERE id = $1 AND status = 'processing'`, id)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	return nil
}

// RequeueJobForRetry puts a processing job back in the queue after a
// transient failure, incrementing retry_count and recording the error for
// diagnostics. The row re-enters the fairness rotation like any fresh job.
func (s *Store) RequeueJobForRetry(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE processing_jobs
		SET status = 'queued', retry_count = retry_count + 1, error_message = $2
		WHERE id = $1 AND status = 'processing'`, id, errMsg)
	if err != nil {
		return fmt.Errorf("requeue job %s: %w", id, err)
	}
	return nil
}

// FailJob marks a processing job as permanently failed. countAttempt is true
// when the terminal failure was itself a transient error that exhausted the
// retry budget, so retry_count reflects the final attempt too.
func (s *Store) FailJob(ctx context.Context, id uuid.UUID, errMsg string, countAttempt bool) error {
	inc := 0
	if countAttempt {
		inc = 1
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE processing_jobs
		SET status = 'failed', completed_at = now(),
		    error_message = $2, retry_count = retry_count + $3
		WHERE id = $1 AND status = 'processing'`, id, errMsg, inc)
	if err != nil {
		return fmt.Errorf("fail job %s: %w", id, err)
	}
	return nil
}

// ResetFailedJob is the user-initiated retry: a failed job owned by ownerID
// goes back to queued with error_message and retry_count cleared. Returns
// (nil, nil) when the job does not exist, is not failed, or belongs to
// another owner — no state is mutated in any of those cases.
func (s *Store) ResetFailedJob(ctx context.Context, ownerID, id uuid.UUID) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE processing_jobs
		SET status = 'queued', error_message = NULL, retry_count = 0,
		    started_at = NULL, completed_at = NULL
		WHERE id = $1 AND owner_id = $2 AND status = 'failed'
		RETURNING `+jobColumns, id, ownerID)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reset failed job %s: %w", id, err)
	}
	return j, nil
}

// DeleteJob removes a job row owned by ownerID. Returns false when no such
// row exists (wrong owner included).
func (s *Store) DeleteJob(ctx context.Context, ownerID, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM processing_jobs WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return false, fmt.Errorf("delete job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete job %s: rows affected: %w", id, err)
	}
	return n > 0, nil
}

// ClearCompletedJobs bulk-deletes all completed jobs for an owner and returns
// the number removed.
func (s *Store) ClearCompletedJobs(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM processing_jobs WHERE owner_id = $1 AND status = 'completed'`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("clear completed jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear completed jobs: rows affected: %w", err)
	}
	return n, nil
}

// ListOwnerJobs returns the owner's active jobs plus terminal jobs that
// finished after terminalSince, newest first, with the recording title
// joined in for display.
func (s *Store) ListOwnerJobs(ctx context.Context, ownerID uuid.UUID, terminalSince time.Time) ([]JobWithRecording, error) {
	psql := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	sb := psql.
		Select(`j.id, j.owner_id, j.recording_id, j.kind, j.status, j.params,
			j.error_message, j.retry_count, j.is_new_upload,
			j.created_at, j.started_at, j.completed_at, r.title`).
		From("processing_jobs j").
		Join("recordings r ON r.id = j.recording_id").
		Where(sq.Eq{"j.owner_id": ownerID}).
		Where(sq.Or{
			sq.Eq{"j.status": []string{string(JobQueued), string(JobProcessing)}},
			sq.GtOrEq{"j.completed_at": terminalSince},
		}).
		OrderBy("j.created_at DESC, j.id DESC")

	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("list jobs: build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var result []JobWithRecording
	for rows.Next() {
		var (
			r      JobWithRecording
			params []byte
		)
		if err := rows.Scan(
			&r.ID, &r.OwnerID, &r.RecordingID, &r.Kind, &r.Status, &params,
			&r.ErrorMessage, &r.RetryCount, &r.IsNewUpload,
			&r.CreatedAt, &r.StartedAt, &r.CompletedAt, &r.RecordingTitle,
		); err != nil {
			return nil, fmt.Errorf("list jobs: scan: %w", err)
		}
		r.Params = json.RawMessage(params)
		result = append(result, r)
	}
	return result, rows.Err()
}

// RequeueStaleJobs resets jobs stuck in processing since before cutoff back
// to queued. Covers worker crashes; retry_count is untouched because no
// engine attempt concluded. Returns the number of jobs recovered.
func (s *Store) RequeueStaleJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE processing_jobs
		SET status = 'queued'
		WHERE status = 'processing' AND started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs: rows affected: %w", err)
	}
	return n, nil
}
