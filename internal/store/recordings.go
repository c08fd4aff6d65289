// ABOUTME: Store methods for recordings (the subjects jobs operate on):
// ABOUTME: CRUD, engine result writes, and the jobs-then-recording cascade delete.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// RecordingStatus is the externally visible processing state of a recording.
type RecordingStatus string

const (
	RecordingPending    RecordingStatus = "pending"
	RecordingProcessing RecordingStatus = "processing"
	RecordingCompleted  RecordingStatus = "completed"
	RecordingFailed     RecordingStatus = "failed"
)

// Recording is one uploaded recording row.
type Recording struct {
	ID            uuid.UUID
	OwnerID       uuid.UUID
	Title         string
	AudioPath     string
	Status        RecordingStatus
	Language      sql.NullString
	AutoSummarize bool
	SummaryPrompt sql.NullString
	Transcript    sql.NullString
	Summary       sql.NullString
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

const recordingColumns = `id, owner_id, title, audio_path, status, language,
	auto_summarize, summary_prompt, transcript, summary, created_at, updated_at`

func scanRecording(row interface{ Scan(...any) error }) (*Recording, error) {
	var r Recording
	err := row.Scan(
		&r.ID, &r.OwnerID, &r.Title, &r.AudioPath, &r.Status, &r.Language,
		&r.AutoSummarize, &r.SummaryPrompt, &r.Transcript, &r.Summary,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRecordingParams holds the fields for creating a recording.
type CreateRecordingParams struct {
	OwnerID       uuid.UUID
	Title         string
	AudioPath     string
	Language      *string
	AutoSummarize bool
	SummaryPrompt *string
}

// CreateRecordingWithJob inserts a recording and its first processing job in
// one transaction, so a producer can never leave a recording without the job
// that is supposed to process it (or vice versa). Returns the recording and
// the job id.
func (s *Store) CreateRecordingWithJob(ctx context.Context, p CreateRecordingParams, kind JobKind, params []byte) (*Recording, uuid.UUID, error) {
	var (
		rec   *Recording
		jobID uuid.UUID
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO recordings (owner_id, title, audio_path, language, auto_summarize, summary_prompt)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING `+recordingColumns,
			p.OwnerID, p.Title, p.AudioPath,
			nullString(p.Language), p.AutoSummarize, nullString(p.SummaryPrompt))
		var err error
		rec, err = scanRecording(row)
		if err != nil {
			return fmt.Errorf("create recording: %w", err)
		}
		jobID, err = enqueueJob(ctx, tx, EnqueueJobParams{
			OwnerID:     p.OwnerID,
			RecordingID: rec.ID,
			Kind:        kind,
			Params:      params,
			IsNewUpload: true,
		})
		return err
	})
	if err != nil {
		return nil, uuid.Nil, err
	}
	return rec, jobID, nil
}

// GetRecording returns the recording with the given id scoped to ownerID,
// or (nil, nil) if not found.
func (s *Store) GetRecording(ctx context.Context, ownerID, id uuid.UUID) (*Recording, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordingColumns+` FROM recordings WHERE id = $1 AND owner_id = $2`,
		id, ownerID)
	rec, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get recording: %w", err)
	}
	return rec, nil
}

// GetRecordingByID returns the recording regardless of owner, or (nil, nil)
// if not found. Worker code paths already hold the owner via the job row.
func (s *Store) GetRecordingByID(ctx context.Context, id uuid.UUID) (*Recording, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordingColumns+` FROM recordings WHERE id = $1`, id)
	rec, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get recording: %w", err)
	}
	return rec, nil
}

// ListRecordings returns an owner's recordings, newest first.
func (s *Store) ListRecordings(ctx context.Context, ownerID uuid.UUID, limit int) ([]Recording, error) {
	psql := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	sb := psql.Select(recordingColumns).
		From("recordings").
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("created_at DESC, id DESC")
	if limit > 0 {
		sb = sb.Limit(uint64(limit)) //nolint:gosec // G115: limit validated by caller
	}
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("list recordings: build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var result []Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("list recordings: scan: %w", err)
		}
		result = append(result, *rec)
	}
	return result, rows.Err()
}

// SetRecordingStatus updates the externally visible processing state.
func (s *Store) SetRecordingStatus(ctx context.Context, id uuid.UUID, status RecordingStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE recordings SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status))
	if err != nil {
		return fmt.Errorf("set recording status: %w", err)
	}
	return nil
}

// SaveTranscript stores a transcription engine's output on the recording.
func (s *Store) SaveTranscript(ctx context.Context, id uuid.UUID, transcript string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE recordings SET transcript = $2, updated_at = now() WHERE id = $1`,
		id, transcript)
	if err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

// SaveSummary stores a summarization engine's output on the recording.
func (s *Store) SaveSummary(ctx context.Context, id uuid.UUID, summary string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE recordings SET summary = $2, updated_at = now() WHERE id = $1`,
		id, summary)
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}

// DeleteRecordingCascade removes a recording and every job row referencing
// it, in that dependency order, inside one transaction. The jobs must go
// first: the foreign key is RESTRICT precisely so no code path can orphan a
// job row. Returns the stored audio path so the caller can remove the
// artifact, and found=false when the recording does not exist.
func (s *Store) DeleteRecordingCascade(ctx context.Context, id uuid.UUID) (audioPath string, found bool, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT audio_path FROM recordings WHERE id = $1 FOR UPDATE`, id)
		if err := row.Scan(&audioPath); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("lock recording: %w", err)
		}
		found = true
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM processing_jobs WHERE recording_id = $1`, id); err != nil {
			return fmt.Errorf("delete recording jobs: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM recordings WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete recording: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return audioPath, found, nil
}
