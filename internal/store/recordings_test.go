// ABOUTME: Integration tests for the recordings store: atomic create-with-job,
// ABOUTME: the cascade delete, and the FK guard that makes the cascade mandatory.
package store_test

import (
	"context"
	"testing"

	"github.com/murtaza-nasir/speakr-sub000/internal/store"
	"github.com/murtaza-nasir/speakr-sub000/internal/testutil"
)

func TestCreateRecordingWithJob(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	owner := testutil.SeedUser(t, s, "alice")
	lang := "en"
	rec, jobID, err := s.CreateRecordingWithJob(ctx, store.CreateRecordingParams{
		OwnerID:       owner,
		Title:         "weekly sync",
		AudioPath:     "/tmp/audio/x.mp3",
		Language:      &lang,
		AutoSummarize: true,
	}, store.KindTranscribe, nil)
	if err != nil {
		t.Fatalf("CreateRecordingWithJob: %v", err)
	}
	if rec.Status != store.RecordingPending {
		t.Errorf("status = %s, want pending", rec.Status)
	}

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job == nil {
		t.Fatal("job row missing after create")
	}
	if job.RecordingID != rec.ID || job.OwnerID != owner {
		t.Errorf("job references wrong rows: %+v", job)
	}
	if job.Kind != store.KindTranscribe || !job.IsNewUpload {
		t.Errorf("job kind/is_new_upload = %s/%v", job.Kind, job.IsNewUpload)
	}
}

func TestDirectRecordingDeleteBlockedByJobs(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	owner := testutil.SeedUser(t, s, "bob")
	rec, _, err := s.CreateRecordingWithJob(ctx, store.CreateRecordingParams{
		OwnerID:   owner,
		Title:     "memo",
		AudioPath: "/tmp/audio/m.mp3",
	}, store.KindTranscribe, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// The FK is RESTRICT: deleting the recording while job rows reference it
	// must fail. Only the cascade path may remove recordings.
	if _, err := s.DB().ExecContext(ctx,
		`DELETE FROM recordings WHERE id = $1`, rec.ID); err == nil {
		t.Fatal("direct delete succeeded despite referencing job rows")
	}
}

func TestDeleteRecordingCascade(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	owner := testutil.SeedUser(t, s, "carol")
	rec, jobID, err := s.CreateRecordingWithJob(ctx, store.CreateRecordingParams{
		OwnerID:   owner,
		Title:     "brainstorm",
		AudioPath: "/tmp/audio/b.mp3",
	}, store.KindTranscribe, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	audioPath, found, err := s.DeleteRecordingCascade(ctx, rec.ID)
	if err != nil {
		t.Fatalf("cascade: %v", err)
	}
	if !found {
		t.Fatal("cascade reported recording missing")
	}
	if audioPath != "/tmp/audio/b.mp3" {
		t.Errorf("audioPath = %q", audioPath)
	}

	if got, _ := s.GetRecordingByID(ctx, rec.ID); got != nil {
		t.Error("recording survived cascade")
	}
	if got, _ := s.GetJob(ctx, jobID); got != nil {
		t.Error("job row survived cascade")
	}

	// Deleting again reports not found without error.
	_, found, err = s.DeleteRecordingCascade(ctx, rec.ID)
	if err != nil {
		t.Fatalf("second cascade: %v", err)
	}
	if found {
		t.Error("second cascade reported found")
	}
}

func TestSaveEngineOutputs(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	owner := testutil.SeedUser(t, s, "dave")
	recID := testutil.SeedRecording(t, s, owner, "retro")

	if err := s.SaveTranscript(ctx, recID, "we discussed the roadmap"); err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}
	if err := s.SaveSummary(ctx, recID, "roadmap agreed"); err != nil {
		t.Fatalf("SaveSummary: %v", err)
	}
	if err := s.SetRecordingStatus(ctx, recID, store.RecordingCompleted); err != nil {
		t.Fatalf("SetRecordingStatus: %v", err)
	}

	rec, err := s.GetRecording(ctx, owner, recID)
	if err != nil {
		t.Fatalf("GetRecording: %v", err)
	}
	if rec.Transcript.String != "we discussed the roadmap" {
		t.Errorf("transcript = %q", rec.Transcript.String)
	}
	if rec.Summary.String != "roadmap agreed" {
		t.Errorf("summary = %q", rec.Summary.String)
	}
	if rec.Status != store.RecordingCompleted {
		t.Errorf("status = %s", rec.Status)
	}
}

func TestGetRecordingScopedToOwner(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	alice := testutil.SeedUser(t, s, "alice")
	mallory := testutil.SeedUser(t, s, "mallory")
	recID := testutil.SeedRecording(t, s, alice, "private")

	rec, err := s.GetRecording(ctx, mallory, recID)
	if err != nil {
		t.Fatalf("GetRecording: %v", err)
	}
	if rec != nil {
		t.Error("mallory read alice's recording")
	}
}
