// ABOUTME: Integration tests for the job queue store: the atomic claim,
// ABOUTME: fairness queries, retry/fail transitions, and control operations.
package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/murtaza-nasir/speakr-sub000/internal/store"
	"github.com/murtaza-nasir/speakr-sub000/internal/testutil"
)

func enqueue(t *testing.T, s *store.Store, ownerID, recID uuid.UUID, kind store.JobKind, isNew bool) uuid.UUID {
	t.Helper()
	id, err := s.EnqueueJob(context.Background(), store.EnqueueJobParams{
		OwnerID:     ownerID,
		RecordingID: recID,
		Kind:        kind,
		IsNewUpload: isNew,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return id
}

func TestClaimJobAtMostOnce(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	owner := testutil.SeedUser(t, s, "alice")
	rec := testutil.SeedRecording(t, s, owner, "standup")
	jobID := enqueue(t, s, owner, rec, store.KindTranscribe, true)

	const workers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j, err := s.ClaimJob(ctx, jobID)
			if err != nil {
				t.Errorf("ClaimJob: %v", err)
				return
			}
			if j != nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("claim wins = %d, want exactly 1", wins)
	}

	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != store.JobProcessing {
		t.Errorf("status = %s, want processing", j.Status)
	}
	if !j.StartedAt.Valid {
		t.Error("started_at not set on claim")
	}
}

func TestClaimJobRequiresQueued(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	owner := testutil.SeedUser(t, s, "bob")
	rec := testutil.SeedRecording(t, s, owner, "memo")
	jobID := enqueue(t, s, owner, rec, store.KindTranscribe, true)

	if _, err := s.ClaimJob(ctx, jobID); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := s.CompleteJob(ctx, jobID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	j, err := s.ClaimJob(ctx, jobID)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if j != nil {
		t.Error("claimed a completed job")
	}
}

func TestRetryAndFailTransitions(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	owner := testutil.SeedUser(t, s, "carol")
	rec := testutil.SeedRecording(t, s, owner, "interview")
	jobID := enqueue(t, s, owner, rec, store.KindSummarize, false)

	// Two transient attempts.
	for i := 1; i <= 2; i++ {
		if _, err := s.ClaimJob(ctx, jobID); err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if err := s.RequeueJobForRetry(ctx, jobID, "engine timeout"); err != nil {
			t.Fatalf("requeue %d: %v", i, err)
		}
		j, err := s.GetJob(ctx, jobID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if j.Status != store.JobQueued || j.RetryCount != int32(i) {
			t.Fatalf("after requeue %d: status=%s retry_count=%d", i, j.Status, j.RetryCount)
		}
	}

	// Third transient attempt exhausts the budget; the terminal failure
	// still counts as an attempt.
	if _, err := s.ClaimJob(ctx, jobID); err != nil {
		t.Fatalf("final claim: %v", err)
	}
	if err := s.FailJob(ctx, jobID, "engine timeout", true); err != nil {
		t.Fatalf("fail: %v", err)
	}

	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if j.Status != store.JobFailed {
		t.Errorf("status = %s, want failed", j.Status)
	}
	if j.RetryCount != 3 {
		t.Errorf("retry_count = %d, want 3", j.RetryCount)
	}
	if !j.ErrorMessage.Valid || j.ErrorMessage.String != "engine timeout" {
		t.Errorf("error_message = %+v", j.ErrorMessage)
	}
	if !j.CompletedAt.Valid {
		t.Error("completed_at not set on failure")
	}
}

func TestFailJobWithoutCountingAttempt(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	owner := testutil.SeedUser(t, s, "dave")
	rec := testutil.SeedRecording(t, s, owner, "lecture")
	jobID := enqueue(t, s, owner, rec, store.KindTranscribe, true)

	if _, err := s.ClaimJob(ctx, jobID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.FailJob(ctx, jobID, "unsupported audio format", false); err != nil {
		t.Fatalf("fail: %v", err)
	}

	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if j.Status != store.JobFailed || j.RetryCount != 0 {
		t.Errorf("status=%s retry_count=%d, want failed/0", j.Status, j.RetryCount)
	}
}

func TestOldestQueuedJobIsFIFO(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	owner := testutil.SeedUser(t, s, "erin")
	rec := testutil.SeedRecording(t, s, owner, "podcast")

	first := enqueue(t, s, owner, rec, store.KindTranscribe, true)
	enqueue(t, s, owner, rec, store.KindReprocessTranscription, false)
	enqueue(t, s, owner, rec, store.KindTranscribe, false)

	j, err := s.OldestQueuedJob(ctx, store.QueueTranscription, owner)
	if err != nil {
		t.Fatalf("OldestQueuedJob: %v", err)
	}
	if j == nil || j.ID != first {
		t.Fatalf("oldest = %+v, want job %s", j, first)
	}
}

func TestQueuedOwnersFiltersByQueue(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	alice := testutil.SeedUser(t, s, "alice")
	bob := testutil.SeedUser(t, s, "bob")
	recA := testutil.SeedRecording(t, s, alice, "a")
	recB := testutil.SeedRecording(t, s, bob, "b")

	enqueue(t, s, alice, recA, store.KindTranscribe, true)
	enqueue(t, s, bob, recB, store.KindSummarize, false)

	owners, err := s.QueuedOwners(ctx, store.QueueTranscription)
	if err != nil {
		t.Fatalf("QueuedOwners: %v", err)
	}
	if len(owners) != 1 || owners[0] != alice {
		t.Errorf("transcription owners = %v, want [%s]", owners, alice)
	}

	owners, err = s.QueuedOwners(ctx, store.QueueSummary)
	if err != nil {
		t.Fatalf("QueuedOwners: %v", err)
	}
	if len(owners) != 1 || owners[0] != bob {
		t.Errorf("summary owners = %v, want [%s]", owners, bob)
	}
}

func TestResetFailedJobOwnership(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	alice := testutil.SeedUser(t, s, "alice")
	mallory := testutil.SeedUser(t, s, "mallory")
	rec := testutil.SeedRecording(t, s, alice, "notes")
	jobID := enqueue(t, s, alice, rec, store.KindTranscribe, true)

	if _, err := s.ClaimJob(ctx, jobID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.FailJob(ctx, jobID, "boom", true); err != nil {
		t.Fatalf("fail: %v", err)
	}

	// Wrong owner: no mutation.
	j, err := s.ResetFailedJob(ctx, mallory, jobID)
	if err != nil {
		t.Fatalf("reset as mallory: %v", err)
	}
	if j != nil {
		t.Fatal("mallory reset alice's job")
	}
	got, _ := s.GetJob(ctx, jobID)
	if got.Status != store.JobFailed {
		t.Fatalf("status mutated to %s by foreign reset", got.Status)
	}

	// Right owner: back to queued with a clean slate.
	j, err = s.ResetFailedJob(ctx, alice, jobID)
	if err != nil {
		t.Fatalf("reset as alice: %v", err)
	}
	if j == nil {
		t.Fatal("owner reset returned nil")
	}
	if j.Status != store.JobQueued || j.RetryCount != 0 || j.ErrorMessage.Valid ||
		j.StartedAt.Valid || j.CompletedAt.Valid {
		t.Errorf("reset job = %+v, want clean queued row", j)
	}

	// Resetting a queued job is a no-op.
	j, err = s.ResetFailedJob(ctx, alice, jobID)
	if err != nil {
		t.Fatalf("reset queued: %v", err)
	}
	if j != nil {
		t.Error("reset succeeded on a non-failed job")
	}
}

func TestClearCompletedJobsScopedToOwner(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	alice := testutil.SeedUser(t, s, "alice")
	bob := testutil.SeedUser(t, s, "bob")
	recA := testutil.SeedRecording(t, s, alice, "a")
	recB := testutil.SeedRecording(t, s, bob, "b")

	doneA := enqueue(t, s, alice, recA, store.KindTranscribe, true)
	queuedA := enqueue(t, s, alice, recA, store.KindSummarize, true)
	doneB := enqueue(t, s, bob, recB, store.KindTranscribe, true)

	for _, id := range []uuid.UUID{doneA, doneB} {
		if _, err := s.ClaimJob(ctx, id); err != nil {
			t.Fatalf("claim: %v", err)
		}
		if err := s.CompleteJob(ctx, id); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}

	n, err := s.ClearCompletedJobs(ctx, alice)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n != 1 {
		t.Errorf("cleared = %d, want 1", n)
	}

	if j, _ := s.GetJob(ctx, doneA); j != nil {
		t.Error("alice's completed job survived clear")
	}
	if j, _ := s.GetJob(ctx, queuedA); j == nil {
		t.Error("alice's queued job was cleared")
	}
	if j, _ := s.GetJob(ctx, doneB); j == nil {
		t.Error("bob's completed job was cleared by alice")
	}
}

func TestListOwnerJobsRecentWindow(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	owner := testutil.SeedUser(t, s, "frank")
	rec := testutil.SeedRecording(t, s, owner, "meeting")

	active := enqueue(t, s, owner, rec, store.KindTranscribe, true)
	oldDone := enqueue(t, s, owner, rec, store.KindSummarize, true)
	recentDone := enqueue(t, s, owner, rec, store.KindSummarize, true)

	for _, id := range []uuid.UUID{oldDone, recentDone} {
		if _, err := s.ClaimJob(ctx, id); err != nil {
			t.Fatalf("claim: %v", err)
		}
		if err := s.CompleteJob(ctx, id); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}

	// Backdate one completion past the window.
	if _, err := s.DB().ExecContext(ctx,
		`UPDATE processing_jobs SET completed_at = now() - interval '2 hours' WHERE id = $1`,
		oldDone); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	jobs, err := s.ListOwnerJobs(ctx, owner, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	ids := make(map[uuid.UUID]bool, len(jobs))
	for _, j := range jobs {
		ids[j.ID] = true
		if j.RecordingTitle != "meeting" {
			t.Errorf("recording title = %q", j.RecordingTitle)
		}
	}
	if !ids[active] || !ids[recentDone] {
		t.Errorf("missing active or recent job: %v", ids)
	}
	if ids[oldDone] {
		t.Error("stale completed job still listed")
	}
}

func TestRequeueStaleJobsKeepsRetryCount(t *testing.T) {
	t.Parallel()
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	owner := testutil.SeedUser(t, s, "grace")
	rec := testutil.SeedRecording(t, s, owner, "call")
	staleID := enqueue(t, s, owner, rec, store.KindTranscribe, true)
	freshID := enqueue(t, s, owner, rec, store.KindSummarize, true)

	for _, id := range []uuid.UUID{staleID, freshID} {
		if _, err := s.ClaimJob(ctx, id); err != nil {
			t.Fatalf("claim: %v", err)
		}
	}
	if _, err := s.DB().ExecContext(ctx,
		`UPDATE processing_jobs SET started_at = now() - interval '1 hour' WHERE id = $1`,
		staleID); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	n, err := s.RequeueStaleJobs(ctx, time.Now().Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("requeue stale: %v", err)
	}
	if n != 1 {
		t.Errorf("requeued = %d, want 1", n)
	}

	stale, _ := s.GetJob(ctx, staleID)
	if stale.Status != store.JobQueued {
		t.Errorf("stale status = %s, want queued", stale.Status)
	}
	if stale.RetryCount != 0 {
		t.Errorf("stale retry_count = %d, crash recovery must not burn attempts", stale.RetryCount)
	}
	fresh, _ := s.GetJob(ctx, freshID)
	if fresh.Status != store.JobProcessing {
		t.Errorf("fresh job requeued: status = %s", fresh.Status)
	}
}
