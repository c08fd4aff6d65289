// ABOUTME: Fair round-robin scheduling over the processing_jobs table.
// ABOUTME: Picks the next owner after the persisted cursor and claims their oldest job.
package queue

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/murtaza-nasir/speakr-sub000/internal/store"
)

// Scheduler selects and claims the next job for a queue. Fairness is
// round-robin across owners: the rotation resumes after the owner recorded in
// the queue's persisted cursor, and within an owner jobs run strictly oldest
// first. All coordination happens through the database, so any number of
// scheduler instances in any number of processes stay correct.
type Scheduler struct {
	store *store.Store
	log   *slog.Logger
}

// NewScheduler creates a Scheduler over the given store.
func NewScheduler(st *store.Store, log *slog.Logger) *Scheduler {
	return &Scheduler{store: st, log: log}
}

// ClaimNext claims the next job due on the named queue, honoring the
// round-robin rotation, and returns it already in the processing state.
// Returns (nil, nil) when the queue has no claimable work.
//
// A candidate lost to a concurrent worker is not an error: the enumeration is
// stale, so the loop re-reads the owner set and tries again. The loop
// terminates because every pass either claims a job, observes an empty queue,
// or observes another worker making progress.
func (s *Scheduler) ClaimNext(ctx context.Context, queue string) (*store.Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		owners, err := s.store.QueuedOwners(ctx, queue)
		if err != nil {
			return nil, fmt.Errorf("claim next: %w", err)
		}
		if len(owners) == 0 {
			return nil, nil
		}

		cursor, err := s.store.QueueCursor(ctx, queue)
		if err != nil {
			return nil, fmt.Errorf("claim next: %w", err)
		}

		lostRace := false
		for _, owner := range rotateAfter(owners, cursor) {
			job, err := s.store.OldestQueuedJob(ctx, queue, owner)
			if err != nil {
				return nil, fmt.Errorf("claim next: %w", err)
			}
			if job == nil {
				// Drained since enumeration; the next owner gets the turn.
				continue
			}

			claimed, err := s.store.ClaimJob(ctx, job.ID)
			if err != nil {
				return nil, fmt.Errorf("claim next: %w", err)
			}
			if claimed == nil {
				claimRaces.WithLabelValues(queue).Inc()
				lostRace = true
				break
			}

			// Cursor advance is best-effort; losing it skews the rotation by
			// one step at most.
			if err := s.store.AdvanceQueueCursor(ctx, queue, owner); err != nil {
				s.log.Warn("advance queue cursor failed", "queue", queue, "error", err)
			}
			return claimed, nil
		}

		if !lostRace {
			// Every enumerated owner drained between the two reads.
			return nil, nil
		}
	}
}

// rotateAfter reorders the sorted owner list to start at the first owner
// strictly after the cursor position, wrapping around. An unset cursor (or
// one no longer present, e.g. after its owner drained) starts from the
// beginning of whatever segment follows it.
func rotateAfter(owners []uuid.UUID, cursor uuid.NullUUID) []uuid.UUID {
	if !cursor.Valid {
		return owners
	}
	start := 0
	for i, o := range owners {
		if bytes.Compare(o[:], cursor.UUID[:]) > 0 {
			start = i
			break
		}
		if i == len(owners)-1 {
			// Cursor is at or past the last owner; wrap to the front.
			return owners
		}
	}
	rotated := make([]uuid.UUID, 0, len(owners))
	rotated = append(rotated, owners[start:]...)
	rotated = append(rotated, owners[:start]...)
	return rotated
}
