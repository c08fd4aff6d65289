// ABOUTME: Worker pool driving the job queues: one claim loop per queue plus
// ABOUTME: stale-job recovery. Owns the retry budget and the cleanup policy.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/murtaza-nasir/speakr-sub000/internal/engine"
	"github.com/murtaza-nasir/speakr-sub000/internal/store"
)

// ArtifactStore is the slice of the blob store the worker needs for cleanup.
type ArtifactStore interface {
	Remove(path string) error
}

// Config holds the worker pool tunables.
type Config struct {
	// PollInterval is how long a queue loop sleeps when it finds no work.
	PollInterval time.Duration
	// JobTimeout bounds a single engine call.
	JobTimeout time.Duration
	// MaxRetries is the total transient-attempt budget per job.
	MaxRetries int
	// StaleCheckInterval is how often stuck processing rows are swept.
	StaleCheckInterval time.Duration
	// StaleThreshold is how long a job may sit in processing before it is
	// presumed orphaned by a crashed worker. Must exceed JobTimeout.
	StaleThreshold time.Duration
}

// Pool runs one worker goroutine per logical queue. Within a queue jobs are
// strictly sequential; the two queues run concurrently so a summarization
// backlog never starves transcription.
type Pool struct {
	store   *store.Store
	sched   *Scheduler
	blobs   ArtifactStore
	engines map[store.JobKind]engine.Engine
	cfg     Config
	log     *slog.Logger
}

// NewPool creates a worker pool. Engines must be registered before Run.
func NewPool(st *store.Store, blobs ArtifactStore, cfg Config, log *slog.Logger) *Pool {
	return &Pool{
		store:   st,
		sched:   NewScheduler(st, log),
		blobs:   blobs,
		engines: make(map[store.JobKind]engine.Engine),
		cfg:     cfg,
		log:     log,
	}
}

// RegisterEngine binds a job kind to the engine that processes it.
func (p *Pool) RegisterEngine(kind store.JobKind, e engine.Engine) {
	p.engines[kind] = e
}

// Run starts the queue loops and the stale-recovery sweep, then blocks until
// ctx is cancelled and every loop has drained its in-flight job.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, queue := range store.Queues() {
		wg.Add(1)
		go func(queue string) {
			defer wg.Done()
			p.runQueue(ctx, queue)
		}(queue)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.runStaleSweep(ctx)
	}()
	wg.Wait()
}

// runQueue is the claim loop for one queue: drain everything claimable, then
// sleep one poll interval and try again.
func (p *Pool) runQueue(ctx context.Context, queue string) {
	log := p.log.With("queue", queue)
	log.Info("queue worker started", "poll_interval", p.cfg.PollInterval)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		for {
			job, err := p.sched.ClaimNext(ctx, queue)
			if err != nil {
				if ctx.Err() == nil {
					log.Error("claim failed", "error", err)
				}
				break
			}
			if job == nil {
				break
			}
			jobsClaimed.WithLabelValues(queue).Inc()
			p.process(ctx, queue, job)
		}

		select {
		case <-ctx.Done():
			log.Info("queue worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// runStaleSweep periodically requeues jobs stuck in processing past the
// threshold, most commonly after a worker process died mid-job. The requeue
// does not touch retry_count: no engine attempt concluded.
func (p *Pool) runStaleSweep(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.StaleCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := p.store.RequeueStaleJobs(ctx, time.Now().Add(-p.cfg.StaleThreshold))
		if err != nil {
			if ctx.Err() == nil {
				p.log.Error("stale sweep failed", "error", err)
			}
			continue
		}
		if n > 0 {
			staleRequeued.Add(float64(n))
			p.log.Warn("requeued stale jobs", "count", n)
		}
	}
}

// process runs one claimed job to an outcome. It never panics the loop and
// never returns an error: every failure path ends in a recorded outcome.
func (p *Pool) process(ctx context.Context, queue string, job *store.Job) {
	log := p.log.With("queue", queue, "job_id", job.ID, "kind", job.Kind,
		"owner_id", job.OwnerID, "recording_id", job.RecordingID, "retry_count", job.RetryCount)
	log.Info("job started")

	rec, err := p.store.GetRecordingByID(ctx, job.RecordingID)
	if err != nil {
		// A read failure says nothing about the recording; treat it as
		// transient so the job is not lost to the cleanup cascade.
		p.finishFailure(ctx, queue, job, rec, engine.Transient("load recording", err), log)
		return
	}
	if rec == nil {
		p.finishFailure(ctx, queue, job, nil,
			engine.Permanent("load recording", fmt.Errorf("recording %s not found", job.RecordingID)), log)
		return
	}

	if err := p.store.SetRecordingStatus(ctx, rec.ID, store.RecordingProcessing); err != nil {
		log.Error("set recording status failed", "error", err)
	}

	eng, ok := p.engines[job.Kind]
	if !ok {
		p.finishFailure(ctx, queue, job, rec,
			engine.Permanent("dispatch", fmt.Errorf("no engine registered for kind %q", job.Kind)), log)
		return
	}

	subject := engine.Subject{
		ID:         rec.ID,
		OwnerID:    rec.OwnerID,
		Title:      rec.Title,
		AudioPath:  rec.AudioPath,
		Language:   rec.Language.String,
		Transcript: rec.Transcript.String,
		Prompt:     rec.SummaryPrompt.String,
	}

	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	err = eng.Process(jobCtx, subject, job.Params)
	cancel()

	if err != nil {
		p.finishFailure(ctx, queue, job, rec, err, log)
		return
	}
	p.finishSuccess(ctx, queue, job, rec, log)
}

// finishSuccess completes the job and either chains the follow-up summary or
// settles the recording as completed.
func (p *Pool) finishSuccess(ctx context.Context, queue string, job *store.Job, rec *store.Recording, log *slog.Logger) {
	if err := p.store.CompleteJob(ctx, job.ID); err != nil {
		log.Error("complete job failed", "error", err)
		return
	}
	jobsCompleted.WithLabelValues(queue).Inc()

	if next, ok := followUpKind(job.Kind); ok && rec.AutoSummarize {
		// The recording stays in processing until the chained job settles it.
		nextID, err := p.store.EnqueueJob(ctx, store.EnqueueJobParams{
			OwnerID:     job.OwnerID,
			RecordingID: job.RecordingID,
			Kind:        next,
			IsNewUpload: job.IsNewUpload,
		})
		if err != nil {
			log.Error("enqueue follow-up failed", "next_kind", next, "error", err)
			// The transcript is saved; surface the recording rather than
			// leaving it stuck in processing forever.
			if err := p.store.SetRecordingStatus(ctx, rec.ID, store.RecordingCompleted); err != nil {
				log.Error("set recording status failed", "error", err)
			}
			return
		}
		log.Info("job completed", "next_job_id", nextID, "next_kind", next)
		return
	}

	if err := p.store.SetRecordingStatus(ctx, rec.ID, store.RecordingCompleted); err != nil {
		log.Error("set recording status failed", "error", err)
	}
	log.Info("job completed")
}

// finishFailure applies the retry budget and, on permanent failure, the
// cleanup policy: a failed new upload is removed entirely (artifact,
// recording, job rows), while a failed reprocess leaves the recording and its
// existing outputs untouched.
func (p *Pool) finishFailure(ctx context.Context, queue string, job *store.Job, rec *store.Recording, procErr error, log *slog.Logger) {
	retryable := engine.IsRetryable(procErr)

	if retryable && int(job.RetryCount)+1 < p.cfg.MaxRetries {
		if err := p.store.RequeueJobForRetry(ctx, job.ID, procErr.Error()); err != nil {
			log.Error("requeue for retry failed", "error", err)
			return
		}
		jobsRetried.WithLabelValues(queue).Inc()
		log.Warn("job failed, will retry", "attempt", job.RetryCount+1, "error", procErr)
		return
	}

	// Terminal. A transient error that exhausted the budget still counts as
	// an attempt, so retry_count reflects the total attempts made.
	if err := p.store.FailJob(ctx, job.ID, procErr.Error(), retryable); err != nil {
		log.Error("fail job failed", "error", err)
		return
	}
	jobsFailed.WithLabelValues(queue).Inc()
	log.Error("job failed permanently", "retryable", retryable, "error", procErr)

	if rec == nil {
		return
	}

	if job.IsNewUpload {
		if err := p.blobs.Remove(rec.AudioPath); err != nil {
			// Best-effort: an orphaned file must not block the row cleanup.
			log.Warn("remove audio artifact failed", "path", rec.AudioPath, "error", err)
		}
		if _, _, err := p.store.DeleteRecordingCascade(ctx, rec.ID); err != nil {
			log.Error("cleanup of failed upload failed", "error", err)
		} else {
			log.Info("failed upload cleaned up")
		}
		return
	}

	if err := p.store.SetRecordingStatus(ctx, rec.ID, store.RecordingFailed); err != nil {
		log.Error("set recording status failed", "error", err)
	}
}

// followUpKind returns the summary-stage kind chained after a successful
// transcription-stage job.
func followUpKind(kind store.JobKind) (store.JobKind, bool) {
	switch kind {
	case store.KindTranscribe:
		return store.KindSummarize, true
	case store.KindReprocessTranscription:
		return store.KindReprocessSummary, true
	default:
		return "", false
	}
}
