package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/voxpipe/api/internal/client"
	"github.com/voxpipe/api/internal/inference"
	"github.com/voxpipe/api/internal/model"
	"github.com/voxpipe/api/internal/storage"
	"github.com/voxpipe/api/internal/transform"
)

// ErrJobNotReady is returned when a result is requested before the job
// reaches Succeeded.
var ErrJobNotReady = errors.New("job not completed")

// Transformer is the media transform stage as the scheduler sees it.
type Transformer interface {
	Normalize(ctx context.Context, in storage.Ref, jobID string, spec model.TransformSpec) (storage.Ref, float64, error)
}

// InferenceStage is the GPU stage as the scheduler sees it.
type InferenceStage interface {
	Infer(ctx context.Context, jobID string, intermediate storage.Ref, language string, lease inference.Lease, progress func(pct int, step string)) (storage.Ref, []model.TranscriptSegment, error)
}

// Notifier pushes job events to live subscribers. The websocket hub
// satisfies this; a nil Notifier disables events.
type Notifier interface {
	BroadcastProgress(jobID string, progress int, status model.JobStatus, step string)
	BroadcastComplete(jobID string, result interface{})
	BroadcastError(jobID, code, message string)
}

// Options tune the scheduler.
type Options struct {
	GPUCount    int
	MaxAttempts int
	Lookahead   int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Retention   time.Duration
	Clock       Clock
}

func (o *Options) withDefaults() {
	if o.GPUCount < 1 {
		o.GPUCount = 1
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 2 * time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 2 * time.Minute
	}
	if o.Retention <= 0 {
		o.Retention = time.Hour
	}
	if o.Clock == nil {
		o.Clock = NewRealClock()
	}
}

// SubmitRequest carries everything needed to create a job. ID is optional;
// the gateway pre-assigns it so the upload can be keyed by job id.
type SubmitRequest struct {
	ID        string
	InputRef  storage.Ref
	Filename  string
	Language  string
	Transform model.TransformSpec
	Priority  int
}

// Scheduler is the single authority over job ordering, GPU lease arbitration
// and retry policy. One mutex guards job state, the queue and lease handout,
// so lease-acquire-and-dequeue is an atomic compound operation.
type Scheduler struct {
	mu          sync.Mutex
	jobs        map[string]*model.Job
	queue       *jobQueue
	pool        *LeasePool
	timers      map[string]Timer
	cancelReq   map[string]bool
	prefetching map[string]bool

	transformer Transformer
	inferrer    InferenceStage
	store       Store
	blobs       *storage.LocalStore
	mirror      client.ArtifactMirror
	asynqClient *asynq.Client
	events      Notifier

	opts    Options
	clock   Clock
	backoff *Backoff

	notify  chan struct{}
	wg      sync.WaitGroup
	log     zerolog.Logger
}

// New wires a scheduler. mirror, asynqClient and events may be nil.
func New(
	transformer Transformer,
	inferrer InferenceStage,
	store Store,
	blobs *storage.LocalStore,
	mirror client.ArtifactMirror,
	asynqClient *asynq.Client,
	events Notifier,
	opts Options,
	log zerolog.Logger,
) *Scheduler {
	opts.withDefaults()
	return &Scheduler{
		jobs:        make(map[string]*model.Job),
		queue:       newJobQueue(),
		pool:        NewLeasePool(opts.GPUCount),
		timers:      make(map[string]Timer),
		cancelReq:   make(map[string]bool),
		prefetching: make(map[string]bool),
		transformer: transformer,
		inferrer:    inferrer,
		store:       store,
		blobs:       blobs,
		mirror:      mirror,
		asynqClient: asynqClient,
		events:      events,
		opts:        opts,
		clock:       opts.Clock,
		backoff:     NewBackoff(opts.BackoffBase, opts.BackoffMax),
		notify:      make(chan struct{}, 1),
		log:         log.With().Str("component", "scheduler").Logger(),
	}
}

// Submit creates a job in Queued and appends it to the queue honoring
// priority ordering. It never blocks on pipeline work.
func (s *Scheduler) Submit(ctx context.Context, req SubmitRequest) (*model.Job, error) {
	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := s.clock.Now()

	job := &model.Job{
		ID:        id,
		Status:    model.JobStatusQueued,
		Priority:  req.Priority,
		Filename:  req.Filename,
		Language:  req.Language,
		InputRef:  req.InputRef.String(),
		Transform: req.Transform,
		CreatedAt: now,
	}

	s.mu.Lock()
	if _, exists := s.jobs[id]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("job %s already exists", id)
	}
	s.jobs[id] = job
	s.queue.push(id, job.Priority, now)
	snapshot := job.Clone()
	s.mu.Unlock()

	s.persist(job)
	s.signal()

	s.log.Info().Str("job", id).Int("priority", job.Priority).
		Str("input", job.InputRef).Msg("job submitted")
	return snapshot, nil
}

// Status returns a consistent snapshot of one job.
func (s *Scheduler) Status(ctx context.Context, jobID string) (*model.Job, error) {
	s.mu.Lock()
	if job, ok := s.jobs[jobID]; ok {
		snapshot := job.Clone()
		s.mu.Unlock()
		return snapshot, nil
	}
	s.mu.Unlock()
	// Not in memory: a job from a previous run, served from the store.
	return s.store.GetJob(ctx, jobID)
}

// Result returns the final artifact of a succeeded job.
func (s *Scheduler) Result(ctx context.Context, jobID string) (*model.ProcessResult, error) {
	job, err := s.Status(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusSucceeded {
		return nil, ErrJobNotReady
	}
	var result model.ProcessResult
	if err := json.Unmarshal(job.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &result, nil
}

// Cancel requests cancellation. Queued jobs become Cancelled immediately and
// leave the queue; running jobs finish their in-flight attempt naturally and
// the result is discarded. Idempotent on terminal jobs.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) (*model.Job, error) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		stored, err := s.store.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if stored.Status.IsTerminal() {
			return stored, nil
		}
		return nil, ErrJobNotFound
	}

	switch {
	case job.Status.IsTerminal():
		snapshot := job.Clone()
		s.mu.Unlock()
		return snapshot, nil

	case job.Status == model.JobStatusQueued:
		s.queue.remove(jobID)
		if t, ok := s.timers[jobID]; ok {
			t.Stop()
			delete(s.timers, jobID)
		}
		now := s.clock.Now()
		job.Status = model.JobStatusCancelled
		job.FinishedAt = &now
		job.CurrentStep = ""
		snapshot := job.Clone()
		s.mu.Unlock()

		s.persist(job)
		s.broadcastError(jobID, "CANCELLED", "job cancelled")
		s.log.Info().Str("job", jobID).Msg("queued job cancelled")
		return snapshot, nil

	default: // Running: cooperative, checked at stage boundaries
		s.cancelReq[jobID] = true
		snapshot := job.Clone()
		s.mu.Unlock()
		s.log.Info().Str("job", jobID).Msg("cancellation requested for running job")
		return snapshot, nil
	}
}

// Run drives dispatch until ctx is done, then waits for in-flight attempts.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info().Int("gpus", s.pool.Size()).Int("max_attempts", s.opts.MaxAttempts).
		Msg("scheduler running")
	for {
		for s.DispatchNext() {
		}
		s.maybePrefetch()

		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.log.Info().Msg("scheduler stopped")
			return
		case <-s.notify:
		}
	}
}

// DispatchNext pops the highest-priority, earliest job and starts an attempt
// if a GPU lease is free. Returns false when there is nothing to dispatch.
// Safe to call concurrently: the coordination mutex guarantees at most one
// caller acquires the lease for a given free device.
func (s *Scheduler) DispatchNext() bool {
	s.mu.Lock()
	if s.queue.len() == 0 || s.pool.Held() >= s.pool.Size() {
		s.mu.Unlock()
		return false
	}
	head, ok := s.queue.peek()
	if !ok {
		s.mu.Unlock()
		return false
	}
	if s.prefetching[head] {
		// Its intermediate is still being transformed; the prefetch
		// goroutine signals on completion and dispatch resumes then.
		// Starting the attempt now would race a second transform onto
		// the same work path.
		s.mu.Unlock()
		return false
	}
	jobID, _ := s.queue.pop()
	job := s.jobs[jobID]
	lease, ok := s.pool.TryAcquire(jobID)
	if !ok {
		// Cannot happen while the mutex covers both the check and the
		// acquire, but do not lose the job if it ever does.
		s.queue.push(jobID, job.Priority, job.CreatedAt)
		s.mu.Unlock()
		return false
	}

	now := s.clock.Now()
	job.Status = model.JobStatusRunning
	job.StartedAt = &now
	job.AttemptCount++
	attempt := job.AttemptCount
	s.mu.Unlock()

	s.persist(job)
	s.setProgress(jobID, 5, "Dispatched to pipeline")
	s.log.Info().Str("job", jobID).Int("attempt", attempt).Msg("job dispatched")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runAttempt(jobID, lease)
	}()
	return true
}

// Snapshot is a read-only view for the dashboard.
func (s *Scheduler) Snapshot() model.QueueSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := model.QueueSnapshot{
		Queued:      []model.QueueEntry{},
		Running:     []string{},
		LeasesHeld:  s.pool.Held(),
		LeasesTotal: s.pool.Size(),
	}
	for _, item := range s.queue.ordered() {
		snap.Queued = append(snap.Queued, model.QueueEntry{
			JobID:     item.jobID,
			Priority:  item.priority,
			CreatedAt: item.createdAt,
		})
	}
	for id, job := range s.jobs {
		if job.Status == model.JobStatusRunning {
			snap.Running = append(snap.Running, id)
		}
	}
	return snap
}

// runAttempt executes one transform+inference attempt while holding the
// lease. The lease is released unconditionally when the attempt ends.
func (s *Scheduler) runAttempt(jobID string, lease *Lease) {
	defer func() {
		lease.Release()
		s.signal()
	}()
	ctx := context.Background()

	if s.cancelRequested(jobID) {
		s.finishCancelled(jobID, "")
		return
	}

	s.mu.Lock()
	job := s.jobs[jobID]
	input := storage.Ref(job.InputRef)
	inter := storage.Ref(job.IntermediateRef)
	spec := job.Transform
	language := job.Language
	s.mu.Unlock()

	if inter == "" {
		s.setProgress(jobID, 15, "Normalizing media...")
		ref, _, err := s.transformer.Normalize(ctx, input, jobID, spec)
		if err != nil {
			s.handleFailure(jobID, err, "")
			return
		}
		inter = ref
		s.mu.Lock()
		job.IntermediateRef = ref.String()
		s.mu.Unlock()
	}

	if s.cancelRequested(jobID) {
		s.finishCancelled(jobID, inter)
		return
	}

	outRef, segments, err := s.inferrer.Infer(ctx, jobID, inter, language, lease,
		func(pct int, step string) { s.setProgress(jobID, pct, step) })
	if err != nil {
		s.handleFailure(jobID, err, inter)
		return
	}

	if s.cancelRequested(jobID) {
		// The attempt was allowed to finish; its output is discarded so a
		// cancelled job never exposes an artifact.
		_ = s.blobs.Delete(outRef)
		s.finishCancelled(jobID, inter)
		return
	}

	s.finishSucceeded(jobID, inter, outRef, segments, spec.TrimLeadSec)
}

// handleFailure applies the retry policy: transient transcoder failures and
// device memory exhaustion are retried with backoff until the attempt limit;
// everything else is terminal.
func (s *Scheduler) handleFailure(jobID string, cause error, inter storage.Ref) {
	if s.cancelRequested(jobID) {
		s.finishCancelled(jobID, inter)
		return
	}

	retryable := transform.IsProcessFailure(cause) || inference.IsOutOfMemory(cause)

	s.mu.Lock()
	job := s.jobs[jobID]

	if retryable && job.AttemptCount < s.opts.MaxAttempts {
		job.Status = model.JobStatusQueued
		job.CurrentStep = "Waiting to retry"
		delay := s.backoff.Delay(job.AttemptCount)
		attempt := job.AttemptCount
		progress := job.Progress
		s.timers[jobID] = s.clock.AfterFunc(delay, func() { s.requeue(jobID) })
		s.mu.Unlock()

		s.persist(job)
		s.broadcastProgress(jobID, progress, model.JobStatusQueued, "Waiting to retry")
		s.log.Warn().Str("job", jobID).Int("attempt", attempt).Dur("delay", delay).
			Err(cause).Msg("attempt failed, retry scheduled")
		return
	}

	msg := cause.Error()
	if retryable {
		msg = fmt.Sprintf("retries exhausted: %s", msg)
	}
	if errors.Is(cause, inference.ErrPreconditionViolation) {
		// Internal scheduling bug. The job is aborted but queue and lease
		// invariants for other jobs stay intact.
		msg = fmt.Sprintf("internal scheduling error: %s", msg)
		s.log.Error().Str("job", jobID).Msg("lease precondition violated")
	}
	now := s.clock.Now()
	job.Status = model.JobStatusFailed
	job.Error = &msg
	job.FinishedAt = &now
	job.CurrentStep = ""
	attempts := job.AttemptCount
	delete(s.cancelReq, jobID)
	s.mu.Unlock()

	s.persist(job)
	s.cleanupIntermediate(jobID, inter)
	s.broadcastError(jobID, "JOB_FAILED", msg)
	s.log.Error().Str("job", jobID).Int("attempts", attempts).
		Err(cause).Msg("job failed")
}

// requeue fires when a retry backoff elapses: the job rejoins the tail of
// its priority tier, losing its original position so it cannot starve peers.
func (s *Scheduler) requeue(jobID string) {
	s.mu.Lock()
	delete(s.timers, jobID)
	job, ok := s.jobs[jobID]
	if !ok || job.Status != model.JobStatusQueued || s.queue.contains(jobID) {
		s.mu.Unlock()
		return
	}
	s.queue.push(jobID, job.Priority, job.CreatedAt)
	s.mu.Unlock()
	s.signal()
	s.log.Info().Str("job", jobID).Msg("job re-enqueued after backoff")
}

func (s *Scheduler) finishSucceeded(jobID string, inter, outRef storage.Ref, segments []model.TranscriptSegment, trimmedSec float64) {
	s.mu.Lock()
	job := s.jobs[jobID]
	now := s.clock.Now()

	result := &model.ProcessResult{
		JobID:               jobID,
		Filename:            job.Filename,
		Language:            job.Language,
		BeepDurationSeconds: trimmedSec,
		TotalSegments:       len(segments),
		Results:             segments,
		CompletedAt:         now,
	}
	s.mu.Unlock()

	if url := s.mirrorArtifact(jobID, result); url != "" {
		result.ArtifactURL = url
	}

	data, err := json.Marshal(result)
	if err != nil {
		s.handleFailure(jobID, fmt.Errorf("failed to encode result: %w", err), inter)
		return
	}

	s.mu.Lock()
	job.Status = model.JobStatusSucceeded
	job.OutputRef = outRef.String()
	job.Result = data
	job.Progress = 100
	job.CurrentStep = ""
	job.FinishedAt = &now
	delete(s.cancelReq, jobID)
	s.mu.Unlock()

	s.persist(job)
	s.cleanupIntermediate(jobID, inter)
	s.schedulePurge(storage.Ref(job.InputRef))
	s.broadcastComplete(jobID, result)
	s.log.Info().Str("job", jobID).Int("segments", len(segments)).
		Str("output", outRef.String()).Msg("job succeeded")
}

func (s *Scheduler) finishCancelled(jobID string, inter storage.Ref) {
	s.mu.Lock()
	job := s.jobs[jobID]
	now := s.clock.Now()
	job.Status = model.JobStatusCancelled
	job.FinishedAt = &now
	job.CurrentStep = ""
	delete(s.cancelReq, jobID)
	s.mu.Unlock()

	s.persist(job)
	s.cleanupIntermediate(jobID, inter)
	s.broadcastError(jobID, "CANCELLED", "job cancelled")
	s.log.Info().Str("job", jobID).Msg("running job cancelled, result discarded")
}

// maybePrefetch normalizes media for jobs near the head of the queue while
// the accelerator is busy elsewhere, bounded by the look-ahead limit so
// intermediates cannot eat the disk.
func (s *Scheduler) maybePrefetch() {
	if s.opts.Lookahead <= 0 {
		return
	}

	s.mu.Lock()
	type work struct {
		jobID string
		input storage.Ref
		spec  model.TransformSpec
	}
	var pending []work
	for i, item := range s.queue.ordered() {
		if i >= s.opts.Lookahead {
			break
		}
		job := s.jobs[item.jobID]
		if job.IntermediateRef != "" || s.prefetching[item.jobID] {
			continue
		}
		s.prefetching[item.jobID] = true
		pending = append(pending, work{item.jobID, storage.Ref(job.InputRef), job.Transform})
	}
	s.mu.Unlock()

	for _, w := range pending {
		w := w
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ref, _, err := s.transformer.Normalize(context.Background(), w.input, w.jobID, w.spec)

			s.mu.Lock()
			delete(s.prefetching, w.jobID)
			job, ok := s.jobs[w.jobID]
			keep := ok && err == nil && job.Status == model.JobStatusQueued && job.IntermediateRef == ""
			if keep {
				job.IntermediateRef = ref.String()
			}
			// A ref the job has already adopted is live and must survive;
			// only an orphan (job gone terminal, or holding a different
			// intermediate) is removed.
			orphan := !keep && err == nil && (!ok || job.IntermediateRef != ref.String())
			s.mu.Unlock()
			s.signal()

			if err != nil {
				// The dispatch attempt will re-run the transform and
				// classify the failure; prefetch stays advisory.
				s.log.Debug().Str("job", w.jobID).Err(err).Msg("prefetch transform failed")
				return
			}
			if orphan {
				_ = s.blobs.Delete(ref)
			}
		}()
	}
}

func (s *Scheduler) cancelRequested(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelReq[jobID]
}

func (s *Scheduler) cleanupIntermediate(jobID string, inter storage.Ref) {
	if inter == "" {
		return
	}
	if err := s.blobs.Delete(inter); err != nil {
		s.log.Warn().Str("job", jobID).Err(err).Msg("failed to remove intermediate")
	}
}

// schedulePurge queues a delayed removal of the raw upload once the job no
// longer needs it.
func (s *Scheduler) schedulePurge(ref storage.Ref) {
	if s.asynqClient == nil || ref == "" {
		return
	}
	task, err := NewPurgeTask(ref)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to build purge task")
		return
	}
	if _, err := s.asynqClient.Enqueue(task, asynq.ProcessIn(s.opts.Retention), asynq.MaxRetry(3)); err != nil {
		s.log.Warn().Str("ref", ref.String()).Err(err).Msg("failed to schedule purge")
	}
}

// mirrorArtifact pushes the transcript to object storage, best effort.
func (s *Scheduler) mirrorArtifact(jobID string, result *model.ProcessResult) string {
	if s.mirror == nil {
		return ""
	}
	data, err := json.MarshalIndent(result.Results, "", "  ")
	if err != nil {
		return ""
	}
	key := fmt.Sprintf("transcripts/%s.json", jobID)
	url, err := s.mirror.Upload(context.Background(), key, bytes.NewReader(data), "application/json")
	if err != nil {
		s.log.Warn().Str("job", jobID).Err(err).Msg("artifact mirror upload failed")
		return ""
	}
	return url
}

func (s *Scheduler) setProgress(jobID string, pct int, step string) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return
	}
	job.Progress = pct
	job.CurrentStep = step
	s.mu.Unlock()

	s.persist(job)
	s.broadcastProgress(jobID, pct, model.JobStatusRunning, step)
}

func (s *Scheduler) persist(job *model.Job) {
	s.mu.Lock()
	snapshot := job.Clone()
	s.mu.Unlock()
	if err := s.store.SaveJob(context.Background(), snapshot); err != nil {
		s.log.Warn().Str("job", job.ID).Err(err).Msg("failed to persist job record")
	}
}

func (s *Scheduler) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Scheduler) broadcastProgress(jobID string, pct int, status model.JobStatus, step string) {
	if s.events != nil {
		s.events.BroadcastProgress(jobID, pct, status, step)
	}
}

func (s *Scheduler) broadcastComplete(jobID string, result interface{}) {
	if s.events != nil {
		s.events.BroadcastComplete(jobID, result)
	}
}

func (s *Scheduler) broadcastError(jobID, code, message string) {
	if s.events != nil {
		s.events.BroadcastError(jobID, code, message)
	}
}
