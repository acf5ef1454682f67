// Package worker provides the async job queue processor with queue abstractions,
// worker loop, and graceful shutdown handling.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/PortNumber53/saas-starter/internal/deadletter"
	"github.com/PortNumber53/saas-starter/internal/models"
	"github.com/PortNumber53/saas-starter/internal/store"
)

// Handler is a function that processes a job
type Handler func(ctx context.Context, job *models.Job) error

// Queue is the persistence the worker claims jobs from.
type Queue interface {
	Enqueue(ctx context.Context, job *models.Job) error
	ClaimNextJob(ctx context.Context, workerID string) (*models.Job, error)
	MarkCompleted(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, errorMsg string) error
	ScheduleRetry(ctx context.Context, id int64, errorMsg string, retryAfter time.Time) error
	ReleaseJob(ctx context.Context, id int64) error
	ReclaimStaleJobs(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Stats holds worker statistics
type Stats struct {
	WorkerID        string    `json:"worker_id"`
	JobsProcessed   int64     `json:"jobs_processed"`
	JobsSucceeded   int64     `json:"jobs_succeeded"`
	JobsFailed      int64     `json:"jobs_failed"`
	JobsRetried     int64     `json:"jobs_retried"`
	JobsDeadLetter  int64     `json:"jobs_dead_lettered"`
	ActiveWorkers   int       `json:"active_workers"`
	LastProcessedAt time.Time `json:"last_processed_at"`
}

// Config holds worker configuration
type Config struct {
	// MaxConcurrent is the maximum number of concurrent job processors
	MaxConcurrent int
	// PollInterval is the time between polling for new jobs
	PollInterval time.Duration
	// RetryBaseDelay is the first retry delay; later retries grow exponentially
	RetryBaseDelay time.Duration
	// RetryMaxDelay caps the delay between retries
	RetryMaxDelay time.Duration
	// RetryBackoffMultiplier is the multiplier for exponential backoff
	RetryBackoffMultiplier float64
	// JobTimeout is the maximum time allowed for a job to run
	JobTimeout time.Duration
	// ShutdownTimeout is the maximum time to wait for jobs to complete during shutdown
	ShutdownTimeout time.Duration
	// StaleAfter is how long a job may sit in processing before it is
	// returned to pending. Never less than twice JobTimeout.
	StaleAfter time.Duration
	// ReprocessMaxAttempts bounds webhook reprocess jobs created by RequeueEvent
	ReprocessMaxAttempts int
	// ReprocessDelay postpones the first reprocess attempt
	ReprocessDelay time.Duration
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:          2,
		PollInterval:           time.Second,
		RetryBaseDelay:         5 * time.Second,
		RetryMaxDelay:          10 * time.Minute,
		RetryBackoffMultiplier: 2.0,
		JobTimeout:             time.Minute,
		ShutdownTimeout:        30 * time.Second,
		StaleAfter:             10 * time.Minute,
		ReprocessMaxAttempts:   8,
		ReprocessDelay:         5 * time.Second,
	}
}

// Worker is the async job queue processor
type Worker struct {
	config     Config
	queue      Queue
	deadLetter deadletter.Publisher
	logger     *zap.Logger

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	workerID string
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopped  bool
	mu       sync.RWMutex

	// activeJobs tracks currently processing job IDs for graceful shutdown
	activeJobs map[int64]context.CancelFunc

	statsMu         sync.RWMutex
	jobsProcessed   int64
	jobsSucceeded   int64
	jobsFailed      int64
	jobsRetried     int64
	jobsDeadLetter  int64
	lastProcessedAt time.Time
}

// New creates a new Worker instance. A nil publisher logs exhausted jobs.
func New(config Config, queue Queue, publisher deadletter.Publisher, logger *zap.Logger) *Worker {
	def := DefaultConfig()
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = def.MaxConcurrent
	}
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = def.RetryBaseDelay
	}
	if config.RetryMaxDelay <= 0 {
		config.RetryMaxDelay = def.RetryMaxDelay
	}
	if config.RetryBackoffMultiplier <= 1 {
		config.RetryBackoffMultiplier = def.RetryBackoffMultiplier
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = def.JobTimeout
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = def.ShutdownTimeout
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = def.StaleAfter
	}
	if config.StaleAfter < 2*config.JobTimeout {
		config.StaleAfter = 2 * config.JobTimeout
	}
	if config.ReprocessMaxAttempts <= 0 {
		config.ReprocessMaxAttempts = def.ReprocessMaxAttempts
	}
	if config.ReprocessDelay < 0 {
		config.ReprocessDelay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = deadletter.NewLogPublisher(logger)
	}

	return &Worker{
		config:     config,
		queue:      queue,
		deadLetter: publisher,
		logger:     logger,
		handlers:   make(map[string]Handler),
		workerID:   generateWorkerID(),
		stopCh:     make(chan struct{}),
		activeJobs: make(map[int64]context.CancelFunc),
	}
}

// RegisterHandler binds a handler to a job type, replacing any previous one.
func (w *Worker) RegisterHandler(jobType string, handler Handler) {
	w.handlersMu.Lock()
	defer w.handlersMu.Unlock()
	w.handlers[jobType] = handler
}

func (w *Worker) handler(jobType string) (Handler, bool) {
	w.handlersMu.RLock()
	defer w.handlersMu.RUnlock()
	h, ok := w.handlers[jobType]
	return h, ok
}

// Start begins the worker loop
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.reclaimer(ctx)

	for i := 0; i < w.config.MaxConcurrent; i++ {
		w.wg.Add(1)
		go w.processor(ctx, i)
	}

	w.logger.Info("worker started",
		zap.String("worker_id", w.workerID),
		zap.Int("processors", w.config.MaxConcurrent))
}

// Stop gracefully shuts down the worker
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.mu.Unlock()

	w.logger.Info("worker shutting down", zap.String("worker_id", w.workerID))

	shutdownCtx, cancel := context.WithTimeout(ctx, w.config.ShutdownTimeout)
	defer cancel()

	w.releaseActiveJobs(shutdownCtx)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("worker stopped", zap.String("worker_id", w.workerID))
		return nil
	case <-shutdownCtx.Done():
		return fmt.Errorf("worker shutdown timeout exceeded")
	}
}

// reclaimer returns jobs left in processing by a worker that exited
// without releasing them, once at startup and then every StaleAfter/2.
func (w *Worker) reclaimer(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.StaleAfter / 2)
	defer ticker.Stop()

	for {
		n, err := w.queue.ReclaimStaleJobs(ctx, w.config.StaleAfter)
		switch {
		case err != nil && ctx.Err() == nil:
			w.logger.Error("reclaim stale jobs failed", zap.Error(err))
		case n > 0:
			w.logger.Warn("returned stale processing jobs to pending",
				zap.Int64("jobs", n),
				zap.Duration("stale_after", w.config.StaleAfter))
		}

		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// processor is the main loop for a single worker goroutine
func (w *Worker) processor(ctx context.Context, id int) {
	defer w.wg.Done()

	log := w.logger.With(zap.String("processor", fmt.Sprintf("%s-%d", w.workerID, id)))

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
			if err := w.processNextJob(ctx); err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
					log.Error("claim job failed", zap.Error(err))
				}
				w.wait(ctx)
			}
		}
	}
}

// processNextJob attempts to claim and process the next available job
func (w *Worker) processNextJob(ctx context.Context) error {
	job, err := w.queue.ClaimNextJob(ctx, w.workerID)
	if err != nil {
		return err
	}
	if job == nil {
		w.wait(ctx)
		return nil
	}

	w.processJob(ctx, job)
	return nil
}

func (w *Worker) wait(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-w.stopCh:
	case <-time.After(w.config.PollInterval):
	}
}

// processJob handles the execution of a single job
func (w *Worker) processJob(ctx context.Context, job *models.Job) {
	start := time.Now()

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	w.trackActiveJob(job.ID, cancel)
	defer w.untrackActiveJob(job.ID)

	w.logger.Debug("processing job",
		zap.Int64("job_id", job.ID),
		zap.String("job_type", job.JobType),
		zap.Int("attempt", job.Attempts),
		zap.Int("max_attempts", job.MaxAttempts))

	handler, ok := w.handler(job.JobType)
	if !ok {
		w.handleError(ctx, job, fmt.Errorf("no handler registered for job type: %s", job.JobType), start)
		return
	}

	if err := handler(jobCtx, job); err != nil {
		if w.stopping() && jobCtx.Err() != nil {
			// Stop already released the job; the attempt does not count.
			w.logger.Info("job interrupted by shutdown",
				zap.Int64("job_id", job.ID),
				zap.String("job_type", job.JobType),
				zap.Error(err))
			return
		}
		w.handleError(ctx, job, err, start)
		return
	}
	w.handleSuccess(ctx, job, start)
}

func (w *Worker) stopping() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

// handleError retries the job with exponential backoff or, once attempts are
// exhausted, marks it failed and hands it to the dead-letter publisher.
// Errors wrapped with backoff.Permanent skip the remaining attempts.
func (w *Worker) handleError(ctx context.Context, job *models.Job, err error, start time.Time) {
	log := w.logger.With(
		zap.Int64("job_id", job.ID),
		zap.String("job_type", job.JobType),
		zap.Int("attempt", job.Attempts),
		zap.Int("max_attempts", job.MaxAttempts),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))

	w.statsMu.Lock()
	w.jobsProcessed++
	w.jobsFailed++
	w.lastProcessedAt = time.Now()
	w.statsMu.Unlock()

	var permanent *backoff.PermanentError
	isPermanent := errors.As(err, &permanent)

	if job.CanRetry() && !isPermanent {
		delay := w.RetryDelay(job.Attempts)

		w.statsMu.Lock()
		w.jobsRetried++
		w.statsMu.Unlock()

		log.Warn("job failed, retry scheduled", zap.Duration("retry_in", delay))
		if serr := w.queue.ScheduleRetry(ctx, job.ID, err.Error(), time.Now().Add(delay)); serr != nil {
			log.Error("schedule retry failed", zap.NamedError("store_error", serr))
		}
		return
	}

	if isPermanent {
		log.Error("job failed permanently")
	} else {
		log.Error("job exhausted its attempts")
	}
	if merr := w.queue.MarkFailed(ctx, job.ID, err.Error()); merr != nil {
		log.Error("mark job failed", zap.NamedError("store_error", merr))
	}

	w.statsMu.Lock()
	w.jobsDeadLetter++
	w.statsMu.Unlock()

	if perr := w.deadLetter.Publish(ctx, job, err.Error()); perr != nil {
		log.Error("dead-letter publish failed", zap.NamedError("publish_error", perr))
	}
}

// RetryDelay returns the backoff before the retry following the given
// attempt number (1-based), including ±20% jitter.
func (w *Worker) RetryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.config.RetryBaseDelay
	b.MaxInterval = w.config.RetryMaxDelay
	b.Multiplier = w.config.RetryBackoffMultiplier
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// handleSuccess handles a successful job completion
func (w *Worker) handleSuccess(ctx context.Context, job *models.Job, start time.Time) {
	w.statsMu.Lock()
	w.jobsProcessed++
	w.jobsSucceeded++
	w.lastProcessedAt = time.Now()
	w.statsMu.Unlock()

	w.logger.Info("job completed",
		zap.Int64("job_id", job.ID),
		zap.String("job_type", job.JobType),
		zap.Duration("duration", time.Since(start)))

	if err := w.queue.MarkCompleted(ctx, job.ID); err != nil {
		w.logger.Error("mark job completed", zap.Int64("job_id", job.ID), zap.Error(err))
	}
}

func (w *Worker) trackActiveJob(jobID int64, cancel context.CancelFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.activeJobs[jobID] = cancel
}

func (w *Worker) untrackActiveJob(jobID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.activeJobs, jobID)
}

// releaseActiveJobs cancels in-flight jobs and puts them back to pending.
func (w *Worker) releaseActiveJobs(ctx context.Context) {
	w.mu.Lock()
	jobIDs := make([]int64, 0, len(w.activeJobs))
	for id, cancel := range w.activeJobs {
		jobIDs = append(jobIDs, id)
		cancel()
	}
	w.mu.Unlock()

	for _, id := range jobIDs {
		if err := w.queue.ReleaseJob(ctx, id); err != nil {
			w.logger.Error("release job", zap.Int64("job_id", id), zap.Error(err))
			continue
		}
		w.logger.Info("released job back to pending", zap.Int64("job_id", id))
	}
}

// GetStats returns current worker statistics
func (w *Worker) GetStats() Stats {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()

	w.mu.RLock()
	active := len(w.activeJobs)
	w.mu.RUnlock()

	return Stats{
		WorkerID:        w.workerID,
		JobsProcessed:   w.jobsProcessed,
		JobsSucceeded:   w.jobsSucceeded,
		JobsFailed:      w.jobsFailed,
		JobsRetried:     w.jobsRetried,
		JobsDeadLetter:  w.jobsDeadLetter,
		ActiveWorkers:   active,
		LastProcessedAt: w.lastProcessedAt,
	}
}

// Enqueue creates a new job in the queue
func (w *Worker) Enqueue(ctx context.Context, job *models.Job) error {
	if err := job.IsValid(); err != nil {
		return err
	}
	if err := w.queue.Enqueue(ctx, job); err != nil {
		return err
	}

	w.logger.Info("job enqueued",
		zap.Int64("job_id", job.ID),
		zap.String("job_type", job.JobType),
		zap.String("priority", string(job.Priority)))
	return nil
}

// RequeueEvent schedules a webhook reprocess job for eventID. A job already
// open for the same event absorbs the request.
func (w *Worker) RequeueEvent(ctx context.Context, eventID, reason string) error {
	key := models.JobTypeWebhookReprocess + ":" + eventID
	scheduled := time.Now().Add(w.config.ReprocessDelay)

	job := &models.Job{
		JobType:      models.JobTypeWebhookReprocess,
		Payload:      models.JSONB{"event_id": eventID},
		Priority:     models.JobPriorityNormal,
		MaxAttempts:  w.config.ReprocessMaxAttempts,
		DedupeKey:    &key,
		ScheduledFor: &scheduled,
		Metadata:     models.JSONB{"reason": reason},
	}

	err := w.Enqueue(ctx, job)
	if errors.Is(err, store.ErrDuplicateJob) {
		w.logger.Debug("reprocess already queued", zap.String("event_id", eventID))
		return nil
	}
	return err
}

func generateWorkerID() string {
	return fmt.Sprintf("worker-%d-%d", time.Now().UnixNano(), rand.Intn(10000))
}
