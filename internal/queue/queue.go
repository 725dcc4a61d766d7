package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/therealutkarshpriyadarshi/clipexport/internal/config"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/exporterr"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/logging"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/metrics"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

const (
	persistTimeout = 10 * time.Second
	sinkTimeout    = 5 * time.Second
	sinkBuffer     = 1024
)

// ErrStopped is returned by operations issued after Stop
var ErrStopped = errors.New("export queue is not running")

// Config holds the queue limits
type Config struct {
	MaxConcurrent  int
	RetryAttempts  int // total attempts, including the first
	RetryDelay     time.Duration
	PriorityLevels int
}

// ConfigFrom converts the export section of the service configuration
func ConfigFrom(c config.ExportConfig) Config {
	return Config{
		MaxConcurrent:  c.MaxConcurrent,
		RetryAttempts:  c.RetryAttempts,
		RetryDelay:     c.RetryDelay,
		PriorityLevels: c.PriorityLevels,
	}
}

// Store persists jobs. CreateJobs must be all-or-nothing.
type Store interface {
	CreateJobs(ctx context.Context, jobs []*models.ExportJob) error
	UpdateJob(ctx context.Context, job *models.ExportJob) error
	ListJobs(ctx context.Context) ([]*models.ExportJob, error)
}

// Handler executes one job. Progress events are sent on progress, which the
// queue closes over; handlers must not close it.
type Handler interface {
	Handle(ctx context.Context, job *models.ExportJob, progress chan<- models.ProgressEvent) (*models.JobResult, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, job *models.ExportJob, progress chan<- models.ProgressEvent) (*models.JobResult, error)

// Handle calls f
func (f HandlerFunc) Handle(ctx context.Context, job *models.ExportJob, progress chan<- models.ProgressEvent) (*models.JobResult, error) {
	return f(ctx, job, progress)
}

// Handlers maps each job kind to the handler that runs it
type Handlers map[models.JobKind]Handler

// Validator checks a job at admission. Validation errors reject the job
// before it is queued.
type Validator func(ctx context.Context, job *models.ExportJob) error

// ProgressCache keeps the latest progress and job snapshot for fast reads
type ProgressCache interface {
	SetProgress(ctx context.Context, ev models.ProgressEvent) error
	SetJob(ctx context.Context, job *models.ExportJob) error
}

// EventPublisher forwards progress events to a broker
type EventPublisher interface {
	Publish(ctx context.Context, ev models.ProgressEvent) error
}

// Notifier delivers lifecycle notifications such as webhooks
type Notifier interface {
	Notify(ctx context.Context, event string, job *models.ExportJob) error
}

// Option configures a Queue
type Option func(*Queue)

// WithValidator sets the admission validator
func WithValidator(v Validator) Option {
	return func(q *Queue) { q.validator = v }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithProgressCache mirrors progress into a cache
func WithProgressCache(c ProgressCache) Option {
	return func(q *Queue) { q.cache = c }
}

// WithPublisher publishes progress events
func WithPublisher(p EventPublisher) Option {
	return func(q *Queue) { q.publisher = p }
}

// WithNotifier sends lifecycle notifications
func WithNotifier(n Notifier) Option {
	return func(q *Queue) { q.notifier = n }
}

// Filter narrows List results; zero fields match everything
type Filter struct {
	Status  models.JobStatus
	BatchID string
	Limit   int
}

// Queue is a durable priority queue of export jobs. A single coordinator
// goroutine owns all queue state; public methods submit commands to it.
type Queue struct {
	cfg       Config
	store     Store
	handlers  Handlers
	validator Validator
	cache     ProgressCache
	publisher EventPublisher
	notifier  Notifier
	logger    *logging.Logger
	now       func() time.Time

	cmds     chan func()
	sinks    chan sinkEvent
	quit     chan struct{}
	done     chan struct{}
	workers  sync.WaitGroup
	started  atomic.Bool
	stopOnce sync.Once

	// owned by the coordinator
	jobs     map[models.JobID]*record
	pending  priorityQueue
	active   int
	paused   bool
	sequence int64
	subs     map[int]chan models.ProgressEvent
	nextSub  int
}

type record struct {
	job    *models.ExportJob
	item   *queueItem
	cancel context.CancelFunc
	retry  *time.Timer
}

type sinkEvent struct {
	ev      models.ProgressEvent
	job     *models.ExportJob
	webhook string
}

// New creates a queue. It does nothing until Start is called.
func New(store Store, handlers Handlers, cfg Config, opts ...Option) *Queue {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.PriorityLevels <= 0 {
		cfg.PriorityLevels = models.JobPriorityHigh
	}
	q := &Queue{
		cfg:      cfg,
		store:    store,
		handlers: handlers,
		now:      time.Now,
		cmds:     make(chan func()),
		sinks:    make(chan sinkEvent, sinkBuffer),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		jobs:     make(map[models.JobID]*record),
		subs:     make(map[int]chan models.ProgressEvent),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = logging.Nop()
	}
	q.logger = q.logger.WithComponent("queue")
	return q
}

// Start recovers persisted jobs and begins dispatching. Jobs found in
// processing are reset to queued, so an interrupted export runs again.
func (q *Queue) Start(ctx context.Context) error {
	if q.started.Load() {
		return fmt.Errorf("export queue already started")
	}
	jobs, err := q.store.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load jobs: %w", err)
	}

	now := q.now()
	var reset, queued, retrying int
	for _, job := range jobs {
		if job.Sequence > q.sequence {
			q.sequence = job.Sequence
		}
		rec := &record{job: job}
		q.jobs[job.ID] = rec

		switch job.Status {
		case models.JobStatusProcessing:
			job.Status = models.JobStatusQueued
			job.Progress = 0
			job.StartedAt = nil
			job.UpdatedAt = now
			if err := q.store.UpdateJob(ctx, job); err != nil {
				return fmt.Errorf("failed to reset job %s: %w", job.ID, err)
			}
			q.push(rec)
			reset++
		case models.JobStatusQueued:
			q.push(rec)
			queued++
		case models.JobStatusFailed:
			if job.NextRetryAt != nil {
				q.scheduleRetry(rec, job.NextRetryAt.Sub(now))
				retrying++
			}
		}
	}

	q.started.Store(true)
	go q.loop()
	go q.publishLoop()

	q.logger.WithFields(map[string]interface{}{
		"loaded":         len(jobs),
		"reset":          reset,
		"queued":         queued,
		"retrying":       retrying,
		"max_concurrent": q.cfg.MaxConcurrent,
	}).Info("Export queue started")
	return nil
}

// Stop halts dispatching and cancels running workers, then waits for them
// until ctx expires. Interrupted jobs stay persisted as processing and are
// picked up again by the next Start.
func (q *Queue) Stop(ctx context.Context) error {
	if !q.started.Load() {
		return nil
	}
	q.stopOnce.Do(func() { close(q.quit) })
	<-q.done

	waited := make(chan struct{})
	go func() {
		q.workers.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		q.logger.Info("Export queue stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for workers: %w", ctx.Err())
	}
}

// Enqueue admits a single job
func (q *Queue) Enqueue(ctx context.Context, job *models.ExportJob) (*models.ExportJob, error) {
	jobs, err := q.admit(ctx, []*models.ExportJob{job}, "")
	if err != nil {
		return nil, err
	}
	return jobs[0], nil
}

// EnqueueBatch admits all jobs or none of them. The jobs share a batch id.
func (q *Queue) EnqueueBatch(ctx context.Context, jobs []*models.ExportJob) (string, []*models.ExportJob, error) {
	if len(jobs) == 0 {
		return "", nil, exporterr.Validationf("batch contains no jobs")
	}
	batchID := uuid.New().String()
	admitted, err := q.admit(ctx, jobs, batchID)
	if err != nil {
		return "", nil, err
	}
	return batchID, admitted, nil
}

func (q *Queue) admit(ctx context.Context, in []*models.ExportJob, batchID string) ([]*models.ExportJob, error) {
	now := q.now()
	jobs := make([]*models.ExportJob, len(in))
	seen := make(map[models.JobID]bool, len(in))
	for i, j := range in {
		job, err := q.prepare(j, batchID, now)
		if err != nil {
			return nil, fmt.Errorf("job %d: %w", i, err)
		}
		if seen[job.ID] {
			return nil, exporterr.Validationf("job %d: duplicate id %s in batch", i, job.ID)
		}
		seen[job.ID] = true
		jobs[i] = job
	}

	if q.validator != nil {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(4)
		for i, job := range jobs {
			i, job := i, job
			g.Go(func() error {
				if err := q.validator(gctx, job); err != nil {
					return fmt.Errorf("job %d: %w", i, err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	var out []*models.ExportJob
	err := q.exec(ctx, func() error {
		for _, job := range jobs {
			if _, ok := q.jobs[job.ID]; ok {
				return exporterr.Validationf("job %s already exists", job.ID)
			}
		}
		base := q.sequence
		for i, job := range jobs {
			job.Sequence = base + int64(i) + 1
		}
		if err := q.persistNew(jobs); err != nil {
			return exporterr.Transient("enqueue", err)
		}
		q.sequence = base + int64(len(jobs))

		for _, job := range jobs {
			rec := &record{job: job}
			q.jobs[job.ID] = rec
			q.push(rec)
			metrics.RecordJobCreated(string(job.Kind), strconv.Itoa(job.Options.Priority))
			q.logger.LogJobEvent(job.ID.String(), "job_enqueued", string(job.Status), map[string]interface{}{
				"priority": job.Options.Priority,
				"kind":     job.Kind,
				"batch_id": job.BatchID,
			})
			out = append(out, job.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// prepare copies a submitted job and fills queue-owned fields
func (q *Queue) prepare(in *models.ExportJob, batchID string, now time.Time) (*models.ExportJob, error) {
	if in == nil {
		return nil, exporterr.Validationf("job is nil")
	}
	job := in.Clone()
	if job.ID == "" {
		job.ID = models.JobID(uuid.New().String())
	}
	if job.Kind == "" {
		job.Kind = models.JobKindExport
	}
	if _, ok := q.handlers[job.Kind]; !ok {
		return nil, exporterr.Validationf("unknown job kind %q", job.Kind)
	}
	if p := job.Options.Priority; p < 0 || p > q.cfg.PriorityLevels {
		return nil, exporterr.Validationf("priority %d is outside [0, %d]", p, q.cfg.PriorityLevels)
	}
	if job.Settings.SchemaVersion == 0 {
		job.Settings.SchemaVersion = models.CurrentSettingsVersion
	}
	job.BatchID = batchID
	job.Status = models.JobStatusQueued
	job.Progress = 0
	job.Attempts = 0
	job.Error, job.ErrorKind = "", ""
	job.Result = nil
	job.CreatedAt, job.UpdatedAt = now, now
	job.StartedAt, job.CompletedAt, job.NextRetryAt = nil, nil, nil
	return job, nil
}

// Cancel cancels a queued, processing or retry-pending job
func (q *Queue) Cancel(ctx context.Context, id models.JobID) (*models.ExportJob, error) {
	var out *models.ExportJob
	err := q.exec(ctx, func() error {
		rec, err := q.lookup(id)
		if err != nil {
			return err
		}
		switch rec.job.Status {
		case models.JobStatusQueued:
			heap.Remove(&q.pending, rec.item.index)
			rec.item = nil
		case models.JobStatusProcessing:
			// the worker keeps its slot until the handler returns
			rec.cancel()
		case models.JobStatusFailed:
			if rec.job.NextRetryAt == nil {
				return fmt.Errorf("job %s has failed: %w", id, exporterr.ErrInvalidState)
			}
			q.stopRetry(rec)
		default:
			return fmt.Errorf("job %s is %s: %w", id, rec.job.Status, exporterr.ErrInvalidState)
		}
		q.markCancelled(rec, "cancelled by request")
		out = rec.job.Clone()
		return nil
	})
	return out, err
}

// Pause stops dispatching new jobs; running jobs continue
func (q *Queue) Pause(ctx context.Context) error {
	return q.exec(ctx, func() error {
		q.paused = true
		q.logger.Info("Export queue paused")
		return nil
	})
}

// Resume restarts dispatching
func (q *Queue) Resume(ctx context.Context) error {
	return q.exec(ctx, func() error {
		q.paused = false
		q.logger.Info("Export queue resumed")
		return nil
	})
}

// Retry re-queues a failed job immediately. A job still waiting for an
// automatic retry keeps its attempt count; a terminally failed job starts
// a fresh attempt budget.
func (q *Queue) Retry(ctx context.Context, id models.JobID) (*models.ExportJob, error) {
	var out *models.ExportJob
	err := q.exec(ctx, func() error {
		rec, err := q.lookup(id)
		if err != nil {
			return err
		}
		if rec.job.Status != models.JobStatusFailed {
			return fmt.Errorf("job %s is %s, only failed jobs can be retried: %w", id, rec.job.Status, exporterr.ErrInvalidState)
		}
		if err := q.requeue(rec, rec.job.NextRetryAt == nil); err != nil {
			return exporterr.Transient("retry", err)
		}
		out = rec.job.Clone()
		return nil
	})
	return out, err
}

// ClearQueued cancels every job still waiting in the queue and returns how
// many were cleared
func (q *Queue) ClearQueued(ctx context.Context) (int, error) {
	var n int
	err := q.exec(ctx, func() error {
		for q.pending.Len() > 0 {
			item := heap.Pop(&q.pending).(*queueItem)
			rec := q.jobs[item.job.ID]
			rec.item = nil
			q.markCancelled(rec, "cleared from queue")
			n++
		}
		return nil
	})
	return n, err
}

// Get returns a snapshot of one job
func (q *Queue) Get(ctx context.Context, id models.JobID) (*models.ExportJob, error) {
	var out *models.ExportJob
	err := q.exec(ctx, func() error {
		rec, err := q.lookup(id)
		if err != nil {
			return err
		}
		out = rec.job.Clone()
		return nil
	})
	return out, err
}

// List returns job snapshots in admission order
func (q *Queue) List(ctx context.Context, f Filter) ([]*models.ExportJob, error) {
	var out []*models.ExportJob
	err := q.exec(ctx, func() error {
		for _, rec := range q.jobs {
			if f.Status != "" && rec.job.Status != f.Status {
				continue
			}
			if f.BatchID != "" && rec.job.BatchID != f.BatchID {
				continue
			}
			out = append(out, rec.job.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Stats returns queue occupancy
func (q *Queue) Stats(ctx context.Context) (models.QueueStats, error) {
	var stats models.QueueStats
	err := q.exec(ctx, func() error {
		for _, rec := range q.jobs {
			switch rec.job.Status {
			case models.JobStatusQueued:
				stats.Queued++
			case models.JobStatusProcessing:
				stats.Processing++
			case models.JobStatusCompleted:
				stats.Completed++
			case models.JobStatusFailed:
				stats.Failed++
			case models.JobStatusCancelled:
				stats.Cancelled++
			}
		}
		stats.Paused = q.paused
		return nil
	})
	return stats, err
}

// Subscribe returns a channel receiving every progress event. Slow
// subscribers miss events rather than blocking the queue. The returned
// function unsubscribes.
func (q *Queue) Subscribe(ctx context.Context, buffer int) (<-chan models.ProgressEvent, func(), error) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan models.ProgressEvent, buffer)
	var id int
	err := q.exec(ctx, func() error {
		id = q.nextSub
		q.nextSub++
		q.subs[id] = ch
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			q.post(func() {
				if sub, ok := q.subs[id]; ok {
					delete(q.subs, id)
					close(sub)
				}
			})
		})
	}
	return ch, unsubscribe, nil
}

// exec runs fn on the coordinator and returns its error
func (q *Queue) exec(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	select {
	case q.cmds <- func() { errc <- fn() }:
	case <-q.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-errc
}

// post hands fn to the coordinator without waiting for it; it reports
// false once the coordinator has exited
func (q *Queue) post(fn func()) bool {
	select {
	case q.cmds <- fn:
		return true
	case <-q.done:
		return false
	}
}

func (q *Queue) loop() {
	defer close(q.done)
	q.dispatch()
	for {
		select {
		case fn := <-q.cmds:
			fn()
			q.dispatch()
		case <-q.quit:
			q.shutdown()
			return
		}
	}
}

func (q *Queue) shutdown() {
	for _, rec := range q.jobs {
		if rec.cancel != nil {
			rec.cancel()
		}
		if rec.retry != nil {
			rec.retry.Stop()
		}
	}
	for id, ch := range q.subs {
		delete(q.subs, id)
		close(ch)
	}
	close(q.sinks)
}

// dispatch fills free worker slots from the head of the queue
func (q *Queue) dispatch() {
	for !q.paused && q.active < q.cfg.MaxConcurrent && q.pending.Len() > 0 {
		item := heap.Pop(&q.pending).(*queueItem)
		rec := q.jobs[item.job.ID]
		rec.item = nil
		if !q.start(rec) {
			break
		}
	}
	metrics.UpdateJobMetrics(q.active, q.pending.Len())
}

// start moves a job to processing and launches its worker. It reports false
// when the transition could not be persisted; the job is then put back.
func (q *Queue) start(rec *record) bool {
	job := rec.job
	handler, ok := q.handlers[job.Kind]
	if !ok {
		q.fail(rec, exporterr.Fatal("dispatch", fmt.Errorf("no handler for job kind %q", job.Kind)))
		return true
	}

	prev := job.Clone()
	now := q.now()
	job.Status = models.JobStatusProcessing
	job.Attempts++
	job.Progress = 0
	job.StartedAt = &now
	job.UpdatedAt = now
	job.CompletedAt = nil
	job.NextRetryAt = nil
	if err := q.persist(job); err != nil {
		q.logger.WithJobID(job.ID.String()).ErrorWithErr("Failed to persist job start, leaving it queued", err)
		rec.job = prev
		q.push(rec)
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	rec.cancel = cancel
	q.active++

	q.logger.LogJobEvent(job.ID.String(), "job_started", string(job.Status), map[string]interface{}{
		"attempt":  job.Attempts,
		"priority": job.Options.Priority,
		"active":   q.active,
	})
	q.emit(rec, models.ProgressEvent{Stage: models.StageStarted, CurrentOperation: "started"}, models.WebhookEventExportStarted)

	q.workers.Add(1)
	go q.work(ctx, job.Clone(), handler)
	return true
}

// work runs the handler on an immutable snapshot. Progress flows through a
// per-job channel that this goroutine alone drains into the coordinator.
func (q *Queue) work(ctx context.Context, job *models.ExportJob, handler Handler) {
	defer q.workers.Done()

	progress := make(chan models.ProgressEvent, 16)
	var result *models.JobResult
	var err error
	go func() {
		defer close(progress)
		defer func() {
			if r := recover(); r != nil {
				err = exporterr.Fatal("handler", fmt.Errorf("panic: %v", r))
			}
		}()
		result, err = handler.Handle(ctx, job, progress)
	}()

	for ev := range progress {
		ev := ev
		q.post(func() { q.progressed(job.ID, job.Attempts, ev) })
	}
	q.post(func() { q.finished(job.ID, job.Attempts, result, err) })
}

func (q *Queue) progressed(id models.JobID, attempt int, ev models.ProgressEvent) {
	rec := q.jobs[id]
	if rec == nil || rec.job.Status != models.JobStatusProcessing || rec.job.Attempts != attempt {
		return
	}
	if ev.Stage == "" || ev.Stage == models.StageStarted {
		ev.Stage = models.StageProcessing
	}
	if ev.ProgressPercent < 0 {
		ev.ProgressPercent = 0
	}
	if ev.ProgressPercent > 100 {
		ev.ProgressPercent = 100
	}
	rec.job.Progress = ev.ProgressPercent
	rec.job.UpdatedAt = q.now()
	q.emit(rec, ev, "")
}

func (q *Queue) finished(id models.JobID, attempt int, result *models.JobResult, err error) {
	q.active--
	rec := q.jobs[id]
	if rec == nil {
		return
	}
	if rec.cancel != nil {
		rec.cancel()
		rec.cancel = nil
	}
	// cancelled while running: no further events
	if rec.job.Status != models.JobStatusProcessing || rec.job.Attempts != attempt {
		return
	}

	switch {
	case err == nil:
		q.complete(rec, result)
	case exporterr.KindOf(err) == exporterr.KindCancelled:
		q.markCancelled(rec, err.Error())
	default:
		q.fail(rec, err)
	}
}

func (q *Queue) complete(rec *record, result *models.JobResult) {
	job := rec.job
	now := q.now()
	job.Status = models.JobStatusCompleted
	job.Progress = 100
	job.Result = result
	job.CompletedAt = &now
	job.UpdatedAt = now
	if err := q.persist(job); err != nil {
		q.logger.WithJobID(job.ID.String()).ErrorWithErr("Failed to persist job completion", err)
	}

	metrics.RecordJobFinished(string(job.Status), presetLabel(job), elapsed(job, now))
	q.logger.LogJobEvent(job.ID.String(), "job_completed", string(job.Status), map[string]interface{}{
		"attempts": job.Attempts,
		"duration": elapsed(job, now),
	})
	q.emit(rec, models.ProgressEvent{Stage: models.StageComplete, ProgressPercent: 100, CurrentOperation: "completed"},
		models.WebhookEventExportCompleted)
}

// fail records err on the job. Transient failures with attempts left get a
// retry scheduled after an exponential backoff.
func (q *Queue) fail(rec *record, err error) {
	job := rec.job
	now := q.now()
	kind := exporterr.KindOf(err)
	job.Status = models.JobStatusFailed
	job.Error = err.Error()
	job.ErrorKind = string(kind)
	job.CompletedAt = &now
	job.UpdatedAt = now
	job.NextRetryAt = nil

	var delay time.Duration
	if exporterr.Retryable(err) && job.Attempts < q.cfg.RetryAttempts {
		delay = backoffDelay(q.cfg.RetryDelay, job.Attempts)
		next := now.Add(delay)
		job.NextRetryAt = &next
	}
	if perr := q.persist(job); perr != nil {
		q.logger.WithJobID(job.ID.String()).ErrorWithErr("Failed to persist job failure", perr)
	}

	log := q.logger.WithJobID(job.ID.String()).WithError(err)
	metrics.RecordJobFinished(string(job.Status), presetLabel(job), elapsed(job, now))
	if job.NextRetryAt != nil {
		q.scheduleRetry(rec, delay)
		metrics.RecordJobRetried()
		log.WithField("attempt", job.Attempts).WithField("retry_in", delay.String()).Warn("Export failed, retry scheduled")
	} else {
		log.WithField("attempt", job.Attempts).WithField("error_kind", job.ErrorKind).Error("Export failed")
	}
	q.emit(rec, models.ProgressEvent{Stage: models.StageFailed, ProgressPercent: job.Progress, Error: job.Error},
		models.WebhookEventExportFailed)
}

func (q *Queue) markCancelled(rec *record, reason string) {
	job := rec.job
	now := q.now()
	job.Status = models.JobStatusCancelled
	job.Error = reason
	job.ErrorKind = string(exporterr.KindCancelled)
	job.CompletedAt = &now
	job.UpdatedAt = now
	job.NextRetryAt = nil
	if err := q.persist(job); err != nil {
		q.logger.WithJobID(job.ID.String()).ErrorWithErr("Failed to persist job cancellation", err)
	}
	metrics.RecordJobFinished(string(job.Status), presetLabel(job), elapsed(job, now))
	q.logger.LogJobEvent(job.ID.String(), "job_cancelled", string(job.Status), map[string]interface{}{"reason": reason})
	q.emit(rec, models.ProgressEvent{Stage: models.StageCancelled, ProgressPercent: job.Progress, Error: reason},
		models.WebhookEventExportCancelled)
}

func (q *Queue) scheduleRetry(rec *record, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	q.stopRetry(rec)
	id := rec.job.ID
	rec.retry = time.AfterFunc(delay, func() {
		q.post(func() { q.retryDue(id) })
	})
}

func (q *Queue) stopRetry(rec *record) {
	if rec.retry != nil {
		rec.retry.Stop()
		rec.retry = nil
	}
}

func (q *Queue) retryDue(id models.JobID) {
	rec := q.jobs[id]
	if rec == nil || rec.job.Status != models.JobStatusFailed || rec.job.NextRetryAt == nil {
		return
	}
	if err := q.requeue(rec, false); err != nil {
		q.logger.WithJobID(id.String()).ErrorWithErr("Failed to requeue job for retry", err)
		q.scheduleRetry(rec, backoffDelay(q.cfg.RetryDelay, 1))
	}
}

// requeue moves a failed job back to queued behind jobs of equal priority
func (q *Queue) requeue(rec *record, resetAttempts bool) error {
	q.stopRetry(rec)
	prev := rec.job.Clone()
	job := rec.job
	job.Status = models.JobStatusQueued
	job.Progress = 0
	job.Error, job.ErrorKind = "", ""
	job.Result = nil
	job.StartedAt, job.CompletedAt, job.NextRetryAt = nil, nil, nil
	if resetAttempts {
		job.Attempts = 0
	}
	job.Sequence = q.sequence + 1
	job.UpdatedAt = q.now()
	if err := q.persist(job); err != nil {
		rec.job = prev
		return err
	}
	q.sequence++
	q.push(rec)
	q.logger.LogJobEvent(job.ID.String(), "job_requeued", string(job.Status), map[string]interface{}{"attempts": job.Attempts})
	return nil
}

func (q *Queue) push(rec *record) {
	rec.item = &queueItem{job: rec.job, priority: rec.job.Options.Priority, sequence: rec.job.Sequence}
	heap.Push(&q.pending, rec.item)
}

func (q *Queue) lookup(id models.JobID) (*record, error) {
	rec, ok := q.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, exporterr.ErrNotFound)
	}
	return rec, nil
}

func (q *Queue) persist(job *models.ExportJob) error {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	return q.store.UpdateJob(ctx, job)
}

func (q *Queue) persistNew(jobs []*models.ExportJob) error {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	return q.store.CreateJobs(ctx, jobs)
}

// emit fans an event out to subscribers and hands it to the sinks
func (q *Queue) emit(rec *record, ev models.ProgressEvent, webhook string) {
	ev.JobID = rec.job.ID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = q.now()
	}
	for _, ch := range q.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	if q.cache == nil && q.publisher == nil && q.notifier == nil {
		return
	}
	select {
	case q.sinks <- sinkEvent{ev: ev, job: rec.job.Clone(), webhook: webhook}:
	default:
		q.logger.WithJobID(rec.job.ID.String()).WithField("stage", ev.Stage).Warn("Sink buffer full, dropping event")
	}
}

// publishLoop delivers events to the cache, broker and notifier off the
// coordinator goroutine
func (q *Queue) publishLoop() {
	for se := range q.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		log := q.logger.WithJobID(se.job.ID.String())
		if q.cache != nil {
			if err := q.cache.SetProgress(ctx, se.ev); err != nil {
				log.WarnWithErr("Failed to cache progress", err)
			}
			if err := q.cache.SetJob(ctx, se.job); err != nil {
				log.WarnWithErr("Failed to cache job", err)
			}
		}
		if q.publisher != nil {
			if err := q.publisher.Publish(ctx, se.ev); err != nil {
				log.WarnWithErr("Failed to publish progress event", err)
			}
		}
		if q.notifier != nil && se.webhook != "" {
			if err := q.notifier.Notify(ctx, se.webhook, se.job); err != nil {
				log.WarnWithErr("Failed to send notification", err)
			}
		}
		cancel()
	}
}

func presetLabel(job *models.ExportJob) string {
	if job.Settings.PresetID != "" {
		return job.Settings.PresetID
	}
	return "custom"
}

func elapsed(job *models.ExportJob, now time.Time) float64 {
	if job.StartedAt == nil {
		return 0
	}
	return now.Sub(*job.StartedAt).Seconds()
}
