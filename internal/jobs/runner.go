package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"incident_extractor/internal/events"
	"incident_extractor/internal/store"
)

// Status values for jobs.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Stage represents pipeline phases.
type Stage string

const (
	StageTranscribe Stage = "TRANSCRIBE"
	StageExtract    Stage = "EXTRACT"
	StageNotify     Stage = "NOTIFY"
)

var ErrQueueFull = errors.New("job queue full")

// ExecutionContext bundles dependencies for stage execution.
type ExecutionContext struct {
	Store *store.Store
	Log   *zap.Logger
	JobID int64
	// Logf appends a line to the job's log.
	Logf func(format string, args ...any)
	// Enqueue schedules a follow-up stage.
	Enqueue func(ctx context.Context, callID string, stage Stage, params map[string]any) error
}

// StageFunc is a stage implementation.
type StageFunc func(ctx context.Context, exec ExecutionContext, callID string, params map[string]any) error

// Registry maps stages to implementations.
type Registry map[Stage]StageFunc

// Observer receives job metrics.
type Observer interface {
	ObserveJob(stage, status string, elapsed time.Duration)
	SetQueueDepth(n int)
}

type Options struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
	// Events, when set, receives every job status change.
	Events *events.Bus
}

// Runner executes jobs using a worker pool.
type Runner struct {
	opts      Options
	store     *store.Store
	reg       Registry
	obs       Observer
	log       *zap.Logger
	queue     chan *store.Job
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	logMu     sync.Mutex
	logBuffer map[int64][]string
	// active holds jobs dispatched by this process and not yet finished.
	activeMu sync.Mutex
	active   map[int64]struct{}
}

// NewRunner constructs a runner. obs may be nil.
func NewRunner(opts Options, st *store.Store, reg Registry, obs Observer, log *zap.Logger) *Runner {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		opts:      opts,
		store:     st,
		reg:       reg,
		obs:       obs,
		log:       log,
		queue:     make(chan *store.Job, opts.QueueSize),
		logBuffer: make(map[int64][]string),
		active:    make(map[int64]struct{}),
	}
}

// Start spins the worker pool.
func (r *Runner) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	for i := 0; i < r.opts.Workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
	r.log.Info("job runner started", zap.Int("workers", r.opts.Workers), zap.Int("queue", r.opts.QueueSize))
}

// Stop cancels in-flight jobs and waits for workers to exit.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Handles reports whether a stage function is registered.
func (r *Runner) Handles(stage Stage) bool {
	_, ok := r.reg[stage]
	return ok
}

// Depth is the number of jobs waiting in the queue.
func (r *Runner) Depth() int { return len(r.queue) }

// Enqueue inserts a job respecting idempotency: the same call, stage and
// params return the existing job. A previously failed job, or one left
// queued or running by an earlier process, is queued again.
func (r *Runner) Enqueue(ctx context.Context, callID string, stage Stage, params map[string]any) (*store.Job, error) {
	j, _, err := r.Submit(ctx, callID, stage, params)
	return j, err
}

// Submit is Enqueue that also reports whether this call put the job on the
// queue. It is false when the job already succeeded or is still active in
// this process.
func (r *Runner) Submit(ctx context.Context, callID string, stage Stage, params map[string]any) (*store.Job, bool, error) {
	if params == nil {
		params = map[string]any{}
	}
	payload, _ := json.Marshal(params)
	ts := now()
	job := &store.Job{
		CallID:         callID,
		Stage:          string(stage),
		Status:         StatusQueued,
		ParamsJSON:     string(payload),
		IdempotencyKey: idempotencyKey(callID, stage, payload),
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
	j, err := r.store.InsertJobIdempotent(ctx, job)
	switch {
	case errors.Is(err, store.ErrConflict):
		if j.Status == StatusSucceeded || !r.claim(j.ID) {
			return j, false, nil
		}
		if err := r.requeue(ctx, j, ts); err != nil {
			r.release(j.ID)
			return nil, false, err
		}
	case err != nil:
		return nil, false, err
	default:
		r.claim(j.ID)
	}

	if err := r.dispatch(ctx, j, ts); err != nil {
		return nil, false, fmt.Errorf("%s %s: %w", stage, callID, err)
	}
	return j, true, nil
}

// Recover queues again the jobs a previous process left queued or running
// and returns how many were dispatched.
func (r *Runner) Recover(ctx context.Context) (int, error) {
	orphans, err := r.store.JobsWithStatus(ctx, StatusQueued, StatusRunning)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range orphans {
		j := &orphans[i]
		if !r.claim(j.ID) {
			continue
		}
		ts := now()
		if err := r.requeue(ctx, j, ts); err != nil {
			r.release(j.ID)
			return n, err
		}
		r.appendLog(j.ID, "requeued after restart")
		if err := r.dispatch(ctx, j, ts); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		r.log.Info("recovered interrupted jobs", zap.Int("count", n))
	}
	return n, nil
}

func (r *Runner) requeue(ctx context.Context, j *store.Job, ts time.Time) error {
	if err := r.store.UpdateJobStatus(ctx, j.ID, StatusQueued, ts); err != nil {
		return err
	}
	j.Status = StatusQueued
	j.UpdatedAt = ts
	return nil
}

// dispatch sends a claimed job to the workers. A full queue fails the job so
// that a later Enqueue picks it up again.
func (r *Runner) dispatch(ctx context.Context, j *store.Job, ts time.Time) error {
	r.publish(j, StatusQueued)
	select {
	case r.queue <- j:
		r.reportDepth()
		return nil
	default:
		_ = r.store.MarkJobFinished(ctx, j.ID, StatusFailed, ts)
		r.release(j.ID)
		r.appendLog(j.ID, ErrQueueFull.Error())
		r.publish(j, StatusFailed)
		return ErrQueueFull
	}
}

func (r *Runner) claim(id int64) bool {
	r.activeMu.Lock()
	defer r.activeMu.Unlock()
	if _, ok := r.active[id]; ok {
		return false
	}
	r.active[id] = struct{}{}
	return true
}

func (r *Runner) release(id int64) {
	r.activeMu.Lock()
	delete(r.active, id)
	r.activeMu.Unlock()
}

func (r *Runner) worker(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-r.queue:
			r.reportDepth()
			r.execute(ctx, job)
		}
	}
}

func (r *Runner) execute(ctx context.Context, job *store.Job) {
	start := time.Now()
	stage := Stage(job.Stage)
	log := r.log.With(zap.Int64("job_id", job.ID), zap.String("stage", job.Stage), zap.String("call_id", job.CallID))

	fn, ok := r.reg[stage]
	if !ok {
		r.appendLog(job.ID, "no handler for stage")
		r.finish(job, StatusFailed, start)
		log.Warn("no handler for stage")
		return
	}
	_ = r.store.MarkJobStarted(ctx, job.ID, now())
	r.publish(job, StatusRunning)

	jobCtx := ctx
	if r.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, r.opts.JobTimeout)
		defer cancel()
	}
	exec := ExecutionContext{
		Store: r.store,
		Log:   log,
		JobID: job.ID,
		Logf: func(format string, args ...any) {
			r.appendLog(job.ID, fmt.Sprintf(format, args...))
		},
		Enqueue: func(ctx context.Context, callID string, next Stage, params map[string]any) error {
			_, err := r.Enqueue(ctx, callID, next, params)
			return err
		},
	}
	params := map[string]any{}
	_ = json.Unmarshal([]byte(job.ParamsJSON), &params)

	if err := fn(jobCtx, exec, job.CallID, params); err != nil {
		status := StatusFailed
		if ctx.Err() != nil {
			status = StatusCancelled
		}
		r.appendLog(job.ID, "error: "+err.Error())
		r.finish(job, status, start)
		log.Warn("job failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return
	}
	r.finish(job, StatusSucceeded, start)
	log.Debug("job succeeded", zap.Duration("elapsed", time.Since(start)))
}

func (r *Runner) finish(job *store.Job, status string, start time.Time) {
	_ = r.store.MarkJobFinished(context.Background(), job.ID, status, now())
	r.release(job.ID)
	if r.obs != nil {
		r.obs.ObserveJob(job.Stage, status, time.Since(start))
	}
	r.publish(job, status)
}

func (r *Runner) publish(job *store.Job, status string) {
	r.opts.Events.Publish(events.Event{
		Type:   "job",
		JobID:  job.ID,
		CallID: job.CallID,
		Stage:  job.Stage,
		Status: status,
	})
}

func (r *Runner) reportDepth() {
	if r.obs != nil {
		r.obs.SetQueueDepth(len(r.queue))
	}
}

func (r *Runner) appendLog(jobID int64, msg string) {
	r.logMu.Lock()
	defer r.logMu.Unlock()
	ts := now()
	_ = r.store.AppendJobLog(context.Background(), jobID, msg, ts)
	r.logBuffer[jobID] = append(r.logBuffer[jobID], fmt.Sprintf("%s %s", ts.Format(time.RFC3339), msg))
	if len(r.logBuffer[jobID]) > 200 {
		r.logBuffer[jobID] = r.logBuffer[jobID][len(r.logBuffer[jobID])-200:]
	}
}

// Logs returns the in-memory log buffer for a job.
func (r *Runner) Logs(jobID int64) []string {
	r.logMu.Lock()
	defer r.logMu.Unlock()
	return append([]string(nil), r.logBuffer[jobID]...)
}

func idempotencyKey(callID string, stage Stage, payload []byte) string {
	h := sha256.Sum256([]byte(callID + string(stage) + string(payload)))
	return hex.EncodeToString(h[:])
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
