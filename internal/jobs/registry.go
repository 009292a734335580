// Package jobs tracks background training work: id allocation, status
// transitions, a bounded worker pool and progress fan-out to listeners.
package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sells-group/pulse/internal/model"
)

// Emit publishes a progress event for the running job.
type Emit func(model.ProgressEvent)

// Work is the body of a job. It must not retain emit after returning.
type Work func(ctx context.Context, emit Emit) error

// Recorder persists job transitions. Failures are logged and never affect
// the job itself.
type Recorder interface {
	CreateJob(ctx context.Context, job *model.Job) error
	UpdateJobStatus(ctx context.Context, id string, status model.JobStatus, errMsg string) error
}

// Options configures a Registry.
type Options struct {
	Workers        int
	Retention      time.Duration
	ProgressBuffer int
	Recorder       Recorder
}

// Registry maps job ids to their state and runs submitted work off the
// caller's goroutine.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*model.Job

	sem       *semaphore.Weighted
	broker    *Broker
	recorder  Recorder
	retention time.Duration
	now       func() time.Time
	wg        sync.WaitGroup
}

// NewRegistry builds a registry from opts, filling defaults.
func NewRegistry(opts Options) *Registry {
	if opts.Workers < 1 {
		opts.Workers = 2
	}
	if opts.ProgressBuffer < 1 {
		opts.ProgressBuffer = 256
	}
	return &Registry{
		jobs:      make(map[string]*model.Job),
		sem:       semaphore.NewWeighted(int64(opts.Workers)),
		broker:    NewBroker(opts.ProgressBuffer),
		recorder:  opts.Recorder,
		retention: opts.Retention,
		now:       time.Now,
	}
}

// Submit registers a job and starts it in the background. The returned id
// is queued or running when Submit returns.
func (r *Registry) Submit(kind model.JobKind, modelName string, params any, work Work) string {
	now := r.now()
	job := &model.Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		ModelName: modelName,
		Params:    params,
		Status:    model.JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.evictLocked(now)
	r.jobs[job.ID] = job
	snapshot := *job
	r.mu.Unlock()

	r.record(func(ctx context.Context) error { return r.recorder.CreateJob(ctx, &snapshot) })

	log := zap.L().With(zap.String("job_id", job.ID), zap.String("kind", string(kind)), zap.String("model", modelName))
	log.Info("job queued")

	r.wg.Add(1)
	go r.run(job.ID, work, log)
	return job.ID
}

func (r *Registry) run(id string, work Work, log *zap.Logger) {
	defer r.wg.Done()

	ctx := context.Background()
	if err := r.sem.Acquire(ctx, 1); err != nil {
		r.finish(id, err, log)
		return
	}
	defer r.sem.Release(1)

	r.transition(id, model.JobStatusRunning, "")
	log.Info("job running")

	emit := func(ev model.ProgressEvent) { r.broker.Publish(id, ev) }
	r.finish(id, safeRun(ctx, work, emit), log)
}

func safeRun(ctx context.Context, work Work, emit Emit) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = eris.Errorf("job panicked: %v", p)
		}
	}()
	return work(ctx, emit)
}

func (r *Registry) finish(id string, err error, log *zap.Logger) {
	ev := model.ProgressEvent{Type: model.EventStatus, Status: string(model.JobStatusCompleted)}
	if err != nil {
		msg := err.Error()
		r.transition(id, model.JobStatusFailed, msg)
		ev.Status = string(model.JobStatusFailed)
		ev.Error = msg
		log.Error("job failed", zap.Error(err))
	} else {
		r.transition(id, model.JobStatusCompleted, "")
		log.Info("job completed")
	}
	r.broker.Publish(id, ev)
}

func (r *Registry) transition(id string, status model.JobStatus, errMsg string) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if ok {
		job.Status = status
		job.Error = errMsg
		job.UpdatedAt = r.now()
	}
	r.mu.Unlock()

	r.record(func(ctx context.Context) error { return r.recorder.UpdateJobStatus(ctx, id, status, errMsg) })
}

func (r *Registry) record(fn func(ctx context.Context) error) {
	if r.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		zap.L().Warn("record job transition", zap.Error(err))
	}
}

// evictLocked drops terminal jobs last updated before the retention window.
func (r *Registry) evictLocked(now time.Time) {
	if r.retention <= 0 {
		return
	}
	cutoff := now.Add(-r.retention)
	for id, job := range r.jobs {
		if job.Status.Terminal() && job.UpdatedAt.Before(cutoff) {
			delete(r.jobs, id)
		}
	}
}

// Get returns a snapshot of job id.
func (r *Registry) Get(id string) (model.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked(r.now())
	job, ok := r.jobs[id]
	if !ok {
		return model.Job{}, false
	}
	return *job, true
}

// Status renders the polling status line of id, "unknown" for ids the
// registry does not track.
func (r *Registry) Status(id string) string {
	job, ok := r.Get(id)
	if !ok {
		return string(model.JobStatusUnknown)
	}
	return job.StatusLine()
}

// List returns snapshots of every tracked job, newest first.
func (r *Registry) List() []model.Job {
	r.mu.Lock()
	r.evictLocked(r.now())
	out := make([]model.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, *j)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Subscribe attaches the single progress listener of id, replacing any
// previous one. Events produced before attaching are not replayed.
func (r *Registry) Subscribe(id string) *Subscription {
	return r.broker.Subscribe(id)
}

// Unsubscribe detaches sub.
func (r *Registry) Unsubscribe(sub *Subscription) {
	r.broker.Unsubscribe(sub)
}

// Wait blocks until every submitted job has finished or ctx is done.
func (r *Registry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Listening reports whether id has a progress listener attached.
func (r *Registry) Listening(id string) bool {
	return r.broker.Listening(id)
}
