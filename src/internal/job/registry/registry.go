package registry

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	jobentity "github.com/musicviz/stem-split-be/src/internal/job/entity"
	"github.com/musicviz/stem-split-be/src/lib/cerr"
)

var (
	ErrNotFound      = errors.New("job not found")
	ErrTerminalState = errors.New("job is in a terminal state")
	ErrIllegalChange = errors.New("illegal status change")
)

// The forward chain. failed/cancelled are reachable from any
// non-terminal state and are handled separately in Fail/Cancel.
var legalAdvance = map[jobentity.Status][]jobentity.Status{
	jobentity.PendingStatus:     {jobentity.DownloadingStatus, jobentity.ProcessingStatus},
	jobentity.DownloadingStatus: {jobentity.ProcessingStatus},
	jobentity.ProcessingStatus:  {},
}

type record struct {
	job        jobentity.Job
	cancel     context.CancelFunc
	finishedAt time.Time
}

// Registry is the single source of truth for job state. It is read by
// the status polling path while the owning pipeline writes to it, so
// every access goes through the mutex.
type Registry struct {
	mutex sync.RWMutex
	jobs  map[string]*record
}

func NewRegistry() *Registry {
	return &Registry{
		jobs: make(map[string]*record),
	}
}

// Create registers a new pending job and returns it along with a
// context that the job's pipeline should run under. The pipeline
// outlives the request that started it, so the job context is rooted
// in the background rather than the request - Cancel is the only way
// to cancel it, stopping in-flight work at its I/O checkpoints.
func (r *Registry) Create() (jobentity.Job, context.Context) {
	jobCtx, cancel := context.WithCancel(context.Background())

	job := jobentity.Job{
		ID:       uuid.NewString(),
		Status:   jobentity.PendingStatus,
		Progress: 0,
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.jobs[job.ID] = &record{
		job:    job,
		cancel: cancel,
	}

	return job, jobCtx
}

func (r *Registry) Get(id string) (jobentity.Job, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	rec, ok := r.jobs[id]
	if !ok {
		return jobentity.Job{}, false
	}

	return rec.job.Clone(), true
}

// Advance moves a job forward through the pending -> downloading ->
// processing chain, or bumps progress within the current status.
func (r *Registry) Advance(id string, status jobentity.Status, progress float64) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	rec, ok := r.jobs[id]
	if !ok {
		return errors.Mark(cerr.Field("job_id", id).Error("No job found to advance"), ErrNotFound)
	}

	if rec.job.Status.Terminal() {
		return errors.Mark(
			cerr.Field("job_id", id).Field("status", rec.job.Status).
				Error("Job is already in a terminal state"),
			ErrTerminalState)
	}

	if rec.job.Status != status && !isLegalAdvance(rec.job.Status, status) {
		return errors.Mark(
			cerr.Field("job_id", id).
				Field("from", rec.job.Status).
				Field("to", status).
				Error("Status change is not a legal advance"),
			ErrIllegalChange)
	}

	rec.job.Status = status
	rec.job.Progress = progress

	return nil
}

// Complete marks a job completed with the stems the engine actually
// produced. Only legal from processing.
func (r *Registry) Complete(id string, stems []string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	rec, ok := r.jobs[id]
	if !ok {
		return errors.Mark(cerr.Field("job_id", id).Error("No job found to complete"), ErrNotFound)
	}

	if rec.job.Status.Terminal() {
		return errors.Mark(
			cerr.Field("job_id", id).Field("status", rec.job.Status).
				Error("Job is already in a terminal state"),
			ErrTerminalState)
	}

	if rec.job.Status != jobentity.ProcessingStatus {
		return errors.Mark(
			cerr.Field("job_id", id).Field("status", rec.job.Status).
				Error("Only a processing job can be completed"),
			ErrIllegalChange)
	}

	rec.job = jobentity.Job{
		ID:       id,
		Status:   jobentity.CompletedStatus,
		Progress: 1.0,
		Stems:    stems,
	}
	rec.finishedAt = time.Now()
	rec.cancel()

	return nil
}

// Fail marks a job failed with a human readable message.
// Legal from any non-terminal state.
func (r *Registry) Fail(id string, message string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	rec, ok := r.jobs[id]
	if !ok {
		return errors.Mark(cerr.Field("job_id", id).Error("No job found to fail"), ErrNotFound)
	}

	if rec.job.Status.Terminal() {
		return errors.Mark(
			cerr.Field("job_id", id).Field("status", rec.job.Status).
				Error("Job is already in a terminal state"),
			ErrTerminalState)
	}

	rec.job = jobentity.Job{
		ID:     id,
		Status: jobentity.FailedStatus,
		Error:  message,
	}
	rec.finishedAt = time.Now()
	rec.cancel()

	return nil
}

// Cancel marks a job cancelled and signals its pipeline context.
// Cancelling an already terminal job is a no-op that still reports
// success - the job exists and the caller may clean up its artifacts.
func (r *Registry) Cancel(id string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	rec, ok := r.jobs[id]
	if !ok {
		return false
	}

	rec.cancel()

	if !rec.job.Status.Terminal() {
		rec.job = jobentity.Job{
			ID:     id,
			Status: jobentity.CancelledStatus,
		}
		rec.finishedAt = time.Now()
	}

	return true
}

// Reap evicts jobs that reached a terminal state before the cutoff,
// so the registry doesn't grow without bound over the process lifetime.
func (r *Registry) Reap(cutoff time.Time) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	reaped := 0
	for id, rec := range r.jobs {
		if rec.job.Status.Terminal() && rec.finishedAt.Before(cutoff) {
			delete(r.jobs, id)
			reaped++
		}
	}

	return reaped
}

// StartReaper sweeps terminal jobs older than ttl on the given interval
// until ctx is cancelled.
func (r *Registry) StartReaper(ctx context.Context, interval time.Duration, ttl time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Reap(time.Now().Add(-ttl))
			}
		}
	}()
}

func isLegalAdvance(from jobentity.Status, to jobentity.Status) bool {
	for _, next := range legalAdvance[from] {
		if next == to {
			return true
		}
	}

	return false
}
