package pipeline

import (
	"context"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"
	"github.com/musicviz/stem-split-be/src/internal/download"
	"github.com/musicviz/stem-split-be/src/internal/errors/api"
	jobentity "github.com/musicviz/stem-split-be/src/internal/job/entity"
	"github.com/musicviz/stem-split-be/src/internal/job/registry"
	"github.com/musicviz/stem-split-be/src/internal/process"
	"github.com/musicviz/stem-split-be/src/lib/cerr"
	"golang.org/x/sync/errgroup"
)

// ErrQueueFull signals that the task queue is at capacity and the job
// can't be accepted right now.
var ErrQueueFull = errors.New("job queue is full")

const downloadFailedMessage = "Failed to download audio from URL. Make sure it's a direct audio link"

// AcquireFunc fetches the job's raw audio to its scratch input path.
// Nil for the upload path, where the bytes are already on disk.
type AcquireFunc func(ctx context.Context) error

// Task is one job's unit of background work.
type Task struct {
	JobID     string
	Ctx       context.Context
	InputPath string
	Acquire   AcquireFunc
}

// Runner is a bounded worker pool. Each job's acquisition-then-
// processing pipeline runs on one of a fixed number of workers, and
// scheduling past the queue capacity is rejected rather than spawning
// unmanaged goroutines per request.
type Runner struct {
	registry  *registry.Registry
	separator process.Separator
	tasks     chan Task
	group     errgroup.Group
}

func NewRunner(jobRegistry *registry.Registry, separator process.Separator, workerCount int, queueDepth int) *Runner {
	runner := &Runner{
		registry:  jobRegistry,
		separator: separator,
		tasks:     make(chan Task, queueDepth),
	}

	for i := 0; i < workerCount; i++ {
		runner.group.Go(runner.work)
	}

	return runner
}

// Schedule hands a task to the pool without blocking the request path.
func (r *Runner) Schedule(task Task) error {
	select {
	case r.tasks <- task:
		return nil
	default:
		return errors.Mark(
			cerr.Field("job_id", task.JobID).Error("Task queue is at capacity"),
			ErrQueueFull)
	}
}

// Stop drains the pool: no new tasks are accepted and Stop returns
// once in-flight pipelines finish.
func (r *Runner) Stop() error {
	close(r.tasks)
	return r.group.Wait()
}

func (r *Runner) work() error {
	for task := range r.tasks {
		r.run(task)
	}

	return nil
}

// run drives one job from acquisition to a terminal state. Failures
// are captured into the registry rather than propagated - there is no
// caller past the background boundary to catch them.
func (r *Runner) run(task Task) {
	logger := log.WithField("job_id", task.JobID)

	if task.Acquire != nil {
		if err := r.registry.Advance(task.JobID, jobentity.DownloadingStatus, 0.05); err != nil {
			r.abandon(task.JobID, err)
			return
		}

		if err := task.Acquire(task.Ctx); err != nil {
			logger.WithError(err).Info("Acquisition failed")
			r.fail(task.JobID, acquisitionFailureMessage(err))
			return
		}

		if err := download.VerifyNonEmptyFile(task.InputPath); err != nil {
			logger.WithError(err).Info("Acquired file failed verification")
			r.fail(task.JobID, downloadFailedMessage)
			return
		}
	}

	progress := func(p float64) {
		if err := r.registry.Advance(task.JobID, jobentity.ProcessingStatus, p); err != nil {
			cerr.Log(err)
		}
	}

	stems, err := r.separator.Separate(task.Ctx, task.JobID, task.InputPath, progress)
	if err != nil {
		logger.WithError(err).Info("Separation failed")

		if errors.Is(err, process.ErrTimeout) {
			r.fail(task.JobID, "Processing timeout - file may be too large")
			return
		}

		r.fail(task.JobID, err.Error())
		return
	}

	if err := r.registry.Complete(task.JobID, stems); err != nil {
		r.abandon(task.JobID, err)
		return
	}

	logger.WithField("stems", stems).Info("Job completed")
}

func (r *Runner) fail(jobID string, message string) {
	if err := r.registry.Fail(jobID, message); err != nil {
		r.abandon(jobID, err)
	}
}

// abandon is the quiet exit for pipelines whose job was cancelled (or
// reaped) out from under them - the terminal record stays untouched.
func (r *Runner) abandon(jobID string, err error) {
	if errors.Is(err, registry.ErrTerminalState) {
		log.WithField("job_id", jobID).Info("Job reached a terminal state elsewhere, abandoning pipeline")
		return
	}

	cerr.Log(cerr.Field("job_id", jobID).Wrap(err).Error("Failed to record job state"))
}

// Acquisition failures carry a user facing message when they came from
// a classified api.Error, otherwise fall back to the generic download
// failure text.
func acquisitionFailureMessage(err error) string {
	apiErr := (*api.Error)(nil)
	if errors.As(err, &apiErr) {
		return apiErr.UserMessage
	}

	return downloadFailedMessage
}
