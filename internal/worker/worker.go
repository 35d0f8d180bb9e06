// Package worker drains the job queue: it materializes builders and polls
// the farm for archives that ended without a download link.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"SelectionBuilder/internal/config"
	"SelectionBuilder/internal/infrastructure/queue"
	"SelectionBuilder/internal/logging"
	"SelectionBuilder/internal/ports"
)

const (
	retryBaseDelay = 30 * time.Second
	retryMaxDelay  = 30 * time.Minute
)

// Jobs is the consumer side of the queue.
type Jobs interface {
	Claim(ctx context.Context) (*queue.Job, error)
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, job *queue.Job, cause error, maxAttempts int, delay time.Duration) (bool, error)
	ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// Materializer turns a builder into a selection.
type Materializer interface {
	Materialize(ctx context.Context, builderID, contentType string) error
}

// Poller checks on a farm task.
type Poller interface {
	HandlePoll(ctx context.Context, taskID string, attempt int) error
}

// Deps wires the worker.
type Deps struct {
	Jobs         Jobs
	Materializer Materializer
	Poller       Poller
	Driver       ports.Scheduler
	Config       config.WorkerConfig
	Logger       *slog.Logger
}

// Worker claims due jobs and dispatches them by kind.
type Worker struct {
	jobs         Jobs
	materializer Materializer
	poller       Poller
	driver       ports.Scheduler
	cfg          config.WorkerConfig
	logger       *slog.Logger
	lock         *flock.Flock
	now          func() time.Time

	running atomic.Bool
}

// New constructs a worker. The lock file keeps a second worker process
// from draining the same database.
func New(deps Deps) (*Worker, error) {
	if deps.Jobs == nil || deps.Materializer == nil || deps.Poller == nil || deps.Driver == nil {
		return nil, errors.New("worker requires jobs, materializer, poller and driver")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	cfg := deps.Config
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}

	w := &Worker{
		jobs:         deps.Jobs,
		materializer: deps.Materializer,
		poller:       deps.Poller,
		driver:       deps.Driver,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
	if cfg.LockPath != "" {
		w.lock = flock.New(cfg.LockPath)
	}
	return w, nil
}

// Run drains the queue on every driver tick until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return errors.New("worker already running")
	}
	defer w.running.Store(false)

	if w.lock != nil {
		ok, err := w.lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			return fmt.Errorf("another worker holds %s", w.cfg.LockPath)
		}
		defer func() {
			if err := w.lock.Unlock(); err != nil {
				w.logger.Warn("failed to release worker lock", "error", err)
			}
		}()
	}

	if err := w.driver.Start(ctx, func(time.Time) { w.Drain(ctx) }); err != nil {
		return fmt.Errorf("start driver: %w", err)
	}
	w.logger.Info("worker started", "lock", w.cfg.LockPath, "interval", w.cfg.PollInterval)

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := w.driver.Stop(stopCtx); err != nil {
		w.logger.Warn("driver did not stop cleanly", "error", err)
	}
	w.logger.Info("worker stopped")
	return nil
}

// Drain processes due jobs until none are left and returns how many ran.
func (w *Worker) Drain(ctx context.Context) int {
	if w.cfg.StaleAfter > 0 {
		n, err := w.jobs.ReclaimStale(ctx, w.now().Add(-w.cfg.StaleAfter))
		if err != nil {
			w.logger.Warn("reclaim stale jobs failed", "error", err)
		} else if n > 0 {
			w.logger.Info("reclaimed stale jobs", "count", n)
		}
	}

	processed := 0
	for ctx.Err() == nil {
		job, err := w.jobs.Claim(ctx)
		if err != nil {
			w.logger.Error("claim job failed", "error", err)
			return processed
		}
		if job == nil {
			return processed
		}
		processed++
		w.process(ctx, job)
	}
	return processed
}

func (w *Worker) process(ctx context.Context, job *queue.Job) {
	logger := w.logger.With("job_id", job.ID, "kind", job.Kind, "attempt", job.Attempts)
	started := w.now()

	err := w.dispatch(ctx, job)
	if err == nil {
		if cerr := w.jobs.Complete(ctx, job.ID); cerr != nil {
			logger.Error("complete job failed", "error", cerr)
			return
		}
		logger.Debug("job done", "elapsed", w.now().Sub(started))
		return
	}

	dead, ferr := w.jobs.Fail(ctx, job, err, w.cfg.MaxAttempts, retryDelay(job.Attempts))
	if ferr != nil {
		logger.Error("fail job failed", "error", ferr, "cause", err)
		return
	}
	if dead {
		logger.Error("job gave up", "error", err)
		return
	}
	logger.Warn("job failed, will retry", "error", err)
}

func (w *Worker) dispatch(ctx context.Context, job *queue.Job) error {
	switch job.Kind {
	case queue.KindMaterialize:
		var p queue.MaterializePayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fmt.Errorf("decode materialize payload: %w", err)
		}
		return w.materializer.Materialize(ctx, p.BuilderID, p.ContentType)
	case queue.KindPollZimStatus:
		var p queue.PollPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fmt.Errorf("decode poll payload: %w", err)
		}
		return w.poller.HandlePoll(ctx, p.TaskID, p.Attempt)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

func retryDelay(attempts int) time.Duration {
	delay := retryBaseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return delay
}
