package jobs

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"
)

// ErrPermanent marks a job failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent job failure")

// Handler runs one claimed job. A nil error marks the job done.
type Handler interface {
	Handle(ctx context.Context, job *Job) error
}

type HandlerFunc func(ctx context.Context, job *Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *Job) error { return f(ctx, job) }

type Worker struct {
	ID       string
	Queue    Queue
	Handlers map[string]Handler
	Logger   *slog.Logger
	// Interval between claims when the queue is idle.
	Interval time.Duration

	now func() time.Time
}

func (w *Worker) Run(ctx context.Context) {
	if w.Logger == nil {
		w.Logger = slog.Default()
	}
	interval := w.Interval
	if interval <= 0 {
		interval = 800 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.Logger.Info("job worker started", slog.String("worker_id", w.ID))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for w.RunOnce(ctx) {
			}
		}
	}
}

// RunOnce claims and handles at most one due job. It reports whether a job
// was found.
func (w *Worker) RunOnce(ctx context.Context) bool {
	if w.Logger == nil {
		w.Logger = slog.Default()
	}
	if ctx.Err() != nil {
		return false
	}
	job, err := w.Queue.Claim(ctx, w.ID)
	if err != nil {
		w.Logger.Warn("job claim failed", slog.String("worker_id", w.ID), slog.String("error", err.Error()))
		return false
	}
	if job == nil {
		return false
	}
	w.handle(ctx, job)
	return true
}

func (w *Worker) handle(ctx context.Context, job *Job) {
	log := w.Logger.With(slog.Uint64("job_id", job.ID), slog.String("type", job.Type))

	h, ok := w.Handlers[job.Type]
	if !ok {
		log.Error("unknown job type")
		w.store(log, w.Queue.MarkFailed(ctx, job.ID, "unknown job type"))
		return
	}

	err := h.Handle(ctx, job)
	switch {
	case err == nil:
		w.store(log, w.Queue.MarkDone(ctx, job.ID))
	case errors.Is(err, ErrPermanent):
		log.Error("job failed", slog.String("error", err.Error()))
		w.store(log, w.Queue.MarkFailed(ctx, job.ID, err.Error()))
	default:
		w.retry(ctx, log, job, err)
	}
}

func (w *Worker) retry(ctx context.Context, log *slog.Logger, job *Job, cause error) {
	attempts := job.Attempts + 1
	if attempts >= job.MaxAttempts {
		log.Error("job exhausted retries", slog.Int("attempts", attempts), slog.String("error", cause.Error()))
		w.store(log, w.Queue.MarkFailed(ctx, job.ID, cause.Error()))
		return
	}

	now := time.Now
	if w.now != nil {
		now = w.now
	}
	next := now().Add(Backoff(attempts))
	log.Warn("job will retry", slog.Int("attempts", attempts), slog.Time("run_at", next), slog.String("error", cause.Error()))
	w.store(log, w.Queue.RetryLater(ctx, job.ID, attempts, next, cause.Error()))
}

func (w *Worker) store(log *slog.Logger, err error) {
	if err != nil {
		log.Error("job status update failed", slog.String("error", err.Error()))
	}
}

// Backoff is 2^attempts seconds, capped at ten minutes.
func Backoff(attempts int) time.Duration {
	sec := math.Min(math.Pow(2, float64(attempts)), 600)
	return time.Duration(sec) * time.Second
}
