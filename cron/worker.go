// Package cron runs lifecycle side effects and the completion sweep on an
// asynq worker backed by Redis.
package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wellbook/models"
	"wellbook/services/booking"
	"wellbook/services/events"
	"wellbook/services/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const defaultMaxRetry = 8

// Enqueuer is the part of *asynq.Client the publisher needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueuePublisher is an events.Publisher that enqueues one task per subscribed
// handler, so a failing handler retries alone.
type QueuePublisher struct {
	client   Enqueuer
	router   *events.Router
	maxRetry int
	logger   *zap.Logger
}

func NewQueuePublisher(client Enqueuer, router *events.Router, logger *zap.Logger) *QueuePublisher {
	return &QueuePublisher{client: client, router: router, maxRetry: defaultMaxRetry, logger: logger}
}

func (p *QueuePublisher) Publish(ctx context.Context, ev models.LifecycleEvent) error {
	var errs models.MultiError
	for _, name := range p.router.HandlersFor(ev.Type) {
		task, opts, err := tasks.NewLifecycleTask(name, ev, p.maxRetry)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := p.client.EnqueueContext(ctx, task, opts...); err != nil {
			if errors.Is(err, asynq.ErrTaskIDConflict) {
				continue
			}
			errs = append(errs, fmt.Errorf("enqueue %s for event %s: %w", name, ev.ID, err))
		}
	}
	return errs.ErrOrNil()
}

// Sweeper completes bookings whose slot has passed.
type Sweeper interface {
	CompleteElapsed(ctx context.Context) (*booking.SweepReport, error)
}

// HandleLifecycleTask runs the handler a task names. Errors no retry can fix
// are marked SkipRetry.
func HandleLifecycleTask(router *events.Router, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		p, err := tasks.ParseLifecyclePayload(task)
		if err != nil {
			logger.Error("dropping lifecycle task", zap.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}

		err = router.Run(ctx, p.Handler, p.Event)
		if err == nil {
			return nil
		}
		if permanent(err) {
			logger.Warn("lifecycle side effect failed permanently",
				zap.String("handler", p.Handler),
				zap.String("event_id", p.Event.ID),
				zap.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
}

func permanent(err error) bool {
	var ve *models.ValidationError
	var nf *models.NotFoundError
	var fe *models.ForbiddenError
	return errors.Is(err, events.ErrUnknownHandler) ||
		errors.As(err, &ve) || errors.As(err, &nf) || errors.As(err, &fe)
}

// HandleCompleteElapsedTask runs one completion sweep.
func HandleCompleteElapsedTask(sweeper Sweeper, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		report, err := sweeper.CompleteElapsed(ctx)
		if err != nil {
			logger.Warn("completion sweep had failures",
				zap.Int("completed", report.Completed),
				zap.Int("failed", report.Failed),
				zap.Error(err))
			return err
		}
		return nil
	}
}

// WorkerConfig configures the asynq server and scheduler.
type WorkerConfig struct {
	Redis       asynq.RedisClientOpt
	Concurrency int
	// SweepSpec is a cron spec for the completion sweep; empty disables it.
	SweepSpec string
}

// Worker owns the asynq server that consumes lifecycle tasks and the
// scheduler that enqueues the periodic sweep.
type Worker struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	sweepSpec string
	logger    *zap.Logger
}

func NewWorker(cfg WorkerConfig, router *events.Router, sweeper Sweeper, logger *zap.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	srv := asynq.NewServer(cfg.Redis, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			"default": 1,
		},
		Logger: logger.Sugar(),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeLifecycleEffect, HandleLifecycleTask(router, logger))
	mux.HandleFunc(tasks.TypeCompleteElapsed, HandleCompleteElapsedTask(sweeper, logger))

	w := &Worker{server: srv, mux: mux, sweepSpec: cfg.SweepSpec, logger: logger}
	if cfg.SweepSpec != "" {
		w.scheduler = asynq.NewScheduler(cfg.Redis, &asynq.SchedulerOpts{Logger: logger.Sugar()})
	}
	return w
}

// Start launches the server and the scheduler, retrying the connection with
// backoff before giving up.
func (w *Worker) Start() error {
	const maxAttempts = 5

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = w.server.Start(w.mux); err == nil {
			break
		}
		w.logger.Warn("asynq worker failed to start",
			zap.Int("attempt", attempt), zap.Int("max_attempts", maxAttempts), zap.Error(err))
		if attempt < maxAttempts {
			time.Sleep(time.Duration(attempt*2) * time.Second)
		}
	}
	if err != nil {
		return fmt.Errorf("asynq worker: %w", err)
	}
	w.logger.Info("asynq worker started")

	if w.scheduler == nil {
		return nil
	}
	// Unique keeps overlapping sweeps from piling up if one runs long.
	if _, err := w.scheduler.Register(w.sweepSpec, tasks.NewCompleteElapsedTask(),
		asynq.Unique(5*time.Minute), asynq.MaxRetry(0)); err != nil {
		w.server.Shutdown()
		return fmt.Errorf("register completion sweep %q: %w", w.sweepSpec, err)
	}
	if err := w.scheduler.Start(); err != nil {
		w.server.Shutdown()
		return fmt.Errorf("asynq scheduler: %w", err)
	}
	w.logger.Info("completion sweep scheduled", zap.String("spec", w.sweepSpec))
	return nil
}

// Shutdown stops the scheduler and drains in-flight tasks.
func (w *Worker) Shutdown() {
	if w.scheduler != nil {
		w.scheduler.Shutdown()
	}
	w.server.Shutdown()
}
