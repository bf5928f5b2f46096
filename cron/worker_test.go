package cron

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wellbook/models"
	"wellbook/services/booking"
	"wellbook/services/events"
	"wellbook/services/tasks"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	ids   []string
	seen  map[string]bool
	err   error
}

func (e *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	var id string
	for _, o := range opts {
		if o.Type() == asynq.TaskIDOpt {
			id = o.Value().(string)
		}
	}
	if e.seen == nil {
		e.seen = make(map[string]bool)
	}
	if e.seen[id] {
		return nil, asynq.ErrTaskIDConflict
	}
	e.seen[id] = true
	e.tasks = append(e.tasks, task)
	e.ids = append(e.ids, id)
	return &asynq.TaskInfo{ID: id}, nil
}

func newRouter() *events.Router {
	r := events.NewRouter(zap.NewNop(), time.Second)
	noop := func(ctx context.Context, ev models.LifecycleEvent) error { return nil }
	r.Handle("notify", noop)
	r.Handle("token-reward", noop, models.EventBookingCompleted)
	return r
}

func TestQueuePublisherEnqueuesOneTaskPerHandler(t *testing.T) {
	q := &fakeEnqueuer{}
	p := NewQueuePublisher(q, newRouter(), zap.NewNop())
	ev := events.NewEvent(models.EventBookingCompleted, models.Booking{ID: "b-1"}, models.SystemActor, time.Now())

	require.NoError(t, p.Publish(context.Background(), ev))
	assert.Equal(t, []string{
		tasks.LifecycleTaskID(ev.ID, "notify"),
		tasks.LifecycleTaskID(ev.ID, "token-reward"),
	}, q.ids)

	payload, err := tasks.ParseLifecyclePayload(q.tasks[1])
	require.NoError(t, err)
	assert.Equal(t, "token-reward", payload.Handler)
	assert.Equal(t, "b-1", payload.Event.Booking.ID)

	// Publishing the same event again is absorbed by the task id.
	require.NoError(t, p.Publish(context.Background(), ev))
	assert.Len(t, q.tasks, 2)
}

func TestQueuePublisherReportsEnqueueFailure(t *testing.T) {
	q := &fakeEnqueuer{err: errors.New("dial tcp: connection refused")}
	p := NewQueuePublisher(q, newRouter(), zap.NewNop())
	ev := events.NewEvent(models.EventBookingCreated, models.Booking{ID: "b-1"}, "c-1", time.Now())

	assert.Error(t, p.Publish(context.Background(), ev))
}

func TestHandleLifecycleTask(t *testing.T) {
	r := events.NewRouter(zap.NewNop(), time.Second)
	var calls int
	var failWith error
	r.Handle("reward", func(ctx context.Context, ev models.LifecycleEvent) error {
		calls++
		return failWith
	})
	handler := HandleLifecycleTask(r, zap.NewNop())
	ev := events.NewEvent(models.EventBookingCompleted, models.Booking{ID: "b-1"}, models.SystemActor, time.Now())

	task, _, err := tasks.NewLifecycleTask("reward", ev, 3)
	require.NoError(t, err)
	require.NoError(t, handler(context.Background(), task))
	assert.Equal(t, 1, calls)

	failWith = errors.New("mongo: server selection timeout")
	err = handler(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	failWith = &models.NotFoundError{Resource: "user", ID: "ghost"}
	err = handler(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	unknown, _, err := tasks.NewLifecycleTask("gone", ev, 3)
	require.NoError(t, err)
	assert.ErrorIs(t, handler(context.Background(), unknown), asynq.SkipRetry)

	garbage := asynq.NewTask(tasks.TypeLifecycleEffect, []byte("{not json"))
	assert.ErrorIs(t, handler(context.Background(), garbage), asynq.SkipRetry)
}

type fakeSweeper struct {
	report *booking.SweepReport
	err    error
}

func (s fakeSweeper) CompleteElapsed(ctx context.Context) (*booking.SweepReport, error) {
	return s.report, s.err
}

func TestHandleCompleteElapsedTask(t *testing.T) {
	ok := HandleCompleteElapsedTask(fakeSweeper{report: &booking.SweepReport{Completed: 2}}, zap.NewNop())
	assert.NoError(t, ok(context.Background(), tasks.NewCompleteElapsedTask()))

	failing := HandleCompleteElapsedTask(fakeSweeper{
		report: &booking.SweepReport{Failed: 1},
		err:    errors.New("store unavailable"),
	}, zap.NewNop())
	assert.Error(t, failing(context.Background(), tasks.NewCompleteElapsedTask()))
}
