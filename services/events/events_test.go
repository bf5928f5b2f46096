package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wellbook/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func completedEvent() models.LifecycleEvent {
	return NewEvent(models.EventBookingCompleted, models.Booking{ID: "b1", ClientID: "c1"}, models.SystemActor, time.Now())
}

func TestRouterDispatchesBySubscribedType(t *testing.T) {
	r := NewRouter(zap.NewNop(), time.Second)
	var reward, notify int32
	r.Handle("reward", func(ctx context.Context, ev models.LifecycleEvent) error {
		atomic.AddInt32(&reward, 1)
		return nil
	}, models.EventBookingCompleted)
	r.Handle("notify", func(ctx context.Context, ev models.LifecycleEvent) error {
		atomic.AddInt32(&notify, 1)
		return nil
	})

	assert.Equal(t, []string{"notify", "reward"}, r.HandlersFor(models.EventBookingCompleted))
	assert.Equal(t, []string{"notify"}, r.HandlersFor(models.EventBookingCreated))

	require.NoError(t, r.Dispatch(context.Background(), completedEvent()))
	ev := NewEvent(models.EventBookingCreated, models.Booking{ID: "b2"}, "c1", time.Now())
	require.NoError(t, r.Dispatch(context.Background(), ev))

	assert.EqualValues(t, 1, atomic.LoadInt32(&reward))
	assert.EqualValues(t, 2, atomic.LoadInt32(&notify))
}

func TestRouterFailureDoesNotStopOtherHandlers(t *testing.T) {
	r := NewRouter(zap.NewNop(), time.Second)
	var ran int32
	r.Handle("a-broken", func(ctx context.Context, ev models.LifecycleEvent) error {
		return errors.New("smtp down")
	})
	r.Handle("b-ok", func(ctx context.Context, ev models.LifecycleEvent) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})

	err := r.Dispatch(context.Background(), completedEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")
	assert.EqualValues(t, 1, atomic.LoadInt32(&ran))
}

func TestRouterRunEnforcesTimeout(t *testing.T) {
	r := NewRouter(zap.NewNop(), 20*time.Millisecond)
	r.Handle("slow", func(ctx context.Context, ev models.LifecycleEvent) error {
		<-ctx.Done()
		return ctx.Err()
	})

	err := r.Run(context.Background(), "slow", completedEvent())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	err = r.Run(context.Background(), "missing", completedEvent())
	assert.ErrorIs(t, err, ErrUnknownHandler)
}

func TestAsyncPublisherDoesNotBlockCaller(t *testing.T) {
	r := NewRouter(zap.NewNop(), time.Second)
	release := make(chan struct{})
	var mu sync.Mutex
	var seen []string
	r.Handle("record", func(ctx context.Context, ev models.LifecycleEvent) error {
		<-release
		mu.Lock()
		seen = append(seen, ev.Booking.ID)
		mu.Unlock()
		return nil
	})
	p := NewAsyncPublisher(r, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Publish(ctx, completedEvent()))
	// The emitting request is gone before the handler runs.
	cancel()
	close(release)
	p.Close()

	assert.Equal(t, []string{"b1"}, seen)
	assert.ErrorIs(t, p.Publish(context.Background(), completedEvent()), ErrPublisherClosed)
}
