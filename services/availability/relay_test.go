package availability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	bookingRepo "wellbook/database/repository/booking"
	"wellbook/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testProvider = "prov-1"
	testDate     = "2025-06-01"
)

func newRelayFixture(t *testing.T) (*bookingRepo.MemoryBookingRepo, *Index, *Relay) {
	t.Helper()
	repo := bookingRepo.NewMemoryBookingRepo()
	idx := NewIndex(repo, zap.NewNop(), time.Second)
	relay := NewRelay(repo, idx, zap.NewNop())
	relay.Start(context.Background())
	t.Cleanup(relay.Stop)
	return repo, idx, relay
}

func insertBooking(t *testing.T, repo *bookingRepo.MemoryBookingRepo, slot string) *models.Booking {
	t.Helper()
	b := &models.Booking{
		ID:         uuid.NewString(),
		ProviderID: testProvider,
		ClientID:   "client-" + slot,
		ServiceID:  "svc-1",
		Date:       testDate,
		Time:       slot,
		Status:     models.StatusPending,
	}
	require.NoError(t, repo.InsertIfSlotFree(context.Background(), b))
	return b
}

// warm loads the test day and waits until its feed is live and the entry is
// fresh, so later commits reach the cache through the relay.
func warm(t *testing.T, idx *Index, relay *Relay) {
	t.Helper()
	_, err := idx.GetOccupied(context.Background(), testProvider, testDate)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return relay.Watching() == 1 }, time.Second, 5*time.Millisecond)
	_, err = idx.GetOccupied(context.Background(), testProvider, testDate)
	require.NoError(t, err)
}

func cachedHas(idx *Index, label string) func() bool {
	return func() bool {
		occ, ok := idx.Cached(testProvider, testDate)
		if !ok {
			return false
		}
		for _, t := range occ {
			if t == label {
				return true
			}
		}
		return false
	}
}

func TestRelayPropagatesInsertAndCancel(t *testing.T) {
	repo, idx, relay := newRelayFixture(t)

	occ, err := idx.GetOccupied(context.Background(), testProvider, testDate)
	require.NoError(t, err)
	assert.Empty(t, occ)
	warm(t, idx, relay)

	b := insertBooking(t, repo, "09:00")
	assert.Eventually(t, cachedHas(idx, "09:00"), time.Second, 5*time.Millisecond)

	_, err = repo.UpdateStatus(context.Background(), b.ID,
		[]models.BookingStatus{models.StatusPending}, models.StatusCancelled, time.Now())
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return !cachedHas(idx, "09:00")() }, time.Second, 5*time.Millisecond)
}

func TestRelayDeleteFreesSlot(t *testing.T) {
	repo, idx, relay := newRelayFixture(t)
	warm(t, idx, relay)

	b := insertBooking(t, repo, "09:00")
	assert.Eventually(t, cachedHas(idx, "09:00"), time.Second, 5*time.Millisecond)

	require.NoError(t, repo.Delete(context.Background(), b.ID))
	assert.Eventually(t, func() bool { return !cachedHas(idx, "09:00")() }, time.Second, 5*time.Millisecond)
}

func TestRelayKeepsCompletedSlotOccupied(t *testing.T) {
	repo, idx, relay := newRelayFixture(t)
	warm(t, idx, relay)

	b := insertBooking(t, repo, "10:00")
	ctx := context.Background()
	_, err := repo.UpdateStatus(ctx, b.ID, []models.BookingStatus{models.StatusPending}, models.StatusConfirmed, time.Now())
	require.NoError(t, err)
	_, err = repo.UpdateStatus(ctx, b.ID, []models.BookingStatus{models.StatusConfirmed}, models.StatusCompleted, time.Now())
	require.NoError(t, err)

	// A marker booking on another slot proves every earlier event was applied.
	insertBooking(t, repo, "11:00")
	assert.Eventually(t, cachedHas(idx, "11:00"), time.Second, 5*time.Millisecond)
	assert.True(t, cachedHas(idx, "10:00")())
}

func TestRelayRebookAfterCancel(t *testing.T) {
	repo, idx, relay := newRelayFixture(t)
	warm(t, idx, relay)

	first := insertBooking(t, repo, "09:00")
	_, err := repo.UpdateStatus(context.Background(), first.ID,
		[]models.BookingStatus{models.StatusPending}, models.StatusCancelled, time.Now())
	require.NoError(t, err)
	insertBooking(t, repo, "09:00")

	insertBooking(t, repo, "12:00")
	assert.Eventually(t, cachedHas(idx, "12:00"), time.Second, 5*time.Millisecond)
	assert.True(t, cachedHas(idx, "09:00")())
}

func TestRelayDisconnectForcesReload(t *testing.T) {
	repo, idx, relay := newRelayFixture(t)
	warm(t, idx, relay)

	repo.DisconnectAll(errors.New("connection reset"))
	assert.Eventually(t, func() bool { return relay.Watching() == 0 }, time.Second, 5*time.Millisecond)

	// Committed while no feed is open: only a reload can see it.
	insertBooking(t, repo, "14:00")

	assert.Eventually(t, func() bool {
		occ, err := idx.GetOccupied(context.Background(), testProvider, testDate)
		return err == nil && len(occ) == 1 && occ[0] == "14:00"
	}, time.Second, 5*time.Millisecond)
	warm(t, idx, relay)

	insertBooking(t, repo, "15:00")
	assert.Eventually(t, cachedHas(idx, "15:00"), time.Second, 5*time.Millisecond)
}

// scriptedSource hands out feeds whose events the test writes directly, for
// redeliveries and deletes the memory repo never produces on its own.
type scriptedSource struct {
	mu   sync.Mutex
	gate chan struct{}
	subs []*scriptedSub
}

func (s *scriptedSource) Subscribe(ctx context.Context, providerID string) (bookingRepo.Subscription, error) {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	sub := &scriptedSub{events: make(chan models.BookingChange, 16)}
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	return sub, nil
}

func (s *scriptedSource) send(changes ...models.BookingChange) {
	s.mu.Lock()
	sub := s.subs[len(s.subs)-1]
	s.mu.Unlock()
	for _, c := range changes {
		sub.events <- c
	}
}

type scriptedSub struct {
	events chan models.BookingChange
	once   sync.Once
}

func (s *scriptedSub) Events() <-chan models.BookingChange { return s.events }
func (s *scriptedSub) Err() error                          { return nil }
func (s *scriptedSub) Close() error {
	s.once.Do(func() { close(s.events) })
	return nil
}

func newScriptedFixture(t *testing.T, gate chan struct{}) (*stubLoader, *scriptedSource, *Index, *Relay) {
	t.Helper()
	loader := &stubLoader{}
	src := &scriptedSource{gate: gate}
	idx := NewIndex(loader, zap.NewNop(), time.Second)
	relay := NewRelay(src, idx, zap.NewNop())
	relay.Start(context.Background())
	t.Cleanup(relay.Stop)
	return loader, src, idx, relay
}

func change(op models.BookingChangeOp, id, slot string, status models.BookingStatus) models.BookingChange {
	return models.BookingChange{Op: op, BookingID: id, Booking: &models.Booking{
		ID: id, ProviderID: testProvider, Date: testDate, Time: slot, Status: status,
	}}
}

func TestRelayRedeliveredCancelAfterRebookKeepsSlot(t *testing.T) {
	_, src, idx, relay := newScriptedFixture(t, nil)
	warm(t, idx, relay)

	cancelA := change(models.ChangeUpdate, "a", "09:00", models.StatusCancelled)
	src.send(
		change(models.ChangeInsert, "a", "09:00", models.StatusPending),
		cancelA,
		change(models.ChangeInsert, "b", "09:00", models.StatusPending),
		cancelA,
		change(models.ChangeInsert, "marker", "12:00", models.StatusPending),
	)
	assert.Eventually(t, cachedHas(idx, "12:00"), time.Second, 5*time.Millisecond)
	assert.True(t, cachedHas(idx, "09:00")())
}

func TestRelayRedeliveredInsertIsIdempotent(t *testing.T) {
	_, src, idx, relay := newScriptedFixture(t, nil)
	warm(t, idx, relay)

	insertA := change(models.ChangeInsert, "a", "09:00", models.StatusPending)
	src.send(insertA, insertA, insertA)
	assert.Eventually(t, cachedHas(idx, "09:00"), time.Second, 5*time.Millisecond)

	src.send(change(models.ChangeUpdate, "a", "09:00", models.StatusCancelled))
	assert.Eventually(t, func() bool { return !cachedHas(idx, "09:00")() }, time.Second, 5*time.Millisecond)
}

func TestRelayUnknownDeleteInvalidatesProvider(t *testing.T) {
	loader, src, idx, relay := newScriptedFixture(t, nil)
	warm(t, idx, relay)
	loads := loader.callCount()

	_, err := idx.GetOccupied(context.Background(), testProvider, testDate)
	require.NoError(t, err)
	require.Equal(t, loads, loader.callCount())

	loader.set([]string{"16:00"}, nil)
	src.send(models.BookingChange{Op: models.ChangeDelete, BookingID: "never-seen"})
	assert.Eventually(t, func() bool {
		occ, err := idx.GetOccupied(context.Background(), testProvider, testDate)
		return err == nil && len(occ) == 1 && occ[0] == "16:00"
	}, time.Second, 5*time.Millisecond)
}

func TestColdLoadDoesNotWaitForFeed(t *testing.T) {
	gate := make(chan struct{})
	loader, _, idx, relay := newScriptedFixture(t, gate)
	loader.set([]string{"09:00"}, nil)

	done := make(chan []string, 1)
	go func() {
		occ, err := idx.GetOccupied(context.Background(), testProvider, testDate)
		assert.NoError(t, err)
		done <- occ
	}()
	select {
	case occ := <-done:
		assert.Equal(t, []string{"09:00"}, occ)
	case <-time.After(time.Second):
		t.Fatal("cold load blocked on the feed subscription")
	}
	assert.Equal(t, 0, relay.Watching())
	assert.Equal(t, 1, loader.callCount())

	// Until the feed is live every read goes to the store.
	_, err := idx.GetOccupied(context.Background(), testProvider, testDate)
	require.NoError(t, err)
	assert.Equal(t, 2, loader.callCount())

	close(gate)
	require.Eventually(t, func() bool { return relay.Watching() == 1 }, time.Second, 5*time.Millisecond)
	_, err = idx.GetOccupied(context.Background(), testProvider, testDate)
	require.NoError(t, err)
	_, err = idx.GetOccupied(context.Background(), testProvider, testDate)
	require.NoError(t, err)
	assert.Equal(t, 3, loader.callCount())
}
