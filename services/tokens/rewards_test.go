package tokens

import (
	"context"
	"testing"
	"time"

	bookingRepo "wellbook/database/repository/booking"
	ledgerRepo "wellbook/database/repository/ledger"
	serviceRepo "wellbook/database/repository/service"
	"wellbook/models"
	"wellbook/services/booking"
	"wellbook/services/events"
	"wellbook/services/slots"
	"wellbook/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRewardHandlerCreditsOncePerBooking(t *testing.T) {
	l, _ := newLedger(true, "client-a")
	handler := RewardHandler(l, 50)
	ev := events.NewEvent(models.EventBookingCompleted,
		models.Booking{ID: "b-1", ClientID: "client-a", Date: "2025-06-01", Time: "09:00"},
		models.SystemActor, time.Now())

	require.NoError(t, handler(context.Background(), ev))
	// Redelivery of the same event, as the queue may do.
	require.NoError(t, handler(context.Background(), ev))

	bal, err := l.Balance(context.Background(), "client-a")
	require.NoError(t, err)
	assert.EqualValues(t, 50, bal)

	created := events.NewEvent(models.EventBookingCreated, ev.Booking, "client-a", time.Now())
	require.NoError(t, handler(context.Background(), created))
	bal, err = l.Balance(context.Background(), "client-a")
	require.NoError(t, err)
	assert.EqualValues(t, 50, bal)
}

func TestAwardMissionOncePerMission(t *testing.T) {
	l, _ := newLedger(true, "u1")
	ctx := context.Background()

	_, err := l.AwardMission(ctx, "u1", "first-booking", 25)
	require.NoError(t, err)
	again, err := l.AwardMission(ctx, "u1", "first-booking", 25)
	require.NoError(t, err)
	assert.True(t, again.Replayed)

	_, err = l.AwardMission(ctx, "u1", " ", 25)
	var ve *models.ValidationError
	assert.ErrorAs(t, err, &ve)

	bal, err := l.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 25, bal)
}

// Professional P has 09:00 and 10:00 free on 2025-06-01. A books 09:00, B
// loses the race for it and books 10:00, and completing A's booking credits
// A with 50 tokens in exactly one ledger row.
func TestBookingCompletionRewardScenario(t *testing.T) {
	ctx := context.Background()
	catalog, err := slots.NewCatalog([]string{"09:00", "10:00"})
	require.NoError(t, err)
	clock := utils.NewFixedClock(time.Date(2025, 5, 31, 18, 0, 0, 0, time.UTC))

	ledgerStore := ledgerRepo.NewMemoryLedgerRepo(true, "client-a", "client-b")
	ledger := NewLedger(ledgerStore, clock, zap.NewNop())

	router := events.NewRouter(zap.NewNop(), time.Second)
	router.Handle("token-reward", RewardHandler(ledger, 50), models.EventBookingCompleted)
	publisher := events.NewAsyncPublisher(router, zap.NewNop())

	engine := booking.NewEngine(booking.EngineConfig{
		Bookings: bookingRepo.NewMemoryBookingRepo(),
		Services: serviceRepo.NewMemoryServiceRepo(models.Service{
			ID: "svc-1", ProviderID: "P", Price: 60, Active: true,
		}),
		Catalog:   catalog,
		Clock:     clock,
		Location:  time.UTC,
		Publisher: publisher,
		Logger:    zap.NewNop(),
	})

	req := func(client, label string) booking.ReserveRequest {
		return booking.ReserveRequest{ProviderID: "P", ClientID: client, ServiceID: "svc-1", Date: "2025-06-01", Time: label}
	}

	a, err := engine.Reserve(ctx, req("client-a", "09:00"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, a.Booking.Status)

	_, err = engine.Reserve(ctx, req("client-b", "09:00"))
	var ce *models.ConflictError
	require.ErrorAs(t, err, &ce)
	occupied, err := engine.Occupied(ctx, "P", "2025-06-01")
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00"}, occupied)

	_, err = engine.Reserve(ctx, req("client-b", "10:00"))
	require.NoError(t, err)

	_, err = engine.Confirm(ctx, a.Booking.ID, "P")
	require.NoError(t, err)
	_, err = engine.Complete(ctx, a.Booking.ID, "P")
	require.NoError(t, err)
	publisher.Close()

	txs, err := ledger.Transactions(ctx, "client-a", 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.EqualValues(t, 0, txs[0].BalanceBefore)
	assert.EqualValues(t, 50, txs[0].BalanceAfter)
	assert.Equal(t, models.TxEarn, txs[0].Type)

	bal, err := ledger.Balance(ctx, "client-a")
	require.NoError(t, err)
	assert.EqualValues(t, 50, bal)
}
