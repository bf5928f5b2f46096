package availability

import (
	"context"
	"errors"
	"sync"

	bookingRepo "wellbook/database/repository/booking"
	"wellbook/metrics"
	"wellbook/models"

	"go.uber.org/zap"
)

const relayBuffer = 256

// relayMsg is what subscription pumps hand to the applier. A nil change with
// disconnected set tells the applier the provider's feed ended.
type relayMsg struct {
	providerID   string
	change       *models.BookingChange
	disconnected bool
}

// Relay forwards booking mutations from per-provider change feeds into the
// Index. Every feed is pumped by its own goroutine onto one channel, and a
// single applier goroutine performs all cache mutations.
//
// A slot can be touched by several bookings over time (cancel then rebook), so
// the applier tracks which bookings currently hold each slot and only frees
// the label once no holder is left.
type Relay struct {
	source bookingRepo.ChangeSource
	index  *Index
	logger *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	watches map[string]bookingRepo.Subscription
	opening map[string]struct{}
	msgs    chan relayMsg
	done    chan struct{}

	// Owned by the applier goroutine.
	holders      map[models.TimeSlot]map[string]struct{}
	bookingSlots map[string]models.TimeSlot
}

func NewRelay(source bookingRepo.ChangeSource, index *Index, logger *zap.Logger) *Relay {
	return &Relay{
		source:       source,
		index:        index,
		logger:       logger,
		watches:      make(map[string]bookingRepo.Subscription),
		opening:      make(map[string]struct{}),
		msgs:         make(chan relayMsg, relayBuffer),
		holders:      make(map[models.TimeSlot]map[string]struct{}),
		bookingSlots: make(map[string]models.TimeSlot),
	}
}

// Start launches the applier and attaches the relay to its index. Feeds are
// opened lazily, the first time the index loads a professional's calendar.
func (r *Relay) Start(ctx context.Context) {
	r.mu.Lock()
	if r.ctx != nil {
		r.mu.Unlock()
		return
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	r.mu.Unlock()

	r.index.AttachTracker(r)
	go r.apply()
}

// Stop closes every feed and waits for the applier to exit.
func (r *Relay) Stop() {
	r.mu.Lock()
	if r.cancel == nil {
		r.mu.Unlock()
		return
	}
	r.cancel()
	for id, sub := range r.watches {
		_ = sub.Close()
		delete(r.watches, id)
	}
	done := r.done
	r.mu.Unlock()
	<-done
}

// Track reports whether a feed for providerID is live. It never waits on the
// store: when no feed is open it starts one in the background and returns
// false, so the caller treats what it reads as stale until a later Track
// returns true.
func (r *Relay) Track(providerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx == nil || r.ctx.Err() != nil {
		return false
	}
	if _, live := r.watches[providerID]; live {
		return true
	}
	if _, pending := r.opening[providerID]; !pending {
		r.opening[providerID] = struct{}{}
		go r.subscribe(r.ctx, providerID)
	}
	return false
}

func (r *Relay) subscribe(ctx context.Context, providerID string) {
	sub, err := r.source.Subscribe(ctx, providerID)

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.opening, providerID)
	if err != nil {
		metrics.RelayReconnectsTotal.WithLabelValues("subscribe_failed").Inc()
		r.logger.Warn("change feed subscribe failed",
			zap.String("provider_id", providerID), zap.Error(err))
		return
	}
	if ctx.Err() != nil {
		_ = sub.Close()
		return
	}
	r.watches[providerID] = sub
	go r.pump(ctx, providerID, sub)
}

// pump copies one feed onto the shared channel. When the feed ends it
// unregisters the watch, so the next cache reload resubscribes.
func (r *Relay) pump(ctx context.Context, providerID string, sub bookingRepo.Subscription) {
	for ev := range sub.Events() {
		ev := ev
		select {
		case r.msgs <- relayMsg{providerID: providerID, change: &ev}:
		case <-ctx.Done():
			return
		}
	}

	r.mu.Lock()
	if r.watches[providerID] == sub {
		delete(r.watches, providerID)
	}
	r.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	err := sub.Err()
	reason := "closed"
	if errors.Is(err, bookingRepo.ErrSubscriptionLagging) {
		reason = "lagging"
	} else if err != nil {
		reason = "error"
	}
	metrics.RelayReconnectsTotal.WithLabelValues(reason).Inc()
	r.logger.Warn("change feed disconnected, invalidating cached availability",
		zap.String("provider_id", providerID), zap.Error(err))

	select {
	case r.msgs <- relayMsg{providerID: providerID, disconnected: true}:
	case <-ctx.Done():
	}
}

func (r *Relay) apply() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			return
		case msg := <-r.msgs:
			r.handle(msg)
		}
	}
}

func (r *Relay) handle(msg relayMsg) {
	if msg.disconnected {
		r.forgetProvider(msg.providerID)
		r.index.InvalidateProvider(msg.providerID)
		return
	}

	ev := msg.change
	metrics.RelayEventsTotal.WithLabelValues(string(ev.Op)).Inc()

	if ev.Booking == nil {
		slot, known := r.bookingSlots[ev.BookingID]
		if !known {
			// A delete for a booking we never saw: the slot is unknown.
			r.index.InvalidateProvider(msg.providerID)
			return
		}
		delete(r.bookingSlots, ev.BookingID)
		r.release(slot, ev.BookingID)
		return
	}

	b := ev.Booking
	slot := b.Slot()
	if prev, ok := r.bookingSlots[b.ID]; ok && prev != slot {
		r.release(prev, b.ID)
	}
	r.bookingSlots[b.ID] = slot

	if b.Status.OccupiesSlot() {
		set, ok := r.holders[slot]
		if !ok {
			set = make(map[string]struct{})
			r.holders[slot] = set
		}
		set[b.ID] = struct{}{}
		r.index.ApplyInsert(slot.ProviderID, slot.Date, slot.Time)
		return
	}
	r.release(slot, b.ID)
}

func (r *Relay) release(slot models.TimeSlot, bookingID string) {
	set := r.holders[slot]
	delete(set, bookingID)
	if len(set) > 0 {
		return
	}
	delete(r.holders, slot)
	r.index.ApplyRemoval(slot.ProviderID, slot.Date, slot.Time)
}

func (r *Relay) forgetProvider(providerID string) {
	for slot := range r.holders {
		if slot.ProviderID == providerID {
			delete(r.holders, slot)
		}
	}
	for id, slot := range r.bookingSlots {
		if slot.ProviderID == providerID {
			delete(r.bookingSlots, id)
		}
	}
}

// Watching reports how many provider feeds are open.
func (r *Relay) Watching() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watches)
}
