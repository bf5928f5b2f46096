package bookingRepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"wellbook/models"
)

// MemoryBookingRepo is an in-process BookingRepository. A single mutex makes
// every write atomic, and change events are published under the same lock so
// subscribers see mutations in commit order.
type MemoryBookingRepo struct {
	mu       sync.Mutex
	byID     map[string]*models.Booking
	occupied map[models.TimeSlot]string
	idem     map[string]string
	subs     map[*memorySubscription]struct{}
	failErr  error
}

func NewMemoryBookingRepo() *MemoryBookingRepo {
	return &MemoryBookingRepo{
		byID:     make(map[string]*models.Booking),
		occupied: make(map[models.TimeSlot]string),
		idem:     make(map[string]string),
		subs:     make(map[*memorySubscription]struct{}),
	}
}

// SetUnavailable makes every subsequent call fail with err until it is called
// again with nil.
func (r *MemoryBookingRepo) SetUnavailable(err error) {
	r.mu.Lock()
	r.failErr = err
	r.mu.Unlock()
}

func (r *MemoryBookingRepo) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.failErr
}

func idemKey(clientID, key string) string {
	return clientID + "\x00" + key
}

func (r *MemoryBookingRepo) InsertIfSlotFree(ctx context.Context, b *models.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(ctx); err != nil {
		return err
	}

	if b.IdempotencyKey != "" {
		if _, ok := r.idem[idemKey(b.ClientID, b.IdempotencyKey)]; ok {
			return ErrDuplicateRequest
		}
	}
	b.OccupiesSlot = b.Status.OccupiesSlot()
	if b.OccupiesSlot {
		if _, taken := r.occupied[b.Slot()]; taken {
			return ErrSlotTaken
		}
		r.occupied[b.Slot()] = b.ID
	}
	if b.IdempotencyKey != "" {
		r.idem[idemKey(b.ClientID, b.IdempotencyKey)] = b.ID
	}

	stored := *b
	r.byID[b.ID] = &stored
	r.publish(models.ChangeInsert, &stored)
	return nil
}

func (r *MemoryBookingRepo) IsSlotOccupied(ctx context.Context, slot models.TimeSlot) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(ctx); err != nil {
		return false, err
	}
	_, taken := r.occupied[slot]
	return taken, nil
}

func (r *MemoryBookingRepo) ListOccupied(ctx context.Context, providerID, date string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(ctx); err != nil {
		return nil, err
	}
	var times []string
	for slot := range r.occupied {
		if slot.ProviderID == providerID && slot.Date == date {
			times = append(times, slot.Time)
		}
	}
	sort.Strings(times)
	return times, nil
}

func (r *MemoryBookingRepo) GetByID(ctx context.Context, id string) (*models.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(ctx); err != nil {
		return nil, err
	}
	b, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *MemoryBookingRepo) GetByIdempotencyKey(ctx context.Context, clientID, key string) (*models.Booking, error) {
	r.mu.Lock()
	id, ok := r.idem[idemKey(clientID, key)]
	r.mu.Unlock()
	if !ok {
		if err := r.check(ctx); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *MemoryBookingRepo) UpdateStatus(ctx context.Context, id string, from []models.BookingStatus, to models.BookingStatus, at time.Time) (*models.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(ctx); err != nil {
		return nil, err
	}

	b, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	matched := false
	for _, s := range from {
		if b.Status == s {
			matched = true
			break
		}
	}
	if !matched {
		return nil, ErrStatusMismatch
	}

	slot := b.Slot()
	if to.OccupiesSlot() && !b.OccupiesSlot {
		if _, taken := r.occupied[slot]; taken {
			return nil, ErrSlotTaken
		}
		r.occupied[slot] = b.ID
	}
	if !to.OccupiesSlot() && b.OccupiesSlot && r.occupied[slot] == b.ID {
		delete(r.occupied, slot)
	}
	b.Status = to
	b.OccupiesSlot = to.OccupiesSlot()
	b.UpdatedAt = at

	r.publish(models.ChangeUpdate, b)
	cp := *b
	return &cp, nil
}

func (r *MemoryBookingRepo) ListByStatusOnOrBefore(ctx context.Context, status models.BookingStatus, date string) ([]models.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(ctx); err != nil {
		return nil, err
	}
	var out []models.Booking
	for _, b := range r.byID {
		if b.Status == status && b.Date <= date {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Time < out[j].Time
	})
	return out, nil
}

// Subscribe registers a feed for one professional.
func (r *MemoryBookingRepo) Subscribe(ctx context.Context, providerID string) (Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(ctx); err != nil {
		return nil, err
	}
	sub := &memorySubscription{
		repo:       r,
		providerID: providerID,
		events:     make(chan models.BookingChange, feedBuffer),
	}
	r.subs[sub] = struct{}{}
	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()
	return sub, nil
}

// DisconnectAll ends every live subscription with err, as a dropped
// connection would.
func (r *MemoryBookingRepo) DisconnectAll(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sub := range r.subs {
		r.dropLocked(sub, err)
	}
}

// publish must be called with r.mu held. A subscriber whose buffer is full is
// dropped with ErrSubscriptionLagging; its consumer falls back to a reload.
func (r *MemoryBookingRepo) publish(op models.BookingChangeOp, b *models.Booking) {
	for sub := range r.subs {
		if sub.providerID != b.ProviderID {
			continue
		}
		cp := *b
		r.sendLocked(sub, models.BookingChange{Op: op, BookingID: b.ID, Booking: &cp})
	}
}

func (r *MemoryBookingRepo) sendLocked(sub *memorySubscription, change models.BookingChange) {
	select {
	case sub.events <- change:
	default:
		r.dropLocked(sub, ErrSubscriptionLagging)
	}
}

// Delete removes a booking row outright, as an operator purge would. The
// delete event carries only the booking id and reaches the owning
// professional's feeds.
func (r *MemoryBookingRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(ctx); err != nil {
		return err
	}
	b, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(r.byID, id)
	if r.occupied[b.Slot()] == id {
		delete(r.occupied, b.Slot())
	}
	if b.IdempotencyKey != "" {
		delete(r.idem, idemKey(b.ClientID, b.IdempotencyKey))
	}
	for sub := range r.subs {
		if sub.providerID == b.ProviderID {
			r.sendLocked(sub, models.BookingChange{Op: models.ChangeDelete, BookingID: id})
		}
	}
	return nil
}

func (r *MemoryBookingRepo) dropLocked(sub *memorySubscription, err error) {
	if _, ok := r.subs[sub]; !ok {
		return
	}
	delete(r.subs, sub)
	sub.err = err
	close(sub.events)
}

type memorySubscription struct {
	repo       *MemoryBookingRepo
	providerID string
	events     chan models.BookingChange
	err        error // guarded by repo.mu
}

func (s *memorySubscription) Events() <-chan models.BookingChange { return s.events }

func (s *memorySubscription) Err() error {
	s.repo.mu.Lock()
	defer s.repo.mu.Unlock()
	return s.err
}

func (s *memorySubscription) Close() error {
	s.repo.mu.Lock()
	defer s.repo.mu.Unlock()
	s.repo.dropLocked(s, nil)
	return nil
}
