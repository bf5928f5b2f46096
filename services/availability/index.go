// Package availability keeps a per-(professional, date) cache of occupied
// time labels warm from the booking change feed.
//
// The cache is advisory. The reservation engine re-validates against the
// store at commit time, so a stale read here only affects what the calendar
// shows.
package availability

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"wellbook/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// OccupancyLoader reads the authoritative occupied set for one calendar day.
type OccupancyLoader interface {
	ListOccupied(ctx context.Context, providerID, date string) ([]string, error)
}

// Tracker keeps a change feed subscription alive for a professional. Track
// reports whether events for providerID already reach the index; it must not
// block on the store.
type Tracker interface {
	Track(providerID string) bool
}

type cacheKey struct {
	providerID string
	date       string
}

type opKind int

const (
	opInsert opKind = iota
	opRemove
)

type pendingOp struct {
	kind opKind
	time string
}

type entry struct {
	occupied map[string]struct{}
	loaded   bool
	stale    bool
	loading  bool
	gen      uint64
	// pending records mutations that arrive while a reload is in flight; they
	// are replayed over the reloaded set so nothing committed after the read
	// started is lost.
	pending []pendingOp
}

// Index is the Availability Index. Mutators are idempotent so at-least-once
// delivery from the feed is harmless.
type Index struct {
	loader  OccupancyLoader
	logger  *zap.Logger
	timeout time.Duration

	group singleflight.Group

	mu      sync.Mutex
	entries map[cacheKey]*entry
	tracker Tracker
}

// NewIndex creates an empty index. timeout bounds a reload to one store round trip.
func NewIndex(loader OccupancyLoader, logger *zap.Logger, timeout time.Duration) *Index {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Index{
		loader:  loader,
		logger:  logger,
		timeout: timeout,
		entries: make(map[cacheKey]*entry),
	}
}

// AttachTracker wires the relay that keeps entries warm. Without a tracker,
// loaded entries stay fresh until invalidated explicitly.
func (x *Index) AttachTracker(t Tracker) {
	x.mu.Lock()
	x.tracker = t
	x.mu.Unlock()
}

// GetOccupied returns the occupied labels for a professional's day, sorted.
// A missing or stale entry triggers one reload from the store; if that reload
// fails, the last known value is returned instead of an error.
func (x *Index) GetOccupied(ctx context.Context, providerID, date string) ([]string, error) {
	key := cacheKey{providerID: providerID, date: date}

	x.mu.Lock()
	if e, ok := x.entries[key]; ok && e.loaded && !e.stale {
		out := sortedLabels(e.occupied)
		x.mu.Unlock()
		metrics.AvailabilityCacheTotal.WithLabelValues("hit").Inc()
		return out, nil
	}
	x.mu.Unlock()

	v, err, _ := x.group.Do(providerID+"|"+date, func() (interface{}, error) {
		return x.reload(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	labels := v.([]string)
	out := make([]string, len(labels))
	copy(out, labels)
	return out, nil
}

func (x *Index) reload(ctx context.Context, key cacheKey) ([]string, error) {
	x.mu.Lock()
	e, ok := x.entries[key]
	if ok && e.loaded && !e.stale {
		// A load finished between the caller's cache check and this flight.
		out := sortedLabels(e.occupied)
		x.mu.Unlock()
		return out, nil
	}
	if !ok {
		e = &entry{occupied: make(map[string]struct{})}
		x.entries[key] = e
	}
	e.loading = true
	e.pending = nil
	gen := e.gen
	tracker := x.tracker
	x.mu.Unlock()

	// Only a feed that was live before the read starts covers commits made
	// during it; otherwise the entry stays stale and a later read reloads.
	tracked := tracker == nil || tracker.Track(key.providerID)

	// The flight is shared, so one caller giving up must not fail the others.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), x.timeout)
	defer cancel()
	times, err := x.loader.ListOccupied(ctx, key.providerID, key.date)

	x.mu.Lock()
	defer x.mu.Unlock()
	e.loading = false

	if err != nil {
		e.pending = nil
		if e.loaded {
			x.logger.Warn("availability reload failed, serving stale occupied set",
				zap.String("provider_id", key.providerID), zap.String("date", key.date), zap.Error(err))
			metrics.AvailabilityCacheTotal.WithLabelValues("stale").Inc()
			return sortedLabels(e.occupied), nil
		}
		delete(x.entries, key)
		x.logger.Error("availability load failed",
			zap.String("provider_id", key.providerID), zap.String("date", key.date), zap.Error(err))
		return nil, fmt.Errorf("load occupied slots: %w", err)
	}

	occupied := make(map[string]struct{}, len(times))
	for _, t := range times {
		occupied[t] = struct{}{}
	}
	for _, op := range e.pending {
		applyOp(occupied, op)
	}
	e.pending = nil
	e.occupied = occupied
	e.loaded = true
	e.stale = !tracked || e.gen != gen

	metrics.AvailabilityCacheTotal.WithLabelValues("reload").Inc()
	return sortedLabels(occupied), nil
}

// ApplyInsert marks a label occupied. Adding a present label is a no-op, as
// is an event for a day nobody has loaded (the first read will load it).
func (x *Index) ApplyInsert(providerID, date, time string) {
	x.apply(cacheKey{providerID: providerID, date: date}, pendingOp{kind: opInsert, time: time})
}

// ApplyRemoval frees a label. Removing an absent label is a no-op.
func (x *Index) ApplyRemoval(providerID, date, time string) {
	x.apply(cacheKey{providerID: providerID, date: date}, pendingOp{kind: opRemove, time: time})
}

func (x *Index) apply(key cacheKey, op pendingOp) {
	x.mu.Lock()
	defer x.mu.Unlock()
	e, ok := x.entries[key]
	if !ok {
		return
	}
	if e.loading {
		e.pending = append(e.pending, op)
	}
	if e.loaded {
		applyOp(e.occupied, op)
	}
}

func applyOp(set map[string]struct{}, op pendingOp) {
	switch op.kind {
	case opInsert:
		set[op.time] = struct{}{}
	case opRemove:
		delete(set, op.time)
	}
}

// InvalidateProvider marks every cached day of a professional stale; the next
// read reloads it.
func (x *Index) InvalidateProvider(providerID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for key, e := range x.entries {
		if key.providerID == providerID {
			e.stale = true
			e.gen++
		}
	}
}

// Invalidate marks one cached day stale.
func (x *Index) Invalidate(providerID, date string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if e, ok := x.entries[cacheKey{providerID: providerID, date: date}]; ok {
		e.stale = true
		e.gen++
	}
}

// Cached returns the cached set without loading, and whether one exists.
func (x *Index) Cached(providerID, date string) ([]string, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	e, ok := x.entries[cacheKey{providerID: providerID, date: date}]
	if !ok || !e.loaded {
		return nil, false
	}
	return sortedLabels(e.occupied), true
}

func sortedLabels(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
