package availability

import (
	"context"

	"wellbook/models"
	"wellbook/services/slots"
)

// View renders a professional's day as the catalog labels, in order, each
// flagged available or not. It reads the cache, so it may lag the store.
func (x *Index) View(ctx context.Context, catalog *slots.Catalog, providerID, date string) ([]models.SlotAvailability, error) {
	occupied, err := x.GetOccupied(ctx, providerID, date)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]bool, len(occupied))
	for _, t := range occupied {
		taken[t] = true
	}

	labels := catalog.Labels()
	out := make([]models.SlotAvailability, 0, len(labels))
	for _, l := range labels {
		out = append(out, models.SlotAvailability{Time: l, Available: !taken[l]})
	}
	return out, nil
}
