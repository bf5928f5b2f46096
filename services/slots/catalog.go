// Package slots holds the fixed catalog of bookable time labels for a
// professional's calendar day.
package slots

import (
	"fmt"
	"sort"
	"time"
)

const labelLayout = "15:04"

// Catalog is an ordered, read-only list of "HH:MM" labels. Every professional
// shares the same catalog.
type Catalog struct {
	labels []string
	index  map[string]int
}

// NewCatalog validates labels and orders them chronologically. Zero-padded
// "HH:MM" labels sort the same lexically and chronologically.
func NewCatalog(labels []string) (*Catalog, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("slot catalog is empty")
	}
	c := &Catalog{index: make(map[string]int, len(labels))}
	for _, l := range labels {
		t, err := time.Parse(labelLayout, l)
		if err != nil || t.Format(labelLayout) != l {
			return nil, fmt.Errorf("invalid slot label %q: want HH:MM", l)
		}
		if _, dup := c.index[l]; dup {
			return nil, fmt.Errorf("duplicate slot label %q", l)
		}
		c.index[l] = 0
		c.labels = append(c.labels, l)
	}
	sort.Strings(c.labels)
	for i, l := range c.labels {
		c.index[l] = i
	}
	return c, nil
}

// Labels returns a copy of the ordered labels.
func (c *Catalog) Labels() []string {
	out := make([]string, len(c.labels))
	copy(out, c.labels)
	return out
}

func (c *Catalog) Contains(label string) bool {
	_, ok := c.index[label]
	return ok
}

// StartOf returns the instant the labelled slot begins on date, in loc.
func (c *Catalog) StartOf(date time.Time, label string, loc *time.Location) (time.Time, error) {
	if !c.Contains(label) {
		return time.Time{}, fmt.Errorf("unknown slot label %q", label)
	}
	t, _ := time.Parse(labelLayout, label)
	y, m, d := date.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, loc), nil
}
