package slots

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCatalogOrdersLabels(t *testing.T) {
	c, err := NewCatalog([]string{"14:00", "09:00", "18:00", "10:00"})
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "10:00", "14:00", "18:00"}, c.Labels())
	assert.True(t, c.Contains("14:00"))
	assert.False(t, c.Contains("13:00"))
}

func TestNewCatalogRejectsBadLabels(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
	}{
		{"empty", nil},
		{"not a time", []string{"nine"}},
		{"unpadded", []string{"9:00"}},
		{"duplicate", []string{"09:00", "09:00"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.labels)
			assert.Error(t, err)
		})
	}
}

func TestLabelsReturnsCopy(t *testing.T) {
	c, err := NewCatalog([]string{"09:00", "10:00"})
	require.NoError(t, err)
	labels := c.Labels()
	labels[0] = "23:00"
	assert.Equal(t, "09:00", c.Labels()[0])
}

func TestStartOf(t *testing.T) {
	c, err := NewCatalog([]string{"09:00", "17:30"})
	require.NoError(t, err)
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	start, err := c.StartOf(day, "17:30", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 17, 30, 0, 0, time.UTC), start)

	_, err = c.StartOf(day, "12:00", time.UTC)
	assert.Error(t, err)
}
