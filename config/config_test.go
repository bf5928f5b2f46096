package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.AppPort)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.True(t, cfg.LedgerTransactional)
	assert.EqualValues(t, 50, cfg.BookingCompletedReward)
	assert.Len(t, cfg.SlotLabels(), 9)
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("SLOT_CATALOG", " 08:00, 08:30 ,,09:00")
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("STORE_TIMEOUT", "2s")
	t.Setenv("LEDGER_TRANSACTIONAL", "false")
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"08:00", "08:30", "09:00"}, cfg.SlotLabels())
	assert.Equal(t, 2*time.Second, cfg.StoreTimeout)
	assert.False(t, cfg.LedgerTransactional)
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestValidate(t *testing.T) {
	base := Config{SlotCatalog: DefaultSlotCatalog, Timezone: "Local", JWTSecret: "s3cret"}
	require.NoError(t, base.Validate())

	empty := base
	empty.SlotCatalog = " , "
	assert.Error(t, empty.Validate())

	badZone := base
	badZone.Timezone = "Mars/Olympus_Mons"
	assert.Error(t, badZone.Validate())

	negative := base
	negative.BookingCompletedReward = -1
	assert.Error(t, negative.Validate())

	for _, env := range []string{"development", "production"} {
		noSecret := base
		noSecret.Env = env
		noSecret.JWTSecret = "  "
		assert.Error(t, noSecret.Validate(), env)
	}
}

func TestLoadConfigWithoutSecretFails(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := LoadConfig()
	assert.ErrorContains(t, err, "JWT_SECRET")
}
