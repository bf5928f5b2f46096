package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values.
type Config struct {
	AppPort           string `mapstructure:"APP_PORT"`
	Env               string `mapstructure:"ENV"`
	LogLevel          string `mapstructure:"LOG_LEVEL"`
	JWTSecret         string `mapstructure:"JWT_SECRET"`
	MaxRequestsPerMin int    `mapstructure:"MAX_REQUESTS_PER_MIN"`

	// Mongo configuration.
	DatabaseURL  string        `mapstructure:"DATABASE_URL"`
	DatabaseName string        `mapstructure:"DATABASE_NAME"`
	StoreTimeout time.Duration `mapstructure:"STORE_TIMEOUT"`

	// Redis configuration (task queue + health monitor).
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisQueueDB  int    `mapstructure:"REDIS_QUEUE_DB"`

	// Calendar.
	SlotCatalog string `mapstructure:"SLOT_CATALOG"`
	Timezone    string `mapstructure:"TIMEZONE"`

	// Ledger.
	LedgerTransactional    bool  `mapstructure:"LEDGER_TRANSACTIONAL"`
	BookingCompletedReward int64 `mapstructure:"BOOKING_COMPLETED_REWARD"`

	// Side effects.
	UseTaskQueue        bool          `mapstructure:"USE_TASK_QUEUE"`
	SideEffectTimeout   time.Duration `mapstructure:"SIDE_EFFECT_TIMEOUT"`
	CompletionSweepCron string        `mapstructure:"COMPLETION_SWEEP_CRON"`

	// Firebase service account file; empty disables push delivery.
	FirebaseCredentialsFile string `mapstructure:"FIREBASE_CREDENTIALS_FILE"`
}

// DefaultSlotCatalog is the fixed calendar day: hourly from 09:00 with a lunch gap at 13:00.
const DefaultSlotCatalog = "09:00,10:00,11:00,12:00,14:00,15:00,16:00,17:00,18:00"

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("MAX_REQUESTS_PER_MIN", 100)
	v.SetDefault("DATABASE_URL", "mongodb://localhost:27017")
	v.SetDefault("DATABASE_NAME", "wellbook")
	v.SetDefault("STORE_TIMEOUT", 5*time.Second)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_QUEUE_DB", 3)
	v.SetDefault("SLOT_CATALOG", DefaultSlotCatalog)
	v.SetDefault("TIMEZONE", "Local")
	v.SetDefault("LEDGER_TRANSACTIONAL", true)
	v.SetDefault("BOOKING_COMPLETED_REWARD", 50)
	v.SetDefault("USE_TASK_QUEUE", true)
	v.SetDefault("SIDE_EFFECT_TIMEOUT", 10*time.Second)
	v.SetDefault("COMPLETION_SWEEP_CRON", "@every 15m")
	v.SetDefault("FIREBASE_CREDENTIALS_FILE", "")
}

// LoadConfig reads config.yaml (current dir or ./config), overlays environment
// variables and returns the result.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		log.Println("No config file found, using environment variables only")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the services cannot start with.
func (c *Config) Validate() error {
	if len(c.SlotLabels()) == 0 {
		return errors.New("config: SLOT_CATALOG must list at least one time label")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("config: invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	if c.BookingCompletedReward < 0 {
		return errors.New("config: BOOKING_COMPLETED_REWARD must not be negative")
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("config: JWT_SECRET is required")
	}
	return nil
}

// SlotLabels splits the configured catalog into trimmed labels.
func (c *Config) SlotLabels() []string {
	var labels []string
	for _, l := range strings.Split(c.SlotCatalog, ",") {
		if l = strings.TrimSpace(l); l != "" {
			labels = append(labels, l)
		}
	}
	return labels
}

// Location resolves the fixed local calendar used for date comparisons.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
