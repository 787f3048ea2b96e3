package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromDefaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, StorageSQLite, cfg.StorageDriver)
	assert.Equal(t, "tallybook.db", cfg.SQLitePath)
	assert.Equal(t, 2*time.Second, cfg.LockTimeout)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, 500*time.Millisecond, cfg.RedisTimeout)
	assert.Equal(t, 2*time.Second, cfg.NotifyTimeout)
	assert.Equal(t, NotifierLog, cfg.Notifier)
	assert.Equal(t, ":8080", cfg.Address())
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadFromOverrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"APP_ENV":        "production",
		"STORAGE_DRIVER": "Postgres",
		"DATABASE_URL":   "postgres://ledger@db/ledger",
		"REDIS_URL":      "redis://cache:6379/0",
		"LOCK_TIMEOUT":   "750ms",
		"NOTIFIER":       "kafka",
		"KAFKA_BROKERS":  "k1:9092,k2:9092",
		"LOG_LEVEL":      "DEBUG",
		"PORT":           ":9000",
	})
	require.NoError(t, err)

	assert.Equal(t, StoragePostgres, cfg.StorageDriver)
	assert.Equal(t, 750*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9000", cfg.Address())
	assert.False(t, cfg.IsDevelopment())
}

func TestLoadFromRejects(t *testing.T) {
	cases := map[string]map[string]string{
		"postgres without url":     {"STORAGE_DRIVER": "postgres"},
		"unknown driver":           {"STORAGE_DRIVER": "mysql"},
		"kafka without brokers":    {"NOTIFIER": "kafka"},
		"rabbit without url":       {"NOTIFIER": "rabbitmq"},
		"unknown notifier":         {"NOTIFIER": "pigeon"},
		"production without redis": {"APP_ENV": "production"},
		"bad duration":             {"LOCK_TIMEOUT": "soon"},
		"zero lock timeout":        {"LOCK_TIMEOUT": "0s"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFrom(vars)
			assert.Error(t, err)
		})
	}
}
