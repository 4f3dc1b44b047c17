package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfig_Defaults(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("SETTLEMENT_INTERVAL", "")
	t.Setenv("PAYMENT_CURRENCY", "")

	cfg, err := LoadServerConfig()

	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "eur", cfg.PaymentCurrency)
	assert.Equal(t, time.Hour, cfg.SettlementInterval)
	assert.Equal(t, "route-alerts", cfg.KafkaAlertsTopic)
}

func TestLoadServerConfig_Overrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("PAYMENT_CURRENCY", "USD")
	t.Setenv("SETTLEMENT_INTERVAL", "15m")
	t.Setenv("MIGRATE", "TRUE")

	cfg, err := LoadServerConfig()

	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "usd", cfg.PaymentCurrency)
	assert.Equal(t, 15*time.Minute, cfg.SettlementInterval)
	assert.True(t, cfg.RunMigrations)
}

func TestLoadServerConfig_JoinsErrors(t *testing.T) {
	t.Setenv("HTTP_READ_TIMEOUT", "soon")
	t.Setenv("SETTLEMENT_INTERVAL", "0s")
	t.Setenv("PAYMENT_CURRENCY", "euro")

	_, err := LoadServerConfig()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP_READ_TIMEOUT")
	assert.Contains(t, err.Error(), "SETTLEMENT_INTERVAL")
	assert.Contains(t, err.Error(), "PAYMENT_CURRENCY")
}

func TestLoadConsumerConfig_InvalidLimit(t *testing.T) {
	t.Setenv("ALERT_INBOX_LIMIT", "-1")

	_, err := LoadConsumerConfig()

	assert.ErrorContains(t, err, "ALERT_INBOX_LIMIT")
}
