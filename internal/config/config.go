package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the API server and the
// settlement runner. Values are loaded from environment variables with sane
// defaults so the binaries can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string

	KafkaBrokers     []string
	KafkaAlertsTopic string

	AlertWebhookURL   string
	AlertWebhookToken string

	PGDSN string

	GoogleMapsAPIKey string
	RoutingCacheTTL  time.Duration

	StripeAPIKey    string
	PaymentCurrency string

	SettlementInterval time.Duration
	SettlementLockTTL  time.Duration
	// SettlerMetricsAddr is where cmd/settler serves /metrics.
	SettlerMetricsAddr string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:           ":8080",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		KafkaAlertsTopic:   "route-alerts",
		RoutingCacheTTL:    6 * time.Hour,
		PaymentCurrency:    "eur",
		SettlementInterval: time.Hour,
		SettlementLockTTL:  30 * time.Minute,
		SettlerMetricsAddr: ":2113",
		LogLevel:           "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaAlertsTopic, "KAFKA_ALERTS_TOPIC")
	cfg.AlertWebhookURL = strings.TrimSpace(os.Getenv("ALERT_WEBHOOK_URL"))
	cfg.AlertWebhookToken = os.Getenv("ALERT_WEBHOOK_TOKEN")

	cfg.PGDSN = os.Getenv("PG_DSN")

	cfg.GoogleMapsAPIKey = strings.TrimSpace(os.Getenv("GOOGLE_MAPS_API_KEY"))
	setDurationFromEnv(&cfg.RoutingCacheTTL, "ROUTING_CACHE_TTL", &errs)

	cfg.StripeAPIKey = strings.TrimSpace(os.Getenv("STRIPE_API_KEY"))
	if v := os.Getenv("PAYMENT_CURRENCY"); v != "" {
		cfg.PaymentCurrency = strings.ToLower(strings.TrimSpace(v))
	}

	setDurationFromEnv(&cfg.SettlementInterval, "SETTLEMENT_INTERVAL", &errs)
	setDurationFromEnv(&cfg.SettlementLockTTL, "SETTLEMENT_LOCK_TTL", &errs)
	setStringFromEnv(&cfg.SettlerMetricsAddr, "SETTLER_METRICS_ADDR")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.SettlementInterval <= 0 {
		errs = append(errs, fmt.Errorf("SETTLEMENT_INTERVAL must be > 0"))
	}
	if cfg.SettlementLockTTL <= 0 {
		errs = append(errs, fmt.Errorf("SETTLEMENT_LOCK_TTL must be > 0"))
	}
	if len(cfg.PaymentCurrency) != 3 {
		errs = append(errs, fmt.Errorf("PAYMENT_CURRENCY must be an ISO 4217 code"))
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig is the configuration of the alert consumer process.
type ConsumerConfig struct {
	MetricsAddr   string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroup    string
	RedisAddr     string
	RedisPassword string
	InboxLimit    int
	LogLevel      string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		MetricsAddr:  ":2112",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "route-alerts",
		KafkaGroup:   "ride-sharing-alerts",
		RedisAddr:    "localhost:6379",
		InboxLimit:   50,
		LogLevel:     "info",
	}
	var errs []error

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_ALERTS_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setIntFromEnv(&cfg.InboxLimit, "ALERT_INBOX_LIMIT", &errs)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must list at least one broker"))
	}
	if cfg.InboxLimit <= 0 {
		errs = append(errs, fmt.Errorf("ALERT_INBOX_LIMIT must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
