package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/shopcore/internal/app"
)

const (
	envHTTPAddr                    = "SHOP_HTTP_ADDR"
	envMetricsAddr                 = "SHOP_METRICS_ADDR"
	envLogLevel                    = "SHOP_LOG_LEVEL"
	envLogFormat                   = "SHOP_LOG_FORMAT"
	envStorageDriver               = "SHOP_STORAGE_DRIVER"
	envPostgresDSN                 = "SHOP_POSTGRES_DSN"
	envPostgresAutoMigrate         = "SHOP_POSTGRES_AUTO_MIGRATE"
	envSeedDemo                    = "SHOP_SEED_DEMO"
	envRedisAddr                   = "SHOP_REDIS_ADDR"
	envCacheTTL                    = "SHOP_CACHE_TTL"
	envKafkaBrokers                = "SHOP_KAFKA_BROKERS"
	envKafkaClientID               = "SHOP_KAFKA_CLIENT_ID"
	envOutboxPollInterval          = "SHOP_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "SHOP_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "SHOP_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "SHOP_OUTBOX_RETRY_DELAY"
	envOutboxMaxAge                = "SHOP_OUTBOX_MAX_AGE"
	envPaymentLatency              = "SHOP_PAYMENT_LATENCY"
	envPaymentFailureRate          = "SHOP_PAYMENT_FAILURE_RATE"
	envPaymentBreakerFailures      = "SHOP_PAYMENT_BREAKER_FAILURES"
	envPaymentBreakerReset         = "SHOP_PAYMENT_BREAKER_RESET"
	envRetryMaxAttempts            = "SHOP_RETRY_MAX_ATTEMPTS"
	envRequestTimeout              = "SHOP_REQUEST_TIMEOUT"
	envIdempotencyTTL              = "SHOP_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "SHOP_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "SHOP_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
)

type envLookup func(string) (string, bool)

// warning — значение переменной окружения, которое не удалось применить.
type warning struct {
	key   string
	value string
	err   error
}

var (
	positiveInt      = func(v int) bool { return v > 0 }
	positiveDuration = func(v time.Duration) bool { return v > 0 }
	nonNegDuration   = func(v time.Duration) bool { return v >= 0 }
)

// readConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректные значения не применяются и возвращаются как предупреждения.
func readConfigFromEnv(lookup envLookup) (app.Config, []warning) {
	cfg := app.DefaultConfig()
	var warnings []warning

	str := func(key string, dst *string, transform func(string) string) {
		if raw, ok := lookup(key); ok {
			if v := transform(raw); v != "" {
				*dst = v
			}
		}
	}
	boolean := func(key string, dst *bool) {
		if raw, ok := lookup(key); ok {
			v, err := parseBool(raw)
			if err != nil {
				warnings = append(warnings, warning{key: key, value: raw, err: err})
				return
			}
			*dst = v
		}
	}
	integer := func(key string, dst *int, valid func(int) bool, msg string) {
		if raw, ok := lookup(key); ok {
			v, err := parseInt(raw, valid, msg)
			if err != nil {
				warnings = append(warnings, warning{key: key, value: raw, err: err})
				return
			}
			*dst = v
		}
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, msg string) {
		if raw, ok := lookup(key); ok {
			v, err := parseDuration(raw, valid, msg)
			if err != nil {
				warnings = append(warnings, warning{key: key, value: raw, err: err})
				return
			}
			*dst = v
		}
	}

	str(envHTTPAddr, &cfg.HTTPAddr, strings.TrimSpace)
	str(envMetricsAddr, &cfg.MetricsAddr, strings.TrimSpace)
	str(envStorageDriver, &cfg.StorageDriver, func(s string) string { return strings.ToLower(strings.TrimSpace(s)) })
	str(envPostgresDSN, &cfg.PostgresDSN, strings.TrimSpace)
	str(envRedisAddr, &cfg.RedisAddr, strings.TrimSpace)
	str(envKafkaBrokers, &cfg.KafkaBrokers, strings.TrimSpace)
	str(envKafkaClientID, &cfg.KafkaClientID, strings.TrimSpace)

	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	boolean(envSeedDemo, &cfg.SeedDemo)

	duration(envCacheTTL, &cfg.CacheTTL, positiveDuration, "must be > 0")
	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positiveInt, "must be > 0")
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positiveInt, "must be > 0")
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegDuration, "must be >= 0")
	duration(envOutboxMaxAge, &cfg.OutboxMaxAge, positiveDuration, "must be > 0")

	duration(envPaymentLatency, &cfg.PaymentLatency, nonNegDuration, "must be >= 0")
	if raw, ok := lookup(envPaymentFailureRate); ok {
		v, err := parseRate(raw)
		if err != nil {
			warnings = append(warnings, warning{key: envPaymentFailureRate, value: raw, err: err})
		} else {
			cfg.PaymentFailureRate = v
		}
	}
	integer(envPaymentBreakerFailures, &cfg.PaymentBreakerFailures, positiveInt, "must be > 0")
	duration(envPaymentBreakerReset, &cfg.PaymentBreakerReset, positiveDuration, "must be > 0")

	integer(envRetryMaxAttempts, &cfg.RetryMaxAttempts, positiveInt, "must be > 0")
	duration(envRequestTimeout, &cfg.RequestTimeout, positiveDuration, "must be > 0")

	duration(envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDuration, "must be > 0")
	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	integer(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positiveInt, "must be > 0")

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, msg string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if !valid(v) {
		return 0, errors.New(msg)
	}
	return v, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, msg string) (time.Duration, error) {
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if !valid(v) {
		return 0, errors.New(msg)
	}
	return v, nil
}

func parseRate(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, err
	}
	if v < 0 || v > 1 {
		return 0, errors.New("must be within [0, 1]")
	}
	return v, nil
}
