package app

import "time"

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска shop-service. Все поля скалярные,
// поэтому конфигурации можно сравнивать через ==.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	SeedDemo            bool

	RedisAddr string
	CacheTTL  time.Duration

	KafkaBrokers  string
	KafkaClientID string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	OutboxMaxAge       time.Duration

	PaymentLatency         time.Duration
	PaymentFailureRate     float64
	PaymentBreakerFailures int
	PaymentBreakerReset    time.Duration

	RetryMaxAttempts int
	RequestTimeout   time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
}

// DefaultConfig возвращает настройки для локального запуска на in-memory хранилище.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		SeedDemo:            true,

		CacheTTL: 30 * time.Second,

		KafkaClientID: "shop-service",

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   100 * time.Millisecond,
		OutboxMaxAge:       5 * time.Minute,

		PaymentLatency:         2 * time.Second,
		PaymentFailureRate:     0.1,
		PaymentBreakerFailures: 5,
		PaymentBreakerReset:    30 * time.Second,

		RetryMaxAttempts: 5,
		RequestTimeout:   10 * time.Second,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
	}
}
