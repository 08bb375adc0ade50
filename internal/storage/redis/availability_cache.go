// Package redis содержит Redis-реализацию кеша доступного остатка.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

const (
	defaultKeyPrefix = "shop:available:"
	defaultOpTimeout = 500 * time.Millisecond
)

// Config описывает подключение к Redis.
type Config struct {
	Addr      string
	Password  string
	DB        int
	TTL       time.Duration
	KeyPrefix string
}

// AvailabilityCache хранит доступный остаток товара в Redis с TTL.
type AvailabilityCache struct {
	client *goredis.Client
	ttl    time.Duration
	prefix string
}

// NewClient создаёт клиента и проверяет соединение PING-ом.
func NewClient(ctx context.Context, cfg Config) (*goredis.Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewAvailabilityCache оборачивает готового клиента; ttl <= 0 означает хранение без срока.
func NewAvailabilityCache(client *goredis.Client, ttl time.Duration, prefix string) *AvailabilityCache {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &AvailabilityCache{client: client, ttl: ttl, prefix: prefix}
}

func (c *AvailabilityCache) key(productID string) string {
	return c.prefix + productID
}

func (c *AvailabilityCache) Get(ctx context.Context, productID string) (int64, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	raw, err := c.client.Get(ctx, c.key(productID)).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis get availability: %w", err)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse cached availability %q: %w", raw, err)
	}
	return v, true, nil
}

func (c *AvailabilityCache) Set(ctx context.Context, productID string, available int64) error {
	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	ttl := c.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, c.key(productID), available, ttl).Err(); err != nil {
		return fmt.Errorf("redis set availability: %w", err)
	}
	return nil
}

func (c *AvailabilityCache) Invalidate(ctx context.Context, productID string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	if err := c.client.Del(ctx, c.key(productID)).Err(); err != nil {
		return fmt.Errorf("redis delete availability: %w", err)
	}
	return nil
}

// Ping используется health-проверкой.
func (c *AvailabilityCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

var _ domain.AvailabilityCache = (*AvailabilityCache)(nil)
