package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"oauth-service/internal/models"
)

// Cache abstracts the Redis-backed fast path: client/scope lookups, abuse
// counters, device polling throttles, and the access-token revocation list.
type Cache interface {
	Close() error

	GetClient(ctx context.Context, clientID string) (*models.Client, error)
	SetClient(ctx context.Context, client *models.Client, ttl time.Duration) error

	GetScopeCatalog(ctx context.Context) ([]models.Scope, error)
	SetScopeCatalog(ctx context.Context, scopes []models.Scope, ttl time.Duration) error

	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	ReserveDevicePoll(ctx context.Context, deviceCode string, interval time.Duration) (bool, error)

	RevokeJTI(ctx context.Context, jti string, ttl time.Duration) error
	IsJTIRevoked(ctx context.Context, jti string) (bool, error)
}

// RedisCache implements Cache on go-redis.
type RedisCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCache connects to Redis and returns a cache instance.
func NewCache(redisURL string, logger *zap.Logger) (*RedisCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisCache{
		client: client,
		logger: logger,
	}, nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// GetClient retrieves client metadata from cache. Returns (nil, nil) on a
// cache miss.
func (c *RedisCache) GetClient(ctx context.Context, clientID string) (*models.Client, error) {
	key := "client:" + clientID
	data, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		c.logger.Error("Failed to get client from cache", zap.String("client_id", clientID), zap.Error(err))
		return nil, err
	}

	var client models.Client
	if err := json.Unmarshal([]byte(data), &client); err != nil {
		c.logger.Error("Failed to unmarshal client data", zap.Error(err))
		return nil, err
	}

	return &client, nil
}

// SetClient stores client metadata in cache.
func (c *RedisCache) SetClient(ctx context.Context, client *models.Client, ttl time.Duration) error {
	key := "client:" + client.ClientID
	data, err := json.Marshal(client)
	if err != nil {
		return err
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.Error("Failed to set client in cache", zap.String("client_id", client.ClientID), zap.Error(err))
		return err
	}

	return nil
}

// GetScopeCatalog retrieves the cached scope catalog. Returns (nil, nil) on
// a cache miss.
func (c *RedisCache) GetScopeCatalog(ctx context.Context) ([]models.Scope, error) {
	data, err := c.client.Get(ctx, "scope_catalog").Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		c.logger.Error("Failed to get scope catalog from cache", zap.Error(err))
		return nil, err
	}

	var scopes []models.Scope
	if err := json.Unmarshal([]byte(data), &scopes); err != nil {
		c.logger.Error("Failed to unmarshal scope catalog", zap.Error(err))
		return nil, err
	}

	return scopes, nil
}

// SetScopeCatalog caches the scope catalog.
func (c *RedisCache) SetScopeCatalog(ctx context.Context, scopes []models.Scope, ttl time.Duration) error {
	data, err := json.Marshal(scopes)
	if err != nil {
		return err
	}

	if err := c.client.Set(ctx, "scope_catalog", data, ttl).Err(); err != nil {
		c.logger.Error("Failed to set scope catalog in cache", zap.Error(err))
		return err
	}

	return nil
}

// CheckRateLimit increments a fixed-window counter and reports whether the
// limit is exceeded. Used for per-client token requests and per-IP device
// verification attempts.
func (c *RedisCache) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	redisKey := "rate_limit:" + key
	count, err := c.client.Incr(ctx, redisKey).Result()
	if err != nil {
		c.logger.Error("Failed to increment rate limit counter", zap.String("key", key), zap.Error(err))
		return false, err
	}

	// Set expiration on first request
	if count == 1 {
		if err := c.client.Expire(ctx, redisKey, window).Err(); err != nil {
			c.logger.Error("Failed to set rate limit expiration", zap.Error(err))
		}
	}

	return count > int64(limit), nil
}

// ReserveDevicePoll claims the polling slot for a device code. The
// reservation lives for the advertised interval; a second poll inside the
// window observes the existing key and must be answered with slow_down.
func (c *RedisCache) ReserveDevicePoll(ctx context.Context, deviceCode string, interval time.Duration) (bool, error) {
	key := "device_poll:" + deviceCode
	ok, err := c.client.SetNX(ctx, key, "1", interval).Result()
	if err != nil {
		c.logger.Error("Failed to reserve device poll slot", zap.Error(err))
		return false, err
	}
	return ok, nil
}

// RevokeJTI adds an access token's jti to the revocation list for the
// remaining token lifetime.
func (c *RedisCache) RevokeJTI(ctx context.Context, jti string, ttl time.Duration) error {
	key := "revoked:jti:" + jti
	if err := c.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		c.logger.Error("Failed to revoke token", zap.String("jti", jti), zap.Error(err))
		return err
	}
	return nil
}

// IsJTIRevoked checks whether an access token's jti is revoked.
func (c *RedisCache) IsJTIRevoked(ctx context.Context, jti string) (bool, error) {
	key := "revoked:jti:" + jti
	exists, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		c.logger.Error("Failed to check token revocation", zap.String("jti", jti), zap.Error(err))
		return false, err
	}
	return exists > 0, nil
}
