package cache

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tryon/pkg/models"
	"github.com/redis/go-redis/v9"
)

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	SetRecordStatus(ctx context.Context, rs RecordStatus, ttl time.Duration) error
	GetRecordStatus(ctx context.Context, recordID uuid.UUID) (RecordStatus, bool, error)
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// RecordStatus is the cached view of a tuning record's lifecycle state. The
// owner is kept alongside so reads can be authorized without the database.
type RecordStatus struct {
	RecordID uuid.UUID
	OwnerID  uuid.UUID
	Status   models.Status
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// SetRecordStatus caches the last observed status of a tuning record so
// status polls can skip the database. The value is "<owner>|<status>".
func (c *RedisCache) SetRecordStatus(ctx context.Context, rs RecordStatus, ttl time.Duration) error {
	return c.client.Set(ctx, RecordStatusKey(rs.RecordID), rs.OwnerID.String()+"|"+string(rs.Status), ttl).Err()
}

func (c *RedisCache) GetRecordStatus(ctx context.Context, recordID uuid.UUID) (RecordStatus, bool, error) {
	val, err := c.client.Get(ctx, RecordStatusKey(recordID)).Result()
	if err == redis.Nil {
		return RecordStatus{}, false, nil
	}
	if err != nil {
		return RecordStatus{}, false, err
	}
	owner, status, ok := strings.Cut(val, "|")
	ownerID, perr := uuid.Parse(owner)
	if !ok || perr != nil || !models.Status(status).Valid() {
		// Unreadable entries are treated as misses.
		return RecordStatus{}, false, nil
	}
	return RecordStatus{RecordID: recordID, OwnerID: ownerID, Status: models.Status(status)}, true, nil
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
