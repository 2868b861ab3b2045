package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseIfOwnedScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// RedisConfig holds connection settings for the Redis claimer.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisClient opens a client and checks the connection.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     20,
		MinIdleConns: 2,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// RedisClaimer implements domain.Claimer with SET NX so claims are shared by
// every instance using the same Redis.
type RedisClaimer struct {
	client    *redis.Client
	keyPrefix string
	owner     string
}

// NewRedisClaimer wraps client. Keys are namespaced with keyPrefix.
func NewRedisClaimer(client *redis.Client, keyPrefix string) *RedisClaimer {
	return &RedisClaimer{
		client:    client,
		keyPrefix: keyPrefix,
		owner:     uuid.NewString(),
	}
}

func (c *RedisClaimer) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.keyPrefix+key, c.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis claim %s: %w", key, err)
	}
	return ok, nil
}

// Release drops the claim only when this instance holds it.
func (c *RedisClaimer) Release(ctx context.Context, key string) error {
	if err := releaseIfOwnedScript.Run(ctx, c.client, []string{c.keyPrefix + key}, c.owner).Err(); err != nil {
		return fmt.Errorf("redis release %s: %w", key, err)
	}
	return nil
}
