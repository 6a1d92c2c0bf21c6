package directory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrPassNotFound is returned when a connection pass is absent, expired or
// already redeemed.
var ErrPassNotFound = errors.New("connection pass not found")

// Directory tracks one-time connection passes and the set of shard processes
// currently holding a live connection per user.
type Directory interface {
	StorePass(ctx context.Context, pass string, userID int, ttl time.Duration) error
	RedeemPass(ctx context.Context, pass string) (int, error)
	AddShard(ctx context.Context, userID int, processID string) error
	RemoveShard(ctx context.Context, userID int, processID string) error
	Close() error
}

// RedisDirectory implements Directory on top of Redis.
type RedisDirectory struct {
	client *redis.Client
}

// NewRedisDirectory connects to Redis and verifies the connection.
func NewRedisDirectory(ctx context.Context, url string) (*RedisDirectory, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisDirectory{client: client}, nil
}

func shardKey(userID int) string {
	return fmt.Sprintf("connections:user:%d", userID)
}

// StorePass writes the pass to user mapping with an expiry. A colliding pass
// silently overwrites; pass generation makes that negligible.
func (d *RedisDirectory) StorePass(ctx context.Context, pass string, userID int, ttl time.Duration) error {
	if err := d.client.Set(ctx, pass, strconv.Itoa(userID), ttl).Err(); err != nil {
		return fmt.Errorf("store pass: %w", err)
	}
	return nil
}

// RedeemPass atomically reads and deletes the pass mapping, so a pass can be
// redeemed at most once. Any later redemption observes ErrPassNotFound.
func (d *RedisDirectory) RedeemPass(ctx context.Context, pass string) (int, error) {
	val, err := d.client.GetDel(ctx, pass).Result()
	if err == redis.Nil {
		return 0, ErrPassNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("redeem pass: %w", err)
	}

	userID, err := strconv.Atoi(val)
	if err != nil {
		return 0, ErrPassNotFound
	}
	return userID, nil
}

// AddShard records that this process holds a live connection for the user.
// Adding an already-present member is a no-op.
func (d *RedisDirectory) AddShard(ctx context.Context, userID int, processID string) error {
	if err := d.client.SAdd(ctx, shardKey(userID), processID).Err(); err != nil {
		return fmt.Errorf("add shard: %w", err)
	}
	return nil
}

// RemoveShard removes this process from the user's shard set. The entry
// disappears once the set becomes empty; removing an absent member is a no-op.
func (d *RedisDirectory) RemoveShard(ctx context.Context, userID int, processID string) error {
	if err := d.client.SRem(ctx, shardKey(userID), processID).Err(); err != nil {
		return fmt.Errorf("remove shard: %w", err)
	}
	return nil
}

func (d *RedisDirectory) Close() error {
	return d.client.Close()
}
