package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/kelvinyan1/aime-reproduction/internal/progress"
)

// DefaultRedisKey is the key the snapshot is stored under.
const DefaultRedisKey = "aime:state"

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// RedisStore keeps the latest snapshot under a single key and mirrors the
// status of every task into a hash at "<key>:status".
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects to Redis and checks the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Addr, err)
	}
	return NewRedisStoreWithClient(client, cfg.Key), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// Key returns the snapshot key.
func (r *RedisStore) Key() string { return r.key }

// StatusKey returns the key of the task status hash.
func (r *RedisStore) StatusKey() string { return r.key + ":status" }

// Save writes the snapshot and the status hash in one transaction.
func (r *RedisStore) Save(ctx context.Context, snap progress.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	statuses := make(map[string]interface{}, len(snap.Tasks))
	for _, t := range snap.Tasks {
		statuses[t.ID] = string(t.Status)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key, body, 0)
		pipe.Del(ctx, r.StatusKey())
		if len(statuses) > 0 {
			pipe.HSet(ctx, r.StatusKey(), statuses)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save snapshot to redis: %w", err)
	}
	return nil
}

// Load reads the snapshot. A missing key is progress.ErrNoSnapshot.
func (r *RedisStore) Load(ctx context.Context) (progress.Snapshot, error) {
	body, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return progress.Snapshot{}, progress.ErrNoSnapshot
	}
	if err != nil {
		return progress.Snapshot{}, fmt.Errorf("load snapshot from redis: %w", err)
	}

	var snap progress.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return progress.Snapshot{}, fmt.Errorf("parse snapshot: %w", err)
	}
	return snap, nil
}

// Statuses returns the mirrored task statuses.
func (r *RedisStore) Statuses(ctx context.Context) (map[string]string, error) {
	return r.client.HGetAll(ctx, r.StatusKey()).Result()
}

// Close closes the client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
