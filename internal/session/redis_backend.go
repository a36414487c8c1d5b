package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "portal:session:"

type RedisBackend struct {
	client *redis.Client
	key    string
}

func NewRedisBackend(client *redis.Client, clientID string) *RedisBackend {
	return &RedisBackend{client: client, key: redisKeyPrefix + clientID}
}

func (r *RedisBackend) Load(ctx context.Context) (Snapshot, error) {
	val, err := r.client.Get(ctx, r.key).Result()
	if err == redis.Nil {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("session: failed to unmarshal: %w", err)
	}
	return snap, nil
}

// Save stores the snapshot with ttl. A non-positive ttl deletes the entry
// instead of storing something that never expires.
func (r *RedisBackend) Save(ctx context.Context, snap Snapshot, ttl time.Duration) error {
	if ttl <= 0 {
		return r.client.Del(ctx, r.key).Err()
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("session: failed to marshal: %w", err)
	}
	return r.client.Set(ctx, r.key, data, ttl).Err()
}

func (r *RedisBackend) Delete(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}

type RedisBackends struct {
	client *redis.Client
}

func NewRedisBackends(client *redis.Client) *RedisBackends {
	return &RedisBackends{client: client}
}

func (r *RedisBackends) For(clientID string) (Backend, error) {
	if clientID == "" {
		return nil, ErrNoClientID
	}
	return NewRedisBackend(r.client, clientID), nil
}
