package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Redis is a Store on a shared Redis hash, for deployments where several
// workers act on behalf of the same account and must observe the same
// session state.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis connects to Redis and verifies the connection. All values are
// kept in a single hash named by hashKey so Clear cannot touch unrelated
// keys.
func NewRedis(addr, password string, db int, hashKey string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Redis{client: client, key: hashKey}, nil
}

func (r *Redis) Get(key string) (string, error) {
	v, err := r.client.HGet(context.Background(), r.key, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (r *Redis) Set(key, value string) error {
	return r.client.HSet(context.Background(), r.key, key, value).Err()
}

func (r *Redis) Delete(key string) error {
	return r.client.HDel(context.Background(), r.key, key).Err()
}

func (r *Redis) Clear() error {
	return r.client.Del(context.Background(), r.key).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
