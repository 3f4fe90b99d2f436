package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Snapshotter persists read-only session views outside the process.
type Snapshotter interface {
	Save(ctx context.Context, v View) error
	Load(ctx context.Context, id string) (*View, error)
}

// RedisSnapshots stores views as JSON. A save never replaces a newer version.
type RedisSnapshots struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisSnapshots(client *redis.Client, prefix string, ttl time.Duration) *RedisSnapshots {
	if prefix == "" {
		prefix = "lexiclarus:session:"
	}
	return &RedisSnapshots{client: client, prefix: prefix, ttl: ttl}
}

// DialRedis opens a client and checks it with PING.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

var errStale = errors.New("stale snapshot")

func (r *RedisSnapshots) Save(ctx context.Context, v View) error {
	key := r.key(v.ID)
	val, err := json.Marshal(v)
	if err != nil {
		return err
	}

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if err == nil {
			var stored View
			if json.Unmarshal([]byte(cur), &stored) == nil && stored.Version >= v.Version {
				return errStale
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, val, r.ttl)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, errStale) {
		return nil
	}
	return err
}

// Load returns ErrNotFound when no snapshot exists.
func (r *RedisSnapshots) Load(ctx context.Context, id string) (*View, error) {
	val, err := r.client.Get(ctx, r.key(id)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var v View
	if err := json.Unmarshal([]byte(val), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *RedisSnapshots) Close() error {
	return r.client.Close()
}

func (r *RedisSnapshots) key(id string) string {
	return r.prefix + id
}
