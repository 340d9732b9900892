package session

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisTier is the fast tier. Keys live under a namespace prefix and
// carry the session TTL as their eviction deadline.
type RedisTier struct {
	client *redis.Client
	ns     string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewRedisTier connects and pings. A failed ping is returned to the
// caller, which degrades to fallback-map-only operation instead of
// aborting startup.
func NewRedisTier(c RedisConfig, namespace string) (*RedisTier, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "redis ping")
	}
	return &RedisTier{client: rdb, ns: namespace}, nil
}

func (t *RedisTier) key(token string) string { return t.ns + token }

func (t *RedisTier) Set(ctx context.Context, token string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("non-positive ttl")
	}
	return errors.Wrap(t.client.Set(ctx, t.key(token), data, ttl).Err(), "redis set")
}

func (t *RedisTier) Get(ctx context.Context, token string) ([]byte, error) {
	data, err := t.client.Get(ctx, t.key(token)).Bytes()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get")
	}
	return data, nil
}

func (t *RedisTier) Del(ctx context.Context, token string) error {
	return errors.Wrap(t.client.Del(ctx, t.key(token)).Err(), "redis del")
}

func (t *RedisTier) Scan(ctx context.Context, fn func(token string, data []byte) bool) error {
	iter := t.client.Scan(ctx, 0, t.ns+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		token := key[len(t.ns):]
		data, err := t.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue // expired between SCAN and GET
		}
		if err != nil {
			return errors.Wrap(err, "redis scan get")
		}
		if !fn(token, data) {
			return nil
		}
	}
	return errors.Wrap(iter.Err(), "redis scan")
}

func (t *RedisTier) Count(ctx context.Context) (int, error) {
	n := 0
	iter := t.client.Scan(ctx, 0, t.ns+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	return n, errors.Wrap(iter.Err(), "redis count")
}

func (t *RedisTier) Close() error {
	return t.client.Close()
}
