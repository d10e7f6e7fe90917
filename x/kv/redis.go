package kv

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var _ Store = (*Redis)(nil)

const redisTxRetries = 16

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"      yaml:"addr"`
	Username  string `mapstructure:"username"  yaml:"username"`
	Password  string `mapstructure:"password"  yaml:"password"`
	DB        int    `mapstructure:"db"        yaml:"db"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// Redis stores keys in redis under a namespace. Binary keys are hex
// encoded so they are safe to use in SCAN patterns. Updates use
// WATCH/MULTI and are retried when the watched key changes.
type Redis struct {
	client    redis.UniversalClient
	namespace string
	log       zerolog.Logger
}

// NewRedis connects using cfg.
func NewRedis(cfg RedisConfig, log zerolog.Logger) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisWithClient(client, cfg.Namespace, log)
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client redis.UniversalClient, namespace string, log zerolog.Logger) *Redis {
	if namespace == "" {
		namespace = "oracle"
	}
	return &Redis{
		client:    client,
		namespace: namespace,
		log:       log.With().Str("component", "kv-redis").Logger(),
	}
}

func (r *Redis) key(k []byte) string {
	return r.namespace + ":" + hex.EncodeToString(k)
}

func (r *Redis) Get(ctx context.Context, key []byte) ([]byte, error) {
	v, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return v, nil
}

func (r *Redis) Update(ctx context.Context, key []byte, fn UpdateFunc) error {
	k := r.key(key)

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, k).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			current = nil
		case err != nil:
			return err
		}

		next, err := fn(current)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, k)
				return nil
			}
			pipe.Set(ctx, k, next, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < redisTxRetries; attempt++ {
		err := r.client.Watch(ctx, txf, k)
		if errors.Is(err, redis.TxFailedErr) {
			r.log.Debug().Int("attempt", attempt).Str("key", k).Msg("watched key changed, retrying")
			continue
		}
		return err
	}
	return fmt.Errorf("redis update %s: %w", k, redis.TxFailedErr)
}

func (r *Redis) Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	pattern := r.key(prefix) + "*"
	iter := r.client.Scan(ctx, 0, pattern, 256).Iterator()
	for iter.Next(ctx) {
		full := iter.Val()
		raw, err := hex.DecodeString(strings.TrimPrefix(full, r.namespace+":"))
		if err != nil {
			continue
		}
		v, err := r.client.Get(ctx, full).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("redis get %s: %w", full, err)
		}
		if err := fn(raw, v); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
