package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// RecordStore is a key-value document store with prefix scan.
//
// Every I/O failure is wrapped so that errors.Is(err, ErrStorageUnavailable)
// holds. Implementations never retry.
type RecordStore interface {
	// Set upserts the JSON encoding of value under key.
	Set(ctx context.Context, key string, value any) error
	// Get returns the stored value or ErrNotFound.
	Get(ctx context.Context, key string) (json.RawMessage, error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// ListByPrefix returns every value whose key starts with prefix, in no particular order.
	ListByPrefix(ctx context.Context, prefix string) ([]json.RawMessage, error)
	Close() error
}

// scanBatch is the SCAN COUNT hint and the MGET chunk size.
const scanBatch = 200

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisStore provides record persistence in Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new RedisStore.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// OpenRedisStore dials Redis and verifies the connection.
func OpenRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, unavailable(fmt.Sprintf("redis ping %s", opts.Addr), err)
	}
	return NewRedisStore(client), nil
}

// Set stores a new or updated value in Redis.
func (s *RedisStore) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return unavailable("redis set "+key, err)
	}
	return nil
}

// Get retrieves a value by key.
func (s *RedisStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, unavailable("redis get "+key, err)
	}
	return json.RawMessage(data), nil
}

// Delete removes a key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return unavailable("redis del "+key, err)
	}
	return nil
}

// ListByPrefix scans the keyspace for prefix and fetches the values in batches.
func (s *RedisStore) ListByPrefix(ctx context.Context, prefix string) ([]json.RawMessage, error) {
	keys, err := scanKeys(ctx, s.client.Scan(ctx, 0, escapeGlob(prefix)+"*", scanBatch).Iterator())
	if err != nil {
		return nil, unavailable("redis scan "+prefix, err)
	}

	values := make([]json.RawMessage, 0, len(keys))
	for start := 0; start < len(keys); start += scanBatch {
		end := min(start+scanBatch, len(keys))
		res, err := s.client.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return nil, unavailable("redis mget "+prefix, err)
		}
		for _, v := range res {
			// nil means the key was deleted between SCAN and MGET
			str, ok := v.(string)
			if !ok {
				continue
			}
			values = append(values, json.RawMessage(str))
		}
	}
	return values, nil
}

// keyIterator is the part of *redis.ScanIterator that scanKeys needs.
type keyIterator interface {
	Next(ctx context.Context) bool
	Val() string
	Err() error
}

// scanKeys drains iter. SCAN may return a key more than once, so only the
// first occurrence is kept.
func scanKeys(ctx context.Context, iter keyIterator) ([]string, error) {
	var keys []string
	seen := make(map[string]struct{})
	for iter.Next(ctx) {
		k := iter.Val()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// escapeGlob escapes the Redis MATCH metacharacters in s.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
