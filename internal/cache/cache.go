// Package cache holds the pluggable caching policy used by the analytics
// engine. Values are stored JSON-encoded so every backend returns an
// independent copy.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL  = 5 * time.Minute
	DefaultSize = 1024
	keyPrefix   = "market:analytics:"
)

// Policy is a read-through cache. A miss returns (false, nil).
type Policy interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any) error
	Name() string
}

// Key builds a deterministic cache key from an operation name and its
// arguments.
func Key(op string, args ...any) string {
	var b strings.Builder
	b.WriteString(keyPrefix)
	b.WriteString(op)
	for _, a := range args {
		b.WriteByte(':')
		fmt.Fprint(&b, a)
	}
	return b.String()
}

// ── None ───────────────────────────────────────────────────────────────────

// None never stores anything.
type None struct{}

func (None) Get(context.Context, string, any) (bool, error) { return false, nil }
func (None) Set(context.Context, string, any) error         { return nil }
func (None) Name() string                                   { return "none" }

// ── Memory ─────────────────────────────────────────────────────────────────

// Memory is a size-bounded in-process LRU whose entries expire after ttl.
type Memory struct {
	lru *expirable.LRU[string, []byte]
}

func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (m *Memory) Get(_ context.Context, key string, dst any) (bool, error) {
	raw, ok := m.lru.Get(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		m.lru.Remove(key)
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return true, nil
}

func (m *Memory) Set(_ context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	m.lru.Add(key, raw)
	return nil
}

func (m *Memory) Name() string { return "memory" }

// Len is the number of live entries.
func (m *Memory) Len() int { return m.lru.Len() }

// ── Redis ──────────────────────────────────────────────────────────────────

// Redis shares cached results between replicas.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis GET %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return true, nil
}

func (r *Redis) Set(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if err := r.rdb.Set(ctx, key, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Name() string { return "redis" }

// New returns the policy named by kind ("none", "memory" or "redis").
// rdb is only consulted for "redis".
func New(kind string, ttl time.Duration, rdb *redis.Client) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "memory":
		return NewMemory(DefaultSize, ttl), nil
	case "none", "off":
		return None{}, nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("cache policy redis requires a redis client")
		}
		return NewRedis(rdb, ttl), nil
	default:
		return nil, fmt.Errorf("unknown cache policy %q", kind)
	}
}
