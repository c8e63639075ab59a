package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"recipes/internal/domain"
)

const defaultRedisTTL = 2 * time.Hour

// Redis stores one JSON document per connection so every gateway and worker
// sharing the server sees the same view.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// RedisOption configures a Redis registry.
type RedisOption func(*Redis)

// WithTTL bounds how long an entry survives a gateway that died without
// unregistering. Live connections keep their entry through Refresh. Zero
// disables expiry.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = ttl }
}

// WithPrefix sets the key prefix. Default is "recipes".
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{client: client, ttl: defaultRedisTTL, prefix: "recipes"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) Register(ctx context.Context, id string, meta domain.Metadata) error {
	if id == "" {
		return ErrInvalidID
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("registry: marshal metadata: %w", err)
	}
	if err := r.client.Set(ctx, r.key(id), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("registry: redis set: %w", err)
	}
	return nil
}

func (r *Redis) Unregister(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("registry: redis del: %w", err)
	}
	return nil
}

// Refresh restarts the TTL of a live connection's entry.
func (r *Redis) Refresh(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, ErrInvalidID
	}
	if r.ttl <= 0 {
		n, err := r.client.Exists(ctx, r.key(id)).Result()
		if err != nil {
			return false, fmt.Errorf("registry: redis exists: %w", err)
		}
		return n == 1, nil
	}
	ok, err := r.client.Expire(ctx, r.key(id), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("registry: redis expire: %w", err)
	}
	return ok, nil
}

func (r *Redis) Lookup(ctx context.Context, id string) (domain.Metadata, bool, error) {
	if id == "" {
		return domain.Metadata{}, false, nil
	}
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Metadata{}, false, nil
		}
		return domain.Metadata{}, false, fmt.Errorf("registry: redis get: %w", err)
	}
	var meta domain.Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return domain.Metadata{}, false, fmt.Errorf("registry: unmarshal metadata: %w", err)
	}
	return meta, true, nil
}

func (r *Redis) key(id string) string {
	return r.prefix + ":conn:" + id
}

var _ Registry = (*Redis)(nil)
